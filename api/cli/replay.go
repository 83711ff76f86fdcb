package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	stripe "github.com/stripe/stripe-go"

	billingapp "github.com/tbeaudouin05/study-entitlements/api/services/billing/app"
)

var replayEventPath string

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Reconcile a saved Stripe event",
	Long: `Apply a Stripe event exported from the dashboard or CLI. The file is trusted,
so no signature is checked.

Examples:
  entitlementd replay --event ./evt_1.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayEventPath == "" {
			return errors.New("event path is required")
		}
		raw, err := os.ReadFile(replayEventPath)
		if err != nil {
			return fmt.Errorf("read event: %w", err)
		}
		var evt stripe.Event
		if err := json.Unmarshal(raw, &evt); err != nil {
			return fmt.Errorf("%w: %v", billingapp.ErrBadEvent, err)
		}
		billingEvt, err := billingapp.NormalizeEvent(evt)
		if err != nil {
			return err
		}
		svc, err := service()
		if err != nil {
			return err
		}
		res, err := svc.Reconcile(cmd.Context(), billingEvt)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Event %s: %s\n", evt.ID, res.Outcome)
		return nil
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayEventPath, "event", "", "path to the event JSON")
}
