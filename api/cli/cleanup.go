package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	billingapp "github.com/tbeaudouin05/study-entitlements/api/services/billing/app"
)

var (
	cleanupUser    string
	cleanupKeep    string
	cleanupConfirm bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup-duplicates",
	Short: "Cancel extra active subscriptions of a user",
	Long: `Set cancel-at-period-end on every active provider subscription of the user
except --keep. Nothing happens without --confirm.

Examples:
  entitlementd cleanup-duplicates --user user_123 --keep sub_1 --confirm`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := service()
		if err != nil {
			return err
		}
		res, err := svc.CleanupDuplicates(cmd.Context(), billingapp.CleanupRequest{
			UserID:             cleanupUser,
			KeepSubscriptionID: cleanupKeep,
			Confirmed:          cleanupConfirm,
		})
		if err != nil {
			return err
		}
		if len(res.CanceledSubscriptionIDs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No duplicate subscriptions.")
			return nil
		}
		for _, id := range res.CanceledSubscriptionIDs {
			fmt.Fprintf(cmd.OutOrStdout(), "Canceled at period end: %s\n", id)
		}
		return nil
	},
}

func init() {
	cleanupCmd.Flags().StringVar(&cleanupUser, "user", "", "user id")
	cleanupCmd.Flags().StringVar(&cleanupKeep, "keep", "", "subscription id to keep")
	cleanupCmd.Flags().BoolVar(&cleanupConfirm, "confirm", false, "confirm the cancellation")
}
