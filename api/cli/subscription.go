package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	billingapp "github.com/tbeaudouin05/study-entitlements/api/services/billing/app"
)

var syncSubscriptionID string

var cancelCmd = &cobra.Command{
	Use:   "cancel <user-id>",
	Short: "Cancel a user's subscription at the end of the paid period",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := service()
		if err != nil {
			return err
		}
		if err := svc.CancelSubscription(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Subscription of %s cancels at period end.\n", args[0])
		return nil
	},
}

var reactivateCmd = &cobra.Command{
	Use:   "reactivate <user-id>",
	Short: "Withdraw a pending cancellation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := service()
		if err != nil {
			return err
		}
		if err := svc.ReactivateSubscription(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Subscription of %s renews again.\n", args[0])
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync [user-id]",
	Short: "Refresh a subscription from the billing provider",
	Long: `Fetch the subscription from the billing provider and reconcile it like a
subscription update. Name the user, or the provider subscription with --subscription.

Examples:
  entitlementd sync user_123
  entitlementd sync --subscription sub_1`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := billingapp.SyncRequest{SubscriptionID: syncSubscriptionID}
		if len(args) == 1 {
			req.UserID = args[0]
		}
		svc, err := service()
		if err != nil {
			return err
		}
		res, err := svc.SyncSubscription(cmd.Context(), req)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncSubscriptionID, "subscription", "", "provider subscription id")
}
