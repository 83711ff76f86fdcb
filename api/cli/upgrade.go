package cli

import (
	"errors"

	"github.com/spf13/cobra"

	billingapp "github.com/tbeaudouin05/study-entitlements/api/services/billing/app"
)

var (
	upgradeUser         string
	upgradeSubscription string
	upgradePlan         string
)

var validateUpgradeCmd = &cobra.Command{
	Use:   "validate-upgrade",
	Short: "Check a plan change before checkout",
	Long: `Classify a proposed plan change. The operator is treated as authenticated.

Examples:
  entitlementd validate-upgrade --user user_123 --plan yearly-plus
  entitlementd validate-upgrade --user user_123 --subscription sub_1 --plan monthly-plus`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if upgradePlan == "" {
			return errors.New("plan is required")
		}
		svc, err := service()
		if err != nil {
			return err
		}
		out := svc.ValidateUpgrade(cmd.Context(), billingapp.UpgradeRequest{
			UserID:                upgradeUser,
			CurrentSubscriptionID: upgradeSubscription,
			TargetPlanID:          upgradePlan,
			Authenticated:         true,
		})
		return printJSON(cmd.OutOrStdout(), out)
	},
}

func init() {
	validateUpgradeCmd.Flags().StringVar(&upgradeUser, "user", "", "user id")
	validateUpgradeCmd.Flags().StringVar(&upgradeSubscription, "subscription", "", "current provider subscription id")
	validateUpgradeCmd.Flags().StringVar(&upgradePlan, "plan", "", "target plan id")
}
