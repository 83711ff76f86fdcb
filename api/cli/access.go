package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	accessBook           string
	accessTotalDivisions int
)

var accessCmd = &cobra.Command{
	Use:   "access <user-id>",
	Short: "Show a user's entitlements",
	Long: `Show subscription and purchase access for a user.

Examples:
  entitlementd access user_123
  entitlementd access user_123 --book book_9 --total-divisions 12`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := service()
		if err != nil {
			return err
		}
		userID := args[0]
		if accessBook != "" {
			book, err := svc.GetBookAccess(cmd.Context(), userID, accessBook, accessTotalDivisions)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), book)
		}

		info, err := svc.GetAccessInfo(cmd.Context(), userID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Subscription: %t\n", info.HasActiveSubscription)
		fmt.Fprintf(cmd.OutOrStdout(), "Plus: %t\n", info.HasPlusAccess)
		if len(info.PurchasedDivisionIDs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Purchased divisions: none")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Purchased divisions:")
		for _, id := range info.PurchasedDivisionIDs {
			fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", id)
		}
		return nil
	},
}

func init() {
	accessCmd.Flags().StringVar(&accessBook, "book", "", "report access and coverage for this book")
	accessCmd.Flags().IntVar(&accessTotalDivisions, "total-divisions", 0, "number of divisions in --book")
}
