// Package cli holds the entitlementd command tree.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	bootstrap "github.com/tbeaudouin05/study-entitlements/api/bootstrap"
	billingapp "github.com/tbeaudouin05/study-entitlements/api/services/billing/app"
)

// Cmd is the root command.
var Cmd = &cobra.Command{
	Use:           "entitlementd",
	Short:         "Subscription and purchase entitlement service",
	Long:          `Reconciles billing provider events into subscription and purchase records and answers access queries.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	Cmd.AddCommand(serveCmd)
	Cmd.AddCommand(migrateCmd)
	Cmd.AddCommand(accessCmd)
	Cmd.AddCommand(validateUpgradeCmd)
	Cmd.AddCommand(cleanupCmd)
	Cmd.AddCommand(cancelCmd)
	Cmd.AddCommand(reactivateCmd)
	Cmd.AddCommand(syncCmd)
	Cmd.AddCommand(replayCmd)
}

// service returns the wired billing service, initializing it on first use.
func service() (billingapp.Service, error) {
	if err := bootstrap.Ensure(); err != nil {
		return nil, err
	}
	svc := bootstrap.GetBillingService()
	if svc == nil {
		return nil, errors.New("billing service not initialized")
	}
	return svc, nil
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
