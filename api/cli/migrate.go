package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	config "github.com/tbeaudouin05/study-entitlements/api/config"
	database "github.com/tbeaudouin05/study-entitlements/api/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down]",
	Short: "Apply or roll back the database schema",
	Long: `Apply or roll back the schema on DATABASE_URL.

Postgres uses versioned migrations. SQLite gets the schema applied on open
and does not support down.

Examples:
  entitlementd migrate up
  entitlementd migrate down`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"up", "down"},
	RunE: func(cmd *cobra.Command, args []string) error {
		direction := args[0]
		if direction != "up" && direction != "down" {
			return fmt.Errorf("unknown direction %q (want up or down)", direction)
		}
		if config.AppConfig == nil {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			config.AppConfig = cfg
		}
		cfg := config.AppConfig

		conn, err := database.Open(cmd.Context(), cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer conn.Close()

		if cfg.DatabaseDriver == config.DriverSQLite {
			if direction == "down" {
				return fmt.Errorf("migrate down is not supported for sqlite")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema applied.")
			return nil
		}

		if direction == "up" {
			err = database.MigrateUp(conn)
		} else {
			config.CheckNotProdDB()
			err = database.MigrateDown(conn)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Migrations %s complete.\n", direction)
		return nil
	},
}
