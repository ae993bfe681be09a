package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/writefactory/internal/db"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database management (requires storage.database_url)",
}

func openDB(cmd *cobra.Command) (*db.DB, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Storage.DatabaseURL == "" {
		return nil, fmt.Errorf("storage.database_url is not set; history is kept in %s", cfg.Storage.Dir)
	}
	return db.Open(cmd.Context(), cfg.Storage.DatabaseURL)
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		cmd.Println("Database schema is up to date.")
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the database (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to drop all tables without --yes")
		}
		database, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.Reset(cmd.Context()); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		cmd.Println("Database reset.")
		return nil
	},
}

func init() {
	dbResetCmd.Flags().Bool("yes", false, "confirm dropping all tables")
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
}
