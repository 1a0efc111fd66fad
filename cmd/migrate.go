package cmd

import (
	"context"
	"log/slog"

	"github.com/matrixise/holder-snapshot/internal/config"
	"github.com/matrixise/holder-snapshot/internal/logger"
	"github.com/matrixise/holder-snapshot/internal/storage"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database migrations",
	Long:  `Run, rollback, or check the status of database migrations.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE:  migrateAction("Migrations applied successfully", "Migration failed", storage.RunMigrations),
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Rollback the last migration",
	RunE:  migrateAction("Migration rolled back successfully", "Rollback failed", storage.MigrateDown),
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE:  migrateAction("", "Failed to get migration status", storage.MigrateStatus),
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}

func migrateAction(success, failure string, fn func(context.Context, string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		logger.Setup(logLevel)

		dsn, err := config.DatabaseURL()
		if err != nil {
			return err
		}

		if err := fn(cmd.Context(), dsn); err != nil {
			slog.Error(failure, "error", err)
			return err
		}
		if success != "" {
			slog.Info(success)
		}
		return nil
	}
}
