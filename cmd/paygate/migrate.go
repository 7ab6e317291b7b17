package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"paygate/internal/common/database"
	"paygate/internal/config"
	"paygate/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Run: func(_ *cobra.Command, _ []string) {
		runMigrate(database.Up)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back every migration",
	Run: func(_ *cobra.Command, _ []string) {
		runMigrate(database.Down)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

func runMigrate(direction database.Direction) {
	cfg, err := config.LoadMigrate()
	if err != nil {
		fatal(slog.Default(), "failed to load configuration", err)
	}
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	if err := database.Migrate(migrations.FS, ".", cfg.Database.URL, direction, logger); err != nil {
		fatal(logger, "migration failed", err)
	}
}
