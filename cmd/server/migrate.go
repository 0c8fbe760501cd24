package main

import (
	"errors"

	"github.com/spf13/cobra"

	"provenance/internal/platform/config"
	"provenance/internal/platform/database"
	"provenance/internal/platform/logger"
)

func newMigrateCmd() *cobra.Command {
	var databaseURL string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromEnv()
			if databaseURL != "" {
				cfg.Database.URL = databaseURL
			}
			if cfg.Database.URL == "" {
				return errors.New("database url is required (PROVENANCE_DATABASE_URL or --database-url)")
			}
			log := logger.New(cfg.Environment)
			if err := database.Migrate(cfg.Database.URL); err != nil {
				log.Error("migration failed", "error", err)
				return err
			}
			log.Info("migrations applied")
			return nil
		},
	}
	cmd.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL")
	return cmd
}
