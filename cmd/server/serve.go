package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"provenance/internal/platform/config"
	"provenance/internal/platform/logger"
)

func newServeCmd() *cobra.Command {
	var (
		addr    string
		storage string
		migrate bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, outbox relay and projection consumer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromEnv()
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("storage") {
				cfg.Storage = storage
			}
			if cmd.Flags().Changed("migrate") {
				cfg.Database.MigrateOnStart = migrate
			}
			log := logger.New(cfg.Environment)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				log.Error("failed to start", "error", err)
				return err
			}
			return a.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides PROVENANCE_ADDR)")
	cmd.Flags().StringVar(&storage, "storage", "", "ledger backend: memory or postgres")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply migrations before serving")
	return cmd
}
