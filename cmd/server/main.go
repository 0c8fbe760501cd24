package main

import (
	"os"

	"github.com/spf13/cobra"
)

// main wires the CLI. Component construction lives in app.go; business logic
// lives in internal/provenance.
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "provenance",
		Short:        "Supply-chain provenance registry",
		Long:         `Registers products by serial number, records custody transfers and verifies product identifiers.`,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd())
	return root
}
