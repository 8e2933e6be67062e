package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"paperbase/internal/app"
	"paperbase/internal/config"
	"paperbase/internal/logging"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Link legacy documents to physical files once and print the report",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg := config.Load()
		log := logging.New(cfg.Log)

		a, err := app.New(ctx, cfg, log, app.Options{InMemory: inMemory})
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Migrator.Run(ctx)
		if report != nil {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(report); encErr != nil {
				return encErr
			}
		}
		return err
	},
}
