package main

import (
	"github.com/spf13/cobra"
)

var (
	inMemory bool

	rootCmd = &cobra.Command{
		Use:           "paperbase",
		Short:         "Document intake with content-addressed deduplication",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&inMemory, "in-memory", false,
		"use the in-process store and local file storage instead of PostgreSQL and MinIO")

	rootCmd.AddCommand(serveCmd, backfillCmd, migrateCmd)
}
