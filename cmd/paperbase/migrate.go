package main

import (
	"github.com/spf13/cobra"

	"paperbase/internal/config"
	"paperbase/internal/database"
	"paperbase/internal/database/migration"
	"paperbase/internal/logging"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.Load()
		log := logging.New(cfg.Log)

		db, err := database.NewPostgres(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		return migration.EnsureMigrated(cmd.Context(), db, log, cfg.Database.Host)
	},
}
