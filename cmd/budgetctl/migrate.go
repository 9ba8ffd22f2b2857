package main

import (
	"fmt"

	"bitbucket.org/mmdatafocus/budget_backend/config"
	"bitbucket.org/mmdatafocus/budget_backend/models"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the planning tables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		db := config.ConnectDatabaseWithRetry()
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		if err := models.MigrateTable(db); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
