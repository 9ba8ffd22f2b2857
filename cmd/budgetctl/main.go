// budgetctl runs planning chores against the budget database: schema
// migration, distribution previews, bulk line item imports, spreadsheet
// exports and dev tokens.
//
// Usage (from backend directory):
//
//	DB_DRIVER=mysql DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/budgetctl migrate
//	go run ./cmd/budgetctl distribute --quantity 1000 --method seasonal
package main

import (
	"context"
	"os"

	"bitbucket.org/mmdatafocus/budget_backend/config"
	"bitbucket.org/mmdatafocus/budget_backend/models"
	"bitbucket.org/mmdatafocus/budget_backend/utils"
	"bitbucket.org/mmdatafocus/budget_backend/workflow"
	"github.com/spf13/cobra"
)

var (
	flagActor string
	flagRole  string
)

var rootCmd = &cobra.Command{
	Use:           "budgetctl",
	Short:         "Budget and rolling forecast maintenance",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagActor, "as", "budgetctl", "Actor name recorded on writes")
	rootCmd.PersistentFlags().StringVar(&flagRole, "role", string(models.RoleAdmin), "Actor role")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func currentActor() (models.Actor, error) {
	role := models.Role(flagRole)
	if !role.IsValid() {
		return models.Actor{}, utils.NewValidationError("role", "unknown role %q", flagRole)
	}
	return models.Actor{Name: flagActor, Role: role}, nil
}

// openPlanner connects the configured store the same way the API does.
// Commands run without redis; key locks stay in-process.
func openPlanner(ctx context.Context) (*workflow.Planner, func(), error) {
	var (
		repo    models.Repository
		closeDB = func() {}
	)
	if config.StoreBackend() == "memory" {
		repo = models.NewMemoryStore()
	} else {
		db := config.ConnectDatabaseWithRetry()
		if err := models.MigrateTable(db); err != nil {
			return nil, nil, err
		}
		closeDB = func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		repo = models.NewGormStore(db)
	}

	authorizer := models.NewRoleAuthorizer()
	locker := utils.NewKeyLocker(nil)
	router := models.NewNotificationRouter(repo, nil)
	lifecycle := models.NewRequestLifecycle(repo, authorizer, router, locker)
	planner := workflow.NewPlanner(
		models.NewRecordStore(repo, locker),
		lifecycle,
		models.NewGitAggregator(repo),
		authorizer,
		workflow.NewSummaryCache(nil, 0),
	)
	return planner, closeDB, nil
}
