package workflow

import (
	"context"
	"fmt"
	"strings"

	"bitbucket.org/mmdatafocus/budget_backend/models"
	"bitbucket.org/mmdatafocus/budget_backend/utils"
)

// RaiseStockAlerts opens one stock_alert request per level that is at or
// below its minimum or reorder point. Healthy levels are skipped. Levels are
// handled one by one and a failure stops the run; alerts already raised stay.
func RaiseStockAlerts(ctx context.Context, lifecycle *models.RequestLifecycle, authorizer models.Authorizer, levels []models.StockLevel, actor models.Actor) ([]*models.Request, error) {
	if err := authorizer.Authorize(actor, models.ActionRaiseStockAlert, "stock"); err != nil {
		return nil, err
	}
	raised := make([]*models.Request, 0)
	for _, level := range levels {
		if err := utils.ValidateStruct(level); err != nil {
			return raised, err
		}
		if !level.IsLowStock() && !level.NeedsReorder() {
			continue
		}
		location := ""
		if strings.TrimSpace(level.Location) != "" {
			location = " at " + strings.TrimSpace(level.Location)
		}
		r, err := lifecycle.Create(ctx, &models.NewRequest{
			Kind:     models.RequestKindStockAlert,
			Title:    fmt.Sprintf("Low stock: %s%s", strings.TrimSpace(level.ItemKey), location),
			Quantity: level.Shortfall(),
			Urgency:  level.AlertUrgency(),
			ItemKey:  level.ItemKey,
			Comment: fmt.Sprintf("current %d, minimum %d, reorder point %d",
				level.CurrentStock, level.MinimumStock, level.ReorderPoint),
		}, actor)
		if err != nil {
			return raised, err
		}
		raised = append(raised, r)
	}
	return raised, nil
}
