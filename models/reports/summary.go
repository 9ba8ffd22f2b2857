package reports

import (
	"sort"

	"bitbucket.org/mmdatafocus/budget_backend/models"
	"bitbucket.org/mmdatafocus/budget_backend/utils"
	"github.com/shopspring/decimal"
)

type MonthlyTotal struct {
	Period   string          `json:"period"`
	Quantity int             `json:"quantity"`
	Value    decimal.Decimal `json:"value"`
}

// MonthlyBreakdown sums quantity and quantity*rate per period. Discounts are
// yearly and not spread across months.
func MonthlyBreakdown(items []*models.LineItem) []MonthlyTotal {
	totals := make([]MonthlyTotal, models.PeriodCount)
	for i := range totals {
		totals[i] = MonthlyTotal{Period: models.PeriodLabels[i], Value: decimal.Zero}
	}
	for _, item := range items {
		for i, qty := range item.Periods {
			totals[i].Quantity += qty
			totals[i].Value = totals[i].Value.Add(decimal.NewFromInt(int64(qty)).Mul(item.Rate))
		}
	}
	return totals
}

type AnnualSummary struct {
	Year          int             `json:"year"`
	TotalQuantity int             `json:"total_quantity"`
	TotalValue    decimal.Decimal `json:"total_value"`
	EntryCount    int             `json:"entry_count"`
	CustomerCount int             `json:"customer_count"`
	ItemCount     int             `json:"item_count"`
}

func BuildAnnualSummary(items []*models.LineItem, year int) AnnualSummary {
	summary := AnnualSummary{Year: year, TotalValue: decimal.Zero}
	customers := map[string]bool{}
	products := map[string]bool{}
	for _, item := range items {
		if item.Year != year {
			continue
		}
		summary.EntryCount++
		summary.TotalQuantity += item.TotalQuantity()
		summary.TotalValue = summary.TotalValue.Add(item.TotalValue())
		customers[utils.NormalizeKey(item.CustomerKey)] = true
		products[utils.NormalizeKey(item.ItemKey)] = true
	}
	summary.CustomerCount = len(customers)
	summary.ItemCount = len(products)
	return summary
}

// PairVariances compares each forecast of year with the budget of the same
// customer/item. Pairs with only one side are still reported.
func PairVariances(items []*models.LineItem, year int) []models.Variance {
	type pair struct {
		budget   *models.LineItem
		forecast *models.LineItem
	}
	pairs := map[string]*pair{}
	for _, item := range items {
		if item.Year != year {
			continue
		}
		key := utils.NormalizeKey(item.CustomerKey) + "|" + utils.NormalizeKey(item.ItemKey)
		p, ok := pairs[key]
		if !ok {
			p = &pair{}
			pairs[key] = p
		}
		if item.Kind == models.LineItemKindBudget {
			p.budget = item
		} else {
			p.forecast = item
		}
	}
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	variances := make([]models.Variance, 0, len(keys))
	for _, k := range keys {
		variances = append(variances, models.ComputeVariance(pairs[k].budget, pairs[k].forecast))
	}
	return variances
}

type VarianceSummary struct {
	TotalBudgetValue       decimal.Decimal                 `json:"total_budget_value"`
	TotalForecastValue     decimal.Decimal                 `json:"total_forecast_value"`
	TotalVariance          decimal.Decimal                 `json:"total_variance"`
	AverageVariancePercent decimal.Decimal                 `json:"average_variance_percent"`
	PositiveVariances      int                             `json:"positive_variances"`
	NegativeVariances      int                             `json:"negative_variances"`
	ByCategory             map[models.VarianceCategory]int `json:"by_category"`
}

func SummarizeVariances(variances []models.Variance) VarianceSummary {
	summary := VarianceSummary{
		TotalBudgetValue:       decimal.Zero,
		TotalForecastValue:     decimal.Zero,
		TotalVariance:          decimal.Zero,
		AverageVariancePercent: decimal.Zero,
		ByCategory:             map[models.VarianceCategory]int{},
	}
	if len(variances) == 0 {
		return summary
	}
	percentSum := decimal.Zero
	for _, v := range variances {
		summary.TotalBudgetValue = summary.TotalBudgetValue.Add(v.BudgetValue)
		summary.TotalForecastValue = summary.TotalForecastValue.Add(v.ForecastValue)
		summary.TotalVariance = summary.TotalVariance.Add(v.ValueVariance)
		percentSum = percentSum.Add(v.ValueVariancePercent)
		switch {
		case v.ValueVariance.IsPositive():
			summary.PositiveVariances++
		case v.ValueVariance.IsNegative():
			summary.NegativeVariances++
		}
		summary.ByCategory[v.Category]++
	}
	summary.AverageVariancePercent = percentSum.Div(decimal.NewFromInt(int64(len(variances)))).Round(2)
	return summary
}
