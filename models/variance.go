package models

import (
	"github.com/shopspring/decimal"
)

type Variance struct {
	CustomerKey             string           `json:"customer_key"`
	ItemKey                 string           `json:"item_key"`
	Year                    int              `json:"year"`
	BudgetQuantity          int              `json:"budget_quantity"`
	ForecastQuantity        int              `json:"forecast_quantity"`
	QuantityVariance        int              `json:"quantity_variance"`
	QuantityVariancePercent decimal.Decimal  `json:"quantity_variance_percent"`
	BudgetValue             decimal.Decimal  `json:"budget_value"`
	ForecastValue           decimal.Decimal  `json:"forecast_value"`
	ValueVariance           decimal.Decimal  `json:"value_variance"`
	ValueVariancePercent    decimal.Decimal  `json:"value_variance_percent"`
	Category                VarianceCategory `json:"category"`
	Favorable               bool             `json:"favorable"`
}

var hundred = decimal.NewFromInt(100)

// ComputeVariance compares a forecast against its budget. Either side may
// be nil and counts as zero. Percentages are 0 when the budget side is 0.
func ComputeVariance(budget *LineItem, forecast *LineItem) Variance {
	v := Variance{
		QuantityVariancePercent: decimal.Zero,
		BudgetValue:             decimal.Zero,
		ForecastValue:           decimal.Zero,
		ValueVariancePercent:    decimal.Zero,
	}
	for _, item := range []*LineItem{budget, forecast} {
		if item != nil {
			v.CustomerKey, v.ItemKey, v.Year = item.CustomerKey, item.ItemKey, item.Year
			break
		}
	}
	if budget != nil {
		v.BudgetQuantity = budget.TotalQuantity()
		v.BudgetValue = budget.TotalValue()
	}
	if forecast != nil {
		v.ForecastQuantity = forecast.TotalQuantity()
		v.ForecastValue = forecast.TotalValue()
	}
	v.QuantityVariance = v.ForecastQuantity - v.BudgetQuantity
	v.ValueVariance = v.ForecastValue.Sub(v.BudgetValue)
	if v.BudgetQuantity > 0 {
		v.QuantityVariancePercent = decimal.NewFromInt(int64(v.QuantityVariance)).
			Div(decimal.NewFromInt(int64(v.BudgetQuantity))).Mul(hundred).Round(2)
	}
	if v.BudgetValue.IsPositive() {
		v.ValueVariancePercent = v.ValueVariance.Div(v.BudgetValue).Mul(hundred).Round(2)
	}
	v.Category = CategorizeVariance(v.ValueVariancePercent)
	v.Favorable = v.ValueVariance.IsPositive()
	return v
}

// CategorizeVariance grades the absolute percentage: up to 5 minimal, up to
// 15 moderate, up to 30 significant, above that major.
func CategorizeVariance(percent decimal.Decimal) VarianceCategory {
	abs := percent.Abs()
	switch {
	case abs.LessThanOrEqual(decimal.NewFromInt(5)):
		return VarianceCategoryMinimal
	case abs.LessThanOrEqual(decimal.NewFromInt(15)):
		return VarianceCategoryModerate
	case abs.LessThanOrEqual(decimal.NewFromInt(30)):
		return VarianceCategorySignificant
	}
	return VarianceCategoryMajor
}
