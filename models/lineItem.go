package models

import (
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/budget_backend/utils"
	"github.com/shopspring/decimal"
)

// LineItem is one budget or forecast row for a customer/item/year.
// Line items are never deleted; submission only flips Status.
type LineItem struct {
	ID             string           `gorm:"primary_key;size:36" json:"id"`
	MatchKey       string           `gorm:"size:600;uniqueIndex;not null" json:"-"`
	Kind           LineItemKind     `gorm:"size:20;index;not null" json:"kind"`
	CustomerKey    string           `gorm:"size:255;index;not null" json:"customer_key"`
	ItemKey        string           `gorm:"size:255;index;not null" json:"item_key"`
	Category       string           `gorm:"size:100" json:"category"`
	Brand          string           `gorm:"size:100" json:"brand"`
	Year           int              `gorm:"index;not null" json:"year"`
	Periods        [PeriodCount]int `gorm:"serializer:json;type:text" json:"periods"`
	Rate           decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"rate"`
	DiscountTotal  decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"discount_total"`
	Stock          int              `gorm:"default:0" json:"stock"`
	GitQuantity    int              `gorm:"default:0" json:"git_quantity"`
	Status         LineItemStatus   `gorm:"size:20;index;default:draft" json:"status"`
	CreatedBy      string           `gorm:"size:100;index;not null" json:"created_by"`
	CreatedAt      time.Time        `json:"created_at"`
	LastModified   time.Time        `json:"last_modified"`
	LastModifiedBy string           `gorm:"size:100" json:"last_modified_by"`
	Version        int              `gorm:"not null;default:1" json:"version"`
}

// LineItemInput is an upsert payload. A nil field is absent and keeps the
// stored value.
type LineItemInput struct {
	ID            *string           `json:"id,omitempty"`
	Kind          *LineItemKind     `json:"kind,omitempty"`
	CustomerKey   *string           `json:"customer_key,omitempty"`
	ItemKey       *string           `json:"item_key,omitempty"`
	Category      *string           `json:"category,omitempty"`
	Brand         *string           `json:"brand,omitempty"`
	Year          *int              `json:"year,omitempty"`
	Periods       *[PeriodCount]int `json:"periods,omitempty"`
	Rate          *decimal.Decimal  `json:"rate,omitempty"`
	DiscountTotal *decimal.Decimal  `json:"discount_total,omitempty"`
	Stock         *int              `json:"stock,omitempty"`
	GitQuantity   *int              `json:"git_quantity,omitempty"`

	// TotalQuantity is the declared yearly quantity. Without Periods it is
	// spread by the distributor; with Periods the two must agree.
	TotalQuantity      *int             `json:"total_quantity,omitempty"`
	DistributionPolicy *RemainderPolicy `json:"distribution_policy,omitempty"`

	// ExpectedVersion is the version the caller last read.
	ExpectedVersion *int `json:"expected_version,omitempty"`
}

func (item *LineItem) TotalQuantity() int {
	return SumPeriods(item.Periods)
}

// TotalValue is quantity * rate less the discount.
func (item *LineItem) TotalValue() decimal.Decimal {
	return decimal.NewFromInt(int64(item.TotalQuantity())).Mul(item.Rate).Sub(item.DiscountTotal)
}

func (item *LineItem) Clone() *LineItem {
	c := *item
	return &c
}

func (item *LineItem) refreshMatchKey() {
	item.MatchKey = LineItemMatchKey(item.Kind, item.CustomerKey, item.ItemKey, item.Year)
}

// LineItemMatchKey is the composite key (kind, customer, item, year) with
// customer and item normalized, so "ACME " and "acme" land on one row.
func LineItemMatchKey(kind LineItemKind, customerKey string, itemKey string, year int) string {
	return fmt.Sprintf("%s|%s|%s|%d", kind, utils.NormalizeKey(customerKey), utils.NormalizeKey(itemKey), year)
}

// resolvePeriods returns the periods the input declares, distributing
// TotalQuantity when Periods is absent. nil means the input carries neither.
func (input *LineItemInput) resolvePeriods() (*[PeriodCount]int, error) {
	if input.Periods != nil {
		for i, v := range input.Periods {
			if v < 0 {
				return nil, utils.NewValidationError("periods", "%s must not be negative, got %d", PeriodLabels[i], v)
			}
		}
		if input.TotalQuantity != nil {
			if sum := SumPeriods(*input.Periods); sum != *input.TotalQuantity {
				return nil, utils.NewValidationError("periods", "sum to %d but total quantity is %d", sum, *input.TotalQuantity)
			}
		}
		p := *input.Periods
		return &p, nil
	}
	if input.TotalQuantity == nil {
		return nil, nil
	}
	policy := DefaultRemainderPolicy()
	if input.DistributionPolicy != nil {
		policy = *input.DistributionPolicy
	}
	p, err := DistributeEquallyWithPolicy(*input.TotalQuantity, policy)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (input *LineItemInput) validate() error {
	if input.Kind != nil && !input.Kind.IsValid() {
		return utils.NewValidationError("kind", "invalid line item kind %q", *input.Kind)
	}
	if input.CustomerKey != nil && utils.NormalizeKey(*input.CustomerKey) == "" {
		return utils.NewValidationError("customer_key", "must not be empty")
	}
	if input.ItemKey != nil && utils.NormalizeKey(*input.ItemKey) == "" {
		return utils.NewValidationError("item_key", "must not be empty")
	}
	if input.Year != nil && (*input.Year < 1900 || *input.Year > 9999) {
		return utils.NewValidationError("year", "out of range: %d", *input.Year)
	}
	if input.Rate != nil && input.Rate.IsNegative() {
		return utils.NewValidationError("rate", "must not be negative")
	}
	if input.DiscountTotal != nil && input.DiscountTotal.IsNegative() {
		return utils.NewValidationError("discount_total", "must not be negative")
	}
	if input.Stock != nil && *input.Stock < 0 {
		return utils.NewValidationError("stock", "must not be negative")
	}
	if input.GitQuantity != nil && *input.GitQuantity < 0 {
		return utils.NewValidationError("git_quantity", "must not be negative")
	}
	if input.TotalQuantity != nil && *input.TotalQuantity < 0 {
		return utils.NewValidationError("total_quantity", "must not be negative, got %d", *input.TotalQuantity)
	}
	if input.DistributionPolicy != nil && !input.DistributionPolicy.IsValid() {
		return utils.NewValidationError("distribution_policy", "unknown remainder policy %q", *input.DistributionPolicy)
	}
	return nil
}

// matchKey is the composite key the input addresses, or "" when it does not
// name all of kind, customer, item and year.
func (input *LineItemInput) matchKey() string {
	if input.Kind == nil || input.CustomerKey == nil || input.ItemKey == nil || input.Year == nil {
		return ""
	}
	return LineItemMatchKey(*input.Kind, *input.CustomerKey, *input.ItemKey, *input.Year)
}

type LineItemFilter struct {
	Kind        *LineItemKind
	Year        *int
	Status      *LineItemStatus
	CreatedBy   *string
	CustomerKey *string
	ItemKey     *string

	// CustomerSearch matches a case-insensitive substring of the customer key.
	CustomerSearch *string
}

func (f LineItemFilter) matches(item *LineItem) bool {
	if f.Kind != nil && item.Kind != *f.Kind {
		return false
	}
	if f.Year != nil && item.Year != *f.Year {
		return false
	}
	if f.Status != nil && item.Status != *f.Status {
		return false
	}
	if f.CreatedBy != nil && item.CreatedBy != *f.CreatedBy {
		return false
	}
	if f.CustomerKey != nil && !utils.KeyEquals(item.CustomerKey, *f.CustomerKey) {
		return false
	}
	if f.ItemKey != nil && !utils.KeyEquals(item.ItemKey, *f.ItemKey) {
		return false
	}
	if f.CustomerSearch != nil && !utils.ContainsFold(item.CustomerKey, *f.CustomerSearch) {
		return false
	}
	return true
}
