package models

import (
	"bitbucket.org/mmdatafocus/budget_backend/config"
	"bitbucket.org/mmdatafocus/budget_backend/utils"
	"github.com/shopspring/decimal"
)

const PeriodCount = 12

// PeriodLabels are the export column headers for the twelve periods.
var PeriodLabels = [PeriodCount]string{
	"JAN", "FEB", "MAR", "APR", "MAY", "JUN",
	"JUL", "AUG", "SEP", "OCT", "NOV", "DEC",
}

// RemainderPolicy decides which periods absorb the units left over when a
// quantity does not split evenly.
type RemainderPolicy string

const (
	// RemainderForwardFirst adds the extra units from January onwards.
	// 13 -> [2,1,1,1,1,1,1,1,1,1,1,1].
	RemainderForwardFirst RemainderPolicy = "forward_first"
	// RemainderBackward adds the extra units from December backwards.
	// 13 -> [1,1,1,1,1,1,1,1,1,1,1,2].
	RemainderBackward RemainderPolicy = "backward"
)

func (p RemainderPolicy) IsValid() bool {
	return p == RemainderForwardFirst || p == RemainderBackward
}

// DefaultRemainderPolicy is the policy configured through
// DISTRIBUTION_REMAINDER_POLICY, forward-first when unset or unknown.
func DefaultRemainderPolicy() RemainderPolicy {
	p := RemainderPolicy(config.DistributionRemainderPolicy())
	if !p.IsValid() {
		return RemainderForwardFirst
	}
	return p
}

// DefaultSeasonalWeights front-load the year: high January to April,
// low over the November/December holidays.
var DefaultSeasonalWeights = [PeriodCount]decimal.Decimal{
	decimal.RequireFromString("1.60"), decimal.RequireFromString("1.50"),
	decimal.RequireFromString("1.40"), decimal.RequireFromString("1.30"),
	decimal.RequireFromString("1.20"), decimal.RequireFromString("1.10"),
	decimal.RequireFromString("1.00"), decimal.RequireFromString("0.90"),
	decimal.RequireFromString("0.80"), decimal.RequireFromString("0.75"),
	decimal.RequireFromString("0.70"), decimal.RequireFromString("0.60"),
}

func DistributeEqually(quantity int) ([PeriodCount]int, error) {
	return DistributeEquallyWithPolicy(quantity, DefaultRemainderPolicy())
}

func DistributeEquallyWithPolicy(quantity int, policy RemainderPolicy) ([PeriodCount]int, error) {
	var periods [PeriodCount]int
	if quantity < 0 {
		return periods, utils.NewValidationError("quantity", "must not be negative, got %d", quantity)
	}
	if !policy.IsValid() {
		return periods, utils.NewValidationError("policy", "unknown remainder policy %q", policy)
	}

	base := quantity / PeriodCount
	for i := range periods {
		periods[i] = base
	}
	spreadRemainder(&periods, quantity%PeriodCount, policy)

	if err := checkConservation(periods, quantity); err != nil {
		return periods, err
	}
	return periods, nil
}

// DistributeByPercentage takes round(total * percentage / 100) and spreads it
// equally. Rounding happens only here, half away from zero.
func DistributeByPercentage(total decimal.Decimal, percentage decimal.Decimal) ([PeriodCount]int, error) {
	return DistributeByPercentageWithPolicy(total, percentage, DefaultRemainderPolicy())
}

func DistributeByPercentageWithPolicy(total decimal.Decimal, percentage decimal.Decimal, policy RemainderPolicy) ([PeriodCount]int, error) {
	amount, err := PercentageAmount(total, percentage)
	if err != nil {
		return [PeriodCount]int{}, err
	}
	return DistributeEquallyWithPolicy(amount, policy)
}

// PercentageAmount is the quantity DistributeByPercentage spreads.
func PercentageAmount(total decimal.Decimal, percentage decimal.Decimal) (int, error) {
	if total.IsNegative() {
		return 0, utils.NewValidationError("total", "must not be negative, got %s", total)
	}
	if percentage.IsNegative() || percentage.GreaterThan(decimal.NewFromInt(100)) {
		return 0, utils.NewValidationError("percentage", "must be within [0,100], got %s", percentage)
	}
	amount := total.Mul(percentage).Div(decimal.NewFromInt(100)).Round(0)
	return int(amount.IntPart()), nil
}

// DistributeSeasonal splits quantity proportionally to weights. Each period
// gets the floor of its weighted share; the units lost to flooring are
// spread with the remainder policy so the total is kept.
func DistributeSeasonal(quantity int, weights [PeriodCount]decimal.Decimal, policy RemainderPolicy) ([PeriodCount]int, error) {
	var periods [PeriodCount]int
	if quantity < 0 {
		return periods, utils.NewValidationError("quantity", "must not be negative, got %d", quantity)
	}
	if !policy.IsValid() {
		return periods, utils.NewValidationError("policy", "unknown remainder policy %q", policy)
	}
	weightTotal := decimal.Zero
	for i, w := range weights {
		if w.IsNegative() {
			return periods, utils.NewValidationError("weights", "weight for %s must not be negative", PeriodLabels[i])
		}
		weightTotal = weightTotal.Add(w)
	}
	if !weightTotal.IsPositive() {
		return periods, utils.NewValidationError("weights", "at least one weight must be positive")
	}

	q := decimal.NewFromInt(int64(quantity))
	assigned := 0
	for i, w := range weights {
		share := int(q.Mul(w).Div(weightTotal).Floor().IntPart())
		periods[i] = share
		assigned += share
	}
	spreadRemainder(&periods, quantity-assigned, policy)

	if err := checkConservation(periods, quantity); err != nil {
		return periods, err
	}
	return periods, nil
}

func spreadRemainder(periods *[PeriodCount]int, remainder int, policy RemainderPolicy) {
	for k := 0; k < remainder; k++ {
		i := k % PeriodCount
		if policy == RemainderBackward {
			i = PeriodCount - 1 - i
		}
		periods[i]++
	}
}

func checkConservation(periods [PeriodCount]int, expected int) error {
	if sum := SumPeriods(periods); sum != expected {
		return &utils.ConservationViolation{Expected: expected, Actual: sum}
	}
	return nil
}

func SumPeriods(periods [PeriodCount]int) int {
	sum := 0
	for _, v := range periods {
		sum += v
	}
	return sum
}
