package models

// StockLevel is the on-hand position of an item at one location.
type StockLevel struct {
	ItemKey      string `json:"item_key" validate:"required"`
	Location     string `json:"location"`
	CurrentStock int    `json:"current_stock"`
	MinimumStock int    `json:"minimum_stock" validate:"gte=0"`
	ReorderPoint int    `json:"reorder_point" validate:"gte=0"`
}

func (l StockLevel) IsLowStock() bool {
	return l.CurrentStock <= l.MinimumStock
}

func (l StockLevel) NeedsReorder() bool {
	return l.CurrentStock <= l.ReorderPoint
}

// Shortfall is how many units are needed to get back to the higher of the
// minimum level and the reorder point.
func (l StockLevel) Shortfall() int {
	target := max(l.MinimumStock, l.ReorderPoint)
	if l.CurrentStock >= target {
		return 0
	}
	return target - l.CurrentStock
}

// AlertUrgency grades how far below its minimum the level sits.
func (l StockLevel) AlertUrgency() Urgency {
	switch {
	case l.CurrentStock <= 0:
		return UrgencyCritical
	case l.MinimumStock > 0 && l.CurrentStock*2 <= l.MinimumStock:
		return UrgencyHigh
	case l.IsLowStock():
		return UrgencyMedium
	}
	return UrgencyLow
}
