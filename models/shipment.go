package models

import (
	"time"

	"bitbucket.org/mmdatafocus/budget_backend/utils"
)

// Shipment is one goods-in-transit row. Several shipments may feed the same
// customer/item pair.
type Shipment struct {
	ID            string         `gorm:"primary_key;size:36" json:"id"`
	Customer      string         `gorm:"size:255;not null" json:"customer"`
	Item          string         `gorm:"size:255;not null" json:"item"`
	CustomerMatch string         `gorm:"size:255;index:idx_shipment_match" json:"-"`
	ItemMatch     string         `gorm:"size:255;index:idx_shipment_match" json:"-"`
	Quantity      int            `gorm:"not null" json:"quantity"`
	Status        ShipmentStatus `gorm:"size:20;not null" json:"status"`
	ETA           *time.Time     `json:"eta"`
	ActualArrival *time.Time     `json:"actual_arrival"`
	Supplier      string         `gorm:"size:255" json:"supplier"`
	RecordedBy    string         `gorm:"size:100" json:"recorded_by"`
	CreatedAt     time.Time      `json:"created_at"`
}

type NewShipment struct {
	Customer      string         `json:"customer" validate:"required,max=255"`
	Item          string         `json:"item" validate:"required,max=255"`
	Quantity      int            `json:"quantity" validate:"gte=0"`
	Status        ShipmentStatus `json:"status" validate:"required"`
	ETA           *time.Time     `json:"eta"`
	ActualArrival *time.Time     `json:"actual_arrival"`
	Supplier      string         `json:"supplier" validate:"max=255"`
}

// ShipmentFilter selects shipments. Customer and Item match the normalized
// key exactly; Search is a loose substring match on either field.
type ShipmentFilter struct {
	Customer *string
	Item     *string
	Search   *string
}

func (input *NewShipment) validate() error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if !input.Status.IsValid() {
		return utils.NewValidationError("status", "invalid shipment status %q", input.Status)
	}
	if utils.NormalizeKey(input.Customer) == "" {
		return utils.NewValidationError("customer", "must not be empty")
	}
	if utils.NormalizeKey(input.Item) == "" {
		return utils.NewValidationError("item", "must not be empty")
	}
	return nil
}

func (s *Shipment) refreshMatchKeys() {
	s.CustomerMatch = utils.NormalizeKey(s.Customer)
	s.ItemMatch = utils.NormalizeKey(s.Item)
}

func (f ShipmentFilter) matches(s *Shipment) bool {
	if f.Customer != nil && !utils.KeyEquals(s.Customer, *f.Customer) {
		return false
	}
	if f.Item != nil && !utils.KeyEquals(s.Item, *f.Item) {
		return false
	}
	if f.Search != nil && !utils.ContainsFold(s.Customer, *f.Search) && !utils.ContainsFold(s.Item, *f.Search) {
		return false
	}
	return true
}
