package models

import (
	"context"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/budget_backend/utils"
	"github.com/google/uuid"
)

type GitSummary struct {
	Customer      string         `json:"customer"`
	Item          string         `json:"item"`
	GitQuantity   int            `json:"git_quantity"`
	ETA           *time.Time     `json:"eta"`
	Status        ShipmentStatus `json:"status"`
	ShipmentCount int            `json:"shipment_count"`
}

// shipmentStatusRank orders the statuses that can win a summary; arrived
// is absent because it only wins when every shipment has arrived.
var shipmentStatusRank = map[ShipmentStatus]int{
	ShipmentStatusDelayed:   4,
	ShipmentStatusInTransit: 3,
	ShipmentStatusShipped:   2,
	ShipmentStatusOrdered:   1,
}

// GitAggregator folds the shipments of one customer/item pair into a single
// goods-in-transit summary.
type GitAggregator struct {
	repo ShipmentRepository
	now  func() time.Time
}

func NewGitAggregator(repo ShipmentRepository) *GitAggregator {
	return &GitAggregator{repo: repo, now: time.Now}
}

func (g *GitAggregator) SetClock(now func() time.Time) {
	g.now = now
}

func (g *GitAggregator) Record(ctx context.Context, input *NewShipment, recordedBy string) (*Shipment, error) {
	if input == nil {
		return nil, utils.NewValidationError("input", "shipment is required")
	}
	if err := input.validate(); err != nil {
		return nil, err
	}
	s := &Shipment{
		ID:            uuid.NewString(),
		Customer:      strings.TrimSpace(input.Customer),
		Item:          strings.TrimSpace(input.Item),
		Quantity:      input.Quantity,
		Status:        input.Status,
		ETA:           input.ETA,
		ActualArrival: input.ActualArrival,
		Supplier:      input.Supplier,
		RecordedBy:    recordedBy,
		CreatedAt:     g.now(),
	}
	s.refreshMatchKeys()
	if err := g.repo.InsertShipment(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Summarize matches shipments on the exact normalized customer and item keys.
func (g *GitAggregator) Summarize(ctx context.Context, customer string, item string) (*GitSummary, error) {
	if utils.NormalizeKey(customer) == "" {
		return nil, utils.NewValidationError("customer", "must not be empty")
	}
	if utils.NormalizeKey(item) == "" {
		return nil, utils.NewValidationError("item", "must not be empty")
	}
	shipments, err := g.repo.ListShipments(ctx, ShipmentFilter{Customer: &customer, Item: &item})
	if err != nil {
		return nil, err
	}
	summary := SummarizeShipments(customer, item, shipments, g.now())
	return &summary, nil
}

// Search is the loose lookup for pickers: a case-insensitive substring of
// either the customer or the item.
func (g *GitAggregator) Search(ctx context.Context, query string) ([]*Shipment, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, utils.NewValidationError("query", "must not be empty")
	}
	return g.repo.ListShipments(ctx, ShipmentFilter{Search: &query})
}

// SummarizeShipments ignores rows whose keys do not equal customer and item.
// The ETA is the earliest one, from today on, among shipments not yet arrived.
func SummarizeShipments(customer string, item string, shipments []*Shipment, now time.Time) GitSummary {
	summary := GitSummary{
		Customer: strings.TrimSpace(customer),
		Item:     strings.TrimSpace(item),
		Status:   GitStatusNone,
	}
	today := utils.StartOfDay(now)
	allArrived := true
	bestRank := 0
	for _, s := range shipments {
		if !utils.KeyEquals(s.Customer, customer) || !utils.KeyEquals(s.Item, item) {
			continue
		}
		summary.ShipmentCount++
		summary.GitQuantity += s.Quantity

		if s.Status == ShipmentStatusArrived {
			continue
		}
		allArrived = false
		if rank := shipmentStatusRank[s.Status]; rank > bestRank {
			bestRank = rank
			summary.Status = s.Status
		}
		if s.ETA != nil && !s.ETA.Before(today) {
			if summary.ETA == nil || s.ETA.Before(*summary.ETA) {
				eta := *s.ETA
				summary.ETA = &eta
			}
		}
	}
	if summary.ShipmentCount > 0 && allArrived {
		summary.Status = ShipmentStatusArrived
	}
	return summary
}
