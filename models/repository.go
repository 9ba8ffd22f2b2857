package models

import (
	"context"
	"time"
)

// LineItemRepository persists line items and submission snapshots.
// Lookups return *utils.NotFoundError for a missing row.
type LineItemRepository interface {
	FindLineItem(ctx context.Context, id string) (*LineItem, error)
	FindLineItemByKey(ctx context.Context, matchKey string) (*LineItem, error)
	InsertLineItem(ctx context.Context, item *LineItem) error
	// UpdateLineItem overwrites the stored row only while its version is
	// still prevVersion, otherwise it returns *utils.ConflictError.
	UpdateLineItem(ctx context.Context, item *LineItem, prevVersion int) error
	ListLineItems(ctx context.Context, filter LineItemFilter) ([]*LineItem, error)
	// SaveSubmission stores the snapshot and marks ids submitted as one unit.
	SaveSubmission(ctx context.Context, snapshot *SubmissionSnapshot, ids []string, at time.Time) error
	FindSnapshot(ctx context.Context, workflowID string) (*SubmissionSnapshot, error)
	// SetGitQuantity writes qty to every line item of the exact customer/item
	// pair, bumps their version and returns how many rows it touched.
	SetGitQuantity(ctx context.Context, customer string, item string, qty int, at time.Time) (int, error)
}

// RequestRepository persists requests with their audit trail.
type RequestRepository interface {
	InsertRequest(ctx context.Context, r *Request) error
	FindRequest(ctx context.Context, id string) (*Request, error)
	// UpdateRequestStatus writes status, last modified and version, and
	// appends entry, as one unit. A moved version is a *utils.ConflictError.
	UpdateRequestStatus(ctx context.Context, r *Request, prevVersion int, entry *AuditEntry) error
	AppendAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListRequests(ctx context.Context, filter RequestFilter) ([]*Request, error)
}

type NotificationRepository interface {
	InsertNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, filter NotificationFilter) ([]*Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
}

type ShipmentRepository interface {
	InsertShipment(ctx context.Context, s *Shipment) error
	ListShipments(ctx context.Context, filter ShipmentFilter) ([]*Shipment, error)
}

// Repository is everything a backend must provide. MemoryStore and
// GormStore implement it.
type Repository interface {
	LineItemRepository
	RequestRepository
	NotificationRepository
	ShipmentRepository
}
