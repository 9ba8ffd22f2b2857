package models

import (
	"context"
	"sort"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/budget_backend/utils"
)

// MemoryStore is an in-process Repository for tests and ephemeral runs.
// Values are copied in and out so callers never share state with it.
type MemoryStore struct {
	mu            sync.RWMutex
	lineItems     map[string]*LineItem
	lineItemKeys  map[string]string // match key -> id
	snapshots     map[string]*SubmissionSnapshot
	requests      map[string]*Request
	notifications map[string]*Notification
	shipments     []*Shipment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lineItems:     map[string]*LineItem{},
		lineItemKeys:  map[string]string{},
		snapshots:     map[string]*SubmissionSnapshot{},
		requests:      map[string]*Request{},
		notifications: map[string]*Notification{},
	}
}

var _ Repository = (*MemoryStore)(nil)

func (m *MemoryStore) FindLineItem(ctx context.Context, id string) (*LineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.lineItems[id]
	if !ok {
		return nil, utils.NewNotFoundError("line item", id)
	}
	return item.Clone(), nil
}

func (m *MemoryStore) FindLineItemByKey(ctx context.Context, matchKey string) (*LineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.lineItemKeys[matchKey]
	if !ok {
		return nil, utils.NewNotFoundError("line item", matchKey)
	}
	return m.lineItems[id].Clone(), nil
}

func (m *MemoryStore) InsertLineItem(ctx context.Context, item *LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lineItems[item.ID]; ok {
		return utils.NewValidationError("id", "line item %s already exists", item.ID)
	}
	if _, ok := m.lineItemKeys[item.MatchKey]; ok {
		return utils.NewValidationError("key", "line item %s already exists", item.MatchKey)
	}
	m.lineItems[item.ID] = item.Clone()
	m.lineItemKeys[item.MatchKey] = item.ID
	return nil
}

func (m *MemoryStore) UpdateLineItem(ctx context.Context, item *LineItem, prevVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.lineItems[item.ID]
	if !ok {
		return utils.NewNotFoundError("line item", item.ID)
	}
	if stored.Version != prevVersion {
		return &utils.ConflictError{
			Key:             stored.MatchKey,
			ExpectedVersion: prevVersion,
			ActualVersion:   stored.Version,
			LastModifiedBy:  stored.LastModifiedBy,
		}
	}
	if stored.MatchKey != item.MatchKey {
		if otherId, taken := m.lineItemKeys[item.MatchKey]; taken && otherId != item.ID {
			return utils.NewValidationError("key", "line item %s already exists", item.MatchKey)
		}
		delete(m.lineItemKeys, stored.MatchKey)
		m.lineItemKeys[item.MatchKey] = item.ID
	}
	m.lineItems[item.ID] = item.Clone()
	return nil
}

func (m *MemoryStore) ListLineItems(ctx context.Context, filter LineItemFilter) ([]*LineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*LineItem, 0)
	for _, item := range m.lineItems {
		if filter.matches(item) {
			results = append(results, item.Clone())
		}
	}
	sortLineItems(results)
	return results, nil
}

func (m *MemoryStore) SaveSubmission(ctx context.Context, snapshot *SubmissionSnapshot, ids []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[snapshot.WorkflowID]; ok {
		return utils.NewValidationError("workflow_id", "snapshot %s already exists", snapshot.WorkflowID)
	}
	for _, id := range ids {
		if _, ok := m.lineItems[id]; !ok {
			return utils.NewNotFoundError("line item", id)
		}
	}
	for _, id := range ids {
		stored := m.lineItems[id].Clone()
		stored.Status = LineItemStatusSubmitted
		stored.LastModified = at
		m.lineItems[id] = stored
	}
	m.snapshots[snapshot.WorkflowID] = snapshot.Clone()
	return nil
}

func (m *MemoryStore) FindSnapshot(ctx context.Context, workflowID string) (*SubmissionSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[workflowID]
	if !ok {
		return nil, utils.NewNotFoundError("snapshot", workflowID)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) SetGitQuantity(ctx context.Context, customer string, item string, qty int, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	touched := 0
	for id, stored := range m.lineItems {
		if !utils.KeyEquals(stored.CustomerKey, customer) || !utils.KeyEquals(stored.ItemKey, item) {
			continue
		}
		updated := stored.Clone()
		updated.GitQuantity = qty
		updated.LastModified = at
		updated.Version++
		m.lineItems[id] = updated
		touched++
	}
	return touched, nil
}

func (m *MemoryStore) InsertRequest(ctx context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[r.ID]; ok {
		return utils.NewValidationError("id", "request %s already exists", r.ID)
	}
	m.requests[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) FindRequest(ctx context.Context, id string) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, utils.NewNotFoundError("request", id)
	}
	return r.Clone(), nil
}

func (m *MemoryStore) UpdateRequestStatus(ctx context.Context, r *Request, prevVersion int, entry *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.requests[r.ID]
	if !ok {
		return utils.NewNotFoundError("request", r.ID)
	}
	if stored.Version != prevVersion {
		return &utils.ConflictError{Key: r.ID, ExpectedVersion: prevVersion, ActualVersion: stored.Version}
	}
	updated := stored.Clone()
	updated.Status = r.Status
	updated.LastModified = r.LastModified
	updated.Version = r.Version
	if entry != nil {
		updated.Comments = append(updated.Comments, *entry)
	}
	m.requests[r.ID] = updated
	return nil
}

func (m *MemoryStore) AppendAuditEntry(ctx context.Context, entry *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.requests[entry.RequestID]
	if !ok {
		return utils.NewNotFoundError("request", entry.RequestID)
	}
	updated := stored.Clone()
	updated.Comments = append(updated.Comments, *entry)
	m.requests[entry.RequestID] = updated
	return nil
}

func (m *MemoryStore) ListRequests(ctx context.Context, filter RequestFilter) ([]*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*Request, 0)
	for _, r := range m.requests {
		if filter.matches(r) {
			results = append(results, r.Clone())
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.Before(results[j].CreatedAt)
		}
		return results[i].ID < results[j].ID
	})
	return results, nil
}

func (m *MemoryStore) InsertNotification(ctx context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *n
	m.notifications[n.ID] = &c
	return nil
}

func (m *MemoryStore) ListNotifications(ctx context.Context, filter NotificationFilter) ([]*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*Notification, 0)
	for _, n := range m.notifications {
		if filter.matches(n) {
			c := *n
			results = append(results, &c)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.After(results[j].CreatedAt)
		}
		return results[i].ID < results[j].ID
	})
	return results, nil
}

func (m *MemoryStore) MarkNotificationRead(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return utils.NewNotFoundError("notification", id)
	}
	c := *n
	c.Read = true
	m.notifications[id] = &c
	return nil
}

func (m *MemoryStore) InsertShipment(ctx context.Context, s *Shipment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *s
	c.refreshMatchKeys()
	m.shipments = append(m.shipments, &c)
	return nil
}

func (m *MemoryStore) ListShipments(ctx context.Context, filter ShipmentFilter) ([]*Shipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*Shipment, 0)
	for _, s := range m.shipments {
		if filter.matches(s) {
			c := *s
			results = append(results, &c)
		}
	}
	return results, nil
}

// sortLineItems orders by customer, item, kind and year, the export order.
func sortLineItems(items []*LineItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.CustomerKey != b.CustomerKey {
			return a.CustomerKey < b.CustomerKey
		}
		if a.ItemKey != b.ItemKey {
			return a.ItemKey < b.ItemKey
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Year < b.Year
	})
}
