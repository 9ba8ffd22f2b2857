package models

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/budget_backend/config"
	"bitbucket.org/mmdatafocus/budget_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RecordStore owns merge, conflict and retention rules for line items on top
// of a LineItemRepository. Writes to one composite key are serialized.
type RecordStore struct {
	repo           LineItemRepository
	locker         *utils.KeyLocker
	now            func() time.Time
	requireVersion bool
}

type RecordStoreOption func(*RecordStore)

func WithStoreClock(now func() time.Time) RecordStoreOption {
	return func(s *RecordStore) { s.now = now }
}

// WithRequireVersion makes ExpectedVersion mandatory on every update.
func WithRequireVersion(require bool) RecordStoreOption {
	return func(s *RecordStore) { s.requireVersion = require }
}

func NewRecordStore(repo LineItemRepository, locker *utils.KeyLocker, opts ...RecordStoreOption) *RecordStore {
	if locker == nil {
		locker = utils.NewKeyLocker(nil)
	}
	s := &RecordStore{
		repo:           repo,
		locker:         locker,
		now:            time.Now,
		requireVersion: config.UpsertRequireVersion(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type LineItemAggregate struct {
	Count            int             `json:"count"`
	TotalQuantity    int             `json:"total_quantity"`
	TotalValue       decimal.Decimal `json:"total_value"`
	UniqueCustomers  int             `json:"unique_customers"`
	UniqueSubmitters int             `json:"unique_submitters"`
}

// Upsert matches by ID, then by (kind, customer, item, year). A match is
// merged field by field: present fields overwrite, absent fields are kept.
// Without a match the input is inserted.
func (s *RecordStore) Upsert(ctx context.Context, input *LineItemInput, actor Actor) (*LineItem, error) {
	if input == nil {
		return nil, utils.NewValidationError("input", "line item is required")
	}
	if strings.TrimSpace(actor.Name) == "" {
		return nil, utils.NewValidationError("actor", "actor name is required")
	}
	if err := input.validate(); err != nil {
		return nil, err
	}
	periods, err := input.resolvePeriods()
	if err != nil {
		return nil, err
	}

	lockKey, err := s.lockKeyFor(ctx, input)
	if err != nil {
		return nil, err
	}
	unlock, err := s.locker.Lock(ctx, "lineItem:"+lockKey)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := s.findForUpsert(ctx, input)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if existing == nil {
		return s.insert(ctx, input, periods, actor, now)
	}

	if err := detectConflict(existing, input, periods, actor, s.requireVersion); err != nil {
		return nil, err
	}
	merged := mergeLineItem(existing, input, periods, actor, now)
	if merged.MatchKey != existing.MatchKey {
		other, err := s.repo.FindLineItemByKey(ctx, merged.MatchKey)
		if err != nil && !utils.IsNotFoundError(err) {
			return nil, err
		}
		if other != nil {
			return nil, utils.NewValidationError("key", "line item %s already exists", merged.MatchKey)
		}
	}
	if err := s.repo.UpdateLineItem(ctx, merged, existing.Version); err != nil {
		return nil, err
	}
	return merged, nil
}

// lockKeyFor resolves the composite key an upsert writes to. An unknown ID
// without a full composite key to fall back on is a NotFoundError.
func (s *RecordStore) lockKeyFor(ctx context.Context, input *LineItemInput) (string, error) {
	hasId := input.ID != nil && *input.ID != ""
	if hasId {
		byId, err := s.repo.FindLineItem(ctx, *input.ID)
		if err == nil {
			return byId.MatchKey, nil
		}
		if !utils.IsNotFoundError(err) {
			return "", err
		}
	}
	key := input.matchKey()
	if key == "" {
		if hasId {
			return "", utils.NewNotFoundError("line item", *input.ID)
		}
		return "", utils.NewValidationError("key", "kind, customer_key, item_key and year are required for a new line item")
	}
	return key, nil
}

func (s *RecordStore) findForUpsert(ctx context.Context, input *LineItemInput) (*LineItem, error) {
	if input.ID != nil && *input.ID != "" {
		item, err := s.repo.FindLineItem(ctx, *input.ID)
		if err == nil {
			return item, nil
		}
		if !utils.IsNotFoundError(err) {
			return nil, err
		}
	}
	key := input.matchKey()
	if key == "" {
		return nil, nil
	}
	item, err := s.repo.FindLineItemByKey(ctx, key)
	if utils.IsNotFoundError(err) {
		return nil, nil
	}
	return item, err
}

func (s *RecordStore) insert(ctx context.Context, input *LineItemInput, periods *[PeriodCount]int, actor Actor, now time.Time) (*LineItem, error) {
	if input.matchKey() == "" {
		return nil, utils.NewValidationError("key", "kind, customer_key, item_key and year are required for a new line item")
	}
	if periods == nil {
		return nil, utils.NewValidationError("total_quantity", "periods or total quantity are required for a new line item")
	}
	id := utils.DereferencePtr(input.ID)
	if id == "" {
		id = uuid.NewString()
	}
	item := &LineItem{
		ID:             id,
		Kind:           *input.Kind,
		CustomerKey:    strings.TrimSpace(*input.CustomerKey),
		ItemKey:        strings.TrimSpace(*input.ItemKey),
		Category:       utils.DereferencePtr(input.Category),
		Brand:          utils.DereferencePtr(input.Brand),
		Year:           *input.Year,
		Periods:        *periods,
		Rate:           utils.DereferencePtr(input.Rate, decimal.Zero),
		DiscountTotal:  utils.DereferencePtr(input.DiscountTotal, decimal.Zero),
		Stock:          utils.DereferencePtr(input.Stock),
		GitQuantity:    utils.DereferencePtr(input.GitQuantity),
		Status:         LineItemStatusDraft,
		CreatedBy:      actor.Name,
		CreatedAt:      now,
		LastModified:   now,
		LastModifiedBy: actor.Name,
		Version:        1,
	}
	item.refreshMatchKey()
	if err := s.repo.InsertLineItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// detectConflict rejects an update that would silently overwrite someone
// else's edit. A matching ExpectedVersion always passes. Without one, the
// write only passes when the record was last touched by the same actor or
// the write changes nothing.
func detectConflict(existing *LineItem, input *LineItemInput, periods *[PeriodCount]int, actor Actor, requireVersion bool) error {
	if input.ExpectedVersion != nil {
		if *input.ExpectedVersion != existing.Version {
			return &utils.ConflictError{
				Key:             existing.MatchKey,
				ExpectedVersion: *input.ExpectedVersion,
				ActualVersion:   existing.Version,
				LastModifiedBy:  existing.LastModifiedBy,
			}
		}
		return nil
	}
	if requireVersion {
		return &utils.ConflictError{
			Key:            existing.MatchKey,
			ActualVersion:  existing.Version,
			LastModifiedBy: existing.LastModifiedBy,
		}
	}
	if existing.LastModifiedBy == actor.Name {
		return nil
	}
	if fields := changedFields(existing, input, periods); len(fields) > 0 {
		return &utils.ConflictError{
			Key:            existing.MatchKey,
			ActualVersion:  existing.Version,
			LastModifiedBy: existing.LastModifiedBy,
			Fields:         fields,
		}
	}
	return nil
}

func changedFields(existing *LineItem, input *LineItemInput, periods *[PeriodCount]int) []string {
	var fields []string
	if input.Kind != nil && *input.Kind != existing.Kind {
		fields = append(fields, "kind")
	}
	if input.CustomerKey != nil && strings.TrimSpace(*input.CustomerKey) != existing.CustomerKey {
		fields = append(fields, "customer_key")
	}
	if input.ItemKey != nil && strings.TrimSpace(*input.ItemKey) != existing.ItemKey {
		fields = append(fields, "item_key")
	}
	if input.Category != nil && *input.Category != existing.Category {
		fields = append(fields, "category")
	}
	if input.Brand != nil && *input.Brand != existing.Brand {
		fields = append(fields, "brand")
	}
	if input.Year != nil && *input.Year != existing.Year {
		fields = append(fields, "year")
	}
	if periods != nil && *periods != existing.Periods {
		fields = append(fields, "periods")
	}
	if input.Rate != nil && !input.Rate.Equal(existing.Rate) {
		fields = append(fields, "rate")
	}
	if input.DiscountTotal != nil && !input.DiscountTotal.Equal(existing.DiscountTotal) {
		fields = append(fields, "discount_total")
	}
	if input.Stock != nil && *input.Stock != existing.Stock {
		fields = append(fields, "stock")
	}
	if input.GitQuantity != nil && *input.GitQuantity != existing.GitQuantity {
		fields = append(fields, "git_quantity")
	}
	return fields
}

// mergeLineItem returns existing with the present input fields applied.
// CreatedBy and CreatedAt are never touched.
func mergeLineItem(existing *LineItem, input *LineItemInput, periods *[PeriodCount]int, actor Actor, now time.Time) *LineItem {
	merged := existing.Clone()
	if input.Kind != nil {
		merged.Kind = *input.Kind
	}
	if input.CustomerKey != nil {
		merged.CustomerKey = strings.TrimSpace(*input.CustomerKey)
	}
	if input.ItemKey != nil {
		merged.ItemKey = strings.TrimSpace(*input.ItemKey)
	}
	if input.Category != nil {
		merged.Category = *input.Category
	}
	if input.Brand != nil {
		merged.Brand = *input.Brand
	}
	if input.Year != nil {
		merged.Year = *input.Year
	}
	if periods != nil {
		merged.Periods = *periods
	}
	if input.Rate != nil {
		merged.Rate = *input.Rate
	}
	if input.DiscountTotal != nil {
		merged.DiscountTotal = *input.DiscountTotal
	}
	if input.Stock != nil {
		merged.Stock = *input.Stock
	}
	if input.GitQuantity != nil {
		merged.GitQuantity = *input.GitQuantity
	}
	merged.LastModified = now
	merged.LastModifiedBy = actor.Name
	merged.Version = existing.Version + 1
	merged.refreshMatchKey()
	return merged
}

func (s *RecordStore) Get(ctx context.Context, id string) (*LineItem, error) {
	return s.repo.FindLineItem(ctx, id)
}

// Submit snapshots the line items under workflowID and marks the originals
// submitted. The originals stay stored and editable.
func (s *RecordStore) Submit(ctx context.Context, ids []string, workflowID string, actor Actor) (*SubmissionSnapshot, error) {
	workflowID = strings.TrimSpace(workflowID)
	if workflowID == "" {
		return nil, utils.NewValidationError("workflow_id", "must not be empty")
	}
	if strings.TrimSpace(actor.Name) == "" {
		return nil, utils.NewValidationError("actor", "actor name is required")
	}
	ids = utils.UniqueSlice(ids)
	if len(ids) == 0 {
		return nil, utils.NewValidationError("ids", "at least one line item is required")
	}
	if _, err := s.repo.FindSnapshot(ctx, workflowID); err == nil {
		return nil, utils.NewValidationError("workflow_id", "snapshot %s already exists", workflowID)
	} else if !utils.IsNotFoundError(err) {
		return nil, err
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		item, err := s.repo.FindLineItem(ctx, id)
		if err != nil {
			return nil, err
		}
		keys = append(keys, item.MatchKey)
	}
	// fixed order so two overlapping submits cannot deadlock
	sort.Strings(keys)
	for _, key := range keys {
		unlock, err := s.locker.Lock(ctx, "lineItem:"+key)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	now := s.now()
	snapshot := &SubmissionSnapshot{
		WorkflowID:  workflowID,
		SubmittedBy: actor.Name,
		SubmittedAt: now,
		Items:       make([]LineItem, 0, len(ids)),
	}
	for _, id := range ids {
		item, err := s.repo.FindLineItem(ctx, id)
		if err != nil {
			return nil, err
		}
		copied := *item
		copied.Status = LineItemStatusSubmitted
		snapshot.Items = append(snapshot.Items, copied)
	}
	if err := s.repo.SaveSubmission(ctx, snapshot, ids, now); err != nil {
		return nil, err
	}
	return snapshot.Clone(), nil
}

func (s *RecordStore) Snapshot(ctx context.Context, workflowID string) (*SubmissionSnapshot, error) {
	return s.repo.FindSnapshot(ctx, workflowID)
}

func (s *RecordStore) QueryBySubmitter(ctx context.Context, name string) ([]*LineItem, error) {
	return s.repo.ListLineItems(ctx, LineItemFilter{CreatedBy: &name})
}

// QueryByCustomer is a search: it matches any customer key containing the
// query, which includes the exact key.
func (s *RecordStore) QueryByCustomer(ctx context.Context, customer string) ([]*LineItem, error) {
	customer = strings.TrimSpace(customer)
	if customer == "" {
		return nil, utils.NewValidationError("customer", "must not be empty")
	}
	return s.repo.ListLineItems(ctx, LineItemFilter{CustomerSearch: &customer})
}

func (s *RecordStore) QueryByStatus(ctx context.Context, status LineItemStatus) ([]*LineItem, error) {
	return s.repo.ListLineItems(ctx, LineItemFilter{Status: &status})
}

func (s *RecordStore) List(ctx context.Context, filter LineItemFilter) ([]*LineItem, error) {
	return s.repo.ListLineItems(ctx, filter)
}

func (s *RecordStore) Aggregate(ctx context.Context, filter LineItemFilter) (*LineItemAggregate, error) {
	items, err := s.repo.ListLineItems(ctx, filter)
	if err != nil {
		return nil, err
	}
	return AggregateLineItems(items), nil
}

func AggregateLineItems(items []*LineItem) *LineItemAggregate {
	agg := &LineItemAggregate{TotalValue: decimal.Zero}
	customers := map[string]bool{}
	submitters := map[string]bool{}
	for _, item := range items {
		agg.Count++
		agg.TotalQuantity += item.TotalQuantity()
		agg.TotalValue = agg.TotalValue.Add(item.TotalValue())
		customers[utils.NormalizeKey(item.CustomerKey)] = true
		submitters[item.CreatedBy] = true
	}
	agg.UniqueCustomers = len(customers)
	agg.UniqueSubmitters = len(submitters)
	return agg
}

// ApplyGitQuantity stores a recomputed goods-in-transit quantity on every
// line item of the exact customer/item pair. It holds the same per-key locks
// as Upsert, taken in key order, and every touched row gets a new version.
func (s *RecordStore) ApplyGitQuantity(ctx context.Context, customer string, item string, qty int) (int, error) {
	if qty < 0 {
		return 0, utils.NewValidationError("git_quantity", "must not be negative")
	}
	rows, err := s.repo.ListLineItems(ctx, LineItemFilter{CustomerKey: &customer, ItemKey: &item})
	if err != nil {
		return 0, err
	}
	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, row.MatchKey)
	}
	keys = utils.UniqueSlice(keys)
	sort.Strings(keys)

	unlocks := make([]func(), 0, len(keys))
	defer func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}()
	for _, key := range keys {
		unlock, err := s.locker.Lock(ctx, "lineItem:"+key)
		if err != nil {
			return 0, err
		}
		unlocks = append(unlocks, unlock)
	}
	return s.repo.SetGitQuantity(ctx, customer, item, qty, s.now())
}

func IsConflictError(err error) bool {
	var c *utils.ConflictError
	return errors.As(err, &c)
}
