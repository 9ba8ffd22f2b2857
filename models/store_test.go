package models_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/budget_backend/models"
	"bitbucket.org/mmdatafocus/budget_backend/utils"
	"github.com/shopspring/decimal"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

var (
	salesman = models.Actor{Name: "aung", Role: models.RoleSalesman}
	manager  = models.Actor{Name: "may", Role: models.RoleManager}
	supply   = models.Actor{Name: "kyaw", Role: models.RoleSupplyChain}
	viewer   = models.Actor{Name: "nobody", Role: models.RoleViewer}
)

func ptr[T any](v T) *T { return &v }

func budgetInput(customer string, item string, total int) *models.LineItemInput {
	kind := models.LineItemKindBudget
	rate := decimal.NewFromInt(10)
	return &models.LineItemInput{
		Kind:          &kind,
		CustomerKey:   ptr(customer),
		ItemKey:       ptr(item),
		Year:          ptr(2025),
		Category:      ptr("Tyres"),
		Brand:         ptr("BF"),
		Rate:          &rate,
		TotalQuantity: ptr(total),
	}
}

func newTestStore(t *testing.T) (*models.RecordStore, *models.MemoryStore) {
	t.Helper()
	repo := models.NewMemoryStore()
	clock := newStepClock()
	store := models.NewRecordStore(repo, utils.NewKeyLocker(nil),
		models.WithStoreClock(clock.Now),
		models.WithRequireVersion(false),
	)
	return store, repo
}

func TestUpsertInsertsWithDistributedPeriods(t *testing.T) {
	t.Setenv("DISTRIBUTION_REMAINDER_POLICY", "")
	ctx := context.Background()
	store, _ := newTestStore(t)

	item, err := store.Upsert(ctx, budgetInput("ACME", "Tyre 17", 13), salesman)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.ID == "" {
		t.Fatalf("expected generated id")
	}
	if item.Periods != [12]int{2, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1} {
		t.Fatalf("unexpected periods %v", item.Periods)
	}
	if item.Status != models.LineItemStatusDraft || item.Version != 1 {
		t.Fatalf("expected draft version 1, got %s v%d", item.Status, item.Version)
	}
	if !item.TotalValue().Equal(decimal.NewFromInt(130)) {
		t.Fatalf("expected total value 130, got %s", item.TotalValue())
	}
}

func TestUpsertValidation(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	cases := map[string]*models.LineItemInput{
		"negative quantity": budgetInput("ACME", "Tyre", -1),
		"empty customer":    budgetInput("  ", "Tyre", 10),
		"no quantity": func() *models.LineItemInput {
			in := budgetInput("ACME", "Tyre", 0)
			in.TotalQuantity = nil
			return in
		}(),
		"periods disagree with total": func() *models.LineItemInput {
			in := budgetInput("ACME", "Tyre", 5)
			in.Periods = &[12]int{1}
			return in
		}(),
		"missing key": {TotalQuantity: ptr(12)},
	}
	for name, input := range cases {
		if _, err := store.Upsert(ctx, input, salesman); !utils.IsValidationError(err) {
			t.Fatalf("%s: expected ValidationError, got %v", name, err)
		}
	}
	rate := decimal.NewFromInt(12)
	if _, err := store.Upsert(ctx, &models.LineItemInput{ID: ptr("missing"), Rate: &rate}, salesman); !utils.IsNotFoundError(err) {
		t.Fatalf("unknown id: expected NotFoundError, got %T %v", err, err)
	}
	items, _ := store.List(ctx, models.LineItemFilter{})
	if len(items) != 0 {
		t.Fatalf("expected nothing stored after failures, got %d", len(items))
	}
}

func TestUpsertIsIdempotentOnCompositeKey(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	first, err := store.Upsert(ctx, budgetInput("ACME", "Tyre 17", 24), salesman)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second, err := store.Upsert(ctx, budgetInput("acme ", "TYRE 17", 24), salesman)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	items, _ := store.List(ctx, models.LineItemFilter{})
	if len(items) != 1 {
		t.Fatalf("expected exactly one stored record, got %d", len(items))
	}
	if second.ID != first.ID {
		t.Fatalf("expected the same record, got %s and %s", first.ID, second.ID)
	}
	if !items[0].LastModified.Equal(second.LastModified) || !items[0].LastModified.After(first.LastModified) {
		t.Fatalf("expected lastModified of the later call, got %v (first %v)", items[0].LastModified, first.LastModified)
	}
	if !items[0].CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("createdAt changed: %v -> %v", first.CreatedAt, items[0].CreatedAt)
	}
}

func TestUpsertMergeKeepsAbsentFieldsAndCreator(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	created, err := store.Upsert(ctx, budgetInput("ACME", "Tyre 17", 12), salesman)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	newRate := decimal.NewFromInt(15)
	updated, err := store.Upsert(ctx, &models.LineItemInput{
		ID:              &created.ID,
		Rate:            &newRate,
		ExpectedVersion: ptr(created.Version),
	}, manager)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.Rate.Equal(newRate) {
		t.Fatalf("expected rate 15, got %s", updated.Rate)
	}
	if updated.Brand != "BF" || updated.Category != "Tyres" || updated.Periods != created.Periods {
		t.Fatalf("absent fields were not retained: %+v", updated)
	}
	if updated.CreatedBy != salesman.Name || !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("creator changed: %s %v", updated.CreatedBy, updated.CreatedAt)
	}
	if updated.LastModifiedBy != manager.Name || updated.Version != 2 {
		t.Fatalf("expected manager at version 2, got %s v%d", updated.LastModifiedBy, updated.Version)
	}
}

func TestUpsertStaleVersionConflicts(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	created, _ := store.Upsert(ctx, budgetInput("ACME", "Tyre 17", 12), salesman)

	_, err := store.Upsert(ctx, &models.LineItemInput{ID: &created.ID, Stock: ptr(5), ExpectedVersion: ptr(1)}, salesman)
	if err != nil {
		t.Fatalf("first edit: %v", err)
	}
	_, err = store.Upsert(ctx, &models.LineItemInput{ID: &created.ID, Stock: ptr(9), ExpectedVersion: ptr(1)}, manager)
	var conflict *utils.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.ActualVersion != 2 || conflict.ExpectedVersion != 1 {
		t.Fatalf("unexpected conflict versions: %+v", conflict)
	}
	stored, _ := store.Get(ctx, created.ID)
	if stored.Stock != 5 {
		t.Fatalf("conflicting write was applied: stock %d", stored.Stock)
	}
}

func TestUpsertOtherActorWithoutVersionReportsFields(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	created, _ := store.Upsert(ctx, budgetInput("ACME", "Tyre 17", 12), salesman)

	in := budgetInput("ACME", "Tyre 17", 24)
	_, err := store.Upsert(ctx, in, manager)
	var conflict *utils.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if len(conflict.Fields) != 1 || conflict.Fields[0] != "periods" {
		t.Fatalf("expected the periods field reported, got %v", conflict.Fields)
	}

	// the same payload from another actor changes nothing and passes
	same := budgetInput("ACME", "Tyre 17", 12)
	if _, err := store.Upsert(ctx, same, manager); err != nil {
		t.Fatalf("no-op upsert from another actor: %v", err)
	}

	// acknowledging the version lets the edit through
	latest, _ := store.Get(ctx, created.ID)
	in.ExpectedVersion = ptr(latest.Version)
	if _, err := store.Upsert(ctx, in, manager); err != nil {
		t.Fatalf("versioned upsert: %v", err)
	}
}

func TestUpsertRequireVersion(t *testing.T) {
	ctx := context.Background()
	repo := models.NewMemoryStore()
	store := models.NewRecordStore(repo, nil, models.WithRequireVersion(true))

	created, err := store.Upsert(ctx, budgetInput("ACME", "Tyre", 12), salesman)
	if err != nil {
		t.Fatalf("insert without version must pass: %v", err)
	}
	_, err = store.Upsert(ctx, budgetInput("ACME", "Tyre", 12), salesman)
	if !models.IsConflictError(err) {
		t.Fatalf("expected ConflictError without version, got %v", err)
	}
	in := budgetInput("ACME", "Tyre", 12)
	in.ExpectedVersion = ptr(created.Version)
	if _, err := store.Upsert(ctx, in, salesman); err != nil {
		t.Fatalf("versioned update: %v", err)
	}
}

func TestConcurrentUpsertsSurfaceExactlyOneConflict(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	created, _ := store.Upsert(ctx, budgetInput("ACME", "Tyre 17", 12), salesman)

	actors := []models.Actor{salesman, manager}
	errs := make([]error, len(actors))
	var wg sync.WaitGroup
	for i, actor := range actors {
		wg.Add(1)
		go func(i int, actor models.Actor) {
			defer wg.Done()
			_, errs[i] = store.Upsert(ctx, &models.LineItemInput{
				ID:              &created.ID,
				Stock:           ptr(10 + i),
				ExpectedVersion: ptr(created.Version),
			}, actor)
		}(i, actor)
	}
	wg.Wait()

	conflicts, successes := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case models.IsConflictError(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || conflicts != 1 {
		t.Fatalf("expected one success and one conflict, got %d and %d", successes, conflicts)
	}
}

func TestSubmitIsNonDestructive(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	item, _ := store.Upsert(ctx, budgetInput("ACME", "Tyre 17", 12), salesman)
	other, _ := store.Upsert(ctx, budgetInput("Zeta", "Tyre 15", 6), salesman)

	snapshot, err := store.Submit(ctx, []string{item.ID, other.ID}, "wf-1", salesman)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(snapshot.Items) != 2 || snapshot.SubmittedBy != salesman.Name {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}

	mine, _ := store.QueryBySubmitter(ctx, salesman.Name)
	if len(mine) != 2 {
		t.Fatalf("expected originals still queryable, got %d", len(mine))
	}
	for _, got := range mine {
		if got.Status != models.LineItemStatusSubmitted {
			t.Fatalf("expected submitted status, got %s", got.Status)
		}
	}
	if mine[0].Periods != item.Periods || mine[0].CreatedAt != item.CreatedAt {
		t.Fatalf("original fields changed on submit: %+v", mine[0])
	}

	// originals stay editable; the snapshot does not follow them
	if _, err := store.Upsert(ctx, &models.LineItemInput{ID: &item.ID, Stock: ptr(99)}, salesman); err != nil {
		t.Fatalf("edit after submit: %v", err)
	}
	again, err := store.Snapshot(ctx, "wf-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	for _, s := range again.Items {
		if s.ID == item.ID && s.Stock == 99 {
			t.Fatalf("snapshot was mutated by a later upsert")
		}
	}

	if _, err := store.Submit(ctx, []string{item.ID}, "wf-1", salesman); !utils.IsValidationError(err) {
		t.Fatalf("expected ValidationError for reused workflow id, got %v", err)
	}
	if _, err := store.Submit(ctx, []string{"missing"}, "wf-2", salesman); !utils.IsNotFoundError(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if _, err := store.Snapshot(ctx, "wf-2"); !utils.IsNotFoundError(err) {
		t.Fatalf("failed submit must not leave a snapshot, got %v", err)
	}
}

func TestQueriesAndAggregate(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	store.Upsert(ctx, budgetInput("ACME Trading", "Tyre 17", 12), salesman)
	store.Upsert(ctx, budgetInput("ACME Trading", "Tyre 15", 24), salesman)
	store.Upsert(ctx, budgetInput("Best Motors", "Tyre 17", 12), manager)

	byCustomer, _ := store.QueryByCustomer(ctx, "acme")
	if len(byCustomer) != 2 {
		t.Fatalf("expected 2 items for acme, got %d", len(byCustomer))
	}
	exact, _ := store.QueryByCustomer(ctx, "Best Motors")
	if len(exact) != 1 {
		t.Fatalf("expected exact key to match, got %d", len(exact))
	}
	drafts, _ := store.QueryByStatus(ctx, models.LineItemStatusDraft)
	if len(drafts) != 3 {
		t.Fatalf("expected 3 drafts, got %d", len(drafts))
	}

	agg, err := store.Aggregate(ctx, models.LineItemFilter{})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.Count != 3 || agg.UniqueCustomers != 2 || agg.UniqueSubmitters != 2 {
		t.Fatalf("unexpected aggregate %+v", agg)
	}
	if agg.TotalQuantity != 48 || !agg.TotalValue.Equal(decimal.NewFromInt(480)) {
		t.Fatalf("unexpected totals %d / %s", agg.TotalQuantity, agg.TotalValue)
	}
}

// recomputeOnRead starts a GIT recompute for the same pair the moment an
// upsert has read its row, before the upsert writes back.
type recomputeOnRead struct {
	*models.MemoryStore
	store *models.RecordStore
	armed bool
	done  chan error
}

func (r *recomputeOnRead) FindLineItemByKey(ctx context.Context, matchKey string) (*models.LineItem, error) {
	item, err := r.MemoryStore.FindLineItemByKey(ctx, matchKey)
	if r.armed && err == nil {
		r.armed = false
		go func() {
			_, applyErr := r.store.ApplyGitQuantity(ctx, item.CustomerKey, item.ItemKey, 50)
			r.done <- applyErr
		}()
	}
	return item, err
}

func TestGitRecomputeDuringUpsertIsKept(t *testing.T) {
	ctx := context.Background()
	repo := &recomputeOnRead{MemoryStore: models.NewMemoryStore(), done: make(chan error, 1)}
	store := models.NewRecordStore(repo, utils.NewKeyLocker(nil), models.WithRequireVersion(false))
	repo.store = store

	if _, err := store.Upsert(ctx, budgetInput("ACME", "TYRE", 12), salesman); err != nil {
		t.Fatalf("insert: %v", err)
	}
	repo.armed = true
	update := budgetInput("ACME", "TYRE", 12)
	rate := decimal.NewFromInt(11)
	update.Rate = &rate
	if _, err := store.Upsert(ctx, update, salesman); err != nil {
		t.Fatalf("update: %v", err)
	}
	select {
	case err := <-repo.done:
		if err != nil {
			t.Fatalf("recompute: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("recompute never finished")
	}

	items, _ := store.List(ctx, models.LineItemFilter{})
	if len(items) != 1 {
		t.Fatalf("expected one line item, got %d", len(items))
	}
	got := items[0]
	if got.GitQuantity != 50 || !got.Rate.Equal(rate) || got.Version != 3 {
		t.Fatalf("expected git 50, rate 11, version 3, got git %d rate %s version %d", got.GitQuantity, got.Rate, got.Version)
	}
}

func TestSetGitQuantityBumpsVersion(t *testing.T) {
	ctx := context.Background()
	store, repo := newTestStore(t)

	item, err := store.Upsert(ctx, budgetInput("ACME", "TYRE", 12), salesman)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := repo.SetGitQuantity(ctx, "acme", "tyre", 7, time.Now()); err != nil {
		t.Fatalf("set git: %v", err)
	}
	stale := item.Clone()
	stale.Stock = 99
	if err := repo.UpdateLineItem(ctx, stale, item.Version); !models.IsConflictError(err) {
		t.Fatalf("expected a write based on the pre-recompute version to conflict, got %v", err)
	}
}

func TestApplyGitQuantityMatchesExactKeys(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	store.Upsert(ctx, budgetInput("ACME", "Tyre 17", 12), salesman)
	store.Upsert(ctx, budgetInput("ACME Trading", "Tyre 17", 12), salesman)

	n, err := store.ApplyGitQuantity(ctx, "acme", "tyre 17", 40)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one line item updated, got %d", n)
	}
}
