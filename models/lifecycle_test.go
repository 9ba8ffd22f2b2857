package models_test

import (
	"context"
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/budget_backend/models"
	"bitbucket.org/mmdatafocus/budget_backend/utils"
)

func newTestLifecycle(t *testing.T) (*models.RequestLifecycle, *models.MemoryStore, *models.NotificationRouter) {
	t.Helper()
	repo := models.NewMemoryStore()
	router := models.NewNotificationRouter(repo, nil)
	clock := newStepClock()
	lifecycle := models.NewRequestLifecycle(repo, models.NewRoleAuthorizer(), router, nil,
		models.WithLifecycleClock(clock.Now))
	return lifecycle, repo, router
}

func createStockRequest(t *testing.T, l *models.RequestLifecycle) *models.Request {
	t.Helper()
	r, err := l.Create(context.Background(), &models.NewRequest{
		Kind:     models.RequestKindStockRequest,
		Title:    "Tyre 17 for ACME",
		Quantity: 40,
	}, salesman)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return r
}

func isInvalidTransition(err error) bool {
	var it *utils.InvalidTransitionError
	return errors.As(err, &it)
}

func TestCreateStartsAtInitialStatus(t *testing.T) {
	l, _, _ := newTestLifecycle(t)
	ctx := context.Background()

	r := createStockRequest(t, l)
	if r.Status != models.RequestStatusDraft || r.Urgency != models.UrgencyMedium {
		t.Fatalf("expected Draft with medium urgency, got %s / %s", r.Status, r.Urgency)
	}

	sub, err := l.Create(ctx, &models.NewRequest{
		Kind:       models.RequestKindBudgetSubmission,
		Title:      "Budget 2025",
		WorkflowId: "wf-1",
		Comment:    "first pass",
	}, salesman)
	if err != nil {
		t.Fatalf("create submission: %v", err)
	}
	if sub.Status != models.RequestStatusSubmitted {
		t.Fatalf("expected Submitted, got %s", sub.Status)
	}
	if len(sub.Comments) != 1 || sub.Comments[0].Type != models.AuditEntryTypeNote {
		t.Fatalf("expected the creation note, got %+v", sub.Comments)
	}

	if _, err := l.Create(ctx, &models.NewRequest{Kind: "bogus", Title: "x"}, salesman); !utils.IsValidationError(err) {
		t.Fatalf("expected ValidationError for unknown kind, got %v", err)
	}
	if _, err := l.Create(ctx, &models.NewRequest{Kind: models.RequestKindStockRequest}, salesman); !utils.IsValidationError(err) {
		t.Fatalf("expected ValidationError for missing title, got %v", err)
	}
}

func TestAdvanceIsForwardOnly(t *testing.T) {
	l, _, _ := newTestLifecycle(t)
	ctx := context.Background()
	r := createStockRequest(t, l)

	if _, err := l.Advance(ctx, r.ID, models.RequestStatusApproved, manager, ""); !isInvalidTransition(err) {
		t.Fatalf("expected InvalidTransition for Draft -> Approved, got %v", err)
	}

	if _, err := l.Advance(ctx, r.ID, models.RequestStatusSentToManager, salesman, ""); err != nil {
		t.Fatalf("send to manager: %v", err)
	}
	got, err := l.Advance(ctx, r.ID, models.RequestStatusUnderReview, manager, "looking")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if got.Status != models.RequestStatusUnderReview || got.Version != 3 {
		t.Fatalf("expected UnderReview at version 3, got %s v%d", got.Status, got.Version)
	}

	stored, _ := l.Get(ctx, r.ID)
	if len(stored.Comments) != 2 {
		t.Fatalf("expected one audit entry per transition, got %d", len(stored.Comments))
	}
	first, second := stored.Comments[0], stored.Comments[1]
	if first.FromStatus != models.RequestStatusDraft || first.ToStatus != models.RequestStatusSentToManager {
		t.Fatalf("unexpected first entry %+v", first)
	}
	if second.Message != "looking" || second.Author != manager.Name || second.Type != models.AuditEntryTypeTransition {
		t.Fatalf("unexpected second entry %+v", second)
	}

	if _, err := l.Advance(ctx, r.ID, models.RequestStatusSentToManager, manager, ""); !isInvalidTransition(err) {
		t.Fatalf("expected InvalidTransition going backwards, got %v", err)
	}
}

func TestAdvanceRejectsUnauthorizedActor(t *testing.T) {
	l, _, _ := newTestLifecycle(t)
	ctx := context.Background()
	r := createStockRequest(t, l)
	l.Advance(ctx, r.ID, models.RequestStatusSentToManager, salesman, "")
	l.Advance(ctx, r.ID, models.RequestStatusUnderReview, manager, "")

	_, err := l.Advance(ctx, r.ID, models.RequestStatusApproved, salesman, "")
	var authErr *utils.AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}
	stored, _ := l.Get(ctx, r.ID)
	if stored.Status != models.RequestStatusUnderReview {
		t.Fatalf("denied transition changed status to %s", stored.Status)
	}

	approved, err := l.Advance(ctx, r.ID, models.RequestStatusApproved, manager, "ok")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Comments[len(approved.Comments)-1].Type != models.AuditEntryTypeApproval {
		t.Fatalf("expected approval entry, got %s", approved.Comments[len(approved.Comments)-1].Type)
	}

	if _, err := l.Create(ctx, &models.NewRequest{Kind: models.RequestKindStockRequest, Title: "x"}, viewer); !errors.As(err, &authErr) {
		t.Fatalf("expected viewer create to be denied, got %v", err)
	}
}

func TestSubmissionLifecycle(t *testing.T) {
	l, _, _ := newTestLifecycle(t)
	ctx := context.Background()
	r, _ := l.Create(ctx, &models.NewRequest{Kind: models.RequestKindForecastSubmission, Title: "Forecast Q1"}, salesman)

	steps := []struct {
		target models.RequestStatus
		actor  models.Actor
	}{
		{models.RequestStatusInReview, manager},
		{models.RequestStatusApproved, manager},
		{models.RequestStatusSentToSupplyChain, supply},
	}
	for _, step := range steps {
		if _, err := l.Advance(ctx, r.ID, step.target, step.actor, ""); err != nil {
			t.Fatalf("advance to %s: %v", step.target, err)
		}
	}
	if _, err := l.Advance(ctx, r.ID, models.RequestStatusCompleted, manager, ""); !isInvalidTransition(err) {
		t.Fatalf("expected terminal SentToSupplyChain to refuse, got %v", err)
	}
}

func TestEscalate(t *testing.T) {
	l, _, _ := newTestLifecycle(t)
	ctx := context.Background()
	r := createStockRequest(t, l)

	if _, err := l.Escalate(ctx, r.ID, manager, " "); !utils.IsValidationError(err) {
		t.Fatalf("expected ValidationError without a reason, got %v", err)
	}
	got, err := l.Escalate(ctx, r.ID, supply, "supplier is late")
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if got.Status != models.RequestStatusNeedsAttention {
		t.Fatalf("expected NeedsAttention, got %s", got.Status)
	}
	if entry := got.Comments[len(got.Comments)-1]; entry.Type != models.AuditEntryTypeEscalation {
		t.Fatalf("expected escalation entry, got %s", entry.Type)
	}
	if _, err := l.Escalate(ctx, r.ID, supply, "again"); !isInvalidTransition(err) {
		t.Fatalf("expected InvalidTransition escalating twice, got %v", err)
	}

	// resume and finish
	l.Advance(ctx, r.ID, models.RequestStatusRejected, manager, "no stock")
	if _, err := l.Escalate(ctx, r.ID, manager, "too late"); !isInvalidTransition(err) {
		t.Fatalf("expected InvalidTransition escalating from terminal, got %v", err)
	}
}

func TestBulkAdvancePartialFailure(t *testing.T) {
	l, _, _ := newTestLifecycle(t)
	ctx := context.Background()

	a := createStockRequest(t, l)
	b := createStockRequest(t, l)
	l.Advance(ctx, a.ID, models.RequestStatusSentToManager, salesman, "")

	results := l.BulkAdvance(ctx, []string{a.ID, b.ID, "missing"}, models.RequestStatusUnderReview, manager, "")
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Success || results[0].Status != models.RequestStatusUnderReview {
		t.Fatalf("expected first to succeed, got %+v", results[0])
	}
	if results[1].Success || !isInvalidTransition(results[1].Err) {
		t.Fatalf("expected second to fail with InvalidTransition, got %+v", results[1])
	}
	if results[2].Success || !utils.IsNotFoundError(results[2].Err) {
		t.Fatalf("expected third to fail with NotFound, got %+v", results[2])
	}
	stored, _ := l.Get(ctx, a.ID)
	if stored.Status != models.RequestStatusUnderReview {
		t.Fatalf("successful advance was not kept: %s", stored.Status)
	}

	denied := l.BulkAdvance(ctx, []string{b.ID}, models.RequestStatusSentToManager, salesman, "")
	if denied[0].Success || denied[0].Err == nil {
		t.Fatalf("expected salesman bulk advance to be denied, got %+v", denied[0])
	}
}

func TestAddCommentOnTerminalRequest(t *testing.T) {
	l, _, _ := newTestLifecycle(t)
	ctx := context.Background()
	r := createStockRequest(t, l)
	l.Advance(ctx, r.ID, models.RequestStatusSentToManager, salesman, "")
	l.Advance(ctx, r.ID, models.RequestStatusUnderReview, manager, "")
	l.Advance(ctx, r.ID, models.RequestStatusRejected, manager, "")

	entry, err := l.AddComment(ctx, r.ID, salesman, models.AuditEntryTypeFollowBack, "will resubmit")
	if err != nil {
		t.Fatalf("comment: %v", err)
	}
	stored, _ := l.Get(ctx, r.ID)
	if stored.Status != models.RequestStatusRejected {
		t.Fatalf("comment changed status to %s", stored.Status)
	}
	if last := stored.Comments[len(stored.Comments)-1]; last.ID != entry.ID {
		t.Fatalf("comment not appended")
	}

	if _, err := l.AddComment(ctx, r.ID, salesman, models.AuditEntryTypeTransition, "x"); !utils.IsValidationError(err) {
		t.Fatalf("expected ValidationError for transition type, got %v", err)
	}
	if _, err := l.AddComment(ctx, "missing", salesman, models.AuditEntryTypeNote, "x"); !utils.IsNotFoundError(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestAllowedTransitions(t *testing.T) {
	l, _, _ := newTestLifecycle(t)
	ctx := context.Background()
	r := createStockRequest(t, l)
	l.Advance(ctx, r.ID, models.RequestStatusSentToManager, salesman, "")
	l.Advance(ctx, r.ID, models.RequestStatusUnderReview, manager, "")

	forManager, err := l.AllowedTransitions(ctx, r.ID, manager)
	if err != nil {
		t.Fatalf("allowed: %v", err)
	}
	want := []models.RequestStatus{models.RequestStatusApproved, models.RequestStatusRejected, models.RequestStatusNeedsAttention}
	if len(forManager) != len(want) {
		t.Fatalf("expected %v, got %v", want, forManager)
	}
	for i := range want {
		if forManager[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, forManager)
		}
	}

	forSalesman, _ := l.AllowedTransitions(ctx, r.ID, salesman)
	if len(forSalesman) != 0 {
		t.Fatalf("expected nothing for salesman, got %v", forSalesman)
	}
}

func TestTransitionNotifiesRecipients(t *testing.T) {
	l, _, router := newTestLifecycle(t)
	ctx := context.Background()
	r := createStockRequest(t, l)

	l.Advance(ctx, r.ID, models.RequestStatusSentToManager, salesman, "")
	managerInbox, _ := router.UnreadFor(ctx, manager.Name, models.RoleManager)
	if len(managerInbox) != 1 || managerInbox[0].RelatedRecordID != r.ID {
		t.Fatalf("expected one manager notification, got %+v", managerInbox)
	}

	l.Advance(ctx, r.ID, models.RequestStatusUnderReview, manager, "")
	creatorInbox, _ := router.UnreadFor(ctx, salesman.Name, models.RoleSalesman)
	if len(creatorInbox) != 1 || creatorInbox[0].FromUser != manager.Name {
		t.Fatalf("expected the creator to hear about the review, got %+v", creatorInbox)
	}
}
