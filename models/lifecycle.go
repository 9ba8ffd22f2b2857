package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/budget_backend/config"
	"bitbucket.org/mmdatafocus/budget_backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// requestTransitions drive stock requests, alerts, projections and overviews.
var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestStatusDraft:          {RequestStatusSentToManager},
	RequestStatusSentToManager:  {RequestStatusUnderReview},
	RequestStatusUnderReview:    {RequestStatusApproved, RequestStatusRejected},
	RequestStatusApproved:       {RequestStatusCompleted},
	RequestStatusNeedsAttention: {RequestStatusUnderReview, RequestStatusRejected},
}

// submissionTransitions drive budget and forecast submissions.
var submissionTransitions = map[RequestStatus][]RequestStatus{
	RequestStatusSubmitted:      {RequestStatusInReview},
	RequestStatusInReview:       {RequestStatusApproved, RequestStatusRejected},
	RequestStatusApproved:       {RequestStatusSentToSupplyChain},
	RequestStatusNeedsAttention: {RequestStatusInReview, RequestStatusRejected},
}

func transitionsFor(kind RequestKind) map[RequestStatus][]RequestStatus {
	if kind.IsSubmission() {
		return submissionTransitions
	}
	return requestTransitions
}

func InitialStatus(kind RequestKind) RequestStatus {
	if kind.IsSubmission() {
		return RequestStatusSubmitted
	}
	return RequestStatusDraft
}

// Successors lists the statuses reachable from from in one step, escalation excluded.
func Successors(kind RequestKind, from RequestStatus) []RequestStatus {
	return append([]RequestStatus(nil), transitionsFor(kind)[from]...)
}

func IsLegalTransition(kind RequestKind, from RequestStatus, to RequestStatus) bool {
	for _, s := range transitionsFor(kind)[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionObserver is told about every committed status change.
type TransitionObserver interface {
	OnTransition(ctx context.Context, r *Request, from RequestStatus, actor Actor) error
}

// AdvanceResult is the outcome for one id of a bulk advance.
type AdvanceResult struct {
	ID      string        `json:"id"`
	Status  RequestStatus `json:"status,omitempty"`
	Success bool          `json:"success"`
	Error   string        `json:"error,omitempty"`
	Err     error         `json:"-"`
}

// RequestLifecycle moves requests forward through their lifecycle. Each
// status change writes exactly one audit entry together with the status.
type RequestLifecycle struct {
	repo       RequestRepository
	authorizer Authorizer
	observer   TransitionObserver
	locker     *utils.KeyLocker
	logger     *logrus.Logger
	now        func() time.Time
}

type LifecycleOption func(*RequestLifecycle)

func WithLifecycleClock(now func() time.Time) LifecycleOption {
	return func(l *RequestLifecycle) { l.now = now }
}

func NewRequestLifecycle(repo RequestRepository, authorizer Authorizer, observer TransitionObserver, locker *utils.KeyLocker, opts ...LifecycleOption) *RequestLifecycle {
	if authorizer == nil {
		authorizer = NewRoleAuthorizer()
	}
	if locker == nil {
		locker = utils.NewKeyLocker(nil)
	}
	l := &RequestLifecycle{
		repo:       repo,
		authorizer: authorizer,
		observer:   observer,
		locker:     locker,
		logger:     config.GetLogger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RequestLifecycle) Create(ctx context.Context, input *NewRequest, actor Actor) (*Request, error) {
	if input == nil {
		return nil, utils.NewValidationError("input", "request is required")
	}
	if err := input.validate(); err != nil {
		return nil, err
	}
	if err := l.authorizer.Authorize(actor, ActionForRequestKind(input.Kind), "request"); err != nil {
		return nil, err
	}

	now := l.now()
	urgency := input.Urgency
	if urgency == "" {
		urgency = UrgencyMedium
	}
	r := &Request{
		ID:            uuid.NewString(),
		Kind:          input.Kind,
		Title:         strings.TrimSpace(input.Title),
		Quantity:      input.Quantity,
		Urgency:       urgency,
		Status:        InitialStatus(input.Kind),
		CreatedBy:     actor.Name,
		CreatedByRole: actor.Role,
		CreatedAt:     now,
		LastModified:  now,
		WorkflowId:    input.WorkflowId,
		CustomerKey:   strings.TrimSpace(input.CustomerKey),
		ItemKey:       strings.TrimSpace(input.ItemKey),
		Version:       1,
	}
	if msg := strings.TrimSpace(input.Comment); msg != "" {
		r.Comments = append(r.Comments, AuditEntry{
			ID:         uuid.NewString(),
			RequestID:  r.ID,
			Author:     actor.Name,
			AuthorRole: actor.Role,
			Message:    msg,
			Timestamp:  now,
			Type:       AuditEntryTypeNote,
		})
	}
	if err := l.repo.InsertRequest(ctx, r); err != nil {
		return nil, err
	}
	l.notify(ctx, r, "", actor)
	return r.Clone(), nil
}

func (l *RequestLifecycle) Get(ctx context.Context, id string) (*Request, error) {
	return l.repo.FindRequest(ctx, id)
}

func (l *RequestLifecycle) List(ctx context.Context, filter RequestFilter) ([]*Request, error) {
	return l.repo.ListRequests(ctx, filter)
}

// Advance moves id to target, which must be an immediate successor of the
// current status.
func (l *RequestLifecycle) Advance(ctx context.Context, id string, target RequestStatus, actor Actor, comment string) (*Request, error) {
	return l.transition(ctx, id, target, actor, comment, func(r *Request) error {
		if r.Status.IsTerminal() || !IsLegalTransition(r.Kind, r.Status, target) {
			return &utils.InvalidTransitionError{Id: id, From: string(r.Status), To: string(target)}
		}
		return nil
	})
}

// Escalate flags id as needing attention from any non-terminal status.
func (l *RequestLifecycle) Escalate(ctx context.Context, id string, actor Actor, comment string) (*Request, error) {
	if strings.TrimSpace(comment) == "" {
		return nil, utils.NewValidationError("comment", "an escalation needs a reason")
	}
	return l.transition(ctx, id, RequestStatusNeedsAttention, actor, comment, func(r *Request) error {
		if r.Status.IsTerminal() || r.Status == RequestStatusNeedsAttention {
			return &utils.InvalidTransitionError{Id: id, From: string(r.Status), To: string(RequestStatusNeedsAttention)}
		}
		return nil
	})
}

func (l *RequestLifecycle) transition(ctx context.Context, id string, target RequestStatus, actor Actor, comment string, check func(r *Request) error) (*Request, error) {
	unlock, err := l.locker.Lock(ctx, "request:"+id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	r, err := l.repo.FindRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := check(r); err != nil {
		return nil, err
	}
	if err := l.authorizer.Authorize(actor, ActionForTransition(target), "request:"+id); err != nil {
		return nil, err
	}

	now := l.now()
	from := r.Status
	message := strings.TrimSpace(comment)
	if message == "" {
		message = fmt.Sprintf("Status changed from %s to %s", from, target)
	}
	entry := AuditEntry{
		ID:         uuid.NewString(),
		RequestID:  r.ID,
		Author:     actor.Name,
		AuthorRole: actor.Role,
		Message:    message,
		Timestamp:  now,
		Type:       entryTypeForTarget(target),
		FromStatus: from,
		ToStatus:   target,
	}
	updated := r.Clone()
	updated.Status = target
	updated.LastModified = now
	updated.Version = r.Version + 1
	if err := l.repo.UpdateRequestStatus(ctx, updated, r.Version, &entry); err != nil {
		return nil, err
	}
	updated.Comments = append(updated.Comments, entry)

	l.notify(ctx, updated, from, actor)
	return updated, nil
}

// BulkAdvance advances each id on its own. One failure does not stop or
// undo the others.
func (l *RequestLifecycle) BulkAdvance(ctx context.Context, ids []string, target RequestStatus, actor Actor, comment string) []AdvanceResult {
	results := make([]AdvanceResult, 0, len(ids))
	bulkErr := l.authorizer.Authorize(actor, ActionBulkAdvance, "requests")
	for _, id := range ids {
		if bulkErr != nil {
			results = append(results, AdvanceResult{ID: id, Error: bulkErr.Error(), Err: bulkErr})
			continue
		}
		r, err := l.Advance(ctx, id, target, actor, comment)
		if err != nil {
			results = append(results, AdvanceResult{ID: id, Error: err.Error(), Err: err})
			continue
		}
		results = append(results, AdvanceResult{ID: id, Status: r.Status, Success: true})
	}
	return results
}

// AddComment appends a note, approval, rejection or follow-back entry. It is
// allowed in every status, terminal ones included.
func (l *RequestLifecycle) AddComment(ctx context.Context, id string, actor Actor, entryType AuditEntryType, message string) (*AuditEntry, error) {
	if entryType == "" {
		entryType = AuditEntryTypeNote
	}
	if !entryType.IsCommentType() {
		return nil, utils.NewValidationError("type", "invalid comment type %q", entryType)
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, utils.NewValidationError("message", "must not be empty")
	}
	if err := l.authorizer.Authorize(actor, ActionComment, "request:"+id); err != nil {
		return nil, err
	}
	entry := &AuditEntry{
		ID:         uuid.NewString(),
		RequestID:  id,
		Author:     actor.Name,
		AuthorRole: actor.Role,
		Message:    message,
		Timestamp:  l.now(),
		Type:       entryType,
	}
	if err := l.repo.AppendAuditEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// AllowedTransitions is what the actor may be offered for id right now,
// including escalation.
func (l *RequestLifecycle) AllowedTransitions(ctx context.Context, id string, actor Actor) ([]RequestStatus, error) {
	r, err := l.repo.FindRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	allowed := make([]RequestStatus, 0)
	if r.Status.IsTerminal() {
		return allowed, nil
	}
	resource := "request:" + id
	for _, next := range Successors(r.Kind, r.Status) {
		if l.authorizer.Authorize(actor, ActionForTransition(next), resource) == nil {
			allowed = append(allowed, next)
		}
	}
	if r.Status != RequestStatusNeedsAttention && l.authorizer.Authorize(actor, ActionEscalate, resource) == nil {
		allowed = append(allowed, RequestStatusNeedsAttention)
	}
	return allowed, nil
}

// notify never fails a committed transition.
func (l *RequestLifecycle) notify(ctx context.Context, r *Request, from RequestStatus, actor Actor) {
	if l.observer == nil {
		return
	}
	if err := l.observer.OnTransition(ctx, r, from, actor); err != nil {
		config.LogError(l.logger, "RequestLifecycle", "notify", r.ID, map[string]string{
			"from": string(from),
			"to":   string(r.Status),
		}, err)
	}
}
