package workflow

import (
	"context"
	"strings"

	"bitbucket.org/mmdatafocus/budget_backend/config"
	"bitbucket.org/mmdatafocus/budget_backend/models"
	"bitbucket.org/mmdatafocus/budget_backend/utils"
	"github.com/sirupsen/logrus"
)

// Approvals backs the approval center: what is waiting on an actor and the
// approve/reject shortcuts on top of the request lifecycle.
type Approvals struct {
	Lifecycle *models.RequestLifecycle
	Logger    *logrus.Logger
}

func NewApprovals(lifecycle *models.RequestLifecycle) *Approvals {
	return &Approvals{Lifecycle: lifecycle, Logger: config.GetLogger()}
}

type InboxEntry struct {
	Request *models.Request        `json:"request"`
	Actions []models.RequestStatus `json:"actions"`
}

// Inbox lists open requests the actor can move forward. Escalation alone
// does not put a request in the inbox.
func (a *Approvals) Inbox(ctx context.Context, filter models.RequestFilter, actor models.Actor) ([]InboxEntry, error) {
	requests, err := a.Lifecycle.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	entries := make([]InboxEntry, 0)
	for _, r := range requests {
		if r.Status.IsTerminal() {
			continue
		}
		allowed, err := a.Lifecycle.AllowedTransitions(ctx, r.ID, actor)
		if err != nil {
			return nil, err
		}
		actions := make([]models.RequestStatus, 0, len(allowed))
		for _, s := range allowed {
			if s != models.RequestStatusNeedsAttention {
				actions = append(actions, s)
			}
		}
		if len(actions) == 0 {
			continue
		}
		entries = append(entries, InboxEntry{Request: r, Actions: actions})
	}
	return entries, nil
}

// Decide approves or rejects id. decision is "approve" or "reject".
func (a *Approvals) Decide(ctx context.Context, id string, decision string, actor models.Actor, comment string) (*models.Request, error) {
	target, err := decisionTarget(decision)
	if err != nil {
		return nil, err
	}
	r, err := a.Lifecycle.Advance(ctx, id, target, actor, comment)
	if err != nil {
		return nil, err
	}
	a.Logger.WithFields(logrus.Fields{
		"request": r.ID,
		"kind":    r.Kind,
		"status":  r.Status,
		"actor":   actor.Name,
	}).Info("request decided")
	return r, nil
}

// BulkDecide applies Decide semantics to many ids; failures are per id.
func (a *Approvals) BulkDecide(ctx context.Context, ids []string, decision string, actor models.Actor, comment string) ([]models.AdvanceResult, error) {
	target, err := decisionTarget(decision)
	if err != nil {
		return nil, err
	}
	return a.Lifecycle.BulkAdvance(ctx, utils.UniqueSlice(ids), target, actor, comment), nil
}

func decisionTarget(decision string) (models.RequestStatus, error) {
	switch strings.ToLower(strings.TrimSpace(decision)) {
	case "approve", "approved":
		return models.RequestStatusApproved, nil
	case "reject", "rejected":
		return models.RequestStatusRejected, nil
	}
	return "", utils.NewValidationError("decision", "must be approve or reject, got %q", decision)
}
