package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/budget_backend/config"
	"bitbucket.org/mmdatafocus/budget_backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Publisher fans an inserted notification out to an external channel.
type Publisher interface {
	Publish(ctx context.Context, n *Notification) error
}

// NotificationRouter stores role- or user-addressed notifications. Delivery
// ends at insertion; consumers poll UnreadFor.
type NotificationRouter struct {
	repo      NotificationRepository
	publisher Publisher
	logger    *logrus.Logger
	now       func() time.Time
}

func NewNotificationRouter(repo NotificationRepository, publisher Publisher) *NotificationRouter {
	return &NotificationRouter{
		repo:      repo,
		publisher: publisher,
		logger:    config.GetLogger(),
		now:       time.Now,
	}
}

func (r *NotificationRouter) Notify(ctx context.Context, toUserOrRole string, title string, message string, relatedRecordID string, fromUser string) (*Notification, error) {
	toUserOrRole = strings.TrimSpace(toUserOrRole)
	if toUserOrRole == "" {
		return nil, utils.NewValidationError("to_user_or_role", "must not be empty")
	}
	if strings.TrimSpace(title) == "" {
		return nil, utils.NewValidationError("title", "must not be empty")
	}
	n := &Notification{
		ID:              uuid.NewString(),
		Title:           title,
		Message:         message,
		FromUser:        fromUser,
		ToUserOrRole:    toUserOrRole,
		RelatedRecordID: relatedRecordID,
		CreatedAt:       r.now(),
	}
	if err := r.repo.InsertNotification(ctx, n); err != nil {
		return nil, err
	}
	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, n); err != nil {
			config.LogError(r.logger, "NotificationRouter", "Notify", n.ID, n.ToUserOrRole, err)
		}
	}
	return n, nil
}

// UnreadFor returns unread notifications addressed to the user or to the role, newest first.
func (r *NotificationRouter) UnreadFor(ctx context.Context, user string, role Role) ([]*Notification, error) {
	recipients := make([]string, 0, 2)
	if user = strings.TrimSpace(user); user != "" {
		recipients = append(recipients, user)
	}
	if role != "" {
		recipients = append(recipients, string(role))
	}
	if len(recipients) == 0 {
		return nil, utils.NewValidationError("user", "user or role is required")
	}
	return r.repo.ListNotifications(ctx, NotificationFilter{Recipients: recipients, UnreadOnly: true})
}

func (r *NotificationRouter) MarkRead(ctx context.Context, id string) error {
	return r.repo.MarkNotificationRead(ctx, id)
}

// RecipientsFor is who hears about a request entering its current status.
func RecipientsFor(req *Request) []string {
	switch req.Status {
	case RequestStatusSentToManager, RequestStatusSubmitted:
		return []string{string(RoleManager)}
	case RequestStatusNeedsAttention:
		return []string{string(RoleManager), string(RoleSupplyChain)}
	case RequestStatusSentToSupplyChain:
		return []string{string(RoleSupplyChain)}
	case RequestStatusUnderReview, RequestStatusInReview,
		RequestStatusApproved, RequestStatusRejected, RequestStatusCompleted:
		return []string{req.CreatedBy}
	}
	return nil
}

// OnTransition notifies everyone RecipientsFor names except the actor.
func (r *NotificationRouter) OnTransition(ctx context.Context, req *Request, from RequestStatus, actor Actor) error {
	title := fmt.Sprintf("%s %s", kindLabel(req.Kind), statusLabel(req.Status))
	var message string
	if from == "" {
		message = fmt.Sprintf("%s created %q", actor.Name, req.Title)
	} else {
		message = fmt.Sprintf("%s moved %q from %s to %s", actor.Name, req.Title, from, req.Status)
	}
	var errs []error
	for _, to := range RecipientsFor(req) {
		if to == "" || to == actor.Name {
			continue
		}
		if _, err := r.Notify(ctx, to, title, message, req.ID, actor.Name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func kindLabel(kind RequestKind) string {
	return utils.UppercaseFirst(strings.ReplaceAll(string(kind), "_", " "))
}

func statusLabel(status RequestStatus) string {
	switch status {
	case RequestStatusSentToManager:
		return "sent to manager"
	case RequestStatusUnderReview, RequestStatusInReview:
		return "in review"
	case RequestStatusNeedsAttention:
		return "needs attention"
	case RequestStatusSentToSupplyChain:
		return "sent to supply chain"
	}
	return strings.ToLower(string(status))
}
