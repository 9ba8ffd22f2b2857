package utils

import (
	"errors"
	"fmt"
	"strings"
)

var ErrorRecordNotFound = errors.New("record not found")

// ValidationError reports a payload that cannot be applied: missing keys,
// negative quantities, a percentage outside [0,100].
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field string, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransitionError is returned when the target status is not an
// immediate successor of the current one, or the current status is terminal.
type InvalidTransitionError struct {
	Id   string
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s: %s -> %s", e.Id, e.From, e.To)
}

// NotFoundError wraps ErrorRecordNotFound with the resource that was missing.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Key)
}

func (e *NotFoundError) Unwrap() error {
	return ErrorRecordNotFound
}

func NewNotFoundError(resource string, key string) error {
	return &NotFoundError{Resource: resource, Key: key}
}

// ConservationViolation means a distribution did not sum to its input.
// Unreachable unless the distributor itself is broken.
type ConservationViolation struct {
	Expected int
	Actual   int
}

func (e *ConservationViolation) Error() string {
	return fmt.Sprintf("distribution sums to %d, expected %d", e.Actual, e.Expected)
}

// ConflictError signals a concurrent edit: the stored record moved on since
// the caller read it.
type ConflictError struct {
	Key             string
	ExpectedVersion int
	ActualVersion   int
	LastModifiedBy  string
	Fields          []string
}

func (e *ConflictError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("conflict on %s: fields [%s] last modified by %s (version %d)",
			e.Key, strings.Join(e.Fields, ", "), e.LastModifiedBy, e.ActualVersion)
	}
	return fmt.Sprintf("conflict on %s: expected version %d, stored version %d",
		e.Key, e.ExpectedVersion, e.ActualVersion)
}

// AuthorizationError is returned when an actor's role does not permit the action.
type AuthorizationError struct {
	Actor    string
	Role     string
	Action   string
	Resource string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%s (%s) is not allowed to %s %s", e.Actor, e.Role, e.Action, e.Resource)
}

func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrorRecordNotFound)
}
