package models

import (
	"time"
)

// AuditEntry is an append-only comment or status change on a request.
// Entries are never edited or deleted.
type AuditEntry struct {
	ID         string         `gorm:"primary_key;size:36" json:"id"`
	RequestID  string         `gorm:"size:36;index;not null" json:"request_id"`
	Author     string         `gorm:"size:100;not null" json:"author"`
	AuthorRole Role           `gorm:"size:20" json:"author_role"`
	Message    string         `gorm:"type:text" json:"message"`
	Timestamp  time.Time      `gorm:"index" json:"timestamp"`
	Type       AuditEntryType `gorm:"size:20;not null" json:"type"`
	FromStatus RequestStatus  `gorm:"size:30" json:"from_status,omitempty"`
	ToStatus   RequestStatus  `gorm:"size:30" json:"to_status,omitempty"`
}

type NewComment struct {
	Type    AuditEntryType `json:"type"`
	Message string         `json:"message" validate:"required"`
}

// entryTypeForTarget is the audit type recorded when moving into target.
func entryTypeForTarget(target RequestStatus) AuditEntryType {
	switch target {
	case RequestStatusApproved:
		return AuditEntryTypeApproval
	case RequestStatusRejected:
		return AuditEntryTypeRejection
	case RequestStatusNeedsAttention:
		return AuditEntryTypeEscalation
	}
	return AuditEntryTypeTransition
}
