package models

import (
	"time"

	"bitbucket.org/mmdatafocus/budget_backend/utils"
)

// Request is a stock request/alert/projection/overview or a budget/forecast
// submission moving through its approval lifecycle.
type Request struct {
	ID            string        `gorm:"primary_key;size:36" json:"id"`
	Kind          RequestKind   `gorm:"size:30;index;not null" json:"kind"`
	Title         string        `gorm:"size:255;not null" json:"title"`
	Quantity      int           `gorm:"default:0" json:"quantity"`
	Urgency       Urgency       `gorm:"size:10;default:medium" json:"urgency"`
	Status        RequestStatus `gorm:"size:30;index;not null" json:"status"`
	CreatedBy     string        `gorm:"size:100;index;not null" json:"created_by"`
	CreatedByRole Role          `gorm:"size:20" json:"created_by_role"`
	CreatedAt     time.Time     `json:"created_at"`
	LastModified  time.Time     `json:"last_modified"`
	WorkflowId    string        `gorm:"size:100;index" json:"workflow_id"`
	CustomerKey   string        `gorm:"size:255" json:"customer_key"`
	ItemKey       string        `gorm:"size:255" json:"item_key"`
	Version       int           `gorm:"not null;default:1" json:"version"`
	Comments      []AuditEntry  `gorm:"foreignKey:RequestID" json:"comments"`
}

type NewRequest struct {
	Kind        RequestKind `json:"kind" validate:"required"`
	Title       string      `json:"title" validate:"required,max=255"`
	Quantity    int         `json:"quantity" validate:"gte=0"`
	Urgency     Urgency     `json:"urgency"`
	WorkflowId  string      `json:"workflow_id" validate:"max=100"`
	CustomerKey string      `json:"customer_key" validate:"max=255"`
	ItemKey     string      `json:"item_key" validate:"max=255"`
	Comment     string      `json:"comment"`
}

type RequestFilter struct {
	Kind       *RequestKind
	Status     *RequestStatus
	CreatedBy  *string
	WorkflowId *string
}

func (f RequestFilter) matches(r *Request) bool {
	if f.Kind != nil && r.Kind != *f.Kind {
		return false
	}
	if f.Status != nil && r.Status != *f.Status {
		return false
	}
	if f.CreatedBy != nil && r.CreatedBy != *f.CreatedBy {
		return false
	}
	if f.WorkflowId != nil && r.WorkflowId != *f.WorkflowId {
		return false
	}
	return true
}

func (input *NewRequest) validate() error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if !input.Kind.IsValid() {
		return utils.NewValidationError("kind", "invalid request kind %q", input.Kind)
	}
	if input.Urgency != "" && !input.Urgency.IsValid() {
		return utils.NewValidationError("urgency", "invalid urgency %q", input.Urgency)
	}
	return nil
}

// Clone copies the request including its audit trail.
func (r *Request) Clone() *Request {
	c := *r
	c.Comments = append([]AuditEntry(nil), r.Comments...)
	return &c
}
