package models

import "time"

// SubmissionSnapshot holds copies of the line items as they were when
// submitted under WorkflowID. It is written once and never updated.
type SubmissionSnapshot struct {
	WorkflowID  string     `gorm:"primary_key;size:100" json:"workflow_id"`
	SubmittedBy string     `gorm:"size:100;index;not null" json:"submitted_by"`
	SubmittedAt time.Time  `json:"submitted_at"`
	Items       []LineItem `gorm:"serializer:json;type:json" json:"items"`
}

func (s *SubmissionSnapshot) Clone() *SubmissionSnapshot {
	c := *s
	c.Items = append([]LineItem(nil), s.Items...)
	return &c
}
