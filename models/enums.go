package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

type LineItemKind string

const (
	LineItemKindBudget   LineItemKind = "budget"
	LineItemKindForecast LineItemKind = "forecast"
)

func (k LineItemKind) IsValid() bool {
	return k == LineItemKindBudget || k == LineItemKindForecast
}

func (k *LineItemKind) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("line item kind must be string")
	}
	switch LineItemKind(str) {
	case LineItemKindBudget, LineItemKindForecast:
		*k = LineItemKind(str)
	default:
		return fmt.Errorf("invalid line item kind %q", str)
	}
	return nil
}

type LineItemStatus string

const (
	LineItemStatusDraft     LineItemStatus = "draft"
	LineItemStatusSubmitted LineItemStatus = "submitted"
	LineItemStatusApproved  LineItemStatus = "approved"
	LineItemStatusRejected  LineItemStatus = "rejected"
)

type RequestKind string

const (
	RequestKindBudgetSubmission   RequestKind = "budget_submission"
	RequestKindForecastSubmission RequestKind = "forecast_submission"
	RequestKindStockRequest       RequestKind = "stock_request"
	RequestKindStockAlert         RequestKind = "stock_alert"
	RequestKindStockProjection    RequestKind = "stock_projection"
	RequestKindStockOverview      RequestKind = "stock_overview"
)

func (k RequestKind) IsValid() bool {
	switch k {
	case RequestKindBudgetSubmission, RequestKindForecastSubmission,
		RequestKindStockRequest, RequestKindStockAlert,
		RequestKindStockProjection, RequestKindStockOverview:
		return true
	}
	return false
}

// IsSubmission reports whether the kind follows the submission lifecycle.
func (k RequestKind) IsSubmission() bool {
	return k == RequestKindBudgetSubmission || k == RequestKindForecastSubmission
}

func (k RequestKind) IsStock() bool {
	return k.IsValid() && !k.IsSubmission()
}

type RequestStatus string

const (
	RequestStatusDraft          RequestStatus = "Draft"
	RequestStatusSentToManager  RequestStatus = "SentToManager"
	RequestStatusUnderReview    RequestStatus = "UnderReview"
	RequestStatusApproved       RequestStatus = "Approved"
	RequestStatusRejected       RequestStatus = "Rejected"
	RequestStatusCompleted      RequestStatus = "Completed"
	RequestStatusNeedsAttention RequestStatus = "NeedsAttention"

	RequestStatusSubmitted         RequestStatus = "Submitted"
	RequestStatusInReview          RequestStatus = "InReview"
	RequestStatusSentToSupplyChain RequestStatus = "SentToSupplyChain"
)

func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusCompleted || s == RequestStatusRejected || s == RequestStatusSentToSupplyChain
}

type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

func (u Urgency) IsValid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		return true
	}
	return false
}

type AuditEntryType string

const (
	AuditEntryTypeNote       AuditEntryType = "note"
	AuditEntryTypeApproval   AuditEntryType = "approval"
	AuditEntryTypeRejection  AuditEntryType = "rejection"
	AuditEntryTypeFollowBack AuditEntryType = "followBack"
	AuditEntryTypeTransition AuditEntryType = "transition"
	AuditEntryTypeEscalation AuditEntryType = "escalation"
)

// IsCommentType reports whether a caller may append an entry of this type
// without a status change.
func (t AuditEntryType) IsCommentType() bool {
	switch t {
	case AuditEntryTypeNote, AuditEntryTypeApproval, AuditEntryTypeRejection, AuditEntryTypeFollowBack:
		return true
	}
	return false
}

type ShipmentStatus string

const (
	ShipmentStatusOrdered   ShipmentStatus = "ordered"
	ShipmentStatusShipped   ShipmentStatus = "shipped"
	ShipmentStatusInTransit ShipmentStatus = "in_transit"
	ShipmentStatusArrived   ShipmentStatus = "arrived"
	ShipmentStatusDelayed   ShipmentStatus = "delayed"

	// GitStatusNone is only reported by a summary with no matching shipments.
	GitStatusNone ShipmentStatus = "none"
)

func (s ShipmentStatus) IsValid() bool {
	switch s {
	case ShipmentStatusOrdered, ShipmentStatusShipped, ShipmentStatusInTransit,
		ShipmentStatusArrived, ShipmentStatusDelayed:
		return true
	}
	return false
}

type Role string

const (
	RoleAdmin       Role = "admin"
	RoleManager     Role = "manager"
	RoleSalesman    Role = "salesman"
	RoleSupplyChain Role = "supply_chain"
	RoleViewer      Role = "viewer"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleSalesman, RoleSupplyChain, RoleViewer:
		return true
	}
	return false
}

type VarianceCategory string

const (
	VarianceCategoryMinimal     VarianceCategory = "minimal"
	VarianceCategoryModerate    VarianceCategory = "moderate"
	VarianceCategorySignificant VarianceCategory = "significant"
	VarianceCategoryMajor       VarianceCategory = "major"
)
