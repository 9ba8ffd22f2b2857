package models

import (
	"bitbucket.org/mmdatafocus/budget_backend/utils"
)

// Actor is the authenticated caller as supplied by the auth middleware.
type Actor struct {
	Name string `json:"name" validate:"required"`
	Role Role   `json:"role" validate:"required"`
}

type Action string

const (
	ActionRead               Action = "read"
	ActionUpsertLineItem     Action = "upsert_line_item"
	ActionSubmit             Action = "submit"
	ActionCreateRequest      Action = "create_request"
	ActionCreateStockRequest Action = "create_stock_request"
	ActionSendToManager      Action = "send_to_manager"
	ActionReview             Action = "review"
	ActionApprove            Action = "approve"
	ActionReject             Action = "reject"
	ActionComplete           Action = "complete"
	ActionSendToSupplyChain  Action = "send_to_supply_chain"
	ActionEscalate           Action = "escalate"
	ActionComment            Action = "comment"
	ActionBulkAdvance        Action = "bulk_advance"
	ActionRecordShipment     Action = "record_shipment"
	ActionRaiseStockAlert    Action = "raise_stock_alert"
)

// Authorizer makes the allow/deny decision for every state-changing
// operation. A nil error means allowed.
type Authorizer interface {
	Authorize(actor Actor, action Action, resource string) error
}

var salesmanActions = []Action{
	ActionRead,
	ActionUpsertLineItem,
	ActionSubmit,
	ActionCreateRequest,
	ActionCreateStockRequest,
	ActionSendToManager,
	ActionComment,
}

var roleActions = map[Role][]Action{
	RoleViewer:   {ActionRead},
	RoleSalesman: salesmanActions,
	RoleManager: append(append([]Action{}, salesmanActions...),
		ActionReview,
		ActionApprove,
		ActionReject,
		ActionComplete,
		ActionEscalate,
		ActionBulkAdvance,
	),
	RoleSupplyChain: {
		ActionRead,
		ActionCreateStockRequest,
		ActionSendToManager,
		ActionEscalate,
		ActionComment,
		ActionComplete,
		ActionSendToSupplyChain,
		ActionRecordShipment,
		ActionRaiseStockAlert,
	},
}

// RoleAuthorizer is the role table. Admin is allowed everything.
type RoleAuthorizer struct {
	grants map[Role]map[Action]bool
}

func NewRoleAuthorizer() *RoleAuthorizer {
	grants := make(map[Role]map[Action]bool, len(roleActions))
	for role, actions := range roleActions {
		set := make(map[Action]bool, len(actions))
		for _, a := range actions {
			set[a] = true
		}
		grants[role] = set
	}
	return &RoleAuthorizer{grants: grants}
}

func (a *RoleAuthorizer) Allowed(role Role, action Action) bool {
	if role == RoleAdmin {
		return true
	}
	return a.grants[role][action]
}

func (a *RoleAuthorizer) Authorize(actor Actor, action Action, resource string) error {
	if actor.Name == "" || !actor.Role.IsValid() {
		return &utils.AuthorizationError{Actor: actor.Name, Role: string(actor.Role), Action: string(action), Resource: resource}
	}
	if !a.Allowed(actor.Role, action) {
		return &utils.AuthorizationError{Actor: actor.Name, Role: string(actor.Role), Action: string(action), Resource: resource}
	}
	return nil
}

// ActionForTransition maps a target status to the action that moving into it requires.
func ActionForTransition(target RequestStatus) Action {
	switch target {
	case RequestStatusSentToManager:
		return ActionSendToManager
	case RequestStatusUnderReview, RequestStatusInReview:
		return ActionReview
	case RequestStatusApproved:
		return ActionApprove
	case RequestStatusRejected:
		return ActionReject
	case RequestStatusCompleted:
		return ActionComplete
	case RequestStatusSentToSupplyChain:
		return ActionSendToSupplyChain
	case RequestStatusNeedsAttention:
		return ActionEscalate
	}
	return Action("advance_to_" + string(target))
}

func ActionForRequestKind(kind RequestKind) Action {
	switch {
	case kind.IsSubmission():
		return ActionSubmit
	case kind.IsStock():
		return ActionCreateStockRequest
	}
	return ActionCreateRequest
}
