package workflow

import (
	"errors"
	"time"

	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
	"github.com/yang123apple/EHS-system-sub002/internal/domain/resolver"
	domainwf "github.com/yang123apple/EHS-system-sub002/internal/domain/workflow"
)

// ErrNotAffected is returned by Invalidate when the account holds no active role on the item
var ErrNotAffected = errors.New("item not affected by account invalidation")

// Engine is the dispatch state machine. Every method is a pure computation over
// its inputs: nothing is loaded or persisted, and the input item is never mutated.
type Engine interface {
	// Open computes the state of a newly submitted item: step 0 with its handlers resolved
	Open(req OpenRequest) (*DispatchResult, error)

	// Dispatch applies one action to an item
	Dispatch(req DispatchRequest) (*DispatchResult, error)

	// Invalidate removes a deactivated account from an item, force-rejecting it when
	// the account was the one blocking progress
	Invalidate(req InvalidateRequest) (*DispatchResult, error)

	// PermittedActions lists the actions legal in the item's current status
	PermittedActions(item *entity.WorkflowItem, def *entity.WorkflowDefinition) ([]domainwf.Action, error)
}

// Operator is the actor of a dispatch
type Operator struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	IsAdmin  bool   `json:"is_admin"`
	System   bool   `json:"system"`
}

// SystemOperator is the actor used for engine-initiated transitions
func SystemOperator() Operator {
	return Operator{UserID: entity.SystemOperatorID, UserName: "System", System: true}
}

// OpenRequest carries a new submission
type OpenRequest struct {
	Item       *entity.WorkflowItem
	Definition *entity.WorkflowDefinition
	Org        *entity.OrgSnapshot
	Operator   Operator
	Comment    string
	Now        time.Time
}

// DispatchRequest carries one action against the current item state
type DispatchRequest struct {
	Item        *entity.WorkflowItem
	Definition  *entity.WorkflowDefinition
	Org         *entity.OrgSnapshot
	Operator    Operator
	Action      domainwf.Action
	Comment     string
	FormChanges map[string]any

	// StepIndex is the step the operator saw when deciding to act. When set and
	// the item has moved on, the action is refused with ErrAlreadyResolved.
	StepIndex *int

	Now time.Time
}

// InvalidateRequest removes UserID from the item's active participants
type InvalidateRequest struct {
	Item       *entity.WorkflowItem
	Definition *entity.WorkflowDefinition
	Org        *entity.OrgSnapshot
	UserID     string
	Now        time.Time
}

// DispatchResult is the outcome of a transition. Item holds the complete next state;
// the remaining fields summarize what changed for callers and the audit trail.
type DispatchResult struct {
	Item              *entity.WorkflowItem
	Action            domainwf.Action
	Kind              entity.ActionKind
	PreviousStatus    string
	NewStatus         string
	PreviousStepIndex int
	NewStepIndex      int

	// Advanced is false for partial AND approvals and annotations
	Advanced bool
	Terminal bool

	Handlers  []entity.UserRef
	MatchedBy entity.HandlerKind
	CC        resolver.CCResult

	// SettledStep is the step completed by this dispatch, if any
	SettledStep *entity.Step

	LogEntry      entity.LogEntry
	Notifications []entity.NotificationPayload
}
