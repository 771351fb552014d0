package entity

import "time"

// HandlerKind selects a handler resolution strategy
type HandlerKind string

const (
	HandlerFixedUser HandlerKind = "fixed_user"
	HandlerCreator   HandlerKind = "creator"
	HandlerDeptRole  HandlerKind = "dept_role"
	HandlerField     HandlerKind = "field"
	HandlerRole      HandlerKind = "role"
)

// Priority orders strategies when a step declares fallbacks. Lower runs first.
func (k HandlerKind) Priority() int {
	switch k {
	case HandlerFixedUser:
		return 0
	case HandlerCreator:
		return 1
	case HandlerDeptRole:
		return 2
	case HandlerField:
		return 3
	case HandlerRole:
		return 4
	default:
		return 99
	}
}

// AnchorKind selects where a department hierarchy walk starts
type AnchorKind string

const (
	AnchorCreator    AnchorKind = "creator"
	AnchorField      AnchorKind = "field"
	AnchorDepartment AnchorKind = "department"
)

// Anchor overrides the department a dept_role walk starts from.
// The zero value anchors on the creator's department.
type Anchor struct {
	Kind         AnchorKind `json:"kind,omitempty" yaml:"kind,omitempty"`
	Field        string     `json:"field,omitempty" yaml:"field,omitempty"`
	DepartmentID string     `json:"department_id,omitempty" yaml:"department_id,omitempty"`
}

// Field targets for the field-driven strategy
const (
	FieldTargetUser       = "user"
	FieldTargetDepartment = "department"
)

// HandlerStrategy is a tagged variant; only the payload fields relevant to Kind are read.
type HandlerStrategy struct {
	Kind        HandlerKind `json:"kind" yaml:"kind"`
	UserID      string      `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Role        string      `json:"role,omitempty" yaml:"role,omitempty"`
	Field       string      `json:"field,omitempty" yaml:"field,omitempty"`
	FieldTarget string      `json:"field_target,omitempty" yaml:"field_target,omitempty"`
	Anchor      Anchor      `json:"anchor,omitempty" yaml:"anchor,omitempty"`
}

// CCKind selects a cc rule
type CCKind string

const (
	CCReporter        CCKind = "reporter"
	CCHandlerDeptRole CCKind = "handler_dept_role"
	CCRole            CCKind = "role"
	CCDeptRole        CCKind = "dept_role"
	CCUser            CCKind = "user"
	CCField           CCKind = "field"
)

// CCRule describes who is informed when an item enters a step
type CCRule struct {
	Kind           CCKind `json:"kind" yaml:"kind"`
	Role           string `json:"role,omitempty" yaml:"role,omitempty"`
	DepartmentID   string `json:"department_id,omitempty" yaml:"department_id,omitempty"`
	UserID         string `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Field          string `json:"field,omitempty" yaml:"field,omitempty"`
	When           string `json:"when,omitempty" yaml:"when,omitempty"`
	IncludeHandler bool   `json:"include_handler,omitempty" yaml:"include_handler,omitempty"`
}

// RollbackRule is the explicit reject target of a step.
// The zero value rolls back to the previous step, or rejects terminally from step 0.
type RollbackRule struct {
	ToStep   string `json:"to_step,omitempty" yaml:"to_step,omitempty"`
	Terminal bool   `json:"terminal,omitempty" yaml:"terminal,omitempty"`
}

// Step is one stage of a workflow definition
type Step struct {
	ID            string            `json:"id" yaml:"id"`
	Name          string            `json:"name" yaml:"name"`
	Status        string            `json:"status" yaml:"status"`
	Handlers      []HandlerStrategy `json:"handlers" yaml:"handlers"`
	ApprovalMode  ApprovalMode      `json:"approval_mode" yaml:"approval_mode"`
	CCRules       []CCRule          `json:"cc_rules,omitempty" yaml:"cc_rules,omitempty"`
	Rollback      RollbackRule      `json:"rollback,omitempty" yaml:"rollback,omitempty"`
	NoHandlerOK   bool              `json:"no_handler_ok,omitempty" yaml:"no_handler_ok,omitempty"`
	Assigns       VisibilityRole    `json:"assigns,omitempty" yaml:"assigns,omitempty"`
	SignatureCell string            `json:"signature_cell,omitempty" yaml:"signature_cell,omitempty"`
}

// ActionKind classifies what an action does to the item
type ActionKind string

const (
	ActionAdvance  ActionKind = "advance"
	ActionReject   ActionKind = "reject"
	ActionResubmit ActionKind = "resubmit"
	ActionAnnotate ActionKind = "annotate"
)

// TransitionRule makes an action legal in a status
type TransitionRule struct {
	Status string     `json:"status" yaml:"status"`
	Action string     `json:"action" yaml:"action"`
	Kind   ActionKind `json:"kind" yaml:"kind"`
}

// WorkflowDefinition is an immutable, versioned workflow configuration
type WorkflowDefinition struct {
	ID              int64            `json:"id" yaml:"-"`
	Key             string           `json:"key" yaml:"key"`
	Version         int              `json:"version" yaml:"-"`
	Name            string           `json:"name" yaml:"name"`
	Steps           []Step           `json:"steps" yaml:"steps"`
	Transitions     []TransitionRule `json:"transitions" yaml:"transitions"`
	CompletedStatus string           `json:"completed_status" yaml:"completed_status"`
	RejectedStatus  string           `json:"rejected_status" yaml:"rejected_status"`
	CreatedAt       time.Time        `json:"created_at" yaml:"-"`
}

// StepIndex returns the index of the step with the given id, or -1
func (d *WorkflowDefinition) StepIndex(id string) int {
	for i, s := range d.Steps {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// LastIndex returns the index of the final step
func (d *WorkflowDefinition) LastIndex() int {
	return len(d.Steps) - 1
}

// IsTerminal reports whether status ends the item's lifecycle
func (d *WorkflowDefinition) IsTerminal(status string) bool {
	return status == d.CompletedStatus || status == d.RejectedStatus
}
