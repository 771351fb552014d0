package entity

// ApprovalMode is the consensus discipline of a step
type ApprovalMode string

const (
	ApprovalModeSingle ApprovalMode = "SINGLE"
	ApprovalModeOr     ApprovalMode = "OR"  // first responder wins
	ApprovalModeAnd    ApprovalMode = "AND" // all candidates must act
)

// IsValid reports whether the mode is one of the known disciplines
func (m ApprovalMode) IsValid() bool {
	switch m {
	case ApprovalModeSingle, ApprovalModeOr, ApprovalModeAnd:
		return true
	default:
		return false
	}
}

// VisibilityRole tags the reason a user may see an item
type VisibilityRole string

const (
	RoleCreator     VisibilityRole = "creator"
	RoleExecutor    VisibilityRole = "executor"
	RoleCC          VisibilityRole = "cc"
	RoleResponsible VisibilityRole = "responsible"
	RoleVerifier    VisibilityRole = "verifier"
	RoleCandidate   VisibilityRole = "candidate"
)

// IsValid reports whether the role is a known visibility role
func (r VisibilityRole) IsValid() bool {
	switch r {
	case RoleCreator, RoleExecutor, RoleCC, RoleResponsible, RoleVerifier, RoleCandidate:
		return true
	default:
		return false
	}
}

// Item kinds shipped with the default definitions
const (
	KindHazard = "hazard"
	KindPermit = "permit"
)

// Notification types
const (
	NotificationTaskAssigned       = "task_assigned"
	NotificationCC                 = "cc"
	NotificationItemCompleted      = "item_completed"
	NotificationItemRejected       = "item_rejected"
	NotificationHandlerInvalidated = "handler_invalidated"
)

// Notification delivery status
const (
	DeliveryPending = "pending"
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
)

// SystemOperatorID is recorded as operator on logs written by the engine itself
const SystemOperatorID = "system"
