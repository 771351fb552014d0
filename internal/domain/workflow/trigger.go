package workflow

// Action is an operator command. Definitions decide which actions are legal in which status.
type Action string

// Common action vocabulary shared by the hazard and permit definitions
const (
	ActionSubmit   Action = "submit"
	ActionAssign   Action = "assign"
	ActionRectify  Action = "rectify"
	ActionVerify   Action = "verify"
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionExtend   Action = "extend"
	ActionResubmit Action = "resubmit"
)

// String returns the string representation of the action
func (a Action) String() string {
	return string(a)
}
