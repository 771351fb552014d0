package event

// Type identifies the type of domain event
type Type string

const (
	// TypeItemCreated is published after a new item is committed
	TypeItemCreated Type = "item.created"

	// TypeItemTransitioned is published after a dispatch is committed
	TypeItemTransitioned Type = "item.transitioned"

	// TypeAccountDeactivated is published when an org sync marks a user inactive
	TypeAccountDeactivated Type = "account.deactivated"

	// TypeAccountDeleted is published when a user disappears from the org
	TypeAccountDeleted Type = "account.deleted"

	// TypeVisibilityStale is published when an item's visibility sync failed and awaits repair
	TypeVisibilityStale Type = "visibility.stale"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeItemCreated,
		TypeItemTransitioned,
		TypeAccountDeactivated,
		TypeAccountDeleted,
		TypeVisibilityStale:
		return true
	default:
		return false
	}
}

// IsAccountEvent reports whether the event concerns a user account rather than an item
func (t Type) IsAccountEvent() bool {
	return t == TypeAccountDeactivated || t == TypeAccountDeleted
}
