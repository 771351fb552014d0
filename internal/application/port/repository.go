package port

import (
	"context"
	"errors"
	"time"

	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
)

// ErrConcurrentModification is returned when an item changed between read and write
var ErrConcurrentModification = errors.New("item was modified concurrently")

// ItemFilter narrows item listings
type ItemFilter struct {
	Kind      string                `json:"kind,omitempty"`
	Status    string                `json:"status,omitempty"`
	Role      entity.VisibilityRole `json:"role,omitempty"`
	StaleOnly bool                  `json:"stale_only,omitempty"`
}

// Page is an offset page request
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// DefinitionRepository defines persistence operations for WorkflowDefinition.
// Definitions are append-only: a change is a new version.
type DefinitionRepository interface {
	// Create stores def as the next version of its key and sets ID and Version
	Create(ctx context.Context, def *entity.WorkflowDefinition) error
	GetByID(ctx context.Context, id int64) (*entity.WorkflowDefinition, error)
	GetLatest(ctx context.Context, key string) (*entity.WorkflowDefinition, error)
	ListLatest(ctx context.Context) ([]*entity.WorkflowDefinition, error)
}

// ItemRepository defines persistence operations for WorkflowItem
type ItemRepository interface {
	Create(ctx context.Context, item *entity.WorkflowItem) error
	GetByID(ctx context.Context, id int64) (*entity.WorkflowItem, error)

	// GetForUpdate reads the item and, where the dialect supports it, locks the row
	// until the surrounding transaction ends
	GetForUpdate(ctx context.Context, id int64) (*entity.WorkflowItem, error)

	// Update writes item if its stored version still equals item.Version, then
	// increments item.Version. Otherwise it returns ErrConcurrentModification.
	Update(ctx context.Context, item *entity.WorkflowItem) error

	SetVisibilityStale(ctx context.Context, id int64, stale bool) error

	// ListIDs pages item ids in ascending order after afterID
	ListIDs(ctx context.Context, filter ItemFilter, afterID int64, limit int) ([]int64, error)

	// List returns every item matching filter, newest first
	List(ctx context.Context, filter ItemFilter, page Page) ([]*entity.WorkflowItem, int, error)

	// ListVisible returns the items userID holds a visibility tuple for
	ListVisible(ctx context.Context, userID string, filter ItemFilter, page Page) ([]*entity.WorkflowItem, int, error)

	// ActiveIDsForUser lists non-terminal items where userID is the executor or a candidate
	ActiveIDsForUser(ctx context.Context, userID string) ([]int64, error)
}

// AuditLogRepository stores the append-only item log
type AuditLogRepository interface {
	// Append stores entry with the next sequence number of its item and sets ID and Seq
	Append(ctx context.Context, entry *entity.LogEntry) error
	ListByItem(ctx context.Context, itemID int64) ([]entity.LogEntry, error)
}

// VisibilityRepository stores the materialized (item, user, role) index
type VisibilityRepository interface {
	// Replace swaps all tuples of itemID for rows
	Replace(ctx context.Context, itemID int64, rows []entity.ItemVisibility) error
	ListByItem(ctx context.Context, itemID int64) ([]entity.ItemVisibility, error)
	Exists(ctx context.Context, itemID int64, userID string) (bool, error)
}

// NotificationRepository is the notification outbox
type NotificationRepository interface {
	// Enqueue stores n unless its delivery key is already present
	Enqueue(ctx context.Context, n *entity.Notification) error
	ListPending(ctx context.Context, limit int) ([]*entity.Notification, error)
	MarkSent(ctx context.Context, id int64, at time.Time) error

	// MarkAttemptFailed records a failed delivery; final moves it out of the pending set
	MarkAttemptFailed(ctx context.Context, id int64, errMsg string, final bool) error
	ListByUser(ctx context.Context, userID string, page Page) ([]*entity.Notification, error)
}

// OrgRepository stores departments and users
type OrgRepository interface {
	UpsertDepartment(ctx context.Context, d *entity.Department) error
	UpsertUser(ctx context.Context, u *entity.User) error
	GetUser(ctx context.Context, id string) (*entity.User, error)
	ListDepartments(ctx context.Context) ([]*entity.Department, error)
	ListUsers(ctx context.Context) ([]*entity.User, error)
	SetUserActive(ctx context.Context, id string, active bool) error
	DeleteUser(ctx context.Context, id string) error
}

// DocumentRepository stores the spreadsheet attached to an item
type DocumentRepository interface {
	Get(ctx context.Context, itemID int64) (*entity.ItemDocument, error)
	Save(ctx context.Context, doc *entity.ItemDocument) error
}

// TransactionManager handles database transactions
type TransactionManager interface {
	// WithTransaction runs fn in a transaction, joining the one already in ctx if any
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// WithSavepoint runs fn so that its failure rolls back only its own writes.
	// It must be called inside WithTransaction.
	WithSavepoint(ctx context.Context, name string, fn func(ctx context.Context) error) error
}
