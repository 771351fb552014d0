package port

import (
	"context"
	"errors"

	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
)

// OrgSnapshotProvider loads a read-only view of the org chart
type OrgSnapshotProvider interface {
	Snapshot(ctx context.Context) (*entity.OrgSnapshot, error)
}

// ErrUndeliverable is wrapped by sinks when retrying cannot help,
// for example a recipient without an address on the channel
var ErrUndeliverable = errors.New("notification is undeliverable")

// NotificationSink delivers one notification to its recipient
type NotificationSink interface {
	Name() string
	Deliver(ctx context.Context, n *entity.Notification, recipient *entity.User) error
}

// SignatureWriter stamps a signature into a spreadsheet cell.
// cell is either "Sheet!A1" or "A1" on the first sheet.
type SignatureWriter interface {
	WriteSignature(ctx context.Context, doc []byte, cell, signature string) ([]byte, error)
}

// LogExporter renders an item's audit log as a downloadable file
type LogExporter interface {
	ExportLogs(item *entity.WorkflowItem, logs []entity.LogEntry) ([]byte, error)
	ContentType() string
}

// ConditionEvaluator evaluates rule conditions; see resolver.ConditionEvaluator
type ConditionEvaluator interface {
	EvalBool(expression string, env map[string]any) (bool, error)
}

// DefinitionValidator checks the structure of a workflow definition
type DefinitionValidator interface {
	ValidateDefinition(def *entity.WorkflowDefinition) error
}

// ExpressionChecker compiles an expression without evaluating it
type ExpressionChecker interface {
	Check(expression string) error
}
