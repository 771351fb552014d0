package workflow

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
	"github.com/yang123apple/EHS-system-sub002/internal/domain/resolver"
)

// Log actions that do not come from the definition's action vocabulary
const (
	LogActionCreate          = "create"
	LogActionInvalidate      = "invalidate"
	LogActionRemoveCandidate = "remove_candidate"
)

// transition is everything the emitter needs to describe one state change
type transition struct {
	before      *entity.WorkflowItem
	after       *entity.WorkflowItem
	def         *entity.WorkflowDefinition
	operator    Operator
	action      string
	kind        entity.ActionKind
	comment     string
	changes     []string
	handlers    []entity.UserRef
	cc          resolver.CCResult
	advanced    bool
	terminal    bool
	invalidated string
	now         time.Time
}

// Emitter builds the audit log entry and the notification payloads of a transition.
// It performs no I/O; persisting and delivering is left to the caller.
type Emitter struct{}

// NewEmitter creates an emitter
func NewEmitter() *Emitter {
	return &Emitter{}
}

func (e *Emitter) emit(t transition) (entity.LogEntry, []entity.NotificationPayload) {
	return e.logEntry(t), e.notifications(t)
}

func (e *Emitter) logEntry(t transition) entity.LogEntry {
	var lines []string
	if t.comment != "" {
		lines = append(lines, t.comment)
	}
	lines = append(lines, t.changes...)
	if t.before.Status != t.after.Status {
		lines = append(lines, fmt.Sprintf("status: %s -> %s", t.before.Status, t.after.Status))
	}
	if len(t.handlers) > 0 {
		lines = append(lines, "handlers: "+strings.Join(refNames(t.handlers), ", "))
	}
	if t.invalidated != "" {
		lines = append(lines, "invalidated account: "+t.invalidated)
	}

	stepIndex := t.before.CurrentStepIndex
	if t.action == LogActionCreate {
		stepIndex = t.after.CurrentStepIndex
	}

	return entity.LogEntry{
		ItemID:          t.after.ID,
		StepIndex:       stepIndex,
		OperatorID:      t.operator.UserID,
		OperatorName:    t.operator.UserName,
		Action:          t.action,
		Timestamp:       t.now,
		FreeTextChanges: strings.Join(lines, "\n"),
		CCUserNames:     t.cc.UserNames,
	}
}

func (e *Emitter) notifications(t transition) []entity.NotificationPayload {
	var out []entity.NotificationPayload
	seen := make(map[string]bool)
	add := func(p entity.NotificationPayload) {
		// nobody is told about their own action
		if p.UserID == "" || p.UserID == t.operator.UserID {
			return
		}
		key := p.UserID + "|" + p.Type
		if seen[key] {
			return
		}
		seen[key] = true
		p.RelatedItemID = t.after.ID
		out = append(out, p)
	}

	title := itemTitle(t.after)

	if t.invalidated != "" {
		add(entity.NotificationPayload{
			UserID:  t.after.CreatorID,
			Type:    entity.NotificationHandlerInvalidated,
			Title:   "Handler unavailable: " + title,
			Content: "The assigned handler's account no longer exists; please resubmit.",
		})
		return out
	}

	switch t.kind {
	case entity.ActionReject:
		content := fmt.Sprintf("%s was rejected by %s", title, t.operator.UserName)
		if t.comment != "" {
			content += ": " + t.comment
		}
		add(entity.NotificationPayload{
			UserID:  t.after.CreatorID,
			Type:    entity.NotificationItemRejected,
			Title:   "Rejected: " + title,
			Content: content,
		})
		// the rollback step is resolved lazily; tell whoever the item already names for it
		if !t.terminal {
			if id := assignedUser(t.after, &t.def.Steps[t.after.CurrentStepIndex]); id != "" {
				add(entity.NotificationPayload{
					UserID:  id,
					Type:    entity.NotificationItemRejected,
					Title:   "Returned to you: " + title,
					Content: content,
				})
			}
		}
		return out
	case entity.ActionAnnotate:
		return out
	}

	if !t.advanced {
		return out
	}

	if t.terminal {
		add(entity.NotificationPayload{
			UserID:  t.after.CreatorID,
			Type:    entity.NotificationItemCompleted,
			Title:   "Completed: " + title,
			Content: fmt.Sprintf("%s reached %s", title, t.after.Status),
		})
		return out
	}

	stepName := t.def.Steps[t.after.CurrentStepIndex].Name
	for _, h := range t.handlers {
		add(entity.NotificationPayload{
			UserID:  h.UserID,
			Type:    entity.NotificationTaskAssigned,
			Title:   "New task: " + title,
			Content: fmt.Sprintf("%s is waiting for you at step %s", title, stepName),
		})
	}
	for _, id := range t.cc.UserIDs {
		add(entity.NotificationPayload{
			UserID:  id,
			Type:    entity.NotificationCC,
			Title:   "For your information: " + title,
			Content: fmt.Sprintf("%s entered step %s", title, stepName),
		})
	}
	return out
}

func itemTitle(item *entity.WorkflowItem) string {
	if item.Title != "" {
		return item.Title
	}
	return fmt.Sprintf("%s #%d", item.Kind, item.ID)
}

func assignedUser(item *entity.WorkflowItem, step *entity.Step) string {
	switch step.Assigns {
	case entity.RoleResponsible:
		return item.ResponsibleID
	case entity.RoleVerifier:
		return item.VerifierID
	}
	return ""
}

func refNames(refs []entity.UserRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		name := r.UserName
		if name == "" {
			name = r.UserID
		}
		out = append(out, name)
	}
	return out
}

// mergeForm applies changes onto form and describes each modified field, sorted by key
func mergeForm(form map[string]any, changes map[string]any) []string {
	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var lines []string
	for _, k := range keys {
		old, had := form[k]
		v := changes[k]
		if had && reflect.DeepEqual(old, v) {
			continue
		}
		form[k] = v
		if had {
			lines = append(lines, fmt.Sprintf("%s: %v -> %v", k, old, v))
		} else {
			lines = append(lines, fmt.Sprintf("%s: %v", k, v))
		}
	}
	return lines
}
