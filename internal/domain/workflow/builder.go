package workflow

import (
	"fmt"

	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
)

// LatticeBuilder builds the legal-action table of one workflow definition
type LatticeBuilder interface {
	// Configure returns the configuration for the given status
	Configure(status Status) StatusConfiguration

	// Build creates an immutable lattice from the configured statuses
	Build() Lattice
}

// StatusConfiguration configures the actions permitted in a specific status
type StatusConfiguration interface {
	// Permit makes action legal in the configured status with the given effect
	Permit(action Action, kind entity.ActionKind) StatusConfiguration
}

// statusConfig implements StatusConfiguration
type statusConfig struct {
	status  Status
	actions map[Action]entity.ActionKind
}

// latticeBuilder implements LatticeBuilder
type latticeBuilder struct {
	statuses       statusSet
	configurations map[Status]*statusConfig
}

// lattice implements Lattice
type lattice struct {
	statuses       statusSet
	configurations map[Status]*statusConfig
}

// NewBuilder creates a builder that accepts only the declared statuses
func NewBuilder(statuses ...Status) LatticeBuilder {
	return &latticeBuilder{
		statuses:       newStatusSet(statuses),
		configurations: make(map[Status]*statusConfig),
	}
}

// Configure returns the configuration for the given status
func (b *latticeBuilder) Configure(status Status) StatusConfiguration {
	if !b.statuses.has(status) {
		panic(fmt.Sprintf("undeclared status: %s", status))
	}

	config, exists := b.configurations[status]
	if !exists {
		config = &statusConfig{
			status:  status,
			actions: make(map[Action]entity.ActionKind),
		}
		b.configurations[status] = config
	}

	return config
}

// Build creates an immutable lattice
func (b *latticeBuilder) Build() Lattice {
	// Deep copy so later Configure calls cannot leak into a built lattice
	configsCopy := make(map[Status]*statusConfig, len(b.configurations))
	for status, config := range b.configurations {
		actions := make(map[Action]entity.ActionKind, len(config.actions))
		for a, k := range config.actions {
			actions[a] = k
		}
		configsCopy[status] = &statusConfig{status: status, actions: actions}
	}

	statuses := make(statusSet, len(b.statuses))
	for s := range b.statuses {
		statuses[s] = true
	}

	return &lattice{
		statuses:       statuses,
		configurations: configsCopy,
	}
}

// Permit makes action legal in the configured status
func (c *statusConfig) Permit(action Action, kind entity.ActionKind) StatusConfiguration {
	c.actions[action] = kind
	return c
}

// Declares reports whether status was declared on the lattice
func (l *lattice) Declares(status Status) bool {
	return l.statuses.has(status)
}

// CanFire returns true if action is legal in status
func (l *lattice) CanFire(status Status, action Action) bool {
	config, exists := l.configurations[status]
	if !exists {
		return false
	}
	_, ok := config.actions[action]
	return ok
}

// Fire resolves the effect of action in status
func (l *lattice) Fire(status Status, action Action) (entity.ActionKind, error) {
	if !l.statuses.has(status) {
		return "", fmt.Errorf("%w: %s", ErrUnknownStatus, status)
	}

	config, exists := l.configurations[status]
	if !exists {
		return "", fmt.Errorf("%w: cannot fire %s from status %s (no configuration)", ErrInvalidTransition, action, status)
	}

	kind, ok := config.actions[action]
	if !ok {
		return "", fmt.Errorf("%w: cannot fire %s from status %s", ErrInvalidTransition, action, status)
	}

	return kind, nil
}

// PermittedActions returns the actions legal in status
func (l *lattice) PermittedActions(status Status) []Action {
	config, exists := l.configurations[status]
	if !exists {
		return []Action{}
	}

	actions := make([]Action, 0, len(config.actions))
	for a := range config.actions {
		actions = append(actions, a)
	}

	return actions
}

// FromDefinition builds the lattice of a workflow definition. Unlike Configure it
// reports undeclared statuses as errors, since definitions are admin-supplied data.
func FromDefinition(def *entity.WorkflowDefinition) (Lattice, error) {
	statuses := []Status{Status(def.CompletedStatus), Status(def.RejectedStatus)}
	for _, step := range def.Steps {
		statuses = append(statuses, Status(step.Status))
	}

	b := NewBuilder(statuses...)
	declared := newStatusSet(statuses)
	for _, rule := range def.Transitions {
		if !declared.has(Status(rule.Status)) {
			return nil, fmt.Errorf("%w: transition %s uses status %q", ErrUnknownStatus, rule.Action, rule.Status)
		}
		b.Configure(Status(rule.Status)).Permit(Action(rule.Action), rule.Kind)
	}

	return b.Build(), nil
}
