package workflow

import "github.com/yang123apple/EHS-system-sub002/internal/domain/entity"

// Lattice is the legal-action table of one workflow definition
type Lattice interface {
	// Declares reports whether status is part of the lattice
	Declares(status Status) bool

	// CanFire returns true if action is legal in status
	CanFire(status Status, action Action) bool

	// Fire resolves what action does in status, or ErrInvalidTransition
	Fire(status Status, action Action) (entity.ActionKind, error)

	// PermittedActions returns all actions legal in status
	PermittedActions(status Status) []Action
}
