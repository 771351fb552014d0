package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/yang123apple/EHS-system-sub002/internal/application/dispatcher"
	"github.com/yang123apple/EHS-system-sub002/internal/application/port"
	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
	"github.com/yang123apple/EHS-system-sub002/internal/domain/event"
)

// OrgService maintains departments and users and provides org snapshots
type OrgService interface {
	port.OrgSnapshotProvider

	UpsertUser(ctx context.Context, u *entity.User) error
	UpsertDepartment(ctx context.Context, d *entity.Department) error
	GetUser(ctx context.Context, id string) (*entity.User, error)

	// Deactivate marks the user inactive and publishes account.deactivated
	Deactivate(ctx context.Context, id string) error

	// Delete removes the user and publishes account.deleted
	Delete(ctx context.Context, id string) error
}

type orgServiceImpl struct {
	orgRepo    port.OrgRepository
	dispatcher dispatcher.Dispatcher
	now        Clock
	logger     Logger
}

// NewOrgService creates a new OrgService
func NewOrgService(orgRepo port.OrgRepository, d dispatcher.Dispatcher, logger Logger) OrgService {
	return &orgServiceImpl{orgRepo: orgRepo, dispatcher: d, now: defaultClock, logger: logger}
}

// Snapshot loads the whole org chart. Callers treat it as read-only for one operation.
func (s *orgServiceImpl) Snapshot(ctx context.Context) (*entity.OrgSnapshot, error) {
	depts, err := s.orgRepo.ListDepartments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}
	users, err := s.orgRepo.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return entity.NewOrgSnapshot(depts, users), nil
}

// UpsertUser creates or replaces a user. Turning an active user inactive goes
// through the same sweep as Deactivate.
func (s *orgServiceImpl) UpsertUser(ctx context.Context, u *entity.User) error {
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	existing, err := s.orgRepo.GetUser(ctx, u.ID)
	if err != nil {
		return fmt.Errorf("failed to load user %s: %w", u.ID, err)
	}

	u.UpdatedAt = s.now()
	if err := s.orgRepo.UpsertUser(ctx, u); err != nil {
		return fmt.Errorf("failed to save user %s: %w", u.ID, err)
	}
	s.logger.Info("User saved", "user_id", u.ID, "active", u.Active)

	if existing != nil && existing.Active && !u.Active {
		return s.publish(ctx, event.TypeAccountDeactivated, u.ID)
	}
	return nil
}

// UpsertDepartment creates or replaces a department
func (s *orgServiceImpl) UpsertDepartment(ctx context.Context, d *entity.Department) error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: department id is required", ErrInvalidInput)
	}
	if d.ParentID == d.ID {
		return fmt.Errorf("%w: department %s cannot be its own parent", ErrInvalidInput, d.ID)
	}
	d.UpdatedAt = s.now()
	if err := s.orgRepo.UpsertDepartment(ctx, d); err != nil {
		return fmt.Errorf("failed to save department %s: %w", d.ID, err)
	}
	return nil
}

// GetUser returns a user or ErrUserNotFound
func (s *orgServiceImpl) GetUser(ctx context.Context, id string) (*entity.User, error) {
	u, err := s.orgRepo.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", id, err)
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// Deactivate marks a user inactive
func (s *orgServiceImpl) Deactivate(ctx context.Context, id string) error {
	if _, err := s.GetUser(ctx, id); err != nil {
		return err
	}
	if err := s.orgRepo.SetUserActive(ctx, id, false); err != nil {
		return fmt.Errorf("failed to deactivate user %s: %w", id, err)
	}
	s.logger.Info("User deactivated", "user_id", id)
	return s.publish(ctx, event.TypeAccountDeactivated, id)
}

// Delete removes a user
func (s *orgServiceImpl) Delete(ctx context.Context, id string) error {
	if _, err := s.GetUser(ctx, id); err != nil {
		return err
	}
	if err := s.orgRepo.DeleteUser(ctx, id); err != nil {
		return fmt.Errorf("failed to delete user %s: %w", id, err)
	}
	s.logger.Info("User deleted", "user_id", id)
	return s.publish(ctx, event.TypeAccountDeleted, id)
}

// the sweep runs synchronously so the caller sees its outcome
func (s *orgServiceImpl) publish(ctx context.Context, t event.Type, userID string) error {
	if s.dispatcher == nil {
		return nil
	}
	if err := s.dispatcher.Publish(ctx, event.NewAccountEvent(t, userID, nil)); err != nil {
		return fmt.Errorf("account sweep for %s failed: %w", userID, err)
	}
	return nil
}
