package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yang123apple/EHS-system-sub002/internal/application/port"
	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
)

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

type mockNotificationRepo struct {
	enqueueFunc           func(ctx context.Context, n *entity.Notification) error
	listPendingFunc       func(ctx context.Context, limit int) ([]*entity.Notification, error)
	markSentFunc          func(ctx context.Context, id int64, at time.Time) error
	markAttemptFailedFunc func(ctx context.Context, id int64, errMsg string, final bool) error
	listByUserFunc        func(ctx context.Context, userID string, page port.Page) ([]*entity.Notification, error)
}

func (m *mockNotificationRepo) Enqueue(ctx context.Context, n *entity.Notification) error {
	if m.enqueueFunc != nil {
		return m.enqueueFunc(ctx, n)
	}
	return nil
}

func (m *mockNotificationRepo) ListPending(ctx context.Context, limit int) ([]*entity.Notification, error) {
	if m.listPendingFunc != nil {
		return m.listPendingFunc(ctx, limit)
	}
	return nil, nil
}

func (m *mockNotificationRepo) MarkSent(ctx context.Context, id int64, at time.Time) error {
	if m.markSentFunc != nil {
		return m.markSentFunc(ctx, id, at)
	}
	return nil
}

func (m *mockNotificationRepo) MarkAttemptFailed(ctx context.Context, id int64, errMsg string, final bool) error {
	if m.markAttemptFailedFunc != nil {
		return m.markAttemptFailedFunc(ctx, id, errMsg, final)
	}
	return nil
}

func (m *mockNotificationRepo) ListByUser(ctx context.Context, userID string, page port.Page) ([]*entity.Notification, error) {
	if m.listByUserFunc != nil {
		return m.listByUserFunc(ctx, userID, page)
	}
	return nil, nil
}

// mockOrgRepo serves users from a map
type mockOrgRepo struct {
	users map[string]*entity.User
	depts []*entity.Department
}

func (m *mockOrgRepo) UpsertDepartment(ctx context.Context, d *entity.Department) error {
	m.depts = append(m.depts, d)
	return nil
}

func (m *mockOrgRepo) UpsertUser(ctx context.Context, u *entity.User) error {
	if m.users == nil {
		m.users = map[string]*entity.User{}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *mockOrgRepo) GetUser(ctx context.Context, id string) (*entity.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *mockOrgRepo) ListDepartments(ctx context.Context) ([]*entity.Department, error) {
	return m.depts, nil
}

func (m *mockOrgRepo) ListUsers(ctx context.Context) ([]*entity.User, error) {
	out := make([]*entity.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, nil
}

func (m *mockOrgRepo) SetUserActive(ctx context.Context, id string, active bool) error {
	if u, ok := m.users[id]; ok {
		u.Active = active
	}
	return nil
}

func (m *mockOrgRepo) DeleteUser(ctx context.Context, id string) error {
	delete(m.users, id)
	return nil
}

type mockDefinitionRepo struct {
	defs []*entity.WorkflowDefinition
}

func (m *mockDefinitionRepo) Create(ctx context.Context, def *entity.WorkflowDefinition) error {
	version := 1
	for _, d := range m.defs {
		if d.Key == def.Key && d.Version >= version {
			version = d.Version + 1
		}
	}
	def.ID = int64(len(m.defs) + 1)
	def.Version = version
	m.defs = append(m.defs, def)
	return nil
}

func (m *mockDefinitionRepo) GetByID(ctx context.Context, id int64) (*entity.WorkflowDefinition, error) {
	for _, d := range m.defs {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, nil
}

func (m *mockDefinitionRepo) GetLatest(ctx context.Context, key string) (*entity.WorkflowDefinition, error) {
	var latest *entity.WorkflowDefinition
	for _, d := range m.defs {
		if d.Key == key && (latest == nil || d.Version > latest.Version) {
			latest = d
		}
	}
	return latest, nil
}

func (m *mockDefinitionRepo) ListLatest(ctx context.Context) ([]*entity.WorkflowDefinition, error) {
	return m.defs, nil
}

// recordingSink remembers what it delivered and fails for listed users
type recordingSink struct {
	mu        sync.Mutex
	delivered []*entity.Notification
	failFor   map[string]bool
	noAddress map[string]bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(ctx context.Context, n *entity.Notification, recipient *entity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.noAddress[recipient.ID] {
		return fmt.Errorf("user %s: %w", recipient.ID, port.ErrUndeliverable)
	}
	if s.failFor[recipient.ID] {
		return errors.New("sink unavailable")
	}
	s.delivered = append(s.delivered, n)
	return nil
}

func (s *recordingSink) types(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, n := range s.delivered {
		if n.UserID == userID {
			out = append(out, n.Type)
		}
	}
	return out
}
