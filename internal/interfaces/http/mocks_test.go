package http

import (
	"context"

	"github.com/yang123apple/EHS-system-sub002/internal/application/port"
	"github.com/yang123apple/EHS-system-sub002/internal/application/service"
	appwf "github.com/yang123apple/EHS-system-sub002/internal/application/workflow"
	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
	"github.com/yang123apple/EHS-system-sub002/internal/domain/event"
)

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

type mockItemService struct {
	createFunc   func(ctx context.Context, req service.CreateItemRequest) (*appwf.DispatchResult, error)
	actFunc      func(ctx context.Context, req service.ActRequest) (*appwf.DispatchResult, error)
	getFunc      func(ctx context.Context, id int64) (*service.ItemView, error)
	logsFunc     func(ctx context.Context, id int64) ([]entity.LogEntry, error)
	exportFunc   func(ctx context.Context, id int64) ([]byte, string, error)
	uploadFunc   func(ctx context.Context, id int64, fileName string, content []byte) error
	documentFunc func(ctx context.Context, id int64) (*entity.ItemDocument, error)
}

func (m *mockItemService) Create(ctx context.Context, req service.CreateItemRequest) (*appwf.DispatchResult, error) {
	return m.createFunc(ctx, req)
}
func (m *mockItemService) Act(ctx context.Context, req service.ActRequest) (*appwf.DispatchResult, error) {
	return m.actFunc(ctx, req)
}
func (m *mockItemService) Get(ctx context.Context, id int64) (*service.ItemView, error) {
	return m.getFunc(ctx, id)
}
func (m *mockItemService) Logs(ctx context.Context, id int64) ([]entity.LogEntry, error) {
	return m.logsFunc(ctx, id)
}
func (m *mockItemService) ExportLogs(ctx context.Context, id int64) ([]byte, string, error) {
	return m.exportFunc(ctx, id)
}
func (m *mockItemService) UploadDocument(ctx context.Context, id int64, fileName string, content []byte) error {
	return m.uploadFunc(ctx, id, fileName, content)
}
func (m *mockItemService) Document(ctx context.Context, id int64) (*entity.ItemDocument, error) {
	return m.documentFunc(ctx, id)
}

type mockQueryService struct {
	listVisibleFunc func(ctx context.Context, userID string, isAdmin bool, filter port.ItemFilter, page port.Page) (*service.ItemPage, error)
	visible         map[int64]map[string]bool
}

func (m *mockQueryService) ListVisible(ctx context.Context, userID string, isAdmin bool, filter port.ItemFilter, page port.Page) (*service.ItemPage, error) {
	return m.listVisibleFunc(ctx, userID, isAdmin, filter, page)
}
func (m *mockQueryService) CanView(ctx context.Context, userID string, itemID int64, isAdmin bool) (bool, error) {
	return isAdmin || m.visible[itemID][userID], nil
}

type mockDefinitionService struct {
	registerFunc func(ctx context.Context, def *entity.WorkflowDefinition) (*entity.WorkflowDefinition, error)
	latestFunc   func(ctx context.Context, key string) (*entity.WorkflowDefinition, error)
}

func (m *mockDefinitionService) Register(ctx context.Context, def *entity.WorkflowDefinition) (*entity.WorkflowDefinition, error) {
	return m.registerFunc(ctx, def)
}
func (m *mockDefinitionService) Latest(ctx context.Context, key string) (*entity.WorkflowDefinition, error) {
	return m.latestFunc(ctx, key)
}
func (m *mockDefinitionService) Get(ctx context.Context, id int64) (*entity.WorkflowDefinition, error) {
	return nil, service.ErrDefinitionNotFound
}
func (m *mockDefinitionService) List(ctx context.Context) ([]*entity.WorkflowDefinition, error) {
	return nil, nil
}
func (m *mockDefinitionService) Validate(def *entity.WorkflowDefinition) error { return nil }
func (m *mockDefinitionService) SeedFromFile(ctx context.Context, path string) (int, error) {
	return 0, nil
}

type mockVisibilityService struct {
	syncFunc       func(ctx context.Context, itemID int64) error
	rebuildAllFunc func(ctx context.Context, filter service.RebuildFilter, batchSize int) (*service.RebuildStats, error)
}

func (m *mockVisibilityService) Sync(ctx context.Context, itemID int64) error {
	return m.syncFunc(ctx, itemID)
}
func (m *mockVisibilityService) SyncItem(ctx context.Context, item *entity.WorkflowItem) error {
	return nil
}
func (m *mockVisibilityService) RebuildAll(ctx context.Context, filter service.RebuildFilter, batchSize int) (*service.RebuildStats, error) {
	return m.rebuildAllFunc(ctx, filter, batchSize)
}

type mockOrgService struct {
	users       map[string]*entity.User
	deactivated []string
	deleted     []string
}

func (m *mockOrgService) Snapshot(ctx context.Context) (*entity.OrgSnapshot, error) {
	return entity.NewOrgSnapshot(nil, nil), nil
}
func (m *mockOrgService) UpsertUser(ctx context.Context, u *entity.User) error {
	if m.users == nil {
		m.users = map[string]*entity.User{}
	}
	m.users[u.ID] = u
	return nil
}
func (m *mockOrgService) UpsertDepartment(ctx context.Context, d *entity.Department) error {
	return nil
}
func (m *mockOrgService) GetUser(ctx context.Context, id string) (*entity.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, service.ErrUserNotFound
}
func (m *mockOrgService) Deactivate(ctx context.Context, id string) error {
	if _, err := m.GetUser(ctx, id); err != nil {
		return err
	}
	m.deactivated = append(m.deactivated, id)
	return nil
}
func (m *mockOrgService) Delete(ctx context.Context, id string) error {
	if _, err := m.GetUser(ctx, id); err != nil {
		return err
	}
	m.deleted = append(m.deleted, id)
	return nil
}

type mockNotificationService struct {
	listFunc func(ctx context.Context, userID string, page port.Page) ([]*entity.Notification, error)
}

func (m *mockNotificationService) Enqueue(ctx context.Context, itemID int64, logSeq int, payloads []entity.NotificationPayload) error {
	return nil
}
func (m *mockNotificationService) DeliverPending(ctx context.Context) (*service.DeliveryStats, error) {
	return &service.DeliveryStats{}, nil
}
func (m *mockNotificationService) HandleItemEvent(ctx context.Context, itemID int64, evt *event.Event) error {
	return nil
}
func (m *mockNotificationService) ListForUser(ctx context.Context, userID string, page port.Page) ([]*entity.Notification, error) {
	return m.listFunc(ctx, userID, page)
}
