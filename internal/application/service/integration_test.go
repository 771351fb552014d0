package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yang123apple/EHS-system-sub002/internal/application/dispatcher"
	"github.com/yang123apple/EHS-system-sub002/internal/application/port"
	appwf "github.com/yang123apple/EHS-system-sub002/internal/application/workflow"
	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
	domainwf "github.com/yang123apple/EHS-system-sub002/internal/domain/workflow"
	"github.com/yang123apple/EHS-system-sub002/internal/infrastructure/persistence/repository"
	"github.com/yang123apple/EHS-system-sub002/internal/infrastructure/persistence/sqlstore"
	"github.com/yang123apple/EHS-system-sub002/pkg/database"
	"github.com/yang123apple/EHS-system-sub002/pkg/database/migrations"
)

// stack is the service graph over a throwaway sqlite file
type stack struct {
	items         ItemService
	org           OrgService
	query         QueryService
	visibility    VisibilityService
	notifications NotificationService
	definitions   DefinitionService
	itemRepo      port.ItemRepository
	visRepo       port.VisibilityRepository
	sink          *recordingSink
}

func newStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()
	zl := zap.NewNop()

	raw, err := database.New(database.Config{
		Driver:       database.DriverSQLite,
		Path:         filepath.Join(t.TempDir(), "ehs.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 2,
	}, zl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	require.NoError(t, database.NewMigrator(raw, zl).RunMigrations(migrations.FS, database.DriverSQLite))

	dialect, err := sqlstore.DialectFor(raw.Driver())
	require.NoError(t, err)
	db := sqlstore.NewDB(raw.DB, dialect, zl)

	logger := &mockLogger{}
	itemRepo := repository.NewItemRepository(db, zl)
	defRepo := repository.NewDefinitionRepository(db, zl)
	visRepo := repository.NewVisibilityRepository(db, zl)
	orgRepo := repository.NewOrgRepository(db, zl)
	sink := &recordingSink{}

	d := dispatcher.NewDispatcher(dispatcher.WithLogger(logger))
	orgSvc := NewOrgService(orgRepo, d, logger)
	visSvc := NewVisibilityService(itemRepo, visRepo, db, 0, logger)
	notifSvc := NewNotificationService(repository.NewNotificationRepository(db, zl), orgRepo, sink, NotificationConfig{BatchSize: 100}, logger)

	deps := ItemServiceDeps{
		ItemRepo:       itemRepo,
		DefinitionRepo: defRepo,
		LogRepo:        repository.NewLogRepository(db, zl),
		DocumentRepo:   repository.NewDocumentRepository(db, zl),
		Org:            orgSvc,
		Engine:         appwf.NewEngine(),
		Notifications:  notifSvc,
		Visibility:     visSvc,
		TxManager:      db,
		Logger:         logger,
	}
	invalidation := NewInvalidationService(deps)
	require.NoError(t, d.OnAccount("invalidation", invalidation.HandleAccountEvent))
	t.Cleanup(func() { _ = d.Close() })

	s := &stack{
		items:         NewItemService(deps),
		org:           orgSvc,
		query:         NewQueryService(itemRepo, visRepo),
		visibility:    visSvc,
		notifications: notifSvc,
		definitions:   NewDefinitionService(defRepo, nil, nil, logger),
		itemRepo:      itemRepo,
		visRepo:       visRepo,
		sink:          sink,
	}

	for _, dept := range []*entity.Department{
		{ID: "root", Name: "Company"},
		{ID: "plant", Name: "Plant", ParentID: "root"},
		{ID: "workshop", Name: "Workshop", ParentID: "plant", ManagerID: "mgr"},
	} {
		require.NoError(t, orgSvc.UpsertDepartment(ctx, dept))
	}
	for _, u := range []*entity.User{
		{ID: "reporter", Name: "Reporter", DepartmentID: "workshop", Active: true},
		{ID: "mgr", Name: "Manager", DepartmentID: "workshop", Roles: []string{"dept_manager"}, Active: true},
		{ID: "ehs1", Name: "EHS One", DepartmentID: "plant", Roles: []string{"ehs_manager"}, Active: true},
		{ID: "off1", Name: "Officer One", DepartmentID: "root", Roles: []string{"safety_officer"}, Active: true},
		{ID: "off2", Name: "Officer Two", DepartmentID: "root", Roles: []string{"safety_officer"}, Active: true},
		{ID: "off3", Name: "Officer Three", DepartmentID: "root", Roles: []string{"safety_officer"}, Active: true},
	} {
		require.NoError(t, orgSvc.UpsertUser(ctx, u))
	}

	_, err = s.definitions.Register(ctx, hazardFlow())
	require.NoError(t, err)
	_, err = s.definitions.Register(ctx, permitFlow())
	require.NoError(t, err)
	return s
}

// assign (ehs manager) -> rectify (responsible person) -> verify (any safety officer)
func hazardFlow() *entity.WorkflowDefinition {
	return &entity.WorkflowDefinition{
		Key:  entity.KindHazard,
		Name: "Hazard",
		Steps: []entity.Step{
			{
				ID:           "assign",
				Name:         "Assignment",
				Status:       "pending_assignment",
				Handlers:     []entity.HandlerStrategy{{Kind: entity.HandlerDeptRole, Role: "ehs_manager"}},
				ApprovalMode: entity.ApprovalModeSingle,
			},
			{
				ID:           "rectify",
				Name:         "Rectification",
				Status:       "rectifying",
				Handlers:     []entity.HandlerStrategy{{Kind: entity.HandlerField, Field: "responsibleId", FieldTarget: entity.FieldTargetUser}},
				ApprovalMode: entity.ApprovalModeSingle,
				Assigns:      entity.RoleResponsible,
				CCRules:      []entity.CCRule{{Kind: entity.CCReporter}},
			},
			{
				ID:           "verify",
				Name:         "Verification",
				Status:       "verifying",
				Handlers:     []entity.HandlerStrategy{{Kind: entity.HandlerRole, Role: "safety_officer"}},
				ApprovalMode: entity.ApprovalModeOr,
				Rollback:     entity.RollbackRule{ToStep: "rectify"},
			},
		},
		Transitions: []entity.TransitionRule{
			{Status: "pending_assignment", Action: "assign", Kind: entity.ActionAdvance},
			{Status: "rectifying", Action: "rectify", Kind: entity.ActionAdvance},
			{Status: "verifying", Action: "verify", Kind: entity.ActionAdvance},
			{Status: "verifying", Action: "reject", Kind: entity.ActionReject},
			{Status: "rejected", Action: "resubmit", Kind: entity.ActionResubmit},
		},
		CompletedStatus: "closed",
		RejectedStatus:  "rejected",
	}
}

// review by every safety officer
func permitFlow() *entity.WorkflowDefinition {
	return &entity.WorkflowDefinition{
		Key:  entity.KindPermit,
		Name: "Hot work permit",
		Steps: []entity.Step{{
			ID:           "review",
			Name:         "Review",
			Status:       "reviewing",
			Handlers:     []entity.HandlerStrategy{{Kind: entity.HandlerRole, Role: "safety_officer"}},
			ApprovalMode: entity.ApprovalModeAnd,
		}},
		Transitions: []entity.TransitionRule{
			{Status: "reviewing", Action: "approve", Kind: entity.ActionAdvance},
			{Status: "reviewing", Action: "reject", Kind: entity.ActionReject},
		},
		CompletedStatus: "approved",
		RejectedStatus:  "rejected",
	}
}

func operator(id string) appwf.Operator {
	return appwf.Operator{UserID: id}
}

func (s *stack) createHazard(t *testing.T) *entity.WorkflowItem {
	t.Helper()
	res, err := s.items.Create(context.Background(), CreateItemRequest{
		Kind:     entity.KindHazard,
		Title:    "Loose guard rail",
		FormData: map[string]any{"responsibleId": "mgr"},
		Operator: operator("reporter"),
	})
	require.NoError(t, err)
	return res.Item
}

func (s *stack) act(t *testing.T, itemID int64, user string, action domainwf.Action) *appwf.DispatchResult {
	t.Helper()
	res, err := s.items.Act(context.Background(), ActRequest{ItemID: itemID, Action: action, Operator: operator(user)})
	require.NoError(t, err)
	return res
}

func (s *stack) canView(t *testing.T, user string, itemID int64) bool {
	t.Helper()
	ok, err := s.query.CanView(context.Background(), user, itemID, false)
	require.NoError(t, err)
	return ok
}

func TestItemLifecycle_Integration(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	item := s.createHazard(t)
	assert.Equal(t, "pending_assignment", item.Status)
	assert.Equal(t, "ehs1", item.ExecutorID)
	assert.True(t, s.canView(t, "reporter", item.ID))
	assert.True(t, s.canView(t, "ehs1", item.ID))
	assert.False(t, s.canView(t, "off1", item.ID))

	s.act(t, item.ID, "ehs1", "assign")
	res := s.act(t, item.ID, "mgr", "rectify")
	assert.Equal(t, "verifying", res.NewStatus)
	assert.Len(t, res.Item.CandidateHandlers, 3)
	assert.True(t, s.canView(t, "off3", item.ID))

	// two officers race for the same OR step
	step := res.NewStepIndex
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		refusals  []error
	)
	for _, user := range []string{"off1", "off2"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			_, err := s.items.Act(ctx, ActRequest{ItemID: item.ID, Action: "verify", StepIndex: &step, Operator: operator(user)})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			refusals = append(refusals, err)
		}(user)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	require.Len(t, refusals, 1)
	assert.ErrorIs(t, refusals[0], domainwf.ErrAlreadyResolved)

	view, err := s.items.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "closed", view.Item.Status)
	assert.Empty(t, view.PermittedActions)

	logs, err := s.items.Logs(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, logs, 4)
	for i, l := range logs {
		assert.Equal(t, i+1, l.Seq)
	}

	// historical handlers keep read access after completion
	assert.True(t, s.canView(t, "ehs1", item.ID))
	assert.True(t, s.canView(t, "mgr", item.ID))
	page, err := s.query.ListVisible(ctx, "mgr", false, port.ItemFilter{}, port.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	_, err = s.notifications.DeliverPending(ctx)
	require.NoError(t, err)
	assert.Contains(t, s.sink.types("reporter"), entity.NotificationItemCompleted)
	assert.Contains(t, s.sink.types("mgr"), entity.NotificationTaskAssigned)
}

func TestOrRaceWithoutStepToken_Integration(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	item := s.createHazard(t)
	s.act(t, item.ID, "ehs1", "assign")
	s.act(t, item.ID, "mgr", "rectify")

	var (
		wg   sync.WaitGroup
		errs = make([]error, 3)
	)
	for i, user := range []string{"off1", "off2", "off3"} {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			_, errs[i] = s.items.Act(ctx, ActRequest{ItemID: item.ID, Action: "verify", Operator: operator(user)})
		}(i, user)
	}
	wg.Wait()

	var successes int
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, domainwf.ErrAlreadyResolved)
	}
	assert.Equal(t, 1, successes)

	// the settled step survives the round trip through the store
	stored, err := s.itemRepo.GetByID(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.SettledStep)
	assert.Equal(t, "verifying", stored.SettledStep.Status)
	assert.ElementsMatch(t, []string{"off1", "off2", "off3"}, stored.SettledStep.UserIDs)
}

func TestAndStep_Integration(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	res, err := s.items.Create(ctx, CreateItemRequest{Kind: entity.KindPermit, Operator: operator("reporter")})
	require.NoError(t, err)
	id := res.Item.ID
	assert.Len(t, res.Item.CandidateHandlers, 3)

	first := s.act(t, id, "off1", "approve")
	assert.False(t, first.Advanced)
	assert.Equal(t, "reviewing", first.NewStatus)

	_, err = s.items.Act(ctx, ActRequest{ItemID: id, Action: "approve", Operator: operator("off1")})
	assert.ErrorIs(t, err, domainwf.ErrAlreadyActed)

	s.act(t, id, "off2", "approve")
	last := s.act(t, id, "off3", "approve")
	assert.True(t, last.Advanced)
	assert.True(t, last.Terminal)
	assert.Equal(t, "approved", last.NewStatus)
}

func TestAct_Refusals_Integration(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	item := s.createHazard(t)

	_, err := s.items.Act(ctx, ActRequest{ItemID: item.ID, Action: "assign", Operator: operator("off1")})
	assert.ErrorIs(t, err, domainwf.ErrNotCandidate)

	_, err = s.items.Act(ctx, ActRequest{ItemID: item.ID, Action: "verify", Operator: operator("ehs1")})
	assert.ErrorIs(t, err, domainwf.ErrInvalidTransition)

	_, err = s.items.Act(ctx, ActRequest{ItemID: 9999, Action: "assign", Operator: operator("ehs1")})
	assert.ErrorIs(t, err, ErrItemNotFound)

	logs, err := s.items.Logs(ctx, item.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 1, "refused dispatches leave no trace")
}

func TestDeactivation_RejectsSingleHandlerItems(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	item := s.createHazard(t)

	require.NoError(t, s.org.Deactivate(ctx, "ehs1"))

	view, err := s.items.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "rejected", view.Item.Status)
	assert.Empty(t, view.Item.ExecutorID)

	logs, err := s.items.Logs(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, appwf.LogActionInvalidate, logs[len(logs)-1].Action)

	_, err = s.notifications.DeliverPending(ctx)
	require.NoError(t, err)
	assert.Contains(t, s.sink.types("reporter"), entity.NotificationHandlerInvalidated)

	ids, err := s.itemRepo.ActiveIDsForUser(ctx, "ehs1")
	require.NoError(t, err)
	assert.Empty(t, ids)

	// the executor role of the departed account goes with the next sync
	require.NoError(t, s.visibility.Sync(ctx, item.ID))
	assert.False(t, s.canView(t, "ehs1", item.ID))
	assert.True(t, s.canView(t, "reporter", item.ID))

	// the creator may start over once a handler exists again
	require.NoError(t, s.org.UpsertUser(ctx, &entity.User{ID: "ehs2", Name: "EHS Two", DepartmentID: "plant", Roles: []string{"ehs_manager"}, Active: true}))
	res := s.act(t, item.ID, "reporter", "resubmit")
	assert.Equal(t, "pending_assignment", res.NewStatus)
	assert.Equal(t, "ehs2", res.Item.ExecutorID)
}

func TestDeactivation_PrunesOrCandidates(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	item := s.createHazard(t)
	s.act(t, item.ID, "ehs1", "assign")
	s.act(t, item.ID, "mgr", "rectify")

	require.NoError(t, s.org.Deactivate(ctx, "off3"))

	view, err := s.items.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "verifying", view.Item.Status)
	require.Len(t, view.Item.CandidateHandlers, 2)
	assert.False(t, s.canView(t, "off3", item.ID))

	s.act(t, item.ID, "off1", "verify")
}

func TestVisibilityRebuild_Integration(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	a := s.createHazard(t)
	b := s.createHazard(t)

	require.NoError(t, s.itemRepo.SetVisibilityStale(ctx, b.ID, true))

	stats, err := s.visibility.RebuildAll(ctx, RebuildFilter{StaleOnly: true}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Scanned)
	assert.Equal(t, 1, stats.Synced)

	stats, err = s.visibility.RebuildAll(ctx, RebuildFilter{}, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Synced)
	assert.Zero(t, stats.Failed)

	// rebuilding is idempotent
	assert.True(t, s.canView(t, "ehs1", a.ID))
	assert.True(t, s.canView(t, "ehs1", b.ID))
	page, err := s.query.ListVisible(ctx, "reporter", false, port.ItemFilter{Role: entity.RoleCreator}, port.Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}

func TestVisibilitySync_Twice(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	item := s.createHazard(t)
	s.act(t, item.ID, "ehs1", "assign")

	require.NoError(t, s.visibility.Sync(ctx, item.ID))
	first, err := s.visRepo.ListByItem(ctx, item.ID)
	require.NoError(t, err)

	require.NoError(t, s.visibility.Sync(ctx, item.ID))
	second, err := s.visRepo.ListByItem(ctx, item.ID)
	require.NoError(t, err)

	assert.ElementsMatch(t, first, second)
	assert.ElementsMatch(t, []entity.ItemVisibility{
		{ItemID: item.ID, UserID: "reporter", Role: entity.RoleCreator},
		{ItemID: item.ID, UserID: "ehs1", Role: entity.RoleExecutor},
		{ItemID: item.ID, UserID: "mgr", Role: entity.RoleExecutor},
		{ItemID: item.ID, UserID: "mgr", Role: entity.RoleCandidate},
		{ItemID: item.ID, UserID: "mgr", Role: entity.RoleResponsible},
	}, second)
}

func TestCanView_Admin(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	item := s.createHazard(t)

	tests := []struct {
		name   string
		itemID int64
		want   bool
	}{
		{"existing item outside the index", item.ID, true},
		{"missing item", 99999, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := s.query.CanView(ctx, "auditor", tt.itemID, true)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}
