package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yang123apple/EHS-system-sub002/internal/application/port"
	"github.com/yang123apple/EHS-system-sub002/internal/application/service"
	appwf "github.com/yang123apple/EHS-system-sub002/internal/application/workflow"
	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
	domainwf "github.com/yang123apple/EHS-system-sub002/internal/domain/workflow"
)

var testAuth = AuthConfig{JWTSecret: "test-secret", Issuer: "ehs"}

type testEnv struct {
	server  *Server
	items   *mockItemService
	queries *mockQueryService
	defs    *mockDefinitionService
	vis     *mockVisibilityService
	org     *mockOrgService
	notes   *mockNotificationService
	healthy bool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		items:   &mockItemService{},
		queries: &mockQueryService{visible: map[int64]map[string]bool{}},
		defs:    &mockDefinitionService{},
		vis:     &mockVisibilityService{},
		org:     &mockOrgService{},
		notes:   &mockNotificationService{},
		healthy: true,
	}
	health := func(ctx context.Context) (bool, interface{}) {
		return env.healthy, map[string]bool{"database": env.healthy}
	}
	env.server = NewServer(DefaultServerConfig(), testAuth, Services{
		Items:         env.items,
		Queries:       env.queries,
		Definitions:   env.defs,
		Visibility:    env.vis,
		Org:           env.org,
		Notifications: env.notes,
	}, health, &mockLogger{})
	return env
}

func token(t *testing.T, userID string, admin bool) string {
	t.Helper()
	tok, err := GenerateToken(testAuth, userID, "Name of "+userID, admin)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, tok string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	env.healthy = false
	w = env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.False(t, decode(t, w).Success)
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/notifications", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/api/notifications", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	forged, err := GenerateToken(AuthConfig{JWTSecret: "other", Issuer: "ehs"}, "u1", "U1", true)
	require.NoError(t, err)
	w = env.do(t, http.MethodGet, "/api/notifications", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateItem_UsesTokenIdentity(t *testing.T) {
	env := newTestEnv(t)
	var got service.CreateItemRequest
	env.items.createFunc = func(ctx context.Context, req service.CreateItemRequest) (*appwf.DispatchResult, error) {
		got = req
		return &appwf.DispatchResult{
			Item:      &entity.WorkflowItem{ID: 11, Kind: req.Kind, Status: "assigning"},
			Action:    domainwf.Action("submit"),
			NewStatus: "assigning",
			Advanced:  true,
		}, nil
	}

	w := env.do(t, http.MethodPost, "/api/items", token(t, "u1", false), map[string]any{
		"kind":      "hazard",
		"title":     "Oil leak",
		"form_data": map[string]any{"location": "B2"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	assert.Equal(t, "u1", got.Operator.UserID)
	assert.Equal(t, "Name of u1", got.Operator.UserName)
	assert.Equal(t, "B2", got.FormData["location"])

	resp := decode(t, w)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "assigning", data["new_status"])
}

func TestAct_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not candidate", &domainwf.DispatchError{Kind: domainwf.ErrNotCandidate, ItemID: 5}, http.StatusForbidden},
		{"already resolved", &domainwf.DispatchError{Kind: domainwf.ErrAlreadyResolved, ItemID: 5}, http.StatusConflict},
		{"already acted", &domainwf.DispatchError{Kind: domainwf.ErrAlreadyActed, ItemID: 5}, http.StatusConflict},
		{"invalid transition", &domainwf.DispatchError{Kind: domainwf.ErrInvalidTransition, ItemID: 5}, http.StatusConflict},
		{"no handler", &domainwf.DispatchError{Kind: domainwf.ErrNoHandlerResolved, ItemID: 5}, http.StatusUnprocessableEntity},
		{"concurrent", port.ErrConcurrentModification, http.StatusConflict},
		{"not found", service.ErrItemNotFound, http.StatusNotFound},
		{"bad input", service.ErrInvalidInput, http.StatusBadRequest},
		{"internal", assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.items.actFunc = func(ctx context.Context, req service.ActRequest) (*appwf.DispatchResult, error) {
				assert.Equal(t, int64(5), req.ItemID)
				return nil, tt.err
			}

			w := env.do(t, http.MethodPost, "/api/items/5/actions", token(t, "m1", false), map[string]any{"action": "approve"})
			assert.Equal(t, tt.status, w.Code)

			resp := decode(t, w)
			assert.False(t, resp.Success)
			if tt.status == http.StatusInternalServerError {
				assert.NotContains(t, resp.Error, assert.AnError.Error())
			}
		})
	}
}

func TestAct_DispatchErrorDetails(t *testing.T) {
	env := newTestEnv(t)
	env.items.actFunc = func(ctx context.Context, req service.ActRequest) (*appwf.DispatchResult, error) {
		return nil, &domainwf.DispatchError{Kind: domainwf.ErrAlreadyResolved, ItemID: 5, StepIndex: 2, Action: req.Action, Reason: "settled by s2"}
	}

	w := env.do(t, http.MethodPost, "/api/items/5/actions", token(t, "s1", false), map[string]any{"action": "verify", "step_index": 2})
	require.Equal(t, http.StatusConflict, w.Code)

	data := decode(t, w).Data.(map[string]any)
	assert.Equal(t, domainwf.ErrAlreadyResolved.Error(), data["kind"])
	assert.Equal(t, float64(2), data["step_index"])
	assert.Equal(t, "settled by s2", data["reason"])
}

func TestGetItem_HidesInvisibleItems(t *testing.T) {
	env := newTestEnv(t)
	env.queries.visible[7] = map[string]bool{"u1": true}
	env.items.getFunc = func(ctx context.Context, id int64) (*service.ItemView, error) {
		return &service.ItemView{Item: &entity.WorkflowItem{ID: id}}, nil
	}

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/items/7", token(t, "u1", false), nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/items/7", token(t, "u2", false), nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/items/7", token(t, "admin", true), nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/items/abc", token(t, "u1", false), nil).Code)
}

func TestListItems_PassesFilter(t *testing.T) {
	env := newTestEnv(t)
	var gotFilter port.ItemFilter
	var gotPage port.Page
	env.queries.listVisibleFunc = func(ctx context.Context, userID string, isAdmin bool, filter port.ItemFilter, page port.Page) (*service.ItemPage, error) {
		assert.Equal(t, "u1", userID)
		gotFilter, gotPage = filter, page
		return &service.ItemPage{Items: []*entity.WorkflowItem{}, Limit: page.Limit}, nil
	}

	w := env.do(t, http.MethodGet, "/api/items?kind=hazard&role=cc&limit=5&offset=10", token(t, "u1", false), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, port.ItemFilter{Kind: "hazard", Role: entity.RoleCC}, gotFilter)
	assert.Equal(t, port.Page{Limit: 5, Offset: 10}, gotPage)

	w = env.do(t, http.MethodGet, "/api/items?role=boss", token(t, "u1", false), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportLogs(t *testing.T) {
	env := newTestEnv(t)
	env.queries.visible[3] = map[string]bool{"u1": true}
	env.items.exportFunc = func(ctx context.Context, id int64) ([]byte, string, error) {
		return []byte("xlsx-bytes"), xlsxContentType, nil
	}

	w := env.do(t, http.MethodGet, "/api/items/3/logs/export", token(t, "u1", false), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "item-3-logs.xlsx")
	assert.Equal(t, "xlsx-bytes", w.Body.String())
}

func TestUploadDocument(t *testing.T) {
	env := newTestEnv(t)
	env.queries.visible[4] = map[string]bool{"u1": true}
	var stored []byte
	env.items.uploadFunc = func(ctx context.Context, id int64, fileName string, content []byte) error {
		assert.Equal(t, "permit.xlsx", fileName)
		stored = content
		return nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "permit.xlsx")
	require.NoError(t, err)
	_, _ = part.Write([]byte("workbook"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPut, "/api/items/4/document", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token(t, "u1", false))
	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []byte("workbook"), stored)
}

func TestAdminRoutes_RequireAdminClaim(t *testing.T) {
	env := newTestEnv(t)
	var gotFilter service.RebuildFilter
	env.vis.rebuildAllFunc = func(ctx context.Context, filter service.RebuildFilter, batchSize int) (*service.RebuildStats, error) {
		gotFilter = filter
		return &service.RebuildStats{Scanned: 3, Synced: 3}, nil
	}

	w := env.do(t, http.MethodPost, "/api/admin/visibility/rebuild", token(t, "u1", false), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/api/admin/visibility/rebuild", token(t, "root", true), map[string]any{"stale_only": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gotFilter.StaleOnly)
}

func TestAdminOrgEndpoints(t *testing.T) {
	env := newTestEnv(t)
	admin := token(t, "root", true)

	w := env.do(t, http.MethodPut, "/api/admin/org/users/u9", admin, map[string]any{"name": "Nine", "department_id": "d1", "roles": []string{"safety_officer"}})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, env.org.users, "u9")
	assert.True(t, env.org.users["u9"].Active, "active defaults to true")

	w = env.do(t, http.MethodPut, "/api/admin/org/users/u10", admin, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code, "name is required")

	w = env.do(t, http.MethodPost, "/api/admin/org/users/u9/deactivate", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"u9"}, env.org.deactivated)

	w = env.do(t, http.MethodDelete, "/api/admin/org/users/nobody", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegisterDefinition_InvalidIsUnprocessable(t *testing.T) {
	env := newTestEnv(t)
	env.defs.registerFunc = func(ctx context.Context, def *entity.WorkflowDefinition) (*entity.WorkflowDefinition, error) {
		return nil, service.ErrInvalidDefinition
	}

	w := env.do(t, http.MethodPost, "/api/admin/definitions", token(t, "root", true), map[string]any{"key": "x"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
