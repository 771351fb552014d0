package http

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yang123apple/EHS-system-sub002/internal/application/port"
	"github.com/yang123apple/EHS-system-sub002/internal/application/service"
	appwf "github.com/yang123apple/EHS-system-sub002/internal/application/workflow"
	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
	domainwf "github.com/yang123apple/EHS-system-sub002/internal/domain/workflow"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handlers contains all HTTP request handlers
type Handlers struct {
	services       Services
	health         HealthFunc
	maxUploadBytes int64
	logger         Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, health HealthFunc, maxUploadBytes int64, logger Logger) *Handlers {
	return &Handlers{
		services:       services,
		health:         health,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Components interface{} `json:"components,omitempty"`
}

// DispatchResponse summarizes a transition for the caller
type DispatchResponse struct {
	Item           *entity.WorkflowItem `json:"item"`
	Action         domainwf.Action      `json:"action"`
	PreviousStatus string               `json:"previous_status,omitempty"`
	NewStatus      string               `json:"new_status"`
	Advanced       bool                 `json:"advanced"`
	Terminal       bool                 `json:"terminal"`
	Handlers       []entity.UserRef     `json:"handlers,omitempty"`
	CCUserNames    []string             `json:"cc_user_names,omitempty"`
	Log            entity.LogEntry      `json:"log"`
}

// ListItemsRequest represents query parameters for listing items
type ListItemsRequest struct {
	Kind      string `form:"kind"`
	Status    string `form:"status"`
	Role      string `form:"role"`
	StaleOnly bool   `form:"stale_only"`
	Limit     int    `form:"limit"`
	Offset    int    `form:"offset"`
}

// PageQuery represents paging query parameters
type PageQuery struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// RebuildRequest is the body of POST /api/admin/visibility/rebuild
type RebuildRequest struct {
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	StaleOnly bool   `json:"stale_only"`
	BatchSize int    `json:"batch_size"`
}

// UserRequest is the body of PUT /api/admin/org/users/:id
type UserRequest struct {
	Name         string   `json:"name" binding:"required"`
	DepartmentID string   `json:"department_id"`
	Roles        []string `json:"roles"`
	Active       *bool    `json:"active"`
	LarkOpenID   string   `json:"lark_open_id"`
}

// DepartmentRequest is the body of PUT /api/admin/org/departments/:id
type DepartmentRequest struct {
	Name      string `json:"name" binding:"required"`
	ParentID  string `json:"parent_id"`
	ManagerID string `json:"manager_id"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	if h.health != nil {
		ok, details := h.health(c.Request.Context())
		resp.Components = details
		if !ok {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, Response{Success: status == http.StatusOK, Data: resp})
}

// CreateItem handles POST /api/items
func (h *Handlers) CreateItem(c *gin.Context) {
	var req service.CreateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	req.Operator = operatorFrom(c)

	res, err := h.services.Items.Create(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, "create item", err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: toDispatchResponse(res)})
}

// ListItems handles GET /api/items
func (h *Handlers) ListItems(c *gin.Context) {
	var req ListItemsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid query parameters")
		return
	}

	role := entity.VisibilityRole(req.Role)
	if role != "" && !role.IsValid() {
		badRequest(c, fmt.Sprintf("unknown role %q", req.Role))
		return
	}

	op := operatorFrom(c)
	page, err := h.services.Queries.ListVisible(c.Request.Context(), op.UserID, op.IsAdmin,
		port.ItemFilter{Kind: req.Kind, Status: req.Status, Role: role, StaleOnly: req.StaleOnly},
		port.Page{Limit: req.Limit, Offset: req.Offset},
	)
	if err != nil {
		h.respondError(c, "list items", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: page})
}

// GetItem handles GET /api/items/:id
func (h *Handlers) GetItem(c *gin.Context) {
	id, ok := h.viewableItem(c)
	if !ok {
		return
	}

	view, err := h.services.Items.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "get item", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: view})
}

// ListLogs handles GET /api/items/:id/logs
func (h *Handlers) ListLogs(c *gin.Context) {
	id, ok := h.viewableItem(c)
	if !ok {
		return
	}

	logs, err := h.services.Items.Logs(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "list logs", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: logs})
}

// ExportLogs handles GET /api/items/:id/logs/export
func (h *Handlers) ExportLogs(c *gin.Context) {
	id, ok := h.viewableItem(c)
	if !ok {
		return
	}

	data, contentType, err := h.services.Items.ExportLogs(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "export logs", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="item-%d-logs.xlsx"`, id))
	c.Data(http.StatusOK, contentType, data)
}

// Act handles POST /api/items/:id/actions
func (h *Handlers) Act(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}

	var req service.ActRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	req.ItemID = id
	req.Operator = operatorFrom(c)

	res, err := h.services.Items.Act(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, "act on item", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: toDispatchResponse(res)})
}

// UploadDocument handles PUT /api/items/:id/document (multipart field "file")
func (h *Handlers) UploadDocument(c *gin.Context) {
	id, ok := h.viewableItem(c)
	if !ok {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "multipart field \"file\" is required")
		return
	}
	if file.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, Response{Success: false, Error: "document too large"})
		return
	}

	f, err := file.Open()
	if err != nil {
		h.respondError(c, "read document", err)
		return
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, h.maxUploadBytes))
	if err != nil {
		h.respondError(c, "read document", err)
		return
	}

	if err := h.services.Items.UploadDocument(c.Request.Context(), id, file.Filename, content); err != nil {
		h.respondError(c, "upload document", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"item_id": id, "file_name": file.Filename, "size": len(content)}})
}

// DownloadDocument handles GET /api/items/:id/document
func (h *Handlers) DownloadDocument(c *gin.Context) {
	id, ok := h.viewableItem(c)
	if !ok {
		return
	}

	doc, err := h.services.Items.Document(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "download document", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, doc.FileName))
	c.Data(http.StatusOK, xlsxContentType, doc.Content)
}

// GetDefinition handles GET /api/definitions/:key
func (h *Handlers) GetDefinition(c *gin.Context) {
	def, err := h.services.Definitions.Latest(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.respondError(c, "get definition", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: def})
}

// ListNotifications handles GET /api/notifications
func (h *Handlers) ListNotifications(c *gin.Context) {
	var q PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "invalid query parameters")
		return
	}

	list, err := h.services.Notifications.ListForUser(c.Request.Context(), operatorFrom(c).UserID, port.Page{Limit: q.Limit, Offset: q.Offset})
	if err != nil {
		h.respondError(c, "list notifications", err)
		return
	}
	if list == nil {
		list = []*entity.Notification{}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: list})
}

// viewableItem parses :id and checks the operator may see the item.
// Items the operator may not see are reported as missing.
func (h *Handlers) viewableItem(c *gin.Context) (int64, bool) {
	id, ok := itemID(c)
	if !ok {
		return 0, false
	}

	op := operatorFrom(c)
	allowed, err := h.services.Queries.CanView(c.Request.Context(), op.UserID, id, op.IsAdmin)
	if err != nil {
		h.respondError(c, "check visibility", err)
		return 0, false
	}
	if !allowed {
		h.respondError(c, "get item", service.ErrItemNotFound)
		return 0, false
	}
	return id, true
}

func itemID(c *gin.Context) (int64, bool) {
	idStr := c.Param("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid item ID")
		return 0, false
	}
	return id, true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg})
}

func toDispatchResponse(res *appwf.DispatchResult) DispatchResponse {
	return DispatchResponse{
		Item:           res.Item,
		Action:         res.Action,
		PreviousStatus: res.PreviousStatus,
		NewStatus:      res.NewStatus,
		Advanced:       res.Advanced,
		Terminal:       res.Terminal,
		Handlers:       res.Handlers,
		CCUserNames:    res.CC.UserNames,
		Log:            res.LogEntry,
	}
}
