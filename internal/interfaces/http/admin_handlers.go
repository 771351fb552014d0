package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yang123apple/EHS-system-sub002/internal/application/service"
	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
)

// RegisterDefinition handles POST /api/admin/definitions
func (h *Handlers) RegisterDefinition(c *gin.Context) {
	var def entity.WorkflowDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		badRequest(c, "invalid definition body")
		return
	}

	stored, err := h.services.Definitions.Register(c.Request.Context(), &def)
	if err != nil {
		h.respondError(c, "register definition", err)
		return
	}

	h.logger.Info("Definition registered", "key", stored.Key, "version", stored.Version, "by", operatorFrom(c).UserID)
	c.JSON(http.StatusCreated, Response{Success: true, Data: stored})
}

// RebuildVisibility handles POST /api/admin/visibility/rebuild
func (h *Handlers) RebuildVisibility(c *gin.Context) {
	var req RebuildRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}

	stats, err := h.services.Visibility.RebuildAll(c.Request.Context(),
		service.RebuildFilter{Kind: req.Kind, Status: req.Status, StaleOnly: req.StaleOnly},
		req.BatchSize,
	)
	if err != nil {
		h.respondError(c, "rebuild visibility", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: stats})
}

// SyncItem handles POST /api/admin/items/:id/sync
func (h *Handlers) SyncItem(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}

	if err := h.services.Visibility.Sync(c.Request.Context(), id); err != nil {
		h.respondError(c, "sync item", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"item_id": id}})
}

// UpsertUser handles PUT /api/admin/org/users/:id
func (h *Handlers) UpsertUser(c *gin.Context) {
	var req UserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid user body")
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	user := &entity.User{
		ID:           c.Param("id"),
		Name:         req.Name,
		DepartmentID: req.DepartmentID,
		Roles:        req.Roles,
		Active:       active,
		LarkOpenID:   req.LarkOpenID,
	}

	if err := h.services.Org.UpsertUser(c.Request.Context(), user); err != nil {
		h.respondError(c, "upsert user", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: user})
}

// UpsertDepartment handles PUT /api/admin/org/departments/:id
func (h *Handlers) UpsertDepartment(c *gin.Context) {
	var req DepartmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid department body")
		return
	}

	dept := &entity.Department{
		ID:        c.Param("id"),
		Name:      req.Name,
		ParentID:  req.ParentID,
		ManagerID: req.ManagerID,
	}

	if err := h.services.Org.UpsertDepartment(c.Request.Context(), dept); err != nil {
		h.respondError(c, "upsert department", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: dept})
}

// DeactivateUser handles POST /api/admin/org/users/:id/deactivate
func (h *Handlers) DeactivateUser(c *gin.Context) {
	id := c.Param("id")
	if err := h.services.Org.Deactivate(c.Request.Context(), id); err != nil {
		h.respondError(c, "deactivate user", err)
		return
	}

	h.logger.Info("User deactivated", "user_id", id, "by", operatorFrom(c).UserID)
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"user_id": id, "active": false}})
}

// DeleteUser handles DELETE /api/admin/org/users/:id
func (h *Handlers) DeleteUser(c *gin.Context) {
	id := c.Param("id")
	if err := h.services.Org.Delete(c.Request.Context(), id); err != nil {
		h.respondError(c, "delete user", err)
		return
	}

	h.logger.Info("User deleted", "user_id", id, "by", operatorFrom(c).UserID)
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"user_id": id}})
}
