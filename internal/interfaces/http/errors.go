package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yang123apple/EHS-system-sub002/internal/application/port"
	"github.com/yang123apple/EHS-system-sub002/internal/application/service"
	domainwf "github.com/yang123apple/EHS-system-sub002/internal/domain/workflow"
)

// statusFor maps service and engine errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domainwf.ErrNotCandidate):
		return http.StatusForbidden
	case errors.Is(err, domainwf.ErrAlreadyResolved),
		errors.Is(err, domainwf.ErrAlreadyActed),
		errors.Is(err, domainwf.ErrInvalidTransition),
		errors.Is(err, domainwf.ErrUnknownStatus),
		errors.Is(err, port.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, domainwf.ErrNoHandlerResolved),
		errors.Is(err, service.ErrInvalidDefinition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrItemNotFound),
		errors.Is(err, service.ErrDefinitionNotFound),
		errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as a failed Response. Internal errors are logged and masked.
func (h *Handlers) respondError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" failed", "path", c.Request.URL.Path, "error", err)
		msg = op + " failed"
	}

	resp := Response{Success: false, Error: msg}
	var de *domainwf.DispatchError
	if errors.As(err, &de) {
		resp.Data = gin.H{
			"kind":       de.Kind.Error(),
			"item_id":    de.ItemID,
			"step_index": de.StepIndex,
			"action":     de.Action,
			"reason":     de.Reason,
		}
	}
	c.JSON(status, resp)
}
