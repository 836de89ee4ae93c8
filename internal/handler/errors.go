// internal/handler/errors.go
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"pulsepal-service/internal/driver"
	"pulsepal-service/internal/pulsepal"
	"pulsepal-service/internal/service"
	"pulsepal-service/internal/utils"
)

// statusForError maps device error kinds to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, pulsepal.ErrOutOfRange),
		errors.Is(err, pulsepal.ErrInvalidArgument),
		errors.Is(err, driver.ErrAmbiguousIdentifier):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotConnected):
		return http.StatusNotFound
	case errors.Is(err, service.ErrAlreadyConnected):
		return http.StatusConflict
	case errors.Is(err, pulsepal.ErrProtocol):
		return http.StatusBadGateway
	case errors.Is(err, pulsepal.ErrTransport),
		errors.Is(err, pulsepal.ErrClosed),
		errors.Is(err, pulsepal.ErrNotReady),
		errors.Is(err, driver.ErrManagerClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// deviceError writes the error envelope for a failed device command.
func (h *DeviceHandler) deviceError(c *gin.Context, message string, err error) {
	status := statusForError(err)
	h.logger.LogAPIRequest(c.Request.Method, c.Request.URL.Path, c.Request.UserAgent(), c.ClientIP(), status, 0)
	utils.ErrorResponse(c, status, message, err)
}
