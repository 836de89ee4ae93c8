// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pulsepal-service/internal/config"
	"pulsepal-service/internal/driver"
	"pulsepal-service/internal/utils"
)

// SessionLister reports the open device sessions.
type SessionLister interface {
	Sessions() []driver.SessionInfo
}

// HealthHandler handles health check requests
type HealthHandler struct {
	sessions  SessionLister
	config    *config.Config
	logger    *utils.ServiceLogger
	startTime time.Time
	draining  atomic.Bool
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(sessions SessionLister, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		sessions:  sessions,
		config:    config,
		logger:    utils.NewServiceLogger(logger, "health-handler"),
		startTime: time.Now(),
	}
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.HealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
}

// SetDraining marks the service as shutting down so readiness fails.
func (h *HealthHandler) SetDraining() {
	h.draining.Store(true)
}

// HealthCheck reports service status and the state of every open session.
// A failed session degrades the status without making the service unhealthy.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startTime).String(),
		Checks:    make(map[string]CheckResult),
	}

	sessions := h.sessions.Sessions()
	failed := make([]string, 0)
	for _, s := range sessions {
		if s.Device != nil && s.Device.Error != "" {
			failed = append(failed, s.Name)
		}
	}

	check := CheckResult{
		Status:  "healthy",
		Message: "Device sessions OK",
		Data: map[string]interface{}{
			"open":   len(sessions),
			"failed": failed,
		},
	}
	if len(failed) > 0 {
		check.Status = "degraded"
		check.Message = "One or more device sessions failed"
		health.Status = "degraded"
		h.logger.Warn("Health check found failed sessions", zap.Strings("devices", failed))
	}
	health.Checks["device_sessions"] = check

	c.JSON(http.StatusOK, health)
}

// ReadinessCheck for Kubernetes readiness probe
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if h.draining.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "shutting down",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// LivenessCheck for Kubernetes liveness probe
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	// Simple liveness check - service is alive if it can respond
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
