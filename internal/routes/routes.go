// internal/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pulsepal-service/internal/auth"
	"pulsepal-service/internal/config"
	"pulsepal-service/internal/handler"
	"pulsepal-service/internal/middleware"
	"pulsepal-service/internal/service"
	"pulsepal-service/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config          *config.Config
	logger          *zap.Logger
	pulsePalService *service.PulsePalService
	eventBus        *handler.EventBus

	healthHandler *handler.HealthHandler
	tokens        *auth.TokenManager
}

// NewRouter creates a new router instance
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	pulsePalService *service.PulsePalService,
	eventBus *handler.EventBus,
) (*Router, error) {
	r := &Router{
		config:          config,
		logger:          logger,
		pulsePalService: pulsePalService,
		eventBus:        eventBus,
		healthHandler:   handler.NewHealthHandler(pulsePalService, config, logger),
	}
	if config.Auth.Enabled() {
		tokens, err := auth.NewTokenManager(config.Auth)
		if err != nil {
			return nil, err
		}
		r.tokens = tokens
	}
	return r, nil
}

// Health returns the health handler so shutdown can fail readiness first
func (r *Router) Health() *handler.HealthHandler {
	return r.healthHandler
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else if r.config.App.Environment == "test" {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	// Port names such as /dev/ttyACM0 arrive path-escaped in :name
	router.UseRawPath = true
	router.UnescapePathValues = true

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Server))

	r.logger.Info("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	deviceHandler := handler.NewDeviceHandler(r.pulsePalService, r.logger)
	wsHandler := handler.NewWebSocketHandler(r.pulsePalService, r.config.Server.AllowedOrigins, r.logger)
	if r.eventBus != nil {
		wsHandler.ForwardEvents(r.eventBus)
	}

	// Health check routes
	r.healthHandler.RegisterRoutes(router.Group(""))

	api := router.Group("/api/v1")
	ws := router.Group("/ws")
	if r.tokens != nil {
		api.Use(middleware.AuthMiddleware(r.tokens, r.logger))
		ws.Use(middleware.AuthMiddleware(r.tokens, r.logger))
	}

	// API v1 routes
	deviceHandler.RegisterRoutes(api)

	// WebSocket routes
	wsHandler.RegisterRoutes(ws)

	r.logger.Info("All routes configured successfully")
}
