// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"pulsepal-service/internal/config"
	"pulsepal-service/internal/discovery"
	"pulsepal-service/internal/driver"
	"pulsepal-service/internal/handler"
	"pulsepal-service/internal/protocol"
	"pulsepal-service/internal/routes"
	"pulsepal-service/internal/service"
	"pulsepal-service/internal/utils"
)

// Application represents the main application
type Application struct {
	config *config.Config
	logger *zap.Logger
	server *http.Server

	eventBus  *handler.EventBus
	nats      *nats.Conn
	manager   *driver.Manager
	health    *handler.HealthHandler
	announcer *discovery.Announcer

	// Services
	pulsePalService *service.PulsePalService

	stop chan struct{}
}

func main() {
	// Initialize application
	app, err := NewApplication(os.Getenv("PULSEPAL_CONFIG"))
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	// Start the application
	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize logger
	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, "pulsepal-service")
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	app := &Application{
		config: cfg,
		logger: logger,
		stop:   make(chan struct{}),
	}

	app.initializeEventBus()
	app.initializeEventForwarding()

	if err := app.initializeManager(); err != nil {
		return nil, fmt.Errorf("failed to initialize device manager: %w", err)
	}

	app.initializeServices()

	if err := app.initializeServer(); err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return app, nil
}

// initializeEventBus creates the bus session events are published on
func (app *Application) initializeEventBus() {
	app.eventBus = handler.NewEventBus(app.logger)
}

// initializeEventForwarding connects the optional NATS sink. The service keeps
// running without it when the server cannot be reached.
func (app *Application) initializeEventForwarding() {
	cfg := app.config.Events.NATS
	if cfg.URL == "" {
		return
	}

	app.logger.Info("Connecting to NATS", zap.String("url", cfg.URL))
	nc, err := nats.Connect(cfg.URL,
		nats.Name(app.config.App.Name),
		nats.UserInfo(cfg.Username, cfg.Password),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			app.logger.Warn("Disconnected from NATS", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			app.logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		app.logger.Warn("Failed to connect to NATS, continuing without event forwarding", zap.Error(err))
		return
	}

	app.nats = nc
	handler.NewNATSForwarder(nc, cfg.Subject, app.logger).Forward(app.eventBus)
	app.logger.Info("Forwarding session events to NATS", zap.String("subject", cfg.Subject))
}

// initializeManager sets up the transport factory and the session manager
func (app *Application) initializeManager() error {
	factory, err := protocol.NewFactory(app.config.Device.Transport(), app.logger)
	if err != nil {
		return err
	}

	app.manager = driver.NewManager(factory, app.logger, driver.Options{
		ClientID:       app.config.Device.ClientID,
		ConnectTimeout: app.config.Device.ConnectTimeout,
		Events:         handler.NewDeviceEventHandler(app.eventBus, app.logger),
	})

	app.logger.Info("Device manager initialized",
		zap.String("client_id", app.config.Device.ClientID),
		zap.Duration("connect_timeout", app.config.Device.ConnectTimeout),
		zap.Int("presets", len(app.config.Devices)),
	)
	return nil
}

// initializeServices creates service instances
func (app *Application) initializeServices() {
	app.pulsePalService = service.NewPulsePalService(app.manager, app.config, nil, app.logger)
	app.logger.Info("Services initialized successfully")
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() error {
	routerManager, err := routes.NewRouter(
		app.config,
		app.logger,
		app.pulsePalService,
		app.eventBus,
	)
	if err != nil {
		return err
	}
	router := routerManager.SetupRouter()
	app.health = routerManager.Health()

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
		zap.Bool("auth_enabled", app.config.Auth.Enabled()),
	)
	return nil
}

// startBackgroundServices starts background services
func (app *Application) startBackgroundServices() {
	go app.eventBus.Start()

	if app.config.Server.MDNS.Enabled {
		announcer, err := discovery.Announce(app.config, app.logger)
		if err != nil {
			app.logger.Warn("mDNS announcement failed", zap.Error(err))
		} else {
			app.announcer = announcer
		}
	}

	if app.config.Device.HealthInterval > 0 {
		go app.startSessionMonitoring()
	}
	app.logger.Info("Background services started")
}

// startSessionMonitoring releases held connections whose device went away,
// so the next connect opens a fresh session.
func (app *Application) startSessionMonitoring() {
	ticker := time.NewTicker(app.config.Device.HealthInterval)
	defer ticker.Stop()

	app.logger.Info("Session monitoring started",
		zap.Duration("interval", app.config.Device.HealthInterval),
	)

	for {
		select {
		case <-app.stop:
			return
		case <-ticker.C:
			if released := app.pulsePalService.ReleaseFailed(); len(released) > 0 {
				app.logger.Warn("Released failed device sessions", zap.Strings("devices", released))
			}
		}
	}
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown()
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, "pulsepal-service")
	serviceLogger.LogServiceStop("shutdown signal received")

	app.health.SetDraining()
	close(app.stop)
	if app.announcer != nil {
		app.announcer.Shutdown()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		utils.LogError(app.logger, "HTTP server shutdown error", err)
	} else {
		app.logger.Info("HTTP server stopped")
	}

	// Release held connections, then close whatever sessions remain
	if err := app.pulsePalService.Close(); err != nil {
		utils.LogError(app.logger, "Releasing held connections failed", err)
	}
	if err := app.manager.Close(); err != nil {
		utils.LogError(app.logger, "Device manager close error", err)
	} else {
		app.logger.Info("Device sessions closed")
	}

	app.eventBus.Stop()
	if app.nats != nil {
		if err := app.nats.Drain(); err != nil {
			app.logger.Warn("NATS drain failed", zap.Error(err))
		}
	}

	app.logger.Info("Application shutdown completed")

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}

// Start runs the HTTP server and blocks until shutdown
func (app *Application) Start() error {
	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	app.startBackgroundServices()

	app.waitForShutdown()

	return nil
}
