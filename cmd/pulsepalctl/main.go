// Pulsepalctl drives a Pulse Pal stimulator from the command line.
//
// It opens the device directly over its serial port (or a TCP serial bridge
// given as tcp://host:port), runs one command and closes the session.
// Device presets from the service configuration file can be named in place
// of a port with --device.
//
// Usage:
//
//	pulsepalctl [command] [flags]
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pulsepal-service/internal/config"
	"pulsepal-service/internal/driver"
	"pulsepal-service/internal/protocol"
	"pulsepal-service/internal/service"
	"pulsepal-service/internal/utils"
)

var (
	deviceName string
	configPath string
	timeout    time.Duration
	verbose    bool
	jsonOutput bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pulsepalctl",
	Short: "Pulse Pal stimulator command line client",
	Long: `A command line client for Pulse Pal pulse train generators.

Each command opens the device, performs the handshake, runs and
closes the session again. Use --device with a serial port name,
a tcp://host:port bridge address or a preset name from the config file.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&deviceName, "device", "d", "", "Serial port, tcp://host:port or preset name")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (defaults to config.yaml search path)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Overall command timeout")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log protocol activity to stderr")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
}

// session bundles what a single command invocation needs.
type session struct {
	config  *config.Config
	logger  *zap.Logger
	manager *driver.Manager
	service *service.PulsePalService
}

func newSession() (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := zap.NewNop()
	if verbose {
		logging := cfg.Logging
		logging.Output = "stderr"
		logging.Format = "console"
		logging.Level = "debug"
		if logger, err = utils.NewLogger(&logging); err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}

	factory, err := protocol.NewFactory(cfg.Device.Transport(), logger)
	if err != nil {
		return nil, err
	}
	manager := driver.NewManager(factory, logger, driver.Options{
		ClientID:       cfg.Device.ClientID,
		ConnectTimeout: cfg.Device.ConnectTimeout,
	})

	return &session{
		config:  cfg,
		logger:  logger,
		manager: manager,
		service: service.NewPulsePalService(manager, cfg, nil, logger),
	}, nil
}

func (s *session) close() {
	if err := s.service.Close(); err != nil {
		s.logger.Warn("Releasing connections failed", zap.Error(err))
	}
	if err := s.manager.Close(); err != nil {
		s.logger.Warn("Closing device sessions failed", zap.Error(err))
	}
	utils.CloseLogger(s.logger)
}

// withService runs fn against a fresh service bounded by --timeout.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *service.PulsePalService) error) error {
	if deviceName == "" {
		return fmt.Errorf("--device is required")
	}
	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	return fn(ctx, s.service)
}
