// internal/service/pulsepal_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pulsepal-service/internal/config"
	"pulsepal-service/internal/driver"
	"pulsepal-service/internal/protocol"
	"pulsepal-service/internal/pulsepal"
	"pulsepal-service/internal/utils"
)

var (
	// ErrNotConnected is returned when releasing a device that has no held connection.
	ErrNotConnected = errors.New("device has no held connection")

	// ErrAlreadyConnected is returned when a held connection already exists.
	ErrAlreadyConnected = errors.New("device already connected")
)

// PortLister enumerates local serial ports.
type PortLister func() ([]protocol.PortInfo, error)

// PulsePalService runs device commands over shared sessions. Every command
// checks a connection out of the manager and releases it afterwards, so a
// device stays open between requests only while a held connection exists.
type PulsePalService struct {
	manager     *driver.Manager
	config      *config.Config
	listPorts   PortLister
	logger      *utils.ServiceLogger
	auditLogger *utils.AuditLogger

	mu      sync.Mutex
	held    map[string]*driver.Connection
	pending map[string]struct{} // names with a Connect in progress
}

// NewPulsePalService creates a new service instance
func NewPulsePalService(
	manager *driver.Manager,
	config *config.Config,
	listPorts PortLister,
	logger *zap.Logger,
) *PulsePalService {
	if listPorts == nil {
		listPorts = protocol.ListPorts
	}
	return &PulsePalService{
		manager:     manager,
		config:      config,
		listPorts:   listPorts,
		logger:      utils.NewServiceLogger(logger, "pulsepal-service"),
		auditLogger: utils.NewAuditLogger(logger),
		held:        make(map[string]*driver.Connection),
		pending:     make(map[string]struct{}),
	}
}

// configuration returns the preset for name, or nil when name is a port.
func (s *PulsePalService) configuration(name string) (*pulsepal.Configuration, error) {
	preset, ok := s.config.Preset(name)
	if !ok {
		return nil, nil
	}
	cfg, err := preset.Configuration()
	if err != nil {
		return nil, fmt.Errorf("preset %q: %w", name, err)
	}
	return cfg, nil
}

func (s *PulsePalService) checkout(ctx context.Context, name string) (*driver.Connection, error) {
	cfg, err := s.configuration(name)
	if err != nil {
		return nil, err
	}
	return s.manager.Checkout(ctx, name, cfg)
}

// withDevice runs fn against the session for name between checkout and release.
func (s *PulsePalService) withDevice(ctx context.Context, name, command string, fn func(d *pulsepal.Device) error) error {
	conn, err := s.checkout(ctx, name)
	if err != nil {
		return err
	}
	defer conn.Close()

	start := time.Now()
	err = fn(conn.Device())
	utils.NewDeviceLogger(s.logger.Logger, conn.Name(), conn.PortName()).
		LogCommand(command, time.Since(start), err)
	return err
}

// Connect checks out and holds a connection to name until Disconnect. The
// connection is held under the name its session is registered with, so an
// empty name is stored under the port it resolved to.
func (s *PulsePalService) Connect(ctx context.Context, name string) (*pulsepal.Info, error) {
	s.mu.Lock()
	if s.busyLocked(name) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyConnected, name)
	}
	if name != "" {
		s.pending[name] = struct{}{}
	}
	s.mu.Unlock()

	conn, err := s.checkout(ctx, name)

	s.mu.Lock()
	if name != "" {
		delete(s.pending, name)
	}
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	key := conn.Name()
	if s.busyLocked(key) {
		s.mu.Unlock()
		conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyConnected, key)
	}
	s.held[key] = conn
	s.mu.Unlock()

	info := conn.Device().Info()
	s.logger.Info("Device connection held",
		zap.String("device", key),
		zap.String("port", conn.PortName()),
		zap.Int("firmware", info.FirmwareVersion),
	)
	return &info, nil
}

// busyLocked reports whether name is held or being connected. The caller
// holds mu.
func (s *PulsePalService) busyLocked(name string) bool {
	if name == "" {
		return false
	}
	_, held := s.held[name]
	_, pending := s.pending[name]
	return held || pending
}

// Disconnect releases the held connection for name. An empty name releases
// the only held connection.
func (s *PulsePalService) Disconnect(ctx context.Context, name string) error {
	s.mu.Lock()
	if name == "" && len(s.held) == 1 {
		for key := range s.held {
			name = key
		}
	}
	conn, ok := s.held[name]
	delete(s.held, name)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, name)
	}
	s.logger.Info("Releasing held device connection", zap.String("device", conn.Name()))
	return conn.Close()
}

// ReleaseFailed drops held connections whose session has failed, so the next
// Connect opens a fresh session. It returns the released device names.
func (s *PulsePalService) ReleaseFailed() []string {
	s.mu.Lock()
	var failed []*driver.Connection
	for key, conn := range s.held {
		if conn.Device().Err() != nil {
			failed = append(failed, conn)
			delete(s.held, key)
		}
	}
	s.mu.Unlock()

	names := make([]string, 0, len(failed))
	for _, conn := range failed {
		s.logger.Warn("Releasing failed device session",
			zap.String("device", conn.Name()),
			zap.Error(conn.Device().Err()),
		)
		conn.Close()
		names = append(names, conn.Name())
	}
	sort.Strings(names)
	return names
}

// Sessions lists the open device sessions.
func (s *PulsePalService) Sessions() []driver.SessionInfo {
	return s.manager.Sessions()
}

// Presets lists the configured device presets.
func (s *PulsePalService) Presets() []config.DevicePreset {
	presets := append([]config.DevicePreset(nil), s.config.Devices...)
	sort.Slice(presets, func(i, j int) bool { return presets[i].Name < presets[j].Name })
	return presets
}

// ListPorts enumerates local serial ports.
func (s *PulsePalService) ListPorts() ([]protocol.PortInfo, error) {
	ports, err := s.listPorts()
	if err != nil {
		return nil, fmt.Errorf("list ports: %w", err)
	}
	return ports, nil
}

// Trigger starts pulse trains on the given output channels.
func (s *PulsePalService) Trigger(ctx context.Context, name string, channels []int) error {
	if len(channels) == 0 {
		return fmt.Errorf("%w: no channels to trigger", pulsepal.ErrInvalidArgument)
	}
	outputs := make([]pulsepal.OutputChannel, len(channels))
	for i, ch := range channels {
		if ch < 1 || ch > 4 {
			return fmt.Errorf("%w: output channel %d", pulsepal.ErrInvalidArgument, ch)
		}
		outputs[i] = pulsepal.OutputChannel(ch)
	}
	mask, err := pulsepal.MaskOf(outputs...)
	if err != nil {
		return err
	}
	return s.withDevice(ctx, name, "trigger", func(d *pulsepal.Device) error {
		return d.TriggerOutputChannels(mask)
	})
}

// Abort stops every running pulse train.
func (s *PulsePalService) Abort(ctx context.Context, name string) error {
	return s.withDevice(ctx, name, "abort", func(d *pulsepal.Device) error {
		return d.AbortPulseTrains()
	})
}

// Display writes one or two rows to the device display.
func (s *PulsePalService) Display(ctx context.Context, name string, rows []string) error {
	return s.withDevice(ctx, name, "display", func(d *pulsepal.Device) error {
		return d.UpdateDisplay(rows...)
	})
}

// SetFixedVoltage holds an output channel at a voltage.
func (s *PulsePalService) SetFixedVoltage(ctx context.Context, name string, channel int, volts float64) error {
	ch, err := outputChannel(channel)
	if err != nil {
		return err
	}
	err = s.withDevice(ctx, name, "set fixed voltage", func(d *pulsepal.Device) error {
		return d.SetFixedVoltage(ch, volts)
	})
	s.auditLogger.LogParameterChange(name, requestID(ctx), "fixed_voltage", channel, volts, err)
	return err
}

// SetContinuousLoop enables or disables continuous looping on an output channel.
func (s *PulsePalService) SetContinuousLoop(ctx context.Context, name string, channel int, enabled bool) error {
	ch, err := outputChannel(channel)
	if err != nil {
		return err
	}
	err = s.withDevice(ctx, name, "set continuous loop", func(d *pulsepal.Device) error {
		return d.SetContinuousLoop(ch, enabled)
	})
	s.auditLogger.LogParameterChange(name, requestID(ctx), "continuous_loop", channel, enabled, err)
	return err
}

// SetParameter programs one named parameter.
func (s *PulsePalService) SetParameter(ctx context.Context, name string, req ParameterRequest) error {
	code, err := pulsepal.ParseParameterCode(req.Parameter)
	if err != nil {
		return err
	}
	if req.Channel < 0 || req.Channel > 255 {
		return fmt.Errorf("%w: channel %d", pulsepal.ErrInvalidArgument, req.Channel)
	}
	item, err := pulsepal.NewParameterConfiguration(code, byte(req.Channel), req.Value)
	if err != nil {
		return err
	}

	err = s.withDevice(ctx, name, "set "+code.String(), item.Apply)
	s.auditLogger.LogParameterChange(name, requestID(ctx), code.String(), req.Channel, req.Value, err)
	return err
}

// UploadPulseTrain sends a custom pulse train to slot train.
func (s *PulsePalService) UploadPulseTrain(ctx context.Context, name, train string, pulses []pulsepal.PulseOnset) error {
	id, err := customTrain(train)
	if err != nil {
		return err
	}

	op := utils.NewOperationLogger(s.logger.Logger, "custom_train_upload", uuid.New().String())
	op.Start(zap.String("device", name), zap.Stringer("train", id), zap.Int("pulses", len(pulses)))
	err = s.withDevice(ctx, name, "send custom pulse train", func(d *pulsepal.Device) error {
		return d.SendCustomPulseTrain(id, pulses)
	})
	if err != nil {
		op.Error(err)
		return err
	}
	op.Success()
	return nil
}

// UploadWaveform sends voltages sampled at a fixed period to slot train.
func (s *PulsePalService) UploadWaveform(ctx context.Context, name, train string, samplingPeriod float64, voltages []float64) error {
	id, err := customTrain(train)
	if err != nil {
		return err
	}

	op := utils.NewOperationLogger(s.logger.Logger, "custom_waveform_upload", uuid.New().String())
	op.Start(zap.String("device", name), zap.Stringer("train", id), zap.Int("samples", len(voltages)))
	err = s.withDevice(ctx, name, "send custom waveform", func(d *pulsepal.Device) error {
		return d.SendCustomWaveform(id, samplingPeriod, voltages)
	})
	if err != nil {
		op.Error(err)
		return err
	}
	op.Success()
	return nil
}

// Close releases every held connection.
func (s *PulsePalService) Close() error {
	s.mu.Lock()
	conns := make([]*driver.Connection, 0, len(s.held))
	for _, conn := range s.held {
		conns = append(conns, conn)
	}
	clear(s.held)
	s.mu.Unlock()

	var errs []error
	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", conn.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func outputChannel(channel int) (pulsepal.OutputChannel, error) {
	if channel < 1 || channel > 4 {
		return 0, fmt.Errorf("%w: output channel %d", pulsepal.ErrInvalidArgument, channel)
	}
	return pulsepal.OutputChannel(channel), nil
}

func customTrain(train string) (pulsepal.CustomTrainID, error) {
	id, err := pulsepal.ParseCustomTrainID(train)
	if err != nil {
		return 0, err
	}
	if id == pulsepal.CustomTrainNone {
		return 0, fmt.Errorf("%w: custom train must be 1 or 2", pulsepal.ErrInvalidArgument)
	}
	return id, nil
}

type requestIDKey struct{}

// WithRequestID attaches the API request ID used in audit records.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
