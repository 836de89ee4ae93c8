// internal/protocol/factory.go
package protocol

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"pulsepal-service/internal/pulsepal"
)

// tcpScheme marks port names that address a serial-over-TCP bridge.
const tcpScheme = "tcp://"

// Config selects the settings for every transport kind.
type Config struct {
	Serial SerialConfig `mapstructure:"serial"`
	TCP    TCPConfig    `mapstructure:"tcp"`
}

// DefaultConfig returns the default transport settings.
func DefaultConfig() Config {
	return Config{
		Serial: DefaultSerialConfig(),
		TCP:    DefaultTCPConfig(),
	}
}

// Validate checks every transport section.
func (c Config) Validate() error {
	if err := c.Serial.Validate(); err != nil {
		return fmt.Errorf("serial: %w", err)
	}
	if err := c.TCP.Validate(); err != nil {
		return fmt.Errorf("tcp: %w", err)
	}
	return nil
}

// Factory opens transports by port name. Names beginning with tcp:// dial a
// serial bridge; every other name is a local serial port.
type Factory struct {
	config Config
	logger *zap.Logger
}

// NewFactory validates config and returns a factory.
func NewFactory(config Config, logger *zap.Logger) (*Factory, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transport configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{config: config, logger: logger}, nil
}

// Open implements Opener.
func (f *Factory) Open(ctx context.Context, portName string) (io.ReadWriteCloser, error) {
	kind, address, err := ParsePortName(portName)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "tcp":
		return DialTCP(ctx, address, f.config.TCP, f.logger)
	default:
		return OpenSerial(ctx, address, f.config.Serial, f.logger)
	}
}

// ParsePortName splits a port name into its transport kind and address.
func ParsePortName(portName string) (kind, address string, err error) {
	name := strings.TrimSpace(portName)
	if name == "" {
		return "", "", fmt.Errorf("%w: port name is required", pulsepal.ErrInvalidArgument)
	}
	if len(name) >= len(tcpScheme) && strings.EqualFold(name[:len(tcpScheme)], tcpScheme) {
		address = name[len(tcpScheme):]
		if !strings.Contains(address, ":") {
			return "", "", fmt.Errorf("%w: tcp address %q needs host:port", pulsepal.ErrInvalidArgument, address)
		}
		return "tcp", address, nil
	}
	return "serial", name, nil
}
