// internal/protocol/serial_connection.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"pulsepal-service/internal/pulsepal"
)

// counters is shared by the transports to implement StatsReporter.
type counters struct {
	kind         string
	openedAt     time.Time
	bytesWritten atomic.Int64
	bytesRead    atomic.Int64
	writeCount   atomic.Int64
	errorCount   atomic.Int64
	lastActivity atomic.Int64 // unix nanoseconds
}

func newCounters(kind string) *counters {
	return &counters{kind: kind, openedAt: time.Now()}
}

func (c *counters) read(n int, err error) {
	c.bytesRead.Add(int64(n))
	c.touch(err)
}

func (c *counters) wrote(n int, err error) {
	c.bytesWritten.Add(int64(n))
	c.writeCount.Add(1)
	c.touch(err)
}

func (c *counters) touch(err error) {
	if err != nil {
		c.errorCount.Add(1)
	}
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *counters) snapshot() TransportStats {
	stats := TransportStats{
		Kind:         c.kind,
		BytesWritten: c.bytesWritten.Load(),
		BytesRead:    c.bytesRead.Load(),
		WriteCount:   c.writeCount.Load(),
		ErrorCount:   c.errorCount.Load(),
		OpenedAt:     c.openedAt,
	}
	if ns := c.lastActivity.Load(); ns != 0 {
		stats.LastActivity = time.Unix(0, ns)
	}
	return stats
}

// SerialConnection is an open serial port to a stimulator.
type SerialConnection struct {
	portName string
	port     serial.Port
	logger   *zap.Logger
	stats    *counters

	closeOnce sync.Once
	closeErr  error
}

// OpenSerial opens portName with the given line settings.
func OpenSerial(ctx context.Context, portName string, config SerialConfig, logger *zap.Logger) (*SerialConnection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", pulsepal.ErrInvalidArgument, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(
		zap.String("protocol", "serial"),
		zap.String("port", portName),
	)

	logger.Info("Opening serial port",
		zap.Int("baud_rate", config.BaudRate),
		zap.Bool("rts", config.RTS),
		zap.Bool("dtr", config.DTR),
	)

	mode := &serial.Mode{
		BaudRate: config.BaudRate,
		DataBits: config.DataBits,
		StopBits: stopBits(config.StopBits),
		Parity:   parity(config.Parity),
		InitialStatusBits: &serial.ModemOutputBits{
			RTS: config.RTS,
			DTR: config.DTR,
		},
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		logger.Error("Failed to open serial port", zap.Error(err))
		return nil, classifyError("open serial port "+portName, err)
	}

	if config.ReadTimeout > 0 {
		if err := port.SetReadTimeout(config.ReadTimeout); err != nil {
			port.Close()
			return nil, classifyError("set read timeout", err)
		}
	}

	logger.Info("Serial port opened successfully")
	return &SerialConnection{
		portName: portName,
		port:     port,
		logger:   logger,
		stats:    newCounters("serial"),
	}, nil
}

// Read implements io.Reader. A read timeout returns zero bytes and no error.
func (sc *SerialConnection) Read(p []byte) (int, error) {
	n, err := sc.port.Read(p)
	sc.stats.read(n, err)
	if err != nil {
		return n, classifyError("read", err)
	}
	return n, nil
}

// Write implements io.Writer.
func (sc *SerialConnection) Write(p []byte) (int, error) {
	n, err := sc.port.Write(p)
	sc.stats.wrote(n, err)
	if err != nil {
		sc.logger.Error("Serial write failed", zap.Error(err))
		return n, classifyError("write", err)
	}
	return n, nil
}

// Close closes the port. Later calls return the first result.
func (sc *SerialConnection) Close() error {
	sc.closeOnce.Do(func() {
		if err := sc.port.Close(); err != nil {
			sc.logger.Error("Failed to close serial port", zap.Error(err))
			sc.closeErr = classifyError("close", err)
			return
		}
		sc.logger.Info("Serial port closed successfully")
	})
	return sc.closeErr
}

// Stats returns the traffic counters.
func (sc *SerialConnection) Stats() TransportStats {
	return sc.stats.snapshot()
}

func stopBits(bits int) serial.StopBits {
	if bits == 2 {
		return serial.TwoStopBits
	}
	return serial.OneStopBit
}

func parity(name string) serial.Parity {
	switch strings.ToLower(name) {
	case "odd":
		return serial.OddParity
	case "even":
		return serial.EvenParity
	case "mark":
		return serial.MarkParity
	case "space":
		return serial.SpaceParity
	default:
		return serial.NoParity
	}
}

// classifyError wraps a port failure as a transport error, naming the common
// causes an operator can act on.
func classifyError(op string, err error) error {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound:
			return fmt.Errorf("%w: %s: port not found: %w", pulsepal.ErrTransport, op, err)
		case serial.PortBusy:
			return fmt.Errorf("%w: %s: port busy: %w", pulsepal.ErrTransport, op, err)
		case serial.PermissionDenied:
			return fmt.Errorf("%w: %s: permission denied: %w", pulsepal.ErrTransport, op, err)
		case serial.PortClosed:
			return fmt.Errorf("%w: %s: port closed: %w", pulsepal.ErrTransport, op, err)
		}
	}
	return fmt.Errorf("%w: %s: %w", pulsepal.ErrTransport, op, err)
}
