// internal/protocol/tcp_connection.go
package protocol

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"pulsepal-service/internal/pulsepal"
)

// TCPConnection is a serial line reached through a TCP bridge.
type TCPConnection struct {
	address string
	conn    net.Conn
	logger  *zap.Logger
	stats   *counters

	closeOnce sync.Once
	closeErr  error
}

// DialTCP connects to a serial bridge at address (host:port).
func DialTCP(ctx context.Context, address string, config TCPConfig, logger *zap.Logger) (*TCPConnection, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", pulsepal.ErrInvalidArgument, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(
		zap.String("protocol", "tcp"),
		zap.String("address", address),
	)

	logger.Info("Opening TCP connection")

	dialer := &net.Dialer{
		Timeout:   config.DialTimeout,
		KeepAlive: config.KeepAlive,
	}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		logger.Error("Failed to open TCP connection", zap.Error(err))
		return nil, fmt.Errorf("%w: failed to connect to %s: %w", pulsepal.ErrTransport, address, err)
	}

	logger.Info("TCP connection opened successfully")
	return &TCPConnection{
		address: address,
		conn:    conn,
		logger:  logger,
		stats:   newCounters("tcp"),
	}, nil
}

// Read implements io.Reader.
func (tc *TCPConnection) Read(p []byte) (int, error) {
	n, err := tc.conn.Read(p)
	tc.stats.read(n, err)
	return n, err
}

// Write implements io.Writer.
func (tc *TCPConnection) Write(p []byte) (int, error) {
	n, err := tc.conn.Write(p)
	tc.stats.wrote(n, err)
	if err != nil {
		tc.logger.Error("TCP write failed", zap.Error(err))
	}
	return n, err
}

// Close closes the connection. Later calls return the first result.
func (tc *TCPConnection) Close() error {
	tc.closeOnce.Do(func() {
		if err := tc.conn.Close(); err != nil {
			tc.logger.Error("Failed to close TCP connection", zap.Error(err))
			tc.closeErr = fmt.Errorf("failed to close TCP connection: %w", err)
			return
		}
		tc.logger.Info("TCP connection closed successfully")
	})
	return tc.closeErr
}

// Stats returns the traffic counters.
func (tc *TCPConnection) Stats() TransportStats {
	return tc.stats.snapshot()
}
