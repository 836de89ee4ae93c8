// internal/protocol/protocol.go
package protocol

import (
	"context"
	"io"
	"time"
)

// Opener opens a byte stream to the device behind a port name.
type Opener interface {
	Open(ctx context.Context, portName string) (io.ReadWriteCloser, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, portName string) (io.ReadWriteCloser, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, portName string) (io.ReadWriteCloser, error) {
	return f(ctx, portName)
}

// TransportStats provides transport-level statistics
type TransportStats struct {
	Kind         string    `json:"kind"`
	BytesWritten int64     `json:"bytes_written"`
	BytesRead    int64     `json:"bytes_read"`
	WriteCount   int64     `json:"write_count"`
	ErrorCount   int64     `json:"error_count"`
	OpenedAt     time.Time `json:"opened_at"`
	LastActivity time.Time `json:"last_activity,omitempty"`
}

// StatsReporter is implemented by transports that keep traffic counters.
type StatsReporter interface {
	Stats() TransportStats
}
