// internal/driver/connection.go
package driver

import (
	"sync/atomic"

	"pulsepal-service/internal/pulsepal"
)

// Connection is one checked-out reference to a shared device session.
type Connection struct {
	manager  *Manager
	entry    *entry
	released atomic.Bool
}

func newConnection(m *Manager, e *entry) *Connection {
	return &Connection{manager: m, entry: e}
}

// Device returns the shared session. It stays valid until Close.
func (c *Connection) Device() *pulsepal.Device {
	return c.entry.device
}

// Name returns the identifier the session is registered under.
func (c *Connection) Name() string {
	return c.entry.name
}

// PortName returns the transport address of the session.
func (c *Connection) PortName() string {
	return c.entry.portName
}

// Close releases the reference. The last release closes the session. Calling
// Close more than once has no further effect.
func (c *Connection) Close() error {
	if !c.released.CompareAndSwap(false, true) {
		return nil
	}
	return c.manager.release(c.entry)
}
