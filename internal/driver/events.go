// internal/driver/events.go
package driver

import "pulsepal-service/internal/pulsepal"

// EventHandler receives session lifecycle notifications. Methods are called
// without the manager lock held and must not block.
type EventHandler interface {
	OnSessionOpened(name string, info pulsepal.Info)
	OnSessionClosed(name string, info pulsepal.Info)
	OnSessionFailed(name, portName string, err error)
}
