// internal/pulsepal/errors.go
package pulsepal

import (
	"errors"
	"fmt"
)

// Error kinds returned by the protocol engine. Callers match them with errors.Is.
var (
	// ErrOutOfRange reports a time or voltage that does not fit its wire encoding.
	ErrOutOfRange = errors.New("value out of range")

	// ErrInvalidArgument reports malformed command input, such as a bad channel
	// or a custom pulse train with mismatched arrays.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrProtocol reports an unexpected response from the device.
	ErrProtocol = errors.New("protocol error")

	// ErrUnsupportedFirmware reports a firmware version outside the known DAC bands.
	ErrUnsupportedFirmware = errors.New("unsupported firmware")

	// ErrTransport reports an I/O failure on the underlying byte stream.
	ErrTransport = errors.New("transport error")

	// ErrNotReady is returned for commands issued before the handshake completed.
	ErrNotReady = errors.New("device not initialized")

	// ErrClosed is returned for commands issued after the session was closed.
	ErrClosed = errors.New("device session closed")
)

// CommandError wraps a failure of a single device command.
type CommandError struct {
	Command string
	Err     error
}

// Error implements the error interface
func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

// Unwrap returns the underlying error
func (e *CommandError) Unwrap() error {
	return e.Err
}

func commandError(command string, err error) error {
	if err == nil {
		return nil
	}
	return &CommandError{Command: command, Err: err}
}

func outOfRange(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrOutOfRange, fmt.Sprintf(format, args...))
}

func invalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func unsupportedFirmware(version int) error {
	return fmt.Errorf("%w: %w: version %d", ErrProtocol, ErrUnsupportedFirmware, version)
}
