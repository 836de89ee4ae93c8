// internal/pulsepal/device.go
package pulsepal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the lifecycle state of a device session.
type State int32

const (
	StateConnecting State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const readBufferSize = 64

// Device is one open session with a pulse stimulator. It owns the transport,
// runs the background read loop that completes the handshake, and serializes
// command frames on the wire.
type Device struct {
	id        uuid.UUID
	portName  string
	transport io.ReadWriteCloser
	logger    *zap.Logger

	// mu guards buffer and closed, and is held for the duration of every
	// write so frames from concurrent callers never interleave.
	mu     sync.Mutex
	buffer [CommandBufferSize]byte
	closed bool

	encoder atomic.Pointer[Encoder] // set once at handshake

	readBuffer [readBufferSize]byte
	state      atomic.Int32
	firmware   atomic.Int32
	started    atomic.Bool
	closing    atomic.Bool
	ready      chan struct{}
	done       chan struct{}

	errMu sync.Mutex
	err   error

	transportOnce sync.Once
	transportErr  error
	closeOnce     sync.Once
	closeErr      error
}

// NewDevice creates a session over an open transport. The session is not usable
// until Open completes the handshake.
func NewDevice(portName string, transport io.ReadWriteCloser, logger *zap.Logger) *Device {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.New()
	d := &Device{
		id:        id,
		portName:  portName,
		transport: transport,
		logger: logger.With(
			zap.String("port", portName),
			zap.String("session_id", id.String()),
		),
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
	d.firmware.Store(-1)
	return d
}

// Open sends the handshake and blocks until the device acknowledges it, the
// read loop fails, or ctx is done. Cancelling ctx closes the transport.
func (d *Device) Open(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return fmt.Errorf("open %s: session already started", d.portName)
	}

	go d.readLoop()

	d.mu.Lock()
	n := EncodeHandshake(d.buffer[:])
	err := d.write(d.buffer[:n])
	d.mu.Unlock()
	if err != nil {
		<-d.done
		return fmt.Errorf("handshake: %w", err)
	}

	select {
	case <-d.ready:
		return nil
	case <-d.done:
		select {
		case <-d.ready:
			return nil
		default:
		}
		err := d.Err()
		if err == nil {
			err = ErrClosed
		}
		return fmt.Errorf("handshake: %w", err)
	case <-ctx.Done():
		d.fail(fmt.Errorf("%w: handshake cancelled: %w", ErrTransport, ctx.Err()))
		d.closeTransport()
		<-d.done
		return fmt.Errorf("handshake: %w", ctx.Err())
	}
}

// readLoop consumes the handshake response and then drains the stream until
// the transport is closed or fails.
func (d *Device) readLoop() {
	defer close(d.done)

	pending := 0
	for {
		n, err := d.transport.Read(d.readBuffer[pending:])
		if n > 0 && d.State() == StateConnecting {
			pending += n
			if pending >= handshakeLength {
				if herr := d.completeHandshake(d.readBuffer[:handshakeLength]); herr != nil {
					d.fail(herr)
					d.closeTransport()
					return
				}
			}
		}
		if d.State() != StateConnecting {
			pending = 0
		}

		if err != nil {
			if d.closing.Load() {
				return
			}
			if errors.Is(err, io.EOF) && d.State() == StateConnecting {
				err = fmt.Errorf("connection closed before handshake: %w", err)
			}
			d.fail(fmt.Errorf("%w: %w", ErrTransport, err))
			d.closeTransport()
			return
		}
	}
}

func (d *Device) completeHandshake(response []byte) error {
	if response[0] != Acknowledge {
		return fmt.Errorf("%w: unexpected response 0x%02X", ErrProtocol, response[0])
	}

	version := int(binary.LittleEndian.Uint32(response[1:handshakeLength]))
	encoder, err := NewEncoder(version)
	if err != nil {
		return err
	}

	d.encoder.Store(encoder)
	d.firmware.Store(int32(version))
	d.state.Store(int32(StateReady))
	close(d.ready)

	d.logger.Info("Handshake completed",
		zap.Int("firmware", version),
		zap.Int("dac_bits", encoder.DAC().Bits),
	)
	return nil
}

// write sends one whole frame. The caller holds mu.
func (d *Device) write(frame []byte) error {
	n, err := d.transport.Write(frame)
	if err == nil && n != len(frame) {
		err = fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(frame))
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrTransport, err)
		d.fail(err)
		d.closeTransport()
		return err
	}

	d.logger.Debug("Frame written",
		zap.String("opcode", fmt.Sprintf("0x%02X", frame[1])),
		zap.Int("bytes", n),
	)
	return nil
}

// send encodes a fixed-size frame into the session buffer and writes it.
func (d *Device) send(command string, encode func(buf []byte, enc *Encoder) (int, error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.usable(); err != nil {
		return commandError(command, err)
	}
	n, err := encode(d.buffer[:], d.encoder.Load())
	if err != nil {
		return commandError(command, err)
	}
	return commandError(command, d.write(d.buffer[:n]))
}

// sendFrame writes a frame sized to its payload, bypassing the session buffer.
func (d *Device) sendFrame(command string, build func(enc *Encoder) ([]byte, error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.usable(); err != nil {
		return commandError(command, err)
	}
	frame, err := build(d.encoder.Load())
	if err != nil {
		return commandError(command, err)
	}
	return commandError(command, d.write(frame))
}

// usable reports why commands cannot be sent. The caller holds mu.
func (d *Device) usable() error {
	if d.closed {
		return ErrClosed
	}
	if err := d.Err(); err != nil {
		return err
	}
	if d.encoder.Load() == nil {
		return ErrNotReady
	}
	return nil
}

func (d *Device) fail(err error) {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	if d.err != nil {
		return
	}
	d.err = err
	d.logger.Error("Device session failed", zap.Error(err))
}

func (d *Device) closeTransport() error {
	d.transportOnce.Do(func() {
		d.transportErr = d.transport.Close()
	})
	return d.transportErr
}

// Close sends the disconnect frame if the session is healthy, closes the
// transport and waits for the read loop to exit. It is safe to call more than
// once.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		var errs []error

		d.mu.Lock()
		if d.encoder.Load() != nil && d.Err() == nil {
			n := EncodeDisconnect(d.buffer[:])
			if err := d.write(d.buffer[:n]); err != nil {
				errs = append(errs, fmt.Errorf("disconnect: %w", err))
			}
		}
		d.closed = true
		d.mu.Unlock()

		d.closing.Store(true)
		if err := d.closeTransport(); err != nil {
			errs = append(errs, fmt.Errorf("%w: close: %w", ErrTransport, err))
		}
		if d.started.Load() {
			<-d.done
		}
		d.state.Store(int32(StateClosed))
		d.closeErr = errors.Join(errs...)

		d.logger.Info("Device session closed")
	})
	return d.closeErr
}

// ID returns the unique session identifier.
func (d *Device) ID() uuid.UUID {
	return d.id
}

// PortName returns the transport address the session was opened on.
func (d *Device) PortName() string {
	return d.portName
}

// State returns the current lifecycle state.
func (d *Device) State() State {
	return State(d.state.Load())
}

// FirmwareVersion returns the version reported in the handshake, or -1 before it.
func (d *Device) FirmwareVersion() int {
	return int(d.firmware.Load())
}

// DAC returns the voltage encoding selected at handshake. ok is false before it.
func (d *Device) DAC() (dac DACResolution, ok bool) {
	encoder := d.encoder.Load()
	if encoder == nil {
		return DACResolution{}, false
	}
	return encoder.DAC(), true
}

// Ready is closed once the handshake completes.
func (d *Device) Ready() <-chan struct{} {
	return d.ready
}

// Done is closed when the read loop exits.
func (d *Device) Done() <-chan struct{} {
	return d.done
}

// Err returns the error that terminated the session, if any.
func (d *Device) Err() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.err
}

// Info is a point-in-time description of a session.
type Info struct {
	SessionID       string `json:"session_id"`
	PortName        string `json:"port_name"`
	State           string `json:"state"`
	FirmwareVersion int    `json:"firmware_version"`
	DACBits         int    `json:"dac_bits,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Info describes the session.
func (d *Device) Info() Info {
	info := Info{
		SessionID:       d.id.String(),
		PortName:        d.portName,
		State:           d.State().String(),
		FirmwareVersion: d.FirmwareVersion(),
	}
	if dac, ok := d.DAC(); ok {
		info.DACBits = dac.Bits
	}
	if err := d.Err(); err != nil {
		info.Error = err.Error()
	}
	return info
}
