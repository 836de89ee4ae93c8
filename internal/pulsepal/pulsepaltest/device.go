// Package pulsepaltest provides an in-memory pulse stimulator for tests.
package pulsepaltest

import (
	"encoding/binary"
	"errors"
	"io"
	"runtime"
	"sync"
)

// ErrPortClosed is returned by Read and Write after Close.
var ErrPortClosed = errors.New("port closed")

// AckResponse returns the handshake acknowledgement for a firmware version.
func AckResponse(firmware uint32) []byte {
	resp := make([]byte, 5)
	resp[0] = 0x4B
	binary.LittleEndian.PutUint32(resp[1:], firmware)
	return resp
}

// Device simulates the serial side of a pulse stimulator. Every Write call is
// recorded as one frame and also appended byte by byte to a shared stream, so
// unserialized concurrent writers show up as interleaved bytes.
type Device struct {
	mu         sync.Mutex
	response   []byte
	frames     [][]byte
	stream     []byte
	pending    []byte
	writeErr   error
	closeCount int

	incoming  chan []byte
	closed    chan struct{}
	unplugged chan struct{}
	closeOnce sync.Once
	plugOnce  sync.Once
}

// New returns a device that acknowledges the handshake with firmware.
func New(firmware uint32) *Device {
	return NewWithResponse(AckResponse(firmware))
}

// NewWithResponse returns a device that answers the handshake with response.
// A nil response leaves the device silent.
func NewWithResponse(response []byte) *Device {
	return &Device{
		response:  response,
		incoming:  make(chan []byte, 16),
		closed:    make(chan struct{}),
		unplugged: make(chan struct{}),
	}
}

// Read implements io.Reader.
func (d *Device) Read(p []byte) (int, error) {
	d.mu.Lock()
	if len(d.pending) > 0 {
		n := copy(p, d.pending)
		d.pending = d.pending[n:]
		d.mu.Unlock()
		return n, nil
	}
	d.mu.Unlock()

	select {
	case data := <-d.incoming:
		n := copy(p, data)
		if n < len(data) {
			d.mu.Lock()
			d.pending = append(d.pending, data[n:]...)
			d.mu.Unlock()
		}
		return n, nil
	case <-d.closed:
		return 0, ErrPortClosed
	case <-d.unplugged:
		return 0, io.EOF
	}
}

// Write implements io.Writer.
func (d *Device) Write(p []byte) (int, error) {
	select {
	case <-d.closed:
		return 0, ErrPortClosed
	default:
	}

	d.mu.Lock()
	err := d.writeErr
	d.mu.Unlock()
	if err != nil {
		return 0, err
	}

	for _, b := range p {
		d.mu.Lock()
		d.stream = append(d.stream, b)
		d.mu.Unlock()
		runtime.Gosched()
	}

	d.mu.Lock()
	d.frames = append(d.frames, append([]byte(nil), p...))
	response := d.response
	d.mu.Unlock()

	if len(p) == 2 && p[0] == 0xD5 && p[1] == 0x48 && response != nil {
		d.Inject(response)
	}
	return len(p), nil
}

// Close implements io.Closer.
func (d *Device) Close() error {
	d.mu.Lock()
	d.closeCount++
	d.mu.Unlock()
	d.closeOnce.Do(func() { close(d.closed) })
	return nil
}

// Inject queues bytes for the host to read.
func (d *Device) Inject(data []byte) {
	d.incoming <- append([]byte(nil), data...)
}

// Unplug makes pending and future reads fail with io.EOF.
func (d *Device) Unplug() {
	d.plugOnce.Do(func() { close(d.unplugged) })
}

// FailWrites makes every later Write return err.
func (d *Device) FailWrites(err error) {
	d.mu.Lock()
	d.writeErr = err
	d.mu.Unlock()
}

// Frames returns a copy of every frame written so far.
func (d *Device) Frames() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	frames := make([][]byte, len(d.frames))
	for i, f := range d.frames {
		frames[i] = append([]byte(nil), f...)
	}
	return frames
}

// LastFrame returns the most recent frame, or nil.
func (d *Device) LastFrame() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.frames) == 0 {
		return nil
	}
	return append([]byte(nil), d.frames[len(d.frames)-1]...)
}

// Stream returns every byte written, in wire order.
func (d *Device) Stream() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.stream...)
}

// CloseCount reports how many times Close was called.
func (d *Device) CloseCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeCount
}

// IsClosed reports whether Close was called.
func (d *Device) IsClosed() bool {
	select {
	case <-d.closed:
		return true
	default:
		return false
	}
}
