package pulsepal

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"pulsepal-service/internal/pulsepal/pulsepaltest"
)

func openDevice(t *testing.T, sim *pulsepaltest.Device) *Device {
	t.Helper()
	d := NewDevice("COM5", sim, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestDeviceHandshake(t *testing.T) {
	tests := []struct {
		firmware uint32
		dacBits  int
	}{
		{5, 8},
		{19, 8},
		{20, 16},
		{39, 16},
	}
	for _, tt := range tests {
		sim := pulsepaltest.New(tt.firmware)
		d := openDevice(t, sim)

		if got := d.FirmwareVersion(); got != int(tt.firmware) {
			t.Errorf("firmware = %d, want %d", got, tt.firmware)
		}
		dac, ok := d.DAC()
		if !ok || dac.Bits != tt.dacBits {
			t.Errorf("firmware %d: DAC = %+v (%v), want %d bits", tt.firmware, dac, ok, tt.dacBits)
		}
		if d.State() != StateReady {
			t.Errorf("state = %v, want ready", d.State())
		}
		if first := sim.Frames()[0]; !bytes.Equal(first, []byte{0xD5, 0x48}) {
			t.Errorf("first frame = % X, want D5 48", first)
		}
	}
}

func TestDeviceHandshakeSplitAcrossReads(t *testing.T) {
	sim := pulsepaltest.NewWithResponse(nil)
	sim.Inject([]byte{0x4B, 0x05})
	sim.Inject([]byte{0x00, 0x00, 0x00})

	d := openDevice(t, sim)
	if got := d.FirmwareVersion(); got != 5 {
		t.Errorf("firmware = %d, want 5", got)
	}
}

func TestDeviceHandshakeFailures(t *testing.T) {
	tests := []struct {
		name     string
		response []byte
		wantErr  error
	}{
		{"unexpected response", []byte{0x00, 0x14, 0x00, 0x00, 0x00}, ErrProtocol},
		{"unsupported firmware", pulsepaltest.AckResponse(40), ErrUnsupportedFirmware},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := pulsepaltest.NewWithResponse(tt.response)
			d := NewDevice("COM5", sim, zap.NewNop())
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			err := d.Open(ctx)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Open error = %v, want %v", err, tt.wantErr)
			}
			if !sim.IsClosed() {
				t.Error("transport not closed after failed handshake")
			}
			if err := d.SetBiphasic(OutputChannel1, true); err == nil {
				t.Error("command on failed session succeeded")
			}
		})
	}
}

func TestDeviceHandshakeEOF(t *testing.T) {
	sim := pulsepaltest.NewWithResponse(nil)
	sim.Unplug()
	d := NewDevice("COM5", sim, zap.NewNop())

	err := d.Open(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Open error = %v, want ErrTransport", err)
	}
}

func TestDeviceOpenCancelled(t *testing.T) {
	sim := pulsepaltest.NewWithResponse(nil)
	d := NewDevice("COM5", sim, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := d.Open(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Open error = %v, want deadline exceeded", err)
	}
	if !sim.IsClosed() {
		t.Error("transport not closed after cancelled handshake")
	}
	if err := d.Open(context.Background()); err == nil {
		t.Error("second Open succeeded")
	}
}

func TestDeviceCommandBeforeHandshake(t *testing.T) {
	sim := pulsepaltest.New(20)
	d := NewDevice("COM5", sim, zap.NewNop())

	err := d.SetPhase1Voltage(OutputChannel1, 5)
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("error = %v, want ErrNotReady", err)
	}
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) || cmdErr.Command != "set phase1_voltage" {
		t.Errorf("error = %#v, want CommandError for set phase1_voltage", err)
	}
	if len(sim.Frames()) != 0 {
		t.Errorf("frames written before handshake: %v", sim.Frames())
	}
}

func TestDeviceCommandFrames(t *testing.T) {
	tests := []struct {
		name string
		send func(d *Device) error
		want []byte
	}{
		{
			name: "phase1 voltage",
			send: func(d *Device) error { return d.SetPhase1Voltage(OutputChannel2, 10) },
			want: []byte{0xD5, 0x4A, 0x02, 0x02, 0xFF, 0xFF},
		},
		{
			name: "biphasic",
			send: func(d *Device) error { return d.SetBiphasic(OutputChannel1, true) },
			want: []byte{0xD5, 0x4A, 0x01, 0x01, 0x01},
		},
		{
			name: "pulse train delay",
			send: func(d *Device) error { return d.SetPulseTrainDelay(OutputChannel3, 1) },
			want: []byte{0xD5, 0x4A, 0x0B, 0x03, 0x20, 0x4E, 0x00, 0x00},
		},
		{
			name: "trigger mode",
			send: func(d *Device) error { return d.SetTriggerMode(TriggerChannel2, TriggerToggle) },
			want: []byte{0xD5, 0x4A, 0x80, 0x02, 0x01},
		},
		{
			name: "custom train identity",
			send: func(d *Device) error { return d.SetCustomTrainIdentity(OutputChannel1, CustomTrain2) },
			want: []byte{0xD5, 0x4A, 0x0E, 0x01, 0x02},
		},
		{
			name: "trigger",
			send: func(d *Device) error { return d.TriggerOutputChannels(MaskChannel2 | MaskChannel4) },
			want: []byte{0xD5, 0x4D, 0x0A},
		},
		{
			name: "fixed voltage",
			send: func(d *Device) error { return d.SetFixedVoltage(OutputChannel1, -10) },
			want: []byte{0xD5, 0x4F, 0x01, 0x00, 0x00},
		},
		{
			name: "abort",
			send: func(d *Device) error { return d.AbortPulseTrains() },
			want: []byte{0xD5, 0x50},
		},
		{
			name: "continuous loop",
			send: func(d *Device) error { return d.SetContinuousLoop(OutputChannel2, false) },
			want: []byte{0xD5, 0x52, 0x02, 0x00},
		},
		{
			name: "client id",
			send: func(d *Device) error { return d.SetClientID("GoPuls") },
			want: []byte{0xD5, 0x59, 'G', 'o', 'P', 'u', 'l', 's'},
		},
		{
			name: "display",
			send: func(d *Device) error { return d.UpdateDisplay("Hi") },
			want: []byte{0xD5, 0x4E, 0x02, 'H', 'i'},
		},
		{
			name: "custom pulse train",
			send: func(d *Device) error {
				return d.SendCustomPulseTrain(CustomTrain1, []PulseOnset{{Time: 0.001, Voltage: 10}})
			},
			want: []byte{0xD5, 0x4B, 0x01, 0x00, 0x00, 0x00, 0x14, 0x00, 0x00, 0x00, 0xFF, 0xFF},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := pulsepaltest.New(20)
			d := openDevice(t, sim)

			if err := tt.send(d); err != nil {
				t.Fatalf("send: %v", err)
			}
			if got := sim.LastFrame(); !bytes.Equal(got, tt.want) {
				t.Errorf("frame = % X, want % X", got, tt.want)
			}
		})
	}
}

func TestDeviceRejectedCommandWritesNothing(t *testing.T) {
	sim := pulsepaltest.New(20)
	d := openDevice(t, sim)

	pulses := make([]PulseOnset, MaxPulseCount+1)
	if err := d.SendCustomPulseTrain(CustomTrain1, pulses); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("error = %v, want ErrInvalidArgument", err)
	}
	if err := d.SetPhase1Voltage(OutputChannel1, 20); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("error = %v, want ErrOutOfRange", err)
	}
	if err := d.SetTriggerMode(TriggerChannel1, TriggerMode(7)); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("error = %v, want ErrInvalidArgument", err)
	}
	if n := len(sim.Frames()); n != 1 {
		t.Fatalf("%d frames written, want only the handshake", n)
	}

	// Validation failures leave the session usable.
	if err := d.SetPhase1Voltage(OutputChannel1, 1); err != nil {
		t.Fatalf("SetPhase1Voltage after rejection: %v", err)
	}
}

func TestDeviceConcurrentCommandsDoNotInterleave(t *testing.T) {
	sim := pulsepaltest.New(20)
	d := openDevice(t, sim)

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			ch := OutputChannel(w%4 + 1)
			for i := 0; i < perWorker; i++ {
				if w%2 == 0 {
					errs <- d.SetPhase1Duration(ch, 0.001)
				} else {
					errs <- d.SetPhase1Voltage(ch, 5)
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("command failed: %v", err)
		}
	}

	stream := sim.Stream()
	if !bytes.HasPrefix(stream, []byte{0xD5, 0x48}) {
		t.Fatalf("stream does not start with handshake: % X", stream[:2])
	}
	stream = stream[2:]

	frames := 0
	for len(stream) > 0 {
		if len(stream) < 4 || stream[0] != OpMenu || stream[1] != OpProgramParam {
			t.Fatalf("frame %d: bad header % X", frames, stream[:min(len(stream), 4)])
		}
		var size int
		switch ParameterCode(stream[2]) {
		case Phase1Duration:
			size = 8
		case Phase1Voltage:
			size = 6
		default:
			t.Fatalf("frame %d: unexpected parameter %d", frames, stream[2])
		}
		if len(stream) < size {
			t.Fatalf("frame %d: truncated", frames)
		}
		stream = stream[size:]
		frames++
	}
	if frames != workers*perWorker {
		t.Errorf("parsed %d frames, want %d", frames, workers*perWorker)
	}
}

func TestDeviceCloseSendsDisconnect(t *testing.T) {
	sim := pulsepaltest.New(20)
	d := NewDevice("COM5", sim, zap.NewNop())
	if err := d.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := sim.LastFrame(); !bytes.Equal(got, []byte{0xD5, 0x51}) {
		t.Errorf("last frame = % X, want D5 51", got)
	}
	if d.State() != StateClosed {
		t.Errorf("state = %v, want closed", d.State())
	}

	if err := d.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if n := sim.CloseCount(); n != 1 {
		t.Errorf("transport closed %d times, want 1", n)
	}
	if err := d.AbortPulseTrains(); !errors.Is(err, ErrClosed) {
		t.Errorf("command after close error = %v, want ErrClosed", err)
	}
}

func TestDeviceTransportLoss(t *testing.T) {
	sim := pulsepaltest.New(20)
	d := NewDevice("COM5", sim, zap.NewNop())
	if err := d.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	sim.Unplug()
	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not exit after unplug")
	}
	if !errors.Is(d.Err(), ErrTransport) {
		t.Fatalf("Err = %v, want ErrTransport", d.Err())
	}
	if err := d.SetBiphasic(OutputChannel1, true); !errors.Is(err, ErrTransport) {
		t.Errorf("command error = %v, want ErrTransport", err)
	}

	d.Close()
	if got := sim.LastFrame(); bytes.Equal(got, []byte{0xD5, 0x51}) {
		t.Error("disconnect sent on a failed session")
	}
	if n := sim.CloseCount(); n != 1 {
		t.Errorf("transport closed %d times, want 1", n)
	}
}

func TestDeviceWriteFailure(t *testing.T) {
	sim := pulsepaltest.New(20)
	d := openDevice(t, sim)

	sim.FailWrites(errors.New("device unplugged"))
	if err := d.SetBiphasic(OutputChannel1, true); !errors.Is(err, ErrTransport) {
		t.Fatalf("error = %v, want ErrTransport", err)
	}
	if !sim.IsClosed() {
		t.Error("transport not closed after write failure")
	}
	if err := d.AbortPulseTrains(); !errors.Is(err, ErrTransport) {
		t.Errorf("next command error = %v, want ErrTransport", err)
	}
}

func TestDeviceInfo(t *testing.T) {
	sim := pulsepaltest.New(20)
	d := openDevice(t, sim)

	info := d.Info()
	if info.PortName != "COM5" || info.State != "ready" || info.FirmwareVersion != 20 || info.DACBits != 16 {
		t.Errorf("Info = %+v", info)
	}
	if info.SessionID != d.ID().String() {
		t.Errorf("session id = %q, want %q", info.SessionID, d.ID())
	}
}
