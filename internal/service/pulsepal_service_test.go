package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"pulsepal-service/internal/config"
	"pulsepal-service/internal/driver"
	"pulsepal-service/internal/protocol"
	"pulsepal-service/internal/pulsepal"
	"pulsepal-service/internal/pulsepal/pulsepaltest"
)

type simPorts struct {
	mu     sync.Mutex
	sims   map[string][]*pulsepaltest.Device
	silent map[string]bool
	opens  int
}

func (p *simPorts) Open(_ context.Context, portName string) (io.ReadWriteCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opens++
	sim := pulsepaltest.New(20)
	if p.silent[portName] {
		sim = pulsepaltest.NewWithResponse(nil)
	}
	p.sims[portName] = append(p.sims[portName], sim)
	return sim, nil
}

func (p *simPorts) last(portName string) *pulsepaltest.Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	sims := p.sims[portName]
	if len(sims) == 0 {
		return nil
	}
	return sims[len(sims)-1]
}

func (p *simPorts) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens
}

func newTestService(t *testing.T) (*PulsePalService, *simPorts) {
	t.Helper()
	ports := &simPorts{
		sims:   make(map[string][]*pulsepaltest.Device),
		silent: map[string]bool{"SILENT": true},
	}
	manager := driver.NewManager(ports, zap.NewNop(), driver.Options{})
	cfg := &config.Config{
		Devices: []config.DevicePreset{
			{
				Name:     "rig-a",
				PortName: "COM7",
				TriggerChannels: []config.TriggerChannelPreset{
					{Channel: 1, TriggerMode: "toggle"},
				},
			},
		},
	}
	lister := func() ([]protocol.PortInfo, error) {
		return []protocol.PortInfo{{Name: "COM7", IsUSB: true}}, nil
	}
	svc := NewPulsePalService(manager, cfg, lister, zap.NewNop())
	t.Cleanup(func() {
		svc.Close()
		manager.Close()
	})
	return svc, ports
}

func TestCommandOpensAndReleasesSession(t *testing.T) {
	svc, ports := newTestService(t)
	ctx := context.Background()

	if err := svc.Trigger(ctx, "COM5", []int{1, 3}); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	sim := ports.last("COM5")
	if sim == nil {
		t.Fatal("no transport opened for COM5")
	}
	frames := sim.Frames()
	if len(frames) != 4 {
		t.Fatalf("frames = % X, want handshake, client id, trigger, disconnect", frames)
	}
	if !bytes.Equal(frames[2], []byte{0xD5, 0x4D, 0x05}) {
		t.Errorf("trigger frame = % X", frames[2])
	}
	if !sim.IsClosed() {
		t.Error("unheld session left open after the command")
	}
	if n := len(svc.Sessions()); n != 0 {
		t.Errorf("%d sessions open", n)
	}
}

func TestHeldConnectionKeepsSessionOpen(t *testing.T) {
	svc, ports := newTestService(t)
	ctx := context.Background()

	info, err := svc.Connect(ctx, "rig-a")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if info.PortName != "COM7" || info.DACBits != 16 {
		t.Errorf("info = %+v", info)
	}

	if err := svc.Abort(ctx, "rig-a"); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if err := svc.Display(ctx, "rig-a", []string{"Hello"}); err != nil {
		t.Fatalf("Display: %v", err)
	}
	if ports.count() != 1 {
		t.Fatalf("transport opened %d times, want 1", ports.count())
	}

	sim := ports.last("COM7")
	want := [][]byte{
		{0xD5, 0x48},
		{0xD5, 0x59, 'G', 'o', 'P', 'u', 'l', 's'},
		{0xD5, 0x4A, 0x80, 0x01, 0x01},
		{0xD5, 0x50},
		{0xD5, 0x4E, 0x05, 'H', 'e', 'l', 'l', 'o'},
	}
	frames := sim.Frames()
	if len(frames) != len(want) {
		t.Fatalf("frames = % X, want % X", frames, want)
	}
	for i := range want {
		if !bytes.Equal(frames[i], want[i]) {
			t.Errorf("frame %d = % X, want % X", i, frames[i], want[i])
		}
	}

	if _, err := svc.Connect(ctx, "rig-a"); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect: err = %v, want ErrAlreadyConnected", err)
	}

	if err := svc.Disconnect(ctx, "rig-a"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if !sim.IsClosed() {
		t.Error("session still open after Disconnect")
	}
	if err := svc.Disconnect(ctx, "rig-a"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("second Disconnect: err = %v, want ErrNotConnected", err)
	}
}

func TestSetParameter(t *testing.T) {
	svc, ports := newTestService(t)
	ctx := WithRequestID(context.Background(), "req-1")

	if _, err := svc.Connect(ctx, "COM5"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	req := ParameterRequest{Channel: 2, Parameter: "phase1_duration", Value: 0.001}
	if err := svc.SetParameter(ctx, "COM5", req); err != nil {
		t.Fatalf("SetParameter: %v", err)
	}
	want := []byte{0xD5, 0x4A, 0x04, 0x02, 0x14, 0x00, 0x00, 0x00}
	if got := ports.last("COM5").LastFrame(); !bytes.Equal(got, want) {
		t.Errorf("frame = % X, want % X", got, want)
	}
}

func TestCommandValidation(t *testing.T) {
	svc, ports := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"no trigger channels", func() error { return svc.Trigger(ctx, "COM5", nil) }, pulsepal.ErrInvalidArgument},
		{"bad trigger channel", func() error { return svc.Trigger(ctx, "COM5", []int{5}) }, pulsepal.ErrInvalidArgument},
		{"bad voltage channel", func() error { return svc.SetFixedVoltage(ctx, "COM5", 0, 1) }, pulsepal.ErrInvalidArgument},
		{"unknown parameter", func() error {
			return svc.SetParameter(ctx, "COM5", ParameterRequest{Channel: 1, Parameter: "warp_factor"})
		}, pulsepal.ErrInvalidArgument},
		{"train slot none", func() error { return svc.UploadPulseTrain(ctx, "COM5", "none", nil) }, pulsepal.ErrInvalidArgument},
		{"unknown train", func() error { return svc.UploadWaveform(ctx, "COM5", "3", 0.001, []float64{1}) }, pulsepal.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if ports.count() != 0 {
		t.Errorf("validation failures opened %d transports", ports.count())
	}
}

func TestOutOfRangeValueReachesCaller(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.SetFixedVoltage(context.Background(), "COM5", 1, 10.5)
	if !errors.Is(err, pulsepal.ErrOutOfRange) {
		t.Fatalf("err = %v, want ErrOutOfRange", err)
	}
	var cmdErr *pulsepal.CommandError
	if !errors.As(err, &cmdErr) {
		t.Errorf("err = %v, want a CommandError", err)
	}
}

func TestUploadPulseTrain(t *testing.T) {
	svc, ports := newTestService(t)

	pulses := []pulsepal.PulseOnset{{Time: 0, Voltage: 5}, {Time: 0.001, Voltage: -5}}
	if err := svc.UploadPulseTrain(context.Background(), "COM5", "train2", pulses); err != nil {
		t.Fatalf("UploadPulseTrain: %v", err)
	}
	frames := ports.last("COM5").Frames()
	upload := frames[2]
	if upload[0] != 0xD5 || upload[1] != 0x4C {
		t.Errorf("upload frame starts % X, want D5 4C", upload[:2])
	}
}

func TestPresetsAndPorts(t *testing.T) {
	svc, _ := newTestService(t)

	presets := svc.Presets()
	if len(presets) != 1 || presets[0].Name != "rig-a" {
		t.Errorf("presets = %+v", presets)
	}
	ports, err := svc.ListPorts()
	if err != nil || len(ports) != 1 || ports[0].Name != "COM7" {
		t.Errorf("ports = %+v, err = %v", ports, err)
	}
}

func TestReleaseFailed(t *testing.T) {
	svc, ports := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Connect(ctx, "COM5"); err != nil {
		t.Fatalf("Connect COM5: %v", err)
	}
	if _, err := svc.Connect(ctx, "COM6"); err != nil {
		t.Fatalf("Connect COM6: %v", err)
	}

	ports.last("COM5").Unplug()
	deadline := time.Now().Add(2 * time.Second)
	for {
		sessions := svc.Sessions()
		if len(sessions) == 2 && sessions[0].Device != nil && sessions[0].Device.Error != "" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session failure not observed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	released := svc.ReleaseFailed()
	if len(released) != 1 || released[0] != "COM5" {
		t.Fatalf("released %v, want [COM5]", released)
	}
	sessions := svc.Sessions()
	if len(sessions) != 1 || sessions[0].Name != "COM6" {
		t.Errorf("sessions = %+v, want only COM6", sessions)
	}
	if _, err := svc.Connect(ctx, "COM5"); err != nil {
		t.Errorf("reconnect after release: %v", err)
	}
}

func TestPendingConnectDoesNotBlockOtherDevices(t *testing.T) {
	svc, _ := newTestService(t)

	pending := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, err := svc.Connect(ctx, "SILENT")
		pending <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(svc.Sessions()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, err := svc.Connect(ctx, "COM5"); err != nil {
		t.Fatalf("Connect COM5 while SILENT handshakes: %v", err)
	}
	if _, err := svc.Connect(context.Background(), "SILENT"); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("Connect SILENT while pending: err = %v, want ErrAlreadyConnected", err)
	}
	if err := svc.Disconnect(context.Background(), "COM5"); err != nil {
		t.Errorf("Disconnect COM5: %v", err)
	}

	if err := <-pending; err == nil {
		t.Fatal("connect to a silent device succeeded")
	}
	retryCtx, retryCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer retryCancel()
	if _, err := svc.Connect(retryCtx, "SILENT"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("retry after failed connect: err = %v, want DeadlineExceeded", err)
	}
}

func TestConnectEmptyNameHoldsResolvedSession(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conn, err := svc.manager.Checkout(ctx, "COM5", nil)
	if err != nil {
		t.Fatalf("Checkout COM5: %v", err)
	}
	info, err := svc.Connect(ctx, "")
	conn.Close()
	if err != nil {
		t.Fatalf("Connect(\"\"): %v", err)
	}
	if info.PortName != "COM5" {
		t.Fatalf("resolved to %q, want COM5", info.PortName)
	}
	if _, err := svc.Connect(ctx, "COM5"); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("Connect COM5: err = %v, want ErrAlreadyConnected", err)
	}

	if err := svc.Disconnect(ctx, "COM5"); err != nil {
		t.Fatalf("Disconnect COM5: %v", err)
	}
	if _, err := svc.Connect(ctx, "COM6"); err != nil {
		t.Fatalf("Connect COM6: %v", err)
	}
	if _, err := svc.Connect(ctx, ""); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("Connect(\"\") with COM6 held: err = %v, want ErrAlreadyConnected", err)
	}
	if n := len(svc.Sessions()); n != 1 {
		t.Errorf("%d sessions open, want 1", n)
	}
}
