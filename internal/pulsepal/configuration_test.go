package pulsepal

import (
	"errors"
	"math"
	"testing"

	"pulsepal-service/internal/pulsepal/pulsepaltest"
)

func TestOutputChannelConfigurationOrder(t *testing.T) {
	sim := pulsepaltest.New(20)
	d := openDevice(t, sim)

	cfg := DefaultOutputChannelConfiguration(OutputChannel2)
	cfg.Phase1Voltage = 5
	cfg.ContinuousLoop = true
	if err := cfg.Apply(d); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	frames := sim.Frames()[1:]
	if len(frames) != 18 {
		t.Fatalf("%d frames, want 18", len(frames))
	}
	for i, frame := range frames[:17] {
		if frame[1] != OpProgramParam {
			t.Fatalf("frame %d opcode = %#x, want program parameter", i, frame[1])
		}
		if want := byte(i + 1); frame[2] != want {
			t.Errorf("frame %d parameter = %d, want %d", i, frame[2], want)
		}
		if frame[3] != 2 {
			t.Errorf("frame %d channel = %d, want 2", i, frame[3])
		}
	}
	loop := frames[17]
	if loop[1] != OpLoop || loop[2] != 2 || loop[3] != 1 {
		t.Errorf("loop frame = % X", loop)
	}

	// Phase1Duration defaults to the shortest period.
	if got := frames[3][4]; got != 2 {
		t.Errorf("phase1 duration cycles = %d, want 2", got)
	}
}

func TestOutputChannelConfigurationRejectsBadChannel(t *testing.T) {
	sim := pulsepaltest.New(20)
	d := openDevice(t, sim)

	cfg := DefaultOutputChannelConfiguration(OutputChannel(7))
	if err := cfg.Apply(d); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("error = %v, want ErrInvalidArgument", err)
	}
	if n := len(sim.Frames()); n != 1 {
		t.Errorf("%d frames written, want only the handshake", n)
	}
}

func TestNewConfigurationOrdersOutputsBeforeTriggers(t *testing.T) {
	cfg := NewConfiguration("COM5",
		[]OutputChannelConfiguration{DefaultOutputChannelConfiguration(OutputChannel1)},
		[]TriggerChannelConfiguration{{Channel: TriggerChannel1, TriggerMode: TriggerToggle}},
	)
	if cfg.PortName != "COM5" || len(cfg.Items) != 2 {
		t.Fatalf("configuration = %+v", cfg)
	}
	if _, ok := cfg.Items[0].(*OutputChannelConfiguration); !ok {
		t.Errorf("item 0 = %T, want output channel", cfg.Items[0])
	}
	if _, ok := cfg.Items[1].(*TriggerChannelConfiguration); !ok {
		t.Errorf("item 1 = %T, want trigger channel", cfg.Items[1])
	}

	sim := pulsepaltest.New(5)
	d := openDevice(t, sim)
	if err := cfg.Apply(d); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	last := sim.LastFrame()
	if last[2] != byte(TriggerModeParam) || last[3] != 1 || last[4] != byte(TriggerToggle) {
		t.Errorf("last frame = % X, want trigger mode for channel 1", last)
	}
}

func TestConfigurationStopsAtFirstError(t *testing.T) {
	sim := pulsepaltest.New(20)
	d := openDevice(t, sim)

	cfg := &Configuration{Items: []ParameterConfiguration{
		Phase1VoltageConfiguration{OutputChannel1, 1},
		Phase1VoltageConfiguration{OutputChannel1, 20},
		Phase1VoltageConfiguration{OutputChannel1, 2},
	}}
	if err := cfg.Apply(d); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("error = %v, want ErrOutOfRange", err)
	}
	if n := len(sim.Frames()); n != 2 {
		t.Errorf("%d frames written, want handshake plus one", n)
	}

	var nilCfg *Configuration
	if err := nilCfg.Apply(d); err != nil {
		t.Errorf("nil configuration Apply: %v", err)
	}
}

func TestNewParameterConfiguration(t *testing.T) {
	tests := []struct {
		name    string
		code    ParameterCode
		channel byte
		value   float64
		want    ParameterConfiguration
		wantErr bool
	}{
		{"voltage", Phase1Voltage, 1, 2.5, Phase1VoltageConfiguration{OutputChannel1, 2.5}, false},
		{"duration", Phase2Duration, 4, 0.01, Phase2DurationConfiguration{OutputChannel4, 0.01}, false},
		{"flag", TriggerOnChannel2, 3, 1, TriggerOnChannel2Configuration{OutputChannel3, true}, false},
		{"identity", CustomTrainIdentity, 2, 2, CustomTrainIdentityConfiguration{OutputChannel2, CustomTrain2}, false},
		{"target", CustomTrainTarget, 2, 1, CustomTrainTargetConfiguration{OutputChannel2, TargetBurstOnset}, false},
		{"trigger mode", TriggerModeParam, 2, 2, TriggerModeConfiguration{TriggerChannel2, TriggerPulseGated}, false},
		{"trigger mode bad channel", TriggerModeParam, 4, 0, nil, true},
		{"output bad channel", Biphasic, 0, 1, nil, true},
		{"unknown code", ParameterCode(42), 1, 0, nil, true},
		{"flag off", Biphasic, 1, 0, BiphasicConfiguration{OutputChannel1, false}, false},
		{"flag above one", Biphasic, 1, 7, nil, true},
		{"flag fraction", CustomTrainLoop, 1, 0.5, nil, true},
		{"flag negative", TriggerOnChannel1, 1, -1, nil, true},
		{"identity none", CustomTrainIdentity, 1, 0, CustomTrainIdentityConfiguration{OutputChannel1, CustomTrainNone}, false},
		{"identity above byte", CustomTrainIdentity, 1, 256, nil, true},
		{"identity out of range", CustomTrainIdentity, 1, 3, nil, true},
		{"identity fraction", CustomTrainIdentity, 1, 1.5, nil, true},
		{"identity NaN", CustomTrainIdentity, 1, math.NaN(), nil, true},
		{"target out of range", CustomTrainTarget, 1, 2, nil, true},
		{"trigger mode above byte", TriggerModeParam, 1, 256, nil, true},
		{"trigger mode negative", TriggerModeParam, 1, -1, nil, true},
		{"trigger mode fraction", TriggerModeParam, 1, 1.5, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewParameterConfiguration(tt.code, tt.channel, tt.value)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidArgument) {
					t.Fatalf("error = %v, want ErrInvalidArgument", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}
