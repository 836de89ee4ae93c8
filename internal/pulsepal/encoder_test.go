package pulsepal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
)

func mustEncoder(t *testing.T, firmware int) *Encoder {
	t.Helper()
	enc, err := NewEncoder(firmware)
	if err != nil {
		t.Fatalf("NewEncoder(%d): %v", firmware, err)
	}
	return enc
}

func TestEncodeFixedFrames(t *testing.T) {
	var buf [CommandBufferSize]byte

	tests := []struct {
		name   string
		encode func(buf []byte) (int, error)
		want   []byte
	}{
		{
			name:   "handshake",
			encode: func(b []byte) (int, error) { return EncodeHandshake(b), nil },
			want:   []byte{0xD5, 0x48},
		},
		{
			name:   "disconnect",
			encode: func(b []byte) (int, error) { return EncodeDisconnect(b), nil },
			want:   []byte{0xD5, 0x51},
		},
		{
			name:   "abort",
			encode: func(b []byte) (int, error) { return EncodeAbort(b), nil },
			want:   []byte{0xD5, 0x50},
		},
		{
			name:   "trigger channels 1 and 3",
			encode: func(b []byte) (int, error) { return EncodeTrigger(b, MaskChannel1|MaskChannel3) },
			want:   []byte{0xD5, 0x4D, 0x05},
		},
		{
			name:   "continuous loop",
			encode: func(b []byte) (int, error) { return EncodeContinuousLoop(b, OutputChannel4, true) },
			want:   []byte{0xD5, 0x52, 0x04, 0x01},
		},
		{
			name:   "client id",
			encode: func(b []byte) (int, error) { return EncodeClientID(b, "GoPuls"), nil },
			want:   []byte{0xD5, 0x59, 'G', 'o', 'P', 'u', 'l', 's'},
		},
		{
			name:   "client id padded",
			encode: func(b []byte) (int, error) { return EncodeClientID(b, "ab"), nil },
			want:   []byte{0xD5, 0x59, 'a', 'b', ' ', ' ', ' ', ' '},
		},
		{
			name:   "client id truncated",
			encode: func(b []byte) (int, error) { return EncodeClientID(b, "Matlab-R2024"), nil },
			want:   []byte{0xD5, 0x59, 'M', 'a', 't', 'l', 'a', 'b'},
		},
		{
			name:   "display one row",
			encode: func(b []byte) (int, error) { return EncodeDisplay(b, "Hello") },
			want:   []byte{0xD5, 0x4E, 0x05, 'H', 'e', 'l', 'l', 'o'},
		},
		{
			name:   "display two rows",
			encode: func(b []byte) (int, error) { return EncodeDisplay(b, "A", "B") },
			want:   []byte{0xD5, 0x4E, 0x03, 'A', 0xFE, 'B'},
		},
		{
			name:   "display empty second row",
			encode: func(b []byte) (int, error) { return EncodeDisplay(b, "row1", "") },
			want:   []byte{0xD5, 0x4E, 0x04, 'r', 'o', 'w', '1'},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := tt.encode(buf[:])
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := buf[:n]; !bytes.Equal(got, tt.want) {
				t.Errorf("frame = % X, want % X", got, tt.want)
			}
		})
	}
}

func TestEncodeDisplayTruncatesRows(t *testing.T) {
	var buf [CommandBufferSize]byte
	long := strings.Repeat("x", 20)

	n, err := EncodeDisplay(buf[:], long, long)
	if err != nil {
		t.Fatalf("EncodeDisplay: %v", err)
	}
	if n != CommandBufferSize {
		t.Fatalf("frame length = %d, want %d", n, CommandBufferSize)
	}
	if buf[2] != 33 {
		t.Errorf("length byte = %d, want 33", buf[2])
	}
	if buf[19] != LineBreak {
		t.Errorf("byte 19 = %#x, want line break", buf[19])
	}

	if _, err := EncodeDisplay(buf[:], "a", "b", "c"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("three rows error = %v, want ErrInvalidArgument", err)
	}
	if _, err := EncodeDisplay(buf[:]); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("no rows error = %v, want ErrInvalidArgument", err)
	}
}

func TestEncodeTriggerRejectsBadMask(t *testing.T) {
	var buf [CommandBufferSize]byte
	for _, mask := range []ChannelMask{0, 0x10, 0xFF} {
		if _, err := EncodeTrigger(buf[:], mask); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("EncodeTrigger(%#x) error = %v, want ErrInvalidArgument", byte(mask), err)
		}
	}
}

func TestMaskOf(t *testing.T) {
	mask, err := MaskOf(OutputChannel1, OutputChannel3)
	if err != nil {
		t.Fatalf("MaskOf: %v", err)
	}
	if mask != 0x05 {
		t.Errorf("MaskOf(1, 3) = %#x, want 0x05", byte(mask))
	}
	if _, err := MaskOf(OutputChannel(5)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("MaskOf(5) error = %v, want ErrInvalidArgument", err)
	}
}

func TestEncodeParameter(t *testing.T) {
	tests := []struct {
		name     string
		firmware int
		code     ParameterCode
		channel  byte
		value    float64
		want     []byte
		wantErr  error
	}{
		{
			name: "time value is four byte cycle count", firmware: 20,
			code: Phase1Duration, channel: 1, value: 0.001,
			want: []byte{0xD5, 0x4A, 0x04, 0x01, 0x14, 0x00, 0x00, 0x00},
		},
		{
			name: "max time", firmware: 20,
			code: PulseTrainDuration, channel: 2, value: MaxTimePeriod,
			want: []byte{0xD5, 0x4A, 0x0A, 0x02, 0x00, 0xA2, 0x4A, 0x04},
		},
		{
			name: "16-bit voltage", firmware: 20,
			code: Phase1Voltage, channel: 2, value: 10,
			want: []byte{0xD5, 0x4A, 0x02, 0x02, 0xFF, 0xFF},
		},
		{
			name: "8-bit voltage", firmware: 5,
			code: Phase1Voltage, channel: 2, value: 10,
			want: []byte{0xD5, 0x4A, 0x02, 0x02, 0xFF},
		},
		{
			name: "resting voltage", firmware: 5,
			code: RestingVoltage, channel: 4, value: -10,
			want: []byte{0xD5, 0x4A, 0x11, 0x04, 0x00},
		},
		{
			name: "flag", firmware: 20,
			code: Biphasic, channel: 3, value: 1,
			want: []byte{0xD5, 0x4A, 0x01, 0x03, 0x01},
		},
		{
			name: "trigger mode", firmware: 20,
			code: TriggerModeParam, channel: 2, value: 2,
			want: []byte{0xD5, 0x4A, 0x80, 0x02, 0x02},
		},
		{
			name: "output channel out of range", firmware: 20,
			code: Phase1Voltage, channel: 5, value: 1,
			wantErr: ErrInvalidArgument,
		},
		{
			name: "trigger channel out of range", firmware: 20,
			code: TriggerModeParam, channel: 3, value: 0,
			wantErr: ErrInvalidArgument,
		},
		{
			name: "voltage out of range", firmware: 20,
			code: Phase2Voltage, channel: 1, value: 11,
			wantErr: ErrOutOfRange,
		},
		{
			name: "time out of range", firmware: 20,
			code: InterPulseInterval, channel: 1, value: 4000,
			wantErr: ErrOutOfRange,
		},
		{
			name: "fractional flag", firmware: 20,
			code: Biphasic, channel: 1, value: 1.5,
			wantErr: ErrInvalidArgument,
		},
		{
			name: "unknown code", firmware: 20,
			code: ParameterCode(99), channel: 1, value: 0,
			wantErr: ErrInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf [CommandBufferSize]byte
			n, err := mustEncoder(t, tt.firmware).EncodeParameter(buf[:], tt.code, tt.channel, tt.value)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := buf[:n]; !bytes.Equal(got, tt.want) {
				t.Errorf("frame = % X, want % X", got, tt.want)
			}
		})
	}
}

func TestEncodeFixedVoltage(t *testing.T) {
	var buf [CommandBufferSize]byte
	n, err := mustEncoder(t, 20).EncodeFixedVoltage(buf[:], OutputChannel1, 0)
	if err != nil {
		t.Fatalf("EncodeFixedVoltage: %v", err)
	}
	want := []byte{0xD5, 0x4F, 0x01, 0x00, 0x80}
	if !bytes.Equal(buf[:n], want) {
		t.Errorf("frame = % X, want % X", buf[:n], want)
	}

	if _, err := mustEncoder(t, 20).EncodeFixedVoltage(buf[:], OutputChannel(0), 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("channel 0 error = %v, want ErrInvalidArgument", err)
	}
}

func TestEncodeCustomTrain(t *testing.T) {
	t.Run("16-bit layout", func(t *testing.T) {
		frame, err := mustEncoder(t, 20).EncodeCustomTrain(CustomTrain1, []float64{0, 0.001}, []float64{10, -10})
		if err != nil {
			t.Fatalf("EncodeCustomTrain: %v", err)
		}
		want := []byte{
			0xD5, 0x4B,
			0x02, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00,
			0x14, 0x00, 0x00, 0x00,
			0xFF, 0xFF,
			0x00, 0x00,
		}
		if !bytes.Equal(frame, want) {
			t.Errorf("frame = % X, want % X", frame, want)
		}
	})

	t.Run("8-bit layout has alignment byte", func(t *testing.T) {
		frame, err := mustEncoder(t, 5).EncodeCustomTrain(CustomTrain2, []float64{0, 0.001}, []float64{10, -10})
		if err != nil {
			t.Fatalf("EncodeCustomTrain: %v", err)
		}
		want := []byte{
			0xD5, 0x4C, 0x00,
			0x02, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00,
			0x14, 0x00, 0x00, 0x00,
			0xFF,
			0x00,
		}
		if !bytes.Equal(frame, want) {
			t.Errorf("frame = % X, want % X", frame, want)
		}
	})

	t.Run("empty train", func(t *testing.T) {
		frame, err := mustEncoder(t, 20).EncodeCustomTrain(CustomTrain1, nil, nil)
		if err != nil {
			t.Fatalf("EncodeCustomTrain: %v", err)
		}
		want := []byte{0xD5, 0x4B, 0x00, 0x00, 0x00, 0x00}
		if !bytes.Equal(frame, want) {
			t.Errorf("frame = % X, want % X", frame, want)
		}
	})

	tooMany := make([]float64, MaxPulseCount+1)
	errTests := []struct {
		name     string
		id       CustomTrainID
		times    []float64
		voltages []float64
		wantErr  error
	}{
		{"too many pulses", CustomTrain1, tooMany, tooMany, ErrInvalidArgument},
		{"mismatched arrays", CustomTrain1, []float64{0, 1}, []float64{0}, ErrInvalidArgument},
		{"no train slot", CustomTrainNone, []float64{0}, []float64{0}, ErrInvalidArgument},
		{"bad slot", CustomTrainID(3), []float64{0}, []float64{0}, ErrInvalidArgument},
		{"voltage out of range", CustomTrain1, []float64{0}, []float64{12}, ErrOutOfRange},
		{"time out of range", CustomTrain1, []float64{-1}, []float64{0}, ErrOutOfRange},
	}
	for _, tt := range errTests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := mustEncoder(t, 20).EncodeCustomTrain(tt.id, tt.times, tt.voltages)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if frame != nil {
				t.Errorf("frame = % X, want nil", frame)
			}
		})
	}

	t.Run("max pulses", func(t *testing.T) {
		full := make([]float64, MaxPulseCount)
		frame, err := mustEncoder(t, 20).EncodeCustomTrain(CustomTrain1, full, full)
		if err != nil {
			t.Fatalf("EncodeCustomTrain: %v", err)
		}
		if want := 2 + 4 + MaxPulseCount*4 + MaxPulseCount*2; len(frame) != want {
			t.Errorf("frame length = %d, want %d", len(frame), want)
		}
	})
}

func TestEncodeCustomWaveform(t *testing.T) {
	frame, err := mustEncoder(t, 20).EncodeCustomWaveform(CustomTrain2, 0.0005, []float64{1, 2, 3})
	if err != nil {
		t.Fatalf("EncodeCustomWaveform: %v", err)
	}
	if frame[1] != OpPulseTrain2 {
		t.Errorf("opcode = %#x, want %#x", frame[1], OpPulseTrain2)
	}
	if count := binary.LittleEndian.Uint32(frame[2:]); count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
	for i, want := range []uint32{0, 10, 20} {
		if got := binary.LittleEndian.Uint32(frame[6+4*i:]); got != want {
			t.Errorf("onset %d = %d cycles, want %d", i, got, want)
		}
	}
	if want := 2 + 4 + 3*4 + 3*2; len(frame) != want {
		t.Errorf("frame length = %d, want %d", len(frame), want)
	}

	if _, err := mustEncoder(t, 20).EncodeCustomWaveform(CustomTrain1, 0.00005, []float64{0}); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("short period error = %v, want ErrOutOfRange", err)
	}
	if _, err := mustEncoder(t, 20).EncodeCustomWaveform(CustomTrain1, 0.001, make([]float64, MaxPulseCount+1)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("too many samples error = %v, want ErrInvalidArgument", err)
	}
}

func TestParseParameterCode(t *testing.T) {
	tests := []struct {
		name    string
		want    ParameterCode
		wantErr bool
	}{
		{"phase1_voltage", Phase1Voltage, false},
		{"Phase1-Voltage", Phase1Voltage, false},
		{" trigger_mode ", TriggerModeParam, false},
		{"resting_voltage", RestingVoltage, false},
		{"bogus", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseParameterCode(tt.name)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("ParseParameterCode(%q) error = %v, want ErrInvalidArgument", tt.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseParameterCode(%q) unexpected error: %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseParameterCode(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
