// internal/pulsepal/encoder.go
package pulsepal

import (
	"encoding/binary"

	"github.com/shopspring/decimal"
)

// EncodeHandshake writes the handshake request.
func EncodeHandshake(buf []byte) int {
	buf[0] = OpMenu
	buf[1] = OpHandshake
	return 2
}

// EncodeDisconnect writes the disconnect request that returns the device to
// standalone mode.
func EncodeDisconnect(buf []byte) int {
	buf[0] = OpMenu
	buf[1] = OpDisconnect
	return 2
}

// EncodeAbort writes the command that stops all running pulse trains.
func EncodeAbort(buf []byte) int {
	buf[0] = OpMenu
	buf[1] = OpAbort
	return 2
}

// EncodeTrigger writes a software trigger for the channels in mask.
func EncodeTrigger(buf []byte, mask ChannelMask) (int, error) {
	if mask == 0 || mask > MaskChannel1|MaskChannel2|MaskChannel3|MaskChannel4 {
		return 0, invalidArgument("trigger mask %#x", byte(mask))
	}
	buf[0] = OpMenu
	buf[1] = OpTrigger
	buf[2] = byte(mask)
	return 3, nil
}

// EncodeContinuousLoop writes the continuous loop flag for one output channel.
func EncodeContinuousLoop(buf []byte, channel OutputChannel, enabled bool) (int, error) {
	if !channel.Valid() {
		return 0, invalidArgument("output channel %d", channel)
	}
	buf[0] = OpMenu
	buf[1] = OpLoop
	buf[2] = byte(channel)
	buf[3] = boolByte(enabled)
	return 4, nil
}

// EncodeClientID writes the client identification, space padded or truncated
// to six ASCII characters.
func EncodeClientID(buf []byte, id string) int {
	buf[0] = OpMenu
	buf[1] = OpClientID
	putASCII(buf[2:2+clientIDLength], id, ' ')
	return 2 + clientIDLength
}

// EncodeDisplay writes a display update with one or two rows of at most 16
// characters each. The length byte counts the text bytes that follow it. An
// empty second row is left out along with its line break.
func EncodeDisplay(buf []byte, rows ...string) (int, error) {
	if len(rows) == 0 || len(rows) > 2 {
		return 0, invalidArgument("display takes 1 or 2 rows, got %d", len(rows))
	}
	if len(rows) == 2 && rows[1] == "" {
		rows = rows[:1]
	}

	buf[0] = OpMenu
	buf[1] = OpDisplay
	n := 3
	for i, row := range rows {
		if i > 0 {
			buf[n] = LineBreak
			n++
		}
		width := len([]rune(row))
		if width > displayRowLength {
			width = displayRowLength
		}
		putASCII(buf[n:n+width], row, ' ')
		n += width
	}
	buf[2] = byte(n - 3)
	return n, nil
}

// Encoder builds the frames whose layout depends on the device generation.
// It is selected once when the handshake completes.
type Encoder struct {
	firmware int
	dac      DACResolution
}

// NewEncoder returns the encoder for a firmware version.
func NewEncoder(firmware int) (*Encoder, error) {
	dac, err := ResolutionForFirmware(firmware)
	if err != nil {
		return nil, err
	}
	return &Encoder{firmware: firmware, dac: dac}, nil
}

// Firmware returns the firmware version the encoder was built for.
func (e *Encoder) Firmware() int {
	return e.firmware
}

// DAC returns the voltage encoding in use.
func (e *Encoder) DAC() DACResolution {
	return e.dac
}

// EncodeParameter writes a program-parameter frame. The value is interpreted
// according to the parameter class: seconds for durations and intervals, volts
// for voltages, and the raw byte value for flags and enumerations.
func (e *Encoder) EncodeParameter(buf []byte, code ParameterCode, channel byte, value float64) (int, error) {
	info, ok := parameterTable[code]
	if !ok {
		return 0, invalidArgument("unknown parameter code %d", byte(code))
	}
	if info.trigger {
		if !TriggerChannel(channel).Valid() {
			return 0, invalidArgument("trigger channel %d", channel)
		}
	} else if !OutputChannel(channel).Valid() {
		return 0, invalidArgument("output channel %d", channel)
	}

	buf[0] = OpMenu
	buf[1] = OpProgramParam
	buf[2] = byte(code)
	buf[3] = channel
	payload := buf[4:]

	switch info.class {
	case classTime:
		cycles, err := TimeToCycles(value)
		if err != nil {
			return 0, err
		}
		binary.LittleEndian.PutUint32(payload, cycles)
		return 8, nil
	case classVoltage:
		n, err := e.dac.PutVoltage(payload, value)
		if err != nil {
			return 0, err
		}
		return 4 + n, nil
	default:
		if value < 0 || value > 255 || value != float64(byte(value)) {
			return 0, invalidArgument("%s value %v", code, value)
		}
		payload[0] = byte(value)
		return 5, nil
	}
}

// EncodeFixedVoltage writes a command that holds an output channel at a voltage.
func (e *Encoder) EncodeFixedVoltage(buf []byte, channel OutputChannel, volts float64) (int, error) {
	if !channel.Valid() {
		return 0, invalidArgument("output channel %d", channel)
	}
	buf[0] = OpMenu
	buf[1] = OpSetVoltage
	buf[2] = byte(channel)
	n, err := e.dac.PutVoltage(buf[3:], volts)
	if err != nil {
		return 0, err
	}
	return 3 + n, nil
}

// EncodeCustomTrain builds the upload frame for a custom pulse train. The
// frame is sized to the payload. All values are validated before the frame is
// allocated.
func (e *Encoder) EncodeCustomTrain(id CustomTrainID, times, voltages []float64) ([]byte, error) {
	if len(times) != len(voltages) {
		return nil, invalidArgument("%d pulse times but %d voltages", len(times), len(voltages))
	}
	if len(times) > MaxPulseCount {
		return nil, invalidArgument("%d pulses exceeds %d", len(times), MaxPulseCount)
	}
	cycles := make([]uint32, len(times))
	for i, t := range times {
		c, err := TimeToCycles(t)
		if err != nil {
			return nil, err
		}
		cycles[i] = c
	}
	return e.encodeTrain(id, cycles, voltages)
}

// EncodeCustomWaveform builds a custom train upload whose onsets are spaced by
// a fixed sampling period: onset i is i × samplingPeriod.
func (e *Encoder) EncodeCustomWaveform(id CustomTrainID, samplingPeriod float64, voltages []float64) ([]byte, error) {
	if samplingPeriod < MinTimePeriod || samplingPeriod > MaxTimePeriod {
		return nil, outOfRange("sampling period %v s", samplingPeriod)
	}
	if len(voltages) > MaxPulseCount {
		return nil, invalidArgument("%d pulses exceeds %d", len(voltages), MaxPulseCount)
	}

	period := decimal.NewFromFloat(samplingPeriod)
	cycles := make([]uint32, len(voltages))
	for i := range voltages {
		c, err := secondsToCycles(period.Mul(decimal.NewFromInt(int64(i))))
		if err != nil {
			return nil, err
		}
		cycles[i] = c
	}
	return e.encodeTrain(id, cycles, voltages)
}

func (e *Encoder) encodeTrain(id CustomTrainID, cycles []uint32, voltages []float64) ([]byte, error) {
	var opcode byte
	switch id {
	case CustomTrain1:
		opcode = OpPulseTrain1
	case CustomTrain2:
		opcode = OpPulseTrain2
	default:
		return nil, invalidArgument("custom train identity %d", byte(id))
	}
	if len(cycles) > MaxPulseCount {
		return nil, invalidArgument("%d pulses exceeds %d", len(cycles), MaxPulseCount)
	}
	for _, v := range voltages {
		if _, err := VoltageToSteps(v, e.dac.Max); err != nil {
			return nil, err
		}
	}

	header := 2
	if e.firmware < firmware16BitDAC {
		header++ // USB packet alignment byte on 8-bit devices
	}
	count := len(cycles)
	frame := make([]byte, header+4+count*4+count*e.dac.Width)
	frame[0] = OpMenu
	frame[1] = opcode

	offset := header
	binary.LittleEndian.PutUint32(frame[offset:], uint32(count))
	offset += 4
	for _, c := range cycles {
		binary.LittleEndian.PutUint32(frame[offset:], c)
		offset += 4
	}
	for _, v := range voltages {
		n, err := e.dac.PutVoltage(frame[offset:], v)
		if err != nil {
			return nil, err
		}
		offset += n
	}
	return frame, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// putASCII copies text into dst, replacing non-ASCII runes with '?' and
// filling the remainder with pad.
func putASCII(dst []byte, text string, pad byte) {
	i := 0
	for _, r := range text {
		if i == len(dst) {
			return
		}
		if r > 0x7E || r < 0x20 {
			r = '?'
		}
		dst[i] = byte(r)
		i++
	}
	for ; i < len(dst); i++ {
		dst[i] = pad
	}
}
