// internal/pulsepal/units.go
package pulsepal

import (
	"encoding/binary"
	"math"

	"github.com/shopspring/decimal"
)

// Device timing and output limits
const (
	CycleFrequency = 20000 // device clock ticks per second

	MinTimePeriod = 0.0001
	MaxTimePeriod = 3600.0

	MinVoltage = -10.0
	MaxVoltage = 10.0

	// MaxCyclePeriod is MaxTimePeriod expressed in cycles.
	MaxCyclePeriod = 72000000

	VoltageDecimalPlaces = 3
	TimeDecimalPlaces    = 4
)

var (
	cycleFrequency = decimal.NewFromInt(CycleFrequency)
	maxCycles      = decimal.NewFromInt(MaxCyclePeriod)
	voltageOffset  = decimal.NewFromInt(10)
	voltageSpan    = decimal.NewFromInt(20)
)

// TimeToCycles converts seconds to the device's cycle count.
func TimeToCycles(seconds float64) (uint32, error) {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return 0, outOfRange("time %v s", seconds)
	}

	return secondsToCycles(decimal.NewFromFloat(seconds))
}

func secondsToCycles(seconds decimal.Decimal) (uint32, error) {
	cycles := seconds.Mul(cycleFrequency).Round(0)
	if cycles.IsNegative() || cycles.GreaterThan(maxCycles) {
		return 0, outOfRange("time %s s outside [0, %v] s", seconds.String(), MaxTimePeriod)
	}
	return uint32(cycles.IntPart()), nil
}

// CyclesToTime converts a cycle count back to seconds.
func CyclesToTime(cycles uint32) float64 {
	seconds, _ := decimal.NewFromInt(int64(cycles)).Div(cycleFrequency).Float64()
	return seconds
}

// VoltageToSteps maps a voltage in [-10, 10] onto [0, dacMax] DAC steps,
// rounding up.
func VoltageToSteps(volts float64, dacMax uint32) (uint32, error) {
	if math.IsNaN(volts) || volts < MinVoltage || volts > MaxVoltage {
		return 0, outOfRange("voltage %v V", volts)
	}

	steps := decimal.NewFromFloat(volts).
		Add(voltageOffset).
		Div(voltageSpan).
		Mul(decimal.NewFromInt(int64(dacMax))).
		Ceil()

	n := steps.IntPart()
	if n < 0 {
		n = 0
	}
	if n > int64(dacMax) {
		n = int64(dacMax)
	}
	return uint32(n), nil
}

// StepsToVoltage returns the voltage a DAC step count produces.
func StepsToVoltage(steps, dacMax uint32) float64 {
	if dacMax == 0 {
		return MinVoltage
	}
	return float64(steps)/float64(dacMax)*(MaxVoltage-MinVoltage) + MinVoltage
}

// DACResolution describes how voltages are encoded for one device generation.
type DACResolution struct {
	Bits  int
	Max   uint32
	Width int // bytes per voltage on the wire
}

var (
	DAC8Bit  = DACResolution{Bits: 8, Max: 255, Width: 1}
	DAC16Bit = DACResolution{Bits: 16, Max: 65535, Width: 2}
)

// Firmware version bands
const (
	firmware16BitDAC    = 20
	firmwareUnsupported = 40
)

// ResolutionForFirmware selects the DAC encoding for a firmware version.
func ResolutionForFirmware(version int) (DACResolution, error) {
	switch {
	case version < 0:
		return DACResolution{}, invalidArgument("firmware version %d", version)
	case version < firmware16BitDAC:
		return DAC8Bit, nil
	case version < firmwareUnsupported:
		return DAC16Bit, nil
	default:
		return DACResolution{}, unsupportedFirmware(version)
	}
}

// PutVoltage writes the encoded voltage into buf and returns the bytes written.
func (r DACResolution) PutVoltage(buf []byte, volts float64) (int, error) {
	steps, err := VoltageToSteps(volts, r.Max)
	if err != nil {
		return 0, err
	}

	switch r.Width {
	case 1:
		buf[0] = byte(steps)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(steps))
	default:
		return 0, invalidArgument("DAC width %d", r.Width)
	}
	return r.Width, nil
}
