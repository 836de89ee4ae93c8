// internal/pulsepal/commands.go
package pulsepal

import (
	"fmt"
	"strings"
)

// Wire opcodes. Every command frame starts with OpMenu followed by one of the
// command opcodes.
const (
	OpMenu         byte = 0xD5 // command prefix
	OpHandshake    byte = 0x48
	OpProgramParam byte = 0x4A
	OpPulseTrain1  byte = 0x4B // upload custom train 1
	OpPulseTrain2  byte = 0x4C // upload custom train 2
	OpTrigger      byte = 0x4D
	OpDisplay      byte = 0x4E
	OpSetVoltage   byte = 0x4F
	OpAbort        byte = 0x50
	OpDisconnect   byte = 0x51
	OpLoop         byte = 0x52
	OpClientID     byte = 0x59

	// Acknowledge is the first byte of the handshake response.
	Acknowledge byte = 0x4B

	// LineBreak separates the two rows of a display update.
	LineBreak byte = 0xFE
)

const (
	// CommandBufferSize holds the largest fixed-size frame, a two row display update.
	CommandBufferSize = 36

	handshakeLength  = 5
	clientIDLength   = 6
	displayRowLength = 16

	// MaxPulseCount is the number of onsets a custom train slot holds.
	MaxPulseCount = 1000
)

// ParameterCode identifies a programmable output or trigger channel parameter.
type ParameterCode byte

const (
	Biphasic            ParameterCode = 1
	Phase1Voltage       ParameterCode = 2
	Phase2Voltage       ParameterCode = 3
	Phase1Duration      ParameterCode = 4
	InterPhaseInterval  ParameterCode = 5
	Phase2Duration      ParameterCode = 6
	InterPulseInterval  ParameterCode = 7
	BurstDuration       ParameterCode = 8
	InterBurstInterval  ParameterCode = 9
	PulseTrainDuration  ParameterCode = 10
	PulseTrainDelay     ParameterCode = 11
	TriggerOnChannel1   ParameterCode = 12
	TriggerOnChannel2   ParameterCode = 13
	CustomTrainIdentity ParameterCode = 14
	CustomTrainTarget   ParameterCode = 15
	CustomTrainLoop     ParameterCode = 16
	RestingVoltage      ParameterCode = 17
	TriggerModeParam    ParameterCode = 128
)

// valueClass determines the wire width of a parameter value.
type valueClass int

const (
	classByte valueClass = iota
	classVoltage
	classTime
)

type parameterInfo struct {
	name    string
	class   valueClass
	trigger bool // addresses a trigger channel instead of an output channel
}

var parameterTable = map[ParameterCode]parameterInfo{
	Biphasic:            {name: "biphasic", class: classByte},
	Phase1Voltage:       {name: "phase1_voltage", class: classVoltage},
	Phase2Voltage:       {name: "phase2_voltage", class: classVoltage},
	Phase1Duration:      {name: "phase1_duration", class: classTime},
	InterPhaseInterval:  {name: "inter_phase_interval", class: classTime},
	Phase2Duration:      {name: "phase2_duration", class: classTime},
	InterPulseInterval:  {name: "inter_pulse_interval", class: classTime},
	BurstDuration:       {name: "burst_duration", class: classTime},
	InterBurstInterval:  {name: "inter_burst_interval", class: classTime},
	PulseTrainDuration:  {name: "pulse_train_duration", class: classTime},
	PulseTrainDelay:     {name: "pulse_train_delay", class: classTime},
	TriggerOnChannel1:   {name: "trigger_on_channel1", class: classByte},
	TriggerOnChannel2:   {name: "trigger_on_channel2", class: classByte},
	CustomTrainIdentity: {name: "custom_train_identity", class: classByte},
	CustomTrainTarget:   {name: "custom_train_target", class: classByte},
	CustomTrainLoop:     {name: "custom_train_loop", class: classByte},
	RestingVoltage:      {name: "resting_voltage", class: classVoltage},
	TriggerModeParam:    {name: "trigger_mode", class: classByte, trigger: true},
}

// String returns the configuration name of the parameter.
func (p ParameterCode) String() string {
	if info, ok := parameterTable[p]; ok {
		return info.name
	}
	return fmt.Sprintf("parameter(%d)", byte(p))
}

// IsTriggerParameter reports whether the parameter addresses a trigger channel.
func (p ParameterCode) IsTriggerParameter() bool {
	return parameterTable[p].trigger
}

// ParseParameterCode looks up a parameter by its configuration name. Names are
// matched case-insensitively and may use dashes instead of underscores.
func ParseParameterCode(name string) (ParameterCode, error) {
	normalized := normalizeName(name)
	for code, info := range parameterTable {
		if info.name == normalized {
			return code, nil
		}
	}
	return 0, invalidArgument("unknown parameter %q", name)
}

// OutputChannel is a one-based output channel ordinal.
type OutputChannel byte

const (
	OutputChannel1 OutputChannel = 1
	OutputChannel2 OutputChannel = 2
	OutputChannel3 OutputChannel = 3
	OutputChannel4 OutputChannel = 4
)

// Valid reports whether the channel exists on the device.
func (c OutputChannel) Valid() bool {
	return c >= OutputChannel1 && c <= OutputChannel4
}

// TriggerChannel is a one-based trigger input ordinal.
type TriggerChannel byte

const (
	TriggerChannel1 TriggerChannel = 1
	TriggerChannel2 TriggerChannel = 2
)

// Valid reports whether the trigger channel exists on the device.
func (c TriggerChannel) Valid() bool {
	return c == TriggerChannel1 || c == TriggerChannel2
}

// ChannelMask selects output channels for a software trigger.
type ChannelMask byte

const (
	MaskChannel1 ChannelMask = 1 << iota
	MaskChannel2
	MaskChannel3
	MaskChannel4
)

// MaskOf builds a trigger mask from channel ordinals.
func MaskOf(channels ...OutputChannel) (ChannelMask, error) {
	var mask ChannelMask
	for _, ch := range channels {
		if !ch.Valid() {
			return 0, invalidArgument("output channel %d", ch)
		}
		mask |= 1 << (ch - 1)
	}
	return mask, nil
}

// TriggerMode selects how a trigger channel reacts to its input.
type TriggerMode byte

const (
	TriggerNormal     TriggerMode = 0
	TriggerToggle     TriggerMode = 1
	TriggerPulseGated TriggerMode = 2
)

var triggerModeNames = map[TriggerMode]string{
	TriggerNormal:     "normal",
	TriggerToggle:     "toggle",
	TriggerPulseGated: "pulse_gated",
}

func (m TriggerMode) String() string {
	if name, ok := triggerModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("trigger_mode(%d)", byte(m))
}

// ParseTriggerMode parses a trigger mode name.
func ParseTriggerMode(name string) (TriggerMode, error) {
	if name == "" {
		return TriggerNormal, nil
	}
	for mode, n := range triggerModeNames {
		if n == normalizeName(name) {
			return mode, nil
		}
	}
	return 0, invalidArgument("unknown trigger mode %q", name)
}

// CustomTrainID selects a custom pulse train slot.
type CustomTrainID byte

const (
	CustomTrainNone CustomTrainID = 0
	CustomTrain1    CustomTrainID = 1
	CustomTrain2    CustomTrainID = 2
)

var customTrainNames = map[CustomTrainID]string{
	CustomTrainNone: "none",
	CustomTrain1:    "custom_train1",
	CustomTrain2:    "custom_train2",
}

func (id CustomTrainID) String() string {
	if name, ok := customTrainNames[id]; ok {
		return name
	}
	return fmt.Sprintf("custom_train(%d)", byte(id))
}

// ParseCustomTrainID parses a custom train name or slot number.
func ParseCustomTrainID(name string) (CustomTrainID, error) {
	switch normalizeName(name) {
	case "", "none", "0":
		return CustomTrainNone, nil
	case "custom_train1", "train1", "1":
		return CustomTrain1, nil
	case "custom_train2", "train2", "2":
		return CustomTrain2, nil
	}
	return 0, invalidArgument("unknown custom train %q", name)
}

// CustomTrainTargetMode selects whether custom train onsets start pulses or bursts.
type CustomTrainTargetMode byte

const (
	TargetPulseOnset CustomTrainTargetMode = 0
	TargetBurstOnset CustomTrainTargetMode = 1
)

func (t CustomTrainTargetMode) String() string {
	switch t {
	case TargetPulseOnset:
		return "pulse_onset"
	case TargetBurstOnset:
		return "burst_onset"
	}
	return fmt.Sprintf("custom_train_target(%d)", byte(t))
}

// ParseCustomTrainTarget parses a custom train target name.
func ParseCustomTrainTarget(name string) (CustomTrainTargetMode, error) {
	switch normalizeName(name) {
	case "", "pulse_onset":
		return TargetPulseOnset, nil
	case "burst_onset":
		return TargetBurstOnset, nil
	}
	return 0, invalidArgument("unknown custom train target %q", name)
}

func normalizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
}
