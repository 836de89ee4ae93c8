// internal/pulsepal/configuration.go
package pulsepal

import (
	"fmt"
	"math"
)

// ParameterConfiguration is one configuration step applied to a newly opened
// device session.
type ParameterConfiguration interface {
	Apply(d *Device) error
}

// Configuration is the ordered set of steps applied when a session is first
// opened, plus the transport address it should be opened on.
type Configuration struct {
	PortName string
	Items    []ParameterConfiguration
}

// NewConfiguration builds a configuration that applies every output channel
// before every trigger channel.
func NewConfiguration(portName string, outputs []OutputChannelConfiguration, triggers []TriggerChannelConfiguration) *Configuration {
	cfg := &Configuration{PortName: portName}
	for i := range outputs {
		cfg.Items = append(cfg.Items, &outputs[i])
	}
	for i := range triggers {
		cfg.Items = append(cfg.Items, &triggers[i])
	}
	return cfg
}

// Apply applies every item in order and stops at the first failure.
func (c *Configuration) Apply(d *Device) error {
	if c == nil {
		return nil
	}
	for i, item := range c.Items {
		if err := item.Apply(d); err != nil {
			return fmt.Errorf("configuration item %d (%T): %w", i, item, err)
		}
	}
	return nil
}

// BiphasicConfiguration switches an output channel between monophasic and biphasic pulses.
type BiphasicConfiguration struct {
	Channel  OutputChannel
	Biphasic bool
}

// Apply sends the parameter to d.
func (c BiphasicConfiguration) Apply(d *Device) error {
	return d.SetBiphasic(c.Channel, c.Biphasic)
}

// Phase1VoltageConfiguration sets the first phase voltage of an output channel.
type Phase1VoltageConfiguration struct {
	Channel OutputChannel
	Voltage float64
}

// Apply sends the parameter to d.
func (c Phase1VoltageConfiguration) Apply(d *Device) error {
	return d.SetPhase1Voltage(c.Channel, c.Voltage)
}

// Phase2VoltageConfiguration sets the second phase voltage of a biphasic pulse.
type Phase2VoltageConfiguration struct {
	Channel OutputChannel
	Voltage float64
}

// Apply sends the parameter to d.
func (c Phase2VoltageConfiguration) Apply(d *Device) error {
	return d.SetPhase2Voltage(c.Channel, c.Voltage)
}

// Phase1DurationConfiguration sets the first phase duration in seconds.
type Phase1DurationConfiguration struct {
	Channel  OutputChannel
	Duration float64
}

// Apply sends the parameter to d.
func (c Phase1DurationConfiguration) Apply(d *Device) error {
	return d.SetPhase1Duration(c.Channel, c.Duration)
}

// InterPhaseIntervalConfiguration sets the gap between the two phases of a biphasic pulse.
type InterPhaseIntervalConfiguration struct {
	Channel  OutputChannel
	Interval float64
}

// Apply sends the parameter to d.
func (c InterPhaseIntervalConfiguration) Apply(d *Device) error {
	return d.SetInterPhaseInterval(c.Channel, c.Interval)
}

// Phase2DurationConfiguration sets the second phase duration in seconds.
type Phase2DurationConfiguration struct {
	Channel  OutputChannel
	Duration float64
}

// Apply sends the parameter to d.
func (c Phase2DurationConfiguration) Apply(d *Device) error {
	return d.SetPhase2Duration(c.Channel, c.Duration)
}

// InterPulseIntervalConfiguration sets the gap between pulses in seconds.
type InterPulseIntervalConfiguration struct {
	Channel  OutputChannel
	Interval float64
}

// Apply sends the parameter to d.
func (c InterPulseIntervalConfiguration) Apply(d *Device) error {
	return d.SetInterPulseInterval(c.Channel, c.Interval)
}

// BurstDurationConfiguration sets the burst length in seconds. Zero disables bursts.
type BurstDurationConfiguration struct {
	Channel  OutputChannel
	Duration float64
}

// Apply sends the parameter to d.
func (c BurstDurationConfiguration) Apply(d *Device) error {
	return d.SetBurstDuration(c.Channel, c.Duration)
}

// InterBurstIntervalConfiguration sets the gap between bursts in seconds.
type InterBurstIntervalConfiguration struct {
	Channel  OutputChannel
	Interval float64
}

// Apply sends the parameter to d.
func (c InterBurstIntervalConfiguration) Apply(d *Device) error {
	return d.SetInterBurstInterval(c.Channel, c.Interval)
}

// PulseTrainDurationConfiguration sets how long a triggered train runs.
type PulseTrainDurationConfiguration struct {
	Channel  OutputChannel
	Duration float64
}

// Apply sends the parameter to d.
func (c PulseTrainDurationConfiguration) Apply(d *Device) error {
	return d.SetPulseTrainDuration(c.Channel, c.Duration)
}

// PulseTrainDelayConfiguration sets the delay between a trigger and the first pulse.
type PulseTrainDelayConfiguration struct {
	Channel OutputChannel
	Delay   float64
}

// Apply sends the parameter to d.
func (c PulseTrainDelayConfiguration) Apply(d *Device) error {
	return d.SetPulseTrainDelay(c.Channel, c.Delay)
}

// TriggerOnChannel1Configuration links an output channel to trigger input 1.
type TriggerOnChannel1Configuration struct {
	Channel OutputChannel
	Enabled bool
}

// Apply sends the parameter to d.
func (c TriggerOnChannel1Configuration) Apply(d *Device) error {
	return d.SetTriggerOnChannel1(c.Channel, c.Enabled)
}

// TriggerOnChannel2Configuration links an output channel to trigger input 2.
type TriggerOnChannel2Configuration struct {
	Channel OutputChannel
	Enabled bool
}

// Apply sends the parameter to d.
func (c TriggerOnChannel2Configuration) Apply(d *Device) error {
	return d.SetTriggerOnChannel2(c.Channel, c.Enabled)
}

// CustomTrainIdentityConfiguration selects the custom train an output channel plays.
type CustomTrainIdentityConfiguration struct {
	Channel  OutputChannel
	Identity CustomTrainID
}

// Apply sends the parameter to d.
func (c CustomTrainIdentityConfiguration) Apply(d *Device) error {
	return d.SetCustomTrainIdentity(c.Channel, c.Identity)
}

// CustomTrainTargetConfiguration selects whether custom onsets start pulses or bursts.
type CustomTrainTargetConfiguration struct {
	Channel OutputChannel
	Target  CustomTrainTargetMode
}

// Apply sends the parameter to d.
func (c CustomTrainTargetConfiguration) Apply(d *Device) error {
	return d.SetCustomTrainTarget(c.Channel, c.Target)
}

// CustomTrainLoopConfiguration repeats the custom train for the pulse train duration.
type CustomTrainLoopConfiguration struct {
	Channel OutputChannel
	Loop    bool
}

// Apply sends the parameter to d.
func (c CustomTrainLoopConfiguration) Apply(d *Device) error {
	return d.SetCustomTrainLoop(c.Channel, c.Loop)
}

// RestingVoltageConfiguration sets the voltage held between pulses.
type RestingVoltageConfiguration struct {
	Channel OutputChannel
	Voltage float64
}

// Apply sends the parameter to d.
func (c RestingVoltageConfiguration) Apply(d *Device) error {
	return d.SetRestingVoltage(c.Channel, c.Voltage)
}

// TriggerModeConfiguration sets how a trigger input responds to its signal.
type TriggerModeConfiguration struct {
	Channel TriggerChannel
	Mode    TriggerMode
}

// Apply sends the parameter to d.
func (c TriggerModeConfiguration) Apply(d *Device) error {
	return d.SetTriggerMode(c.Channel, c.Mode)
}

// ContinuousLoopConfiguration makes an output channel run without a trigger.
type ContinuousLoopConfiguration struct {
	Channel OutputChannel
	Enabled bool
}

// Apply sends the parameter to d.
func (c ContinuousLoopConfiguration) Apply(d *Device) error {
	return d.SetContinuousLoop(c.Channel, c.Enabled)
}

// OutputChannelConfiguration holds every parameter of one output channel.
// Times are in seconds and voltages in volts.
type OutputChannelConfiguration struct {
	Channel             OutputChannel
	Biphasic            bool
	Phase1Voltage       float64
	Phase2Voltage       float64
	Phase1Duration      float64
	InterPhaseInterval  float64
	Phase2Duration      float64
	InterPulseInterval  float64
	BurstDuration       float64
	InterBurstInterval  float64
	PulseTrainDuration  float64
	PulseTrainDelay     float64
	TriggerOnChannel1   bool
	TriggerOnChannel2   bool
	CustomTrainIdentity CustomTrainID
	CustomTrainTarget   CustomTrainTargetMode
	CustomTrainLoop     bool
	RestingVoltage      float64
	ContinuousLoop      bool
}

// DefaultOutputChannelConfiguration returns a channel configuration with every
// duration at the shortest period and every voltage and flag at zero.
func DefaultOutputChannelConfiguration(channel OutputChannel) OutputChannelConfiguration {
	return OutputChannelConfiguration{
		Channel:            channel,
		Phase1Duration:     MinTimePeriod,
		Phase2Duration:     MinTimePeriod,
		InterPulseInterval: MinTimePeriod,
		InterBurstInterval: MinTimePeriod,
		PulseTrainDuration: MinTimePeriod,
		PulseTrainDelay:    MinTimePeriod,
	}
}

// Steps expands the channel configuration into single parameter steps in the
// order they are sent.
func (c *OutputChannelConfiguration) Steps() []ParameterConfiguration {
	ch := c.Channel
	return []ParameterConfiguration{
		BiphasicConfiguration{ch, c.Biphasic},
		Phase1VoltageConfiguration{ch, c.Phase1Voltage},
		Phase2VoltageConfiguration{ch, c.Phase2Voltage},
		Phase1DurationConfiguration{ch, c.Phase1Duration},
		InterPhaseIntervalConfiguration{ch, c.InterPhaseInterval},
		Phase2DurationConfiguration{ch, c.Phase2Duration},
		InterPulseIntervalConfiguration{ch, c.InterPulseInterval},
		BurstDurationConfiguration{ch, c.BurstDuration},
		InterBurstIntervalConfiguration{ch, c.InterBurstInterval},
		PulseTrainDurationConfiguration{ch, c.PulseTrainDuration},
		PulseTrainDelayConfiguration{ch, c.PulseTrainDelay},
		TriggerOnChannel1Configuration{ch, c.TriggerOnChannel1},
		TriggerOnChannel2Configuration{ch, c.TriggerOnChannel2},
		CustomTrainIdentityConfiguration{ch, c.CustomTrainIdentity},
		CustomTrainTargetConfiguration{ch, c.CustomTrainTarget},
		CustomTrainLoopConfiguration{ch, c.CustomTrainLoop},
		RestingVoltageConfiguration{ch, c.RestingVoltage},
		ContinuousLoopConfiguration{ch, c.ContinuousLoop},
	}
}

// Apply sends every parameter of the channel.
func (c *OutputChannelConfiguration) Apply(d *Device) error {
	if !c.Channel.Valid() {
		return invalidArgument("output channel %d", c.Channel)
	}
	for _, step := range c.Steps() {
		if err := step.Apply(d); err != nil {
			return fmt.Errorf("output channel %d: %w", c.Channel, err)
		}
	}
	return nil
}

// TriggerChannelConfiguration holds the settings of one trigger input.
type TriggerChannelConfiguration struct {
	Channel     TriggerChannel
	TriggerMode TriggerMode
}

// Apply sends the trigger mode.
func (c *TriggerChannelConfiguration) Apply(d *Device) error {
	if err := d.SetTriggerMode(c.Channel, c.TriggerMode); err != nil {
		return fmt.Errorf("trigger channel %d: %w", c.Channel, err)
	}
	return nil
}

// NewParameterConfiguration builds the typed step for a parameter given as a
// generic value: seconds, volts, 0/1 for flags, or the enumeration ordinal.
func NewParameterConfiguration(code ParameterCode, channel byte, value float64) (ParameterConfiguration, error) {
	if code.IsTriggerParameter() {
		if !TriggerChannel(channel).Valid() {
			return nil, invalidArgument("trigger channel %d", channel)
		}
	} else if !OutputChannel(channel).Valid() {
		return nil, invalidArgument("output channel %d", channel)
	}

	ch := OutputChannel(channel)
	switch code {
	case Biphasic, TriggerOnChannel1, TriggerOnChannel2, CustomTrainLoop:
		flag, err := flagValue(code, value)
		if err != nil {
			return nil, err
		}
		switch code {
		case Biphasic:
			return BiphasicConfiguration{ch, flag}, nil
		case TriggerOnChannel1:
			return TriggerOnChannel1Configuration{ch, flag}, nil
		case TriggerOnChannel2:
			return TriggerOnChannel2Configuration{ch, flag}, nil
		default:
			return CustomTrainLoopConfiguration{ch, flag}, nil
		}
	case CustomTrainIdentity:
		id, err := ordinalValue(code, value, byte(CustomTrain2))
		if err != nil {
			return nil, err
		}
		return CustomTrainIdentityConfiguration{ch, CustomTrainID(id)}, nil
	case CustomTrainTarget:
		target, err := ordinalValue(code, value, byte(TargetBurstOnset))
		if err != nil {
			return nil, err
		}
		return CustomTrainTargetConfiguration{ch, CustomTrainTargetMode(target)}, nil
	case TriggerModeParam:
		mode, err := ordinalValue(code, value, byte(TriggerPulseGated))
		if err != nil {
			return nil, err
		}
		return TriggerModeConfiguration{TriggerChannel(channel), TriggerMode(mode)}, nil
	case Phase1Voltage:
		return Phase1VoltageConfiguration{ch, value}, nil
	case Phase2Voltage:
		return Phase2VoltageConfiguration{ch, value}, nil
	case Phase1Duration:
		return Phase1DurationConfiguration{ch, value}, nil
	case InterPhaseInterval:
		return InterPhaseIntervalConfiguration{ch, value}, nil
	case Phase2Duration:
		return Phase2DurationConfiguration{ch, value}, nil
	case InterPulseInterval:
		return InterPulseIntervalConfiguration{ch, value}, nil
	case BurstDuration:
		return BurstDurationConfiguration{ch, value}, nil
	case InterBurstInterval:
		return InterBurstIntervalConfiguration{ch, value}, nil
	case PulseTrainDuration:
		return PulseTrainDurationConfiguration{ch, value}, nil
	case PulseTrainDelay:
		return PulseTrainDelayConfiguration{ch, value}, nil
	case RestingVoltage:
		return RestingVoltageConfiguration{ch, value}, nil
	}
	return nil, invalidArgument("unknown parameter code %d", byte(code))
}

// flagValue accepts exactly 0 or 1.
func flagValue(code ParameterCode, value float64) (bool, error) {
	switch value {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, invalidArgument("%s must be 0 or 1, got %v", code, value)
}

// ordinalValue accepts whole numbers from 0 to max.
func ordinalValue(code ParameterCode, value float64, max byte) (byte, error) {
	if value != math.Trunc(value) || value < 0 || value > float64(max) {
		return 0, invalidArgument("%s must be a whole number from 0 to %d, got %v", code, max, value)
	}
	return byte(value), nil
}
