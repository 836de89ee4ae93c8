// internal/config/preset.go
package config

import (
	"fmt"

	"pulsepal-service/internal/pulsepal"
)

// DevicePreset is a named device configuration applied when a session is
// first opened.
type DevicePreset struct {
	Name            string                 `mapstructure:"name" json:"name"`
	PortName        string                 `mapstructure:"port_name" json:"port_name,omitempty"`
	OutputChannels  []OutputChannelPreset  `mapstructure:"output_channels" json:"output_channels,omitempty"`
	TriggerChannels []TriggerChannelPreset `mapstructure:"trigger_channels" json:"trigger_channels,omitempty"`
}

// OutputChannelPreset overrides the defaults of one output channel. Unset
// numeric fields keep the channel defaults. Times are seconds, voltages volts.
type OutputChannelPreset struct {
	Channel             int      `mapstructure:"channel" json:"channel"`
	Biphasic            bool     `mapstructure:"biphasic" json:"biphasic,omitempty"`
	Phase1Voltage       *float64 `mapstructure:"phase1_voltage" json:"phase1_voltage,omitempty"`
	Phase2Voltage       *float64 `mapstructure:"phase2_voltage" json:"phase2_voltage,omitempty"`
	Phase1Duration      *float64 `mapstructure:"phase1_duration" json:"phase1_duration,omitempty"`
	InterPhaseInterval  *float64 `mapstructure:"inter_phase_interval" json:"inter_phase_interval,omitempty"`
	Phase2Duration      *float64 `mapstructure:"phase2_duration" json:"phase2_duration,omitempty"`
	InterPulseInterval  *float64 `mapstructure:"inter_pulse_interval" json:"inter_pulse_interval,omitempty"`
	BurstDuration       *float64 `mapstructure:"burst_duration" json:"burst_duration,omitempty"`
	InterBurstInterval  *float64 `mapstructure:"inter_burst_interval" json:"inter_burst_interval,omitempty"`
	PulseTrainDuration  *float64 `mapstructure:"pulse_train_duration" json:"pulse_train_duration,omitempty"`
	PulseTrainDelay     *float64 `mapstructure:"pulse_train_delay" json:"pulse_train_delay,omitempty"`
	TriggerOnChannel1   bool     `mapstructure:"trigger_on_channel1" json:"trigger_on_channel1,omitempty"`
	TriggerOnChannel2   bool     `mapstructure:"trigger_on_channel2" json:"trigger_on_channel2,omitempty"`
	CustomTrainIdentity string   `mapstructure:"custom_train_identity" json:"custom_train_identity,omitempty"`
	CustomTrainTarget   string   `mapstructure:"custom_train_target" json:"custom_train_target,omitempty"`
	CustomTrainLoop     bool     `mapstructure:"custom_train_loop" json:"custom_train_loop,omitempty"`
	RestingVoltage      *float64 `mapstructure:"resting_voltage" json:"resting_voltage,omitempty"`
	ContinuousLoop      bool     `mapstructure:"continuous_loop" json:"continuous_loop,omitempty"`
}

// TriggerChannelPreset configures one trigger input.
type TriggerChannelPreset struct {
	Channel     int    `mapstructure:"channel" json:"channel"`
	TriggerMode string `mapstructure:"trigger_mode" json:"trigger_mode,omitempty"`
}

// Validate converts the preset and range-checks every value.
func (p *DevicePreset) Validate() error {
	outputs, _, err := p.channels()
	if err != nil {
		return err
	}
	for _, out := range outputs {
		for _, v := range []float64{out.Phase1Voltage, out.Phase2Voltage, out.RestingVoltage} {
			if _, err := pulsepal.VoltageToSteps(v, pulsepal.DAC16Bit.Max); err != nil {
				return fmt.Errorf("output channel %d: %w", out.Channel, err)
			}
		}
		for _, t := range []float64{
			out.Phase1Duration, out.InterPhaseInterval, out.Phase2Duration,
			out.InterPulseInterval, out.BurstDuration, out.InterBurstInterval,
			out.PulseTrainDuration, out.PulseTrainDelay,
		} {
			if _, err := pulsepal.TimeToCycles(t); err != nil {
				return fmt.Errorf("output channel %d: %w", out.Channel, err)
			}
		}
	}
	return nil
}

// Configuration converts the preset into the steps applied on first open.
func (p *DevicePreset) Configuration() (*pulsepal.Configuration, error) {
	outputs, triggers, err := p.channels()
	if err != nil {
		return nil, err
	}
	return pulsepal.NewConfiguration(p.PortName, outputs, triggers), nil
}

func (p *DevicePreset) channels() ([]pulsepal.OutputChannelConfiguration, []pulsepal.TriggerChannelConfiguration, error) {
	outputs := make([]pulsepal.OutputChannelConfiguration, 0, len(p.OutputChannels))
	seen := make(map[int]bool)
	for i, preset := range p.OutputChannels {
		out, err := preset.configuration()
		if err != nil {
			return nil, nil, fmt.Errorf("output_channels[%d]: %w", i, err)
		}
		if seen[preset.Channel] {
			return nil, nil, fmt.Errorf("output_channels[%d]: channel %d listed twice", i, preset.Channel)
		}
		seen[preset.Channel] = true
		outputs = append(outputs, out)
	}

	triggers := make([]pulsepal.TriggerChannelConfiguration, 0, len(p.TriggerChannels))
	clear(seen)
	for i, preset := range p.TriggerChannels {
		channel := pulsepal.TriggerChannel(preset.Channel)
		if preset.Channel < 0 || preset.Channel > 255 || !channel.Valid() {
			return nil, nil, fmt.Errorf("trigger_channels[%d]: invalid trigger channel %d", i, preset.Channel)
		}
		if seen[preset.Channel] {
			return nil, nil, fmt.Errorf("trigger_channels[%d]: channel %d listed twice", i, preset.Channel)
		}
		seen[preset.Channel] = true
		mode, err := pulsepal.ParseTriggerMode(preset.TriggerMode)
		if err != nil {
			return nil, nil, fmt.Errorf("trigger_channels[%d]: %w", i, err)
		}
		triggers = append(triggers, pulsepal.TriggerChannelConfiguration{Channel: channel, TriggerMode: mode})
	}
	return outputs, triggers, nil
}

func (o OutputChannelPreset) configuration() (pulsepal.OutputChannelConfiguration, error) {
	channel := pulsepal.OutputChannel(o.Channel)
	if o.Channel < 0 || o.Channel > 255 || !channel.Valid() {
		return pulsepal.OutputChannelConfiguration{}, fmt.Errorf("invalid output channel %d", o.Channel)
	}

	identity, err := pulsepal.ParseCustomTrainID(o.CustomTrainIdentity)
	if err != nil {
		return pulsepal.OutputChannelConfiguration{}, err
	}
	target, err := pulsepal.ParseCustomTrainTarget(o.CustomTrainTarget)
	if err != nil {
		return pulsepal.OutputChannelConfiguration{}, err
	}

	cfg := pulsepal.DefaultOutputChannelConfiguration(channel)
	cfg.Biphasic = o.Biphasic
	cfg.TriggerOnChannel1 = o.TriggerOnChannel1
	cfg.TriggerOnChannel2 = o.TriggerOnChannel2
	cfg.CustomTrainIdentity = identity
	cfg.CustomTrainTarget = target
	cfg.CustomTrainLoop = o.CustomTrainLoop
	cfg.ContinuousLoop = o.ContinuousLoop

	overlay(&cfg.Phase1Voltage, o.Phase1Voltage)
	overlay(&cfg.Phase2Voltage, o.Phase2Voltage)
	overlay(&cfg.Phase1Duration, o.Phase1Duration)
	overlay(&cfg.InterPhaseInterval, o.InterPhaseInterval)
	overlay(&cfg.Phase2Duration, o.Phase2Duration)
	overlay(&cfg.InterPulseInterval, o.InterPulseInterval)
	overlay(&cfg.BurstDuration, o.BurstDuration)
	overlay(&cfg.InterBurstInterval, o.InterBurstInterval)
	overlay(&cfg.PulseTrainDuration, o.PulseTrainDuration)
	overlay(&cfg.PulseTrainDelay, o.PulseTrainDelay)
	overlay(&cfg.RestingVoltage, o.RestingVoltage)
	return cfg, nil
}

func overlay(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}
