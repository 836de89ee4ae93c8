// internal/pulsepal/parameters.go
package pulsepal

// PulseOnset is one entry of a custom pulse train.
type PulseOnset struct {
	Time    float64 `json:"time" yaml:"time" mapstructure:"time"`          // seconds from train start
	Voltage float64 `json:"voltage" yaml:"voltage" mapstructure:"voltage"` // volts
}

// SetParameter programs one parameter on a channel. The value is seconds for
// durations and intervals, volts for voltages and the raw byte for flags and
// enumerations.
func (d *Device) SetParameter(code ParameterCode, channel byte, value float64) error {
	return d.send("set "+code.String(), func(buf []byte, enc *Encoder) (int, error) {
		return enc.EncodeParameter(buf, code, channel, value)
	})
}

func (d *Device) setFlag(code ParameterCode, channel OutputChannel, value bool) error {
	return d.SetParameter(code, byte(channel), float64(boolByte(value)))
}

// SetBiphasic selects biphasic (true) or monophasic pulses.
func (d *Device) SetBiphasic(channel OutputChannel, biphasic bool) error {
	return d.setFlag(Biphasic, channel, biphasic)
}

// SetPhase1Voltage sets the voltage of the first pulse phase.
func (d *Device) SetPhase1Voltage(channel OutputChannel, volts float64) error {
	return d.SetParameter(Phase1Voltage, byte(channel), volts)
}

// SetPhase2Voltage sets the voltage of the second phase of biphasic pulses.
func (d *Device) SetPhase2Voltage(channel OutputChannel, volts float64) error {
	return d.SetParameter(Phase2Voltage, byte(channel), volts)
}

// SetPhase1Duration sets the duration of the first pulse phase in seconds.
func (d *Device) SetPhase1Duration(channel OutputChannel, seconds float64) error {
	return d.SetParameter(Phase1Duration, byte(channel), seconds)
}

// SetInterPhaseInterval sets the gap between the phases of a biphasic pulse.
func (d *Device) SetInterPhaseInterval(channel OutputChannel, seconds float64) error {
	return d.SetParameter(InterPhaseInterval, byte(channel), seconds)
}

// SetPhase2Duration sets the duration of the second pulse phase.
func (d *Device) SetPhase2Duration(channel OutputChannel, seconds float64) error {
	return d.SetParameter(Phase2Duration, byte(channel), seconds)
}

// SetInterPulseInterval sets the gap between pulses.
func (d *Device) SetInterPulseInterval(channel OutputChannel, seconds float64) error {
	return d.SetParameter(InterPulseInterval, byte(channel), seconds)
}

// SetBurstDuration sets the burst length. Zero disables bursts.
func (d *Device) SetBurstDuration(channel OutputChannel, seconds float64) error {
	return d.SetParameter(BurstDuration, byte(channel), seconds)
}

// SetInterBurstInterval sets the gap between bursts.
func (d *Device) SetInterBurstInterval(channel OutputChannel, seconds float64) error {
	return d.SetParameter(InterBurstInterval, byte(channel), seconds)
}

// SetPulseTrainDuration sets the total length of the pulse train.
func (d *Device) SetPulseTrainDuration(channel OutputChannel, seconds float64) error {
	return d.SetParameter(PulseTrainDuration, byte(channel), seconds)
}

// SetPulseTrainDelay sets the delay between trigger and the first pulse.
func (d *Device) SetPulseTrainDelay(channel OutputChannel, seconds float64) error {
	return d.SetParameter(PulseTrainDelay, byte(channel), seconds)
}

// SetTriggerOnChannel1 links the output channel to trigger channel 1.
func (d *Device) SetTriggerOnChannel1(channel OutputChannel, enabled bool) error {
	return d.setFlag(TriggerOnChannel1, channel, enabled)
}

// SetTriggerOnChannel2 links the output channel to trigger channel 2.
func (d *Device) SetTriggerOnChannel2(channel OutputChannel, enabled bool) error {
	return d.setFlag(TriggerOnChannel2, channel, enabled)
}

// SetCustomTrainIdentity selects which custom train, if any, drives the channel.
func (d *Device) SetCustomTrainIdentity(channel OutputChannel, id CustomTrainID) error {
	if id > CustomTrain2 {
		return commandError("set "+CustomTrainIdentity.String(), invalidArgument("custom train identity %d", byte(id)))
	}
	return d.SetParameter(CustomTrainIdentity, byte(channel), float64(id))
}

// SetCustomTrainTarget selects whether custom onsets start pulses or bursts.
func (d *Device) SetCustomTrainTarget(channel OutputChannel, target CustomTrainTargetMode) error {
	if target > TargetBurstOnset {
		return commandError("set "+CustomTrainTarget.String(), invalidArgument("custom train target %d", byte(target)))
	}
	return d.SetParameter(CustomTrainTarget, byte(channel), float64(target))
}

// SetCustomTrainLoop makes the custom train repeat for the pulse train duration.
func (d *Device) SetCustomTrainLoop(channel OutputChannel, loop bool) error {
	return d.setFlag(CustomTrainLoop, channel, loop)
}

// SetRestingVoltage sets the voltage held between pulses.
func (d *Device) SetRestingVoltage(channel OutputChannel, volts float64) error {
	return d.SetParameter(RestingVoltage, byte(channel), volts)
}

// SetTriggerMode sets how a trigger channel reacts to its input.
func (d *Device) SetTriggerMode(channel TriggerChannel, mode TriggerMode) error {
	if mode > TriggerPulseGated {
		return commandError("set "+TriggerModeParam.String(), invalidArgument("trigger mode %d", byte(mode)))
	}
	return d.SetParameter(TriggerModeParam, byte(channel), float64(mode))
}

// TriggerOutputChannels starts pulse trains on the channels in mask.
func (d *Device) TriggerOutputChannels(mask ChannelMask) error {
	return d.send("trigger", func(buf []byte, _ *Encoder) (int, error) {
		return EncodeTrigger(buf, mask)
	})
}

// SetFixedVoltage holds an output channel at a constant voltage.
func (d *Device) SetFixedVoltage(channel OutputChannel, volts float64) error {
	return d.send("set fixed voltage", func(buf []byte, enc *Encoder) (int, error) {
		return enc.EncodeFixedVoltage(buf, channel, volts)
	})
}

// AbortPulseTrains stops all running pulse trains.
func (d *Device) AbortPulseTrains() error {
	return d.send("abort", func(buf []byte, _ *Encoder) (int, error) {
		return EncodeAbort(buf), nil
	})
}

// SetContinuousLoop makes an output channel replay its train until disabled.
func (d *Device) SetContinuousLoop(channel OutputChannel, enabled bool) error {
	return d.send("set continuous loop", func(buf []byte, _ *Encoder) (int, error) {
		return EncodeContinuousLoop(buf, channel, enabled)
	})
}

// SetClientID sets the six character name shown on the device display.
func (d *Device) SetClientID(id string) error {
	return d.send("set client id", func(buf []byte, _ *Encoder) (int, error) {
		return EncodeClientID(buf, id), nil
	})
}

// UpdateDisplay writes one or two rows of text to the device display.
func (d *Device) UpdateDisplay(rows ...string) error {
	return d.send("update display", func(buf []byte, _ *Encoder) (int, error) {
		return EncodeDisplay(buf, rows...)
	})
}

// SendCustomPulseTrain uploads pulse onsets to a custom train slot.
func (d *Device) SendCustomPulseTrain(id CustomTrainID, pulses []PulseOnset) error {
	times := make([]float64, len(pulses))
	voltages := make([]float64, len(pulses))
	for i, p := range pulses {
		times[i] = p.Time
		voltages[i] = p.Voltage
	}
	return d.SendCustomPulseTrainArrays(id, times, voltages)
}

// SendCustomPulseTrainArrays uploads onsets given as parallel time and voltage
// arrays.
func (d *Device) SendCustomPulseTrainArrays(id CustomTrainID, times, voltages []float64) error {
	return d.sendFrame("send custom pulse train", func(enc *Encoder) ([]byte, error) {
		return enc.EncodeCustomTrain(id, times, voltages)
	})
}

// SendCustomWaveform uploads voltages sampled at a fixed period.
func (d *Device) SendCustomWaveform(id CustomTrainID, samplingPeriod float64, voltages []float64) error {
	return d.sendFrame("send custom waveform", func(enc *Encoder) ([]byte, error) {
		return enc.EncodeCustomWaveform(id, samplingPeriod, voltages)
	})
}
