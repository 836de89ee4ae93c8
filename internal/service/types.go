// internal/service/types.go
package service

import "pulsepal-service/internal/pulsepal"

// ParameterRequest represents a single parameter write
type ParameterRequest struct {
	Channel   int     `json:"channel" yaml:"channel" binding:"required"`
	Parameter string  `json:"parameter" yaml:"parameter" binding:"required"`
	Value     float64 `json:"value" yaml:"value"`
}

// TriggerRequest represents a software trigger
type TriggerRequest struct {
	Channels []int `json:"channels" binding:"required,min=1,max=4,dive,min=1,max=4"`
}

// DisplayRequest represents a display update
type DisplayRequest struct {
	Rows []string `json:"rows" binding:"required,min=1,max=2"`
}

// VoltageRequest represents a fixed voltage command
type VoltageRequest struct {
	Channel int     `json:"channel" binding:"required,min=1,max=4"`
	Voltage float64 `json:"voltage"`
}

// LoopRequest represents a continuous loop change
type LoopRequest struct {
	Channel int  `json:"channel" binding:"required,min=1,max=4"`
	Enabled bool `json:"enabled"`
}

// PulseTrainRequest represents a custom pulse train upload
type PulseTrainRequest struct {
	Pulses []pulsepal.PulseOnset `json:"pulses" yaml:"pulses" binding:"required,max=1000"`
}

// WaveformRequest represents a custom waveform upload
type WaveformRequest struct {
	SamplingPeriod float64   `json:"sampling_period" yaml:"sampling_period" binding:"required,gt=0"`
	Voltages       []float64 `json:"voltages" yaml:"voltages" binding:"required,max=1000"`
}
