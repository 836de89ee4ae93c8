package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pulsepal-service/internal/pulsepal"
	"pulsepal-service/internal/service"
)

func init() {
	trainCmd.AddCommand(trainUploadCmd)
	trainCmd.AddCommand(trainWaveformCmd)
	rootCmd.AddCommand(trainCmd)
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Upload custom pulse trains",
}

var trainUploadCmd = &cobra.Command{
	Use:   "upload <1|2> <file>",
	Short: "Upload a custom pulse train from a YAML or JSON file",
	Long: `Upload a custom pulse train described by a list of onsets.

The file holds a "pulses" list where each entry gives the onset
time in seconds and the voltage in volts:

  pulses:
    - {time: 0, voltage: 5}
    - {time: 0.001, voltage: -5}`,
	Example: `  pulsepalctl train upload 1 train.yaml --device COM5`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := loadPulseTrain(args[1])
		if err != nil {
			return err
		}
		return withService(cmd, func(ctx context.Context, svc *service.PulsePalService) error {
			if err := svc.UploadPulseTrain(ctx, deviceName, args[0], req.Pulses); err != nil {
				return err
			}
			fmt.Printf("Uploaded %d pulses to custom train %s\n", len(req.Pulses), args[0])
			return nil
		})
	},
}

var trainWaveformCmd = &cobra.Command{
	Use:   "waveform <1|2> <file>",
	Short: "Upload a sampled waveform from a YAML or JSON file",
	Long: `Upload voltages sampled at a fixed period as a custom train.

  sampling_period: 0.001
  voltages: [0, 1.5, 3, 1.5, 0]`,
	Example: `  pulsepalctl train waveform 2 sine.yaml --device COM5`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := loadWaveform(args[1])
		if err != nil {
			return err
		}
		return withService(cmd, func(ctx context.Context, svc *service.PulsePalService) error {
			if err := svc.UploadWaveform(ctx, deviceName, args[0], req.SamplingPeriod, req.Voltages); err != nil {
				return err
			}
			fmt.Printf("Uploaded %d samples to custom train %s\n", len(req.Voltages), args[0])
			return nil
		})
	},
}

func loadPulseTrain(path string) (*service.PulseTrainRequest, error) {
	var req service.PulseTrainRequest
	if err := decodeFile(path, &req); err != nil {
		return nil, err
	}
	if len(req.Pulses) == 0 {
		return nil, fmt.Errorf("%s: no pulses", path)
	}
	if len(req.Pulses) > pulsepal.MaxPulseCount {
		return nil, fmt.Errorf("%s: %d pulses, at most %d allowed", path, len(req.Pulses), pulsepal.MaxPulseCount)
	}
	return &req, nil
}

func loadWaveform(path string) (*service.WaveformRequest, error) {
	var req service.WaveformRequest
	if err := decodeFile(path, &req); err != nil {
		return nil, err
	}
	if req.SamplingPeriod <= 0 {
		return nil, fmt.Errorf("%s: sampling_period must be positive", path)
	}
	if len(req.Voltages) == 0 {
		return nil, fmt.Errorf("%s: no voltages", path)
	}
	return &req, nil
}

// decodeFile reads YAML, which also accepts JSON documents.
func decodeFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
