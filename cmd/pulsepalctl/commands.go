package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"pulsepal-service/internal/pulsepal"
	"pulsepal-service/internal/service"
)

func init() {
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(abortCmd)
	rootCmd.AddCommand(displayCmd)
	rootCmd.AddCommand(voltageCmd)
	rootCmd.AddCommand(loopCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(presetsCmd)
}

// infoCmd connects and prints the handshake result
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Connect and show firmware and DAC information",
	Example: `  pulsepalctl info --device /dev/ttyACM0
  pulsepalctl info --device tcp://10.0.0.5:4000 --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *service.PulsePalService) error {
			info, err := svc.Connect(ctx, deviceName)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(info)
			}
			fmt.Printf("Port:      %s\n", info.PortName)
			fmt.Printf("Session:   %s\n", info.SessionID)
			fmt.Printf("Firmware:  %d\n", info.FirmwareVersion)
			fmt.Printf("DAC:       %d-bit\n", info.DACBits)
			return nil
		})
	},
}

var triggerCmd = &cobra.Command{
	Use:     "trigger <channel>...",
	Short:   "Start pulse trains on output channels",
	Example: `  pulsepalctl trigger 1 3 --device COM5`,
	Args:    cobra.RangeArgs(1, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		channels, err := parseChannels(args)
		if err != nil {
			return err
		}
		return withService(cmd, func(ctx context.Context, svc *service.PulsePalService) error {
			return svc.Trigger(ctx, deviceName, channels)
		})
	},
}

var abortCmd = &cobra.Command{
	Use:   "abort",
	Short: "Stop every running pulse train",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *service.PulsePalService) error {
			return svc.Abort(ctx, deviceName)
		})
	},
}

var displayCmd = &cobra.Command{
	Use:     "display <row1> [row2]",
	Short:   "Write text to the device display",
	Example: `  pulsepalctl display "Session 4" "Rat 12"`,
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *service.PulsePalService) error {
			return svc.Display(ctx, deviceName, args)
		})
	},
}

var voltageCmd = &cobra.Command{
	Use:     "voltage <channel> <volts>",
	Short:   "Hold an output channel at a fixed voltage",
	Example: `  pulsepalctl voltage 2 -3.5`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		channel, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid channel: %w", err)
		}
		volts, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid voltage: %w", err)
		}
		return withService(cmd, func(ctx context.Context, svc *service.PulsePalService) error {
			return svc.SetFixedVoltage(ctx, deviceName, channel, volts)
		})
	},
}

var loopCmd = &cobra.Command{
	Use:     "loop <channel> <on|off>",
	Short:   "Enable or disable continuous looping on an output channel",
	Example: `  pulsepalctl loop 1 on`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		channel, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid channel: %w", err)
		}
		enabled, err := parseSwitch(args[1])
		if err != nil {
			return err
		}
		return withService(cmd, func(ctx context.Context, svc *service.PulsePalService) error {
			return svc.SetContinuousLoop(ctx, deviceName, channel, enabled)
		})
	},
}

// setCmd programs a single parameter
var setCmd = &cobra.Command{
	Use:   "set <channel> <parameter> <value>",
	Short: "Program one channel parameter",
	Long: `Program one parameter on an output or trigger channel.

Times are given in seconds and voltages in volts. Flags accept
on/off or true/false, trigger_mode accepts normal, toggle or
pulse_gated, and custom train selections accept none, 1 or 2.`,
	Example: `  pulsepalctl set 1 phase1_duration 0.002
  pulsepalctl set 2 biphasic on
  pulsepalctl set 1 trigger_mode toggle`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		channel, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid channel: %w", err)
		}
		value, err := parseValue(args[1], args[2])
		if err != nil {
			return err
		}
		req := service.ParameterRequest{Channel: channel, Parameter: args[1], Value: value}
		return withService(cmd, func(ctx context.Context, svc *service.PulsePalService) error {
			return svc.SetParameter(ctx, deviceName, req)
		})
	},
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List local serial ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		ports, err := s.service.ListPorts()
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(ports)
		}
		if len(ports) == 0 {
			fmt.Println("No serial ports found.")
			return nil
		}
		for _, p := range ports {
			if p.IsUSB {
				fmt.Printf("%-20s USB %s:%s %s %s\n", p.Name, p.VID, p.PID, p.SerialNumber, p.Hardware)
			} else {
				fmt.Println(p.Name)
			}
		}
		return nil
	},
}

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List device presets from the configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		presets := s.service.Presets()
		if jsonOutput {
			return printJSON(presets)
		}
		for _, p := range presets {
			fmt.Printf("%-16s %s\n", p.Name, p.PortName)
		}
		return nil
	},
}

func parseChannels(args []string) ([]int, error) {
	channels := make([]int, len(args))
	for i, arg := range args {
		ch, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid channel %q: %w", arg, err)
		}
		channels[i] = ch
	}
	return channels, nil
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid switch value %q (use on/off)", s)
}

// parseValue converts a command line value for parameter into its numeric form.
func parseValue(parameter, s string) (float64, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	if on, err := parseSwitch(s); err == nil {
		if on {
			return 1, nil
		}
		return 0, nil
	}

	code, err := pulsepal.ParseParameterCode(parameter)
	if err != nil {
		return 0, err
	}
	switch code {
	case pulsepal.TriggerModeParam:
		mode, err := pulsepal.ParseTriggerMode(s)
		if err != nil {
			return 0, err
		}
		return float64(mode), nil
	case pulsepal.CustomTrainIdentity:
		id, err := pulsepal.ParseCustomTrainID(s)
		if err != nil {
			return 0, err
		}
		return float64(id), nil
	case pulsepal.CustomTrainTarget:
		switch strings.ToLower(s) {
		case "pulse", "pulse_onset":
			return float64(pulsepal.TargetPulseOnset), nil
		case "burst", "burst_onset":
			return float64(pulsepal.TargetBurstOnset), nil
		}
	}
	return 0, fmt.Errorf("invalid value %q for %s", s, code)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
