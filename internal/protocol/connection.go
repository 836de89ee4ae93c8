// internal/protocol/connection.go
package protocol

import (
	"fmt"
	"strings"
	"time"
)

// SerialConfig represents serial line configuration
type SerialConfig struct {
	BaudRate    int           `json:"baud_rate" mapstructure:"baud_rate"`
	DataBits    int           `json:"data_bits" mapstructure:"data_bits"`
	StopBits    int           `json:"stop_bits" mapstructure:"stop_bits"`
	Parity      string        `json:"parity" mapstructure:"parity"`
	RTS         bool          `json:"rts" mapstructure:"rts"`
	DTR         bool          `json:"dtr" mapstructure:"dtr"`
	ReadTimeout time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
}

// DefaultSerialConfig returns the line settings the stimulator expects:
// 115200 baud, 8N1, RTS asserted and DTR released.
func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		BaudRate: 115200,
		DataBits: 8,
		StopBits: 1,
		Parity:   "none",
		RTS:      true,
		DTR:      false,
	}
}

var validBaudRates = []int{9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600}

// Validate checks the serial settings.
func (c SerialConfig) Validate() error {
	valid := false
	for _, rate := range validBaudRates {
		if c.BaudRate == rate {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid baud rate: %d", c.BaudRate)
	}
	if c.DataBits < 5 || c.DataBits > 8 {
		return fmt.Errorf("invalid data bits: %d", c.DataBits)
	}
	if c.StopBits != 1 && c.StopBits != 2 {
		return fmt.Errorf("invalid stop bits: %d", c.StopBits)
	}
	switch strings.ToLower(c.Parity) {
	case "", "none", "odd", "even", "mark", "space":
	default:
		return fmt.Errorf("invalid parity: %q", c.Parity)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("invalid read timeout: %s", c.ReadTimeout)
	}
	return nil
}

// TCPConfig represents the settings used for serial-over-TCP bridges such as
// ser2net.
type TCPConfig struct {
	DialTimeout time.Duration `json:"dial_timeout" mapstructure:"dial_timeout"`
	KeepAlive   time.Duration `json:"keep_alive" mapstructure:"keep_alive"`
}

// DefaultTCPConfig returns the default bridge settings.
func DefaultTCPConfig() TCPConfig {
	return TCPConfig{
		DialTimeout: 5 * time.Second,
		KeepAlive:   30 * time.Second,
	}
}

// Validate checks the bridge settings.
func (c TCPConfig) Validate() error {
	if c.DialTimeout <= 0 {
		return fmt.Errorf("invalid dial timeout: %s", c.DialTimeout)
	}
	if c.KeepAlive < 0 {
		return fmt.Errorf("invalid keep alive: %s", c.KeepAlive)
	}
	return nil
}
