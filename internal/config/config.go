// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"pulsepal-service/internal/protocol"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig   `mapstructure:"server"`
	Logging LoggingConfig  `mapstructure:"logging"`
	Device  DeviceConfig   `mapstructure:"device"`
	Devices []DevicePreset `mapstructure:"devices"`
	Auth    AuthConfig     `mapstructure:"auth"`
	Events  EventsConfig   `mapstructure:"events"`
	App     AppConfig      `mapstructure:"app"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	MDNS           MDNSConfig    `mapstructure:"mdns"`
}

// MDNSConfig controls announcing the HTTP API on the local network
type MDNSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Instance string `mapstructure:"instance"`
}

// AuthConfig configures bearer token checks on the API. An empty secret
// leaves the API open.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret" json:"-"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// Enabled reports whether requests must carry a token.
func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != ""
}

// EventsConfig configures where session events are forwarded
type EventsConfig struct {
	NATS NATSConfig `mapstructure:"nats"`
}

// NATSConfig represents the optional NATS event sink
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Subject       string        `mapstructure:"subject"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password" json:"-"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// DeviceConfig holds the settings shared by every device session
type DeviceConfig struct {
	ClientID       string                `mapstructure:"client_id"`
	ConnectTimeout time.Duration         `mapstructure:"connect_timeout"`
	HealthInterval time.Duration         `mapstructure:"health_interval"`
	Serial         protocol.SerialConfig `mapstructure:"serial"`
	TCP            protocol.TCPConfig    `mapstructure:"tcp"`
}

// Transport returns the transport factory settings.
func (d DeviceConfig) Transport() protocol.Config {
	return protocol.Config{Serial: d.Serial, TCP: d.TCP}
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// Load reads the configuration. An empty path searches for config.yaml in the
// working directory, ./config and /etc/pulsepal; a missing file there is not
// an error. Environment variables prefixed PULSEPAL_ override file values.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/pulsepal")
	}

	// Environment variable support
	v.SetEnvPrefix("PULSEPAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", "8085")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")

	v.SetDefault("server.mdns.enabled", false)
	v.SetDefault("server.mdns.instance", "pulsepal")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Device defaults
	serial := protocol.DefaultSerialConfig()
	tcp := protocol.DefaultTCPConfig()
	v.SetDefault("device.client_id", "GoPuls")
	v.SetDefault("device.connect_timeout", "5s")
	v.SetDefault("device.health_interval", "30s")
	v.SetDefault("device.serial.baud_rate", serial.BaudRate)
	v.SetDefault("device.serial.data_bits", serial.DataBits)
	v.SetDefault("device.serial.stop_bits", serial.StopBits)
	v.SetDefault("device.serial.parity", serial.Parity)
	v.SetDefault("device.serial.rts", serial.RTS)
	v.SetDefault("device.serial.dtr", serial.DTR)
	v.SetDefault("device.serial.read_timeout", "0s")
	v.SetDefault("device.tcp.dial_timeout", tcp.DialTimeout.String())
	v.SetDefault("device.tcp.keep_alive", tcp.KeepAlive.String())

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "pulsepal-service")
	v.SetDefault("auth.token_ttl", "24h")

	// Event forwarding defaults
	v.SetDefault("events.nats.url", "")
	v.SetDefault("events.nats.subject", "pulsepal.events")
	v.SetDefault("events.nats.reconnect_wait", "2s")
	v.SetDefault("events.nats.max_reconnects", 60)

	// App defaults
	v.SetDefault("app.name", "pulsepal-service")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	validEnvs := []string{"development", "staging", "production", "test"}
	if !contains(validEnvs, config.App.Environment) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	if config.Device.ClientID == "" || len(config.Device.ClientID) > 6 {
		return fmt.Errorf("device.client_id must be 1 to 6 characters, got %q", config.Device.ClientID)
	}
	if config.Device.ConnectTimeout <= 0 {
		return fmt.Errorf("device.connect_timeout must be positive")
	}
	if err := config.Device.Transport().Validate(); err != nil {
		return fmt.Errorf("device: %w", err)
	}

	if config.Auth.Enabled() {
		if len(config.Auth.JWTSecret) < 16 {
			return fmt.Errorf("auth.jwt_secret must be at least 16 characters")
		}
		if config.Auth.TokenTTL <= 0 {
			return fmt.Errorf("auth.token_ttl must be positive")
		}
	}
	if config.Events.NATS.URL != "" && config.Events.NATS.Subject == "" {
		return fmt.Errorf("events.nats.subject is required when events.nats.url is set")
	}

	seen := make(map[string]bool, len(config.Devices))
	for i := range config.Devices {
		preset := &config.Devices[i]
		if preset.Name == "" {
			return fmt.Errorf("devices[%d].name is required", i)
		}
		if seen[preset.Name] {
			return fmt.Errorf("devices[%d]: duplicate preset name %q", i, preset.Name)
		}
		seen[preset.Name] = true
		if err := preset.Validate(); err != nil {
			return fmt.Errorf("devices[%d] %q: %w", i, preset.Name, err)
		}
	}

	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// Preset returns the named device preset.
func (c *Config) Preset(name string) (*DevicePreset, bool) {
	for i := range c.Devices {
		if c.Devices[i].Name == name {
			return &c.Devices[i], true
		}
	}
	return nil, false
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
