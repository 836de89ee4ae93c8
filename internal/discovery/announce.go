// internal/discovery/announce.go
package discovery

import (
	"fmt"
	"strconv"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"pulsepal-service/internal/config"
)

const (
	// ServiceType is the mDNS service type the HTTP API is announced under
	ServiceType = "_pulsepal._tcp"

	// ServiceDomain is the mDNS domain
	ServiceDomain = "local."
)

// Announcer advertises the running service over mDNS
type Announcer struct {
	server *zeroconf.Server
	logger *zap.Logger
}

// Announce registers the service on every multicast-capable interface.
func Announce(cfg *config.Config, logger *zap.Logger) (*Announcer, error) {
	port, err := strconv.Atoi(cfg.Server.Port)
	if err != nil {
		return nil, fmt.Errorf("invalid server port %q: %w", cfg.Server.Port, err)
	}

	server, err := zeroconf.Register(cfg.Server.MDNS.Instance, ServiceType, ServiceDomain, port, TXTRecords(cfg), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}

	logger.Info("Service announced over mDNS",
		zap.String("instance", cfg.Server.MDNS.Instance),
		zap.String("service", ServiceType),
		zap.Int("port", port),
	)
	return &Announcer{server: server, logger: logger}, nil
}

// TXTRecords describes the service to browsers
func TXTRecords(cfg *config.Config) []string {
	records := []string{
		"version=" + cfg.App.Version,
		"api=/api/v1",
		"events=/ws/events",
		"auth=" + strconv.FormatBool(cfg.Auth.Enabled()),
	}
	for _, preset := range cfg.Devices {
		records = append(records, "device="+preset.Name)
	}
	return records
}

// Shutdown withdraws the announcement
func (a *Announcer) Shutdown() {
	a.server.Shutdown()
	a.logger.Info("mDNS announcement withdrawn")
}
