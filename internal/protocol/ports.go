// internal/protocol/ports.go
package protocol

import (
	"fmt"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
)

// PortInfo describes a serial port present on the host.
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
	Hardware     string `json:"hardware,omitempty"`
}

type usbID struct {
	vid, pid string
}

// knownHardware maps USB IDs to the microcontroller boards Pulse Pal
// units are built on. A match means the port is a likely candidate, not
// that a Pulse Pal answered the handshake.
var knownHardware = map[usbID]string{
	{"1EAF", "0004"}: "Pulse Pal 1 (Maple)",
	{"2341", "003D"}: "Pulse Pal 2 (Arduino Due programming port)",
	{"2341", "003E"}: "Pulse Pal 2 (Arduino Due native port)",
}

// identify returns the known board behind a USB ID, if any.
func identify(vid, pid string) string {
	return knownHardware[usbID{strings.ToUpper(vid), strings.ToUpper(pid)}]
}

// ListPorts enumerates the serial ports on the host, sorted by name.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}
	return portInfos(details), nil
}

func portInfos(details []*enumerator.PortDetails) []PortInfo {
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		if d == nil {
			continue
		}
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
			Hardware:     identify(d.VID, d.PID),
		})
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
	return ports
}
