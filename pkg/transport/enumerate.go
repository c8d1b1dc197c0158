package transport

import (
	"fmt"
	"strconv"

	"go.bug.st/serial/enumerator"

	"github.com/OpenTraceLab/OpenTraceWave/pkg/protocol"
)

// PortInfo describes a serial port found on the host.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VendorID     uint16
	ProductID    uint16
	SerialNumber string
	Product      string
}

// IsSmartWave reports whether the port belongs to a SmartWave.
func (p PortInfo) IsSmartWave() bool {
	return p.IsUSB && p.VendorID == protocol.VendorID && p.ProductID == protocol.ProductID
}

// Label returns a user-friendly description for the port.
func (p PortInfo) Label() string {
	if !p.IsUSB {
		return p.Name
	}
	if p.Product != "" {
		return fmt.Sprintf("%s (%s, %04X:%04X)", p.Name, p.Product, p.VendorID, p.ProductID)
	}
	return fmt.Sprintf("%s (%04X:%04X)", p.Name, p.VendorID, p.ProductID)
}

// ListPorts enumerates the serial ports of the host.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		info := PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		}
		if d.IsUSB {
			info.VendorID = parseUSBID(d.VID)
			info.ProductID = parseUSBID(d.PID)
		}
		ports = append(ports, info)
	}
	return ports, nil
}

// SmartWavePorts filters ports down to SmartWave devices.
func SmartWavePorts(ports []PortInfo) []PortInfo {
	var out []PortInfo
	for _, p := range ports {
		if p.IsSmartWave() {
			out = append(out, p)
		}
	}
	return out
}

// parseUSBID converts the enumerator's hex ID strings; malformed values map
// to zero so they never match a known device.
func parseUSBID(s string) uint16 {
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0
	}
	return uint16(v)
}
