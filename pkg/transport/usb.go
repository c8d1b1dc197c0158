package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/gousb"

	"github.com/OpenTraceLab/OpenTraceWave/pkg/protocol"
)

// DeviceKind categorizes discovered devices.
type DeviceKind string

const (
	DeviceKindSmartWave DeviceKind = "smartwave"
	DeviceKindSim       DeviceKind = "simulator"
)

// DeviceInfo describes a SmartWave seen on the USB bus.
type DeviceInfo struct {
	Kind        DeviceKind
	Description string
	VendorID    uint16
	ProductID   uint16
	Bus         int
	Address     int
	Path        []int
}

// Label returns a user-friendly description for the device.
func (d DeviceInfo) Label() string {
	if d.Kind == DeviceKindSim {
		return d.Description
	}
	return fmt.Sprintf("%s at bus %d address %d (%04X:%04X)", d.Description, d.Bus, d.Address, d.VendorID, d.ProductID)
}

// DiscoverDevices enumerates SmartWave boards on the USB bus without opening
// them. It always appends the simulator entry so callers can offer it when
// no hardware is attached.
func DiscoverDevices(ctx context.Context) ([]DeviceInfo, error) {
	var results []DeviceInfo
	usb := gousb.NewContext()
	defer usb.Close()

	_, err := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		if uint16(desc.Vendor) == protocol.VendorID && uint16(desc.Product) == protocol.ProductID {
			results = append(results, DeviceInfo{
				Kind:        DeviceKindSmartWave,
				Description: "SmartWave",
				VendorID:    uint16(desc.Vendor),
				ProductID:   uint16(desc.Product),
				Bus:         desc.Bus,
				Address:     desc.Address,
				Path:        desc.Path,
			})
		}
		return false
	})
	if err != nil && !errors.Is(err, gousb.ErrorAccess) {
		return results, fmt.Errorf("usb enumeration: %w", err)
	}

	results = append(results, DeviceInfo{
		Kind:        DeviceKindSim,
		Description: "Simulator (no hardware)",
	})
	return results, nil
}
