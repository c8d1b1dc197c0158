package smartwave

import (
	"github.com/OpenTraceLab/OpenTraceWave/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/protocol"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/resource"
)

// Display colours of each driver family.
var (
	i2cColor  = protocol.MustRGB565("#a54be2")
	spiColor  = protocol.MustRGB565("#ab5848")
	gpioColor = protocol.MustRGB565("#435880")
)

// Pin role numbers inside a driver.
const (
	i2cRoleSCL byte = 0
	i2cRoleSDA byte = 1

	spiRoleSCLK byte = 0
	spiRoleCS   byte = 1
	spiRoleMOSI byte = 2
	spiRoleMISO byte = 3
)

// stimulusBitWidth is the sample width every configuration uses.
const stimulusBitWidth = 32

// driver is what a configuration needs from a driver instance: the frame
// that sets it up and its identity in the routing matrices.
type driver interface {
	driverType() protocol.DriverType
	driverID() byte
	color() uint16
	configFrame() protocol.Command
}

// pinRole binds a driver signal to a physical pin.
type pinRole struct {
	role byte
	pin  *resource.Pin
	name string
}

// pinFrames returns the routing and input setup for every role.
func pinFrames(d driver, roles []pinRole) []protocol.Command {
	cmds := make([]protocol.Command, 0, 2*len(roles))
	for _, r := range roles {
		cmds = append(cmds, protocol.DriverPinMatrix{
			DriverType: d.driverType(),
			DriverID:   d.driverID(),
			DriverPin:  r.role,
			PinID:      r.pin.ID(),
			Color:      d.color(),
			Name:       r.name,
		})
	}
	for _, r := range roles {
		cmds = append(cmds, r.pin.Config())
	}
	return cmds
}

// removalFrames detaches the stimulus and every pin from a driver.
func removalFrames(d driver, roles []pinRole) []protocol.Command {
	cmds := []protocol.Command{protocol.RemoveStimulusRoute(d.driverType(), d.driverID())}
	for _, r := range roles {
		cmds = append(cmds, protocol.RemovePinRoute(r.pin.ID()))
	}
	return cmds
}

type i2cDriver struct {
	id    byte
	clock float64
}

func (d *i2cDriver) driverType() protocol.DriverType { return protocol.DriverI2C }
func (d *i2cDriver) driverID() byte                  { return d.id }
func (d *i2cDriver) color() uint16                   { return i2cColor }

func (d *i2cDriver) configFrame() protocol.Command {
	return protocol.I2CDriver{ID: d.id, Enable: true, ClockDivider: bus.I2CClockDivider(d.clock)}
}

type spiDriver struct {
	id       byte
	settings bus.SPISettings
}

func (d *spiDriver) driverType() protocol.DriverType { return protocol.DriverSPI }
func (d *spiDriver) driverID() byte                  { return d.id }
func (d *spiDriver) color() uint16                   { return spiColor }

func (d *spiDriver) configFrame() protocol.Command {
	return d.settings.DriverFrame(d.id)
}

// stimulus is one sample memory; its id doubles as the recorder id the
// device reports readback under.
type stimulus struct {
	id      byte
	samples []uint32
}

func (s *stimulus) frame(mode protocol.TriggerMode) protocol.Stimulus {
	return protocol.Stimulus{
		Type:     protocol.StimulusArbitrary,
		ID:       s.id,
		BitWidth: stimulusBitWidth,
		Mode:     mode,
		Samples:  s.samples,
	}
}

func (s *stimulus) route(d driver, readNumber int) protocol.StimulusDriverMatrix {
	return protocol.StimulusDriverMatrix{
		StimulusType: protocol.StimulusArbitrary,
		StimulusID:   s.id,
		DriverType:   d.driverType(),
		DriverID:     d.driverID(),
		ReadNumber:   uint16(readNumber),
	}
}
