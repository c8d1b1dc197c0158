package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Command is a host to device frame.
type Command interface {
	Tag() byte
	MarshalBinary() ([]byte, error)
}

// Encode marshals a command, mostly a convenience for call sites that
// build frames inline.
func Encode(cmd Command) ([]byte, error) {
	frame, err := cmd.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode 0x%02x: %w", cmd.Tag(), err)
	}
	return frame, nil
}

// Single-byte commands.
type (
	Reset       struct{}
	Trigger     struct{}
	Stop        struct{}
	RequestInfo struct{}
	Heartbeat   struct{}
)

func (Reset) Tag() byte       { return CmdReset }
func (Trigger) Tag() byte     { return CmdTrigger }
func (Stop) Tag() byte        { return CmdStop }
func (RequestInfo) Tag() byte { return CmdInfo }
func (Heartbeat) Tag() byte   { return CmdHeartbeat }

func (Reset) MarshalBinary() ([]byte, error)       { return []byte{CmdReset}, nil }
func (Trigger) MarshalBinary() ([]byte, error)     { return []byte{CmdTrigger}, nil }
func (Stop) MarshalBinary() ([]byte, error)        { return []byte{CmdStop}, nil }
func (RequestInfo) MarshalBinary() ([]byte, error) { return []byte{CmdInfo}, nil }
func (Heartbeat) MarshalBinary() ([]byte, error)   { return []byte{CmdHeartbeat}, nil }

// Stimulus loads a sample sequence into one stimulus generator.
type Stimulus struct {
	Type     StimulusType
	ID       byte
	BitWidth byte // 8, 16, 24 or 32
	Mode     TriggerMode
	Samples  []uint32
}

func (Stimulus) Tag() byte { return CmdStimulus }

func (s Stimulus) MarshalBinary() ([]byte, error) {
	if s.BitWidth == 0 || s.BitWidth%8 != 0 || s.BitWidth > 32 {
		return nil, fmt.Errorf("%w: stimulus bit width %d", ErrInvalidFrame, s.BitWidth)
	}
	if len(s.Samples) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d stimulus samples", ErrInvalidFrame, len(s.Samples))
	}
	width := int(s.BitWidth / 8)
	frame := make([]byte, 0, 7+width*len(s.Samples))

	repeat := byte(1)
	if s.Mode == TriggerToggle {
		repeat = 0
	}
	frame = append(frame, CmdStimulus, byte(s.Type), s.ID, s.BitWidth, repeat)
	frame = binary.BigEndian.AppendUint16(frame, uint16(len(s.Samples)))
	for _, sample := range s.Samples {
		for i := width - 1; i >= 0; i-- {
			frame = append(frame, byte(sample>>(8*i)))
		}
	}
	return frame, nil
}

// I2CDriver configures one of the I2C driver instances.
type I2CDriver struct {
	ID           byte
	Enable       bool
	ClockDivider uint16
}

func (I2CDriver) Tag() byte { return CmdDriver }

func (d I2CDriver) MarshalBinary() ([]byte, error) {
	frame := []byte{CmdDriver, byte(DriverI2C), d.ID, boolByte(d.Enable)}
	return binary.BigEndian.AppendUint16(frame, d.ClockDivider), nil
}

// SPIDriver configures one of the SPI driver instances.
type SPIDriver struct {
	ID             byte
	Enable         bool
	BitWidth       byte
	MSBFirst       bool
	ClockPolarity  bool
	CSPolarity     bool
	ClockPhase     bool
	ClockDivider   uint16
	CSInactiveTime byte
}

func (SPIDriver) Tag() byte { return CmdDriver }

func (d SPIDriver) MarshalBinary() ([]byte, error) {
	if d.BitWidth == 0 || d.BitWidth > 32 {
		return nil, fmt.Errorf("%w: spi bit width %d", ErrInvalidFrame, d.BitWidth)
	}
	frame := []byte{
		CmdDriver, byte(DriverSPI), d.ID, boolByte(d.Enable),
		d.BitWidth, boolByte(d.MSBFirst),
		boolByte(d.ClockPolarity), boolByte(d.CSPolarity), boolByte(d.ClockPhase),
	}
	frame = binary.BigEndian.AppendUint16(frame, d.ClockDivider)
	return append(frame, d.CSInactiveTime), nil
}

// PinConfig sets the input stage of a pin.
type PinConfig struct {
	PinID  byte
	Pullup bool
}

func (PinConfig) Tag() byte { return CmdPin }

func (p PinConfig) MarshalBinary() ([]byte, error) {
	return []byte{CmdPin, p.PinID, 1, boolByte(p.Pullup)}, nil
}

// StimulusDriverMatrix routes a stimulus into a driver. ReadNumber is the
// number of readback samples the recorder collects per trigger.
type StimulusDriverMatrix struct {
	StimulusType StimulusType
	StimulusID   byte
	DriverType   DriverType
	DriverID     byte
	ReadNumber   uint16
}

// RemoveStimulusRoute detaches any stimulus from a driver.
func RemoveStimulusRoute(driverType DriverType, driverID byte) StimulusDriverMatrix {
	return StimulusDriverMatrix{
		StimulusType: StimulusNone,
		DriverType:   driverType,
		DriverID:     driverID,
		ReadNumber:   0xffff,
	}
}

func (StimulusDriverMatrix) Tag() byte { return CmdStimulusDriverMatrix }

func (m StimulusDriverMatrix) MarshalBinary() ([]byte, error) {
	frame := []byte{CmdStimulusDriverMatrix, byte(m.StimulusType), m.StimulusID, byte(m.DriverType), m.DriverID}
	return binary.BigEndian.AppendUint16(frame, m.ReadNumber), nil
}

// DriverPinMatrix connects a driver signal to a physical pin. For GPIO
// entries the DriverID byte carries the output type and DriverPin the level;
// use GPIORoute to build those.
type DriverPinMatrix struct {
	DriverType DriverType
	DriverID   byte
	DriverPin  byte
	PinID      byte
	Color      uint16
	Name       string
}

// GPIORoute builds the matrix entry for a pin driven as plain GPIO.
func GPIORoute(output OutputType, level bool, pinID byte, color uint16, name string) DriverPinMatrix {
	return DriverPinMatrix{
		DriverType: DriverGPIO,
		DriverID:   byte(output),
		DriverPin:  boolByte(level),
		PinID:      pinID,
		Color:      color,
		Name:       name,
	}
}

// RemovePinRoute disconnects whatever drives the pin.
func RemovePinRoute(pinID byte) DriverPinMatrix {
	return DriverPinMatrix{DriverType: DriverNone, PinID: pinID, Color: 0xffff}
}

func (DriverPinMatrix) Tag() byte { return CmdDriverPinMatrix }

func (m DriverPinMatrix) MarshalBinary() ([]byte, error) {
	if len(m.Name) > math.MaxUint8 {
		return nil, fmt.Errorf("%w: pin name is %d bytes", ErrInvalidFrame, len(m.Name))
	}
	for i := 0; i < len(m.Name); i++ {
		if m.Name[i] > 0x7f {
			return nil, fmt.Errorf("%w: pin name %q is not ASCII", ErrInvalidFrame, m.Name)
		}
	}
	frame := []byte{CmdDriverPinMatrix, byte(m.DriverType), m.DriverID, m.DriverPin, m.PinID}
	frame = binary.BigEndian.AppendUint16(frame, m.Color)
	frame = append(frame, byte(len(m.Name)))
	return append(frame, m.Name...), nil
}

// General holds the device wide settings.
type General struct {
	SyncDivider uint16
	Subcycles   uint16
	Mode        TriggerMode
	VDDIO       float64 // volts
}

func (General) Tag() byte { return CmdGeneral }

func (g General) MarshalBinary() ([]byte, error) {
	centivolts := math.Round(g.VDDIO * 100)
	if centivolts < 0 || centivolts > math.MaxUint16 {
		return nil, fmt.Errorf("%w: vddio %.2fV", ErrInvalidFrame, g.VDDIO)
	}
	frame := []byte{CmdGeneral}
	frame = binary.BigEndian.AppendUint16(frame, g.SyncDivider)
	frame = binary.BigEndian.AppendUint16(frame, g.Subcycles)
	frame = append(frame, byte(g.Mode))
	return binary.BigEndian.AppendUint16(frame, uint16(centivolts)), nil
}

const maxFPGAAddress = 0xffffff

// FPGAWrite writes one FPGA register.
type FPGAWrite struct {
	Address uint32
	Value   uint32
}

func (FPGAWrite) Tag() byte { return CmdFPGAWrite }

func (w FPGAWrite) MarshalBinary() ([]byte, error) {
	if w.Address > maxFPGAAddress {
		return nil, fmt.Errorf("%w: fpga address 0x%x", ErrInvalidFrame, w.Address)
	}
	frame := appendUint24([]byte{CmdFPGAWrite}, w.Address)
	return binary.BigEndian.AppendUint32(frame, w.Value), nil
}

// FPGARead requests one FPGA register; the device answers with a
// SingleAddressRead status frame.
type FPGARead struct {
	Address uint32
}

func (FPGARead) Tag() byte { return CmdFPGARead }

func (r FPGARead) MarshalBinary() ([]byte, error) {
	if r.Address > maxFPGAAddress {
		return nil, fmt.Errorf("%w: fpga address 0x%x", ErrInvalidFrame, r.Address)
	}
	return appendUint24([]byte{CmdFPGARead}, r.Address), nil
}

// UpdateTarget selects which image an upload replaces.
type UpdateTarget byte

const (
	TargetFirmware UpdateTarget = iota
	TargetBitstream
)

func (t UpdateTarget) String() string {
	if t == TargetBitstream {
		return "fpga bitstream"
	}
	return "firmware"
}

// ImageUpload carries a firmware or bitstream image with its checksum.
type ImageUpload struct {
	Target   UpdateTarget
	Image    []byte
	Checksum uint32
}

func (u ImageUpload) Tag() byte {
	if u.Target == TargetBitstream {
		return CmdFPGAUpdate
	}
	return CmdFirmwareUpdate
}

func (u ImageUpload) MarshalBinary() ([]byte, error) {
	if uint64(len(u.Image)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: image of %d bytes", ErrInvalidFrame, len(u.Image))
	}
	marker := firmwareUpdateMarker
	if u.Target == TargetBitstream {
		marker = fpgaUpdateMarker
	}
	frame := make([]byte, 0, 10+len(u.Image))
	frame = append(frame, u.Tag(), marker)
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(u.Image)))
	frame = append(frame, u.Image...)
	return binary.BigEndian.AppendUint32(frame, u.Checksum), nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func appendUint24(b []byte, v uint32) []byte {
	return append(b, byte(v>>16), byte(v>>8), byte(v))
}
