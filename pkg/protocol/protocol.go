// Package protocol implements the SmartWave wire format: the command frames
// the host sends and the status frames the device answers with.
package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// SmartWave USB identifiers
const (
	VendorID  = 0x2341
	ProductID = 0x8071

	BaudRate = 115200
)

// FPGA clocking used to derive driver clock dividers.
const (
	FPGAClockSpeed   = 100e6
	FPGAClockDivided = FPGAClockSpeed / 0xffff
)

// LayoutVersion is the I2C sample layout this package speaks.
const LayoutVersion = 2

// Command tags
const (
	CmdReset                byte = 0x00
	CmdTrigger              byte = 0x01
	CmdStop                 byte = 0x02
	CmdStimulus             byte = 0x03
	CmdDriver               byte = 0x04
	CmdPin                  byte = 0x05
	CmdStimulusDriverMatrix byte = 0x06
	CmdDriverPinMatrix      byte = 0x07
	CmdGeneral              byte = 0x08
	CmdInfo                 byte = 0x09
	CmdHeartbeat            byte = 0x0A
	CmdFirmwareUpdate       byte = 0x0B
	CmdFPGAUpdate           byte = 0x0C
	CmdFPGAWrite            byte = 0x0D
	CmdFPGARead             byte = 0x0E
)

// Status tags
const (
	StatusIdle                 byte = 0x01
	StatusRunning              byte = 0x02
	StatusError                byte = 0x03
	StatusInfo                 byte = 0x04
	StatusDebug                byte = 0x05
	StatusFirmwareUpdateOK     byte = 0x06
	StatusFirmwareUpdateFailed byte = 0x07
	StatusReadback             byte = 0x08
	StatusSingleAddressRead    byte = 0x09
	StatusPinsStatus           byte = 0x0A
	StatusFirmwareUpdateStatus byte = 0x0B
)

// Image upload markers following the update command tag.
const (
	firmwareUpdateMarker byte = 0x1b
	fpgaUpdateMarker     byte = 0x1c
)

var (
	// ErrTruncated is returned when a frame ends before its declared length.
	ErrTruncated = errors.New("protocol: truncated frame")
	// ErrInvalidFrame is returned for frames whose fields cannot be valid.
	ErrInvalidFrame = errors.New("protocol: invalid frame")
)

// DriverType identifies a driver family on the wire.
type DriverType byte

const (
	DriverSPI  DriverType = 0x00
	DriverI2C  DriverType = 0x01
	DriverI2S  DriverType = 0x02
	DriverUART DriverType = 0x03
	DriverGPIO DriverType = 0x04
	DriverNone DriverType = 0xff
)

func (t DriverType) String() string {
	switch t {
	case DriverSPI:
		return "spi"
	case DriverI2C:
		return "i2c"
	case DriverI2S:
		return "i2s"
	case DriverUART:
		return "uart"
	case DriverGPIO:
		return "gpio"
	case DriverNone:
		return "none"
	default:
		return fmt.Sprintf("driver(0x%02x)", byte(t))
	}
}

// StimulusType identifies a stimulus generator.
type StimulusType byte

const (
	StimulusArbitrary StimulusType = 0x00
	StimulusNone      StimulusType = 0x01
)

// TriggerMode selects how the device repeats stimuli after a trigger.
type TriggerMode byte

const (
	TriggerSingle TriggerMode = 0
	TriggerFull   TriggerMode = 1
	TriggerToggle TriggerMode = 2
)

func (m TriggerMode) String() string {
	switch m {
	case TriggerSingle:
		return "single"
	case TriggerFull:
		return "full"
	case TriggerToggle:
		return "toggle"
	default:
		return fmt.Sprintf("trigger(%d)", byte(m))
	}
}

// ParseTriggerMode accepts the names printed by TriggerMode.String.
func ParseTriggerMode(s string) (TriggerMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single", "":
		return TriggerSingle, nil
	case "full":
		return TriggerFull, nil
	case "toggle":
		return TriggerToggle, nil
	}
	return 0, fmt.Errorf("protocol: unknown trigger mode %q", s)
}

// OutputType is the output stage of a GPIO pin.
type OutputType byte

const (
	OutputDisable   OutputType = 0
	OutputPushPull  OutputType = 1
	OutputOpenDrain OutputType = 2
)

func (o OutputType) String() string {
	switch o {
	case OutputDisable:
		return "disable"
	case OutputPushPull:
		return "push-pull"
	case OutputOpenDrain:
		return "open-drain"
	default:
		return fmt.Sprintf("output(%d)", byte(o))
	}
}

// ParseOutputType accepts the names printed by OutputType.String.
func ParseOutputType(s string) (OutputType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disable", "disabled", "input":
		return OutputDisable, nil
	case "push-pull", "pushpull", "pp", "":
		return OutputPushPull, nil
	case "open-drain", "opendrain", "od":
		return OutputOpenDrain, nil
	}
	return 0, fmt.Errorf("protocol: unknown output type %q", s)
}

// ErrorCode is the payload of an Error status frame.
type ErrorCode byte

const (
	ErrorFirmwareCorrupt ErrorCode = 0x00
	ErrorFPGACorrupt     ErrorCode = 0x01
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorFirmwareCorrupt:
		return "firmware corrupt"
	case ErrorFPGACorrupt:
		return "fpga bitstream corrupt"
	default:
		return fmt.Sprintf("unknown error 0x%02x", byte(c))
	}
}

// DeviceError is an error reported by the device itself.
type DeviceError struct {
	Code ErrorCode
}

func (e *DeviceError) Error() string {
	return "protocol: device reported " + e.Code.String()
}
