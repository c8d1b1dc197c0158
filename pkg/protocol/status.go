package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Status is a device to host frame.
type Status interface {
	Tag() byte
	MarshalBinary() ([]byte, error)
}

type (
	// IdleFrame reports that no stimulus is running.
	IdleFrame struct{}
	// RunningFrame reports that a triggered stimulus is running.
	RunningFrame struct{}
	// FirmwareOKFrame reports a successful image update.
	FirmwareOKFrame struct{}
	// FirmwareFailedFrame reports a rejected image update.
	FirmwareFailedFrame struct{}
)

func (IdleFrame) Tag() byte           { return StatusIdle }
func (RunningFrame) Tag() byte        { return StatusRunning }
func (FirmwareOKFrame) Tag() byte     { return StatusFirmwareUpdateOK }
func (FirmwareFailedFrame) Tag() byte { return StatusFirmwareUpdateFailed }

func (IdleFrame) MarshalBinary() ([]byte, error)       { return []byte{StatusIdle}, nil }
func (RunningFrame) MarshalBinary() ([]byte, error)    { return []byte{StatusRunning}, nil }
func (FirmwareOKFrame) MarshalBinary() ([]byte, error) { return []byte{StatusFirmwareUpdateOK}, nil }
func (FirmwareFailedFrame) MarshalBinary() ([]byte, error) {
	return []byte{StatusFirmwareUpdateFailed}, nil
}

// ErrorFrame carries a device error code.
type ErrorFrame struct {
	Code ErrorCode
}

func (ErrorFrame) Tag() byte { return StatusError }

func (e ErrorFrame) MarshalBinary() ([]byte, error) {
	return []byte{StatusError, byte(e.Code)}, nil
}

// Err converts the frame into an error value.
func (e ErrorFrame) Err() *DeviceError {
	return &DeviceError{Code: e.Code}
}

// Version is a major.minor.patch triple.
type Version [3]byte

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2])
}

// InfoFrame answers RequestInfo.
type InfoFrame struct {
	Hardware        Version
	Microcontroller Version
	FPGA            Version
	FlashID         uint64
}

func (InfoFrame) Tag() byte { return StatusInfo }

func (i InfoFrame) MarshalBinary() ([]byte, error) {
	frame := []byte{StatusInfo}
	frame = append(frame, i.Hardware[:]...)
	frame = append(frame, i.Microcontroller[:]...)
	frame = append(frame, i.FPGA[:]...)
	return binary.BigEndian.AppendUint64(frame, i.FlashID), nil
}

// maxDebugLength bounds a debug string so a missing terminator cannot stall
// the reader forever.
const maxDebugLength = 4096

// DebugFrame is a free-form message from the firmware.
type DebugFrame struct {
	Message string
}

func (DebugFrame) Tag() byte { return StatusDebug }

func (d DebugFrame) MarshalBinary() ([]byte, error) {
	if len(d.Message) > maxDebugLength {
		return nil, fmt.Errorf("%w: debug message of %d bytes", ErrInvalidFrame, len(d.Message))
	}
	frame := append([]byte{StatusDebug}, d.Message...)
	return append(frame, 0), nil
}

// ReadbackFrame carries the samples a recorder captured.
type ReadbackFrame struct {
	Recorder byte
	Samples  []uint32
}

func (ReadbackFrame) Tag() byte { return StatusReadback }

func (r ReadbackFrame) MarshalBinary() ([]byte, error) {
	if len(r.Samples) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d readback samples", ErrInvalidFrame, len(r.Samples))
	}
	frame := make([]byte, 0, 4+4*len(r.Samples))
	frame = append(frame, StatusReadback, r.Recorder)
	frame = binary.BigEndian.AppendUint16(frame, uint16(len(r.Samples)))
	for _, s := range r.Samples {
		frame = binary.BigEndian.AppendUint32(frame, s)
	}
	return frame, nil
}

// RegisterFrame answers FPGARead.
type RegisterFrame struct {
	Value uint32
}

func (RegisterFrame) Tag() byte { return StatusSingleAddressRead }

func (r RegisterFrame) MarshalBinary() ([]byte, error) {
	return binary.BigEndian.AppendUint32([]byte{StatusSingleAddressRead}, r.Value), nil
}

// PinsStatusFrame reports the input level of every pin. Bit i of Levels
// belongs to the i-th pin in bank order A1..A10, B1..B10.
type PinsStatusFrame struct {
	BankA byte
	BankB byte
}

func (PinsStatusFrame) Tag() byte { return StatusPinsStatus }

func (p PinsStatusFrame) MarshalBinary() ([]byte, error) {
	return []byte{StatusPinsStatus, p.BankA, p.BankB}, nil
}

// Levels merges both banks into one bitmap.
func (p PinsStatusFrame) Levels() uint16 {
	return uint16(p.BankA) | uint16(p.BankB)<<8
}

// Level reports the level of the i-th pin.
func (p PinsStatusFrame) Level(i int) bool {
	if i < 0 || i > 15 {
		return false
	}
	return p.Levels()&(1<<i) != 0
}

// firmwareFinished is the progress value sent once an update completed.
const firmwareFinished = 0x7f

// firmwareTargetBit selects the microcontroller as the update target.
const firmwareTargetBit = 0x08

// FirmwareStatusFrame reports the progress of an image update.
type FirmwareStatusFrame struct {
	Raw byte
}

// NewFirmwareStatus builds a progress frame. A percent of 100 or more is
// sent as the finished marker.
func NewFirmwareStatus(microcontroller bool, percent int) FirmwareStatusFrame {
	if percent >= 100 {
		percent = firmwareFinished
	}
	if percent < 0 {
		percent = 0
	}
	raw := byte(percent) & 0x7f
	if microcontroller {
		raw |= firmwareTargetBit
	}
	return FirmwareStatusFrame{Raw: raw}
}

func (FirmwareStatusFrame) Tag() byte { return StatusFirmwareUpdateStatus }

func (f FirmwareStatusFrame) MarshalBinary() ([]byte, error) {
	return []byte{StatusFirmwareUpdateStatus, f.Raw}, nil
}

// Microcontroller reports whether the update targets the microcontroller
// rather than the FPGA.
func (f FirmwareStatusFrame) Microcontroller() bool {
	return f.Raw&firmwareTargetBit != 0
}

// Progress returns the raw progress value.
func (f FirmwareStatusFrame) Progress() int {
	return int(f.Raw & 0x7f)
}

// Finished reports whether the update is complete.
func (f FirmwareStatusFrame) Finished() bool {
	return f.Progress() >= 100
}

// UnknownFrame is returned for tags this package does not know. Only the tag
// byte has been consumed.
type UnknownFrame struct {
	Value byte
}

func (u UnknownFrame) Tag() byte { return u.Value }

func (u UnknownFrame) MarshalBinary() ([]byte, error) {
	return []byte{u.Value}, nil
}

// ReadStatus reads exactly one status frame. It returns io.EOF when the
// stream ends before a tag, and ErrTruncated when it ends inside a frame.
func ReadStatus(r io.Reader) (Status, error) {
	tag, err := readTag(r)
	if err != nil {
		return nil, err
	}
	f := &fieldReader{r: r, what: fmt.Sprintf("status 0x%02x", tag)}

	var st Status
	switch tag {
	case StatusIdle:
		st = IdleFrame{}
	case StatusRunning:
		st = RunningFrame{}
	case StatusError:
		st = ErrorFrame{Code: ErrorCode(f.u8())}
	case StatusInfo:
		var info InfoFrame
		copy(info.Hardware[:], f.bytes(3))
		copy(info.Microcontroller[:], f.bytes(3))
		copy(info.FPGA[:], f.bytes(3))
		if b := f.bytes(8); b != nil {
			info.FlashID = binary.BigEndian.Uint64(b)
		}
		st = info
	case StatusDebug:
		msg, err := readCString(f)
		if err != nil {
			return nil, err
		}
		st = DebugFrame{Message: msg}
	case StatusFirmwareUpdateOK:
		st = FirmwareOKFrame{}
	case StatusFirmwareUpdateFailed:
		st = FirmwareFailedFrame{}
	case StatusReadback:
		rb := ReadbackFrame{Recorder: f.u8()}
		count := int(f.u16())
		raw := f.bytes(4 * count)
		if raw != nil {
			rb.Samples = make([]uint32, count)
			for i := range rb.Samples {
				rb.Samples[i] = binary.BigEndian.Uint32(raw[4*i:])
			}
		}
		st = rb
	case StatusSingleAddressRead:
		st = RegisterFrame{Value: f.u32()}
	case StatusPinsStatus:
		st = PinsStatusFrame{BankA: f.u8(), BankB: f.u8()}
	case StatusFirmwareUpdateStatus:
		st = FirmwareStatusFrame{Raw: f.u8()}
	default:
		return UnknownFrame{Value: tag}, nil
	}
	if f.err != nil {
		return nil, f.err
	}
	return st, nil
}

func readCString(f *fieldReader) (string, error) {
	var msg []byte
	for {
		c := f.u8()
		if f.err != nil {
			return "", f.err
		}
		if c == 0 {
			return string(msg), nil
		}
		if len(msg) == maxDebugLength {
			return "", fmt.Errorf("%w: unterminated debug message", ErrInvalidFrame)
		}
		msg = append(msg, c)
	}
}
