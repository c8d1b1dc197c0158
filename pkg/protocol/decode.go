package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// maxImageSize bounds upload frames accepted by ReadCommand.
const maxImageSize = 16 << 20

// fieldReader reads fixed-size fields and remembers the first failure so
// decoders can read a whole frame and check the error once.
type fieldReader struct {
	r    io.Reader
	what string
	err  error
}

func (f *fieldReader) bytes(n int) []byte {
	if f.err != nil {
		return nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(f.r, buf); err != nil {
		f.err = fmt.Errorf("%w: %s: %v", ErrTruncated, f.what, err)
		return nil
	}
	return buf
}

func (f *fieldReader) u8() byte {
	b := f.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (f *fieldReader) u16() uint16 {
	b := f.bytes(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (f *fieldReader) u24() uint32 {
	b := f.bytes(3)
	if b == nil {
		return 0
	}
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func (f *fieldReader) u32() uint32 {
	b := f.bytes(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// readTag reads the leading tag byte. A clean end of stream is reported as
// io.EOF so callers can tell "nothing there" from a broken frame.
func readTag(r io.Reader) (byte, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, io.EOF
		}
		return 0, err
	}
	return tag[0], nil
}

// DecodeCommand parses exactly one command frame.
func DecodeCommand(frame []byte) (Command, error) {
	r := bytes.NewReader(frame)
	cmd, err := ReadCommand(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty frame", ErrTruncated)
		}
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after 0x%02x", ErrInvalidFrame, r.Len(), cmd.Tag())
	}
	return cmd, nil
}

// ReadCommand reads one command frame from a byte stream.
func ReadCommand(r io.Reader) (Command, error) {
	tag, err := readTag(r)
	if err != nil {
		return nil, err
	}
	f := &fieldReader{r: r, what: fmt.Sprintf("command 0x%02x", tag)}

	var cmd Command
	switch tag {
	case CmdReset:
		cmd = Reset{}
	case CmdTrigger:
		cmd = Trigger{}
	case CmdStop:
		cmd = Stop{}
	case CmdInfo:
		cmd = RequestInfo{}
	case CmdHeartbeat:
		cmd = Heartbeat{}
	case CmdStimulus:
		cmd, err = readStimulus(f)
	case CmdDriver:
		cmd, err = readDriver(f)
	case CmdPin:
		id := f.u8()
		f.u8() // input enable
		cmd = PinConfig{PinID: id, Pullup: f.u8() != 0}
	case CmdStimulusDriverMatrix:
		cmd = StimulusDriverMatrix{
			StimulusType: StimulusType(f.u8()),
			StimulusID:   f.u8(),
			DriverType:   DriverType(f.u8()),
			DriverID:     f.u8(),
			ReadNumber:   f.u16(),
		}
	case CmdDriverPinMatrix:
		m := DriverPinMatrix{
			DriverType: DriverType(f.u8()),
			DriverID:   f.u8(),
			DriverPin:  f.u8(),
			PinID:      f.u8(),
			Color:      f.u16(),
		}
		m.Name = string(f.bytes(int(f.u8())))
		cmd = m
	case CmdGeneral:
		g := General{SyncDivider: f.u16(), Subcycles: f.u16(), Mode: TriggerMode(f.u8())}
		g.VDDIO = float64(f.u16()) / 100
		cmd = g
	case CmdFPGAWrite:
		cmd = FPGAWrite{Address: f.u24(), Value: f.u32()}
	case CmdFPGARead:
		cmd = FPGARead{Address: f.u24()}
	case CmdFirmwareUpdate, CmdFPGAUpdate:
		cmd, err = readImageUpload(f, tag)
	default:
		return nil, fmt.Errorf("%w: unknown command 0x%02x", ErrInvalidFrame, tag)
	}
	if err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return cmd, nil
}

func readStimulus(f *fieldReader) (Command, error) {
	s := Stimulus{Type: StimulusType(f.u8()), ID: f.u8(), BitWidth: f.u8()}
	if f.u8() == 0 {
		s.Mode = TriggerToggle
	}
	count := int(f.u16())
	if f.err != nil {
		return nil, f.err
	}
	if s.BitWidth == 0 || s.BitWidth%8 != 0 || s.BitWidth > 32 {
		return nil, fmt.Errorf("%w: stimulus bit width %d", ErrInvalidFrame, s.BitWidth)
	}
	width := int(s.BitWidth / 8)
	raw := f.bytes(width * count)
	if f.err != nil {
		return nil, f.err
	}
	s.Samples = make([]uint32, count)
	for i := range s.Samples {
		var v uint32
		for _, b := range raw[i*width : (i+1)*width] {
			v = v<<8 | uint32(b)
		}
		s.Samples[i] = v
	}
	return s, nil
}

func readDriver(f *fieldReader) (Command, error) {
	typ := DriverType(f.u8())
	switch typ {
	case DriverI2C:
		return I2CDriver{ID: f.u8(), Enable: f.u8() != 0, ClockDivider: f.u16()}, nil
	case DriverSPI:
		return SPIDriver{
			ID:             f.u8(),
			Enable:         f.u8() != 0,
			BitWidth:       f.u8(),
			MSBFirst:       f.u8() != 0,
			ClockPolarity:  f.u8() != 0,
			CSPolarity:     f.u8() != 0,
			ClockPhase:     f.u8() != 0,
			ClockDivider:   f.u16(),
			CSInactiveTime: f.u8(),
		}, nil
	}
	if f.err != nil {
		return nil, f.err
	}
	return nil, fmt.Errorf("%w: unsupported driver type %s", ErrInvalidFrame, typ)
}

func readImageUpload(f *fieldReader, tag byte) (Command, error) {
	u := ImageUpload{Target: TargetFirmware}
	want := firmwareUpdateMarker
	if tag == CmdFPGAUpdate {
		u.Target = TargetBitstream
		want = fpgaUpdateMarker
	}
	if marker := f.u8(); f.err == nil && marker != want {
		return nil, fmt.Errorf("%w: upload marker 0x%02x", ErrInvalidFrame, marker)
	}
	size := f.u32()
	if size > maxImageSize {
		return nil, fmt.Errorf("%w: image of %d bytes", ErrInvalidFrame, size)
	}
	u.Image = f.bytes(int(size))
	u.Checksum = f.u32()
	return u, nil
}
