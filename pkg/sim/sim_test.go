package sim

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenTraceLab/OpenTraceWave/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/protocol"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/transport"
)

func send(t *testing.T, d *Device, cmds ...protocol.Command) {
	t.Helper()
	for _, cmd := range cmds {
		frame, err := protocol.Encode(cmd)
		require.NoError(t, err)
		_, err = d.Port().Write(frame)
		require.NoError(t, err)
	}
}

// replies drains everything the emulator has sent so far.
func replies(t *testing.T, d *Device) []protocol.Status {
	t.Helper()
	var raw []byte
	buf := make([]byte, 256)
	for {
		n, err := d.Port().Read(buf)
		raw = append(raw, buf[:n]...)
		if errors.Is(err, transport.ErrReadTimeout) {
			break
		}
		require.NoError(t, err)
	}

	var out []protocol.Status
	r := bytes.NewReader(raw)
	for {
		st, err := protocol.ReadStatus(r)
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, st)
	}
}

func readback(sts []protocol.Status) []protocol.ReadbackFrame {
	var out []protocol.ReadbackFrame
	for _, st := range sts {
		if f, ok := st.(protocol.ReadbackFrame); ok {
			out = append(out, f)
		}
	}
	return out
}

func TestInfo(t *testing.T) {
	d := New(Options{})
	send(t, d, protocol.RequestInfo{}, protocol.Heartbeat{})

	sts := replies(t, d)
	require.Len(t, sts, 1)
	assert.Equal(t, DefaultInfo, sts[0])
	assert.Len(t, d.Commands(), 1, "heartbeats are not recorded")
}

func TestI2CTransfer(t *testing.T) {
	d := New(Options{})
	target := d.AddI2CTarget(0x50, 16)
	target.Set(4, 0xDE, 0xAD)

	txs := []bus.I2CTransaction{
		bus.I2CWrite(0x50, 0x04),
		bus.I2CRead(0x50, 2),
		bus.I2CRead(0x51, 1),
	}
	samples, err := bus.EncodeI2C(txs)
	require.NoError(t, err)
	send(t, d,
		protocol.Stimulus{Type: protocol.StimulusArbitrary, ID: 2, BitWidth: 32, Samples: samples},
		protocol.StimulusDriverMatrix{StimulusID: 2, DriverType: protocol.DriverI2C, ReadNumber: uint16(bus.I2CReadNumber(txs))},
		protocol.Trigger{},
	)

	sts := replies(t, d)
	require.NotEmpty(t, sts)
	assert.Equal(t, protocol.RunningFrame{}, sts[0])
	assert.Equal(t, protocol.IdleFrame{}, sts[len(sts)-1])

	frames := readback(sts)
	require.Len(t, frames, 1)
	assert.Equal(t, byte(2), frames[0].Recorder)

	results := bus.DecodeI2C(frames[0].Samples)
	require.Len(t, results, 3)
	assert.True(t, results[0].AckDeviceID)
	assert.Equal(t, []byte{0xDE, 0xAD}, results[1].Data)
	assert.Equal(t, []bool{true, false}, results[1].AcksData)
	assert.False(t, results[2].AckDeviceID)
	assert.Equal(t, 1, d.Triggers())
}

func TestSPILoopback(t *testing.T) {
	d := New(Options{})
	settings := bus.DefaultSPISettings()
	send(t, d,
		settings.DriverFrame(1),
		protocol.Stimulus{Type: protocol.StimulusArbitrary, ID: 0, BitWidth: 32, Samples: []uint32{0x1ff, 0x42}},
		protocol.StimulusDriverMatrix{StimulusID: 0, DriverType: protocol.DriverSPI, DriverID: 1, ReadNumber: 2},
		protocol.Trigger{},
	)

	frames := readback(replies(t, d))
	require.Len(t, frames, 1)
	assert.Equal(t, []uint32{0xff, 0x42}, frames[0].Samples, "words are cut to the 8 bit driver width")
}

func TestRouteRemoval(t *testing.T) {
	d := New(Options{})
	send(t, d,
		protocol.Stimulus{Type: protocol.StimulusArbitrary, ID: 0, BitWidth: 32, Samples: []uint32{1}},
		protocol.StimulusDriverMatrix{StimulusID: 0, DriverType: protocol.DriverSPI, ReadNumber: 1},
		protocol.RemoveStimulusRoute(protocol.DriverSPI, 0),
		protocol.Trigger{},
	)
	assert.Empty(t, readback(replies(t, d)))
}

func TestRegisters(t *testing.T) {
	d := New(Options{})
	d.SetRegister(0x10, 7)
	send(t, d, protocol.FPGAWrite{Address: 0x20, Value: 0xABCD}, protocol.FPGARead{Address: 0x20}, protocol.FPGARead{Address: 0x10})

	assert.Equal(t, []protocol.Status{
		protocol.RegisterFrame{Value: 0xABCD},
		protocol.RegisterFrame{Value: 7},
	}, replies(t, d))
	assert.Equal(t, uint32(0xABCD), d.Register(0x20))
}

func TestUpload(t *testing.T) {
	image := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	t.Run("accepted", func(t *testing.T) {
		d := New(Options{})
		send(t, d, protocol.ImageUpload{Target: protocol.TargetFirmware, Image: image, Checksum: protocol.FirmwareChecksum(image)})
		sts := replies(t, d)
		require.Len(t, sts, 4)
		last := sts[2].(protocol.FirmwareStatusFrame)
		assert.True(t, last.Finished())
		assert.True(t, last.Microcontroller())
		assert.Equal(t, protocol.FirmwareOKFrame{}, sts[3])
	})

	t.Run("bad checksum", func(t *testing.T) {
		d := New(Options{})
		send(t, d, protocol.ImageUpload{Target: protocol.TargetBitstream, Image: image, Checksum: 1})
		assert.Equal(t, []protocol.Status{protocol.FirmwareFailedFrame{}}, replies(t, d))
	})
}

func TestGPIOPinsStatus(t *testing.T) {
	d := New(Options{})
	a2 := protocol.PinID('A', 2)
	send(t, d, protocol.GPIORoute(protocol.OutputPushPull, true, a2, 0, "LED"))

	sts := replies(t, d)
	require.Len(t, sts, 1)
	status := sts[0].(protocol.PinsStatusFrame)
	assert.True(t, status.Level(1))
	assert.False(t, status.Level(0))

	require.NoError(t, d.DriveInput("B1", true))
	status = replies(t, d)[0].(protocol.PinsStatusFrame)
	assert.True(t, status.Level(8))
	assert.True(t, status.Level(1))

	route, ok := d.PinRoute(a2)
	require.True(t, ok)
	assert.Equal(t, "LED", route.Name)
}

func TestResetClearsRouting(t *testing.T) {
	d := New(Options{})
	send(t, d,
		protocol.PinConfig{PinID: 0xa1, Pullup: true},
		protocol.General{SyncDivider: 2, VDDIO: 1.8},
	)
	assert.True(t, d.Pullup(0xa1))
	assert.InDelta(t, 1.8, d.General().VDDIO, 1e-9)

	send(t, d, protocol.Reset{})
	assert.False(t, d.Pullup(0xa1))
	assert.InDelta(t, 3.3, d.General().VDDIO, 1e-9)
}
