package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenTraceLab/OpenTraceWave/pkg/protocol"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/transport"
)

const eventually = time.Second

func openSession(t *testing.T, opts Options) (*Session, *transport.MemoryPort) {
	t.Helper()
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = time.Hour
	}
	s := New(opts)
	port := transport.NewMemoryPort()
	require.NoError(t, s.Open(context.Background(), port))
	t.Cleanup(func() { s.Close() })
	return s, port
}

func feed(t *testing.T, port *transport.MemoryPort, st protocol.Status) {
	t.Helper()
	b, err := st.MarshalBinary()
	require.NoError(t, err)
	port.Feed(b)
}

func TestWriteNotConnected(t *testing.T) {
	s := New(Options{})
	assert.ErrorIs(t, s.Write([]byte{protocol.CmdTrigger}), ErrNotConnected)
	assert.ErrorIs(t, s.Send(protocol.Trigger{}), ErrNotConnected)
	assert.False(t, s.Connected())
	assert.NoError(t, s.Close())
}

func TestOpenTwice(t *testing.T) {
	s, _ := openSession(t, Options{})
	assert.ErrorIs(t, s.Open(context.Background(), transport.NewMemoryPort()), ErrAlreadyOpen)
}

func TestSendWritesFrames(t *testing.T) {
	s, port := openSession(t, Options{})

	require.NoError(t, s.Send(protocol.Reset{}, protocol.RequestInfo{}))
	frames := port.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, []byte{protocol.CmdReset}, frames[0])
	assert.Equal(t, []byte{protocol.CmdInfo}, frames[1])

	err := s.Send(protocol.Trigger{}, protocol.Stimulus{BitWidth: 3})
	assert.ErrorIs(t, err, protocol.ErrInvalidFrame)
	assert.Len(t, port.Frames(), 2, "nothing is written when a command fails to encode")
}

func TestHeartbeat(t *testing.T) {
	_, port := openSession(t, Options{HeartbeatInterval: 5 * time.Millisecond})

	require.Eventually(t, func() bool {
		beats := 0
		for _, f := range port.Frames() {
			if len(f) == 1 && f[0] == protocol.CmdHeartbeat {
				beats++
			}
		}
		return beats >= 3
	}, eventually, time.Millisecond)
}

func TestReadbackDelivery(t *testing.T) {
	s, port := openSession(t, Options{})

	pending, err := s.Readback.Acquire(func(f protocol.ReadbackFrame) bool { return f.Recorder == 1 })
	require.NoError(t, err)

	feed(t, port, protocol.ReadbackFrame{Recorder: 0, Samples: []uint32{9}})
	feed(t, port, protocol.ReadbackFrame{Recorder: 1, Samples: []uint32{1, 2}})

	ctx, cancel := context.WithTimeout(context.Background(), eventually)
	defer cancel()
	frame, err := pending.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte(1), frame.Recorder)
	assert.Equal(t, []uint32{1, 2}, frame.Samples)
}

func TestRegisterAndFirmwareSlots(t *testing.T) {
	s, port := openSession(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), eventually)
	defer cancel()

	reg, err := s.Register.Acquire(nil)
	require.NoError(t, err)
	feed(t, port, protocol.RegisterFrame{Value: 0xCAFEF00D})
	got, err := reg.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xCAFEF00D), got.Value)

	var progress []int
	var mu sync.Mutex
	s.SetHandlers(Handlers{FirmwareStatus: func(f protocol.FirmwareStatusFrame) {
		mu.Lock()
		progress = append(progress, f.Progress())
		mu.Unlock()
	}})
	fw, err := s.Firmware.Acquire(func(st protocol.Status) bool {
		f, ok := st.(protocol.FirmwareStatusFrame)
		return !ok || f.Finished()
	})
	require.NoError(t, err)
	feed(t, port, protocol.NewFirmwareStatus(false, 40))
	feed(t, port, protocol.NewFirmwareStatus(false, 100))
	st, err := fw.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, st.(protocol.FirmwareStatusFrame).Finished())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{40, 0x7f}, progress)
}

func TestUnknownTagSkipped(t *testing.T) {
	s, port := openSession(t, Options{})
	var idle atomic.Int32
	s.SetHandlers(Handlers{Idle: func() { idle.Add(1) }})

	port.Feed([]byte{0x42, protocol.StatusIdle})

	require.Eventually(t, func() bool { return idle.Load() == 1 }, eventually, time.Millisecond)
	assert.True(t, s.Connected())
	assert.NoError(t, s.Err())
}

func TestDeviceErrorWithoutHandlerEndsSession(t *testing.T) {
	s, port := openSession(t, Options{})

	feed(t, port, protocol.ErrorFrame{Code: protocol.ErrorFPGACorrupt})

	select {
	case <-s.Done():
	case <-time.After(eventually):
		t.Fatal("session did not end after an unhandled device error")
	}
	var devErr *protocol.DeviceError
	require.ErrorAs(t, s.Err(), &devErr)
	assert.Equal(t, protocol.ErrorFPGACorrupt, devErr.Code)
	assert.True(t, port.Closed())
	assert.ErrorIs(t, s.Write([]byte{protocol.CmdTrigger}), ErrNotConnected)
}

func TestDeviceErrorWithHandler(t *testing.T) {
	s, port := openSession(t, Options{})
	got := make(chan protocol.ErrorCode, 1)
	s.SetHandlers(Handlers{Error: func(err *protocol.DeviceError) { got <- err.Code }})

	feed(t, port, protocol.ErrorFrame{Code: protocol.ErrorFirmwareCorrupt})

	select {
	case code := <-got:
		assert.Equal(t, protocol.ErrorFirmwareCorrupt, code)
	case <-time.After(eventually):
		t.Fatal("error handler not called")
	}
	assert.True(t, s.Connected())
}

func TestTruncatedFrameEndsSession(t *testing.T) {
	s, port := openSession(t, Options{})

	port.Feed([]byte{protocol.StatusReadback, 0x00, 0x00})

	select {
	case <-s.Done():
	case <-time.After(eventually):
		t.Fatal("session survived a truncated frame")
	}
	assert.ErrorIs(t, s.Err(), protocol.ErrTruncated)
}

func TestCloseFailsPendingWaits(t *testing.T) {
	s, port := openSession(t, Options{})

	pending, err := s.Readback.Acquire(nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = pending.Wait(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.True(t, port.Closed())
	assert.False(t, s.Connected())
	assert.NoError(t, s.Err())
}

func TestHandlersMayWrite(t *testing.T) {
	s, port := openSession(t, Options{})
	s.SetHandlers(Handlers{Running: func() {
		assert.NoError(t, s.Send(protocol.Stop{}))
	}})

	feed(t, port, protocol.RunningFrame{})

	require.Eventually(t, func() bool {
		for _, f := range port.Frames() {
			if f[0] == protocol.CmdStop {
				return true
			}
		}
		return false
	}, eventually, time.Millisecond)
}

func TestReopenAfterClose(t *testing.T) {
	s, _ := openSession(t, Options{})
	require.NoError(t, s.Close())

	port := transport.NewMemoryPort()
	require.NoError(t, s.Open(context.Background(), port))
	require.NoError(t, s.Send(protocol.Trigger{}))
	assert.Len(t, port.Frames(), 1)
}

func TestContextCancelStopsLoops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(Options{HeartbeatInterval: time.Millisecond})
	port := transport.NewMemoryPort()
	require.NoError(t, s.Open(ctx, port))

	cancel()
	select {
	case <-s.Done():
	case <-time.After(eventually):
		t.Fatal("loops kept running after the context ended")
	}
	assert.True(t, port.Closed())
	assert.False(t, errors.Is(s.Err(), context.Canceled))
}
