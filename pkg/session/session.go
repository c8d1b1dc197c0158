// Package session runs the host side of a SmartWave connection: one serial
// lock shared by writers and the status reader, a heartbeat, and the slots
// blocking calls wait on.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/OpenTraceLab/OpenTraceWave/pkg/protocol"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/transport"
)

var (
	ErrNotConnected   = errors.New("session: not connected")
	ErrAlreadyOpen    = errors.New("session: already open")
	ErrAlreadyPending = errors.New("session: a blocking transaction is already pending")
	ErrTimeout        = errors.New("session: timed out waiting for the device")
)

const (
	DefaultHeartbeatInterval = 500 * time.Millisecond
	DefaultPollInterval      = time.Millisecond
)

// Options configures a Session. Zero values select the defaults.
type Options struct {
	Logger            *slog.Logger
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
}

// Handlers receive status frames on the reader goroutine, after the serial
// lock has been released, so they may write to the session. They must not
// call Close. Any handler may be nil; a nil Error handler makes device
// errors end the session.
type Handlers struct {
	Idle           func()
	Running        func()
	Error          func(*protocol.DeviceError)
	Info           func(protocol.InfoFrame)
	Debug          func(message string)
	Readback       func(protocol.ReadbackFrame)
	PinsStatus     func(protocol.PinsStatusFrame)
	FirmwareStatus func(protocol.FirmwareStatusFrame)
	FirmwareResult func(ok bool)
}

// Session owns a port while connected. The zero value is not usable; call New.
type Session struct {
	log       *slog.Logger
	heartbeat time.Duration
	poll      time.Duration

	mu   sync.Mutex // serial lock, guards port
	port transport.Port

	hmu      sync.RWMutex
	handlers Handlers

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}

	errMu sync.Mutex
	err   error

	// Readback receives Readback frames.
	Readback *Slot[protocol.ReadbackFrame]
	// Register receives SingleAddressRead frames.
	Register *Slot[protocol.RegisterFrame]
	// Firmware receives FirmwareUpdateStatus, FirmwareUpdateOk and
	// FirmwareUpdateFailed frames.
	Firmware *Slot[protocol.Status]
}

// New creates a disconnected session.
func New(opts Options) *Session {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Session{
		log:       log.With("component", "session"),
		heartbeat: opts.HeartbeatInterval,
		poll:      opts.PollInterval,
		Readback:  NewSlot[protocol.ReadbackFrame]("readback"),
		Register:  NewSlot[protocol.RegisterFrame]("register read"),
		Firmware:  NewSlot[protocol.Status]("firmware update"),
	}
}

// SetHandlers replaces the status handlers.
func (s *Session) SetHandlers(h Handlers) {
	s.hmu.Lock()
	s.handlers = h
	s.hmu.Unlock()
}

func (s *Session) currentHandlers() Handlers {
	s.hmu.RLock()
	defer s.hmu.RUnlock()
	return s.handlers
}

// Open takes ownership of port and starts the reader and heartbeat loops.
// The loops stop when Close is called, when ctx ends, or when the
// connection fails; in every case the port is closed afterwards.
func (s *Session) Open(ctx context.Context, port transport.Port) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.running() {
		return ErrAlreadyOpen
	}

	s.mu.Lock()
	s.port = port
	s.mu.Unlock()
	s.setErr(nil)

	loopCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error { return s.readLoop(gctx, port) })
	g.Go(func() error { return s.heartbeatLoop(gctx) })

	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	go func() {
		err := g.Wait()
		cancel()
		s.teardown(err)
		close(done)
	}()

	s.log.Debug("session opened")
	return nil
}

func (s *Session) running() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Close stops both loops, waits for them, and closes the port.
func (s *Session) Close() error {
	s.lifecycle.Lock()
	cancel, done := s.cancel, s.done
	s.lifecycle.Unlock()

	if done == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Done is closed once the current connection has been torn down.
func (s *Session) Done() <-chan struct{} {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

// Connected reports whether a port is attached.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}

// Err returns the failure that ended the last connection, or nil if it was
// closed normally or is still open.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

func (s *Session) teardown(err error) {
	s.mu.Lock()
	port := s.port
	s.port = nil
	if port != nil {
		if cerr := port.Close(); cerr != nil && !errors.Is(cerr, transport.ErrClosed) {
			s.log.Warn("closing port", "err", cerr)
		}
	}
	s.mu.Unlock()

	reason := ErrNotConnected
	if err != nil && !errors.Is(err, context.Canceled) {
		s.setErr(err)
		s.log.Error("session ended", "err", err)
		reason = fmt.Errorf("%w: %w", ErrNotConnected, err)
	} else {
		s.log.Debug("session closed")
	}

	s.Readback.Fail(reason)
	s.Register.Fail(reason)
	s.Firmware.Fail(reason)
}

// Write sends one raw frame under the serial lock.
func (s *Session) Write(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(frame)
}

func (s *Session) writeLocked(frame []byte) error {
	if s.port == nil {
		return ErrNotConnected
	}
	if len(frame) == 0 {
		return nil
	}
	if _, err := s.port.Write(frame); err != nil {
		return fmt.Errorf("session: write command 0x%02x: %w", frame[0], err)
	}
	return nil
}

// Send encodes cmds and writes them back to back while holding the serial
// lock, so no heartbeat lands in between. Nothing is written if any command
// fails to encode.
func (s *Session) Send(cmds ...protocol.Command) error {
	frames := make([][]byte, 0, len(cmds))
	for _, cmd := range cmds {
		frame, err := protocol.Encode(cmd)
		if err != nil {
			return err
		}
		frames = append(frames, frame)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, frame := range frames {
		if err := s.writeLocked(frame); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := s.Send(protocol.Heartbeat{}); err != nil {
			switch {
			case errors.Is(err, ErrNotConnected):
				return nil
			case errors.Is(err, transport.ErrClosed):
				return err
			}
			s.log.Warn("heartbeat failed", "err", err)
		}
	}
}

func (s *Session) readLoop(ctx context.Context, port transport.Port) error {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		st, err := s.next(port)
		if err != nil {
			return err
		}
		if st == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			continue
		}
		if err := s.dispatch(st); err != nil {
			return err
		}
	}
}

// next decodes at most one frame under the serial lock. Poll failures other
// than a closed port are transient and yield no frame.
func (s *Session) next(port transport.Port) (protocol.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := port.Buffered()
	if err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return nil, fmt.Errorf("session: %w", err)
		}
		s.log.Debug("poll failed", "err", err)
		return nil, nil
	}
	if n == 0 {
		return nil, nil
	}

	st, err := protocol.ReadStatus(port)
	if err != nil {
		return nil, fmt.Errorf("session: decode status: %w", err)
	}
	return st, nil
}

func (s *Session) dispatch(st protocol.Status) error {
	h := s.currentHandlers()

	switch f := st.(type) {
	case protocol.IdleFrame:
		if h.Idle != nil {
			h.Idle()
		}
	case protocol.RunningFrame:
		if h.Running != nil {
			h.Running()
		}
	case protocol.ErrorFrame:
		devErr := f.Err()
		if h.Error == nil {
			return devErr
		}
		h.Error(devErr)
	case protocol.InfoFrame:
		s.log.Debug("device info", "hardware", f.Hardware, "firmware", f.Microcontroller, "fpga", f.FPGA)
		if h.Info != nil {
			h.Info(f)
		}
	case protocol.DebugFrame:
		s.log.Debug("device debug", "msg", f.Message)
		if h.Debug != nil {
			h.Debug(f.Message)
		}
	case protocol.ReadbackFrame:
		if s.Readback.Deliver(f) {
			break
		}
		if h.Readback != nil {
			h.Readback(f)
		} else {
			s.log.Debug("unclaimed readback", "recorder", f.Recorder, "samples", len(f.Samples))
		}
	case protocol.RegisterFrame:
		if !s.Register.Deliver(f) {
			s.log.Debug("unclaimed register read", "value", f.Value)
		}
	case protocol.PinsStatusFrame:
		if h.PinsStatus != nil {
			h.PinsStatus(f)
		}
	case protocol.FirmwareStatusFrame:
		if h.FirmwareStatus != nil {
			h.FirmwareStatus(f)
		}
		s.Firmware.Deliver(f)
	case protocol.FirmwareOKFrame:
		if h.FirmwareResult != nil {
			h.FirmwareResult(true)
		}
		s.Firmware.Deliver(f)
	case protocol.FirmwareFailedFrame:
		if h.FirmwareResult != nil {
			h.FirmwareResult(false)
		}
		s.Firmware.Deliver(f)
	case protocol.UnknownFrame:
		s.log.Warn("skipping unknown status tag", "tag", fmt.Sprintf("0x%02x", f.Value))
	default:
		s.log.Warn("unhandled status frame", "type", fmt.Sprintf("%T", st))
	}
	return nil
}
