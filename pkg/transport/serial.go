package transport

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/OpenTraceLab/OpenTraceWave/pkg/protocol"
)

const (
	DefaultReadTimeout = time.Second
	pollChunk          = 4096
)

// SerialOptions configures OpenSerial.
type SerialOptions struct {
	BaudRate    int
	ReadTimeout time.Duration
}

// SerialPort is a Port over a go.bug.st/serial device. The serial library
// has no "bytes waiting" query, so Buffered performs a zero-timeout read and
// keeps what it got for the next Read.
type SerialPort struct {
	name        string
	port        serial.Port
	readTimeout time.Duration
	pending     []byte
	scratch     []byte
}

// OpenSerial opens name as an 8N1 serial port.
func OpenSerial(name string, opts SerialOptions) (*SerialPort, error) {
	if opts.BaudRate == 0 {
		opts.BaudRate = protocol.BaudRate
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", name, err)
	}

	return &SerialPort{
		name:        name,
		port:        port,
		readTimeout: opts.ReadTimeout,
		scratch:     make([]byte, pollChunk),
	}, nil
}

// Name returns the OS name the port was opened with.
func (p *SerialPort) Name() string {
	return p.name
}

// Buffered returns the number of bytes that can be read without blocking.
func (p *SerialPort) Buffered() (int, error) {
	if len(p.pending) > 0 {
		return len(p.pending), nil
	}
	if err := p.port.SetReadTimeout(0); err != nil {
		return 0, mapSerialError(err)
	}
	n, err := p.port.Read(p.scratch)
	if restoreErr := p.port.SetReadTimeout(p.readTimeout); restoreErr != nil && err == nil {
		err = restoreErr
	}
	if n > 0 {
		p.pending = append(p.pending, p.scratch[:n]...)
	}
	if err != nil {
		return len(p.pending), mapSerialError(err)
	}
	return len(p.pending), nil
}

func (p *SerialPort) Read(b []byte) (int, error) {
	if len(p.pending) > 0 {
		n := copy(b, p.pending)
		p.pending = p.pending[n:]
		return n, nil
	}
	n, err := p.port.Read(b)
	if err != nil {
		return n, mapSerialError(err)
	}
	if n == 0 {
		return 0, ErrReadTimeout
	}
	return n, nil
}

func (p *SerialPort) Write(b []byte) (int, error) {
	n, err := p.port.Write(b)
	if err != nil {
		return n, mapSerialError(err)
	}
	return n, nil
}

// Close releases the device. It is safe to call more than once.
func (p *SerialPort) Close() error {
	if err := p.port.Close(); err != nil {
		return mapSerialError(err)
	}
	return nil
}

func mapSerialError(err error) error {
	var portErr *serial.PortError
	if errors.As(err, &portErr) && portErr.Code() == serial.PortClosed {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}
