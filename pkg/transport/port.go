// Package transport provides the byte streams a SmartWave session runs on:
// the USB serial port of a real device and in-memory ports for tests.
package transport

import (
	"errors"
	"io"
)

var (
	// ErrClosed is returned by every operation on a closed port.
	ErrClosed = errors.New("transport: port closed")
	// ErrReadTimeout is returned when a read sees no data before the port's
	// read timeout.
	ErrReadTimeout = errors.New("transport: read timeout")
)

// Port is a bidirectional byte stream with a non-blocking peek at how many
// bytes wait to be read. Read blocks up to the port's timeout and returns
// ErrReadTimeout when nothing arrived.
type Port interface {
	io.ReadWriteCloser
	Buffered() (int, error)
}
