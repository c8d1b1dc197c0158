package transport

import (
	"sync"
)

// MemoryPort is an in-memory Port. Bytes passed to Feed become readable;
// every Write is recorded as one frame and handed to OnWrite, which lets a
// test double answer the host.
type MemoryPort struct {
	mu      sync.Mutex
	inbound []byte
	frames  [][]byte
	closed  bool

	// OnWrite is called after each successful Write with a copy of the
	// frame, without any port lock held.
	OnWrite func(frame []byte)
}

// NewMemoryPort creates an open, empty port.
func NewMemoryPort() *MemoryPort {
	return &MemoryPort{}
}

// Feed appends device-to-host bytes.
func (p *MemoryPort) Feed(b []byte) {
	p.mu.Lock()
	p.inbound = append(p.inbound, b...)
	p.mu.Unlock()
}

// Frames returns a copy of every frame written so far.
func (p *MemoryPort) Frames() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.frames))
	for i, f := range p.frames {
		out[i] = append([]byte(nil), f...)
	}
	return out
}

// Reset forgets recorded frames.
func (p *MemoryPort) Reset() {
	p.mu.Lock()
	p.frames = nil
	p.mu.Unlock()
}

// Closed reports whether Close was called.
func (p *MemoryPort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *MemoryPort) Buffered() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	return len(p.inbound), nil
}

func (p *MemoryPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	if len(p.inbound) == 0 {
		return 0, ErrReadTimeout
	}
	n := copy(b, p.inbound)
	p.inbound = p.inbound[n:]
	return n, nil
}

func (p *MemoryPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	frame := append([]byte(nil), b...)
	p.frames = append(p.frames, frame)
	hook := p.OnWrite
	p.mu.Unlock()

	if hook != nil {
		hook(append([]byte(nil), frame...))
	}
	return len(b), nil
}

func (p *MemoryPort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}
