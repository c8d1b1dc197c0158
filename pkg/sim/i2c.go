package sim

import "sync"

// I2CTarget is a register-file I2C device: the first byte of a write sets
// the register pointer, further bytes are stored from there on, and reads
// continue at the pointer. The pointer wraps at the end of the file.
type I2CTarget struct {
	mu      sync.Mutex
	mem     []byte
	pointer int
}

func newI2CTarget(size int) *I2CTarget {
	if size <= 0 {
		size = 256
	}
	return &I2CTarget{mem: make([]byte, size)}
}

// Set stores data starting at register addr.
func (t *I2CTarget) Set(addr int, data ...byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, b := range data {
		t.mem[(addr+i)%len(t.mem)] = b
	}
}

// Bytes returns a copy of the register file.
func (t *I2CTarget) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.mem...)
}

func (t *I2CTarget) write(data []byte) {
	if len(data) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pointer = int(data[0]) % len(t.mem)
	for _, b := range data[1:] {
		t.mem[t.pointer] = b
		t.pointer = (t.pointer + 1) % len(t.mem)
	}
}

func (t *I2CTarget) next() byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.mem[t.pointer]
	t.pointer = (t.pointer + 1) % len(t.mem)
	return b
}
