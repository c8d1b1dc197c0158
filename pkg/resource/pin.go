package resource

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/OpenTraceLab/OpenTraceWave/pkg/protocol"
)

// Banks and the pin numbers each one exposes.
var (
	Banks      = []byte{'A', 'B'}
	PinNumbers = []byte{1, 2, 3, 4, 7, 8, 9, 10}
)

// Pin is one physical I/O pin. Bank and Number never change; the pull-up
// flag, the last observed input level and the level callback are guarded by
// the pin's own lock since the reader goroutine updates the level.
type Pin struct {
	Bank   byte
	Number byte

	mu       sync.Mutex
	pullup   bool
	level    bool
	onChange func(level bool)
}

// NewPin creates a pin. It does not validate bank or number.
func NewPin(bank, number byte) *Pin {
	return &Pin{Bank: bank, Number: number}
}

// DefaultPins returns the 16 pins of a SmartWave in status-bitmap order.
func DefaultPins() []*Pin {
	pins := make([]*Pin, 0, len(Banks)*len(PinNumbers))
	for _, bank := range Banks {
		for _, n := range PinNumbers {
			pins = append(pins, NewPin(bank, n))
		}
	}
	return pins
}

// ID returns the on-wire pin identifier.
func (p *Pin) ID() byte {
	return protocol.PinID(p.Bank, p.Number)
}

// Name returns the pin label, e.g. "A7".
func (p *Pin) Name() string {
	return fmt.Sprintf("%c%d", p.Bank, p.Number)
}

func (p *Pin) String() string {
	return p.Name()
}

// Pullup reports whether the pull-up resistor is enabled.
func (p *Pin) Pullup() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pullup
}

// SetPullup changes the pull-up flag locally; the owner writes the Pin
// frame to the device.
func (p *Pin) SetPullup(enabled bool) {
	p.mu.Lock()
	p.pullup = enabled
	p.mu.Unlock()
}

// Level returns the last reported input level.
func (p *Pin) Level() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// SetOnChange installs a callback invoked when the reported level changes.
// Pass nil to remove it.
func (p *Pin) SetOnChange(fn func(level bool)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// UpdateLevel records a reported level and fires the callback, outside the
// lock, when it differs from the previous one.
func (p *Pin) UpdateLevel(level bool) {
	p.mu.Lock()
	changed := p.level != level
	p.level = level
	fn := p.onChange
	p.mu.Unlock()

	if changed && fn != nil {
		fn(level)
	}
}

// Reset clears the owner-specific state before the pin goes back to a pool.
func (p *Pin) Reset() {
	p.mu.Lock()
	p.pullup = false
	p.onChange = nil
	p.mu.Unlock()
}

// Config returns the Pin command for the current pull-up setting.
func (p *Pin) Config() protocol.PinConfig {
	return protocol.PinConfig{PinID: p.ID(), Pullup: p.Pullup()}
}

// ParsePinName splits a name like "a7" or "B10" into bank and number.
func ParsePinName(name string) (bank, number byte, err error) {
	s := strings.ToUpper(strings.TrimSpace(name))
	if len(s) < 2 {
		return 0, 0, fmt.Errorf("%w: pin %q", ErrInvalidName, name)
	}
	bank = s[0]
	if bank != 'A' && bank != 'B' {
		return 0, 0, fmt.Errorf("%w: pin %q has no bank %c", ErrInvalidName, name, bank)
	}
	n, convErr := strconv.Atoi(s[1:])
	if convErr != nil {
		return 0, 0, fmt.Errorf("%w: pin %q", ErrInvalidName, name)
	}
	for _, valid := range PinNumbers {
		if int(valid) == n {
			return bank, valid, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: pin %q has no number %d", ErrInvalidName, name, n)
}

// AcquirePin takes the named pin out of pool.
func AcquirePin(pool *Pool[*Pin], name string) (*Pin, error) {
	bank, number, err := ParsePinName(name)
	if err != nil {
		return nil, err
	}
	pin, ok := pool.AcquireFunc(func(p *Pin) bool {
		return p.Bank == bank && p.Number == number
	})
	if !ok {
		return nil, fmt.Errorf("%w: pin %c%d", ErrInUse, bank, number)
	}
	return pin, nil
}
