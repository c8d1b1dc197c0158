package smartwave

import (
	"errors"
	"fmt"
	"sync"

	"github.com/OpenTraceLab/OpenTraceWave/pkg/protocol"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/resource"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/session"
)

// GPIOOptions configures a new GPIO. Pin is required; Name defaults to
// "GPIO".
type GPIOOptions struct {
	Pin          string
	Name         string
	Level        bool
	Pullup       bool
	OutputType   protocol.OutputType
	OnInputLevel func(level bool)
}

// GPIO drives or samples one pin directly.
type GPIO struct {
	dev *Device
	id  int
	pin *resource.Pin

	mu     sync.Mutex
	closed bool
	name   string
	level  bool
	output protocol.OutputType
}

// CreateGPIO takes the named pin for general purpose I/O.
func (d *Device) CreateGPIO(opts GPIOOptions) (*GPIO, error) {
	if opts.Pin == "" {
		return nil, fmt.Errorf("%w: gpio needs a pin name", resource.ErrInvalidName)
	}
	if opts.OutputType > protocol.OutputOpenDrain {
		return nil, fmt.Errorf("smartwave: unknown output type %d", opts.OutputType)
	}
	pin, err := resource.AcquirePin(d.pins, opts.Pin)
	if err != nil {
		return nil, err
	}
	g := &GPIO{
		dev:    d,
		id:     d.allocConfigID(),
		pin:    pin,
		name:   defaultName(opts.Name, "GPIO"),
		level:  opts.Level,
		output: opts.OutputType,
	}
	pin.SetPullup(opts.Pullup)
	pin.SetOnChange(opts.OnInputLevel)
	d.register(g)

	if err := g.configure(); err != nil {
		g.Close()
		return nil, fmt.Errorf("smartwave: configure gpio: %w", err)
	}
	return g, nil
}

// ID returns the GPIO slot number on the device.
func (g *GPIO) ID() int { return g.id }

func (g *GPIO) frames() []protocol.Command {
	return []protocol.Command{
		g.pin.Config(),
		protocol.GPIORoute(g.output, g.level, g.pin.ID(), gpioColor, g.name),
	}
}

func (g *GPIO) configure() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.writeLocked()
}

func (g *GPIO) writeLocked() error {
	if g.closed {
		return ErrClosed
	}
	if !g.dev.Connected() {
		return nil
	}
	return g.dev.sess.Send(g.frames()...)
}

func (g *GPIO) set(change func()) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	change()
	return g.writeLocked()
}

// Pin returns the pin in use.
func (g *GPIO) Pin() *resource.Pin { return g.pin }

// Name returns the label shown on the device display.
func (g *GPIO) Name() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.name
}

// SetName changes the label shown on the device display.
func (g *GPIO) SetName(name string) error {
	return g.set(func() { g.name = name })
}

// Level returns the driven output level.
func (g *GPIO) Level() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.level
}

// SetLevel drives the output high or low.
func (g *GPIO) SetLevel(level bool) error {
	return g.set(func() { g.level = level })
}

// Pullup reports whether the pin pull-up is enabled.
func (g *GPIO) Pullup() bool { return g.pin.Pullup() }

// SetPullup enables or disables the pin pull-up.
func (g *GPIO) SetPullup(enabled bool) error {
	return g.set(func() { g.pin.SetPullup(enabled) })
}

// OutputType returns the selected output stage.
func (g *GPIO) OutputType() protocol.OutputType {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.output
}

// SetOutputType selects the output stage. OutputDisable makes the pin an
// input.
func (g *GPIO) SetOutputType(t protocol.OutputType) error {
	if t > protocol.OutputOpenDrain {
		return fmt.Errorf("smartwave: unknown output type %d", t)
	}
	return g.set(func() { g.output = t })
}

// InputLevel returns the level last reported by the device.
func (g *GPIO) InputLevel() bool { return g.pin.Level() }

// SetOnInputLevel replaces the callback run when the input level changes.
// It runs on the reader goroutine.
func (g *GPIO) SetOnInputLevel(fn func(level bool)) {
	g.pin.SetOnChange(fn)
}

// Close disconnects the pin from the GPIO driver and returns it.
func (g *GPIO) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	var err error
	if g.dev.Connected() {
		err = g.dev.sess.Send(protocol.RemovePinRoute(g.pin.ID()))
	}
	g.closed = true
	g.dev.releasePins(g.pin)
	g.dev.unregister(g)
	if errors.Is(err, session.ErrNotConnected) {
		return nil
	}
	return err
}
