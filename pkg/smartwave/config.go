package smartwave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/OpenTraceLab/OpenTraceWave/pkg/protocol"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/resource"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/session"
)

// busConfig is the state shared by I2C and SPI configurations: one driver,
// one stimulus and the pins bound to the driver roles.
type busConfig struct {
	dev   *Device
	id    int
	drv   driver
	stim  *stimulus
	roles []pinRole

	mu         sync.Mutex
	closed     bool
	written    bool // stimulus samples are on the device
	readNumber int
}

func (c *busConfig) ID() int { return c.id }

// frames returns the full setup sequence in the order the device expects:
// driver, stimulus, pin routing, pin setup, stimulus to driver routing.
func (c *busConfig) frames() []protocol.Command {
	cmds := []protocol.Command{c.drv.configFrame(), c.stim.frame(c.dev.triggerMode())}
	cmds = append(cmds, pinFrames(c.drv, c.roles)...)
	return append(cmds, c.stim.route(c.drv, c.readNumber))
}

// configure writes the whole configuration. It is a no-op while
// disconnected; the device replays it on connect.
func (c *busConfig) configure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.configureLocked()
}

func (c *busConfig) configureLocked() error {
	if c.closed {
		return ErrClosed
	}
	if !c.dev.Connected() {
		c.written = false
		return nil
	}
	if err := c.dev.sess.Send(c.frames()...); err != nil {
		return err
	}
	c.written = true
	return nil
}

// setSamplesLocked replaces the stimulus content and the expected readback
// length. Unchanged samples already on the device are not rewritten.
func (c *busConfig) setSamplesLocked(samples []uint32, readNumber int, same bool) error {
	if c.closed {
		return ErrClosed
	}
	if same && c.written && c.dev.Connected() {
		return nil
	}
	c.stim.samples = samples
	c.readNumber = readNumber
	if !c.dev.Connected() {
		c.written = false
		return nil
	}
	err := c.dev.sess.Send(c.stim.frame(c.dev.triggerMode()), c.stim.route(c.drv, readNumber))
	c.written = err == nil
	return err
}

// updateLocked applies a driver or pin change.
func (c *busConfig) updateLocked(cmds ...protocol.Command) error {
	if c.closed {
		return ErrClosed
	}
	if !c.dev.Connected() {
		return nil
	}
	return c.dev.sess.Send(cmds...)
}

// transact runs send while holding the readback slot for this stimulus and
// waits for the answer.
func (c *busConfig) transact(ctx context.Context, timeout time.Duration, send func() error) ([]uint32, error) {
	pending, err := c.dev.sess.Readback.Acquire(func(f protocol.ReadbackFrame) bool {
		return f.Recorder == c.stim.id
	})
	if err != nil {
		return nil, err
	}
	defer pending.Cancel()

	if err := send(); err != nil {
		return nil, err
	}
	if err := c.dev.Trigger(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	f, err := pending.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return f.Samples, nil
}

// setRoleName renames the display name of one driver role.
func (c *busConfig) setRoleName(role byte, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.roles {
		if c.roles[i].role != role {
			continue
		}
		c.roles[i].name = name
		return c.updateLocked(pinFrames(c.drv, c.roles[i:i+1])[0])
	}
	return fmt.Errorf("smartwave: no pin for role %d", role)
}

func (c *busConfig) roleName(role byte) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.roles {
		if r.role == role {
			return r.name
		}
	}
	return ""
}

func (c *busConfig) rolePin(role byte) *resource.Pin {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.roles {
		if r.role == role {
			return r.pin
		}
	}
	return nil
}

// close detaches the configuration on the device, then hands its resources
// back. Closing twice is allowed.
func (c *busConfig) close(release func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}

	var err error
	if c.dev.Connected() {
		err = c.dev.sess.Send(removalFrames(c.drv, c.roles)...)
		if errors.Is(err, session.ErrNotConnected) {
			err = nil
		}
	}

	c.closed = true
	c.written = false
	pins := make([]*resource.Pin, len(c.roles))
	for i, r := range c.roles {
		pins[i] = r.pin
	}
	c.dev.releasePins(pins...)
	release()
	c.stim.samples = nil
	c.dev.stimuli.Release(c.stim)
	c.dev.unregister(c)
	return err
}

// acquireRoles takes one pin per requested name. On failure every pin taken
// so far is handed back.
func (d *Device) acquireRoles(names []string) ([]*resource.Pin, error) {
	pins := make([]*resource.Pin, 0, len(names))
	for _, name := range names {
		p, err := d.acquirePin(name)
		if err != nil {
			d.releasePins(pins...)
			return nil, err
		}
		pins = append(pins, p)
	}
	return pins, nil
}
