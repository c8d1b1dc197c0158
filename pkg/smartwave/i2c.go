package smartwave

import (
	"context"
	"fmt"
	"time"

	"github.com/OpenTraceLab/OpenTraceWave/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/resource"
)

// I2COptions selects the pins and clock of a new I2C configuration. Empty
// pin names take the next free pins.
type I2COptions struct {
	SCL, SDA         string
	ClockSpeed       float64 // Hz, 0 selects 400 kHz
	SCLName, SDAName string  // display names, default "SCL" and "SDA"
}

// I2CConfig is an I2C bus master on two pins.
type I2CConfig struct {
	busConfig
	drvI2C *i2cDriver
	last   []bus.I2CTransaction
}

// CreateI2CConfig binds an I2C driver, a stimulus and two pins. The
// configuration is written at once when the device is connected.
func (d *Device) CreateI2CConfig(opts I2COptions) (*I2CConfig, error) {
	if opts.ClockSpeed == 0 {
		opts.ClockSpeed = bus.DefaultI2CClock
	}
	if err := bus.ValidateI2CClock(opts.ClockSpeed); err != nil {
		return nil, err
	}
	if opts.SCLName == "" {
		opts.SCLName = "SCL"
	}
	if opts.SDAName == "" {
		opts.SDAName = "SDA"
	}

	drv, err := d.i2cDrivers.Acquire()
	if err != nil {
		return nil, err
	}
	stim, err := d.stimuli.Acquire()
	if err != nil {
		d.i2cDrivers.Release(drv)
		return nil, err
	}
	pins, err := d.acquireRoles([]string{opts.SCL, opts.SDA})
	if err != nil {
		d.stimuli.Release(stim)
		d.i2cDrivers.Release(drv)
		return nil, err
	}
	for _, p := range pins {
		p.SetPullup(true)
	}
	drv.clock = opts.ClockSpeed

	c := &I2CConfig{
		busConfig: busConfig{
			dev:  d,
			id:   d.allocConfigID(),
			drv:  drv,
			stim: stim,
			roles: []pinRole{
				{role: i2cRoleSCL, pin: pins[0], name: opts.SCLName},
				{role: i2cRoleSDA, pin: pins[1], name: opts.SDAName},
			},
		},
		drvI2C: drv,
	}
	d.register(&c.busConfig)

	if err := c.configure(); err != nil {
		c.Close()
		return nil, fmt.Errorf("smartwave: configure i2c: %w", err)
	}
	d.log.Debug("i2c config created", "id", c.id, "driver", drv.id, "stimulus", stim.id,
		"scl", pins[0].Name(), "sda", pins[1].Name())
	return c, nil
}

// SetTransactions stores the transactions in the stimulus. An identical list
// that is already on the device is not sent again.
func (c *I2CConfig) SetTransactions(txs []bus.I2CTransaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setTransactionsLocked(txs)
}

func (c *I2CConfig) setTransactionsLocked(txs []bus.I2CTransaction) error {
	samples, err := bus.EncodeI2C(txs)
	if err != nil {
		return err
	}
	same := c.last != nil && bus.SameTransactions(txs, c.last)
	if err := c.setSamplesLocked(samples, bus.I2CReadNumber(txs), same); err != nil {
		return err
	}
	c.last = make([]bus.I2CTransaction, len(txs))
	for i, tx := range txs {
		c.last[i] = tx
	}
	return nil
}

// Send loads the transactions and triggers without waiting for readback.
func (c *I2CConfig) Send(txs []bus.I2CTransaction) error {
	if err := c.SetTransactions(txs); err != nil {
		return err
	}
	return c.dev.Trigger()
}

// Transact loads the transactions, triggers and waits for the recorded bus
// activity, at most the bus timeout.
func (c *I2CConfig) Transact(ctx context.Context, txs []bus.I2CTransaction) ([]bus.I2CResult, error) {
	return c.transactTimeout(ctx, c.dev.opts.BusTimeout, txs)
}

func (c *I2CConfig) transactTimeout(ctx context.Context, timeout time.Duration, txs []bus.I2CTransaction) ([]bus.I2CResult, error) {
	words, err := c.transact(ctx, timeout, func() error { return c.SetTransactions(txs) })
	if err != nil {
		return nil, err
	}
	return bus.DecodeI2C(words), nil
}

// Write writes data to device id. A missing address acknowledge is
// reported as ErrNoAck together with the result.
func (c *I2CConfig) Write(ctx context.Context, id byte, data ...byte) (bus.I2CResult, error) {
	return c.single(ctx, bus.I2CWrite(id, data...))
}

// Read reads n bytes from device id.
func (c *I2CConfig) Read(ctx context.Context, id byte, n int) (bus.I2CResult, error) {
	return c.single(ctx, bus.I2CRead(id, n))
}

func (c *I2CConfig) single(ctx context.Context, tx bus.I2CTransaction) (bus.I2CResult, error) {
	results, err := c.Transact(ctx, []bus.I2CTransaction{tx})
	if err != nil {
		return bus.I2CResult{}, err
	}
	if len(results) == 0 {
		return bus.I2CResult{}, fmt.Errorf("smartwave: empty readback for %s", tx)
	}
	if !results[0].AckDeviceID {
		return results[0], fmt.Errorf("%w: %s", ErrNoAck, tx)
	}
	return results[0], nil
}

// WriteRegister writes value to the register at address of device id.
func (c *I2CConfig) WriteRegister(ctx context.Context, id byte, address, value []byte) (bus.I2CResult, error) {
	data := append(append([]byte(nil), address...), value...)
	return c.Write(ctx, id, data...)
}

// ReadRegister writes address to device id and reads n bytes back.
func (c *I2CConfig) ReadRegister(ctx context.Context, id byte, address []byte, n int) ([]bus.I2CResult, error) {
	return c.Transact(ctx, []bus.I2CTransaction{bus.I2CWrite(id, address...), bus.I2CRead(id, n)})
}

// ScanAddresses probes every address in [lo, hi] with a one byte read and
// returns the addresses that acknowledged.
func (c *I2CConfig) ScanAddresses(ctx context.Context, lo, hi int) ([]byte, error) {
	if lo < 0 || hi > bus.MaxI2CAddress || lo > hi {
		return nil, fmt.Errorf("%w: scan range [0x%02x, 0x%02x]", bus.ErrOutOfRange, lo, hi)
	}
	txs := make([]bus.I2CTransaction, 0, hi-lo+1)
	for id := lo; id <= hi; id++ {
		txs = append(txs, bus.I2CRead(byte(id), 1))
	}
	results, err := c.transactTimeout(ctx, c.dev.opts.ScanTimeout, txs)
	if err != nil {
		return nil, err
	}
	var found []byte
	for _, r := range results {
		if r.AckDeviceID {
			found = append(found, r.DeviceID)
		}
	}
	return found, nil
}

// ClockSpeed returns the SCL frequency in Hz.
func (c *I2CConfig) ClockSpeed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drvI2C.clock
}

// SetClockSpeed changes the SCL frequency.
func (c *I2CConfig) SetClockSpeed(hz float64) error {
	if err := bus.ValidateI2CClock(hz); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.drvI2C.clock = hz
	return c.updateLocked(c.drv.configFrame())
}

// SCL returns the clock pin.
func (c *I2CConfig) SCL() *resource.Pin { return c.rolePin(i2cRoleSCL) }

// SDA returns the data pin.
func (c *I2CConfig) SDA() *resource.Pin { return c.rolePin(i2cRoleSDA) }

// SCLName returns the display label of the clock pin.
func (c *I2CConfig) SCLName() string { return c.roleName(i2cRoleSCL) }

// SDAName returns the display label of the data pin.
func (c *I2CConfig) SDAName() string { return c.roleName(i2cRoleSDA) }

// SetSCLName changes the display label of the clock pin.
func (c *I2CConfig) SetSCLName(name string) error { return c.setRoleName(i2cRoleSCL, name) }

// SetSDAName changes the display label of the data pin.
func (c *I2CConfig) SetSDAName(name string) error { return c.setRoleName(i2cRoleSDA, name) }

// Close removes the configuration from the device and returns its pins,
// driver and stimulus.
func (c *I2CConfig) Close() error {
	return c.close(func() {
		c.drvI2C.clock = bus.DefaultI2CClock
		c.dev.i2cDrivers.Release(c.drvI2C)
		c.last = nil
	})
}
