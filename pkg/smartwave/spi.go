package smartwave

import (
	"context"
	"fmt"
	"slices"

	"github.com/OpenTraceLab/OpenTraceWave/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/resource"
)

// SPIOptions selects the pins and bus settings of a new SPI configuration.
// Empty pin names take the next free pins in SCLK, MOSI, MISO, CS order.
// A zero Settings selects bus.DefaultSPISettings.
type SPIOptions struct {
	SCLK, MOSI, MISO, CS string
	Settings             bus.SPISettings

	SCLKName, MOSIName, MISOName, CSName string
}

// SPIConfig is an SPI bus master on four pins. Every word written is
// recorded on MISO and returned.
type SPIConfig struct {
	busConfig
	drvSPI *spiDriver
	last   []uint32
}

// CreateSPIConfig binds an SPI driver, a stimulus and four pins.
func (d *Device) CreateSPIConfig(opts SPIOptions) (*SPIConfig, error) {
	if opts.Settings == (bus.SPISettings{}) {
		opts.Settings = bus.DefaultSPISettings()
	}
	if err := opts.Settings.Validate(); err != nil {
		return nil, err
	}
	names := map[byte]string{
		spiRoleSCLK: defaultName(opts.SCLKName, "SCLK"),
		spiRoleMOSI: defaultName(opts.MOSIName, "MOSI"),
		spiRoleMISO: defaultName(opts.MISOName, "MISO"),
		spiRoleCS:   defaultName(opts.CSName, "CS"),
	}

	drv, err := d.spiDrivers.Acquire()
	if err != nil {
		return nil, err
	}
	stim, err := d.stimuli.Acquire()
	if err != nil {
		d.spiDrivers.Release(drv)
		return nil, err
	}
	pins, err := d.acquireRoles([]string{opts.SCLK, opts.MOSI, opts.MISO, opts.CS})
	if err != nil {
		d.stimuli.Release(stim)
		d.spiDrivers.Release(drv)
		return nil, err
	}
	drv.settings = opts.Settings

	order := []byte{spiRoleSCLK, spiRoleMOSI, spiRoleMISO, spiRoleCS}
	roles := make([]pinRole, len(order))
	for i, role := range order {
		roles[i] = pinRole{role: role, pin: pins[i], name: names[role]}
	}

	c := &SPIConfig{
		busConfig: busConfig{
			dev:   d,
			id:    d.allocConfigID(),
			drv:   drv,
			stim:  stim,
			roles: roles,
		},
		drvSPI: drv,
	}
	d.register(&c.busConfig)

	if err := c.configure(); err != nil {
		c.Close()
		return nil, fmt.Errorf("smartwave: configure spi: %w", err)
	}
	d.log.Debug("spi config created", "id", c.id, "driver", drv.id, "stimulus", stim.id,
		"mode", opts.Settings.Mode(), "clock", opts.Settings.ClockSpeed)
	return c, nil
}

func defaultName(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

// SetData stores words in the stimulus, truncated to the bit width.
// Unchanged data already on the device is not sent again.
func (c *SPIConfig) SetData(words []uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setDataLocked(words)
}

func (c *SPIConfig) setDataLocked(words []uint32) error {
	samples := make([]uint32, len(words))
	for i, w := range words {
		samples[i] = c.drvSPI.settings.Mask(w)
	}
	same := c.last != nil && slices.Equal(samples, c.last)
	if err := c.setSamplesLocked(samples, len(samples), same); err != nil {
		return err
	}
	c.last = samples
	return nil
}

// Send loads the words and triggers without waiting for readback.
func (c *SPIConfig) Send(words []uint32) error {
	if err := c.SetData(words); err != nil {
		return err
	}
	return c.dev.Trigger()
}

// Write shifts out words and returns the words read on MISO.
func (c *SPIConfig) Write(ctx context.Context, words []uint32) ([]uint32, error) {
	return c.transact(ctx, c.dev.opts.BusTimeout, func() error { return c.SetData(words) })
}

// Settings returns the bus settings.
func (c *SPIConfig) Settings() bus.SPISettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drvSPI.settings
}

// SetSettings replaces the bus settings.
func (c *SPIConfig) SetSettings(s bus.SPISettings) error {
	return c.update(func(have *bus.SPISettings) { *have = s })
}

func (c *SPIConfig) update(change func(*bus.SPISettings)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	next := c.drvSPI.settings
	change(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	widthChanged := next.BitWidth != c.drvSPI.settings.BitWidth
	c.drvSPI.settings = next
	if err := c.updateLocked(c.drv.configFrame()); err != nil {
		return err
	}
	if widthChanged && c.last != nil {
		return c.setDataLocked(c.last)
	}
	return nil
}

// SetClockSpeed sets the SCLK frequency in Hz.
func (c *SPIConfig) SetClockSpeed(hz float64) error {
	return c.update(func(s *bus.SPISettings) { s.ClockSpeed = hz })
}

// SetBitWidth sets the word size, 1 to 32 bits. Data already written is
// re-encoded for the new width.
func (c *SPIConfig) SetBitWidth(bits int) error {
	return c.update(func(s *bus.SPISettings) { s.BitWidth = bits })
}

// SetBitOrder selects MSB or LSB first.
func (c *SPIConfig) SetBitOrder(order bus.BitOrder) error {
	return c.update(func(s *bus.SPISettings) { s.BitOrder = order })
}

// SetClockPolarity sets CPOL; idleHigh keeps SCLK high between words.
func (c *SPIConfig) SetClockPolarity(idleHigh bool) error {
	return c.update(func(s *bus.SPISettings) { s.ClockPolarity = idleHigh })
}

// SetClockPhase sets CPHA; secondEdge samples on the trailing clock edge.
func (c *SPIConfig) SetClockPhase(secondEdge bool) error {
	return c.update(func(s *bus.SPISettings) { s.ClockPhase = secondEdge })
}

// SetCSPolarity selects an active-high chip select.
func (c *SPIConfig) SetCSPolarity(activeHigh bool) error {
	return c.update(func(s *bus.SPISettings) { s.CSPolarity = activeHigh })
}

// SetCSInactiveTime sets the chip select idle time between words, in
// divided clock cycles.
func (c *SPIConfig) SetCSInactiveTime(cycles byte) error {
	return c.update(func(s *bus.SPISettings) { s.CSInactiveTime = cycles })
}

// SCLK returns the clock pin.
func (c *SPIConfig) SCLK() *resource.Pin { return c.rolePin(spiRoleSCLK) }

// MOSI returns the controller output pin.
func (c *SPIConfig) MOSI() *resource.Pin { return c.rolePin(spiRoleMOSI) }

// MISO returns the controller input pin.
func (c *SPIConfig) MISO() *resource.Pin { return c.rolePin(spiRoleMISO) }

// CS returns the chip select pin.
func (c *SPIConfig) CS() *resource.Pin { return c.rolePin(spiRoleCS) }

// SetSCLKName changes the display label of the clock pin.
func (c *SPIConfig) SetSCLKName(name string) error { return c.setRoleName(spiRoleSCLK, name) }

// SetMOSIName changes the display label of the controller output pin.
func (c *SPIConfig) SetMOSIName(name string) error { return c.setRoleName(spiRoleMOSI, name) }

// SetMISOName changes the display label of the controller input pin.
func (c *SPIConfig) SetMISOName(name string) error { return c.setRoleName(spiRoleMISO, name) }

// SetCSName changes the display label of the chip select pin.
func (c *SPIConfig) SetCSName(name string) error { return c.setRoleName(spiRoleCS, name) }

// Close removes the configuration from the device and returns its pins,
// driver and stimulus.
func (c *SPIConfig) Close() error {
	return c.close(func() {
		c.drvSPI.settings = bus.DefaultSPISettings()
		c.dev.spiDrivers.Release(c.drvSPI)
		c.last = nil
	})
}
