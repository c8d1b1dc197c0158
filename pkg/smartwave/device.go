// Package smartwave is the host API of the SmartWave signal generator and
// recorder. A Device owns the connection and the hardware resources;
// I2CConfig, SPIConfig and GPIO objects borrow resources from it until they
// are closed.
package smartwave

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OpenTraceLab/OpenTraceWave/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/firmware"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/protocol"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/resource"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/session"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/transport"
)

var (
	ErrAlreadyConnected = errors.New("smartwave: already connected")
	ErrNoDevice         = errors.New("smartwave: no device found")
	ErrNotSmartWave     = errors.New("smartwave: port does not belong to a SmartWave")
	ErrClosed           = errors.New("smartwave: configuration closed")
	ErrNoAck            = errors.New("smartwave: i2c device did not acknowledge")
	ErrUpdateFailed     = errors.New("smartwave: device rejected the update")
)

// Resource counts of the hardware.
const (
	NumI2CDrivers = 2
	NumSPIDrivers = 2
	NumStimuli    = 4
)

// VDDIO limits in volts.
const (
	MinVDDIO     = 1.8
	MaxVDDIO     = 5.0
	DefaultVDDIO = 3.3
)

const (
	DefaultBusTimeout      = time.Second
	DefaultScanTimeout     = 5 * time.Second
	DefaultRegisterTimeout = time.Second
	DefaultFirmwareTimeout = 3 * time.Minute
)

// Callbacks are invoked from the reader goroutine. They may call methods of
// the Device except Disconnect.
type Callbacks struct {
	OnIdle           func()
	OnRunning        func()
	OnInfo           func(protocol.InfoFrame)
	OnDebug          func(message string)
	OnFirmwareStatus func(protocol.FirmwareStatusFrame)
	// OnError receives errors reported by the device. Without it a device
	// error drops the connection.
	OnError func(*protocol.DeviceError)
}

// Options configures a Device. Zero values select the defaults.
type Options struct {
	Logger *slog.Logger

	BusTimeout      time.Duration
	ScanTimeout     time.Duration
	RegisterTimeout time.Duration
	FirmwareTimeout time.Duration

	HeartbeatInterval time.Duration
	PollInterval      time.Duration

	Serial      transport.SerialOptions
	VDDIO       float64
	TriggerMode protocol.TriggerMode

	Callbacks Callbacks

	// OpenPort and ListPorts replace the serial backend, mostly for tests.
	OpenPort  func(name string) (transport.Port, error)
	ListPorts func() ([]transport.PortInfo, error)
}

// ConnectOptions tune what happens right after a port is opened. The zero
// value resets the device, writes the general settings and requests info.
type ConnectOptions struct {
	NoReset   bool
	NoGeneral bool
	NoInfo    bool
}

// config is a live configuration that can be replayed onto a device.
type config interface {
	ID() int
	configure() error
}

// Device is one SmartWave.
type Device struct {
	opts Options
	log  *slog.Logger
	sess *session.Session

	mu           sync.Mutex // guards pools, configs and general settings
	pinList      []*resource.Pin
	pins         *resource.Pool[*resource.Pin]
	i2cDrivers   *resource.Pool[*i2cDriver]
	spiDrivers   *resource.Pool[*spiDriver]
	stimuli      *resource.Pool[*stimulus]
	configs      []config
	nextConfigID int
	general      protocol.General

	running atomic.Bool
	infoMu  sync.Mutex
	info    *protocol.InfoFrame
}

// New creates a disconnected device.
func New(opts Options) (*Device, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.BusTimeout <= 0 {
		opts.BusTimeout = DefaultBusTimeout
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = DefaultScanTimeout
	}
	if opts.RegisterTimeout <= 0 {
		opts.RegisterTimeout = DefaultRegisterTimeout
	}
	if opts.FirmwareTimeout <= 0 {
		opts.FirmwareTimeout = DefaultFirmwareTimeout
	}
	if opts.VDDIO == 0 {
		opts.VDDIO = DefaultVDDIO
	}
	if err := validateVDDIO(opts.VDDIO); err != nil {
		return nil, err
	}
	if opts.OpenPort == nil {
		serialOpts := opts.Serial
		opts.OpenPort = func(name string) (transport.Port, error) {
			return transport.OpenSerial(name, serialOpts)
		}
	}
	if opts.ListPorts == nil {
		opts.ListPorts = transport.ListPorts
	}

	d := &Device{
		opts: opts,
		log:  opts.Logger.With("component", "smartwave"),
		sess: session.New(session.Options{
			Logger:            opts.Logger,
			HeartbeatInterval: opts.HeartbeatInterval,
			PollInterval:      opts.PollInterval,
		}),
		general: protocol.General{
			SyncDivider: 1,
			Mode:        opts.TriggerMode,
			VDDIO:       opts.VDDIO,
		},
	}

	d.pinList = resource.DefaultPins()
	d.pins = resource.NewPool("pin", d.pinList...)

	i2c := make([]*i2cDriver, NumI2CDrivers)
	for i := range i2c {
		i2c[i] = &i2cDriver{id: byte(i), clock: bus.DefaultI2CClock}
	}
	d.i2cDrivers = resource.NewPool("i2c driver", i2c...)

	spi := make([]*spiDriver, NumSPIDrivers)
	for i := range spi {
		spi[i] = &spiDriver{id: byte(i), settings: bus.DefaultSPISettings()}
	}
	d.spiDrivers = resource.NewPool("spi driver", spi...)

	stims := make([]*stimulus, NumStimuli)
	for i := range stims {
		stims[i] = &stimulus{id: byte(i)}
	}
	d.stimuli = resource.NewPool("stimulus", stims...)

	d.sess.SetHandlers(d.handlers())
	return d, nil
}

func (d *Device) handlers() session.Handlers {
	cb := d.opts.Callbacks
	h := session.Handlers{
		Idle: func() {
			d.running.Store(false)
			if cb.OnIdle != nil {
				cb.OnIdle()
			}
		},
		Running: func() {
			d.running.Store(true)
			if cb.OnRunning != nil {
				cb.OnRunning()
			}
		},
		Info: func(info protocol.InfoFrame) {
			d.infoMu.Lock()
			d.info = &info
			d.infoMu.Unlock()
			if cb.OnInfo != nil {
				cb.OnInfo(info)
			}
		},
		Debug:          cb.OnDebug,
		FirmwareStatus: cb.OnFirmwareStatus,
		PinsStatus:     d.updatePins,
	}
	if cb.OnError != nil {
		h.Error = cb.OnError
	}
	return h
}

func (d *Device) updatePins(f protocol.PinsStatusFrame) {
	for i, pin := range d.pinList {
		pin.UpdateLevel(f.Level(i))
	}
}

// Connect opens the named serial port and brings the device up. Ports that
// enumerate with a foreign VID/PID are refused.
func (d *Device) Connect(ctx context.Context, portName string, opts ConnectOptions) error {
	if d.sess.Connected() {
		return ErrAlreadyConnected
	}
	if ports, err := d.opts.ListPorts(); err == nil {
		for _, p := range ports {
			if p.Name == portName && p.IsUSB && !p.IsSmartWave() {
				return fmt.Errorf("%w: %s is %04X:%04X", ErrNotSmartWave, portName, p.VendorID, p.ProductID)
			}
		}
	} else {
		d.log.Debug("port enumeration failed", "err", err)
	}

	port, err := d.opts.OpenPort(portName)
	if err != nil {
		return fmt.Errorf("smartwave: %w", err)
	}
	if err := d.ConnectPort(ctx, port, opts); err != nil {
		return err
	}
	d.log.Info("connected", "port", portName)
	return nil
}

// ConnectPort brings the device up over an already open port. The session
// takes ownership of port, also on failure, and ends when ctx does.
func (d *Device) ConnectPort(ctx context.Context, port transport.Port, opts ConnectOptions) error {
	if d.sess.Connected() {
		port.Close()
		return ErrAlreadyConnected
	}
	if err := d.sess.Open(ctx, port); err != nil {
		port.Close()
		return fmt.Errorf("smartwave: %w", err)
	}

	var cmds []protocol.Command
	if !opts.NoReset {
		cmds = append(cmds, protocol.Reset{})
	}
	if !opts.NoGeneral {
		cmds = append(cmds, d.generalFrame())
	}
	if !opts.NoInfo {
		cmds = append(cmds, protocol.RequestInfo{})
	}
	if err := d.sess.Send(cmds...); err != nil {
		d.sess.Close()
		return fmt.Errorf("smartwave: bring up: %w", err)
	}
	if err := d.replay(); err != nil {
		d.sess.Close()
		return fmt.Errorf("smartwave: restore configuration: %w", err)
	}
	return nil
}

// ScanAndConnect connects to the first SmartWave port that accepts.
func (d *Device) ScanAndConnect(ctx context.Context, opts ConnectOptions) error {
	ports, err := d.opts.ListPorts()
	if err != nil {
		return fmt.Errorf("smartwave: %w", err)
	}
	candidates := transport.SmartWavePorts(ports)
	if len(candidates) == 0 {
		return ErrNoDevice
	}

	var errs []error
	for _, p := range candidates {
		if err := d.Connect(ctx, p.Name, opts); err != nil {
			d.log.Debug("candidate refused", "port", p.Name, "err", err)
			errs = append(errs, err)
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: %w", ErrNoDevice, errors.Join(errs...))
}

// Disconnect stops the background loops and closes the port. Configurations
// stay registered and are replayed by the next Connect.
func (d *Device) Disconnect() error {
	err := d.sess.Close()
	d.running.Store(false)
	return err
}

// Connected reports whether the device has an open session.
func (d *Device) Connected() bool {
	return d.sess.Connected()
}

// Err returns the failure that dropped the last connection, if any.
func (d *Device) Err() error {
	return d.sess.Err()
}

// Done is closed when the current connection ends.
func (d *Device) Done() <-chan struct{} {
	return d.sess.Done()
}

func (d *Device) allocConfigID() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextConfigID
	d.nextConfigID++
	return id
}

func (d *Device) register(c config) {
	d.mu.Lock()
	d.configs = append(d.configs, c)
	d.mu.Unlock()
}

func (d *Device) unregister(c config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, have := range d.configs {
		if have == c {
			d.configs = append(d.configs[:i], d.configs[i+1:]...)
			return
		}
	}
}

func (d *Device) replay() error {
	d.mu.Lock()
	configs := append([]config(nil), d.configs...)
	d.mu.Unlock()

	for _, c := range configs {
		if err := c.configure(); err != nil {
			if errors.Is(err, ErrClosed) {
				continue
			}
			return fmt.Errorf("config %d: %w", c.ID(), err)
		}
	}
	return nil
}

// acquirePin takes the named pin, or the next free one when name is empty.
func (d *Device) acquirePin(name string) (*resource.Pin, error) {
	if name == "" {
		return d.pins.Acquire()
	}
	return resource.AcquirePin(d.pins, name)
}

func (d *Device) releasePins(pins ...*resource.Pin) {
	for _, p := range pins {
		if p == nil {
			continue
		}
		p.Reset()
		d.pins.Release(p)
	}
}

// Pin returns the pin with the given name without acquiring it.
func (d *Device) Pin(name string) (*resource.Pin, error) {
	bank, number, err := resource.ParsePinName(name)
	if err != nil {
		return nil, err
	}
	for _, p := range d.pinList {
		if p.Bank == bank && p.Number == number {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", resource.ErrInvalidName, name)
}

// Pins returns all pins in status-bitmap order.
func (d *Device) Pins() []*resource.Pin {
	return append([]*resource.Pin(nil), d.pinList...)
}

// Running reports the state of the last Idle or Running frame.
func (d *Device) Running() bool {
	return d.running.Load()
}

// LastInfo returns the last Info frame received.
func (d *Device) LastInfo() (protocol.InfoFrame, bool) {
	d.infoMu.Lock()
	defer d.infoMu.Unlock()
	if d.info == nil {
		return protocol.InfoFrame{}, false
	}
	return *d.info, true
}

func validateVDDIO(v float64) error {
	if v < MinVDDIO || v > MaxVDDIO {
		return fmt.Errorf("%w: vddio %.2fV not in [%.1f, %.1f]", bus.ErrOutOfRange, v, MinVDDIO, MaxVDDIO)
	}
	return nil
}

func (d *Device) generalFrame() protocol.General {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.general
}

func (d *Device) triggerMode() protocol.TriggerMode {
	return d.generalFrame().Mode
}

// VDDIO returns the I/O supply voltage.
func (d *Device) VDDIO() float64 {
	return d.generalFrame().VDDIO
}

// SetVDDIO changes the I/O supply voltage, applying it at once when
// connected.
func (d *Device) SetVDDIO(volts float64) error {
	if err := validateVDDIO(volts); err != nil {
		return err
	}
	d.mu.Lock()
	d.general.VDDIO = volts
	d.mu.Unlock()
	return d.applyGeneral()
}

// TriggerMode returns the device trigger mode.
func (d *Device) TriggerMode() protocol.TriggerMode {
	return d.triggerMode()
}

// SetTriggerMode changes how stimuli repeat after a trigger.
func (d *Device) SetTriggerMode(mode protocol.TriggerMode) error {
	if mode > protocol.TriggerToggle {
		return fmt.Errorf("%w: trigger mode %d", bus.ErrOutOfRange, mode)
	}
	d.mu.Lock()
	d.general.Mode = mode
	d.mu.Unlock()
	return d.applyGeneral()
}

func (d *Device) applyGeneral() error {
	if !d.Connected() {
		return nil
	}
	return d.ConfigGeneral()
}

// ConfigGeneral writes the general settings.
func (d *Device) ConfigGeneral() error {
	return d.sess.Send(d.generalFrame())
}

// Trigger starts every routed stimulus.
func (d *Device) Trigger() error {
	return d.sess.Send(protocol.Trigger{})
}

// Stop halts running stimuli.
func (d *Device) Stop() error {
	return d.sess.Send(protocol.Stop{})
}

// Reset returns the device to its power-on configuration. Registered
// configurations are not replayed.
func (d *Device) Reset() error {
	return d.sess.Send(protocol.Reset{})
}

// RequestInfo asks the device for an Info frame.
func (d *Device) RequestInfo() error {
	return d.sess.Send(protocol.RequestInfo{})
}

// RequestInfoWait asks for an Info frame and waits up to the register
// timeout for it.
func (d *Device) RequestInfoWait(ctx context.Context) (protocol.InfoFrame, error) {
	d.infoMu.Lock()
	d.info = nil
	d.infoMu.Unlock()

	if err := d.RequestInfo(); err != nil {
		return protocol.InfoFrame{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, d.opts.RegisterTimeout)
	defer cancel()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if info, ok := d.LastInfo(); ok {
			return info, nil
		}
		select {
		case <-ctx.Done():
			return protocol.InfoFrame{}, fmt.Errorf("%w: info: %w", session.ErrTimeout, ctx.Err())
		case <-d.Done():
			return protocol.InfoFrame{}, session.ErrNotConnected
		case <-ticker.C:
		}
	}
}

// WriteFPGARegister writes one FPGA register.
func (d *Device) WriteFPGARegister(address, value uint32) error {
	return d.sess.Send(protocol.FPGAWrite{Address: address, Value: value})
}

// ReadFPGARegister reads one FPGA register.
func (d *Device) ReadFPGARegister(ctx context.Context, address uint32) (uint32, error) {
	pending, err := d.sess.Register.Acquire(nil)
	if err != nil {
		return 0, err
	}
	defer pending.Cancel()

	if err := d.sess.Send(protocol.FPGARead{Address: address}); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, d.opts.RegisterTimeout)
	defer cancel()
	f, err := pending.Wait(ctx)
	if err != nil {
		return 0, err
	}
	return f.Value, nil
}

// UpdateFirmware uploads a firmware image and waits until the device
// reports completion.
func (d *Device) UpdateFirmware(ctx context.Context, img *firmware.Image) error {
	if img.Target != protocol.TargetFirmware {
		return fmt.Errorf("%w: %s image given for a firmware update", firmware.ErrInvalidImage, img.Target)
	}
	return d.upload(ctx, img)
}

// UpdateFPGABitstream uploads a bitstream and waits until the device reports
// completion.
func (d *Device) UpdateFPGABitstream(ctx context.Context, img *firmware.Image) error {
	if img.Target != protocol.TargetBitstream {
		return fmt.Errorf("%w: %s image given for a bitstream update", firmware.ErrInvalidImage, img.Target)
	}
	return d.upload(ctx, img)
}

func (d *Device) upload(ctx context.Context, img *firmware.Image) error {
	pending, err := d.sess.Firmware.Acquire(func(st protocol.Status) bool {
		if f, ok := st.(protocol.FirmwareStatusFrame); ok {
			return f.Finished()
		}
		return true
	})
	if err != nil {
		return err
	}
	defer pending.Cancel()

	d.log.Info("uploading image", "target", img.Target.String(), "bytes", len(img.Payload), "checksum", fmt.Sprintf("0x%08X", img.Checksum))
	if err := d.sess.Send(img.Command()); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, d.opts.FirmwareTimeout)
	defer cancel()
	st, err := pending.Wait(ctx)
	if err != nil {
		return err
	}
	if _, failed := st.(protocol.FirmwareFailedFrame); failed {
		return ErrUpdateFailed
	}
	return nil
}
