// Package sim emulates a SmartWave on top of an in-memory port. It decodes
// every command the host writes and answers the way the firmware does, which
// makes it usable both in tests and behind the CLI's "sim" port.
package sim

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/OpenTraceLab/OpenTraceWave/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/protocol"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/resource"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/transport"
)

// PortName selects the emulator wherever a serial port name is expected.
const PortName = "sim"

// DefaultInfo is what the emulator reports for RequestInfo.
var DefaultInfo = protocol.InfoFrame{
	Hardware:        protocol.Version{1, 0, 0},
	Microcontroller: protocol.Version{2, 3, 1},
	FPGA:            protocol.Version{1, 4, 0},
	FlashID:         0x5357_0000_0000_0001,
}

// Options configures an emulator.
type Options struct {
	Logger *slog.Logger
	Info   *protocol.InfoFrame
	// RejectUploads makes every image upload fail.
	RejectUploads bool
}

type route struct {
	driverType protocol.DriverType
	driverID   byte
	readNumber int
}

// Device is an emulated SmartWave.
type Device struct {
	port *transport.MemoryPort
	log  *slog.Logger
	opts Options

	mu        sync.Mutex
	targets   map[byte]*I2CTarget
	registers map[uint32]uint32
	stimuli   map[byte]protocol.Stimulus
	routes    map[byte]route
	spi       map[byte]protocol.SPIDriver
	pinRoutes map[byte]protocol.DriverPinMatrix
	pullups   map[byte]bool
	general   protocol.General
	inputs    uint32 // externally driven pin levels, bit per pin index
	frames    []protocol.Command
	triggers  int
}

// New creates an emulator. Attach the returned Port to a session.
func New(opts Options) *Device {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	d := &Device{
		port:      transport.NewMemoryPort(),
		log:       opts.Logger.With("component", "sim"),
		opts:      opts,
		targets:   make(map[byte]*I2CTarget),
		registers: make(map[uint32]uint32),
	}
	d.reset()
	d.port.OnWrite = d.handle
	return d
}

// Port is the host side of the emulated serial line.
func (d *Device) Port() *transport.MemoryPort {
	return d.port
}

// OpenPort returns the emulator port; it matches smartwave.Options.OpenPort.
func (d *Device) OpenPort(string) (transport.Port, error) {
	return d.port, nil
}

func (d *Device) reset() {
	d.stimuli = make(map[byte]protocol.Stimulus)
	d.routes = make(map[byte]route)
	d.spi = make(map[byte]protocol.SPIDriver)
	d.pinRoutes = make(map[byte]protocol.DriverPinMatrix)
	d.pullups = make(map[byte]bool)
	d.general = protocol.General{SyncDivider: 1, VDDIO: 3.3}
}

// AddI2CTarget attaches a register-file I2C device at addr.
func (d *Device) AddI2CTarget(addr byte, size int) *I2CTarget {
	t := newI2CTarget(size)
	d.mu.Lock()
	d.targets[addr] = t
	d.mu.Unlock()
	return t
}

// SetRegister presets an FPGA register.
func (d *Device) SetRegister(addr, value uint32) {
	d.mu.Lock()
	d.registers[addr] = value
	d.mu.Unlock()
}

// Register returns an FPGA register.
func (d *Device) Register(addr uint32) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registers[addr]
}

// General returns the last general settings written.
func (d *Device) General() protocol.General {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.general
}

// Commands returns every decoded command except heartbeats.
func (d *Device) Commands() []protocol.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]protocol.Command(nil), d.frames...)
}

// Triggers counts Trigger commands.
func (d *Device) Triggers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.triggers
}

// PinRoute returns the routing entry of a pin, if any.
func (d *Device) PinRoute(pinID byte) (protocol.DriverPinMatrix, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.pinRoutes[pinID]
	return m, ok
}

// Pullup reports the pullup setting of a pin.
func (d *Device) Pullup(pinID byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pullups[pinID]
}

// DriveInput sets the level an external circuit applies to a pin and reports
// the new pin status to the host.
func (d *Device) DriveInput(pinName string, level bool) error {
	bank, number, err := resource.ParsePinName(pinName)
	if err != nil {
		return err
	}
	idx := pinIndex(protocol.PinID(bank, number))
	d.mu.Lock()
	if level {
		d.inputs |= 1 << idx
	} else {
		d.inputs &^= 1 << idx
	}
	status := d.pinsStatusLocked()
	d.mu.Unlock()
	d.send(status)
	return nil
}

// Emit sends an arbitrary status frame to the host.
func (d *Device) Emit(st protocol.Status) {
	d.send(st)
}

func (d *Device) send(sts ...protocol.Status) {
	var buf bytes.Buffer
	for _, st := range sts {
		b, err := st.MarshalBinary()
		if err != nil {
			d.log.Error("encode status", "tag", st.Tag(), "err", err)
			continue
		}
		buf.Write(b)
	}
	d.port.Feed(buf.Bytes())
}

func (d *Device) handle(frame []byte) {
	r := bytes.NewReader(frame)
	for {
		cmd, err := protocol.ReadCommand(r)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			d.log.Warn("undecodable command", "err", err)
			return
		}
		d.apply(cmd)
	}
}

func (d *Device) apply(cmd protocol.Command) {
	if _, ok := cmd.(protocol.Heartbeat); ok {
		return
	}

	d.mu.Lock()
	d.frames = append(d.frames, cmd)
	var reply []protocol.Status

	switch c := cmd.(type) {
	case protocol.Reset:
		d.reset()
	case protocol.RequestInfo:
		info := DefaultInfo
		if d.opts.Info != nil {
			info = *d.opts.Info
		}
		reply = append(reply, info)
	case protocol.General:
		d.general = c
	case protocol.Stimulus:
		d.stimuli[c.ID] = c
	case protocol.SPIDriver:
		d.spi[c.ID] = c
	case protocol.I2CDriver:
	case protocol.PinConfig:
		d.pullups[c.PinID] = c.Pullup
	case protocol.DriverPinMatrix:
		if c.DriverType == protocol.DriverNone {
			delete(d.pinRoutes, c.PinID)
		} else {
			d.pinRoutes[c.PinID] = c
		}
		if c.DriverType == protocol.DriverGPIO || c.DriverType == protocol.DriverNone {
			reply = append(reply, d.pinsStatusLocked())
		}
	case protocol.StimulusDriverMatrix:
		d.applyRouteLocked(c)
	case protocol.Trigger:
		d.triggers++
		reply = append(reply, protocol.RunningFrame{})
		reply = append(reply, d.runLocked()...)
		reply = append(reply, protocol.IdleFrame{})
	case protocol.Stop:
		reply = append(reply, protocol.IdleFrame{})
	case protocol.FPGAWrite:
		d.registers[c.Address] = c.Value
	case protocol.FPGARead:
		reply = append(reply, protocol.RegisterFrame{Value: d.registers[c.Address]})
	case protocol.ImageUpload:
		reply = append(reply, d.uploadLocked(c)...)
	}
	d.mu.Unlock()

	if len(reply) > 0 {
		d.send(reply...)
	}
}

func (d *Device) applyRouteLocked(m protocol.StimulusDriverMatrix) {
	if m.StimulusType == protocol.StimulusNone {
		for id, r := range d.routes {
			if r.driverType == m.DriverType && r.driverID == m.DriverID {
				delete(d.routes, id)
			}
		}
		return
	}
	d.routes[m.StimulusID] = route{driverType: m.DriverType, driverID: m.DriverID, readNumber: int(m.ReadNumber)}
}

// runLocked plays every routed stimulus and returns the recorder readback.
func (d *Device) runLocked() []protocol.Status {
	var out []protocol.Status
	for _, id := range slices.Sorted(maps.Keys(d.routes)) {
		r := d.routes[id]
		stim := d.stimuli[id]
		var words []uint32
		switch r.driverType {
		case protocol.DriverI2C:
			words = d.runI2CLocked(stim.Samples)
		case protocol.DriverSPI:
			words = d.runSPILocked(r.driverID, stim.Samples)
		default:
			continue
		}
		out = append(out, protocol.ReadbackFrame{Recorder: id, Samples: fit(words, r.readNumber)})
	}
	return out
}

func (d *Device) runI2CLocked(samples []uint32) []uint32 {
	txs, err := bus.DecodeI2CStimulus(samples)
	if err != nil {
		d.log.Warn("bad i2c stimulus", "err", err)
		return nil
	}
	results := make([]bus.I2CResult, 0, len(txs))
	for _, tx := range txs {
		results = append(results, d.i2cTransferLocked(tx))
	}
	return bus.EncodeI2CResults(results)
}

func (d *Device) i2cTransferLocked(tx bus.I2CTransaction) bus.I2CResult {
	target, present := d.targets[tx.DeviceID()]
	res := bus.I2CResult{Read: tx.Kind() == bus.I2CReadKind, DeviceID: tx.DeviceID(), AckDeviceID: present}
	n := tx.Len()
	res.Data = make([]byte, n)
	res.AcksData = make([]bool, n)

	switch tx.Kind() {
	case bus.I2CReadKind:
		for i := 0; i < n; i++ {
			res.Data[i] = 0xff
			if present {
				res.Data[i] = target.next()
			}
			// the host acknowledges all but the last byte
			res.AcksData[i] = i < n-1
		}
	default:
		data := tx.Data()
		copy(res.Data, data)
		if present {
			target.write(data)
			for i := range res.AcksData {
				res.AcksData[i] = true
			}
		}
	}
	return res
}

func (d *Device) runSPILocked(driverID byte, samples []uint32) []uint32 {
	width := 32
	if drv, ok := d.spi[driverID]; ok && drv.BitWidth > 0 {
		width = int(drv.BitWidth)
	}
	out := make([]uint32, len(samples))
	for i, w := range samples {
		if width < 32 {
			w &= 1<<uint(width) - 1
		}
		out[i] = w
	}
	return out
}

func (d *Device) uploadLocked(u protocol.ImageUpload) []protocol.Status {
	want := protocol.FirmwareChecksum(u.Image)
	if u.Target == protocol.TargetBitstream {
		want = protocol.BitstreamChecksum(u.Image)
	}
	micro := u.Target == protocol.TargetFirmware
	if d.opts.RejectUploads || want != u.Checksum {
		d.log.Info("rejecting upload", "target", u.Target.String(), "checksum", u.Checksum, "want", want)
		return []protocol.Status{protocol.FirmwareFailedFrame{}}
	}
	return []protocol.Status{
		protocol.NewFirmwareStatus(micro, 0),
		protocol.NewFirmwareStatus(micro, 50),
		protocol.NewFirmwareStatus(micro, 100),
		protocol.FirmwareOKFrame{},
	}
}

// pinsStatusLocked computes every pin level: GPIO outputs drive their level,
// everything else shows the external input.
func (d *Device) pinsStatusLocked() protocol.PinsStatusFrame {
	var levels uint32
	for _, p := range resource.DefaultPins() {
		id := p.ID()
		idx := pinIndex(id)
		level := d.inputs&(1<<idx) != 0
		if m, ok := d.pinRoutes[id]; ok && m.DriverType == protocol.DriverGPIO && protocol.OutputType(m.DriverID) != protocol.OutputDisable {
			level = m.DriverPin != 0
		}
		if level {
			levels |= 1 << idx
		}
	}
	return protocol.PinsStatusFrame{BankA: byte(levels), BankB: byte(levels >> 8)}
}

// pinIndex maps a pin id to its position in the pin status bitmap.
func pinIndex(id byte) uint {
	for i, p := range resource.DefaultPins() {
		if p.ID() == id {
			return uint(i)
		}
	}
	return 31
}

func fit(words []uint32, n int) []uint32 {
	if len(words) >= n {
		return words[:n]
	}
	return append(words, make([]uint32, n-len(words))...)
}
