package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceWave/internal/config"
	"github.com/OpenTraceLab/OpenTraceWave/internal/logger"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/sim"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/smartwave"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/transport"
)

var (
	// Global flags
	configPath string
	portName   string
	logLevel   string
	vddio      float64
	verbose    bool
	simTargets []string
	simHigh    []string

	cfg       *config.Config
	log       *slog.Logger
	closeLogs func() error
)

var rootCmd = &cobra.Command{
	Use:   "smartwave",
	Short: "SmartWave signal generator control",
	Long: `Drive a SmartWave USB signal generator from the command line: run I2C and
SPI transfers, toggle GPIO pins, access FPGA registers and update firmware.

Use --port sim to run every command against the built-in emulator.

Examples:
  smartwave ports                                  # List serial ports
  smartwave --port sim i2c scan                    # Scan the emulated bus
  smartwave -p /dev/ttyACM0 i2c write 0x50 0 1 2   # Write three bytes
  smartwave -p /dev/ttyACM0 spi write 0x9f 0 0 0   # Read a flash JEDEC ID`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if closeLogs != nil {
			return closeLogs()
		}
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "smartwave.yaml", "configuration file")
	flags.StringVarP(&portName, "port", "p", "", `serial port, "sim" for the emulator, empty to scan`)
	flags.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.Float64Var(&vddio, "vddio", 0, "I/O voltage in volts (1.8 to 5.0)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.StringSliceVar(&simTargets, "sim-i2c", []string{"0x50"},
		"simulator: I2C target addresses to emulate")
	flags.StringSliceVar(&simHigh, "sim-high", nil, "simulator: pins driven high from outside")
}

// setup loads the configuration and lets flags override it.
func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if portName != "" {
		loaded.Device.Port = portName
	}
	if vddio != 0 {
		loaded.Device.VDDIO = vddio
	}
	switch {
	case logLevel != "":
		loaded.Logger.Level = logLevel
	case verbose:
		loaded.Logger.Level = "debug"
	}
	if err := config.Validate(loaded); err != nil {
		return err
	}

	l, closer, err := logger.New(loaded.Logger)
	if err != nil {
		return err
	}
	cfg, log, closeLogs = loaded, l, closer
	return nil
}

// openDevice connects to the configured port. The returned function
// disconnects.
func openDevice(ctx context.Context) (*smartwave.Device, func(), error) {
	return openDeviceWith(ctx, nil)
}

// openDeviceWith is openDevice with a hook to adjust the device options.
func openDeviceWith(ctx context.Context, adjust func(*smartwave.Options)) (*smartwave.Device, func(), error) {
	opts := cfg.Options()
	opts.Logger = log
	if adjust != nil {
		adjust(&opts)
	}

	if cfg.Device.Port == sim.PortName {
		emu, err := newSimulator()
		if err != nil {
			return nil, nil, err
		}
		opts.OpenPort = emu.OpenPort
		opts.ListPorts = func() ([]transport.PortInfo, error) { return nil, nil }
	}

	dev, err := smartwave.New(opts)
	if err != nil {
		return nil, nil, err
	}
	connect := smartwave.ConnectOptions{NoInfo: true}
	if cfg.Device.Port == "" {
		err = dev.ScanAndConnect(ctx, connect)
	} else {
		err = dev.Connect(ctx, cfg.Device.Port, connect)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect: %w", err)
	}
	if verbose {
		fmt.Printf("Connected (VDDIO %.2f V, trigger %s)\n", dev.VDDIO(), dev.TriggerMode())
	}
	return dev, func() { dev.Disconnect() }, nil
}

func newSimulator() (*sim.Device, error) {
	emu := sim.New(sim.Options{Logger: log})
	for _, s := range simTargets {
		addr, err := parseUint(s, 7)
		if err != nil {
			return nil, fmt.Errorf("invalid --sim-i2c: %w", err)
		}
		target := emu.AddI2CTarget(byte(addr), 256)
		for i := range 256 {
			target.Set(i, byte(i))
		}
	}
	for _, pin := range simHigh {
		if err := emu.DriveInput(pin, true); err != nil {
			return nil, fmt.Errorf("invalid --sim-high: %w", err)
		}
	}
	return emu, nil
}

// parseUint accepts decimal, 0x hex and 0b binary numbers of at most bits
// bits.
func parseUint(s string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q (max %d bits)", s, bits)
	}
	return v, nil
}

func parseBytes(args []string) ([]byte, error) {
	out := make([]byte, len(args))
	for i, a := range args {
		v, err := parseUint(a, 8)
		if err != nil {
			return nil, err
		}
		out[i] = byte(v)
	}
	return out, nil
}
