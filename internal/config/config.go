// Package config loads the smartwave tool configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/OpenTraceLab/OpenTraceWave/pkg/protocol"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/session"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/smartwave"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/transport"
)

// Config is the root configuration.
type Config struct {
	Device   Device   `yaml:"device"`
	Timeouts Timeouts `yaml:"timeouts"`
	Logger   Logger   `yaml:"logger"`
}

// Device describes how to reach the SmartWave and its start-up settings.
type Device struct {
	// Port is a serial port name, "sim" for the emulator, or empty to scan.
	Port              string        `yaml:"port"`
	BaudRate          int           `yaml:"baud_rate"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	VDDIO             float64       `yaml:"vddio"`
	TriggerMode       string        `yaml:"trigger_mode"`
}

// Timeouts bound the blocking device operations.
type Timeouts struct {
	Bus      time.Duration `yaml:"bus"`
	Scan     time.Duration `yaml:"scan"`
	Register time.Duration `yaml:"register"`
	Firmware time.Duration `yaml:"firmware"`
}

// Logger holds logging settings.
type Logger struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Defaults returns a Config with every field set to its default.
func Defaults() *Config {
	return &Config{
		Device: Device{
			BaudRate:          protocol.BaudRate,
			ReadTimeout:       transport.DefaultReadTimeout,
			HeartbeatInterval: session.DefaultHeartbeatInterval,
			PollInterval:      session.DefaultPollInterval,
			VDDIO:             smartwave.DefaultVDDIO,
			TriggerMode:       protocol.TriggerSingle.String(),
		},
		Timeouts: Timeouts{
			Bus:      smartwave.DefaultBusTimeout,
			Scan:     smartwave.DefaultScanTimeout,
			Register: smartwave.DefaultRegisterTimeout,
			Firmware: smartwave.DefaultFirmwareTimeout,
		},
		Logger: Logger{
			Level:  "warn",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads a YAML config file on top of the defaults, applies env var
// overrides and validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps SMARTWAVE_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SMARTWAVE_PORT"); v != "" {
		cfg.Device.Port = v
	}
	if v := os.Getenv("SMARTWAVE_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("SMARTWAVE_LOG_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
}

// Options converts the config into smartwave.Options. Validate must have
// accepted cfg.
func (cfg *Config) Options() smartwave.Options {
	mode, _ := protocol.ParseTriggerMode(cfg.Device.TriggerMode)
	return smartwave.Options{
		BusTimeout:        cfg.Timeouts.Bus,
		ScanTimeout:       cfg.Timeouts.Scan,
		RegisterTimeout:   cfg.Timeouts.Register,
		FirmwareTimeout:   cfg.Timeouts.Firmware,
		HeartbeatInterval: cfg.Device.HeartbeatInterval,
		PollInterval:      cfg.Device.PollInterval,
		Serial: transport.SerialOptions{
			BaudRate:    cfg.Device.BaudRate,
			ReadTimeout: cfg.Device.ReadTimeout,
		},
		VDDIO:       cfg.Device.VDDIO,
		TriggerMode: mode,
	}
}
