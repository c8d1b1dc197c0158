package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/OpenTraceLab/OpenTraceWave/pkg/protocol"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/smartwave"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg and returns a *ValidationError listing every problem.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateDevice(cfg, ve)
	validateTimeouts(cfg, ve)
	validateLogger(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateDevice(cfg *Config, ve *ValidationError) {
	d := cfg.Device
	if d.BaudRate <= 0 {
		ve.Add("device.baud_rate must be positive, got %d", d.BaudRate)
	}
	if d.ReadTimeout < 0 {
		ve.Add("device.read_timeout must not be negative")
	}
	if d.HeartbeatInterval < 0 {
		ve.Add("device.heartbeat_interval must not be negative")
	}
	if d.PollInterval < 0 {
		ve.Add("device.poll_interval must not be negative")
	}
	if d.VDDIO < smartwave.MinVDDIO || d.VDDIO > smartwave.MaxVDDIO {
		ve.Add("device.vddio %.2f outside [%.1f, %.1f] V", d.VDDIO, smartwave.MinVDDIO, smartwave.MaxVDDIO)
	}
	if _, err := protocol.ParseTriggerMode(d.TriggerMode); err != nil {
		ve.Add("device.trigger_mode %q must be single, full or toggle", d.TriggerMode)
	}
}

func validateTimeouts(cfg *Config, ve *ValidationError) {
	t := cfg.Timeouts
	for _, f := range []struct {
		name string
		v    time.Duration
	}{
		{"bus", t.Bus},
		{"scan", t.Scan},
		{"register", t.Register},
		{"firmware", t.Firmware},
	} {
		if f.v < 0 {
			ve.Add("timeouts.%s must not be negative", f.name)
		}
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
}
