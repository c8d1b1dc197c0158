package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/OpenTraceLab/OpenTraceWave/internal/config"
)

func TestJSONHandler(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, config.Logger{Level: "info", Format: "json"}))
	log.Info("connected", "port", "/dev/ttyACM0")
	log.Debug("dropped")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v, output: %s", err, buf.String())
	}
	if entry["msg"] != "connected" || entry["port"] != "/dev/ttyACM0" {
		t.Errorf("entry = %v", entry)
	}
}

func TestTextHandler(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, config.Logger{Level: "debug"}))
	log.Debug("frame", "tag", 3)
	if !strings.Contains(buf.String(), "msg=frame tag=3") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestOpenOutput(t *testing.T) {
	for _, name := range []string{"stdout", "stderr", ""} {
		w, closer, err := openOutput(name)
		if err != nil {
			t.Fatalf("openOutput(%q): %v", name, err)
		}
		if w != os.Stdout && w != os.Stderr {
			t.Errorf("openOutput(%q) returned %T", name, w)
		}
		if err := closer(); err != nil {
			t.Errorf("closer: %v", err)
		}
	}
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smartwave.log")
	log, closer, err := New(config.Logger{Level: "info", Output: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("written")
	if err := closer(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "written") {
		t.Errorf("log file = %q", data)
	}
}

func TestNewBadOutput(t *testing.T) {
	if _, _, err := New(config.Logger{Output: filepath.Join(t.TempDir(), "missing", "x.log")}); err == nil {
		t.Fatal("expected error for unwritable path")
	}
}
