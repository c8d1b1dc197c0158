package transport

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/OpenTraceLab/OpenTraceWave/pkg/protocol"
)

func TestMemoryPort(t *testing.T) {
	p := NewMemoryPort()
	var hooked [][]byte
	p.OnWrite = func(frame []byte) { hooked = append(hooked, frame) }

	if n, err := p.Buffered(); n != 0 || err != nil {
		t.Fatalf("Buffered() on empty port = %d, %v", n, err)
	}
	if _, err := p.Read(make([]byte, 1)); !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("Read() on empty port error = %v, want ErrReadTimeout", err)
	}

	p.Feed([]byte{0x01, 0x02, 0x03})
	if n, _ := p.Buffered(); n != 3 {
		t.Errorf("Buffered() = %d, want 3", n)
	}
	buf := make([]byte, 2)
	if n, err := p.Read(buf); n != 2 || err != nil || !bytes.Equal(buf, []byte{0x01, 0x02}) {
		t.Errorf("Read() = %d, %v, % x", n, err, buf)
	}

	if _, err := p.Write([]byte{0x0A}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if frames := p.Frames(); len(frames) != 1 || frames[0][0] != 0x0A {
		t.Errorf("Frames() = %v", frames)
	}
	if len(hooked) != 1 {
		t.Errorf("OnWrite called %d times, want 1", len(hooked))
	}

	p.Close()
	if _, err := p.Write([]byte{0x0A}); !errors.Is(err, ErrClosed) {
		t.Errorf("Write() after Close error = %v, want ErrClosed", err)
	}
	if _, err := p.Buffered(); !errors.Is(err, ErrClosed) {
		t.Errorf("Buffered() after Close error = %v, want ErrClosed", err)
	}
}

func TestMemoryPortHookMayFeed(t *testing.T) {
	p := NewMemoryPort()
	p.OnWrite = func(frame []byte) {
		if frame[0] == protocol.CmdInfo {
			p.Feed([]byte{protocol.StatusIdle})
		}
	}
	if _, err := p.Write([]byte{protocol.CmdInfo}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n, _ := p.Buffered(); n != 1 {
		t.Errorf("Buffered() = %d, want 1", n)
	}
}

func TestPortInfo(t *testing.T) {
	ports := []PortInfo{
		{Name: "/dev/ttyACM0", IsUSB: true, VendorID: 0x2341, ProductID: 0x8071, Product: "SmartWave"},
		{Name: "/dev/ttyACM1", IsUSB: true, VendorID: 0x2341, ProductID: 0x0043},
		{Name: "/dev/ttyS0"},
	}
	got := SmartWavePorts(ports)
	if len(got) != 1 || got[0].Name != "/dev/ttyACM0" {
		t.Errorf("SmartWavePorts() = %v", got)
	}
	if ports[0].Label() != "/dev/ttyACM0 (SmartWave, 2341:8071)" {
		t.Errorf("Label() = %q", ports[0].Label())
	}
	if ports[2].Label() != "/dev/ttyS0" {
		t.Errorf("Label() = %q", ports[2].Label())
	}
}

func TestParseUSBID(t *testing.T) {
	tests := []struct {
		in   string
		want uint16
	}{
		{"2341", 0x2341},
		{"8071", 0x8071},
		{"", 0},
		{"xyz", 0},
		{"123456", 0},
	}
	for _, tt := range tests {
		if got := parseUSBID(tt.in); got != tt.want {
			t.Errorf("parseUSBID(%q) = 0x%04x, want 0x%04x", tt.in, got, tt.want)
		}
	}
}

func TestDiscoverDevices(t *testing.T) {
	if testing.Short() || os.Getenv("SMARTWAVE_HARDWARE") == "" {
		t.Skip("skipping USB enumeration; set SMARTWAVE_HARDWARE=1 to run")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	devices, err := DiscoverDevices(ctx)
	if err != nil {
		t.Skipf("USB enumeration unavailable: %v", err)
	}
	if len(devices) == 0 || devices[len(devices)-1].Kind != DeviceKindSim {
		t.Errorf("DiscoverDevices() = %v, want simulator entry last", devices)
	}
}
