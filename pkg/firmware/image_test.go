package firmware

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/OpenTraceLab/OpenTraceWave/pkg/protocol"
)

func rawImage() []byte {
	image := make([]byte, FirmwareEnd+0x1000)
	for i := BootloaderStart; i < FirmwareStart; i++ {
		image[i] = byte(i)
	}
	for i := FirmwareStart; i < FirmwareEnd; i++ {
		image[i] = byte(i * 3)
	}
	return image
}

func TestPrepareFirmwareRaw(t *testing.T) {
	reference := rawImage()
	image := rawImage()

	img, err := PrepareFirmware(image, reference)
	if err != nil {
		t.Fatalf("PrepareFirmware() error = %v", err)
	}
	if img.Cropped {
		t.Error("raw image reported as cropped")
	}
	if len(img.Payload) != FirmwareSize {
		t.Errorf("payload is %d bytes, want %d", len(img.Payload), FirmwareSize)
	}
	if img.Payload[0] != image[FirmwareStart] {
		t.Error("payload does not start at the firmware region")
	}
	if img.Checksum != protocol.FirmwareChecksum(image[FirmwareStart:FirmwareEnd]) {
		t.Error("checksum not computed over the payload")
	}
	cmd := img.Command()
	if cmd.Tag() != protocol.CmdFirmwareUpdate || len(cmd.Image) != FirmwareSize {
		t.Errorf("Command() = tag 0x%02x with %d bytes", cmd.Tag(), len(cmd.Image))
	}
}

func TestPrepareFirmwareErrors(t *testing.T) {
	reference := rawImage()

	tests := []struct {
		name   string
		modify func([]byte) []byte
	}{
		{"foreign bootloader", func(b []byte) []byte { b[BootloaderStart+5] ^= 0xff; return b }},
		{"dirty trailer", func(b []byte) []byte { b[FirmwareEnd+3] = 1; return b }},
		{"too small", func(b []byte) []byte { return b[:FirmwareSize] }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PrepareFirmware(tt.modify(rawImage()), reference)
			if !errors.Is(err, ErrInvalidImage) {
				t.Errorf("PrepareFirmware() error = %v, want ErrInvalidImage", err)
			}
		})
	}
}

func TestPrepareFirmwareCropped(t *testing.T) {
	image := make([]byte, FirmwareSize+8)
	image[0] = 0x42

	img, err := PrepareFirmware(image, nil)
	if err != nil {
		t.Fatalf("PrepareFirmware() error = %v", err)
	}
	if !img.Cropped || len(img.Payload) != FirmwareSize || img.Payload[0] != 0x42 {
		t.Errorf("cropped image = cropped %v, %d bytes", img.Cropped, len(img.Payload))
	}

	image[0] = 0x43
	if img.Payload[0] != 0x42 {
		t.Error("payload aliases the caller's buffer")
	}
}

func TestPrepareFirmwareCroppedChecksumStopsAtPayload(t *testing.T) {
	image := make([]byte, FirmwareSize+8)
	image[0] = 0x01
	for i := FirmwareSize; i < len(image); i++ {
		image[i] = 0xEE
	}

	img, err := PrepareFirmware(image, nil)
	if err != nil {
		t.Fatalf("PrepareFirmware() error = %v", err)
	}
	if want := protocol.ChecksumSeed + 1; img.Checksum != want {
		t.Errorf("Checksum = 0x%08X, want 0x%08X", img.Checksum, want)
	}
	if img.Checksum != protocol.FirmwareChecksum(img.Payload) {
		t.Error("checksum does not match the uploaded payload")
	}
}

func TestPrepareBitstream(t *testing.T) {
	if _, err := PrepareBitstream(make([]byte, BitstreamSize-1)); !errors.Is(err, ErrInvalidImage) {
		t.Errorf("short bitstream error = %v, want ErrInvalidImage", err)
	}

	image := make([]byte, BitstreamSize)
	image[3] = 1
	img, err := PrepareBitstream(image)
	if err != nil {
		t.Fatalf("PrepareBitstream() error = %v", err)
	}
	if img.Checksum != protocol.ChecksumSeed+1 {
		t.Errorf("Checksum = 0x%08X, want 0x%08X", img.Checksum, protocol.ChecksumSeed+1)
	}
	if img.Command().Tag() != protocol.CmdFPGAUpdate {
		t.Error("bitstream upload uses the wrong command")
	}
}

func TestLoadFirmware(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fw.bin")
	if err := os.WriteFile(path, make([]byte, FirmwareSize+1), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFirmware(path, ""); err != nil {
		t.Errorf("LoadFirmware() error = %v", err)
	}
	if _, err := LoadFirmware(filepath.Join(dir, "missing.bin"), ""); err == nil {
		t.Error("LoadFirmware() of a missing file succeeded")
	}
	if _, err := LoadBitstream(path); !errors.Is(err, ErrInvalidImage) {
		t.Errorf("LoadBitstream() error = %v, want ErrInvalidImage", err)
	}
}
