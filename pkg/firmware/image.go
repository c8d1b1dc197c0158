// Package firmware validates microcontroller firmware and FPGA bitstream
// images before they are uploaded to a SmartWave.
package firmware

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/OpenTraceLab/OpenTraceWave/pkg/protocol"
)

// Flash layout of the microcontroller.
const (
	BootloaderStart = 0x2000
	FirmwareStart   = 0x9000
	FirmwareEnd     = 0x18200
	FirmwareSize    = FirmwareEnd - FirmwareStart

	// BitstreamSize is the exact size of a valid FPGA bitstream.
	BitstreamSize = 0x21728c

	// trailerSize zero bytes must follow the firmware in a raw image.
	trailerSize = 16
)

// ErrInvalidImage is returned for images with a wrong size, a foreign
// bootloader or a bad trailer.
var ErrInvalidImage = errors.New("firmware: invalid image")

// Image is a validated payload ready for upload.
type Image struct {
	Target   protocol.UpdateTarget
	Payload  []byte
	Checksum uint32
	// Cropped is set for firmware given without the bootloader region.
	Cropped bool
}

// Command returns the upload frame for the image.
func (img *Image) Command() protocol.ImageUpload {
	return protocol.ImageUpload{Target: img.Target, Image: img.Payload, Checksum: img.Checksum}
}

// PrepareFirmware validates a firmware image. A raw image, as produced by
// the Arduino toolchain, is the same size as reference and must carry the
// same bootloader bytes followed by a zeroed trailer after the firmware; its
// firmware region is extracted. Any other image larger than the firmware
// region is taken as already cropped. reference may be nil, in which case
// only cropped images are accepted.
func PrepareFirmware(image, reference []byte) (*Image, error) {
	var payload []byte
	cropped := false

	switch {
	case reference != nil && len(image) == len(reference):
		if len(image) < FirmwareEnd+trailerSize {
			return nil, fmt.Errorf("%w: raw image of %d bytes is shorter than the flash layout", ErrInvalidImage, len(image))
		}
		if !bytes.Equal(image[BootloaderStart:FirmwareStart], reference[BootloaderStart:FirmwareStart]) {
			return nil, fmt.Errorf("%w: bootloader differs from the one on the device", ErrInvalidImage)
		}
		for _, b := range image[FirmwareEnd : FirmwareEnd+trailerSize] {
			if b != 0 {
				return nil, fmt.Errorf("%w: firmware overruns its flash region", ErrInvalidImage)
			}
		}
		payload = image[FirmwareStart:FirmwareEnd]
	case len(image) > FirmwareSize:
		cropped = true
		payload = image[:FirmwareSize]
	default:
		return nil, fmt.Errorf("%w: %d bytes is too small for a firmware image", ErrInvalidImage, len(image))
	}

	// The checksum covers exactly the bytes sent, never the word after them.
	payload = append([]byte(nil), payload...)
	return &Image{
		Target:   protocol.TargetFirmware,
		Payload:  payload,
		Checksum: protocol.FirmwareChecksum(payload),
		Cropped:  cropped,
	}, nil
}

// PrepareBitstream validates an FPGA bitstream.
func PrepareBitstream(image []byte) (*Image, error) {
	if len(image) != BitstreamSize {
		return nil, fmt.Errorf("%w: bitstream is 0x%x bytes, want 0x%x", ErrInvalidImage, len(image), BitstreamSize)
	}
	payload := append([]byte(nil), image...)
	return &Image{
		Target:   protocol.TargetBitstream,
		Payload:  payload,
		Checksum: protocol.BitstreamChecksum(payload),
	}, nil
}

// LoadFirmware reads and validates a firmware file. referencePath may be
// empty.
func LoadFirmware(path, referencePath string) (*Image, error) {
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read firmware: %w", err)
	}
	var reference []byte
	if referencePath != "" {
		if reference, err = os.ReadFile(referencePath); err != nil {
			return nil, fmt.Errorf("read bootloader reference: %w", err)
		}
	}
	return PrepareFirmware(image, reference)
}

// LoadBitstream reads and validates a bitstream file.
func LoadBitstream(path string) (*Image, error) {
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bitstream: %w", err)
	}
	return PrepareBitstream(image)
}
