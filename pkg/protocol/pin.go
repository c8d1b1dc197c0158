package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// PinID returns the wire identifier of a pin: the bank index offset by 0xa in
// the high nibble and the pin number in the low nibble, so A1 is 0xa1 and B10
// is 0xba.
func PinID(bank byte, number byte) byte {
	return ((bank-'A')+0xa)<<4 + number
}

// RGB565 packs a "#rrggbb" colour into the 16-bit form the device displays.
func RGB565(hex string) (uint16, error) {
	s := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(s) != 6 {
		return 0, fmt.Errorf("protocol: invalid colour %q", hex)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("protocol: invalid colour %q: %w", hex, err)
	}
	r, g, b := uint16(v>>16)&0xff, uint16(v>>8)&0xff, uint16(v)&0xff
	return (r>>3)<<11 | (g>>2)<<5 | b>>3, nil
}

// MustRGB565 is RGB565 for compile-time constants.
func MustRGB565(hex string) uint16 {
	c, err := RGB565(hex)
	if err != nil {
		panic(err)
	}
	return c
}
