package bus

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceWave/pkg/protocol"
)

// BitOrder is the shift direction of SPI words.
type BitOrder uint8

const (
	MSBFirst BitOrder = iota
	LSBFirst
)

func (o BitOrder) String() string {
	if o == LSBFirst {
		return "lsb-first"
	}
	return "msb-first"
}

// SPISettings describes the bus timing of one SPI driver.
type SPISettings struct {
	ClockSpeed     float64 // Hz
	BitWidth       int     // bits per word, 1..32
	BitOrder       BitOrder
	ClockPolarity  bool // idle high
	ClockPhase     bool // sample on the second edge
	CSPolarity     bool // chip select active high
	CSInactiveTime byte // divided clock cycles between words
}

// DefaultSPISettings returns 25 MHz, mode 0, 8-bit MSB-first words.
func DefaultSPISettings() SPISettings {
	return SPISettings{
		ClockSpeed:     DefaultSPIClock,
		BitWidth:       8,
		BitOrder:       MSBFirst,
		CSInactiveTime: 1,
	}
}

// Validate checks the settings against the hardware limits.
func (s SPISettings) Validate() error {
	if s.BitWidth < 1 || s.BitWidth > 32 {
		return fmt.Errorf("%w: spi bit width %d not in [1, 32]", ErrOutOfRange, s.BitWidth)
	}
	if s.ClockSpeed < MinClockSpeed || s.ClockSpeed > MaxSPIClock {
		return fmt.Errorf("%w: spi clock %.0f Hz not in [%.0f, %.0f]", ErrOutOfRange, s.ClockSpeed, MinClockSpeed, MaxSPIClock)
	}
	return nil
}

// ClockDivider returns the FPGA divider for the configured clock.
func (s SPISettings) ClockDivider() uint16 {
	return uint16(protocol.FPGAClockSpeed / (s.ClockSpeed * 2))
}

// Mode returns the conventional SPI mode number 0..3.
func (s SPISettings) Mode() int {
	mode := 0
	if s.ClockPolarity {
		mode |= 2
	}
	if s.ClockPhase {
		mode |= 1
	}
	return mode
}

// DriverFrame builds the Driver command for driver id.
func (s SPISettings) DriverFrame(id byte) protocol.SPIDriver {
	return protocol.SPIDriver{
		ID:             id,
		Enable:         true,
		BitWidth:       byte(s.BitWidth),
		MSBFirst:       s.BitOrder == MSBFirst,
		ClockPolarity:  s.ClockPolarity,
		CSPolarity:     s.CSPolarity,
		ClockPhase:     s.ClockPhase,
		ClockDivider:   s.ClockDivider(),
		CSInactiveTime: s.CSInactiveTime,
	}
}

// Mask truncates a word to the configured bit width.
func (s SPISettings) Mask(word uint32) uint32 {
	if s.BitWidth >= 32 {
		return word
	}
	return word & (1<<uint(s.BitWidth) - 1)
}
