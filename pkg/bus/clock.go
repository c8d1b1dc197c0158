package bus

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceWave/pkg/protocol"
)

// Clock limits in Hz.
const (
	MinClockSpeed   = protocol.FPGAClockDivided / 2
	MaxI2CClock     = 3e6
	MaxSPIClock     = protocol.FPGAClockSpeed / 4
	DefaultI2CClock = 400e3
	DefaultSPIClock = 25e6
)

// ValidateI2CClock checks an I2C SCL frequency.
func ValidateI2CClock(hz float64) error {
	if hz < MinClockSpeed || hz > MaxI2CClock {
		return fmt.Errorf("%w: i2c clock %.0f Hz not in [%.0f, %.0f]", ErrOutOfRange, hz, MinClockSpeed, MaxI2CClock)
	}
	return nil
}

// I2CClockDivider returns the FPGA divider for an I2C clock. Each SCL period
// takes six divided FPGA cycles.
func I2CClockDivider(hz float64) uint16 {
	return uint16(protocol.FPGAClockSpeed / (hz * 6))
}
