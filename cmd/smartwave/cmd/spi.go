package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceWave/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/smartwave"
)

var (
	spiSCLK, spiMOSI, spiMISO, spiCS string

	spiClock    float64
	spiBits     int
	spiMode     int
	spiLSBFirst bool
	spiCSHigh   bool
)

var spiCmd = &cobra.Command{
	Use:   "spi",
	Short: "Run SPI transfers",
}

var spiWriteCmd = &cobra.Command{
	Use:   "write <words...>",
	Short: "Shift out words and print the words read on MISO",
	Long: `Shift out words as SPI master and print what was read back on MISO.

Examples:
  # Read the JEDEC ID of a serial flash
  smartwave -p /dev/ttyACM0 spi write 0x9f 0 0 0

  # 16 bit words in mode 3 at 1 MHz
  smartwave -p sim spi write --bits 16 --mode 3 --clock 1e6 0x1234 0xabcd`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSPIWrite,
}

func init() {
	rootCmd.AddCommand(spiCmd)
	spiCmd.AddCommand(spiWriteCmd)

	defaults := bus.DefaultSPISettings()
	flags := spiCmd.PersistentFlags()
	flags.StringVar(&spiSCLK, "sclk", "", "SCLK pin (default: next free pin)")
	flags.StringVar(&spiMOSI, "mosi", "", "MOSI pin (default: next free pin)")
	flags.StringVar(&spiMISO, "miso", "", "MISO pin (default: next free pin)")
	flags.StringVar(&spiCS, "cs", "", "CS pin (default: next free pin)")
	flags.Float64Var(&spiClock, "clock", defaults.ClockSpeed, "SCLK frequency in Hz")
	flags.IntVar(&spiBits, "bits", defaults.BitWidth, "bits per word (1 to 32)")
	flags.IntVar(&spiMode, "mode", 0, "SPI mode (0 to 3)")
	flags.BoolVar(&spiLSBFirst, "lsb-first", false, "shift the least significant bit first")
	flags.BoolVar(&spiCSHigh, "cs-active-high", false, "chip select is active high")
}

func spiSettings() (bus.SPISettings, error) {
	if spiMode < 0 || spiMode > 3 {
		return bus.SPISettings{}, fmt.Errorf("%w: spi mode %d", bus.ErrOutOfRange, spiMode)
	}
	s := bus.DefaultSPISettings()
	s.ClockSpeed = spiClock
	s.BitWidth = spiBits
	s.ClockPolarity = spiMode&2 != 0
	s.ClockPhase = spiMode&1 != 0
	s.CSPolarity = spiCSHigh
	if spiLSBFirst {
		s.BitOrder = bus.LSBFirst
	}
	return s, s.Validate()
}

func runSPIWrite(cmd *cobra.Command, args []string) error {
	settings, err := spiSettings()
	if err != nil {
		return err
	}
	words := make([]uint32, len(args))
	for i, a := range args {
		v, err := parseUint(a, 32)
		if err != nil {
			return err
		}
		words[i] = uint32(v)
	}

	ctx := cmd.Context()
	dev, disconnect, err := openDevice(ctx)
	if err != nil {
		return err
	}
	defer disconnect()

	c, err := dev.CreateSPIConfig(smartwave.SPIOptions{
		SCLK: spiSCLK, MOSI: spiMOSI, MISO: spiMISO, CS: spiCS,
		Settings: settings,
	})
	if err != nil {
		return fmt.Errorf("failed to configure spi: %w", err)
	}
	defer c.Close()

	if verbose {
		fmt.Printf("SPI mode %d, %d bit %s at %.0f Hz on SCLK=%s MOSI=%s MISO=%s CS=%s\n",
			settings.Mode(), settings.BitWidth, settings.BitOrder, settings.ClockSpeed,
			c.SCLK(), c.MOSI(), c.MISO(), c.CS())
	}

	read, err := c.Write(ctx, words)
	if err != nil {
		return fmt.Errorf("transfer failed: %w", err)
	}
	digits := (settings.BitWidth + 3) / 4
	for i, w := range read {
		fmt.Printf("0x%0*X -> 0x%0*X\n", digits, settings.Mask(words[i]), digits, w)
	}
	return nil
}
