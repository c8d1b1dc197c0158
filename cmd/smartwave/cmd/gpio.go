package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceWave/pkg/protocol"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/smartwave"
)

var (
	gpioOutput string
	gpioPullup bool
	gpioName   string
)

var gpioCmd = &cobra.Command{
	Use:   "gpio",
	Short: "Drive or sample single pins",
	Long: `Drive or sample single pins. Pins are named by bank letter and number,
for example A1 or B8.

Examples:
  smartwave -p sim gpio set A3 1
  smartwave -p sim gpio set A3 0 --output open-drain --pullup
  smartwave -p sim gpio get B1`,
}

var gpioSetCmd = &cobra.Command{
	Use:   "set <pin> <0|1>",
	Short: "Drive a pin",
	Args:  cobra.ExactArgs(2),
	RunE:  runGPIOSet,
}

var gpioGetCmd = &cobra.Command{
	Use:   "get <pin>",
	Short: "Read the input level of a pin",
	Args:  cobra.ExactArgs(1),
	RunE:  runGPIOGet,
}

func init() {
	rootCmd.AddCommand(gpioCmd)
	gpioCmd.AddCommand(gpioSetCmd, gpioGetCmd)

	gpioCmd.PersistentFlags().BoolVar(&gpioPullup, "pullup", false, "enable the pin pullup")
	gpioCmd.PersistentFlags().StringVar(&gpioName, "name", "", "label shown on the device display")
	gpioSetCmd.Flags().StringVar(&gpioOutput, "output", "push-pull", "output stage (push-pull, open-drain)")
}

func runGPIOSet(cmd *cobra.Command, args []string) error {
	level, err := strconv.ParseBool(args[1])
	if err != nil {
		return fmt.Errorf("invalid level %q", args[1])
	}
	output, err := protocol.ParseOutputType(gpioOutput)
	if err != nil {
		return err
	}
	if output == protocol.OutputDisable {
		return fmt.Errorf("output %q cannot drive a level, use gpio get", gpioOutput)
	}

	dev, disconnect, err := openDevice(cmd.Context())
	if err != nil {
		return err
	}
	defer disconnect()

	g, err := dev.CreateGPIO(smartwave.GPIOOptions{
		Pin:        args[0],
		Name:       gpioName,
		Level:      level,
		Pullup:     gpioPullup,
		OutputType: output,
	})
	if err != nil {
		return fmt.Errorf("failed to configure gpio: %w", err)
	}
	// The pin keeps its level after exit; only the host side is released.
	fmt.Printf("%s = %d (%s)\n", g.Pin(), boolDigit(g.Level()), g.OutputType())
	return nil
}

func runGPIOGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dev, disconnect, err := openDevice(ctx)
	if err != nil {
		return err
	}
	defer disconnect()

	g, err := dev.CreateGPIO(smartwave.GPIOOptions{
		Pin:        args[0],
		Name:       gpioName,
		Pullup:     gpioPullup,
		OutputType: protocol.OutputDisable,
	})
	if err != nil {
		return fmt.Errorf("failed to configure gpio: %w", err)
	}
	defer g.Close()

	// The device reports pin levels before it answers the info request.
	if _, err := dev.RequestInfoWait(ctx); err != nil {
		return fmt.Errorf("no pin status: %w", err)
	}
	fmt.Printf("%s = %d\n", g.Pin(), boolDigit(g.InputLevel()))
	return nil
}

func boolDigit(b bool) int {
	if b {
		return 1
	}
	return 0
}
