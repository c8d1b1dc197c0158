package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var outputJSON bool

// DeviceReport is the structured output of the info command.
type DeviceReport struct {
	Port            string   `json:"port"`
	Hardware        string   `json:"hardware"`
	Microcontroller string   `json:"microcontroller"`
	FPGA            string   `json:"fpga"`
	FlashID         string   `json:"flash_id"`
	VDDIO           float64  `json:"vddio"`
	TriggerMode     string   `json:"trigger_mode"`
	Pins            []string `json:"pins"`
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show hardware and firmware versions",
	Long: `Connect to the device and print its hardware, microcontroller and FPGA
versions together with the flash id.

Examples:
  smartwave -p sim info
  smartwave -p /dev/ttyACM0 info --json`,
	Args: cobra.NoArgs,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON (for programmatic access)")
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dev, disconnect, err := openDevice(ctx)
	if err != nil {
		return err
	}
	defer disconnect()

	info, err := dev.RequestInfoWait(ctx)
	if err != nil {
		return fmt.Errorf("failed to get device info: %w", err)
	}

	report := DeviceReport{
		Port:            cfg.Device.Port,
		Hardware:        info.Hardware.String(),
		Microcontroller: info.Microcontroller.String(),
		FPGA:            info.FPGA.String(),
		FlashID:         fmt.Sprintf("0x%016X", info.FlashID),
		VDDIO:           dev.VDDIO(),
		TriggerMode:     dev.TriggerMode().String(),
	}
	for _, p := range dev.Pins() {
		report.Pins = append(report.Pins, p.Name())
	}

	if outputJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}

	fmt.Printf("SmartWave on %s\n", displayPort(report.Port))
	fmt.Printf("  Hardware:        %s\n", report.Hardware)
	fmt.Printf("  Microcontroller: %s\n", report.Microcontroller)
	fmt.Printf("  FPGA:            %s\n", report.FPGA)
	fmt.Printf("  Flash ID:        %s\n", report.FlashID)
	fmt.Printf("  VDDIO:           %.2f V\n", report.VDDIO)
	fmt.Printf("  Trigger mode:    %s\n", report.TriggerMode)
	if verbose {
		fmt.Printf("  Pins:            %v\n", report.Pins)
	}
	return nil
}

func displayPort(name string) string {
	if name == "" {
		return "first detected port"
	}
	return name
}
