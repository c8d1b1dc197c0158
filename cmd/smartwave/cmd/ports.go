package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceWave/pkg/transport"
)

var allPorts bool

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	Long: `List the serial ports of the host. Only SmartWave ports (matched by USB
VID:PID) are shown unless --all is given.`,
	Args: cobra.NoArgs,
	RunE: runPorts,
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List SmartWave boards on the USB bus",
	Long: `Scan the USB bus for SmartWave boards without opening them. Use this to
check cabling and permissions when no serial port shows up.`,
	Args: cobra.NoArgs,
	RunE: runDevices,
}

func init() {
	rootCmd.AddCommand(portsCmd, devicesCmd)
	portsCmd.Flags().BoolVarP(&allPorts, "all", "a", false, "list every serial port")
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := transport.ListPorts()
	if err != nil {
		return err
	}
	if !allPorts {
		ports = transport.SmartWavePorts(ports)
	}
	if len(ports) == 0 {
		fmt.Println("No ports found.")
		return nil
	}

	fmt.Println("Serial ports:")
	for _, p := range ports {
		mark := " "
		if p.IsSmartWave() {
			mark = "*"
		}
		fmt.Printf(" %s %s\n", mark, p.Label())
	}
	return nil
}

func runDevices(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	infos, err := transport.DiscoverDevices(ctx)
	if err != nil {
		return fmt.Errorf("discover devices: %w", err)
	}

	fmt.Println("Detected devices:")
	for _, d := range infos {
		fmt.Printf("  - %s [%s]\n", d.Label(), d.Kind)
	}
	return nil
}
