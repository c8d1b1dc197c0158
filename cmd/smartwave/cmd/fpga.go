package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var fpgaCmd = &cobra.Command{
	Use:   "fpga",
	Short: "Access FPGA registers",
}

var fpgaReadCmd = &cobra.Command{
	Use:   "read <address>",
	Short: "Read a 32 bit FPGA register",
	Args:  cobra.ExactArgs(1),
	RunE:  runFPGARead,
}

var fpgaWriteCmd = &cobra.Command{
	Use:   "write <address> <value>",
	Short: "Write a 32 bit FPGA register",
	Args:  cobra.ExactArgs(2),
	RunE:  runFPGAWrite,
}

func init() {
	rootCmd.AddCommand(fpgaCmd)
	fpgaCmd.AddCommand(fpgaReadCmd, fpgaWriteCmd)
}

func runFPGARead(cmd *cobra.Command, args []string) error {
	addr, err := parseUint(args[0], 24)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	dev, disconnect, err := openDevice(ctx)
	if err != nil {
		return err
	}
	defer disconnect()

	value, err := dev.ReadFPGARegister(ctx, uint32(addr))
	if err != nil {
		return fmt.Errorf("register read failed: %w", err)
	}
	fmt.Printf("0x%06X = 0x%08X\n", addr, value)
	return nil
}

func runFPGAWrite(cmd *cobra.Command, args []string) error {
	addr, err := parseUint(args[0], 24)
	if err != nil {
		return err
	}
	value, err := parseUint(args[1], 32)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	dev, disconnect, err := openDevice(ctx)
	if err != nil {
		return err
	}
	defer disconnect()

	if err := dev.WriteFPGARegister(uint32(addr), uint32(value)); err != nil {
		return fmt.Errorf("register write failed: %w", err)
	}
	// Read back so the write is known to have reached the FPGA.
	got, err := dev.ReadFPGARegister(ctx, uint32(addr))
	if err != nil {
		return fmt.Errorf("register read back failed: %w", err)
	}
	fmt.Printf("0x%06X = 0x%08X\n", addr, got)
	return nil
}
