package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceWave/pkg/firmware"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/protocol"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/smartwave"
)

var referencePath string

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update microcontroller firmware or FPGA bitstream",
	Long: `Validate an image and upload it to the device. The upload prints its
progress and fails on a checksum or validation error reported by the device.

Examples:
  smartwave -p /dev/ttyACM0 update firmware smartwave-2.4.0.bin
  smartwave -p /dev/ttyACM0 update firmware --reference old.bin cropped.bin
  smartwave -p /dev/ttyACM0 update bitstream top.bin`,
}

var updateFirmwareCmd = &cobra.Command{
	Use:   "firmware <image>",
	Short: "Upload microcontroller firmware",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpdateFirmware,
}

var updateBitstreamCmd = &cobra.Command{
	Use:   "bitstream <image>",
	Short: "Upload an FPGA bitstream",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpdateBitstream,
}

func init() {
	rootCmd.AddCommand(updateCmd)
	updateCmd.AddCommand(updateFirmwareCmd, updateBitstreamCmd)

	updateFirmwareCmd.Flags().StringVar(&referencePath, "reference", "",
		"full image whose bootloader completes a cropped firmware")
}

func runUpdateFirmware(cmd *cobra.Command, args []string) error {
	img, err := firmware.LoadFirmware(args[0], referencePath)
	if err != nil {
		return fmt.Errorf("failed to load firmware: %w", err)
	}
	return upload(cmd.Context(), img, (*smartwave.Device).UpdateFirmware)
}

func runUpdateBitstream(cmd *cobra.Command, args []string) error {
	img, err := firmware.LoadBitstream(args[0])
	if err != nil {
		return fmt.Errorf("failed to load bitstream: %w", err)
	}
	return upload(cmd.Context(), img, (*smartwave.Device).UpdateFPGABitstream)
}

func upload(ctx context.Context, img *firmware.Image, send func(*smartwave.Device, context.Context, *firmware.Image) error) error {
	if verbose {
		fmt.Printf("Image: %d bytes, checksum 0x%08X, cropped %v\n", len(img.Payload), img.Checksum, img.Cropped)
	}

	last := -1
	onStatus := func(st protocol.FirmwareStatusFrame) {
		p := st.Progress()
		if st.Finished() {
			p = 100
		}
		if p != last {
			last = p
			fmt.Printf("\rUploading... %3d%%", p)
		}
	}
	dev, disconnect, err := openDeviceWith(ctx, func(o *smartwave.Options) {
		o.Callbacks.OnFirmwareStatus = onStatus
	})
	if err != nil {
		return err
	}
	defer disconnect()

	err = send(dev, ctx, img)
	fmt.Println()
	if err != nil {
		return fmt.Errorf("update failed: %w", err)
	}
	fmt.Println("Update complete.")
	return nil
}
