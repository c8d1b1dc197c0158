package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceWave/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/smartwave"
	"github.com/OpenTraceLab/OpenTraceWave/pkg/txscript"
)

var (
	i2cSCL    string
	i2cSDA    string
	i2cClock  float64
	i2cScript string
)

var i2cCmd = &cobra.Command{
	Use:   "i2c",
	Short: "Run I2C transfers",
	Long: `Run I2C transfers as bus master on two SmartWave pins.

Examples:
  smartwave -p sim i2c scan
  smartwave -p sim i2c write 0x50 0x10 0xaa 0x55
  smartwave -p sim i2c read 0x50 4 --clock 100000
  smartwave -p sim i2c run -e "write 0x50 [10]; read 0x50 2"`,
}

var i2cScanCmd = &cobra.Command{
	Use:   "scan [first last]",
	Short: "List the addresses that acknowledge",
	Args:  scanRange,
	RunE:  runI2CScan,
}

func scanRange(cmd *cobra.Command, args []string) error {
	if len(args) != 0 && len(args) != 2 {
		return errors.New("scan takes no range or both ends of it")
	}
	return nil
}

var i2cWriteCmd = &cobra.Command{
	Use:   "write <address> [bytes...]",
	Short: "Write bytes to a target",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runI2CWrite,
}

var i2cReadCmd = &cobra.Command{
	Use:   "read <address> <count>",
	Short: "Read bytes from a target",
	Args:  cobra.ExactArgs(2),
	RunE:  runI2CRead,
}

var i2cRunCmd = &cobra.Command{
	Use:   "run [script-file]",
	Short: "Run a transaction script",
	Long: `Run every transaction of a script in one trigger. A script is a list of
statements separated by newlines or semicolons:

  write <address> [hex bytes]     e.g. write 0x50 [00 10 ff]
  write <address> <values...>     e.g. write 0x50 0, 16, 0xff
  read <address> <count>          e.g. read 0x50 2

Comments start with # or //.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runI2CScriptCmd,
}

func init() {
	rootCmd.AddCommand(i2cCmd)
	i2cCmd.AddCommand(i2cScanCmd, i2cWriteCmd, i2cReadCmd, i2cRunCmd)

	flags := i2cCmd.PersistentFlags()
	flags.StringVar(&i2cSCL, "scl", "", "SCL pin (default: next free pin)")
	flags.StringVar(&i2cSDA, "sda", "", "SDA pin (default: next free pin)")
	flags.Float64Var(&i2cClock, "clock", bus.DefaultI2CClock, "SCL frequency in Hz")

	i2cRunCmd.Flags().StringVarP(&i2cScript, "exec", "e", "", "script text instead of a file")
}

// withI2C connects and creates the I2C configuration for fn.
func withI2C(cmd *cobra.Command, fn func(ctx context.Context, c *smartwave.I2CConfig) error) error {
	ctx := cmd.Context()
	dev, disconnect, err := openDevice(ctx)
	if err != nil {
		return err
	}
	defer disconnect()

	c, err := dev.CreateI2CConfig(smartwave.I2COptions{SCL: i2cSCL, SDA: i2cSDA, ClockSpeed: i2cClock})
	if err != nil {
		return fmt.Errorf("failed to configure i2c: %w", err)
	}
	defer c.Close()

	if verbose {
		fmt.Printf("I2C on SCL=%s SDA=%s at %.0f Hz\n", c.SCL(), c.SDA(), c.ClockSpeed())
	}
	return fn(ctx, c)
}

func parseAddress(s string) (byte, error) {
	v, err := parseUint(s, 7)
	if err != nil {
		return 0, fmt.Errorf("invalid i2c address: %w", err)
	}
	return byte(v), nil
}

func runI2CScan(cmd *cobra.Command, args []string) error {
	lo, hi := 0, bus.MaxI2CAddress
	if len(args) == 2 {
		first, err := parseAddress(args[0])
		if err != nil {
			return err
		}
		last, err := parseAddress(args[1])
		if err != nil {
			return err
		}
		lo, hi = int(first), int(last)
	}

	return withI2C(cmd, func(ctx context.Context, c *smartwave.I2CConfig) error {
		found, err := c.ScanAddresses(ctx, lo, hi)
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}
		if len(found) == 0 {
			fmt.Println("No devices found.")
			return nil
		}
		fmt.Printf("Found %d device(s):\n", len(found))
		for _, addr := range found {
			fmt.Printf("  0x%02X\n", addr)
		}
		return nil
	})
}

func runI2CWrite(cmd *cobra.Command, args []string) error {
	addr, err := parseAddress(args[0])
	if err != nil {
		return err
	}
	data, err := parseBytes(args[1:])
	if err != nil {
		return err
	}

	return withI2C(cmd, func(ctx context.Context, c *smartwave.I2CConfig) error {
		res, err := c.Write(ctx, addr, data...)
		if err != nil {
			return fmt.Errorf("write failed: %w", err)
		}
		printResult(res)
		return nil
	})
}

func runI2CRead(cmd *cobra.Command, args []string) error {
	addr, err := parseAddress(args[0])
	if err != nil {
		return err
	}
	n, err := parseUint(args[1], 8)
	if err != nil {
		return err
	}

	return withI2C(cmd, func(ctx context.Context, c *smartwave.I2CConfig) error {
		res, err := c.Read(ctx, addr, int(n))
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}
		printResult(res)
		return nil
	})
}

func runI2CScriptCmd(cmd *cobra.Command, args []string) error {
	var (
		txs []bus.I2CTransaction
		err error
	)
	switch {
	case i2cScript != "" && len(args) > 0:
		return errors.New("give either a script file or --exec, not both")
	case i2cScript != "":
		txs, err = txscript.Compile(i2cScript)
	case len(args) == 1:
		txs, err = compileFile(args[0])
	default:
		return errors.New("no script given")
	}
	if err != nil {
		return fmt.Errorf("failed to compile script: %w", err)
	}
	if len(txs) == 0 {
		fmt.Println("Script is empty.")
		return nil
	}

	return withI2C(cmd, func(ctx context.Context, c *smartwave.I2CConfig) error {
		results, err := c.Transact(ctx, txs)
		if err != nil {
			return fmt.Errorf("transaction failed: %w", err)
		}
		for _, res := range results {
			printResult(res)
		}
		return nil
	})
}

func compileFile(path string) ([]bus.I2CTransaction, error) {
	p, err := txscript.NewParser()
	if err != nil {
		return nil, err
	}
	script, err := p.ParseFile(path)
	if err != nil {
		return nil, err
	}
	return script.Transactions()
}

func printResult(res bus.I2CResult) {
	op := "write"
	if res.Read {
		op = "read "
	}
	ack := "ACK"
	if !res.AckDeviceID {
		ack = "NACK"
	}
	var data strings.Builder
	for i, b := range res.Data {
		if i > 0 {
			data.WriteByte(' ')
		}
		fmt.Fprintf(&data, "%02X", b)
	}
	fmt.Printf("%s 0x%02X %-4s [%s]\n", op, res.DeviceID, ack, data.String())
}
