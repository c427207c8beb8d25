package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/propwatch/device"
)

// getCmd represents the get command
var getCmd = &cobra.Command{
	Use:   "get <device-address-or-alias> <property>",
	Short: "Read a single device property",
	Long: `Reads one property from the remote device (one bus round trip):

  propwatch get AA:BB:CC:DD:EE:FF Connected
  propwatch get headphones RSSI`,
	Args: cobra.ExactArgs(2),
	RunE: runGet,
}

var getTimeout time.Duration

func init() {
	getCmd.Flags().DurationVar(&getTimeout, "timeout", 5*time.Second, "Remote call timeout")
}

func runGet(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cfg, err := configFromFlags(cmd)
	if err != nil {
		return err
	}
	address := cfg.ResolveAddress(args[0])
	property := args[1]

	if _, ok := device.Schema().Lookup(property); !ok {
		return fmt.Errorf("unknown property %q (known: %v)", property, device.Schema().Names())
	}

	cmd.SilenceUsage = true

	conn, err := busConnect(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to %s bus: %w", cfg.Bus, err)
	}
	defer conn.Close()

	dev, err := device.NewDBus(conn, cfg.Adapter, address, logger)
	if err != nil {
		return err
	}
	defer dev.Close()

	ctx, cancel := timeoutContext(cmd, getTimeout)
	defer cancel()

	value, err := dev.Watcher().Get(ctx, property)
	if err != nil {
		return err
	}
	fmt.Printf("%v\n", value)
	return nil
}
