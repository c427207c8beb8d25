package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/propwatch/device"
)

// snapshotCmd represents the snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot <device-address-or-alias>",
	Short: "Dump the full property set of a device",
	Long: `Fetches the complete property set in one round trip and prints it:

  propwatch snapshot AA:BB:CC:DD:EE:FF
  propwatch snapshot headphones --json`,
	Args: cobra.ExactArgs(1),
	RunE: runSnapshot,
}

var (
	snapshotJSON    bool
	snapshotTimeout time.Duration
)

func init() {
	snapshotCmd.Flags().BoolVar(&snapshotJSON, "json", false, "Output as JSON")
	snapshotCmd.Flags().DurationVar(&snapshotTimeout, "timeout", 5*time.Second, "Remote call timeout")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cfg, err := configFromFlags(cmd)
	if err != nil {
		return err
	}
	address := cfg.ResolveAddress(args[0])

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

	ctx, cancel := timeoutContext(cmd, snapshotTimeout)
	defer cancel()

	snap, err := dev.Refresh(ctx)
	if err != nil {
		return err
	}

	if snapshotJSON {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to render snapshot: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	// Declaration order keeps the table stable across runs
	for _, name := range device.Schema().Names() {
		fmt.Printf("%-18s %v\n", name, snap[name])
	}
	return nil
}
