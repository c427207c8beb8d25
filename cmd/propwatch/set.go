package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/propwatch/device"
	"github.com/srg/propwatch/internal/object"
)

// setCmd represents the set command
var setCmd = &cobra.Command{
	Use:   "set <device-address-or-alias> <property> <value>",
	Short: "Write a single device property",
	Long: `Writes one property on the remote device. The value is parsed
according to the property's declared type:

  propwatch set AA:BB:CC:DD:EE:FF Trusted true
  propwatch set headphones Alias "Kitchen speaker"`,
	Args: cobra.ExactArgs(3),
	RunE: runSet,
}

var setTimeout time.Duration

func init() {
	setCmd.Flags().DurationVar(&setTimeout, "timeout", 5*time.Second, "Remote call timeout")
}

// parseValue converts a command-line string into the property's declared
// value type.
func parseValue(kind object.Kind, s string) (interface{}, error) {
	switch kind {
	case object.KindBool:
		return strconv.ParseBool(s)
	case object.KindString:
		return s, nil
	case object.KindInt16:
		n, err := strconv.ParseInt(s, 10, 16)
		return int16(n), err
	case object.KindUint16:
		n, err := strconv.ParseUint(s, 10, 16)
		return uint16(n), err
	case object.KindUint32:
		n, err := strconv.ParseUint(s, 10, 32)
		return uint32(n), err
	case object.KindStrings:
		if s == "" {
			return []string(nil), nil
		}
		return strings.Split(s, ","), nil
	default:
		return nil, fmt.Errorf("cannot parse %s values from the command line", kind)
	}
}

func runSet(cmd *cobra.Command, args []string) error {
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

	prop, ok := device.Schema().Lookup(property)
	if !ok {
		return fmt.Errorf("unknown property %q (known: %v)", property, device.Schema().Names())
	}
	value, err := parseValue(prop.Kind, args[2])
	if err != nil {
		return fmt.Errorf("invalid %s value %q: %w", prop.Kind, args[2], err)
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

	ctx, cancel := timeoutContext(cmd, setTimeout)
	defer cancel()

	return dev.Watcher().Set(ctx, property, value)
}

// timeoutContext derives a deadline context from the command's context.
func timeoutContext(cmd *cobra.Command, timeout time.Duration) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, timeout)
}
