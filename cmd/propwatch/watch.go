package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/propwatch/device"
	"github.com/srg/propwatch/internal/object"
	"golang.org/x/term"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch <device-address-or-alias>...",
	Short: "Follow property transitions of one or more devices",
	Long: `Watches the given devices and prints every property transition:

  # Watch a single device
  propwatch watch AA:BB:CC:DD:EE:FF

  # Watch several devices at once, aliases allowed
  propwatch watch headphones AA:BB:CC:DD:EE:FF

Semantic transitions (connected, disconnected, services resolved) are
highlighted; every other property change prints as a generic change line.
Events already true at start are marked as replayed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

var (
	watchNoColor  bool
	watchDuration time.Duration
	watchVerbose  bool
)

func init() {
	watchCmd.Flags().BoolVar(&watchNoColor, "no-color", false, "Disable colored output")
	watchCmd.Flags().DurationVar(&watchDuration, "duration", 0, "Stop after this long (0 = until interrupted)")
	watchCmd.Flags().BoolVar(&watchVerbose, "verbose", false, "Enable debug logging")
}

// eventPrinter renders events as single colored lines.
type eventPrinter struct {
	connected    *color.Color
	disconnected *color.Color
	resolved     *color.Color
	generic      *color.Color
}

func newEventPrinter(noColor bool) *eventPrinter {
	p := &eventPrinter{
		connected:    color.New(color.FgGreen, color.Bold),
		disconnected: color.New(color.FgRed, color.Bold),
		resolved:     color.New(color.FgCyan),
		generic:      color.New(color.FgYellow),
	}
	if noColor || !term.IsTerminal(int(os.Stdout.Fd())) {
		for _, c := range []*color.Color{p.connected, p.disconnected, p.resolved, p.generic} {
			c.DisableColor()
		}
	}
	return p
}

func (p *eventPrinter) print(address string, ev object.Event) {
	ts := time.Now().Format("15:04:05.000")
	suffix := ""
	if !ev.StateChange {
		suffix = " (replayed)"
	}

	var c *color.Color
	switch ev.Name {
	case device.EventConnected:
		c = p.connected
	case device.EventDisconnected:
		c = p.disconnected
	case device.EventServicesResolved, device.EventServicesUnresolved:
		c = p.resolved
	default:
		c = p.generic
	}

	if ev.Name == device.EventPropertyChanged {
		fmt.Printf("%s  %s  %s %s = %v\n", ts, address, c.Sprint("changed"), ev.Property, ev.Value)
		return
	}
	fmt.Printf("%s  %s  %s%s\n", ts, address, c.Sprint(ev.Name), suffix)
}

func runWatch(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cfg, err := configFromFlags(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	conn, err := busConnect(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to %s bus: %w", cfg.Bus, err)
	}
	defer conn.Close()

	printer := newEventPrinter(watchNoColor)
	registry := device.NewRegistry(logger)
	defer registry.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, arg := range args {
		address := cfg.ResolveAddress(arg)
		dev, err := registry.GetOrCreate(address, func() (*device.Device, error) {
			return device.NewDBus(conn, cfg.Adapter, address, logger)
		})
		if err != nil {
			return fmt.Errorf("failed to watch %s: %w", address, err)
		}

		// Seed the cache so snapshot accessors are meaningful right away.
		// A device that is not currently known to BlueZ is still watchable.
		if _, err := dev.Refresh(ctx); err != nil {
			logger.WithError(err).WithField("address", address).Warn("Initial property refresh failed")
		}

		addr := address
		handler := func(ev object.Event) { printer.print(addr, ev) }
		dev.OnConnected(handler)
		dev.OnDisconnected(handler)
		dev.OnServicesResolved(handler)
		dev.OnServicesUnresolved(handler)
		dev.OnPropertyChanged(handler)
	}

	if watchDuration > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(watchDuration):
		}
		return nil
	}

	<-ctx.Done()
	return nil
}
