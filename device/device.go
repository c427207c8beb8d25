// Package device exposes a BlueZ org.bluez.Device1 object as a locally
// watched property set with semantic connectivity events.
package device

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/propwatch/internal/dbusproxy"
	"github.com/srg/propwatch/internal/object"
)

const (
	// BluezService is the well-known bus name of the BlueZ daemon.
	BluezService = "org.bluez"

	// Interface is the D-Bus interface of a remote Bluetooth device.
	Interface = "org.bluez.Device1"
)

// Wire names of the watched Device1 properties.
const (
	PropAddress          = "Address"
	PropName             = "Name"
	PropAlias            = "Alias"
	PropPaired           = "Paired"
	PropBonded           = "Bonded"
	PropTrusted          = "Trusted"
	PropBlocked          = "Blocked"
	PropConnected        = "Connected"
	PropServicesResolved = "ServicesResolved"
	PropRSSI             = "RSSI"
	PropTxPower          = "TxPower"
	PropUUIDs            = "UUIDs"
)

// Semantic event names derived from property transitions.
const (
	EventConnected          = "connected"
	EventDisconnected       = "disconnected"
	EventServicesResolved   = "services-resolved"
	EventServicesUnresolved = "services-unresolved"

	// EventPropertyChanged fires for every property whose cached value
	// actually changed.
	EventPropertyChanged = object.ChangedEvent
)

// deviceSchema declares the watched property set. Bonded mirrors Paired:
// BlueZ introduced Bonded as the replacement name and both are kept equal
// after any update to either.
var deviceSchema = object.MustSchema(
	object.Property{Name: PropAddress, Kind: object.KindString},
	object.Property{Name: PropName, Kind: object.KindString},
	object.Property{Name: PropAlias, Kind: object.KindString},
	object.Property{Name: PropPaired, Kind: object.KindBool},
	object.Property{Name: PropBonded, Kind: object.KindBool, MirrorOf: PropPaired},
	object.Property{Name: PropTrusted, Kind: object.KindBool},
	object.Property{Name: PropBlocked, Kind: object.KindBool},
	object.Property{Name: PropConnected, Kind: object.KindBool,
		Activity: &object.Activity{Activated: EventConnected, Deactivated: EventDisconnected}},
	object.Property{Name: PropServicesResolved, Kind: object.KindBool,
		Activity: &object.Activity{Activated: EventServicesResolved, Deactivated: EventServicesUnresolved}},
	object.Property{Name: PropRSSI, Kind: object.KindInt16},
	object.Property{Name: PropTxPower, Kind: object.KindInt16},
	object.Property{Name: PropUUIDs, Kind: object.KindStrings},
)

// Schema returns the Device1 property schema.
func Schema() *object.Schema {
	return deviceSchema
}

// Device wraps a remote Bluetooth device behind a property watcher. Nearly
// every operation forwards to the underlying proxy; the watcher supplies
// the cached snapshot and event dispatch.
type Device struct {
	proxy   object.Proxy
	caller  object.Caller // nil when the proxy cannot invoke methods
	watcher *object.Watcher
	logger  *logrus.Logger
}

// New wraps an already-constructed proxy. The watcher subscribes to the
// proxy's notification stream immediately; the caller owns the device until
// Close.
func New(proxy object.Proxy, logger *logrus.Logger) (*Device, error) {
	if logger == nil {
		logger = logrus.New()
	}
	watcher, err := object.NewWatcher(proxy, deviceSchema, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create device watcher: %w", err)
	}
	caller, _ := proxy.(object.Caller)
	return &Device{
		proxy:   proxy,
		caller:  caller,
		watcher: watcher,
		logger:  logger,
	}, nil
}

// NewDBus wraps the BlueZ device with the given address on the given
// adapter (e.g. "hci0"), over an established bus connection.
func NewDBus(conn *dbus.Conn, adapterID, address string, logger *logrus.Logger) (*Device, error) {
	path, err := ObjectPath(adapterID, address)
	if err != nil {
		return nil, err
	}
	proxy := dbusproxy.New(conn, BluezService, Interface, path, logger)
	return New(proxy, logger)
}

// Close tears down the notification subscription. Idempotent.
func (d *Device) Close() error {
	return d.watcher.Close()
}

// Watcher returns the underlying property watcher.
func (d *Device) Watcher() *object.Watcher {
	return d.watcher
}

// Properties returns the cached snapshot without a remote call.
func (d *Device) Properties() object.Snapshot {
	return d.watcher.Current()
}

// Refresh fetches the complete property set from the remote device and
// replaces the cache wholesale.
func (d *Device) Refresh(ctx context.Context) (object.Snapshot, error) {
	return d.watcher.Refresh(ctx)
}

// Snapshot accessors. All read the cache; none trigger a remote call.

func (d *Device) Address() string        { return d.stringProp(PropAddress) }
func (d *Device) Name() string           { return d.stringProp(PropName) }
func (d *Device) Alias() string          { return d.stringProp(PropAlias) }
func (d *Device) Paired() bool           { return d.boolProp(PropPaired) }
func (d *Device) Bonded() bool           { return d.boolProp(PropBonded) }
func (d *Device) Trusted() bool          { return d.boolProp(PropTrusted) }
func (d *Device) Blocked() bool          { return d.boolProp(PropBlocked) }
func (d *Device) Connected() bool        { return d.boolProp(PropConnected) }
func (d *Device) ServicesResolved() bool { return d.boolProp(PropServicesResolved) }

func (d *Device) RSSI() int16 {
	v, _ := d.watcher.Current()[PropRSSI].(int16)
	return v
}

func (d *Device) TxPower() int16 {
	v, _ := d.watcher.Current()[PropTxPower].(int16)
	return v
}

func (d *Device) UUIDs() []string {
	v, _ := d.watcher.Current()[PropUUIDs].([]string)
	return v
}

func (d *Device) stringProp(name string) string {
	v, _ := d.watcher.Current()[name].(string)
	return v
}

func (d *Device) boolProp(name string) bool {
	v, _ := d.watcher.Current()[name].(bool)
	return v
}

// Event registration helpers. Activation events (OnConnected,
// OnServicesResolved) replay a synthesized non-state-change event when the
// condition is already true at subscription time.

func (d *Device) OnConnected(fn object.EventFunc) *object.Registration {
	return d.watcher.Subscribe(EventConnected, fn)
}

func (d *Device) OnDisconnected(fn object.EventFunc) *object.Registration {
	return d.watcher.Subscribe(EventDisconnected, fn)
}

func (d *Device) OnServicesResolved(fn object.EventFunc) *object.Registration {
	return d.watcher.Subscribe(EventServicesResolved, fn)
}

func (d *Device) OnServicesUnresolved(fn object.EventFunc) *object.Registration {
	return d.watcher.Subscribe(EventServicesUnresolved, fn)
}

func (d *Device) OnPropertyChanged(fn object.EventFunc) *object.Registration {
	return d.watcher.Subscribe(EventPropertyChanged, fn)
}

// Unsubscribe removes a registration returned by any On* helper.
func (d *Device) Unsubscribe(reg *object.Registration) {
	d.watcher.Unsubscribe(reg)
}

// Remote method forwarding.

// Connect asks BlueZ to establish a connection to the device.
func (d *Device) Connect(ctx context.Context) error {
	return d.call(ctx, "Connect")
}

// Disconnect asks BlueZ to drop the connection.
func (d *Device) Disconnect(ctx context.Context) error {
	return d.call(ctx, "Disconnect")
}

// Pair initiates pairing with the device.
func (d *Device) Pair(ctx context.Context) error {
	return d.call(ctx, "Pair")
}

// CancelPairing aborts an in-progress pairing.
func (d *Device) CancelPairing(ctx context.Context) error {
	return d.call(ctx, "CancelPairing")
}

func (d *Device) call(ctx context.Context, method string) error {
	if d.caller == nil {
		return fmt.Errorf("%w: proxy cannot invoke %s", object.ErrNotSupported, method)
	}
	d.logger.WithFields(logrus.Fields{
		"address": d.Address(),
		"method":  method,
	}).Debug("Forwarding device method call")
	if err := d.caller.Call(ctx, method); err != nil {
		return fmt.Errorf("failed to invoke %s: %w", method, err)
	}
	return nil
}

// Property writes forwarded to the remote side.

// SetAlias sets the user-assigned device name.
func (d *Device) SetAlias(ctx context.Context, alias string) error {
	return d.watcher.Set(ctx, PropAlias, alias)
}

// SetTrusted marks the device as trusted.
func (d *Device) SetTrusted(ctx context.Context, trusted bool) error {
	return d.watcher.Set(ctx, PropTrusted, trusted)
}

// SetBlocked blocks or unblocks the device.
func (d *Device) SetBlocked(ctx context.Context, blocked bool) error {
	return d.watcher.Set(ctx, PropBlocked, blocked)
}
