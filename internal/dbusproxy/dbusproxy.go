// Package dbusproxy binds the object.Proxy contract to a D-Bus object via
// the standard org.freedesktop.DBus.Properties interface.
package dbusproxy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/propwatch/internal/object"
)

const (
	propsInterface     = "org.freedesktop.DBus.Properties"
	propsChangedSignal = propsInterface + ".PropertiesChanged"
)

// Proxy implements object.Proxy and object.Caller for one remote D-Bus
// object. It holds no connection ownership; the caller manages the bus
// connection lifetime.
type Proxy struct {
	conn    *dbus.Conn
	obj     dbus.BusObject
	service string
	iface   string
	path    dbus.ObjectPath
	logger  *logrus.Logger
}

// New creates a proxy for the object at path, owned by service, accessing
// properties of the given interface.
func New(conn *dbus.Conn, service, iface string, path dbus.ObjectPath, logger *logrus.Logger) *Proxy {
	if logger == nil {
		logger = logrus.New()
	}
	return &Proxy{
		conn:    conn,
		obj:     conn.Object(service, path),
		service: service,
		iface:   iface,
		path:    path,
		logger:  logger,
	}
}

// Path returns the remote object path.
func (p *Proxy) Path() dbus.ObjectPath {
	return p.path
}

// Get reads a single property.
func (p *Proxy) Get(ctx context.Context, name string) (interface{}, error) {
	var variant dbus.Variant
	call := p.obj.CallWithContext(ctx, propsInterface+".Get", 0, p.iface, name)
	if err := call.Store(&variant); err != nil {
		return nil, translateError(err)
	}
	return variant.Value(), nil
}

// GetAll reads the complete property set in one round trip.
func (p *Proxy) GetAll(ctx context.Context) (map[string]interface{}, error) {
	var variants map[string]dbus.Variant
	call := p.obj.CallWithContext(ctx, propsInterface+".GetAll", 0, p.iface)
	if err := call.Store(&variants); err != nil {
		return nil, translateError(err)
	}
	props := make(map[string]interface{}, len(variants))
	for name, v := range variants {
		props[name] = v.Value()
	}
	return props, nil
}

// Set writes a single property.
func (p *Proxy) Set(ctx context.Context, name string, value interface{}) error {
	call := p.obj.CallWithContext(ctx, propsInterface+".Set", 0, p.iface, name, dbus.MakeVariant(value))
	return translateError(call.Err)
}

// Call invokes a plain method on the proxied interface and waits for the
// reply, discarding any return values.
func (p *Proxy) Call(ctx context.Context, method string, args ...interface{}) error {
	call := p.obj.CallWithContext(ctx, p.iface+"."+method, 0, args...)
	return translateError(call.Err)
}

// Watch subscribes to PropertiesChanged signals for the object and delivers
// each signal as one notification batch. The returned handle's Cancel is
// idempotent.
func (p *Proxy) Watch(onBatch func(object.Batch)) (object.WatchHandle, error) {
	opts := []dbus.MatchOption{
		dbus.WithMatchInterface(propsInterface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchObjectPath(p.path),
	}
	if err := p.conn.AddMatchSignal(opts...); err != nil {
		return nil, translateError(err)
	}

	ch := make(chan *dbus.Signal, 32)
	p.conn.Signal(ch)

	h := &watchHandle{proxy: p, ch: ch, opts: opts}
	go h.loop(onBatch)
	return h, nil
}

type watchHandle struct {
	proxy *Proxy
	ch    chan *dbus.Signal
	opts  []dbus.MatchOption
	once  sync.Once
}

func (h *watchHandle) loop(onBatch func(object.Batch)) {
	for sig := range h.ch {
		if sig.Path != h.proxy.path || sig.Name != propsChangedSignal {
			continue
		}
		iface, batch, invalidated, err := ParseChangeSignal(sig)
		if err != nil {
			h.proxy.logger.WithError(err).Warn("Dropping malformed PropertiesChanged signal")
			continue
		}
		if iface != h.proxy.iface {
			continue
		}
		if len(invalidated) > 0 {
			// Invalidated names carry no value; the cache keeps its last
			// value until the next refresh.
			h.proxy.logger.WithField("properties", strings.Join(invalidated, ", ")).
				Debug("Remote invalidated properties without values")
		}
		if len(batch) > 0 {
			onBatch(batch)
		}
	}
}

// Cancel removes the signal subscription and match rule. Safe to call
// multiple times and safe to call if the connection already went away.
func (h *watchHandle) Cancel() {
	h.once.Do(func() {
		h.proxy.conn.RemoveSignal(h.ch)
		if err := h.proxy.conn.RemoveMatchSignal(h.opts...); err != nil {
			h.proxy.logger.WithError(err).Debug("Failed to remove PropertiesChanged match rule")
		}
		close(h.ch)
	})
}

// ParseChangeSignal decodes a PropertiesChanged signal body into the
// interface name, the changed-property batch, and the invalidated names.
// Kept as a pure function so signal handling is testable without a bus.
func ParseChangeSignal(sig *dbus.Signal) (iface string, batch object.Batch, invalidated []string, err error) {
	if len(sig.Body) < 3 {
		return "", nil, nil, fmt.Errorf("signal body has %d elements, want 3", len(sig.Body))
	}
	iface, ok := sig.Body[0].(string)
	if !ok {
		return "", nil, nil, fmt.Errorf("interface name is %T, want string", sig.Body[0])
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return "", nil, nil, fmt.Errorf("changed properties are %T, want map[string]Variant", sig.Body[1])
	}
	invalidated, ok = sig.Body[2].([]string)
	if !ok {
		return "", nil, nil, fmt.Errorf("invalidated properties are %T, want []string", sig.Body[2])
	}

	batch = make(object.Batch, 0, len(changed))
	for name, v := range changed {
		batch = append(batch, object.Change{Name: name, Value: v.Value()})
	}
	return iface, batch, invalidated, nil
}

// translateError maps dbus error names to structured RemoteError kinds,
// falling back to message-based normalization for plain errors.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var derr dbus.Error
	if errors.As(err, &derr) {
		switch derr.Name {
		case "org.freedesktop.DBus.Error.ServiceUnknown",
			"org.freedesktop.DBus.Error.UnknownObject",
			"org.freedesktop.DBus.Error.NoReply",
			"org.freedesktop.DBus.Error.Timeout",
			"org.freedesktop.DBus.Error.Disconnected":
			return fmt.Errorf("%w: %v", object.ErrUnavailable, err)
		case "org.freedesktop.DBus.Error.InvalidArgs":
			return fmt.Errorf("%w: %v", object.ErrInvalidArgument, err)
		case "org.freedesktop.DBus.Error.NotSupported":
			return fmt.Errorf("%w: %v", object.ErrNotSupported, err)
		}
		if strings.HasSuffix(derr.Name, ".NotSupported") {
			return fmt.Errorf("%w: %v", object.ErrNotSupported, err)
		}
		if strings.HasSuffix(derr.Name, ".InvalidArguments") {
			return fmt.Errorf("%w: %v", object.ErrInvalidArgument, err)
		}
	}
	return object.NormalizeError(err)
}
