package object

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"sync"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ChangedEvent is the generic per-property event name. It fires for every
// recognized property whose cached value actually changed, regardless of
// semantic-event wiring.
const ChangedEvent = "changed"

// replayProbeTimeout bounds the remote fetch behind a replay-on-subscribe
// check. A probe that times out is logged and swallowed; the subscriber
// simply never receives the synthesized event.
const replayProbeTimeout = 10 * time.Second

// Event is delivered to subscribed handlers.
type Event struct {
	Name        string      // event name the handler subscribed to
	Property    string      // display name of the property involved
	Value       interface{} // new (or probed) property value
	StateChange bool        // false for a synthesized "already active" replay
}

// EventFunc handles dispatched events. Handlers run on the watcher's
// dispatch goroutine; they must not block.
type EventFunc func(Event)

// Registration identifies a subscribed handler. Handlers are removed by
// exact registration, since Go functions are not comparable.
type Registration struct {
	event string
	id    uint64
	fn    EventFunc

	// activated is only touched on the dispatch goroutine. It suppresses a
	// synthesized replay after the registration already received a genuine
	// activation.
	activated bool
}

// Snapshot is a point-in-time copy of the cached property set.
type Snapshot map[string]interface{}

// Options configures a Watcher.
type Options struct {
	QueueSize int `default:"64"` // dispatch queue capacity
}

// Watcher mirrors a remote object's property set and re-dispatches change
// notifications as events. The embedded core carries the dispatch goroutine
// so that an unreachable Watcher handle can still be finalized; explicit
// Close remains the primary release path.
type Watcher struct {
	*watcherCore
}

type watcherCore struct {
	proxy  Proxy
	schema *Schema
	logger *logrus.Logger

	mu       sync.RWMutex
	snapshot map[string]interface{}
	known    map[string]bool

	submu  sync.Mutex
	nextID uint64
	subs   map[string]*orderedmap.OrderedMap[uint64, *Registration]

	tasks *taskQueue
	watch WatchHandle
	done  chan struct{}

	closemu sync.Mutex
	closed  bool
}

// NewWatcher wraps a remote-object proxy, subscribes to its notification
// stream and starts the dispatch goroutine. The returned watcher owns the
// stream subscription until Close.
func NewWatcher(proxy Proxy, schema *Schema, opts *Options, logger *logrus.Logger) (*Watcher, error) {
	if proxy == nil {
		return nil, fmt.Errorf("failed to create watcher: proxy is required")
	}
	if schema == nil || schema.Len() == 0 {
		return nil, fmt.Errorf("failed to create watcher: schema is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = &Options{}
	}
	defaults.SetDefaults(opts)

	c := &watcherCore{
		proxy:    proxy,
		schema:   schema,
		logger:   logger,
		snapshot: make(map[string]interface{}, schema.Len()),
		known:    make(map[string]bool, schema.Len()),
		subs:     make(map[string]*orderedmap.OrderedMap[uint64, *Registration]),
		tasks:    newTaskQueue(opts.QueueSize),
		done:     make(chan struct{}),
	}
	for _, name := range schema.Names() {
		p, _ := schema.Lookup(name)
		c.snapshot[name] = p.Kind.Zero()
	}

	handle, err := proxy.Watch(c.enqueueBatch)
	if err != nil {
		c.tasks.Close()
		return nil, fmt.Errorf("failed to watch remote object: %w", NormalizeError(err))
	}
	c.watch = handle

	go c.run()

	w := &Watcher{c}
	runtime.SetFinalizer(w, func(w *Watcher) { _ = w.watcherCore.close() })
	return w, nil
}

// Close tears down the notification-stream subscription and stops the
// dispatch goroutine. Idempotent; safe to call without ever subscribing
// handlers and safe to call multiple times.
func (w *Watcher) Close() error {
	runtime.SetFinalizer(w, nil)
	return w.watcherCore.close()
}

func (c *watcherCore) close() error {
	c.closemu.Lock()
	if c.closed {
		c.closemu.Unlock()
		return nil
	}
	c.closed = true
	c.closemu.Unlock()

	c.watch.Cancel()
	c.tasks.Close()
	<-c.done

	c.logger.Debug("Property watcher closed")
	return nil
}

func (c *watcherCore) isClosed() bool {
	c.closemu.Lock()
	defer c.closemu.Unlock()
	return c.closed
}

// run is the single writer for the snapshot cache. One task at a time,
// in arrival order.
func (c *watcherCore) run() {
	defer close(c.done)
	c.tasks.Run()
}

func (c *watcherCore) enqueueBatch(batch Batch) {
	if len(batch) == 0 {
		return
	}
	if !c.tasks.Push(func() { c.processBatch(batch) }) {
		c.logger.WithField("changes", len(batch)).Debug("Dropping notification batch after close")
	}
}

func (c *watcherCore) processBatch(batch Batch) {
	for _, ch := range batch {
		c.applyChange(ch.Name, ch.Value)
	}
}

// applyChange updates exactly one property (and its mirror aliases) and
// dispatches the resulting events. Runs on the dispatch goroutine only.
func (c *watcherCore) applyChange(name string, value interface{}) {
	prop, ok := c.schema.Lookup(name)
	if !ok {
		// Remote property sets are open-ended; new names are not fatal.
		c.logger.WithField("property", name).Debug("Ignoring notification for unknown property")
		return
	}

	v, ok := prop.Kind.Check(value)
	if !ok {
		c.logger.WithFields(logrus.Fields{
			"property": name,
			"want":     prop.Kind.String(),
			"got":      fmt.Sprintf("%T", value),
		}).Warn("Dropping malformed property notification")
		return
	}

	canon := c.schema.Canonical(prop)

	c.mu.RLock()
	old := c.snapshot[canon.Name]
	wasKnown := c.known[canon.Name]
	c.mu.RUnlock()

	if wasKnown && reflect.DeepEqual(old, v) {
		// Redundant notification, cache already current: no events.
		return
	}

	// Semantic transition fires before the cache update, the generic
	// changed event after it.
	if act := canon.Activity; act != nil {
		newActive := v.(bool)
		oldActive, _ := old.(bool)
		switch {
		case newActive && (!wasKnown || !oldActive):
			c.fire(Event{Name: act.Activated, Property: canon.DisplayName(), Value: v, StateChange: true})
		case !newActive && wasKnown && oldActive:
			// The active epoch ended; subscribers may be activated again.
			c.resetActivation(act.Activated)
			c.fire(Event{Name: act.Deactivated, Property: canon.DisplayName(), Value: v, StateChange: true})
		}
	}

	c.mu.Lock()
	for _, alias := range c.schema.MirrorGroup(canon.Name) {
		c.snapshot[alias] = v
		c.known[alias] = true
	}
	c.mu.Unlock()

	c.fire(Event{Name: ChangedEvent, Property: prop.DisplayName(), Value: v, StateChange: true})
}

// fire invokes all handlers registered for the event, in insertion order.
// The handler list is snapshotted so handlers may subscribe or unsubscribe
// reentrantly.
func (c *watcherCore) fire(ev Event) {
	c.submu.Lock()
	m := c.subs[ev.Name]
	var regs []*Registration
	if m != nil {
		regs = make([]*Registration, 0, m.Len())
		for pair := m.Oldest(); pair != nil; pair = pair.Next() {
			regs = append(regs, pair.Value)
		}
	}
	c.submu.Unlock()

	_, isActivation := c.schema.ActivationProperty(ev.Name)
	for _, reg := range regs {
		if isActivation && ev.StateChange {
			if reg.activated {
				// A synthesized replay already delivered this state.
				continue
			}
			reg.activated = true
		}
		c.invoke(reg, ev)
	}
}

// resetActivation clears the delivered-activation flag for every handler of
// the event. Runs on the dispatch goroutine only.
func (c *watcherCore) resetActivation(event string) {
	c.submu.Lock()
	m := c.subs[event]
	var regs []*Registration
	if m != nil {
		for pair := m.Oldest(); pair != nil; pair = pair.Next() {
			regs = append(regs, pair.Value)
		}
	}
	c.submu.Unlock()
	for _, reg := range regs {
		reg.activated = false
	}
}

func (c *watcherCore) invoke(reg *Registration, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithFields(logrus.Fields{
				"event": ev.Name,
				"panic": r,
			}).Error("Event handler panicked")
		}
	}()
	reg.fn(ev)
}

// Subscribe registers a handler for an event and returns its registration.
// Subscribing to an activation event schedules a background replay check:
// if the tracked property is already active, the handler receives exactly
// one synthesized event with StateChange=false. The check never blocks the
// caller and its failure is logged, not raised.
func (c *watcherCore) Subscribe(event string, fn EventFunc) *Registration {
	if fn == nil {
		return nil
	}

	c.submu.Lock()
	c.nextID++
	reg := &Registration{event: event, id: c.nextID, fn: fn}
	m := c.subs[event]
	if m == nil {
		m = orderedmap.New[uint64, *Registration]()
		c.subs[event] = m
	}
	m.Set(reg.id, reg)
	c.submu.Unlock()

	if prop, ok := c.schema.ActivationProperty(event); ok {
		go c.replayProbe(prop, reg)
	}
	return reg
}

// Unsubscribe removes a registration. No-op for nil or already-removed
// registrations.
func (c *watcherCore) Unsubscribe(reg *Registration) {
	if reg == nil {
		return
	}
	c.submu.Lock()
	defer c.submu.Unlock()
	if m := c.subs[reg.event]; m != nil {
		m.Delete(reg.id)
	}
}

func (c *watcherCore) registered(reg *Registration) bool {
	c.submu.Lock()
	defer c.submu.Unlock()
	m := c.subs[reg.event]
	if m == nil {
		return false
	}
	_, ok := m.Get(reg.id)
	return ok
}

// replayProbe fetches the current remote value of an activation property.
// The fetch runs off the dispatch queue for responsiveness; the decision and
// handler invocation are serialized back onto it, which is what makes replay
// delivery exactly-once relative to live notifications.
func (c *watcherCore) replayProbe(prop *Property, reg *Registration) {
	ctx, cancel := context.WithTimeout(context.Background(), replayProbeTimeout)
	defer cancel()

	raw, err := c.proxy.Get(ctx, prop.Name)
	if err != nil {
		c.logger.WithError(NormalizeError(err)).WithField("property", prop.Name).
			Warn("Replay check failed; subscriber will not receive a synthesized event")
		return
	}
	v, ok := prop.Kind.Check(raw)
	if !ok {
		c.logger.WithFields(logrus.Fields{
			"property": prop.Name,
			"want":     prop.Kind.String(),
			"got":      fmt.Sprintf("%T", raw),
		}).Warn("Replay check returned malformed value")
		return
	}

	probed := v.(bool)
	if !c.tasks.Push(func() { c.finishReplay(prop, reg, probed) }) {
		c.logger.WithField("property", prop.Name).Debug("Dropping replay check after close")
	}
}

// finishReplay runs on the dispatch goroutine. The cache is preferred over
// the probed value whenever the property state is already known, since any
// notification processed between probe and decision has updated it.
func (c *watcherCore) finishReplay(prop *Property, reg *Registration, probed bool) {
	if !c.registered(reg) || reg.activated {
		return
	}

	c.mu.RLock()
	known := c.known[prop.Name]
	current, _ := c.snapshot[prop.Name].(bool)
	c.mu.RUnlock()

	active := probed
	if known {
		active = current
	}
	if !active {
		return
	}

	reg.activated = true
	c.invoke(reg, Event{
		Name:        reg.event,
		Property:    prop.DisplayName(),
		Value:       true,
		StateChange: false,
	})
}

// Current returns a copy of the last cached snapshot. It never triggers a
// remote call; before the first notification or refresh all fields hold
// their declared zero values.
func (c *watcherCore) Current() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := make(Snapshot, len(c.snapshot))
	for k, v := range c.snapshot {
		snap[k] = v
	}
	return snap
}

// Refresh fetches the complete property set from the remote object and
// replaces the cache wholesale. The new snapshot is built first and swapped
// on the dispatch queue, so a failed fetch never corrupts the previous
// cache and readers never observe a partial overwrite.
func (c *watcherCore) Refresh(ctx context.Context) (Snapshot, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}

	raw, err := c.proxy.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh properties: %w", NormalizeError(err))
	}

	fresh := make(map[string]interface{}, c.schema.Len())
	known := make(map[string]bool, c.schema.Len())
	for _, name := range c.schema.Names() {
		p, _ := c.schema.Lookup(name)
		fresh[name] = p.Kind.Zero()
	}
	for name, value := range raw {
		prop, ok := c.schema.Lookup(name)
		if !ok {
			c.logger.WithField("property", name).Debug("Ignoring unknown property in refresh")
			continue
		}
		v, ok := prop.Kind.Check(value)
		if !ok {
			c.logger.WithFields(logrus.Fields{
				"property": name,
				"want":     prop.Kind.String(),
				"got":      fmt.Sprintf("%T", value),
			}).Warn("Ignoring malformed property in refresh")
			continue
		}
		canon := c.schema.Canonical(prop)
		for _, alias := range c.schema.MirrorGroup(canon.Name) {
			fresh[alias] = v
			known[alias] = true
		}
	}

	result := make(Snapshot, len(fresh))
	for k, v := range fresh {
		result[k] = v
	}

	swapped := make(chan struct{})
	ok := c.tasks.Push(func() {
		c.mu.Lock()
		c.snapshot = fresh
		c.known = known
		c.mu.Unlock()
		// A refresh that observed the inactive state ends the active epoch
		// even though no deactivation notification was seen; subscribers may
		// be activated again.
		for event, prop := range c.schema.activations {
			if active, _ := fresh[prop.Name].(bool); !active {
				c.resetActivation(event)
			}
		}
		close(swapped)
	})
	if !ok {
		return nil, ErrClosed
	}
	select {
	case <-swapped:
	case <-c.done:
		return nil, ErrClosed
	}
	return result, nil
}

// Get reads a single property from the remote object (one round trip).
func (c *watcherCore) Get(ctx context.Context, name string) (interface{}, error) {
	prop, ok := c.schema.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown property %q", ErrInvalidArgument, name)
	}
	raw, err := c.proxy.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get property %q: %w", name, NormalizeError(err))
	}
	v, ok := prop.Kind.Check(raw)
	if !ok {
		return nil, fmt.Errorf("property %q: expected %s, got %T", name, prop.Kind, raw)
	}
	return v, nil
}

// Set writes a single property on the remote object. The value is checked
// against the declared kind before the round trip.
func (c *watcherCore) Set(ctx context.Context, name string, value interface{}) error {
	prop, ok := c.schema.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: unknown property %q", ErrInvalidArgument, name)
	}
	v, ok := prop.Kind.Check(value)
	if !ok {
		return fmt.Errorf("%w: property %q expects %s, got %T", ErrInvalidArgument, name, prop.Kind, value)
	}
	if err := c.proxy.Set(ctx, name, v); err != nil {
		return fmt.Errorf("failed to set property %q: %w", name, NormalizeError(err))
	}
	return nil
}

// Schema returns the declared property set.
func (c *watcherCore) Schema() *Schema {
	return c.schema
}
