package object_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/propwatch/internal/object"
	"github.com/srg/propwatch/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

// settle is long enough for the dispatch goroutine to have processed
// anything already enqueued when asserting that nothing happened.
const settle = 30 * time.Millisecond

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testSchema() *object.Schema {
	return object.MustSchema(
		object.Property{Name: "Connected", Kind: object.KindBool,
			Activity: &object.Activity{Activated: "connected", Deactivated: "disconnected"}},
		object.Property{Name: "ServicesResolved", Kind: object.KindBool, Display: "Services Resolved",
			Activity: &object.Activity{Activated: "resolved", Deactivated: "unresolved"}},
		object.Property{Name: "Name", Kind: object.KindString},
		object.Property{Name: "RSSI", Kind: object.KindInt16},
		object.Property{Name: "UUIDs", Kind: object.KindStrings},
		object.Property{Name: "Paired", Kind: object.KindBool},
		object.Property{Name: "Bonded", Kind: object.KindBool, MirrorOf: "Paired"},
		// Touched only by drain, so tests can assert on every other field
		object.Property{Name: "Heartbeat", Kind: object.KindUint32},
	)
}

var drainSeq atomic.Uint32

func newTestWatcher(t *testing.T, props map[string]interface{}) (*object.Watcher, *testutils.FakeProxy) {
	t.Helper()
	proxy := testutils.NewFakeProxy(props)
	w, err := object.NewWatcher(proxy, testSchema(), nil, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w, proxy
}

// drain waits until every task enqueued before the call was processed, by
// pushing a marker change and waiting for its generic event.
func drain(t *testing.T, w *object.Watcher, proxy *testutils.FakeProxy) {
	t.Helper()
	rec := testutils.NewEventRecorder()
	reg := w.Subscribe(object.ChangedEvent, rec.Record)
	defer w.Unsubscribe(reg)

	proxy.Notify(object.Change{Name: "Heartbeat", Value: drainSeq.Add(1)})
	require.True(t, rec.WaitFor(1, waitTimeout), "dispatch queue did not drain")
}

func TestWatcher_SnapshotDefaults(t *testing.T) {
	w, _ := newTestWatcher(t, nil)

	snap := w.Current()
	assert.Equal(t, false, snap["Connected"])
	assert.Equal(t, "", snap["Name"])
	assert.Equal(t, int16(0), snap["RSSI"])
	assert.Equal(t, []string(nil), snap["UUIDs"])

	_, present := snap["Icon"]
	assert.False(t, present, "undeclared properties must not appear in the snapshot")
}

func TestWatcher_SnapshotTracksLatestValue(t *testing.T) {
	w, proxy := newTestWatcher(t, nil)

	proxy.Notify(
		object.Change{Name: "Name", Value: "Speaker"},
		object.Change{Name: "RSSI", Value: int16(-60)},
	)
	proxy.Notify(object.Change{Name: "RSSI", Value: int16(-48)})
	proxy.Notify(
		object.Change{Name: "Icon", Value: "audio-card"}, // unknown, ignored
		object.Change{Name: "Name", Value: "Kitchen speaker"},
	)
	drain(t, w, proxy)

	snap := w.Current()
	assert.Equal(t, "Kitchen speaker", snap["Name"])
	assert.Equal(t, int16(-48), snap["RSSI"])
	_, present := snap["Icon"]
	assert.False(t, present, "unknown property leaked into the snapshot")
}

func TestWatcher_MirroredPairStaysEqual(t *testing.T) {
	w, proxy := newTestWatcher(t, nil)

	proxy.Notify(object.Change{Name: "Bonded", Value: true})
	drain(t, w, proxy)
	snap := w.Current()
	assert.Equal(t, true, snap["Paired"], "legacy update must reach the replacement name")
	assert.Equal(t, true, snap["Bonded"])

	proxy.Notify(object.Change{Name: "Paired", Value: false})
	drain(t, w, proxy)
	snap = w.Current()
	assert.Equal(t, false, snap["Paired"])
	assert.Equal(t, false, snap["Bonded"], "replacement update must reach the legacy name")
}

func TestWatcher_ActivationTransitions(t *testing.T) {
	w, proxy := newTestWatcher(t, map[string]interface{}{"Connected": false})

	activated := testutils.NewEventRecorder()
	deactivated := testutils.NewEventRecorder()
	w.Subscribe("connected", activated.Record)
	w.Subscribe("disconnected", deactivated.Record)

	// Establish Inactive state first
	proxy.Notify(object.Change{Name: "Connected", Value: false})
	drain(t, w, proxy)
	assert.Zero(t, activated.Count())
	assert.Zero(t, deactivated.Count())

	proxy.Notify(object.Change{Name: "Connected", Value: true})
	require.True(t, activated.WaitFor(1, waitTimeout))
	assert.Equal(t, 1, activated.Count(), "activated must fire exactly once")
	assert.Zero(t, deactivated.Count())
	assert.True(t, activated.Events()[0].StateChange, "live transition must be flagged as genuine")

	proxy.Notify(object.Change{Name: "Connected", Value: false})
	require.True(t, deactivated.WaitFor(1, waitTimeout))
	assert.Equal(t, 1, activated.Count())
	assert.Equal(t, 1, deactivated.Count())
}

func TestWatcher_RedundantNotificationFiresNothing(t *testing.T) {
	w, proxy := newTestWatcher(t, nil)

	events := testutils.NewEventRecorder()
	w.Subscribe("connected", events.Record)
	w.Subscribe(object.ChangedEvent, events.Record)

	proxy.Notify(object.Change{Name: "Connected", Value: true})
	require.True(t, events.WaitFor(2, waitTimeout)) // connected + changed

	// Same value again with the cache already current: no events at all
	proxy.Notify(object.Change{Name: "Connected", Value: true})
	drain(t, w, proxy)

	names := events.Names()
	require.Len(t, names, 3) // the drain marker accounts for the third
	assert.Equal(t, []string{"connected", object.ChangedEvent, object.ChangedEvent}, names)
}

func TestWatcher_MalformedValueSkipsField(t *testing.T) {
	w, proxy := newTestWatcher(t, nil)

	proxy.Notify(
		object.Change{Name: "Connected", Value: "yes"}, // wrong type
		object.Change{Name: "Name", Value: "Speaker"},  // rest of batch continues
	)
	drain(t, w, proxy)

	snap := w.Current()
	assert.Equal(t, false, snap["Connected"], "malformed value must not update the field")
	assert.Equal(t, "Speaker", snap["Name"])
}

func TestWatcher_ReplaySynthesizedOnce(t *testing.T) {
	w, proxy := newTestWatcher(t, map[string]interface{}{"Connected": true})

	rec := testutils.NewEventRecorder()
	w.Subscribe("connected", rec.Record)

	require.True(t, rec.WaitFor(1, waitTimeout), "expected a synthesized replay event")
	ev := rec.Events()[0]
	assert.False(t, ev.StateChange, "replay must be distinguishable from a genuine transition")
	assert.Equal(t, true, ev.Value)

	// A redundant remote notification of the same state must not double-fire
	proxy.Notify(object.Change{Name: "Connected", Value: true})
	drain(t, w, proxy)
	assert.Equal(t, 1, rec.Count())

	// A full cycle reactivates the subscriber
	proxy.Notify(object.Change{Name: "Connected", Value: false})
	proxy.Notify(object.Change{Name: "Connected", Value: true})
	require.True(t, rec.WaitFor(2, waitTimeout))
	assert.True(t, rec.Events()[1].StateChange)
}

func TestWatcher_NoReplayWhenInactive(t *testing.T) {
	w, proxy := newTestWatcher(t, map[string]interface{}{"Connected": false})

	rec := testutils.NewEventRecorder()
	w.Subscribe("connected", rec.Record)

	require.Eventually(t, func() bool { return proxy.GetCalls() >= 1 },
		waitTimeout, 2*time.Millisecond, "replay check never queried the remote")
	drain(t, w, proxy)
	time.Sleep(settle)
	assert.Zero(t, rec.Count(), "no synthesized event while the condition is false")
}

func TestWatcher_ReplayFailureIsSwallowed(t *testing.T) {
	w, proxy := newTestWatcher(t, map[string]interface{}{"Connected": true})
	proxy.FailGet(object.ErrUnavailable)

	rec := testutils.NewEventRecorder()
	w.Subscribe("connected", rec.Record)

	require.Eventually(t, func() bool { return proxy.GetCalls() >= 1 },
		waitTimeout, 2*time.Millisecond)
	time.Sleep(settle)
	assert.Zero(t, rec.Count(), "failed replay check must not reach the subscriber")
}

func TestWatcher_RefreshReplacesCacheWholesale(t *testing.T) {
	w, _ := newTestWatcher(t, map[string]interface{}{
		"Connected": true,
		"Name":      "Speaker",
		"Paired":    true,
		"Icon":      "audio-card", // unknown, ignored
		"RSSI":      "strong",     // malformed, ignored
	})

	snap, err := w.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, true, snap["Connected"])
	assert.Equal(t, "Speaker", snap["Name"])
	assert.Equal(t, true, snap["Bonded"], "mirror must be filled from the canonical value")
	assert.Equal(t, int16(0), snap["RSSI"], "malformed value falls back to the zero value")
	_, present := snap["Icon"]
	assert.False(t, present)

	assert.Equal(t, snap, w.Current())
}

func TestWatcher_RefreshRearmsActivation(t *testing.T) {
	w, proxy := newTestWatcher(t, nil)

	rec := testutils.NewEventRecorder()
	w.Subscribe("connected", rec.Record)

	proxy.Notify(object.Change{Name: "Connected", Value: true})
	require.True(t, rec.WaitFor(1, waitTimeout))

	// The remote dropped the link while notifications were lost; only a
	// refresh observes the deactivated state.
	proxy.SetProp("Connected", false)
	_, err := w.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, false, w.Current()["Connected"])

	proxy.Notify(object.Change{Name: "Connected", Value: true})
	require.True(t, rec.WaitFor(2, waitTimeout),
		"activation after a refresh-observed deactivation must fire")
	assert.Equal(t, 2, rec.Count())
	assert.True(t, rec.Events()[1].StateChange)
}

func TestWatcher_RefreshFailureKeepsCache(t *testing.T) {
	w, proxy := newTestWatcher(t, nil)

	proxy.Notify(object.Change{Name: "Name", Value: "Speaker"})
	drain(t, w, proxy)
	before := w.Current()

	proxy.FailGetAll(object.ErrUnavailable)
	_, err := w.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, object.ErrUnavailable))

	assert.Equal(t, before, w.Current(), "failed refresh must not corrupt the cache")
}

func TestWatcher_CloseIdempotent(t *testing.T) {
	proxy := testutils.NewFakeProxy(nil)
	w, err := object.NewWatcher(proxy, testSchema(), nil, testLogger())
	require.NoError(t, err)

	// Closing without any handler subscriptions is fine
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Equal(t, 1, proxy.CancelCount(), "stream subscription must be torn down exactly once")

	_, err = w.Refresh(context.Background())
	assert.ErrorIs(t, err, object.ErrClosed)
}

func TestWatcher_Unsubscribe(t *testing.T) {
	w, proxy := newTestWatcher(t, nil)

	kept := testutils.NewEventRecorder()
	removed := testutils.NewEventRecorder()
	w.Subscribe(object.ChangedEvent, kept.Record)
	reg := w.Subscribe(object.ChangedEvent, removed.Record)

	w.Unsubscribe(reg)
	w.Unsubscribe(reg) // second removal is a no-op
	w.Unsubscribe(nil)

	proxy.Notify(object.Change{Name: "Name", Value: "Speaker"})
	require.True(t, kept.WaitFor(1, waitTimeout))
	assert.Zero(t, removed.Count())
}

func TestWatcher_GenericChangeCarriesDisplayName(t *testing.T) {
	w, proxy := newTestWatcher(t, nil)

	rec := testutils.NewEventRecorder()
	w.Subscribe(object.ChangedEvent, rec.Record)

	proxy.Notify(
		object.Change{Name: "ServicesResolved", Value: true},
		object.Change{Name: "Name", Value: "Speaker"},
	)
	require.True(t, rec.WaitFor(2, waitTimeout))

	events := rec.Events()
	assert.Equal(t, "Services Resolved", events[0].Property)
	assert.Equal(t, "Name", events[1].Property)
}

func TestWatcher_HandlerPanicIsContained(t *testing.T) {
	w, proxy := newTestWatcher(t, nil)

	rec := testutils.NewEventRecorder()
	w.Subscribe(object.ChangedEvent, func(object.Event) { panic("boom") })
	w.Subscribe(object.ChangedEvent, rec.Record)

	proxy.Notify(object.Change{Name: "Name", Value: "Speaker"})
	require.True(t, rec.WaitFor(1, waitTimeout), "a panicking handler must not stop dispatch")
}

func TestWatcher_SetValidatesBeforeRoundTrip(t *testing.T) {
	w, proxy := newTestWatcher(t, nil)
	ctx := context.Background()

	err := w.Set(ctx, "Icon", "audio-card")
	assert.ErrorIs(t, err, object.ErrInvalidArgument)

	err = w.Set(ctx, "Connected", "yes")
	assert.ErrorIs(t, err, object.ErrInvalidArgument)

	require.NoError(t, w.Set(ctx, "Name", "Speaker"))
	v, err := w.Get(ctx, "Name")
	require.NoError(t, err)
	assert.Equal(t, "Speaker", v)

	proxy.FailSet(object.ErrNotSupported)
	err = w.Set(ctx, "Name", "Speaker")
	assert.ErrorIs(t, err, object.ErrNotSupported)
}

func TestWatcher_RequiresProxyAndSchema(t *testing.T) {
	_, err := object.NewWatcher(nil, testSchema(), nil, testLogger())
	assert.Error(t, err)

	_, err = object.NewWatcher(testutils.NewFakeProxy(nil), nil, nil, testLogger())
	assert.Error(t, err)
}
