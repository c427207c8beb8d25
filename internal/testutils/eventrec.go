package testutils

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
	"github.com/srg/propwatch/internal/object"
)

// EventRecorder collects dispatched events for assertions. Its Record
// method is an object.EventFunc, so it can be subscribed directly.
type EventRecorder struct {
	mu     sync.Mutex
	events []object.Event
}

func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

// Record appends the event. Safe for concurrent use.
func (r *EventRecorder) Record(ev object.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *EventRecorder) Events() []object.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]object.Event(nil), r.events...)
}

// Count returns the number of recorded events.
func (r *EventRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Names returns recorded event names in order.
func (r *EventRecorder) Names() []string {
	events := r.Events()
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.Name
	}
	return names
}

// WaitFor polls until at least n events were recorded or the timeout
// expires. Returns true when the count was reached.
func (r *EventRecorder) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if r.Count() >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// Transcript renders recorded events one per line:
//
//	connected Connected=true state_change=true
func (r *EventRecorder) Transcript() string {
	var b strings.Builder
	for _, ev := range r.Events() {
		fmt.Fprintf(&b, "%s %s=%v state_change=%v\n", ev.Name, ev.Property, ev.Value, ev.StateChange)
	}
	return b.String()
}

// TestingT matches the methods needed from testing.T.
type TestingT interface {
	Helper()
	Errorf(format string, args ...interface{})
}

// AssertTranscript diffs the recorded transcript against expected and fails
// the test with a unified diff on mismatch. Leading/trailing whitespace per
// line is ignored so expectations can be indented in test source.
func (r *EventRecorder) AssertTranscript(t TestingT, expected string) {
	t.Helper()
	want := normalizeTranscript(expected)
	got := normalizeTranscript(r.Transcript())
	if want == got {
		return
	}
	edits := myers.ComputeEdits(span.URIFromPath("transcript"), want, got)
	diff := gotextdiff.ToUnified("expected", "actual", want, edits)
	t.Errorf("event transcript mismatch:\n%s", fmt.Sprint(diff))
}

func normalizeTranscript(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n") + "\n"
}
