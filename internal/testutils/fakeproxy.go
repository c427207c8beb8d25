package testutils

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/srg/propwatch/internal/object"
)

// FakeProxy is a scripted in-memory implementation of object.Proxy and
// object.Caller for watcher and adapter tests. Notifications are delivered
// synchronously from Notify, so tests control interleaving exactly.
type FakeProxy struct {
	mu       sync.Mutex
	props    map[string]interface{}
	onBatch  func(object.Batch)
	calls    []string
	failGet  error
	failAll  error
	failSet  error
	failCall error

	getCalls    atomic.Int32
	cancelCount atomic.Int32
}

// NewFakeProxy creates a proxy seeded with the given remote property store.
func NewFakeProxy(props map[string]interface{}) *FakeProxy {
	store := make(map[string]interface{}, len(props))
	for k, v := range props {
		store[k] = v
	}
	return &FakeProxy{props: store}
}

// FailGet makes subsequent Get calls return err (nil restores normal
// behavior). FailGetAll, FailSet and FailCall work the same way.
func (p *FakeProxy) FailGet(err error)    { p.mu.Lock(); p.failGet = err; p.mu.Unlock() }
func (p *FakeProxy) FailGetAll(err error) { p.mu.Lock(); p.failAll = err; p.mu.Unlock() }
func (p *FakeProxy) FailSet(err error)    { p.mu.Lock(); p.failSet = err; p.mu.Unlock() }
func (p *FakeProxy) FailCall(err error)   { p.mu.Lock(); p.failCall = err; p.mu.Unlock() }

func (p *FakeProxy) Get(ctx context.Context, name string) (interface{}, error) {
	p.getCalls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failGet != nil {
		return nil, p.failGet
	}
	v, ok := p.props[name]
	if !ok {
		return nil, fmt.Errorf("%w: no such property %q", object.ErrInvalidArgument, name)
	}
	return v, nil
}

func (p *FakeProxy) GetAll(ctx context.Context) (map[string]interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAll != nil {
		return nil, p.failAll
	}
	all := make(map[string]interface{}, len(p.props))
	for k, v := range p.props {
		all[k] = v
	}
	return all, nil
}

func (p *FakeProxy) Set(ctx context.Context, name string, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSet != nil {
		return p.failSet
	}
	p.props[name] = value
	return nil
}

// Call records the invoked method name.
func (p *FakeProxy) Call(ctx context.Context, method string, args ...interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failCall != nil {
		return p.failCall
	}
	p.calls = append(p.calls, method)
	return nil
}

// Calls returns the methods invoked so far.
func (p *FakeProxy) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *FakeProxy) Watch(onBatch func(object.Batch)) (object.WatchHandle, error) {
	p.mu.Lock()
	p.onBatch = onBatch
	p.mu.Unlock()
	return &fakeWatchHandle{proxy: p}, nil
}

// SetProp updates the remote store without delivering a notification.
func (p *FakeProxy) SetProp(name string, value interface{}) {
	p.mu.Lock()
	p.props[name] = value
	p.mu.Unlock()
}

// Notify updates the remote store and delivers one notification batch to
// the watcher, synchronously.
func (p *FakeProxy) Notify(changes ...object.Change) {
	p.mu.Lock()
	for _, ch := range changes {
		p.props[ch.Name] = ch.Value
	}
	onBatch := p.onBatch
	p.mu.Unlock()

	if onBatch != nil {
		onBatch(object.Batch(changes))
	}
}

// GetCalls returns how many single-property reads were issued.
func (p *FakeProxy) GetCalls() int {
	return int(p.getCalls.Load())
}

// CancelCount returns how many times the watch handle was canceled.
func (p *FakeProxy) CancelCount() int {
	return int(p.cancelCount.Load())
}

type fakeWatchHandle struct {
	proxy *FakeProxy
	once  sync.Once
}

func (h *fakeWatchHandle) Cancel() {
	h.once.Do(func() {
		h.proxy.cancelCount.Add(1)
		h.proxy.mu.Lock()
		h.proxy.onBatch = nil
		h.proxy.mu.Unlock()
	})
}
