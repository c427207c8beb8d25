package object

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Change is a single (property, new value) pair from a notification batch.
type Change struct {
	Name  string
	Value interface{}
}

// Batch is a set of changes delivered together from the remote side.
// Entries are applied in slice order; slice order is dispatch order, not
// necessarily causal order.
type Batch []Change

// WatchHandle represents an active notification-stream subscription.
// Cancel MUST be idempotent and safe to call if the stream was already
// torn down.
type WatchHandle interface {
	Cancel()
}

// Proxy is the remote-object collaborator: a local stand-in for an object
// living in another process, exposing get/set/watch operations over its
// named properties.
type Proxy interface {
	Get(ctx context.Context, name string) (interface{}, error)
	GetAll(ctx context.Context) (map[string]interface{}, error)
	Set(ctx context.Context, name string, value interface{}) error
	Watch(onBatch func(Batch)) (WatchHandle, error)
}

// Caller invokes plain methods on the remote object. Proxies that support
// method forwarding implement Caller in addition to Proxy.
type Caller interface {
	Call(ctx context.Context, method string, args ...interface{}) error
}

// RemoteErrorKind represents the specific kind of remote-call failure
type RemoteErrorKind string

const (
	Unavailable     RemoteErrorKind = "remote_unavailable"
	InvalidArgument RemoteErrorKind = "invalid_argument"
	NotSupported    RemoteErrorKind = "not_supported"
)

// RemoteError represents any failure of an underlying proxy call
type RemoteError struct {
	Kind RemoteErrorKind
	Msg  string
}

// Error implements the error interface
func (e *RemoteError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is allows errors.Is to compare RemoteError values by Kind
func (e *RemoteError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*RemoteError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors for remote-call failures
var (
	ErrUnavailable     = &RemoteError{Kind: Unavailable}
	ErrInvalidArgument = &RemoteError{Kind: InvalidArgument}
	ErrNotSupported    = &RemoteError{Kind: NotSupported}
)

// ErrClosed is returned by operations on a watcher that was already closed.
var ErrClosed = errors.New("watcher closed")

// NormalizeError maps known transport error strings to structured RemoteError
// kinds. It ensures consistent handling even if the underlying bus library
// changes messages slightly. Returns wrapped errors to preserve original
// context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "no reply"),
		containsIgnoreCase(msg, "disconnected"),
		containsIgnoreCase(msg, "service unknown"),
		containsIgnoreCase(msg, "unknown object"),
		containsIgnoreCase(msg, "does not exist"):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	case containsIgnoreCase(msg, "invalid arg"):
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	case containsIgnoreCase(msg, "not supported"),
		containsIgnoreCase(msg, "not implemented"):
		return fmt.Errorf("%w: %v", ErrNotSupported, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// IsRemoteKind reports whether err is a RemoteError with the given kind
func IsRemoteKind(err error, kind RemoteErrorKind) bool {
	var rerr *RemoteError
	if errors.As(err, &rerr) {
		return rerr.Kind == kind
	}
	return false
}
