package main

import (
	"errors"

	"github.com/srg/propwatch/internal/object"
)

// FormatUserError rewrites well-known failures into actionable messages and
// leaves everything else untouched.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, object.ErrUnavailable):
		return "device or bus unavailable - check that bluetoothd is running and the device exists: " + err.Error()
	case errors.Is(err, object.ErrNotSupported):
		return "operation not supported by the remote device: " + err.Error()
	case errors.Is(err, object.ErrInvalidArgument):
		return "invalid argument: " + err.Error()
	default:
		return err.Error()
	}
}
