package object

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteError_Error(t *testing.T) {
	assert.Equal(t, "remote_unavailable", ErrUnavailable.Error())

	e := &RemoteError{Kind: NotSupported, Msg: "no Pair method"}
	assert.Equal(t, "not_supported: no Pair method", e.Error())
}

func TestRemoteError_IsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("pairing: %w", &RemoteError{Kind: NotSupported, Msg: "nope"})
	assert.True(t, errors.Is(err, ErrNotSupported))
	assert.False(t, errors.Is(err, ErrUnavailable))
}

func TestNormalizeError(t *testing.T) {
	cases := []struct {
		msg  string
		want *RemoteError
	}{
		{"org.freedesktop.DBus.Error.NoReply: Did not receive a reply", ErrUnavailable},
		{"The name org.bluez was not provided by any .service files (Service Unknown)", ErrUnavailable},
		{"Unknown object '/org/bluez/hci0/dev_AA'", ErrUnavailable},
		{"connection is Disconnected", ErrUnavailable},
		{"Invalid arguments in method call", ErrInvalidArgument},
		{"Operation Not Supported", ErrNotSupported},
		{"method not implemented", ErrNotSupported},
	}
	for _, tc := range cases {
		err := NormalizeError(errors.New(tc.msg))
		assert.True(t, errors.Is(err, tc.want), "%q should normalize to %v, got %v", tc.msg, tc.want, err)
	}
}

func TestNormalizeError_Passthrough(t *testing.T) {
	assert.NoError(t, NormalizeError(nil))

	plain := errors.New("something odd happened")
	assert.Same(t, plain, NormalizeError(plain))
}

func TestNormalizeError_PreservesCause(t *testing.T) {
	cause := errors.New("no reply within 5s")
	err := NormalizeError(cause)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no reply within 5s")
}

func TestIsRemoteKind(t *testing.T) {
	err := fmt.Errorf("refresh: %w", ErrUnavailable)
	assert.True(t, IsRemoteKind(err, Unavailable))
	assert.False(t, IsRemoteKind(err, NotSupported))
	assert.False(t, IsRemoteKind(errors.New("plain"), Unavailable))
}
