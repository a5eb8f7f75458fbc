package errkind

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorStringIncludesKindOpAndCause(t *testing.T) {
	err := New(Validation, "container.put", errors.New("bad policy"))
	require.Equal(t, "VALIDATION: container.put: bad policy", err.Error())
}

func TestErrorStringOmitsCauseWhenNil(t *testing.T) {
	err := New(NotFound, "objectstore.get", nil)
	require.Equal(t, "NOT_FOUND: objectstore.get", err.Error())
}

func TestNewfFormatsCause(t *testing.T) {
	err := Newf(Quota, "capacity.check", "need %d bytes, have %d", 500, 100)
	require.Equal(t, "QUOTA: capacity.check: need 500 bytes, have 100", err.Error())
}

func TestUnwrapExposesUnderlyingCause(t *testing.T) {
	cause := errors.New("disk full")
	err := New(Internal, "objectstore.put", cause)
	require.ErrorIs(t, err, cause)
}

func TestIsMatchesKindThroughWrapping(t *testing.T) {
	err := New(Access, "session.require_permission", errors.New("denied"))
	wrapped := fmt.Errorf("dispatch failed: %w", err)
	require.True(t, Is(wrapped, Access))
	require.False(t, Is(wrapped, Quota))
}

func TestKindOfDefaultsToInternalForUnclassifiedError(t *testing.T) {
	require.Equal(t, Internal, KindOf(errors.New("plain error")))
	require.Equal(t, Kind(""), KindOf(nil))
	require.Equal(t, Transport, KindOf(New(Transport, "transport.serve", nil)))
}
