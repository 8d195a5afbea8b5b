package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSetGetRoundTrip(t *testing.T) {
	s := New()
	s.Set("k", NewRelative([]byte("v1"), 0))
	s.Set("k", NewRelative([]byte("v2"), 0))

	e, ok := s.Get("k")
	require.True(t, ok)
	require.Equal(t, "v2", string(e.Value))
}

func TestGetMissing(t *testing.T) {
	s := New()
	_, ok := s.Get("nope")
	require.False(t, ok)
}

func TestRelativeExpiry(t *testing.T) {
	s := New()
	s.Set("k", NewRelative([]byte("v"), 50*time.Millisecond))

	e, ok := s.Get("k")
	require.True(t, ok)
	require.False(t, e.IsExpired(time.Now()))
	require.True(t, e.IsExpired(time.Now().Add(100*time.Millisecond)))
}

func TestAbsoluteExpiry(t *testing.T) {
	now := time.Now()
	e := NewAbsolute([]byte("v"), now.Add(10*time.Second))
	require.False(t, e.IsExpired(now))
	require.True(t, e.IsExpired(now.Add(11*time.Second)))
}

func TestNoExpiryNeverExpires(t *testing.T) {
	e := NewRelative([]byte("v"), 0)
	require.False(t, e.HasExpiry())
	require.False(t, e.IsExpired(time.Now().Add(24*time.Hour)))
}
