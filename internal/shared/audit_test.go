package shared

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOccurredAtDefaultsZeroTime(t *testing.T) {
	got := occurredAt(time.Time{})
	require.False(t, got.IsZero())
	require.WithinDuration(t, time.Now().UTC(), got, time.Minute)
}

func TestOccurredAtKeepsExplicitTime(t *testing.T) {
	at := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	require.Equal(t, at, occurredAt(at))
}
