package connection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffGrowsExponentiallyThenCaps(t *testing.T) {
	b := DefaultBackoff()

	require.Equal(t, 3*time.Second, b.Next())
	require.Equal(t, 6*time.Second, b.Next())
	require.Equal(t, 12*time.Second, b.Next())
	require.Equal(t, 24*time.Second, b.Next())
	require.Equal(t, 30*time.Second, b.Next()) // capped at Max
	require.Equal(t, 30*time.Second, b.Next())
}

func TestBackoffResetsAttemptCounter(t *testing.T) {
	b := DefaultBackoff()
	b.Next()
	b.Next()
	b.Reset()
	require.Equal(t, 3*time.Second, b.Next())
}

func TestBackoffNeverBelowMin(t *testing.T) {
	b := &Backoff{Base: 100 * time.Millisecond, Max: 30 * time.Second, Min: 1 * time.Second}
	require.Equal(t, 1*time.Second, b.Next())
}
