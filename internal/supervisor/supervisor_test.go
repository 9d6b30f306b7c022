package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDelayDoublesPerAttempt(t *testing.T) {
	require.Equal(t, 1000*time.Millisecond, backoffDelay(1000, 60000, 1))
	require.Equal(t, 2000*time.Millisecond, backoffDelay(1000, 60000, 2))
	require.Equal(t, 4000*time.Millisecond, backoffDelay(1000, 60000, 3))
}

func TestBackoffDelayCapsAtMax(t *testing.T) {
	require.Equal(t, 60000*time.Millisecond, backoffDelay(1000, 60000, 10))
}
