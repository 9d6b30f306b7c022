package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrCursorRegressionWrapping(t *testing.T) {
	wrapped := fmt.Errorf("%w: chain %d current=%d target=%d", ErrCursorRegression, 137, 500, 400)
	require.True(t, errors.Is(wrapped, ErrCursorRegression))
	require.Contains(t, wrapped.Error(), "current=500")
}

func TestChainStatusValues(t *testing.T) {
	require.Equal(t, ChainStatus("starting"), StatusStarting)
	require.Equal(t, ChainStatus("syncing"), StatusSyncing)
	require.Equal(t, ChainStatus("active"), StatusActive)
	require.Equal(t, ChainStatus("catching_up"), StatusCatchingUp)
	require.Equal(t, ChainStatus("stalled"), StatusStalled)
	require.Equal(t, ChainStatus("failed"), StatusFailed)
	require.Equal(t, ChainStatus("terminal_failed"), StatusTerminalFailed)
	require.Equal(t, ChainStatus("stopped"), StatusStopped)
}
