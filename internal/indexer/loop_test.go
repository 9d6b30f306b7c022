package indexer

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/0xkanth/agent-registry-indexer/internal/config"
)

func newTestLoop() *Loop {
	logger := zerolog.Nop()
	chain := config.ChainConfig{ChainID: 11155111, Name: "sepolia", PollIntervalMS: 2000, BatchSize: 20}
	return &Loop{chain: chain, logger: logger}
}

func TestAdaptiveSleepIdleUsesConfiguredInterval(t *testing.T) {
	l := newTestLoop()
	require.Equal(t, 2*time.Second, l.adaptiveSleep(0, 2*time.Second))
}

func TestAdaptiveSleepModerateLagHalvesInterval(t *testing.T) {
	l := newTestLoop()
	require.Equal(t, 1*time.Second, l.adaptiveSleep(50, 2*time.Second))
}

func TestAdaptiveSleepModerateLagFloorsAt100ms(t *testing.T) {
	l := newTestLoop()
	require.Equal(t, 100*time.Millisecond, l.adaptiveSleep(50, 150*time.Millisecond))
}

func TestAdaptiveSleepHeavyLagSkipsSleep(t *testing.T) {
	l := newTestLoop()
	require.Equal(t, time.Duration(0), l.adaptiveSleep(500, 2*time.Second))
}

func TestAdaptiveSleepSmallLagUsesConfiguredInterval(t *testing.T) {
	l := newTestLoop()
	require.Equal(t, 2*time.Second, l.adaptiveSleep(5, 2*time.Second))
}

// windowFor mirrors iterate's window calculation so it can be tested
// independently of a live RPC fetch.
func windowFor(lag uint64, batchSize uint32) uint64 {
	if lag <= 10 {
		return 1
	}
	window := lag
	if maxBatch := uint64(batchSize) * 5; maxBatch < window {
		window = maxBatch
	}
	if window > maxWindow {
		window = maxWindow
	}
	return window
}

func TestWindowSmallLagIsOne(t *testing.T) {
	require.Equal(t, uint64(1), windowFor(10, 20))
	require.Equal(t, uint64(1), windowFor(0, 20))
}

func TestWindowBoundedByBatchSizeTimesFive(t *testing.T) {
	require.Equal(t, uint64(50), windowFor(80, 10))
}

func TestWindowBoundedByMaxWindow(t *testing.T) {
	require.Equal(t, uint64(100), windowFor(500, 1000))
}

func TestWindowUsesRawLagWhenSmallerThanBounds(t *testing.T) {
	require.Equal(t, uint64(15), windowFor(15, 100))
}
