package statscache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordPollUpdatesStats(t *testing.T) {
	c, err := Open("")
	require.NoError(t, err)
	defer c.Close()

	c.RecordPoll(137, 1000, "syncing")
	stats := c.Get(137)

	require.Equal(t, uint64(1000), stats.CurrentHead)
	require.Equal(t, "syncing", stats.Status)
	require.Equal(t, 1, stats.PollsPerMin)
	require.WithinDuration(t, time.Now(), stats.LastSyncedAt, time.Second)
}

func TestRecordErrorSetsStatusAndMessage(t *testing.T) {
	c, err := Open("")
	require.NoError(t, err)
	defer c.Close()

	c.RecordPoll(137, 500, "syncing")
	c.RecordError(137, "degraded", "rpc timeout")

	stats := c.Get(137)
	require.Equal(t, "degraded", stats.Status)
	require.Equal(t, "rpc timeout", stats.LastError)
	require.Equal(t, uint64(500), stats.CurrentHead) // untouched by RecordError
}

func TestTrimBeforeDropsOldTimestamps(t *testing.T) {
	now := time.Now()
	times := []time.Time{now.Add(-2 * time.Minute), now.Add(-90 * time.Second), now.Add(-10 * time.Second)}

	trimmed := trimBefore(times, now.Add(-pollWindow))
	require.Len(t, trimmed, 1)
	require.Equal(t, times[2], trimmed[0])
}

func TestAllReturnsEveryChain(t *testing.T) {
	c, err := Open("")
	require.NoError(t, err)
	defer c.Close()

	c.RecordPoll(1, 10, "syncing")
	c.RecordPoll(2, 20, "healthy")

	all := c.All()
	require.Len(t, all, 2)
}

func TestSnapshotPersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "stats.db")

	c1, err := Open(dbPath)
	require.NoError(t, err)
	c1.RecordPoll(7, 4242, "healthy")
	require.NoError(t, c1.Close())

	c2, err := Open(dbPath)
	require.NoError(t, err)
	defer c2.Close()

	stats, found := c2.LoadSnapshot(7)
	require.True(t, found)
	require.Equal(t, uint64(4242), stats.CurrentHead)
	require.Equal(t, "healthy", stats.Status)
}
