// Package statscache holds the per-chain rolling counters the Stats/Health
// Registry exposes (polls/minute, current head, last sync, status), plus a
// bbolt-backed snapshot so a restart has a warm status surface before the
// first poll completes. Postgres remains the durable source of truth for
// the sync cursor; this cache is advisory and fully rebuildable.
package statscache

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const snapshotBucket = "chain_stats"

// pollWindow is how far back PollsPerMin looks when counting recent
// poll timestamps.
const pollWindow = 60 * time.Second

// ChainStats is one chain's live status snapshot.
type ChainStats struct {
	ChainID       uint64    `json:"chain_id"`
	CurrentHead   uint64    `json:"current_head"`
	LastSyncedAt  time.Time `json:"last_synced_at"`
	Status        string    `json:"status"`
	LastError     string    `json:"last_error,omitempty"`
	PollsPerMin   int       `json:"polls_per_minute"`
}

// chainEntry is the live, mutable state behind one ChainStats.
type chainEntry struct {
	mu          sync.Mutex
	stats       ChainStats
	pollTimes   []time.Time // appended and trimmed to pollWindow on each RecordPoll
}

// Cache is the in-process stats registry with an optional bbolt-backed
// snapshot for warm restarts.
type Cache struct {
	mu      sync.RWMutex
	entries map[uint64]*chainEntry
	db      *bbolt.DB
}

// Open creates a Cache, optionally backed by a bbolt file at dbPath. Pass
// an empty dbPath to run purely in-memory (e.g. in tests).
func Open(dbPath string) (*Cache, error) {
	c := &Cache{entries: make(map[uint64]*chainEntry)}

	if dbPath == "" {
		return c, nil
	}

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(snapshotBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}

	c.db = db
	return c, nil
}

// Close closes the underlying bbolt handle, if any.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Cache) entry(chainID uint64) *chainEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[chainID]
	if !ok {
		e = &chainEntry{stats: ChainStats{ChainID: chainID}}
		c.entries[chainID] = e
	}
	return e
}

// RecordPoll records a successful poll iteration: the new head, whether
// the poll happened right now (for the polls/minute window), and the
// chain's current status.
func (c *Cache) RecordPoll(chainID uint64, head uint64, status string) {
	e := c.entry(chainID)
	now := time.Now()

	e.mu.Lock()
	e.stats.CurrentHead = head
	e.stats.Status = status
	e.stats.LastSyncedAt = now
	e.pollTimes = append(e.pollTimes, now)
	e.pollTimes = trimBefore(e.pollTimes, now.Add(-pollWindow))
	e.stats.PollsPerMin = len(e.pollTimes)
	e.mu.Unlock()

	c.snapshot(chainID, e)
}

// RecordError records a status/error transition without touching the head
// or poll-rate counters.
func (c *Cache) RecordError(chainID uint64, status string, errMsg string) {
	e := c.entry(chainID)

	e.mu.Lock()
	e.stats.Status = status
	e.stats.LastError = errMsg
	e.mu.Unlock()

	c.snapshot(chainID, e)
}

// Get returns a chain's current stats snapshot.
func (c *Cache) Get(chainID uint64) ChainStats {
	e := c.entry(chainID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// All returns every chain's current stats snapshot.
func (c *Cache) All() []ChainStats {
	c.mu.RLock()
	ids := make([]uint64, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	out := make([]ChainStats, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.Get(id))
	}
	return out
}

// LoadSnapshot restores a chain's last-known stats from the bbolt
// snapshot, used on boot to populate the status surface before the first
// poll of this run completes. Returns false if no snapshot exists.
func (c *Cache) LoadSnapshot(chainID uint64) (ChainStats, bool) {
	if c.db == nil {
		return ChainStats{}, false
	}

	var (
		stats ChainStats
		found bool
	)

	_ = c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(snapshotBucket))
		data := b.Get(chainKey(chainID))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &stats); err != nil {
			return nil
		}
		found = true
		return nil
	})

	if found {
		e := c.entry(chainID)
		e.mu.Lock()
		e.stats = stats
		e.mu.Unlock()
	}

	return stats, found
}

func (c *Cache) snapshot(chainID uint64, e *chainEntry) {
	if c.db == nil {
		return
	}

	e.mu.Lock()
	data, err := json.Marshal(e.stats)
	e.mu.Unlock()
	if err != nil {
		return
	}

	_ = c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(snapshotBucket))
		return b.Put(chainKey(chainID), data)
	})
}

func chainKey(chainID uint64) []byte {
	return []byte("chain-" + strconv.FormatUint(chainID, 10))
}

func trimBefore(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return times
	}
	return append(times[:0], times[i:]...)
}
