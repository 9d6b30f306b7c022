// Package store persists decoded registry events and per-chain sync state
// to Postgres.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Event is one decoded registry log, ready to be persisted.
type Event struct {
	ChainID         uint64
	BlockNumber     uint64
	BlockHash       string
	BlockTimestamp  time.Time
	TransactionHash string
	LogIndex        uint32
	ContractAddress string
	EventType       string
	EventSignature  string
	EventData       []byte // json
}

// ChainStatus mirrors chain_sync_state.status.
type ChainStatus string

const (
	StatusStarting    ChainStatus = "starting"
	StatusSyncing     ChainStatus = "syncing"
	StatusActive      ChainStatus = "active"
	StatusCatchingUp  ChainStatus = "catching_up"
	StatusStalled     ChainStatus = "stalled"
	StatusFailed      ChainStatus = "failed"
	StatusTerminalFailed ChainStatus = "terminal_failed"
	StatusStopped     ChainStatus = "stopped"
)

// ErrCursorRegression is returned when a batch would move a chain's cursor
// backwards. The cursor must be monotonically non-decreasing.
var ErrCursorRegression = errors.New("store: cursor regression rejected")

// Store is the Postgres-backed event and sync-state persistence layer.
type Store struct {
	pool   *pgxpool.Pool
	logger *zerolog.Logger
}

// Open connects to Postgres with a pool of at most 10 and at least 2
// connections, and verifies connectivity.
func Open(ctx context.Context, logger *zerolog.Logger, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// GetLastSyncedBlock returns the durable cursor for a chain, or (0, false)
// if the chain has never been synced. A row written only by SetChainStatus
// or IncrementErrorCount has no last_poll_at and counts as never synced.
func (s *Store) GetLastSyncedBlock(ctx context.Context, chainID uint64) (uint64, bool, error) {
	var block int64
	err := s.pool.QueryRow(ctx,
		`SELECT last_synced_block FROM chain_sync_state WHERE chain_id = $1 AND last_poll_at IS NOT NULL`,
		chainID,
	).Scan(&block)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read cursor for chain %d: %w", chainID, err)
	}

	return uint64(block), true, nil
}

// ChainSyncState is a durable snapshot of one chain's row in
// chain_sync_state, as opposed to its static config.ChainConfig entry.
type ChainSyncState struct {
	ChainID            uint64
	LastSyncedBlock    uint64
	Status             ChainStatus
	ErrorsLastHour     int64
	LastError          string
	TotalEventsIndexed int64
	LastPollAt         time.Time
	UpdatedAt          time.Time
}

// terminalStatuses excludes chains get_enabled_chains should not hand back
// to a caller deciding what to (re)index.
var terminalStatuses = []string{string(StatusTerminalFailed), string(StatusStopped)}

// GetEnabledChains returns the durable sync state for every chain that
// hasn't been terminally failed or explicitly stopped, ordered by chain_id.
// This reads live operational state from Postgres and is distinct from a
// chains config file's static enabled flag.
func (s *Store) GetEnabledChains(ctx context.Context) ([]ChainSyncState, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chain_id, last_synced_block, status, errors_last_hour,
		       coalesce(last_error, ''), total_events_indexed,
		       last_poll_at, updated_at
		FROM chain_sync_state
		WHERE status != ALL($1)
		ORDER BY chain_id
	`, terminalStatuses)
	if err != nil {
		return nil, fmt.Errorf("failed to query enabled chains: %w", err)
	}
	defer rows.Close()

	var out []ChainSyncState
	for rows.Next() {
		var (
			cs         ChainSyncState
			chainID    int64
			block      int64
			status     string
			lastPollAt *time.Time
		)
		if err := rows.Scan(&chainID, &block, &status, &cs.ErrorsLastHour,
			&cs.LastError, &cs.TotalEventsIndexed, &lastPollAt, &cs.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chain sync state row: %w", err)
		}
		cs.ChainID = uint64(chainID)
		cs.LastSyncedBlock = uint64(block)
		cs.Status = ChainStatus(status)
		if lastPollAt != nil {
			cs.LastPollAt = *lastPollAt
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// StoreEventsBatch persists a batch of events and advances the chain's
// cursor in a single transaction. events may be empty (a no-op poll still
// advances the cursor to targetBlock). The cursor never moves backwards;
// a targetBlock below the current cursor is rejected with
// ErrCursorRegression and nothing is written. The returned slice holds only
// the events actually newly inserted, in the same relative order as events,
// excluding any the ON CONFLICT clause silently skipped as duplicates —
// callers must not publish anything StoreEventsBatch didn't return.
func (s *Store) StoreEventsBatch(ctx context.Context, chainID uint64, events []Event, targetBlock uint64) ([]Event, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var current int64
	err = tx.QueryRow(ctx,
		`SELECT last_synced_block FROM chain_sync_state WHERE chain_id = $1 FOR UPDATE`,
		chainID,
	).Scan(&current)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to lock cursor row for chain %d: %w", chainID, err)
	}

	if err == nil && targetBlock < uint64(current) {
		return nil, fmt.Errorf("%w: chain %d current=%d target=%d", ErrCursorRegression, chainID, current, targetBlock)
	}

	inserted := make([]Event, 0, len(events))
	for _, ev := range events {
		tag, err := tx.Exec(ctx, `
			INSERT INTO events (
				chain_id, block_number, block_hash, block_timestamp,
				transaction_hash, log_index, contract_address,
				event_type, event_signature, event_data
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (chain_id, transaction_hash, log_index) DO NOTHING
		`,
			ev.ChainID, ev.BlockNumber, ev.BlockHash, ev.BlockTimestamp,
			ev.TransactionHash, ev.LogIndex, ev.ContractAddress,
			ev.EventType, ev.EventSignature, ev.EventData,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert event %s:%d: %w", ev.TransactionHash, ev.LogIndex, err)
		}
		if tag.RowsAffected() > 0 {
			inserted = append(inserted, ev)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO chain_sync_state (chain_id, last_synced_block, status, total_events_indexed, last_poll_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (chain_id) DO UPDATE
		SET last_synced_block = $2, status = $3,
		    total_events_indexed = chain_sync_state.total_events_indexed + $4,
		    last_poll_at = now(), updated_at = now()
	`, chainID, targetBlock, StatusActive, len(inserted))
	if err != nil {
		return nil, fmt.Errorf("failed to advance cursor for chain %d: %w", chainID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit batch for chain %d: %w", chainID, err)
	}

	return inserted, nil
}

// SetChainStatus idempotently updates a chain's status string.
func (s *Store) SetChainStatus(ctx context.Context, chainID uint64, status ChainStatus) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chain_sync_state (chain_id, status, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (chain_id) DO UPDATE SET status = $2, updated_at = now()
	`, chainID, status)
	if err != nil {
		return fmt.Errorf("failed to set status for chain %d: %w", chainID, err)
	}
	return nil
}

// IncrementErrorCount bumps errors_last_hour and records the error message.
func (s *Store) IncrementErrorCount(ctx context.Context, chainID uint64, lastErr string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chain_sync_state (chain_id, errors_last_hour, last_error, updated_at)
		VALUES ($1, 1, $2, now())
		ON CONFLICT (chain_id) DO UPDATE
		SET errors_last_hour = chain_sync_state.errors_last_hour + 1,
		    last_error = $2,
		    updated_at = now()
	`, chainID, lastErr)
	if err != nil {
		return fmt.Errorf("failed to increment error count for chain %d: %w", chainID, err)
	}
	return nil
}

// DecayErrorCounts halves every chain's errors_last_hour counter. Intended
// to be called roughly once per wall hour by a background ticker, per the
// "treat errors_last_hour as a decayed counter, not a sliding window" design
// decision.
func (s *Store) DecayErrorCounts(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `UPDATE chain_sync_state SET errors_last_hour = errors_last_hour / 2`)
	if err != nil {
		return fmt.Errorf("failed to decay error counts: %w", err)
	}
	return nil
}

// CountEventsByType returns the number of stored events per event_type for
// a chain, used by the stats surface.
func (s *Store) CountEventsByType(ctx context.Context, chainID uint64) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_type, count(*) FROM events WHERE chain_id = $1 GROUP BY event_type
	`, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to count events for chain %d: %w", chainID, err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var eventType string
		var count int64
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan event count row: %w", err)
		}
		counts[eventType] = count
	}
	return counts, rows.Err()
}
