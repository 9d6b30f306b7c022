// Package supervisor owns one Indexer Loop per enabled chain, restarting
// a failed loop with exponential backoff while leaving its siblings
// untouched.
package supervisor

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/0xkanth/agent-registry-indexer/internal/config"
	"github.com/0xkanth/agent-registry-indexer/internal/statscache"
	"github.com/0xkanth/agent-registry-indexer/internal/store"
)

// Runnable is the subset of indexer.Loop the supervisor depends on, kept
// as an interface so tests can stand in a fake loop.
type Runnable interface {
	Run(ctx context.Context) error
}

// chainTask tracks one chain's supervised goroutine.
type chainTask struct {
	chainID uint64
	name    string
	loop    Runnable
	done    chan struct{}
}

// Supervisor runs and restarts one Runnable per configured chain.
type Supervisor struct {
	global config.Global
	store  *store.Store
	stats  *statscache.Cache
	logger *zerolog.Logger

	mu    sync.Mutex
	tasks []*chainTask
}

// New constructs a Supervisor.
func New(logger *zerolog.Logger, global config.Global, st *store.Store, stats *statscache.Cache) *Supervisor {
	return &Supervisor{global: global, store: st, stats: stats, logger: logger}
}

// Start launches one goroutine per chain, each owning loop's restart
// lifecycle. It returns immediately; call Wait to block until every chain
// task has exited (which happens only after ctx is cancelled, or after a
// chain exhausts its retry budget).
func (s *Supervisor) Start(ctx context.Context, chains []config.ChainConfig, loops map[uint64]Runnable) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, chain := range chains {
		loop, ok := loops[chain.ChainID]
		if !ok {
			continue
		}

		task := &chainTask{chainID: chain.ChainID, name: chain.Name, loop: loop, done: make(chan struct{})}
		s.tasks = append(s.tasks, task)

		go s.superviseChain(ctx, chain, task)
	}
}

// superviseChain runs loop.Run in a retry loop with exponential backoff,
// reporting every status transition to the store. The stats cache is
// updated here only on failure; other transitions are not written to it.
func (s *Supervisor) superviseChain(ctx context.Context, chain config.ChainConfig, task *chainTask) {
	defer close(task.done)

	logger := s.logger.With().Uint64("chain_id", chain.ChainID).Str("chain", chain.Name).Logger()
	_ = s.store.SetChainStatus(ctx, chain.ChainID, store.StatusStarting)

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			_ = s.store.SetChainStatus(context.Background(), chain.ChainID, store.StatusStopped)
			return
		default:
		}

		err := task.loop.Run(ctx)
		if err == nil {
			// Clean cancellation: the loop observed ctx.Done() and returned.
			_ = s.store.SetChainStatus(context.Background(), chain.ChainID, store.StatusStopped)
			return
		}

		attempts++
		logger.Error().Err(err).Int("attempt", attempts).Msg("indexer loop failed")
		s.stats.RecordError(chain.ChainID, string(store.StatusFailed), err.Error())
		_ = s.store.SetChainStatus(ctx, chain.ChainID, store.StatusFailed)

		if attempts > s.global.MaxIndexerRetries {
			logger.Error().Int("max_retries", s.global.MaxIndexerRetries).
				Msg("retry budget exhausted, chain indexing stopped")
			_ = s.store.SetChainStatus(ctx, chain.ChainID, store.StatusTerminalFailed)
			return
		}

		delay := backoffDelay(s.global.RetryBaseDelayMS, s.global.RetryMaxDelayMS, attempts)
		_ = s.store.SetChainStatus(ctx, chain.ChainID, store.StatusSyncing)

		select {
		case <-ctx.Done():
			_ = s.store.SetChainStatus(context.Background(), chain.ChainID, store.StatusStopped)
			return
		case <-time.After(delay):
		}
	}
}

// backoffDelay computes min(retryMaxDelayMS, retryBaseDelayMS * 2^(attempts-1)),
// so the first retry (attempts=1) waits exactly retryBaseDelayMS.
func backoffDelay(baseMS, maxMS int, attempts int) time.Duration {
	scaled := float64(baseMS) * math.Pow(2, float64(attempts-1))
	if scaled > float64(maxMS) {
		scaled = float64(maxMS)
	}
	return time.Duration(scaled) * time.Millisecond
}

// Wait blocks until every chain task has exited, or until grace elapses,
// whichever comes first — a hung Indexer Loop iteration must not prevent
// the process from proceeding to shut down its servers. Returns true if
// every task exited cleanly within grace.
func (s *Supervisor) Wait(grace time.Duration) bool {
	s.mu.Lock()
	tasks := append([]*chainTask(nil), s.tasks...)
	s.mu.Unlock()

	deadline := time.After(grace)
	for _, t := range tasks {
		select {
		case <-t.done:
		case <-deadline:
			s.logger.Warn().Int("remaining", len(tasks)).Msg("grace period elapsed before all chain tasks exited")
			return false
		}
	}
	return true
}
