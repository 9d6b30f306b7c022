// Package providerpool manages weighted, health-aware rotation across a
// chain's configured RPC providers.
package providerpool

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/0xkanth/agent-registry-indexer/internal/config"
)

const maxConsecutiveFails = 3

// ErrAllProvidersUnavailable is returned when every provider in a chain's
// pool is either unhealthy or still in cooldown.
var ErrAllProvidersUnavailable = errors.New("providerpool: all providers unavailable")

// providerState tracks the live health of one configured RPC endpoint.
type providerState struct {
	cfg              config.RPCProvider
	client           *ethclient.Client
	healthy          bool
	consecutiveFails int
	cooldownUntil    time.Time
	lastLatency      time.Duration
	avgLatency       time.Duration
	weightRemaining  int
}

// configuredWeight returns the provider's configured weight, defaulting to
// 1 so an unweighted (weight: 0) entry still rotates rather than being
// picked forever or never.
func configuredWeight(cfg config.RPCProvider) int {
	if cfg.Weight <= 0 {
		return 1
	}
	return cfg.Weight
}

// Snapshot is a read-only view of one provider's status, for the stats
// surface.
type Snapshot struct {
	URL              string    `json:"url"`
	Priority         int       `json:"priority"`
	Weight           int       `json:"weight"`
	WeightRemaining  int       `json:"weight_remaining"`
	Healthy          bool      `json:"healthy"`
	ConsecutiveFails int       `json:"consecutive_fails"`
	CooldownUntil    time.Time `json:"cooldown_until,omitempty"`
	AvgLatency       int64     `json:"avg_latency_ms"`
}

// Pool rotates requests across a chain's RPC providers, preferring the
// highest-priority healthy tier and weighting within it.
type Pool struct {
	mu        sync.Mutex
	chainID   uint64
	providers []*providerState
	current   *providerState
	logger    *zerolog.Logger
}

// New dials every configured provider for chainID and returns a Pool. A
// provider that fails to dial is recorded unhealthy rather than aborting
// startup, so the chain can still come up on whatever endpoints respond.
func New(logger *zerolog.Logger, chainID uint64, providerCfgs []config.RPCProvider) (*Pool, error) {
	if len(providerCfgs) == 0 {
		return nil, fmt.Errorf("providerpool: chain %d has no configured providers", chainID)
	}

	states := make([]*providerState, 0, len(providerCfgs))
	for _, pc := range providerCfgs {
		st := &providerState{cfg: pc, healthy: true, weightRemaining: configuredWeight(pc)}

		client, err := ethclient.Dial(pc.URL)
		if err != nil {
			logger.Warn().Err(err).Str("url", pc.URL).Uint64("chain_id", chainID).
				Msg("failed to dial rpc provider, marking unhealthy")
			st.healthy = false
		} else if actual, err := client.ChainID(context.Background()); err != nil {
			logger.Warn().Err(err).Str("url", pc.URL).Msg("failed to verify chain id, marking unhealthy")
			st.healthy = false
			client.Close()
		} else if actual.Cmp(new(big.Int).SetUint64(chainID)) != 0 {
			logger.Warn().Str("url", pc.URL).Uint64("expected", chainID).Str("actual", actual.String()).
				Msg("chain id mismatch, marking unhealthy")
			st.healthy = false
			client.Close()
		} else {
			st.client = client
		}

		states = append(states, st)
	}

	return &Pool{chainID: chainID, providers: states, logger: logger}, nil
}

// Close closes every dialed client.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, st := range p.providers {
		if st.client != nil {
			st.client.Close()
		}
	}
}

// pick selects the current provider: the lowest-priority-number tier that
// has at least one healthy, non-cooldown member, weighted round-robin
// within that tier. A provider keeps receiving traffic until its
// weight_remaining is exhausted, at which point pick rotates to the next
// healthy endpoint in the tier and resets that endpoint's weight.
func (p *Pool) pick() (*providerState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()

	available := func(st *providerState) bool {
		return st.healthy && st.client != nil && !now.Before(st.cooldownUntil)
	}

	bestPriority := 0
	found := false
	for _, st := range p.providers {
		if !available(st) {
			continue
		}
		if !found || st.cfg.Priority < bestPriority {
			bestPriority = st.cfg.Priority
			found = true
		}
	}
	if !found {
		return nil, ErrAllProvidersUnavailable
	}

	inTier := func(st *providerState) bool {
		return available(st) && st.cfg.Priority == bestPriority
	}

	if p.current != nil && inTier(p.current) && p.current.weightRemaining > 0 {
		return p.current, nil
	}

	next := p.nextInTier(inTier)
	next.weightRemaining = configuredWeight(next.cfg)
	p.current = next
	return next, nil
}

// nextInTier returns the next provider matching inTier, cycling through
// p.providers starting just after the current pick (or from the front if
// there is no current pick yet).
func (p *Pool) nextInTier(inTier func(*providerState) bool) *providerState {
	startIdx := 0
	if p.current != nil {
		for i, st := range p.providers {
			if st == p.current {
				startIdx = i + 1
				break
			}
		}
	}

	n := len(p.providers)
	for i := 0; i < n; i++ {
		st := p.providers[(startIdx+i)%n]
		if inTier(st) {
			return st
		}
	}
	return nil
}

// markFailure marks a provider unhealthy after maxConsecutiveFails, and
// applies its configured cooldown.
func (p *Pool) markFailure(st *providerState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st.consecutiveFails++
	if st.consecutiveFails >= maxConsecutiveFails {
		st.healthy = false
		cooldown := time.Duration(st.cfg.CooldownSeconds) * time.Second
		if cooldown <= 0 {
			cooldown = 30 * time.Second
		}
		st.cooldownUntil = time.Now().Add(cooldown)
		p.logger.Warn().Str("url", st.cfg.URL).Uint64("chain_id", p.chainID).
			Dur("cooldown", cooldown).Msg("provider marked unhealthy, entering cooldown")
	}
}

// markSuccess resets failure bookkeeping and folds the observed latency
// into the provider's exponential moving average.
func (p *Pool) markSuccess(st *providerState, latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	wasUnhealthy := !st.healthy
	st.healthy = true
	st.consecutiveFails = 0
	st.cooldownUntil = time.Time{}
	st.lastLatency = latency
	if st.avgLatency == 0 {
		st.avgLatency = latency
	} else {
		st.avgLatency = (st.avgLatency*7 + latency*3) / 10
	}
	if st.weightRemaining > 0 {
		st.weightRemaining--
	}

	if wasUnhealthy {
		p.logger.Info().Str("url", st.cfg.URL).Uint64("chain_id", p.chainID).
			Msg("provider recovered, probing succeeded")
	}
}

// reviveCooldowns flips any provider whose cooldown has elapsed back into
// the healthy rotation as a probe candidate.
func (p *Pool) reviveCooldowns() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for _, st := range p.providers {
		if !st.healthy && !st.cooldownUntil.IsZero() && now.After(st.cooldownUntil) {
			st.healthy = true
			st.consecutiveFails = maxConsecutiveFails - 1
		}
	}
}

// Client runs fn against the current best provider's ethclient, retrying
// across the remaining providers on failure. It returns
// ErrAllProvidersUnavailable once every provider has been tried and failed.
func (p *Pool) Client(ctx context.Context, fn func(*ethclient.Client) error) error {
	p.reviveCooldowns()

	var lastErr error
	attempts := 0
	// A failing provider stays the pick until markFailure trips it after
	// maxConsecutiveFails, so each provider may take that many attempts.
	for attempts < len(p.providers)*maxConsecutiveFails {
		st, err := p.pick()
		if err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %v)", ErrAllProvidersUnavailable, lastErr)
			}
			return err
		}

		start := time.Now()
		err = fn(st.client)
		latency := time.Since(start)

		if err == nil {
			p.markSuccess(st, latency)
			return nil
		}

		lastErr = err
		p.markFailure(st)
		attempts++

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	return fmt.Errorf("%w: last error: %v", ErrAllProvidersUnavailable, lastErr)
}

// Snapshot returns a point-in-time view of every provider's health, sorted
// by configured priority, for the stats surface.
func (p *Pool) Snapshot() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Snapshot, len(p.providers))
	for i, st := range p.providers {
		out[i] = Snapshot{
			URL:              st.cfg.URL,
			Priority:         st.cfg.Priority,
			Weight:           st.cfg.Weight,
			WeightRemaining:  st.weightRemaining,
			Healthy:          st.healthy,
			ConsecutiveFails: st.consecutiveFails,
			CooldownUntil:    st.cooldownUntil,
			AvgLatency:       st.avgLatency.Milliseconds(),
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}
