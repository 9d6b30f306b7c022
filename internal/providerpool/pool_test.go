package providerpool

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/0xkanth/agent-registry-indexer/internal/config"
)

// fakeClient is a non-nil, never-dialed client used only so providerState's
// client field is non-nil; the pure selection logic under test never
// issues an RPC call through it.
var fakeClient = ethclient.NewClient(nil)

func newTestPool(states ...*providerState) *Pool {
	logger := zerolog.Nop()
	return &Pool{chainID: 1, providers: states, logger: &logger}
}

func TestPickPrefersHigherPriorityTier(t *testing.T) {
	low := &providerState{cfg: config.RPCProvider{URL: "low", Priority: 1, Weight: 1}, healthy: true, client: fakeClient}
	high := &providerState{cfg: config.RPCProvider{URL: "high", Priority: 0, Weight: 1}, healthy: true, client: fakeClient}
	p := newTestPool(low, high)

	chosen, err := p.pick()
	require.NoError(t, err)
	require.Equal(t, "high", chosen.cfg.URL)
}

func TestPickSkipsUnhealthyAndCooldown(t *testing.T) {
	unhealthy := &providerState{cfg: config.RPCProvider{URL: "down", Priority: 0}, healthy: false, client: fakeClient}
	cooling := &providerState{
		cfg: config.RPCProvider{URL: "cooling", Priority: 0}, healthy: true, client: fakeClient,
		cooldownUntil: time.Now().Add(time.Minute),
	}
	ok := &providerState{cfg: config.RPCProvider{URL: "ok", Priority: 0}, healthy: true, client: fakeClient}
	p := newTestPool(unhealthy, cooling, ok)

	chosen, err := p.pick()
	require.NoError(t, err)
	require.Equal(t, "ok", chosen.cfg.URL)
}

func TestPickReturnsErrWhenAllUnavailable(t *testing.T) {
	a := &providerState{cfg: config.RPCProvider{URL: "a"}, healthy: false, client: fakeClient}
	p := newTestPool(a)

	_, err := p.pick()
	require.ErrorIs(t, err, ErrAllProvidersUnavailable)
}

func TestMarkFailureTripsUnhealthyAfterThreshold(t *testing.T) {
	st := &providerState{cfg: config.RPCProvider{URL: "a", CooldownSeconds: 5}, healthy: true}
	p := newTestPool(st)

	for i := 0; i < maxConsecutiveFails-1; i++ {
		p.markFailure(st)
		require.True(t, st.healthy)
	}
	p.markFailure(st)
	require.False(t, st.healthy)
	require.False(t, st.cooldownUntil.IsZero())
}

func TestMarkSuccessResetsFailuresAndUpdatesEMA(t *testing.T) {
	st := &providerState{cfg: config.RPCProvider{URL: "a"}, healthy: false, consecutiveFails: 3}
	p := newTestPool(st)

	p.markSuccess(st, 100*time.Millisecond)
	require.True(t, st.healthy)
	require.Equal(t, 0, st.consecutiveFails)
	require.Equal(t, 100*time.Millisecond, st.avgLatency)

	p.markSuccess(st, 200*time.Millisecond)
	require.Equal(t, (100*time.Millisecond*7+200*time.Millisecond*3)/10, st.avgLatency)
}

func TestPickStaysOnProviderUntilWeightExhausted(t *testing.T) {
	a := &providerState{cfg: config.RPCProvider{URL: "a", Priority: 0, Weight: 2}, healthy: true, client: fakeClient, weightRemaining: 2}
	b := &providerState{cfg: config.RPCProvider{URL: "b", Priority: 0, Weight: 1}, healthy: true, client: fakeClient, weightRemaining: 1}
	p := newTestPool(a, b)
	p.current = a

	chosen, err := p.pick()
	require.NoError(t, err)
	require.Equal(t, "a", chosen.cfg.URL)

	p.markSuccess(a, time.Millisecond)
	require.Equal(t, 1, a.weightRemaining)

	chosen, err = p.pick()
	require.NoError(t, err)
	require.Equal(t, "a", chosen.cfg.URL, "weight not yet exhausted, pick should stay on a")
}

func TestPickRotatesToNextEndpointOnceWeightExhausted(t *testing.T) {
	a := &providerState{cfg: config.RPCProvider{URL: "a", Priority: 0, Weight: 1}, healthy: true, client: fakeClient, weightRemaining: 1}
	b := &providerState{cfg: config.RPCProvider{URL: "b", Priority: 0, Weight: 1}, healthy: true, client: fakeClient, weightRemaining: 1}
	p := newTestPool(a, b)
	p.current = a

	chosen, err := p.pick()
	require.NoError(t, err)
	require.Equal(t, "a", chosen.cfg.URL)

	p.markSuccess(a, time.Millisecond)
	require.Equal(t, 0, a.weightRemaining, "a's weight should be exhausted after one success")

	chosen, err = p.pick()
	require.NoError(t, err)
	require.Equal(t, "b", chosen.cfg.URL, "pick should rotate to b once a's weight is exhausted")
	require.Equal(t, 1, b.weightRemaining, "rotating onto b should reset its weight")
}

func TestPickDoesNotRotateAcrossPriorityTiers(t *testing.T) {
	high := &providerState{cfg: config.RPCProvider{URL: "high", Priority: 0, Weight: 1}, healthy: true, client: fakeClient, weightRemaining: 1}
	low := &providerState{cfg: config.RPCProvider{URL: "low", Priority: 1, Weight: 5}, healthy: true, client: fakeClient, weightRemaining: 5}
	p := newTestPool(high, low)
	p.current = high

	p.markSuccess(high, time.Millisecond)
	require.Equal(t, 0, high.weightRemaining)

	chosen, err := p.pick()
	require.NoError(t, err)
	require.Equal(t, "high", chosen.cfg.URL, "the higher-priority tier's only member should be re-armed, not skipped for the lower tier")
}

func TestReviveCooldownsRestoresProbeCandidate(t *testing.T) {
	st := &providerState{
		cfg: config.RPCProvider{URL: "a"}, healthy: false,
		consecutiveFails: maxConsecutiveFails, cooldownUntil: time.Now().Add(-time.Second),
	}
	p := newTestPool(st)

	p.reviveCooldowns()
	require.True(t, st.healthy)
}
