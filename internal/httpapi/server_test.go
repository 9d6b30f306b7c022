package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/0xkanth/agent-registry-indexer/internal/broadcast"
	"github.com/0xkanth/agent-registry-indexer/internal/providerpool"
	"github.com/0xkanth/agent-registry-indexer/internal/statscache"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	stats, err := statscache.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { stats.Close() })

	logger := zerolog.Nop()
	return New(&logger, nil, stats, map[uint64]*broadcast.Bus{}, map[uint64]*providerpool.Pool{})
}

func TestParseChainIDAcceptsValidUint(t *testing.T) {
	chainID, ok := parseChainID("11155111")
	require.True(t, ok)
	require.Equal(t, uint64(11155111), chainID)
}

func TestParseChainIDRejectsGarbage(t *testing.T) {
	_, ok := parseChainID("not-a-number")
	require.False(t, ok)
}

func TestHandleHealthzReturnsOK(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestHandleStatsReturnsRecordedChains(t *testing.T) {
	s := newTestServer(t)
	s.stats.RecordPoll(137, 1000, "syncing")

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"current_head":1000`)
}

func TestHandleChainStatsRejectsInvalidChainID(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/stats/not-a-chain", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleProviderHealthRejectsUnknownChainID(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/providers/137", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}
