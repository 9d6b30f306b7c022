// Package httpapi exposes a thin, read-only HTTP/WebSocket surface over
// the Store and Broadcast Bus. Routing depth, pagination, and auth are
// explicitly out of scope for this layer — it exists only to give an
// external consumer a way to read current state and subscribe to new
// events, not to be a complete query API.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/0xkanth/agent-registry-indexer/internal/broadcast"
	"github.com/0xkanth/agent-registry-indexer/internal/providerpool"
	"github.com/0xkanth/agent-registry-indexer/internal/statscache"
	"github.com/0xkanth/agent-registry-indexer/internal/store"
)

// Server wires the Store, Stats cache, and per-chain broadcast buses
// behind a small chi router.
type Server struct {
	store     *store.Store
	stats     *statscache.Cache
	logger    *zerolog.Logger
	buses     map[uint64]*broadcast.Bus
	providers map[uint64]*providerpool.Pool
}

// New builds the HTTP handler. buses maps chain_id to that chain's
// broadcast bus, used by the WebSocket route. providers maps chain_id to
// that chain's provider pool, used by the provider health route; it may be
// nil in tests that don't exercise that route.
func New(logger *zerolog.Logger, st *store.Store, stats *statscache.Cache, buses map[uint64]*broadcast.Bus, providers map[uint64]*providerpool.Pool) *Server {
	return &Server{store: st, stats: stats, logger: logger, buses: buses, providers: providers}
}

// Router builds the chi mux for this server.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealthz)
	r.Get("/chains", s.handleEnabledChains)
	r.Get("/stats", s.handleStats)
	r.Get("/stats/{chainID}", s.handleChainStats)
	r.Get("/events/{chainID}", s.handleEventCounts)
	r.Get("/providers/{chainID}", s.handleProviderHealth)
	r.Get("/ws/{chainID}", s.handleWebSocket)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleEnabledChains surfaces the durable chain_sync_state rows for every
// chain not terminally failed or stopped, as opposed to /stats which
// reflects the in-memory stats cache populated since this process started.
func (s *Server) handleEnabledChains(w http.ResponseWriter, r *http.Request) {
	chains, err := s.store.GetEnabledChains(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load enabled chains")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, chains)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.stats.All())
}

func (s *Server) handleChainStats(w http.ResponseWriter, r *http.Request) {
	chainID, ok := parseChainID(chi.URLParam(r, "chainID"))
	if !ok {
		http.Error(w, "invalid chain id", http.StatusBadRequest)
		return
	}
	writeJSON(w, s.stats.Get(chainID))
}

func (s *Server) handleEventCounts(w http.ResponseWriter, r *http.Request) {
	chainID, ok := parseChainID(chi.URLParam(r, "chainID"))
	if !ok {
		http.Error(w, "invalid chain id", http.StatusBadRequest)
		return
	}

	counts, err := s.store.CountEventsByType(r.Context(), chainID)
	if err != nil {
		s.logger.Error().Err(err).Uint64("chain_id", chainID).Msg("failed to count events")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, counts)
}

func (s *Server) handleProviderHealth(w http.ResponseWriter, r *http.Request) {
	chainID, ok := parseChainID(chi.URLParam(r, "chainID"))
	if !ok {
		http.Error(w, "invalid chain id", http.StatusBadRequest)
		return
	}

	pool, ok := s.providers[chainID]
	if !ok {
		http.Error(w, "unknown chain id", http.StatusNotFound)
		return
	}

	writeJSON(w, pool.Snapshot())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func parseChainID(raw string) (uint64, bool) {
	chainID, err := strconv.ParseUint(raw, 10, 64)
	return chainID, err == nil
}
