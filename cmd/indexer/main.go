// Main indexer service.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/0xkanth/agent-registry-indexer/internal/broadcast"
	"github.com/0xkanth/agent-registry-indexer/internal/config"
	"github.com/0xkanth/agent-registry-indexer/internal/httpapi"
	"github.com/0xkanth/agent-registry-indexer/internal/indexer"
	"github.com/0xkanth/agent-registry-indexer/internal/logging"
	"github.com/0xkanth/agent-registry-indexer/internal/migrate"
	"github.com/0xkanth/agent-registry-indexer/internal/providerpool"
	"github.com/0xkanth/agent-registry-indexer/internal/statscache"
	"github.com/0xkanth/agent-registry-indexer/internal/store"
	"github.com/0xkanth/agent-registry-indexer/internal/supervisor"
)

const (
	serviceName   = "agent-registry-indexer"
	shutdownGrace = 10 * time.Second

	// errorCountDecayInterval matches the "decay errors_last_hour roughly
	// once per wall hour" design, rather than modeling a true sliding window.
	errorCountDecayInterval = time.Hour
)

func main() {
	logger := logging.New(serviceName)
	logger.Info().Msg("starting agent registry indexer")

	ko, err := config.LoadProcess(logger, "config.toml")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config.toml")
	}
	logging.SetLevel(logger, ko.String("log.level"))

	chainsPath := ko.String("chains.config_path")
	if chainsPath == "" {
		chainsPath = "config/chains.json"
	}
	chainsFile, err := config.LoadChains(chainsPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load chains config")
	}

	enabled := chainsFile.EnabledChains()
	if len(enabled) == 0 {
		logger.Fatal().Msg("no enabled chains in chains config")
	}
	logger.Info().Int("chain_count", len(enabled)).Msg("loaded chain configuration")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	databaseURL := ko.String("database.url")
	if err := migrate.Apply(logger, databaseURL); err != nil {
		logger.Fatal().Err(err).Msg("failed to apply migrations")
	}

	st, err := store.Open(ctx, logger, databaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	statsPath := ko.String("statscache.path")
	stats, err := statscache.Open(statsPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open stats cache")
	}
	defer stats.Close()

	var mirror broadcast.Mirror
	if natsURL := ko.String("nats.url"); natsURL != "" {
		natsMirror, err := broadcast.NewNATSMirror(logger, natsURL)
		if err != nil {
			logger.Error().Err(err).Msg("failed to connect nats mirror, continuing without it")
		} else {
			defer natsMirror.Close()
			mirror = natsMirror
		}
	}

	buses := make(map[uint64]*broadcast.Bus, len(enabled))
	pools := make(map[uint64]*providerpool.Pool, len(enabled))
	loops := make(map[uint64]supervisor.Runnable, len(enabled))

	for _, chain := range enabled {
		chainLogger := logger.With().Uint64("chain_id", chain.ChainID).Str("chain", chain.Name).Logger()

		pool, err := providerpool.New(&chainLogger, chain.ChainID, chain.RPCProviders)
		if err != nil {
			logger.Fatal().Err(err).Uint64("chain_id", chain.ChainID).Msg("failed to build provider pool")
		}
		defer pool.Close()
		pools[chain.ChainID] = pool

		bus := broadcast.New(&chainLogger, chain.ChainID, mirror)
		buses[chain.ChainID] = bus

		// Warm the stats surface from the previous run's snapshot.
		stats.LoadSnapshot(chain.ChainID)

		loops[chain.ChainID] = indexer.New(logger, chain, pool, st, bus, stats)
	}

	super := supervisor.New(logger, chainsFile.Global, st, stats)
	super.Start(ctx, enabled, loops)

	go runErrorCountDecay(ctx, logger, st)

	metricsAddr := ko.String("metrics.address")
	if metricsAddr == "" {
		metricsAddr = ":9090"
	}
	metricsServer := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
	go func() {
		logger.Info().Str("address", metricsAddr).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	apiAddr := ko.String("http.address")
	if apiAddr == "" {
		apiAddr = ":8080"
	}
	api := httpapi.New(logger, st, stats, buses, pools)
	apiServer := &http.Server{Addr: apiAddr, Handler: api.Router()}
	go func() {
		logger.Info().Str("address", apiAddr).Msg("starting http api server")
		if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http api server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	cancel()
	if !super.Wait(shutdownGrace) {
		logger.Warn().Msg("proceeding with shutdown despite unfinished chain tasks")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http api server shutdown error")
	}

	logger.Info().Msg("shutdown complete")
}

// runErrorCountDecay periodically halves every chain's errors_last_hour
// counter until ctx is cancelled.
func runErrorCountDecay(ctx context.Context, logger *zerolog.Logger, st *store.Store) {
	ticker := time.NewTicker(errorCountDecayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := st.DecayErrorCounts(ctx); err != nil {
				logger.Error().Err(err).Msg("failed to decay error counts")
			}
		}
	}
}
