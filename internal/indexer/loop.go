// Package indexer runs one chain's adaptive block-polling loop: fetch the
// head, pull logs over a lag-sized window, decode, persist, broadcast, and
// adapt its pace to how far behind it is.
package indexer

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/0xkanth/agent-registry-indexer/internal/broadcast"
	"github.com/0xkanth/agent-registry-indexer/internal/config"
	"github.com/0xkanth/agent-registry-indexer/internal/decoder"
	"github.com/0xkanth/agent-registry-indexer/internal/providerpool"
	"github.com/0xkanth/agent-registry-indexer/internal/statscache"
	"github.com/0xkanth/agent-registry-indexer/internal/store"
)

const (
	// maxWindow bounds how many blocks a single iteration will fetch, even
	// when far behind the chain head.
	maxWindow = 100

	// rpcTimeout bounds every individual RPC call issued by an iteration.
	rpcTimeout = 10 * time.Second
)

var (
	headGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "indexer_chain_head",
		Help: "Latest block head observed per chain.",
	}, []string{"chain"})

	cursorGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "indexer_cursor",
		Help: "Current durable sync cursor per chain.",
	}, []string{"chain"})

	iterationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "indexer_iteration_errors_total",
		Help: "Indexer loop iterations that returned an error, by chain.",
	}, []string{"chain"})

	eventsDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "indexer_events_decoded_total",
		Help: "Events successfully decoded and stored, by chain and event type.",
	}, []string{"chain", "event_type"})
)

// Loop runs the adaptive polling discipline for a single chain.
type Loop struct {
	chain  config.ChainConfig
	pool   *providerpool.Pool
	store  *store.Store
	bus    *broadcast.Bus
	stats  *statscache.Cache
	logger zerolog.Logger

	cursor   uint64
	resolved bool
}

// New constructs a Loop. The cursor is resolved lazily on the first Run
// call via resolveCursor.
func New(logger *zerolog.Logger, chain config.ChainConfig, pool *providerpool.Pool, st *store.Store, bus *broadcast.Bus, stats *statscache.Cache) *Loop {
	scoped := logger.With().Uint64("chain_id", chain.ChainID).Str("chain", chain.Name).Logger()
	return &Loop{chain: chain, pool: pool, store: st, bus: bus, stats: stats, logger: scoped}
}

// resolveCursor picks up the durable cursor when one exists, offset by one
// block for crash-recovery overlap; otherwise the configured starting_block
// is used, resolving "latest" against the head at that moment.
func (l *Loop) resolveCursor(ctx context.Context) error {
	last, ok, err := l.store.GetLastSyncedBlock(ctx, l.chain.ChainID)
	if err != nil {
		return fmt.Errorf("failed to resolve durable cursor: %w", err)
	}

	if ok {
		if last > 0 {
			l.cursor = last - 1
		} else {
			l.cursor = 0
		}
		return nil
	}

	if l.chain.StartingBlock.Latest {
		var head uint64
		err := l.pool.Client(ctx, func(c *ethclient.Client) error {
			callCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
			defer cancel()
			h, err := c.BlockNumber(callCtx)
			head = h
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to resolve latest head for starting cursor: %w", err)
		}
		l.cursor = head
		return nil
	}

	l.cursor = l.chain.StartingBlock.Block
	return nil
}

// Run executes the polling loop until ctx is cancelled. It returns nil only
// on a clean cancellation; any other return is an error the Supervisor
// should treat as a crashed iteration and restart with backoff.
func (l *Loop) Run(ctx context.Context) error {
	if !l.resolved {
		if err := l.resolveCursor(ctx); err != nil {
			return err
		}
		l.resolved = true
		l.logger.Info().Uint64("cursor", l.cursor).Msg("indexer loop starting")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		sleepFor, err := l.iterate(ctx)
		if err != nil {
			iterationErrors.WithLabelValues(l.chain.Name).Inc()
			l.stats.RecordError(l.chain.ChainID, string(store.StatusFailed), err.Error())
			_ = l.store.IncrementErrorCount(ctx, l.chain.ChainID, err.Error())
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleepFor):
		}
	}
}

// iterate runs one full fetch/decode/store/broadcast pass and returns how
// long to sleep before the next pass.
func (l *Loop) iterate(ctx context.Context) (time.Duration, error) {
	pollInterval := time.Duration(l.chain.PollIntervalMS) * time.Millisecond

	var head uint64
	err := l.pool.Client(ctx, func(c *ethclient.Client) error {
		callCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
		defer cancel()
		h, err := c.BlockNumber(callCtx)
		head = h
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to fetch chain head: %w", err)
	}

	l.stats.RecordPoll(l.chain.ChainID, head, string(store.StatusSyncing))
	headGauge.WithLabelValues(l.chain.Name).Set(float64(head))

	if l.cursor >= head {
		return pollInterval, nil
	}

	lag := head - l.cursor
	window := uint64(1)
	if lag > 10 {
		window = lag
		if maxBatch := uint64(l.chain.BatchSize) * 5; maxBatch < window {
			window = maxBatch
		}
		if window > maxWindow {
			window = maxWindow
		}
	}

	from := l.cursor + 1
	to := l.cursor + window

	logs, err := l.fetchLogs(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch logs [%d,%d]: %w", from, to, err)
	}

	decoded, err := l.decodeAndJoinTimestamps(ctx, logs)
	if err != nil {
		return 0, fmt.Errorf("failed to join block timestamps: %w", err)
	}

	inserted, err := l.store.StoreEventsBatch(ctx, l.chain.ChainID, decoded, to)
	if err != nil {
		return 0, fmt.Errorf("failed to store events batch: %w", err)
	}

	for _, ev := range inserted {
		l.bus.Publish(ev)
		eventsDecoded.WithLabelValues(l.chain.Name, ev.EventType).Inc()
	}

	l.cursor = to
	cursorGauge.WithLabelValues(l.chain.Name).Set(float64(l.cursor))
	l.stats.RecordPoll(l.chain.ChainID, head, string(store.StatusActive))

	if len(inserted) > 0 {
		l.logger.Debug().Int("inserted", len(inserted)).Uint64("cursor", l.cursor).Msg("batch committed")
	}

	return l.adaptiveSleep(lag, pollInterval), nil
}

// adaptiveSleep shortens the poll interval as the chain falls behind, and
// busy-polls once the lag crosses a high-water mark.
func (l *Loop) adaptiveSleep(lag uint64, pollInterval time.Duration) time.Duration {
	switch {
	case lag == 0:
		return pollInterval
	case lag > 100:
		return 0
	case lag > 10:
		half := pollInterval / 2
		if half < 100*time.Millisecond {
			return 100 * time.Millisecond
		}
		return half
	default:
		return pollInterval
	}
}

// fetchLogs queries the three registry contracts over [from, to].
func (l *Loop) fetchLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	addresses := l.chain.RegistryAddresses()

	var logs []types.Log
	err := l.pool.Client(ctx, func(c *ethclient.Client) error {
		callCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
		defer cancel()

		result, err := c.FilterLogs(callCtx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: addresses,
		})
		logs = result
		return err
	})
	return logs, err
}

// decodeAndJoinTimestamps decodes every log via the Event Decoder, drops
// the undecodable ones, and joins in each distinct block's timestamp.
// Results are sorted by (block_number, log_index) so downstream consumers
// observe events in chain order.
func (l *Loop) decodeAndJoinTimestamps(ctx context.Context, logs []types.Log) ([]store.Event, error) {
	if len(logs) == 0 {
		return nil, nil
	}

	blockTimestamps, err := l.blockTimestamps(ctx, logs)
	if err != nil {
		return nil, err
	}

	events := make([]store.Event, 0, len(logs))
	for _, lg := range logs {
		decoded, ok, err := decoder.Decode(lg)
		if err != nil {
			l.logger.Warn().Err(err).Str("tx", lg.TxHash.Hex()).Msg("dropping undecodable log")
			continue
		}
		if !ok {
			continue
		}

		payload, err := marshalPayload(decoded.Payload)
		if err != nil {
			l.logger.Warn().Err(err).Str("tx", lg.TxHash.Hex()).Msg("failed to marshal decoded payload")
			continue
		}

		events = append(events, store.Event{
			ChainID:         l.chain.ChainID,
			BlockNumber:     lg.BlockNumber,
			BlockHash:       lg.BlockHash.Hex(),
			BlockTimestamp:  blockTimestamps[lg.BlockNumber],
			TransactionHash: lg.TxHash.Hex(),
			LogIndex:        uint32(lg.Index),
			ContractAddress: strings.ToLower(lg.Address.Hex()),
			EventType:       string(decoded.EventType),
			EventSignature:  lg.Topics[0].Hex(),
			EventData:       payload,
		})
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})

	return events, nil
}

// blockTimestamps fetches the header for every distinct block referenced
// by logs.
func (l *Loop) blockTimestamps(ctx context.Context, logs []types.Log) (map[uint64]time.Time, error) {
	distinct := make(map[uint64]common.Hash)
	for _, lg := range logs {
		distinct[lg.BlockNumber] = lg.BlockHash
	}

	out := make(map[uint64]time.Time, len(distinct))
	for blockNumber := range distinct {
		var ts uint64
		err := l.pool.Client(ctx, func(c *ethclient.Client) error {
			callCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
			defer cancel()
			header, err := c.HeaderByNumber(callCtx, new(big.Int).SetUint64(blockNumber))
			if err != nil {
				return err
			}
			ts = header.Time
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch header for block %d: %w", blockNumber, err)
		}
		out[blockNumber] = time.Unix(int64(ts), 0).UTC()
	}

	return out, nil
}
