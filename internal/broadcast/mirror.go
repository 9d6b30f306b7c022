package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/0xkanth/agent-registry-indexer/internal/store"
)

const (
	mirrorStreamName      = "REGISTRY"
	mirrorSubjectPattern  = "REGISTRY.>"
	mirrorStreamTimeout   = 10 * time.Second
	mirrorDuplicateWindow = 20 * time.Minute
)

// NATSMirror publishes a best-effort copy of every broadcast event to a
// JetStream stream, deduplicated by (chain_id, tx_hash, log_index), for
// consumers outside this process.
type NATSMirror struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *zerolog.Logger
}

// NewNATSMirror connects to natsURL and ensures the mirror stream exists.
func NewNATSMirror(logger *zerolog.Logger, natsURL string) (*NATSMirror, error) {
	nc, err := dialMirrorConn(logger, natsURL)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	if err := ensureMirrorStream(js); err != nil {
		nc.Close()
		return nil, err
	}

	logger.Info().Str("stream", mirrorStreamName).Msg("nats mirror initialized")
	return &NATSMirror{nc: nc, js: js, logger: logger}, nil
}

// dialMirrorConn opens the underlying NATS connection with unlimited
// reconnect attempts, since a transient broker outage should never take
// down event broadcasting for its own sake.
func dialMirrorConn(logger *zerolog.Logger, natsURL string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("agent-registry-indexer"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error().Err(err).Msg("nats mirror disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("nats mirror reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// ensureMirrorStream creates the mirror stream if absent, or updates it to
// match the current config if it already exists.
func ensureMirrorStream(js jetstream.JetStream) error {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorStreamTimeout)
	defer cancel()

	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       mirrorStreamName,
		Subjects:   []string{mirrorSubjectPattern},
		Storage:    jetstream.FileStorage,
		Duplicates: mirrorDuplicateWindow,
		Retention:  jetstream.LimitsPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create mirror stream: %w", err)
	}
	return nil
}

// Publish mirrors one event. Subject shape: REGISTRY.<chain_id>.<event_type>.
func (m *NATSMirror) Publish(event store.Event) error {
	subject := fmt.Sprintf("%s.%d.%s", mirrorStreamName, event.ChainID, event.EventType)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event for mirror: %w", err)
	}

	msgID := fmt.Sprintf("%d-%s-%d", event.ChainID, event.TransactionHash, event.LogIndex)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := m.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID)); err != nil {
		return fmt.Errorf("failed to publish mirror message: %w", err)
	}
	return nil
}

// Close closes the underlying NATS connection.
func (m *NATSMirror) Close() {
	if m.nc != nil {
		m.nc.Close()
	}
}

// Healthy reports whether the mirror connection is currently up.
func (m *NATSMirror) Healthy() bool {
	return m.nc != nil && m.nc.IsConnected()
}
