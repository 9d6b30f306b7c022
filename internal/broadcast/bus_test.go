package broadcast

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/0xkanth/agent-registry-indexer/internal/store"
)

func newTestBus() *Bus {
	logger := zerolog.Nop()
	return New(&logger, 1, nil)
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := newTestBus()
	sub := b.Subscribe()
	defer sub.Close()

	b.Publish(store.Event{TransactionHash: "0xabc", LogIndex: 1})

	msg := <-sub.Events()
	require.Equal(t, uint64(1), msg.Seq)
	require.Equal(t, "0xabc", msg.Event.TransactionHash)
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	b := newTestBus()
	sub := b.Subscribe()
	defer sub.Close()

	// Fill the subscriber's buffer well past capacity without ever
	// draining it; Publish must still return promptly for every call.
	done := make(chan struct{})
	go func() {
		for i := 0; i < bufferSize*4; i++ {
			b.Publish(store.Event{LogIndex: uint32(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-sub.Lagged():
		// draining the lag signal is fine too; what matters is Publish
		// doesn't deadlock regardless of consumer behavior
	}
}

func TestPublishSignalsLaggedOnDrop(t *testing.T) {
	b := newTestBus()
	sub := b.Subscribe()
	defer sub.Close()

	for i := 0; i < bufferSize+1; i++ {
		b.Publish(store.Event{LogIndex: uint32(i)})
	}

	select {
	case dropped := <-sub.Lagged():
		require.GreaterOrEqual(t, dropped, uint64(1))
	default:
		t.Fatal("expected a lag signal after exceeding buffer capacity")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := newTestBus()
	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	sub.Close()
	require.Equal(t, 0, b.SubscriberCount())

	_, open := <-sub.Events()
	require.False(t, open)
}

func TestPublishWithNoSubscribersDoesNotPanic(t *testing.T) {
	b := newTestBus()
	require.NotPanics(t, func() {
		b.Publish(store.Event{TransactionHash: "0xdef"})
	})
}
