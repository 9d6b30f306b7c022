// Package broadcast fans newly stored events out to live subscribers
// without ever blocking the producer.
package broadcast

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/0xkanth/agent-registry-indexer/internal/store"
)

// bufferSize bounds each subscriber's channel. A subscriber that falls
// this far behind the producer starts losing its oldest buffered events.
const bufferSize = 256

// Message is one published event together with a monotonic sequence
// number, used by subscribers to detect gaps after a Lagged signal.
type Message struct {
	Seq   uint64
	Event store.Event
}

// subscriber is one consumer's bounded inbox.
type subscriber struct {
	id     uint64
	ch     chan Message
	lagged chan uint64
}

// Bus is a single-producer, multi-consumer fan-out for one chain's events.
// Publish never blocks: a slow subscriber has its oldest buffered message
// dropped to make room, and is notified on its Lagged channel.
type Bus struct {
	mu        sync.RWMutex
	logger    *zerolog.Logger
	chainID   uint64
	nextSeq   uint64
	nextSubID uint64
	subs      map[uint64]*subscriber
	mirror    Mirror
}

// Mirror is an optional external sink (e.g. a NATS mirror) that receives a
// best-effort copy of every published event. Mirror failures never block
// or fail the publishing iteration.
type Mirror interface {
	Publish(event store.Event) error
}

// New creates a Bus for one chain. mirror may be nil.
func New(logger *zerolog.Logger, chainID uint64, mirror Mirror) *Bus {
	return &Bus{
		logger:  logger,
		chainID: chainID,
		subs:    make(map[uint64]*subscriber),
		mirror:  mirror,
	}
}

// Subscription is a live handle to a Bus subscriber.
type Subscription struct {
	id     uint64
	bus    *Bus
	ch     <-chan Message
	lagged <-chan uint64
}

// Events returns the channel of published messages.
func (s *Subscription) Events() <-chan Message { return s.ch }

// Lagged fires with the number of messages dropped since the last signal,
// whenever this subscriber falls behind.
func (s *Subscription) Lagged() <-chan uint64 { return s.lagged }

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
}

// Subscribe registers a new consumer and returns its live handle.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSubID++
	sub := &subscriber{
		id:     b.nextSubID,
		ch:     make(chan Message, bufferSize),
		lagged: make(chan uint64, 1),
	}
	b.subs[sub.id] = sub

	return &Subscription{id: sub.id, bus: b, ch: sub.ch, lagged: sub.lagged}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[id]; ok {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// Publish fans ev out to every current subscriber. It never blocks: a
// subscriber whose channel is full has its oldest message dropped first.
// The optional mirror is also attempted, best-effort, on its own goroutine.
func (b *Bus) Publish(ev store.Event) {
	b.mu.Lock()
	b.nextSeq++
	msg := Message{Seq: b.nextSeq, Event: ev}
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		b.deliver(sub, msg)
	}

	if b.mirror != nil {
		go func() {
			if err := b.mirror.Publish(ev); err != nil {
				b.logger.Warn().Err(err).Uint64("chain_id", b.chainID).
					Str("tx", ev.TransactionHash).Msg("mirror publish failed, continuing")
			}
		}()
	}
}

func (b *Bus) deliver(sub *subscriber, msg Message) {
	select {
	case sub.ch <- msg:
		return
	default:
	}

	// Channel full: drop the oldest buffered message to make room, then
	// retry once. If a concurrent receiver has already drained it, the
	// retry still succeeds.
	dropped := uint64(0)
	select {
	case <-sub.ch:
		dropped++
	default:
	}

	select {
	case sub.ch <- msg:
	default:
		dropped++
	}

	if dropped > 0 {
		select {
		case sub.lagged <- dropped:
		default:
			// a lag signal is already pending; the subscriber will catch up
		}
		b.logger.Warn().Uint64("chain_id", b.chainID).Uint64("subscriber_id", sub.id).
			Uint64("dropped", dropped).Msg("subscriber lagging, dropped oldest message")
	}
}

// SubscriberCount returns the current number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
