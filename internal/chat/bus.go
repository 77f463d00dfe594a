package chat

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const DefaultQueueSize = 32

// Bus replicates every published Event to all open subscriptions.
//
// Publishes are serialized, so every subscriber observes the same total
// order. A subscriber that falls behind loses its oldest pending events;
// Publish never blocks on a slow reader.
type Bus struct {
	mu        sync.Mutex
	subs      map[*Subscription]struct{}
	queueSize int
	closed    bool
	logger    *slog.Logger
}

func NewBus(queueSize int, logger *slog.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:      make(map[*Subscription]struct{}),
		queueSize: queueSize,
		logger:    logger,
	}
}

// Subscription is a per-session inbox. Only events published after
// Subscribe returned are delivered to it.
type Subscription struct {
	bus     *Bus
	ch      chan Event
	dropped atomic.Uint64
	once    sync.Once
}

// Subscribe opens a new inbox. Subscribing to a closed bus returns an inbox
// that reports ErrBusClosed right away.
func (b *Bus) Subscribe() *Subscription {
	s := &Subscription{bus: b, ch: make(chan Event, b.queueSize)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.once.Do(func() { close(s.ch) })
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish delivers ev to every open subscription, including the
// publisher's own.
func (b *Bus) Publish(ev Event) {
	start := time.Now()
	kind := ev.Kind.String()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	for s := range b.subs {
		s.offer(ev)
	}
	b.mu.Unlock()

	MessagesTotal.WithLabelValues(kind).Inc()
	EventProcessingDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// offer must run under b.mu; the bus is the only sender on s.ch, so after
// evicting the head there is room for ev.
func (s *Subscription) offer(ev Event) {
	select {
	case s.ch <- ev:
		return
	default:
	}
	select {
	case <-s.ch:
		s.dropped.Add(1)
		BusDroppedTotal.Inc()
	default:
	}
	s.ch <- ev
}

// Close shuts the bus. Pending events stay readable; after that every
// Receive returns ErrBusClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.once.Do(func() { close(s.ch) })
	}
	b.subs = nil
	b.logger.Debug("bus closed")
}

// Subscribers reports the number of open subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Receive blocks until an event is queued, ctx is done, or the inbox is
// closed.
func (s *Subscription) Receive(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-s.ch:
		if !ok {
			return Event{}, ErrBusClosed
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Dropped counts events evicted from this inbox because it was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Unsubscribe detaches the inbox from the bus. It is idempotent.
func (s *Subscription) Unsubscribe() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
	s.once.Do(func() { close(s.ch) })
}
