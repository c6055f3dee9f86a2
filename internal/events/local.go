package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/crm-mailsync/internal/model"
)

// Subscription binds one consumer to one user's event stream. Events are
// delivered through a bounded queue; the channel returned by Events is
// closed when the subscription is destroyed.
type Subscription struct {
	id       string
	userID   string
	overflow Overflow
	queue    chan model.Event

	// Guarded by the owning bus's mutex.
	closed bool
	err    error

	dropped atomic.Int64
}

// ID returns the subscription's unique id.
func (s *Subscription) ID() string { return s.id }

// UserID returns the user the subscription is bound to.
func (s *Subscription) UserID() string { return s.userID }

// Events returns the queue of delivered events.
func (s *Subscription) Events() <-chan model.Event { return s.queue }

// Dropped returns how many events were discarded by OverflowDropOldest.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// LocalBus is an in-process Bus. Publish never blocks on a slow
// subscriber: a full queue is resolved by the subscription's overflow
// policy.
type LocalBus struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	logger *zap.Logger
}

var _ Bus = (*LocalBus)(nil)

// NewLocalBus creates an empty in-process bus.
func NewLocalBus(logger *zap.Logger) *LocalBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalBus{
		subs:   make(map[string]map[*Subscription]struct{}),
		logger: logger.Named("bus"),
	}
}

// Subscribe registers a new subscription for userID.
func (b *LocalBus) Subscribe(userID string, opts SubscribeOptions) *Subscription {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Overflow == "" {
		opts.Overflow = OverflowDropOldest
	}

	sub := &Subscription{
		id:       uuid.NewString(),
		userID:   userID,
		overflow: opts.Overflow,
		queue:    make(chan model.Event, opts.QueueSize),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[userID] == nil {
		b.subs[userID] = make(map[*Subscription]struct{})
	}
	b.subs[userID][sub] = struct{}{}
	return sub
}

// Unsubscribe destroys sub and closes its queue. It is safe to call more
// than once.
func (b *LocalBus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remove(sub, nil)
}

// Err returns why sub was destroyed by the bus, or nil.
func (b *LocalBus) Err(sub *Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return sub.err
}

// Publish delivers event to every live subscription of event.UserID.
// The lock is held for the whole fan-out so that every subscriber of a
// user observes the same order.
func (b *LocalBus) Publish(_ context.Context, event model.Event) error {
	if event.UserID == "" {
		return ErrNoRecipient
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs[event.UserID] {
		b.deliver(sub, event)
	}
	return nil
}

// SubscriberCount returns the number of live subscriptions for userID.
func (b *LocalBus) SubscriberCount(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[userID])
}

// Close destroys every subscription.
func (b *LocalBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, set := range b.subs {
		for sub := range set {
			b.remove(sub, nil)
		}
	}
}

func (b *LocalBus) deliver(sub *Subscription, event model.Event) {
	select {
	case sub.queue <- event:
		return
	default:
	}

	if sub.overflow == OverflowDisconnect {
		b.logger.Warn("disconnecting slow subscriber",
			zap.String("user_id", sub.userID),
			zap.String("subscription", sub.id))
		b.remove(sub, ErrSlowConsumer)
		return
	}

	select {
	case <-sub.queue:
		sub.dropped.Add(1)
	default:
	}
	select {
	case sub.queue <- event:
	default:
	}
}

// remove must be called with b.mu held.
func (b *LocalBus) remove(sub *Subscription, reason error) {
	if sub.closed {
		return
	}
	sub.closed = true
	sub.err = reason
	close(sub.queue)

	set := b.subs[sub.userID]
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, sub.userID)
	}
}
