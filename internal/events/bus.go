// Package events distributes domain events to the live subscriptions of
// the user they are addressed to.
package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/crm-mailsync/internal/model"
)

// Overflow selects what happens when a subscription's queue is full.
type Overflow string

const (
	// OverflowDropOldest discards the oldest queued event to make room.
	OverflowDropOldest Overflow = "drop_oldest"

	// OverflowDisconnect destroys the subscription.
	OverflowDisconnect Overflow = "disconnect"
)

// ParseOverflow converts a configuration value into an Overflow policy.
func ParseOverflow(s string) (Overflow, error) {
	switch o := Overflow(s); o {
	case OverflowDropOldest, OverflowDisconnect:
		return o, nil
	case "":
		return OverflowDropOldest, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q", s)
	}
}

// DefaultQueueSize bounds a subscription queue when no size is given.
const DefaultQueueSize = 64

// ErrSlowConsumer is reported by a subscription that was destroyed because
// its queue overflowed under OverflowDisconnect.
var ErrSlowConsumer = errors.New("subscriber queue overflow")

// ErrNoRecipient is returned when publishing an event without a user id.
var ErrNoRecipient = errors.New("event has no recipient")

// SubscribeOptions configure a new subscription.
type SubscribeOptions struct {
	QueueSize int
	Overflow  Overflow
}

// Bus is the publish point for domain events, keyed by owning user.
// Delivery is at most once and there is no replay for late subscribers.
type Bus interface {
	Publish(ctx context.Context, event model.Event) error
	Subscribe(userID string, opts SubscribeOptions) *Subscription
	Unsubscribe(sub *Subscription)
}
