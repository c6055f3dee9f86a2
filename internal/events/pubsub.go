package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/nhle/crm-mailsync/internal/model"
)

// PubSubBus shares events between server instances through a Google Cloud
// Pub/Sub topic. Publish sends to the topic with the user id as ordering
// key; Run receives from this instance's subscription and fans events out
// through the embedded LocalBus.
type PubSubBus struct {
	*LocalBus

	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *zap.Logger
}

var _ Bus = (*PubSubBus)(nil)

// NewPubSubBus opens topicID and subscriptionID, creating them when they
// do not exist, and bridges them to local.
func NewPubSubBus(ctx context.Context, client *pubsub.Client, topicID, subscriptionID string, local *LocalBus, logger *zap.Logger) (*PubSubBus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking topic %s: %w", topicID, err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			return nil, fmt.Errorf("creating topic %s: %w", topicID, err)
		}
	}
	topic.EnableMessageOrdering = true

	sub := client.Subscription(subscriptionID)
	exists, err = sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking subscription %s: %w", subscriptionID, err)
	}
	if !exists {
		sub, err = client.CreateSubscription(ctx, subscriptionID, pubsub.SubscriptionConfig{
			Topic:                 topic,
			AckDeadline:           10 * time.Second,
			EnableMessageOrdering: true,
		})
		if err != nil {
			return nil, fmt.Errorf("creating subscription %s: %w", subscriptionID, err)
		}
	}

	return &PubSubBus{
		LocalBus: local,
		topic:    topic,
		sub:      sub,
		logger:   logger.Named("pubsub"),
	}, nil
}

// Publish sends event to the topic and waits for the broker to accept it.
func (b *PubSubBus) Publish(ctx context.Context, event model.Event) error {
	if event.UserID == "" {
		return ErrNoRecipient
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", event.Type, err)
	}

	res := b.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: event.UserID,
		Attributes:  map[string]string{"type": string(event.Type)},
	})
	if _, err := res.Get(ctx); err != nil {
		// A failed ordered publish pauses the key until resumed.
		b.topic.ResumePublish(event.UserID)
		return fmt.Errorf("publishing event %s: %w", event.Type, err)
	}
	return nil
}

// Run receives events from the subscription and republishes them to local
// subscribers until ctx is done.
func (b *PubSubBus) Run(ctx context.Context) error {
	b.logger.Info("receiving events", zap.String("subscription", b.sub.ID()))

	err := b.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		defer msg.Ack()

		var event model.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.logger.Warn("dropping undecodable event", zap.String("message_id", msg.ID), zap.Error(err))
			return
		}
		if err := b.LocalBus.Publish(ctx, event); err != nil {
			b.logger.Warn("dropping event", zap.String("type", string(event.Type)), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("receiving from %s: %w", b.sub.ID(), err)
	}
	return nil
}

// Stop flushes pending publishes.
func (b *PubSubBus) Stop() {
	b.topic.Stop()
}
