package events

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nhle/crm-mailsync/internal/model"
)

func newTestPubSubClient(t *testing.T) *pubsub.Client {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPubSubBusRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newTestPubSubClient(t)
	local := NewLocalBus(nil)

	bus, err := NewPubSubBus(ctx, client, "crm-events", "crm-events-test", local, nil)
	require.NoError(t, err)
	defer bus.Stop()

	sub := bus.Subscribe("u1", SubscribeOptions{QueueSize: 8})
	other := bus.Subscribe("u2", SubscribeOptions{QueueSize: 8})

	done := make(chan error, 1)
	go func() { done <- bus.Run(ctx) }()

	msg := model.IngestedMessage{ID: "m1", UserID: "u1", Subject: "Hello", Sender: "a@example.com"}
	require.NoError(t, bus.Publish(ctx, model.NewEmailReceived(msg)))
	require.NoError(t, bus.Publish(ctx, model.NewMarkedRead("u1", "m1")))

	var got []model.Event
	timeout := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case e := <-sub.Events():
			got = append(got, e)
		case <-timeout:
			t.Fatalf("received %d of 2 events", len(got))
		}
	}

	assert.Equal(t, model.EventEmailReceived, got[0].Type)
	assert.Equal(t, "m1", got[0].Payload["email_id"])
	assert.Equal(t, "Hello", got[0].Payload["subject"])
	assert.Equal(t, model.EventEmailUpdated, got[1].Type)
	assert.Equal(t, model.ActionMarkedRead, got[1].Payload["action"])
	assert.Empty(t, drain(other))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("receive loop did not stop")
	}
}

func TestPubSubBusReusesExistingTopic(t *testing.T) {
	ctx := context.Background()
	client := newTestPubSubClient(t)

	_, err := client.CreateTopic(ctx, "crm-events")
	require.NoError(t, err)

	bus, err := NewPubSubBus(ctx, client, "crm-events", "crm-events-a", NewLocalBus(nil), nil)
	require.NoError(t, err)
	bus.Stop()

	assert.ErrorIs(t, bus.Publish(ctx, notice("", 1)), ErrNoRecipient)
}
