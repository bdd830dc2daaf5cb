package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-action-engine/internal/models"
)

type failingPublisher struct{ err error }

func (p failingPublisher) Publish(context.Context, ActionEvent) error { return p.err }

func TestEventHubDeliversOnlyToOwner(t *testing.T) {
	hub := NewEventHub()
	mine, cancelMine := hub.Subscribe("user-1")
	defer cancelMine()
	other, cancelOther := hub.Subscribe("user-2")
	defer cancelOther()

	require.NoError(t, hub.Publish(context.Background(), ActionEvent{ActionID: "a-1", UserID: "user-1", Event: models.AuditEventCreated}))

	select {
	case event := <-mine:
		require.Equal(t, "a-1", event.ActionID)
	default:
		t.Fatal("expected event for subscriber")
	}
	require.Len(t, other, 0)
}

func TestEventHubCancelClosesStream(t *testing.T) {
	hub := NewEventHub()
	stream, cancel := hub.Subscribe("user-1")
	require.Equal(t, 1, hub.Subscribers("user-1"))

	cancel()
	cancel()

	_, open := <-stream
	require.False(t, open)
	require.Equal(t, 0, hub.Subscribers("user-1"))
	require.NoError(t, hub.Publish(context.Background(), ActionEvent{UserID: "user-1"}))
}

func TestEventHubDropsWhenSubscriberIsFull(t *testing.T) {
	hub := NewEventHub()
	stream, cancel := hub.Subscribe("user-1")
	defer cancel()

	for i := 0; i < eventStreamBuffer+5; i++ {
		require.NoError(t, hub.Publish(context.Background(), ActionEvent{UserID: "user-1"}))
	}
	require.Len(t, stream, eventStreamBuffer)
}

func TestMultiPublisherJoinsErrors(t *testing.T) {
	hub := NewEventHub()
	stream, cancel := hub.Subscribe("user-1")
	defer cancel()

	boom := errors.New("nats down")
	publisher := MultiPublisher(nil, failingPublisher{err: boom}, hub)

	err := publisher.Publish(context.Background(), ActionEvent{UserID: "user-1"})
	require.ErrorIs(t, err, boom)
	require.Len(t, stream, 1)
}
