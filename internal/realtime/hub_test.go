package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bazaarchat/chat-service/internal/models"
)

func testMessage(conversationID, id string) *models.Message {
	return &models.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       "u1",
		Text:           "hello",
		CreatedAt:      time.Now(),
	}
}

func waitFor(t *testing.T, ch <-chan *models.Message) *models.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

func TestHubDeliversOncePerEvent(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	got := make(chan *models.Message, 8)
	sub := hub.Subscribe("conv-7", func(msg *models.Message) { got <- msg })
	defer sub.Close()

	delivered := hub.Publish(testMessage("conv-7", "m1"))
	require.Equal(t, 1, delivered)

	msg := waitFor(t, got)
	require.Equal(t, "m1", msg.ID)

	select {
	case extra := <-got:
		t.Fatalf("unexpected second delivery: %s", extra.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubScopesDeliveryToConversation(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	got := make(chan *models.Message, 8)
	sub := hub.Subscribe("conv-7", func(msg *models.Message) { got <- msg })
	defer sub.Close()

	require.Equal(t, 0, hub.Publish(testMessage("conv-8", "m1")))
	require.Equal(t, 1, hub.Publish(testMessage("conv-7", "m2")))

	msg := waitFor(t, got)
	require.Equal(t, "m2", msg.ID)
}

func TestHubFansOutToAllSubscribers(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	first := make(chan *models.Message, 8)
	second := make(chan *models.Message, 8)
	subA := hub.Subscribe("conv-7", func(msg *models.Message) { first <- msg })
	defer subA.Close()
	subB := hub.Subscribe("conv-7", func(msg *models.Message) { second <- msg })
	defer subB.Close()

	require.Equal(t, 2, hub.Publish(testMessage("conv-7", "m1")))
	require.Equal(t, "m1", waitFor(t, first).ID)
	require.Equal(t, "m1", waitFor(t, second).ID)
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	got := make(chan *models.Message, 8)
	sub := hub.Subscribe("conv-7", func(msg *models.Message) { got <- msg })

	sub.Close()
	sub.Close() // idempotent

	require.Equal(t, 0, hub.Publish(testMessage("conv-7", "m1")))

	select {
	case msg := <-got:
		t.Fatalf("delivery after close: %s", msg.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubCloseRejectsNewSubscribers(t *testing.T) {
	hub := NewHub()
	hub.Close()

	got := make(chan *models.Message, 1)
	sub := hub.Subscribe("conv-7", func(msg *models.Message) { got <- msg })
	defer sub.Close()

	require.Equal(t, 0, hub.Publish(testMessage("conv-7", "m1")))
}
