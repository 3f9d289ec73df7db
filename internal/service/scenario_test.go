package service

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/bazaarchat/chat-service/internal/models"
	"github.com/bazaarchat/chat-service/internal/realtime"
)

// hubNotifier feeds stored messages straight into an in-process hub, the way
// the Redis bridge does after a round trip through pub/sub.
type hubNotifier struct {
	hub *realtime.Hub
}

func (n *hubNotifier) Publish(_ context.Context, msg *models.Message) error {
	n.hub.Publish(msg)
	return nil
}

// TestBuyerSellerFlow walks the full first-contact flow: buyer opens a
// listing, messages the seller, the seller replies from another session while
// the buyer has a live subscription, and the buyer's inbox reflects it.
func TestBuyerSellerFlow(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	hub := realtime.NewHub()
	defer hub.Close()

	repo := newMockRepo()
	svc := NewChatService(repo, &hubNotifier{hub: hub}, &mockEnqueuer{}, newMockInbox(), logger)
	ctx := context.Background()

	conv, err := svc.GetOrCreateConversation(ctx, "u1", "u2", "post-42")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, conv.ID, "u1", "Is this available?")
	require.NoError(t, err)

	history, err := svc.GetMessages(ctx, conv.ID, 0, "")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "u1", history[0].SenderID)

	delivered := make(chan *models.Message, 4)
	sub := hub.Subscribe(conv.ID, func(msg *models.Message) { delivered <- msg })
	defer sub.Close()

	reply, err := svc.SendMessage(ctx, conv.ID, "u2", "Yes!")
	require.NoError(t, err)

	select {
	case msg := <-delivered:
		require.Equal(t, reply.ID, msg.ID)
		require.Equal(t, "Yes!", msg.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for realtime delivery")
	}

	summaries, err := svc.ListConversations(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, conv.ID, summaries[0].Conversation.ID)
	require.NotNil(t, summaries[0].LastMessage)
	require.Equal(t, "u2", summaries[0].LastMessage.SenderID)
	require.Equal(t, "Yes!", summaries[0].LastMessage.Text)
}
