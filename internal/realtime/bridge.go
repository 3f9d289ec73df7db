package realtime

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bazaarchat/chat-service/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const channelPrefix = "chat:conv:"

// Bridge connects the in-process Hub to a Redis pub/sub channel per
// conversation, so a message stored by one instance reaches viewers attached
// to any instance. Outbound messages go through Redis only; the Run loop
// feeds them back into the local Hub, which keeps delivery at exactly one
// event per subscriber regardless of which instance stored the message.
type Bridge struct {
	client *redis.Client
	hub    *Hub
	logger *logrus.Logger
}

func NewBridge(client *redis.Client, hub *Hub, logger *logrus.Logger) *Bridge {
	return &Bridge{
		client: client,
		hub:    hub,
		logger: logger,
	}
}

// Publish pushes msg onto the conversation's channel. Failure here never
// loses data; the message is already durable and readable via history.
func (b *Bridge) Publish(ctx context.Context, msg *models.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channelPrefix+msg.ConversationID, payload).Err()
}

// Run consumes conversation channels until ctx is canceled. It must be
// running for any realtime delivery to happen on this instance.
func (b *Bridge) Run(ctx context.Context) error {
	pubsub := b.client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			b.deliver(m)
		}
	}
}

func (b *Bridge) deliver(m *redis.Message) {
	var msg models.Message
	if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
		b.logger.WithError(err).WithField("channel", m.Channel).Warn("Dropping malformed realtime payload")
		return
	}
	if msg.ConversationID == "" {
		msg.ConversationID = strings.TrimPrefix(m.Channel, channelPrefix)
	}
	b.hub.Publish(&msg)
}
