package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bazaarchat/chat-service/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const inboxKeyPrefix = "chat:inbox:"

// InboxCache keeps a user's rendered conversation list in Redis so the inbox
// screen does not hit Postgres on every pull-to-refresh. Entries expire on a
// short TTL and are dropped eagerly whenever a message lands in one of the
// user's conversations.
type InboxCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewInboxCache(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *InboxCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &InboxCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Get returns the cached inbox and whether it was present. Transport errors
// count as misses; the store is the fallback either way.
func (c *InboxCache) Get(ctx context.Context, userID string) ([]*models.ConversationSummary, bool) {
	raw, err := c.client.Get(ctx, inboxKeyPrefix+userID).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.WithError(err).Warn("Inbox cache read failed")
		return nil, false
	}

	var summaries []*models.ConversationSummary
	if err := json.Unmarshal([]byte(raw), &summaries); err != nil {
		c.logger.WithError(err).Warn("Inbox cache entry corrupt, ignoring")
		return nil, false
	}
	return summaries, true
}

func (c *InboxCache) Set(ctx context.Context, userID string, summaries []*models.ConversationSummary) error {
	payload, err := json.Marshal(summaries)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, inboxKeyPrefix+userID, payload, c.ttl).Err()
}

// Invalidate drops the cached inbox for each user.
func (c *InboxCache) Invalidate(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = inboxKeyPrefix + id
	}
	return c.client.Del(ctx, keys...).Err()
}
