// Package cache keeps conversation membership checks off the database on
// the hot path of every chat event.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"chat-hub/internal/hub"
	"chat-hub/internal/models"
)

const keyPrefix = "chat:participant:"

// NewRedisClient parses a redis:// URL and verifies the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// ParticipantCache answers membership checks from Redis and falls back to
// the wrapped checker on a miss. Only positive answers are cached, so a
// user added to a conversation is authorized on the next check.
type ParticipantCache struct {
	client redis.Cmdable
	next   hub.ParticipantChecker
	ttl    time.Duration
	log    *zap.Logger
	group  singleflight.Group
}

func NewParticipantCache(client redis.Cmdable, next hub.ParticipantChecker, ttl time.Duration, log *zap.Logger) *ParticipantCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &ParticipantCache{client: client, next: next, ttl: ttl, log: log.Named("cache")}
}

func participantKey(conversationID models.ConversationID, userID models.UserID) string {
	return fmt.Sprintf("%s%d:%d", keyPrefix, conversationID, userID)
}

func (c *ParticipantCache) IsParticipant(ctx context.Context, userID models.UserID, conversationID models.ConversationID) (bool, error) {
	key := participantKey(conversationID, userID)

	err := c.client.Get(ctx, key).Err()
	switch {
	case err == nil:
		return true, nil
	case !errors.Is(err, redis.Nil):
		c.log.Warn("participant cache read failed", zap.String("key", key), zap.Error(err))
		return c.next.IsParticipant(ctx, userID, conversationID)
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		ok, err := c.next.IsParticipant(ctx, userID, conversationID)
		if err != nil || !ok {
			return ok, err
		}
		if err := c.client.Set(ctx, key, "1", c.ttl).Err(); err != nil {
			c.log.Warn("participant cache write failed", zap.String("key", key), zap.Error(err))
		}
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}
