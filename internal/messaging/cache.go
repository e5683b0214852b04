package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"farmconnect/internal/redis"
)

const unreadCacheTTL = 10 * time.Minute

// UnreadCache keeps per-participant unread counts in one redis hash per
// conversation. A nil *UnreadCache is a valid cache that never hits.
type UnreadCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewUnreadCache(client *redis.Client, logger *slog.Logger) *UnreadCache {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UnreadCache{client: client, ttl: unreadCacheTTL, logger: logger.With("component", "unread_cache")}
}

func unreadKey(conversationID int64) string {
	return fmt.Sprintf("farmconnect:unread:%d", conversationID)
}

func (c *UnreadCache) get(ctx context.Context, conversationID, userID int64) (int, bool) {
	if c == nil {
		return 0, false
	}
	raw, err := c.client.HGet(ctx, unreadKey(conversationID), strconv.FormatInt(userID, 10))
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			c.logger.Debug("unread cache read failed", "conversation_id", conversationID, "error", err)
		}
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (c *UnreadCache) set(ctx context.Context, conversationID, userID int64, count int) {
	if c == nil {
		return
	}
	if err := c.client.HSet(ctx, unreadKey(conversationID), strconv.FormatInt(userID, 10), count, c.ttl); err != nil {
		c.logger.Debug("unread cache write failed", "conversation_id", conversationID, "error", err)
	}
}

// invalidate drops every cached count of the conversation.
func (c *UnreadCache) invalidate(ctx context.Context, conversationID int64) {
	if c == nil {
		return
	}
	if err := c.client.Del(ctx, unreadKey(conversationID)); err != nil {
		c.logger.Warn("unread cache invalidation failed", "conversation_id", conversationID, "error", err)
	}
}
