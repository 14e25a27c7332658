package store

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const DefaultCacheTTL = 10 * time.Minute

// RedisCache is a read-through cache in front of a durable gateway. Saves
// go to the backing gateway first; the cache is only refreshed once the
// durable write succeeded. Cache failures are logged and never fail a call.
type RedisCache struct {
	client  redis.UniversalClient
	backing Gateway
	ttl     time.Duration
	prefix  string
	logger  *log.Logger
}

// NewRedisCache wraps backing. A zero ttl means DefaultCacheTTL.
func NewRedisCache(client redis.UniversalClient, backing Gateway, ttl time.Duration, logger *log.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{
		client:  client,
		backing: backing,
		ttl:     ttl,
		prefix:  "holdem:snapshot:",
		logger:  logger.WithPrefix("cache"),
	}
}

func (c *RedisCache) key(tableID string) string { return c.prefix + tableID }

func (c *RedisCache) SaveSnapshot(ctx context.Context, tableID string, state *TableState) error {
	if err := c.backing.SaveSnapshot(ctx, tableID, state); err != nil {
		return err
	}
	b, err := encode(state)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.key(tableID), b, c.ttl).Err(); err != nil {
		c.logger.Warn("Cache write failed", "table", tableID, "error", err)
	}
	return nil
}

func (c *RedisCache) LoadSnapshot(ctx context.Context, tableID string) (*TableState, error) {
	b, err := c.client.Get(ctx, c.key(tableID)).Bytes()
	switch {
	case err == nil:
		state, err := decode(b)
		if err == nil {
			return state, nil
		}
		c.logger.Warn("Discarding undecodable cache entry", "table", tableID, "error", err)
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("Cache read failed", "table", tableID, "error", err)
	}

	state, err := c.backing.LoadSnapshot(ctx, tableID)
	if err != nil {
		return nil, err
	}
	if b, err := encode(state); err == nil {
		if err := c.client.Set(ctx, c.key(tableID), b, c.ttl).Err(); err != nil {
			c.logger.Debug("Cache populate failed", "table", tableID, "error", err)
		}
	}
	return state, nil
}
