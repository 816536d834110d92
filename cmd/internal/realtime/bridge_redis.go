package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const snapshotKeyPrefix = "socket_session:"

// RedisSnapshotCache stores connection snapshots as redis hashes under
// socket_session:<conn_id>, one field per snapshot attribute, with a
// per-key TTL.
//
// The client is owned by the caller; this cache never closes it.
type RedisSnapshotCache struct {
	rdb redis.UniversalClient
}

func NewRedisSnapshotCache(rdb redis.UniversalClient) (*RedisSnapshotCache, error) {
	if rdb == nil {
		return nil, errors.New("realtime: nil redis client")
	}
	return &RedisSnapshotCache{rdb: rdb}, nil
}

func snapshotKey(connID string) string { return snapshotKeyPrefix + connID }

func (c *RedisSnapshotCache) Put(ctx context.Context, connID string, snap Snapshot, ttl time.Duration) error {
	key := snapshotKey(connID)

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"session_id":    snap.SessionID,
		"user_id":       snap.UserID,
		"username":      snap.Username,
		"name":          snap.Name,
		"refresh_token": snap.RefreshToken,
	})
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("realtime: redis put: %w", err)
	}
	return nil
}

func (c *RedisSnapshotCache) Get(ctx context.Context, connID string) (Snapshot, error) {
	vals, err := c.rdb.HGetAll(ctx, snapshotKey(connID)).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("realtime: redis get: %w", err)
	}
	// HGETALL returns an empty map for a missing key.
	if len(vals) == 0 {
		return Snapshot{}, ErrNotAttached
	}

	return Snapshot{
		SessionID:    vals["session_id"],
		UserID:       vals["user_id"],
		Username:     vals["username"],
		Name:         vals["name"],
		RefreshToken: vals["refresh_token"],
	}, nil
}

func (c *RedisSnapshotCache) Touch(ctx context.Context, connID string, ttl time.Duration) error {
	ok, err := c.rdb.Expire(ctx, snapshotKey(connID), ttl).Result()
	if err != nil {
		return fmt.Errorf("realtime: redis touch: %w", err)
	}
	if !ok {
		return ErrNotAttached
	}
	return nil
}

func (c *RedisSnapshotCache) Del(ctx context.Context, connID string) error {
	if err := c.rdb.Del(ctx, snapshotKey(connID)).Err(); err != nil {
		return fmt.Errorf("realtime: redis del: %w", err)
	}
	return nil
}
