package badge

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a badge outlives the process that wrote it.
const DefaultTTL = 7 * 24 * time.Hour

// Key is the redis hash holding a user's badge.
func Key(userID string) string { return "langex:badge:" + userID }

// Connect opens a redis client and pings it.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "ping redis %s", addr)
	}
	return rdb, nil
}

// RedisPublisher writes badge counts into a hash with fields "unread" and
// "notifications".
type RedisPublisher struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewRedisPublisher returns a publisher; ttl <= 0 selects DefaultTTL.
func NewRedisPublisher(rdb redis.Cmdable, ttl time.Duration) *RedisPublisher {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisPublisher{rdb: rdb, ttl: ttl}
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, userID string, c Counts) error {
	key := Key(userID)
	pipe := p.rdb.TxPipeline()
	pipe.HSet(ctx, key, "unread", c.Unread, "notifications", c.Notifications)
	pipe.Expire(ctx, key, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "write badge %s", key)
	}
	return nil
}

// Lookup reads a stored badge. ok is false when none is stored.
func (p *RedisPublisher) Lookup(ctx context.Context, userID string) (c Counts, ok bool, err error) {
	vals, err := p.rdb.HGetAll(ctx, Key(userID)).Result()
	if err != nil {
		return Counts{}, false, errors.Wrap(err, "read badge")
	}
	if len(vals) == 0 {
		return Counts{}, false, nil
	}
	if c.Unread, err = strconv.Atoi(vals["unread"]); err != nil {
		return Counts{}, false, errors.Wrap(err, "badge unread")
	}
	if c.Notifications, err = strconv.Atoi(vals["notifications"]); err != nil {
		return Counts{}, false, errors.Wrap(err, "badge notifications")
	}
	return c, true, nil
}
