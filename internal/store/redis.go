package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

const redisKeyPrefix = "streakwatch:"

// redisClient is the subset of *redis.Client the ledger uses.
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisLedger implements Ledger with SETNX claims that expire on their own.
type RedisLedger struct {
	client redisClient
	ttl    time.Duration
	now    func() time.Time
}

// NewRedis connects to the redis server at url (redis://host:port/db).
func NewRedis(ctx context.Context, url string, ttl time.Duration) (*RedisLedger, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "redis: parse url")
	}
	opts.PoolSize = 4
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		rdb.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "redis: ping %s", opts.Addr)
	}
	return &RedisLedger{client: rdb, ttl: ttl, now: time.Now}, nil
}

func redisClaimKey(username, day string) string {
	return redisKeyPrefix + "claim:" + username + ":" + day
}

func redisLogKey(username string) string {
	return redisKeyPrefix + "notifications:" + username
}

// Migrate is a no-op; redis needs no schema.
func (s *RedisLedger) Migrate(context.Context) error { return nil }

func (s *RedisLedger) Ping(ctx context.Context) error {
	return eris.Wrap(s.client.Ping(ctx).Err(), "redis: ping")
}

func (s *RedisLedger) Close() error {
	return s.client.Close()
}

func (s *RedisLedger) Claim(ctx context.Context, username, day string) (bool, error) {
	ok, err := s.client.SetNX(ctx, redisClaimKey(username, day), s.now().UTC().Format(time.RFC3339Nano), s.ttl).Result()
	if err != nil {
		return false, eris.Wrapf(err, "redis: claim %s/%s", username, day)
	}
	return ok, nil
}

func (s *RedisLedger) Release(ctx context.Context, username, day string) error {
	err := s.client.Del(ctx, redisClaimKey(username, day)).Err()
	return eris.Wrapf(err, "redis: release %s/%s", username, day)
}

func (s *RedisLedger) RecordNotification(ctx context.Context, n Notification) error {
	n = prepare(n, s.now())
	data, err := json.Marshal(n)
	if err != nil {
		return eris.Wrap(err, "redis: marshal notification")
	}

	key := redisLogKey(n.Username)
	if err := s.client.LPush(ctx, key, data).Err(); err != nil {
		return eris.Wrap(err, "redis: push notification")
	}
	if err := s.client.LTrim(ctx, key, 0, maxNotifications-1).Err(); err != nil {
		return eris.Wrap(err, "redis: trim notifications")
	}
	return eris.Wrap(s.client.Expire(ctx, key, s.ttl*7).Err(), "redis: expire notifications")
}

func (s *RedisLedger) Notifications(ctx context.Context, username string, limit int) ([]Notification, error) {
	raw, err := s.client.LRange(ctx, redisLogKey(username), 0, int64(clampLimit(limit))-1).Result()
	if err != nil {
		return nil, eris.Wrap(err, "redis: list notifications")
	}

	out := make([]Notification, 0, len(raw))
	for _, item := range raw {
		var n Notification
		if err := json.Unmarshal([]byte(item), &n); err != nil {
			return nil, eris.Wrap(err, "redis: decode notification")
		}
		out = append(out, n)
	}
	return out, nil
}
