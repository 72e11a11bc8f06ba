package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	r "github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisBackend keeps one JSON value per entry plus a sorted set indexed by
// logical expiry. Keys are held physically for a retention period past
// their logical expiry so ExpiringSoon and CleanupExpired see them.
type RedisBackend struct {
	rdb       *r.Client
	prefix    string
	retention time.Duration
}

// NewRedisBackend creates a backend using keys under prefix.
func NewRedisBackend(rdb *r.Client, prefix string, retention time.Duration) *RedisBackend {
	if prefix == "" {
		prefix = "leadgen:cache"
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &RedisBackend{rdb: rdb, prefix: prefix, retention: retention}
}

func (b *RedisBackend) entryKey(namespace, key string) string {
	return fmt.Sprintf("%s:entry:%s:%s", b.prefix, namespace, key)
}

func (b *RedisBackend) indexKey() string {
	return b.prefix + ":expiry"
}

// GetCacheEntry returns the stored entry or nil when absent.
func (b *RedisBackend) GetCacheEntry(ctx context.Context, namespace, key string) (*Entry, error) {
	raw, err := b.rdb.Get(ctx, b.entryKey(namespace, key)).Bytes()
	if errors.Is(err, r.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "redis cache: get")
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, eris.Wrap(err, "redis cache: decode entry")
	}
	return &e, nil
}

// PutCacheEntry upserts the entry and its expiry index in one transaction.
func (b *RedisBackend) PutCacheEntry(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "redis cache: encode entry")
	}
	ttl := time.Until(e.ExpiresAt) + b.retention
	if ttl < time.Second {
		ttl = time.Second
	}
	k := b.entryKey(e.Namespace, e.Key)

	pipe := b.rdb.TxPipeline()
	pipe.Set(ctx, k, data, ttl)
	pipe.ZAdd(ctx, b.indexKey(), r.Z{Score: float64(e.ExpiresAt.UnixMilli()), Member: k})
	if _, err := pipe.Exec(ctx); err != nil {
		return eris.Wrap(err, "redis cache: put")
	}
	return nil
}

// DeleteExpiredCacheEntries removes entries whose expiry is before now.
func (b *RedisBackend) DeleteExpiredCacheEntries(ctx context.Context, now time.Time) (int64, error) {
	keys, err := b.rdb.ZRangeByScore(ctx, b.indexKey(), &r.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("(%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, eris.Wrap(err, "redis cache: scan expired")
	}
	if len(keys) == 0 {
		return 0, nil
	}

	pipe := b.rdb.TxPipeline()
	for _, k := range keys {
		pipe.Del(ctx, k)
		pipe.ZRem(ctx, b.indexKey(), k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, eris.Wrap(err, "redis cache: delete expired")
	}
	return int64(len(keys)), nil
}

// ListExpiringCacheEntries lists entries with expiry in [now, until].
func (b *RedisBackend) ListExpiringCacheEntries(ctx context.Context, now, until time.Time) ([]Entry, error) {
	keys, err := b.rdb.ZRangeByScore(ctx, b.indexKey(), &r.ZRangeBy{
		Min: fmt.Sprintf("%d", now.UnixMilli()), Max: fmt.Sprintf("%d", until.UnixMilli()),
	}).Result()
	if err != nil {
		return nil, eris.Wrap(err, "redis cache: scan expiring")
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := b.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, eris.Wrap(err, "redis cache: load expiring")
	}
	out := make([]Entry, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, eris.Wrap(err, "redis cache: decode entry")
		}
		out = append(out, e)
	}
	return out, nil
}
