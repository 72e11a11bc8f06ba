// Package cache implements the enrichment cache: TTL-keyed provider results
// with positive entries and short-lived failure markers.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	// DefaultSuccessTTL is how long a successful lookup is served.
	DefaultSuccessTTL = 30 * 24 * time.Hour
	// DefaultFailureTTL is how long a failed lookup is suppressed.
	DefaultFailureTTL = 24 * time.Hour
)

// Entry is one cached lookup, keyed by (Namespace, Key).
type Entry struct {
	Namespace string    `json:"namespace"`
	Key       string    `json:"key"`
	Payload   []byte    `json:"payload,omitempty"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Live reports whether the entry has not expired at now.
func (e *Entry) Live(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Backend stores cache entries. Implementations must upsert on
// (namespace, key) and never apply expiry themselves on reads.
type Backend interface {
	GetCacheEntry(ctx context.Context, namespace, key string) (*Entry, error)
	PutCacheEntry(ctx context.Context, e Entry) error
	DeleteExpiredCacheEntries(ctx context.Context, now time.Time) (int64, error)
	ListExpiringCacheEntries(ctx context.Context, now, until time.Time) ([]Entry, error)
}

// Cache applies TTL semantics over a Backend.
type Cache struct {
	backend    Backend
	successTTL time.Duration
	failureTTL time.Duration
	now        func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTLs overrides the default success and failure TTLs.
func WithTTLs(success, failure time.Duration) Option {
	return func(c *Cache) {
		if success > 0 {
			c.successTTL = success
		}
		if failure > 0 {
			c.failureTTL = failure
		}
	}
}

// WithClock overrides the cache clock.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a Cache over backend.
func New(backend Backend, opts ...Option) *Cache {
	c := &Cache{
		backend:    backend,
		successTTL: DefaultSuccessTTL,
		failureTTL: DefaultFailureTTL,
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SuccessTTL returns the default TTL for successful entries.
func (c *Cache) SuccessTTL() time.Duration { return c.successTTL }

// FailureTTL returns the default TTL for failure markers.
func (c *Cache) FailureTTL() time.Duration { return c.failureTTL }

// NormalizeKey trims and lower-cases a key so one logical identifier maps to
// one entry.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Get decodes the cached payload into dst and returns true on a hit. Missing,
// expired and failure entries all report false. Expired entries are left in
// place for CleanupExpired.
func (c *Cache) Get(ctx context.Context, namespace, key string, dst any) (bool, error) {
	e, err := c.backend.GetCacheEntry(ctx, namespace, NormalizeKey(key))
	if err != nil {
		return false, eris.Wrapf(err, "cache: get %s/%s", namespace, key)
	}
	if e == nil || !e.Success || !e.Live(c.now()) {
		return false, nil
	}
	if dst != nil {
		if err := json.Unmarshal(e.Payload, dst); err != nil {
			return false, eris.Wrapf(err, "cache: decode %s/%s", namespace, key)
		}
	}
	return true, nil
}

// Set stores a successful payload, replacing any prior entry for the key.
// ttl <= 0 uses the default success TTL.
func (c *Cache) Set(ctx context.Context, namespace, key string, payload any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.successTTL
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrapf(err, "cache: encode %s/%s", namespace, key)
	}
	now := c.now()
	e := Entry{
		Namespace: namespace,
		Key:       NormalizeKey(key),
		Payload:   data,
		Success:   true,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := c.backend.PutCacheEntry(ctx, e); err != nil {
		return eris.Wrapf(err, "cache: set %s/%s", namespace, key)
	}
	return nil
}

// SetFailure stores a failure marker. Get reports absent for it, HasKey
// reports true until it expires. ttl <= 0 uses the default failure TTL.
func (c *Cache) SetFailure(ctx context.Context, namespace, key, reason string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.failureTTL
	}
	if len(reason) > 500 {
		reason = reason[:500]
	}
	now := c.now()
	e := Entry{
		Namespace: namespace,
		Key:       NormalizeKey(key),
		Success:   false,
		Reason:    reason,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := c.backend.PutCacheEntry(ctx, e); err != nil {
		return eris.Wrapf(err, "cache: set failure %s/%s", namespace, key)
	}
	return nil
}

// HasKey reports whether any unexpired entry (success or failure) exists.
func (c *Cache) HasKey(ctx context.Context, namespace, key string) (bool, error) {
	e, err := c.backend.GetCacheEntry(ctx, namespace, NormalizeKey(key))
	if err != nil {
		return false, eris.Wrapf(err, "cache: has %s/%s", namespace, key)
	}
	return e != nil && e.Live(c.now()), nil
}

// CleanupExpired deletes every entry whose expiry is before now.
func (c *Cache) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := c.backend.DeleteExpiredCacheEntries(ctx, c.now())
	if err != nil {
		return 0, eris.Wrap(err, "cache: cleanup expired")
	}
	zap.L().Info("cache: expired entries removed", zap.Int64("count", n))
	return n, nil
}

// ExpiringSoon lists live success entries that expire within days.
func (c *Cache) ExpiringSoon(ctx context.Context, days int) ([]Entry, error) {
	if days <= 0 {
		return nil, eris.New("cache: threshold days must be positive")
	}
	now := c.now()
	entries, err := c.backend.ListExpiringCacheEntries(ctx, now, now.Add(time.Duration(days)*24*time.Hour))
	if err != nil {
		return nil, eris.Wrap(err, "cache: list expiring")
	}
	out := entries[:0]
	for _, e := range entries {
		if e.Success && e.Live(now) {
			out = append(out, e)
		}
	}
	return out, nil
}

// WithCache is the canonical read-through helper. On a hit it returns the
// cached value without calling fetch. On a miss it calls fetch, stores
// parse(result) with ttl and returns it. A fetch or parse failure stores a
// failure marker with the failure TTL and returns the error.
func WithCache[R, P any](ctx context.Context, c *Cache, namespace, key string, fetch func(ctx context.Context) (R, error), parse func(R) (P, error), ttl time.Duration) (P, error) {
	var cached P
	hit, err := c.Get(ctx, namespace, key, &cached)
	if err != nil {
		zap.L().Warn("cache: read failed, fetching", zap.String("namespace", namespace), zap.Error(err))
	}
	if hit {
		return cached, nil
	}

	var zero P
	raw, err := fetch(ctx)
	if err == nil {
		var parsed P
		parsed, err = parse(raw)
		if err == nil {
			if serr := c.Set(ctx, namespace, key, parsed, ttl); serr != nil {
				zap.L().Warn("cache: store failed", zap.String("namespace", namespace), zap.Error(serr))
			}
			return parsed, nil
		}
		err = eris.Wrapf(err, "cache: parse %s/%s", namespace, key)
	}

	if ferr := c.SetFailure(ctx, namespace, key, err.Error(), 0); ferr != nil {
		zap.L().Warn("cache: store failure marker failed", zap.String("namespace", namespace), zap.Error(ferr))
	}
	return zero, err
}
