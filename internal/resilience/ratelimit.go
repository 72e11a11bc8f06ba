package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/semaphore"
)

// RateLimitConfig bounds how a single provider is called.
type RateLimitConfig struct {
	// Concurrency is the maximum number of operations running at once. Default: 4.
	Concurrency int

	// Window is the sliding window length. Default: 1s.
	Window time.Duration

	// MaxPerWindow is the maximum number of operation starts inside any
	// Window. Default: 10.
	MaxPerWindow int
}

// DefaultRateLimitConfig returns the default admission policy.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Concurrency:  4,
		Window:       time.Second,
		MaxPerWindow: 10,
	}
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	d := DefaultRateLimitConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.MaxPerWindow <= 0 {
		c.MaxPerWindow = d.MaxPerWindow
	}
	return c
}

// Queue admits operations for one provider. Waiters are served in arrival
// order: a turnstile semaphore of weight one serializes admission, and
// x/sync semaphores grant waiters FIFO.
type Queue struct {
	cfg       RateLimitConfig
	turnstile *semaphore.Weighted
	slots     *semaphore.Weighted

	mu     sync.Mutex
	starts []time.Time

	running atomic.Int64
	waiting atomic.Int64

	nowFunc func() time.Time
	// sleepFunc waits while the window is full. It returns the context's
	// error when ctx ends first.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// sleepCtx waits d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NewQueue creates an admission queue with the given limits.
func NewQueue(cfg RateLimitConfig) *Queue {
	cfg = cfg.withDefaults()
	return &Queue{
		cfg:       cfg,
		turnstile: semaphore.NewWeighted(1),
		slots:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		starts:    make([]time.Time, 0, cfg.MaxPerWindow),
		nowFunc:   time.Now,
		sleepFunc: sleepCtx,
	}
}

// Acquire blocks until the operation may start. The returned release func
// must be called exactly once when the operation finishes.
func (q *Queue) Acquire(ctx context.Context) (func(), error) {
	q.waiting.Add(1)
	defer q.waiting.Add(-1)

	if err := q.turnstile.Acquire(ctx, 1); err != nil {
		return nil, eris.Wrap(err, "resilience: queue admission")
	}
	defer q.turnstile.Release(1)

	if err := q.slots.Acquire(ctx, 1); err != nil {
		return nil, eris.Wrap(err, "resilience: queue slot")
	}

	for {
		wait := q.reserve()
		if wait <= 0 {
			break
		}
		// The wait is measured on nowFunc; sleepFunc must let it advance.
		if err := q.sleepFunc(ctx, wait); err != nil {
			q.slots.Release(1)
			return nil, eris.Wrap(err, "resilience: queue window")
		}
	}

	q.running.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			q.running.Add(-1)
			q.slots.Release(1)
		})
	}, nil
}

// reserve records a start if the sliding window has room and returns zero,
// otherwise it returns how long until the oldest start leaves the window.
func (q *Queue) reserve() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.nowFunc()
	cutoff := now.Add(-q.cfg.Window)
	i := 0
	for i < len(q.starts) && !q.starts[i].After(cutoff) {
		i++
	}
	q.starts = q.starts[i:]

	if len(q.starts) < q.cfg.MaxPerWindow {
		q.starts = append(q.starts, now)
		return 0
	}
	return q.starts[0].Add(q.cfg.Window).Sub(now)
}

// QueueStats is a point-in-time view of a queue.
type QueueStats struct {
	Running        int64 `json:"running"`
	Waiting        int64 `json:"waiting"`
	StartsInWindow int   `json:"starts_in_window"`
}

// Stats returns the current queue counters.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	cutoff := q.nowFunc().Add(-q.cfg.Window)
	n := 0
	for _, s := range q.starts {
		if s.After(cutoff) {
			n++
		}
	}
	q.mu.Unlock()

	return QueueStats{
		Running:        q.running.Load(),
		Waiting:        q.waiting.Load(),
		StartsInWindow: n,
	}
}
