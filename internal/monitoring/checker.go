package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Task is one job the Checker repeats every tick.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Checker runs its tasks on a fixed interval while the server is up.
type Checker struct {
	interval time.Duration
	tasks    []Task
}

// NewChecker returns a Checker that runs tasks every interval, or every five
// minutes when interval is not positive.
func NewChecker(interval time.Duration, tasks ...Task) *Checker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Checker{interval: interval, tasks: tasks}
}

// Run blocks until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("checker started", zap.Duration("interval", c.interval), zap.Int("tasks", len(c.tasks)))

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("checker stopped")
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick runs every task once, in order, and returns how many failed. A failing
// task does not stop the ones after it.
func (c *Checker) Tick(ctx context.Context) int {
	failed := 0
	for _, t := range c.tasks {
		if ctx.Err() != nil {
			break
		}
		if err := t.Run(ctx); err != nil {
			failed++
			zap.L().Error("monitoring: task failed", zap.String("task", t.Name), zap.Error(err))
		}
	}
	return failed
}

// AlertTask evaluates the last lookbackHours of runs and posts what fires.
func AlertTask(collector *Collector, alerter *Alerter, lookbackHours int) Task {
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	return Task{Name: "alerts", Run: func(ctx context.Context) error {
		snap, err := collector.Collect(ctx, time.Duration(lookbackHours)*time.Hour)
		if err != nil {
			return err
		}
		alerts := alerter.Evaluate(snap)
		if len(alerts) == 0 {
			return nil
		}
		sent := alerter.SendAlerts(ctx, alerts)
		zap.L().Info("monitoring: alerts evaluated",
			zap.Int("runs", snap.RunsTotal),
			zap.Int("fired", len(alerts)),
			zap.Int("sent", sent),
		)
		return nil
	}}
}

// Sweeper drops expired entries; *cache.Cache satisfies it.
type Sweeper interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// SweepTask purges expired enrichment cache entries.
func SweepTask(s Sweeper) Task {
	return Task{Name: "cache_sweep", Run: func(ctx context.Context) error {
		n, err := s.CleanupExpired(ctx)
		if err != nil {
			return eris.Wrap(err, "monitoring: sweep cache")
		}
		if n > 0 {
			zap.L().Info("monitoring: expired cache entries removed", zap.Int64("removed", n))
		}
		return nil
	}}
}
