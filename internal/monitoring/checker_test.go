package monitoring

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen-cli/internal/config"
	"github.com/sells-group/leadgen-cli/internal/model"
)

type fakeSweeper struct {
	removed int64
	err     error
	calls   int
}

func (f *fakeSweeper) CleanupExpired(context.Context) (int64, error) {
	f.calls++
	return f.removed, f.err
}

func TestChecker_DefaultInterval(t *testing.T) {
	assert.Equal(t, 5*time.Minute, NewChecker(0).interval)
	assert.Equal(t, time.Second, NewChecker(time.Second).interval)
}

func TestChecker_RunTicksUntilCancel(t *testing.T) {
	var ticks atomic.Int32
	checker := NewChecker(10*time.Millisecond, Task{Name: "count", Run: func(context.Context) error {
		ticks.Add(1)
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return ticks.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_TickContinuesPastFailures(t *testing.T) {
	var order []string
	task := func(name string, err error) Task {
		return Task{Name: name, Run: func(context.Context) error {
			order = append(order, name)
			return err
		}}
	}
	checker := NewChecker(time.Minute, task("a", errors.New("boom")), task("b", nil), task("c", errors.New("again")))

	assert.Equal(t, 2, checker.Tick(context.Background()))
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestChecker_TickStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	checker := NewChecker(time.Minute, Task{Name: "x", Run: func(context.Context) error {
		called = true
		return nil
	}})
	assert.Zero(t, checker.Tick(ctx))
	assert.False(t, called)
}

func TestAlertTask_SendsOnHighFailureRate(t *testing.T) {
	hook := newWebhook(t, http.StatusOK)
	cfg := config.MonitoringConfig{WebhookURL: hook.srv.URL, FailureRateThreshold: 0.2}

	now := time.Now().UTC()
	var runs []model.Run
	for i := 0; i < 6; i++ {
		status := model.RunStatusComplete
		if i%2 == 0 {
			status = model.RunStatusFailed
		}
		runs = append(runs, model.Run{ID: "r", Status: status, CreatedAt: now.Add(-time.Duration(i) * time.Minute)})
	}
	task := AlertTask(NewCollector(&fakeRuns{runs: runs}), NewAlerter(cfg), 0)

	require.NoError(t, task.Run(context.Background()))
	require.Len(t, hook.received(), 1)
	assert.Equal(t, AlertRunFailureRate, hook.received()[0].Type)
}

func TestAlertTask_CollectError(t *testing.T) {
	task := AlertTask(NewCollector(&fakeRuns{err: errors.New("db down")}), NewAlerter(config.MonitoringConfig{}), 24)
	assert.Error(t, task.Run(context.Background()))
}

func TestSweepTask(t *testing.T) {
	s := &fakeSweeper{removed: 4}
	task := SweepTask(s)
	assert.Equal(t, "cache_sweep", task.Name)
	require.NoError(t, task.Run(context.Background()))
	assert.Equal(t, 1, s.calls)

	s.err = errors.New("locked")
	err := task.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sweep cache")
}
