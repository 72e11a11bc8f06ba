package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/store"
)

// RunHealth summarises the batch runs started within a lookback window.
type RunHealth struct {
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	RunFailRate  float64 `json:"run_fail_rate"`
	CostUSD      float64 `json:"cost_usd"`
	Processed    int     `json:"companies_processed"`
	Skipped      int     `json:"companies_skipped"`
	Discarded    int     `json:"discarded"`
	LeadsCreated int     `json:"leads_created"`
	LeadsUpdated int     `json:"leads_updated"`
	// AvgRunSecs is the mean wall time of the complete runs.
	AvgRunSecs float64 `json:"avg_run_secs"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`

	completeTime time.Duration
}

func (h *RunHealth) add(r model.Run) {
	h.RunsTotal++
	switch r.Status {
	case model.RunStatusComplete:
		h.RunsComplete++
		h.completeTime += r.UpdatedAt.Sub(r.CreatedAt)
	case model.RunStatusFailed:
		h.RunsFailed++
	case model.RunStatusRunning:
		h.RunsRunning++
	}
	if s := r.Summary; s != nil {
		h.CostUSD += s.CostUSD
		h.Processed += s.CompaniesProcessed
		h.Skipped += s.CompaniesSkipped
		h.Discarded += s.CompaniesDiscarded
		h.LeadsCreated += s.LeadsCreated
		h.LeadsUpdated += s.LeadsUpdated
	}
}

// Finished counts runs that reached a terminal status.
func (h *RunHealth) Finished() int { return h.RunsComplete + h.RunsFailed }

// RunLister is the part of the store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// maxRunsScanned bounds one collection pass.
const maxRunsScanned = 1000

// Collector reads run history from the store.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect folds the runs created within window into a RunHealth. A
// non-positive window takes every run the scan reaches.
func (c *Collector) Collect(ctx context.Context, window time.Duration) (*RunHealth, error) {
	runs, err := c.runs.ListRuns(ctx, store.RunFilter{Limit: maxRunsScanned})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	now := c.now().UTC()
	since := now.Add(-window)
	h := &RunHealth{LookbackHours: int(window.Hours()), CollectedAt: now}
	// newest first
	for _, r := range runs {
		if window > 0 && r.CreatedAt.Before(since) {
			break
		}
		h.add(r)
	}
	if n := h.Finished(); n > 0 {
		h.RunFailRate = float64(h.RunsFailed) / float64(n)
	}
	if h.RunsComplete > 0 {
		h.AvgRunSecs = h.completeTime.Seconds() / float64(h.RunsComplete)
	}
	return h, nil
}
