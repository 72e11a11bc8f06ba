package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/config"
	"github.com/sells-group/leadgen-cli/internal/pipeline"
	"github.com/sells-group/leadgen-cli/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertBatchFailureRate AlertType = "batch_failure_rate"
	AlertRunFailureRate   AlertType = "run_failure_rate"
	AlertCircuitOpen      AlertType = "circuit_open"
	AlertCostOverrun      AlertType = "cost_overrun"
)

// minBatchCompanies is the smallest batch whose failure rate is judged.
const minBatchCompanies = 3

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Subject   string         `json:"subject,omitempty"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func (a Alert) key() string {
	return string(a.Type) + "/" + a.Subject
}

// Alerter evaluates batch results, breaker transitions and run metrics
// against configured thresholds and posts alerts to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	now    func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
	pending  sync.WaitGroup
}

// Option configures an Alerter.
type Option func(*Alerter)

// WithHTTPClient overrides the webhook HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Alerter) { a.client = c }
}

// WithClock overrides the time source used for timestamps and cooldowns.
func WithClock(now func() time.Time) Option {
	return func(a *Alerter) { a.now = now }
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig, opts ...Option) *Alerter {
	a := &Alerter{
		cfg:      cfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// EvaluateBatch checks one finished batch against the failure rate and
// cost thresholds.
func (a *Alerter) EvaluateBatch(res *pipeline.BatchResult) []Alert {
	if res == nil {
		return nil
	}
	var alerts []Alert
	now := a.now().UTC()

	rate := res.FailureRate()
	if res.CompaniesProcessed >= minBatchCompanies && rate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertBatchFailureRate,
			Subject:  res.RunID,
			Severity: "high",
			Message: fmt.Sprintf(
				"Batch %s error rate %.1f%% exceeds threshold %.1f%% (%d errors over %d companies)",
				res.RunID, rate*100, a.cfg.FailureRateThreshold*100,
				len(res.Errors), res.CompaniesProcessed,
			),
			Details: map[string]any{
				"run_id":       res.RunID,
				"failure_rate": rate,
				"threshold":    a.cfg.FailureRateThreshold,
				"processed":    res.CompaniesProcessed,
				"errors":       len(res.Errors),
			},
			Timestamp: now,
		})
	}

	if a.cfg.CostThresholdUSD > 0 && res.CostUSD > a.cfg.CostThresholdUSD {
		alerts = append(alerts, Alert{
			Type:     AlertCostOverrun,
			Subject:  res.RunID,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Batch %s spent $%.2f, above threshold $%.2f",
				res.RunID, res.CostUSD, a.cfg.CostThresholdUSD,
			),
			Details: map[string]any{
				"run_id":        res.RunID,
				"cost_usd":      res.CostUSD,
				"threshold_usd": a.cfg.CostThresholdUSD,
			},
			Timestamp: now,
		})
	}
	return alerts
}

// Evaluate returns the alerts snap trips. The failure rate is only judged
// once five runs have finished.
func (a *Alerter) Evaluate(snap *RunHealth) []Alert {
	var alerts []Alert
	now := a.now().UTC()

	finished := snap.Finished()
	if finished >= 5 && snap.RunFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.RunFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.RunFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.CostThresholdUSD > 0 && snap.CostUSD > a.cfg.CostThresholdUSD {
		alerts = append(alerts, Alert{
			Type:     AlertCostOverrun,
			Severity: "high",
			Message: fmt.Sprintf(
				"API cost $%.2f exceeds threshold $%.2f in last %dh",
				snap.CostUSD, a.cfg.CostThresholdUSD, snap.LookbackHours,
			),
			Details: map[string]any{
				"cost_usd":      snap.CostUSD,
				"threshold_usd": a.cfg.CostThresholdUSD,
				"runs_total":    snap.RunsTotal,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// BatchHook returns a pipeline batch hook that alerts on bad batches.
func (a *Alerter) BatchHook(ctx context.Context) func(*pipeline.BatchResult) {
	return func(res *pipeline.BatchResult) {
		if alerts := a.EvaluateBatch(res); len(alerts) > 0 {
			a.SendAlerts(context.WithoutCancel(ctx), alerts)
		}
	}
}

// BreakerHook is a resilience state change hook that alerts when a
// provider breaker opens. It runs under the breaker lock, so delivery
// happens in the background; Wait blocks until it is done.
func (a *Alerter) BreakerHook(provider string, from, to resilience.CircuitState) {
	if to != resilience.CircuitOpen {
		return
	}
	alert := Alert{
		Type:     AlertCircuitOpen,
		Subject:  provider,
		Severity: "high",
		Message:  fmt.Sprintf("Circuit breaker for %s opened (was %s)", provider, from),
		Details: map[string]any{
			"provider": provider,
			"from":     from.String(),
			"to":       to.String(),
		},
		Timestamp: a.now().UTC(),
	}
	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.SendAlerts(ctx, []Alert{alert})
	}()
}

// Wait blocks until background alert deliveries finish.
func (a *Alerter) Wait() {
	a.pending.Wait()
}

// SendAlerts delivers alerts to the configured webhook URL, dropping
// alerts whose type and subject fired within the cooldown.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if !a.claim(alert) {
			zap.L().Debug("monitoring: alert suppressed by cooldown",
				zap.String("type", string(alert.Type)),
				zap.String("subject", alert.Subject),
			)
			continue
		}
		if err := a.sendWebhook(ctx, alert); err != nil {
			a.release(alert)
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("subject", alert.Subject),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// claim reserves the cooldown slot for alert. It reports false when the
// same alert went out within the cooldown.
func (a *Alerter) claim(alert Alert) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	if last, ok := a.lastSent[alert.key()]; ok && now.Sub(last) < a.cfg.Cooldown() {
		return false
	}
	a.lastSent[alert.key()] = now
	return true
}

func (a *Alerter) release(alert Alert) {
	a.mu.Lock()
	delete(a.lastSent, alert.key())
	a.mu.Unlock()
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
