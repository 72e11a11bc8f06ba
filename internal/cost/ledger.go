package cost

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/model"
)

// Ledger persists usage records.
type Ledger interface {
	RecordUsage(ctx context.Context, rec model.UsageRecord) error
	UsageSummary(ctx context.Context, since time.Time) ([]model.UsageTotal, error)
}

// Usage describes one successful paid call before pricing.
type Usage struct {
	Provider  string
	Operation string
	Calls     int

	// Token counts, used for token-priced providers.
	Model        string
	InputTokens  int
	OutputTokens int
	CacheWrite   int
	CacheRead    int
	Tokens       int
}

// Recorder prices calls and appends them to a Ledger. It keeps a running
// total per run so the batch summary can report spend without a query.
type Recorder struct {
	ledger Ledger
	calc   *Calculator
	runID  string

	mu    sync.Mutex
	total float64
	calls map[string]int
}

// NewRecorder creates a Recorder. A nil ledger prices calls without
// persisting them.
func NewRecorder(ledger Ledger, calc *Calculator) *Recorder {
	if calc == nil {
		calc = NewCalculator(DefaultRates())
	}
	return &Recorder{ledger: ledger, calc: calc, calls: make(map[string]int)}
}

// ForRun returns a Recorder with a fresh running total that tags every
// record with runID.
func (r *Recorder) ForRun(runID string) *Recorder {
	return &Recorder{ledger: r.ledger, calc: r.calc, runID: runID, calls: make(map[string]int)}
}

// Record prices u and appends it to the ledger. Ledger failures are logged
// and returned; callers on the hot path usually ignore them.
func (r *Recorder) Record(ctx context.Context, u Usage) error {
	if u.Calls <= 0 {
		u.Calls = 1
	}
	c := r.calc.Price(u)

	r.mu.Lock()
	r.total += c
	r.calls[u.Provider] += u.Calls
	r.mu.Unlock()

	if r.ledger == nil {
		return nil
	}
	err := r.ledger.RecordUsage(ctx, model.UsageRecord{
		RunID:     r.runID,
		Provider:  u.Provider,
		Operation: u.Operation,
		Calls:     u.Calls,
		CostUSD:   c,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		zap.L().Warn("cost: record usage failed",
			zap.String("provider", u.Provider),
			zap.String("operation", u.Operation),
			zap.Error(err),
		)
		return eris.Wrap(err, "cost: record usage")
	}
	return nil
}

// Total returns the spend recorded by this Recorder.
func (r *Recorder) Total() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Calls returns the number of calls recorded for provider.
func (r *Recorder) Calls(provider string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[provider]
}
