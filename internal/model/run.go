package model

import "time"

// RunStatus represents the current state of a batch run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is the persisted record of one batch run.
type Run struct {
	ID        string      `json:"id"`
	Status    RunStatus   `json:"status"`
	Postings  int         `json:"postings"`
	Summary   *RunSummary `json:"summary,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// RunSummary holds the totals of a finished batch run.
type RunSummary struct {
	JobsSeen           int      `json:"jobs_seen"`
	CompaniesProcessed int      `json:"companies_processed"`
	CompaniesSkipped   int      `json:"companies_skipped"`
	CompaniesDiscarded int      `json:"companies_discarded"`
	LeadsCreated       int      `json:"leads_created"`
	LeadsUpdated       int      `json:"leads_updated"`
	Errors             []string `json:"errors,omitempty"`
	DurationMs         int64    `json:"duration_ms"`
	CostUSD            float64  `json:"cost_usd"`
}

// UsageRecord is one line of the paid-API usage ledger.
type UsageRecord struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id,omitempty"`
	Provider  string    `json:"provider"`
	Operation string    `json:"operation"`
	Calls     int       `json:"calls"`
	CostUSD   float64   `json:"cost_usd"`
	CreatedAt time.Time `json:"created_at"`
}

// UsageTotal aggregates ledger lines per provider.
type UsageTotal struct {
	Provider string  `json:"provider"`
	Calls    int     `json:"calls"`
	CostUSD  float64 `json:"cost_usd"`
}

// RegistryRecord is a corporate-registry entry for one tax ID.
type RegistryRecord struct {
	TaxID     string    `json:"tax_id"`
	LegalName string    `json:"legal_name"`
	TradeName string    `json:"trade_name,omitempty"`
	Sector    string    `json:"sector,omitempty"`
	City      string    `json:"city,omitempty"`
	State     string    `json:"state,omitempty"`
	Status    string    `json:"status,omitempty"`
	Capital   float64   `json:"capital,omitempty"`
	Partners  []Contact `json:"partners,omitempty"`
}
