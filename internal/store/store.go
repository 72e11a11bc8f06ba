// Package store persists companies, leads, cache entries, the usage ledger,
// the local registry and batch runs in SQLite or Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen-cli/internal/cache"
	"github.com/sells-group/leadgen-cli/internal/company"
	"github.com/sells-group/leadgen-cli/internal/cost"
	"github.com/sells-group/leadgen-cli/internal/model"
)

// LeadFilter specifies criteria for listing leads.
type LeadFilter struct {
	CompanyID int64 `json:"company_id,omitempty"`
	MinScore  int   `json:"min_score,omitempty"`
	FreshOnly bool  `json:"fresh_only,omitempty"`
	Limit     int   `json:"limit,omitempty"`
	Offset    int   `json:"offset,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

// Store defines the persistence interface for the lead pipeline.
type Store interface {
	company.Store
	cache.Backend
	cost.Ledger

	// Companies
	UpdateCompany(ctx context.Context, c *model.Company) error

	// Leads and notes
	LatestLead(ctx context.Context, companyID int64) (*model.Lead, error)
	CreateLead(ctx context.Context, l *model.Lead) error
	UpdateLead(ctx context.Context, l *model.Lead) error
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)
	AddNote(ctx context.Context, n *model.Note) error

	// Local registry
	GetRegistryRecord(ctx context.Context, taxID string) (*model.RegistryRecord, error)
	FindRegistryByName(ctx context.Context, name string) (*model.RegistryRecord, error)
	UpsertRegistryRecords(ctx context.Context, recs []model.RegistryRecord) (int64, error)

	// Runs
	CreateRun(ctx context.Context, postings int) (*model.Run, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus, summary *model.RunSummary) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

// ErrNotFound is returned by lookups that require a row.
var ErrNotFound = eris.New("not found")

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}

type scannable interface {
	Scan(dest ...any) error
}

const companyColumns = `id, name, normalized_name, legal_name, tax_id, domain, social_url, revenue, employees,
	sector, city, state, contacts, triggers, sources, enriched_at, created_at, updated_at`

func scanCompany(row scannable) (*model.Company, error) {
	var c model.Company
	var contacts, triggers, sources []byte
	err := row.Scan(&c.ID, &c.Name, &c.NormalizedName, &c.LegalName, &c.TaxID, &c.Domain, &c.SocialURL,
		&c.Revenue, &c.Employees, &c.Sector, &c.City, &c.State,
		&contacts, &triggers, &sources, &c.EnrichedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(contacts, &c.Contacts); err != nil {
		return nil, eris.Wrap(err, "unmarshal contacts")
	}
	if err := unmarshalJSON(triggers, &c.Triggers); err != nil {
		return nil, eris.Wrap(err, "unmarshal triggers")
	}
	if err := unmarshalJSON(sources, &c.Sources); err != nil {
		return nil, eris.Wrap(err, "unmarshal sources")
	}
	return &c, nil
}

// companyJSON holds the serialized list columns of a company.
type companyJSON struct {
	contacts []byte
	triggers []byte
	sources  []byte
}

func marshalCompany(c *model.Company) (companyJSON, error) {
	var out companyJSON
	var err error
	if out.contacts, err = marshalJSON(c.Contacts, "[]"); err != nil {
		return out, eris.Wrap(err, "marshal contacts")
	}
	if out.triggers, err = marshalJSON(c.Triggers, "[]"); err != nil {
		return out, eris.Wrap(err, "marshal triggers")
	}
	if out.sources, err = marshalJSON(c.Sources, "{}"); err != nil {
		return out, eris.Wrap(err, "marshal sources")
	}
	return out, nil
}

const leadColumns = `id, company_id, trigger_job, related_jobs, suggested_contacts, score, fresh, created_at, updated_at`

func scanLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var trigger, related, contacts []byte
	err := row.Scan(&l.ID, &l.CompanyID, &trigger, &related, &contacts, &l.Score, &l.Fresh, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(trigger, &l.TriggerJob); err != nil {
		return nil, eris.Wrap(err, "unmarshal trigger job")
	}
	if err := unmarshalJSON(related, &l.RelatedJobs); err != nil {
		return nil, eris.Wrap(err, "unmarshal related jobs")
	}
	if err := unmarshalJSON(contacts, &l.Contacts); err != nil {
		return nil, eris.Wrap(err, "unmarshal suggested contacts")
	}
	return &l, nil
}

type leadJSON struct {
	trigger  []byte
	related  []byte
	contacts []byte
}

func marshalLead(l *model.Lead) (leadJSON, error) {
	var out leadJSON
	var err error
	if out.trigger, err = json.Marshal(l.TriggerJob); err != nil {
		return out, eris.Wrap(err, "marshal trigger job")
	}
	if out.related, err = marshalJSON(l.RelatedJobs, "[]"); err != nil {
		return out, eris.Wrap(err, "marshal related jobs")
	}
	if out.contacts, err = marshalJSON(l.Contacts, "[]"); err != nil {
		return out, eris.Wrap(err, "marshal suggested contacts")
	}
	return out, nil
}

func scanRegistry(row scannable) (*model.RegistryRecord, error) {
	var r model.RegistryRecord
	var partners []byte
	if err := row.Scan(&r.TaxID, &r.LegalName, &r.TradeName, &r.Sector, &r.City, &r.State, &r.Status, &r.Capital, &partners); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(partners, &r.Partners); err != nil {
		return nil, eris.Wrap(err, "unmarshal partners")
	}
	return &r, nil
}

// registryName is the lookup key of a registry record: the normalized
// trade name when present, otherwise the normalized legal name.
func registryName(r model.RegistryRecord) string {
	if n := company.NormalizeName(r.TradeName); n != "" {
		return n
	}
	return company.NormalizeName(r.LegalName)
}

// marshalJSON encodes v, substituting empty for nil slices and maps.
func marshalJSON(v any, empty string) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return []byte(empty), nil
	}
	return b, nil
}

func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func newRun(postings int) *model.Run {
	now := time.Now().UTC()
	return &model.Run{
		ID:        uuid.New().String(),
		Status:    model.RunStatusRunning,
		Postings:  postings,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var status string
	var summary []byte
	if err := row.Scan(&r.ID, &status, &r.Postings, &summary, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	if len(summary) > 0 && string(summary) != "null" {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal(summary, r.Summary); err != nil {
			return nil, eris.Wrap(err, "unmarshal run summary")
		}
	}
	return &r, nil
}

func limitOr(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
