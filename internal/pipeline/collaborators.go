package pipeline

import (
	"context"

	"github.com/sells-group/leadgen-cli/internal/model"
)

// Every collaborator is named by the external provider it calls. The name
// keys its resilience policy, breaker and queue, and its cache namespace.
type named interface {
	Name() string
}

// ProfileExtractor reads a company profile page and extracts the tax ID
// printed on it. It returns "" when the page carries none.
type ProfileExtractor interface {
	named
	ExtractTaxID(ctx context.Context, profileURL string) (string, error)
}

// RegistryLookup resolves a tax ID to its corporate-registry record.
// Unknown tax IDs fail with a permanent error wrapping ErrNotInRegistry.
type RegistryLookup interface {
	named
	Lookup(ctx context.Context, taxID string) (*model.RegistryRecord, error)
}

// LocalRegistry is the bulk-loaded registry table. Lookups return
// (nil, nil) on a miss.
type LocalRegistry interface {
	GetRegistryRecord(ctx context.Context, taxID string) (*model.RegistryRecord, error)
	FindRegistryByName(ctx context.Context, name string) (*model.RegistryRecord, error)
}

// WebSearch finds a company's tax ID through AI-assisted web search.
// It returns "" when the search is inconclusive.
type WebSearch interface {
	named
	FindTaxID(ctx context.Context, name, location string) (string, error)
}

// Financials is a size and revenue estimate for one company.
type Financials struct {
	Revenue    float64 `json:"revenue"`
	Employees  int     `json:"employees"`
	Sector     string  `json:"sector"`
	Confidence float64 `json:"confidence"`
}

// FinancialEstimator estimates revenue, headcount and sector.
type FinancialEstimator interface {
	named
	Estimate(ctx context.Context, c *model.Company) (*Financials, error)
}

// ContactFinder suggests people to reach at a company.
type ContactFinder interface {
	named
	FindContacts(ctx context.Context, c *model.Company) ([]model.Contact, error)
}

// EventFinder lists recent buying-trigger events for a company.
type EventFinder interface {
	named
	FindEvents(ctx context.Context, c *model.Company) ([]model.Trigger, error)
}

// Collaborators are the external providers the pipeline calls. A nil
// collaborator is skipped.
type Collaborators struct {
	Profile    ProfileExtractor
	Registry   RegistryLookup
	Local      LocalRegistry
	Search     WebSearch
	Financials FinancialEstimator
	Contacts   ContactFinder
	Events     EventFinder
}

// CanIdentify reports whether at least one identify source is configured.
func (c Collaborators) CanIdentify() bool {
	return c.Profile != nil || c.Local != nil || c.Search != nil
}
