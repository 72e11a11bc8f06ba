package model

import "time"

// Company field keys. They name columns in the merge rule table and the
// per-field provenance map.
const (
	FieldName      = "name"
	FieldLegalName = "legal_name"
	FieldTaxID     = "tax_id"
	FieldDomain    = "domain"
	FieldSocialURL = "social_url"
	FieldRevenue   = "revenue"
	FieldEmployees = "employees"
	FieldSector    = "sector"
	FieldCity      = "city"
	FieldState     = "state"
	FieldContacts  = "contacts"
	FieldTriggers  = "triggers"
)

// Company is the deduplicated golden record for one real-world business.
// Enrichment fields are filled incrementally; Sources records which provider
// supplied each populated field and with what confidence.
type Company struct {
	ID             int64                  `json:"id" db:"id"`
	Name           string                 `json:"name" db:"name"`
	NormalizedName string                 `json:"normalized_name" db:"normalized_name"`
	LegalName      string                 `json:"legal_name,omitempty" db:"legal_name"`
	TaxID          string                 `json:"tax_id,omitempty" db:"tax_id"`
	Domain         string                 `json:"domain,omitempty" db:"domain"`
	SocialURL      string                 `json:"social_url,omitempty" db:"social_url"`
	Revenue        float64                `json:"revenue,omitempty" db:"revenue"`
	Employees      int                    `json:"employees,omitempty" db:"employees"`
	Sector         string                 `json:"sector,omitempty" db:"sector"`
	City           string                 `json:"city,omitempty" db:"city"`
	State          string                 `json:"state,omitempty" db:"state"`
	Contacts       []Contact              `json:"contacts,omitempty" db:"contacts"`
	Triggers       []Trigger              `json:"triggers,omitempty" db:"triggers"`
	Sources        map[string]FieldSource `json:"sources,omitempty" db:"sources"`
	EnrichedAt     *time.Time             `json:"enriched_at,omitempty" db:"enriched_at"`
	CreatedAt      time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at" db:"updated_at"`
}

// FieldSource records where a field value came from.
type FieldSource struct {
	Source     string    `json:"source"`
	Confidence float64   `json:"confidence"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Trigger is a recent event that makes a company more likely to buy
// (funding round, expansion, new office, leadership change).
type Trigger struct {
	Kind  string     `json:"kind"`
	Title string     `json:"title"`
	URL   string     `json:"url,omitempty"`
	Date  *time.Time `json:"date,omitempty"`
}

// IsStale reports whether the company needs re-enrichment: it was never
// enriched, or the last enrichment is older than window.
func (c *Company) IsStale(now time.Time, window time.Duration) bool {
	if c.EnrichedAt == nil {
		return true
	}
	return now.Sub(*c.EnrichedAt) > window
}

// Source returns the provenance of field, if any.
func (c *Company) Source(field string) (FieldSource, bool) {
	if c.Sources == nil {
		return FieldSource{}, false
	}
	s, ok := c.Sources[field]
	return s, ok
}

// SetSource records the provenance of field.
func (c *Company) SetSource(field string, src FieldSource) {
	if c.Sources == nil {
		c.Sources = make(map[string]FieldSource)
	}
	c.Sources[field] = src
}
