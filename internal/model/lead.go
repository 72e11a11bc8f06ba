package model

import (
	"strings"
	"time"
)

// Lead is a sales opportunity for one company, triggered by a job posting.
type Lead struct {
	ID          int64        `json:"id" db:"id"`
	CompanyID   int64        `json:"company_id" db:"company_id"`
	TriggerJob  RelatedJob   `json:"trigger_job" db:"trigger_job"`
	RelatedJobs []RelatedJob `json:"related_jobs" db:"related_jobs"`
	Contacts    []Contact    `json:"suggested_contacts" db:"suggested_contacts"`
	Score       int          `json:"score" db:"score"`
	Fresh       bool         `json:"fresh" db:"fresh"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
}

// RelatedJob is a job posting attached to a lead.
type RelatedJob struct {
	Title    string    `json:"title"`
	URL      string    `json:"url"`
	PostedAt time.Time `json:"posted_at"`
}

// Contact is a suggested person to reach at a company.
type Contact struct {
	Name   string `json:"name"`
	Role   string `json:"role,omitempty"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
	Source string `json:"source"`
}

// Key identifies a contact for de-duplication: email when present,
// otherwise the lower-cased name.
func (c Contact) Key() string {
	if c.Email != "" {
		return strings.ToLower(strings.TrimSpace(c.Email))
	}
	return strings.ToLower(strings.Join(strings.Fields(c.Name), " "))
}

// Note is a free-text annotation on a lead. CompanyID is denormalized so a
// merge can move notes together with their leads.
type Note struct {
	ID        int64     `json:"id" db:"id"`
	CompanyID int64     `json:"company_id" db:"company_id"`
	LeadID    int64     `json:"lead_id" db:"lead_id"`
	Body      string    `json:"body" db:"body"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// MergeRelatedJobs appends incoming jobs that are not already present,
// de-duplicating by URL. Jobs without a URL are de-duplicated by title.
// It returns the merged list and how many jobs were added.
func MergeRelatedJobs(existing, incoming []RelatedJob) ([]RelatedJob, int) {
	seen := make(map[string]bool, len(existing)+len(incoming))
	out := make([]RelatedJob, 0, len(existing)+len(incoming))
	for _, j := range existing {
		k := j.key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, j)
	}
	added := 0
	for _, j := range incoming {
		k := j.key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, j)
		added++
	}
	return out, added
}

func (j RelatedJob) key() string {
	if u := strings.TrimRight(strings.TrimSpace(j.URL), "/"); u != "" {
		return "url:" + strings.ToLower(u)
	}
	return "title:" + strings.ToLower(strings.TrimSpace(j.Title))
}
