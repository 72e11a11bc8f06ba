package export

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/company"
	"github.com/sells-group/leadgen-cli/pkg/notion"
	"github.com/sells-group/leadgen-cli/pkg/salesforce"
)

// Sink receives leads outside the local store.
type Sink interface {
	Name() string
	// Push creates or updates the record for r. It returns the remote ID
	// and whether the record was created.
	Push(ctx context.Context, r Row) (string, bool, error)
}

// Preloader is a Sink that can index the remote side before a bulk push.
type Preloader interface {
	Preload(ctx context.Context) error
}

// PushResult tallies one Push call over many rows.
type PushResult struct {
	Sink    string   `json:"sink"`
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// Push sends rows to sink one at a time. A failed row is recorded and the
// rest still go out; only context cancellation stops early.
func Push(ctx context.Context, sink Sink, rows []Row) (*PushResult, error) {
	res := &PushResult{Sink: sink.Name()}
	if p, ok := sink.(Preloader); ok && len(rows) > 1 {
		// Without the index every row is looked up on its own.
		if err := p.Preload(ctx); err != nil {
			zap.L().Warn("export: preload failed", zap.String("sink", sink.Name()), zap.Error(err))
		}
	}
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "export: push canceled")
		}
		id, created, err := sink.Push(ctx, r)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("lead %d (%s): %v", r.Lead.ID, r.Company.Name, err))
			zap.L().Warn("export: push failed",
				zap.String("sink", sink.Name()),
				zap.Int64("lead_id", r.Lead.ID),
				zap.Error(err),
			)
			continue
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
		zap.L().Debug("export: pushed lead",
			zap.String("sink", sink.Name()),
			zap.Int64("lead_id", r.Lead.ID),
			zap.String("remote_id", id),
			zap.Bool("created", created),
		)
	}
	return res, nil
}

// NotionSink upserts leads as pages of a Notion database.
type NotionSink struct {
	Mirror *notion.Mirror
}

// NewNotionSink mirrors leads into the database dbID.
func NewNotionSink(c notion.Client, dbID string) NotionSink {
	return NotionSink{Mirror: notion.NewMirror(c, dbID)}
}

// Name implements Sink.
func (NotionSink) Name() string { return "notion" }

// Preload implements Preloader.
func (s NotionSink) Preload(ctx context.Context) error { return s.Mirror.Preload(ctx) }

// Push implements Sink.
func (s NotionSink) Push(ctx context.Context, r Row) (string, bool, error) {
	page := notion.LeadPage{
		LeadID:    r.Lead.ID,
		Company:   r.Company.Name,
		Score:     r.Lead.Score,
		Priority:  Priority(r.Lead.Score),
		JobTitle:  r.Lead.TriggerJob.Title,
		JobURL:    r.Lead.TriggerJob.URL,
		UpdatedAt: r.Lead.UpdatedAt,
	}
	if r.Company.TaxID != "" {
		page.TaxID = company.FormatTaxID(r.Company.TaxID)
	}
	for _, ct := range r.Lead.Contacts {
		page.Contacts = append(page.Contacts, ContactLabel(ct))
	}
	if page.UpdatedAt.IsZero() {
		page.UpdatedAt = time.Now().UTC()
	}
	return s.Mirror.Push(ctx, page)
}

// SalesforceSink upserts each lead's company as an Account. Suggested
// contacts are inserted only when the Account is new, so repeated pushes
// do not duplicate them.
type SalesforceSink struct {
	Client salesforce.Client
}

// Name implements Sink.
func (SalesforceSink) Name() string { return "salesforce" }

// Push implements Sink.
func (s SalesforceSink) Push(ctx context.Context, r Row) (string, bool, error) {
	c := r.Company
	in := salesforce.AccountInput{
		Name:          c.Name,
		TaxID:         c.TaxID,
		Website:       c.Domain,
		Industry:      c.Sector,
		City:          c.City,
		State:         c.State,
		Employees:     c.Employees,
		AnnualRevenue: c.Revenue,
		Rating:        rating(r.Lead.Score),
		Description:   description(r),
	}
	if c.LegalName != "" {
		in.Name = c.LegalName
	}

	id, created, err := salesforce.UpsertAccount(ctx, s.Client, in)
	if err != nil {
		return "", false, err
	}
	if !created || len(r.Lead.Contacts) == 0 {
		return id, created, nil
	}

	contacts := make([]salesforce.ContactInput, 0, len(r.Lead.Contacts))
	for _, ct := range r.Lead.Contacts {
		contacts = append(contacts, salesforce.ContactInput{Name: ct.Name, Title: ct.Role, Email: ct.Email, Phone: ct.Phone})
	}
	results, err := salesforce.InsertContacts(ctx, s.Client, id, contacts)
	if err != nil {
		return id, created, err
	}
	for _, res := range results {
		if !res.Success {
			return id, created, eris.Errorf("salesforce: contact rejected: %s", strings.Join(res.Errors, "; "))
		}
	}
	return id, created, nil
}

// rating maps a priority onto the standard Account Rating picklist.
func rating(score int) string {
	p := Priority(score)
	return strings.ToUpper(p[:1]) + p[1:]
}

func description(r Row) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Lead score %d.", r.Lead.Score)
	if j := r.Lead.TriggerJob; j.Title != "" {
		fmt.Fprintf(&b, " Hiring: %s", j.Title)
		if j.URL != "" {
			fmt.Fprintf(&b, " (%s)", j.URL)
		}
		b.WriteString(".")
	}
	if n := len(r.Lead.RelatedJobs); n > 1 {
		fmt.Fprintf(&b, " %d open postings.", n)
	}
	return b.String()
}
