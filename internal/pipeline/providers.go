package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen-cli/internal/company"
	"github.com/sells-group/leadgen-cli/internal/cost"
	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/resilience"
	"github.com/sells-group/leadgen-cli/pkg/anthropic"
	"github.com/sells-group/leadgen-cli/pkg/cnpj"
	"github.com/sells-group/leadgen-cli/pkg/jina"
	"github.com/sells-group/leadgen-cli/pkg/perplexity"
)

// Provider names. They key resilience policies and usage records.
const (
	ProviderJina       = "jina"
	ProviderCNPJ       = "cnpj"
	ProviderPerplexity = "perplexity"
	ProviderAnthropic  = "anthropic"
)

var taxIDPattern = regexp.MustCompile(`\b\d{2}\.?\d{3}\.?\d{3}/?\d{4}-?\d{2}\b`)

// FindTaxID returns the first tax ID with valid check digits in text.
func FindTaxID(text string) string {
	for _, m := range taxIDPattern.FindAllString(text, -1) {
		if n := company.NormalizeTaxID(m); company.ValidTaxID(n) {
			return n
		}
	}
	return ""
}

// JinaProfile reads profile pages through Jina Reader.
type JinaProfile struct {
	Client jina.Client
}

// Name implements ProfileExtractor.
func (JinaProfile) Name() string { return ProviderJina }

// ExtractTaxID implements ProfileExtractor.
func (j JinaProfile) ExtractTaxID(ctx context.Context, profileURL string) (string, error) {
	page, err := j.Client.Read(ctx, profileURL)
	if err != nil {
		return "", err
	}
	cost.RecordFrom(ctx, cost.Usage{Provider: ProviderJina, Operation: "read", Tokens: page.Tokens})
	return FindTaxID(page.Content), nil
}

// CNPJRegistry looks tax IDs up in the public registry API.
type CNPJRegistry struct {
	Client cnpj.Client
}

// Name implements RegistryLookup.
func (CNPJRegistry) Name() string { return ProviderCNPJ }

// Lookup implements RegistryLookup.
func (r CNPJRegistry) Lookup(ctx context.Context, taxID string) (*model.RegistryRecord, error) {
	c, err := r.Client.Lookup(ctx, taxID)
	if err != nil {
		if errors.Is(err, cnpj.ErrNotFound) {
			return nil, resilience.NewValidationError(eris.Wrap(ErrNotInRegistry, taxID))
		}
		return nil, err
	}
	cost.RecordFrom(ctx, cost.Usage{Provider: ProviderCNPJ, Operation: "lookup"})
	rec := c.Record()
	rec.TaxID = company.NormalizeTaxID(rec.TaxID)
	if rec.TaxID == "" {
		rec.TaxID = taxID
	}
	return &rec, nil
}

const searchSystem = "You research Brazilian companies. Answer with facts found on the web only. " +
	"When you are not sure, say so instead of guessing."

// PerplexitySearch finds tax IDs through Perplexity web search.
type PerplexitySearch struct {
	Client perplexity.Client
}

// Name implements WebSearch.
func (PerplexitySearch) Name() string { return ProviderPerplexity }

// FindTaxID implements WebSearch.
func (s PerplexitySearch) FindTaxID(ctx context.Context, name, location string) (string, error) {
	q := fmt.Sprintf("What is the CNPJ of the company %q", name)
	if location != "" {
		q += fmt.Sprintf(" located in %s", location)
	}
	q += "? Reply with the CNPJ number only."

	ans, err := s.Client.Search(ctx, perplexity.Query{System: searchSystem, Question: q})
	if err != nil {
		return "", err
	}
	cost.RecordFrom(ctx, cost.Usage{Provider: ProviderPerplexity, Operation: "find_tax_id"})
	return FindTaxID(ans.Text), nil
}

// PerplexityContacts suggests decision makers through Perplexity.
type PerplexityContacts struct {
	Client perplexity.Client
}

// Name implements ContactFinder.
func (PerplexityContacts) Name() string { return ProviderPerplexity }

// FindContacts implements ContactFinder.
func (s PerplexityContacts) FindContacts(ctx context.Context, c *model.Company) ([]model.Contact, error) {
	q := fmt.Sprintf(`List up to 5 decision makers (founders, C-level, HR or engineering leads) at %s.
Reply with JSON only: {"contacts":[{"name":"","role":"","email":"","phone":""}]}. Leave unknown fields empty.`, describe(c))

	ans, err := s.Client.Search(ctx, perplexity.Query{System: searchSystem, Question: q})
	if err != nil {
		return nil, err
	}
	cost.RecordFrom(ctx, cost.Usage{Provider: ProviderPerplexity, Operation: "find_contacts"})

	var out struct {
		Contacts []model.Contact `json:"contacts"`
	}
	if err := decodeObject(ans.Text, &out); err != nil {
		return nil, resilience.NewValidationError(eris.Wrap(err, "perplexity: contacts"))
	}
	for i := range out.Contacts {
		out.Contacts[i].Source = ProviderPerplexity
	}
	return out.Contacts, nil
}

// PerplexityEvents finds recent buying triggers through Perplexity.
type PerplexityEvents struct {
	Client perplexity.Client
	now    func() time.Time
}

// Name implements EventFinder.
func (PerplexityEvents) Name() string { return ProviderPerplexity }

// FindEvents implements EventFinder.
func (s PerplexityEvents) FindEvents(ctx context.Context, c *model.Company) ([]model.Trigger, error) {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	since := now().AddDate(0, -6, 0)
	q := fmt.Sprintf(`Find news since %s about %s: funding rounds, expansion, new offices, acquisitions or leadership changes.
Reply with JSON only: {"events":[{"kind":"funding|expansion|office|acquisition|leadership","title":"","url":"","date":"YYYY-MM-DD"}]}.`,
		since.Format("2006-01-02"), describe(c))

	ans, err := s.Client.Search(ctx, perplexity.Query{System: searchSystem, Question: q, After: since})
	if err != nil {
		return nil, err
	}
	cost.RecordFrom(ctx, cost.Usage{Provider: ProviderPerplexity, Operation: "find_events"})

	var out struct {
		Events []struct {
			Kind  string `json:"kind"`
			Title string `json:"title"`
			URL   string `json:"url"`
			Date  string `json:"date"`
		} `json:"events"`
	}
	if err := decodeObject(ans.Text, &out); err != nil {
		return nil, resilience.NewValidationError(eris.Wrap(err, "perplexity: events"))
	}
	var triggers []model.Trigger
	for _, e := range out.Events {
		if strings.TrimSpace(e.Title) == "" {
			continue
		}
		t := model.Trigger{Kind: strings.ToLower(strings.TrimSpace(e.Kind)), Title: strings.TrimSpace(e.Title), URL: e.URL}
		if d, err := time.Parse("2006-01-02", e.Date); err == nil {
			t.Date = &d
		}
		triggers = append(triggers, t)
	}
	return triggers, nil
}

const financialsSystem = `You estimate the size of Brazilian companies from what you know about them.
Reply with JSON only: {"revenue": <annual revenue in BRL>, "employees": <headcount>, "sector": "<sector>", "confidence": <0..1>}.
Use 0 for values you cannot estimate.`

// AnthropicFinancials estimates revenue and headcount with Claude.
type AnthropicFinancials struct {
	Client    anthropic.Client
	Model     string
	MaxTokens int64
}

// Name implements FinancialEstimator.
func (AnthropicFinancials) Name() string { return ProviderAnthropic }

// Estimate implements FinancialEstimator.
func (a AnthropicFinancials) Estimate(ctx context.Context, c *model.Company) (*Financials, error) {
	maxTokens := a.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	resp, err := a.Client.Complete(ctx, anthropic.Prompt{
		Model:       a.Model,
		MaxTokens:   maxTokens,
		System:      financialsSystem,
		User:        "Company: " + describe(c),
		Prefill:     "{",
		CacheSystem: true,
	})
	if err != nil {
		return nil, err
	}
	cost.RecordFrom(ctx, cost.Usage{
		Provider:     ProviderAnthropic,
		Operation:    "estimate_financials",
		Model:        a.Model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		CacheWrite:   resp.Usage.CacheWrite,
		CacheRead:    resp.Usage.CacheRead,
	})

	var f Financials
	if err := anthropic.DecodeJSON(resp, &f); err != nil {
		return nil, resilience.NewValidationError(err)
	}
	if f.Revenue < 0 || f.Employees < 0 {
		return nil, resilience.NewValidationError(eris.Errorf("anthropic: negative estimate %+v", f))
	}
	f.Confidence = min(max(f.Confidence, 0), 1)
	return &f, nil
}

// describe renders the identifying facts of c for a prompt.
func describe(c *model.Company) string {
	parts := []string{fmt.Sprintf("%q", c.Name)}
	if c.LegalName != "" && !strings.EqualFold(c.LegalName, c.Name) {
		parts = append(parts, "legal name "+c.LegalName)
	}
	if c.TaxID != "" {
		parts = append(parts, "CNPJ "+company.FormatTaxID(c.TaxID))
	}
	if c.Domain != "" {
		parts = append(parts, "website "+c.Domain)
	}
	if c.City != "" {
		parts = append(parts, "based in "+strings.TrimSpace(c.City+" "+c.State))
	}
	return strings.Join(parts, ", ")
}

func decodeObject(text string, out any) error {
	raw, ok := anthropic.ExtractJSON(text)
	if !ok {
		return eris.New("no json object in response")
	}
	return json.Unmarshal([]byte(raw), out)
}
