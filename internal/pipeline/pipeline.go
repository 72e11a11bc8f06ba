// Package pipeline turns batches of job postings into scored leads. Each
// company in a batch runs through a fixed state machine:
// Discover, Identify, Validate, Enrich, Score, Persist.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/cache"
	"github.com/sells-group/leadgen-cli/internal/company"
	"github.com/sells-group/leadgen-cli/internal/config"
	"github.com/sells-group/leadgen-cli/internal/cost"
	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/resilience"
)

// ErrInvalidConfig is returned by Run before any work starts when the
// pipeline cannot satisfy its own configuration.
var ErrInvalidConfig = eris.New("pipeline: invalid configuration")

// Store is the persistence the pipeline needs.
type Store interface {
	company.Store
	UpdateCompany(ctx context.Context, c *model.Company) error
	LatestLead(ctx context.Context, companyID int64) (*model.Lead, error)
	CreateLead(ctx context.Context, l *model.Lead) error
	UpdateLead(ctx context.Context, l *model.Lead) error
	CreateRun(ctx context.Context, postings int) (*model.Run, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus, summary *model.RunSummary) error
}

// Options are the stage machine settings.
type Options struct {
	RequireTaxID      bool
	FreshnessWindow   time.Duration
	ValidateThreshold int
	EnrichConcurrency int
	MaxContacts       int
	Weights           Weights
	Policy            Policy
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config, policy Policy) Options {
	return Options{
		RequireTaxID:      cfg.Pipeline.RequireTaxID,
		FreshnessWindow:   cfg.Pipeline.FreshnessWindow(),
		ValidateThreshold: cfg.Pipeline.ValidateThreshold,
		EnrichConcurrency: cfg.Pipeline.EnrichConcurrency,
		Weights:           WeightsFromConfig(cfg.Scoring),
		Policy:            policy,
	}
}

func (o Options) withDefaults() Options {
	if o.FreshnessWindow <= 0 {
		o.FreshnessWindow = 30 * 24 * time.Hour
	}
	if o.ValidateThreshold <= 0 {
		o.ValidateThreshold = 70
	}
	if o.EnrichConcurrency <= 0 {
		o.EnrichConcurrency = 3
	}
	if o.MaxContacts <= 0 {
		o.MaxContacts = 10
	}
	if o.Policy.Identify == nil && o.Policy.Enrich == nil {
		o.Policy = DefaultPolicy()
	}
	return o
}

func (o Options) weights() Weights {
	if o.Policy.Scoring != nil {
		return *o.Policy.Scoring
	}
	return o.Weights
}

// Pipeline runs batches. It is safe to reuse across runs but not to run
// two batches at once against the same store.
type Pipeline struct {
	store    Store
	engine   *company.Engine
	cache    *cache.Cache
	registry *resilience.ProviderRegistry
	recorder *cost.Recorder
	collab   Collaborators
	opts     Options
	now      func() time.Time
	hooks    []func(*BatchResult)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRecorder prices and records paid calls. Without one, spend is not
// tracked.
func WithRecorder(r *cost.Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithCache puts provider calls behind the read-through cache.
func WithCache(c *cache.Cache) Option {
	return func(p *Pipeline) { p.cache = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithBatchHook registers fn to run after every batch.
func WithBatchHook(fn func(*BatchResult)) Option {
	return func(p *Pipeline) { p.hooks = append(p.hooks, fn) }
}

// New creates a Pipeline. engine resolves and merges companies over st;
// reg applies retry, circuit breaking and rate limits per provider.
func New(st Store, engine *company.Engine, reg *resilience.ProviderRegistry, collab Collaborators, opts Options, popts ...Option) *Pipeline {
	p := &Pipeline{
		store:    st,
		engine:   engine,
		registry: reg,
		collab:   collab,
		opts:     opts.withDefaults(),
		now:      time.Now,
	}
	for _, o := range popts {
		o(p)
	}
	if p.registry == nil {
		p.registry = resilience.NewProviderRegistry(resilience.DefaultPolicy())
	}
	if p.recorder == nil {
		p.recorder = cost.NewRecorder(nil, nil)
	}
	return p
}

// RunOptions bound one batch.
type RunOptions struct {
	// MaxCompanies caps the company groups processed. Zero means no cap.
	MaxCompanies int
	// Budget is the wall-clock budget. Groups not started before it runs
	// out are skipped, and a group in progress starts no further stage.
	// Zero means unbounded.
	Budget time.Duration
}

// GroupResult is the end state of one company group.
type GroupResult struct {
	Company     string   `json:"company"`
	CompanyID   int64    `json:"company_id,omitempty"`
	Stage       string   `json:"stage"`
	Reason      string   `json:"reason,omitempty"`
	LeadID      int64    `json:"lead_id,omitempty"`
	LeadCreated bool     `json:"lead_created,omitempty"`
	Score       int      `json:"score"`
	Errors      []string `json:"errors,omitempty"`
}

// BatchResult summarizes a run.
type BatchResult struct {
	RunID              string        `json:"run_id"`
	JobsSeen           int           `json:"jobs_seen"`
	CompaniesProcessed int           `json:"companies_processed"`
	CompaniesSkipped   int           `json:"companies_skipped"`
	CompaniesDiscarded int           `json:"companies_discarded"`
	LeadsCreated       int           `json:"leads_created"`
	LeadsUpdated       int           `json:"leads_updated"`
	Errors             []string      `json:"errors,omitempty"`
	Duration           time.Duration `json:"duration"`
	CostUSD            float64       `json:"cost_usd"`
	Groups             []GroupResult `json:"groups,omitempty"`
}

// FailureRate is the share of processed companies that ended with at least
// one error.
func (r *BatchResult) FailureRate() float64 {
	if r.CompaniesProcessed == 0 {
		return 0
	}
	failed := 0
	for _, g := range r.Groups {
		if len(g.Errors) > 0 {
			failed++
		}
	}
	return float64(failed) / float64(r.CompaniesProcessed)
}

// Summary converts r to its persisted form.
func (r *BatchResult) Summary() *model.RunSummary {
	return &model.RunSummary{
		JobsSeen:           r.JobsSeen,
		CompaniesProcessed: r.CompaniesProcessed,
		CompaniesSkipped:   r.CompaniesSkipped,
		CompaniesDiscarded: r.CompaniesDiscarded,
		LeadsCreated:       r.LeadsCreated,
		LeadsUpdated:       r.LeadsUpdated,
		Errors:             r.Errors,
		DurationMs:         r.Duration.Milliseconds(),
		CostUSD:            r.CostUSD,
	}
}

func (p *Pipeline) validate() error {
	if p.store == nil || p.engine == nil {
		return eris.Wrap(ErrInvalidConfig, "store and company engine are required")
	}
	if p.opts.RequireTaxID && !p.collab.CanIdentify() {
		return eris.Wrap(ErrInvalidConfig, "require_tax_id is set but no identify source is configured")
	}
	if err := p.opts.Policy.validate(); err != nil {
		return eris.Wrap(ErrInvalidConfig, err.Error())
	}
	return nil
}

// Run processes one batch. Per-company failures never abort the batch; they
// are collected in the result. Run returns an error only for an invalid
// configuration.
func (p *Pipeline) Run(ctx context.Context, postings []model.JobPosting, ro RunOptions) (*BatchResult, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	start := p.now()
	res := &BatchResult{JobsSeen: len(postings)}

	run, err := p.store.CreateRun(ctx, len(postings))
	if err != nil {
		zap.L().Warn("pipeline: create run record failed", zap.Error(err))
		res.RunID = uuid.NewString()
	} else {
		res.RunID = run.ID
	}

	rec := p.recorder.ForRun(res.RunID)
	ctx = cost.WithRecorder(ctx, rec)

	var deadline time.Time
	if ro.Budget > 0 {
		deadline = start.Add(ro.Budget)
	}

	groups := GroupPostings(postings)
	log := zap.L().With(zap.String("run_id", res.RunID))
	log.Info("pipeline: batch started",
		zap.Int("postings", len(postings)),
		zap.Int("companies", len(groups)),
		zap.Int("max_companies", ro.MaxCompanies),
		zap.Duration("budget", ro.Budget),
	)

	for i, g := range groups {
		if ro.MaxCompanies > 0 && i >= ro.MaxCompanies {
			res.CompaniesSkipped = len(groups) - i
			log.Info("pipeline: company cap reached", zap.Int("skipped", res.CompaniesSkipped))
			break
		}
		if p.pastDeadline(deadline) {
			res.CompaniesSkipped = len(groups) - i
			log.Warn("pipeline: budget exhausted", zap.Int("skipped", res.CompaniesSkipped))
			break
		}
		if ctx.Err() != nil {
			res.CompaniesSkipped = len(groups) - i
			log.Warn("pipeline: cancelled", zap.Int("skipped", res.CompaniesSkipped))
			break
		}

		gr := p.processGroup(ctx, g, deadline)
		res.CompaniesProcessed++
		res.Groups = append(res.Groups, gr)
		res.Errors = append(res.Errors, gr.Errors...)
		switch {
		case gr.Reason == ReasonBudgetExhausted:
			// Processed, but neither discarded nor persisted.
		case gr.Stage == StageDiscarded.String() && gr.Reason != "":
			res.CompaniesDiscarded++
		case gr.LeadID != 0 && gr.LeadCreated:
			res.LeadsCreated++
		case gr.LeadID != 0:
			res.LeadsUpdated++
		}
	}

	res.Duration = p.now().Sub(start)
	res.CostUSD = rec.Total()

	status := model.RunStatusComplete
	if ctx.Err() != nil {
		status = model.RunStatusFailed
	}
	// The run record is closed even when the caller's context is done.
	if err := p.store.FinishRun(context.WithoutCancel(ctx), res.RunID, status, res.Summary()); err != nil {
		log.Warn("pipeline: finish run record failed", zap.Error(err))
	}

	log.Info("pipeline: batch complete",
		zap.Int("processed", res.CompaniesProcessed),
		zap.Int("skipped", res.CompaniesSkipped),
		zap.Int("discarded", res.CompaniesDiscarded),
		zap.Int("leads_created", res.LeadsCreated),
		zap.Int("leads_updated", res.LeadsUpdated),
		zap.Int("errors", len(res.Errors)),
		zap.Duration("duration", res.Duration),
		zap.Float64("cost_usd", res.CostUSD),
	)

	for _, h := range p.hooks {
		h(res)
	}
	return res, nil
}

// Group is the postings of one company, keyed by normalized name.
type Group struct {
	Key      string
	Name     string
	Postings []model.JobPosting
}

// GroupPostings groups postings by normalized company name in first-seen
// order. Postings whose company name normalizes to nothing are dropped.
func GroupPostings(postings []model.JobPosting) []Group {
	idx := make(map[string]int)
	var groups []Group
	for _, jp := range postings {
		key := company.NormalizeName(jp.Company)
		if key == "" {
			continue
		}
		i, ok := idx[key]
		if !ok {
			i = len(groups)
			idx[key] = i
			groups = append(groups, Group{Key: key, Name: strings.TrimSpace(jp.Company)})
		}
		groups[i].Postings = append(groups[i].Postings, jp)
	}
	return groups
}

// companyRun is the mutable state of one group moving through the stages.
type companyRun struct {
	group   Group
	company *model.Company
	fresh   bool
	taxID   string

	// identified is set when this run found the tax ID.
	identified bool
	registry   *model.RegistryRecord
	score      ScoreBreakdown
	result     GroupResult
	log        *zap.Logger
}

func (r *companyRun) fail(stage Stage, err error) {
	r.result.Errors = append(r.result.Errors, fmt.Sprintf("%s: %s: %v", r.group.Name, stage, err))
}

// pastDeadline reports whether a non-zero deadline has been reached.
func (p *Pipeline) pastDeadline(deadline time.Time) bool {
	return !deadline.IsZero() && !p.now().Before(deadline)
}

func (p *Pipeline) processGroup(ctx context.Context, g Group, deadline time.Time) GroupResult {
	r := &companyRun{
		group:  g,
		result: GroupResult{Company: g.Name},
		log:    zap.L().With(zap.String("company", g.Name)),
	}

	stage := StageDiscover
	for !stage.Terminal() {
		// Discover was admitted by Run's own budget check.
		if stage != StageDiscover && p.pastDeadline(deadline) {
			r.log.Warn("pipeline: budget exhausted, company stopped", zap.String("stage", stage.String()))
			r.result.Reason = ReasonBudgetExhausted
			stage = StageDiscarded
			break
		}
		t0 := time.Now()
		var out Outcome
		switch stage {
		case StageDiscover:
			out = p.discover(ctx, r)
		case StageIdentify:
			out = p.identify(ctx, r)
		case StageValidate:
			out = p.validateTaxID(ctx, r)
		case StageEnrich:
			out = p.enrich(ctx, r)
		case StageScore:
			out = p.scoreCompany(r)
		case StagePersist:
			out = p.persist(ctx, r)
		}
		if out.Kind == OutcomeFailed && out.Err != nil {
			r.fail(stage, out.Err)
		}

		next := p.next(stage, out, r)
		r.log.Info("pipeline: stage done",
			zap.String("stage", stage.String()),
			zap.String("outcome", out.Kind.String()),
			zap.String("reason", out.Reason),
			zap.String("next", next.String()),
			zap.Duration("duration", time.Since(t0)),
		)
		if out.Kind == OutcomeDiscarded {
			r.result.Reason = out.Reason
		}
		stage = next
	}

	r.result.Stage = stage.String()
	if r.company != nil {
		r.result.CompanyID = r.company.ID
	}
	return r.result
}

// next is the transition table.
func (p *Pipeline) next(s Stage, out Outcome, r *companyRun) Stage {
	if out.Kind == OutcomeDiscarded {
		return StageDiscarded
	}
	failed := out.Kind == OutcomeFailed
	switch s {
	case StageDiscover:
		if failed {
			return StageDiscarded
		}
		if r.fresh {
			return StageScore
		}
		return StageIdentify
	case StageIdentify:
		return StageValidate
	case StageValidate:
		if failed && p.opts.RequireTaxID {
			return StageDiscarded
		}
		return StageEnrich
	case StageEnrich:
		return StageScore
	case StageScore:
		return StagePersist
	case StagePersist:
		if failed {
			return StageDiscarded
		}
		return StagePersisted
	}
	return StageDiscarded
}

func (p *Pipeline) source(name string) model.FieldSource {
	return model.FieldSource{Source: name, Confidence: p.opts.Policy.confidence(name), UpdatedAt: p.now().UTC()}
}

// discover resolves the group to a golden record and decides whether it
// needs enrichment.
func (p *Pipeline) discover(ctx context.Context, r *companyRun) Outcome {
	var domain, profile string
	for _, jp := range r.group.Postings {
		if domain == "" {
			domain = company.NormalizeDomain(jp.CompanyDomain)
		}
		if profile == "" {
			profile = company.NormalizeSocialURL(jp.CompanyProfileURL)
		}
	}

	c, created, err := p.engine.Resolve(ctx, company.Identity{Name: r.group.Name, Domain: domain, SocialURL: profile})
	if err != nil {
		return Failed(eris.Wrap(err, "resolve company"))
	}
	company.ApplyPatch(c, &model.Company{Domain: domain, SocialURL: profile}, p.source("posting"))

	r.company = c
	r.taxID = c.TaxID
	r.fresh = !created && !c.IsStale(p.now(), p.opts.FreshnessWindow)
	r.log = r.log.With(zap.Int64("company_id", c.ID))
	if r.fresh {
		r.log.Debug("pipeline: company is fresh, skipping enrichment")
	}
	return Ok()
}
