package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadgen-cli/internal/cache"
	"github.com/sells-group/leadgen-cli/internal/company"
	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/resilience"
)

// ErrNotInRegistry is wrapped by RegistryLookup implementations for tax IDs
// the registry does not know.
var ErrNotInRegistry = eris.New("pipeline: tax id not in registry")

var (
	// errNoResult marks an answer that carried nothing usable. It travels
	// as a permanent error so it is negative-cached and never retried.
	errNoResult = eris.New("pipeline: no result")
	// errNegativeCached is returned while a failure marker is live.
	errNegativeCached = eris.New("pipeline: recent failure cached")
)

// Cache namespaces.
const (
	nsProfile    = "profile"
	nsRegistry   = "registry"
	nsSearch     = "search"
	nsFinancials = "financials"
	nsContacts   = "contacts"
	nsEvents     = "events"
)

func noResult() error {
	return resilience.NewValidationError(errNoResult)
}

// quietMiss reports whether err means "nothing found" rather than a
// provider failure.
func quietMiss(err error) bool {
	return errors.Is(err, errNoResult) || errors.Is(err, errNegativeCached)
}

// call runs fetch under the provider's resilience policy, behind the cache
// when one is configured. A live failure marker short-circuits the call.
func call[T any](ctx context.Context, p *Pipeline, provider, ns, key string, fetch func(context.Context) (T, error)) (T, error) {
	guarded := func(ctx context.Context) (T, error) {
		return resilience.WithRetryAndRateLimit(ctx, p.registry, provider, fetch)
	}
	if p.cache == nil || strings.TrimSpace(key) == "" {
		return guarded(ctx)
	}

	var zero T
	if has, err := p.cache.HasKey(ctx, ns, key); err == nil && has {
		var v T
		hit, err := p.cache.Get(ctx, ns, key, &v)
		if err == nil && hit {
			return v, nil
		}
		if err == nil {
			return zero, errNegativeCached
		}
	}
	return cache.WithCache(ctx, p.cache, ns, key, guarded, func(v T) (T, error) { return v, nil }, 0)
}

// identify runs the identify chain until one source yields a tax ID with
// valid check digits.
func (p *Pipeline) identify(ctx context.Context, r *companyRun) Outcome {
	if r.taxID != "" {
		return Ok()
	}

	sawInvalid := false
	for _, src := range p.opts.Policy.Identify {
		taxID, rec, err := p.identifyFrom(ctx, src, r)
		switch {
		case err != nil && quietMiss(err):
			r.log.Debug("pipeline: identify source found nothing", zap.String("source", src))
			continue
		case err != nil:
			r.log.Warn("pipeline: identify source failed",
				zap.String("source", src),
				zap.String("class", resilience.ClassifyError(err)),
				zap.Error(err),
			)
			r.fail(StageIdentify, eris.Wrap(err, src))
			continue
		}
		norm := company.NormalizeTaxID(taxID)
		if norm == "" {
			continue
		}
		if !company.ValidTaxID(norm) {
			sawInvalid = true
			r.log.Debug("pipeline: tax id failed check digits", zap.String("source", src), zap.String("tax_id", norm))
			continue
		}
		r.taxID = norm
		r.identified = true
		r.registry = rec
		r.log.Info("pipeline: tax id identified", zap.String("source", src), zap.String("tax_id", norm))
		company.ApplyPatch(r.company, &model.Company{TaxID: norm}, p.source(src))
		return Ok()
	}

	if !p.opts.RequireTaxID {
		return Ok()
	}
	if sawInvalid {
		return Discarded(ReasonInvalidTaxID)
	}
	return Discarded(ReasonNoTaxID)
}

func (p *Pipeline) identifyFrom(ctx context.Context, src string, r *companyRun) (string, *model.RegistryRecord, error) {
	c := r.company
	switch src {
	case SourceProfile:
		if p.collab.Profile == nil || c.SocialURL == "" {
			return "", nil, errNoResult
		}
		id, err := call(ctx, p, p.collab.Profile.Name(), nsProfile, c.SocialURL, func(ctx context.Context) (string, error) {
			id, err := p.collab.Profile.ExtractTaxID(ctx, c.SocialURL)
			if err == nil && id == "" {
				return "", noResult()
			}
			return id, err
		})
		return id, nil, err

	case SourceLocal:
		if p.collab.Local == nil {
			return "", nil, errNoResult
		}
		rec, err := p.collab.Local.FindRegistryByName(ctx, r.group.Key)
		if err != nil {
			return "", nil, err
		}
		if rec == nil {
			return "", nil, errNoResult
		}
		return rec.TaxID, rec, nil

	case SourceSearch:
		if p.collab.Search == nil {
			return "", nil, errNoResult
		}
		location := ""
		for _, jp := range r.group.Postings {
			if jp.Location != "" {
				location = jp.Location
				break
			}
		}
		id, err := call(ctx, p, p.collab.Search.Name(), nsSearch, r.group.Key, func(ctx context.Context) (string, error) {
			id, err := p.collab.Search.FindTaxID(ctx, c.Name, location)
			if err == nil && id == "" {
				return "", noResult()
			}
			return id, err
		})
		return id, nil, err
	}
	return "", nil, errNoResult
}

// validateTaxID checks a newly identified tax ID against the registry and
// merges any stored company that already carries it.
func (p *Pipeline) validateTaxID(ctx context.Context, r *companyRun) Outcome {
	c := r.company
	// A tax ID stored by an earlier run was validated then.
	if !r.identified {
		return Ok()
	}

	rec, err := p.registryRecord(ctx, r)
	if err != nil {
		if errors.Is(err, ErrNotInRegistry) {
			p.clearTaxID(r)
			return Discarded(ReasonRegistryAbsent)
		}
		p.clearTaxID(r)
		return Failed(eris.Wrap(err, "registry lookup"))
	}
	if rec == nil {
		r.log.Warn("pipeline: no registry available, tax id kept unvalidated")
		return Ok()
	}

	sim := max(company.NameSimilarity(r.group.Name, rec.LegalName), company.NameSimilarity(r.group.Name, rec.TradeName))
	if sim < p.opts.ValidateThreshold {
		r.log.Info("pipeline: registry name mismatch",
			zap.String("legal_name", rec.LegalName),
			zap.String("trade_name", rec.TradeName),
			zap.Int("similarity", sim),
			zap.Int("threshold", p.opts.ValidateThreshold),
		)
		p.clearTaxID(r)
		return Discarded(ReasonNameMismatch)
	}

	company.ApplyPatch(c, &model.Company{
		LegalName: rec.LegalName,
		TaxID:     r.taxID,
		Sector:    rec.Sector,
		City:      rec.City,
		State:     strings.ToUpper(rec.State),
		Contacts:  rec.Partners,
	}, p.source("registry"))

	if err := p.mergeByTaxID(ctx, r); err != nil {
		return Failed(eris.Wrap(err, "merge duplicates"))
	}
	return Ok()
}

func (p *Pipeline) registryRecord(ctx context.Context, r *companyRun) (*model.RegistryRecord, error) {
	if r.registry != nil {
		return r.registry, nil
	}
	if p.collab.Local != nil {
		rec, err := p.collab.Local.GetRegistryRecord(ctx, r.taxID)
		if err != nil {
			r.log.Warn("pipeline: local registry read failed", zap.Error(err))
		} else if rec != nil {
			return rec, nil
		}
	}
	if p.collab.Registry == nil {
		return nil, nil
	}
	ans, err := call(ctx, p, p.collab.Registry.Name(), nsRegistry, r.taxID, func(ctx context.Context) (registryAnswer, error) {
		rec, err := p.collab.Registry.Lookup(ctx, r.taxID)
		if errors.Is(err, ErrNotInRegistry) {
			return registryAnswer{Absent: true}, nil
		}
		if err != nil {
			return registryAnswer{}, err
		}
		return registryAnswer{Record: rec}, nil
	})
	switch {
	case errors.Is(err, errNegativeCached):
		// The marker does not say why the last lookup failed.
		return nil, eris.Wrap(err, r.taxID)
	case err != nil:
		return nil, err
	case ans.Absent:
		return nil, eris.Wrap(ErrNotInRegistry, r.taxID)
	}
	return ans.Record, nil
}

// registryAnswer is what the registry namespace caches. An absent tax ID is
// an answer, not a failure, so later runs still discard it.
type registryAnswer struct {
	Record *model.RegistryRecord `json:"record,omitempty"`
	Absent bool                  `json:"absent,omitempty"`
}

// clearTaxID drops a tax ID this run attached but could not validate.
func (p *Pipeline) clearTaxID(r *companyRun) {
	if r.company.TaxID == r.taxID {
		r.company.TaxID = ""
		delete(r.company.Sources, model.FieldTaxID)
	}
	r.taxID = ""
	r.identified = false
}

// mergeByTaxID folds every stored company sharing the tax ID into one
// record and continues with that record.
func (p *Pipeline) mergeByTaxID(ctx context.Context, r *companyRun) error {
	c := r.company
	dups, err := p.engine.FindDuplicates(ctx, company.Identity{TaxID: r.taxID, ExcludeID: c.ID}, 100)
	if err != nil {
		return err
	}
	ids := []int64{c.ID}
	for _, d := range dups {
		for _, reason := range d.Reasons {
			if reason == company.ReasonTaxIDMatch {
				ids = append(ids, d.CompanyID)
				break
			}
		}
	}
	if len(ids) == 1 {
		return nil
	}

	// The merge reads from storage.
	if err := p.store.UpdateCompany(ctx, c); err != nil {
		return err
	}
	primary, err := p.engine.SuggestPrimary(ctx, ids)
	if err != nil {
		return err
	}
	var others []int64
	for _, id := range ids {
		if id != primary {
			others = append(others, id)
		}
	}
	res, err := p.engine.MergeCompanies(ctx, primary, others)
	if err != nil {
		return err
	}
	merged, err := p.store.GetCompany(ctx, primary)
	if err != nil {
		return err
	}
	if merged == nil {
		return eris.Wrapf(company.ErrCompanyNotFound, "company %d", primary)
	}
	r.log.Info("pipeline: merged companies sharing tax id",
		zap.Int64("primary", primary),
		zap.Int64s("merged", others),
		zap.Int("leads_moved", res.LeadsMoved),
	)
	r.company = merged
	r.log = r.log.With(zap.Int64("company_id", merged.ID))
	return nil
}

type patchResult struct {
	source string
	patch  *model.Company
	conf   float64
	err    error
}

// enrich runs the enabled collaborators concurrently. Their patches are
// applied after all of them return, in policy order, so the outcome does
// not depend on completion order.
func (p *Pipeline) enrich(ctx context.Context, r *companyRun) Outcome {
	snapshot := *r.company
	key := r.taxID
	if key == "" {
		key = r.group.Key
	}

	type job struct {
		name string
		run  func(ctx context.Context) patchResult
	}
	var jobs []job
	for _, name := range p.opts.Policy.Enrich {
		switch {
		case name == EnrichFinancials && p.collab.Financials != nil:
			jobs = append(jobs, job{name, func(ctx context.Context) patchResult {
				return p.enrichFinancials(ctx, &snapshot, key)
			}})
		case name == EnrichContacts && p.collab.Contacts != nil:
			jobs = append(jobs, job{name, func(ctx context.Context) patchResult {
				return p.enrichContacts(ctx, &snapshot, key)
			}})
		case name == EnrichEvents && p.collab.Events != nil:
			jobs = append(jobs, job{name, func(ctx context.Context) patchResult {
				return p.enrichEvents(ctx, &snapshot, key)
			}})
		}
	}

	results := make([]patchResult, len(jobs))
	var g errgroup.Group
	g.SetLimit(p.opts.EnrichConcurrency)
	for i, j := range jobs {
		g.Go(func() error {
			results[i] = j.run(ctx)
			return nil
		})
	}
	_ = g.Wait()

	failures := 0
	for _, res := range results {
		if res.err != nil {
			if quietMiss(res.err) {
				continue
			}
			failures++
			r.log.Warn("pipeline: enrich collaborator failed",
				zap.String("collaborator", res.source),
				zap.String("class", resilience.ClassifyError(res.err)),
				zap.Error(res.err),
			)
			r.fail(StageEnrich, eris.Wrap(res.err, res.source))
			continue
		}
		src := p.source(res.source)
		if res.conf > 0 {
			src.Confidence = res.conf
		}
		changed := company.ApplyPatch(r.company, res.patch, src)
		r.log.Debug("pipeline: patch applied", zap.String("collaborator", res.source), zap.Strings("fields", changed))
	}

	if len(jobs) > 0 && failures == len(jobs) {
		// Each failure is already recorded; the company stays stale.
		return Failed(nil)
	}
	now := p.now().UTC()
	r.company.EnrichedAt = &now
	return Ok()
}

func (p *Pipeline) enrichFinancials(ctx context.Context, c *model.Company, key string) patchResult {
	fc := p.collab.Financials
	fin, err := call(ctx, p, fc.Name(), nsFinancials, key, func(ctx context.Context) (*Financials, error) {
		f, err := fc.Estimate(ctx, c)
		if err == nil && f == nil {
			return nil, noResult()
		}
		return f, err
	})
	if err != nil {
		return patchResult{source: EnrichFinancials, err: err}
	}
	conf := p.opts.Policy.confidence(EnrichFinancials)
	if fin.Confidence > 0 && fin.Confidence < conf {
		conf = fin.Confidence
	}
	return patchResult{
		source: EnrichFinancials,
		patch:  &model.Company{Revenue: fin.Revenue, Employees: fin.Employees, Sector: fin.Sector},
		conf:   conf,
	}
}

func (p *Pipeline) enrichContacts(ctx context.Context, c *model.Company, key string) patchResult {
	cf := p.collab.Contacts
	contacts, err := call(ctx, p, cf.Name(), nsContacts, key, func(ctx context.Context) ([]model.Contact, error) {
		return cf.FindContacts(ctx, c)
	})
	if err != nil {
		return patchResult{source: EnrichContacts, err: err}
	}
	var clean []model.Contact
	for _, ct := range contacts {
		ct.Name = strings.TrimSpace(ct.Name)
		ct.Email = strings.ToLower(strings.TrimSpace(ct.Email))
		ct.Phone = company.NormalizePhone(ct.Phone, "")
		if ct.Key() == "" {
			continue
		}
		if ct.Source == "" {
			ct.Source = cf.Name()
		}
		clean = append(clean, ct)
	}
	if len(clean) > p.opts.MaxContacts {
		clean = clean[:p.opts.MaxContacts]
	}
	return patchResult{source: EnrichContacts, patch: &model.Company{Contacts: clean}}
}

func (p *Pipeline) enrichEvents(ctx context.Context, c *model.Company, key string) patchResult {
	ef := p.collab.Events
	events, err := call(ctx, p, ef.Name(), nsEvents, key, func(ctx context.Context) ([]model.Trigger, error) {
		return ef.FindEvents(ctx, c)
	})
	if err != nil {
		return patchResult{source: EnrichEvents, err: err}
	}
	return patchResult{source: EnrichEvents, patch: &model.Company{Triggers: events}}
}

func (p *Pipeline) scoreCompany(r *companyRun) Outcome {
	r.score = ComputeScore(scoreInputFor(r.company, r.group.Postings, p.now()), p.opts.weights())
	r.result.Score = r.score.Final
	logScore(r.group.Name, r.score)
	return Ok()
}

// persist saves the company and creates or extends its lead. One lead is
// kept per company; later postings join its related jobs.
func (p *Pipeline) persist(ctx context.Context, r *companyRun) Outcome {
	c := r.company
	if err := p.store.UpdateCompany(ctx, c); err != nil {
		return Failed(eris.Wrap(err, "save company"))
	}

	jobs := make([]model.RelatedJob, 0, len(r.group.Postings))
	for _, jp := range r.group.Postings {
		jobs = append(jobs, jp.AsRelatedJob())
	}
	jobs, _ = model.MergeRelatedJobs(nil, jobs)
	fresh := !c.IsStale(p.now(), p.opts.FreshnessWindow)

	lead, err := p.store.LatestLead(ctx, c.ID)
	if err != nil {
		return Failed(eris.Wrap(err, "load lead"))
	}

	if lead == nil {
		lead = &model.Lead{
			CompanyID:   c.ID,
			TriggerJob:  jobs[0],
			RelatedJobs: jobs,
			Contacts:    p.suggestedContacts(nil, c.Contacts),
			Score:       r.score.Final,
			Fresh:       fresh,
		}
		if err := p.store.CreateLead(ctx, lead); err != nil {
			return Failed(eris.Wrap(err, "create lead"))
		}
		r.result.LeadCreated = true
	} else {
		var added int
		lead.RelatedJobs, added = model.MergeRelatedJobs(lead.RelatedJobs, jobs)
		lead.Contacts = p.suggestedContacts(lead.Contacts, c.Contacts)
		lead.Score = r.score.Final
		lead.Fresh = fresh
		if err := p.store.UpdateLead(ctx, lead); err != nil {
			return Failed(eris.Wrap(err, "update lead"))
		}
		r.log.Debug("pipeline: lead updated", zap.Int64("lead_id", lead.ID), zap.Int("jobs_added", added))
	}
	r.result.LeadID = lead.ID
	return Ok()
}

// suggestedContacts unions current and candidates by contact key, keeping
// at most MaxContacts.
func (p *Pipeline) suggestedContacts(current, candidates []model.Contact) []model.Contact {
	seen := make(map[string]bool, len(current))
	out := make([]model.Contact, 0, len(current)+len(candidates))
	for _, list := range [][]model.Contact{current, candidates} {
		for _, ct := range list {
			k := ct.Key()
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, ct)
		}
	}
	if len(out) > p.opts.MaxContacts {
		out = out[:p.opts.MaxContacts]
	}
	return out
}
