package company

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// MergeResult records one completed merge.
type MergeResult struct {
	PrimaryID   int64   `json:"primary_id"`
	AbsorbedIDs []int64 `json:"absorbed_ids"`
	// Missing lists duplicate ids that no longer existed.
	Missing    []int64 `json:"missing,omitempty"`
	LeadsMoved int     `json:"leads_moved"`
	NotesMoved int     `json:"notes_moved"`
}

// Engine finds and merges duplicate companies.
type Engine struct {
	store          Store
	matchThreshold int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMatchThreshold sets the name-similarity floor used by Resolve.
func WithMatchThreshold(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.matchThreshold = n
		}
	}
}

// NewEngine creates a dedup engine over store.
func NewEngine(store Store, opts ...EngineOption) *Engine {
	e := &Engine{store: store, matchThreshold: 85}
	for _, o := range opts {
		o(e)
	}
	return e
}

// MergeCompanies folds each duplicate into primaryID in one transaction:
// leads and notes move to the primary, empty primary fields are filled from
// the duplicate, and the duplicate is deleted. Ids that no longer exist are
// reported in Missing. A missing primary fails with ErrCompanyNotFound.
func (e *Engine) MergeCompanies(ctx context.Context, primaryID int64, dupIDs []int64) (*MergeResult, error) {
	res := &MergeResult{PrimaryID: primaryID}

	err := e.store.InTx(ctx, func(tx Tx) error {
		primary, err := tx.GetCompany(ctx, primaryID)
		if err != nil {
			return eris.Wrapf(err, "company: load primary %d", primaryID)
		}
		if primary == nil {
			return eris.Wrapf(ErrCompanyNotFound, "company: primary %d", primaryID)
		}

		seen := map[int64]bool{primaryID: true}
		for _, id := range dupIDs {
			if seen[id] {
				continue
			}
			seen[id] = true

			dup, err := tx.GetCompany(ctx, id)
			if err != nil {
				return eris.Wrapf(err, "company: load duplicate %d", id)
			}
			if dup == nil {
				res.Missing = append(res.Missing, id)
				continue
			}

			leads, err := tx.ReassignLeads(ctx, id, primaryID)
			if err != nil {
				return eris.Wrapf(err, "company: move leads %d -> %d", id, primaryID)
			}
			notes, err := tx.ReassignNotes(ctx, id, primaryID)
			if err != nil {
				return eris.Wrapf(err, "company: move notes %d -> %d", id, primaryID)
			}
			FillEmpty(primary, dup)
			if err := tx.DeleteCompany(ctx, id); err != nil {
				return eris.Wrapf(err, "company: delete duplicate %d", id)
			}

			res.AbsorbedIDs = append(res.AbsorbedIDs, id)
			res.LeadsMoved += leads
			res.NotesMoved += notes
		}

		if len(res.AbsorbedIDs) == 0 {
			return nil
		}
		if err := tx.UpdateCompany(ctx, primary); err != nil {
			return eris.Wrapf(err, "company: update primary %d", primaryID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("company: merged duplicates",
		zap.Int64("primary_id", primaryID),
		zap.Int64s("absorbed", res.AbsorbedIDs),
		zap.Int64s("missing", res.Missing),
		zap.Int("leads_moved", res.LeadsMoved),
		zap.Int("notes_moved", res.NotesMoved),
	)
	return res, nil
}

// AutoResolveDuplicates groups duplicates at AutoResolveThreshold, keeps
// candidates at or above minConfidence and merges each group once into its
// suggested primary. A company takes part in at most one merge per call.
func (e *Engine) AutoResolveDuplicates(ctx context.Context, minConfidence Confidence) ([]MergeResult, error) {
	companies, err := e.store.ListCompanies(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "company: list for auto-resolve")
	}
	sort.Slice(companies, func(i, j int) bool { return companies[i].ID < companies[j].ID })

	processed := make(map[int64]bool)
	var results []MergeResult
	for _, c := range companies {
		if processed[c.ID] {
			continue
		}
		group := []int64{c.ID}
		for _, d := range findIn(companies, IdentityOf(c), AutoResolveThreshold) {
			if processed[d.CompanyID] || d.Conflicting() || d.Confidence < minConfidence {
				continue
			}
			group = append(group, d.CompanyID)
		}
		if len(group) < 2 {
			continue
		}
		for _, id := range group {
			processed[id] = true
		}

		primary, err := e.SuggestPrimary(ctx, group)
		if err != nil {
			return results, err
		}
		var dups []int64
		for _, id := range group {
			if id != primary {
				dups = append(dups, id)
			}
		}
		res, err := e.MergeCompanies(ctx, primary, dups)
		if err != nil {
			return results, eris.Wrapf(err, "company: auto-resolve group %v", group)
		}
		results = append(results, *res)
	}
	return results, nil
}

type primaryRank struct {
	id           int64
	leads        int
	completeness int
}

// SuggestPrimary picks the company to keep among ids: most leads, then the
// highest completeness (populated fields weighted, plus lead count), then
// the lowest id. Ids that do not exist are ignored.
func (e *Engine) SuggestPrimary(ctx context.Context, ids []int64) (int64, error) {
	var ranks []primaryRank
	for _, id := range ids {
		c, err := e.store.GetCompany(ctx, id)
		if err != nil {
			return 0, eris.Wrapf(err, "company: load %d", id)
		}
		if c == nil {
			continue
		}
		n, err := e.store.CountLeads(ctx, id)
		if err != nil {
			return 0, eris.Wrapf(err, "company: count leads %d", id)
		}
		ranks = append(ranks, primaryRank{id: id, leads: n, completeness: Completeness(c) + n})
	}
	if len(ranks) == 0 {
		return 0, eris.Wrapf(ErrCompanyNotFound, "company: none of %v", ids)
	}
	sort.Slice(ranks, func(i, j int) bool {
		a, b := ranks[i], ranks[j]
		if a.leads != b.leads {
			return a.leads > b.leads
		}
		if a.completeness != b.completeness {
			return a.completeness > b.completeness
		}
		return a.id < b.id
	})
	return ranks[0].id, nil
}
