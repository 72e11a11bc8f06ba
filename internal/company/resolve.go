package company

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/model"
)

// Resolve looks up an existing company for id or creates a new one.
// Uses a three-pass cascade:
//  1. Exact normalized-name match
//  2. Duplicate match at medium confidence or better (tax ID, domain,
//     social URL, fuzzy name)
//  3. Insert, or return the row a concurrent writer created first
//
// Returns the company and whether it was newly created.
func (e *Engine) Resolve(ctx context.Context, id Identity) (*model.Company, bool, error) {
	normalized := NormalizeName(id.Name)
	if normalized == "" {
		return nil, false, eris.New("company: name is required for resolve")
	}

	// Pass 1: exact identity key.
	existing, err := e.store.GetCompanyByName(ctx, normalized)
	if err != nil {
		return nil, false, eris.Wrap(err, "company: resolve by name")
	}
	if existing != nil {
		zap.L().Debug("resolve: matched by normalized name",
			zap.String("name", normalized),
			zap.Int64("company_id", existing.ID),
		)
		return existing, false, nil
	}

	// Pass 2: near-duplicates.
	dups, err := e.FindDuplicates(ctx, id, e.matchThreshold)
	if err != nil {
		return nil, false, err
	}
	for _, d := range dups {
		if d.Confidence < ConfidenceMedium || d.Conflicting() {
			continue
		}
		c, err := e.store.GetCompany(ctx, d.CompanyID)
		if err != nil {
			return nil, false, eris.Wrapf(err, "company: load match %d", d.CompanyID)
		}
		if c == nil {
			continue
		}
		zap.L().Debug("resolve: matched duplicate",
			zap.String("name", id.Name),
			zap.Int64("company_id", c.ID),
			zap.Int("score", d.Score),
			zap.Strings("reasons", d.Reasons),
		)
		return c, false, nil
	}

	// Pass 3: create.
	c := &model.Company{
		Name:           id.Name,
		NormalizedName: normalized,
		TaxID:          NormalizeTaxID(id.TaxID),
		Domain:         NormalizeDomain(id.Domain),
		SocialURL:      NormalizeSocialURL(id.SocialURL),
	}
	created, err := e.store.GetOrCreateCompany(ctx, c)
	if err != nil {
		return nil, false, eris.Wrap(err, "company: create")
	}
	if created {
		zap.L().Info("resolve: created new company",
			zap.String("name", id.Name),
			zap.Int64("company_id", c.ID),
		)
	}
	return c, created, nil
}
