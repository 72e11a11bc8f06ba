package company

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen-cli/internal/model"
)

// Duplicate reasons.
const (
	ReasonTaxIDMatch  = "tax-id-match"
	ReasonDomainMatch = "domain-match"
	ReasonSocialMatch = "social-match"
	// ReasonIDConflict marks a pair whose registry IDs are both present and
	// differ. Such a pair is never merge-worthy.
	ReasonIDConflict = "registry-id-conflict"

	reasonNamePrefix = "name-similarity:"
)

// Signal scores.
const (
	ScoreTaxID  = 100
	ScoreDomain = 95
	ScoreSocial = 90
	// scoreConflictCap keeps a pair with conflicting registry IDs below the
	// high band whatever else matches.
	scoreConflictCap = 89
	// scoreNameCap keeps name-only matches of different normalized names
	// below the exact-identity score.
	scoreNameCap = 99
)

// AutoResolveThreshold is the minimum score for auto-resolve grouping.
const AutoResolveThreshold = 90

var (
	// ErrCompanyNotFound is returned when a merge primary does not exist.
	ErrCompanyNotFound = eris.New("company not found")

	errEmptyURL = eris.New("empty url")
)

// Confidence grades a duplicate candidate. Values are ordered.
type Confidence int

// Confidence levels, lowest first.
const (
	ConfidenceLow Confidence = iota
	ConfidenceMedium
	ConfidenceHigh
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceHigh:
		return "high"
	case ConfidenceMedium:
		return "medium"
	default:
		return "low"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Confidence) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ParseConfidence parses "low", "medium" or "high".
func ParseConfidence(s string) (Confidence, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return ConfidenceLow, nil
	case "medium":
		return ConfidenceMedium, nil
	case "high":
		return ConfidenceHigh, nil
	}
	return ConfidenceLow, eris.Errorf("company: unknown confidence %q", s)
}

// Identity is the set of signals a candidate is compared on. ExcludeID skips
// the stored record with that id (the candidate itself).
type Identity struct {
	Name      string
	TaxID     string
	Domain    string
	SocialURL string
	ExcludeID int64
}

// DuplicateCandidate is one scored comparison against a stored company.
type DuplicateCandidate struct {
	CompanyID  int64      `json:"company_id"`
	Name       string     `json:"name"`
	Score      int        `json:"score"`
	Reasons    []string   `json:"reasons"`
	Confidence Confidence `json:"confidence"`
}

// Conflicting reports whether the pair has different registry IDs.
func (d DuplicateCandidate) Conflicting() bool {
	for _, r := range d.Reasons {
		if r == ReasonIDConflict {
			return true
		}
	}
	return false
}

// Classify grades a duplicate score. Rules apply in order:
//  1. score 100 or any tax-id reason is high;
//  2. score >= 95 with a domain match is high;
//  3. score >= 90, or two or more distinct matching reasons, is medium;
//  4. everything else is low.
//
// A registry-id conflict is not a matching reason. Its score cap keeps the
// pair out of the first three rules unless other signals agree.
func Classify(score int, reasons []string) Confidence {
	distinct := make(map[string]bool, len(reasons))
	hasDomain := false
	for _, r := range reasons {
		if r == ReasonIDConflict {
			continue
		}
		if strings.HasPrefix(r, reasonNamePrefix) {
			distinct[reasonNamePrefix] = true
		} else {
			distinct[r] = true
		}
		if r == ReasonDomainMatch {
			hasDomain = true
		}
	}
	for _, r := range reasons {
		if strings.Contains(r, "tax-id") {
			return ConfidenceHigh
		}
	}
	switch {
	case score >= ScoreTaxID:
		return ConfidenceHigh
	case score >= ScoreDomain && hasDomain:
		return ConfidenceHigh
	case score >= ScoreSocial || len(distinct) >= 2:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// normalizedIdentity holds the comparison keys of one side of a pair.
type normalizedIdentity struct {
	name   string
	taxID  string
	domain string
	social string
}

func normalizeIdentity(id Identity) normalizedIdentity {
	return normalizedIdentity{
		name:   NormalizeName(id.Name),
		taxID:  NormalizeTaxID(id.TaxID),
		domain: NormalizeDomain(id.Domain),
		social: NormalizeSocialURL(id.SocialURL),
	}
}

func viewIdentity(c model.Company) normalizedIdentity {
	name := c.NormalizedName
	if name == "" {
		name = NormalizeName(c.Name)
	}
	return normalizedIdentity{
		name:   name,
		taxID:  NormalizeTaxID(c.TaxID),
		domain: NormalizeDomain(c.Domain),
		social: NormalizeSocialURL(c.SocialURL),
	}
}

// IdentityOf returns the comparison signals of a stored company.
func IdentityOf(c model.Company) Identity {
	return Identity{Name: c.Name, TaxID: c.TaxID, Domain: c.Domain, SocialURL: c.SocialURL, ExcludeID: c.ID}
}

// compare scores a pair. ok is false when no signal matched.
func compare(a, b normalizedIdentity, threshold int) (score int, reasons []string, ok bool) {
	conflict := false
	if a.taxID != "" && b.taxID != "" {
		if a.taxID == b.taxID {
			return ScoreTaxID, []string{ReasonTaxIDMatch}, true
		}
		conflict = true
	}

	if a.domain != "" && a.domain == b.domain {
		score = max(score, ScoreDomain)
		reasons = append(reasons, ReasonDomainMatch)
	}
	if a.social != "" && a.social == b.social {
		score = max(score, ScoreSocial)
		reasons = append(reasons, ReasonSocialMatch)
	}
	sim := normalizedSimilarity(a.name, b.name)
	if a.name != b.name {
		sim = min(sim, scoreNameCap)
	}
	if sim > 0 && sim >= threshold {
		score = max(score, sim)
		reasons = append(reasons, fmt.Sprintf("%s%d", reasonNamePrefix, sim))
	}
	if len(reasons) == 0 {
		return 0, nil, false
	}
	if conflict {
		score = min(score, scoreConflictCap)
		reasons = append(reasons, ReasonIDConflict)
	}
	return score, reasons, true
}

// FindDuplicates compares the candidate with every stored company and
// returns those scoring at least threshold, best first.
func (e *Engine) FindDuplicates(ctx context.Context, id Identity, threshold int) ([]DuplicateCandidate, error) {
	companies, err := e.store.ListCompanies(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "company: list for duplicates")
	}
	return findIn(companies, id, threshold), nil
}

func findIn(companies []model.Company, id Identity, threshold int) []DuplicateCandidate {
	cand := normalizeIdentity(id)
	var out []DuplicateCandidate
	for _, c := range companies {
		if id.ExcludeID != 0 && c.ID == id.ExcludeID {
			continue
		}
		score, reasons, ok := compare(cand, viewIdentity(c), threshold)
		if !ok || score < threshold {
			continue
		}
		out = append(out, DuplicateCandidate{
			CompanyID:  c.ID,
			Name:       c.Name,
			Score:      score,
			Reasons:    reasons,
			Confidence: Classify(score, reasons),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].CompanyID < out[j].CompanyID
	})
	return out
}
