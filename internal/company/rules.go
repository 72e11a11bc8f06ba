package company

import (
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/model"
)

// Rule decides whether a populated field may be replaced.
type Rule int

const (
	// PrimaryIfPresent fields are never replaced once populated.
	PrimaryIfPresent Rule = iota
	// PreferHigherConfidence fields are replaced only by a source with
	// strictly higher confidence than the recorded one.
	PreferHigherConfidence
	// Union list fields gain new entries by key and never lose any.
	Union
)

func (r Rule) String() string {
	switch r {
	case PrimaryIfPresent:
		return "primary-if-present"
	case PreferHigherConfidence:
		return "prefer-higher-confidence"
	case Union:
		return "union"
	}
	return "unknown"
}

// unknownProvenance is the confidence assumed for a populated field with no
// recorded source. Such values were set by hand or by an older run and are
// sticky.
const unknownProvenance = 1.0

// FieldRule binds one Company field to its merge rule.
type FieldRule struct {
	Field string
	Rule  Rule

	isEmpty  func(c *model.Company) bool
	copyFrom func(dst, src *model.Company)
	// union adds src entries missing from dst and reports how many.
	union func(dst, src *model.Company) int
}

func scalar[T comparable](field string, rule Rule, ptr func(*model.Company) *T) FieldRule {
	var zero T
	return FieldRule{
		Field:    field,
		Rule:     rule,
		isEmpty:  func(c *model.Company) bool { return *ptr(c) == zero },
		copyFrom: func(dst, src *model.Company) { *ptr(dst) = *ptr(src) },
	}
}

func list[T any](field string, ptr func(*model.Company) *[]T, key func(T) string) FieldRule {
	return FieldRule{
		Field:   field,
		Rule:    Union,
		isEmpty: func(c *model.Company) bool { return len(*ptr(c)) == 0 },
		copyFrom: func(dst, src *model.Company) {
			*ptr(dst) = append([]T(nil), *ptr(src)...)
		},
		union: func(dst, src *model.Company) int {
			seen := make(map[string]bool)
			for _, v := range *ptr(dst) {
				seen[key(v)] = true
			}
			added := 0
			for _, v := range *ptr(src) {
				k := key(v)
				if k == "" || seen[k] {
					continue
				}
				seen[k] = true
				*ptr(dst) = append(*ptr(dst), v)
				added++
			}
			return added
		},
	}
}

// Rules is the per-field merge table. Identity fields keep whatever the
// record has; enrichment fields follow provenance confidence.
var Rules = []FieldRule{
	scalar(model.FieldLegalName, PrimaryIfPresent, func(c *model.Company) *string { return &c.LegalName }),
	scalar(model.FieldTaxID, PrimaryIfPresent, func(c *model.Company) *string { return &c.TaxID }),
	scalar(model.FieldDomain, PrimaryIfPresent, func(c *model.Company) *string { return &c.Domain }),
	scalar(model.FieldSocialURL, PrimaryIfPresent, func(c *model.Company) *string { return &c.SocialURL }),
	scalar(model.FieldRevenue, PreferHigherConfidence, func(c *model.Company) *float64 { return &c.Revenue }),
	scalar(model.FieldEmployees, PreferHigherConfidence, func(c *model.Company) *int { return &c.Employees }),
	scalar(model.FieldSector, PreferHigherConfidence, func(c *model.Company) *string { return &c.Sector }),
	scalar(model.FieldCity, PreferHigherConfidence, func(c *model.Company) *string { return &c.City }),
	scalar(model.FieldState, PreferHigherConfidence, func(c *model.Company) *string { return &c.State }),
	list(model.FieldContacts, func(c *model.Company) *[]model.Contact { return &c.Contacts }, model.Contact.Key),
	list(model.FieldTriggers, func(c *model.Company) *[]model.Trigger { return &c.Triggers }, triggerKey),
}

func triggerKey(t model.Trigger) string {
	if u := strings.TrimSpace(t.URL); u != "" {
		return strings.ToLower(strings.TrimRight(u, "/"))
	}
	return strings.ToLower(t.Kind + "|" + strings.TrimSpace(t.Title))
}

// ApplyPatch merges enrichment output into dst. Every populated field of
// patch is offered to dst under its rule; src is recorded as provenance of
// each field that changed. It returns the changed fields.
func ApplyPatch(dst, patch *model.Company, src model.FieldSource) []string {
	var changed []string
	for _, r := range Rules {
		if r.isEmpty(patch) {
			continue
		}
		switch {
		case r.isEmpty(dst):
			r.copyFrom(dst, patch)
		case r.Rule == Union:
			if r.union(dst, patch) == 0 {
				continue
			}
		case r.Rule == PreferHigherConfidence:
			cur := unknownProvenance
			if s, ok := dst.Source(r.Field); ok {
				cur = s.Confidence
			}
			if src.Confidence <= cur {
				zap.L().Debug("merge: kept higher-confidence value",
					zap.String("field", r.Field),
					zap.String("source", src.Source),
					zap.Float64("confidence", src.Confidence),
					zap.Float64("current", cur),
				)
				continue
			}
			r.copyFrom(dst, patch)
		default:
			continue
		}
		dst.SetSource(r.Field, src)
		changed = append(changed, r.Field)
	}
	return changed
}

// FillEmpty copies into primary every field that is empty there and
// populated on dup, along with dup's provenance. Populated primary fields
// are never touched. It returns the filled fields.
func FillEmpty(primary, dup *model.Company) []string {
	var filled []string
	for _, r := range Rules {
		if !r.isEmpty(primary) || r.isEmpty(dup) {
			continue
		}
		r.copyFrom(primary, dup)
		if s, ok := dup.Source(r.Field); ok {
			primary.SetSource(r.Field, s)
		}
		filled = append(filled, r.Field)
	}
	return filled
}

// Completeness weights populated fields for primary selection.
func Completeness(c *model.Company) int {
	weights := map[string]int{
		model.FieldTaxID:     3,
		model.FieldDomain:    2,
		model.FieldRevenue:   2,
		model.FieldEmployees: 2,
		model.FieldContacts:  2,
	}
	score := 0
	for _, r := range Rules {
		if r.isEmpty(c) {
			continue
		}
		if w, ok := weights[r.Field]; ok {
			score += w
		} else {
			score++
		}
	}
	return score
}
