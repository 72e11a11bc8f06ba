package company

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen-cli/internal/model"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		score   int
		reasons []string
		want    Confidence
	}{
		{"tax id exact", 100, []string{ReasonTaxIDMatch}, ConfidenceHigh},
		{"identical name", 100, []string{"name-similarity:100"}, ConfidenceHigh},
		{"tax id reason below 100", 80, []string{"tax-id-partial"}, ConfidenceHigh},
		{"95 with domain", 95, []string{ReasonDomainMatch}, ConfidenceHigh},
		{"95 without domain", 95, []string{"name-similarity:95"}, ConfidenceMedium},
		{"94 with domain", 94, []string{ReasonDomainMatch}, ConfidenceMedium},
		{"social 90", 90, []string{ReasonSocialMatch}, ConfidenceMedium},
		{"89 name only", 89, []string{"name-similarity:89"}, ConfidenceLow},
		{"two reasons below 90", 85, []string{ReasonSocialMatch, "name-similarity:85"}, ConfidenceMedium},
		{"duplicate reason counts once", 85, []string{"name-similarity:85", "name-similarity:80"}, ConfidenceLow},
		{"conflict is not a match", 89, []string{"name-similarity:100", ReasonIDConflict}, ConfidenceLow},
		{"conflict with two matches", 89, []string{ReasonDomainMatch, ReasonSocialMatch, ReasonIDConflict}, ConfidenceMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Classify(tt.score, tt.reasons))
		})
	}
}

func TestParseConfidence(t *testing.T) {
	t.Parallel()

	c, err := ParseConfidence(" High ")
	require.NoError(t, err)
	assert.Equal(t, ConfidenceHigh, c)
	assert.Equal(t, "medium", ConfidenceMedium.String())

	_, err = ParseConfidence("certain")
	assert.Error(t, err)
}

func seedDedupStore() *memStore {
	s := newMemStore()
	// ids 1..5 in insertion order
	s.add(model.Company{Name: "Acme Comércio Ltda", TaxID: "11.222.333/0001-81"})
	s.add(model.Company{Name: "Globex Corporation", Domain: "globex.com.br"})
	s.add(model.Company{Name: "Initech", SocialURL: "https://linkedin.com/company/initech"})
	s.add(model.Company{Name: "Umbrella Distribuidora", TaxID: "12345678000195"})
	s.add(model.Company{Name: "Soylent Alimentos"})
	return s
}

func TestFindDuplicates_TaxIDIgnoresName(t *testing.T) {
	s := seedDedupStore()
	e := NewEngine(s)

	got, err := e.FindDuplicates(context.Background(), Identity{Name: "Totally Different Name", TaxID: "11222333000181"}, 85)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].CompanyID)
	assert.Equal(t, 100, got[0].Score)
	assert.Equal(t, []string{ReasonTaxIDMatch}, got[0].Reasons)
	assert.Equal(t, ConfidenceHigh, got[0].Confidence)
}

func TestFindDuplicates_Signals(t *testing.T) {
	s := seedDedupStore()
	e := NewEngine(s)
	ctx := context.Background()

	got, err := e.FindDuplicates(ctx, Identity{Name: "GBX", Domain: "https://www.globex.com.br/about"}, 85)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 95, got[0].Score)
	assert.Equal(t, ConfidenceHigh, got[0].Confidence)

	got, err = e.FindDuplicates(ctx, Identity{Name: "Init Tech", SocialURL: "linkedin.com/company/initech/"}, 85)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, int64(3), got[0].CompanyID)
	assert.Contains(t, got[0].Reasons, ReasonSocialMatch)
	assert.GreaterOrEqual(t, got[0].Score, 90)
}

func TestFindDuplicates_NoSharedSignal(t *testing.T) {
	s := seedDedupStore()
	e := NewEngine(s)

	got, err := e.FindDuplicates(context.Background(), Identity{Name: "Wayne Enterprises"}, 85)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFindDuplicates_TaxIDConflictCapsScore(t *testing.T) {
	s := seedDedupStore()
	e := NewEngine(s)

	// Same name as #4 but a different registry ID.
	got, err := e.FindDuplicates(context.Background(), Identity{Name: "Umbrella Distribuidora", TaxID: "11222333000181"}, 50)
	require.NoError(t, err)

	var conflict *DuplicateCandidate
	for i := range got {
		if got[i].CompanyID == 4 {
			conflict = &got[i]
		}
	}
	require.NotNil(t, conflict)
	assert.Equal(t, 89, conflict.Score)
	assert.True(t, conflict.Conflicting())
	assert.Equal(t, ConfidenceLow, conflict.Confidence)

	// The true tax-id match ranks first.
	assert.Equal(t, int64(1), got[0].CompanyID)
}

func TestFindDuplicates_ExcludeAndOrder(t *testing.T) {
	s := newMemStore()
	s.add(model.Company{Name: "Acme Brasil", Domain: "acme.com.br"})
	s.add(model.Company{Name: "Acme Brasil Ltda", Domain: "acme.com.br"})
	s.add(model.Company{Name: "Acme do Brasil", Domain: "acme.com.br"})
	e := NewEngine(s)

	got, err := e.FindDuplicates(context.Background(), Identity{Name: "Acme Brasil", Domain: "acme.com.br", ExcludeID: 1}, 90)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// #2 normalizes to the same name (100) and outranks #3.
	assert.Equal(t, int64(2), got[0].CompanyID)
	assert.Equal(t, 100, got[0].Score)
	assert.Equal(t, int64(3), got[1].CompanyID)
	assert.GreaterOrEqual(t, got[1].Score, 95)
}
