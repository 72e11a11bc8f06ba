package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/leadgen-cli/internal/config"
	"github.com/sells-group/leadgen-cli/internal/model"
)

var testWeights = Weights{Revenue: 30, Employees: 20, Recency: 25, Competition: 15, Triggers: 10}

func TestComputeScore_Deterministic(t *testing.T) {
	in := ScoreInput{Revenue: 5e6, Employees: 40, PostingAge: 3 * 24 * time.Hour, Competition: 20, Triggers: 1}
	assert.Equal(t, ComputeScore(in, testWeights), ComputeScore(in, testWeights))
}

func TestComputeScore_Monotone(t *testing.T) {
	base := ScoreInput{Revenue: 5e6, Employees: 40, PostingAge: 10 * 24 * time.Hour, Competition: 20, Triggers: 1}
	score := func(in ScoreInput) int { return ComputeScore(in, testWeights).Final }

	tests := []struct {
		name   string
		change func(ScoreInput) ScoreInput
		higher bool
	}{
		{"more revenue", func(in ScoreInput) ScoreInput { in.Revenue *= 10; return in }, true},
		{"more employees", func(in ScoreInput) ScoreInput { in.Employees *= 10; return in }, true},
		{"more triggers", func(in ScoreInput) ScoreInput { in.Triggers = 3; return in }, true},
		{"newer posting", func(in ScoreInput) ScoreInput { in.PostingAge = time.Hour; return in }, true},
		{"more applicants", func(in ScoreInput) ScoreInput { in.Competition = 500; return in }, false},
		{"older posting", func(in ScoreInput) ScoreInput { in.PostingAge = 60 * 24 * time.Hour; return in }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.higher {
				assert.GreaterOrEqual(t, score(tt.change(base)), score(base))
			} else {
				assert.LessOrEqual(t, score(tt.change(base)), score(base))
			}
		})
	}
}

func TestComputeScore_Clamped(t *testing.T) {
	huge := Weights{Revenue: 500, Employees: 500, Recency: 500, Competition: 500, Triggers: 500}
	in := ScoreInput{Revenue: 1e12, Employees: 1e6, PostingAge: 0, Triggers: 10}
	assert.Equal(t, 100, ComputeScore(in, huge).Final)

	negative := Weights{Revenue: -50}
	assert.Equal(t, 0, ComputeScore(ScoreInput{Revenue: 1e9}, negative).Final)
}

func TestComputeScore_Components(t *testing.T) {
	b := ComputeScore(ScoreInput{Revenue: revenueHalf, PostingAge: -1}, testWeights)
	assert.InDelta(t, 15, b.Revenue, 0.001, "half weight at the saturation point")
	assert.InDelta(t, 12.5, b.Recency, 0.001, "unknown posting age scores half")
	assert.InDelta(t, 15, b.Competition, 0.001, "no applicants is full competition weight")
	assert.Zero(t, b.Triggers)
	assert.Equal(t, 43, b.Final)
}

func TestScoreInputFor(t *testing.T) {
	now := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	c := &model.Company{Revenue: 1e6, Employees: 12, Triggers: []model.Trigger{{Kind: "funding", Title: "Seed"}}}
	in := scoreInputFor(c, []model.JobPosting{
		{PostedAt: now.Add(-72 * time.Hour), Applicants: 80},
		{PostedAt: now.Add(-24 * time.Hour), Applicants: 5},
		{},
	}, now)
	assert.Equal(t, 24*time.Hour, in.PostingAge)
	assert.Equal(t, 80, in.Competition)
	assert.Equal(t, 1, in.Triggers)

	in = scoreInputFor(c, []model.JobPosting{{}}, now)
	assert.Negative(t, in.PostingAge)

	in = scoreInputFor(c, []model.JobPosting{{PostedAt: now.Add(time.Hour)}}, now)
	assert.Zero(t, in.PostingAge, "future dates count as new")
}

func TestWeightsFromConfig(t *testing.T) {
	w := WeightsFromConfig(config.ScoringConfig{Revenue: 1, Employees: 2, Recency: 3, Competition: 4, Triggers: 5})
	assert.Equal(t, Weights{Revenue: 1, Employees: 2, Recency: 3, Competition: 4, Triggers: 5}, w)
}
