package pipeline

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/config"
	"github.com/sells-group/leadgen-cli/internal/model"
)

// Weights are the lead score weights. They need not sum to 100; the final
// score is clamped to [0,100].
type Weights struct {
	Revenue     float64 `yaml:"revenue" json:"revenue"`
	Employees   float64 `yaml:"employees" json:"employees"`
	Recency     float64 `yaml:"recency" json:"recency"`
	Competition float64 `yaml:"competition" json:"competition"`
	Triggers    float64 `yaml:"triggers" json:"triggers"`
}

// WeightsFromConfig converts the scoring config section.
func WeightsFromConfig(c config.ScoringConfig) Weights {
	return Weights(c)
}

// Saturation points: a component reaches half its weight here.
const (
	revenueHalf    = 10_000_000 // BRL per year
	employeesHalf  = 100
	applicantsHalf = 50
	recencyWindow  = 30 * 24 * time.Hour
	triggersFull   = 3
)

// ScoreInput is everything the score depends on.
type ScoreInput struct {
	Revenue   float64
	Employees int
	// PostingAge is the age of the newest posting. Negative means unknown.
	PostingAge time.Duration
	// Competition is the applicant count of the most contested posting.
	Competition int
	Triggers    int
}

// ScoreBreakdown holds the per-component points and the final score.
type ScoreBreakdown struct {
	Revenue     float64 `json:"revenue"`
	Employees   float64 `json:"employees"`
	Recency     float64 `json:"recency"`
	Competition float64 `json:"competition"`
	Triggers    float64 `json:"triggers"`
	Final       int     `json:"final"`
}

// ComputeScore is deterministic. Each component is monotone: non-decreasing
// in revenue, employees and triggers, non-increasing in posting age and
// competition.
func ComputeScore(in ScoreInput, w Weights) ScoreBreakdown {
	b := ScoreBreakdown{
		Revenue:     w.Revenue * saturate(in.Revenue, revenueHalf),
		Employees:   w.Employees * saturate(float64(in.Employees), employeesHalf),
		Recency:     w.Recency * recency(in.PostingAge),
		Competition: w.Competition * (1 - saturate(float64(in.Competition), applicantsHalf)),
		Triggers:    w.Triggers * math.Min(float64(max(in.Triggers, 0))/triggersFull, 1),
	}
	total := b.Revenue + b.Employees + b.Recency + b.Competition + b.Triggers
	b.Final = clampScore(int(math.Round(total)))
	return b
}

// saturate maps [0,inf) onto [0,1) with half at half.
func saturate(v, half float64) float64 {
	if v <= 0 {
		return 0
	}
	return v / (v + half)
}

func recency(age time.Duration) float64 {
	if age < 0 {
		// Unknown posting date: neither fresh nor stale.
		return 0.5
	}
	if age >= recencyWindow {
		return 0
	}
	return 1 - float64(age)/float64(recencyWindow)
}

func clampScore(s int) int {
	switch {
	case s < 0:
		return 0
	case s > 100:
		return 100
	default:
		return s
	}
}

// scoreInputFor gathers the score inputs of a company and its postings.
func scoreInputFor(c *model.Company, postings []model.JobPosting, now time.Time) ScoreInput {
	in := ScoreInput{
		Revenue:    c.Revenue,
		Employees:  c.Employees,
		PostingAge: -1,
		Triggers:   len(c.Triggers),
	}
	var newest time.Time
	for _, p := range postings {
		if p.PostedAt.After(newest) {
			newest = p.PostedAt
		}
		if p.Applicants > in.Competition {
			in.Competition = p.Applicants
		}
	}
	if !newest.IsZero() {
		in.PostingAge = max(now.Sub(newest), 0)
	}
	return in
}

func logScore(company string, b ScoreBreakdown) {
	zap.L().Debug("pipeline: score computed",
		zap.String("company", company),
		zap.Float64("revenue", b.Revenue),
		zap.Float64("employees", b.Employees),
		zap.Float64("recency", b.Recency),
		zap.Float64("competition", b.Competition),
		zap.Float64("triggers", b.Triggers),
		zap.Int("score", b.Final),
	)
}
