package pipeline

import "fmt"

// Stage is a state of the per-company state machine.
type Stage int

// Stages in execution order. Persisted and Discarded are terminal.
const (
	StageDiscover Stage = iota
	StageIdentify
	StageValidate
	StageEnrich
	StageScore
	StagePersist
	StagePersisted
	StageDiscarded
)

var stageNames = [...]string{
	StageDiscover:  "discover",
	StageIdentify:  "identify",
	StageValidate:  "validate",
	StageEnrich:    "enrich",
	StageScore:     "score",
	StagePersist:   "persist",
	StagePersisted: "persisted",
	StageDiscarded: "discarded",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// Terminal reports whether s ends the state machine.
func (s Stage) Terminal() bool {
	return s == StagePersisted || s == StageDiscarded
}

// OutcomeKind tags an Outcome.
type OutcomeKind int

// Outcome kinds.
const (
	OutcomeOK OutcomeKind = iota
	OutcomeDiscarded
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeDiscarded:
		return "discarded"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of one stage: Ok, Discarded with a reason, or
// Failed with an error. Stage transitions switch on Kind.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
	Err    error
}

// Ok is a successful stage.
func Ok() Outcome { return Outcome{Kind: OutcomeOK} }

// Discarded ends the company's run without persisting it.
func Discarded(reason string) Outcome {
	return Outcome{Kind: OutcomeDiscarded, Reason: reason}
}

// Failed is a stage failure. Whether it is fatal for the company depends on
// the stage.
func Failed(err error) Outcome { return Outcome{Kind: OutcomeFailed, Err: err} }

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeDiscarded:
		return "discarded: " + o.Reason
	case OutcomeFailed:
		if o.Err != nil {
			return "failed: " + o.Err.Error()
		}
		return "failed"
	default:
		return "ok"
	}
}

// Discard reasons.
const (
	ReasonNoTaxID        = "no tax id found"
	ReasonNameMismatch   = "registry name mismatch"
	ReasonInvalidTaxID   = "invalid tax id check digits"
	ReasonRegistryAbsent = "tax id not in registry"
	// ReasonBudgetExhausted stops a company whose next stage would start
	// after the batch budget ran out. It is not counted as a discard.
	ReasonBudgetExhausted = "batch budget exhausted"
)
