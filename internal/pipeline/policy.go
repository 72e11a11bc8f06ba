package pipeline

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Identify sources, in the default chain order.
const (
	SourceProfile = "profile"
	SourceLocal   = "local"
	SourceSearch  = "search"
)

// Enrich collaborators.
const (
	EnrichFinancials = "financials"
	EnrichContacts   = "contacts"
	EnrichEvents     = "events"
)

// Policy tunes the stage machine without code changes. It is read from an
// optional YAML file.
type Policy struct {
	// Identify is the identify chain order. Unknown names are rejected.
	Identify []string `yaml:"identify"`
	// Enrich lists the enrich collaborators to run.
	Enrich []string `yaml:"enrich"`
	// Confidence is the provenance confidence recorded per source when
	// patches are applied. Sources not listed use 0.5.
	Confidence map[string]float64 `yaml:"confidence"`
	// Scoring overrides the configured weights when set.
	Scoring *Weights `yaml:"scoring,omitempty"`
}

// DefaultPolicy returns the built-in chain and source confidences.
func DefaultPolicy() Policy {
	return Policy{
		Identify: []string{SourceProfile, SourceLocal, SourceSearch},
		Enrich:   []string{EnrichFinancials, EnrichContacts, EnrichEvents},
		Confidence: map[string]float64{
			"registry":   0.95,
			"local":      0.9,
			"profile":    0.8,
			"search":     0.6,
			"financials": 0.5,
			"contacts":   0.6,
			"events":     0.6,
			"posting":    0.4,
		},
	}
}

// LoadPolicy reads a policy file. The YAML has a top-level "pipeline" key;
// omitted sections keep their defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, eris.Wrapf(err, "pipeline: read policy %s", path)
	}

	var wrapper struct {
		Pipeline Policy `yaml:"pipeline"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return p, eris.Wrap(err, "pipeline: parse policy")
	}

	in := wrapper.Pipeline
	if len(in.Identify) > 0 {
		p.Identify = in.Identify
	}
	if in.Enrich != nil {
		p.Enrich = in.Enrich
	}
	for k, v := range in.Confidence {
		p.Confidence[k] = v
	}
	p.Scoring = in.Scoring

	if err := p.validate(); err != nil {
		return DefaultPolicy(), err
	}
	return p, nil
}

func (p Policy) validate() error {
	for _, s := range p.Identify {
		switch s {
		case SourceProfile, SourceLocal, SourceSearch:
		default:
			return eris.Errorf("pipeline: unknown identify source %q", s)
		}
	}
	for _, s := range p.Enrich {
		switch s {
		case EnrichFinancials, EnrichContacts, EnrichEvents:
		default:
			return eris.Errorf("pipeline: unknown enrich collaborator %q", s)
		}
	}
	for k, v := range p.Confidence {
		if v < 0 || v > 1 {
			return eris.Errorf("pipeline: confidence for %q must be within [0,1]", k)
		}
	}
	return nil
}

func (p Policy) confidence(source string) float64 {
	if v, ok := p.Confidence[source]; ok {
		return v
	}
	return 0.5
}
