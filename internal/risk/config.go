// Package risk fuses per-source enrichment results into a single
// transaction-level assessment.
package risk

import (
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/diligence-cli/internal/model"
)

// Weights assigns a base severity to each risk signal. A higher weight
// always yields a higher per-entity score, whatever else the entity shows.
type Weights struct {
	Sanctions    float64 `yaml:"sanctions"`
	PEP          float64 `yaml:"pep"`
	Shell        float64 `yaml:"shell_company"`
	AdverseNews  float64 `yaml:"adverse_news"`
	Jurisdiction float64 `yaml:"jurisdiction"`
}

// Policy is the scoring configuration. Loadable from YAML so compliance can
// tune weights without a rebuild.
type Policy struct {
	Weights Weights `yaml:"weights"`

	// StackBonus is added to an entity's score once per distinct signal
	// beyond the first. The score never exceeds 1.0.
	StackBonus float64 `yaml:"stack_bonus"`

	// BaselineScore is the floor reported when nothing adverse was found,
	// or when no entities could be extracted at all.
	BaselineScore float64 `yaml:"baseline_score"`

	// NoEntityConfidence is reported when extraction produced no entities.
	NoEntityConfidence float64 `yaml:"no_entity_confidence"`
}

// DefaultPolicy returns the standard weight table.
func DefaultPolicy() Policy {
	return Policy{
		Weights: Weights{
			Sanctions:    0.90,
			PEP:          0.75,
			Shell:        0.60,
			AdverseNews:  0.50,
			Jurisdiction: 0.40,
		},
		StackBonus:         0.05,
		BaselineScore:      0.10,
		NoEntityConfidence: 0.20,
	}
}

// LoadPolicy reads a YAML policy file, filling omitted fields from the
// defaults, and validates the result.
func LoadPolicy(path string) (Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, eris.Wrapf(err, "risk: read policy %s", path)
	}
	p := DefaultPolicy()
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Policy{}, eris.Wrapf(err, "risk: parse policy %s", path)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks all weights are in (0, 1] and sanctions outranks every
// other signal. The sanctions weight is the anchor: scoring promises that a
// sanctioned entity scores at least as high as any other single signal.
func (p Policy) Validate() error {
	w := p.Weights
	for _, pair := range []struct {
		name  string
		value float64
	}{
		{"sanctions", w.Sanctions},
		{"pep", w.PEP},
		{"shell_company", w.Shell},
		{"adverse_news", w.AdverseNews},
		{"jurisdiction", w.Jurisdiction},
	} {
		if pair.value <= 0 || pair.value > 1 {
			return eris.Errorf("risk: weight %s must be in (0, 1], got %.2f", pair.name, pair.value)
		}
	}
	if w.Sanctions < w.PEP || w.Sanctions < w.Shell || w.Sanctions < w.AdverseNews || w.Sanctions < w.Jurisdiction {
		return eris.New("risk: sanctions must carry the highest weight")
	}
	if p.StackBonus < 0 || p.StackBonus > 0.25 {
		return eris.Errorf("risk: stack_bonus must be in [0, 0.25], got %.2f", p.StackBonus)
	}
	if p.BaselineScore < 0 || p.BaselineScore >= 0.4 {
		return eris.Errorf("risk: baseline_score must stay below the medium band, got %.2f", p.BaselineScore)
	}
	return nil
}

// For returns the weight of a signal; unknown signals carry no weight.
func (w Weights) For(signal model.Signal) float64 {
	switch signal {
	case model.SignalSanctions:
		return w.Sanctions
	case model.SignalPEP:
		return w.PEP
	case model.SignalShell:
		return w.Shell
	case model.SignalAdverseNews:
		return w.AdverseNews
	case model.SignalJurisdiction:
		return w.Jurisdiction
	default:
		return 0
	}
}

// Ordered returns every known signal sorted by descending weight, used to
// keep evidence and narratives in severity order.
func (w Weights) Ordered() []model.Signal {
	signals := []model.Signal{
		model.SignalSanctions,
		model.SignalPEP,
		model.SignalShell,
		model.SignalAdverseNews,
		model.SignalJurisdiction,
	}
	sort.SliceStable(signals, func(i, j int) bool {
		return w.For(signals[i]) > w.For(signals[j])
	})
	return signals
}
