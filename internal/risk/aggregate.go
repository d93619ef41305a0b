package risk

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/model"
)

// Aggregator turns a sealed enrichment snapshot into a risk assessment.
// Scoring is worst-offender: the transaction score is the highest
// per-entity score, so adding clean entities never lowers it.
type Aggregator struct {
	policy Policy
}

// NewAggregator creates an aggregator for the given policy.
func NewAggregator(policy Policy) *Aggregator {
	return &Aggregator{policy: policy}
}

// entityScore is one entity's fused view of its source findings.
type entityScore struct {
	entity   model.Entity
	score    float64
	signals  []model.Signal
	findings map[model.Signal][]string
}

// Assess fuses the snapshot into the transaction's single assessment. It
// never fails: missing sources reduce confidence, not availability.
func (a *Aggregator) Assess(snap *model.Snapshot) *model.RiskAssessment {
	out := &model.RiskAssessment{
		TransactionID: snap.TransactionID,
		Snapshot:      snap,
		Timestamp:     time.Now().UTC(),
	}

	if len(snap.Entities) == 0 {
		out.Score = a.policy.BaselineScore
		out.Confidence = a.policy.NoEntityConfidence
		out.Evidence = []string{"no entities extracted from transaction text"}
		out.Reason = "No entities could be extracted; risk defaults to the baseline with low confidence."
		return out
	}

	scores := make([]entityScore, 0, len(snap.Entities))
	typeSet := make(map[string]bool)
	for _, es := range snap.Entities {
		out.Entities = append(out.Entities, es.Entity.Name)
		typeSet[string(es.Entity.Type)] = true
		scores = append(scores, a.scoreEntity(es))
	}
	out.EntityTypes = sortedKeys(typeSet)

	worst := scores[0]
	for _, s := range scores[1:] {
		if s.score > worst.score {
			worst = s
		}
	}

	out.Score = max(worst.score, a.policy.BaselineScore)
	out.Confidence = coverage(snap)
	out.Evidence = a.collectEvidence(scores)
	if incomplete := snap.Scheduled - snap.Succeeded; incomplete > 0 {
		out.Evidence = append(out.Evidence,
			fmt.Sprintf("no source data could be retrieved for %d of %d checks", incomplete, snap.Scheduled))
	}
	out.Reason = a.narrative(worst, snap)

	zap.L().Info("risk: assessment computed",
		zap.String("transaction_id", snap.TransactionID),
		zap.Float64("score", out.Score),
		zap.Float64("confidence", out.Confidence),
		zap.String("band", string(model.BandFor(out.Score))),
		zap.Int("entities", len(snap.Entities)))
	return out
}

// scoreEntity fuses one entity's findings: the heaviest signal sets the
// base and each further distinct signal stacks a small bonus, capped at 1.0.
func (a *Aggregator) scoreEntity(es model.EntitySnapshot) entityScore {
	s := entityScore{
		entity:   es.Entity,
		findings: make(map[model.Signal][]string),
	}
	for _, r := range es.Results {
		if r.Status != model.SourceSuccess || r.Payload == nil {
			continue
		}
		for _, f := range r.Payload.Findings {
			s.findings[f.Signal] = append(s.findings[f.Signal], f.Detail)
		}
	}
	for _, signal := range a.policy.Weights.Ordered() {
		if len(s.findings[signal]) > 0 {
			s.signals = append(s.signals, signal)
		}
	}
	if len(s.signals) == 0 {
		return s
	}

	s.score = a.policy.Weights.For(s.signals[0])
	s.score += a.policy.StackBonus * float64(len(s.signals)-1)
	if s.score > 1.0 {
		s.score = 1.0
	}
	return s
}

// collectEvidence flattens finding details across entities in severity
// order, deduplicated, entities in snapshot order within each signal.
func (a *Aggregator) collectEvidence(scores []entityScore) []string {
	var (
		out  []string
		seen = make(map[string]bool)
	)
	for _, signal := range a.policy.Weights.Ordered() {
		for _, s := range scores {
			for _, detail := range s.findings[signal] {
				if seen[detail] {
					continue
				}
				seen[detail] = true
				out = append(out, detail)
			}
		}
	}
	return out
}

// narrative explains the score in one or two sentences: the worst entity,
// its signals in severity order, and a disclaimer when coverage was partial.
func (a *Aggregator) narrative(worst entityScore, snap *model.Snapshot) string {
	var b strings.Builder
	if len(worst.signals) == 0 {
		b.WriteString("No adverse findings across the checked sources.")
	} else {
		names := make([]string, len(worst.signals))
		for i, s := range worst.signals {
			names[i] = signalLabel(s)
		}
		fmt.Fprintf(&b, "%q triggered %s.", worst.entity.Name, strings.Join(names, ", "))
	}

	if incomplete := snap.Scheduled - snap.Succeeded; incomplete > 0 {
		fmt.Fprintf(&b, " %d of %d source checks did not complete; confidence is reduced accordingly.",
			incomplete, snap.Scheduled)
	}
	if snap.BudgetExpired {
		b.WriteString(" Enrichment stopped at the time budget.")
	}
	return b.String()
}

// coverage is the fraction of scheduled source checks that succeeded,
// floored at 0.05 so a fully-degraded run is still distinguishable from one
// that scheduled nothing.
func coverage(snap *model.Snapshot) float64 {
	if snap.Scheduled == 0 {
		return 0
	}
	c := float64(snap.Succeeded) / float64(snap.Scheduled)
	if c < 0.05 {
		return 0.05
	}
	return c
}

func signalLabel(s model.Signal) string {
	switch s {
	case model.SignalSanctions:
		return "a sanctions match"
	case model.SignalPEP:
		return "a PEP match"
	case model.SignalShell:
		return "shell-company indicators"
	case model.SignalAdverseNews:
		return "adverse news coverage"
	case model.SignalJurisdiction:
		return "a high-risk jurisdiction"
	default:
		return string(s)
	}
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
