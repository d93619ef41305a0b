package model

import "time"

// RiskBand buckets a score for dashboard reporting.
type RiskBand string

const (
	BandHigh   RiskBand = "high"
	BandMedium RiskBand = "medium"
	BandLow    RiskBand = "low"
)

// BandFor maps a score to its risk band. Thresholds match the dashboard
// convention: high >= 0.7, medium >= 0.4.
func BandFor(score float64) RiskBand {
	switch {
	case score >= 0.7:
		return BandHigh
	case score >= 0.4:
		return BandMedium
	default:
		return BandLow
	}
}

// EntitySnapshot pairs an entity with all of its per-source results.
type EntitySnapshot struct {
	Entity  Entity                  `json:"entity"`
	Results map[string]SourceResult `json:"results"`
}

// Snapshot is the atomic per-transaction view the aggregator consumes. It is
// taken exactly once, when the frontier empties or the budget expires, and
// never revised afterward.
type Snapshot struct {
	TransactionID string           `json:"transaction_id"`
	Entities      []EntitySnapshot `json:"entities"`
	Scheduled     int              `json:"scheduled"`
	Succeeded     int              `json:"succeeded"`
	Failed        int              `json:"failed"`
	Skipped       int              `json:"skipped"`
	BudgetExpired bool             `json:"budget_expired,omitempty"`
}

// RiskAssessment is the final fused output for a transaction. Created exactly
// once and published read-only to the knowledge store.
type RiskAssessment struct {
	TransactionID string    `json:"transaction_id"`
	Score         float64   `json:"risk_score"`
	Confidence    float64   `json:"confidence_score"`
	Evidence      []string  `json:"supporting_evidence"`
	Reason        string    `json:"reason"`
	Entities      []string  `json:"extracted_entities"`
	EntityTypes   []string  `json:"entity_types"`
	Snapshot      *Snapshot `json:"snapshot,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
