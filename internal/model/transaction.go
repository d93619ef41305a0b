package model

import "time"

// TransactionStatus represents the current state of a transaction assessment.
// Transitions only move forward; a terminal status never changes.
type TransactionStatus string

const (
	StatusReceived    TransactionStatus = "received"
	StatusExtracting  TransactionStatus = "extracting"
	StatusEnriching   TransactionStatus = "enriching"
	StatusAggregating TransactionStatus = "aggregating"
	StatusCompleted   TransactionStatus = "completed"
	StatusFailed      TransactionStatus = "failed"
)

// statusRank orders statuses for monotonicity checks. Completed and Failed
// share the top rank; neither may replace the other.
var statusRank = map[TransactionStatus]int{
	StatusReceived:    0,
	StatusExtracting:  1,
	StatusEnriching:   2,
	StatusAggregating: 3,
	StatusCompleted:   4,
	StatusFailed:      4,
}

// Terminal reports whether the status is a final state.
func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanAdvanceTo reports whether a transition from s to next is a legal
// forward move. Terminal statuses accept no further transitions.
func (s TransactionStatus) CanAdvanceTo(next TransactionStatus) bool {
	if s.Terminal() {
		return false
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// Transaction is a submitted piece of transaction text under assessment.
type Transaction struct {
	ID          string            `json:"id"`
	RawText     string            `json:"raw_text"`
	Status      TransactionStatus `json:"status"`
	Error       string            `json:"error,omitempty"`
	SubmittedAt time.Time         `json:"submitted_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// TaskStatus is the per-(entity, source) sub-status of an in-flight
// transaction, used for progress reporting.
type TaskStatus struct {
	EntityKey string       `json:"entity_key"`
	Source    string       `json:"source"`
	Status    SourceStatus `json:"status"`
	Attempts  int          `json:"attempts"`
	Error     string       `json:"error,omitempty"`
}

// StatusView is the read view returned by status queries.
type StatusView struct {
	TransactionID string            `json:"transaction_id"`
	Status        TransactionStatus `json:"status"`
	Tasks         []TaskStatus      `json:"tasks,omitempty"`
}
