package model

import (
	"encoding/json"
	"time"
)

// EntityType distinguishes the two kinds of parties a transaction names.
type EntityType string

const (
	EntityOrganization EntityType = "organization"
	EntityPerson       EntityType = "person"
)

// DiscoveredVia records how a transitively discovered entity entered the
// transaction's entity set.
type DiscoveredVia struct {
	ParentKey string `json:"parent_key"`
	Source    string `json:"source"`
}

// Entity is a party referenced by a transaction, unique per transaction by
// canonical key. Entities are never deleted once recorded.
type Entity struct {
	Key           string         `json:"key"`
	Name          string         `json:"name"`
	Type          EntityType     `json:"type"`
	Role          string         `json:"role,omitempty"`
	Jurisdiction  string         `json:"jurisdiction,omitempty"`
	SubType       string         `json:"sub_type,omitempty"` // extraction sub-type, e.g. shell_company
	Depth         int            `json:"depth"`
	DiscoveredVia *DiscoveredVia `json:"discovered_via,omitempty"`
	// HintOnly marks an entity recorded past the discovery depth bound.
	// Hint-only entities never acquire source results.
	HintOnly bool `json:"hint_only,omitempty"`
}

// SourceStatus is the lifecycle state of one (entity, source) fetch.
type SourceStatus string

const (
	SourcePending SourceStatus = "pending"
	SourceSuccess SourceStatus = "success"
	SourceFailed  SourceStatus = "failed"
	SourceSkipped SourceStatus = "skipped"
)

// Terminal reports whether the status will no longer change.
func (s SourceStatus) Terminal() bool {
	return s == SourceSuccess || s == SourceFailed || s == SourceSkipped
}

// Signal identifies a normalized risk signal emitted by a source adapter.
type Signal string

const (
	SignalSanctions    Signal = "sanctions_match"
	SignalPEP          Signal = "pep_match"
	SignalShell        Signal = "shell_company"
	SignalAdverseNews  Signal = "adverse_news"
	SignalJurisdiction Signal = "high_risk_jurisdiction"
)

// Finding is one triggered signal with provider-normalized detail text.
type Finding struct {
	Signal Signal `json:"signal"`
	Detail string `json:"detail"`
}

// DiscoveredEntity is a candidate sub-entity a source surfaced, before
// canonicalization and bounds checks.
type DiscoveredEntity struct {
	Name string     `json:"name"`
	Type EntityType `json:"type"`
	Role string     `json:"role,omitempty"`
}

// SourcePayload is the normalized output of a successful adapter fetch.
// All provider-specific shape handling happens in the adapter; the
// aggregator only reads Findings.
type SourcePayload struct {
	Findings   []Finding          `json:"findings,omitempty"`
	Discovered []DiscoveredEntity `json:"discovered,omitempty"`
	Raw        json.RawMessage    `json:"raw,omitempty"`
}

// SourceResult is the outcome of enriching one entity from one source.
// Unique per (entity key, source name); immutable once terminal.
type SourceResult struct {
	EntityKey string         `json:"entity_key"`
	Source    string         `json:"source"`
	Status    SourceStatus   `json:"status"`
	Payload   *SourcePayload `json:"payload,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorKind string         `json:"error_kind,omitempty"`
	Attempts  int            `json:"attempts"`
	FetchedAt *time.Time     `json:"fetched_at,omitempty"`
}

// Relationship is a persisted edge between two entities of a transaction.
type Relationship struct {
	TransactionID string `json:"transaction_id"`
	ParentKey     string `json:"parent_key"`
	ChildKey      string `json:"child_key"`
	Relation      string `json:"relation"`
}
