// Package store persists transactions, their entity sets, per-source
// results, relationship edges and final assessments.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/diligence-cli/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// TransactionFilter specifies criteria for listing transactions.
type TransactionFilter struct {
	Status model.TransactionStatus `json:"status,omitempty"`
	Limit  int                     `json:"limit,omitempty"`
	Offset int                     `json:"offset,omitempty"`
}

// Store defines the persistence interface for the assessment pipeline.
// Assessments are write-once: PutAssessment for an existing transaction ID
// is rejected.
type Store interface {
	// Transactions
	CreateTransaction(ctx context.Context, rawText string) (*model.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id string, status model.TransactionStatus) error
	SetTransactionError(ctx context.Context, id string, msg string) error
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]model.Transaction, error)
	// DeleteTransactionsBefore removes terminal transactions last updated
	// before the cutoff, with their dependent records.
	DeleteTransactionsBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Entities and per-source results
	PutEntity(ctx context.Context, transactionID string, e model.Entity) error
	ListEntities(ctx context.Context, transactionID string) ([]model.Entity, error)
	PutResult(ctx context.Context, transactionID string, r model.SourceResult) error
	ListResults(ctx context.Context, transactionID string) ([]model.SourceResult, error)

	// Relationship graph
	PutRelationship(ctx context.Context, rel model.Relationship) error
	ListRelationships(ctx context.Context, transactionID string) ([]model.Relationship, error)

	// Assessments
	PutAssessment(ctx context.Context, a *model.RiskAssessment) error
	GetAssessment(ctx context.Context, transactionID string) (*model.RiskAssessment, error)
	ListAssessments(ctx context.Context, limit int) ([]model.RiskAssessment, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
