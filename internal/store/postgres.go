package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/diligence-cli/internal/model"
)

// pgxPool is the subset of pgxpool.Pool the store uses, split out so tests
// can substitute a mock.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store on a PostgreSQL pool.
type PostgresStore struct {
	pool pgxPool
}

// NewPostgres connects to PostgreSQL with the given DSN.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// newPostgresWithPool wires an existing pool, used by tests.
func newPostgresWithPool(pool pgxPool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS transactions (
	id           TEXT PRIMARY KEY,
	raw_text     TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'received',
	error        TEXT NOT NULL DEFAULT '',
	submitted_at TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS entities (
	transaction_id TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
	entity_key     TEXT NOT NULL,
	data           JSONB NOT NULL,
	PRIMARY KEY (transaction_id, entity_key)
);

CREATE TABLE IF NOT EXISTS source_results (
	transaction_id TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
	entity_key     TEXT NOT NULL,
	source         TEXT NOT NULL,
	data           JSONB NOT NULL,
	PRIMARY KEY (transaction_id, entity_key, source)
);

CREATE TABLE IF NOT EXISTS relationships (
	transaction_id TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
	parent_key     TEXT NOT NULL,
	child_key      TEXT NOT NULL,
	relation       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (transaction_id, parent_key, child_key)
);

CREATE TABLE IF NOT EXISTS assessments (
	transaction_id TEXT PRIMARY KEY REFERENCES transactions(id) ON DELETE CASCADE,
	score          DOUBLE PRECISION NOT NULL,
	data           JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
CREATE INDEX IF NOT EXISTS idx_transactions_updated_at ON transactions(updated_at);
CREATE INDEX IF NOT EXISTS idx_assessments_created_at ON assessments(created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateTransaction(ctx context.Context, rawText string) (*model.Transaction, error) {
	now := time.Now().UTC()
	txn := &model.Transaction{
		ID:          "txn_" + uuid.New().String(),
		RawText:     rawText,
		Status:      model.StatusReceived,
		SubmittedAt: now,
		UpdatedAt:   now,
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO transactions (id, raw_text, status, submitted_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		txn.ID, txn.RawText, string(txn.Status), txn.SubmittedAt, txn.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert transaction")
	}
	return txn, nil
}

func (s *PostgresStore) UpdateTransactionStatus(ctx context.Context, id string, status model.TransactionStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE transactions SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: update transaction status")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetTransactionError(ctx context.Context, id string, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE transactions SET error = $1, updated_at = $2 WHERE id = $3`,
		msg, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: set transaction error")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	var txn model.Transaction
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, raw_text, status, error, submitted_at, updated_at FROM transactions WHERE id = $1`, id,
	).Scan(&txn.ID, &txn.RawText, &status, &txn.Error, &txn.SubmittedAt, &txn.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get transaction")
	}
	txn.Status = model.TransactionStatus(status)
	return &txn, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, filter TransactionFilter) ([]model.Transaction, error) {
	query := `SELECT id, raw_text, status, error, submitted_at, updated_at FROM transactions`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY submitted_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(` OFFSET $%d`, len(args)+1)
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list transactions")
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		var txn model.Transaction
		var status string
		if err := rows.Scan(&txn.ID, &txn.RawText, &status, &txn.Error, &txn.SubmittedAt, &txn.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan transaction")
		}
		txn.Status = model.TransactionStatus(status)
		out = append(out, txn)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate transactions")
}

func (s *PostgresStore) DeleteTransactionsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM transactions WHERE updated_at < $1 AND status IN ($2, $3)`,
		cutoff, string(model.StatusCompleted), string(model.StatusFailed),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired transactions")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) PutEntity(ctx context.Context, transactionID string, e model.Entity) error {
	data, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal entity")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO entities (transaction_id, entity_key, data) VALUES ($1, $2, $3)
		 ON CONFLICT (transaction_id, entity_key) DO NOTHING`,
		transactionID, e.Key, data,
	)
	return eris.Wrap(err, "postgres: insert entity")
}

func (s *PostgresStore) ListEntities(ctx context.Context, transactionID string) ([]model.Entity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM entities WHERE transaction_id = $1 ORDER BY entity_key`, transactionID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entities")
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan entity")
		}
		var e model.Entity
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal entity")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate entities")
}

func (s *PostgresStore) PutResult(ctx context.Context, transactionID string, r model.SourceResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO source_results (transaction_id, entity_key, source, data) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (transaction_id, entity_key, source) DO UPDATE SET data = excluded.data`,
		transactionID, r.EntityKey, r.Source, data,
	)
	return eris.Wrap(err, "postgres: upsert result")
}

func (s *PostgresStore) ListResults(ctx context.Context, transactionID string) ([]model.SourceResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM source_results WHERE transaction_id = $1 ORDER BY entity_key, source`, transactionID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list results")
	}
	defer rows.Close()

	var out []model.SourceResult
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		var r model.SourceResult
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate results")
}

func (s *PostgresStore) PutRelationship(ctx context.Context, rel model.Relationship) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO relationships (transaction_id, parent_key, child_key, relation) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (transaction_id, parent_key, child_key) DO NOTHING`,
		rel.TransactionID, rel.ParentKey, rel.ChildKey, rel.Relation,
	)
	return eris.Wrap(err, "postgres: insert relationship")
}

func (s *PostgresStore) ListRelationships(ctx context.Context, transactionID string) ([]model.Relationship, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT transaction_id, parent_key, child_key, relation FROM relationships
		 WHERE transaction_id = $1 ORDER BY parent_key, child_key`, transactionID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list relationships")
	}
	defer rows.Close()

	var out []model.Relationship
	for rows.Next() {
		var rel model.Relationship
		if err := rows.Scan(&rel.TransactionID, &rel.ParentKey, &rel.ChildKey, &rel.Relation); err != nil {
			return nil, eris.Wrap(err, "postgres: scan relationship")
		}
		out = append(out, rel)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate relationships")
}

func (s *PostgresStore) PutAssessment(ctx context.Context, a *model.RiskAssessment) error {
	data, err := json.Marshal(a)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal assessment")
	}
	// Write-once: a second assessment for the same transaction is a bug.
	_, err = s.pool.Exec(ctx,
		`INSERT INTO assessments (transaction_id, score, data, created_at) VALUES ($1, $2, $3, $4)`,
		a.TransactionID, a.Score, data, a.Timestamp,
	)
	return eris.Wrap(err, "postgres: insert assessment")
}

func (s *PostgresStore) GetAssessment(ctx context.Context, transactionID string) (*model.RiskAssessment, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM assessments WHERE transaction_id = $1`, transactionID,
	).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get assessment")
	}
	var a model.RiskAssessment
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal assessment")
	}
	return &a, nil
}

func (s *PostgresStore) ListAssessments(ctx context.Context, limit int) ([]model.RiskAssessment, error) {
	query := `SELECT data FROM assessments ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list assessments")
	}
	defer rows.Close()

	var out []model.RiskAssessment
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan assessment")
		}
		var a model.RiskAssessment
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal assessment")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate assessments")
}
