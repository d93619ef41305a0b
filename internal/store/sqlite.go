package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/diligence-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS transactions (
	id           TEXT PRIMARY KEY,
	raw_text     TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'received',
	error        TEXT NOT NULL DEFAULT '',
	submitted_at DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS entities (
	transaction_id TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
	entity_key     TEXT NOT NULL,
	data           TEXT NOT NULL,
	PRIMARY KEY (transaction_id, entity_key)
);

CREATE TABLE IF NOT EXISTS source_results (
	transaction_id TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
	entity_key     TEXT NOT NULL,
	source         TEXT NOT NULL,
	data           TEXT NOT NULL,
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
	score          REAL NOT NULL,
	data           TEXT NOT NULL,
	created_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
CREATE INDEX IF NOT EXISTS idx_transactions_updated_at ON transactions(updated_at);
CREATE INDEX IF NOT EXISTS idx_assessments_created_at ON assessments(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateTransaction(ctx context.Context, rawText string) (*model.Transaction, error) {
	now := time.Now().UTC()
	txn := &model.Transaction{
		ID:          "txn_" + uuid.New().String(),
		RawText:     rawText,
		Status:      model.StatusReceived,
		SubmittedAt: now,
		UpdatedAt:   now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (id, raw_text, status, submitted_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		txn.ID, txn.RawText, string(txn.Status), txn.SubmittedAt, txn.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert transaction")
	}
	return txn, nil
}

func (s *SQLiteStore) UpdateTransactionStatus(ctx context.Context, id string, status model.TransactionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: update transaction status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SetTransactionError(ctx context.Context, id string, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET error = ?, updated_at = ? WHERE id = ?`,
		msg, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: set transaction error")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	var txn model.Transaction
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, raw_text, status, error, submitted_at, updated_at FROM transactions WHERE id = ?`, id,
	).Scan(&txn.ID, &txn.RawText, &status, &txn.Error, &txn.SubmittedAt, &txn.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get transaction")
	}
	txn.Status = model.TransactionStatus(status)
	return &txn, nil
}

func (s *SQLiteStore) ListTransactions(ctx context.Context, filter TransactionFilter) ([]model.Transaction, error) {
	query := `SELECT id, raw_text, status, error, submitted_at, updated_at FROM transactions`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY submitted_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list transactions")
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		var txn model.Transaction
		var status string
		if err := rows.Scan(&txn.ID, &txn.RawText, &status, &txn.Error, &txn.SubmittedAt, &txn.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan transaction")
		}
		txn.Status = model.TransactionStatus(status)
		out = append(out, txn)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate transactions")
}

func (s *SQLiteStore) DeleteTransactionsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM transactions WHERE updated_at < ? AND status IN (?, ?)`,
		cutoff, string(model.StatusCompleted), string(model.StatusFailed),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired transactions")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

func (s *SQLiteStore) PutEntity(ctx context.Context, transactionID string, e model.Entity) error {
	data, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal entity")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entities (transaction_id, entity_key, data) VALUES (?, ?, ?)
		 ON CONFLICT (transaction_id, entity_key) DO NOTHING`,
		transactionID, e.Key, string(data),
	)
	return eris.Wrap(err, "sqlite: insert entity")
}

func (s *SQLiteStore) ListEntities(ctx context.Context, transactionID string) ([]model.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM entities WHERE transaction_id = ? ORDER BY rowid`, transactionID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entities")
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entity")
		}
		var e model.Entity
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal entity")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate entities")
}

func (s *SQLiteStore) PutResult(ctx context.Context, transactionID string, r model.SourceResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO source_results (transaction_id, entity_key, source, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT (transaction_id, entity_key, source) DO UPDATE SET data = excluded.data`,
		transactionID, r.EntityKey, r.Source, string(data),
	)
	return eris.Wrap(err, "sqlite: upsert result")
}

func (s *SQLiteStore) ListResults(ctx context.Context, transactionID string) ([]model.SourceResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM source_results WHERE transaction_id = ? ORDER BY entity_key, source`, transactionID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list results")
	}
	defer rows.Close()

	var out []model.SourceResult
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		var r model.SourceResult
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate results")
}

func (s *SQLiteStore) PutRelationship(ctx context.Context, rel model.Relationship) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO relationships (transaction_id, parent_key, child_key, relation) VALUES (?, ?, ?, ?)
		 ON CONFLICT (transaction_id, parent_key, child_key) DO NOTHING`,
		rel.TransactionID, rel.ParentKey, rel.ChildKey, rel.Relation,
	)
	return eris.Wrap(err, "sqlite: insert relationship")
}

func (s *SQLiteStore) ListRelationships(ctx context.Context, transactionID string) ([]model.Relationship, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT transaction_id, parent_key, child_key, relation FROM relationships
		 WHERE transaction_id = ? ORDER BY rowid`, transactionID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list relationships")
	}
	defer rows.Close()

	var out []model.Relationship
	for rows.Next() {
		var rel model.Relationship
		if err := rows.Scan(&rel.TransactionID, &rel.ParentKey, &rel.ChildKey, &rel.Relation); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan relationship")
		}
		out = append(out, rel)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate relationships")
}

func (s *SQLiteStore) PutAssessment(ctx context.Context, a *model.RiskAssessment) error {
	data, err := json.Marshal(a)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal assessment")
	}
	// Write-once: a second assessment for the same transaction is a bug.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO assessments (transaction_id, score, data, created_at) VALUES (?, ?, ?, ?)`,
		a.TransactionID, a.Score, string(data), a.Timestamp,
	)
	return eris.Wrap(err, "sqlite: insert assessment")
}

func (s *SQLiteStore) GetAssessment(ctx context.Context, transactionID string) (*model.RiskAssessment, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM assessments WHERE transaction_id = ?`, transactionID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get assessment")
	}
	var a model.RiskAssessment
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal assessment")
	}
	return &a, nil
}

func (s *SQLiteStore) ListAssessments(ctx context.Context, limit int) ([]model.RiskAssessment, error) {
	query := `SELECT data FROM assessments ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list assessments")
	}
	defer rows.Close()

	var out []model.RiskAssessment
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan assessment")
		}
		var a model.RiskAssessment
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal assessment")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate assessments")
}
