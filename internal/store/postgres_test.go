package store

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/diligence-cli/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newPostgresWithPool(mock), mock
}

func TestPostgresCreateTransaction(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO transactions`).
		WithArgs(pgxmock.AnyArg(), "wire transfer", "received", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	txn, err := s.CreateTransaction(context.Background(), "wire transfer")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(txn.ID, "txn_"))
	assert.Equal(t, model.StatusReceived, txn.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateTransactionStatus(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE transactions SET status`).
		WithArgs("enriching", pgxmock.AnyArg(), "txn_1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.UpdateTransactionStatus(context.Background(), "txn_1", model.StatusEnriching))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateTransactionStatusNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE transactions SET status`).
		WithArgs("failed", pgxmock.AnyArg(), "txn_missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateTransactionStatus(context.Background(), "txn_missing", model.StatusFailed)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresGetTransaction(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, raw_text, status, error, submitted_at, updated_at FROM transactions`).
		WithArgs("txn_1").
		WillReturnRows(pgxmock.NewRows(
			[]string{"id", "raw_text", "status", "error", "submitted_at", "updated_at"},
		).AddRow("txn_1", "text", "completed", "", now, now))

	txn, err := s.GetTransaction(context.Background(), "txn_1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, txn.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPutResult(t *testing.T) {
	s, mock := newMockStore(t)

	r := model.SourceResult{
		EntityKey: "org:acme",
		Source:    "opensanctions",
		Status:    model.SourceSuccess,
		Attempts:  1,
	}
	data, err := json.Marshal(r)
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO source_results`).
		WithArgs("txn_1", "org:acme", "opensanctions", data).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.PutResult(context.Background(), "txn_1", r))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetAssessment(t *testing.T) {
	s, mock := newMockStore(t)

	a := model.RiskAssessment{TransactionID: "txn_1", Score: 0.9, Confidence: 1.0}
	data, err := json.Marshal(a)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT data FROM assessments`).
		WithArgs("txn_1").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(data))

	got, err := s.GetAssessment(context.Background(), "txn_1")
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.Score)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetAssessmentNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT data FROM assessments`).
		WithArgs("txn_missing").
		WillReturnRows(pgxmock.NewRows([]string{"data"}))

	_, err := s.GetAssessment(context.Background(), "txn_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresListAssessments(t *testing.T) {
	s, mock := newMockStore(t)

	high, _ := json.Marshal(model.RiskAssessment{TransactionID: "txn_1", Score: 0.9})
	low, _ := json.Marshal(model.RiskAssessment{TransactionID: "txn_2", Score: 0.2})

	mock.ExpectQuery(`SELECT data FROM assessments ORDER BY created_at DESC`).
		WithArgs(5).
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(high).AddRow(low))

	out, err := s.ListAssessments(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "txn_1", out[0].TransactionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
