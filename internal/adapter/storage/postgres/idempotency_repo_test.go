package postgres

import (
	"context"
	"testing"
	"time"

	"payment-link-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewIdempotencyRepo(mock)
	log := &domain.IdempotencyLog{
		Key:              "merchant-id:create-001",
		PaymentRequestID: uuid.New(),
		ResponseJSON:     []byte(`{"link_id":"abc123/20251106/0001"}`),
		CreatedAt:        time.Now().UTC().Truncate(time.Microsecond),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO idempotency_logs").
		WithArgs(log.Key, log.PaymentRequestID, log.ResponseJSON, log.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	require.NoError(t, repo.Create(context.Background(), tx, log))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyRepo_Get_InTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewIdempotencyRepo(mock)
	prID := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM idempotency_logs WHERE key").
		WithArgs("merchant-id:create-001").
		WillReturnRows(pgxmock.NewRows([]string{"key", "payment_request_id", "response_json", "created_at"}).
			AddRow("merchant-id:create-001", prID, []byte(`{"id":"x"}`), now))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	result, err := repo.Get(context.Background(), tx, "merchant-id:create-001")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, prID, result.PaymentRequestID)
	assert.Equal(t, []byte(`{"id":"x"}`), result.ResponseJSON)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyRepo_Get_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewIdempotencyRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM idempotency_logs WHERE key").
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	result, err := repo.Get(context.Background(), nil, "nonexistent")
	assert.NoError(t, err)
	assert.Nil(t, result)
}
