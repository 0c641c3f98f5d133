package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payment-link-gateway/internal/core/ports"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes that mean "another transaction won, try again".
const (
	sqlstateSerializationFailure = "40001"
	sqlstateDeadlockDetected     = "40P01"
	sqlstateUniqueViolation      = "23505"
	sqlstateQueryCanceled        = "57014" // statement_timeout
)

// Transactor implements ports.DBTransactor using pgxpool.Pool.
type Transactor struct {
	pool             Pool
	statementTimeout time.Duration
}

// NewTransactor creates a new Transactor wrapping the connection pool.
// A positive statementTimeout is applied with SET LOCAL to every
// serializable unit of work.
func NewTransactor(pool Pool, statementTimeout time.Duration) *Transactor {
	return &Transactor{pool: pool, statementTimeout: statementTimeout}
}

// WithinSerializable runs fn inside a SERIALIZABLE transaction.
// Errors returned by fn pass through unchanged unless they are PostgreSQL
// conflict errors, which are reported as ports.ErrWriteConflict.
func (t *Transactor) WithinSerializable(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := t.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return classifyTxError(fmt.Errorf("begin serializable tx: %w", err))
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if t.statementTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL statement_timeout = %d", t.statementTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return classifyTxError(fmt.Errorf("set statement timeout: %w", err))
		}
	}

	if err := fn(tx); err != nil {
		return classifyTxError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyTxError(fmt.Errorf("commit tx: %w", err))
	}
	committed = true
	return nil
}

// IsWriteConflict reports whether err is a PostgreSQL error that a retry of
// the whole transaction can resolve.
func IsWriteConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case sqlstateSerializationFailure, sqlstateDeadlockDetected, sqlstateUniqueViolation, sqlstateQueryCanceled:
		return true
	}
	return false
}

func classifyTxError(err error) error {
	if IsWriteConflict(err) {
		return fmt.Errorf("%w: %w", ports.ErrWriteConflict, err)
	}
	return err
}
