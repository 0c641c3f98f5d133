package ports

import (
	"context"
	"errors"
	"time"

	"payment-link-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrWriteConflict is reported by storage adapters when a transaction lost a
// race: serialization failure, deadlock, or a unique-constraint violation.
// The whole unit of work may be retried.
var ErrWriteConflict = errors.New("write conflict")

// MerchantDirectory is the read-only view of merchant accounts.
type MerchantDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Merchant, error)
	GetBySlug(ctx context.Context, slug string) (*domain.Merchant, error)
}

// PaymentRequestRepository defines persistence operations for payment requests.
// Methods accepting pgx.Tx run inside the caller's unit of work; where noted,
// a nil tx runs the statement on the pool.
type PaymentRequestRepository interface {
	Create(ctx context.Context, tx pgx.Tx, pr *domain.PaymentRequest) error
	// MaxOrderNumber returns the highest committed order number for the
	// partition, or 0 when the merchant has none on that date.
	MaxOrderNumber(ctx context.Context, tx pgx.Tx, merchantID uuid.UUID, orderDate string) (int, error)
	// CountCreatedBetween counts requests with created_at in [from, to).
	CountCreatedBetween(ctx context.Context, tx pgx.Tx, merchantID uuid.UUID, from, to time.Time) (int64, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentRequest, error)
	GetByLinkID(ctx context.Context, linkID string) (*domain.PaymentRequest, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PaymentRequest, error)
	GetByLinkIDForUpdate(ctx context.Context, tx pgx.Tx, linkID string) (*domain.PaymentRequest, error)
	// MarkExpired writes back the lazy expiry. It reports whether this call
	// changed the row; tx may be nil.
	MarkExpired(ctx context.Context, tx pgx.Tx, id uuid.UUID, now time.Time) (bool, error)
	UpdateSettlement(ctx context.Context, tx pgx.Tx, id uuid.UUID, settlement domain.SettlementStatus, status domain.PaymentRequestStatus, now time.Time) error
	List(ctx context.Context, params PaymentRequestListParams) ([]domain.PaymentRequest, int64, error)
}

// PaymentRequestListParams holds filter + pagination for listing payment requests.
type PaymentRequestListParams struct {
	MerchantID       uuid.UUID
	Status           *domain.PaymentRequestStatus // Effective status
	SettlementStatus *domain.SettlementStatus
	OrderDate        *string
	Now              time.Time // Reference instant for effective status
	Page             int
	PageSize         int
}

// IdempotencyRepository defines persistence for idempotency logs (DB backup).
type IdempotencyRepository interface {
	Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error
	// Get returns nil, nil when no log exists; tx may be nil.
	Get(ctx context.Context, tx pgx.Tx, key string) (*domain.IdempotencyLog, error)
}

// AuditRepository persists audit entries.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	// WithinSerializable runs fn in a SERIALIZABLE transaction and commits
	// when fn returns nil. Lost races surface as ErrWriteConflict.
	WithinSerializable(ctx context.Context, fn func(tx pgx.Tx) error) error
}
