package service

import (
	"context"
	"fmt"

	"payment-link-gateway/internal/core/domain"
	"payment-link-gateway/internal/core/ports"
	"payment-link-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// OrderAllocator picks the next order number of a merchant-day partition.
// It only reads; the caller inserts under the unique constraint, and a lost
// race is retried by re-running the whole unit of work.
type OrderAllocator struct {
	repo ports.PaymentRequestRepository
}

// NewOrderAllocator creates an allocator over repo.
func NewOrderAllocator(repo ports.PaymentRequestRepository) *OrderAllocator {
	return &OrderAllocator{repo: repo}
}

// Allocate returns max(order_number)+1 for the partition, starting at 1.
func (a *OrderAllocator) Allocate(ctx context.Context, tx pgx.Tx, merchantID uuid.UUID, orderDate string) (int, error) {
	highest, err := a.repo.MaxOrderNumber(ctx, tx, merchantID, orderDate)
	if err != nil {
		return 0, fmt.Errorf("allocate order number: %w", err)
	}

	next := highest + 1
	if next > domain.MaxOrderNumber {
		return 0, apperror.ErrDailyLimitExceeded(orderDate, domain.MaxOrderNumber)
	}
	return next, nil
}
