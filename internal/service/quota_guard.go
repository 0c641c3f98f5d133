package service

import (
	"context"
	"fmt"
	"time"

	"payment-link-gateway/internal/core/ports"
	"payment-link-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// QuotaGuard enforces the per-merchant monthly payment link limit. The count
// runs inside the creation transaction, so under SERIALIZABLE two concurrent
// creations cannot both slip past the last free slot.
type QuotaGuard struct {
	repo ports.PaymentRequestRepository
}

// NewQuotaGuard creates a guard over repo.
func NewQuotaGuard(repo ports.PaymentRequestRepository) *QuotaGuard {
	return &QuotaGuard{repo: repo}
}

// CheckAndReserve fails with MonthlyQuotaExceeded when the merchant already
// created monthlyLimit requests in the calendar month of nowInMerchantTz.
// A limit of 0 means unlimited.
func (g *QuotaGuard) CheckAndReserve(ctx context.Context, tx pgx.Tx, merchantID uuid.UUID, monthlyLimit int, nowInMerchantTz time.Time) error {
	if monthlyLimit <= 0 {
		return nil
	}

	start, end := MonthBounds(nowInMerchantTz, nowInMerchantTz.Location())
	used, err := g.repo.CountCreatedBetween(ctx, tx, merchantID, start, end)
	if err != nil {
		return fmt.Errorf("count monthly usage: %w", err)
	}
	if used >= int64(monthlyLimit) {
		return apperror.ErrMonthlyQuotaExceeded(int64(monthlyLimit), used, end)
	}
	return nil
}

// Usage reports consumption for the month containing nowInMerchantTz.
func (g *QuotaGuard) Usage(ctx context.Context, merchantID uuid.UUID, monthlyLimit int, nowInMerchantTz time.Time) (*ports.QuotaUsage, error) {
	start, end := MonthBounds(nowInMerchantTz, nowInMerchantTz.Location())
	used, err := g.repo.CountCreatedBetween(ctx, nil, merchantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("count monthly usage: %w", err)
	}

	usage := &ports.QuotaUsage{
		MerchantID:  merchantID,
		Used:        used,
		Limit:       monthlyLimit,
		PeriodStart: start,
		PeriodEnd:   end,
		Timezone:    nowInMerchantTz.Location().String(),
	}
	if monthlyLimit > 0 {
		remaining := int64(monthlyLimit) - used
		if remaining < 0 {
			remaining = 0
		}
		usage.Remaining = &remaining
	}
	return usage, nil
}
