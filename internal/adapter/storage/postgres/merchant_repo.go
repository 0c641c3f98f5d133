package postgres

import (
	"context"
	"errors"
	"fmt"

	"payment-link-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const merchantColumns = `id, slug, name, timezone, default_currency, max_buyer_orders_per_hour,
	payment_link_monthly_limit, default_payment_expiry_minutes, status, created_at, updated_at`

// MerchantRepo implements ports.MerchantDirectory. Merchants are managed by
// the account service, so this repository only reads.
type MerchantRepo struct {
	pool Pool
}

// NewMerchantRepo creates a new MerchantRepo.
func NewMerchantRepo(pool Pool) *MerchantRepo {
	return &MerchantRepo{pool: pool}
}

// GetByID fetches a merchant by its UUID.
func (r *MerchantRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Merchant, error) {
	query := `SELECT ` + merchantColumns + ` FROM merchants WHERE id = $1`

	m, err := scanMerchant(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get merchant by id: %w", err)
	}
	return m, nil
}

// GetBySlug fetches a merchant by its public slug.
func (r *MerchantRepo) GetBySlug(ctx context.Context, slug string) (*domain.Merchant, error) {
	query := `SELECT ` + merchantColumns + ` FROM merchants WHERE slug = $1`

	m, err := scanMerchant(r.pool.QueryRow(ctx, query, slug))
	if err != nil {
		return nil, fmt.Errorf("get merchant by slug: %w", err)
	}
	return m, nil
}

// scanMerchant returns nil, nil when the row does not exist.
func scanMerchant(row pgx.Row) (*domain.Merchant, error) {
	m := &domain.Merchant{}
	err := row.Scan(
		&m.ID, &m.Slug, &m.Name, &m.Timezone, &m.DefaultCurrency,
		&m.MaxBuyerOrdersPerHour, &m.PaymentLinkMonthlyLimit, &m.DefaultPaymentExpiryMinutes,
		&m.Status, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}
