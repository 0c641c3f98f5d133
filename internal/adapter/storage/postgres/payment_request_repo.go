package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"payment-link-gateway/internal/core/domain"
	"payment-link-gateway/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const paymentRequestColumns = `id, merchant_id, order_date, order_number, link_id, amount, currency,
	description, expiry_minutes, expires_at, created_by, created_by_ip, status, settlement_status,
	created_at, updated_at`

// PaymentRequestRepo implements ports.PaymentRequestRepository.
type PaymentRequestRepo struct {
	pool Pool
}

// NewPaymentRequestRepo creates a new PaymentRequestRepo.
func NewPaymentRequestRepo(pool Pool) *PaymentRequestRepo {
	return &PaymentRequestRepo{pool: pool}
}

// Create inserts a payment request within a database transaction. A duplicate
// order number or link id surfaces as a unique violation (23505).
func (r *PaymentRequestRepo) Create(ctx context.Context, tx pgx.Tx, pr *domain.PaymentRequest) error {
	query := `INSERT INTO payment_requests (` + paymentRequestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := tx.Exec(ctx, query,
		pr.ID, pr.MerchantID, pr.OrderDate, pr.OrderNumber, pr.LinkID, pr.Amount, pr.Currency,
		pr.Description, pr.ExpiryMinutes, pr.ExpiresAt, string(pr.CreatedBy), pr.CreatedByIP,
		string(pr.Status), string(pr.SettlementStatus), pr.CreatedAt, pr.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment request: %w", err)
	}
	return nil
}

// MaxOrderNumber reads the current high-water mark of a merchant-day partition.
func (r *PaymentRequestRepo) MaxOrderNumber(ctx context.Context, tx pgx.Tx, merchantID uuid.UUID, orderDate string) (int, error) {
	query := `SELECT COALESCE(MAX(order_number), 0) FROM payment_requests
		WHERE merchant_id = $1 AND order_date = $2`

	var highest int
	if err := tx.QueryRow(ctx, query, merchantID, orderDate).Scan(&highest); err != nil {
		return 0, fmt.Errorf("max order number: %w", err)
	}
	return highest, nil
}

// CountCreatedBetween counts a merchant's payment requests created in [from, to).
func (r *PaymentRequestRepo) CountCreatedBetween(ctx context.Context, tx pgx.Tx, merchantID uuid.UUID, from, to time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM payment_requests
		WHERE merchant_id = $1 AND created_at >= $2 AND created_at < $3`

	var count int64
	if err := on(r.pool, tx).QueryRow(ctx, query, merchantID, from, to).Scan(&count); err != nil {
		return 0, fmt.Errorf("count payment requests: %w", err)
	}
	return count, nil
}

// GetByID fetches a payment request by its UUID.
func (r *PaymentRequestRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentRequest, error) {
	query := `SELECT ` + paymentRequestColumns + ` FROM payment_requests WHERE id = $1`
	pr, err := scanPaymentRequest(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get payment request by id: %w", err)
	}
	return pr, nil
}

// GetByLinkID fetches a payment request by its public link id.
func (r *PaymentRequestRepo) GetByLinkID(ctx context.Context, linkID string) (*domain.PaymentRequest, error) {
	query := `SELECT ` + paymentRequestColumns + ` FROM payment_requests WHERE link_id = $1`
	pr, err := scanPaymentRequest(r.pool.QueryRow(ctx, query, linkID))
	if err != nil {
		return nil, fmt.Errorf("get payment request by link id: %w", err)
	}
	return pr, nil
}

// GetByIDForUpdate locks the row (SELECT ... FOR UPDATE) for a settlement transition.
func (r *PaymentRequestRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PaymentRequest, error) {
	query := `SELECT ` + paymentRequestColumns + ` FROM payment_requests WHERE id = $1 FOR UPDATE`
	pr, err := scanPaymentRequest(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get payment request for update: %w", err)
	}
	return pr, nil
}

// GetByLinkIDForUpdate locks the row identified by link id.
func (r *PaymentRequestRepo) GetByLinkIDForUpdate(ctx context.Context, tx pgx.Tx, linkID string) (*domain.PaymentRequest, error) {
	query := `SELECT ` + paymentRequestColumns + ` FROM payment_requests WHERE link_id = $1 FOR UPDATE`
	pr, err := scanPaymentRequest(tx.QueryRow(ctx, query, linkID))
	if err != nil {
		return nil, fmt.Errorf("get payment request by link id for update: %w", err)
	}
	return pr, nil
}

// MarkExpired writes back the lazy expiry. The WHERE clause makes concurrent
// callers race safely: only one of them sees a changed row.
func (r *PaymentRequestRepo) MarkExpired(ctx context.Context, tx pgx.Tx, id uuid.UUID, now time.Time) (bool, error) {
	query := `UPDATE payment_requests SET status = $3, updated_at = $2
		WHERE id = $1 AND status = $4 AND expires_at < $2`

	tag, err := on(r.pool, tx).Exec(ctx, query, id, now,
		string(domain.PaymentRequestStatusExpired), string(domain.PaymentRequestStatusPending))
	if err != nil {
		return false, fmt.Errorf("mark payment request expired: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateSettlement records a settlement transition on a locked row.
func (r *PaymentRequestRepo) UpdateSettlement(ctx context.Context, tx pgx.Tx, id uuid.UUID, settlement domain.SettlementStatus, status domain.PaymentRequestStatus, now time.Time) error {
	query := `UPDATE payment_requests SET settlement_status = $1, status = $2, updated_at = $3 WHERE id = $4`

	tag, err := tx.Exec(ctx, query, string(settlement), string(status), now, id)
	if err != nil {
		return fmt.Errorf("update settlement status: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("update settlement status: payment request %s not found", id)
	}
	return nil
}

// List returns a page of a merchant's payment requests, newest order first.
// The status filter applies to the effective status at params.Now.
func (r *PaymentRequestRepo) List(ctx context.Context, params ports.PaymentRequestListParams) ([]domain.PaymentRequest, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("merchant_id = $%d", argIdx))
	args = append(args, params.MerchantID)
	argIdx++

	if params.Status != nil {
		switch *params.Status {
		case domain.PaymentRequestStatusExpired:
			conditions = append(conditions, fmt.Sprintf("(status = 'EXPIRED' OR (status = 'PENDING' AND expires_at < $%d))", argIdx))
			args = append(args, params.Now)
			argIdx++
		case domain.PaymentRequestStatusPending:
			conditions = append(conditions, fmt.Sprintf("(status = 'PENDING' AND expires_at >= $%d)", argIdx))
			args = append(args, params.Now)
			argIdx++
		default:
			conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
			args = append(args, string(*params.Status))
			argIdx++
		}
	}
	if params.SettlementStatus != nil {
		conditions = append(conditions, fmt.Sprintf("settlement_status = $%d", argIdx))
		args = append(args, string(*params.SettlementStatus))
		argIdx++
	}
	if params.OrderDate != nil {
		conditions = append(conditions, fmt.Sprintf("order_date = $%d", argIdx))
		args = append(args, *params.OrderDate)
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM payment_requests %s", where)
	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count payment requests: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT %s FROM payment_requests %s
		ORDER BY order_date DESC, order_number DESC LIMIT $%d OFFSET $%d`,
		paymentRequestColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list payment requests: %w", err)
	}
	defer rows.Close()

	var items []domain.PaymentRequest
	for rows.Next() {
		pr, err := scanPaymentRequestRow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan payment request row: %w", err)
		}
		items = append(items, *pr)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate payment request rows: %w", err)
	}
	return items, total, nil
}

// scanPaymentRequest returns nil, nil when the row does not exist.
func scanPaymentRequest(row pgx.Row) (*domain.PaymentRequest, error) {
	pr, err := scanPaymentRequestRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return pr, nil
}

func scanPaymentRequestRow(row pgx.Row) (*domain.PaymentRequest, error) {
	pr := &domain.PaymentRequest{}
	err := row.Scan(
		&pr.ID, &pr.MerchantID, &pr.OrderDate, &pr.OrderNumber, &pr.LinkID, &pr.Amount, &pr.Currency,
		&pr.Description, &pr.ExpiryMinutes, &pr.ExpiresAt, &pr.CreatedBy, &pr.CreatedByIP,
		&pr.Status, &pr.SettlementStatus, &pr.CreatedAt, &pr.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return pr, nil
}
