package service

import (
	"context"
	"time"

	"payment-link-gateway/internal/core/domain"
	"payment-link-gateway/internal/core/ports"
	"payment-link-gateway/pkg/apperror"

	"github.com/google/uuid"
)

// GetByLinkID returns the public view of a payment request.
func (s *PaymentRequestServiceImpl) GetByLinkID(ctx context.Context, linkID string) (*domain.PaymentRequestView, error) {
	if _, err := domain.ParseLinkID(linkID); err != nil {
		return nil, apperror.Validation(err.Error())
	}

	pr, err := s.repo.GetByLinkID(ctx, linkID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if pr == nil {
		return nil, apperror.ErrNotFound("payment request")
	}
	view := s.present(ctx, pr)
	return &view, nil
}

// GetByID returns a payment request owned by merchantID.
func (s *PaymentRequestServiceImpl) GetByID(ctx context.Context, merchantID, id uuid.UUID) (*domain.PaymentRequestView, error) {
	pr, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	// Other merchants' requests are indistinguishable from missing ones.
	if pr == nil || pr.MerchantID != merchantID {
		return nil, apperror.ErrNotFound("payment request")
	}
	view := s.present(ctx, pr)
	return &view, nil
}

// List pages through a merchant's requests, newest order first. The status
// filter matches the effective status.
func (s *PaymentRequestServiceImpl) List(ctx context.Context, params ports.PaymentRequestListParams) ([]domain.PaymentRequestView, int64, error) {
	if params.Page <= 0 {
		params.Page = 1
	}
	if params.PageSize == 0 {
		params.PageSize = s.cfg.DefaultPageSize
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return nil, 0, apperror.Validation("page_size must be between 1 and 100")
	}
	if params.Status != nil && !params.Status.IsValid() {
		return nil, 0, apperror.Validation("unknown status filter")
	}
	if params.SettlementStatus != nil && !params.SettlementStatus.IsValid() {
		return nil, 0, apperror.Validation("unknown settlement_status filter")
	}
	if params.OrderDate != nil && !domain.ValidOrderDate(*params.OrderDate) {
		return nil, 0, apperror.Validation("order_date must be YYYYMMDD")
	}
	params.Now = s.clock.Now().UTC()

	rows, total, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.ErrDatabaseError(err)
	}

	views := make([]domain.PaymentRequestView, 0, len(rows))
	for i := range rows {
		views = append(views, s.present(ctx, &rows[i]))
	}
	return views, total, nil
}

// MonthlyUsage reports how much of the monthly link quota the merchant used.
func (s *PaymentRequestServiceImpl) MonthlyUsage(ctx context.Context, merchantID uuid.UUID) (*ports.QuotaUsage, error) {
	merchant, err := s.merchants.GetByID(ctx, merchantID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if merchant == nil {
		return nil, apperror.ErrNotFound("merchant")
	}
	loc, err := s.tz.Location(merchant.Timezone)
	if err != nil {
		return nil, err
	}

	usage, err := s.quota.Usage(ctx, merchant.ID, merchant.PaymentLinkMonthlyLimit, s.clock.Now().In(loc))
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return usage, nil
}

// present applies read-time expiry, writing it back when the row is overdue.
func (s *PaymentRequestServiceImpl) present(ctx context.Context, pr *domain.PaymentRequest) domain.PaymentRequestView {
	now := s.clock.Now().UTC()
	if pr.IsOverdue(now) {
		s.writeBackExpiry(ctx, pr, now)
	}
	return pr.ViewAt(now)
}

// writeBackExpiry persists EXPIRED outside any transaction. Only the caller
// whose update changed the row emits the audit event.
func (s *PaymentRequestServiceImpl) writeBackExpiry(ctx context.Context, pr *domain.PaymentRequest, now time.Time) {
	changed, err := s.repo.MarkExpired(ctx, nil, pr.ID, now)
	if err != nil {
		s.log.Warn().Err(err).Str("link_id", pr.LinkID).Msg("failed to write back expiry")
		return
	}
	if changed {
		pr.MarkExpired(now)
		s.emit(ctx, domain.AuditActionPaymentRequestExpired, domain.ActorSystem, pr, "", map[string]any{
			"expires_at": pr.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
}
