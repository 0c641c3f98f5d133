package service

import (
	"context"
	"fmt"
	"time"

	"payment-link-gateway/internal/core/domain"
	"payment-link-gateway/internal/core/ports"
	"payment-link-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TransitionSettlement moves a payment request along the settlement graph.
//
// The row is locked for the whole check. Rule violations found after the
// lazy expiry was applied still commit, so the EXPIRED write-back survives
// the rejected transition.
func (s *PaymentRequestServiceImpl) TransitionSettlement(ctx context.Context, in ports.TransitionInput) (*domain.PaymentRequestView, error) {
	if err := validateTransition(in); err != nil {
		return nil, err
	}

	var (
		pr        *domain.PaymentRequest
		from      domain.SettlementStatus
		expired   bool
		rejection error
		now       time.Time
	)

	err := s.retry(ctx, "settlement transition", func(attemptCtx context.Context) error {
		pr, expired, rejection = nil, false, nil
		return s.transactor.WithinSerializable(attemptCtx, func(tx pgx.Tx) error {
			var err error
			pr, err = s.lockForTransition(attemptCtx, tx, in)
			if err != nil {
				return err
			}
			if pr == nil || (in.Actor == domain.ActorMerchant && pr.MerchantID != in.MerchantID) {
				return apperror.ErrNotFound("payment request")
			}

			now = s.clock.Now().UTC()
			from = pr.SettlementStatus

			if pr.IsOverdue(now) {
				if expired, err = s.repo.MarkExpired(attemptCtx, tx, pr.ID, now); err != nil {
					return err
				}
				pr.MarkExpired(now)
			}

			if rejection = checkTransition(pr, in); rejection != nil {
				return nil
			}

			status := pr.Status
			if in.Target == domain.SettlementCanceled {
				status = domain.PaymentRequestStatusCanceled
			}
			if err := s.repo.UpdateSettlement(attemptCtx, tx, pr.ID, in.Target, status, now); err != nil {
				return err
			}
			pr.SettlementStatus = in.Target
			pr.Status = status
			pr.UpdatedAt = now
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if expired {
		s.emit(ctx, domain.AuditActionPaymentRequestExpired, domain.ActorSystem, pr, "", map[string]any{
			"expires_at": pr.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
	if rejection != nil {
		return nil, rejection
	}

	details := map[string]any{
		"from": string(from),
		"to":   string(in.Target),
	}
	if in.Note != "" {
		details["note"] = in.Note
	}
	if len(in.Evidence) > 0 {
		details["evidence"] = in.Evidence
	}
	s.emit(ctx, domain.AuditActionSettlementTransition, in.Actor, pr, in.ClientIP, details)

	s.log.Info().
		Str("link_id", pr.LinkID).
		Str("actor", string(in.Actor)).
		Str("from", string(from)).
		Str("to", string(in.Target)).
		Msg("settlement transition")

	view := pr.ViewAt(now)
	return &view, nil
}

func validateTransition(in ports.TransitionInput) error {
	if !in.Target.IsValid() {
		return apperror.Validation(fmt.Sprintf("unknown settlement status %q", in.Target))
	}
	switch in.Actor {
	case domain.ActorMerchant:
		if in.MerchantID == uuid.Nil {
			return apperror.Validation("merchant id is required for merchant transitions")
		}
	case domain.ActorBuyer, domain.ActorSystem:
	default:
		return apperror.Validation(fmt.Sprintf("unknown actor %q", in.Actor))
	}
	if in.ID == uuid.Nil && in.LinkID == "" {
		return apperror.Validation("payment request id or link_id is required")
	}
	if in.ID == uuid.Nil {
		if _, err := domain.ParseLinkID(in.LinkID); err != nil {
			return apperror.Validation(err.Error())
		}
	}
	return nil
}

func (s *PaymentRequestServiceImpl) lockForTransition(ctx context.Context, tx pgx.Tx, in ports.TransitionInput) (*domain.PaymentRequest, error) {
	if in.ID != uuid.Nil {
		return s.repo.GetByIDForUpdate(ctx, tx, in.ID)
	}
	return s.repo.GetByLinkIDForUpdate(ctx, tx, in.LinkID)
}

// checkTransition applies the expiry, graph and actor rules in that order.
func checkTransition(pr *domain.PaymentRequest, in ports.TransitionInput) error {
	current := pr.SettlementStatus
	if pr.Status == domain.PaymentRequestStatusExpired && domain.BlockedAfterExpiry(in.Target) {
		return apperror.ErrAlreadyExpired(pr.ExpiresAt)
	}
	if !domain.CanTransition(current, in.Target) {
		return apperror.ErrInvalidTransition(string(current), string(in.Target))
	}
	if !domain.ActorMayTransition(in.Actor, current, in.Target) {
		return apperror.ErrActorNotPermitted(string(in.Actor), string(current), string(in.Target))
	}
	return nil
}
