package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentRequestStatus is the lifecycle status of a payment link.
// EXPIRED is derived lazily from ExpiresAt and written back opportunistically.
type PaymentRequestStatus string

const (
	PaymentRequestStatusPending  PaymentRequestStatus = "PENDING"
	PaymentRequestStatusExpired  PaymentRequestStatus = "EXPIRED"
	PaymentRequestStatusCanceled PaymentRequestStatus = "CANCELED"
)

// IsValid reports whether s is a known lifecycle status.
func (s PaymentRequestStatus) IsValid() bool {
	switch s {
	case PaymentRequestStatusPending, PaymentRequestStatusExpired, PaymentRequestStatusCanceled:
		return true
	}
	return false
}

// ActorKind identifies who is acting on a payment request.
type ActorKind string

const (
	ActorMerchant ActorKind = "merchant"
	ActorBuyer    ActorKind = "buyer"
	ActorSystem   ActorKind = "system"
)

// PaymentRequest is a merchant payment link identified by a sequential,
// human-readable link id.
type PaymentRequest struct {
	ID               uuid.UUID            `json:"id"`
	MerchantID       uuid.UUID            `json:"merchant_id"`
	OrderDate        string               `json:"order_date"` // YYYYMMDD in merchant timezone
	OrderNumber      int                  `json:"order_number"`
	LinkID           string               `json:"link_id"`
	Amount           decimal.Decimal      `json:"amount"`
	Currency         string               `json:"currency"`
	Description      *string              `json:"description,omitempty"`
	ExpiryMinutes    int                  `json:"expiry_minutes"`
	ExpiresAt        time.Time            `json:"expires_at"`
	CreatedBy        ActorKind            `json:"created_by"`
	CreatedByIP      *string              `json:"-"` // Only set for buyer-created requests
	Status           PaymentRequestStatus `json:"status"`
	SettlementStatus SettlementStatus     `json:"settlement_status"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// IsOverdue reports whether a stored PENDING row has passed its expiry and
// should be presented (and written back) as EXPIRED.
func (p *PaymentRequest) IsOverdue(now time.Time) bool {
	return p.Status == PaymentRequestStatusPending && now.After(p.ExpiresAt)
}

// EffectiveStatus is the lifecycle status as observed at now.
func (p *PaymentRequest) EffectiveStatus(now time.Time) PaymentRequestStatus {
	if p.IsOverdue(now) {
		return PaymentRequestStatusExpired
	}
	return p.Status
}

// MarkExpired applies the lazy expiry to the in-memory entity.
func (p *PaymentRequest) MarkExpired(now time.Time) {
	p.Status = PaymentRequestStatusExpired
	p.UpdatedAt = now
}

// PaymentRequestView is what readers get: the stored entity with the
// effective status applied.
type PaymentRequestView struct {
	PaymentRequest
	ExpiresInSeconds int64 `json:"expires_in_seconds"`
}

// ViewAt builds the read model of p as observed at now.
func (p PaymentRequest) ViewAt(now time.Time) PaymentRequestView {
	p.Status = p.EffectiveStatus(now)
	var remaining int64
	if p.Status == PaymentRequestStatusPending {
		remaining = int64(p.ExpiresAt.Sub(now) / time.Second)
	}
	return PaymentRequestView{PaymentRequest: p, ExpiresInSeconds: remaining}
}
