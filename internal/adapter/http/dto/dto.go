package dto

import (
	"html"
	"time"

	"payment-link-gateway/internal/core/domain"
	"payment-link-gateway/internal/core/ports"

	"github.com/shopspring/decimal"
)

// CreatePaymentRequestBody is the merchant request body for a new payment link.
type CreatePaymentRequestBody struct {
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency" binding:"omitempty,currency_code"`
	Description   *string         `json:"description,omitempty" binding:"omitempty,max=500"`
	ExpiryMinutes *int            `json:"expiry_minutes,omitempty" binding:"omitempty,gt=0"`
}

// BuyerCreateBody is the body a buyer posts to a merchant's public page.
type BuyerCreateBody struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency" binding:"omitempty,currency_code"`
	Description *string         `json:"description,omitempty" binding:"omitempty,max=500"`
}

// SettlementTransitionBody is the merchant request to move settlement status.
type SettlementTransitionBody struct {
	Status string `json:"status" binding:"required,settlement_status"`
	Note   string `json:"note" binding:"max=500"`
}

// BuyerNoteBody is the optional body of buyer claim and cancel calls.
type BuyerNoteBody struct {
	Note string `json:"note" binding:"max=500"`
}

// SettlementEvidenceBody is posted by the settlement reporter.
type SettlementEvidenceBody struct {
	LinkID   string         `json:"link_id" binding:"required,link_id"`
	Status   string         `json:"status" binding:"required,settlement_status"`
	Note     string         `json:"note" binding:"max=500"`
	Evidence map[string]any `json:"evidence,omitempty"`
}

// ListPaymentRequestsQuery holds list filters and paging.
type ListPaymentRequestsQuery struct {
	Page             int    `form:"page" binding:"omitempty,min=1"`
	PageSize         int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Status           string `form:"status" binding:"omitempty,oneof=PENDING EXPIRED CANCELED"`
	SettlementStatus string `form:"settlement_status" binding:"omitempty,settlement_status"`
	OrderDate        string `form:"order_date" binding:"omitempty,order_date"`
}

// SlugURI addresses a merchant's public page.
type SlugURI struct {
	Slug string `uri:"slug" binding:"required,merchant_slug"`
}

// LinkURI addresses a payment request by its link id parts.
type LinkURI struct {
	Slug   string `uri:"slug" binding:"required,merchant_slug"`
	Date   string `uri:"date" binding:"required,order_date"`
	Number string `uri:"number" binding:"required,len=4,numeric"`
}

// LinkID joins the parts back into a link id.
func (u LinkURI) LinkID() string {
	return u.Slug + "/" + u.Date + "/" + u.Number
}

// PaymentRequestResponse is the read model returned by the API.
type PaymentRequestResponse struct {
	ID               string  `json:"id"`
	LinkID           string  `json:"link_id"`
	MerchantID       string  `json:"merchant_id,omitempty"`
	OrderDate        string  `json:"order_date"`
	OrderNumber      int     `json:"order_number"`
	Amount           string  `json:"amount"`
	Currency         string  `json:"currency"`
	Description      *string `json:"description,omitempty"`
	ExpiryMinutes    int     `json:"expiry_minutes"`
	ExpiresAt        string  `json:"expires_at"`
	ExpiresInSeconds int64   `json:"expires_in_seconds"`
	CreatedBy        string  `json:"created_by,omitempty"`
	Status           string  `json:"status"`
	SettlementStatus string  `json:"settlement_status"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
}

// NewPaymentRequestResponse renders a view for the owning merchant.
func NewPaymentRequestResponse(v *domain.PaymentRequestView) PaymentRequestResponse {
	return PaymentRequestResponse{
		ID:               v.ID.String(),
		LinkID:           v.LinkID,
		MerchantID:       v.MerchantID.String(),
		OrderDate:        v.OrderDate,
		OrderNumber:      v.OrderNumber,
		Amount:           v.Amount.String(),
		Currency:         v.Currency,
		Description:      escapeText(v.Description),
		ExpiryMinutes:    v.ExpiryMinutes,
		ExpiresAt:        v.ExpiresAt.UTC().Format(time.RFC3339),
		ExpiresInSeconds: v.ExpiresInSeconds,
		CreatedBy:        string(v.CreatedBy),
		Status:           string(v.Status),
		SettlementStatus: string(v.SettlementStatus),
		CreatedAt:        v.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        v.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// escapeText HTML-escapes free text rendered on the buyer payment page.
func escapeText(s *string) *string {
	if s == nil {
		return nil
	}
	out := html.EscapeString(*s)
	return &out
}

// NewPublicPaymentRequestResponse renders a view for buyers, without merchant
// internals.
func NewPublicPaymentRequestResponse(v *domain.PaymentRequestView) PaymentRequestResponse {
	r := NewPaymentRequestResponse(v)
	r.MerchantID = ""
	r.CreatedBy = ""
	return r
}

// QuotaResponse reports monthly payment link usage.
type QuotaResponse struct {
	Used        int64  `json:"used"`
	Limit       int    `json:"limit"`
	Remaining   *int64 `json:"remaining,omitempty"`
	Unlimited   bool   `json:"unlimited"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	Timezone    string `json:"timezone"`
}

// NewQuotaResponse renders a monthly usage report.
func NewQuotaResponse(u *ports.QuotaUsage) QuotaResponse {
	return QuotaResponse{
		Used:        u.Used,
		Limit:       u.Limit,
		Remaining:   u.Remaining,
		Unlimited:   u.Limit <= 0,
		PeriodStart: u.PeriodStart.Format(time.RFC3339),
		PeriodEnd:   u.PeriodEnd.Format(time.RFC3339),
		Timezone:    u.Timezone,
	}
}
