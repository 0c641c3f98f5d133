package ports

import (
	"context"
	"time"

	"payment-link-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Clock abstracts the current instant so date boundaries are testable.
type Clock interface {
	Now() time.Time
}

// SignatureService handles HMAC-SHA256 signing and verification.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
	BuildCanonicalString(method, path string, timestamp int64, nonce string, body string) string
}

// TokenService handles merchant dashboard JWTs.
type TokenService interface {
	Generate(merchantID uuid.UUID) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	MerchantID uuid.UUID
}

// IdempotencyCache is the Redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached response JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// NonceStore manages nonce uniqueness for replay attack prevention.
type NonceStore interface {
	// CheckAndSet atomically checks if nonce exists, sets it if not.
	// Returns true if nonce is new (valid), false if already used.
	CheckAndSet(ctx context.Context, scope string, nonce string, ttl time.Duration) (bool, error)
}

// CounterStore is a keyed counter with a fixed expiry set on first increment.
type CounterStore interface {
	// Increment adds one and returns the new value. The ttl applies only when
	// the key is created.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Get returns the current value and remaining ttl; 0, 0 when absent.
	// A key found without an expiry is given ttl.
	Get(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error)
}

// AuditService records audit events without blocking the caller.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}

// BuyerRateLimiter caps unsolicited buyer-created requests per source address.
type BuyerRateLimiter interface {
	// TryConsume checks the window without consuming it. Store failures
	// fail open, so there is no error result.
	TryConsume(ctx context.Context, merchantID uuid.UUID, sourceAddress string, maxPerHour int) (allowed bool, current int64, resetIn time.Duration)
	// RecordConsumption counts one successful creation.
	RecordConsumption(ctx context.Context, merchantID uuid.UUID, sourceAddress string)
}

// --- Service Ports (Business Logic) ---

// PaymentRequestService is the payment-link lifecycle.
type PaymentRequestService interface {
	Create(ctx context.Context, in CreatePaymentRequestInput) (*CreatePaymentRequestResult, error)
	GetByLinkID(ctx context.Context, linkID string) (*domain.PaymentRequestView, error)
	GetByID(ctx context.Context, merchantID, id uuid.UUID) (*domain.PaymentRequestView, error)
	List(ctx context.Context, params PaymentRequestListParams) ([]domain.PaymentRequestView, int64, error)
	TransitionSettlement(ctx context.Context, in TransitionInput) (*domain.PaymentRequestView, error)
	MonthlyUsage(ctx context.Context, merchantID uuid.UUID) (*QuotaUsage, error)
}

// CreatePaymentRequestInput holds validated input for creating a payment link.
type CreatePaymentRequestInput struct {
	MerchantID     uuid.UUID
	Amount         decimal.Decimal
	Currency       string // Empty = merchant default
	Description    *string
	ExpiryMinutes  *int // nil = merchant default
	CreatedBy      domain.ActorKind
	SourceAddress  string // Required when CreatedBy is buyer
	IdempotencyKey string // Merchant-initiated only
}

// CreatePaymentRequestResult is returned to the creator.
type CreatePaymentRequestResult struct {
	ID          uuid.UUID `json:"id"`
	LinkID      string    `json:"link_id"`
	OrderDate   string    `json:"order_date"`
	OrderNumber int       `json:"order_number"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TransitionInput requests a settlement transition. Exactly one of ID and
// LinkID identifies the payment request.
type TransitionInput struct {
	ID         uuid.UUID
	LinkID     string
	Target     domain.SettlementStatus
	Actor      domain.ActorKind
	MerchantID uuid.UUID // Required when Actor is merchant
	Note       string
	Evidence   map[string]any
	ClientIP   string
}

// QuotaUsage reports a merchant's monthly payment link consumption.
type QuotaUsage struct {
	MerchantID  uuid.UUID `json:"merchant_id"`
	Used        int64     `json:"used"`
	Limit       int       `json:"limit"` // 0 = unlimited
	Remaining   *int64    `json:"remaining,omitempty"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Timezone    string    `json:"timezone"`
}
