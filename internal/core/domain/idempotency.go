package domain

import (
	"time"

	"github.com/google/uuid"
)

// IdempotencyLog stores the response of a merchant-initiated creation so a
// retried request with the same key gets the same payment request back.
type IdempotencyLog struct {
	Key              string    `json:"key"` // Format: "merchant_id:idempotency_key"
	PaymentRequestID uuid.UUID `json:"payment_request_id"`
	ResponseJSON     []byte    `json:"response_json"`
	CreatedAt        time.Time `json:"created_at"`
}

// BuildIdempotencyKey constructs the standard key format.
func BuildIdempotencyKey(merchantID uuid.UUID, clientKey string) string {
	return merchantID.String() + ":" + clientKey
}
