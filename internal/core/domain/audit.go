package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionPaymentRequestCreated AuditAction = "PAYMENT_REQUEST_CREATED"
	AuditActionPaymentRequestExpired AuditAction = "PAYMENT_REQUEST_EXPIRED"
	AuditActionSettlementTransition  AuditAction = "SETTLEMENT_TRANSITION"
)

// AuditResourcePaymentRequest is the resource type for payment request events.
const AuditResourcePaymentRequest = "payment_request"

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	MerchantID   *uuid.UUID  `json:"merchant_id,omitempty"`
	Action       AuditAction `json:"action"`
	Actor        ActorKind   `json:"actor"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}
