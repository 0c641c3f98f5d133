package domain

import (
	"time"

	"github.com/google/uuid"
)

// MerchantStatus represents the state of a merchant account.
type MerchantStatus string

const (
	MerchantStatusActive      MerchantStatus = "ACTIVE"
	MerchantStatusSuspended   MerchantStatus = "SUSPENDED"
	MerchantStatusDeactivated MerchantStatus = "DEACTIVATED"
)

// Merchant is the read model of a merchant as seen by the payment-link core.
// Merchants are owned by the account service; this core never writes them.
type Merchant struct {
	ID                          uuid.UUID      `json:"id"`
	Slug                        string         `json:"slug"`
	Name                        string         `json:"name"`
	Timezone                    string         `json:"timezone"` // IANA zone, e.g. "Asia/Tokyo"
	DefaultCurrency             string         `json:"default_currency"`
	MaxBuyerOrdersPerHour       int            `json:"max_buyer_orders_per_hour"`
	PaymentLinkMonthlyLimit     int            `json:"payment_link_monthly_limit"` // 0 = unlimited
	DefaultPaymentExpiryMinutes int            `json:"default_payment_expiry_minutes"`
	Status                      MerchantStatus `json:"status"`
	CreatedAt                   time.Time      `json:"created_at"`
	UpdatedAt                   time.Time      `json:"updated_at"`
}

// IsActive returns true if the merchant account is active.
func (m *Merchant) IsActive() bool {
	return m.Status == MerchantStatusActive
}

// HasMonthlyLimit reports whether payment link creation is capped per month.
func (m *Merchant) HasMonthlyLimit() bool {
	return m.PaymentLinkMonthlyLimit > 0
}
