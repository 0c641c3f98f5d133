package service

import (
	"context"
	"encoding/hex"
	"time"

	"payment-link-gateway/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"
)

// BuyerRateLimiterImpl caps buyer-created payment requests per merchant and
// source address over a fixed window that opens with the first creation.
//
// The check and the increment are separate calls around the creation
// transaction, so N concurrent requests from one address can overshoot the
// cap by up to N-1.
type BuyerRateLimiterImpl struct {
	store  ports.CounterStore
	window time.Duration
	log    zerolog.Logger
}

// NewBuyerRateLimiter creates a limiter with the given window (normally 1h).
func NewBuyerRateLimiter(store ports.CounterStore, window time.Duration, log zerolog.Logger) *BuyerRateLimiterImpl {
	if window <= 0 {
		window = time.Hour
	}
	return &BuyerRateLimiterImpl{store: store, window: window, log: log}
}

// BuyerCounterKey builds the counter key. Addresses are hashed so raw buyer
// IPs never reach Redis.
func BuyerCounterKey(merchantID uuid.UUID, sourceAddress string) string {
	sum := blake2b.Sum256([]byte(sourceAddress))
	return "buyer_orders:" + merchantID.String() + ":" + hex.EncodeToString(sum[:])
}

// TryConsume reports whether one more creation fits in the current window.
// It does not consume. Counter store failures fail open.
func (l *BuyerRateLimiterImpl) TryConsume(ctx context.Context, merchantID uuid.UUID, sourceAddress string, maxPerHour int) (bool, int64, time.Duration) {
	if maxPerHour < 1 {
		maxPerHour = 1
	}

	current, ttl, err := l.store.Get(ctx, BuyerCounterKey(merchantID, sourceAddress), l.window)
	if err != nil {
		l.log.Warn().Err(err).
			Str("merchant_id", merchantID.String()).
			Msg("buyer rate limiter unavailable, allowing request")
		return true, 0, 0
	}

	if current < int64(maxPerHour) {
		return true, current, ttl
	}
	if ttl <= 0 {
		ttl = l.window
	}
	return false, current, ttl
}

// RecordConsumption counts one committed creation. Failures are logged only:
// the payment request already exists.
func (l *BuyerRateLimiterImpl) RecordConsumption(ctx context.Context, merchantID uuid.UUID, sourceAddress string) {
	if _, err := l.store.Increment(ctx, BuyerCounterKey(merchantID, sourceAddress), l.window); err != nil {
		l.log.Warn().Err(err).
			Str("merchant_id", merchantID.String()).
			Msg("failed to record buyer consumption")
	}
}
