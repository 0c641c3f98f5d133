package middleware

import (
	"context"
	"strconv"
	"time"

	redisStore "payment-link-gateway/internal/adapter/storage/redis"
	"payment-link-gateway/pkg/apperror"
	"payment-link-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RateLimitRule defines a rate limit for a route group.
type RateLimitRule struct {
	Limit  int64
	Window time.Duration
}

// DefaultRateLimitRules returns the per-group request throttles.
func DefaultRateLimitRules() map[string]RateLimitRule {
	return map[string]RateLimitRule{
		"merchant_api": {Limit: 120, Window: time.Minute},
		"buyer_portal": {Limit: 60, Window: time.Minute},
		"buyer_create": {Limit: 30, Window: time.Minute},
		"evidence":     {Limit: 300, Window: time.Minute},
	}
}

// RateLimitStore is satisfied by the redis fixed-window store.
type RateLimitStore interface {
	Allow(ctx context.Context, scope, subject string, limit int64, window time.Duration) (*redisStore.RateLimitResult, error)
}

// RateLimiter creates a rate-limiting middleware for a given route group.
// Store failures let the request through.
func RateLimiter(store RateLimitStore, group string, rule RateLimitRule, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := store.Allow(c.Request.Context(), group, extractIdentifier(c), rule.Limit, rule.Window)
		if err != nil {
			log.Warn().Err(err).Str("group", group).Msg("rate limit check failed, allowing request (degraded mode)")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			retryAfter := result.RetryAfter(time.Now())
			c.Header("Retry-After", strconv.FormatInt(int64(retryAfter/time.Second), 10))
			response.Error(c, apperror.ErrRateLimitExceeded())
			c.Abort()
			return
		}

		c.Next()
	}
}

// extractIdentifier keys authenticated callers by merchant, everyone else by IP.
func extractIdentifier(c *gin.Context) string {
	if id, ok := MerchantID(c); ok {
		return "m:" + id.String()
	}
	if rid := c.GetString(CtxReporterID); rid != "" {
		return "r:" + rid
	}
	return "ip:" + c.ClientIP()
}
