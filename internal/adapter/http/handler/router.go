package handler

import (
	"payment-link-gateway/internal/adapter/http/middleware"
	"payment-link-gateway/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	PaymentRequestSvc ports.PaymentRequestService
	Merchants         ports.MerchantDirectory
	TokenSvc          ports.TokenService
	SigSvc            ports.SignatureService
	NonceStore        ports.NonceStore
	Reporter          middleware.ReporterAuthConfig // empty KeyID = evidence endpoint not mounted
	RateLimitStore    middleware.RateLimitStore     // nil = rate limiting disabled
	HealthCheckers    []ports.HealthChecker
	TrustedProxies    []string // CIDRs allowed to set X-Forwarded-For; empty = use the socket peer
	DefaultPageSize   int
	Mode              string // gin mode; defaults to release
	Logger            zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	mode := deps.Mode
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)
	r := gin.New()

	// ClientIP keys the per-address limits, so forwarded headers count only
	// when they come from a configured proxy.
	if err := r.SetTrustedProxies(deps.TrustedProxies); err != nil {
		deps.Logger.Error().Err(err).Strs("trusted_proxies", deps.TrustedProxies).
			Msg("invalid trusted proxies, ignoring forwarded headers")
		_ = r.SetTrustedProxies(nil)
	}

	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1")

	// --- Merchant dashboard (JWT) ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	prHandler := NewPaymentRequestHandler(deps.PaymentRequestSvc, deps.DefaultPageSize)

	requests := v1.Group("/payment-requests", jwtAuth, rl("merchant_api"))
	{
		requests.POST("", prHandler.Create)
		requests.GET("", prHandler.List)
		requests.GET("/:id", prHandler.Get)
		requests.POST("/:id/settlement", prHandler.TransitionSettlement)
	}
	v1.GET("/merchants/me/quota", jwtAuth, rl("merchant_api"), prHandler.Quota)

	// --- Public payment page ---
	buyerHandler := NewBuyerHandler(deps.PaymentRequestSvc, deps.Merchants)
	pay := v1.Group("/pay/:slug")
	{
		pay.POST("", rl("buyer_create"), buyerHandler.Create)
		pay.GET("/:date/:number", rl("buyer_portal"), buyerHandler.Get)
		pay.POST("/:date/:number/claim", rl("buyer_portal"), buyerHandler.Claim)
		pay.POST("/:date/:number/cancel", rl("buyer_portal"), buyerHandler.Cancel)
	}

	// --- Settlement reporter (HMAC) ---
	if deps.Reporter.KeyID != "" && deps.Reporter.Secret != "" {
		evidenceHandler := NewEvidenceHandler(deps.PaymentRequestSvc)
		reporterAuth := middleware.ReporterAuth(deps.Reporter, deps.SigSvc, deps.NonceStore, deps.Logger)
		v1.POST("/settlement-evidence", reporterAuth, rl("evidence"), evidenceHandler.Report)
	} else {
		deps.Logger.Warn().Msg("reporter credentials not configured, settlement-evidence endpoint disabled")
	}

	return r
}
