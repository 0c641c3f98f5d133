package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpHandler "payment-link-gateway/internal/adapter/http/handler"
	"payment-link-gateway/internal/adapter/http/middleware"
	pgStorage "payment-link-gateway/internal/adapter/storage/postgres"
	redisStorage "payment-link-gateway/internal/adapter/storage/redis"
	"payment-link-gateway/internal/core/ports"
	"payment-link-gateway/internal/service"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the schema before serving")
	return cmd
}

func runServe(ctx context.Context, migrate bool) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Payment Link Gateway")

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	if migrate {
		if err := pgStorage.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info().Msg("Schema applied")
	}

	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Repositories
	merchantRepo := pgStorage.NewMerchantRepo(pool)
	paymentRequestRepo := pgStorage.NewPaymentRequestRepo(pool)
	idempotencyRepo := pgStorage.NewIdempotencyRepo(pool)
	auditRepo := pgStorage.NewAuditRepo(pool)
	transactor := pgStorage.NewTransactor(pool, cfg.Database.StatementTimeout)

	// Redis stores
	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)
	nonceStore := redisStorage.NewNonceStore(rdb)
	counterStore := redisStorage.NewCounterStore(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Services
	auditSvc := service.NewAuditService(auditRepo, log)
	buyerLimiter := service.NewBuyerRateLimiter(counterStore, cfg.BuyerLimit.Window, log)
	paymentRequestSvc := service.NewPaymentRequestService(service.PaymentRequestDeps{
		Merchants:    merchantRepo,
		Requests:     paymentRequestRepo,
		Idempotency:  idempotencyRepo,
		Cache:        idempotencyCache,
		Transactor:   transactor,
		BuyerLimiter: buyerLimiter,
		Audit:        auditSvc,
		Clock:        service.SystemClock{},
	}, service.PaymentRequestConfig{
		ExpiryOptions:        cfg.Payment.ExpiryOptions,
		DefaultExpiryMinutes: cfg.Payment.DefaultExpiryMinutes,
		DefaultPageSize:      cfg.Payment.DefaultPageSize,
		MaxAttempts:          cfg.Order.MaxAttempts,
		TxTimeout:            cfg.Order.TxTimeout,
		RetryBackoff:         cfg.Order.RetryBackoff,
	}, log)
	sigSvc := service.NewHMACSignatureService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		PaymentRequestSvc: paymentRequestSvc,
		Merchants:         merchantRepo,
		TokenSvc:          tokenSvc,
		SigSvc:            sigSvc,
		NonceStore:        nonceStore,
		Reporter: middleware.ReporterAuthConfig{
			KeyID:    cfg.Reporter.KeyID,
			Secret:   cfg.Reporter.Secret,
			MaxDrift: cfg.Reporter.MaxDrift,
			NonceTTL: cfg.Reporter.NonceTTL,
		},
		RateLimitStore:  rateLimitStore,
		HealthCheckers:  []ports.HealthChecker{pgStorage.NewHealthCheck(pool), redisStorage.NewHealthCheck(rdb)},
		DefaultPageSize: cfg.Payment.DefaultPageSize,
		Mode:            cfg.Server.Mode,
		TrustedProxies:  cfg.Server.TrustedProxies,
		Logger:          log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
	return nil
}
