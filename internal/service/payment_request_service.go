package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"time"
	"unicode/utf8"

	"payment-link-gateway/internal/core/domain"
	"payment-link-gateway/internal/core/ports"
	"payment-link-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const (
	idempotencyTTL       = 24 * time.Hour
	maxDescriptionLength = 500
	maxPageSize          = 100
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// PaymentRequestConfig tunes the lifecycle service. Zero values fall back to
// the defaults noted on each field.
type PaymentRequestConfig struct {
	ExpiryOptions        []int         // {15, 30, 60, 120}
	DefaultExpiryMinutes int           // 60
	DefaultPageSize      int           // 20
	MaxAttempts          int           // 5
	TxTimeout            time.Duration // 5s
	RetryBackoff         time.Duration // 0 disables the pause between attempts
}

func (c PaymentRequestConfig) withDefaults() PaymentRequestConfig {
	if len(c.ExpiryOptions) == 0 {
		c.ExpiryOptions = []int{15, 30, 60, 120}
	}
	if c.DefaultExpiryMinutes <= 0 {
		c.DefaultExpiryMinutes = 60
	}
	if c.DefaultPageSize <= 0 {
		c.DefaultPageSize = 20
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.TxTimeout <= 0 {
		c.TxTimeout = 5 * time.Second
	}
	return c
}

// PaymentRequestDeps groups the collaborators of PaymentRequestServiceImpl.
type PaymentRequestDeps struct {
	Merchants    ports.MerchantDirectory
	Requests     ports.PaymentRequestRepository
	Idempotency  ports.IdempotencyRepository
	Cache        ports.IdempotencyCache
	Transactor   ports.DBTransactor
	BuyerLimiter ports.BuyerRateLimiter
	Audit        ports.AuditService
	Clock        ports.Clock
}

// PaymentRequestServiceImpl implements ports.PaymentRequestService.
type PaymentRequestServiceImpl struct {
	merchants  ports.MerchantDirectory
	repo       ports.PaymentRequestRepository
	idempRepo  ports.IdempotencyRepository
	idempCache ports.IdempotencyCache
	transactor ports.DBTransactor
	limiter    ports.BuyerRateLimiter
	audit      ports.AuditService
	clock      ports.Clock
	tz         *TimezoneResolver
	allocator  *OrderAllocator
	quota      *QuotaGuard
	cfg        PaymentRequestConfig
	log        zerolog.Logger
}

// NewPaymentRequestService wires the lifecycle service.
func NewPaymentRequestService(deps PaymentRequestDeps, cfg PaymentRequestConfig, log zerolog.Logger) *PaymentRequestServiceImpl {
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	return &PaymentRequestServiceImpl{
		merchants:  deps.Merchants,
		repo:       deps.Requests,
		idempRepo:  deps.Idempotency,
		idempCache: deps.Cache,
		transactor: deps.Transactor,
		limiter:    deps.BuyerLimiter,
		audit:      deps.Audit,
		clock:      clock,
		tz:         NewTimezoneResolver(clock),
		allocator:  NewOrderAllocator(deps.Requests),
		quota:      NewQuotaGuard(deps.Requests),
		cfg:        cfg.withDefaults(),
		log:        log,
	}
}

// creation carries one validated Create call through the retry loop.
type creation struct {
	merchant      *domain.Merchant
	loc           *time.Location
	in            ports.CreatePaymentRequestInput
	currency      string
	expiryMinutes int
	idemKey       string
}

// Create allocates the next link id for the merchant and persists a PENDING
// payment request.
func (s *PaymentRequestServiceImpl) Create(ctx context.Context, in ports.CreatePaymentRequestInput) (*ports.CreatePaymentRequestResult, error) {
	merchant, err := s.activeMerchant(ctx, in.MerchantID)
	if err != nil {
		return nil, err
	}

	c, err := s.validateCreate(merchant, in)
	if err != nil {
		return nil, err
	}

	if c.idemKey != "" {
		if cached := s.cachedResult(ctx, c.idemKey); cached != nil {
			return cached, nil
		}
	}

	if in.CreatedBy == domain.ActorBuyer {
		allowed, current, resetIn := s.limiter.TryConsume(ctx, merchant.ID, in.SourceAddress, merchant.MaxBuyerOrdersPerHour)
		if !allowed {
			return nil, apperror.ErrBuyerLimitExceeded(int64(merchant.MaxBuyerOrdersPerHour), current, resetIn)
		}
	}

	var created *domain.PaymentRequest
	var result *ports.CreatePaymentRequestResult
	err = s.retry(ctx, "create payment request", func(attemptCtx context.Context) error {
		var err error
		created, result, err = s.createOnce(attemptCtx, c)
		return err
	})
	if err != nil {
		return nil, err
	}

	// Replayed from the idempotency log: nothing new was created.
	if created == nil {
		return result, nil
	}

	if in.CreatedBy == domain.ActorBuyer {
		s.limiter.RecordConsumption(ctx, merchant.ID, in.SourceAddress)
	}
	if c.idemKey != "" {
		s.cacheResult(ctx, c.idemKey, result)
	}
	s.emit(ctx, domain.AuditActionPaymentRequestCreated, in.CreatedBy, created, in.SourceAddress, map[string]any{
		"amount":   created.Amount.String(),
		"currency": created.Currency,
	})

	s.log.Info().
		Str("merchant_id", merchant.ID.String()).
		Str("link_id", created.LinkID).
		Str("created_by", string(in.CreatedBy)).
		Msg("payment request created")

	return result, nil
}

func (s *PaymentRequestServiceImpl) activeMerchant(ctx context.Context, id uuid.UUID) (*domain.Merchant, error) {
	merchant, err := s.merchants.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if merchant == nil {
		return nil, apperror.ErrNotFound("merchant")
	}
	if !merchant.IsActive() {
		return nil, apperror.ErrMerchantSuspended()
	}
	return merchant, nil
}

func (s *PaymentRequestServiceImpl) validateCreate(merchant *domain.Merchant, in ports.CreatePaymentRequestInput) (*creation, error) {
	switch in.CreatedBy {
	case domain.ActorMerchant:
	case domain.ActorBuyer:
		if in.SourceAddress == "" {
			return nil, apperror.Validation("source address is required for buyer-created requests")
		}
	default:
		return nil, apperror.Validation(fmt.Sprintf("payment requests cannot be created by %q", in.CreatedBy))
	}

	if !in.Amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}

	currency := in.Currency
	if currency == "" {
		currency = merchant.DefaultCurrency
	}
	if !currencyPattern.MatchString(currency) {
		return nil, apperror.Validation("currency must be a three-letter ISO 4217 code")
	}

	if in.Description != nil && utf8.RuneCountInString(*in.Description) > maxDescriptionLength {
		return nil, apperror.Validation(fmt.Sprintf("description must be at most %d characters", maxDescriptionLength))
	}

	expiry, err := s.resolveExpiry(merchant, in.ExpiryMinutes)
	if err != nil {
		return nil, err
	}

	loc, err := s.tz.Location(merchant.Timezone)
	if err != nil {
		return nil, err
	}

	c := &creation{
		merchant:      merchant,
		loc:           loc,
		in:            in,
		currency:      currency,
		expiryMinutes: expiry,
	}
	if in.CreatedBy == domain.ActorMerchant && in.IdempotencyKey != "" {
		c.idemKey = domain.BuildIdempotencyKey(merchant.ID, in.IdempotencyKey)
	}
	return c, nil
}

// resolveExpiry picks the expiry in minutes. The allowed set is the configured
// options plus the merchant's own default.
func (s *PaymentRequestServiceImpl) resolveExpiry(merchant *domain.Merchant, requested *int) (int, error) {
	if requested == nil {
		if merchant.DefaultPaymentExpiryMinutes > 0 {
			return merchant.DefaultPaymentExpiryMinutes, nil
		}
		return s.cfg.DefaultExpiryMinutes, nil
	}

	m := *requested
	if slices.Contains(s.cfg.ExpiryOptions, m) || (merchant.DefaultPaymentExpiryMinutes > 0 && m == merchant.DefaultPaymentExpiryMinutes) {
		return m, nil
	}
	return 0, apperror.Validation(fmt.Sprintf("expiry_minutes %d is not allowed", m)).
		WithDetail("allowed", s.allowedExpiries(merchant))
}

func (s *PaymentRequestServiceImpl) allowedExpiries(merchant *domain.Merchant) []int {
	allowed := slices.Clone(s.cfg.ExpiryOptions)
	if merchant.DefaultPaymentExpiryMinutes > 0 && !slices.Contains(allowed, merchant.DefaultPaymentExpiryMinutes) {
		allowed = append(allowed, merchant.DefaultPaymentExpiryMinutes)
	}
	slices.Sort(allowed)
	return allowed
}

// createOnce is a single attempt. A nil PaymentRequest with a non-nil result
// means the idempotency log already held the answer.
func (s *PaymentRequestServiceImpl) createOnce(ctx context.Context, c *creation) (*domain.PaymentRequest, *ports.CreatePaymentRequestResult, error) {
	now := s.clock.Now().UTC()
	orderDate := OrderDate(now, c.loc)

	var created *domain.PaymentRequest
	var result *ports.CreatePaymentRequestResult

	err := s.transactor.WithinSerializable(ctx, func(tx pgx.Tx) error {
		if c.idemKey != "" {
			existing, err := s.idempRepo.Get(ctx, tx, c.idemKey)
			if err != nil {
				return err
			}
			if existing != nil {
				var replay ports.CreatePaymentRequestResult
				if err := json.Unmarshal(existing.ResponseJSON, &replay); err != nil {
					return fmt.Errorf("decode idempotency log: %w", err)
				}
				result = &replay
				return nil
			}
		}

		if c.merchant.HasMonthlyLimit() {
			if err := s.quota.CheckAndReserve(ctx, tx, c.merchant.ID, c.merchant.PaymentLinkMonthlyLimit, now.In(c.loc)); err != nil {
				return err
			}
		}

		orderNumber, err := s.allocator.Allocate(ctx, tx, c.merchant.ID, orderDate)
		if err != nil {
			return err
		}

		pr := &domain.PaymentRequest{
			ID:               uuid.New(),
			MerchantID:       c.merchant.ID,
			OrderDate:        orderDate,
			OrderNumber:      orderNumber,
			LinkID:           domain.BuildLinkID(c.merchant.Slug, orderDate, orderNumber),
			Amount:           c.in.Amount,
			Currency:         c.currency,
			Description:      c.in.Description,
			ExpiryMinutes:    c.expiryMinutes,
			ExpiresAt:        now.Add(time.Duration(c.expiryMinutes) * time.Minute),
			CreatedBy:        c.in.CreatedBy,
			Status:           domain.PaymentRequestStatusPending,
			SettlementStatus: domain.SettlementPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if c.in.CreatedBy == domain.ActorBuyer {
			ip := c.in.SourceAddress
			pr.CreatedByIP = &ip
		}
		if err := s.repo.Create(ctx, tx, pr); err != nil {
			return err
		}

		res := resultFor(pr)
		if c.idemKey != "" {
			body, err := json.Marshal(res)
			if err != nil {
				return fmt.Errorf("encode idempotency log: %w", err)
			}
			if err := s.idempRepo.Create(ctx, tx, &domain.IdempotencyLog{
				Key:              c.idemKey,
				PaymentRequestID: pr.ID,
				ResponseJSON:     body,
				CreatedAt:        now,
			}); err != nil {
				return err
			}
		}

		created, result = pr, res
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return created, result, nil
}

func resultFor(pr *domain.PaymentRequest) *ports.CreatePaymentRequestResult {
	return &ports.CreatePaymentRequestResult{
		ID:          pr.ID,
		LinkID:      pr.LinkID,
		OrderDate:   pr.OrderDate,
		OrderNumber: pr.OrderNumber,
		ExpiresAt:   pr.ExpiresAt,
	}
}

// retry runs fn until it succeeds, fails for a reason other than a lost race,
// or runs out of attempts. Each attempt gets its own deadline; an expired
// attempt deadline counts as a lost race, a cancelled parent does not.
func (s *PaymentRequestServiceImpl) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.TxTimeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return appErr
		}
		if !errors.Is(err, ports.ErrWriteConflict) && !errors.Is(err, context.DeadlineExceeded) {
			return apperror.ErrDatabaseError(err)
		}
		if attempt >= s.cfg.MaxAttempts {
			s.log.Warn().Err(err).Str("op", op).Int("attempts", attempt).Msg("giving up after repeated conflicts")
			return apperror.ErrOrderConflict(attempt, err)
		}

		s.log.Debug().Err(err).Str("op", op).Int("attempt", attempt).Msg("write conflict, retrying")
		if s.cfg.RetryBackoff > 0 {
			timer := time.NewTimer(time.Duration(attempt) * s.cfg.RetryBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}

func (s *PaymentRequestServiceImpl) cachedResult(ctx context.Context, key string) *ports.CreatePaymentRequestResult {
	cached, err := s.idempCache.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("redis idempotency check failed, falling through to DB")
		return nil
	}
	if cached == nil {
		return nil
	}
	var res ports.CreatePaymentRequestResult
	if err := json.Unmarshal(cached, &res); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("discarding unreadable idempotency cache entry")
		return nil
	}
	return &res
}

func (s *PaymentRequestServiceImpl) cacheResult(ctx context.Context, key string, res *ports.CreatePaymentRequestResult) {
	body, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := s.idempCache.Set(ctx, key, body, idempotencyTTL); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to cache idempotency in redis")
	}
}

// emit sends an audit event for pr. details are encoded as JSON.
func (s *PaymentRequestServiceImpl) emit(ctx context.Context, action domain.AuditAction, actor domain.ActorKind, pr *domain.PaymentRequest, ip string, details map[string]any) {
	entry := &domain.AuditLog{
		ID:           uuid.New(),
		MerchantID:   &pr.MerchantID,
		Action:       action,
		Actor:        actor,
		ResourceType: domain.AuditResourcePaymentRequest,
		ResourceID:   pr.LinkID,
		IPAddress:    ip,
		CreatedAt:    s.clock.Now().UTC(),
	}
	if len(details) > 0 {
		if body, err := json.Marshal(details); err == nil {
			entry.Details = string(body)
		}
	}
	s.audit.Log(ctx, entry)
}
