package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"payment-link-gateway/internal/adapter/http/middleware"
	redisStore "payment-link-gateway/internal/adapter/storage/redis"
	"payment-link-gateway/internal/core/domain"
	"payment-link-gateway/internal/core/ports"
	"payment-link-gateway/internal/core/ports/mocks"
	"payment-link-gateway/internal/service"
	"payment-link-gateway/pkg/apperror"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var fixedNow = time.Date(2025, 11, 6, 15, 1, 0, 0, time.UTC)

func sampleView(merchantID uuid.UUID) *domain.PaymentRequestView {
	desc := "Latte"
	pr := domain.PaymentRequest{
		ID:               uuid.New(),
		MerchantID:       merchantID,
		OrderDate:        "20251107",
		OrderNumber:      1,
		LinkID:           "abc123/20251107/0001",
		Amount:           decimal.RequireFromString("1500"),
		Currency:         "JPY",
		Description:      &desc,
		ExpiryMinutes:    60,
		ExpiresAt:        fixedNow.Add(time.Hour),
		CreatedBy:        domain.ActorMerchant,
		Status:           domain.PaymentRequestStatusPending,
		SettlementStatus: domain.SettlementPending,
		CreatedAt:        fixedNow,
		UpdatedAt:        fixedNow,
	}
	v := pr.ViewAt(fixedNow)
	return &v
}

// merchantEngine mounts the dashboard handlers behind a stub that plays the
// role of JWTAuth.
func merchantEngine(h *PaymentRequestHandler, merchantID uuid.UUID) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if merchantID != uuid.Nil {
			c.Set(middleware.CtxMerchantID, merchantID)
		}
	})
	r.POST("/api/v1/payment-requests", h.Create)
	r.GET("/api/v1/payment-requests", h.List)
	r.GET("/api/v1/payment-requests/:id", h.Get)
	r.POST("/api/v1/payment-requests/:id/settlement", h.TransitionSettlement)
	r.GET("/api/v1/merchants/me/quota", h.Quota)
	return r
}

func buyerEngine(h *BuyerHandler) *gin.Engine {
	r := gin.New()
	r.POST("/api/v1/pay/:slug", h.Create)
	r.GET("/api/v1/pay/:slug/:date/:number", h.Get)
	r.POST("/api/v1/pay/:slug/:date/:number/claim", h.Claim)
	r.POST("/api/v1/pay/:slug/:date/:number/cancel", h.Cancel)
	return r
}

func do(r http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.9:52100"
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// --- Merchant dashboard ---

func TestCreate_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockPaymentRequestService(ctrl)
	merchantID := uuid.New()
	id := uuid.New()

	svc.EXPECT().Create(gomock.Any(), gomock.Cond(func(in ports.CreatePaymentRequestInput) bool {
		return in.MerchantID == merchantID &&
			in.Amount.Equal(decimal.RequireFromString("1500.50")) &&
			in.Currency == "JPY" &&
			in.Description != nil && *in.Description == "Latte & cake" &&
			in.ExpiryMinutes != nil && *in.ExpiryMinutes == 30 &&
			in.CreatedBy == domain.ActorMerchant &&
			in.IdempotencyKey == "order-42"
	})).Return(&ports.CreatePaymentRequestResult{
		ID:          id,
		LinkID:      "abc123/20251107/0001",
		OrderDate:   "20251107",
		OrderNumber: 1,
		ExpiresAt:   fixedNow.Add(30 * time.Minute),
	}, nil)

	w := do(merchantEngine(NewPaymentRequestHandler(svc, 20), merchantID), http.MethodPost, "/api/v1/payment-requests",
		`{"amount":"1500.50","currency":"JPY","description":"  Latte & cake ","expiry_minutes":30}`,
		HeaderIdempotencyKey, "order-42")

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, id.String(), data["id"])
	assert.Equal(t, "abc123/20251107/0001", data["link_id"])
	assert.Equal(t, float64(1), data["order_number"])
}

func TestCreate_MissingMerchant(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockPaymentRequestService(ctrl)

	w := do(merchantEngine(NewPaymentRequestHandler(svc, 20), uuid.Nil), http.MethodPost, "/api/v1/payment-requests", `{"amount":"1"}`)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreate_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		headers []string
	}{
		{"malformed json", `{"amount":`, nil},
		{"lower-case currency", `{"amount":"1","currency":"jpy"}`, nil},
		{"non-positive expiry", `{"amount":"1","expiry_minutes":0}`, nil},
		{"bad idempotency key", `{"amount":"1"}`, []string{HeaderIdempotencyKey, "has spaces in it"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			svc := mocks.NewMockPaymentRequestService(ctrl) // never called

			w := do(merchantEngine(NewPaymentRequestHandler(svc, 20), uuid.New()), http.MethodPost, "/api/v1/payment-requests", tt.body, tt.headers...)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, apperror.CodeValidation, decode(t, w)["error_code"])
		})
	}
}

func TestCreate_QuotaExceeded(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockPaymentRequestService(ctrl)
	resets := time.Date(2025, 11, 30, 15, 0, 0, 0, time.UTC)
	svc.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil, apperror.ErrMonthlyQuotaExceeded(2, 2, resets))

	w := do(merchantEngine(NewPaymentRequestHandler(svc, 20), uuid.New()), http.MethodPost, "/api/v1/payment-requests", `{"amount":"10"}`)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	resp := decode(t, w)
	assert.Equal(t, apperror.CodeMonthlyQuota, resp["error_code"])
	details := resp["details"].(map[string]any)
	assert.Equal(t, "2025-11-30T15:00:00Z", details["resets_at"])
}

func TestList_PassesFiltersAndPages(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockPaymentRequestService(ctrl)
	merchantID := uuid.New()
	view := sampleView(merchantID)

	svc.EXPECT().List(gomock.Any(), gomock.Cond(func(p ports.PaymentRequestListParams) bool {
		return p.MerchantID == merchantID &&
			p.Page == 2 && p.PageSize == 20 &&
			p.Status != nil && *p.Status == domain.PaymentRequestStatusExpired &&
			p.SettlementStatus == nil &&
			p.OrderDate != nil && *p.OrderDate == "20251107"
	})).Return([]domain.PaymentRequestView{*view}, int64(21), nil)

	w := do(merchantEngine(NewPaymentRequestHandler(svc, 20), merchantID), http.MethodGet,
		"/api/v1/payment-requests?page=2&status=EXPIRED&order_date=20251107", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, float64(2), data["page"])
	assert.Equal(t, float64(20), data["page_size"])
	assert.Equal(t, float64(21), data["total"])
	items := data["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "1500", items[0].(map[string]any)["amount"])
}

func TestList_InvalidQuery(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockPaymentRequestService(ctrl)
	h := merchantEngine(NewPaymentRequestHandler(svc, 20), uuid.New())

	for _, q := range []string{"page_size=101", "page=0&page_size=-1", "status=PAID", "settlement_status=BOGUS", "order_date=2025-11-07"} {
		w := do(h, http.MethodGet, "/api/v1/payment-requests?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestGet(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockPaymentRequestService(ctrl)
	merchantID := uuid.New()
	view := sampleView(merchantID)
	h := merchantEngine(NewPaymentRequestHandler(svc, 20), merchantID)

	w := do(h, http.MethodGet, "/api/v1/payment-requests/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.EXPECT().GetByID(gomock.Any(), merchantID, view.ID).Return(view, nil)
	w = do(h, http.MethodGet, "/api/v1/payment-requests/"+view.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "abc123/20251107/0001", data["link_id"])
	assert.Equal(t, merchantID.String(), data["merchant_id"])
	assert.Equal(t, float64(3600), data["expires_in_seconds"])

	missing := uuid.New()
	svc.EXPECT().GetByID(gomock.Any(), merchantID, missing).Return(nil, apperror.ErrNotFound("payment request"))
	w = do(h, http.MethodGet, "/api/v1/payment-requests/"+missing.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTransitionSettlement_Merchant(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockPaymentRequestService(ctrl)
	merchantID := uuid.New()
	view := sampleView(merchantID)
	view.SettlementStatus = domain.SettlementPaid

	svc.EXPECT().TransitionSettlement(gomock.Any(), ports.TransitionInput{
		ID:         view.ID,
		Target:     domain.SettlementPaid,
		Actor:      domain.ActorMerchant,
		MerchantID: merchantID,
		Note:       "bank ref 991",
		ClientIP:   "203.0.113.9",
	}).Return(view, nil)

	w := do(merchantEngine(NewPaymentRequestHandler(svc, 20), merchantID), http.MethodPost,
		"/api/v1/payment-requests/"+view.ID.String()+"/settlement", `{"status":"PAID","note":"bank ref 991"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "PAID", decode(t, w)["data"].(map[string]any)["settlement_status"])
}

func TestTransitionSettlement_InvalidTransition(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockPaymentRequestService(ctrl)
	id := uuid.New()
	svc.EXPECT().TransitionSettlement(gomock.Any(), gomock.Any()).Return(nil, apperror.ErrInvalidTransition("SETTLED", "PENDING"))

	w := do(merchantEngine(NewPaymentRequestHandler(svc, 20), uuid.New()), http.MethodPost,
		"/api/v1/payment-requests/"+id.String()+"/settlement", `{"status":"PENDING"}`)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperror.CodeInvalidTransition, decode(t, w)["error_code"])
}

func TestTransitionSettlement_UnknownStatus(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockPaymentRequestService(ctrl)

	w := do(merchantEngine(NewPaymentRequestHandler(svc, 20), uuid.New()), http.MethodPost,
		"/api/v1/payment-requests/"+uuid.NewString()+"/settlement", `{"status":"REFUNDED"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQuota(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockPaymentRequestService(ctrl)
	merchantID := uuid.New()
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	remaining := int64(98)

	svc.EXPECT().MonthlyUsage(gomock.Any(), merchantID).Return(&ports.QuotaUsage{
		MerchantID:  merchantID,
		Used:        2,
		Limit:       100,
		Remaining:   &remaining,
		PeriodStart: time.Date(2025, 11, 1, 0, 0, 0, 0, tokyo),
		PeriodEnd:   time.Date(2025, 12, 1, 0, 0, 0, 0, tokyo),
		Timezone:    "Asia/Tokyo",
	}, nil)

	w := do(merchantEngine(NewPaymentRequestHandler(svc, 20), merchantID), http.MethodGet, "/api/v1/merchants/me/quota", nil)

	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, float64(2), data["used"])
	assert.Equal(t, float64(98), data["remaining"])
	assert.Equal(t, false, data["unlimited"])
	assert.Equal(t, "2025-11-01T00:00:00+09:00", data["period_start"])
	assert.Equal(t, "Asia/Tokyo", data["timezone"])
}

// --- Public payment page ---

func TestBuyerCreate_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockPaymentRequestService(ctrl)
	merchants := mocks.NewMockMerchantDirectory(ctrl)
	merchant := &domain.Merchant{ID: uuid.New(), Slug: "abc123", Status: domain.MerchantStatusActive}

	merchants.EXPECT().GetBySlug(gomock.Any(), "abc123").Return(merchant, nil)
	svc.EXPECT().Create(gomock.Any(), gomock.Cond(func(in ports.CreatePaymentRequestInput) bool {
		return in.MerchantID == merchant.ID &&
			in.CreatedBy == domain.ActorBuyer &&
			in.SourceAddress == "203.0.113.9" &&
			in.IdempotencyKey == "" &&
			in.ExpiryMinutes == nil
	})).Return(&ports.CreatePaymentRequestResult{LinkID: "abc123/20251107/0002", OrderNumber: 2}, nil)

	w := do(buyerEngine(NewBuyerHandler(svc, merchants)), http.MethodPost, "/api/v1/pay/abc123",
		`{"amount":"500"}`, HeaderIdempotencyKey, "ignored-for-buyers")

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "abc123/20251107/0002", decode(t, w)["data"].(map[string]any)["link_id"])
}

func TestBuyerCreate_EscapableDescriptionWithinLimit(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockPaymentRequestService(ctrl)
	merchants := mocks.NewMockMerchantDirectory(ctrl)
	merchant := &domain.Merchant{ID: uuid.New(), Slug: "abc123"}
	desc := strings.Repeat("&", 120)

	merchants.EXPECT().GetBySlug(gomock.Any(), "abc123").Return(merchant, nil)
	svc.EXPECT().Create(gomock.Any(), gomock.Cond(func(in ports.CreatePaymentRequestInput) bool {
		return in.Description != nil && *in.Description == desc
	})).Return(&ports.CreatePaymentRequestResult{LinkID: "abc123/20251107/0003", OrderNumber: 3}, nil)

	w := do(buyerEngine(NewBuyerHandler(svc, merchants)), http.MethodPost, "/api/v1/pay/abc123",
		map[string]any{"amount": "500", "description": desc})

	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestBuyerCreate_UnknownMerchant(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockPaymentRequestService(ctrl)
	merchants := mocks.NewMockMerchantDirectory(ctrl)
	merchants.EXPECT().GetBySlug(gomock.Any(), "nobody").Return(nil, nil)

	h := buyerEngine(NewBuyerHandler(svc, merchants))

	w := do(h, http.MethodPost, "/api/v1/pay/nobody", `{"amount":"500"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(h, http.MethodPost, "/api/v1/pay/NOT_A_SLUG", `{"amount":"500"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBuyerCreate_DirectoryFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockPaymentRequestService(ctrl)
	merchants := mocks.NewMockMerchantDirectory(ctrl)
	merchants.EXPECT().GetBySlug(gomock.Any(), "abc123").Return(nil, errors.New("connection reset"))

	w := do(buyerEngine(NewBuyerHandler(svc, merchants)), http.MethodPost, "/api/v1/pay/abc123", `{"amount":"500"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperror.CodeInternal, decode(t, w)["error_code"])
}

func TestBuyerCreate_RateLimited(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockPaymentRequestService(ctrl)
	merchants := mocks.NewMockMerchantDirectory(ctrl)
	merchants.EXPECT().GetBySlug(gomock.Any(), "abc123").Return(&domain.Merchant{ID: uuid.New()}, nil)
	svc.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil, apperror.ErrBuyerLimitExceeded(5, 5, 42*time.Minute))

	w := do(buyerEngine(NewBuyerHandler(svc, merchants)), http.MethodPost, "/api/v1/pay/abc123", `{"amount":"500"}`)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, strconv.Itoa(42*60), w.Header().Get("Retry-After"))
	assert.Equal(t, apperror.CodeBuyerLimitExceeded, decode(t, w)["error_code"])
}

func TestBuyerGet(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockPaymentRequestService(ctrl)
	h := buyerEngine(NewBuyerHandler(svc, mocks.NewMockMerchantDirectory(ctrl)))
	view := sampleView(uuid.New())

	svc.EXPECT().GetByLinkID(gomock.Any(), "abc123/20251107/0001").Return(view, nil)
	w := do(h, http.MethodGet, "/api/v1/pay/abc123/20251107/0001", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "PENDING", data["status"])
	assert.NotContains(t, data, "merchant_id")
	assert.NotContains(t, data, "created_by")

	w = do(h, http.MethodGet, "/api/v1/pay/abc123/20251107/1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBuyerClaimAndCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockPaymentRequestService(ctrl)
	h := buyerEngine(NewBuyerHandler(svc, mocks.NewMockMerchantDirectory(ctrl)))
	view := sampleView(uuid.New())

	svc.EXPECT().TransitionSettlement(gomock.Any(), ports.TransitionInput{
		LinkID:   "abc123/20251107/0001",
		Target:   domain.SettlementClaimedPaid,
		Actor:    domain.ActorBuyer,
		ClientIP: "203.0.113.9",
	}).Return(view, nil)
	w := do(h, http.MethodPost, "/api/v1/pay/abc123/20251107/0001/claim", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	svc.EXPECT().TransitionSettlement(gomock.Any(), ports.TransitionInput{
		LinkID:   "abc123/20251107/0001",
		Target:   domain.SettlementCanceled,
		Actor:    domain.ActorBuyer,
		Note:     "changed my mind",
		ClientIP: "203.0.113.9",
	}).Return(view, nil)
	w = do(h, http.MethodPost, "/api/v1/pay/abc123/20251107/0001/cancel", `{"note":"changed my mind"}`)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestBuyerClaim_AfterExpiry(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockPaymentRequestService(ctrl)
	svc.EXPECT().TransitionSettlement(gomock.Any(), gomock.Any()).Return(nil, apperror.ErrAlreadyExpired(fixedNow))

	w := do(buyerEngine(NewBuyerHandler(svc, mocks.NewMockMerchantDirectory(ctrl))), http.MethodPost, "/api/v1/pay/abc123/20251107/0001/claim", nil)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperror.CodeAlreadyExpired, decode(t, w)["error_code"])
}

// --- Router wiring ---

const testReporterSecret = "reporter-secret"

func newTestRouter(t *testing.T, svc ports.PaymentRequestService, merchants ports.MerchantDirectory, tokens ports.TokenService) *gin.Engine {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return SetupRouter(RouterDeps{
		PaymentRequestSvc: svc,
		Merchants:         merchants,
		TokenSvc:          tokens,
		SigSvc:            service.NewHMACSignatureService(),
		NonceStore:        redisStore.NewNonceStore(client),
		Reporter:          middleware.ReporterAuthConfig{KeyID: "reporter-1", Secret: testReporterSecret},
		RateLimitStore:    redisStore.NewRateLimitStore(client),
		DefaultPageSize:   20,
		Mode:              gin.TestMode,
		Logger:            zerolog.Nop(),
	})
}

func TestRouter_MerchantRoutesRequireToken(t *testing.T) {
	ctrl := gomock.NewController(t)
	tokens := service.NewJWTTokenService("jwt-secret", time.Hour, "payment-link-gateway")
	r := newTestRouter(t, mocks.NewMockPaymentRequestService(ctrl), mocks.NewMockMerchantDirectory(ctrl), tokens)

	w := do(r, http.MethodGet, "/api/v1/payment-requests", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))

	w = do(r, http.MethodGet, "/api/v1/merchants/me/quota", nil, "Authorization", "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_MerchantRouteWithToken(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockPaymentRequestService(ctrl)
	tokens := service.NewJWTTokenService("jwt-secret", time.Hour, "payment-link-gateway")
	r := newTestRouter(t, svc, mocks.NewMockMerchantDirectory(ctrl), tokens)

	merchantID := uuid.New()
	token, _, err := tokens.Generate(merchantID)
	require.NoError(t, err)

	svc.EXPECT().List(gomock.Any(), gomock.Cond(func(p ports.PaymentRequestListParams) bool {
		return p.MerchantID == merchantID && p.Page == 1 && p.PageSize == 20
	})).Return(nil, int64(0), nil)

	w := do(r, http.MethodGet, "/api/v1/payment-requests", nil, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "120", w.Header().Get("X-RateLimit-Limit"))
	assert.Empty(t, decode(t, w)["data"].(map[string]any)["items"])
}

func TestRouter_SettlementEvidence(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockPaymentRequestService(ctrl)
	r := newTestRouter(t, svc, mocks.NewMockMerchantDirectory(ctrl), mocks.NewMockTokenService(ctrl))
	view := sampleView(uuid.New())
	view.SettlementStatus = domain.SettlementPaid

	svc.EXPECT().TransitionSettlement(gomock.Any(), gomock.Cond(func(in ports.TransitionInput) bool {
		return in.LinkID == "abc123/20251107/0001" &&
			in.Target == domain.SettlementPaid &&
			in.Actor == domain.ActorSystem &&
			in.Evidence["bank_ref"] == "991"
	})).Return(view, nil)

	body := `{"link_id":"abc123/20251107/0001","status":"PAID","evidence":{"bank_ref":"991"}}`
	ts := time.Now().Unix()
	sig := service.NewHMACSignatureService()
	canonical := sig.BuildCanonicalString(http.MethodPost, "/api/v1/settlement-evidence", ts, "n-1", body)
	headers := []string{
		middleware.HeaderReporterKey, "reporter-1",
		middleware.HeaderSignature, sig.Sign(testReporterSecret, canonical),
		middleware.HeaderTimestamp, strconv.FormatInt(ts, 10),
		middleware.HeaderNonce, "n-1",
	}

	w := do(r, http.MethodPost, "/api/v1/settlement-evidence", body, headers...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(r, http.MethodPost, "/api/v1/settlement-evidence", body, headers...)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, apperror.CodeNonceUsed, decode(t, w)["error_code"])
}

// limitedCreate backs a PaymentRequestService mock with the real buyer
// limiter so handler-level tests see the limiter's view of the address.
func limitedCreate(t *testing.T, merchant *domain.Merchant) func(context.Context, ports.CreatePaymentRequestInput) (*ports.CreatePaymentRequestResult, error) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := service.NewBuyerRateLimiter(redisStore.NewCounterStore(client), time.Hour, zerolog.Nop())

	return func(ctx context.Context, in ports.CreatePaymentRequestInput) (*ports.CreatePaymentRequestResult, error) {
		allowed, current, resetIn := limiter.TryConsume(ctx, merchant.ID, in.SourceAddress, merchant.MaxBuyerOrdersPerHour)
		if !allowed {
			return nil, apperror.ErrBuyerLimitExceeded(int64(merchant.MaxBuyerOrdersPerHour), current, resetIn)
		}
		limiter.RecordConsumption(ctx, merchant.ID, in.SourceAddress)
		return &ports.CreatePaymentRequestResult{LinkID: "abc123/20251107/0001", OrderNumber: 1}, nil
	}
}

func TestRouter_BuyerLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockPaymentRequestService(ctrl)
	merchants := mocks.NewMockMerchantDirectory(ctrl)
	merchant := &domain.Merchant{ID: uuid.New(), Slug: "abc123", MaxBuyerOrdersPerHour: 1}
	r := newTestRouter(t, svc, merchants, mocks.NewMockTokenService(ctrl))

	merchants.EXPECT().GetBySlug(gomock.Any(), "abc123").Return(merchant, nil).Times(2)
	svc.EXPECT().Create(gomock.Any(), gomock.Cond(func(in ports.CreatePaymentRequestInput) bool {
		return in.SourceAddress == "203.0.113.9"
	})).DoAndReturn(limitedCreate(t, merchant)).Times(2)

	w := do(r, http.MethodPost, "/api/v1/pay/abc123", `{"amount":"500"}`, "X-Forwarded-For", "1.1.1.1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(r, http.MethodPost, "/api/v1/pay/abc123", `{"amount":"500"}`, "X-Forwarded-For", "2.2.2.2")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, apperror.CodeBuyerLimitExceeded, decode(t, w)["error_code"])
}

func TestRouter_ForwardedForFromTrustedProxy(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockPaymentRequestService(ctrl)
	merchants := mocks.NewMockMerchantDirectory(ctrl)
	merchant := &domain.Merchant{ID: uuid.New(), Slug: "abc123", MaxBuyerOrdersPerHour: 1}
	r := SetupRouter(RouterDeps{
		PaymentRequestSvc: svc,
		Merchants:         merchants,
		TokenSvc:          mocks.NewMockTokenService(ctrl),
		TrustedProxies:    []string{"203.0.113.0/24"},
		Mode:              gin.TestMode,
		Logger:            zerolog.Nop(),
	})

	merchants.EXPECT().GetBySlug(gomock.Any(), "abc123").Return(merchant, nil).Times(2)
	svc.EXPECT().Create(gomock.Any(), gomock.Cond(func(in ports.CreatePaymentRequestInput) bool {
		return in.SourceAddress == "1.1.1.1" || in.SourceAddress == "2.2.2.2"
	})).DoAndReturn(limitedCreate(t, merchant)).Times(2)

	w := do(r, http.MethodPost, "/api/v1/pay/abc123", `{"amount":"500"}`, "X-Forwarded-For", "1.1.1.1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// A different buyer behind the same proxy has its own allowance.
	w = do(r, http.MethodPost, "/api/v1/pay/abc123", `{"amount":"500"}`, "X-Forwarded-For", "2.2.2.2")
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestRouter_EvidenceDisabledWithoutReporter(t *testing.T) {
	ctrl := gomock.NewController(t)
	r := SetupRouter(RouterDeps{
		PaymentRequestSvc: mocks.NewMockPaymentRequestService(ctrl),
		Merchants:         mocks.NewMockMerchantDirectory(ctrl),
		TokenSvc:          mocks.NewMockTokenService(ctrl),
		Mode:              gin.TestMode,
		Logger:            zerolog.Nop(),
	})

	w := do(r, http.MethodPost, "/api/v1/settlement-evidence", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// --- Health & docs ---

func TestHealthCheck(t *testing.T) {
	ctrl := gomock.NewController(t)
	pg := mocks.NewMockHealthChecker(ctrl)
	rd := mocks.NewMockHealthChecker(ctrl)
	pg.EXPECT().Name().Return("postgresql").AnyTimes()
	rd.EXPECT().Name().Return("redis").AnyTimes()

	r := gin.New()
	r.GET("/health", HealthCheck(pg, rd))

	pg.EXPECT().Ping(gomock.Any()).Return(nil)
	rd.EXPECT().Ping(gomock.Any()).Return(nil)
	w := do(r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	pg.EXPECT().Ping(gomock.Any()).Return(nil)
	rd.EXPECT().Ping(gomock.Any()).Return(errors.New("dial tcp: connection refused"))
	w = do(r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "degraded", resp["status"])
	deps := resp["dependencies"].(map[string]any)
	assert.Equal(t, "unhealthy", deps["redis"].(map[string]any)["status"])
	assert.Equal(t, "healthy", deps["postgresql"].(map[string]any)["status"])
}

func TestSwagger(t *testing.T) {
	r := gin.New()
	r.GET("/swagger", SwaggerUI)
	r.GET("/swagger/spec", SwaggerSpec)

	w := do(r, http.MethodGet, "/swagger", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "swagger-ui")

	w = do(r, http.MethodGet, "/swagger/spec", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/settlement-evidence:")
	assert.Contains(t, w.Body.String(), "/pay/{slug}/{date}/{number}/claim:")
}
