package handler

import (
	"payment-link-gateway/internal/adapter/http/dto"
	"payment-link-gateway/internal/adapter/http/middleware"
	"payment-link-gateway/internal/core/domain"
	"payment-link-gateway/internal/core/ports"
	"payment-link-gateway/pkg/apperror"
	"payment-link-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderIdempotencyKey lets merchants retry creation safely.
const HeaderIdempotencyKey = "Idempotency-Key"

// PaymentRequestHandler serves the merchant dashboard endpoints.
type PaymentRequestHandler struct {
	svc             ports.PaymentRequestService
	defaultPageSize int
}

// NewPaymentRequestHandler creates a new PaymentRequestHandler.
func NewPaymentRequestHandler(svc ports.PaymentRequestService, defaultPageSize int) *PaymentRequestHandler {
	if defaultPageSize <= 0 {
		defaultPageSize = 20
	}
	return &PaymentRequestHandler{svc: svc, defaultPageSize: defaultPageSize}
}

// Create handles POST /api/v1/payment-requests.
func (h *PaymentRequestHandler) Create(c *gin.Context) {
	merchantID, ok := middleware.MerchantID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	idemKey := c.GetHeader(HeaderIdempotencyKey)
	if idemKey != "" && !dto.ValidIdempotencyKey(idemKey) {
		response.Error(c, apperror.Validation("invalid Idempotency-Key header"))
		return
	}

	var req dto.CreatePaymentRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	result, err := h.svc.Create(c.Request.Context(), ports.CreatePaymentRequestInput{
		MerchantID:     merchantID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Description:    req.Description,
		ExpiryMinutes:  req.ExpiryMinutes,
		CreatedBy:      domain.ActorMerchant,
		IdempotencyKey: idemKey,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, result)
}

// List handles GET /api/v1/payment-requests.
func (h *PaymentRequestHandler) List(c *gin.Context) {
	merchantID, ok := middleware.MerchantID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var q dto.ListPaymentRequestsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PageSize == 0 {
		q.PageSize = h.defaultPageSize
	}

	params := ports.PaymentRequestListParams{
		MerchantID: merchantID,
		Page:       q.Page,
		PageSize:   q.PageSize,
	}
	if q.Status != "" {
		s := domain.PaymentRequestStatus(q.Status)
		params.Status = &s
	}
	if q.SettlementStatus != "" {
		s := domain.SettlementStatus(q.SettlementStatus)
		params.SettlementStatus = &s
	}
	if q.OrderDate != "" {
		params.OrderDate = &q.OrderDate
	}

	views, total, err := h.svc.List(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.PaymentRequestResponse, 0, len(views))
	for i := range views {
		items = append(items, dto.NewPaymentRequestResponse(&views[i]))
	}
	response.Paged(c, items, q.Page, q.PageSize, total)
}

// Get handles GET /api/v1/payment-requests/:id.
func (h *PaymentRequestHandler) Get(c *gin.Context) {
	merchantID, ok := middleware.MerchantID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a UUID"))
		return
	}

	view, err := h.svc.GetByID(c.Request.Context(), merchantID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewPaymentRequestResponse(view))
}

// TransitionSettlement handles POST /api/v1/payment-requests/:id/settlement.
func (h *PaymentRequestHandler) TransitionSettlement(c *gin.Context) {
	merchantID, ok := middleware.MerchantID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a UUID"))
		return
	}

	var req dto.SettlementTransitionBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	view, err := h.svc.TransitionSettlement(c.Request.Context(), ports.TransitionInput{
		ID:         id,
		Target:     domain.SettlementStatus(req.Status),
		Actor:      domain.ActorMerchant,
		MerchantID: merchantID,
		Note:       req.Note,
		ClientIP:   c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewPaymentRequestResponse(view))
}

// Quota handles GET /api/v1/merchants/me/quota.
func (h *PaymentRequestHandler) Quota(c *gin.Context) {
	merchantID, ok := middleware.MerchantID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	usage, err := h.svc.MonthlyUsage(c.Request.Context(), merchantID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewQuotaResponse(usage))
}
