package handler

import (
	"errors"
	"io"

	"payment-link-gateway/internal/adapter/http/dto"
	"payment-link-gateway/internal/core/domain"
	"payment-link-gateway/internal/core/ports"
	"payment-link-gateway/pkg/apperror"
	"payment-link-gateway/pkg/response"

	"github.com/gin-gonic/gin"
)

// BuyerHandler serves the public payment page.
type BuyerHandler struct {
	svc       ports.PaymentRequestService
	merchants ports.MerchantDirectory
}

// NewBuyerHandler creates a new BuyerHandler.
func NewBuyerHandler(svc ports.PaymentRequestService, merchants ports.MerchantDirectory) *BuyerHandler {
	return &BuyerHandler{svc: svc, merchants: merchants}
}

// Create handles POST /api/v1/pay/:slug.
func (h *BuyerHandler) Create(c *gin.Context) {
	var uri dto.SlugURI
	if err := c.ShouldBindUri(&uri); err != nil {
		response.Error(c, apperror.ErrNotFound("merchant"))
		return
	}

	var req dto.BuyerCreateBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	merchant, err := h.merchants.GetBySlug(c.Request.Context(), uri.Slug)
	if err != nil {
		response.Error(c, apperror.ErrDatabaseError(err))
		return
	}
	if merchant == nil {
		response.Error(c, apperror.ErrNotFound("merchant"))
		return
	}

	result, err := h.svc.Create(c.Request.Context(), ports.CreatePaymentRequestInput{
		MerchantID:    merchant.ID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Description:   req.Description,
		CreatedBy:     domain.ActorBuyer,
		SourceAddress: c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Get handles GET /api/v1/pay/:slug/:date/:number.
func (h *BuyerHandler) Get(c *gin.Context) {
	var uri dto.LinkURI
	if err := c.ShouldBindUri(&uri); err != nil {
		response.Error(c, apperror.ErrNotFound("payment request"))
		return
	}

	view, err := h.svc.GetByLinkID(c.Request.Context(), uri.LinkID())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewPublicPaymentRequestResponse(view))
}

// Claim handles POST /api/v1/pay/:slug/:date/:number/claim.
func (h *BuyerHandler) Claim(c *gin.Context) {
	h.transition(c, domain.SettlementClaimedPaid)
}

// Cancel handles POST /api/v1/pay/:slug/:date/:number/cancel.
func (h *BuyerHandler) Cancel(c *gin.Context) {
	h.transition(c, domain.SettlementCanceled)
}

func (h *BuyerHandler) transition(c *gin.Context, target domain.SettlementStatus) {
	var uri dto.LinkURI
	if err := c.ShouldBindUri(&uri); err != nil {
		response.Error(c, apperror.ErrNotFound("payment request"))
		return
	}

	// The body is optional; buyers may leave a note.
	var req dto.BuyerNoteBody
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	view, err := h.svc.TransitionSettlement(c.Request.Context(), ports.TransitionInput{
		LinkID:   uri.LinkID(),
		Target:   target,
		Actor:    domain.ActorBuyer,
		Note:     req.Note,
		ClientIP: c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewPublicPaymentRequestResponse(view))
}
