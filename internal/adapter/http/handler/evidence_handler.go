package handler

import (
	"payment-link-gateway/internal/adapter/http/dto"
	"payment-link-gateway/internal/core/domain"
	"payment-link-gateway/internal/core/ports"
	"payment-link-gateway/pkg/apperror"
	"payment-link-gateway/pkg/response"

	"github.com/gin-gonic/gin"
)

// EvidenceHandler accepts settlement evidence from the external reporter.
type EvidenceHandler struct {
	svc ports.PaymentRequestService
}

// NewEvidenceHandler creates a new EvidenceHandler.
func NewEvidenceHandler(svc ports.PaymentRequestService) *EvidenceHandler {
	return &EvidenceHandler{svc: svc}
}

// Report handles POST /api/v1/settlement-evidence.
func (h *EvidenceHandler) Report(c *gin.Context) {
	var req dto.SettlementEvidenceBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	view, err := h.svc.TransitionSettlement(c.Request.Context(), ports.TransitionInput{
		LinkID:   req.LinkID,
		Target:   domain.SettlementStatus(req.Status),
		Actor:    domain.ActorSystem,
		Note:     req.Note,
		Evidence: req.Evidence,
		ClientIP: c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewPaymentRequestResponse(view))
}
