// internal/handler/donation_handler.go
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"donation-guard/internal/middleware"
	"donation-guard/internal/service"
)

type DonationHandler struct {
	donations *service.DonationService
	logger    *zap.Logger
}

func NewDonationHandler(donations *service.DonationService, logger *zap.Logger) *DonationHandler {
	return &DonationHandler{
		donations: donations,
		logger:    logger,
	}
}

// Initiate handles POST /api/v1/donations.
func (h *DonationHandler) Initiate(c *gin.Context) {
	var req service.InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := middleware.UserFrom(c)
	resp, err := h.donations.Initiate(c.Request.Context(), req, user)
	if err != nil {
		h.respondError(c, err, "failed to initiate donation")
		return
	}

	// Blocked and review-parked donations did not start processing.
	switch {
	case resp.RequiresReview && !resp.Success && resp.Status == "flagged":
		c.JSON(http.StatusForbidden, resp)
	case resp.RequiresReview && !resp.Success:
		c.JSON(http.StatusAccepted, resp)
	default:
		c.JSON(http.StatusCreated, resp)
	}
}

type verifyRequest struct {
	Code   string `json:"code" binding:"required"`
	Method string `json:"method" binding:"required"`
}

// Verify handles POST /api/v1/donations/:transaction_id/verify.
func (h *DonationHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := middleware.UserFrom(c)
	resp, err := h.donations.Verify(c.Request.Context(), c.Param("transaction_id"), req.Code, req.Method, user)
	if err != nil {
		h.respondError(c, err, "verification failed")
		return
	}

	c.JSON(http.StatusOK, resp)
}

type processRequest struct {
	PaymentMethodID string `json:"payment_method_id"`
	Last4           string `json:"last4"`
	CardType        string `json:"card_type"`
	ReceiptEmail    string `json:"receipt_email"`
}

// ProcessPayment handles POST /api/v1/donations/:transaction_id/process.
func (h *DonationHandler) ProcessPayment(c *gin.Context) {
	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := middleware.UserFrom(c)
	resp, err := h.donations.ProcessPayment(c.Request.Context(), c.Param("transaction_id"), service.PaymentInput{
		PaymentMethodID: req.PaymentMethodID,
		Last4:           req.Last4,
		CardType:        req.CardType,
		ReceiptEmail:    req.ReceiptEmail,
	}, user)
	if err != nil {
		h.respondError(c, err, "payment processing failed")
		return
	}

	if !resp.Success {
		// Gateway decline: the transaction is now failed.
		c.JSON(http.StatusPaymentRequired, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetTransaction handles GET /api/v1/donations/:transaction_id.
func (h *DonationHandler) GetTransaction(c *gin.Context) {
	user := middleware.UserFrom(c)
	tx, err := h.donations.GetTransaction(c.Request.Context(), c.Param("transaction_id"), user)
	if err != nil {
		h.respondError(c, err, "failed to load transaction")
		return
	}
	c.JSON(http.StatusOK, tx)
}

// History handles GET /api/v1/donations/history.
func (h *DonationHandler) History(c *gin.Context) {
	user := middleware.UserFrom(c)
	resp, err := h.donations.History(c.Request.Context(), user.DonorID)
	if err != nil {
		h.respondError(c, err, "failed to load history")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// respondError maps service errors onto HTTP statuses.
func (h *DonationHandler) respondError(c *gin.Context, err error, logMsg string) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidCode),
		errors.Is(err, service.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrTransactionNotFound),
		errors.Is(err, service.ErrDonorNotFound),
		errors.Is(err, service.ErrCampaignNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		h.logger.Error(logMsg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
