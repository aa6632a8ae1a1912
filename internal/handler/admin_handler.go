// internal/handler/admin_handler.go
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"donation-guard/internal/middleware"
	"donation-guard/internal/service"
)

type AdminHandler struct {
	donations *service.DonationService
	logger    *zap.Logger
}

func NewAdminHandler(donations *service.DonationService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		donations: donations,
		logger:    logger,
	}
}

// ListFlagged handles GET /api/v1/admin/flagged.
func (h *AdminHandler) ListFlagged(c *gin.Context) {
	user := middleware.UserFrom(c)
	transactions, err := h.donations.ListFlagged(c.Request.Context(), user)
	if err != nil {
		h.respondError(c, err, "failed to list flagged transactions")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

type reviewRequest struct {
	Action string `json:"action" binding:"required"`
	Notes  string `json:"notes"`
}

// Review handles POST /api/v1/admin/review/:transaction_id.
func (h *AdminHandler) Review(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := middleware.UserFrom(c)
	resp, err := h.donations.AdminReview(c.Request.Context(), c.Param("transaction_id"), req.Action, req.Notes, user)
	if err != nil {
		h.respondError(c, err, "review failed")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListPatterns handles GET /api/v1/admin/patterns.
func (h *AdminHandler) ListPatterns(c *gin.Context) {
	user := middleware.UserFrom(c)
	patterns, err := h.donations.ListPatterns(c.Request.Context(), user)
	if err != nil {
		h.respondError(c, err, "failed to list fraud patterns")
		return
	}
	c.JSON(http.StatusOK, gin.H{"patterns": patterns})
}

func (h *AdminHandler) respondError(c *gin.Context, err error, logMsg string) {
	switch {
	case errors.Is(err, service.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrTransactionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error(logMsg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
