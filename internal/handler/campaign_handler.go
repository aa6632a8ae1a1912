// internal/handler/campaign_handler.go
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"donation-guard/internal/models"
	"donation-guard/internal/service"
)

type CampaignHandler struct {
	donations *service.DonationService
	logger    *zap.Logger
}

func NewCampaignHandler(donations *service.DonationService, logger *zap.Logger) *CampaignHandler {
	return &CampaignHandler{
		donations: donations,
		logger:    logger,
	}
}

// SubmitVerification handles POST /api/v1/campaigns/:campaign_id/verification.
func (h *CampaignHandler) SubmitVerification(c *gin.Context) {
	var submission models.CampaignVerification
	if err := c.ShouldBindJSON(&submission); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := h.donations.SubmitCampaignVerification(c.Request.Context(), c.Param("campaign_id"), submission)
	if err != nil {
		h.logger.Error("failed to save campaign verification", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusAccepted, record)
}

// GetVerification handles GET /api/v1/campaigns/:campaign_id/verification.
func (h *CampaignHandler) GetVerification(c *gin.Context) {
	record, err := h.donations.GetCampaignVerification(c.Request.Context(), c.Param("campaign_id"))
	if err != nil {
		if errors.Is(err, service.ErrCampaignNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("failed to load campaign verification", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, record)
}
