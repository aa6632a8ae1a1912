// internal/handler/donation_handler_test.go
package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"donation-guard/internal/middleware"
	"donation-guard/internal/service"
)

func testRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	transactions := service.NewMemoryTransactionStore()
	donors := service.NewMemoryDonorStore()
	engine := service.NewFraudEngine(transactions, donors, service.DefaultFraudConfig(), logger)
	donations := service.NewDonationService(
		transactions, donors,
		service.NewMemoryCampaignStore(), service.NewMemoryPatternStore(), service.NewMemoryCodeStore(),
		engine, service.SimulatedGateway{}, logger,
	)

	donationHandler := NewDonationHandler(donations, logger)
	adminHandler := NewAdminHandler(donations, logger)
	campaignHandler := NewCampaignHandler(donations, logger)

	router := gin.New()
	v1 := router.Group("/api/v1")
	v1.Use(middleware.Identity())
	{
		v1.POST("/donations/initiate", donationHandler.Initiate)
		v1.GET("/donations/history", donationHandler.History)
		v1.GET("/donations/:transaction_id", donationHandler.GetTransaction)
		v1.POST("/donations/:transaction_id/verify", donationHandler.Verify)
		v1.POST("/donations/:transaction_id/process", donationHandler.ProcessPayment)
		v1.GET("/admin/flagged", adminHandler.ListFlagged)
		v1.POST("/admin/review/:transaction_id", adminHandler.Review)
		v1.GET("/admin/patterns", adminHandler.ListPatterns)
		v1.POST("/campaigns/:campaign_id/verification", campaignHandler.SubmitVerification)
		v1.GET("/campaigns/:campaign_id/verification", campaignHandler.GetVerification)
	}
	return router
}

func donorRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "donor-1")
	req.Header.Set("X-User-Email", "donor@example.org")
	req.Header.Set("X-User-Phone", "+15550100")
	req.Header.Set("X-Device-ID", "device-1")
	req.Header.Set("X-Account-Created", "2024-01-01T00:00:00Z")
	return req
}

func TestInitiateEndpoint(t *testing.T) {
	router := testRouter(t)

	req := donorRequest(t, http.MethodPost, "/api/v1/donations/initiate", gin.H{
		"campaign_id":    "campaign-1",
		"amount":         100,
		"payment_method": "card",
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp service.InitiateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.TransactionID)
}

func TestInitiateEndpointValidation(t *testing.T) {
	router := testRouter(t)

	// Missing required fields fails binding.
	req := donorRequest(t, http.MethodPost, "/api/v1/donations/initiate", gin.H{"amount": 100})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Sub-minimum amount is rejected by the service.
	req = donorRequest(t, http.MethodPost, "/api/v1/donations/initiate", gin.H{
		"campaign_id":    "campaign-1",
		"amount":         0.5,
		"payment_method": "card",
	})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIdentityRequired(t *testing.T) {
	router := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/donations/history", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetTransactionScoping(t *testing.T) {
	router := testRouter(t)

	req := donorRequest(t, http.MethodPost, "/api/v1/donations/initiate", gin.H{
		"campaign_id":    "campaign-1",
		"amount":         100,
		"payment_method": "card",
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp service.InitiateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	// Owner fetches it.
	req = donorRequest(t, http.MethodGet, "/api/v1/donations/"+resp.TransactionID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Another donor sees not-found.
	req = donorRequest(t, http.MethodGet, "/api/v1/donations/"+resp.TransactionID, nil)
	req.Header.Set("X-User-ID", "donor-2")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProcessPaymentEndpoint(t *testing.T) {
	router := testRouter(t)

	req := donorRequest(t, http.MethodPost, "/api/v1/donations/initiate", gin.H{
		"campaign_id":    "campaign-1",
		"amount":         100,
		"payment_method": "card",
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var initResp service.InitiateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &initResp))

	req = donorRequest(t, http.MethodPost, "/api/v1/donations/"+initResp.TransactionID+"/process", gin.H{
		"last4":     "4242",
		"card_type": "visa",
	})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var payResp service.PaymentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payResp))
	assert.True(t, payResp.Success)
	assert.NotEmpty(t, payResp.ReceiptURL)
}

func TestVerifyEndpointRejectsWrongStatus(t *testing.T) {
	router := testRouter(t)

	req := donorRequest(t, http.MethodPost, "/api/v1/donations/initiate", gin.H{
		"campaign_id":    "campaign-1",
		"amount":         100,
		"payment_method": "card",
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp service.InitiateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	// The approved transaction is processing, not pending verification.
	req = donorRequest(t, http.MethodPost, "/api/v1/donations/"+resp.TransactionID+"/verify", gin.H{
		"code":   "123456",
		"method": "2fa",
	})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminEndpointsRequireAdmin(t *testing.T) {
	router := testRouter(t)

	req := donorRequest(t, http.MethodGet, "/api/v1/admin/flagged", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = donorRequest(t, http.MethodGet, "/api/v1/admin/flagged", nil)
	req.Header.Set("X-Admin", "true")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminReviewEndpoint(t *testing.T) {
	router := testRouter(t)

	req := donorRequest(t, http.MethodPost, "/api/v1/admin/review/missing-tx", gin.H{
		"action": "approve",
	})
	req.Header.Set("X-Admin", "true")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCampaignVerificationEndpoints(t *testing.T) {
	router := testRouter(t)

	req := donorRequest(t, http.MethodGet, "/api/v1/campaigns/campaign-1/verification", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = donorRequest(t, http.MethodPost, "/api/v1/campaigns/campaign-1/verification", gin.H{
		"organization": gin.H{"name": "Earth Relief"},
	})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	req = donorRequest(t, http.MethodGet, "/api/v1/campaigns/campaign-1/verification", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
