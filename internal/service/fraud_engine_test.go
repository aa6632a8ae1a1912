// internal/service/fraud_engine_test.go
package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"donation-guard/internal/models"
)

type stubIPReputation struct {
	suspicious bool
	vpn        bool
}

func (s stubIPReputation) IsSuspicious(context.Context, string) bool { return s.suspicious }
func (s stubIPReputation) IsVPN(context.Context, string) bool        { return s.vpn }

type stubGeoService struct {
	mismatch    bool
	consistency float64
}

func (s stubGeoService) HasLocationMismatch(context.Context, UserContext) bool { return s.mismatch }
func (s stubGeoService) LocationConsistency(context.Context, string) float64   { return s.consistency }

type stubDeviceTrust struct{ score int }

func (s stubDeviceTrust) TrustScore(context.Context, string) int { return s.score }

type stubScorer struct {
	confidence float64
	prediction string
	err        error
}

func (s stubScorer) Predict(context.Context, models.FeatureVector) (float64, string, error) {
	return s.confidence, s.prediction, s.err
}

var testTime = time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC)

func testEngine(t *testing.T) (*FraudEngine, *MemoryTransactionStore, *MemoryDonorStore) {
	t.Helper()
	transactions := NewMemoryTransactionStore()
	donors := NewMemoryDonorStore()
	engine := NewFraudEngine(transactions, donors, DefaultFraudConfig(), zap.NewNop()).
		WithClock(func() time.Time { return testTime })
	return engine, transactions, donors
}

func establishedUser() UserContext {
	return UserContext{
		DonorID:          "donor-1",
		Email:            "donor@example.org",
		Phone:            "+15550100",
		IPAddress:        "203.0.113.7",
		DeviceID:         "device-1",
		AccountCreatedAt: testTime.Add(-30 * 24 * time.Hour),
	}
}

func TestAnalyzeApprovesCleanDonation(t *testing.T) {
	engine, _, _ := testEngine(t)

	analysis, err := engine.Analyze(context.Background(), DonationRequest{
		Amount:     100,
		CampaignID: "campaign-1",
	}, establishedUser())
	require.NoError(t, err)

	assert.Equal(t, 0, analysis.Score)
	assert.Equal(t, models.RiskLevelLow, analysis.RiskLevel)
	assert.Equal(t, models.ActionApprove, analysis.Recommendation.Action)
	assert.True(t, analysis.Recommendation.AutoApprove)
	assert.Empty(t, analysis.Flags)
	assert.Equal(t, 8, analysis.Checks.PassedCount())
}

func TestAnalyzeRequiresVerificationAtMediumRisk(t *testing.T) {
	engine, _, _ := testEngine(t)
	// suspicious IP (15) + VPN (10) + location mismatch (15) + new account (8)
	// + unusual time (5) = 53, medium tier.
	engine.WithCapabilities(
		stubIPReputation{suspicious: true, vpn: true},
		stubGeoService{mismatch: true, consistency: 0.8},
		nil,
	).WithClock(func() time.Time {
		return time.Date(2025, 6, 15, 3, 0, 0, 0, time.UTC)
	})

	user := establishedUser()
	user.AccountCreatedAt = time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	analysis, err := engine.Analyze(context.Background(), DonationRequest{Amount: 100}, user)
	require.NoError(t, err)

	assert.Equal(t, 53, analysis.Score)
	assert.Equal(t, models.RiskLevelMedium, analysis.RiskLevel)
	assert.Equal(t, models.ActionVerify, analysis.Recommendation.Action)
	assert.Equal(t, []string{"2fa", "email"}, analysis.Recommendation.RequiredVerifications)
}

func TestAnalyzeRoutesHighRiskToReview(t *testing.T) {
	engine, _, donors := testEngine(t)
	// blacklisted device (25) + suspicious IP (15) + VPN (10)
	// + location mismatch (15) + new account (8) = 73, high tier.
	engine.WithCapabilities(
		stubIPReputation{suspicious: true, vpn: true},
		stubGeoService{mismatch: true, consistency: 0.8},
		nil,
	)

	blacklisted := models.NewDonorVerification("donor-bad")
	blacklisted.Restrictions.IsBlacklisted = true
	blacklisted.KnownDevices = []string{"device-1"}
	require.NoError(t, donors.Upsert(context.Background(), blacklisted))

	user := establishedUser()
	user.AccountCreatedAt = testTime.Add(-1 * time.Hour)

	analysis, err := engine.Analyze(context.Background(), DonationRequest{Amount: 100}, user)
	require.NoError(t, err)

	assert.Equal(t, 73, analysis.Score)
	assert.Equal(t, models.RiskLevelHigh, analysis.RiskLevel)
	assert.Equal(t, models.ActionReview, analysis.Recommendation.Action)
	assert.True(t, analysis.Recommendation.RequiresReview)
	assert.False(t, analysis.Checks.DeviceFingerprint.Passed)
}

func TestAnalyzeBlocksCriticalRisk(t *testing.T) {
	engine, transactions, donors := testEngine(t)
	engine.WithCapabilities(
		stubIPReputation{suspicious: true, vpn: true},
		stubGeoService{mismatch: true, consistency: 0.8},
		nil,
	)

	blacklisted := models.NewDonorVerification("donor-bad")
	blacklisted.Restrictions.IsBlacklisted = true
	blacklisted.KnownDevices = []string{"device-1"}
	require.NoError(t, donors.Upsert(context.Background(), blacklisted))

	// Four recent failures push the score past the critical threshold:
	// 73 from the review scenario + multiple failures (20) = 93.
	for i := 0; i < 4; i++ {
		require.NoError(t, transactions.Create(context.Background(), &models.Transaction{
			TransactionID: fmt.Sprintf("failed-tx-%d", i),
			DonorID:       "donor-1",
			Status:        models.StatusFailed,
			Amount:        10,
			CreatedAt:     testTime.Add(-2 * time.Hour),
		}))
	}

	user := establishedUser()
	user.AccountCreatedAt = testTime.Add(-1 * time.Hour)

	analysis, err := engine.Analyze(context.Background(), DonationRequest{Amount: 100}, user)
	require.NoError(t, err)

	assert.Equal(t, 93, analysis.Score)
	assert.Equal(t, models.RiskLevelCritical, analysis.RiskLevel)
	assert.Equal(t, models.ActionBlock, analysis.Recommendation.Action)

	var hasCriticalFlag bool
	for _, f := range analysis.Flags {
		if f.Type == "high-risk-score" && f.Severity == models.SeverityCritical {
			hasCriticalFlag = true
		}
	}
	assert.True(t, hasCriticalFlag, "expected high-risk-score flag, got %v", analysis.Flags)
}

func TestAnalyzeVelocityFromHistory(t *testing.T) {
	engine, transactions, _ := testEngine(t)

	for i := 0; i < 6; i++ {
		require.NoError(t, transactions.Create(context.Background(), &models.Transaction{
			TransactionID: fmt.Sprintf("recent-%d", i),
			DonorID:       "donor-1",
			Status:        models.StatusCompleted,
			Amount:        20,
			CreatedAt:     testTime.Add(-30 * time.Minute),
		}))
	}

	analysis, err := engine.Analyze(context.Background(), DonationRequest{Amount: 100}, establishedUser())
	require.NoError(t, err)

	// velocity (10) + rapid does not apply; the 6 completed donations at
	// $20 also make $100 exactly 5x the average, which does not trigger.
	assert.Equal(t, 10, analysis.Score)
	assert.False(t, analysis.Checks.VelocityCheck.Passed)
}

func TestAnalyzeUnusualAmountNeedsHistory(t *testing.T) {
	engine, transactions, _ := testEngine(t)

	// First large donation with no history: not unusual.
	analysis, err := engine.Analyze(context.Background(), DonationRequest{Amount: 50000}, establishedUser())
	require.NoError(t, err)
	assert.Equal(t, 0, analysis.Score)
	assert.True(t, analysis.Checks.AmountAnalysis.Passed)

	// With completed history averaging $20, a $500 donation is unusual.
	require.NoError(t, transactions.Create(context.Background(), &models.Transaction{
		TransactionID: "past-1",
		DonorID:       "donor-1",
		Status:        models.StatusCompleted,
		Amount:        20,
		CreatedAt:     testTime.Add(-48 * time.Hour),
	}))

	analysis, err = engine.Analyze(context.Background(), DonationRequest{Amount: 500}, establishedUser())
	require.NoError(t, err)
	assert.Equal(t, 12, analysis.Score)
	assert.False(t, analysis.Checks.AmountAnalysis.Passed)
}

func TestAnalyzeChecksMissingContactDetails(t *testing.T) {
	engine, _, _ := testEngine(t)

	user := establishedUser()
	user.Email = ""
	user.Phone = ""

	analysis, err := engine.Analyze(context.Background(), DonationRequest{Amount: 100}, user)
	require.NoError(t, err)

	assert.False(t, analysis.Checks.EmailVerification.Passed)
	assert.False(t, analysis.Checks.PhoneVerification.Passed)
	// Missing contact details affect the check battery, not the score.
	assert.Equal(t, 0, analysis.Score)
}

func TestAnalyzeUsesExternalScorer(t *testing.T) {
	engine, _, _ := testEngine(t)
	engine.WithScorer(stubScorer{confidence: 0.92, prediction: "fraud"})

	analysis, err := engine.Analyze(context.Background(), DonationRequest{Amount: 100}, establishedUser())
	require.NoError(t, err)

	require.NotNil(t, analysis.AI)
	assert.Equal(t, "fraud-detection-v1", analysis.AI.Model)
	assert.Equal(t, 0.92, analysis.AI.Confidence)
	assert.Equal(t, "fraud", analysis.AI.Prediction)
}

func TestAnalyzeFallsBackWhenScorerFails(t *testing.T) {
	engine, _, _ := testEngine(t)
	engine.WithScorer(stubScorer{err: errors.New("connection refused")})

	analysis, err := engine.Analyze(context.Background(), DonationRequest{Amount: 100}, establishedUser())
	require.NoError(t, err)

	require.NotNil(t, analysis.AI)
	assert.Equal(t, "rule-based", analysis.AI.Model)
	assert.Equal(t, 0.75, analysis.AI.Confidence)
	assert.Equal(t, "legitimate", analysis.AI.Prediction)
}
