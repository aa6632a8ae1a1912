// internal/service/fraud_engine.go
// Fraud scoring for donation transactions. The engine is stateless: it
// reads historical context from the stores but never writes, so the
// transaction under analysis is not counted against itself.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"donation-guard/internal/models"
)

var (
	fraudDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "donationguard",
		Subsystem: "fraud",
		Name:      "decisions_total",
		Help:      "Fraud decisions by recommended action.",
	}, []string{"action"})

	fraudScoreHist = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "donationguard",
		Subsystem: "fraud",
		Name:      "score",
		Help:      "Distribution of fraud scores at initiation.",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})
)

func init() {
	prometheus.MustRegister(fraudDecisions, fraudScoreHist)
}

// DonationRequest carries the proposed transaction into the engine.
type DonationRequest struct {
	Amount        float64
	CampaignID    string
	PaymentMethod string
}

// Recommendation is the decision policy output for one analysis.
type Recommendation struct {
	Action                models.Action `json:"action"`
	Message               string        `json:"message"`
	RequiresReview        bool          `json:"requires_review"`
	AutoApprove           bool          `json:"auto_approve"`
	RequiredVerifications []string      `json:"required_verifications,omitempty"`
}

// Analysis is the full fraud assessment for one proposed transaction.
type Analysis struct {
	Score          int                `json:"score"`
	RiskLevel      models.RiskLevel   `json:"risk_level"`
	Checks         models.Checks      `json:"checks"`
	AI             *models.AIAnalysis `json:"ai_analysis"`
	Flags          []models.Flag      `json:"flags"`
	Recommendation Recommendation     `json:"recommendation"`
}

// FraudEngine aggregates risk signals into a score, tier and recommendation.
type FraudEngine struct {
	transactions TransactionStore
	donors       DonorStore
	ipRep        IPReputation
	geo          GeoService
	device       DeviceTrust
	scorer       AIScorer
	cfg          FraudConfig
	logger       *zap.Logger
	now          func() time.Time
}

// NewFraudEngine creates an engine with the default capability stubs.
func NewFraudEngine(transactions TransactionStore, donors DonorStore, cfg FraudConfig, logger *zap.Logger) *FraudEngine {
	return &FraudEngine{
		transactions: transactions,
		donors:       donors,
		ipRep:        StaticIPReputation{},
		geo:          StaticGeoService{},
		device:       StaticDeviceTrust{},
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

// WithScorer attaches an external AI fraud scorer.
func (e *FraudEngine) WithScorer(s AIScorer) *FraudEngine {
	e.scorer = s
	return e
}

// WithCapabilities substitutes the pluggable signal providers.
func (e *FraudEngine) WithCapabilities(ip IPReputation, geo GeoService, device DeviceTrust) *FraudEngine {
	if ip != nil {
		e.ipRep = ip
	}
	if geo != nil {
		e.geo = geo
	}
	if device != nil {
		e.device = device
	}
	return e
}

// WithClock overrides the time source, for tests of time-dependent rules.
func (e *FraudEngine) WithClock(now func() time.Time) *FraudEngine {
	e.now = now
	return e
}

// Analyze runs the full assessment for one proposed donation.
func (e *FraudEngine) Analyze(ctx context.Context, req DonationRequest, user UserContext) (*Analysis, error) {
	sc := e.buildSignalContext(ctx, req, user)

	signals := collectSignals(sc, e.cfg.Weights)
	score := scoreSignals(signals)
	level := riskLevelFor(score, e.cfg.Thresholds)
	checks := e.runSecurityChecks(sc, user)
	ai := e.runAIAnalysis(ctx, sc, checks)

	analysis := &Analysis{
		Score:          score,
		RiskLevel:      level,
		Checks:         checks,
		AI:             ai,
		Flags:          e.generateFlags(checks, score),
		Recommendation: e.recommend(score),
	}

	fraudDecisions.WithLabelValues(string(analysis.Recommendation.Action)).Inc()
	fraudScoreHist.Observe(float64(score))

	e.logger.Info("fraud analysis complete",
		zap.String("donor_id", user.DonorID),
		zap.Int("score", score),
		zap.String("risk_level", string(level)),
		zap.String("action", string(analysis.Recommendation.Action)))

	return analysis, nil
}

// buildSignalContext fetches all historical context the collectors and
// checks need in one pass. Store errors degrade to zero values; the
// policy is heuristic, not a hard security boundary.
func (e *FraudEngine) buildSignalContext(ctx context.Context, req DonationRequest, user UserContext) *signalContext {
	now := e.now()

	sc := &signalContext{
		amount:           req.Amount,
		accountAgeHours:  user.AccountAgeHours(now),
		suspiciousIP:     e.ipRep.IsSuspicious(ctx, user.IPAddress),
		vpn:              e.ipRep.IsVPN(ctx, user.IPAddress),
		locationMismatch: e.geo.HasLocationMismatch(ctx, user),
		locationScore:    e.geo.LocationConsistency(ctx, user.DonorID),
		deviceTrustScore: e.device.TrustScore(ctx, user.DeviceID),
		hour:             now.Hour(),
		weekday:          int(now.Weekday()),
	}

	var err error
	if sc.recentHourCount, err = e.transactions.CountByDonorSince(ctx, user.DonorID, now.Add(-60*time.Minute)); err != nil {
		e.logger.Error("velocity lookup failed", zap.Error(err), zap.String("donor_id", user.DonorID))
	}
	if sc.recentFiveMin, err = e.transactions.CountByDonorSince(ctx, user.DonorID, now.Add(-5*time.Minute)); err != nil {
		e.logger.Error("rapid-transaction lookup failed", zap.Error(err), zap.String("donor_id", user.DonorID))
	}
	if sc.failedLast24h, err = e.transactions.CountByDonorStatusSince(ctx, user.DonorID, models.StatusFailed, now.Add(-24*time.Hour)); err != nil {
		e.logger.Error("failure lookup failed", zap.Error(err), zap.String("donor_id", user.DonorID))
	}
	if sc.totalCount, err = e.transactions.CountByDonorSince(ctx, user.DonorID, time.Time{}); err != nil {
		e.logger.Error("history count failed", zap.Error(err), zap.String("donor_id", user.DonorID))
	}

	completed, err := e.transactions.ListByDonorStatus(ctx, user.DonorID, models.StatusCompleted)
	if err != nil {
		e.logger.Error("completed history lookup failed", zap.Error(err), zap.String("donor_id", user.DonorID))
	}
	sc.completedCount = len(completed)
	if len(completed) > 0 {
		var total float64
		for _, tx := range completed {
			total += tx.Amount
		}
		sc.avgCompleted = total / float64(len(completed))
	}

	if sc.totalCount > 0 {
		failedTotal, err := e.transactions.CountByDonorStatusSince(ctx, user.DonorID, models.StatusFailed, time.Time{})
		if err != nil {
			e.logger.Error("failure-rate lookup failed", zap.Error(err), zap.String("donor_id", user.DonorID))
		}
		sc.failureRate = float64(failedTotal) / float64(sc.totalCount)
	}

	if sc.deviceBlacklisted, err = e.donors.IsDeviceBlacklisted(ctx, user.DeviceID); err != nil {
		e.logger.Error("device blacklist lookup failed", zap.Error(err), zap.String("device_id", user.DeviceID))
	}

	donor, err := e.donors.Get(ctx, user.DonorID)
	if err == nil {
		sc.donorBlacklisted = donor.Restrictions.IsBlacklisted
	}

	return sc
}

// runSecurityChecks produces the named check battery. It overlaps in data
// sources with the weighted collectors but is computed independently; the
// two are never reconciled.
func (e *FraudEngine) runSecurityChecks(sc *signalContext, user UserContext) models.Checks {
	checks := models.Checks{
		IPVerification:    passCheck("IP address verified"),
		EmailVerification: passCheck("Email verified"),
		PhoneVerification: passCheck("Phone verified"),
		DeviceFingerprint: passCheck("Device verified"),
		VelocityCheck:     passCheck("Normal velocity"),
		AmountAnalysis:    passCheck("Amount is normal"),
		BehaviorAnalysis:  passCheck("Behavior pattern normal"),
		BlacklistCheck:    passCheck("Not blacklisted"),
	}

	if sc.suspiciousIP {
		checks.IPVerification = failCheck(fmt.Sprintf("IP %s matched known-bad set", user.IPAddress))
	}
	if user.Email == "" {
		checks.EmailVerification = failCheck("No email on record")
	}
	if user.Phone == "" {
		checks.PhoneVerification = failCheck("No phone on record")
	}
	if sc.deviceBlacklisted {
		checks.DeviceFingerprint = failCheck("Device linked to a blacklisted donor")
	}
	if sc.recentHourCount > 5 {
		checks.VelocityCheck = failCheck(fmt.Sprintf("%d donations in last hour", sc.recentHourCount))
	}
	if sc.avgCompleted > 0 && sc.amount > sc.avgCompleted*5 {
		checks.AmountAnalysis = failCheck(fmt.Sprintf("Amount %.2f exceeds 5x average %.2f", sc.amount, sc.avgCompleted))
	}
	if sc.donorBlacklisted {
		checks.BlacklistCheck = failCheck("Donor is blacklisted")
	}

	return checks
}

func passCheck(details string) models.CheckResult {
	return models.CheckResult{Passed: true, Details: details}
}

func failCheck(details string) models.CheckResult {
	return models.CheckResult{Passed: false, Details: details}
}

// runAIAnalysis delegates to the external scorer and falls back to the
// deterministic rule-based score when the scorer is unavailable.
func (e *FraudEngine) runAIAnalysis(ctx context.Context, sc *signalContext, checks models.Checks) *models.AIAnalysis {
	features := models.FeatureVector{
		Amount:              sc.amount,
		AccountAgeHours:     sc.accountAgeHours,
		DonationCount:       sc.completedCount,
		AvgDonation:         sc.avgCompleted,
		FailureRate:         sc.failureRate,
		HourOfDay:           sc.hour,
		DayOfWeek:           sc.weekday,
		IsVPN:               sc.vpn,
		DeviceTrustScore:    sc.deviceTrustScore,
		LocationConsistency: sc.locationScore,
		ChecksPassedCount:   checks.PassedCount(),
	}

	if e.scorer != nil {
		confidence, prediction, err := e.scorer.Predict(ctx, features)
		if err == nil {
			return &models.AIAnalysis{
				Model:      "fraud-detection-v1",
				Confidence: confidence,
				Prediction: prediction,
				Features:   features,
			}
		}
		e.logger.Warn("AI scorer unavailable, using rule-based fallback", zap.Error(err))
	}

	risk := ruleBasedRisk(features)
	prediction := "legitimate"
	if risk >= e.cfg.Thresholds.High {
		prediction = "fraud"
	}
	return &models.AIAnalysis{
		Model:      "rule-based",
		Confidence: 0.75,
		Prediction: prediction,
		Features:   features,
	}
}

// ruleBasedRisk is the deterministic fallback over the same feature vector
// the external scorer consumes.
func ruleBasedRisk(f models.FeatureVector) int {
	risk := 0
	if f.AccountAgeHours < 24 {
		risk += 20
	}
	if f.AvgDonation > 0 && f.Amount > f.AvgDonation*5 {
		risk += 15
	}
	if f.FailureRate > 0.3 {
		risk += 25
	}
	if f.IsVPN {
		risk += 10
	}
	if f.DeviceTrustScore < 50 {
		risk += 15
	}
	if f.LocationConsistency < 0.5 {
		risk += 10
	}
	if f.ChecksPassedCount < 6 {
		risk += 15
	}
	return clampScore(risk)
}

// generateFlags derives flags from failing named checks and from the score
// crossing the critical threshold.
func (e *FraudEngine) generateFlags(checks models.Checks, score int) []models.Flag {
	now := e.now()
	flags := []models.Flag{}

	if !checks.IPVerification.Passed {
		flags = append(flags, models.Flag{
			Type:      "suspicious-ip",
			Reason:    checks.IPVerification.Details,
			Severity:  models.SeverityHigh,
			Timestamp: now,
		})
	}
	if !checks.VelocityCheck.Passed {
		flags = append(flags, models.Flag{
			Type:      "velocity-abuse",
			Reason:    checks.VelocityCheck.Details,
			Severity:  models.SeverityHigh,
			Timestamp: now,
		})
	}
	if !checks.DeviceFingerprint.Passed {
		flags = append(flags, models.Flag{
			Type:      "suspicious-device",
			Reason:    checks.DeviceFingerprint.Details,
			Severity:  models.SeverityMedium,
			Timestamp: now,
		})
	}
	if !checks.BlacklistCheck.Passed {
		flags = append(flags, models.Flag{
			Type:      "blacklisted",
			Reason:    checks.BlacklistCheck.Details,
			Severity:  models.SeverityCritical,
			Timestamp: now,
		})
	}
	if score >= e.cfg.Thresholds.Critical {
		flags = append(flags, models.Flag{
			Type:      "high-risk-score",
			Reason:    fmt.Sprintf("Fraud score %d exceeds critical threshold", score),
			Severity:  models.SeverityCritical,
			Timestamp: now,
		})
	}

	return flags
}

// recommend maps a score to the four-outcome decision policy.
func (e *FraudEngine) recommend(score int) Recommendation {
	t := e.cfg.Thresholds
	switch {
	case score >= t.Critical:
		return Recommendation{
			Action:         models.ActionBlock,
			Message:        "Transaction blocked due to critical fraud risk",
			RequiresReview: true,
		}
	case score >= t.High:
		return Recommendation{
			Action:         models.ActionReview,
			Message:        "Transaction requires manual review",
			RequiresReview: true,
		}
	case score >= t.Medium:
		return Recommendation{
			Action:                models.ActionVerify,
			Message:               "Additional verification required",
			RequiredVerifications: []string{"2fa", "email"},
		}
	default:
		return Recommendation{
			Action:      models.ActionApprove,
			Message:     "Transaction approved",
			AutoApprove: true,
		}
	}
}
