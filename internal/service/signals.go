// internal/service/signals.go
// Risk signal collectors. Each collector is a pure rule over a context
// snapshot fetched once per analysis, so the current transaction is never
// counted against itself.
package service

import (
	"context"
	"time"

	"donation-guard/internal/models"
)

// Thresholds are the fixed risk tier boundaries.
type Thresholds struct {
	Low      int
	Medium   int
	High     int
	Critical int
}

// Weights are the per-indicator point contributions to the fraud score.
type Weights struct {
	Velocity          int
	SuspiciousIP      int
	UnusualAmount     int
	NewAccount        int
	MultipleFailures  int
	BlacklistedDevice int
	VPNUsage          int
	LocationMismatch  int
	UnusualTime       int
	RapidTransactions int
}

// FraudConfig is the immutable configuration injected into the engine at
// construction. Tests override it without touching global state.
type FraudConfig struct {
	Thresholds Thresholds
	Weights    Weights
}

// DefaultFraudConfig returns the production thresholds and weights.
func DefaultFraudConfig() FraudConfig {
	return FraudConfig{
		Thresholds: Thresholds{
			Low:      30,
			Medium:   50,
			High:     70,
			Critical: 85,
		},
		Weights: Weights{
			Velocity:          10,
			SuspiciousIP:      15,
			UnusualAmount:     12,
			NewAccount:        8,
			MultipleFailures:  20,
			BlacklistedDevice: 25,
			VPNUsage:          10,
			LocationMismatch:  15,
			UnusualTime:       5,
			RapidTransactions: 18,
		},
	}
}

// IPReputation answers whether an address is known-bad or anonymizing
// infrastructure. The static default stands in for a real reputation feed.
type IPReputation interface {
	IsSuspicious(ctx context.Context, ip string) bool
	IsVPN(ctx context.Context, ip string) bool
}

// GeoService answers location consistency questions for a donor.
type GeoService interface {
	HasLocationMismatch(ctx context.Context, user UserContext) bool
	LocationConsistency(ctx context.Context, donorID string) float64
}

// DeviceTrust scores a device identifier from its history.
type DeviceTrust interface {
	TrustScore(ctx context.Context, deviceID string) int
}

// StaticIPReputation flags only loopback/null addresses and never reports VPNs.
type StaticIPReputation struct{}

func (StaticIPReputation) IsSuspicious(_ context.Context, ip string) bool {
	return ip == "0.0.0.0" || ip == "127.0.0.1"
}

func (StaticIPReputation) IsVPN(context.Context, string) bool { return false }

// StaticGeoService reports no mismatch and a fixed consistency.
type StaticGeoService struct{}

func (StaticGeoService) HasLocationMismatch(context.Context, UserContext) bool { return false }
func (StaticGeoService) LocationConsistency(context.Context, string) float64   { return 0.8 }

// StaticDeviceTrust returns a fixed mid-trust score for every device.
type StaticDeviceTrust struct{}

func (StaticDeviceTrust) TrustScore(context.Context, string) int { return 75 }

// signalContext is the snapshot every collector reads from. It is built
// once at decision time so all collectors see a consistent view.
type signalContext struct {
	amount            float64
	accountAgeHours   float64
	recentHourCount   int // donor's transactions in the last 60 minutes
	recentFiveMin     int // donor's transactions in the last 5 minutes
	avgCompleted      float64
	completedCount    int
	totalCount        int
	failedLast24h     int
	failureRate       float64
	deviceBlacklisted bool
	donorBlacklisted  bool
	suspiciousIP      bool
	vpn               bool
	locationMismatch  bool
	deviceTrustScore  int
	locationScore     float64
	hour              int
	weekday           int
}

// signal is one collector's verdict.
type signal struct {
	name      string
	triggered bool
	weight    int
	detail    string
}

// collectSignals runs the ten weighted collectors against the snapshot.
func collectSignals(sc *signalContext, w Weights) []signal {
	return []signal{
		{
			name:      "velocity-abuse",
			triggered: sc.recentHourCount > 5,
			weight:    w.Velocity,
			detail:    "transactions in last hour exceed limit",
		},
		{
			name:      "suspicious-ip",
			triggered: sc.suspiciousIP,
			weight:    w.SuspiciousIP,
			detail:    "IP address matched known-bad set",
		},
		{
			name:      "unusual-amount",
			triggered: sc.avgCompleted > 0 && sc.amount > sc.avgCompleted*5,
			weight:    w.UnusualAmount,
			detail:    "amount exceeds 5x historical average",
		},
		{
			name:      "new-account",
			triggered: sc.accountAgeHours < 24,
			weight:    w.NewAccount,
			detail:    "account younger than 24 hours",
		},
		{
			name:      "multiple-failures",
			triggered: sc.failedLast24h > 3,
			weight:    w.MultipleFailures,
			detail:    "more than 3 failed transactions in last 24 hours",
		},
		{
			name:      "blacklisted-device",
			triggered: sc.deviceBlacklisted,
			weight:    w.BlacklistedDevice,
			detail:    "device linked to a blacklisted donor",
		},
		{
			name:      "vpn-usage",
			triggered: sc.vpn,
			weight:    w.VPNUsage,
			detail:    "anonymizing infrastructure detected",
		},
		{
			name:      "location-mismatch",
			triggered: sc.locationMismatch,
			weight:    w.LocationMismatch,
			detail:    "request location diverges from historical pattern",
		},
		{
			name:      "unusual-time",
			triggered: sc.hour >= 2 && sc.hour < 5,
			weight:    w.UnusualTime,
			detail:    "transaction between 2 AM and 5 AM",
		},
		{
			name:      "rapid-transactions",
			triggered: sc.recentFiveMin > 3,
			weight:    w.RapidTransactions,
			detail:    "more than 3 transactions in 5 minutes",
		},
	}
}

// scoreSignals sums the weights of triggered signals, clamped to [0,100].
func scoreSignals(signals []signal) int {
	score := 0
	for _, s := range signals {
		if s.triggered {
			score += s.weight
		}
	}
	return clampScore(score)
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// riskLevelFor maps a score to its tier.
func riskLevelFor(score int, t Thresholds) models.RiskLevel {
	switch {
	case score >= t.Critical:
		return models.RiskLevelCritical
	case score >= t.High:
		return models.RiskLevelHigh
	case score >= t.Medium:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}

// historyStats derives completed-donation statistics from a donor's
// transaction history.
func historyStats(history []*models.Transaction) (avgCompleted float64, completed, failed, refunded int, total float64, first, last *time.Time) {
	var completedTotal float64
	for _, tx := range history {
		total += tx.Amount
		switch tx.Status {
		case models.StatusCompleted:
			completed++
			completedTotal += tx.Amount
		case models.StatusFailed:
			failed++
		case models.StatusRefunded:
			refunded++
		}
		created := tx.CreatedAt
		if first == nil || created.Before(*first) {
			t := created
			first = &t
		}
		if last == nil || created.After(*last) {
			t := created
			last = &t
		}
	}
	if completed > 0 {
		avgCompleted = completedTotal / float64(completed)
	}
	return
}
