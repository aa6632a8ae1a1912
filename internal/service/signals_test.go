// internal/service/signals_test.go
package service

import (
	"testing"

	"donation-guard/internal/models"
)

func triggeredNames(signals []signal) map[string]bool {
	out := make(map[string]bool)
	for _, s := range signals {
		if s.triggered {
			out[s.name] = true
		}
	}
	return out
}

func TestCollectSignals(t *testing.T) {
	weights := DefaultFraudConfig().Weights

	tests := []struct {
		name     string
		sc       signalContext
		expected []string
	}{
		{
			name: "clean context triggers nothing",
			sc: signalContext{
				amount:          50,
				accountAgeHours: 48,
				hour:            14,
			},
			expected: nil,
		},
		{
			name:     "new account",
			sc:       signalContext{accountAgeHours: 23.9, hour: 14},
			expected: []string{"new-account"},
		},
		{
			name:     "account exactly 24 hours is not new",
			sc:       signalContext{accountAgeHours: 24, hour: 14},
			expected: nil,
		},
		{
			name:     "velocity over five per hour",
			sc:       signalContext{accountAgeHours: 48, recentHourCount: 6, hour: 14},
			expected: []string{"velocity-abuse"},
		},
		{
			name:     "exactly five per hour does not trigger",
			sc:       signalContext{accountAgeHours: 48, recentHourCount: 5, hour: 14},
			expected: nil,
		},
		{
			name:     "rapid transactions over three in five minutes",
			sc:       signalContext{accountAgeHours: 48, recentFiveMin: 4, hour: 14},
			expected: []string{"rapid-transactions"},
		},
		{
			name:     "unusual amount only with history",
			sc:       signalContext{accountAgeHours: 48, amount: 1000, avgCompleted: 100, hour: 14},
			expected: []string{"unusual-amount"},
		},
		{
			name:     "large amount without history is not unusual",
			sc:       signalContext{accountAgeHours: 48, amount: 100000, avgCompleted: 0, hour: 14},
			expected: nil,
		},
		{
			name:     "amount exactly 5x average does not trigger",
			sc:       signalContext{accountAgeHours: 48, amount: 500, avgCompleted: 100, hour: 14},
			expected: nil,
		},
		{
			name:     "multiple failures over three in 24h",
			sc:       signalContext{accountAgeHours: 48, failedLast24h: 4, hour: 14},
			expected: []string{"multiple-failures"},
		},
		{
			name:     "suspicious ip",
			sc:       signalContext{accountAgeHours: 48, suspiciousIP: true, hour: 14},
			expected: []string{"suspicious-ip"},
		},
		{
			name:     "blacklisted device",
			sc:       signalContext{accountAgeHours: 48, deviceBlacklisted: true, hour: 14},
			expected: []string{"blacklisted-device"},
		},
		{
			name:     "vpn",
			sc:       signalContext{accountAgeHours: 48, vpn: true, hour: 14},
			expected: []string{"vpn-usage"},
		},
		{
			name:     "location mismatch",
			sc:       signalContext{accountAgeHours: 48, locationMismatch: true, hour: 14},
			expected: []string{"location-mismatch"},
		},
		{
			name:     "2am is unusual time",
			sc:       signalContext{accountAgeHours: 48, hour: 2},
			expected: []string{"unusual-time"},
		},
		{
			name:     "4am is unusual time",
			sc:       signalContext{accountAgeHours: 48, hour: 4},
			expected: []string{"unusual-time"},
		},
		{
			name:     "5am is not unusual time",
			sc:       signalContext{accountAgeHours: 48, hour: 5},
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := triggeredNames(collectSignals(&tt.sc, weights))
			if len(got) != len(tt.expected) {
				t.Fatalf("triggered %v, want %v", got, tt.expected)
			}
			for _, name := range tt.expected {
				if !got[name] {
					t.Errorf("expected %s to trigger, got %v", name, got)
				}
			}
		})
	}
}

func TestScoreSignals(t *testing.T) {
	weights := DefaultFraudConfig().Weights

	// All collectors triggered: sum of the weights exceeds 100 and clamps.
	sc := signalContext{
		amount:            1000,
		avgCompleted:      100,
		accountAgeHours:   1,
		recentHourCount:   10,
		recentFiveMin:     10,
		failedLast24h:     10,
		deviceBlacklisted: true,
		suspiciousIP:      true,
		vpn:               true,
		locationMismatch:  true,
		hour:              3,
	}
	if got := scoreSignals(collectSignals(&sc, weights)); got != 100 {
		t.Errorf("all signals score = %d, want 100 (clamped)", got)
	}

	// Velocity alone contributes exactly its weight.
	sc = signalContext{accountAgeHours: 48, recentHourCount: 6, hour: 14}
	if got := scoreSignals(collectSignals(&sc, weights)); got != weights.Velocity {
		t.Errorf("velocity-only score = %d, want %d", got, weights.Velocity)
	}

	if got := scoreSignals(nil); got != 0 {
		t.Errorf("empty signal score = %d, want 0", got)
	}
}

func TestRiskLevelFor(t *testing.T) {
	thresholds := DefaultFraudConfig().Thresholds

	tests := []struct {
		score int
		want  models.RiskLevel
	}{
		{0, models.RiskLevelLow},
		{49, models.RiskLevelLow},
		{50, models.RiskLevelMedium},
		{69, models.RiskLevelMedium},
		{70, models.RiskLevelHigh},
		{84, models.RiskLevelHigh},
		{85, models.RiskLevelCritical},
		{100, models.RiskLevelCritical},
	}

	for _, tt := range tests {
		if got := riskLevelFor(tt.score, thresholds); got != tt.want {
			t.Errorf("riskLevelFor(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestClampScore(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{-10, 0},
		{0, 0},
		{55, 55},
		{100, 100},
		{140, 100},
	}

	for _, tt := range tests {
		if got := clampScore(tt.in); got != tt.want {
			t.Errorf("clampScore(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRuleBasedRisk(t *testing.T) {
	tests := []struct {
		name     string
		features models.FeatureVector
		want     int
	}{
		{
			name: "established donor with clean features",
			features: models.FeatureVector{
				AccountAgeHours:     100,
				DeviceTrustScore:    75,
				LocationConsistency: 0.8,
				ChecksPassedCount:   8,
			},
			want: 0,
		},
		{
			name: "new account alone",
			features: models.FeatureVector{
				AccountAgeHours:     1,
				DeviceTrustScore:    75,
				LocationConsistency: 0.8,
				ChecksPassedCount:   8,
			},
			want: 20,
		},
		{
			name: "everything bad clamps at 100",
			features: models.FeatureVector{
				Amount:              5000,
				AvgDonation:         10,
				AccountAgeHours:     1,
				FailureRate:         0.9,
				IsVPN:               true,
				DeviceTrustScore:    10,
				LocationConsistency: 0.1,
				ChecksPassedCount:   2,
			},
			want: 100,
		},
		{
			name: "high failure rate and low device trust",
			features: models.FeatureVector{
				AccountAgeHours:     100,
				FailureRate:         0.5,
				DeviceTrustScore:    40,
				LocationConsistency: 0.8,
				ChecksPassedCount:   8,
			},
			want: 40,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ruleBasedRisk(tt.features); got != tt.want {
				t.Errorf("ruleBasedRisk() = %d, want %d", got, tt.want)
			}
		})
	}
}
