// internal/service/trust.go
// Trust score ledger. The score and the donation-history counters are
// recomputed from the donor's full terminal transaction history, never
// incremented, so replaying history always converges to the same record.
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"donation-guard/internal/models"
)

const (
	trustBaseScore         = 50
	trustCompletedBonus    = 2
	trustCompletedBonusCap = 30
	trustFailedPenalty     = 5
	trustRefundedPenalty   = 3
	trustEmailBonus        = 5
	trustPhoneBonus        = 5
	trustIdentityBonus     = 10
)

// ComputeTrustScore derives a donor's trust score from their terminal
// transaction history and verified channels, clamped to [0,100].
func ComputeTrustScore(history []*models.Transaction, channels models.VerifiedChannels) int {
	score := trustBaseScore

	completed, failed, refunded := 0, 0, 0
	for _, tx := range history {
		switch tx.Status {
		case models.StatusCompleted:
			completed++
		case models.StatusFailed:
			failed++
		case models.StatusRefunded:
			refunded++
		}
	}

	completedBonus := completed * trustCompletedBonus
	if completedBonus > trustCompletedBonusCap {
		completedBonus = trustCompletedBonusCap
	}
	score += completedBonus
	score -= failed * trustFailedPenalty
	score -= refunded * trustRefundedPenalty

	if channels.Email.Verified {
		score += trustEmailBonus
	}
	if channels.Phone.Verified {
		score += trustPhoneBonus
	}
	if channels.Identity.Verified {
		score += trustIdentityBonus
	}

	return clampScore(score)
}

// verificationLevelFor buckets a donor into a coarse verification level
// from their verified channels and recomputed trust score.
func verificationLevelFor(channels models.VerifiedChannels, trustScore int) models.VerificationLevel {
	switch {
	case channels.Identity.Verified && trustScore >= 85:
		return models.LevelTrusted
	case channels.Identity.Verified && trustScore >= 70:
		return models.LevelPremium
	case channels.Email.Verified && channels.Phone.Verified && trustScore >= 60:
		return models.LevelStandard
	case channels.Email.Verified:
		return models.LevelBasic
	default:
		return models.LevelUnverified
	}
}

// UpdateDonorTrust recomputes the donor's trust score, verification level
// and history counters after a transaction reaches a terminal state.
func (s *DonationService) UpdateDonorTrust(ctx context.Context, donorID string) (int, error) {
	donor, err := s.donors.Get(ctx, donorID)
	if err != nil {
		donor = models.NewDonorVerification(donorID)
	}

	history, err := s.transactions.ListByDonorStatus(ctx, donorID,
		models.StatusCompleted, models.StatusFailed, models.StatusRefunded)
	if err != nil {
		return 0, fmt.Errorf("failed to load donor history: %w", err)
	}

	donor.TrustScore = ComputeTrustScore(history, donor.Channels)
	donor.VerificationLevel = verificationLevelFor(donor.Channels, donor.TrustScore)

	avg, completed, failed, refunded, totalAmount, first, last := historyStats(history)
	donor.History = models.DonationHistory{
		TotalDonations: len(history),
		TotalAmount:    totalAmount,
		AverageAmount:  avg,
		Successful:     completed,
		Failed:         failed,
		Refunded:       refunded,
		FirstDonation:  first,
		LastDonation:   last,
	}
	donor.UpdatedAt = time.Now()

	if err := s.donors.Upsert(ctx, donor); err != nil {
		return 0, fmt.Errorf("failed to save donor verification: %w", err)
	}

	s.logger.Info("donor trust recomputed",
		zap.String("donor_id", donorID),
		zap.Int("trust_score", donor.TrustScore),
		zap.String("level", string(donor.VerificationLevel)))

	return donor.TrustScore, nil
}
