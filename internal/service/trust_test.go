// internal/service/trust_test.go
package service

import (
	"context"
	"testing"
	"time"

	"donation-guard/internal/models"
)

func txWithStatus(status models.TransactionStatus, amount float64) *models.Transaction {
	return &models.Transaction{Status: status, Amount: amount, CreatedAt: testTime}
}

func repeatTx(status models.TransactionStatus, n int) []*models.Transaction {
	out := make([]*models.Transaction, n)
	for i := range out {
		out[i] = txWithStatus(status, 10)
	}
	return out
}

func TestComputeTrustScore(t *testing.T) {
	verified := models.ChannelVerification{Verified: true}

	tests := []struct {
		name     string
		history  []*models.Transaction
		channels models.VerifiedChannels
		want     int
	}{
		{
			name: "fresh donor starts at base",
			want: 50,
		},
		{
			name:    "completed donations add two each",
			history: repeatTx(models.StatusCompleted, 3),
			want:    56,
		},
		{
			name:    "completed bonus caps at thirty",
			history: repeatTx(models.StatusCompleted, 40),
			want:    80,
		},
		{
			name:    "failures subtract five each",
			history: repeatTx(models.StatusFailed, 2),
			want:    40,
		},
		{
			name:    "refunds subtract three each",
			history: repeatTx(models.StatusRefunded, 2),
			want:    44,
		},
		{
			name:     "channel bonuses stack",
			channels: models.VerifiedChannels{Email: verified, Phone: verified, Identity: verified},
			want:     70,
		},
		{
			name:    "score clamps at zero",
			history: repeatTx(models.StatusFailed, 20),
			want:    0,
		},
		{
			name:     "score clamps at one hundred",
			history:  repeatTx(models.StatusCompleted, 40),
			channels: models.VerifiedChannels{Email: verified, Phone: verified, Identity: verified},
			want:     100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeTrustScore(tt.history, tt.channels); got != tt.want {
				t.Errorf("ComputeTrustScore() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestVerificationLevelFor(t *testing.T) {
	verified := models.ChannelVerification{Verified: true}

	tests := []struct {
		name     string
		channels models.VerifiedChannels
		score    int
		want     models.VerificationLevel
	}{
		{
			name:  "nothing verified",
			score: 90,
			want:  models.LevelUnverified,
		},
		{
			name:     "email only is basic",
			channels: models.VerifiedChannels{Email: verified},
			score:    90,
			want:     models.LevelBasic,
		},
		{
			name:     "email and phone with score is standard",
			channels: models.VerifiedChannels{Email: verified, Phone: verified},
			score:    60,
			want:     models.LevelStandard,
		},
		{
			name:     "email and phone below sixty stays basic",
			channels: models.VerifiedChannels{Email: verified, Phone: verified},
			score:    59,
			want:     models.LevelBasic,
		},
		{
			name:     "identity with seventy is premium",
			channels: models.VerifiedChannels{Email: verified, Phone: verified, Identity: verified},
			score:    70,
			want:     models.LevelPremium,
		},
		{
			name:     "identity with eighty-five is trusted",
			channels: models.VerifiedChannels{Email: verified, Phone: verified, Identity: verified},
			score:    85,
			want:     models.LevelTrusted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := verificationLevelFor(tt.channels, tt.score); got != tt.want {
				t.Errorf("verificationLevelFor() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestUpdateDonorTrustRecomputesFromScratch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i, status := range []models.TransactionStatus{
		models.StatusCompleted, models.StatusCompleted, models.StatusFailed,
	} {
		tx := txWithStatus(status, 25)
		tx.TransactionID = uniqueID("hist", i)
		tx.DonorID = "donor-1"
		tx.CreatedAt = testTime.Add(time.Duration(i) * time.Hour)
		if err := f.transactions.Create(ctx, tx); err != nil {
			t.Fatal(err)
		}
	}

	// Recomputing twice yields the same score: the update never increments.
	for i := 0; i < 2; i++ {
		score, err := f.svc.UpdateDonorTrust(ctx, "donor-1")
		if err != nil {
			t.Fatal(err)
		}
		if score != 49 { // 50 + 2*2 completed - 5 failed
			t.Fatalf("trust score = %d, want 49 (pass %d)", score, i)
		}
	}

	donor, err := f.donors.Get(ctx, "donor-1")
	if err != nil {
		t.Fatal(err)
	}
	if donor.History.TotalDonations != 3 || donor.History.Successful != 2 || donor.History.Failed != 1 {
		t.Errorf("history = %+v, want 3 total / 2 successful / 1 failed", donor.History)
	}
	if donor.History.TotalAmount != 75 {
		t.Errorf("total amount = %.2f, want 75", donor.History.TotalAmount)
	}
}
