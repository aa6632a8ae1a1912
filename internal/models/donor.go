// internal/models/donor.go
package models

import "time"

type VerificationLevel string

const (
	LevelUnverified VerificationLevel = "unverified"
	LevelBasic      VerificationLevel = "basic"
	LevelStandard   VerificationLevel = "standard"
	LevelPremium    VerificationLevel = "premium"
	LevelTrusted    VerificationLevel = "trusted"
)

// DefaultTrustScore is the score every donor starts from.
const DefaultTrustScore = 50

// DonorVerification is the per-donor reputation record. Created lazily on
// first donation, never deleted.
type DonorVerification struct {
	DonorID           string            `json:"donor_id" db:"donor_id"`
	VerificationLevel VerificationLevel `json:"verification_level" db:"verification_level"`
	TrustScore        int               `json:"trust_score" db:"trust_score"`

	Channels     VerifiedChannels `json:"channels"`
	History      DonationHistory  `json:"donation_history"`
	Restrictions Restrictions     `json:"restrictions"`

	KnownDevices []string `json:"known_devices,omitempty"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewDonorVerification returns a fresh record for a first-time donor.
func NewDonorVerification(donorID string) *DonorVerification {
	now := time.Now()
	return &DonorVerification{
		DonorID:           donorID,
		VerificationLevel: LevelUnverified,
		TrustScore:        DefaultTrustScore,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

type VerifiedChannels struct {
	Email       ChannelVerification `json:"email"`
	Phone       ChannelVerification `json:"phone"`
	Identity    ChannelVerification `json:"identity"`
	Address     ChannelVerification `json:"address"`
	BankAccount ChannelVerification `json:"bank_account"`
}

type ChannelVerification struct {
	Verified   bool       `json:"verified"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	Method     string     `json:"method,omitempty"`
}

// DonationHistory is recomputed from the full transaction history after
// every terminal transaction, never incremented in place.
type DonationHistory struct {
	TotalDonations int        `json:"total_donations"`
	TotalAmount    float64    `json:"total_amount"`
	AverageAmount  float64    `json:"average_amount"`
	Successful     int        `json:"successful_transactions"`
	Failed         int        `json:"failed_transactions"`
	Refunded       int        `json:"refunded_transactions"`
	FirstDonation  *time.Time `json:"first_donation,omitempty"`
	LastDonation   *time.Time `json:"last_donation,omitempty"`
}

type Restrictions struct {
	IsBlacklisted        bool       `json:"is_blacklisted"`
	BlacklistedAt        *time.Time `json:"blacklisted_at,omitempty"`
	BlacklistReason      string     `json:"blacklist_reason,omitempty"`
	MaxDonationAmount    float64    `json:"max_donation_amount,omitempty"`
	RequiresManualReview bool       `json:"requires_manual_review"`
}

// FraudPattern is an aggregate counter for a named abuse category,
// maintained for analytics when flags are raised.
type FraudPattern struct {
	Type          string       `json:"type" db:"type"`
	Description   string       `json:"description,omitempty" db:"description"`
	Severity      FlagSeverity `json:"severity" db:"severity"`
	DetectedCount int          `json:"detected_count" db:"detected_count"`
	LastDetected  time.Time    `json:"last_detected" db:"last_detected"`
	IsActive      bool         `json:"is_active" db:"is_active"`
}

const DonorSchema = `
CREATE TABLE IF NOT EXISTS donor_verifications (
    donor_id VARCHAR(64) PRIMARY KEY,
    verification_level VARCHAR(12) NOT NULL,
    trust_score INT NOT NULL,
    channels JSONB NOT NULL,
    donation_history JSONB NOT NULL,
    restrictions JSONB NOT NULL,
    known_devices TEXT[],
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_donor_level ON donor_verifications (verification_level, trust_score DESC);

CREATE TABLE IF NOT EXISTS fraud_patterns (
    type VARCHAR(32) PRIMARY KEY,
    description TEXT,
    severity VARCHAR(10) NOT NULL,
    detected_count INT NOT NULL DEFAULT 0,
    last_detected TIMESTAMP,
    is_active BOOLEAN NOT NULL DEFAULT TRUE
);
`
