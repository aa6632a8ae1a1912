// internal/models/transaction.go
package models

import "time"

type TransactionStatus string
type RiskLevel string
type Action string
type FlagSeverity string

const (
	StatusInitiated  TransactionStatus = "initiated"
	StatusPending    TransactionStatus = "pending"
	StatusProcessing TransactionStatus = "processing"
	StatusVerified   TransactionStatus = "verified"
	StatusCompleted  TransactionStatus = "completed"
	StatusFailed     TransactionStatus = "failed"
	StatusRefunded   TransactionStatus = "refunded"
	StatusFlagged    TransactionStatus = "flagged"

	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"

	ActionApprove Action = "approve"
	ActionVerify  Action = "verify"
	ActionReview  Action = "review"
	ActionBlock   Action = "block"

	SeverityLow      FlagSeverity = "low"
	SeverityMedium   FlagSeverity = "medium"
	SeverityHigh     FlagSeverity = "high"
	SeverityCritical FlagSeverity = "critical"
)

// IsTerminal reports whether the status is final. Refunds are modeled as
// a sub-record on a completed transaction, so completed is terminal too.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// Transaction is the central entity of the donation pipeline. The fraud
// snapshot is computed once at initiation and never recomputed; the
// timeline is append-only.
type Transaction struct {
	TransactionID string            `json:"transaction_id" db:"transaction_id"`
	DonorID       string            `json:"donor_id" db:"donor_id"`
	CampaignID    string            `json:"campaign_id" db:"campaign_id"`
	Amount        float64           `json:"amount" db:"amount"`
	Currency      string            `json:"currency" db:"currency"`
	PaymentMethod string            `json:"payment_method" db:"payment_method"`
	Status        TransactionStatus `json:"status" db:"status"`

	FraudCheck     FraudCheck      `json:"fraud_check"`
	Verification   Verification    `json:"verification"`
	Anchor         *AnchorRecord   `json:"anchor,omitempty"`
	PaymentDetails *PaymentDetails `json:"payment_details,omitempty"`
	Receipt        *Receipt        `json:"receipt,omitempty"`
	Refund         *Refund         `json:"refund,omitempty"`

	Tracking Tracking        `json:"tracking"`
	Timeline []TimelineEntry `json:"timeline"`

	IsAnonymous bool   `json:"is_anonymous"`
	Message     string `json:"message,omitempty"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// FraudCheck is the immutable fraud assessment snapshot taken at initiation,
// plus the admin review stamp once a reviewer has acted on it.
type FraudCheck struct {
	Score     int         `json:"score"`
	RiskLevel RiskLevel   `json:"risk_level"`
	Flags     []Flag      `json:"flags"`
	Checks    Checks      `json:"checks"`
	AI        *AIAnalysis `json:"ai_analysis,omitempty"`

	ReviewedBy  string     `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	ReviewNotes string     `json:"review_notes,omitempty"`
}

// Checks is the named security-check battery. Fixed fields keep the
// contract type-checkable instead of an ad hoc map.
type Checks struct {
	IPVerification    CheckResult `json:"ip_verification"`
	EmailVerification CheckResult `json:"email_verification"`
	PhoneVerification CheckResult `json:"phone_verification"`
	DeviceFingerprint CheckResult `json:"device_fingerprint"`
	VelocityCheck     CheckResult `json:"velocity_check"`
	AmountAnalysis    CheckResult `json:"amount_analysis"`
	BehaviorAnalysis  CheckResult `json:"behavior_analysis"`
	BlacklistCheck    CheckResult `json:"blacklist_check"`
}

// PassedCount returns how many of the eight checks passed.
func (c Checks) PassedCount() int {
	count := 0
	for _, r := range c.All() {
		if r.Passed {
			count++
		}
	}
	return count
}

// All returns the checks in declaration order.
func (c Checks) All() []CheckResult {
	return []CheckResult{
		c.IPVerification,
		c.EmailVerification,
		c.PhoneVerification,
		c.DeviceFingerprint,
		c.VelocityCheck,
		c.AmountAnalysis,
		c.BehaviorAnalysis,
		c.BlacklistCheck,
	}
}

type CheckResult struct {
	Passed  bool   `json:"passed"`
	Details string `json:"details"`
}

type Flag struct {
	Type      string       `json:"type"`
	Reason    string       `json:"reason"`
	Severity  FlagSeverity `json:"severity"`
	Timestamp time.Time    `json:"timestamp"`
}

// AIAnalysis is the output of the external fraud scorer, or of the
// rule-based fallback when the scorer is unavailable.
type AIAnalysis struct {
	Model      string        `json:"model"`
	Confidence float64       `json:"confidence"`
	Prediction string        `json:"prediction"`
	Features   FeatureVector `json:"features"`
}

// FeatureVector is the input to the fraud scorer.
type FeatureVector struct {
	Amount              float64 `json:"amount"`
	AccountAgeHours     float64 `json:"account_age_hours"`
	DonationCount       int     `json:"donation_count"`
	AvgDonation         float64 `json:"avg_donation"`
	FailureRate         float64 `json:"failure_rate"`
	HourOfDay           int     `json:"hour_of_day"`
	DayOfWeek           int     `json:"day_of_week"`
	IsVPN               bool    `json:"is_vpn"`
	DeviceTrustScore    int     `json:"device_trust_score"`
	LocationConsistency float64 `json:"location_consistency"`
	ChecksPassedCount   int     `json:"checks_passed_count"`
}

// Verification tracks the step-up verification channels for a transaction.
// Secrets themselves (hashed codes and expiries) live in the code store.
type Verification struct {
	TwoFactor ChannelState `json:"two_factor"`
	Email     ChannelState `json:"email"`
	SMS       ChannelState `json:"sms"`
	Identity  ChannelState `json:"identity"`
}

type ChannelState struct {
	Required    bool       `json:"required"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// AllSatisfied reports whether every required channel has completed.
func (v Verification) AllSatisfied() bool {
	for _, ch := range []ChannelState{v.TwoFactor, v.Email, v.SMS, v.Identity} {
		if ch.Required && !ch.Completed {
			return false
		}
	}
	return true
}

// AnchorRecord is the external ledger record, populated best-effort after
// a successful payment.
type AnchorRecord struct {
	Network       string    `json:"network"`
	TxHash        string    `json:"tx_hash"`
	BlockNumber   int64     `json:"block_number"`
	Confirmations int       `json:"confirmations"`
	Timestamp     time.Time `json:"timestamp"`
}

type PaymentDetails struct {
	Last4    string `json:"last4"`
	CardType string `json:"card_type"`
}

type Receipt struct {
	Number      string    `json:"number"`
	URL         string    `json:"url"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Refund exists for completeness of the state machine; no public operation
// initiates one.
type Refund struct {
	Requested   bool       `json:"requested"`
	RequestedAt *time.Time `json:"requested_at,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	Approved    bool       `json:"approved"`
	ApprovedBy  string     `json:"approved_by,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	Amount      float64    `json:"amount,omitempty"`
}

type Tracking struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
	DeviceID  string `json:"device_id"`
	SessionID string `json:"session_id,omitempty"`
}

type TimelineEntry struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

// Database schema
const TransactionSchema = `
CREATE TABLE IF NOT EXISTS secure_transactions (
    transaction_id VARCHAR(36) PRIMARY KEY,
    donor_id VARCHAR(64) NOT NULL,
    campaign_id VARCHAR(64) NOT NULL,
    amount DECIMAL(19, 4) NOT NULL,
    currency VARCHAR(3) NOT NULL,
    payment_method VARCHAR(20) NOT NULL,
    status VARCHAR(20) NOT NULL,
    fraud_score INT NOT NULL,
    risk_level VARCHAR(10) NOT NULL,
    fraud_detail JSONB NOT NULL,
    verification JSONB NOT NULL,
    anchor JSONB,
    payment_details JSONB,
    receipt JSONB,
    refund JSONB,
    tracking JSONB NOT NULL,
    timeline JSONB NOT NULL,
    is_anonymous BOOLEAN DEFAULT FALSE,
    message TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_transactions_donor ON secure_transactions (donor_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_transactions_campaign ON secure_transactions (campaign_id, status);
CREATE INDEX IF NOT EXISTS idx_transactions_risk ON secure_transactions (risk_level, status);
`
