// internal/service/store.go
package service

import (
	"context"
	"errors"
	"time"

	"donation-guard/internal/models"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrDonorNotFound       = errors.New("donor verification not found")
	ErrCampaignNotFound    = errors.New("campaign verification not found")
	ErrCodeNotFound        = errors.New("verification code not found")
	ErrInvalidAmount       = errors.New("donation amount below minimum")
	ErrInvalidStatus       = errors.New("transaction status does not permit this operation")
	ErrInvalidCode         = errors.New("invalid or expired verification code")
	ErrPermissionDenied    = errors.New("admin access required")
)

// UserContext is the identity context supplied by the upstream auth layer
// on every call. The pipeline trusts it.
type UserContext struct {
	DonorID          string
	Email            string
	Phone            string
	IPAddress        string
	UserAgent        string
	DeviceID         string
	AccountCreatedAt time.Time
	IsAdmin          bool
}

// AccountAgeHours returns the age of the account at the given instant.
func (u UserContext) AccountAgeHours(now time.Time) float64 {
	if u.AccountCreatedAt.IsZero() {
		return 0
	}
	return now.Sub(u.AccountCreatedAt).Hours()
}

// TransactionStore persists donation transactions.
type TransactionStore interface {
	Create(ctx context.Context, tx *models.Transaction) error
	Get(ctx context.Context, transactionID string) (*models.Transaction, error)
	Update(ctx context.Context, tx *models.Transaction) error
	// ListByDonor returns the donor's transactions, newest first.
	ListByDonor(ctx context.Context, donorID string, limit int) ([]*models.Transaction, error)
	// CountByDonorSince counts the donor's transactions created at or after since.
	CountByDonorSince(ctx context.Context, donorID string, since time.Time) (int, error)
	// CountByDonorStatusSince counts the donor's transactions with the given
	// status created at or after since.
	CountByDonorStatusSince(ctx context.Context, donorID string, status models.TransactionStatus, since time.Time) (int, error)
	// ListByDonorStatus returns all of the donor's transactions in the given statuses.
	ListByDonorStatus(ctx context.Context, donorID string, statuses ...models.TransactionStatus) ([]*models.Transaction, error)
	// ListFlagged returns transactions in the given statuses whose risk level
	// is one of the given levels, newest first.
	ListFlagged(ctx context.Context, statuses []models.TransactionStatus, levels []models.RiskLevel) ([]*models.Transaction, error)
}

// DonorStore persists donor verification records.
type DonorStore interface {
	Get(ctx context.Context, donorID string) (*models.DonorVerification, error)
	Upsert(ctx context.Context, v *models.DonorVerification) error
	// IsDeviceBlacklisted reports whether the device identifier is linked to
	// any blacklisted donor record.
	IsDeviceBlacklisted(ctx context.Context, deviceID string) (bool, error)
}

// CampaignStore persists campaign verification records.
type CampaignStore interface {
	Get(ctx context.Context, campaignID string) (*models.CampaignVerification, error)
	Upsert(ctx context.Context, v *models.CampaignVerification) error
}

// PatternStore maintains aggregate fraud pattern counters.
type PatternStore interface {
	Record(ctx context.Context, patternType string, severity models.FlagSeverity, detectedAt time.Time) error
	List(ctx context.Context) ([]*models.FraudPattern, error)
}

// CodeStore holds hashed verification secrets with their expiries.
// Implementations: Redis with TTL, in-memory for dev/tests.
type CodeStore interface {
	Save(ctx context.Context, transactionID, method, hash string, expiresAt time.Time) error
	// Get returns the stored hash and expiry; ErrCodeNotFound if absent.
	Get(ctx context.Context, transactionID, method string) (hash string, expiresAt time.Time, err error)
	Delete(ctx context.Context, transactionID, method string) error
}
