// internal/repository/donor_repository.go
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"donation-guard/internal/models"
	"donation-guard/internal/service"
)

// DonorRepository is the PostgreSQL implementation of service.DonorStore.
type DonorRepository struct {
	db *sql.DB
}

func NewDonorRepository(db *sql.DB) *DonorRepository {
	return &DonorRepository{db: db}
}

func (r *DonorRepository) Get(ctx context.Context, donorID string) (*models.DonorVerification, error) {
	query := `
		SELECT donor_id, verification_level, trust_score, channels,
		       donation_history, restrictions, known_devices, created_at, updated_at
		FROM donor_verifications
		WHERE donor_id = $1
	`

	donor := &models.DonorVerification{}
	var channels, history, restrictions []byte

	err := r.db.QueryRowContext(ctx, query, donorID).Scan(
		&donor.DonorID,
		&donor.VerificationLevel,
		&donor.TrustScore,
		&channels,
		&history,
		&restrictions,
		pq.Array(&donor.KnownDevices),
		&donor.CreatedAt,
		&donor.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, service.ErrDonorNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(channels, &donor.Channels); err != nil {
		return nil, fmt.Errorf("unmarshal channels: %w", err)
	}
	if err := json.Unmarshal(history, &donor.History); err != nil {
		return nil, fmt.Errorf("unmarshal donation history: %w", err)
	}
	if err := json.Unmarshal(restrictions, &donor.Restrictions); err != nil {
		return nil, fmt.Errorf("unmarshal restrictions: %w", err)
	}

	return donor, nil
}

func (r *DonorRepository) Upsert(ctx context.Context, donor *models.DonorVerification) error {
	channels, err := json.Marshal(donor.Channels)
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}
	history, err := json.Marshal(donor.History)
	if err != nil {
		return fmt.Errorf("marshal donation history: %w", err)
	}
	restrictions, err := json.Marshal(donor.Restrictions)
	if err != nil {
		return fmt.Errorf("marshal restrictions: %w", err)
	}

	query := `
		INSERT INTO donor_verifications (
			donor_id, verification_level, trust_score, channels,
			donation_history, restrictions, known_devices, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (donor_id) DO UPDATE SET
			verification_level = EXCLUDED.verification_level,
			trust_score = EXCLUDED.trust_score,
			channels = EXCLUDED.channels,
			donation_history = EXCLUDED.donation_history,
			restrictions = EXCLUDED.restrictions,
			known_devices = EXCLUDED.known_devices,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		donor.DonorID,
		donor.VerificationLevel,
		donor.TrustScore,
		channels,
		history,
		restrictions,
		pq.Array(donor.KnownDevices),
		donor.CreatedAt,
		donor.UpdatedAt,
	)
	return err
}

// IsDeviceBlacklisted reports whether the device is linked to any
// blacklisted donor.
func (r *DonorRepository) IsDeviceBlacklisted(ctx context.Context, deviceID string) (bool, error) {
	if deviceID == "" {
		return false, nil
	}
	query := `
		SELECT EXISTS (
			SELECT 1 FROM donor_verifications
			WHERE (restrictions->>'is_blacklisted')::boolean = TRUE
			  AND $1 = ANY(known_devices)
		)
	`
	var blacklisted bool
	err := r.db.QueryRowContext(ctx, query, deviceID).Scan(&blacklisted)
	return blacklisted, err
}

// CampaignRepository is the PostgreSQL implementation of service.CampaignStore.
type CampaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

func (r *CampaignRepository) Get(ctx context.Context, campaignID string) (*models.CampaignVerification, error) {
	query := `
		SELECT campaign_id, status, verified_by, verified_at, documents,
		       organization, bank, compliance, created_at, updated_at
		FROM campaign_verifications
		WHERE campaign_id = $1
	`

	campaign := &models.CampaignVerification{}
	var verifiedBy sql.NullString
	var verifiedAt sql.NullTime
	var documents, organization, bank, compliance []byte

	err := r.db.QueryRowContext(ctx, query, campaignID).Scan(
		&campaign.CampaignID,
		&campaign.Status,
		&verifiedBy,
		&verifiedAt,
		&documents,
		&organization,
		&bank,
		&compliance,
		&campaign.CreatedAt,
		&campaign.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, service.ErrCampaignNotFound
	}
	if err != nil {
		return nil, err
	}

	campaign.VerifiedBy = verifiedBy.String
	if verifiedAt.Valid {
		campaign.VerifiedAt = &verifiedAt.Time
	}
	if len(documents) > 0 {
		if err := json.Unmarshal(documents, &campaign.Documents); err != nil {
			return nil, fmt.Errorf("unmarshal documents: %w", err)
		}
	}
	if err := json.Unmarshal(organization, &campaign.Organization); err != nil {
		return nil, fmt.Errorf("unmarshal organization: %w", err)
	}
	if err := json.Unmarshal(bank, &campaign.Bank); err != nil {
		return nil, fmt.Errorf("unmarshal bank details: %w", err)
	}
	if err := json.Unmarshal(compliance, &campaign.Compliance); err != nil {
		return nil, fmt.Errorf("unmarshal compliance: %w", err)
	}

	return campaign, nil
}

func (r *CampaignRepository) Upsert(ctx context.Context, campaign *models.CampaignVerification) error {
	documents, err := json.Marshal(campaign.Documents)
	if err != nil {
		return fmt.Errorf("marshal documents: %w", err)
	}
	organization, err := json.Marshal(campaign.Organization)
	if err != nil {
		return fmt.Errorf("marshal organization: %w", err)
	}
	bank, err := json.Marshal(campaign.Bank)
	if err != nil {
		return fmt.Errorf("marshal bank details: %w", err)
	}
	compliance, err := json.Marshal(campaign.Compliance)
	if err != nil {
		return fmt.Errorf("marshal compliance: %w", err)
	}

	var verifiedAt interface{}
	if campaign.VerifiedAt != nil {
		verifiedAt = *campaign.VerifiedAt
	}

	query := `
		INSERT INTO campaign_verifications (
			campaign_id, status, verified_by, verified_at, documents,
			organization, bank, compliance, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (campaign_id) DO UPDATE SET
			status = EXCLUDED.status,
			verified_by = EXCLUDED.verified_by,
			verified_at = EXCLUDED.verified_at,
			documents = EXCLUDED.documents,
			organization = EXCLUDED.organization,
			bank = EXCLUDED.bank,
			compliance = EXCLUDED.compliance,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		campaign.CampaignID,
		campaign.Status,
		campaign.VerifiedBy,
		verifiedAt,
		documents,
		organization,
		bank,
		compliance,
		campaign.CreatedAt,
		campaign.UpdatedAt,
	)
	return err
}

// PatternRepository is the PostgreSQL implementation of service.PatternStore.
type PatternRepository struct {
	db *sql.DB
}

func NewPatternRepository(db *sql.DB) *PatternRepository {
	return &PatternRepository{db: db}
}

// Record bumps the detection counter for a pattern type, creating the
// row on first sight.
func (r *PatternRepository) Record(ctx context.Context, patternType string, severity models.FlagSeverity, detectedAt time.Time) error {
	query := `
		INSERT INTO fraud_patterns (type, severity, detected_count, last_detected, is_active)
		VALUES ($1, $2, 1, $3, TRUE)
		ON CONFLICT (type) DO UPDATE SET
			detected_count = fraud_patterns.detected_count + 1,
			severity = EXCLUDED.severity,
			last_detected = EXCLUDED.last_detected,
			is_active = TRUE
	`
	_, err := r.db.ExecContext(ctx, query, patternType, severity, detectedAt)
	return err
}

func (r *PatternRepository) List(ctx context.Context) ([]*models.FraudPattern, error) {
	query := `
		SELECT type, COALESCE(description, ''), severity, detected_count, last_detected, is_active
		FROM fraud_patterns
		WHERE is_active = TRUE
		ORDER BY detected_count DESC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []*models.FraudPattern
	for rows.Next() {
		p := &models.FraudPattern{}
		if err := rows.Scan(&p.Type, &p.Description, &p.Severity, &p.DetectedCount, &p.LastDetected, &p.IsActive); err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}
