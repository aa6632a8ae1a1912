// internal/models/campaign.go
package models

import "time"

type CampaignStatus string

const (
	CampaignPending     CampaignStatus = "pending"
	CampaignUnderReview CampaignStatus = "under-review"
	CampaignVerified    CampaignStatus = "verified"
	CampaignRejected    CampaignStatus = "rejected"
	CampaignSuspended   CampaignStatus = "suspended"
)

// CampaignVerification is org-level trust metadata for a fundraising
// campaign. The fraud engine consumes it; campaign CRUD lives elsewhere.
type CampaignVerification struct {
	CampaignID string         `json:"campaign_id" db:"campaign_id"`
	Status     CampaignStatus `json:"status" db:"status"`
	VerifiedBy string         `json:"verified_by,omitempty" db:"verified_by"`
	VerifiedAt *time.Time     `json:"verified_at,omitempty" db:"verified_at"`

	Documents    []CampaignDocument  `json:"documents,omitempty"`
	Organization OrganizationDetails `json:"organization"`
	Bank         BankDetails         `json:"bank"`
	Compliance   ComplianceFlags     `json:"compliance"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type CampaignDocument struct {
	Type       string    `json:"type"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"uploaded_at"`
	Verified   bool      `json:"verified"`
}

type OrganizationDetails struct {
	Name               string `json:"name,omitempty"`
	RegistrationNumber string `json:"registration_number,omitempty"`
	TaxID              string `json:"tax_id,omitempty"`
	ContactEmail       string `json:"contact_email,omitempty"`
	Website            string `json:"website,omitempty"`
}

type BankDetails struct {
	AccountName string `json:"account_name,omitempty"`
	BankName    string `json:"bank_name,omitempty"`
	Verified    bool   `json:"verified"`
}

type ComplianceFlags struct {
	TaxExemptStatus   bool `json:"tax_exempt_status"`
	RegisteredCharity bool `json:"registered_charity"`
	AuditedFinancials bool `json:"audited_financials"`
}

const CampaignSchema = `
CREATE TABLE IF NOT EXISTS campaign_verifications (
    campaign_id VARCHAR(64) PRIMARY KEY,
    status VARCHAR(15) NOT NULL,
    verified_by VARCHAR(64),
    verified_at TIMESTAMP,
    documents JSONB,
    organization JSONB NOT NULL,
    bank JSONB NOT NULL,
    compliance JSONB NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP NOT NULL DEFAULT NOW()
);
`
