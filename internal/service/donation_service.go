// internal/service/donation_service.go
// Transaction state machine for secure donations:
//
//	initiated -> {flagged | pending | processing} -> verified -> completed
//
// failed is reachable from processing (payment failure) or from pending
// (admin rejection); refunded only from completed via the refund
// sub-record. Transitions for a single transaction are serialized with a
// per-transaction lock so verification and payment never interleave.
package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"donation-guard/internal/models"
)

var (
	paymentsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "donationguard",
		Subsystem: "payments",
		Name:      "processed_total",
		Help:      "Payment outcomes by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(paymentsProcessed)
}

const (
	smsCodeTTL    = 10 * time.Minute
	emailTokenTTL = 30 * time.Minute

	methodTwoFactor = "2fa"
	methodSMS       = "sms"
	methodEmail     = "email"
)

// DonationService owns the donation lifecycle from initiation to terminal
// state.
type DonationService struct {
	transactions TransactionStore
	donors       DonorStore
	campaigns    CampaignStore
	patterns     PatternStore
	codes        CodeStore
	engine       *FraudEngine
	gateway      PaymentGateway
	anchor       AnchorLedger
	notifier     Notifier
	emitter      EventEmitter
	logger       *zap.Logger

	minAmount     float64
	anchorTimeout time.Duration

	locks sync.Map // per-transaction ID locks
	now   func() time.Time
}

// NewDonationService wires the state machine to its stores and boundaries.
func NewDonationService(
	transactions TransactionStore,
	donors DonorStore,
	campaigns CampaignStore,
	patterns PatternStore,
	codes CodeStore,
	engine *FraudEngine,
	gateway PaymentGateway,
	logger *zap.Logger,
) *DonationService {
	return &DonationService{
		transactions:  transactions,
		donors:        donors,
		campaigns:     campaigns,
		patterns:      patterns,
		codes:         codes,
		engine:        engine,
		gateway:       gateway,
		notifier:      LogNotifier{Logger: logger},
		emitter:       NopEmitter{},
		logger:        logger,
		minAmount:     1,
		anchorTimeout: 10 * time.Second,
		now:           time.Now,
	}
}

// WithAnchor enables best-effort ledger anchoring of completed donations.
func (s *DonationService) WithAnchor(a AnchorLedger, timeout time.Duration) *DonationService {
	s.anchor = a
	if timeout > 0 {
		s.anchorTimeout = timeout
	}
	return s
}

// WithNotifier substitutes the verification-secret delivery channel.
func (s *DonationService) WithNotifier(n Notifier) *DonationService {
	s.notifier = n
	return s
}

// WithEmitter attaches the real-time event emitter.
func (s *DonationService) WithEmitter(e EventEmitter) *DonationService {
	s.emitter = e
	return s
}

// WithMinAmount overrides the minimum donation amount.
func (s *DonationService) WithMinAmount(min float64) *DonationService {
	s.minAmount = min
	return s
}

// WithClock overrides the time source, for tests.
func (s *DonationService) WithClock(now func() time.Time) *DonationService {
	s.now = now
	return s
}

// txLock returns the mutex for the given transaction ID. It prevents
// concurrent state transitions (e.g. verify and process racing).
func (s *DonationService) txLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// InitiateRequest is the inbound donation request.
type InitiateRequest struct {
	CampaignID    string  `json:"campaign_id" binding:"required"`
	Amount        float64 `json:"amount" binding:"required"`
	Currency      string  `json:"currency"`
	PaymentMethod string  `json:"payment_method" binding:"required"`
	Message       string  `json:"message"`
	IsAnonymous   bool    `json:"is_anonymous"`
}

// InitiateResponse reports the fraud decision for a new donation.
type InitiateResponse struct {
	Success              bool                     `json:"success"`
	Message              string                   `json:"message"`
	TransactionID        string                   `json:"transaction_id"`
	Status               models.TransactionStatus `json:"status"`
	FraudScore           int                      `json:"fraud_score"`
	RiskLevel            models.RiskLevel         `json:"risk_level"`
	NextStep             string                   `json:"next_step,omitempty"`
	RequiresReview       bool                     `json:"requires_review,omitempty"`
	RequiresVerification bool                     `json:"requires_verification,omitempty"`
	VerificationMethods  []string                 `json:"verification_methods,omitempty"`
	EstimatedReviewTime  string                   `json:"estimated_review_time,omitempty"`
}

// Initiate validates, scores and creates a donation transaction, setting
// its initial state from the decision policy.
func (s *DonationService) Initiate(ctx context.Context, req InitiateRequest, user UserContext) (*InitiateResponse, error) {
	// Validation errors reject before any scoring or transaction exists.
	if req.Amount < s.minAmount {
		return nil, fmt.Errorf("%w: minimum is %.2f", ErrInvalidAmount, s.minAmount)
	}
	if req.CampaignID == "" || req.PaymentMethod == "" {
		return nil, fmt.Errorf("%w: campaign and payment method are required", ErrInvalidAmount)
	}

	donor, donorErr := s.donors.Get(ctx, user.DonorID)
	if donorErr == nil && donor.Restrictions.MaxDonationAmount > 0 && req.Amount > donor.Restrictions.MaxDonationAmount {
		return nil, fmt.Errorf("%w: amount exceeds donor cap %.2f", ErrInvalidAmount, donor.Restrictions.MaxDonationAmount)
	}

	analysis, err := s.engine.Analyze(ctx, DonationRequest{
		Amount:        req.Amount,
		CampaignID:    req.CampaignID,
		PaymentMethod: req.PaymentMethod,
	}, user)
	if err != nil {
		return nil, fmt.Errorf("fraud analysis failed: %w", err)
	}

	// A restricted donor is always routed through manual review, unless the
	// score already blocks outright.
	rec := analysis.Recommendation
	if donorErr == nil && donor.Restrictions.RequiresManualReview && rec.Action != models.ActionBlock {
		rec = Recommendation{
			Action:         models.ActionReview,
			Message:        "Transaction requires manual review",
			RequiresReview: true,
		}
	}

	now := s.now()
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = "USD"
	}

	tx := &models.Transaction{
		TransactionID: uuid.New().String(),
		DonorID:       user.DonorID,
		CampaignID:    req.CampaignID,
		Amount:        req.Amount,
		Currency:      currency,
		PaymentMethod: req.PaymentMethod,
		FraudCheck: models.FraudCheck{
			Score:     analysis.Score,
			RiskLevel: analysis.RiskLevel,
			Flags:     analysis.Flags,
			Checks:    analysis.Checks,
			AI:        analysis.AI,
		},
		Tracking: models.Tracking{
			IPAddress: user.IPAddress,
			UserAgent: user.UserAgent,
			DeviceID:  user.DeviceID,
		},
		Timeline: []models.TimelineEntry{{
			Status:    string(models.StatusInitiated),
			Timestamp: now,
			Note:      "Donation initiated",
		}},
		IsAnonymous: req.IsAnonymous,
		Message:     req.Message,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	resp := &InitiateResponse{
		TransactionID: tx.TransactionID,
		FraudScore:    analysis.Score,
		RiskLevel:     analysis.RiskLevel,
	}

	switch rec.Action {
	case models.ActionBlock:
		tx.Status = models.StatusFlagged
		resp.Message = "Transaction blocked for security reasons"
		resp.RequiresReview = true

	case models.ActionReview:
		tx.Status = models.StatusPending
		resp.Message = "Transaction requires manual review"
		resp.RequiresReview = true
		resp.EstimatedReviewTime = "24 hours"

	case models.ActionVerify:
		tx.Status = models.StatusPending
		tx.Verification.TwoFactor.Required = true
		tx.Verification.Email.Required = true
		resp.Success = true
		resp.Message = "Additional verification required"
		resp.RequiresVerification = true
		resp.VerificationMethods = rec.RequiredVerifications
		resp.NextStep = "verify"

	default: // approve
		tx.Status = models.StatusProcessing
		resp.Success = true
		resp.Message = "Donation initiated successfully"
		resp.NextStep = "payment"
	}
	resp.Status = tx.Status

	if err := s.transactions.Create(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to save transaction: %w", err)
	}

	s.recordPatterns(ctx, analysis.Flags)

	if rec.Action == models.ActionVerify {
		if err := s.issueVerificationSecrets(ctx, tx, user); err != nil {
			s.logger.Error("failed to issue verification secrets",
				zap.Error(err), zap.String("transaction_id", tx.TransactionID))
		}
	}

	return resp, nil
}

// issueVerificationSecrets generates, hashes and stores the step-up
// secrets and hands the plaintexts to the notification channel.
func (s *DonationService) issueVerificationSecrets(ctx context.Context, tx *models.Transaction, user UserContext) error {
	now := s.now()

	code, err := sixDigitCode()
	if err != nil {
		return err
	}
	if err := s.codes.Save(ctx, tx.TransactionID, methodSMS, hashSecret(code), now.Add(smsCodeTTL)); err != nil {
		return fmt.Errorf("failed to store sms code: %w", err)
	}

	token := randomHex(32)
	if err := s.codes.Save(ctx, tx.TransactionID, methodEmail, hashSecret(token), now.Add(emailTokenTTL)); err != nil {
		return fmt.Errorf("failed to store email token: %w", err)
	}

	// Delivery is best-effort; the secrets remain valid either way.
	if err := s.notifier.SendSMSCode(ctx, user.Phone, code); err != nil {
		s.logger.Warn("sms delivery failed", zap.Error(err), zap.String("transaction_id", tx.TransactionID))
	}
	if err := s.notifier.SendEmailToken(ctx, user.Email, token); err != nil {
		s.logger.Warn("email delivery failed", zap.Error(err), zap.String("transaction_id", tx.TransactionID))
	}

	return nil
}

// VerifyResponse reports step-up verification progress.
type VerifyResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	AllVerified bool   `json:"all_verified"`
	NextStep    string `json:"next_step"`
}

// Verify checks a submitted code for the named method. A wrong or expired
// code is recoverable: the caller may retry and the transaction status is
// untouched. When all required channels are satisfied the transaction
// moves to processing.
func (s *DonationService) Verify(ctx context.Context, transactionID, code, method string, user UserContext) (*VerifyResponse, error) {
	mu := s.txLock(transactionID)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.getScoped(ctx, transactionID, user)
	if err != nil {
		return nil, err
	}

	if tx.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: transaction is %s", ErrInvalidStatus, tx.Status)
	}

	// 2fa is delivered over SMS; both names check the same stored secret.
	storeMethod := method
	if method == methodTwoFactor {
		storeMethod = methodSMS
	}

	hash, expiresAt, err := s.codes.Get(ctx, transactionID, storeMethod)
	if err != nil {
		return nil, ErrInvalidCode
	}
	if s.now().After(expiresAt) {
		return nil, ErrInvalidCode
	}
	if subtle.ConstantTimeCompare([]byte(hash), []byte(hashSecret(code))) != 1 {
		return nil, ErrInvalidCode
	}

	completedAt := s.now()
	switch method {
	case methodTwoFactor:
		tx.Verification.TwoFactor.Completed = true
		tx.Verification.TwoFactor.CompletedAt = &completedAt
	case methodSMS:
		tx.Verification.SMS.Completed = true
		tx.Verification.SMS.CompletedAt = &completedAt
		tx.Verification.TwoFactor.Completed = true
		tx.Verification.TwoFactor.CompletedAt = &completedAt
	case methodEmail:
		tx.Verification.Email.Completed = true
		tx.Verification.Email.CompletedAt = &completedAt
	default:
		return nil, ErrInvalidCode
	}

	_ = s.codes.Delete(ctx, transactionID, storeMethod)

	allVerified := tx.Verification.AllSatisfied()
	if allVerified {
		tx.Status = models.StatusProcessing
		tx.Timeline = append(tx.Timeline, models.TimelineEntry{
			Status:    string(models.StatusVerified),
			Timestamp: completedAt,
			Note:      "All verifications completed",
		})
	}
	tx.UpdatedAt = completedAt

	if err := s.transactions.Update(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to save transaction: %w", err)
	}

	nextStep := "verify-remaining"
	if allVerified {
		nextStep = "payment"
	}
	return &VerifyResponse{
		Success:     true,
		Message:     "Verification successful",
		AllVerified: allVerified,
		NextStep:    nextStep,
	}, nil
}

// PaymentResponse reports the outcome of payment processing.
type PaymentResponse struct {
	Success       bool                 `json:"success"`
	Message       string               `json:"message"`
	TransactionID string               `json:"transaction_id"`
	ReceiptURL    string               `json:"receipt_url,omitempty"`
	Anchor        *models.AnchorRecord `json:"anchor,omitempty"`
	Error         string               `json:"error,omitempty"`
}

// ProcessPayment charges the gateway for a transaction in processing
// state. Gateway failure is terminal for this transaction: the failure is
// recorded and a new transaction must be initiated.
func (s *DonationService) ProcessPayment(ctx context.Context, transactionID string, details PaymentInput, user UserContext) (*PaymentResponse, error) {
	mu := s.txLock(transactionID)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.getScoped(ctx, transactionID, user)
	if err != nil {
		return nil, err
	}

	if tx.Status != models.StatusProcessing {
		return nil, fmt.Errorf("%w: transaction is %s, not ready for payment", ErrInvalidStatus, tx.Status)
	}

	now := s.now()
	providerID, chargeErr := s.gateway.Charge(ctx, tx, details)
	if chargeErr != nil {
		tx.Status = models.StatusFailed
		tx.Timeline = append(tx.Timeline, models.TimelineEntry{
			Status:    "payment-failed",
			Timestamp: now,
			Note:      chargeErr.Error(),
		})
		tx.UpdatedAt = now
		if err := s.transactions.Update(ctx, tx); err != nil {
			return nil, fmt.Errorf("failed to save transaction: %w", err)
		}
		paymentsProcessed.WithLabelValues("failed").Inc()
		s.afterTerminal(ctx, tx.DonorID)

		return &PaymentResponse{
			Success:       false,
			Message:       "Payment failed",
			TransactionID: tx.TransactionID,
			Error:         chargeErr.Error(),
		}, nil
	}

	tx.Status = models.StatusVerified
	tx.PaymentDetails = &models.PaymentDetails{
		Last4:    details.Last4,
		CardType: details.CardType,
	}
	tx.Timeline = append(tx.Timeline, models.TimelineEntry{
		Status:    "payment-processed",
		Timestamp: now,
		Note:      fmt.Sprintf("Payment processed successfully (provider tx %s)", providerID),
	})

	// Anchoring is best-effort: failure is a timeline note, never an error.
	if s.anchor != nil {
		anchorCtx, cancel := context.WithTimeout(ctx, s.anchorTimeout)
		record, anchorErr := s.anchor.Record(anchorCtx, tx)
		cancel()
		if anchorErr != nil {
			s.logger.Warn("ledger anchoring failed", zap.Error(anchorErr), zap.String("transaction_id", tx.TransactionID))
			tx.Timeline = append(tx.Timeline, models.TimelineEntry{
				Status:    "anchor-failed",
				Timestamp: s.now(),
				Note:      anchorErr.Error(),
			})
		} else {
			tx.Anchor = record
		}
	}

	tx.Receipt = s.generateReceipt()
	tx.Status = models.StatusCompleted
	tx.UpdatedAt = s.now()

	if err := s.transactions.Update(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to save transaction: %w", err)
	}
	paymentsProcessed.WithLabelValues("completed").Inc()
	s.afterTerminal(ctx, tx.DonorID)

	s.emitter.DonationCompleted(tx.DonorID, CompletedEvent{
		TransactionID: tx.TransactionID,
		Amount:        tx.Amount,
		CampaignID:    tx.CampaignID,
	})

	return &PaymentResponse{
		Success:       true,
		Message:       "Donation completed successfully",
		TransactionID: tx.TransactionID,
		ReceiptURL:    tx.Receipt.URL,
		Anchor:        tx.Anchor,
	}, nil
}

// afterTerminal recomputes the donor's trust record once a transaction has
// reached a terminal state.
func (s *DonationService) afterTerminal(ctx context.Context, donorID string) {
	if _, err := s.UpdateDonorTrust(ctx, donorID); err != nil {
		s.logger.Error("trust recompute failed", zap.Error(err), zap.String("donor_id", donorID))
	}
}

// GetTransaction returns a transaction visible to the caller: its own
// donor, or an admin.
func (s *DonationService) GetTransaction(ctx context.Context, transactionID string, user UserContext) (*models.Transaction, error) {
	return s.getScoped(ctx, transactionID, user)
}

func (s *DonationService) getScoped(ctx context.Context, transactionID string, user UserContext) (*models.Transaction, error) {
	tx, err := s.transactions.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.DonorID != user.DonorID && !user.IsAdmin {
		// Transactions are only visible to their own donor or admins.
		return nil, ErrTransactionNotFound
	}
	return tx, nil
}

// HistoryResponse is the donor's donation history with their trust record.
type HistoryResponse struct {
	Transactions      []*models.Transaction    `json:"transactions"`
	TrustScore        int                      `json:"trust_score"`
	VerificationLevel models.VerificationLevel `json:"verification_level"`
	TotalDonations    int                      `json:"total_donations"`
	TotalAmount       float64                  `json:"total_amount"`
}

// History returns the donor's recent transactions and verification summary.
func (s *DonationService) History(ctx context.Context, donorID string) (*HistoryResponse, error) {
	transactions, err := s.transactions.ListByDonor(ctx, donorID, 50)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	resp := &HistoryResponse{
		Transactions:      transactions,
		TrustScore:        models.DefaultTrustScore,
		VerificationLevel: models.LevelUnverified,
	}

	donor, err := s.donors.Get(ctx, donorID)
	if err == nil {
		resp.TrustScore = donor.TrustScore
		resp.VerificationLevel = donor.VerificationLevel
		resp.TotalDonations = donor.History.TotalDonations
		resp.TotalAmount = donor.History.TotalAmount
	}

	return resp, nil
}

// ListFlagged returns high-risk transactions awaiting review. Admin only.
func (s *DonationService) ListFlagged(ctx context.Context, user UserContext) ([]*models.Transaction, error) {
	if !user.IsAdmin {
		return nil, ErrPermissionDenied
	}
	return s.transactions.ListFlagged(ctx,
		[]models.TransactionStatus{models.StatusFlagged, models.StatusPending},
		[]models.RiskLevel{models.RiskLevelHigh, models.RiskLevelCritical})
}

// ListPatterns returns the aggregate fraud pattern counters. Admin only.
func (s *DonationService) ListPatterns(ctx context.Context, user UserContext) ([]*models.FraudPattern, error) {
	if !user.IsAdmin {
		return nil, ErrPermissionDenied
	}
	return s.patterns.List(ctx)
}

// ReviewResponse reports the outcome of an admin review.
type ReviewResponse struct {
	Message   string                   `json:"message"`
	NewStatus models.TransactionStatus `json:"new_status"`
}

// AdminReview approves or rejects a transaction parked for review. Only
// admins may call it; non-admins are rejected with no side effects.
func (s *DonationService) AdminReview(ctx context.Context, transactionID, action, notes string, user UserContext) (*ReviewResponse, error) {
	if !user.IsAdmin {
		return nil, ErrPermissionDenied
	}
	if action != "approve" && action != "reject" {
		return nil, fmt.Errorf("%w: action must be approve or reject", ErrInvalidStatus)
	}

	mu := s.txLock(transactionID)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.transactions.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if tx.Status != models.StatusPending && tx.Status != models.StatusFlagged {
		return nil, fmt.Errorf("%w: transaction is %s", ErrInvalidStatus, tx.Status)
	}

	now := s.now()
	tx.FraudCheck.ReviewedBy = user.DonorID
	tx.FraudCheck.ReviewedAt = &now
	tx.FraudCheck.ReviewNotes = notes

	if action == "approve" {
		tx.Status = models.StatusProcessing
		tx.Timeline = append(tx.Timeline, models.TimelineEntry{
			Status:    "approved",
			Timestamp: now,
			Note:      fmt.Sprintf("Approved by admin: %s", notes),
			UpdatedBy: user.DonorID,
		})
	} else {
		tx.Status = models.StatusFailed
		tx.Timeline = append(tx.Timeline, models.TimelineEntry{
			Status:    "rejected",
			Timestamp: now,
			Note:      fmt.Sprintf("Rejected by admin: %s", notes),
			UpdatedBy: user.DonorID,
		})
	}
	tx.UpdatedAt = now

	if err := s.transactions.Update(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to save transaction: %w", err)
	}

	if tx.Status == models.StatusFailed {
		s.afterTerminal(ctx, tx.DonorID)
	}

	return &ReviewResponse{
		Message:   fmt.Sprintf("Transaction %sd successfully", action),
		NewStatus: tx.Status,
	}, nil
}

// SubmitCampaignVerification files or updates org-level trust metadata for
// a campaign and queues it for review.
func (s *DonationService) SubmitCampaignVerification(ctx context.Context, campaignID string, submission models.CampaignVerification) (*models.CampaignVerification, error) {
	existing, err := s.campaigns.Get(ctx, campaignID)
	now := s.now()
	if err != nil {
		existing = &models.CampaignVerification{
			CampaignID: campaignID,
			Status:     models.CampaignUnderReview,
			CreatedAt:  now,
		}
	}

	if len(submission.Documents) > 0 {
		existing.Documents = submission.Documents
	}
	if submission.Organization != (models.OrganizationDetails{}) {
		existing.Organization = submission.Organization
	}
	if submission.Bank != (models.BankDetails{}) {
		existing.Bank = submission.Bank
	}
	existing.Status = models.CampaignUnderReview
	existing.UpdatedAt = now

	if err := s.campaigns.Upsert(ctx, existing); err != nil {
		return nil, fmt.Errorf("failed to save campaign verification: %w", err)
	}
	return existing, nil
}

// GetCampaignVerification returns the verification record for a campaign.
func (s *DonationService) GetCampaignVerification(ctx context.Context, campaignID string) (*models.CampaignVerification, error) {
	return s.campaigns.Get(ctx, campaignID)
}

// recordPatterns bumps the aggregate counters for every raised flag,
// best-effort.
func (s *DonationService) recordPatterns(ctx context.Context, flags []models.Flag) {
	for _, f := range flags {
		if err := s.patterns.Record(ctx, f.Type, f.Severity, f.Timestamp); err != nil {
			s.logger.Warn("pattern record failed", zap.Error(err), zap.String("type", f.Type))
		}
	}
}

func (s *DonationService) generateReceipt() *models.Receipt {
	now := s.now()
	number := fmt.Sprintf("RCP-%d-%s", now.UnixMilli(), strings.ToUpper(randomHex(4)))
	return &models.Receipt{
		Number:      number,
		URL:         fmt.Sprintf("/receipts/%s.pdf", number),
		GeneratedAt: now,
	}
}

// hashSecret applies the one-way digest used for all verification secrets.
func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// sixDigitCode generates a random 6-digit SMS-style code.
func sixDigitCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
