// internal/service/gateway.go
// External collaborator boundaries: payment gateway, anchor ledger,
// notification channel and the real-time event emitter.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"go.uber.org/zap"

	"donation-guard/internal/models"
)

// PaymentInput is the payment-method descriptor the caller submits when
// processing a transaction.
type PaymentInput struct {
	PaymentMethodID string `json:"payment_method_id"`
	Last4           string `json:"last4"`
	CardType        string `json:"card_type"`
	ReceiptEmail    string `json:"receipt_email,omitempty"`
}

// PaymentGateway charges a donation. A returned error means the payment
// failed; the transaction records the failure rather than propagating it.
type PaymentGateway interface {
	Charge(ctx context.Context, tx *models.Transaction, details PaymentInput) (providerTxID string, err error)
}

// StripeGateway processes payments through Stripe payment intents.
type StripeGateway struct{}

// NewStripeGateway configures the Stripe client and returns a gateway.
func NewStripeGateway(apiKey string) *StripeGateway {
	stripe.Key = apiKey
	return &StripeGateway{}
}

func (g *StripeGateway) Charge(ctx context.Context, tx *models.Transaction, details PaymentInput) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(int64(tx.Amount * 100)), // cents
		Currency:      stripe.String(tx.Currency),
		PaymentMethod: stripe.String(details.PaymentMethodID),
		Confirm:       stripe.Bool(true),
		Description:   stripe.String(fmt.Sprintf("Donation %s to campaign %s", tx.TransactionID, tx.CampaignID)),
	}
	params.Context = ctx
	if details.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(details.ReceiptEmail)
	}

	intent, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}

	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusProcessing:
		return intent.ID, nil
	default:
		return "", fmt.Errorf("payment intent in status %s", intent.Status)
	}
}

// SimulatedGateway approves every charge. Used in development mode where
// no Stripe key is configured.
type SimulatedGateway struct{}

func (SimulatedGateway) Charge(context.Context, *models.Transaction, PaymentInput) (string, error) {
	return randomHex(16), nil
}

// AnchorLedger records a completed transaction on an external distributed
// ledger, best-effort.
type AnchorLedger interface {
	Record(ctx context.Context, tx *models.Transaction) (*models.AnchorRecord, error)
}

// SimulatedAnchor stands in for a real ledger integration.
type SimulatedAnchor struct {
	Network string
}

func (a SimulatedAnchor) Record(_ context.Context, _ *models.Transaction) (*models.AnchorRecord, error) {
	network := a.Network
	if network == "" {
		network = "ethereum"
	}
	return &models.AnchorRecord{
		Network:       network,
		TxHash:        "0x" + randomHex(32),
		BlockNumber:   time.Now().UnixNano() % 1_000_000,
		Confirmations: 12,
		Timestamp:     time.Now(),
	}, nil
}

// Notifier delivers verification secrets. Actual SMS/email delivery is an
// external concern; the core only generates and hashes the secrets.
type Notifier interface {
	SendSMSCode(ctx context.Context, phone, code string) error
	SendEmailToken(ctx context.Context, email, token string) error
}

// LogNotifier logs instead of delivering, for development mode.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) SendSMSCode(_ context.Context, phone, code string) error {
	n.Logger.Info("sms code issued", zap.String("phone", phone), zap.String("code", code))
	return nil
}

func (n LogNotifier) SendEmailToken(_ context.Context, email, token string) error {
	n.Logger.Info("email token issued", zap.String("email", email), zap.String("token", token))
	return nil
}

// CompletedEvent is the payload of the donation-completed event.
type CompletedEvent struct {
	TransactionID string  `json:"transaction_id"`
	Amount        float64 `json:"amount"`
	CampaignID    string  `json:"campaign_id"`
}

// EventEmitter pushes real-time events to UI consumers. Fire-and-forget;
// no acknowledgment required.
type EventEmitter interface {
	DonationCompleted(donorID string, event CompletedEvent)
}

// NopEmitter discards events.
type NopEmitter struct{}

func (NopEmitter) DonationCompleted(string, CompletedEvent) {}

func randomHex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
