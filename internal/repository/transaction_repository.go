// internal/repository/transaction_repository.go
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

// TransactionRepository is the PostgreSQL implementation of
// service.TransactionStore. Nested documents (fraud snapshot,
// verification, timeline, ...) are stored as JSONB.
type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// row bundles the JSONB documents of one transaction for scanning.
type txDocuments struct {
	fraud        []byte
	verification []byte
	anchor       []byte
	payment      []byte
	receipt      []byte
	refund       []byte
	tracking     []byte
	timeline     []byte
}

func marshalDocuments(tx *models.Transaction) (*txDocuments, error) {
	docs := &txDocuments{}
	var err error

	if docs.fraud, err = json.Marshal(tx.FraudCheck); err != nil {
		return nil, fmt.Errorf("marshal fraud snapshot: %w", err)
	}
	if docs.verification, err = json.Marshal(tx.Verification); err != nil {
		return nil, fmt.Errorf("marshal verification: %w", err)
	}
	if docs.tracking, err = json.Marshal(tx.Tracking); err != nil {
		return nil, fmt.Errorf("marshal tracking: %w", err)
	}
	if docs.timeline, err = json.Marshal(tx.Timeline); err != nil {
		return nil, fmt.Errorf("marshal timeline: %w", err)
	}
	if tx.Anchor != nil {
		if docs.anchor, err = json.Marshal(tx.Anchor); err != nil {
			return nil, fmt.Errorf("marshal anchor: %w", err)
		}
	}
	if tx.PaymentDetails != nil {
		if docs.payment, err = json.Marshal(tx.PaymentDetails); err != nil {
			return nil, fmt.Errorf("marshal payment details: %w", err)
		}
	}
	if tx.Receipt != nil {
		if docs.receipt, err = json.Marshal(tx.Receipt); err != nil {
			return nil, fmt.Errorf("marshal receipt: %w", err)
		}
	}
	if tx.Refund != nil {
		if docs.refund, err = json.Marshal(tx.Refund); err != nil {
			return nil, fmt.Errorf("marshal refund: %w", err)
		}
	}
	return docs, nil
}

func (r *TransactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	docs, err := marshalDocuments(tx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO secure_transactions (
			transaction_id, donor_id, campaign_id, amount, currency,
			payment_method, status, fraud_score, risk_level, fraud_detail,
			verification, anchor, payment_details, receipt, refund,
			tracking, timeline, is_anonymous, message, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`

	_, err = r.db.ExecContext(ctx, query,
		tx.TransactionID,
		tx.DonorID,
		tx.CampaignID,
		tx.Amount,
		tx.Currency,
		tx.PaymentMethod,
		tx.Status,
		tx.FraudCheck.Score,
		tx.FraudCheck.RiskLevel,
		docs.fraud,
		docs.verification,
		nullableJSON(docs.anchor),
		nullableJSON(docs.payment),
		nullableJSON(docs.receipt),
		nullableJSON(docs.refund),
		docs.tracking,
		docs.timeline,
		tx.IsAnonymous,
		tx.Message,
		tx.CreatedAt,
		tx.UpdatedAt,
	)
	return err
}

func (r *TransactionRepository) Update(ctx context.Context, tx *models.Transaction) error {
	docs, err := marshalDocuments(tx)
	if err != nil {
		return err
	}

	query := `
		UPDATE secure_transactions
		SET status = $1, fraud_detail = $2, verification = $3, anchor = $4,
		    payment_details = $5, receipt = $6, refund = $7, timeline = $8,
		    updated_at = $9
		WHERE transaction_id = $10
	`

	result, err := r.db.ExecContext(ctx, query,
		tx.Status,
		docs.fraud,
		docs.verification,
		nullableJSON(docs.anchor),
		nullableJSON(docs.payment),
		nullableJSON(docs.receipt),
		nullableJSON(docs.refund),
		docs.timeline,
		tx.UpdatedAt,
		tx.TransactionID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return service.ErrTransactionNotFound
	}
	return nil
}

const txColumns = `
	transaction_id, donor_id, campaign_id, amount, currency,
	payment_method, status, fraud_detail, verification, anchor,
	payment_details, receipt, refund, tracking, timeline,
	is_anonymous, message, created_at, updated_at
`

func (r *TransactionRepository) Get(ctx context.Context, transactionID string) (*models.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM secure_transactions WHERE transaction_id = $1`
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, transactionID))
	if err == sql.ErrNoRows {
		return nil, service.ErrTransactionNotFound
	}
	return tx, err
}

func (r *TransactionRepository) ListByDonor(ctx context.Context, donorID string, limit int) ([]*models.Transaction, error) {
	query := `
		SELECT ` + txColumns + `
		FROM secure_transactions
		WHERE donor_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, donorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (r *TransactionRepository) CountByDonorSince(ctx context.Context, donorID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM secure_transactions
		WHERE donor_id = $1 AND created_at >= $2
	`
	var count int
	err := r.db.QueryRowContext(ctx, query, donorID, since).Scan(&count)
	return count, err
}

func (r *TransactionRepository) CountByDonorStatusSince(ctx context.Context, donorID string, status models.TransactionStatus, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM secure_transactions
		WHERE donor_id = $1 AND status = $2 AND created_at >= $3
	`
	var count int
	err := r.db.QueryRowContext(ctx, query, donorID, status, since).Scan(&count)
	return count, err
}

func (r *TransactionRepository) ListByDonorStatus(ctx context.Context, donorID string, statuses ...models.TransactionStatus) ([]*models.Transaction, error) {
	query := `
		SELECT ` + txColumns + `
		FROM secure_transactions
		WHERE donor_id = $1 AND status = ANY($2)
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, donorID, pq.Array(statusStrings(statuses)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (r *TransactionRepository) ListFlagged(ctx context.Context, statuses []models.TransactionStatus, levels []models.RiskLevel) ([]*models.Transaction, error) {
	query := `
		SELECT ` + txColumns + `
		FROM secure_transactions
		WHERE status = ANY($1) AND risk_level = ANY($2)
		ORDER BY created_at DESC
	`
	levelStrings := make([]string, len(levels))
	for i, l := range levels {
		levelStrings[i] = string(l)
	}
	rows, err := r.db.QueryContext(ctx, query, pq.Array(statusStrings(statuses)), pq.Array(levelStrings))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func statusStrings(statuses []models.TransactionStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	tx := &models.Transaction{}
	var fraud, verification, tracking, timeline []byte
	var anchor, payment, receipt, refund []byte

	err := row.Scan(
		&tx.TransactionID,
		&tx.DonorID,
		&tx.CampaignID,
		&tx.Amount,
		&tx.Currency,
		&tx.PaymentMethod,
		&tx.Status,
		&fraud,
		&verification,
		&anchor,
		&payment,
		&receipt,
		&refund,
		&tracking,
		&timeline,
		&tx.IsAnonymous,
		&tx.Message,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(fraud, &tx.FraudCheck); err != nil {
		return nil, fmt.Errorf("unmarshal fraud snapshot: %w", err)
	}
	if err := json.Unmarshal(verification, &tx.Verification); err != nil {
		return nil, fmt.Errorf("unmarshal verification: %w", err)
	}
	if err := json.Unmarshal(tracking, &tx.Tracking); err != nil {
		return nil, fmt.Errorf("unmarshal tracking: %w", err)
	}
	if err := json.Unmarshal(timeline, &tx.Timeline); err != nil {
		return nil, fmt.Errorf("unmarshal timeline: %w", err)
	}
	if len(anchor) > 0 {
		tx.Anchor = &models.AnchorRecord{}
		if err := json.Unmarshal(anchor, tx.Anchor); err != nil {
			return nil, fmt.Errorf("unmarshal anchor: %w", err)
		}
	}
	if len(payment) > 0 {
		tx.PaymentDetails = &models.PaymentDetails{}
		if err := json.Unmarshal(payment, tx.PaymentDetails); err != nil {
			return nil, fmt.Errorf("unmarshal payment details: %w", err)
		}
	}
	if len(receipt) > 0 {
		tx.Receipt = &models.Receipt{}
		if err := json.Unmarshal(receipt, tx.Receipt); err != nil {
			return nil, fmt.Errorf("unmarshal receipt: %w", err)
		}
	}
	if len(refund) > 0 {
		tx.Refund = &models.Refund{}
		if err := json.Unmarshal(refund, tx.Refund); err != nil {
			return nil, fmt.Errorf("unmarshal refund: %w", err)
		}
	}

	return tx, nil
}

func scanTransactions(rows *sql.Rows) ([]*models.Transaction, error) {
	var result []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

// nullableJSON maps empty documents to SQL NULL.
func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
