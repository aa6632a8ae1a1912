// internal/service/memory_store.go
// In-memory store implementations for demo/development mode and tests.
package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"donation-guard/internal/models"
)

// MemoryTransactionStore is an in-memory TransactionStore.
type MemoryTransactionStore struct {
	mu           sync.RWMutex
	transactions map[string]*models.Transaction
}

// NewMemoryTransactionStore creates an empty in-memory transaction store.
func NewMemoryTransactionStore() *MemoryTransactionStore {
	return &MemoryTransactionStore{transactions: make(map[string]*models.Transaction)}
}

func (m *MemoryTransactionStore) Create(_ context.Context, tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[tx.TransactionID] = copyTransaction(tx)
	return nil
}

func (m *MemoryTransactionStore) Get(_ context.Context, transactionID string) (*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.transactions[transactionID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return copyTransaction(tx), nil
}

func (m *MemoryTransactionStore) Update(_ context.Context, tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transactions[tx.TransactionID]; !ok {
		return ErrTransactionNotFound
	}
	m.transactions[tx.TransactionID] = copyTransaction(tx)
	return nil
}

func (m *MemoryTransactionStore) ListByDonor(_ context.Context, donorID string, limit int) ([]*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*models.Transaction
	for _, tx := range m.transactions {
		if tx.DonorID == donorID {
			result = append(result, copyTransaction(tx))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryTransactionStore) CountByDonorSince(_ context.Context, donorID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, tx := range m.transactions {
		if tx.DonorID == donorID && !tx.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryTransactionStore) CountByDonorStatusSince(_ context.Context, donorID string, status models.TransactionStatus, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, tx := range m.transactions {
		if tx.DonorID == donorID && tx.Status == status && !tx.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryTransactionStore) ListByDonorStatus(_ context.Context, donorID string, statuses ...models.TransactionStatus) ([]*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*models.Transaction
	for _, tx := range m.transactions {
		if tx.DonorID != donorID {
			continue
		}
		for _, status := range statuses {
			if tx.Status == status {
				result = append(result, copyTransaction(tx))
				break
			}
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryTransactionStore) ListFlagged(_ context.Context, statuses []models.TransactionStatus, levels []models.RiskLevel) ([]*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*models.Transaction
	for _, tx := range m.transactions {
		if !containsStatus(statuses, tx.Status) || !containsLevel(levels, tx.FraudCheck.RiskLevel) {
			continue
		}
		result = append(result, copyTransaction(tx))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func containsStatus(statuses []models.TransactionStatus, s models.TransactionStatus) bool {
	for _, status := range statuses {
		if status == s {
			return true
		}
	}
	return false
}

func containsLevel(levels []models.RiskLevel, l models.RiskLevel) bool {
	for _, level := range levels {
		if level == l {
			return true
		}
	}
	return false
}

// copyTransaction returns a deep copy so callers cannot mutate stored
// state through shared slices.
func copyTransaction(tx *models.Transaction) *models.Transaction {
	cp := *tx
	if tx.Timeline != nil {
		cp.Timeline = make([]models.TimelineEntry, len(tx.Timeline))
		copy(cp.Timeline, tx.Timeline)
	}
	if tx.FraudCheck.Flags != nil {
		cp.FraudCheck.Flags = make([]models.Flag, len(tx.FraudCheck.Flags))
		copy(cp.FraudCheck.Flags, tx.FraudCheck.Flags)
	}
	if tx.Anchor != nil {
		anchor := *tx.Anchor
		cp.Anchor = &anchor
	}
	if tx.Receipt != nil {
		receipt := *tx.Receipt
		cp.Receipt = &receipt
	}
	if tx.PaymentDetails != nil {
		details := *tx.PaymentDetails
		cp.PaymentDetails = &details
	}
	if tx.Refund != nil {
		refund := *tx.Refund
		cp.Refund = &refund
	}
	return &cp
}

// MemoryDonorStore is an in-memory DonorStore.
type MemoryDonorStore struct {
	mu     sync.RWMutex
	donors map[string]*models.DonorVerification
}

// NewMemoryDonorStore creates an empty in-memory donor store.
func NewMemoryDonorStore() *MemoryDonorStore {
	return &MemoryDonorStore{donors: make(map[string]*models.DonorVerification)}
}

func (m *MemoryDonorStore) Get(_ context.Context, donorID string) (*models.DonorVerification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	donor, ok := m.donors[donorID]
	if !ok {
		return nil, ErrDonorNotFound
	}
	cp := *donor
	if donor.KnownDevices != nil {
		cp.KnownDevices = make([]string, len(donor.KnownDevices))
		copy(cp.KnownDevices, donor.KnownDevices)
	}
	return &cp, nil
}

func (m *MemoryDonorStore) Upsert(_ context.Context, v *models.DonorVerification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *v
	if v.KnownDevices != nil {
		cp.KnownDevices = make([]string, len(v.KnownDevices))
		copy(cp.KnownDevices, v.KnownDevices)
	}
	m.donors[v.DonorID] = &cp
	return nil
}

func (m *MemoryDonorStore) IsDeviceBlacklisted(_ context.Context, deviceID string) (bool, error) {
	if deviceID == "" {
		return false, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, donor := range m.donors {
		if !donor.Restrictions.IsBlacklisted {
			continue
		}
		for _, device := range donor.KnownDevices {
			if device == deviceID {
				return true, nil
			}
		}
	}
	return false, nil
}

// MemoryCampaignStore is an in-memory CampaignStore.
type MemoryCampaignStore struct {
	mu        sync.RWMutex
	campaigns map[string]*models.CampaignVerification
}

// NewMemoryCampaignStore creates an empty in-memory campaign store.
func NewMemoryCampaignStore() *MemoryCampaignStore {
	return &MemoryCampaignStore{campaigns: make(map[string]*models.CampaignVerification)}
}

func (m *MemoryCampaignStore) Get(_ context.Context, campaignID string) (*models.CampaignVerification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	campaign, ok := m.campaigns[campaignID]
	if !ok {
		return nil, ErrCampaignNotFound
	}
	cp := *campaign
	return &cp, nil
}

func (m *MemoryCampaignStore) Upsert(_ context.Context, v *models.CampaignVerification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *v
	m.campaigns[v.CampaignID] = &cp
	return nil
}

// MemoryPatternStore is an in-memory PatternStore.
type MemoryPatternStore struct {
	mu       sync.RWMutex
	patterns map[string]*models.FraudPattern
}

// NewMemoryPatternStore creates an empty in-memory pattern store.
func NewMemoryPatternStore() *MemoryPatternStore {
	return &MemoryPatternStore{patterns: make(map[string]*models.FraudPattern)}
}

func (m *MemoryPatternStore) Record(_ context.Context, patternType string, severity models.FlagSeverity, detectedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patterns[patternType]
	if !ok {
		p = &models.FraudPattern{
			Type:     patternType,
			Severity: severity,
			IsActive: true,
		}
		m.patterns[patternType] = p
	}
	p.DetectedCount++
	if detectedAt.After(p.LastDetected) {
		p.LastDetected = detectedAt
	}
	return nil
}

func (m *MemoryPatternStore) List(_ context.Context) ([]*models.FraudPattern, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*models.FraudPattern, 0, len(m.patterns))
	for _, p := range m.patterns {
		cp := *p
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DetectedCount > result[j].DetectedCount
	})
	return result, nil
}

// MemoryCodeStore is an in-memory CodeStore. It stores expiries verbatim
// and leaves enforcement to the caller; nothing sweeps stale entries.
type MemoryCodeStore struct {
	mu    sync.RWMutex
	codes map[string]storedCode
}

type storedCode struct {
	hash      string
	expiresAt time.Time
}

// NewMemoryCodeStore creates an empty in-memory code store.
func NewMemoryCodeStore() *MemoryCodeStore {
	return &MemoryCodeStore{codes: make(map[string]storedCode)}
}

func codeKey(transactionID, method string) string {
	return transactionID + ":" + method
}

func (m *MemoryCodeStore) Save(_ context.Context, transactionID, method, hash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[codeKey(transactionID, method)] = storedCode{hash: hash, expiresAt: expiresAt}
	return nil
}

func (m *MemoryCodeStore) Get(_ context.Context, transactionID, method string) (string, time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.codes[codeKey(transactionID, method)]
	if !ok {
		return "", time.Time{}, ErrCodeNotFound
	}
	return c.hash, c.expiresAt, nil
}

func (m *MemoryCodeStore) Delete(_ context.Context, transactionID, method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.codes, codeKey(transactionID, method))
	return nil
}
