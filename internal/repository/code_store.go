// internal/repository/code_store.go
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"donation-guard/internal/service"
	"donation-guard/pkg/redis"
)

// RedisCodeStore keeps hashed verification secrets in Redis, with the
// key TTL matching the secret's expiry.
type RedisCodeStore struct {
	client *redis.Client
}

func NewRedisCodeStore(client *redis.Client) *RedisCodeStore {
	return &RedisCodeStore{client: client}
}

type storedCode struct {
	Hash      string    `json:"hash"`
	ExpiresAt time.Time `json:"expires_at"`
}

func codeKey(transactionID, method string) string {
	return fmt.Sprintf("verification:%s:%s", transactionID, method)
}

func (s *RedisCodeStore) Save(ctx context.Context, transactionID, method, hash string, expiresAt time.Time) error {
	payload, err := json.Marshal(storedCode{Hash: hash, ExpiresAt: expiresAt})
	if err != nil {
		return err
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("expiry %s is in the past", expiresAt)
	}
	return s.client.Set(ctx, codeKey(transactionID, method), payload, ttl)
}

func (s *RedisCodeStore) Get(ctx context.Context, transactionID, method string) (string, time.Time, error) {
	raw, err := s.client.Get(ctx, codeKey(transactionID, method))
	if errors.Is(err, redis.ErrNotFound) {
		return "", time.Time{}, service.ErrCodeNotFound
	}
	if err != nil {
		return "", time.Time{}, err
	}
	var code storedCode
	if err := json.Unmarshal([]byte(raw), &code); err != nil {
		return "", time.Time{}, fmt.Errorf("unmarshal stored code: %w", err)
	}
	return code.Hash, code.ExpiresAt, nil
}

func (s *RedisCodeStore) Delete(ctx context.Context, transactionID, method string) error {
	return s.client.Delete(ctx, codeKey(transactionID, method))
}
