// internal/service/ai_client.go
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"donation-guard/internal/models"
)

// AIScorer is the optional external fraud prediction model.
type AIScorer interface {
	Predict(ctx context.Context, features models.FeatureVector) (confidence float64, prediction string, err error)
}

// HTTPScorer calls a remote model server over HTTP with a bounded timeout.
// Failures are returned to the engine, which falls back to the rule-based
// score; the scorer never blocks a donation indefinitely.
type HTTPScorer struct {
	baseURL string
	client  *http.Client
}

// NewHTTPScorer creates a scorer client for the given base URL.
func NewHTTPScorer(baseURL string, timeout time.Duration) *HTTPScorer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPScorer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type predictRequest struct {
	Features models.FeatureVector `json:"features"`
}

type predictResponse struct {
	Confidence float64 `json:"confidence"`
	Prediction string  `json:"prediction"`
}

// Predict posts the feature vector to the model server.
func (s *HTTPScorer) Predict(ctx context.Context, features models.FeatureVector) (float64, string, error) {
	body, err := json.Marshal(predictRequest{Features: features})
	if err != nil {
		return 0, "", fmt.Errorf("failed to encode features: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/predict-fraud", bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("model server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, "", fmt.Errorf("model server returned status %d", resp.StatusCode)
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, "", fmt.Errorf("failed to decode prediction: %w", err)
	}

	return out.Confidence, out.Prediction, nil
}
