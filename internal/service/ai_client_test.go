// internal/service/ai_client_test.go
package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donation-guard/internal/models"
)

func TestHTTPScorerPredict(t *testing.T) {
	var gotPath string
	var gotFeatures models.FeatureVector

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var req predictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotFeatures = req.Features

		json.NewEncoder(w).Encode(predictResponse{Confidence: 0.87, Prediction: "fraud"})
	}))
	defer server.Close()

	scorer := NewHTTPScorer(server.URL, 2*time.Second)
	confidence, prediction, err := scorer.Predict(context.Background(), models.FeatureVector{
		Amount:          250,
		AccountAgeHours: 3,
	})
	require.NoError(t, err)

	assert.Equal(t, "/predict-fraud", gotPath)
	assert.Equal(t, float64(250), gotFeatures.Amount)
	assert.Equal(t, 0.87, confidence)
	assert.Equal(t, "fraud", prediction)
}

func TestHTTPScorerServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	scorer := NewHTTPScorer(server.URL, 2*time.Second)
	_, _, err := scorer.Predict(context.Background(), models.FeatureVector{})
	assert.Error(t, err)
}

func TestHTTPScorerUnreachable(t *testing.T) {
	scorer := NewHTTPScorer("http://127.0.0.1:1", 500*time.Millisecond)
	_, _, err := scorer.Predict(context.Background(), models.FeatureVector{})
	assert.Error(t, err)
}
