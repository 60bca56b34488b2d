package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/auditkit/guideline-rag/internal/apperr"
)

// RemoteIndex is the remote VectorIndex binding: an HTTP client for
// an external ANN service. Requests flow through a circuit breaker so
// a dead service fails fast instead of stacking up timeouts; the
// breaker opening surfaces as an Unavailable error, which the query
// path degrades to empty results.
type RemoteIndex struct {
	endpoint   string
	dimensions int
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     *slog.Logger
}

var _ VectorIndex = (*RemoteIndex)(nil)

// RemoteConfig configures the remote ANN client.
type RemoteConfig struct {
	Endpoint   string
	Dimensions int
	Timeout    time.Duration
}

// NewRemoteIndex creates a remote ANN client.
func NewRemoteIndex(cfg RemoteConfig, logger *slog.Logger) (*RemoteIndex, error) {
	if cfg.Endpoint == "" {
		return nil, apperr.Config("remote.new", "ann endpoint is empty")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "ann",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("ann circuit breaker state change",
				"name", name, "from", from.String(), "to", to.String())
		},
	})

	return &RemoteIndex{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: cfg.Timeout},
		breaker:    breaker,
		logger:     logger,
	}, nil
}

// post sends a JSON request through the circuit breaker and returns
// the response body.
func (r *RemoteIndex) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Internal("remote.post", err)
	}

	data, err := r.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("ann service returned %d: %s", resp.StatusCode, respBody)
		}
		return respBody, nil
	})
	if err != nil {
		return nil, apperr.Unavailable("remote"+path, err)
	}
	return data, nil
}

// Search queries the ANN service for the k nearest neighbors.
func (r *RemoteIndex) Search(ctx context.Context, embedding []float32, k int) ([]VectorHit, error) {
	if r.dimensions != 0 && len(embedding) != r.dimensions {
		return nil, apperr.Invalid("remote.search",
			fmt.Sprintf("dimension mismatch: expected %d, got %d", r.dimensions, len(embedding)))
	}

	payload := struct {
		Embedding []float32 `json:"embedding"`
		K         int       `json:"k"`
	}{Embedding: embedding, K: k}

	data, err := r.post(ctx, "/query", payload)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Results []VectorHit `json:"results"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, apperr.Corrupt("remote.search", err)
	}

	r.logger.Debug("ann search", "results", len(parsed.Results))
	return parsed.Results, nil
}

// Upsert streams vectors to the ANN service. Idempotent by ID.
func (r *RemoteIndex) Upsert(ctx context.Context, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}

	payload := struct {
		Vectors []Vector `json:"vectors"`
	}{Vectors: vectors}

	if _, err := r.post(ctx, "/upsert", payload); err != nil {
		return err
	}
	r.logger.Info("upserted vectors", "count", len(vectors))
	return nil
}

// Delete removes IDs from the ANN service. Absent IDs are not an
// error.
func (r *RemoteIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	payload := struct {
		IDs []string `json:"ids"`
	}{IDs: ids}

	if _, err := r.post(ctx, "/delete", payload); err != nil {
		return err
	}
	r.logger.Info("deleted vectors", "count", len(ids))
	return nil
}

// Stats reports the endpoint and breaker readiness. Exact vector
// counts are not exposed; fetching them from the service is
// expensive.
func (r *RemoteIndex) Stats() VectorStats {
	return VectorStats{
		Backend:    "remote",
		Dimensions: r.dimensions,
		Endpoint:   r.endpoint,
		Ready:      r.breaker.State() != gobreaker.StateOpen,
	}
}
