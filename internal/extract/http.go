package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/receiptflow/receiptflow/internal/common"
	"github.com/receiptflow/receiptflow/internal/model"
)

// httpBackend implements the Backend interface against an HTTP extraction
// endpoint.
type httpBackend struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	backendID  string
}

// BackendConfig holds configuration for the HTTP extraction backend.
type BackendConfig struct {
	Endpoint  string
	APIKey    string
	BackendID string
	Timeout   time.Duration
}

// NewHTTPBackend creates a backend that posts extraction requests to the
// configured endpoint.
func NewHTTPBackend(cfg BackendConfig) (Backend, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: extraction endpoint is required", common.ErrMissingConfig)
	}

	backendID := cfg.BackendID
	if backendID == "" {
		backendID = "http"
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &httpBackend{
		endpoint:  cfg.Endpoint,
		apiKey:    cfg.APIKey,
		backendID: backendID,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// ID returns the backend identifier recorded in candidate provenance.
func (b *httpBackend) ID() string {
	return b.backendID
}

// Extract performs one extraction call. Timeouts, rate-limit responses, and
// unparseable payloads are mapped onto the common.ErrBackend* sentinels.
func (b *httpBackend) Extract(ctx context.Context, req Request) (model.ExtractionCandidate, error) {
	requestBody := map[string]any{
		"redacted_text": req.RedactedText,
		"template_id":   req.TemplateID,
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return model.ExtractionCandidate{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, strings.NewReader(string(jsonBody)))
	if err != nil {
		return model.ExtractionCandidate{}, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return model.ExtractionCandidate{}, fmt.Errorf("%w: %v", common.ErrBackendTimeout, err)
		}
		return model.ExtractionCandidate{}, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.ExtractionCandidate{}, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return model.ExtractionCandidate{}, fmt.Errorf("%w: status %d", common.ErrBackendRateLimited, resp.StatusCode)
	case resp.StatusCode >= 500:
		// Server errors are transient; same policy as timeouts.
		return model.ExtractionCandidate{}, fmt.Errorf("%w: status %d: %s", common.ErrBackendTimeout, resp.StatusCode, string(body))
	case resp.StatusCode != http.StatusOK:
		return model.ExtractionCandidate{}, fmt.Errorf("extraction backend error (status %d): %s", resp.StatusCode, string(body))
	}

	return parseCandidate(string(body))
}

// isTimeout reports whether a transport error carries a timeout signal.
func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
