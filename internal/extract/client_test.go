package extract

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/receiptflow/receiptflow/internal/common"
	"github.com/receiptflow/receiptflow/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClientConfig() Config {
	return Config{
		MaxAttempts:   3,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 5 * time.Millisecond,
		CallTimeout:   time.Second,
		CacheTTL:      time.Minute,
		CacheSize:     100,
		RateLimit:     10000,
		MaxInFlight:   4,
	}
}

func testLogger() *slog.Logger {
	return slog.Default()
}

func TestClientCacheShortCircuit(t *testing.T) {
	backend := &MockBackend{
		Responses: []MockResponse{
			{Candidate: model.ExtractionCandidate{Vendor: "Cafe ABC", Amount: 42.50, Confidence: 0.92}},
		},
	}
	client := NewClient(testClientConfig(), backend, testLogger(), nil)
	defer func() { _ = client.Close() }()

	ctx := context.Background()

	first, err := client.Extract(ctx, "fp-1", "Cafe ABC $42.50", "receipt-v1")
	require.NoError(t, err)

	second, err := client.Extract(ctx, "fp-1", "Cafe ABC $42.50", "receipt-v1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, backend.Calls(), "cache hit must not invoke the backend again")
}

func TestClientRetryBound(t *testing.T) {
	backend := &MockBackend{
		Responses: []MockResponse{
			{Err: common.ErrBackendTimeout},
		},
	}
	client := NewClient(testClientConfig(), backend, testLogger(), nil)
	defer func() { _ = client.Close() }()

	_, err := client.Extract(context.Background(), "fp-2", "text", "receipt-v1")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrMaxRetries)
	assert.Equal(t, 3, backend.Calls(), "exactly the configured maximum attempts")
}

func TestClientRecoversAfterTransientFailures(t *testing.T) {
	backend := &MockBackend{
		Responses: []MockResponse{
			{Err: common.ErrBackendTimeout},
			{Err: common.ErrBackendRateLimited},
			{Candidate: model.ExtractionCandidate{Vendor: "Cafe ABC", Confidence: 0.9}},
		},
	}
	cfg := testClientConfig()
	client := NewClient(cfg, backend, testLogger(), nil)
	defer func() { _ = client.Close() }()

	candidate, err := client.Extract(context.Background(), "fp-3", "text", "receipt-v1")
	require.NoError(t, err)
	assert.Equal(t, "Cafe ABC", candidate.Vendor)
	assert.Equal(t, 3, backend.Calls())
}

func TestClientMalformedGetsFreshAttempts(t *testing.T) {
	backend := &MockBackend{
		Responses: []MockResponse{
			{Err: common.ErrBackendMalformed},
		},
	}
	client := NewClient(testClientConfig(), backend, testLogger(), nil)
	defer func() { _ = client.Close() }()

	_, err := client.Extract(context.Background(), "fp-4", "text", "receipt-v1")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrMaxRetries)
	assert.Equal(t, 3, backend.Calls())
}

func TestClientNonRetryableErrorStopsEarly(t *testing.T) {
	backend := &MockBackend{
		Responses: []MockResponse{
			{Err: errors.New("extraction backend error (status 400): bad template")},
		},
	}
	client := NewClient(testClientConfig(), backend, testLogger(), nil)
	defer func() { _ = client.Close() }()

	_, err := client.Extract(context.Background(), "fp-5", "text", "receipt-v1")
	require.Error(t, err)
	assert.Equal(t, 1, backend.Calls(), "client errors are not retried")
}

func TestClientProvenance(t *testing.T) {
	backend := &MockBackend{
		BackendID: "test-backend",
		Responses: []MockResponse{
			{Candidate: model.ExtractionCandidate{Vendor: "Cafe ABC", Confidence: 0.9}},
		},
	}
	client := NewClient(testClientConfig(), backend, testLogger(), nil)
	defer func() { _ = client.Close() }()

	candidate, err := client.Extract(context.Background(), "fp-6", "text", "receipt-v1")
	require.NoError(t, err)
	assert.Equal(t, "test-backend", candidate.Provenance.BackendID)
	assert.Equal(t, "receipt-v1", candidate.Provenance.TemplateID)
	assert.GreaterOrEqual(t, candidate.Provenance.Latency, time.Duration(0))
}

func TestClientObserverSeesEveryAttempt(t *testing.T) {
	backend := &MockBackend{
		Responses: []MockResponse{
			{Err: common.ErrBackendTimeout},
			{Err: common.ErrBackendRateLimited},
			{Candidate: model.ExtractionCandidate{Vendor: "Cafe ABC", Confidence: 0.9}},
		},
	}

	var mu sync.Mutex
	var outcomes []Outcome
	observer := func(outcome Outcome, _ time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		outcomes = append(outcomes, outcome)
	}

	client := NewClient(testClientConfig(), backend, testLogger(), observer)
	defer func() { _ = client.Close() }()

	_, err := client.Extract(context.Background(), "fp-7", "text", "receipt-v1")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Outcome{OutcomeTimeout, OutcomeRateLimited, OutcomeSuccess}, outcomes)
}

func TestClientCancellation(t *testing.T) {
	backend := &MockBackend{
		Responses: []MockResponse{
			{Err: common.ErrBackendTimeout},
		},
	}
	cfg := testClientConfig()
	cfg.RetryDelay = time.Hour // force the retry wait to dominate
	client := NewClient(cfg, backend, testLogger(), nil)
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.Extract(ctx, "fp-8", "text", "receipt-v1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
