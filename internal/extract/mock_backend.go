package extract

import (
	"context"
	"sync"

	"github.com/receiptflow/receiptflow/internal/model"
)

// MockResponse is one scripted backend reply.
type MockResponse struct {
	Err       error
	Candidate model.ExtractionCandidate
}

// MockBackend is a scriptable Backend for tests. Responses are consumed in
// order; the last response repeats once the script runs out.
type MockBackend struct {
	Responses []MockResponse
	BackendID string
	calls     int
	mu        sync.Mutex
}

// ID returns the mock's backend identifier.
func (m *MockBackend) ID() string {
	if m.BackendID == "" {
		return "mock"
	}
	return m.BackendID
}

// Extract returns the next scripted response.
func (m *MockBackend) Extract(_ context.Context, _ Request) (model.ExtractionCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.calls
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	m.calls++

	if idx < 0 {
		return model.ExtractionCandidate{}, nil
	}

	resp := m.Responses[idx]
	return resp.Candidate, resp.Err
}

// Calls returns how many times Extract was invoked.
func (m *MockBackend) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
