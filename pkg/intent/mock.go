package intent

import (
	"context"
	"sync"
)

// MockExtractor is a scriptable extractor for tests. Results are consumed
// in order; when the script runs out, the last result repeats.
type MockExtractor struct {
	mu       sync.Mutex
	requests []*Request
	results  []*Result
	errs     []error
	index    int
}

var _ Extractor = (*MockExtractor)(nil)

func NewMockExtractor() *MockExtractor {
	return &MockExtractor{}
}

// Script appends a result (or error) to the playback queue.
func (m *MockExtractor) Script(result *Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
	m.errs = append(m.errs, err)
}

func (m *MockExtractor) Extract(ctx context.Context, req *Request) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if len(m.results) == 0 {
		return fallbackResult("I can help with that."), nil
	}
	i := m.index
	if i >= len(m.results) {
		i = len(m.results) - 1
	}
	m.index++
	return m.results[i], m.errs[i]
}

// Requests returns every extraction request received, in order.
func (m *MockExtractor) Requests() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Calls returns how many extractions were requested.
func (m *MockExtractor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
