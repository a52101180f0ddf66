package store

import (
	"context"
	"sync"
	"time"

	"github.com/voiceline-ai/voiceline/pkg/intent"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	tenants  map[string]*Tenant
	schemas  map[string][]intent.Schema
	metrics  map[string]*CallMetrics
	bookings []*Booking
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants: make(map[string]*Tenant),
		schemas: make(map[string][]intent.Schema),
		metrics: make(map[string]*CallMetrics),
	}
}

// PutTenant registers or replaces a tenant.
func (s *MemoryStore) PutTenant(t *Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *t
	s.tenants[t.ID] = &copied
}

// PutIntentSchemas replaces a tenant's schemas.
func (s *MemoryStore) PutIntentSchemas(tenantID string, schemas []intent.Schema) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas[tenantID] = append([]intent.Schema(nil), schemas...)
}

func (s *MemoryStore) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *t
	return &copied, nil
}

func (s *MemoryStore) ListIntentSchemas(ctx context.Context, tenantID string) ([]intent.Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]intent.Schema(nil), s.schemas[tenantID]...), nil
}

func (s *MemoryStore) CreateCallMetrics(ctx context.Context, m *CallMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *m
	if copied.StartedAt.IsZero() {
		copied.StartedAt = time.Now()
	}
	s.metrics[m.CallID] = &copied
	return nil
}

func (s *MemoryStore) FinalizeCallMetrics(ctx context.Context, m *CallMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.metrics[m.CallID]; !ok {
		return ErrNotFound
	}
	copied := *m
	if copied.EndedAt.IsZero() {
		copied.EndedAt = time.Now()
	}
	s.metrics[m.CallID] = &copied
	return nil
}

func (s *MemoryStore) CreateBooking(ctx context.Context, b *Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *b
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	s.bookings = append(s.bookings, &copied)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// GetCallMetrics returns the stored record for a call, for tests and
// inspection.
func (s *MemoryStore) GetCallMetrics(callID string) (*CallMetrics, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metrics[callID]
	if !ok {
		return nil, false
	}
	copied := *m
	return &copied, true
}

// CallIDs returns the IDs of all recorded calls.
func (s *MemoryStore) CallIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.metrics))
	for id := range s.metrics {
		out = append(out, id)
	}
	return out
}

// Bookings returns all recorded bookings.
func (s *MemoryStore) Bookings() []*Booking {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Booking, len(s.bookings))
	copy(out, s.bookings)
	return out
}
