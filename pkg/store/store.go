// Package store persists tenant configuration, intent schemas, call metrics,
// and bookings.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/voiceline-ai/voiceline/pkg/intent"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Tenant is one customer of the platform. PipelineConfig holds the raw JSON
// configuration document; it is decoded strictly at session start.
type Tenant struct {
	ID              string
	Name            string
	PipelineConfig  []byte
	BusinessContext string
	Personality     string
	Greeting        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CallMetrics is the persisted per-call record. Created empty at call start,
// updated incrementally, finalized at call end.
type CallMetrics struct {
	CallID           string
	TenantID         string
	ASRLatencyMs     float64
	LLMLatencyMs     float64
	TTSLatencyMs     float64
	TotalLatencyMs   float64
	ConfidenceScore  float64
	InvalidAttempts  int
	BargeInCount     int
	IntentRecognized bool
	Escalated        bool
	EscalationReason string
	StartedAt        time.Time
	EndedAt          time.Time
}

// Booking is the side effect of a completed book_appointment intent.
type Booking struct {
	ID        string
	CallID    string
	TenantID  string
	Service   string
	Date      string
	Time      string
	Entities  map[string]any
	CreatedAt time.Time
}

// Store is the persistence surface the orchestrator and server depend on.
type Store interface {
	// GetTenant loads a tenant by ID. Returns ErrNotFound when absent.
	GetTenant(ctx context.Context, tenantID string) (*Tenant, error)

	// ListIntentSchemas returns the tenant's intent schemas, active and
	// inactive.
	ListIntentSchemas(ctx context.Context, tenantID string) ([]intent.Schema, error)

	// CreateCallMetrics inserts the initial empty record at call start.
	CreateCallMetrics(ctx context.Context, m *CallMetrics) error

	// FinalizeCallMetrics writes the completed record at call end.
	FinalizeCallMetrics(ctx context.Context, m *CallMetrics) error

	// CreateBooking records a booking side effect.
	CreateBooking(ctx context.Context, b *Booking) error

	Close() error
}
