package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiceline-ai/voiceline/pkg/intent"
)

func TestMemoryStore_Tenants(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.GetTenant(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	s.PutTenant(&Tenant{ID: "tenant-a", Name: "Salon", Greeting: "Hello!"})

	got, err := s.GetTenant(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, "Salon", got.Name)

	// Mutating the returned copy must not affect the stored record.
	got.Name = "changed"
	again, err := s.GetTenant(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, "Salon", again.Name)
}

func TestMemoryStore_IntentSchemas(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	schemas, err := s.ListIntentSchemas(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Empty(t, schemas)

	s.PutIntentSchemas("tenant-a", []intent.Schema{
		{Name: "book_appointment", Priority: 10, Active: true},
	})

	schemas, err = s.ListIntentSchemas(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, schemas, 1)
	assert.Equal(t, "book_appointment", schemas[0].Name)
}

func TestMemoryStore_CallMetricsLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateCallMetrics(ctx, &CallMetrics{CallID: "call-1", TenantID: "tenant-a"}))

	created, ok := s.GetCallMetrics("call-1")
	require.True(t, ok)
	assert.False(t, created.StartedAt.IsZero())

	final := &CallMetrics{
		CallID:           "call-1",
		TenantID:         "tenant-a",
		TotalLatencyMs:   1234,
		Escalated:        true,
		EscalationReason: "max_invalid_attempts",
	}
	require.NoError(t, s.FinalizeCallMetrics(ctx, final))

	got, ok := s.GetCallMetrics("call-1")
	require.True(t, ok)
	assert.True(t, got.Escalated)
	assert.False(t, got.EndedAt.IsZero())

	err := s.FinalizeCallMetrics(ctx, &CallMetrics{CallID: "never-created"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Bookings(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateBooking(ctx, &Booking{
		ID:       "booking-1",
		CallID:   "call-1",
		TenantID: "tenant-a",
		Service:  "haircut",
		Date:     "2026-09-01",
	}))

	bookings := s.Bookings()
	require.Len(t, bookings, 1)
	assert.Equal(t, "haircut", bookings[0].Service)
	assert.False(t, bookings[0].CreatedAt.IsZero())
}
