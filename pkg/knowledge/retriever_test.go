package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticRetriever_OrdersByOverlap(t *testing.T) {
	r := NewStaticRetriever()
	r.Add("tenant-a", "hours", "Our opening hours are nine to five on weekdays.")
	r.Add("tenant-a", "parking", "Free parking is available behind the building.")
	r.Add("tenant-b", "hours", "Open around the clock.")

	docs, err := r.Retrieve(context.Background(), "tenant-a", "what are your opening hours", 5)
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Equal(t, "hours", docs[0].ID)
	assert.Greater(t, docs[0].Score, float32(0))
}

func TestStaticRetriever_TenantIsolation(t *testing.T) {
	r := NewStaticRetriever()
	r.Add("tenant-a", "doc", "booking appointments requires a deposit")

	docs, err := r.Retrieve(context.Background(), "tenant-b", "booking appointments", 5)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestStaticRetriever_NoMatches(t *testing.T) {
	r := NewStaticRetriever()
	r.Add("tenant-a", "doc", "completely unrelated text")

	docs, err := r.Retrieve(context.Background(), "tenant-a", "quantum flux capacitor", 5)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestStaticRetriever_Limit(t *testing.T) {
	r := NewStaticRetriever()
	r.Add("tenant-a", "one", "pricing for haircut services")
	r.Add("tenant-a", "two", "pricing for coloring services")
	r.Add("tenant-a", "three", "pricing for styling services")

	docs, err := r.Retrieve(context.Background(), "tenant-a", "pricing services", 2)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestTopScore(t *testing.T) {
	assert.Zero(t, TopScore(nil))
	assert.InDelta(t, 0.75, TopScore([]Document{{Score: 0.75}, {Score: 0.5}}), 1e-6)
}

func TestOverlapScore(t *testing.T) {
	query := tokenize("opening hours today")
	assert.Equal(t, float32(0), overlapScore(query, tokenize("unrelated")))
	assert.InDelta(t, 1.0, overlapScore(query, tokenize("our opening hours today are nine to five")), 1e-6)
}
