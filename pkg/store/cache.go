package store

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voiceline-ai/voiceline/pkg/intent"
)

const (
	tenantKeyPrefix  = "tenant:"
	schemasKeyPrefix = "schemas:"
	defaultCacheTTL  = 5 * time.Minute
)

// CachedStore layers a Redis read-through cache over another Store. Tenant
// records and intent schemas are read at every call setup, so they are
// cached; call metrics and bookings write straight through.
type CachedStore struct {
	inner  Store
	client *redis.Client
	ttl    time.Duration
}

var _ Store = (*CachedStore)(nil)

// NewCachedStore wraps inner with a Redis cache. A non-positive ttl selects
// the default of five minutes.
func NewCachedStore(inner Store, client *redis.Client, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedStore{inner: inner, client: client, ttl: ttl}
}

func (s *CachedStore) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	key := tenantKeyPrefix + tenantID

	val, err := s.client.Get(ctx, key).Result()
	if err == nil {
		var t Tenant
		if err := json.Unmarshal([]byte(val), &t); err == nil {
			return &t, nil
		}
		// Corrupt entry, fall through to the source of truth.
	} else if !errors.Is(err, redis.Nil) {
		log.Printf("[Store] Redis read failed for %s: %v", key, err)
	}

	t, err := s.inner.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, key, t)
	return t, nil
}

func (s *CachedStore) ListIntentSchemas(ctx context.Context, tenantID string) ([]intent.Schema, error) {
	key := schemasKeyPrefix + tenantID

	val, err := s.client.Get(ctx, key).Result()
	if err == nil {
		var schemas []intent.Schema
		if err := json.Unmarshal([]byte(val), &schemas); err == nil {
			return schemas, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		log.Printf("[Store] Redis read failed for %s: %v", key, err)
	}

	schemas, err := s.inner.ListIntentSchemas(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, key, schemas)
	return schemas, nil
}

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		log.Printf("[Store] Redis write failed for %s: %v", key, err)
	}
}

// Invalidate drops a tenant's cached entries, for use after config updates.
func (s *CachedStore) Invalidate(ctx context.Context, tenantID string) error {
	return s.client.Del(ctx, tenantKeyPrefix+tenantID, schemasKeyPrefix+tenantID).Err()
}

func (s *CachedStore) CreateCallMetrics(ctx context.Context, m *CallMetrics) error {
	return s.inner.CreateCallMetrics(ctx, m)
}

func (s *CachedStore) FinalizeCallMetrics(ctx context.Context, m *CallMetrics) error {
	return s.inner.FinalizeCallMetrics(ctx, m)
}

func (s *CachedStore) CreateBooking(ctx context.Context, b *Booking) error {
	return s.inner.CreateBooking(ctx, b)
}

func (s *CachedStore) Close() error {
	if err := s.client.Close(); err != nil {
		log.Printf("[Store] Redis close failed: %v", err)
	}
	return s.inner.Close()
}
