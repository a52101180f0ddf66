package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/voiceline-ai/voiceline/pkg/intent"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to PostgreSQL and applies pending migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(dsn); err != nil {
		pool.Close()
		return nil, err
	}

	log.Printf("[Store] Connected to PostgreSQL")
	return &PostgresStore{pool: pool}, nil
}

func runMigrations(dsn string) error {
	db := stdlib.OpenDB(*mustParseConfig(dsn))
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func mustParseConfig(dsn string) *pgx.ConnConfig {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		// NewPostgresStore already validated the DSN via pgxpool.New.
		panic(fmt.Sprintf("invalid dsn after pool creation: %v", err))
	}
	return cfg
}

func (s *PostgresStore) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, pipeline_config, business_context, personality, greeting, created_at, updated_at
		FROM tenants WHERE id = $1`, tenantID)

	var t Tenant
	err := row.Scan(&t.ID, &t.Name, &t.PipelineConfig, &t.BusinessContext, &t.Personality, &t.Greeting, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
	}
	return &t, nil
}

func (s *PostgresStore) ListIntentSchemas(ctx context.Context, tenantID string) ([]intent.Schema, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, version, description, parameters, required, priority,
		       confidence_threshold, fallback_action, active
		FROM intent_schemas WHERE tenant_id = $1
		ORDER BY priority DESC, name`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list intent schemas: %w", err)
	}
	defer rows.Close()

	var schemas []intent.Schema
	for rows.Next() {
		var s intent.Schema
		var paramsJSON []byte
		if err := rows.Scan(&s.Name, &s.Version, &s.Description, &paramsJSON, &s.Required,
			&s.Priority, &s.ConfidenceThreshold, &s.FallbackAction, &s.Active); err != nil {
			return nil, fmt.Errorf("failed to scan intent schema: %w", err)
		}
		if len(paramsJSON) > 0 {
			if err := json.Unmarshal(paramsJSON, &s.Parameters); err != nil {
				return nil, fmt.Errorf("invalid parameters for schema %s: %w", s.Name, err)
			}
		}
		schemas = append(schemas, s)
	}
	return schemas, rows.Err()
}

func (s *PostgresStore) CreateCallMetrics(ctx context.Context, m *CallMetrics) error {
	startedAt := m.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO call_metrics (call_id, tenant_id, started_at)
		VALUES ($1, $2, $3)`, m.CallID, m.TenantID, startedAt)
	if err != nil {
		return fmt.Errorf("failed to create call metrics: %w", err)
	}
	return nil
}

func (s *PostgresStore) FinalizeCallMetrics(ctx context.Context, m *CallMetrics) error {
	endedAt := m.EndedAt
	if endedAt.IsZero() {
		endedAt = time.Now()
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE call_metrics SET
			asr_latency_ms = $2, llm_latency_ms = $3, tts_latency_ms = $4,
			total_latency_ms = $5, confidence_score = $6, invalid_attempts = $7,
			barge_in_count = $8, intent_recognized = $9, escalated = $10,
			escalation_reason = $11, ended_at = $12
		WHERE call_id = $1`,
		m.CallID, m.ASRLatencyMs, m.LLMLatencyMs, m.TTSLatencyMs,
		m.TotalLatencyMs, m.ConfidenceScore, m.InvalidAttempts,
		m.BargeInCount, m.IntentRecognized, m.Escalated,
		m.EscalationReason, endedAt)
	if err != nil {
		return fmt.Errorf("failed to finalize call metrics: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateBooking(ctx context.Context, b *Booking) error {
	entities, err := json.Marshal(b.Entities)
	if err != nil {
		return fmt.Errorf("failed to encode booking entities: %w", err)
	}
	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO bookings (id, call_id, tenant_id, service, date, time, entities, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		b.ID, b.CallID, b.TenantID, b.Service, b.Date, b.Time, entities, createdAt)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
