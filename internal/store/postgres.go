package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
	"github.com/stagelink/chatbot/internal/models"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is the shared-deployment usage audit store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to Postgres using the DSN and applies migrations.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgresStore: connected and migrated")
	return &PostgresStore{db: db}, nil
}

// AddUsage appends one audit record.
func (s *PostgresStore) AddUsage(ctx context.Context, rec models.UsageRecord) error {
	tools, err := marshalTools(rec.ToolsInvoked)
	if err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO usage_records
			(actor_id, model, fallback_model, prompt_tokens, completion_tokens,
			 tokens_estimated, tools_invoked, extra_calls, latency_ms, estimated_cost_usd, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ActorID, rec.Model, rec.FallbackModel, rec.PromptTokens, rec.CompletionTokens,
		rec.TokensEstimated, tools, rec.ExtraCalls, rec.LatencyMS, rec.EstimatedCostUSD, rec.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore.AddUsage: insert failed", "error", err, "actor_id", rec.ActorID)
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

// RecentUsage returns the newest records, most recent first.
func (s *PostgresStore) RecentUsage(ctx context.Context, limit int) ([]models.UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT actor_id, model, fallback_model, prompt_tokens, completion_tokens,
		       tokens_estimated, tools_invoked, extra_calls, latency_ms, estimated_cost_usd, created_at
		FROM usage_records ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()
	return scanUsageRows(rows)
}

// UsageTotals aggregates records created at or after since.
func (s *PostgresStore) UsageTotals(ctx context.Context, since time.Time) (UsageTotals, error) {
	var t UsageTotals
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COALESCE(SUM(CASE WHEN fallback_model THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(estimated_cost_usd), 0)
		FROM usage_records WHERE created_at >= $1`, since).Scan(
		&t.Turns, &t.PromptTokens, &t.CompletionTokens, &t.FallbackTurns, &t.EstimatedCostUSD)
	if err != nil {
		return t, fmt.Errorf("failed to aggregate usage records: %w", err)
	}
	return t, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
