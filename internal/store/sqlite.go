package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stagelink/chatbot/internal/models"
)

// DefaultDirPermissions is used when creating the database directory.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is the file-backed usage audit store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the SQLite database at the DSN
// path and applies migrations.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("SQLiteStore: failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLiteStore: opened and migrated", "dsn", cfg.DSN)
	return &SQLiteStore{db: db}, nil
}

// AddUsage appends one audit record.
func (s *SQLiteStore) AddUsage(ctx context.Context, rec models.UsageRecord) error {
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ActorID, rec.Model, rec.FallbackModel, rec.PromptTokens, rec.CompletionTokens,
		rec.TokensEstimated, tools, rec.ExtraCalls, rec.LatencyMS, rec.EstimatedCostUSD, rec.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore.AddUsage: insert failed", "error", err, "actor_id", rec.ActorID)
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

// RecentUsage returns the newest records, most recent first.
func (s *SQLiteStore) RecentUsage(ctx context.Context, limit int) ([]models.UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT actor_id, model, fallback_model, prompt_tokens, completion_tokens,
		       tokens_estimated, tools_invoked, extra_calls, latency_ms, estimated_cost_usd, created_at
		FROM usage_records ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()
	return scanUsageRows(rows)
}

// UsageTotals aggregates records created at or after since.
func (s *SQLiteStore) UsageTotals(ctx context.Context, since time.Time) (UsageTotals, error) {
	var t UsageTotals
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COALESCE(SUM(fallback_model), 0),
		       COALESCE(SUM(estimated_cost_usd), 0)
		FROM usage_records WHERE created_at >= ?`, since).Scan(
		&t.Turns, &t.PromptTokens, &t.CompletionTokens, &t.FallbackTurns, &t.EstimatedCostUSD)
	if err != nil {
		return t, fmt.Errorf("failed to aggregate usage records: %w", err)
	}
	return t, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func marshalTools(tools []string) (any, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(tools)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tools list: %w", err)
	}
	return string(b), nil
}

func scanUsageRows(rows *sql.Rows) ([]models.UsageRecord, error) {
	var recs []models.UsageRecord
	for rows.Next() {
		var rec models.UsageRecord
		var tools sql.NullString
		if err := rows.Scan(&rec.ActorID, &rec.Model, &rec.FallbackModel,
			&rec.PromptTokens, &rec.CompletionTokens, &rec.TokensEstimated,
			&tools, &rec.ExtraCalls, &rec.LatencyMS, &rec.EstimatedCostUSD, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}
		if tools.Valid && tools.String != "" {
			if err := json.Unmarshal([]byte(tools.String), &rec.ToolsInvoked); err != nil {
				slog.Warn("store: malformed tools_invoked column, skipping", "error", err)
			}
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate usage rows: %w", err)
	}
	return recs, nil
}
