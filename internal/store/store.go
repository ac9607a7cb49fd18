// Package store provides the persistent usage audit log for the chat backend.
//
// Every answered AI turn is recorded with its model, token counts, tool
// usage, and estimated cost. SQLite serves single-node deployments and
// Postgres serves shared ones; DetectDSNType picks the backend from the DSN.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/stagelink/chatbot/internal/models"
)

// UsageStore is the audit log interface the engine writes to.
type UsageStore interface {
	AddUsage(ctx context.Context, rec models.UsageRecord) error
	RecentUsage(ctx context.Context, limit int) ([]models.UsageRecord, error)
	UsageTotals(ctx context.Context, since time.Time) (UsageTotals, error)
	Close() error
}

// UsageTotals aggregates the audit log over a window.
type UsageTotals struct {
	Turns            int64   `json:"turns"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	FallbackTurns    int64   `json:"fallback_turns"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// Opts holds store configuration.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the Postgres connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for Postgres-style DSNs and "sqlite"
// otherwise. A plain file path is SQLite.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}

// NewFromDSN opens the backend matching the DSN type.
func NewFromDSN(dsn string) (UsageStore, error) {
	if DetectDSNType(dsn) == "postgres" {
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}
