// Command stagelink runs the StageLink conversational backend: the HTTP chat
// API plus the optional WhatsApp messaging channels.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stagelink/chatbot/internal/agent"
	"github.com/stagelink/chatbot/internal/api"
	"github.com/stagelink/chatbot/internal/backend"
	"github.com/stagelink/chatbot/internal/channel"
	"github.com/stagelink/chatbot/internal/flow"
	"github.com/stagelink/chatbot/internal/genai"
	"github.com/stagelink/chatbot/internal/handoff"
	"github.com/stagelink/chatbot/internal/lockfile"
	"github.com/stagelink/chatbot/internal/metrics"
	"github.com/stagelink/chatbot/internal/scheduler"
	"github.com/stagelink/chatbot/internal/store"
	"github.com/stagelink/chatbot/internal/twilio"
	"github.com/stagelink/chatbot/internal/whatsapp"
)

const (
	// defaultStateDir is the default directory for StageLink state data.
	defaultStateDir = "/var/lib/stagelink"
	// defaultDBFileName is the default SQLite database filename.
	defaultDBFileName = "stagelink.db"
	// defaultWhatsmeowDBFileName is the default whatsmeow session database filename.
	defaultWhatsmeowDBFileName = "whatsmeow.db"
	// twilioWebhookPath is where the Twilio message callback is mounted.
	twilioWebhookPath = "/webhook/twilio"
)

// Config holds environment configuration.
type Config struct {
	APIAddr  string `envconfig:"API_ADDR" default:":8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	StateDir string `envconfig:"STAGELINK_STATE_DIR"`

	OpenAIKey     string `envconfig:"OPENAI_API_KEY"`
	PrimaryModel  string `envconfig:"OPENAI_PRIMARY_MODEL"`
	FallbackModel string `envconfig:"OPENAI_FALLBACK_MODEL"`

	BackendURL    string `envconfig:"BACKEND_URL" required:"true"`
	BackendAPIKey string `envconfig:"BACKEND_API_KEY"`

	DatabaseURL string `envconfig:"DATABASE_URL"`

	AgentsFile string `envconfig:"SUPPORT_AGENTS_FILE"`

	WhatsAppEnabled bool   `envconfig:"WHATSAPP_ENABLED"`
	WhatsAppDSN     string `envconfig:"WHATSAPP_DB_DSN"`

	TwilioEnabled    bool   `envconfig:"TWILIO_ENABLED"`
	TwilioWebhookURL string `envconfig:"TWILIO_WEBHOOK_URL"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("stagelink failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("stagelink exited")
}

func run() error {
	qrOutput := flag.String("qr-output", "", "path to write the WhatsApp login QR code")
	numericCode := flag.Bool("numeric-code", false, "use a numeric WhatsApp pairing code instead of a QR code")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	initLogger(cfg.LogLevel)

	if cfg.StateDir == "" {
		cfg.StateDir = defaultStateDir
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = filepath.Join(cfg.StateDir, defaultDBFileName)
	}
	if cfg.WhatsAppDSN == "" {
		cfg.WhatsAppDSN = filepath.Join(cfg.StateDir, defaultWhatsmeowDBFileName)
	}
	slog.Info("configuration loaded",
		"api_addr", cfg.APIAddr,
		"state_dir", cfg.StateDir,
		"backend_url", cfg.BackendURL,
		"openai_key_set", cfg.OpenAIKey != "",
		"whatsapp_enabled", cfg.WhatsAppEnabled,
		"twilio_enabled", cfg.TwilioEnabled)

	// One instance per state directory: the SQLite databases and the
	// WhatsApp session store cannot be shared.
	lock, err := lockfile.Acquire(cfg.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Shared infrastructure.
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	usage, err := store.NewFromDSN(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open usage store: %w", err)
	}
	defer usage.Close()

	gen, err := buildModelClient(cfg)
	if err != nil {
		return fmt.Errorf("build model client: %w", err)
	}

	bc := backend.NewClient(cfg.BackendURL, cfg.BackendAPIKey)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	// Daily usage summary for operational visibility.
	if err := sched.AddJob("usage-summary", "0 6 * * *", func() {
		totals, err := usage.UsageTotals(context.Background(), time.Now().Add(-24*time.Hour))
		if err != nil {
			slog.Error("daily usage summary failed", "error", err)
			return
		}
		slog.Info("daily usage summary",
			"turns", totals.Turns,
			"prompt_tokens", totals.PromptTokens,
			"completion_tokens", totals.CompletionTokens,
			"fallback_turns", totals.FallbackTurns,
			"estimated_cost_usd", totals.EstimatedCostUSD)
	}); err != nil {
		return fmt.Errorf("schedule usage summary: %w", err)
	}

	executor := agent.NewExecutor(bc, m)
	defer executor.Close()
	engine := agent.NewEngine(gen, executor,
		agent.WithUsageStore(usage),
		agent.WithMetrics(m),
	)
	defer engine.Close()

	agents := handoff.NewMemoryAgentRepo()
	if cfg.AgentsFile != "" {
		if err := loadAgents(ctx, agents, cfg.AgentsFile); err != nil {
			return fmt.Errorf("load support agents: %w", err)
		}
	}
	escalation := flow.NewEscalation(gen, handoff.NewService(agents), m)

	menu := flow.NewMenuFlow(bc, escalation, m)
	open := flow.NewOpenFlow(bc, engine, m)

	apiOpts := []api.Option{
		api.WithUsageStore(usage),
		api.WithMetricsRegistry(registry),
	}

	// Messaging channels carry conversations over WhatsApp.
	var dispatchers []*channel.Dispatcher
	var services []channel.Service

	if cfg.TwilioEnabled {
		tc, err := twilio.NewClient()
		if err != nil {
			return fmt.Errorf("build Twilio client: %w", err)
		}
		var svcOpts []channel.TwilioServiceOption
		if cfg.TwilioWebhookURL != "" {
			svcOpts = append(svcOpts, channel.WithWebhookValidation(tc, cfg.TwilioWebhookURL))
		} else {
			slog.Warn("TWILIO_WEBHOOK_URL not set, webhook signature validation disabled")
		}
		twilioSvc := channel.NewTwilioService(tc, svcOpts...)
		apiOpts = append(apiOpts, api.WithWebhook(twilioWebhookPath, twilioSvc.WebhookHandler))
		// Twilio conversations go through the AI-assisted open flow; the
		// guided menu flow stays on the direct WhatsApp channel.
		dispatchers = append(dispatchers, channel.NewDispatcher(twilioSvc, open))
		services = append(services, twilioSvc)
	}

	if cfg.WhatsAppEnabled {
		waOpts := []whatsapp.Option{whatsapp.WithDBDSN(cfg.WhatsAppDSN)}
		if *qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*qrOutput))
		}
		if *numericCode {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		if err := ensureStateDir(cfg.WhatsAppDSN); err != nil {
			return fmt.Errorf("create WhatsApp state directory: %w", err)
		}
		wa, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return fmt.Errorf("build WhatsApp client: %w", err)
		}
		waSvc := channel.NewWhatsAppService(wa)
		dispatchers = append(dispatchers, channel.NewDispatcher(waSvc, menu))
		services = append(services, waSvc)
	}

	for _, d := range dispatchers {
		go func(d *channel.Dispatcher) {
			if err := d.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("channel dispatcher stopped", "error", err)
			}
		}(d)
	}
	defer func() {
		for _, svc := range services {
			if err := svc.Stop(); err != nil {
				slog.Error("channel service stop failed", "error", err)
			}
		}
	}()

	server := api.NewServer(menu, open, engine, apiOpts...)
	return server.Run(ctx, cfg.APIAddr)
}

// buildModelClient creates the model client, or nil when no API key is
// available; flows then fall back to deterministic summaries and the open
// chat endpoint reports the service as unavailable.
func buildModelClient(cfg Config) (genai.ClientInterface, error) {
	var opts []genai.Option
	if cfg.PrimaryModel != "" || cfg.FallbackModel != "" {
		primary := cfg.PrimaryModel
		if primary == "" {
			primary = string(genai.DefaultPrimaryModel)
		}
		fallback := cfg.FallbackModel
		if fallback == "" {
			fallback = string(genai.DefaultFallbackModel)
		}
		opts = append(opts, genai.WithModels(primary, fallback))
	}
	if cfg.OpenAIKey != "" {
		return genai.NewClientWithKey(cfg.OpenAIKey, opts...), nil
	}
	client, err := genai.NewClient(opts...)
	if err != nil {
		slog.Warn("no model client configured, running without AI features", "error", err)
		return nil, nil
	}
	return client, nil
}

// loadAgents seeds the support agent roster from a JSON file containing an
// array of agents.
func loadAgents(ctx context.Context, repo *handoff.MemoryAgentRepo, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var list []handoff.Agent
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for _, a := range list {
		if err := repo.Upsert(ctx, a); err != nil {
			return err
		}
	}
	slog.Info("support agents loaded", "count", len(list), "file", path)
	return nil
}

// ensureStateDir creates the parent directory for a file-based DSN.
func ensureStateDir(dsn string) error {
	if store.DetectDSNType(dsn) == "postgres" {
		return nil
	}
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return os.MkdirAll(filepath.Dir(path), 0755)
}

func initLogger(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}
