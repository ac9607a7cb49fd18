package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stagelink/chatbot/internal/agent"
	"github.com/stagelink/chatbot/internal/backend"
	"github.com/stagelink/chatbot/internal/metrics"
	"github.com/stagelink/chatbot/internal/models"
)

// OpenFlow is the free-text conversation: after CPF (and, on web, phone)
// authentication, every message goes to the AI engine.
type OpenFlow struct {
	backend  backend.ClientInterface
	engine   *agent.Engine
	metrics  *metrics.Metrics
	handlers map[models.StateName]handler
}

// NewOpenFlow creates the open chat flow.
func NewOpenFlow(bc backend.ClientInterface, engine *agent.Engine, m *metrics.Metrics) *OpenFlow {
	f := &OpenFlow{backend: bc, engine: engine, metrics: m}
	f.handlers = map[models.StateName]handler{
		models.StateOpenStart:         f.handleStart,
		models.StateOpenAwaitingCPF:   f.handleAwaitingCPF,
		models.StateOpenAwaitingPhone: f.handleAwaitingPhone,
	}
	return f
}

// Name identifies the flow in logs and metrics.
func (f *OpenFlow) Name() string { return "open" }

// ProcessTurn advances the conversation by one turn.
func (f *OpenFlow) ProcessTurn(ctx context.Context, req models.TurnRequest) models.TurnResponse {
	start := time.Now()

	// Input validation recovers in place: an empty message re-prompts and is
	// not surfaced to the caller as a failure.
	if strings.TrimSpace(req.Message) == "" {
		f.metrics.RecordTurn(f.Name(), "success", time.Since(start).Seconds())
		return models.TurnResponse{Response: textEmptyMessage, Success: true, NextState: req.State.Stay()}
	}

	state := req.State
	if state == nil || state.Terminal() {
		state = models.NewChatState(models.StateOpenStart)
	}
	req.State = state

	// The authenticated node is handled separately because it can fail.
	if state.Current == models.StateOpenAuthenticated {
		resp := f.handleAuthenticated(ctx, req)
		status := "success"
		if !resp.Success {
			status = "error"
		}
		f.metrics.RecordTurn(f.Name(), status, time.Since(start).Seconds())
		return resp
	}

	h, ok := f.handlers[state.Current]
	if !ok {
		slog.Warn("OpenFlow.ProcessTurn: unknown state, restarting", "state", state.Current)
		h = f.handleStart
		req.State = models.NewChatState(models.StateOpenStart)
	}

	reply, next := h(ctx, req)
	f.metrics.RecordTurn(f.Name(), "success", time.Since(start).Seconds())
	return models.TurnResponse{Response: reply, Success: true, NextState: next}
}

func (f *OpenFlow) handleStart(ctx context.Context, req models.TurnRequest) (string, *models.ChatState) {
	// An identity hint from the client skips the CPF question.
	if req.ActorHint != nil && validCPF(req.ActorHint.CPF) {
		return f.authenticate(ctx, req, req.ActorHint.CPF)
	}
	return textOpenWelcome, req.State.With(models.StateOpenAwaitingCPF, nil)
}

func (f *OpenFlow) handleAwaitingCPF(ctx context.Context, req models.TurnRequest) (string, *models.ChatState) {
	if !validCPF(req.Message) {
		return textInvalidCPF, req.State.Stay()
	}
	return f.authenticate(ctx, req, req.Message)
}

// authenticate resolves the CPF against both rosters and routes by channel:
// web sessions still owe a phone confirmation.
func (f *OpenFlow) authenticate(ctx context.Context, req models.TurnRequest, rawCPF string) (string, *models.ChatState) {
	actor, err := f.backend.ResolveActor(ctx, digits(rawCPF))
	if errors.Is(err, models.ErrNotFound) {
		return "Não encontrei esse CPF em nossa base. Confira os números e envie novamente.",
			req.State.With(models.StateOpenAwaitingCPF, nil)
	}
	if err != nil {
		slog.Error("OpenFlow: actor resolution failed", "error", err)
		return textBackendUnavailable, req.State.With(models.StateOpenAwaitingCPF, nil)
	}

	if req.Environment == models.EnvironmentWeb {
		return textAskPhone, req.State.With(models.StateOpenAwaitingPhone, actorData(*actor))
	}
	return fmt.Sprintf(textOpenAuthenticated, actor.Name),
		req.State.With(models.StateOpenAuthenticated, actorData(*actor))
}

func (f *OpenFlow) handleAwaitingPhone(_ context.Context, req models.TurnRequest) (string, *models.ChatState) {
	if !samePhone(req.Message, req.State.Get(models.DataKeyPhone)) {
		return textPhoneMismatch, req.State.Stay()
	}
	return fmt.Sprintf(textOpenAuthenticated, req.State.Get(models.DataKeyName)),
		req.State.With(models.StateOpenAuthenticated, nil)
}

func (f *OpenFlow) handleAuthenticated(ctx context.Context, req models.TurnRequest) models.TurnResponse {
	actor, ok := actorFromState(req.State)
	if !ok {
		return models.TurnResponse{
			Response:  textOpenWelcome,
			Success:   true,
			NextState: models.NewChatState(models.StateOpenAwaitingCPF),
		}
	}

	switch normalizeChoice(req.Message) {
	case "encerrar", "sair", "tchau", "fim":
		f.engine.EndConversation(actor.ID)
		return models.TurnResponse{
			Response:  textGoodbye,
			Success:   true,
			NextState: req.State.With(models.StateOpenEnd, nil),
		}
	}

	// The caller-supplied state is the source of truth for history; the
	// engine's session cache only covers callers that lost their state.
	answer, hist, err := f.engine.Answer(ctx, actor, req.Message, historyFromState(req.State))
	if err != nil {
		slog.Error("OpenFlow: engine failed", "error", err, "actor_id", actor.ID)
		resp := failure(textOpenUnavailable, err)
		resp.NextState = req.State.Stay()
		return resp
	}
	return models.TurnResponse{
		Response:  answer,
		Success:   true,
		NextState: req.State.With(models.StateOpenAuthenticated, historyData(hist)),
	}
}

// historyFromState deserializes the conversation history carried in the state
// data map. Missing or corrupt data returns nil, which lets the engine fall
// back to its own session cache.
func historyFromState(state *models.ChatState) models.History {
	raw := state.Get(models.DataKeyHistory)
	if raw == "" {
		return nil
	}
	var hist models.History
	if err := json.Unmarshal([]byte(raw), &hist); err != nil {
		slog.Warn("OpenFlow: discarding unreadable history from state", "error", err)
		return nil
	}
	return hist
}

func historyData(hist models.History) map[string]string {
	b, err := json.Marshal(hist)
	if err != nil {
		slog.Warn("OpenFlow: history not serializable", "error", err)
		return nil
	}
	return map[string]string{models.DataKeyHistory: string(b)}
}
