// Package agent implements the AI tool-orchestration engine behind the open
// chat flow.
//
// The engine drives a bounded tool-call loop against the model provider,
// executes data-fetch tools through the Executor, and degrades gracefully:
// when the model can no longer produce an answer but tools already ran, the
// deterministic renderer synthesizes a reply from the raw results.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
	"github.com/stagelink/chatbot/internal/cache"
	"github.com/stagelink/chatbot/internal/genai"
	"github.com/stagelink/chatbot/internal/metrics"
	"github.com/stagelink/chatbot/internal/models"
	"github.com/stagelink/chatbot/internal/store"
)

const (
	// maxToolRounds prevents infinite tool-call loops.
	maxToolRounds = 10
	// defaultHistoryLimit bounds per-actor history length in entries.
	defaultHistoryLimit = 30
	// historyTTL is the session continuity window: an actor returning within
	// it resumes their conversation even if the caller lost the state.
	historyTTL = 30 * time.Minute
)

const systemPromptTemplate = `Você é o assistente virtual da StageLink, a plataforma de gestão de estágios.
O usuário atual é %s (%s, instituição: %s).
Responda sempre em português do Brasil, de forma cordial e objetiva.
Use as ferramentas disponíveis para consultar dados reais antes de responder perguntas sobre atividades, pessoas ou cadastros.
Nunca invente dados: se uma consulta falhar, explique o que não foi possível obter.`

// Engine answers open-chat questions for an authenticated actor.
type Engine struct {
	genai        genai.ClientInterface
	executor     *Executor
	histories    *cache.Cache[models.History]
	usage        store.UsageStore
	metrics      *metrics.Metrics
	recovery     RecoveryPolicy
	historyLimit int
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithUsageStore enables audit logging of answered turns.
func WithUsageStore(s store.UsageStore) EngineOption {
	return func(e *Engine) { e.usage = s }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithRecoveryPolicy overrides the empty-response retry budget.
func WithRecoveryPolicy(p RecoveryPolicy) EngineOption {
	return func(e *Engine) { e.recovery = p }
}

// WithHistoryLimit overrides the per-actor history entry budget.
func WithHistoryLimit(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.historyLimit = n
		}
	}
}

// NewEngine creates the orchestration engine.
func NewEngine(gc genai.ClientInterface, executor *Executor, opts ...EngineOption) *Engine {
	e := &Engine{
		genai:        gc,
		executor:     executor,
		histories:    cache.New[models.History](historyTTL, 0),
		recovery:     DefaultRecoveryPolicy,
		historyLimit: defaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Close releases the engine's caches. The executor is owned by the caller.
func (e *Engine) Close() {
	e.histories.Close()
}

// Executor exposes the engine's tool executor, used by the API layer to
// serve report downloads.
func (e *Engine) Executor() *Executor {
	return e.executor
}

// EndConversation drops the actor's cached history and accumulated results.
func (e *Engine) EndConversation(actorID string) {
	e.histories.Delete(actorID)
	e.executor.log.Clear(actorID)
}

// Answer processes one question for the actor. A nil hist falls back to the
// engine's cached history for the actor, so a caller that lost its state
// resumes the session. The returned history already includes this turn.
//
// Answer returns an error only when the model fails before any tool produced
// data; once tool results exist, it always returns a rendered answer.
func (e *Engine) Answer(ctx context.Context, actor models.Actor, question string, hist models.History) (string, models.History, error) {
	if strings.TrimSpace(question) == "" {
		return "", hist, models.ErrEmptyMessage
	}
	if e.genai == nil {
		return "", hist, fmt.Errorf("Engine.Answer: no model client configured")
	}
	start := time.Now()

	if hist == nil {
		if cached, ok := e.histories.Get(actor.ID); ok {
			hist = cached
			e.metrics.RecordCacheHit("history")
		} else {
			e.metrics.RecordCacheMiss("history")
		}
	}
	hist = hist.AppendUser(question).Trim(e.historyLimit)

	messages := e.buildMessages(actor, hist)
	tools := CatalogFor(actor.Role)

	var (
		turnExecs    []models.ToolExecution
		toolsInvoked []string
		usage        genai.TokenUsage
		estimated    bool
		usedFallback bool
		model        string
		extraCalls   int
	)

	finish := func(answer string) (string, models.History, error) {
		hist = hist.AppendAssistant(answer)
		e.histories.SetDefault(actor.ID, hist)
		e.recordUsage(ctx, actor, models.UsageRecord{
			ActorID:          actor.ID,
			Model:            model,
			FallbackModel:    usedFallback,
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TokensEstimated:  estimated,
			ToolsInvoked:     toolsInvoked,
			ExtraCalls:       extraCalls,
			LatencyMS:        time.Since(start).Milliseconds(),
			EstimatedCostUSD: genai.Cost(model, usage),
			CreatedAt:        time.Now().UTC(),
		})
		return answer, hist, nil
	}

	for round := 1; round <= maxToolRounds; round++ {
		resp, err := e.genai.GenerateWithTools(ctx, messages, tools)
		if err != nil {
			e.metrics.RecordModelCall(model, "error")
			if len(turnExecs) > 0 {
				slog.Warn("Engine.Answer: model failed after tool results, rendering fallback",
					"actor_id", actor.ID, "round", round, "error", err)
				return finish(RenderFallback(turnExecs))
			}
			return "", hist, fmt.Errorf("Engine.Answer: model call failed: %w", err)
		}

		model = resp.Model
		usage.PromptTokens += resp.Usage.PromptTokens
		usage.CompletionTokens += resp.Usage.CompletionTokens
		estimated = estimated || resp.UsageEstimated
		e.metrics.RecordModelCall(resp.Model, "success")
		e.metrics.RecordTokens(resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		if resp.UsedFallback && !usedFallback {
			usedFallback = true
			e.metrics.RecordModelFallback()
		}

		if len(resp.ToolCalls) > 0 {
			messages, hist = e.runToolCalls(ctx, actor, resp.Content, resp.ToolCalls, messages, hist, &turnExecs, &toolsInvoked)
			if resp.Content != "" {
				// History already carries the tool block; the content is the
				// final user-facing message for this turn.
				return finish(resp.Content)
			}
			continue
		}

		if resp.Content != "" {
			return finish(resp.Content)
		}

		// Empty response: neither content nor tool calls.
		if extraCalls >= e.recovery.MaxExtraCalls {
			slog.Warn("Engine.Answer: empty-response budget exhausted",
				"actor_id", actor.ID, "round", round, "extra_calls", extraCalls)
			return finish(RenderFallback(turnExecs))
		}
		extraCalls++

		if actor.Role == models.RoleCoordinator && wantsReport(question) &&
			!invoked(toolsInvoked, models.ToolGenerateReport) && len(turnExecs) > 0 {
			// The model stalled on a report request with data already in
			// hand: run the report directly instead of retrying blind.
			forced := models.ToolCall{
				ID:   "call_forced_report",
				Type: "function",
				Function: models.FunctionCall{
					Name:      string(models.ToolGenerateReport),
					Arguments: []byte(`{}`),
				},
			}
			slog.Info("Engine.Answer: forcing report generation on empty response", "actor_id", actor.ID)
			messages, hist = e.runToolCalls(ctx, actor, "", []models.ToolCall{forced}, messages, hist, &turnExecs, &toolsInvoked)
			continue
		}

		messages = append(messages, openai.UserMessage(nudgePrompt))
	}

	slog.Warn("Engine.Answer: hit maximum tool rounds", "actor_id", actor.ID, "max_rounds", maxToolRounds)
	return finish(RenderFallback(turnExecs))
}

// runToolCalls executes each call, appends the assistant tool-call entry and
// the paired results to both the provider message list and the history, and
// tracks the turn's executions.
func (e *Engine) runToolCalls(ctx context.Context, actor models.Actor, content string, calls []models.ToolCall, messages []openai.ChatCompletionMessageParamUnion, hist models.History, turnExecs *[]models.ToolExecution, toolsInvoked *[]string) ([]openai.ChatCompletionMessageParamUnion, models.History) {
	var toolCallParams []openai.ChatCompletionMessageToolCallParam
	for _, call := range calls {
		toolCallParams = append(toolCallParams, openai.ChatCompletionMessageToolCallParam{
			ID:   call.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      call.Function.Name,
				Arguments: string(call.Function.Arguments),
			},
		})
	}
	messages = append(messages, openai.ChatCompletionMessageParamUnion{
		OfAssistant: &openai.ChatCompletionAssistantMessageParam{
			Content:   openai.ChatCompletionAssistantMessageParamContentUnion{OfString: param.NewOpt(content)},
			ToolCalls: toolCallParams,
		},
	})
	hist = append(hist, models.ChatEntry{
		Role:      models.EntryRoleAssistant,
		Content:   content,
		ToolCalls: calls,
		Timestamp: time.Now(),
	})

	for _, call := range calls {
		payload := e.executor.Execute(ctx, actor, call)
		messages = append(messages, openai.ToolMessage(string(payload), call.ID))
		hist = append(hist, models.ChatEntry{
			Role:       models.EntryRoleTool,
			Content:    string(payload),
			ToolCallID: call.ID,
			Timestamp:  time.Now(),
		})
		*turnExecs = append(*turnExecs, models.ToolExecution{
			Tool:      models.ToolName(call.Function.Name),
			Timestamp: time.Now(),
			Payload:   payload,
		})
		if !invoked(*toolsInvoked, models.ToolName(call.Function.Name)) {
			*toolsInvoked = append(*toolsInvoked, call.Function.Name)
		}
	}
	return messages, hist
}

// buildMessages converts the persona prompt plus history into provider
// messages, preserving tool-call pairing.
func (e *Engine) buildMessages(actor models.Actor, hist models.History) []openai.ChatCompletionMessageParamUnion {
	roleLabel := "estudante"
	if actor.Role == models.RoleCoordinator {
		roleLabel = "coordenador(a) de estágio"
	}
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(fmt.Sprintf(systemPromptTemplate, actor.Name, roleLabel, actor.Organization)),
	}

	for _, entry := range hist {
		switch entry.Role {
		case models.EntryRoleUser:
			messages = append(messages, openai.UserMessage(entry.Content))
		case models.EntryRoleAssistant:
			if len(entry.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(entry.Content))
				continue
			}
			var toolCallParams []openai.ChatCompletionMessageToolCallParam
			for _, call := range entry.ToolCalls {
				toolCallParams = append(toolCallParams, openai.ChatCompletionMessageToolCallParam{
					ID:   call.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Function.Name,
						Arguments: string(call.Function.Arguments),
					},
				})
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Content:   openai.ChatCompletionAssistantMessageParamContentUnion{OfString: param.NewOpt(entry.Content)},
					ToolCalls: toolCallParams,
				},
			})
		case models.EntryRoleTool:
			messages = append(messages, openai.ToolMessage(entry.Content, entry.ToolCallID))
		}
	}
	return messages
}

func (e *Engine) recordUsage(ctx context.Context, actor models.Actor, rec models.UsageRecord) {
	if e.usage == nil {
		return
	}
	if err := e.usage.AddUsage(ctx, rec); err != nil {
		slog.Error("Engine.recordUsage: audit insert failed", "error", err, "actor_id", actor.ID)
	}
}

func invoked(tools []string, name models.ToolName) bool {
	for _, t := range tools {
		if t == string(name) {
			return true
		}
	}
	return false
}
