package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/stagelink/chatbot/internal/genai"
	"github.com/stagelink/chatbot/internal/handoff"
	"github.com/stagelink/chatbot/internal/metrics"
	"github.com/stagelink/chatbot/internal/models"
)

const summarySystemPrompt = "Você resume conversas de suporte para atendentes humanos. " +
	"Escreva em português, em no máximo três frases, o que o usuário precisa. " +
	"Não invente informações que não estejam na conversa."

// summaryRejectMarkers flag model output that cannot be forwarded to an
// agent: refusals and the provider's deprecated-endpoint notice both arrive
// as normal content.
var summaryRejectMarkers = []string{
	"deprecated",
	"não posso ajudar",
	"i cannot",
	"i can't",
}

// Escalation transfers a conversation to a human agent: it summarizes the
// transcript for the agent and opens a queue ticket. Escalation is one-shot:
// the outcome message is delivered exactly once and is never retried, even
// when no agent could be found.
type Escalation struct {
	genai   genai.ClientInterface
	handoff *handoff.Service
	metrics *metrics.Metrics
}

// NewEscalation creates the escalation service. genai may be nil, in which
// case summaries always use the deterministic template.
func NewEscalation(gc genai.ClientInterface, h *handoff.Service, m *metrics.Metrics) *Escalation {
	return &Escalation{genai: gc, handoff: h, metrics: m}
}

// Escalate opens a ticket for the actor and returns the user-facing outcome
// message. The boolean reports whether a ticket was actually opened; either
// way the message is final and the caller ends the conversation.
func (e *Escalation) Escalate(ctx context.Context, actor models.Actor, reason, transcript string) (string, bool) {
	summary := e.summarize(ctx, actor, reason, transcript)

	ticket, err := e.handoff.OpenTicket(ctx, actor, reason, summary)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			e.metrics.RecordEscalation("no_agent")
			slog.Warn("Escalation.Escalate: no agent for organization",
				"organization", actor.Organization)
			return textNoAgentAvailable, false
		}
		e.metrics.RecordEscalation("error")
		slog.Error("Escalation.Escalate: ticket failed", "error", err)
		return textNoAgentAvailable, false
	}

	e.metrics.RecordEscalation("opened")
	return fmt.Sprintf("Você foi transferido(a) para atendimento humano. 🧑‍💼\n"+
		"Atendente: %s (e-mail: %s)\n"+
		"Sua posição na fila: %d\n"+
		"Protocolo: %s\n"+
		"Em instantes %s falará com você.",
		ticket.AgentName, ticket.AgentEmail, ticket.QueuePosition, ticket.ID, ticket.AgentName), true
}

// summarize asks the model for a short handoff summary and falls back to a
// deterministic template when the model fails or produces unusable output.
func (e *Escalation) summarize(ctx context.Context, actor models.Actor, reason, transcript string) string {
	fallback := deterministicSummary(actor, reason)
	if e.genai == nil || transcript == "" {
		return fallback
	}

	summary, err := e.genai.GenerateWithMessages(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(summarySystemPrompt),
		openai.UserMessage(fmt.Sprintf("Motivo da transferência: %s\n\nConversa:\n%s", reason, transcript)),
	})
	if err != nil {
		slog.Warn("Escalation.summarize: model failed, using template", "error", err)
		return fallback
	}
	summary = strings.TrimSpace(summary)
	if summary == "" || rejectedSummary(summary) {
		slog.Warn("Escalation.summarize: unusable summary, using template")
		return fallback
	}
	return summary
}

func rejectedSummary(s string) bool {
	lower := strings.ToLower(s)
	for _, marker := range summaryRejectMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func deterministicSummary(actor models.Actor, reason string) string {
	role := "estudante"
	if actor.Role == models.RoleCoordinator {
		role = "coordenador(a)"
	}
	name := actor.Name
	if name == "" {
		name = "usuário não identificado"
	}
	return fmt.Sprintf("%s (%s, instituição: %s) solicitou atendimento humano. Motivo: %s.",
		name, role, actor.Organization, reason)
}
