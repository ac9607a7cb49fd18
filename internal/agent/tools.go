package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/stagelink/chatbot/internal/backend"
	"github.com/stagelink/chatbot/internal/cache"
	"github.com/stagelink/chatbot/internal/match"
	"github.com/stagelink/chatbot/internal/metrics"
	"github.com/stagelink/chatbot/internal/models"
)

// resultTTL bounds tool-result memoization. Within one conversation the data
// is fresh enough; across conversations the entry has expired.
const resultTTL = 2 * time.Minute

// reportTTL bounds how long a generated report stays downloadable.
const reportTTL = 30 * time.Minute

// CatalogFor returns the tool definitions offered to the model for a role.
// Students see only their own data tools; coordinators additionally get the
// supervision and reporting tools.
func CatalogFor(role models.Role) []openai.ChatCompletionToolParam {
	tools := []openai.ChatCompletionToolParam{
		{
			Function: openai.FunctionDefinitionParam{
				Name:        string(models.ToolScheduledActivities),
				Description: openai.String("Lista as atividades de estágio agendadas do usuário"),
				Parameters: openai.FunctionParameters{
					"type":       "object",
					"properties": map[string]any{},
				},
			},
		},
		{
			Function: openai.FunctionDefinitionParam{
				Name:        string(models.ToolFindPerson),
				Description: openai.String("Localiza um preceptor ou profissional pelo nome, tolerando erros de digitação"),
				Parameters: openai.FunctionParameters{
					"type": "object",
					"properties": map[string]any{
						"name": map[string]any{
							"type":        "string",
							"description": "Nome (possivelmente incompleto ou com erros) da pessoa procurada",
						},
					},
					"required": []string{"name"},
				},
			},
		},
		{
			Function: openai.FunctionDefinitionParam{
				Name:        string(models.ToolMyInfo),
				Description: openai.String("Retorna os dados cadastrais do próprio usuário"),
				Parameters: openai.FunctionParameters{
					"type":       "object",
					"properties": map[string]any{},
				},
			},
		},
	}

	if role == models.RoleCoordinator {
		tools = append(tools,
			openai.ChatCompletionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        string(models.ToolOngoingActivities),
					Description: openai.String("Lista as atividades de estágio em andamento neste momento"),
					Parameters: openai.FunctionParameters{
						"type":       "object",
						"properties": map[string]any{},
					},
				},
			},
			openai.ChatCompletionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        string(models.ToolStudentsList),
					Description: openai.String("Lista os estagiários sob supervisão do coordenador"),
					Parameters: openai.FunctionParameters{
						"type":       "object",
						"properties": map[string]any{},
					},
				},
			},
			openai.ChatCompletionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        string(models.ToolGenerateReport),
					Description: openai.String("Gera um relatório para download a partir dos dados consultados nesta conversa"),
					Parameters: openai.FunctionParameters{
						"type": "object",
						"properties": map[string]any{
							"format": map[string]any{
								"type": "string",
								"enum": []string{"pdf", "csv", "txt"},
							},
						},
					},
				},
			},
		)
	}
	return tools
}

// Executor runs tool calls against the domain backend with per-(tool, actor)
// memoization and accumulates raw results for reporting and fallback
// rendering. Execute never fails: backend errors become a ToolError payload
// the model (or the fallback renderer) explains to the user.
type Executor struct {
	backend backend.ClientInterface
	results *cache.Cache[json.RawMessage]
	reports *cache.Cache[[]models.ToolExecution]
	log     *Accumulator
	metrics *metrics.Metrics
}

// NewExecutor creates a tool executor backed by the domain API client.
func NewExecutor(bc backend.ClientInterface, m *metrics.Metrics) *Executor {
	return &Executor{
		backend: bc,
		results: cache.New[json.RawMessage](resultTTL, 0),
		reports: cache.New[[]models.ToolExecution](reportTTL, 0),
		log:     NewAccumulator(),
		metrics: m,
	}
}

// Close releases the executor's caches.
func (e *Executor) Close() {
	e.results.Close()
	e.reports.Close()
	e.log.Close()
}

// Report returns the accumulated entries behind a report token, if it is
// still valid.
func (e *Executor) Report(token string) ([]models.ToolExecution, bool) {
	return e.reports.Get(token)
}

// Execute runs one tool call for the actor and returns the JSON payload to
// feed back to the model. The result is also appended to the actor's
// accumulation log.
func (e *Executor) Execute(ctx context.Context, actor models.Actor, call models.ToolCall) json.RawMessage {
	tool := models.ToolName(call.Function.Name)

	key := memoKey(tool, actor.ID, call.Function.Arguments)
	// generate_report is a side-effecting tool; memoizing it would hand the
	// same token out twice.
	if tool != models.ToolGenerateReport {
		if cached, ok := e.results.Get(key); ok {
			e.metrics.RecordToolCall(string(tool), "cached")
			e.metrics.RecordCacheHit("tool_results")
			// A hit is still this conversation's most recent result for the
			// tool: re-append so a log cleared since the original run is
			// repopulated, and dedup turns the repeat into a position refresh.
			e.log.Append(actor.ID, models.ToolExecution{
				Tool:      tool,
				Timestamp: time.Now(),
				Payload:   cached,
			})
			return cached
		}
		e.metrics.RecordCacheMiss("tool_results")
	}

	payload := e.run(ctx, actor, tool, call.Function.Arguments)

	var isErr bool
	var te models.ToolError
	if json.Unmarshal(payload, &te) == nil && te.Error != "" {
		isErr = true
	}
	if isErr {
		e.metrics.RecordToolCall(string(tool), "error")
	} else {
		e.metrics.RecordToolCall(string(tool), "success")
		if tool != models.ToolGenerateReport {
			e.results.SetDefault(key, payload)
		}
		e.log.Append(actor.ID, models.ToolExecution{
			Tool:      tool,
			Timestamp: time.Now(),
			Payload:   payload,
		})
	}
	return payload
}

// run dispatches to the concrete tool implementation.
func (e *Executor) run(ctx context.Context, actor models.Actor, tool models.ToolName, args json.RawMessage) json.RawMessage {
	switch tool {
	case models.ToolScheduledActivities:
		acts, err := e.backend.ScheduledActivities(ctx, actor.ID)
		if err != nil {
			return toolError("não foi possível consultar as atividades agendadas", err)
		}
		return mustJSON(acts)

	case models.ToolOngoingActivities:
		if actor.Role != models.RoleCoordinator {
			return toolError("esta consulta está disponível apenas para coordenadores", nil)
		}
		acts, err := e.backend.OngoingActivities(ctx, actor.ID)
		if err != nil {
			return toolError("não foi possível consultar as atividades em andamento", err)
		}
		return mustJSON(acts)

	case models.ToolFindPerson:
		var params models.FindPersonParams
		if err := json.Unmarshal(args, &params); err != nil || params.Name == "" {
			return toolError("o nome da pessoa procurada não foi informado", err)
		}
		params.ActorID = actor.ID
		roster, err := e.backend.Preceptors(ctx, actor.Organization)
		if err != nil {
			return toolError("não foi possível consultar o quadro de preceptores", err)
		}
		result := match.FindPerson(params.Name, roster)
		if result.Person != nil {
			sanitized := result.Person.Sanitized(actor)
			result.Person = &sanitized
		}
		return mustJSON(result)

	case models.ToolMyInfo:
		return e.myInfo(ctx, actor)

	case models.ToolStudentsList:
		if actor.Role != models.RoleCoordinator {
			return toolError("esta consulta está disponível apenas para coordenadores", nil)
		}
		students, err := e.backend.StudentsUnderCoordinator(ctx, actor.ID)
		if err != nil {
			return toolError("não foi possível consultar a lista de estagiários", err)
		}
		return mustJSON(students)

	case models.ToolGenerateReport:
		if actor.Role != models.RoleCoordinator {
			return toolError("a geração de relatórios está disponível apenas para coordenadores", nil)
		}
		var params models.GenerateReportParams
		if len(args) > 0 {
			if err := json.Unmarshal(args, &params); err != nil {
				slog.Warn("Executor.run: malformed generate_report arguments", "error", err)
			}
		}
		if params.Format == "" {
			params.Format = "pdf"
		}
		entries := e.log.All(actor.ID)
		if len(entries) == 0 {
			return toolError("não há dados consultados nesta conversa para gerar um relatório", nil)
		}
		handle := models.ReportHandle{
			Token:   uuid.NewString(),
			Format:  params.Format,
			Entries: len(entries),
		}
		e.reports.SetDefault(handle.Token, entries)
		slog.Info("Executor.run: report generated",
			"actor_id", actor.ID, "format", handle.Format, "entries", handle.Entries)
		return mustJSON(handle)

	default:
		return toolError(fmt.Sprintf("ferramenta desconhecida: %s", tool), nil)
	}
}

func (e *Executor) myInfo(ctx context.Context, actor models.Actor) json.RawMessage {
	switch actor.Role {
	case models.RoleStudent:
		s, err := e.backend.StudentByCPF(ctx, actor.CPF)
		if err != nil {
			return toolError("não foi possível consultar seus dados cadastrais", err)
		}
		return mustJSON(s)
	case models.RoleCoordinator:
		co, err := e.backend.CoordinatorByCPF(ctx, actor.CPF)
		if err != nil {
			return toolError("não foi possível consultar seus dados cadastrais", err)
		}
		return mustJSON(co)
	default:
		return toolError("perfil do usuário não identificado", nil)
	}
}

func memoKey(tool models.ToolName, actorID string, args json.RawMessage) string {
	return string(tool) + "|" + actorID + "|" + string(args)
}

func toolError(msg string, err error) json.RawMessage {
	if err != nil {
		slog.Warn("Executor: tool failed", "message", msg, "error", err)
	}
	return mustJSON(models.ToolError{Error: msg})
}

// mustJSON marshals values whose types are all JSON-safe; a failure here is a
// programming error, reported as a tool error rather than a panic.
func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(models.ToolError{Error: "falha interna ao montar o resultado"})
	}
	return b
}
