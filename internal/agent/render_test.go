package agent

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stagelink/chatbot/internal/models"
)

func exec(tool models.ToolName, v any) models.ToolExecution {
	payload, _ := json.Marshal(v)
	return models.ToolExecution{Tool: tool, Timestamp: time.Now(), Payload: payload}
}

func TestRenderFallbackActivities(t *testing.T) {
	out := RenderFallback([]models.ToolExecution{
		exec(models.ToolScheduledActivities, []models.Activity{
			{Name: "Plantão pediatria", StartsAt: time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC), Location: "Ala B"},
			{Name: "Reunião de equipe"},
		}),
	})
	if !strings.Contains(out, "Atividades agendadas (2)") {
		t.Errorf("missing header: %q", out)
	}
	if !strings.Contains(out, "Plantão pediatria — 01/09/2026 08:00 (Ala B)") {
		t.Errorf("missing formatted entry: %q", out)
	}
}

func TestRenderFallbackEmptyActivities(t *testing.T) {
	out := RenderFallback([]models.ToolExecution{
		exec(models.ToolOngoingActivities, []models.Activity{}),
	})
	if !strings.Contains(out, "nenhuma atividade encontrada") {
		t.Errorf("out = %q", out)
	}
}

func TestRenderFallbackPersonSuggestion(t *testing.T) {
	out := RenderFallback([]models.ToolExecution{
		exec(models.ToolFindPerson, models.PersonMatch{
			Kind:   models.PersonMatchSuggestion,
			Query:  "Joao Mendez",
			Person: &models.Person{Name: "Dr. João Mendes", Email: "joao@ex.br"},
		}),
	})
	if !strings.Contains(out, "Você quis dizer Dr. João Mendes?") {
		t.Errorf("out = %q", out)
	}
	if !strings.Contains(out, "joao@ex.br") {
		t.Errorf("missing contact: %q", out)
	}
}

func TestRenderFallbackPersonNone(t *testing.T) {
	out := RenderFallback([]models.ToolExecution{
		exec(models.ToolFindPerson, models.PersonMatch{Kind: models.PersonMatchNone, Query: "Xyz"}),
	})
	if !strings.Contains(out, "Não encontrei ninguém") {
		t.Errorf("out = %q", out)
	}
}

func TestRenderFallbackLargeStudentListOffersReport(t *testing.T) {
	students := make([]models.Student, 25)
	for i := range students {
		students[i] = models.Student{Name: "Aluno"}
	}
	out := RenderFallback([]models.ToolExecution{exec(models.ToolStudentsList, students)})
	if !strings.Contains(out, "25 estagiários") || !strings.Contains(out, "relatório") {
		t.Errorf("out = %q, want report offer", out)
	}
}

func TestRenderFallbackToolError(t *testing.T) {
	out := RenderFallback([]models.ToolExecution{
		exec(models.ToolScheduledActivities, models.ToolError{Error: "backend fora do ar"}),
	})
	if !strings.Contains(out, "backend fora do ar") {
		t.Errorf("out = %q", out)
	}
}

func TestRenderFallbackMalformedPayload(t *testing.T) {
	out := RenderFallback([]models.ToolExecution{
		{Tool: models.ToolScheduledActivities, Payload: json.RawMessage(`{{{not json`)},
	})
	if out == "" {
		t.Error("fallback must always return something")
	}
}

func TestRenderFallbackEmptyLog(t *testing.T) {
	out := RenderFallback(nil)
	if out == "" {
		t.Error("fallback must always return something")
	}
}

func TestRenderFallbackReport(t *testing.T) {
	out := RenderFallback([]models.ToolExecution{
		exec(models.ToolGenerateReport, models.ReportHandle{Token: "abc-123", Format: "csv", Entries: 4}),
	})
	if !strings.Contains(out, "CSV") || !strings.Contains(out, "abc-123") {
		t.Errorf("out = %q", out)
	}
}
