package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stagelink/chatbot/internal/models"
)

// reportOfferThreshold is the list size above which the renderer offers a
// report instead of flooding the chat with entries.
const reportOfferThreshold = 20

// RenderFallback turns raw tool results into a readable answer without any
// model call. It is the deterministic last line of defense when the final
// model call fails after tools already ran: it must always return something
// presentable and must never panic.
func RenderFallback(execs []models.ToolExecution) (out string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("RenderFallback: recovered from panic", "panic", r)
			out = "Aqui está o que consegui consultar, mas tive um problema ao organizar a resposta. Pode repetir a pergunta?"
		}
	}()

	if len(execs) == 0 {
		return "Não consegui elaborar uma resposta agora. Pode tentar novamente em instantes?"
	}

	var sections []string
	for _, exec := range execs {
		if section := renderExecution(exec); section != "" {
			sections = append(sections, section)
		}
	}
	if len(sections) == 0 {
		return "Não consegui elaborar uma resposta agora. Pode tentar novamente em instantes?"
	}
	return strings.Join(sections, "\n\n")
}

// renderExecution formats one tool result. Unknown tools and malformed
// payloads degrade to a generic line instead of failing.
func renderExecution(exec models.ToolExecution) string {
	var te models.ToolError
	if err := json.Unmarshal(exec.Payload, &te); err == nil && te.Error != "" {
		return "Não consegui concluir uma das consultas: " + te.Error + "."
	}

	switch exec.Tool {
	case models.ToolScheduledActivities:
		return renderActivities(exec.Payload, "Atividades agendadas")
	case models.ToolOngoingActivities:
		return renderActivities(exec.Payload, "Atividades em andamento")
	case models.ToolFindPerson:
		return renderPersonMatch(exec.Payload)
	case models.ToolMyInfo:
		return renderMyInfo(exec.Payload)
	case models.ToolStudentsList:
		return renderStudents(exec.Payload)
	case models.ToolGenerateReport:
		return renderReport(exec.Payload)
	default:
		return "Consegui consultar os dados solicitados, mas não consegui resumi-los agora."
	}
}

func renderActivities(payload json.RawMessage, title string) string {
	var acts []models.Activity
	if err := json.Unmarshal(payload, &acts); err != nil {
		return ""
	}
	if len(acts) == 0 {
		return title + ": nenhuma atividade encontrada."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d):\n", title, len(acts))
	for _, a := range acts {
		fmt.Fprintf(&b, "• %s", a.Name)
		if !a.StartsAt.IsZero() {
			fmt.Fprintf(&b, " — %s", a.StartsAt.Format("02/01/2006 15:04"))
		}
		if a.Location != "" {
			fmt.Fprintf(&b, " (%s)", a.Location)
		}
		if a.Preceptor != "" {
			fmt.Fprintf(&b, ", preceptor: %s", a.Preceptor)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderPersonMatch(payload json.RawMessage) string {
	var m models.PersonMatch
	if err := json.Unmarshal(payload, &m); err != nil {
		return ""
	}
	switch m.Kind {
	case models.PersonMatchExact:
		return "Encontrei a pessoa procurada:\n" + renderPerson(m.Person)
	case models.PersonMatchSuggestion:
		if m.Person == nil {
			return fmt.Sprintf("Não encontrei %q no quadro.", m.Query)
		}
		return fmt.Sprintf("Não encontrei exatamente %q. Você quis dizer %s?\n%s",
			m.Query, m.Person.Name, renderPerson(m.Person))
	default:
		return fmt.Sprintf("Não encontrei ninguém parecido com %q no quadro de profissionais.", m.Query)
	}
}

func renderPerson(p *models.Person) string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "• %s", p.Name)
	if p.Email != "" {
		fmt.Fprintf(&b, "\n  E-mail: %s", p.Email)
	}
	if p.Phone != "" {
		fmt.Fprintf(&b, "\n  Telefone: %s", p.Phone)
	}
	if len(p.Groups) > 0 {
		fmt.Fprintf(&b, "\n  Turmas: %s", strings.Join(p.Groups, ", "))
	}
	return b.String()
}

func renderMyInfo(payload json.RawMessage) string {
	var info struct {
		Name         string `json:"name"`
		Email        string `json:"email"`
		Phone        string `json:"phone"`
		Organization string `json:"organization"`
	}
	if err := json.Unmarshal(payload, &info); err != nil || info.Name == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString("Seus dados cadastrais:\n")
	fmt.Fprintf(&b, "• Nome: %s\n", info.Name)
	if info.Email != "" {
		fmt.Fprintf(&b, "• E-mail: %s\n", info.Email)
	}
	if info.Phone != "" {
		fmt.Fprintf(&b, "• Telefone: %s\n", info.Phone)
	}
	if info.Organization != "" {
		fmt.Fprintf(&b, "• Instituição: %s\n", info.Organization)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderStudents(payload json.RawMessage) string {
	var students []models.Student
	if err := json.Unmarshal(payload, &students); err != nil {
		return ""
	}
	if len(students) == 0 {
		return "Nenhum estagiário encontrado sob sua supervisão."
	}
	if len(students) > reportOfferThreshold {
		return fmt.Sprintf("Você supervisiona %d estagiários. A lista é extensa; quer que eu gere um relatório para download?", len(students))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Estagiários sob sua supervisão (%d):\n", len(students))
	for _, s := range students {
		fmt.Fprintf(&b, "• %s", s.Name)
		if s.Email != "" {
			fmt.Fprintf(&b, " — %s", s.Email)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderReport(payload json.RawMessage) string {
	var h models.ReportHandle
	if err := json.Unmarshal(payload, &h); err != nil || h.Token == "" {
		return ""
	}
	return fmt.Sprintf("Relatório em %s gerado com %d registro(s). Use o código %s para baixá-lo.",
		strings.ToUpper(h.Format), h.Entries, h.Token)
}
