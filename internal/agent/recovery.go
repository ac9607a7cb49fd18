package agent

import "strings"

// RecoveryPolicy bounds the extra model calls spent when the model returns an
// empty answer. The budget covers the whole turn, not each occurrence.
type RecoveryPolicy struct {
	MaxExtraCalls int
}

// DefaultRecoveryPolicy allows at most two extra model calls per turn.
var DefaultRecoveryPolicy = RecoveryPolicy{MaxExtraCalls: 2}

// nudgePrompt is injected as a synthetic user turn when the model answers
// with neither content nor tool calls, asking it to produce a reply.
const nudgePrompt = "Sua resposta anterior veio vazia. Responda ao usuário em português, " +
	"resumindo os dados já consultados ou explicando o que falta."

var reportMarkers = []string{
	"relatório",
	"relatorio",
	"planilha",
	"exportar",
	"download",
}

// wantsReport reports whether the question is asking for a downloadable
// report, which lets the recovery path force a generate_report call instead
// of burning the budget on blind retries.
func wantsReport(question string) bool {
	q := strings.ToLower(question)
	for _, marker := range reportMarkers {
		if strings.Contains(q, marker) {
			return true
		}
	}
	return false
}
