package flow

import (
	"context"
	"strings"
	"testing"

	"github.com/openai/openai-go"
	"github.com/stagelink/chatbot/internal/agent"
	"github.com/stagelink/chatbot/internal/genai"
	"github.com/stagelink/chatbot/internal/models"
)

// echoModel answers every question with a fixed reply and no tool calls.
type echoModel struct {
	reply string
	calls int
}

func (m *echoModel) GenerateWithMessages(_ context.Context, _ []openai.ChatCompletionMessageParamUnion) (string, error) {
	m.calls++
	return m.reply, nil
}

func (m *echoModel) GenerateWithTools(_ context.Context, _ []openai.ChatCompletionMessageParamUnion, _ []openai.ChatCompletionToolParam) (*genai.ToolCallResponse, error) {
	m.calls++
	return &genai.ToolCallResponse{Model: "gpt-4o", Content: m.reply}, nil
}

func newOpenFlow(t *testing.T, b *stubBackend, model genai.ClientInterface) *OpenFlow {
	t.Helper()
	executor := agent.NewExecutor(b, nil)
	t.Cleanup(executor.Close)
	engine := agent.NewEngine(model, executor)
	t.Cleanup(engine.Close)
	return NewOpenFlow(b, engine, nil)
}

func TestOpenFlowAuthentication(t *testing.T) {
	f := newOpenFlow(t, &stubBackend{student: testStudent()}, &echoModel{reply: "Posso ajudar!"})

	r := turn(t, f, "oi", nil, models.EnvironmentMobile)
	if r.NextState.Current != models.StateOpenAwaitingCPF {
		t.Fatalf("state = %s", r.NextState.Current)
	}

	r = turn(t, f, "12345678901", r.NextState, models.EnvironmentMobile)
	if r.NextState.Current != models.StateOpenAuthenticated {
		t.Fatalf("state = %s", r.NextState.Current)
	}
	if !strings.Contains(r.Response, "Maria Souza") {
		t.Errorf("response = %q", r.Response)
	}
}

func TestOpenFlowWebAsksPhone(t *testing.T) {
	f := newOpenFlow(t, &stubBackend{student: testStudent()}, &echoModel{reply: "ok"})

	r := turn(t, f, "oi", nil, models.EnvironmentWeb)
	r = turn(t, f, "12345678901", r.NextState, models.EnvironmentWeb)
	if r.NextState.Current != models.StateOpenAwaitingPhone {
		t.Fatalf("state = %s, want phone confirmation on web", r.NextState.Current)
	}

	r = turn(t, f, "5511912345678", r.NextState, models.EnvironmentWeb)
	if r.NextState.Current != models.StateOpenAuthenticated {
		t.Errorf("state = %s", r.NextState.Current)
	}
}

func TestOpenFlowActorHintSkipsCPFQuestion(t *testing.T) {
	f := newOpenFlow(t, &stubBackend{student: testStudent()}, &echoModel{reply: "ok"})

	r := f.ProcessTurn(context.Background(), models.TurnRequest{
		Message:     "oi",
		Environment: models.EnvironmentMobile,
		ActorHint:   &models.ActorHint{CPF: "123.456.789-01"},
	})
	if r.NextState.Current != models.StateOpenAuthenticated {
		t.Errorf("state = %s, want authenticated from hint", r.NextState.Current)
	}
}

func TestOpenFlowUnknownCPFReprompts(t *testing.T) {
	f := newOpenFlow(t, &stubBackend{}, &echoModel{reply: "ok"})

	r := turn(t, f, "oi", nil, models.EnvironmentMobile)
	r = turn(t, f, "99999999999", r.NextState, models.EnvironmentMobile)
	if r.NextState.Current != models.StateOpenAwaitingCPF {
		t.Errorf("state = %s, want to keep asking CPF", r.NextState.Current)
	}
	if !strings.Contains(r.Response, "Não encontrei") {
		t.Errorf("response = %q", r.Response)
	}
}

func TestOpenFlowAnswersThroughEngine(t *testing.T) {
	model := &echoModel{reply: "Você tem um plantão amanhã."}
	f := newOpenFlow(t, &stubBackend{student: testStudent()}, model)

	r := turn(t, f, "oi", nil, models.EnvironmentMobile)
	r = turn(t, f, "12345678901", r.NextState, models.EnvironmentMobile)
	r = turn(t, f, "quais minhas atividades?", r.NextState, models.EnvironmentMobile)
	if r.Response != "Você tem um plantão amanhã." {
		t.Errorf("response = %q", r.Response)
	}
	if model.calls != 1 {
		t.Errorf("model calls = %d, want 1", model.calls)
	}
	if r.NextState.Current != models.StateOpenAuthenticated {
		t.Errorf("state = %s", r.NextState.Current)
	}
}

func TestOpenFlowCarriesHistoryInState(t *testing.T) {
	f := newOpenFlow(t, &stubBackend{student: testStudent()}, &echoModel{reply: "Anotado."})

	r := turn(t, f, "oi", nil, models.EnvironmentMobile)
	r = turn(t, f, "12345678901", r.NextState, models.EnvironmentMobile)
	r = turn(t, f, "tenho plantão amanhã?", r.NextState, models.EnvironmentMobile)
	if r.NextState.Get(models.DataKeyHistory) == "" {
		t.Fatal("state must carry the serialized history")
	}

	// A different flow instance has an empty session cache, so only the
	// caller-supplied state can restore the conversation.
	f2 := newOpenFlow(t, &stubBackend{student: testStudent()}, &echoModel{reply: "Sim, às 8h."})
	r = turn(t, f2, "a que horas?", r.NextState, models.EnvironmentMobile)

	hist := r.NextState.Get(models.DataKeyHistory)
	if !strings.Contains(hist, "plantão amanhã") || !strings.Contains(hist, "a que horas") {
		t.Errorf("history = %s, want both turns preserved across instances", hist)
	}
}

func TestOpenFlowEmptyMessageReprompts(t *testing.T) {
	f := newOpenFlow(t, &stubBackend{student: testStudent()}, &echoModel{reply: "ok"})
	r := turn(t, f, "   ", nil, models.EnvironmentMobile)
	if !r.Success || r.Error != "" {
		t.Errorf("empty message must recover in place, got %+v", r)
	}
	if !strings.Contains(r.Response, "Não recebi") {
		t.Errorf("response = %q", r.Response)
	}
}

func TestOpenFlowGoodbyeEndsSession(t *testing.T) {
	f := newOpenFlow(t, &stubBackend{student: testStudent()}, &echoModel{reply: "ok"})

	r := turn(t, f, "oi", nil, models.EnvironmentMobile)
	r = turn(t, f, "12345678901", r.NextState, models.EnvironmentMobile)
	r = turn(t, f, "encerrar", r.NextState, models.EnvironmentMobile)
	if r.NextState.Current != models.StateOpenEnd {
		t.Errorf("state = %s, want OPEN_END", r.NextState.Current)
	}
	if !strings.Contains(r.Response, "encerrado") {
		t.Errorf("response = %q", r.Response)
	}
}
