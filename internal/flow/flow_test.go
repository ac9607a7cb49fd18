package flow

import (
	"context"
	"strings"
	"testing"

	"github.com/stagelink/chatbot/internal/handoff"
	"github.com/stagelink/chatbot/internal/models"
)

// stubBackend serves a fixed student and coordinator for flow tests.
type stubBackend struct {
	student     *models.Student
	coordinator *models.Coordinator
	students    []models.Student
	activities  []models.Activity
	preceptors  []models.Person
}

func (b *stubBackend) StudentByCPF(_ context.Context, cpf string) (*models.Student, error) {
	if b.student != nil && b.student.CPF == cpf {
		return b.student, nil
	}
	return nil, models.ErrNotFound
}

func (b *stubBackend) CoordinatorByCPF(_ context.Context, cpf string) (*models.Coordinator, error) {
	if b.coordinator != nil && b.coordinator.CPF == cpf {
		return b.coordinator, nil
	}
	return nil, models.ErrNotFound
}

func (b *stubBackend) ResolveActor(_ context.Context, cpf string) (*models.Actor, error) {
	if s, err := b.StudentByCPF(context.Background(), cpf); err == nil {
		return &models.Actor{ID: s.ID, Role: models.RoleStudent, Name: s.Name, CPF: s.CPF,
			Phone: s.Phone, Organization: s.Organization}, nil
	}
	if co, err := b.CoordinatorByCPF(context.Background(), cpf); err == nil {
		return &models.Actor{ID: co.ID, Role: models.RoleCoordinator, Name: co.Name, CPF: co.CPF,
			Phone: co.Phone, Organization: co.Organization}, nil
	}
	return nil, models.ErrNotFound
}

func (b *stubBackend) ScheduledActivities(_ context.Context, _ string) ([]models.Activity, error) {
	return b.activities, nil
}

func (b *stubBackend) OngoingActivities(_ context.Context, _ string) ([]models.Activity, error) {
	return b.activities, nil
}

func (b *stubBackend) Preceptors(_ context.Context, _ string) ([]models.Person, error) {
	return b.preceptors, nil
}

func (b *stubBackend) StudentsUnderCoordinator(_ context.Context, _ string) ([]models.Student, error) {
	return b.students, nil
}

func testStudent() *models.Student {
	return &models.Student{
		ID: "s1", Name: "Maria Souza", CPF: "12345678901",
		Phone: "+55 11 91234-5678", Organization: "Hospital Central",
	}
}

func newMenuFlow(t *testing.T, b *stubBackend) *MenuFlow {
	t.Helper()
	repo := handoff.NewMemoryAgentRepo()
	repo.Upsert(context.Background(), handoff.Agent{Name: "Paula", Email: "paula@ex.br", Organization: "Hospital Central"})
	esc := NewEscalation(nil, handoff.NewService(repo), nil)
	return NewMenuFlow(b, esc, nil)
}

func turn(t *testing.T, f Flow, msg string, state *models.ChatState, env models.Environment) models.TurnResponse {
	t.Helper()
	return f.ProcessTurn(context.Background(), models.TurnRequest{
		Message: msg, State: state, Environment: env,
	})
}

// walkToMenu authenticates a mobile student up to the menu state.
func walkToMenu(t *testing.T, f *MenuFlow) *models.ChatState {
	t.Helper()
	r := turn(t, f, "oi", nil, models.EnvironmentMobile)
	r = turn(t, f, "1", r.NextState, models.EnvironmentMobile)
	r = turn(t, f, "123.456.789-01", r.NextState, models.EnvironmentMobile)
	if r.NextState.Current != models.StateStudentMenu {
		t.Fatalf("expected student menu, got %s", r.NextState.Current)
	}
	return r.NextState
}

func TestMenuFlowGreeting(t *testing.T) {
	f := newMenuFlow(t, &stubBackend{student: testStudent()})
	r := turn(t, f, "oi", nil, models.EnvironmentMobile)
	if !r.Success || !strings.Contains(r.Response, "Estudante") {
		t.Errorf("response = %+v", r)
	}
	if r.NextState.Current != models.StateAwaitingUserType {
		t.Errorf("state = %s", r.NextState.Current)
	}
}

func TestMenuFlowInvalidCPFReprompts(t *testing.T) {
	f := newMenuFlow(t, &stubBackend{student: testStudent()})
	r := turn(t, f, "oi", nil, models.EnvironmentMobile)
	r = turn(t, f, "1", r.NextState, models.EnvironmentMobile)

	before := r.NextState
	r = turn(t, f, "123456", before, models.EnvironmentMobile)
	if r.NextState.Current != before.Current {
		t.Errorf("invalid CPF changed state: %s -> %s", before.Current, r.NextState.Current)
	}
	if !strings.Contains(r.Response, "11 dígitos") {
		t.Errorf("response = %q", r.Response)
	}
}

func TestMenuFlowFormattedCPFAccepted(t *testing.T) {
	f := newMenuFlow(t, &stubBackend{student: testStudent()})
	r := turn(t, f, "oi", nil, models.EnvironmentMobile)
	r = turn(t, f, "estudante", r.NextState, models.EnvironmentMobile)
	r = turn(t, f, "123.456.789-01", r.NextState, models.EnvironmentMobile)
	if r.NextState.Current != models.StateStudentMenu {
		t.Errorf("state = %s, want student menu", r.NextState.Current)
	}
	if !strings.Contains(r.Response, "Maria Souza") {
		t.Errorf("response = %q", r.Response)
	}
}

func TestMenuFlowWebRequiresPhoneConfirmation(t *testing.T) {
	f := newMenuFlow(t, &stubBackend{student: testStudent()})
	r := turn(t, f, "oi", nil, models.EnvironmentWeb)
	r = turn(t, f, "1", r.NextState, models.EnvironmentWeb)
	r = turn(t, f, "12345678901", r.NextState, models.EnvironmentWeb)
	if r.NextState.Current != models.StateAwaitingStudentPhone {
		t.Fatalf("state = %s, want phone confirmation", r.NextState.Current)
	}

	// Wrong phone re-prompts in place.
	wrong := turn(t, f, "11 99999-0000", r.NextState, models.EnvironmentWeb)
	if wrong.NextState.Current != models.StateAwaitingStudentPhone {
		t.Errorf("wrong phone advanced state to %s", wrong.NextState.Current)
	}

	// Formatting differences don't matter, only digits do.
	ok := turn(t, f, "5511912345678", r.NextState, models.EnvironmentWeb)
	if ok.NextState.Current != models.StateStudentMenu {
		t.Errorf("state = %s, want student menu", ok.NextState.Current)
	}
}

func TestMenuFlowMobileSkipsPhoneConfirmation(t *testing.T) {
	f := newMenuFlow(t, &stubBackend{student: testStudent()})
	walkToMenu(t, f)
}

func TestMenuFlowUnknownCPFOffersRegistration(t *testing.T) {
	f := newMenuFlow(t, &stubBackend{})
	r := turn(t, f, "oi", nil, models.EnvironmentMobile)
	r = turn(t, f, "1", r.NextState, models.EnvironmentMobile)
	r = turn(t, f, "99999999999", r.NextState, models.EnvironmentMobile)
	if r.NextState.Current != models.StateAwaitingNewUserDetails {
		t.Fatalf("state = %s", r.NextState.Current)
	}
	r = turn(t, f, "Ana Pereira, ana@ex.br", r.NextState, models.EnvironmentMobile)
	if r.NextState.Current != models.StateEnd {
		t.Errorf("state = %s, want END", r.NextState.Current)
	}
	if !strings.Contains(r.Response, "Encaminhei") {
		t.Errorf("response = %q", r.Response)
	}
}

func TestMenuFlowInvalidOptionIsIdempotent(t *testing.T) {
	f := newMenuFlow(t, &stubBackend{student: testStudent()})
	menu := walkToMenu(t, f)

	r1 := turn(t, f, "99", menu, models.EnvironmentMobile)
	r2 := turn(t, f, "99", r1.NextState, models.EnvironmentMobile)
	if r1.NextState.Current != menu.Current || r2.NextState.Current != menu.Current {
		t.Errorf("invalid option moved state: %s / %s", r1.NextState.Current, r2.NextState.Current)
	}
	if r1.Response != r2.Response {
		t.Errorf("re-prompt differs: %q vs %q", r1.Response, r2.Response)
	}
}

func TestMenuFlowScheduledActivitiesOption(t *testing.T) {
	f := newMenuFlow(t, &stubBackend{
		student:    testStudent(),
		activities: []models.Activity{{Name: "Plantão pediatria"}},
	})
	menu := walkToMenu(t, f)
	r := turn(t, f, "1", menu, models.EnvironmentMobile)
	if !strings.Contains(r.Response, "Plantão pediatria") {
		t.Errorf("response = %q", r.Response)
	}
	if r.NextState.Current != models.StateStudentMenu {
		t.Errorf("state = %s, want to stay at menu", r.NextState.Current)
	}
	if r.NextState.Get(models.DataKeyLastMenuOption) != "1" {
		t.Errorf("last option = %q", r.NextState.Get(models.DataKeyLastMenuOption))
	}
}

func TestMenuFlowEscalationEndsConversation(t *testing.T) {
	f := newMenuFlow(t, &stubBackend{student: testStudent()})
	menu := walkToMenu(t, f)
	r := turn(t, f, "4", menu, models.EnvironmentMobile)
	if r.NextState.Current != models.StateEnd {
		t.Errorf("state = %s, want END after transfer", r.NextState.Current)
	}
	if !strings.Contains(r.Response, "fila") || !strings.Contains(r.Response, "Protocolo") {
		t.Errorf("response = %q", r.Response)
	}
	// The confirmation names the agent and how to reach them.
	if !strings.Contains(r.Response, "Paula") || !strings.Contains(r.Response, "paula@ex.br") {
		t.Errorf("response = %q, want agent name and contact", r.Response)
	}
}

func TestMenuFlowEscalationWithoutAgentEnds(t *testing.T) {
	// Empty agent directory: no one to transfer to. The explanation is final,
	// the conversation does not linger at the menu.
	esc := NewEscalation(nil, handoff.NewService(handoff.NewMemoryAgentRepo()), nil)
	f := NewMenuFlow(&stubBackend{student: testStudent()}, esc, nil)
	menu := walkToMenu(t, f)

	r := turn(t, f, "4", menu, models.EnvironmentMobile)
	if r.NextState.Current != models.StateEnd {
		t.Errorf("state = %s, want END after failed transfer", r.NextState.Current)
	}
	if !strings.Contains(r.Response, "não há um atendente") {
		t.Errorf("response = %q", r.Response)
	}
}

func TestMenuFlowVideoHelpFollowUp(t *testing.T) {
	f := newMenuFlow(t, &stubBackend{student: testStudent()})
	menu := walkToMenu(t, f)

	r := turn(t, f, "3", menu, models.EnvironmentMobile)
	if r.NextState.Current != models.StateHelpFollowUp {
		t.Fatalf("state = %s", r.NextState.Current)
	}

	// "sim" returns to the menu.
	yes := turn(t, f, "sim", r.NextState, models.EnvironmentMobile)
	if yes.NextState.Current != models.StateStudentMenu {
		t.Errorf("after sim: state = %s", yes.NextState.Current)
	}

	// "não" escalates and ends.
	no := turn(t, f, "não", r.NextState, models.EnvironmentMobile)
	if no.NextState.Current != models.StateEnd {
		t.Errorf("after não: state = %s", no.NextState.Current)
	}
}

func TestMenuFlowTerminalStateRestarts(t *testing.T) {
	f := newMenuFlow(t, &stubBackend{student: testStudent()})
	menu := walkToMenu(t, f)
	end := turn(t, f, "5", menu, models.EnvironmentMobile)
	if end.NextState.Current != models.StateEnd {
		t.Fatalf("state = %s", end.NextState.Current)
	}

	again := turn(t, f, "oi", end.NextState, models.EnvironmentMobile)
	if again.NextState.Current != models.StateAwaitingUserType {
		t.Errorf("state after restart = %s", again.NextState.Current)
	}
}

func TestMenuFlowEmptyMessageReprompts(t *testing.T) {
	f := newMenuFlow(t, &stubBackend{student: testStudent()})
	menu := walkToMenu(t, f)
	r := turn(t, f, "   ", menu, models.EnvironmentMobile)
	if !r.Success || r.Error != "" {
		t.Errorf("empty message must recover in place, got %+v", r)
	}
	if !strings.Contains(r.Response, "Não recebi") {
		t.Errorf("response = %q", r.Response)
	}
	if r.NextState.Current != menu.Current {
		t.Errorf("empty message moved state to %s", r.NextState.Current)
	}
}

func TestMenuFlowUserTypeRequiresExactChoice(t *testing.T) {
	f := newMenuFlow(t, &stubBackend{student: testStudent()})
	r := turn(t, f, "oi", nil, models.EnvironmentMobile)

	// A sentence that merely mentions a role word must not select it.
	r = turn(t, f, "não sou aluno", r.NextState, models.EnvironmentMobile)
	if r.NextState.Current != models.StateAwaitingUserType {
		t.Fatalf("state = %s, want to keep asking the user type", r.NextState.Current)
	}
	if !strings.Contains(r.Response, "1") {
		t.Errorf("response = %q, want the options repeated", r.Response)
	}

	r = turn(t, f, "aluno", r.NextState, models.EnvironmentMobile)
	if r.NextState.Current != models.StateAwaitingStudentCPF {
		t.Errorf("state = %s, want CPF question after exact choice", r.NextState.Current)
	}
}

func TestDigitsAndCPF(t *testing.T) {
	if digits("123.456.789-01") != "12345678901" {
		t.Error("digits failed to strip formatting")
	}
	if !validCPF("123.456.789-01") || validCPF("1234567890") || validCPF("123456789012") {
		t.Error("validCPF boundary failure")
	}
	if !samePhone("+55 (11) 91234-5678", "5511912345678") {
		t.Error("samePhone must ignore formatting")
	}
	if samePhone("", "") {
		t.Error("two empty phones must not match")
	}
}
