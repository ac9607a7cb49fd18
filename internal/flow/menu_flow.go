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

// transcriptLimit caps the accumulated transcript carried in state data, so
// the opaque state stays small enough to round-trip on every turn.
const transcriptLimit = 2000

// MenuFlow is the guided, option-driven conversation: identification by CPF
// (plus phone confirmation on the web channel), then a numbered menu per
// role. Invalid input re-prompts without changing position.
type MenuFlow struct {
	backend    backend.ClientInterface
	escalation *Escalation
	metrics    *metrics.Metrics
	handlers   map[models.StateName]handler
}

// NewMenuFlow creates the menu flow.
func NewMenuFlow(bc backend.ClientInterface, esc *Escalation, m *metrics.Metrics) *MenuFlow {
	f := &MenuFlow{backend: bc, escalation: esc, metrics: m}
	f.handlers = map[models.StateName]handler{
		models.StateStart:                  f.handleStart,
		models.StateAwaitingUserType:       f.handleAwaitingUserType,
		models.StateAwaitingStudentCPF:     f.handleAwaitingStudentCPF,
		models.StateAwaitingCoordinatorCPF: f.handleAwaitingCoordinatorCPF,
		models.StateAwaitingNewUserDetails: f.handleAwaitingNewUserDetails,
		models.StateAwaitingStudentPhone:   f.handleAwaitingPhone,
		models.StateAwaitingCoordPhone:     f.handleAwaitingPhone,
		models.StateStudentMenu:            f.handleStudentMenu,
		models.StateCoordinatorMenu:        f.handleCoordinatorMenu,
		models.StateHelpFollowUp:           f.handleHelpFollowUp,
	}
	return f
}

// Name identifies the flow in logs and metrics.
func (f *MenuFlow) Name() string { return "menu" }

// ProcessTurn advances the conversation by one turn. A nil or terminal state
// restarts from the beginning.
func (f *MenuFlow) ProcessTurn(ctx context.Context, req models.TurnRequest) models.TurnResponse {
	start := time.Now()

	// Input validation recovers in place: an empty message re-prompts and is
	// not surfaced to the caller as a failure.
	if strings.TrimSpace(req.Message) == "" {
		f.metrics.RecordTurn(f.Name(), "success", time.Since(start).Seconds())
		return models.TurnResponse{Response: textEmptyMessage, Success: true, NextState: req.State.Stay()}
	}

	state := req.State
	if state == nil || state.Terminal() {
		state = models.NewChatState(models.StateStart)
	}
	req.State = state

	h, ok := f.handlers[state.Current]
	if !ok {
		slog.Warn("MenuFlow.ProcessTurn: unknown state, restarting", "state", state.Current)
		h = f.handleStart
		req.State = models.NewChatState(models.StateStart)
	}

	reply, next := h(ctx, req)
	next = appendTranscript(next, req.Message, reply)

	f.metrics.RecordTurn(f.Name(), "success", time.Since(start).Seconds())
	return models.TurnResponse{Response: reply, Success: true, NextState: next}
}

func (f *MenuFlow) handleStart(_ context.Context, req models.TurnRequest) (string, *models.ChatState) {
	return textWelcome, req.State.With(models.StateAwaitingUserType, nil)
}

func (f *MenuFlow) handleAwaitingUserType(_ context.Context, req models.TurnRequest) (string, *models.ChatState) {
	// Only the menu digit or the exact role word selects; anything else, like
	// "não sou aluno", re-prompts instead of guessing.
	switch normalizeChoice(req.Message) {
	case "1", "estudante", "aluno", "aluna":
		return textAskCPF, req.State.With(models.StateAwaitingStudentCPF,
			map[string]string{models.DataKeyRole: string(models.RoleStudent)})
	case "2", "coordenador", "coordenadora":
		return textAskCPF, req.State.With(models.StateAwaitingCoordinatorCPF,
			map[string]string{models.DataKeyRole: string(models.RoleCoordinator)})
	default:
		return textAskUserTypeAgain, req.State.Stay()
	}
}

func (f *MenuFlow) handleAwaitingStudentCPF(ctx context.Context, req models.TurnRequest) (string, *models.ChatState) {
	if !validCPF(req.Message) {
		return textInvalidCPF, req.State.Stay()
	}
	cpf := digits(req.Message)

	s, err := f.backend.StudentByCPF(ctx, cpf)
	if errors.Is(err, models.ErrNotFound) {
		return textCPFNotFound, req.State.With(models.StateAwaitingNewUserDetails,
			map[string]string{models.DataKeyCPF: cpf})
	}
	if err != nil {
		slog.Error("MenuFlow: student lookup failed", "error", err)
		return textBackendUnavailable, req.State.Stay()
	}

	actor := models.Actor{
		ID: s.ID, Role: models.RoleStudent, Name: s.Name,
		CPF: s.CPF, Phone: s.Phone, Email: s.Email, Organization: s.Organization,
	}
	return f.afterIdentification(req, actor, models.StateAwaitingStudentPhone, models.StateStudentMenu, textStudentMenu)
}

func (f *MenuFlow) handleAwaitingCoordinatorCPF(ctx context.Context, req models.TurnRequest) (string, *models.ChatState) {
	if !validCPF(req.Message) {
		return textInvalidCPF, req.State.Stay()
	}
	cpf := digits(req.Message)

	co, err := f.backend.CoordinatorByCPF(ctx, cpf)
	if errors.Is(err, models.ErrNotFound) {
		return textCPFNotFound, req.State.With(models.StateAwaitingNewUserDetails,
			map[string]string{models.DataKeyCPF: cpf})
	}
	if err != nil {
		slog.Error("MenuFlow: coordinator lookup failed", "error", err)
		return textBackendUnavailable, req.State.Stay()
	}

	actor := models.Actor{
		ID: co.ID, Role: models.RoleCoordinator, Name: co.Name,
		CPF: co.CPF, Phone: co.Phone, Email: co.Email, Organization: co.Organization,
	}
	return f.afterIdentification(req, actor, models.StateAwaitingCoordPhone, models.StateCoordinatorMenu, textCoordinatorMenu)
}

// afterIdentification routes a freshly identified actor: web sessions must
// confirm the registered phone before reaching the menu, messaging sessions
// are already bound to a phone and go straight in.
func (f *MenuFlow) afterIdentification(req models.TurnRequest, actor models.Actor, phoneState, menuState models.StateName, menuText string) (string, *models.ChatState) {
	if req.Environment == models.EnvironmentWeb {
		return textAskPhone, req.State.With(phoneState, actorData(actor))
	}
	greeting := fmt.Sprintf("Olá, %s! 👋\n\n%s", actor.Name, menuText)
	return greeting, req.State.With(menuState, actorData(actor))
}

func (f *MenuFlow) handleAwaitingPhone(_ context.Context, req models.TurnRequest) (string, *models.ChatState) {
	if !samePhone(req.Message, req.State.Get(models.DataKeyPhone)) {
		return textPhoneMismatch, req.State.Stay()
	}
	name := req.State.Get(models.DataKeyName)
	if models.Role(req.State.Get(models.DataKeyRole)) == models.RoleCoordinator {
		return fmt.Sprintf("Confirmado, %s! ✅\n\n%s", name, textCoordinatorMenu),
			req.State.With(models.StateCoordinatorMenu, nil)
	}
	return fmt.Sprintf("Confirmado, %s! ✅\n\n%s", name, textStudentMenu),
		req.State.With(models.StateStudentMenu, nil)
}

func (f *MenuFlow) handleAwaitingNewUserDetails(ctx context.Context, req models.TurnRequest) (string, *models.ChatState) {
	// Whatever the user sent is their registration request; forward it with
	// the CPF they tried and finish.
	if f.escalation != nil {
		actor := models.Actor{
			Name:         strings.TrimSpace(req.Message),
			CPF:          req.State.Get(models.DataKeyCPF),
			Organization: "StageLink",
		}
		reason := "solicitação de cadastro: " + strings.TrimSpace(req.Message)
		if _, opened := f.escalation.Escalate(ctx, actor, reason, req.State.Get(models.DataKeyTranscript)); !opened {
			slog.Warn("MenuFlow: registration forwarding had no agent, continuing anyway")
		}
	}
	return textRegistrationForwarded, req.State.With(models.StateEnd, nil)
}

func (f *MenuFlow) handleStudentMenu(ctx context.Context, req models.TurnRequest) (string, *models.ChatState) {
	actor, ok := actorFromState(req.State)
	if !ok {
		return textWelcome, models.NewChatState(models.StateAwaitingUserType)
	}

	choice := normalizeChoice(req.Message)
	remember := func(next *models.ChatState) *models.ChatState {
		return next.With(next.Current, map[string]string{models.DataKeyLastMenuOption: choice})
	}

	switch choice {
	case "1":
		return f.renderScheduled(ctx, actor), remember(req.State.Stay())
	case "2":
		return f.renderMyInfo(ctx, actor), remember(req.State.Stay())
	case "3":
		return textVideoHelp, remember(req.State.With(models.StateHelpFollowUp, nil))
	case "4":
		return f.escalateToAgent(ctx, req, actor, "solicitação de atendimento humano pelo menu")
	case "5":
		return textGoodbye, req.State.With(models.StateEnd, nil)
	case "0", "menu":
		return textStudentMenu, req.State.Stay()
	default:
		return textInvalidMenuOption, req.State.Stay()
	}
}

func (f *MenuFlow) handleCoordinatorMenu(ctx context.Context, req models.TurnRequest) (string, *models.ChatState) {
	actor, ok := actorFromState(req.State)
	if !ok {
		return textWelcome, models.NewChatState(models.StateAwaitingUserType)
	}

	choice := normalizeChoice(req.Message)
	remember := func(next *models.ChatState) *models.ChatState {
		return next.With(next.Current, map[string]string{models.DataKeyLastMenuOption: choice})
	}

	switch choice {
	case "1":
		return f.renderScheduled(ctx, actor), remember(req.State.Stay())
	case "2":
		acts, err := f.backend.OngoingActivities(ctx, actor.ID)
		if err != nil {
			slog.Error("MenuFlow: ongoing activities failed", "error", err)
			return textBackendUnavailable, req.State.Stay()
		}
		return renderTool(models.ToolOngoingActivities, acts), remember(req.State.Stay())
	case "3":
		students, err := f.backend.StudentsUnderCoordinator(ctx, actor.ID)
		if err != nil {
			slog.Error("MenuFlow: students list failed", "error", err)
			return textBackendUnavailable, req.State.Stay()
		}
		return renderTool(models.ToolStudentsList, students), remember(req.State.Stay())
	case "4":
		return f.renderMyInfo(ctx, actor), remember(req.State.Stay())
	case "5":
		return textVideoHelp, remember(req.State.With(models.StateHelpFollowUp, nil))
	case "6":
		return f.escalateToAgent(ctx, req, actor, "solicitação de atendimento humano pelo menu")
	case "7":
		return textGoodbye, req.State.With(models.StateEnd, nil)
	case "0", "menu":
		return textCoordinatorMenu, req.State.Stay()
	default:
		return textInvalidMenuOption, req.State.Stay()
	}
}

func (f *MenuFlow) handleHelpFollowUp(ctx context.Context, req models.TurnRequest) (string, *models.ChatState) {
	menuState := models.StateStudentMenu
	menuText := textStudentMenu
	if models.Role(req.State.Get(models.DataKeyRole)) == models.RoleCoordinator {
		menuState = models.StateCoordinatorMenu
		menuText = textCoordinatorMenu
	}

	switch choice := normalizeChoice(req.Message); choice {
	case "sim", "s", "resolveu":
		return textVideoHelpResolved + "\n\n" + menuText, req.State.With(menuState, nil)
	case "não", "nao", "n":
		actor, ok := actorFromState(req.State)
		if !ok {
			return textWelcome, models.NewChatState(models.StateAwaitingUserType)
		}
		return f.escalateToAgent(ctx, req, actor, "a ajuda em vídeo não resolveu a dúvida")
	default:
		return textVideoHelpFollowUpAgain, req.State.Stay()
	}
}

// escalateToAgent runs the one-shot handoff protocol. The conversation ends
// once the outcome message is delivered: a missing agent or a ticket failure
// is explained to the user and is just as terminal as a successful transfer,
// there is no retry path.
func (f *MenuFlow) escalateToAgent(ctx context.Context, req models.TurnRequest, actor models.Actor, reason string) (string, *models.ChatState) {
	reply, opened := f.escalation.Escalate(ctx, actor, reason, req.State.Get(models.DataKeyTranscript))
	if !opened {
		return reply, req.State.With(models.StateEnd, nil)
	}
	return reply, req.State.With(models.StateEnd,
		map[string]string{models.DataKeyTransferReason: reason})
}

func (f *MenuFlow) renderScheduled(ctx context.Context, actor models.Actor) string {
	acts, err := f.backend.ScheduledActivities(ctx, actor.ID)
	if err != nil {
		slog.Error("MenuFlow: scheduled activities failed", "error", err)
		return textBackendUnavailable
	}
	return renderTool(models.ToolScheduledActivities, acts)
}

func (f *MenuFlow) renderMyInfo(ctx context.Context, actor models.Actor) string {
	var record any
	var err error
	if actor.Role == models.RoleCoordinator {
		record, err = f.backend.CoordinatorByCPF(ctx, actor.CPF)
	} else {
		record, err = f.backend.StudentByCPF(ctx, actor.CPF)
	}
	if err != nil {
		slog.Error("MenuFlow: my-info lookup failed", "error", err)
		return textBackendUnavailable
	}
	return renderTool(models.ToolMyInfo, record)
}

// renderTool reuses the engine's deterministic renderer so menu answers and
// AI fallback answers share one formatting table.
func renderTool(tool models.ToolName, v any) string {
	payload, err := json.Marshal(v)
	if err != nil {
		return textBackendUnavailable
	}
	return agent.RenderFallback([]models.ToolExecution{{Tool: tool, Timestamp: time.Now(), Payload: payload}})
}

// appendTranscript layers this turn onto the rolling transcript, trimming
// from the front when over the cap.
func appendTranscript(state *models.ChatState, userMsg, reply string) *models.ChatState {
	if state == nil {
		return nil
	}
	t := state.Get(models.DataKeyTranscript)
	t += "usuário: " + strings.TrimSpace(userMsg) + "\nassistente: " + reply + "\n"
	if len(t) > transcriptLimit {
		t = t[len(t)-transcriptLimit:]
	}
	return state.With(state.Current, map[string]string{models.DataKeyTranscript: t})
}
