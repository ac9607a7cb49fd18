package handoff

import (
	"context"
	"errors"
	"testing"

	"github.com/stagelink/chatbot/internal/models"
)

func TestOpenTicketAssignsQueuePositions(t *testing.T) {
	repo := NewMemoryAgentRepo()
	if err := repo.Upsert(context.Background(), Agent{Name: "Paula", Organization: "Hospital Central"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	svc := NewService(repo)

	actor := models.Actor{ID: "s1", Name: "Maria", Role: models.RoleStudent, Organization: "Hospital Central"}
	first, err := svc.OpenTicket(context.Background(), actor, "dúvida sobre estágio", "resumo")
	if err != nil {
		t.Fatalf("OpenTicket: %v", err)
	}
	if first.QueuePosition != 1 {
		t.Errorf("first position = %d, want 1", first.QueuePosition)
	}
	if first.ID == "" || first.AgentID == "" {
		t.Errorf("ticket missing ids: %+v", first)
	}

	second, err := svc.OpenTicket(context.Background(), actor, "outra dúvida", "resumo 2")
	if err != nil {
		t.Fatalf("OpenTicket: %v", err)
	}
	if second.QueuePosition != 2 {
		t.Errorf("second position = %d, want 2", second.QueuePosition)
	}
	if second.ID == first.ID {
		t.Error("ticket IDs must be unique")
	}
}

func TestOpenTicketCarriesContactProfiles(t *testing.T) {
	repo := NewMemoryAgentRepo()
	repo.Upsert(context.Background(), Agent{Name: "Paula", Email: "paula@ex.br", Organization: "Hospital Central"})
	svc := NewService(repo)

	actor := models.Actor{
		ID: "s1", Name: "Maria", Role: models.RoleStudent, CPF: "12345678901",
		Phone: "+5511912345678", Email: "maria@ex.br", Organization: "Hospital Central",
	}
	ticket, err := svc.OpenTicket(context.Background(), actor, "dúvida", "resumo")
	if err != nil {
		t.Fatalf("OpenTicket: %v", err)
	}
	if ticket.AgentName != "Paula" || ticket.AgentEmail != "paula@ex.br" {
		t.Errorf("agent contact = %q / %q", ticket.AgentName, ticket.AgentEmail)
	}
	if ticket.ActorPhone != actor.Phone || ticket.ActorEmail != actor.Email || ticket.ActorCPF != actor.CPF {
		t.Errorf("actor profile incomplete: %+v", ticket)
	}
}

func TestOpenTicketNoAgent(t *testing.T) {
	svc := NewService(NewMemoryAgentRepo())
	actor := models.Actor{ID: "s1", Organization: "Clínica Sem Agente"}
	_, err := svc.OpenTicket(context.Background(), actor, "motivo", "")
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCloseTicketReleasesSlot(t *testing.T) {
	repo := NewMemoryAgentRepo()
	repo.Upsert(context.Background(), Agent{ID: "a1", Name: "Paula", Organization: "Org"})
	svc := NewService(repo)

	actor := models.Actor{ID: "s1", Organization: "Org"}
	ticket, err := svc.OpenTicket(context.Background(), actor, "motivo", "")
	if err != nil {
		t.Fatalf("OpenTicket: %v", err)
	}
	if svc.QueueDepth(ticket.AgentID) != 1 {
		t.Errorf("depth = %d, want 1", svc.QueueDepth(ticket.AgentID))
	}
	svc.CloseTicket(ticket.AgentID)
	svc.CloseTicket(ticket.AgentID) // double close stays at zero
	if svc.QueueDepth(ticket.AgentID) != 0 {
		t.Errorf("depth = %d, want 0", svc.QueueDepth(ticket.AgentID))
	}
}

func TestUpsertRequiresOrganization(t *testing.T) {
	repo := NewMemoryAgentRepo()
	if err := repo.Upsert(context.Background(), Agent{Name: "Sem Org"}); err == nil {
		t.Fatal("expected error for agent without organization")
	}
}
