// Package handoff manages escalation of a conversation to a human support
// agent: the per-organization agent directory and the ticket queue.
package handoff

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stagelink/chatbot/internal/models"
)

// Agent is a human support contact for one organization.
type Agent struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone,omitempty"`
	Organization string `json:"organization"`
}

// Ticket is one escalated conversation waiting for an agent. It names the
// assigned agent and their contact channel, and carries the actor's full
// contact profile so the agent can reach the user outside the bot.
type Ticket struct {
	ID            string      `json:"id"`
	AgentID       string      `json:"agent_id"`
	AgentName     string      `json:"agent_name"`
	AgentEmail    string      `json:"agent_email"`
	ActorID       string      `json:"actor_id"`
	ActorName     string      `json:"actor_name"`
	ActorRole     models.Role `json:"actor_role"`
	ActorCPF      string      `json:"actor_cpf,omitempty"`
	ActorPhone    string      `json:"actor_phone,omitempty"`
	ActorEmail    string      `json:"actor_email,omitempty"`
	Organization  string      `json:"organization"`
	Reason        string      `json:"reason"`
	Summary       string      `json:"summary"`
	QueuePosition int         `json:"queue_position"`
	CreatedAt     time.Time   `json:"created_at"`
}

// AgentRepo resolves the support agent responsible for an organization.
type AgentRepo interface {
	AgentFor(ctx context.Context, organization string) (*Agent, error)
	Upsert(ctx context.Context, agent Agent) error
}

// MemoryAgentRepo is an in-memory AgentRepo keyed by organization name.
type MemoryAgentRepo struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewMemoryAgentRepo creates an empty in-memory agent directory.
func NewMemoryAgentRepo() *MemoryAgentRepo {
	return &MemoryAgentRepo{agents: make(map[string]Agent)}
}

// AgentFor returns the agent for the organization, or models.ErrNotFound.
func (r *MemoryAgentRepo) AgentFor(_ context.Context, organization string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[organization]
	if !ok {
		return nil, fmt.Errorf("no agent for organization %q: %w", organization, models.ErrNotFound)
	}
	return &agent, nil
}

// Upsert registers or replaces the agent for its organization.
func (r *MemoryAgentRepo) Upsert(_ context.Context, agent Agent) error {
	if agent.Organization == "" {
		return fmt.Errorf("agent %q has no organization", agent.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	r.agents[agent.Organization] = agent
	return nil
}

// Service opens escalation tickets and tracks per-agent queue depth.
type Service struct {
	repo AgentRepo

	mu      sync.Mutex
	pending map[string]int // agent ID -> open tickets
}

// NewService creates a handoff service backed by the given agent directory.
func NewService(repo AgentRepo) *Service {
	return &Service{repo: repo, pending: make(map[string]int)}
}

// OpenTicket escalates the actor's conversation. It resolves the agent for
// the actor's organization, enqueues a ticket, and returns it with the
// actor's position in that agent's queue. Returns models.ErrNotFound when
// the organization has no registered agent; the caller decides how to tell
// the user.
func (s *Service) OpenTicket(ctx context.Context, actor models.Actor, reason, summary string) (*Ticket, error) {
	agent, err := s.repo.AgentFor(ctx, actor.Organization)
	if err != nil {
		return nil, fmt.Errorf("Handoff.OpenTicket: %w", err)
	}

	s.mu.Lock()
	s.pending[agent.ID]++
	position := s.pending[agent.ID]
	s.mu.Unlock()

	ticket := &Ticket{
		ID:            uuid.NewString(),
		AgentID:       agent.ID,
		AgentName:     agent.Name,
		AgentEmail:    agent.Email,
		ActorID:       actor.ID,
		ActorName:     actor.Name,
		ActorRole:     actor.Role,
		ActorCPF:      actor.CPF,
		ActorPhone:    actor.Phone,
		ActorEmail:    actor.Email,
		Organization:  actor.Organization,
		Reason:        reason,
		Summary:       summary,
		QueuePosition: position,
		CreatedAt:     time.Now().UTC(),
	}
	slog.Info("Handoff.OpenTicket: ticket opened",
		"ticket_id", ticket.ID,
		"agent_id", agent.ID,
		"organization", actor.Organization,
		"queue_position", position)
	return ticket, nil
}

// CloseTicket releases one slot in the agent's queue. Unknown agents are a
// no-op so double-closing cannot drive the counter negative.
func (s *Service) CloseTicket(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[agentID] > 0 {
		s.pending[agentID]--
	}
}

// QueueDepth reports the number of open tickets for an agent.
func (s *Service) QueueDepth(agentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[agentID]
}
