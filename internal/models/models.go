// Package models defines the core data structures for the StageLink chat backend.
//
// It includes actor and roster records, conversation turn DTOs, and the
// structures shared between the menu flow, the open chat flow, and the AI
// tool-orchestration engine.
package models

import (
	"errors"
	"time"
)

// Role identifies which kind of authenticated actor a conversation belongs to.
type Role string

const (
	// RoleStudent is an intern/student actor.
	RoleStudent Role = "student"
	// RoleCoordinator is an internship coordinator actor.
	RoleCoordinator Role = "coordinator"
)

// Environment identifies the client surface that originated a turn.
type Environment string

const (
	// EnvironmentWeb is the browser chat widget. Web sessions require phone
	// confirmation after the CPF because the channel itself is anonymous.
	EnvironmentWeb Environment = "web"
	// EnvironmentMobile is the mobile app / messaging channel, where the
	// sender identity is already bound to a phone number.
	EnvironmentMobile Environment = "mobile"
)

// Error variables shared across packages.
var (
	ErrNotFound     = errors.New("record not found")
	ErrEmptyMessage = errors.New("message cannot be empty")
)

// Actor is the authenticated end user on whose behalf a turn is processed.
type Actor struct {
	ID           string `json:"id"`
	Role         Role   `json:"role"`
	Name         string `json:"name"`
	CPF          string `json:"cpf"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	Organization string `json:"organization"`
}

// Person is a roster record subject to fuzzy lookup. CPF is a unique personal
// identifier and must be stripped before the record is shown to a different
// actor (see Sanitized).
type Person struct {
	Name   string   `json:"name"`
	Email  string   `json:"email"`
	Phone  string   `json:"phone,omitempty"`
	CPF    string   `json:"cpf,omitempty"`
	Groups []string `json:"groups,omitempty"`
}

// Sanitized returns a copy of the person with unique personal identifiers
// removed when the record is destined for a different actor.
func (p Person) Sanitized(viewer Actor) Person {
	if p.CPF != "" && p.CPF == viewer.CPF {
		return p
	}
	p.CPF = ""
	return p
}

// Student is the domain backend's student record.
type Student struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	CPF          string   `json:"cpf"`
	Phone        string   `json:"phone"`
	Email        string   `json:"email"`
	Organization string   `json:"organization"`
	Groups       []string `json:"groups,omitempty"`
}

// Coordinator is the domain backend's coordinator record.
type Coordinator struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	CPF          string `json:"cpf"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	Organization string `json:"organization"`
}

// Activity is a scheduled or ongoing internship activity.
type Activity struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Location  string    `json:"location,omitempty"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at,omitempty"`
	Preceptor string    `json:"preceptor,omitempty"`
	Group     string    `json:"group,omitempty"`
}

// TurnRequest is one inbound chat message plus the opaque prior state.
// State is round-tripped byte-for-byte by the client; only the flow packages
// understand its shape.
type TurnRequest struct {
	Message     string      `json:"message"`
	State       *ChatState  `json:"state,omitempty"`
	ActorHint   *ActorHint  `json:"actorHint,omitempty"`
	Environment Environment `json:"environment,omitempty"`
}

// ActorHint carries optional pre-authentication identity hints.
type ActorHint struct {
	CPF   string `json:"cpf,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// TurnResponse is the outcome of processing one turn.
type TurnResponse struct {
	Response  string     `json:"response"`
	Success   bool       `json:"success"`
	Error     string     `json:"error,omitempty"`
	NextState *ChatState `json:"nextState,omitempty"`
}

// UsageRecord captures the cost and shape of one answered turn for auditing.
type UsageRecord struct {
	ActorID          string    `json:"actor_id"`
	Model            string    `json:"model"`
	FallbackModel    bool      `json:"fallback_model"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TokensEstimated  bool      `json:"tokens_estimated"`
	ToolsInvoked     []string  `json:"tools_invoked,omitempty"`
	ExtraCalls       int       `json:"extra_calls"`
	LatencyMS        int64     `json:"latency_ms"`
	EstimatedCostUSD float64   `json:"estimated_cost_usd"`
	CreatedAt        time.Time `json:"created_at"`
}
