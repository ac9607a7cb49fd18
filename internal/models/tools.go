// Package models defines tool structures for LLM function calling.
package models

import (
	"encoding/json"
	"time"
)

// ToolName identifies a data-fetch tool offered to the language model.
type ToolName string

const (
	// ToolScheduledActivities lists the actor's scheduled activities.
	ToolScheduledActivities ToolName = "scheduled_activities"
	// ToolOngoingActivities lists activities currently in progress
	// (coordinator only).
	ToolOngoingActivities ToolName = "ongoing_activities"
	// ToolFindPerson resolves a preceptor/professional by (possibly
	// misspelled) name.
	ToolFindPerson ToolName = "find_person"
	// ToolMyInfo returns the actor's own registration record.
	ToolMyInfo ToolName = "my_info"
	// ToolStudentsList lists the students under a coordinator
	// (coordinator only).
	ToolStudentsList ToolName = "students_list"
	// ToolGenerateReport produces a downloadable report from the most
	// recent accumulated results (coordinator only).
	ToolGenerateReport ToolName = "generate_report"
)

// ToolCall represents an LLM tool function call as returned by the provider.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall represents the function details within a tool call.
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// FindPersonParams are the arguments of the find_person tool.
type FindPersonParams struct {
	Name    string `json:"name"`
	ActorID string `json:"actor_id,omitempty"`
}

// GenerateReportParams are the arguments of the generate_report tool.
type GenerateReportParams struct {
	Format  string `json:"format,omitempty"` // pdf, csv or txt
	ActorID string `json:"actor_id,omitempty"`
}

// ToolExecution is one executed tool with its raw result, accumulated
// per-actor for report generation and for deterministic fallback rendering.
type ToolExecution struct {
	Tool      ToolName        `json:"tool"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// PersonMatchKind tags the outcome of a fuzzy person lookup.
type PersonMatchKind string

const (
	// PersonMatchExact means every query word matched a candidate word.
	PersonMatchExact PersonMatchKind = "exact"
	// PersonMatchSuggestion means no exact match, but a candidate within
	// the edit-distance budget was found ("did you mean X").
	PersonMatchSuggestion PersonMatchKind = "suggestion"
	// PersonMatchNone means no candidate was close enough.
	PersonMatchNone PersonMatchKind = "none"
)

// PersonMatch is the result shape of the find_person tool.
type PersonMatch struct {
	Kind   PersonMatchKind `json:"kind"`
	Person *Person         `json:"person,omitempty"`
	Query  string          `json:"query"`
}

// ReportHandle is the result shape of the generate_report tool.
type ReportHandle struct {
	Token   string `json:"token"`
	Format  string `json:"format"`
	Entries int    `json:"entries"`
}

// ToolError is the tool-result shape used when a backing data query fails.
// It is rendered conversationally, never allowed to crash the turn.
type ToolError struct {
	Error string `json:"error"`
}
