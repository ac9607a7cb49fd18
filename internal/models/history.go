// Package models defines the conversation message history used by the AI
// tool-orchestration engine.
package models

import "time"

// Entry roles. Tool-call entries are assistant entries carrying ToolCalls;
// tool-result entries use EntryRoleTool and reference the call by ID.
const (
	EntryRoleUser      = "user"
	EntryRoleAssistant = "assistant"
	EntryRoleTool      = "tool"
)

// ChatEntry is a single role-tagged entry in a conversation history.
type ChatEntry struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// History is an ordered conversation message sequence.
type History []ChatEntry

// blocks splits the history into atomic units: an assistant entry carrying
// tool calls is grouped with the tool-result entries that follow it, so that
// trimming can never keep a call without its paired results or vice versa.
func (h History) blocks() [][]ChatEntry {
	var out [][]ChatEntry
	for i := 0; i < len(h); {
		e := h[i]
		if e.Role == EntryRoleAssistant && len(e.ToolCalls) > 0 {
			j := i + 1
			for j < len(h) && h[j].Role == EntryRoleTool {
				j++
			}
			out = append(out, h[i:j])
			i = j
			continue
		}
		out = append(out, h[i:i+1])
		i++
	}
	return out
}

// Trim bounds the history to at most max entries, preferring the newest
// entries and keeping tool-call/tool-result pairs intact. The newest block
// always survives even when it alone exceeds the budget, so the current user
// message is never dropped.
func (h History) Trim(max int) History {
	if max <= 0 || len(h) <= max {
		if max <= 0 {
			return History{}
		}
		return h
	}

	blocks := h.blocks()
	taken := 0
	start := len(blocks)
	for b := len(blocks) - 1; b >= 0; b-- {
		size := len(blocks[b])
		if taken+size > max && taken > 0 {
			break
		}
		taken += size
		start = b
	}

	out := make(History, 0, taken)
	for _, blk := range blocks[start:] {
		out = append(out, blk...)
	}
	return out
}

// EndsWithDanglingToolCall reports whether the final entry is an assistant
// tool call without its paired results. A history in this shape must never
// be sent to the model provider.
func (h History) EndsWithDanglingToolCall() bool {
	if len(h) == 0 {
		return false
	}
	last := h[len(h)-1]
	return last.Role == EntryRoleAssistant && len(last.ToolCalls) > 0
}

// AppendUser appends a plain user entry.
func (h History) AppendUser(content string) History {
	return append(h, ChatEntry{Role: EntryRoleUser, Content: content, Timestamp: time.Now()})
}

// AppendAssistant appends a plain assistant entry.
func (h History) AppendAssistant(content string) History {
	return append(h, ChatEntry{Role: EntryRoleAssistant, Content: content, Timestamp: time.Now()})
}
