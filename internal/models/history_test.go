package models

import (
	"encoding/json"
	"fmt"
	"testing"
)

func toolCallPair(id string) []ChatEntry {
	return []ChatEntry{
		{Role: EntryRoleAssistant, ToolCalls: []ToolCall{{ID: id, Type: "function", Function: FunctionCall{Name: "scheduled_activities", Arguments: json.RawMessage(`{}`)}}}},
		{Role: EntryRoleTool, ToolCallID: id, Content: `{"ok":true}`},
	}
}

func TestHistoryTrim_KeepsNewestEntries(t *testing.T) {
	var h History
	for i := 0; i < 10; i++ {
		h = h.AppendUser(fmt.Sprintf("pergunta %d", i))
		h = h.AppendAssistant(fmt.Sprintf("resposta %d", i))
	}

	trimmed := h.Trim(4)
	if len(trimmed) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(trimmed))
	}
	if trimmed[len(trimmed)-1].Content != "resposta 9" {
		t.Errorf("newest entry should survive; got %q", trimmed[len(trimmed)-1].Content)
	}
}

func TestHistoryTrim_NeverSplitsToolCallPairs(t *testing.T) {
	var h History
	for i := 0; i < 8; i++ {
		h = h.AppendUser(fmt.Sprintf("pergunta %d", i))
		h = append(h, toolCallPair(fmt.Sprintf("call_%d", i))...)
		h = h.AppendAssistant("resumo")
	}

	for max := 1; max <= len(h); max++ {
		trimmed := h.Trim(max)
		if trimmed.EndsWithDanglingToolCall() {
			t.Fatalf("max=%d: trimmed history ends with a dangling tool call", max)
		}
		// No tool result may appear without its call directly before it.
		for i, e := range trimmed {
			if e.Role == EntryRoleTool {
				if i == 0 {
					t.Fatalf("max=%d: tool result at position 0 has no paired call", max)
				}
				prev := trimmed[i-1]
				if prev.Role == EntryRoleTool {
					continue // part of a multi-result group
				}
				if len(prev.ToolCalls) == 0 {
					t.Fatalf("max=%d: tool result at %d not preceded by a tool call", max, i)
				}
			}
		}
	}
}

func TestHistoryTrim_NewestBlockSurvivesOverBudget(t *testing.T) {
	h := History{{Role: EntryRoleUser, Content: "antiga"}}
	h = append(h, ChatEntry{Role: EntryRoleAssistant, ToolCalls: []ToolCall{{ID: "a"}, {ID: "b"}}})
	h = append(h, ChatEntry{Role: EntryRoleTool, ToolCallID: "a"}, ChatEntry{Role: EntryRoleTool, ToolCallID: "b"})

	trimmed := h.Trim(2)
	if len(trimmed) != 3 {
		t.Fatalf("newest block must survive atomically, got %d entries", len(trimmed))
	}
	if trimmed.EndsWithDanglingToolCall() {
		t.Error("trimmed history ends with a dangling tool call")
	}
}

func TestHistoryTrim_NoOpWhenWithinBudget(t *testing.T) {
	h := History{}.AppendUser("oi")
	trimmed := h.Trim(10)
	if len(trimmed) != 1 {
		t.Fatalf("expected unchanged history, got %d entries", len(trimmed))
	}
}
