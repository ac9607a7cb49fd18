// Package models defines conversation state structures for the chat flows.
package models

// StateName identifies a node in a conversation flow's state machine.
type StateName string

// Menu flow states.
const (
	StateStart                  StateName = "START"
	StateAwaitingUserType       StateName = "AWAITING_USER_TYPE"
	StateAwaitingStudentCPF     StateName = "AWAITING_STUDENT_CPF"
	StateAwaitingCoordinatorCPF StateName = "AWAITING_COORDINATOR_CPF"
	StateAwaitingNewUserDetails StateName = "AWAITING_NEW_USER_DETAILS"
	StateAwaitingStudentPhone   StateName = "AWAITING_STUDENT_PHONE"
	StateAwaitingCoordPhone     StateName = "AWAITING_COORDINATOR_PHONE"
	StateStudentMenu            StateName = "STUDENT_MENU"
	StateCoordinatorMenu        StateName = "COORDINATOR_MENU"
	StateHelpFollowUp           StateName = "HELP_FOLLOW_UP"
	StateEnd                    StateName = "END"
)

// Open chat flow states.
const (
	StateOpenStart         StateName = "OPEN_START"
	StateOpenAwaitingCPF   StateName = "OPEN_AWAITING_CPF"
	StateOpenAwaitingPhone StateName = "OPEN_AWAITING_PHONE"
	StateOpenAuthenticated StateName = "OPEN_AUTHENTICATED"
	StateOpenEnd           StateName = "OPEN_END"
)

// Well-known keys inside ChatState.Data. Handlers read only the keys their
// own state guarantees; missing keys mean "not yet known".
const (
	DataKeyCPF            = "cpf"
	DataKeyPhone          = "phone"
	DataKeyName           = "name"
	DataKeyActorID        = "actor_id"
	DataKeyRole           = "role"
	DataKeyOrganization   = "organization"
	DataKeyLastMenuOption = "last_menu_option"
	DataKeyTransferReason = "transfer_reason"
	DataKeyTranscript     = "transcript"
	DataKeyHistory        = "history"
)

// ChatState is the opaque conversation state round-tripped by the caller
// between turns. Data is a forward-compatible accumulation map: each
// transition layers new facts over the previous map without removing keys.
type ChatState struct {
	Current StateName         `json:"currentState"`
	Data    map[string]string `json:"data,omitempty"`
}

// NewChatState creates a fresh state positioned at the given node.
func NewChatState(current StateName) *ChatState {
	return &ChatState{Current: current, Data: map[string]string{}}
}

// Get returns the accumulated value for key, or "" when not yet known.
func (s *ChatState) Get(key string) string {
	if s == nil || s.Data == nil {
		return ""
	}
	return s.Data[key]
}

// With returns a new state at next, layering updates over the existing data.
// The receiver is never mutated; handlers return the new state alongside the
// reply text.
func (s *ChatState) With(next StateName, updates map[string]string) *ChatState {
	out := &ChatState{Current: next, Data: make(map[string]string)}
	if s != nil {
		for k, v := range s.Data {
			out.Data[k] = v
		}
	}
	for k, v := range updates {
		out.Data[k] = v
	}
	return out
}

// Stay returns a new state at the same node with no data changes. Used by
// re-prompt paths so callers always receive a state distinct from the input.
func (s *ChatState) Stay() *ChatState {
	if s == nil {
		return nil
	}
	return s.With(s.Current, nil)
}

// Terminal reports whether the state machine has finished; any further input
// must restart from a fresh state.
func (s *ChatState) Terminal() bool {
	if s == nil {
		return false
	}
	return s.Current == StateEnd || s.Current == StateOpenEnd
}
