// Package flow implements the conversation state machines of the chat
// backend: the guided menu flow and the AI-assisted open chat flow.
//
// Flows are pure over their inputs: the caller round-trips the opaque
// ChatState between turns and each ProcessTurn returns a fresh state, so a
// flow instance can serve any number of concurrent conversations.
package flow

import (
	"context"

	"github.com/stagelink/chatbot/internal/models"
)

// Flow processes one conversation turn.
type Flow interface {
	Name() string
	ProcessTurn(ctx context.Context, req models.TurnRequest) models.TurnResponse
}

// handler processes the user's message while the conversation sits at one
// state node. It returns the reply and the next state.
type handler func(ctx context.Context, req models.TurnRequest) (string, *models.ChatState)

// failure builds the error response shape shared by both flows.
func failure(msg string, err error) models.TurnResponse {
	resp := models.TurnResponse{
		Response: msg,
		Success:  false,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// actorFromState rebuilds the authenticated actor from accumulated state
// data. Returns false when authentication has not completed.
func actorFromState(state *models.ChatState) (models.Actor, bool) {
	if state.Get(models.DataKeyActorID) == "" {
		return models.Actor{}, false
	}
	return models.Actor{
		ID:           state.Get(models.DataKeyActorID),
		Role:         models.Role(state.Get(models.DataKeyRole)),
		Name:         state.Get(models.DataKeyName),
		CPF:          state.Get(models.DataKeyCPF),
		Phone:        state.Get(models.DataKeyPhone),
		Organization: state.Get(models.DataKeyOrganization),
	}, true
}

// actorData flattens an actor into state data updates.
func actorData(actor models.Actor) map[string]string {
	return map[string]string{
		models.DataKeyActorID:      actor.ID,
		models.DataKeyRole:         string(actor.Role),
		models.DataKeyName:         actor.Name,
		models.DataKeyCPF:          actor.CPF,
		models.DataKeyPhone:        actor.Phone,
		models.DataKeyOrganization: actor.Organization,
	}
}
