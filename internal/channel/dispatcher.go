package channel

import (
	"context"
	"log/slog"
	"time"

	"github.com/stagelink/chatbot/internal/cache"
	"github.com/stagelink/chatbot/internal/flow"
	"github.com/stagelink/chatbot/internal/models"
)

const (
	// stateTTL bounds how long an idle conversation keeps its place in the
	// flow before the next message restarts it.
	stateTTL = 30 * time.Minute
	// maxConversations caps the number of concurrently tracked phones.
	maxConversations = 10000
	// turnTimeout bounds one flow turn, including backend and model calls.
	turnTimeout = 60 * time.Second
)

// Dispatcher drives a conversation flow over a messaging transport: each
// inbound message advances the sender's conversation and the reply goes back
// out on the same transport. Conversation state is keyed by sender phone.
type Dispatcher struct {
	service Service
	flow    flow.Flow
	states  *cache.Cache[*models.ChatState]
}

// NewDispatcher creates a dispatcher routing the service's inbound messages
// through the given flow.
func NewDispatcher(service Service, f flow.Flow) *Dispatcher {
	return &Dispatcher{
		service: service,
		flow:    f,
		states:  cache.New[*models.ChatState](stateTTL, maxConversations),
	}
}

// Run consumes inbound messages until the context is cancelled or the
// service's inbox closes. Messages are processed sequentially so a sender's
// turns cannot interleave.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.service.Start(ctx); err != nil {
		return err
	}
	defer d.states.Close()

	slog.Info("Dispatcher.Run: started", "flow", d.flow.Name())
	for {
		select {
		case <-ctx.Done():
			slog.Info("Dispatcher.Run: context cancelled")
			return ctx.Err()
		case msg, ok := <-d.service.Inbox():
			if !ok {
				slog.Info("Dispatcher.Run: inbox closed")
				return nil
			}
			d.handle(ctx, msg)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg Inbound) {
	turnCtx, cancel := context.WithTimeout(ctx, turnTimeout)
	defer cancel()

	state, _ := d.states.Get(msg.From)
	req := models.TurnRequest{
		Message: msg.Body,
		State:   state,
		// The sender identity is bound to the phone number, so turns behave
		// like the mobile surface and no phone confirmation step is needed.
		Environment: models.EnvironmentMobile,
		ActorHint:   &models.ActorHint{Phone: msg.From},
	}

	resp := d.flow.ProcessTurn(turnCtx, req)
	if resp.NextState != nil {
		if resp.NextState.Terminal() {
			d.states.Delete(msg.From)
		} else {
			d.states.SetDefault(msg.From, resp.NextState)
		}
	}

	if resp.Response == "" {
		slog.Warn("Dispatcher.handle: empty reply, nothing to send", "from", msg.From)
		return
	}
	if err := d.service.SendMessage(turnCtx, msg.From, resp.Response); err != nil {
		slog.Error("Dispatcher.handle: send reply failed", "from", msg.From, "error", err)
	}
}
