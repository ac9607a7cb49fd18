package channel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/stagelink/chatbot/internal/whatsapp"
)

// WhatsAppService implements Service over the whatsmeow-based whatsapp client.
type WhatsAppService struct {
	sender   whatsapp.Sender
	waClient *whatsapp.Client // nil when constructed with a bare Sender (tests)
	inbox    chan Inbound
	mu       sync.RWMutex
	stopped  bool
}

// NewWhatsAppService creates a service wrapping the given sender. When the
// sender is a full *whatsapp.Client, inbound events are routed into Inbox.
func NewWhatsAppService(sender whatsapp.Sender) *WhatsAppService {
	s := &WhatsAppService{
		sender: sender,
		inbox:  make(chan Inbound, DefaultChannelBufferSize),
	}
	if waClient, ok := sender.(*whatsapp.Client); ok {
		s.waClient = waClient
	}
	return s
}

// Start registers the inbound event handler. It is a no-op without a full
// client.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService.Start: no live client, skipping event handling")
		return nil
	}
	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		if msg, ok := evt.(*events.Message); ok {
			s.handleIncomingMessage(msg)
		}
	})
	slog.Debug("WhatsAppService.Start: event handler registered")
	return nil
}

// Stop closes the inbound channel and disconnects the client.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.inbox)
	if s.waClient != nil {
		s.waClient.Disconnect()
	}
	slog.Info("WhatsAppService.Stop: stopped")
	return nil
}

// SendMessage sends a text message to the given phone number.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}
	canonical, err := CanonicalizePhone(to)
	if err != nil {
		return err
	}
	return s.sender.SendMessage(ctx, canonical, body)
}

// Inbox returns the channel of incoming participant messages.
func (s *WhatsAppService) Inbox() <-chan Inbound {
	return s.inbox
}

func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}

	var text string
	switch {
	case evt.Message.Conversation != nil:
		text = *evt.Message.Conversation
	case evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil:
		text = *evt.Message.ExtendedTextMessage.Text
	default:
		// Non-text payloads (images, audio) are not part of the chat protocol.
		slog.Debug("WhatsAppService: ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	msg := Inbound{
		From: evt.Info.Sender.User,
		Body: text,
		Time: evt.Info.Timestamp.Unix(),
	}

	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case s.inbox <- msg:
		slog.Debug("WhatsAppService: inbound message forwarded", "from", msg.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService: inbox blocked, dropping message", "from", msg.From)
	}
}
