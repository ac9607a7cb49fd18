package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/stagelink/chatbot/internal/twilio"
)

// SignatureValidator checks a Twilio webhook signature against the request
// URL and form parameters. *twilio.Client satisfies this.
type SignatureValidator interface {
	ValidateSignature(url string, params map[string]string, signature string) bool
}

// TwilioService implements Service over the Twilio REST API. Inbound messages
// arrive through an HTTP webhook rather than a live connection.
type TwilioService struct {
	client     twilio.Sender
	validator  SignatureValidator // nil disables signature checks
	webhookURL string             // public URL Twilio signs requests against
	inbox      chan Inbound
	mu         sync.RWMutex
	stopped    bool
}

// TwilioServiceOption configures a TwilioService.
type TwilioServiceOption func(*TwilioService)

// WithWebhookValidation enables X-Twilio-Signature verification. The URL must
// be the exact public webhook URL configured in the Twilio console.
func WithWebhookValidation(validator SignatureValidator, webhookURL string) TwilioServiceOption {
	return func(s *TwilioService) {
		s.validator = validator
		s.webhookURL = webhookURL
	}
}

// NewTwilioService creates a service wrapping the given Twilio sender.
func NewTwilioService(client twilio.Sender, opts ...TwilioServiceOption) *TwilioService {
	s := &TwilioService{
		client: client,
		inbox:  make(chan Inbound, DefaultChannelBufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start is a no-op: Twilio pushes inbound messages through the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the inbound channel.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.inbox)
	slog.Info("TwilioService.Stop: stopped")
	return nil
}

// SendMessage sends a text message to the given phone number.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
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
	return s.client.SendMessage(ctx, "+"+canonical, body)
}

// Inbox returns the channel of incoming participant messages.
func (s *TwilioService) Inbox() <-chan Inbound {
	return s.inbox
}

// WebhookHandler handles inbound Twilio webhook requests: it verifies the
// signature when validation is configured, parses the message, and emits it
// into the inbox.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService.WebhookHandler: parse form failed", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for key := range r.PostForm {
			params[key] = r.PostForm.Get(key)
		}
		signature := r.Header.Get("X-Twilio-Signature")
		if !s.validator.ValidateSignature(s.webhookURL, params, signature) {
			slog.Warn("TwilioService.WebhookHandler: invalid signature", "remote", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	from := strings.TrimPrefix(r.FormValue("From"), "whatsapp:")
	body := r.FormValue("Body")
	if from == "" || body == "" {
		slog.Warn("TwilioService.WebhookHandler: missing fields", "from_set", from != "", "body_set", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	canonical, err := CanonicalizePhone(from)
	if err != nil {
		slog.Warn("TwilioService.WebhookHandler: bad sender number", "error", err)
		http.Error(w, "Bad sender", http.StatusBadRequest)
		return
	}

	msg := Inbound{From: canonical, Body: body, Time: time.Now().Unix()}

	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("TwilioService.WebhookHandler: dropping message, service stopped", "from", msg.From)
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	select {
	case s.inbox <- msg:
		slog.Debug("TwilioService.WebhookHandler: inbound message forwarded", "from", msg.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService.WebhookHandler: inbox blocked, dropping message", "from", msg.From)
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}
