// Package channel connects messaging transports (WhatsApp via whatsmeow,
// WhatsApp via Twilio) to the conversation flows.
//
// A Service abstracts one transport: it sends outbound text and emits inbound
// messages on a channel. The Dispatcher consumes inbound messages, keeps
// per-phone conversation state, and drives a conversation flow.
package channel

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

const (
	// DefaultChannelBufferSize is the buffer size for inbound message channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds non-blocking channel sends before a message
	// is dropped.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned by operations on a stopped service.
var ErrServiceStopped = errors.New("channel service stopped")

var nonDigitRegex = regexp.MustCompile(`[^0-9]`)

// Inbound is one incoming message from a participant.
type Inbound struct {
	From string // sender phone, digits only
	Body string
	Time int64 // unix seconds
}

// Service is a pluggable message transport.
type Service interface {
	// SendMessage sends a text message to a phone number (digits only).
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins background processing such as event polling.
	Start(ctx context.Context) error

	// Stop stops background processing and closes the inbound channel.
	Stop() error

	// Inbox returns the channel of incoming participant messages.
	Inbox() <-chan Inbound
}

// CanonicalizePhone strips formatting from a phone number and validates the
// digit count. Both transports address recipients by bare digits.
func CanonicalizePhone(phone string) (string, error) {
	if phone == "" {
		return "", fmt.Errorf("phone number cannot be empty")
	}
	canonical := nonDigitRegex.ReplaceAllString(phone, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in %q", phone)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short", canonical)
	}
	return canonical, nil
}
