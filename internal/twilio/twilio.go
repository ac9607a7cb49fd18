// Package twilio wraps the Twilio REST API for the WhatsApp channel.
package twilio

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Sender sends a WhatsApp message through the Twilio API.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds configuration options for the Twilio client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string // sending number in "whatsapp:+1234567890" format
}

// Option defines a configuration option for the Twilio client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromNumber sets the sending WhatsApp number.
func WithFromNumber(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps the Twilio REST API for WhatsApp messaging and webhook
// signature validation.
type Client struct {
	client    *twilio.RestClient
	validator twilioclient.RequestValidator
	fromWhats string
}

// NewClient creates a Twilio client, falling back to the TWILIO_ACCOUNT_SID,
// TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER environment variables for options
// not provided explicitly.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio.NewClient: config loaded",
		"account_sid_set", cfg.AccountSID != "",
		"auth_token_set", cfg.AuthToken != "",
		"from_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("Twilio.NewClient: account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("Twilio.NewClient: sending number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return &Client{
		client:    client,
		validator: twilioclient.NewRequestValidator(cfg.AuthToken),
		fromWhats: cfg.FromWhats,
	}, nil
}

// SendMessage sends a WhatsApp message through the Twilio API. The recipient
// is an E.164 phone number without the "whatsapp:" prefix.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:" + to)
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	if _, err := c.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("Twilio.SendMessage: send to %s: %w", to, err)
	}
	slog.Debug("Twilio.SendMessage: sent", "to", to)
	return nil
}

// ValidateSignature checks the X-Twilio-Signature header of a webhook request
// against the full request URL and form parameters.
func (c *Client) ValidateSignature(url string, params map[string]string, signature string) bool {
	return c.validator.Validate(url, params, signature)
}
