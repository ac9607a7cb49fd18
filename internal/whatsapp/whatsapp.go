// Package whatsapp wraps the whatsmeow client for the WhatsApp channel.
//
// It handles device pairing (QR code or numeric code) and exposes a small
// sending surface; inbound event routing lives in the channel package.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/stagelink/chatbot/internal/store"
)

const (
	// DefaultSQLitePath is the default path for the whatsmeow session database.
	DefaultSQLitePath = "/var/lib/stagelink/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID suffix for regular users.
	JIDSuffix = "s.whatsapp.net"
)

// Sender sends a WhatsApp text message to a phone number (digits only).
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN       string // whatsmeow session database connection string
	QRPath      string // path to write the login QR code
	NumericCode bool   // use a numeric pairing code instead of a QR code
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow session database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) { o.DBDSN = dsn }
}

// WithQRCodeOutput writes the login QR code to the specified path instead of stdout.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) { o.QRPath = path }
}

// WithNumericCode uses a numeric pairing code instead of a QR code.
func WithNumericCode() Option {
	return func(o *Opts) { o.NumericCode = true }
}

// Client wraps the whatsmeow client for modular use.
type Client struct {
	waClient *whatsmeow.Client
}

// NewClient creates a WhatsApp client, pairing the device if no session exists.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
		slog.Debug("WhatsApp.NewClient: no session DSN provided, using default SQLite path", "path", dbDSN)
	}

	dbDriver := driverFor(dbDSN)
	if dbDriver == "sqlite3" && !strings.Contains(dbDSN, "foreign_keys") {
		// whatsmeow strongly recommends foreign keys on its SQLite store.
		slog.Warn("WhatsApp.NewClient: session database DSN has no foreign_keys parameter",
			"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
	}

	ctx := context.Background()
	container, err := sqlstore.New(ctx, dbDriver, dbDSN, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		return nil, fmt.Errorf("WhatsApp.NewClient: initialize session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("WhatsApp.NewClient: get device from session store: %w", err)
	}

	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))

	if waClient.Store.ID == nil {
		slog.Info("WhatsApp.NewClient: login required, starting pairing flow")
		qrChan, _ := waClient.GetQRChannel(context.Background())
		if err := waClient.Connect(); err != nil {
			return nil, fmt.Errorf("WhatsApp.NewClient: connect during pairing: %w", err)
		}
		writer := io.Writer(os.Stdout)
		if cfg.QRPath != "" {
			f, ferr := os.Create(cfg.QRPath)
			if ferr != nil {
				return nil, fmt.Errorf("WhatsApp.NewClient: create QR file: %w", ferr)
			}
			defer f.Close()
			writer = f
		}
		for evt := range qrChan {
			if evt.Event == "code" {
				if cfg.NumericCode {
					fmt.Fprintln(writer, evt.Code)
				} else {
					qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
				}
			} else {
				slog.Debug("WhatsApp.NewClient: pairing event", "event", evt.Event)
			}
		}
	} else {
		if err := waClient.Connect(); err != nil {
			return nil, fmt.Errorf("WhatsApp.NewClient: connect: %w", err)
		}
	}
	slog.Info("WhatsApp.NewClient: connected")
	return &Client{waClient: waClient}, nil
}

// driverFor picks the database/sql driver name for a whatsmeow session DSN.
func driverFor(dsn string) string {
	if store.DetectDSNType(dsn) == "postgres" {
		return "postgres"
	}
	return "sqlite3"
}

// SendMessage sends a WhatsApp text message to the given phone number.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c.waClient == nil {
		return fmt.Errorf("WhatsApp.SendMessage: client not initialized")
	}
	if to == "" {
		return fmt.Errorf("WhatsApp.SendMessage: recipient cannot be empty")
	}
	if body == "" {
		return fmt.Errorf("WhatsApp.SendMessage: message body cannot be empty")
	}

	jid := types.NewJID(to, JIDSuffix)
	msg := &waE2E.Message{Conversation: &body}

	if _, err := c.waClient.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("WhatsApp.SendMessage: send to %s: %w", to, err)
	}
	slog.Debug("WhatsApp.SendMessage: sent", "to", to, "body_length", len(body))
	return nil
}

// GetClient returns the underlying whatsmeow client for event handling.
func (c *Client) GetClient() *whatsmeow.Client {
	return c.waClient
}

// Disconnect closes the connection to the WhatsApp servers.
func (c *Client) Disconnect() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}
