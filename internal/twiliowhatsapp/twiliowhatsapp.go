// Package twiliowhatsapp sends human-agent escalation alerts through Twilio,
// either over WhatsApp or plain SMS.
package twiliowhatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Channel selects the Twilio transport.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
)

const whatsappPrefix = "whatsapp:"

// ErrMissingCredentials is returned when the account SID or auth token is absent.
var ErrMissingCredentials = errors.New("twilio account SID and auth token must be provided")

// Opts holds configuration options for the Twilio client.
type Opts struct {
	AccountSID string
	AuthToken  string
	From       string
	Channel    Channel
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

// WithFrom sets the sending number, e.g. "+15551234567".
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// WithChannel picks WhatsApp or SMS delivery.
func WithChannel(ch Channel) Option {
	return func(o *Opts) { o.Channel = ch }
}

// messageCreator is the part of the Twilio REST API the client uses.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Client sends alert texts through Twilio.
type Client struct {
	api     messageCreator
	from    string
	channel Channel
}

// NewClient creates a Client. Credentials and sender fall back to
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
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
	if cfg.From == "" {
		cfg.From = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "",
		"channel", cfg.Channel)

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("twilio sender number must be provided")
	}

	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newClient(rest.Api, cfg.From, cfg.Channel), nil
}

func newClient(api messageCreator, from string, ch Channel) *Client {
	if ch == "" {
		ch = ChannelWhatsApp
	}
	return &Client{api: api, from: address(ch, from), channel: ch}
}

// address formats a number for the channel.
func address(ch Channel, number string) string {
	number = strings.TrimPrefix(strings.TrimSpace(number), whatsappPrefix)
	if ch == ChannelWhatsApp {
		return whatsappPrefix + number
	}
	return number
}

// Channel reports the transport in use.
func (c *Client) Channel() Channel { return c.channel }

// SendMessage sends body to a phone number.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("recipient cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(address(c.channel, to))
	params.SetFrom(c.from)
	params.SetBody(body)

	resp, err := c.api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendMessage failed", "to", to, "channel", c.channel, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	var sid string
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Debug("Twilio message sent", "to", to, "channel", c.channel, "sid", sid)
	return nil
}

// MockClient records messages instead of sending them.
type MockClient struct {
	mu           sync.Mutex
	SentMessages []SentMessage
	Err          error
}

// SentMessage is one recorded send.
type SentMessage struct {
	To   string
	Body string
}

// NewMockClient creates a MockClient.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// SendMessage records the message, or returns Err when set.
func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.SentMessages...)
}
