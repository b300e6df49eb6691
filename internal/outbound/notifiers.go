package outbound

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TextSender is satisfied by the Twilio and WhatsApp clients.
type TextSender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// TextNotifier sends a short alert text to a fixed list of agent numbers.
type TextNotifier struct {
	name       string
	client     TextSender
	recipients []string
}

// NewTextNotifier creates a TextNotifier. Empty recipients are dropped.
func NewTextNotifier(name string, client TextSender, recipients []string) *TextNotifier {
	var rs []string
	for _, r := range recipients {
		if r = strings.TrimSpace(r); r != "" {
			rs = append(rs, r)
		}
	}
	return &TextNotifier{name: name, client: client, recipients: rs}
}

// Name implements Notifier.
func (n *TextNotifier) Name() string { return n.name }

// Notify implements Notifier. Every recipient is attempted.
func (n *TextNotifier) Notify(ctx context.Context, alert Alert) error {
	body := FormatAlert(alert)
	var errs []error
	for _, to := range n.recipients {
		if err := n.client.SendMessage(ctx, to, body); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", to, err))
		}
	}
	return errors.Join(errs...)
}

// FormatAlert renders the agent-facing alert text.
func FormatAlert(a Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] Escalation on %s\n", strings.ToUpper(string(a.Priority)), a.Platform)
	fmt.Fprintf(&b, "User: %s\nConversation: %s\nReason: %s", a.PlatformUserID, a.ConversationID, a.Reason)
	if a.InboundText != "" {
		text := a.InboundText
		if r := []rune(text); len(r) > 280 {
			text = string(r[:280]) + "..."
		}
		fmt.Fprintf(&b, "\nMessage: %q", text)
	}
	return b.String()
}

// Event is published to live admin listeners.
type Event struct {
	Type      string    `json:"type"`
	Alert     Alert     `json:"alert"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher broadcasts events, e.g. to websocket clients.
type Publisher interface {
	Publish(ev Event)
}

// EventNotifier forwards alerts to a Publisher.
type EventNotifier struct {
	pub Publisher
}

// NewEventNotifier creates an EventNotifier.
func NewEventNotifier(pub Publisher) *EventNotifier {
	return &EventNotifier{pub: pub}
}

// Name implements Notifier.
func (n *EventNotifier) Name() string { return "events" }

// Notify implements Notifier.
func (n *EventNotifier) Notify(ctx context.Context, alert Alert) error {
	n.pub.Publish(Event{Type: "escalation", Alert: alert, Timestamp: time.Now().UTC()})
	return nil
}
