// Package outbound delivers committed run outcomes: the reply or escalation
// acknowledgment goes to the user's platform, and escalations additionally
// alert the human-agent channels.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/store"
)

// ErrNoSender is returned when no sender handles a platform.
var ErrNoSender = errors.New("no sender for platform")

// Sender delivers text to a platform user.
type Sender interface {
	Send(ctx context.Context, platform models.Platform, platformUserID, text string) error
}

// Notifier alerts human agents about an escalation.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
	Name() string
}

// Alert is the escalation summary handed to notifiers.
type Alert struct {
	ConversationID string          `json:"conversation_id"`
	EscalationID   string          `json:"escalation_id,omitempty"`
	Platform       models.Platform `json:"platform"`
	PlatformUserID string          `json:"platform_user_id"`
	Reason         string          `json:"reason"`
	Priority       models.Priority `json:"priority"`
	InboundText    string          `json:"inbound_text,omitempty"`
}

// Stats counts deliveries since start.
type Stats struct {
	Delivered      int64 `json:"delivered"`
	Failed         int64 `json:"failed"`
	Notified       int64 `json:"notified"`
	NotifyFailures int64 `json:"notify_failures"`
}

// Dispatcher routes outcomes to senders and notifiers.
type Dispatcher struct {
	senders   map[models.Platform]Sender
	fallback  Sender
	notifiers []Notifier

	delivered      atomic.Int64
	failed         atomic.Int64
	notified       atomic.Int64
	notifyFailures atomic.Int64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSender routes a platform to s.
func WithSender(p models.Platform, s Sender) Option {
	return func(d *Dispatcher) { d.senders[p] = s }
}

// WithFallbackSender handles platforms without a dedicated sender.
func WithFallbackSender(s Sender) Option {
	return func(d *Dispatcher) { d.fallback = s }
}

// WithNotifier adds an escalation channel.
func WithNotifier(n Notifier) Option {
	return func(d *Dispatcher) {
		if n != nil {
			d.notifiers = append(d.notifiers, n)
		}
	}
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{senders: make(map[models.Platform]Sender)}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver sends the outcome text to the user and, for escalations, alerts
// every notifier. Only a failed user delivery is returned; the outbox
// retries it. Notifier failures are logged and counted.
func (d *Dispatcher) Deliver(ctx context.Context, conversationID string, o models.Outcome) error {
	sender, ok := d.senders[o.Platform]
	if !ok {
		sender = d.fallback
	}
	if sender == nil {
		d.failed.Add(1)
		return fmt.Errorf("%w: %s", ErrNoSender, o.Platform)
	}
	if err := sender.Send(ctx, o.Platform, o.PlatformUserID, o.Text); err != nil {
		d.failed.Add(1)
		slog.Warn("Dispatcher.Deliver: platform send failed", "conversationID", conversationID, "platform", o.Platform, "error", err)
		return fmt.Errorf("send to %s user %s: %w", o.Platform, o.PlatformUserID, err)
	}
	d.delivered.Add(1)
	slog.Debug("Dispatcher.Deliver: delivered", "conversationID", conversationID, "kind", o.Kind, "degraded", o.Degraded)

	if o.Kind != models.OutcomeKindEscalation {
		return nil
	}
	alert := Alert{
		ConversationID: conversationID,
		EscalationID:   o.EscalationID,
		Platform:       o.Platform,
		PlatformUserID: o.PlatformUserID,
		Reason:         o.Reason,
		Priority:       o.Priority,
		InboundText:    o.InboundText,
	}
	d.notifyAll(ctx, alert)
	return nil
}

func (d *Dispatcher) notifyAll(ctx context.Context, alert Alert) {
	for _, n := range d.notifiers {
		if err := n.Notify(ctx, alert); err != nil {
			d.notifyFailures.Add(1)
			slog.Error("Dispatcher.notifyAll: notifier failed", "notifier", n.Name(), "conversationID", alert.ConversationID, "error", err)
			continue
		}
		d.notified.Add(1)
	}
}

// SendOutbox adapts Deliver to store.OutboxSendFunc.
func (d *Dispatcher) SendOutbox(ctx context.Context, msg store.OutboxMessage) error {
	o, err := models.DecodeOutcome(msg.PayloadJSON)
	if err != nil {
		return err
	}
	return d.Deliver(ctx, msg.ConversationID, o)
}

// Stats returns the delivery counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Delivered:      d.delivered.Load(),
		Failed:         d.failed.Load(),
		Notified:       d.notified.Load(),
		NotifyFailures: d.notifyFailures.Load(),
	}
}
