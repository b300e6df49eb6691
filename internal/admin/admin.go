// Package admin implements the operator actions on conversations, escalations
// and the work queue.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/escalation"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/outbound"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/prompts"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/queue"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/store"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/util"
)

// maxCommitAttempts bounds the retries of an admin commit racing a workflow run.
const maxCommitAttempts = 3

var (
	// ErrEmptyText is returned when an override has no text.
	ErrEmptyText = errors.New("override text cannot be empty")
	// ErrNotOverridable is returned when overriding an inbound message.
	ErrNotOverridable = errors.New("only outbound messages can be overridden")
)

// QueueControl is the part of the queue dispatcher the admin surface uses.
type QueueControl interface {
	Stats() queue.Stats
	Depth(ctx context.Context) (int, error)
	Requeue(ctx context.Context, id string) error
}

// DeliveryStats reports outbound delivery counters.
type DeliveryStats interface {
	Stats() outbound.Stats
}

// ConfigSource hands out the current agent config.
type ConfigSource interface {
	Current() models.AgentConfig
}

// AgentStatus is the health summary for operators.
type AgentStatus struct {
	Healthy      bool            `json:"healthy"`
	QueueDepth   int             `json:"queue_depth"`
	ActiveRuns   int64           `json:"active_runs"`
	LastError    string          `json:"last_error,omitempty"`
	DeadLetters  int             `json:"dead_letters"`
	DegradedRuns int             `json:"degraded_runs"`
	Provider     string          `json:"provider"`
	Model        string          `json:"model"`
	Runs         store.RunStats  `json:"runs"`
	Queue        queue.Stats     `json:"queue"`
	Delivery     *outbound.Stats `json:"delivery,omitempty"`
	CheckedAt    time.Time       `json:"checked_at"`
}

// Service implements the admin operations.
type Service struct {
	store    store.Store
	queue    QueueControl
	config   ConfigSource
	delivery DeliveryStats
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithDeliveryStats includes outbound counters in the status.
func WithDeliveryStats(d DeliveryStats) Option {
	return func(s *Service) { s.delivery = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service.
func NewService(st store.Store, q QueueControl, cfg ConfigSource, opts ...Option) *Service {
	s := &Service{store: st, queue: q, config: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ForceEscalate hands a conversation to a human agent outside the workflow.
// The user receives the escalation acknowledgment and the agent channels are
// notified through the outbox. The commit is version-checked and retried on
// conflict with a concurrent run.
func (s *Service) ForceEscalate(ctx context.Context, conversationID, reason string, priority models.Priority, actor string) (*models.EscalationRecord, error) {
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !models.IsValidPriority(priority) {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidPriority, priority)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = escalation.ReasonManual
	}

	var lastErr error
	for attempt := 1; attempt <= maxCommitAttempts; attempt++ {
		conv, err := s.store.GetConversation(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		req, rec, err := s.escalationCommit(conv, reason, priority, actor)
		if err != nil {
			return nil, err
		}
		if _, err := s.store.CommitRun(ctx, req); err != nil {
			if models.IsConflict(err) {
				lastErr = err
				slog.Debug("Service.ForceEscalate: version conflict, retrying", "conversationID", conversationID, "attempt", attempt)
				continue
			}
			return nil, err
		}
		slog.Info("Service.ForceEscalate: conversation escalated", "conversationID", conversationID, "priority", priority, "actor", actor)
		return rec, nil
	}
	return nil, lastErr
}

func (s *Service) escalationCommit(conv *models.Conversation, reason string, priority models.Priority, actor string) (store.CommitRequest, *models.EscalationRecord, error) {
	now := s.now().UTC()
	ack := prompts.EscalationAck(priority)
	out := models.Message{
		ID:             util.NewID("msg_"),
		ConversationID: conv.ID,
		ExternalID:     util.NewID("out_admin_"),
		Platform:       conv.Platform,
		Direction:      models.DirectionOut,
		Text:           ack,
		Timestamp:      now,
		Escalated:      true,
		RawMetadata:    map[string]string{"actor": actor},
	}
	rec := &models.EscalationRecord{
		ID:             util.NewID("esc_"),
		ConversationID: conv.ID,
		Reason:         reason,
		Priority:       priority,
		CreatedAt:      now,
	}
	payload, err := models.EncodeOutcome(models.Outcome{
		Kind:           models.OutcomeKindEscalation,
		ConversationID: conv.ID,
		Platform:       conv.Platform,
		PlatformUserID: conv.PlatformUserID,
		MessageID:      out.ID,
		Text:           ack,
		Reason:         reason,
		Priority:       priority,
		EscalationID:   rec.ID,
	})
	if err != nil {
		return store.CommitRequest{}, nil, err
	}
	return store.CommitRequest{
		ConversationID:  conv.ID,
		ExpectedVersion: conv.Version,
		Messages:        []models.Message{out},
		NewStatus:       models.ConversationEscalated,
		NewPriority:     priority,
		Escalation:      rec,
		Outbox:          &store.OutboxEntry{Kind: store.OutboxKindEscalation, PayloadJSON: payload, DedupeKey: rec.ID},
		At:              now,
	}, rec, nil
}

// OverrideResponse rewrites a committed outbound message and records the
// audit entry.
func (s *Service) OverrideResponse(ctx context.Context, messageID, newText, actor string) (*models.MessageOverride, error) {
	newText = strings.TrimSpace(newText)
	if newText == "" {
		return nil, ErrEmptyText
	}
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Direction != models.DirectionOut {
		return nil, ErrNotOverridable
	}
	o, err := s.store.OverrideMessage(ctx, messageID, newText, actor)
	if err != nil {
		return nil, err
	}
	slog.Info("Service.OverrideResponse: message overridden", "messageID", messageID, "actor", actor)
	return o, nil
}

// ResolveEscalation closes an escalation. When it was the conversation's last
// open escalation the conversation returns to active.
func (s *Service) ResolveEscalation(ctx context.Context, id, actor string) (*models.EscalationRecord, error) {
	rec, err := s.store.ResolveEscalation(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	for attempt := 1; attempt <= maxCommitAttempts; attempt++ {
		open, err := s.store.CountOpenEscalations(ctx, rec.ConversationID)
		if err != nil {
			return nil, err
		}
		if open > 0 {
			return rec, nil
		}
		conv, err := s.store.GetConversation(ctx, rec.ConversationID)
		if err != nil {
			return nil, err
		}
		if conv.Status != models.ConversationEscalated {
			return rec, nil
		}
		_, err = s.store.CommitRun(ctx, store.CommitRequest{
			ConversationID:  conv.ID,
			ExpectedVersion: conv.Version,
			NewStatus:       models.ConversationActive,
			At:              s.now().UTC(),
		})
		if err == nil {
			slog.Info("Service.ResolveEscalation: conversation reactivated", "conversationID", conv.ID, "actor", actor)
			return rec, nil
		}
		if !models.IsConflict(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("reactivate conversation %s: too many concurrent updates", rec.ConversationID)
}

// GetAgentStatus summarizes queue, run and provider health.
func (s *Service) GetAgentStatus(ctx context.Context) (AgentStatus, error) {
	cfg := s.config.Current()
	qs := s.queue.Stats()
	st := AgentStatus{
		Healthy:    true,
		ActiveRuns: qs.ActiveRuns,
		LastError:  qs.LastError,
		Provider:   cfg.Provider,
		Model:      cfg.Model,
		Queue:      qs,
		CheckedAt:  s.now().UTC(),
	}
	if s.delivery != nil {
		ds := s.delivery.Stats()
		st.Delivery = &ds
	}
	if err := s.store.Ping(ctx); err != nil {
		st.Healthy = false
		st.LastError = err.Error()
		return st, nil
	}
	var err error
	if st.QueueDepth, err = s.queue.Depth(ctx); err != nil {
		return st, fmt.Errorf("queue depth: %w", err)
	}
	if st.DeadLetters, err = s.store.CountDeadQueueItems(ctx); err != nil {
		return st, fmt.Errorf("dead letters: %w", err)
	}
	if st.Runs, err = s.store.RunStats(ctx); err != nil {
		return st, fmt.Errorf("run stats: %w", err)
	}
	st.DegradedRuns = st.Runs.Degraded
	return st, nil
}

// ListConversations returns conversations matching filter.
func (s *Service) ListConversations(ctx context.Context, filter models.ConversationFilter) ([]models.Conversation, error) {
	if filter.Platform != "" && !models.IsValidPlatform(filter.Platform) {
		return nil, models.ErrInvalidPlatform
	}
	if filter.Status != "" && !models.IsValidConversationStatus(filter.Status) {
		return nil, models.ErrInvalidStatus
	}
	if filter.Priority != "" && !models.IsValidPriority(filter.Priority) {
		return nil, models.ErrInvalidPriority
	}
	return s.store.ListConversations(ctx, filter.Normalize())
}

// GetConversation returns one conversation.
func (s *Service) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	return s.store.GetConversation(ctx, id)
}

// ListMessages returns a page of a conversation's messages in sequence order.
func (s *Service) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	f := models.ConversationFilter{Limit: limit, Offset: offset}.Normalize()
	return s.store.ListMessages(ctx, conversationID, f.Limit, f.Offset)
}

// ListEscalations returns escalations, optionally filtered by resolution.
func (s *Service) ListEscalations(ctx context.Context, resolved *bool, limit int) ([]models.EscalationRecord, error) {
	f := models.ConversationFilter{Limit: limit}.Normalize()
	return s.store.ListEscalations(ctx, resolved, f.Limit)
}

// ListDeadLetters returns dead-lettered queue items.
func (s *Service) ListDeadLetters(ctx context.Context, limit int) ([]store.QueueItem, error) {
	f := models.ConversationFilter{Limit: limit}.Normalize()
	return s.store.ListDeadQueueItems(ctx, f.Limit)
}

// RequeueDeadLetter sends a dead-lettered item back through the workflow.
func (s *Service) RequeueDeadLetter(ctx context.Context, id, actor string) error {
	if err := s.queue.Requeue(ctx, id); err != nil {
		return err
	}
	slog.Info("Service.RequeueDeadLetter: requeued", "id", id, "actor", actor)
	return nil
}

// CurrentConfig returns the active agent config.
func (s *Service) CurrentConfig() models.AgentConfig {
	return s.config.Current()
}
