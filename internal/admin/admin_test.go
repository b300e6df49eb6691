package admin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/outbound"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/queue"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/store"
)

// racingStore commits a competing update before the first CommitRun it sees.
type racingStore struct {
	*store.InMemoryStore
	raced bool
}

func (r *racingStore) CommitRun(ctx context.Context, req store.CommitRequest) (*store.CommitResult, error) {
	if !r.raced {
		r.raced = true
		if _, err := r.InMemoryStore.CommitRun(ctx, store.CommitRequest{ConversationID: req.ConversationID, ExpectedVersion: req.ExpectedVersion}); err != nil {
			return nil, err
		}
	}
	return r.InMemoryStore.CommitRun(ctx, req)
}

type failingPingStore struct {
	*store.InMemoryStore
}

func (f failingPingStore) Ping(ctx context.Context) error { return errors.New("connection refused") }

type staticConfig models.AgentConfig

func (c staticConfig) Current() models.AgentConfig { return models.AgentConfig(c) }

type fixedDelivery struct{}

func (fixedDelivery) Stats() outbound.Stats { return outbound.Stats{Delivered: 7} }

func newService(t *testing.T, st store.Store) (*Service, *queue.Dispatcher) {
	t.Helper()
	q := queue.New(st, func(ctx context.Context, item store.QueueItem) error { return nil })
	cfg := models.DefaultAgentConfig()
	cfg.Provider = "openai"
	return NewService(st, q, staticConfig(cfg), WithDeliveryStats(fixedDelivery{})), q
}

func newConversation(t *testing.T, st store.Store) *models.Conversation {
	t.Helper()
	conv, err := st.LoadConversation(context.Background(), models.PlatformLinkedIn, "li-user")
	if err != nil {
		t.Fatalf("LoadConversation: %v", err)
	}
	return conv
}

func TestForceEscalate(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	svc, _ := newService(t, st)
	conv := newConversation(t, st)

	rec, err := svc.ForceEscalate(ctx, conv.ID, "", models.PriorityHigh, "ops@example.com")
	if err != nil {
		t.Fatalf("ForceEscalate: %v", err)
	}
	if rec.Reason != "manual" || rec.Priority != models.PriorityHigh {
		t.Errorf("unexpected record %+v", rec)
	}

	got, _ := st.GetConversation(ctx, conv.ID)
	if got.Status != models.ConversationEscalated || got.Priority != models.PriorityHigh || got.Version != conv.Version+1 {
		t.Errorf("unexpected conversation %+v", got)
	}
	msgs, _ := st.ListMessages(ctx, conv.ID, 10, 0)
	if len(msgs) != 1 || msgs[0].Direction != models.DirectionOut || !msgs[0].Escalated {
		t.Errorf("expected one acknowledgment message, got %+v", msgs)
	}
	outbox := st.Outbox()
	if len(outbox) != 1 || outbox[0].Kind != store.OutboxKindEscalation {
		t.Fatalf("expected one escalation outbox row, got %+v", outbox)
	}
	o, err := models.DecodeOutcome(outbox[0].PayloadJSON)
	if err != nil || o.EscalationID != rec.ID || o.PlatformUserID != "li-user" {
		t.Errorf("unexpected outcome %+v (%v)", o, err)
	}
}

func TestForceEscalate_RetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	st := &racingStore{InMemoryStore: store.NewInMemoryStore()}
	svc, _ := newService(t, st)
	conv := newConversation(t, st)

	if _, err := svc.ForceEscalate(ctx, conv.ID, "vip", models.PriorityMedium, "ops"); err != nil {
		t.Fatalf("ForceEscalate: %v", err)
	}
	got, _ := st.GetConversation(ctx, conv.ID)
	if got.Version != conv.Version+2 || got.Status != models.ConversationEscalated {
		t.Errorf("unexpected conversation %+v", got)
	}
}

func TestForceEscalate_Errors(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	svc, _ := newService(t, st)
	conv := newConversation(t, st)

	if _, err := svc.ForceEscalate(ctx, conv.ID, "x", "critical", "ops"); !errors.Is(err, models.ErrInvalidPriority) {
		t.Errorf("expected ErrInvalidPriority, got %v", err)
	}
	if _, err := svc.ForceEscalate(ctx, "missing", "x", models.PriorityLow, "ops"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveEscalation_ReactivatesConversation(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	svc, _ := newService(t, st)
	conv := newConversation(t, st)

	first, err := svc.ForceEscalate(ctx, conv.ID, "a", models.PriorityLow, "ops")
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.ForceEscalate(ctx, conv.ID, "b", models.PriorityLow, "ops")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.ResolveEscalation(ctx, first.ID, "agent-1"); err != nil {
		t.Fatalf("ResolveEscalation: %v", err)
	}
	got, _ := st.GetConversation(ctx, conv.ID)
	if got.Status != models.ConversationEscalated {
		t.Fatalf("conversation with an open escalation must stay escalated, got %s", got.Status)
	}

	rec, err := svc.ResolveEscalation(ctx, second.ID, "agent-1")
	if err != nil {
		t.Fatalf("ResolveEscalation: %v", err)
	}
	if !rec.Resolved || rec.ResolvedBy != "agent-1" {
		t.Errorf("unexpected record %+v", rec)
	}
	got, _ = st.GetConversation(ctx, conv.ID)
	if got.Status != models.ConversationActive {
		t.Errorf("expected active conversation, got %s", got.Status)
	}

	if _, err := svc.ResolveEscalation(ctx, "esc_missing", "agent-1"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestOverrideResponse(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	svc, _ := newService(t, st)
	conv := newConversation(t, st)

	res, err := st.CommitRun(ctx, store.CommitRequest{
		ConversationID:  conv.ID,
		ExpectedVersion: conv.Version,
		Messages: []models.Message{
			{ExternalID: "in-1", Platform: conv.Platform, Direction: models.DirectionIn, Text: "hi", Timestamp: time.Now()},
			{ExternalID: "out-1", Platform: conv.Platform, Direction: models.DirectionOut, Text: "hello", Timestamp: time.Now()},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	in, out := res.Messages[0], res.Messages[1]

	if _, err := svc.OverrideResponse(ctx, in.ID, "edited", "ops"); !errors.Is(err, ErrNotOverridable) {
		t.Errorf("expected ErrNotOverridable, got %v", err)
	}
	if _, err := svc.OverrideResponse(ctx, out.ID, "   ", "ops"); !errors.Is(err, ErrEmptyText) {
		t.Errorf("expected ErrEmptyText, got %v", err)
	}
	o, err := svc.OverrideResponse(ctx, out.ID, "Hello! How can we help?", "ops")
	if err != nil {
		t.Fatalf("OverrideResponse: %v", err)
	}
	if o.PreviousText != "hello" || o.Actor != "ops" {
		t.Errorf("unexpected audit entry %+v", o)
	}
	m, _ := st.GetMessage(ctx, out.ID)
	if m.Text != "Hello! How can we help?" {
		t.Errorf("message not updated: %q", m.Text)
	}
}

func TestGetAgentStatus(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	svc, _ := newService(t, st)

	status, err := svc.GetAgentStatus(ctx)
	if err != nil {
		t.Fatalf("GetAgentStatus: %v", err)
	}
	if !status.Healthy || status.Provider != "openai" || status.Model != models.DefaultModel {
		t.Errorf("unexpected status %+v", status)
	}
	if status.Delivery == nil || status.Delivery.Delivered != 7 {
		t.Errorf("missing delivery stats %+v", status.Delivery)
	}

	down, _ := newService(t, failingPingStore{store.NewInMemoryStore()})
	status, err = down.GetAgentStatus(ctx)
	if err != nil {
		t.Fatalf("GetAgentStatus: %v", err)
	}
	if status.Healthy || status.LastError == "" {
		t.Errorf("expected unhealthy status, got %+v", status)
	}
}

func TestDeadLetters(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	svc, _ := newService(t, st)

	item := store.QueueItem{Lane: 0, ConversationKey: "tiktok:u", Platform: models.PlatformTikTok, ExternalID: "ev-1"}
	if _, err := st.PushQueueItem(ctx, item); err != nil {
		t.Fatal(err)
	}
	claimed, err := st.ClaimLaneHead(ctx, 0, time.Now().UTC(), time.Minute)
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v %v", claimed, err)
	}
	if dead, err := st.NackQueueItem(ctx, claimed.ID, "boom", time.Now(), 1); err != nil || !dead {
		t.Fatalf("nack: dead=%v err=%v", dead, err)
	}

	items, err := svc.ListDeadLetters(ctx, 0)
	if err != nil || len(items) != 1 {
		t.Fatalf("ListDeadLetters: %v %v", items, err)
	}
	status, _ := svc.GetAgentStatus(ctx)
	if status.DeadLetters != 1 {
		t.Errorf("expected 1 dead letter, got %d", status.DeadLetters)
	}

	if err := svc.RequeueDeadLetter(ctx, claimed.ID, "ops"); err != nil {
		t.Fatalf("RequeueDeadLetter: %v", err)
	}
	items, _ = svc.ListDeadLetters(ctx, 0)
	if len(items) != 0 {
		t.Errorf("expected no dead letters after requeue, got %d", len(items))
	}
	if err := svc.RequeueDeadLetter(ctx, claimed.ID, "ops"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound for live item, got %v", err)
	}
}

func TestListValidation(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	svc, _ := newService(t, st)
	newConversation(t, st)

	if _, err := svc.ListConversations(ctx, models.ConversationFilter{Platform: "myspace"}); !errors.Is(err, models.ErrInvalidPlatform) {
		t.Errorf("expected ErrInvalidPlatform, got %v", err)
	}
	if _, err := svc.ListConversations(ctx, models.ConversationFilter{Status: "open"}); !errors.Is(err, models.ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
	convs, err := svc.ListConversations(ctx, models.ConversationFilter{Platform: models.PlatformLinkedIn, Limit: 1000})
	if err != nil || len(convs) != 1 {
		t.Errorf("ListConversations: %v %v", convs, err)
	}
	if _, err := svc.ListMessages(ctx, "missing", 10, 0); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if svc.CurrentConfig().Provider != "openai" {
		t.Error("unexpected config")
	}
}
