package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/store"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/twiliowhatsapp"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (r *recordingSender) Send(ctx context.Context, platform models.Platform, platformUserID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, string(platform)+"/"+platformUserID+": "+text)
	return nil
}

type recordingNotifier struct {
	alerts []Alert
	err    error
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) Notify(ctx context.Context, alert Alert) error {
	r.alerts = append(r.alerts, alert)
	return r.err
}

type recordingPublisher struct {
	events []Event
}

func (p *recordingPublisher) Publish(ev Event) { p.events = append(p.events, ev) }

func escalationOutcome() models.Outcome {
	return models.Outcome{
		Kind:           models.OutcomeKindEscalation,
		ConversationID: "conv-1",
		Platform:       models.PlatformTikTok,
		PlatformUserID: "user-1",
		Text:           "A human agent will follow up shortly.",
		Reason:         "urgent_intent",
		Priority:       models.PriorityHigh,
		EscalationID:   "esc-1",
		InboundText:    "I was charged twice!!!",
	}
}

func TestDeliver_AutoReply(t *testing.T) {
	tiktok := &recordingSender{}
	n := &recordingNotifier{}
	d := NewDispatcher(WithSender(models.PlatformTikTok, tiktok), WithNotifier(n))

	o := models.Outcome{Kind: models.OutcomeKindAutoReply, Platform: models.PlatformTikTok, PlatformUserID: "u1", Text: "Hello"}
	if err := d.Deliver(context.Background(), "conv-1", o); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tiktok.sent) != 1 || tiktok.sent[0] != "tiktok/u1: Hello" {
		t.Errorf("unexpected sends %v", tiktok.sent)
	}
	if len(n.alerts) != 0 {
		t.Error("auto replies must not notify agents")
	}
	if s := d.Stats(); s.Delivered != 1 || s.Notified != 0 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestDeliver_EscalationNotifiesAll(t *testing.T) {
	fallback := &recordingSender{}
	failing := &recordingNotifier{err: errors.New("down")}
	ok := &recordingNotifier{}
	pub := &recordingPublisher{}
	d := NewDispatcher(
		WithFallbackSender(fallback),
		WithNotifier(failing),
		WithNotifier(ok),
		WithNotifier(NewEventNotifier(pub)),
		WithNotifier(nil),
	)

	if err := d.Deliver(context.Background(), "conv-1", escalationOutcome()); err != nil {
		t.Fatalf("notifier failure must not fail delivery: %v", err)
	}
	if len(fallback.sent) != 1 {
		t.Fatalf("expected acknowledgment sent once, got %v", fallback.sent)
	}
	if len(ok.alerts) != 1 || ok.alerts[0].EscalationID != "esc-1" || ok.alerts[0].Priority != models.PriorityHigh {
		t.Errorf("unexpected alerts %+v", ok.alerts)
	}
	if len(pub.events) != 1 || pub.events[0].Type != "escalation" {
		t.Errorf("unexpected events %+v", pub.events)
	}
	if s := d.Stats(); s.Notified != 2 || s.NotifyFailures != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestDeliver_SendFailureSkipsNotify(t *testing.T) {
	n := &recordingNotifier{}
	d := NewDispatcher(WithFallbackSender(&recordingSender{err: errors.New("503")}), WithNotifier(n))
	if err := d.Deliver(context.Background(), "conv-1", escalationOutcome()); err == nil {
		t.Fatal("expected send error")
	}
	if len(n.alerts) != 0 {
		t.Error("agents must not be notified until the user acknowledgment is delivered")
	}
	if d.Stats().Failed != 1 {
		t.Errorf("unexpected stats %+v", d.Stats())
	}
}

func TestDeliver_NoSender(t *testing.T) {
	d := NewDispatcher()
	err := d.Deliver(context.Background(), "conv-1", escalationOutcome())
	if !errors.Is(err, ErrNoSender) {
		t.Fatalf("expected ErrNoSender, got %v", err)
	}
}

func TestSendOutbox(t *testing.T) {
	s := &recordingSender{}
	d := NewDispatcher(WithFallbackSender(s))

	payload, err := models.EncodeOutcome(escalationOutcome())
	if err != nil {
		t.Fatal(err)
	}
	if err := d.SendOutbox(context.Background(), store.OutboxMessage{ConversationID: "conv-1", PayloadJSON: payload}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.sent) != 1 {
		t.Errorf("expected one send, got %v", s.sent)
	}
	if err := d.SendOutbox(context.Background(), store.OutboxMessage{PayloadJSON: `{"kind":"bogus"}`}); err == nil {
		t.Error("expected decode error")
	}
}

func TestWebhookSender(t *testing.T) {
	var got webhookPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, "secret", nil)
	if err := s.Send(context.Background(), models.PlatformLinkedIn, "li-9", "Thanks"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if auth != "Bearer secret" {
		t.Errorf("unexpected auth %q", auth)
	}
	if got.Platform != models.PlatformLinkedIn || got.PlatformUserID != "li-9" || got.Text != "Thanks" {
		t.Errorf("unexpected payload %+v", got)
	}
}

func TestWebhookSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewWebhookSender(srv.URL, "", srv.Client()).Send(context.Background(), models.PlatformTikTok, "u", "x")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected 429 error, got %v", err)
	}
}

func TestTextNotifier(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	n := NewTextNotifier("twilio", mock, []string{"+15550001", " ", "+15550002"})
	if err := n.Notify(context.Background(), Alert{ConversationID: "c1", Platform: models.PlatformTikTok, Priority: models.PriorityHigh, Reason: "manual"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := mock.Sent()
	if len(sent) != 2 {
		t.Fatalf("expected 2 recipients, got %d", len(sent))
	}
	if !strings.Contains(sent[0].Body, "[HIGH] Escalation on tiktok") {
		t.Errorf("unexpected body %q", sent[0].Body)
	}

	mock.Err = errors.New("down")
	if err := n.Notify(context.Background(), Alert{}); err == nil {
		t.Error("expected joined error")
	}
}

func TestFormatAlert_TruncatesMessage(t *testing.T) {
	long := strings.Repeat("a", 400)
	body := FormatAlert(Alert{Priority: models.PriorityMedium, InboundText: long})
	if !strings.Contains(body, strings.Repeat("a", 280)+"...") || strings.Contains(body, strings.Repeat("a", 281)) {
		t.Errorf("message not truncated: %q", body)
	}
}
