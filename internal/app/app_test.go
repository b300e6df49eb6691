package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/genai"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/lockfile"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/outbound"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/store"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/testutil"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/twiliowhatsapp"
)

type sent struct {
	platform models.Platform
	to       string
	text     string
}

type recordingSender struct {
	mu  sync.Mutex
	got []sent
}

func (r *recordingSender) Send(ctx context.Context, platform models.Platform, to, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, sent{platform, to, text})
	return nil
}

func (r *recordingSender) sent() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.got...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []outbound.Alert
}

func (n *recordingNotifier) Name() string { return "recording" }

func (n *recordingNotifier) Notify(ctx context.Context, a outbound.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

func testConfig() Config {
	return Config{
		APIAddr:    "127.0.0.1:0",
		Workers:    2,
		Lanes:      4,
		QueuePoll:  10 * time.Millisecond,
		OutboxPoll: 10 * time.Millisecond,
	}
}

func TestRuntime_EndToEnd(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := &recordingSender{}
	notifier := &recordingNotifier{}
	rt, err := New(context.Background(), testConfig(),
		WithStore(st),
		WithGenerator(genai.NewStub()),
		WithSender(models.PlatformTikTok, sender),
		WithNotifier(notifier),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	srv := httptest.NewServer(rt.Handler())
	defer srv.Close()

	body := `{"external_id":"tt-1","platform_user_id":"user-9","text":"Where is my order #12345?"}`
	resp, err := http.Post(srv.URL+"/v1/webhooks/tiktok", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post webhook: %v", err)
	}
	resp.Body.Close()
	testutil.AssertHTTPStatus(t, http.StatusAccepted, resp.StatusCode, "webhook")

	testutil.WaitFor(t, "auto reply delivery", 5*time.Second, func() bool { return len(sender.sent()) == 1 })
	got := sender.sent()[0]
	if got.platform != models.PlatformTikTok || got.to != "user-9" || got.text == "" {
		t.Errorf("unexpected delivery %+v", got)
	}

	conv, err := st.LoadConversation(context.Background(), models.PlatformTikTok, "user-9")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertMessageCount(t, st, conv.ID, 2, "after reply")

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/admin/conversations/"+conv.ID+"/escalate",
		strings.NewReader(`{"reason":"vip customer","priority":"high"}`))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("force escalate: %v", err)
	}
	resp.Body.Close()
	testutil.AssertHTTPStatus(t, http.StatusCreated, resp.StatusCode, "escalate")

	testutil.WaitFor(t, "escalation alert", 5*time.Second, func() bool { return notifier.count() == 1 })
	testutil.WaitFor(t, "escalation acknowledgment", 5*time.Second, func() bool { return len(sender.sent()) == 2 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestNew_SQLiteTakesStateLock(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.StateDir = dir
	cfg.DatabaseDSN = filepath.Join(dir, "agent.db")

	first, err := New(context.Background(), cfg, WithGenerator(genai.NewStub()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, lockfile.LockFileName)); err != nil {
		t.Fatalf("lock file missing: %v", err)
	}

	if _, err := New(context.Background(), cfg, WithGenerator(genai.NewStub())); !errors.Is(err, lockfile.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	first.Close()
	again, err := New(context.Background(), cfg, WithGenerator(genai.NewStub()))
	if err != nil {
		t.Fatalf("New after Close: %v", err)
	}
	again.Close()
}

func TestNew_InvalidAgentConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte("temperature: 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.AgentConfigPath = path
	if _, err := New(context.Background(), cfg, WithStore(store.NewInMemoryStore())); !errors.Is(err, models.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestNew_TwilioNotifierNeedsCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	cfg := testConfig()
	cfg.Notify.TwilioRecipients = []string{"+15550001111"}
	_, err := New(context.Background(), cfg, WithStore(store.NewInMemoryStore()), WithGenerator(genai.NewStub()))
	if !errors.Is(err, twiliowhatsapp.ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestNew_ProviderFromConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.toml")
	if err := os.WriteFile(path, []byte("provider = \"openai\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.AgentConfigPath = path
	if _, err := New(context.Background(), cfg, WithStore(store.NewInMemoryStore())); !errors.Is(err, genai.ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey without an OpenAI key, got %v", err)
	}

	cfg.OpenAIKey = "sk-test"
	rt, err := New(context.Background(), cfg, WithStore(store.NewInMemoryStore()))
	if err != nil {
		t.Fatalf("New with key: %v", err)
	}
	if rt.Config().Current().Provider != "openai" {
		t.Errorf("file provider not applied: %q", rt.Config().Current().Provider)
	}
	rt.Close()
}

func TestGeneratorChanged(t *testing.T) {
	base := models.DefaultAgentConfig()
	tests := []struct {
		name   string
		mutate func(*models.AgentConfig)
		want   bool
	}{
		{"unchanged", func(*models.AgentConfig) {}, false},
		{"threshold only", func(c *models.AgentConfig) { c.EscalationSentimentThreshold = 0.9 }, false},
		{"model", func(c *models.AgentConfig) { c.Model = "other" }, true},
		{"timeout", func(c *models.AgentConfig) { c.TimeoutMs++ }, true},
		{"fallbacks", func(c *models.AgentConfig) { c.FallbackModels = []string{"a"} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cur := base.Clone()
			tt.mutate(&cur)
			if got := generatorChanged(base, cur); got != tt.want {
				t.Errorf("generatorChanged() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusFields(t *testing.T) {
	rt, err := New(context.Background(), testConfig(), WithStore(store.NewInMemoryStore()), WithGenerator(genai.NewStub()))
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()
	fields := rt.statusFields(context.Background())
	if len(fields) < 2 || fields[0] != "healthy" || fields[1] != true {
		t.Errorf("unexpected status fields %v", fields)
	}
}
