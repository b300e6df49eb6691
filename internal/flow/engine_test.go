package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/classify"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/genai"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/prompts"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/store"
)

var fastBackoff = Backoff{Base: time.Millisecond, Factor: 2}

// scriptedGenerator returns replies[i] / errs[i] on call i and repeats the last entry.
type scriptedGenerator struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	reqs    []genai.Request
}

func (g *scriptedGenerator) Generate(ctx context.Context, req genai.Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := len(g.reqs)
	g.reqs = append(g.reqs, req)
	var reply string
	var err error
	if len(g.replies) > 0 {
		reply = g.replies[min(i, len(g.replies)-1)]
	}
	if len(g.errs) > 0 {
		err = g.errs[min(i, len(g.errs)-1)]
	}
	return reply, err
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.reqs)
}

type failingClassifier struct{}

func (failingClassifier) Classify(ctx context.Context, in classify.Input) (classify.Result, error) {
	return classify.Result{}, errors.New("model unavailable")
}

func testConfig() models.AgentConfig {
	cfg := models.DefaultAgentConfig()
	cfg.MaxGenerationRetries = 3
	return cfg
}

func newTestEngine(st Store, gen genai.Generator, opts ...Option) *Engine {
	opts = append([]Option{WithBackoff(fastBackoff)}, opts...)
	return NewEngine(st, gen, StaticConfig(testConfig()), opts...)
}

var inboundSeq int

func enqueueInbound(t *testing.T, st *store.InMemoryStore, user, text string) store.QueueItem {
	t.Helper()
	inboundSeq++
	msg := models.CanonicalMessage{
		ExternalID:     fmt.Sprintf("ext-%d", inboundSeq),
		Platform:       models.PlatformTikTok,
		PlatformUserID: user,
		Direction:      models.DirectionIn,
		Text:           text,
		Timestamp:      time.Now().UTC(),
	}
	if _, err := st.RecordInbound(context.Background(), msg); err != nil {
		t.Fatalf("RecordInbound: %v", err)
	}
	return store.QueueItem{ID: "q-" + msg.ExternalID, Platform: msg.Platform, ExternalID: msg.ExternalID, ConversationKey: msg.ConversationKey(), Attempts: 1}
}

func conversationFor(t *testing.T, st *store.InMemoryStore, user string) *models.Conversation {
	t.Helper()
	c, err := st.LoadConversation(context.Background(), models.PlatformTikTok, user)
	if err != nil {
		t.Fatalf("LoadConversation: %v", err)
	}
	return c
}

func TestProcess_UrgentMessageEscalates(t *testing.T) {
	st := store.NewInMemoryStore()
	gen := &scriptedGenerator{replies: []string{"should never be used"}}
	e := newTestEngine(st, gen)
	ctx := context.Background()

	item := enqueueInbound(t, st, "angry-user", "This is ridiculous!!! I want a refund NOW!")
	run, err := e.Process(ctx, item)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if run.Outcome != models.OutcomeEscalated {
		t.Fatalf("expected escalated outcome, got %s", run.Outcome)
	}
	if gen.calls() != 0 {
		t.Errorf("generator must not be called for escalations, got %d calls", gen.calls())
	}
	wantStages := []models.Stage{models.StageReceived, models.StageClassified, models.StageContextLoaded, models.StageEscalationEvaluated, models.StageEscalatedTerminal}
	if fmt.Sprint(run.StagesExecuted) != fmt.Sprint(wantStages) {
		t.Errorf("stages = %v, want %v", run.StagesExecuted, wantStages)
	}

	conv := conversationFor(t, st, "angry-user")
	if conv.Status != models.ConversationEscalated || conv.Priority != models.PriorityHigh || conv.Version != 1 {
		t.Errorf("unexpected conversation %+v", conv)
	}
	escs, _ := st.ListEscalations(ctx, nil, 10)
	if len(escs) != 1 || escs[0].Priority != models.PriorityHigh || escs[0].WorkflowRunID != run.ID {
		t.Fatalf("unexpected escalations %+v", escs)
	}
	msgs, _ := st.ListMessages(ctx, conv.ID, 10, 0)
	if len(msgs) != 2 {
		t.Fatalf("expected inbound and ack, got %d messages", len(msgs))
	}
	for _, m := range msgs {
		if !m.Escalated || m.WorkflowRunID != escs[0].WorkflowRunID {
			t.Errorf("escalated message without matching record: %+v", m)
		}
	}
	if msgs[0].Intent != models.IntentUrgent || msgs[1].Text != prompts.EscalationAck(models.PriorityHigh) {
		t.Errorf("unexpected messages %+v", msgs)
	}
	outbox := st.Outbox()
	if len(outbox) != 1 || outbox[0].Kind != store.OutboxKindEscalation || outbox[0].DedupeKey != run.ID {
		t.Fatalf("unexpected outbox %+v", outbox)
	}
	o, err := models.DecodeOutcome(outbox[0].PayloadJSON)
	if err != nil || o.Priority != models.PriorityHigh || o.InboundText == "" {
		t.Errorf("unexpected outbox payload %+v (%v)", o, err)
	}
}

func TestProcess_SalesQuestionGetsReply(t *testing.T) {
	st := store.NewInMemoryStore()
	e := newTestEngine(st, genai.NewStub())
	ctx := context.Background()

	run, err := e.Process(ctx, enqueueInbound(t, st, "buyer", "What is the pricing for 50 users?"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if run.Outcome != models.OutcomeReplied || run.Degraded || run.Attempts != 1 {
		t.Fatalf("unexpected run %+v", run)
	}
	last := run.StagesExecuted[len(run.StagesExecuted)-1]
	if last != models.StageRepliedTerminal {
		t.Errorf("expected RepliedTerminal, got %v", run.StagesExecuted)
	}
	conv := conversationFor(t, st, "buyer")
	msgs, _ := st.ListMessages(ctx, conv.ID, 10, 0)
	if len(msgs) != 2 || msgs[0].Intent != models.IntentSales {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if !strings.Contains(strings.ToLower(msgs[1].Text), "pricing") {
		t.Errorf("expected pricing-relevant reply, got %q", msgs[1].Text)
	}
	if escs, _ := st.ListEscalations(ctx, nil, 10); len(escs) != 0 {
		t.Errorf("expected no escalation, got %+v", escs)
	}
	if conv.Status != models.ConversationActive {
		t.Errorf("expected active conversation, got %s", conv.Status)
	}
}

func TestProcess_GeneratorFailuresFallBackToTemplate(t *testing.T) {
	st := store.NewInMemoryStore()
	gen := &scriptedGenerator{errs: []error{&genai.Error{Kind: genai.KindProviderError, Err: errors.New("503")}}}
	e := newTestEngine(st, gen)

	run, err := e.Process(context.Background(), enqueueInbound(t, st, "buyer2", "What is the pricing for 50 users?"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if run.Outcome != models.OutcomeReplied || !run.Degraded {
		t.Fatalf("expected degraded reply, got %+v", run)
	}
	if gen.calls() != 3 || run.Attempts != 3 {
		t.Errorf("expected exactly 3 attempts, got calls=%d attempts=%d", gen.calls(), run.Attempts)
	}
	msgs, _ := st.ListMessages(context.Background(), run.ConversationID, 10, 0)
	if msgs[1].Text != prompts.Fallback(models.IntentSales) {
		t.Errorf("expected template text, got %q", msgs[1].Text)
	}
	stats, _ := st.RunStats(context.Background())
	if stats.Degraded != 1 || stats.Replied != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestProcess_RetriesStayOnOneGeneratorAcrossSwap(t *testing.T) {
	st := store.NewInMemoryStore()
	first := &scriptedGenerator{errs: []error{&genai.Error{Kind: genai.KindProviderError, Err: errors.New("503")}}}
	second := &scriptedGenerator{replies: []string{"Plans start at ten dollars per seat each month."}}
	swap := genai.NewSwappable(nil)
	var once sync.Once
	swap.Swap(genai.GeneratorFunc(func(ctx context.Context, req genai.Request) (string, error) {
		once.Do(func() { swap.Swap(second) })
		return first.Generate(ctx, req)
	}))
	e := newTestEngine(st, swap)

	run, err := e.Process(context.Background(), enqueueInbound(t, st, "u-swap", "What is the pricing for 50 users?"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if first.calls() != 3 || second.calls() != 0 {
		t.Fatalf("expected all attempts on the generator the run started with, got first=%d second=%d", first.calls(), second.calls())
	}
	if !run.Degraded {
		t.Errorf("expected degraded reply after exhausting the first generator, got %+v", run)
	}

	next, err := e.Process(context.Background(), enqueueInbound(t, st, "u-swap", "What is the pricing for 80 users?"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if second.calls() != 1 || next.Degraded {
		t.Errorf("expected the next run to use the swapped generator, got calls=%d run=%+v", second.calls(), next)
	}
}

func TestProcess_RejectedReplyIsRegeneratedOnce(t *testing.T) {
	st := store.NewInMemoryStore()
	good := "Our support team can check that order for you today."
	gen := &scriptedGenerator{replies: []string{"ok", good}}
	e := newTestEngine(st, gen)

	run, err := e.Process(context.Background(), enqueueInbound(t, st, "u-regen", "Where is my order?"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if run.Degraded || gen.calls() != 2 {
		t.Fatalf("expected one regeneration without degradation, got %+v calls=%d", run, gen.calls())
	}
	if !strings.Contains(gen.reqs[1].UserPrompt, "rejected") {
		t.Errorf("regeneration prompt should be adjusted: %q", gen.reqs[1].UserPrompt)
	}
	msgs, _ := st.ListMessages(context.Background(), run.ConversationID, 10, 0)
	if msgs[1].Text != good {
		t.Errorf("unexpected reply %q", msgs[1].Text)
	}
}

func TestProcess_SecondRejectionFallsBack(t *testing.T) {
	st := store.NewInMemoryStore()
	gen := &scriptedGenerator{replies: []string{"As an AI language model, I cannot check orders."}}
	e := newTestEngine(st, gen)

	run, err := e.Process(context.Background(), enqueueInbound(t, st, "u-reject", "Where is my order?"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !run.Degraded || gen.calls() != 2 {
		t.Fatalf("expected fallback after two rejections, got %+v calls=%d", run, gen.calls())
	}
	msgs, _ := st.ListMessages(context.Background(), run.ConversationID, 10, 0)
	if msgs[1].Text != prompts.Fallback(models.IntentSupport) {
		t.Errorf("unexpected reply %q", msgs[1].Text)
	}
}

func TestProcess_ReplaysFinishedRun(t *testing.T) {
	st := store.NewInMemoryStore()
	gen := &scriptedGenerator{replies: []string{"Happy to help with anything you need today."}}
	e := newTestEngine(st, gen)
	item := enqueueInbound(t, st, "u-replay", "hello there")

	first, err := e.Process(context.Background(), item)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	second, err := e.Process(context.Background(), item)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if second.ID != first.ID || second.Outcome != first.Outcome {
		t.Errorf("replay returned a different run: %+v vs %+v", second, first)
	}
	if gen.calls() != 1 {
		t.Errorf("replay must not generate again, got %d calls", gen.calls())
	}
	msgs, _ := st.ListMessages(context.Background(), first.ConversationID, 10, 0)
	if len(msgs) != 2 {
		t.Errorf("replay must not add messages, got %d", len(msgs))
	}
	if conv := conversationFor(t, st, "u-replay"); conv.Version != 1 {
		t.Errorf("replay must not bump version, got %d", conv.Version)
	}
}

func TestProcess_SequentialMessagesKeepOrder(t *testing.T) {
	st := store.NewInMemoryStore()
	e := newTestEngine(st, genai.NewStub())
	first := enqueueInbound(t, st, "u-order", "Where is my order?")
	second := enqueueInbound(t, st, "u-order", "Also, do you offer an enterprise plan?")

	for _, item := range []store.QueueItem{first, second} {
		if _, err := e.Process(context.Background(), item); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	conv := conversationFor(t, st, "u-order")
	msgs, _ := st.ListMessages(context.Background(), conv.ID, 10, 0)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.SequenceNumber != int64(i+1) {
			t.Errorf("message %d has sequence %d", i, m.SequenceNumber)
		}
	}
	if msgs[0].ExternalID != first.ExternalID || msgs[2].ExternalID != second.ExternalID {
		t.Errorf("inbound messages out of order: %s, %s", msgs[0].ExternalID, msgs[2].ExternalID)
	}
	if conv.Version != 2 {
		t.Errorf("expected version 2, got %d", conv.Version)
	}
}

// racingStore commits a competing change right after context is loaded.
type racingStore struct {
	*store.InMemoryStore
	once sync.Once
}

func (r *racingStore) LoadRecentMessages(ctx context.Context, id string, n int) ([]models.Message, int64, error) {
	msgs, version, err := r.InMemoryStore.LoadRecentMessages(ctx, id, n)
	r.once.Do(func() {
		_, _ = r.InMemoryStore.CommitRun(ctx, store.CommitRequest{ConversationID: id, ExpectedVersion: version, NewStatus: models.ConversationActive})
	})
	return msgs, version, err
}

func TestProcess_StaleVersionConflicts(t *testing.T) {
	mem := store.NewInMemoryStore()
	st := &racingStore{InMemoryStore: mem}
	e := newTestEngine(st, genai.NewStub())
	item := enqueueInbound(t, mem, "u-race", "hello there")

	_, err := e.Process(context.Background(), item)
	var ce *models.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if !models.IsRetryable(err) {
		t.Error("conflicts must be retryable")
	}
	conv := conversationFor(t, mem, "u-race")
	if msgs, _ := mem.ListMessages(context.Background(), conv.ID, 10, 0); len(msgs) != 0 {
		t.Fatalf("stale commit leaked %d messages", len(msgs))
	}

	// Redelivery restarts from context retrieval and succeeds.
	run, err := e.Process(context.Background(), item)
	if err != nil || run.Outcome != models.OutcomeReplied {
		t.Fatalf("redelivery failed: %+v %v", run, err)
	}
}

type contextErrStore struct {
	*store.InMemoryStore
	err error
}

func (c *contextErrStore) LoadRecentMessages(ctx context.Context, id string, n int) ([]models.Message, int64, error) {
	return nil, 0, c.err
}

func TestProcess_ContextLoadErrors(t *testing.T) {
	mem := store.NewInMemoryStore()
	e := newTestEngine(&contextErrStore{InMemoryStore: mem, err: fmt.Errorf("db down: %w", models.ErrStorageUnavailable)}, genai.NewStub())
	_, err := e.Process(context.Background(), enqueueInbound(t, mem, "u-ctx", "hello there"))
	if !errors.Is(err, models.ErrStorageUnavailable) {
		t.Fatalf("expected storage unavailable, got %v", err)
	}

	e = newTestEngine(&contextErrStore{InMemoryStore: mem, err: errors.New("corrupt row")}, genai.NewStub())
	run, err := e.Process(context.Background(), enqueueInbound(t, mem, "u-ctx2", "hello there"))
	if err != nil || run.Outcome != models.OutcomeReplied {
		t.Fatalf("expected reply with empty history, got %+v %v", run, err)
	}
}

func TestProcess_ClassificationFailureUsesGeneral(t *testing.T) {
	st := store.NewInMemoryStore()
	gen := &scriptedGenerator{replies: []string{"Thanks for reaching out, how can we help?"}}
	e := newTestEngine(st, gen, WithClassifier(failingClassifier{}))

	run, err := e.Process(context.Background(), enqueueInbound(t, st, "u-class", "Where is my order #12345?"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	msgs, _ := st.ListMessages(context.Background(), run.ConversationID, 10, 0)
	if msgs[0].Intent != models.IntentGeneral {
		t.Errorf("expected GENERAL, got %s", msgs[0].Intent)
	}
	if msgs[0].RawMetadata[MetaOrderNumber] != "12345" || msgs[0].SentimentScore == nil {
		t.Errorf("signals should survive a classification failure: %+v", msgs[0])
	}
	if gen.reqs[0].Intent != models.IntentGeneral {
		t.Errorf("generation should use GENERAL, got %s", gen.reqs[0].Intent)
	}
}

func TestProcess_EscalatedConversationStillAutoReplies(t *testing.T) {
	st := store.NewInMemoryStore()
	e := newTestEngine(st, genai.NewStub())
	ctx := context.Background()

	if _, err := e.Process(ctx, enqueueInbound(t, st, "u-wait", "This is unacceptable!!!")); err != nil {
		t.Fatalf("Process: %v", err)
	}
	run, err := e.Process(ctx, enqueueInbound(t, st, "u-wait", "What is the pricing for 50 users?"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if run.Outcome != models.OutcomeReplied {
		t.Fatalf("expected an auto-reply, got %s", run.Outcome)
	}
	conv := conversationFor(t, st, "u-wait")
	if conv.Status != models.ConversationEscalated || conv.Priority != models.PriorityHigh {
		t.Errorf("open escalation must be left alone, got %s/%s", conv.Status, conv.Priority)
	}
	escs, _ := st.ListEscalations(ctx, nil, 10)
	if len(escs) != 1 {
		t.Errorf("expected only the original escalation record, got %+v", escs)
	}
}

func TestProcess_MissingInboundIsMalformed(t *testing.T) {
	e := newTestEngine(store.NewInMemoryStore(), genai.NewStub())
	_, err := e.Process(context.Background(), store.QueueItem{Platform: models.PlatformLinkedIn, ExternalID: "ghost"})
	if !errors.Is(err, models.ErrMalformedInbound) {
		t.Fatalf("expected malformed inbound, got %v", err)
	}
	if models.IsRetryable(err) {
		t.Error("malformed inbound must not be retried")
	}
}

func TestProcess_CanceledContextDuringBackoff(t *testing.T) {
	st := store.NewInMemoryStore()
	gen := &scriptedGenerator{errs: []error{&genai.Error{Kind: genai.KindTimeout, Err: context.DeadlineExceeded}}}
	e := NewEngine(st, gen, StaticConfig(testConfig()), WithBackoff(Backoff{Base: time.Hour, Factor: 2}))
	ctx, cancel := context.WithCancel(context.Background())
	item := enqueueInbound(t, st, "u-cancel", "hello there")
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if _, err := e.Process(ctx, item); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if msgs, _ := st.ListMessages(context.Background(), conversationFor(t, st, "u-cancel").ID, 10, 0); len(msgs) != 0 {
		t.Errorf("canceled run must not commit, got %d messages", len(msgs))
	}
}

func TestRecordFailureThenRedeliver(t *testing.T) {
	st := store.NewInMemoryStore()
	e := newTestEngine(st, genai.NewStub())
	ctx := context.Background()
	item := enqueueInbound(t, st, "u-fail", "hello there")
	item.Attempts = 5

	if err := e.RecordFailure(ctx, item, errors.New("storage unavailable")); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	conv := conversationFor(t, st, "u-fail")
	run, err := st.GetRunByInbound(ctx, conv.ID, item.ExternalID)
	if err != nil || run == nil || run.Outcome != models.OutcomeFailed || run.Attempts != 5 {
		t.Fatalf("unexpected failed run %+v (%v)", run, err)
	}
	if fmt.Sprint(run.StagesExecuted) != fmt.Sprint([]models.Stage{models.StageReceived, models.StageFailed}) {
		t.Errorf("unexpected stages %v", run.StagesExecuted)
	}
	if conv.Version != 0 {
		t.Errorf("failed runs must not touch the version, got %d", conv.Version)
	}

	// A failed run is not replayed.
	again, err := e.Process(ctx, item)
	if err != nil || again.Outcome != models.OutcomeReplied {
		t.Fatalf("expected a fresh run, got %+v %v", again, err)
	}
}
