// Package flow runs the conversation workflow for one inbound message:
// classify, load context, decide on escalation, generate and validate a
// reply, and commit the outcome in a single store transaction.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/classify"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/escalation"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/genai"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/prompts"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/store"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/tone"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/util"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/validation"
)

// Metadata keys added to committed inbound messages.
const (
	MetaOrderNumber = "order_number"
	MetaLanguage    = "language"
	MetaConfidence  = "intent_confidence"
)

// Store is the part of the storage layer the engine uses.
type Store interface {
	store.ContextStore
	GetInbound(ctx context.Context, platform models.Platform, externalID string) (*models.CanonicalMessage, error)
}

// ConfigSource hands out the current agent config snapshot.
type ConfigSource interface {
	Current() models.AgentConfig
}

// StaticConfig is a ConfigSource that never changes.
type StaticConfig models.AgentConfig

// Current implements ConfigSource.
func (c StaticConfig) Current() models.AgentConfig { return models.AgentConfig(c).Clone() }

// Engine executes workflow runs.
type Engine struct {
	store      Store
	gen        genai.Generator
	config     ConfigSource
	classifier classify.Classifier
	backoff    Backoff
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithBackoff replaces DefaultBackoff.
func WithBackoff(b Backoff) Option {
	return func(e *Engine) { e.backoff = b }
}

// WithClassifier pins the classifier instead of picking one from each snapshot.
func WithClassifier(c classify.Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine.
func NewEngine(st Store, gen genai.Generator, cfg ConfigSource, opts ...Option) *Engine {
	e := &Engine{
		store:   st,
		gen:     gen,
		config:  cfg,
		backoff: DefaultBackoff,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// runState is the working data of one run.
type runState struct {
	cfg          models.AgentConfig
	gen          genai.Generator
	inbound      models.CanonicalMessage
	conversation models.Conversation
	path         *path
	run          models.WorkflowRun
	class        classify.Result
	history      []models.Message
	version      int64
	verdict      escalation.Verdict
}

// Process runs the workflow for a queued inbound event. A finished run for
// the same inbound message is returned unchanged without new writes.
func (e *Engine) Process(ctx context.Context, item store.QueueItem) (*models.WorkflowRun, error) {
	inbound, err := e.store.GetInbound(ctx, item.Platform, item.ExternalID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, &models.MalformedInboundError{Reason: fmt.Errorf("inbound %s/%s not recorded", item.Platform, item.ExternalID)}
		}
		return nil, fmt.Errorf("load inbound: %w", err)
	}

	conv, err := e.store.LoadConversation(ctx, inbound.Platform, inbound.PlatformUserID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	existing, err := e.store.GetRunByInbound(ctx, conv.ID, inbound.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	if existing.Finished() && existing.Outcome != models.OutcomeFailed {
		slog.Info("Engine.Process: replaying finished run", "conversationID", conv.ID, "externalID", inbound.ExternalID, "outcome", existing.Outcome)
		return existing, nil
	}

	st := &runState{
		cfg:          e.config.Current(),
		gen:          genai.Pin(e.gen),
		inbound:      *inbound,
		conversation: *conv,
		path:         newPath(),
		run: models.WorkflowRun{
			ID:                util.NewID("run_"),
			ConversationID:    conv.ID,
			InboundExternalID: inbound.ExternalID,
			StartedAt:         e.now().UTC(),
		},
	}

	e.classify(ctx, st)
	if err := st.path.follow(CondNext); err != nil {
		return nil, err
	}

	if err := e.loadContext(ctx, st); err != nil {
		return nil, err
	}
	if err := st.path.follow(CondNext); err != nil {
		return nil, err
	}

	st.verdict = escalation.Decide(escalation.Input{
		Intent:     st.class.Intent,
		Confidence: st.class.Confidence,
		Text:       inbound.Text,
		Sentiment:  st.class.Sentiment,
		Recent:     st.history,
		Policy:     escalation.PolicyFrom(st.cfg),
	})
	if err := st.path.follow(CondNext); err != nil {
		return nil, err
	}

	var req store.CommitRequest
	if st.verdict.Escalate {
		if err := st.path.follow(CondEscalate); err != nil {
			return nil, err
		}
		req, err = e.escalate(st)
	} else {
		if err := st.path.follow(CondReply); err != nil {
			return nil, err
		}
		req, err = e.reply(ctx, st)
	}
	if err != nil {
		return nil, err
	}

	res, err := e.store.CommitRun(ctx, req)
	if err != nil {
		slog.Warn("Engine.Process: commit failed", "conversationID", conv.ID, "externalID", inbound.ExternalID, "error", err)
		return nil, err
	}
	slog.Info("Engine.Process: run committed", "conversationID", conv.ID, "externalID", inbound.ExternalID,
		"outcome", req.Run.Outcome, "degraded", req.Run.Degraded, "version", res.Conversation.Version)
	return req.Run, nil
}

func (e *Engine) classify(ctx context.Context, st *runState) {
	c := e.classifier
	if c == nil {
		c = classify.New(st.cfg, st.gen)
	}
	res, err := c.Classify(ctx, classify.Input{Text: st.inbound.Text})
	if err != nil {
		slog.Warn("Engine.classify: falling back to GENERAL", "externalID", st.inbound.ExternalID, "error", err)
		res = classify.Annotate(st.cfg, st.inbound.Text)
	}
	st.class = res
	slog.Debug("Engine.classify: classified", "externalID", st.inbound.ExternalID, "intent", res.Intent, "sentiment", res.Sentiment, "language", res.Language)
}

// loadContext reads history. Only an unavailable store fails the run; any
// other read error continues with empty history.
func (e *Engine) loadContext(ctx context.Context, st *runState) error {
	history, version, err := e.store.LoadRecentMessages(ctx, st.conversation.ID, st.cfg.ContextWindowSize)
	if err != nil {
		if errors.Is(err, models.ErrStorageUnavailable) {
			return fmt.Errorf("load context: %w", err)
		}
		slog.Warn("Engine.loadContext: continuing without history", "conversationID", st.conversation.ID, "error", err)
		st.history, st.version = nil, st.conversation.Version
		return nil
	}
	st.history, st.version = history, version
	return nil
}

func (e *Engine) inboundMessage(st *runState, escalated bool) models.Message {
	meta := make(map[string]string, len(st.inbound.RawMetadata)+3)
	for k, v := range st.inbound.RawMetadata {
		meta[k] = v
	}
	if st.class.OrderNumber != "" {
		meta[MetaOrderNumber] = st.class.OrderNumber
	}
	if st.class.Language != "" {
		meta[MetaLanguage] = st.class.Language
	}
	meta[MetaConfidence] = strconv.FormatFloat(st.class.Confidence, 'f', 2, 64)
	sentiment := st.class.Sentiment
	return models.Message{
		ID:             util.NewID("msg_"),
		ExternalID:     st.inbound.ExternalID,
		Platform:       st.inbound.Platform,
		Direction:      models.DirectionIn,
		Text:           st.inbound.Text,
		Timestamp:      st.inbound.Timestamp.UTC(),
		RawMetadata:    meta,
		Intent:         st.class.Intent,
		SentimentScore: &sentiment,
		Escalated:      escalated,
		WorkflowRunID:  st.run.ID,
	}
}

func (e *Engine) outboundMessage(st *runState, text string, escalated bool, at time.Time) models.Message {
	return models.Message{
		ID:            util.NewID("msg_"),
		ExternalID:    "out_" + st.run.ID,
		Platform:      st.inbound.Platform,
		Direction:     models.DirectionOut,
		Text:          text,
		Timestamp:     at,
		Intent:        st.class.Intent,
		Escalated:     escalated,
		WorkflowRunID: st.run.ID,
	}
}

func (e *Engine) escalate(st *runState) (store.CommitRequest, error) {
	now := e.now().UTC()
	ack := prompts.EscalationAck(st.verdict.Priority)
	out := e.outboundMessage(st, ack, true, now)

	rec := &models.EscalationRecord{
		ID:             util.NewID("esc_"),
		ConversationID: st.conversation.ID,
		WorkflowRunID:  st.run.ID,
		Reason:         st.verdict.Reason,
		Priority:       st.verdict.Priority,
		CreatedAt:      now,
	}

	st.run.Outcome = models.OutcomeEscalated
	st.run.StagesExecuted = st.path.snapshot()
	st.run.FinishedAt = &now

	payload, err := models.EncodeOutcome(models.Outcome{
		Kind:           models.OutcomeKindEscalation,
		ConversationID: st.conversation.ID,
		Platform:       st.inbound.Platform,
		PlatformUserID: st.inbound.PlatformUserID,
		WorkflowRunID:  st.run.ID,
		MessageID:      out.ID,
		Text:           ack,
		Reason:         rec.Reason,
		Priority:       rec.Priority,
		EscalationID:   rec.ID,
		InboundText:    st.inbound.Text,
	})
	if err != nil {
		return store.CommitRequest{}, err
	}

	// An open escalation keeps its priority unless the new one is higher.
	newPriority := rec.Priority
	if st.conversation.Status == models.ConversationEscalated && priorityRank(st.conversation.Priority) >= priorityRank(rec.Priority) {
		newPriority = ""
	}

	run := st.run
	return store.CommitRequest{
		ConversationID:    st.conversation.ID,
		ExpectedVersion:   st.version,
		Messages:          []models.Message{e.inboundMessage(st, true), out},
		NewStatus:         models.ConversationEscalated,
		NewPriority:       newPriority,
		Run:               &run,
		Escalation:        rec,
		Outbox:            &store.OutboxEntry{Kind: store.OutboxKindEscalation, PayloadJSON: payload, DedupeKey: run.ID},
		InboundPlatform:   st.inbound.Platform,
		InboundExternalID: st.inbound.ExternalID,
		At:                now,
	}, nil
}

func priorityRank(p models.Priority) int {
	switch p {
	case models.PriorityHigh:
		return 3
	case models.PriorityMedium:
		return 2
	case models.PriorityLow:
		return 1
	}
	return 0
}

func (e *Engine) reply(ctx context.Context, st *runState) (store.CommitRequest, error) {
	text, err := e.generateValidated(ctx, st)
	if err != nil {
		return store.CommitRequest{}, err
	}
	if err := st.path.follow(CondNext); err != nil {
		return store.CommitRequest{}, err
	}

	now := e.now().UTC()
	out := e.outboundMessage(st, text, false, now)
	st.run.Outcome = models.OutcomeReplied
	st.run.StagesExecuted = st.path.snapshot()
	st.run.FinishedAt = &now

	payload, err := models.EncodeOutcome(models.Outcome{
		Kind:           models.OutcomeKindAutoReply,
		ConversationID: st.conversation.ID,
		Platform:       st.inbound.Platform,
		PlatformUserID: st.inbound.PlatformUserID,
		WorkflowRunID:  st.run.ID,
		MessageID:      out.ID,
		Text:           text,
		Degraded:       st.run.Degraded,
	})
	if err != nil {
		return store.CommitRequest{}, err
	}

	run := st.run
	return store.CommitRequest{
		ConversationID:    st.conversation.ID,
		ExpectedVersion:   st.version,
		Messages:          []models.Message{e.inboundMessage(st, false), out},
		Run:               &run,
		Outbox:            &store.OutboxEntry{Kind: store.OutboxKindAutoReply, PayloadJSON: payload, DedupeKey: run.ID},
		InboundPlatform:   st.inbound.Platform,
		InboundExternalID: st.inbound.ExternalID,
		At:                now,
	}, nil
}

// generateValidated produces the reply text for the Generating -> Validated
// leg. It only fails when ctx is done; every other problem degrades to the
// intent template.
func (e *Engine) generateValidated(ctx context.Context, st *runState) (string, error) {
	cfg := st.cfg
	prompt := prompts.Reply(prompts.ReplyInput{
		Intent:   st.class.Intent,
		Variant:  cfg.PromptVariant,
		Language: st.class.Language,
		Platform: st.inbound.Platform,
		Message:  st.inbound.Text,
		Context:  prompts.FormatContext(st.history),
		ToneGuide: tone.BuildToneGuide(tone.Select(tone.Signals{
			Intent:    st.class.Intent,
			Sentiment: st.class.Sentiment,
			Platform:  st.inbound.Platform,
		})),
	})

	text, err := e.generateWithRetry(ctx, st, prompt, cfg.MaxGenerationRetries)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return e.fallback(st, err), nil
	}

	validator := validation.New(cfg)
	text = tone.Adjust(text, st.class.Sentiment)
	verr := validator.Validate(text)
	if verr == nil {
		return text, nil
	}
	slog.Info("Engine.generateValidated: reply rejected, regenerating", "runID", st.run.ID, "reason", verr)

	adjusted := prompts.Adjusted(prompt, validation.Describe(verr), cfg.MinResponseLength, cfg.MaxResponseLength)
	text, err = e.generateWithRetry(ctx, st, adjusted, 1)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return e.fallback(st, err), nil
	}
	text = tone.Adjust(text, st.class.Sentiment)
	if verr := validator.Validate(text); verr != nil {
		return e.fallback(st, verr), nil
	}
	return text, nil
}

// generateWithRetry makes up to maxAttempts generation calls with backoff
// between them.
func (e *Engine) generateWithRetry(ctx context.Context, st *runState, p prompts.Prompt, maxAttempts int) (string, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	req := genai.Request{
		Purpose:      genai.PurposeReply,
		SystemPrompt: p.System,
		UserPrompt:   p.User,
		Intent:       st.class.Intent,
		MaxTokens:    st.cfg.MaxTokens,
		Temperature:  st.cfg.Temperature,
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		st.run.Attempts++
		text, err := st.gen.Generate(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		st.run.LastError = err.Error()
		slog.Warn("Engine.generateWithRetry: generation failed", "runID", st.run.ID, "attempt", attempt, "max", maxAttempts, "error", err)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attempt < maxAttempts {
			if err := sleepCtx(ctx, e.backoff.Delay(attempt)); err != nil {
				return "", err
			}
		}
	}
	return "", lastErr
}

func (e *Engine) fallback(st *runState, cause error) string {
	st.run.Degraded = true
	if cause != nil {
		st.run.LastError = cause.Error()
	}
	slog.Warn("Engine.fallback: using template reply", "runID", st.run.ID, "intent", st.class.Intent, "cause", cause)
	return prompts.Fallback(st.class.Intent)
}

// RecordFailure persists a Failed run for an inbound event the queue gave
// up on. Events that were never recorded are only logged.
func (e *Engine) RecordFailure(ctx context.Context, item store.QueueItem, cause error) error {
	inbound, err := e.store.GetInbound(ctx, item.Platform, item.ExternalID)
	if err != nil {
		slog.Error("Engine.RecordFailure: inbound unavailable", "externalID", item.ExternalID, "cause", cause, "error", err)
		return err
	}
	conv, err := e.store.LoadConversation(ctx, inbound.Platform, inbound.PlatformUserID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	p := newPath()
	_ = p.follow(CondError)
	now := e.now().UTC()
	run := models.WorkflowRun{
		ID:                util.NewID("run_"),
		ConversationID:    conv.ID,
		InboundExternalID: inbound.ExternalID,
		StagesExecuted:    p.snapshot(),
		Outcome:           models.OutcomeFailed,
		Attempts:          item.Attempts,
		StartedAt:         item.CreatedAt.UTC(),
		FinishedAt:        &now,
	}
	if cause != nil {
		run.LastError = cause.Error()
	}
	if err := e.store.RecordFailedRun(ctx, run); err != nil {
		return fmt.Errorf("record failed run: %w", err)
	}
	slog.Error("Engine.RecordFailure: run failed permanently", "conversationID", conv.ID, "externalID", inbound.ExternalID, "attempts", item.Attempts, "cause", cause)
	return nil
}
