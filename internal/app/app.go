// Package app composes the support agent runtime: storage, the workflow
// engine, the lane dispatcher, outbound delivery, maintenance jobs, config
// hot reload and the HTTP surface, all run under one errgroup.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/admin"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/api"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/config"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/flow"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/genai"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/lockfile"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/outbound"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/queue"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/recovery"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/scheduler"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/store"
)

// Config is the process-level configuration. The agent behaviour itself
// lives in models.AgentConfig, loaded from AgentConfigPath.
type Config struct {
	StateDir        string
	DatabaseDSN     string
	AgentConfigPath string

	APIAddr      string
	AdminToken   string
	WebhookToken string

	OpenAIKey     string
	OpenRouterKey string
	LLMBaseURL    string
	DebugLLM      bool

	Workers           int
	Lanes             int
	MaxDeliveries     int
	VisibilityTimeout time.Duration
	QueuePoll         time.Duration
	OutboxPoll        time.Duration

	ReaperSpec   string
	RecoverySpec string
	StatusSpec   string

	// Per-platform send bridges. Platforms without a URL use a log-only sender.
	TikTokSendURL   string
	LinkedInSendURL string
	SendToken       string

	Notify NotifyConfig
}

// NotifyConfig selects the human-agent alert channels.
type NotifyConfig struct {
	TwilioRecipients   []string
	TwilioChannel      string
	WhatsAppRecipients []string
	WhatsAppDSN        string
	WhatsAppQRPath     string
	WhatsAppNumeric    bool
}

// Runtime owns every long-running component.
type Runtime struct {
	cfg Config

	store   store.Store
	lock    *lockfile.Lock
	holder  *config.Holder
	watcher *config.Watcher
	gen     *genai.Swappable

	engine     *flow.Engine
	queue      *queue.Dispatcher
	dispatcher *outbound.Dispatcher
	outbox     *store.OutboxSender
	sched      *scheduler.Scheduler
	admin      *admin.Service
	hub        *api.Hub
	server     *api.Server

	closers []func()
}

// Option overrides a component, mostly for tests.
type Option func(*overrides)

type overrides struct {
	store     store.Store
	generator genai.Generator
	senders   map[models.Platform]outbound.Sender
	notifiers []outbound.Notifier
}

// WithStore uses st instead of opening Config.DatabaseDSN.
func WithStore(st store.Store) Option {
	return func(o *overrides) { o.store = st }
}

// WithGenerator uses gen instead of the provider named in the agent config.
// Config reloads then leave the generator alone.
func WithGenerator(gen genai.Generator) Option {
	return func(o *overrides) { o.generator = gen }
}

// WithSender replaces the send bridge for platform.
func WithSender(p models.Platform, s outbound.Sender) Option {
	return func(o *overrides) {
		if o.senders == nil {
			o.senders = make(map[models.Platform]outbound.Sender)
		}
		o.senders[p] = s
	}
}

// WithNotifier adds a human-agent notifier.
func WithNotifier(n outbound.Notifier) Option {
	return func(o *overrides) { o.notifiers = append(o.notifiers, n) }
}

// New builds the runtime. Nothing runs until Run is called; on error every
// resource opened so far is released.
func New(ctx context.Context, cfg Config, opts ...Option) (rt *Runtime, err error) {
	var ov overrides
	for _, opt := range opts {
		opt(&ov)
	}
	r := &Runtime{cfg: cfg}
	defer func() {
		if err != nil {
			r.Close()
		}
	}()

	agentCfg, err := config.Load(cfg.AgentConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load agent config: %w", err)
	}
	r.holder = config.NewHolder(agentCfg)
	if cfg.AgentConfigPath != "" {
		r.watcher = config.NewWatcher(cfg.AgentConfigPath, r.holder, nil)
	}

	if err := r.openStore(ov.store); err != nil {
		return nil, err
	}

	if err := r.buildGenerator(agentCfg, ov.generator); err != nil {
		return nil, err
	}

	r.engine = flow.NewEngine(r.store, r.gen, r.holder)
	r.queue = queue.New(r.store, r.handle, r.queueOptions()...)

	r.hub = api.NewHub()
	if err := r.buildDispatcher(ctx, ov); err != nil {
		return nil, err
	}
	r.outbox = store.NewOutboxSender(r.store, r.dispatcher.SendOutbox, cfg.OutboxPoll)
	r.sched = scheduler.NewScheduler()

	r.admin = admin.NewService(r.store, r.queue, r.holder, admin.WithDeliveryStats(r.dispatcher))
	r.server = api.NewServer(r.queue, r.admin, r.apiOptions()...)

	slog.Info("Runtime.New: support agent assembled",
		"provider", agentCfg.Provider, "model", agentCfg.Model,
		"dsn_set", cfg.DatabaseDSN != "", "config_path", cfg.AgentConfigPath,
		"addr", cfg.APIAddr)
	return r, nil
}

// openStore takes the state-directory lock for file-backed databases, then
// opens the store.
func (r *Runtime) openStore(override store.Store) error {
	if override != nil {
		r.store = override
		return nil
	}
	dsn := r.cfg.DatabaseDSN
	if dsn != "" && store.DetectDSNType(dsn) == store.BackendSQLite {
		dir := r.cfg.StateDir
		if dir == "" {
			dir = filepath.Dir(dsn)
		}
		lock, err := lockfile.Acquire(dir)
		if err != nil {
			return err
		}
		r.lock = lock
	}
	st, err := store.Open(store.OptionsForDSN(dsn)...)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	r.store = st
	r.closers = append(r.closers, func() {
		if err := st.Close(); err != nil {
			slog.Warn("Runtime.Close: store close failed", "error", err)
		}
	})
	return nil
}

func (r *Runtime) genaiOptions() []genai.Option {
	var opts []genai.Option
	if r.cfg.OpenAIKey != "" {
		opts = append(opts, genai.WithAPIKey(r.cfg.OpenAIKey))
	}
	if r.cfg.OpenRouterKey != "" {
		opts = append(opts, genai.WithOpenRouterKey(r.cfg.OpenRouterKey))
	}
	if r.cfg.LLMBaseURL != "" {
		opts = append(opts, genai.WithBaseURL(r.cfg.LLMBaseURL))
	}
	if r.cfg.DebugLLM && r.cfg.StateDir != "" {
		opts = append(opts, genai.WithDebug(r.cfg.StateDir))
	}
	return opts
}

// buildGenerator creates the generator and rebuilds it whenever a reload
// changes the provider settings. A failed rebuild keeps the old generator.
func (r *Runtime) buildGenerator(cfg models.AgentConfig, override genai.Generator) error {
	if override != nil {
		r.gen = genai.NewSwappable(override)
		return nil
	}
	gen, err := genai.New(cfg, r.genaiOptions()...)
	if err != nil {
		return fmt.Errorf("create generator: %w", err)
	}
	r.gen = genai.NewSwappable(gen)
	r.holder.OnChange(func(old, cur models.AgentConfig) {
		if !generatorChanged(old, cur) {
			return
		}
		next, err := genai.New(cur, r.genaiOptions()...)
		if err != nil {
			slog.Error("Runtime.reload: keeping previous generator", "provider", cur.Provider, "error", err)
			return
		}
		r.gen.Swap(next)
		slog.Info("Runtime.reload: generator swapped", "provider", cur.Provider, "model", cur.Model)
	})
	return nil
}

func generatorChanged(old, cur models.AgentConfig) bool {
	if old.Provider != cur.Provider || old.Model != cur.Model ||
		old.Temperature != cur.Temperature || old.MaxTokens != cur.MaxTokens ||
		old.TimeoutMs != cur.TimeoutMs || len(old.FallbackModels) != len(cur.FallbackModels) {
		return true
	}
	for i := range old.FallbackModels {
		if old.FallbackModels[i] != cur.FallbackModels[i] {
			return true
		}
	}
	return false
}

func (r *Runtime) queueOptions() []queue.Option {
	opts := []queue.Option{queue.WithDeadLetterHandler(r.deadLetter)}
	if r.cfg.Workers > 0 {
		opts = append(opts, queue.WithWorkers(r.cfg.Workers))
	}
	if r.cfg.Lanes > 0 {
		opts = append(opts, queue.WithLaneCount(r.cfg.Lanes))
	}
	if r.cfg.MaxDeliveries > 0 {
		opts = append(opts, queue.WithMaxDeliveries(r.cfg.MaxDeliveries))
	}
	if r.cfg.VisibilityTimeout > 0 {
		opts = append(opts, queue.WithVisibilityTimeout(r.cfg.VisibilityTimeout))
	}
	if r.cfg.QueuePoll > 0 {
		opts = append(opts, queue.WithPollInterval(r.cfg.QueuePoll))
	}
	return opts
}

// handle runs one queue item through the workflow engine.
func (r *Runtime) handle(ctx context.Context, item store.QueueItem) error {
	_, err := r.engine.Process(ctx, item)
	return err
}

func (r *Runtime) deadLetter(ctx context.Context, item store.QueueItem, cause error) {
	if err := r.engine.RecordFailure(ctx, item, cause); err != nil {
		slog.Error("Runtime.deadLetter: recording failed run", "externalID", item.ExternalID, "error", err)
	}
}

func (r *Runtime) apiOptions() []api.Option {
	opts := []api.Option{api.WithHub(r.hub)}
	if r.cfg.APIAddr != "" {
		opts = append(opts, api.WithAddr(r.cfg.APIAddr))
	}
	if r.cfg.AdminToken != "" {
		opts = append(opts, api.WithAdminToken(r.cfg.AdminToken))
	}
	if r.cfg.WebhookToken != "" {
		opts = append(opts, api.WithWebhookToken(r.cfg.WebhookToken))
	}
	return opts
}

// Handler exposes the HTTP handler without starting the listener.
func (r *Runtime) Handler() http.Handler { return r.server.Handler() }

// Config returns the live agent config holder.
func (r *Runtime) Config() *config.Holder { return r.holder }

// Store returns the opened store.
func (r *Runtime) Store() store.Store { return r.store }

// Run starts every component and blocks until ctx is canceled or one of
// them fails. Resources are released before it returns.
func (r *Runtime) Run(ctx context.Context) error {
	defer r.Close()

	m := scheduler.Maintenance{
		Queue:        r.queue,
		ReaperSpec:   orDefault(r.cfg.ReaperSpec, scheduler.DefaultReaperSpec),
		Outbox:       r.outbox,
		RecoverySpec: orDefault(r.cfg.RecoverySpec, scheduler.DefaultRecoverySpec),
		Status:       r.statusFields,
		StatusSpec:   orDefault(r.cfg.StatusSpec, scheduler.DefaultStatusSpec),
	}
	if err := scheduler.Register(ctx, r.sched, m); err != nil {
		return fmt.Errorf("register maintenance jobs: %w", err)
	}

	// Work a previous process left half-done is recovered before any worker
	// starts claiming.
	rec := recovery.NewManager(recovery.QueueClaims(r.queue), recovery.OutboxLocks(r.outbox))
	if _, err := rec.RecoverAll(ctx); err != nil {
		slog.Warn("Runtime.Run: startup recovery incomplete", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.queue.Run(gctx) })
	g.Go(func() error {
		r.outbox.Run(gctx)
		return nil
	})
	g.Go(func() error { return r.sched.Run(gctx) })
	g.Go(func() error { return r.server.Run(gctx) })
	if r.watcher != nil {
		g.Go(func() error { return r.watcher.Run(gctx) })
	}

	slog.Info("Runtime.Run: support agent started")
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Runtime.Run: component failed", "error", err)
		return err
	}
	slog.Info("Runtime.Run: support agent stopped")
	return nil
}

func (r *Runtime) statusFields(ctx context.Context) []any {
	st, err := r.admin.GetAgentStatus(ctx)
	if err != nil {
		return []any{"error", err}
	}
	fields := []any{
		"healthy", st.Healthy,
		"queue_depth", st.QueueDepth,
		"active_runs", st.ActiveRuns,
		"dead_letters", st.DeadLetters,
		"replied", st.Runs.Replied,
		"escalated", st.Runs.Escalated,
		"failed", st.Runs.Failed,
		"degraded", st.DegradedRuns,
		"ws_clients", r.hub.Clients(),
	}
	ob := r.outbox.Stats()
	fields = append(fields, "outbox_sent", ob.Sent, "outbox_failed", ob.Failed)
	if st.Delivery != nil {
		fields = append(fields, "delivered", st.Delivery.Delivered, "delivery_failures", st.Delivery.Failed)
	}
	return fields
}

// Close releases the notifier clients, the store and the state lock. It is
// safe to call more than once.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
	if r.lock != nil {
		if err := r.lock.Release(); err != nil {
			slog.Warn("Runtime.Close: lock release failed", "error", err)
		}
		r.lock = nil
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
