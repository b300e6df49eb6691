// Package api exposes the support agent over HTTP: platform webhook
// ingestion, the operator admin endpoints and a live escalation event stream.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/admin"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/store"
)

// Server defaults.
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	maxWebhookBodySize     = 1 << 20
)

// Enqueuer accepts inbound platform events.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg models.CanonicalMessage) (bool, error)
}

// AdminService is the operator surface served under /v1/admin.
type AdminService interface {
	ForceEscalate(ctx context.Context, conversationID, reason string, priority models.Priority, actor string) (*models.EscalationRecord, error)
	OverrideResponse(ctx context.Context, messageID, newText, actor string) (*models.MessageOverride, error)
	ResolveEscalation(ctx context.Context, id, actor string) (*models.EscalationRecord, error)
	GetAgentStatus(ctx context.Context) (admin.AgentStatus, error)
	ListConversations(ctx context.Context, filter models.ConversationFilter) ([]models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error)
	ListEscalations(ctx context.Context, resolved *bool, limit int) ([]models.EscalationRecord, error)
	ListDeadLetters(ctx context.Context, limit int) ([]store.QueueItem, error)
	RequeueDeadLetter(ctx context.Context, id, actor string) error
	CurrentConfig() models.AgentConfig
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr         string
	AdminToken   string
	WebhookToken string
	Hub          *Hub
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithAdminToken requires a bearer token on /v1/admin.
func WithAdminToken(token string) Option {
	return func(o *Opts) { o.AdminToken = token }
}

// WithWebhookToken requires a bearer token on /v1/webhooks.
func WithWebhookToken(token string) Option {
	return func(o *Opts) { o.WebhookToken = token }
}

// WithHub serves the admin event stream from hub.
func WithHub(hub *Hub) Option {
	return func(o *Opts) { o.Hub = hub }
}

// Server is the HTTP front of the agent.
type Server struct {
	enq   Enqueuer
	admin AdminService
	hub   *Hub
	opts  Opts
	now   func() time.Time
}

// NewServer creates a Server.
func NewServer(enq Enqueuer, svc AdminService, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{enq: enq, admin: svc, hub: cfg.Hub, opts: cfg, now: time.Now}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.healthHandler)

	r.Route("/v1/webhooks", func(r chi.Router) {
		if s.opts.WebhookToken != "" {
			r.Use(BearerAuth(s.opts.WebhookToken))
		}
		r.Post("/{platform}", s.webhookHandler)
	})

	r.Route("/v1/admin", func(r chi.Router) {
		if s.opts.AdminToken != "" {
			r.Use(BearerAuth(s.opts.AdminToken))
		}
		r.Get("/status", s.statusHandler)
		r.Get("/config", s.configHandler)
		r.Get("/conversations", s.listConversationsHandler)
		r.Get("/conversations/{id}", s.getConversationHandler)
		r.Get("/conversations/{id}/messages", s.listMessagesHandler)
		r.Post("/conversations/{id}/escalate", s.forceEscalateHandler)
		r.Post("/messages/{id}/override", s.overrideHandler)
		r.Get("/escalations", s.listEscalationsHandler)
		r.Post("/escalations/{id}/resolve", s.resolveEscalationHandler)
		r.Get("/dead-letters", s.listDeadLettersHandler)
		r.Post("/dead-letters/{id}/requeue", s.requeueDeadLetterHandler)
		if s.hub != nil {
			r.Get("/events", s.hub.ServeHTTP)
		}
	})
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if s.hub != nil {
		s.hub.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.Run: shutdown failed", "error", err)
		return err
	}
	slog.Info("Server.Run: stopped")
	return nil
}
