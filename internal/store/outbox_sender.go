package store

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/util"
)

// Outbox delivery defaults.
const (
	DefaultOutboxPollInterval = 2 * time.Second
	DefaultOutboxBatch        = 10
	DefaultOutboxBackoff      = 10 * time.Second
	DefaultOutboxMaxBackoff   = 10 * time.Minute
	DefaultOutboxSendTimeout  = 30 * time.Second
	DefaultOutboxStaleAfter   = 5 * time.Minute
)

// OutboxSendFunc performs one delivery. A returned error schedules a retry.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

// OutboxStats counts delivery attempts since start.
type OutboxStats struct {
	Sent   int64 `json:"sent"`
	Failed int64 `json:"failed"`
}

// OutboxSender drains the outbox: it claims due rows, hands them to the send
// function and records the result. Rows that keep failing back off
// exponentially until the repository parks them.
type OutboxSender struct {
	repo         OutboxRepo
	send         OutboxSendFunc
	pollInterval time.Duration
	staleAfter   time.Duration
	batch        int
	maxAttempts  int
	backoff      time.Duration
	maxBackoff   time.Duration
	sendTimeout  time.Duration
	now          func() time.Time

	sent   atomic.Int64
	failed atomic.Int64
}

// OutboxSenderOption configures an OutboxSender.
type OutboxSenderOption func(*OutboxSender)

// WithOutboxBatch sets how many rows one poll claims.
func WithOutboxBatch(n int) OutboxSenderOption {
	return func(s *OutboxSender) { s.batch = n }
}

// WithOutboxMaxAttempts sets the attempt count after which a row is parked.
func WithOutboxMaxAttempts(n int) OutboxSenderOption {
	return func(s *OutboxSender) { s.maxAttempts = n }
}

// WithOutboxBackoff sets the first retry delay and its cap.
func WithOutboxBackoff(base, max time.Duration) OutboxSenderOption {
	return func(s *OutboxSender) { s.backoff, s.maxBackoff = base, max }
}

// WithOutboxSendTimeout bounds a single send call.
func WithOutboxSendTimeout(d time.Duration) OutboxSenderOption {
	return func(s *OutboxSender) { s.sendTimeout = d }
}

// WithOutboxClock overrides time.Now.
func WithOutboxClock(now func() time.Time) OutboxSenderOption {
	return func(s *OutboxSender) { s.now = now }
}

// NewOutboxSender creates an OutboxSender. A non-positive pollInterval uses
// DefaultOutboxPollInterval.
func NewOutboxSender(repo OutboxRepo, send OutboxSendFunc, pollInterval time.Duration, opts ...OutboxSenderOption) *OutboxSender {
	if pollInterval <= 0 {
		pollInterval = DefaultOutboxPollInterval
	}
	s := &OutboxSender{
		repo:         repo,
		send:         send,
		pollInterval: pollInterval,
		staleAfter:   DefaultOutboxStaleAfter,
		batch:        DefaultOutboxBatch,
		maxAttempts:  DefaultOutboxMaxAttempts,
		backoff:      DefaultOutboxBackoff,
		maxBackoff:   DefaultOutboxMaxBackoff,
		sendTimeout:  DefaultOutboxSendTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecoverStaleMessages requeues rows left in the sending state by a crash.
func (s *OutboxSender) RecoverStaleMessages(ctx context.Context) error {
	n, err := s.repo.RequeueStaleSendingMessages(ctx, s.now().UTC().Add(-s.staleAfter))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("OutboxSender.RecoverStaleMessages: requeued stale messages", "count", n)
	}
	return nil
}

// Run polls until ctx is canceled.
func (s *OutboxSender) Run(ctx context.Context) {
	slog.Info("OutboxSender.Run: started", "poll_interval", s.pollInterval, "batch", s.batch)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("OutboxSender.Run: stopped")
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll claims one batch of due rows and attempts each. It returns how many
// were delivered and how many failed.
func (s *OutboxSender) Poll(ctx context.Context) (sent, failed int) {
	now := s.now().UTC()
	msgs, err := s.repo.ClaimDueOutboxMessages(ctx, now, s.batch)
	if err != nil {
		slog.Error("OutboxSender.Poll: claim failed", "error", err)
		return 0, 0
	}
	for _, msg := range msgs {
		if s.deliver(ctx, msg, now) {
			sent++
		} else {
			failed++
		}
	}
	return sent, failed
}

func (s *OutboxSender) deliver(ctx context.Context, msg OutboxMessage, now time.Time) bool {
	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	err := s.send(sendCtx, msg)
	cancel()

	if err != nil {
		s.failed.Add(1)
		retryAt := now.Add(s.retryDelay(msg.Attempts))
		slog.Warn("OutboxSender.deliver: send failed", "id", msg.ID, "conversationID", msg.ConversationID,
			"kind", msg.Kind, "attempts", msg.Attempts+1, "retry_at", retryAt, "error", err)
		if ferr := s.repo.FailOutboxMessage(ctx, msg.ID, err.Error(), retryAt, s.maxAttempts); ferr != nil {
			slog.Error("OutboxSender.deliver: recording failure", "id", msg.ID, "error", ferr)
		}
		return false
	}
	s.sent.Add(1)
	if err := s.repo.MarkOutboxMessageSent(ctx, msg.ID); err != nil {
		// The row stays in sending until stale recovery requeues it, so
		// delivery is at-least-once.
		slog.Error("OutboxSender.deliver: marking sent", "id", msg.ID, "error", err)
	}
	slog.Debug("OutboxSender.deliver: sent", "id", msg.ID, "conversationID", msg.ConversationID, "kind", msg.Kind)
	return true
}

// retryDelay doubles from the base per previous attempt, capped and jittered
// by 10%.
func (s *OutboxSender) retryDelay(attempts int) time.Duration {
	d := s.backoff
	for i := 0; i < attempts && d < s.maxBackoff; i++ {
		d *= 2
	}
	if s.maxBackoff > 0 && d > s.maxBackoff {
		d = s.maxBackoff
	}
	return time.Duration(util.Jitter(float64(d), 0.1))
}

// Stats returns delivery counters.
func (s *OutboxSender) Stats() OutboxStats {
	return OutboxStats{Sent: s.sent.Load(), Failed: s.failed.Load()}
}
