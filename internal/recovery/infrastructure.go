package recovery

import (
	"context"
	"log/slog"
)

// ClaimRequeuer returns expired queue claims to their lanes.
type ClaimRequeuer interface {
	RequeueExpired(ctx context.Context) (int, error)
}

// OutboxRecoverer releases outbox rows stuck in the sending state.
type OutboxRecoverer interface {
	RecoverStaleMessages(ctx context.Context) error
}

// QueueClaims recovers items a crashed worker left inflight.
func QueueClaims(q ClaimRequeuer) Step {
	return Func("queue-claims", func(ctx context.Context) (int, error) {
		n, err := q.RequeueExpired(ctx)
		if n > 0 {
			slog.Info("recovery.QueueClaims: requeued items left claimed by a previous run", "count", n)
		}
		return n, err
	})
}

// OutboxLocks recovers deliveries interrupted mid-send. The repository does
// not report a count, so the step always reports zero.
func OutboxLocks(o OutboxRecoverer) Step {
	return Func("outbox-locks", func(ctx context.Context) (int, error) {
		return 0, o.RecoverStaleMessages(ctx)
	})
}
