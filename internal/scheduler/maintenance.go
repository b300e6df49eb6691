package scheduler

import (
	"context"
	"log/slog"
)

// Requeuer returns expired claims to their lanes.
type Requeuer interface {
	RequeueExpired(ctx context.Context) (int, error)
}

// Recoverer releases stale outbox locks.
type Recoverer interface {
	RecoverStaleMessages(ctx context.Context) error
}

// StatusFunc produces key/value pairs for the periodic status log line.
type StatusFunc func(ctx context.Context) []any

// Maintenance lists the jobs to schedule. Nil members and empty specs are
// skipped.
type Maintenance struct {
	Queue        Requeuer
	ReaperSpec   string
	Outbox       Recoverer
	RecoverySpec string
	Status       StatusFunc
	StatusSpec   string
}

// Register schedules the maintenance jobs on s.
func Register(ctx context.Context, s *Scheduler, m Maintenance) error {
	if m.Queue != nil && m.ReaperSpec != "" {
		err := s.AddContextJob(ctx, "visibility-reaper", m.ReaperSpec, func(ctx context.Context) error {
			n, err := m.Queue.RequeueExpired(ctx)
			if n > 0 {
				slog.Info("Scheduler.visibilityReaper: requeued expired items", "count", n)
			}
			return err
		})
		if err != nil {
			return err
		}
	}
	if m.Outbox != nil && m.RecoverySpec != "" {
		if err := s.AddContextJob(ctx, "outbox-recovery", m.RecoverySpec, m.Outbox.RecoverStaleMessages); err != nil {
			return err
		}
	}
	if m.Status != nil && m.StatusSpec != "" {
		err := s.AddContextJob(ctx, "status-snapshot", m.StatusSpec, func(ctx context.Context) error {
			slog.Info("Agent status", m.Status(ctx)...)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
