// Package scheduler runs the agent's periodic maintenance jobs on cron
// schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Default maintenance schedules.
const (
	DefaultReaperSpec   = "@every 30s"
	DefaultRecoverySpec = "@every 1m"
	DefaultStatusSpec   = "@every 5m"
	// DefaultJobTimeout bounds a single job run.
	DefaultJobTimeout = 30 * time.Second
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
}

// NewScheduler creates a cron scheduler. It accepts standard 5-field
// expressions and descriptors such as "@every 30s". Call Start to begin.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	return &Scheduler{cron: c, timeout: DefaultJobTimeout}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// AddContextJob schedules a named task that receives a context bounded by
// the job timeout. Task errors are logged.
func (s *Scheduler) AddContextJob(ctx context.Context, name, expr string, task func(context.Context) error) error {
	err := s.AddJob(expr, func() {
		jobCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		start := time.Now()
		if err := task(jobCtx); err != nil {
			slog.Warn("Scheduler job failed", "job", name, "error", err, "duration", time.Since(start))
			return
		}
		slog.Debug("Scheduler job completed", "job", name, "duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, expr, err)
	}
	return nil
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Run starts the scheduler and blocks until ctx is done, then stops it and
// waits for running jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start()
	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
