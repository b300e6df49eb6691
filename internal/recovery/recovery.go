// Package recovery restores in-flight work after a restart. Components
// register a Step; RecoverAll runs every step once at startup, before the
// workers begin claiming items.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Step recovers one component's state. Recover returns how many records it
// put back into circulation.
type Step interface {
	Name() string
	Recover(ctx context.Context) (int, error)
}

// StepFunc adapts a function to Step.
type StepFunc struct {
	name string
	fn   func(ctx context.Context) (int, error)
}

// Func creates a named Step from fn.
func Func(name string, fn func(ctx context.Context) (int, error)) StepFunc {
	return StepFunc{name: name, fn: fn}
}

// Name implements Step.
func (s StepFunc) Name() string { return s.name }

// Recover implements Step.
func (s StepFunc) Recover(ctx context.Context) (int, error) { return s.fn(ctx) }

// Report summarizes a RecoverAll pass.
type Report struct {
	Recovered map[string]int
	Failed    []string
}

// Total returns the number of records recovered across all steps.
func (r Report) Total() int {
	n := 0
	for _, c := range r.Recovered {
		n += c
	}
	return n
}

// Manager orchestrates recovery of all registered components.
type Manager struct {
	steps []Step
}

// NewManager creates a Manager with steps registered in order.
func NewManager(steps ...Step) *Manager {
	m := &Manager{}
	for _, s := range steps {
		m.Register(s)
	}
	return m
}

// Register adds a step. Nil steps are ignored.
func (m *Manager) Register(s Step) {
	if s == nil {
		return
	}
	m.steps = append(m.steps, s)
}

// RecoverAll runs every step in registration order. A failing step does not
// stop the others; their errors are joined into the result.
func (m *Manager) RecoverAll(ctx context.Context) (Report, error) {
	slog.Info("Manager.RecoverAll: starting recovery", "steps", len(m.steps))
	report := Report{Recovered: make(map[string]int, len(m.steps))}
	var errs []error
	for _, s := range m.steps {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		n, err := s.Recover(ctx)
		if err != nil {
			slog.Error("Manager.RecoverAll: step failed", "step", s.Name(), "error", err)
			report.Failed = append(report.Failed, s.Name())
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		report.Recovered[s.Name()] = n
	}
	slog.Info("Manager.RecoverAll: recovery completed", "recovered", report.Total(), "failed", len(report.Failed))
	return report, errors.Join(errs...)
}
