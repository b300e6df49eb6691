package genai

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type watchdog struct {
	next    Generator
	timeout time.Duration
}

// WithWatchdog bounds every call to next by timeout. A deadline hit by the
// watchdog is reported as ErrTimeout even when the provider ignores the
// context.
func WithWatchdog(next Generator, timeout time.Duration) Generator {
	if timeout <= 0 {
		return next
	}
	return &watchdog{next: next, timeout: timeout}
}

type result struct {
	text string
	err  error
}

func (w *watchdog) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		text, err := w.next.Generate(ctx, req)
		done <- result{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &Error{Kind: KindTimeout, Model: req.Model, Err: r.err}
		}
		return r.text, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			slog.Warn("watchdog.Generate: generation timed out", "timeout", w.timeout, "purpose", req.Purpose)
			return "", &Error{Kind: KindTimeout, Model: req.Model, Err: ctx.Err()}
		}
		return "", ctx.Err()
	}
}
