package flow

import (
	"context"
	"math"
	"time"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/util"
)

// Backoff is an exponential delay with jitter between generation attempts.
type Backoff struct {
	Base   time.Duration
	Factor float64
	// Jitter is the +/- fraction applied to each delay.
	Jitter float64
}

// DefaultBackoff waits 500ms, 1s, 2s, ... with 20% jitter.
var DefaultBackoff = Backoff{Base: 500 * time.Millisecond, Factor: 2, Jitter: 0.2}

// Delay returns the wait after the given failed attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(b.Base) * math.Pow(factor, float64(attempt-1))
	return time.Duration(util.Jitter(d, b.Jitter))
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
