package genai

import (
	"context"
	"errors"
	"sync/atomic"
)

type generatorBox struct{ gen Generator }

// Swappable forwards to a generator that can be replaced at runtime, so a
// config reload can switch providers without touching runs in flight.
type Swappable struct {
	cur atomic.Pointer[generatorBox]
}

// NewSwappable creates a Swappable serving gen.
func NewSwappable(gen Generator) *Swappable {
	s := &Swappable{}
	s.Swap(gen)
	return s
}

// Swap installs gen for subsequent calls.
func (s *Swappable) Swap(gen Generator) {
	s.cur.Store(&generatorBox{gen: gen})
}

// Current returns the installed generator. It is unaffected by later swaps.
func (s *Swappable) Current() Generator {
	box := s.cur.Load()
	if box == nil || box.gen == nil {
		return unconfigured{}
	}
	return box.gen
}

// Generate implements Generator.
func (s *Swappable) Generate(ctx context.Context, req Request) (string, error) {
	return s.Current().Generate(ctx, req)
}

// Pin returns the generator to use for one unit of work: the current one
// when gen is swappable, gen itself otherwise.
func Pin(gen Generator) Generator {
	if p, ok := gen.(interface{ Current() Generator }); ok {
		return p.Current()
	}
	return gen
}

type unconfigured struct{}

func (unconfigured) Generate(context.Context, Request) (string, error) {
	return "", &Error{Kind: KindProviderError, Err: errors.New("no generator configured")}
}
