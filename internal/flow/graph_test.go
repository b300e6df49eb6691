package flow

import (
	"testing"
	"time"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
)

func TestTransitions_Shape(t *testing.T) {
	edges := Transitions()
	out := map[models.Stage][]Edge{}
	for _, e := range edges {
		out[e.From] = append(out[e.From], e)
	}

	for _, terminal := range []models.Stage{models.StageEscalatedTerminal, models.StageRepliedTerminal, models.StageFailed} {
		if !terminal.IsTerminal() {
			t.Errorf("%s should be terminal", terminal)
		}
		if len(out[terminal]) != 0 {
			t.Errorf("terminal stage %s has outgoing edges", terminal)
		}
	}

	conditional := 0
	for from, es := range out {
		if !CanTransition(from, models.StageFailed) {
			t.Errorf("%s cannot fail", from)
		}
		for _, e := range es {
			if e.Condition == CondEscalate || e.Condition == CondReply {
				conditional++
				if from != models.StageEscalationEvaluated {
					t.Errorf("conditional edge out of %s", from)
				}
			}
		}
	}
	if conditional != 2 {
		t.Errorf("expected one escalate/reply split, got %d conditional edges", conditional)
	}
}

func TestTransitions_HappyPaths(t *testing.T) {
	walk := func(conds ...string) []models.Stage {
		p := newPath()
		for _, c := range conds {
			if err := p.follow(c); err != nil {
				t.Fatalf("follow %s: %v", c, err)
			}
		}
		return p.snapshot()
	}
	replied := walk(CondNext, CondNext, CondNext, CondReply, CondNext, CondNext)
	if replied[len(replied)-1] != models.StageRepliedTerminal || len(replied) != 7 {
		t.Errorf("unexpected reply path %v", replied)
	}
	escalated := walk(CondNext, CondNext, CondNext, CondEscalate)
	if escalated[len(escalated)-1] != models.StageEscalatedTerminal {
		t.Errorf("unexpected escalation path %v", escalated)
	}

	p := newPath()
	if err := p.follow(CondEscalate); err == nil {
		t.Error("escalating straight from Received must fail")
	}
	if CanTransition(models.StageGenerating, models.StageEscalatedTerminal) {
		t.Error("generation cannot escalate")
	}
}

func TestBackoffDelay(t *testing.T) {
	b := DefaultBackoff
	for attempt, want := range map[int]time.Duration{1: 500 * time.Millisecond, 2: time.Second, 3: 2 * time.Second} {
		for i := 0; i < 20; i++ {
			got := b.Delay(attempt)
			lo := time.Duration(float64(want) * 0.8)
			hi := time.Duration(float64(want) * 1.2)
			if got < lo || got > hi {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, got, lo, hi)
			}
		}
	}
	if d := (Backoff{Base: 10 * time.Millisecond, Factor: 2}).Delay(3); d != 40*time.Millisecond {
		t.Errorf("expected 40ms without jitter, got %v", d)
	}
}
