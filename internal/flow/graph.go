package flow

import (
	"fmt"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
)

// Edge conditions.
const (
	CondNext     = "next"
	CondEscalate = "escalate"
	CondReply    = "reply"
	CondError    = "error"
)

// Edge is one allowed stage transition.
type Edge struct {
	From      models.Stage
	To        models.Stage
	Condition string
}

var transitions = []Edge{
	{models.StageReceived, models.StageClassified, CondNext},
	{models.StageClassified, models.StageContextLoaded, CondNext},
	{models.StageContextLoaded, models.StageEscalationEvaluated, CondNext},
	{models.StageEscalationEvaluated, models.StageEscalatedTerminal, CondEscalate},
	{models.StageEscalationEvaluated, models.StageGenerating, CondReply},
	{models.StageGenerating, models.StageValidated, CondNext},
	{models.StageValidated, models.StageRepliedTerminal, CondNext},

	{models.StageReceived, models.StageFailed, CondError},
	{models.StageClassified, models.StageFailed, CondError},
	{models.StageContextLoaded, models.StageFailed, CondError},
	{models.StageEscalationEvaluated, models.StageFailed, CondError},
	{models.StageGenerating, models.StageFailed, CondError},
	{models.StageValidated, models.StageFailed, CondError},
}

// Transitions returns the stage graph.
func Transitions() []Edge {
	return append([]Edge(nil), transitions...)
}

// Next returns the stage reached from "from" under cond.
func Next(from models.Stage, cond string) (models.Stage, bool) {
	for _, e := range transitions {
		if e.From == from && e.Condition == cond {
			return e.To, true
		}
	}
	return "", false
}

// CanTransition reports whether the graph has an edge from -> to.
func CanTransition(from, to models.Stage) bool {
	for _, e := range transitions {
		if e.From == from && e.To == to {
			return true
		}
	}
	return false
}

// path records the stages a run walked through and refuses illegal moves.
type path struct {
	stages []models.Stage
}

func newPath() *path {
	return &path{stages: []models.Stage{models.StageReceived}}
}

func (p *path) current() models.Stage {
	return p.stages[len(p.stages)-1]
}

// follow takes the edge labelled cond out of the current stage.
func (p *path) follow(cond string) error {
	from := p.current()
	to, ok := Next(from, cond)
	if !ok {
		return fmt.Errorf("no %q transition out of stage %s", cond, from)
	}
	p.stages = append(p.stages, to)
	return nil
}

func (p *path) snapshot() []models.Stage {
	return append([]models.Stage(nil), p.stages...)
}
