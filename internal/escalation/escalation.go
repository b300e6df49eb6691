// Package escalation decides whether an inbound message is handed to a
// human agent instead of receiving an automated reply.
package escalation

import (
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
)

// Reasons recorded on escalation records.
const (
	ReasonUrgentIntent      = "urgent_intent"
	ReasonNegativeSentiment = "negative_sentiment_trend"
	// ReasonManual is used by operators forcing an escalation.
	ReasonManual = "manual"
)

// Policy holds the tunable part of the decision.
type Policy struct {
	// SentimentThreshold is the mean negativity the window must exceed.
	// Zero or less disables the trend rule.
	SentimentThreshold float64
	// Window is the number of inbound sentiments considered, current included.
	Window int
}

// PolicyFrom extracts the escalation policy from an agent config snapshot.
func PolicyFrom(cfg models.AgentConfig) Policy {
	return Policy{SentimentThreshold: cfg.EscalationSentimentThreshold, Window: cfg.EscalationWindow}
}

// Input is everything the decision looks at.
type Input struct {
	Intent     models.Intent
	Confidence float64
	Text       string
	// Sentiment is the score of the current message.
	Sentiment float64
	// Recent is the conversation history, oldest first.
	Recent []models.Message
	Policy Policy
}

// Verdict is the outcome of Decide.
type Verdict struct {
	Escalate bool
	Reason   string
	Priority models.Priority
}

// Decide is pure: the same input always yields the same verdict. Conversation
// state is not an input; an escalated conversation still gets verdicts from
// the message alone.
func Decide(in Input) Verdict {
	if in.Intent == models.IntentUrgent {
		return Verdict{Escalate: true, Reason: ReasonUrgentIntent, Priority: models.PriorityHigh}
	}
	if v, ok := sentimentTrend(in); ok {
		return v
	}
	return Verdict{}
}

func sentimentTrend(in Input) (Verdict, bool) {
	p := in.Policy
	if p.SentimentThreshold <= 0 || p.Window < 1 {
		return Verdict{}, false
	}
	scores := WindowScores(in.Recent, in.Sentiment, p.Window)
	if len(scores) < p.Window {
		return Verdict{}, false
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	if -(sum / float64(len(scores))) <= p.SentimentThreshold {
		return Verdict{}, false
	}
	priority := models.PriorityMedium
	if strictlyWorsening(scores) {
		priority = models.PriorityHigh
	}
	return Verdict{Escalate: true, Reason: ReasonNegativeSentiment, Priority: priority}, true
}

// WindowScores returns up to window inbound sentiment scores, oldest first,
// ending with current. Messages without a score are skipped.
func WindowScores(recent []models.Message, current float64, window int) []float64 {
	if window < 1 {
		return nil
	}
	scores := []float64{current}
	for i := len(recent) - 1; i >= 0 && len(scores) < window; i-- {
		m := recent[i]
		if m.Direction != models.DirectionIn || m.SentimentScore == nil {
			continue
		}
		scores = append(scores, *m.SentimentScore)
	}
	for i, j := 0, len(scores)-1; i < j; i, j = i+1, j-1 {
		scores[i], scores[j] = scores[j], scores[i]
	}
	return scores
}

func strictlyWorsening(scores []float64) bool {
	if len(scores) < 2 {
		return false
	}
	for i := 1; i < len(scores); i++ {
		if scores[i] >= scores[i-1] {
			return false
		}
	}
	return true
}
