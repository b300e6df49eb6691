// Package tone picks reply tone tags from the signals of an inbound message,
// builds the tone guide injected into generation prompts, and adjusts final
// reply text to the user's sentiment.
package tone

import (
	"math"
	"sort"
	"strings"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
)

// ---- Whitelist ----

// AllTags is the hard-coded set of safe tone tags.
var AllTags = map[string]bool{
	// Style
	"concise":   true,
	"detailed":  true,
	"formal":    true,
	"casual":    true,
	"no_emojis": true,
	"emojis_ok": true,
	// Stance
	"empathetic":           true,
	"enthusiastic":         true,
	"neutral_professional": true,
	// Interaction
	"one_question_at_a_time": true,
	"default_actionable":     true,
}

// mutuallyExclusivePairs defines tags where at most one may be active.
// The first tag of a pair wins.
var mutuallyExclusivePairs = [][2]string{
	{"concise", "detailed"},
	{"formal", "casual"},
	{"no_emojis", "emojis_ok"},
	{"empathetic", "enthusiastic"},
}

// Sentiment cut-offs used for tag selection and text adjustment.
const (
	NegativeThreshold = -0.3
	PositiveThreshold = 0.6
)

const apology = "I'm sorry for the trouble you've had. "
const thanks = "Thanks so much for the kind words! "

// Signals is what tone selection looks at.
type Signals struct {
	Intent    models.Intent
	Sentiment float64
	Platform  models.Platform
}

// ValidateTags strips unknown tags, deduplicates, and enforces mutual
// exclusion. The result is sorted.
func ValidateTags(tags []string) []string {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(strings.ToLower(t))
		if AllTags[t] {
			set[t] = true
		}
	}
	for _, pair := range mutuallyExclusivePairs {
		if set[pair[0]] && set[pair[1]] {
			delete(set, pair[1])
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Select returns the tone tags for a reply.
func Select(s Signals) []string {
	var tags []string
	switch s.Platform {
	case models.PlatformLinkedIn:
		tags = append(tags, "formal", "no_emojis")
	case models.PlatformTikTok:
		tags = append(tags, "casual", "emojis_ok")
	}

	switch {
	case s.Sentiment <= NegativeThreshold:
		tags = append(tags, "empathetic", "no_emojis", "concise")
	case s.Sentiment >= PositiveThreshold:
		tags = append(tags, "enthusiastic")
	default:
		tags = append(tags, "neutral_professional")
	}

	switch s.Intent {
	case models.IntentSupport:
		tags = append(tags, "default_actionable", "one_question_at_a_time")
	case models.IntentSales:
		tags = append(tags, "detailed")
	}
	// no_emojis beats emojis_ok, concise beats detailed.
	return ValidateTags(tags)
}

// BuildToneGuide produces a compact instruction snippet for injection into LLM system prompts.
// It returns an empty string when there are no active tags.
func BuildToneGuide(tags []string) string {
	if len(tags) == 0 {
		return ""
	}

	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}

	var b strings.Builder
	b.WriteString("\n<TONE POLICY>\nAdapt your reply to the customer:\n")

	if set["concise"] {
		b.WriteString("- Be concise: short sentences, minimal filler.\n")
	}
	if set["detailed"] {
		b.WriteString("- Be detailed: explain options clearly, but avoid rambling.\n")
	}
	if set["formal"] {
		b.WriteString("- Use formal diction and professional register.\n")
	}
	if set["casual"] {
		b.WriteString("- Use casual, friendly language.\n")
	}
	if set["no_emojis"] {
		b.WriteString("- Do NOT use emojis.\n")
	} else if set["emojis_ok"] {
		b.WriteString("- Emojis are welcome where appropriate.\n")
	}

	hasStance := false
	if set["empathetic"] {
		b.WriteString("- Acknowledge the customer's frustration and apologize once.\n")
		hasStance = true
	}
	if set["enthusiastic"] {
		b.WriteString("- Match the customer's positive energy.\n")
		hasStance = true
	}
	if set["neutral_professional"] || !hasStance {
		b.WriteString("- Keep a neutral, professional stance.\n")
	}

	if set["one_question_at_a_time"] {
		b.WriteString("- Ask only one question at a time.\n")
	}
	if set["default_actionable"] {
		b.WriteString("- Provide a concrete next step.\n")
	}

	b.WriteString("- NEVER mirror hostility, sarcasm, insults, or unsafe language.\n")
	b.WriteString("</TONE POLICY>\n")

	return b.String()
}

// Adjust tunes the final reply to the user's sentiment: negative messages get
// a leading apology, very positive ones a thank-you. Text that already
// apologizes or thanks is returned unchanged.
func Adjust(text string, sentiment float64) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return text
	}
	lower := strings.ToLower(trimmed)
	s := clamp(sentiment)
	switch {
	case s <= NegativeThreshold:
		if strings.Contains(lower, "sorry") || strings.Contains(lower, "apolog") {
			return trimmed
		}
		return apology + trimmed
	case s >= PositiveThreshold:
		if strings.HasPrefix(lower, "thank") {
			return trimmed
		}
		return thanks + trimmed
	}
	return trimmed
}

// ---- helpers ----

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	// Round to 4 decimal places to avoid floating point drift.
	return math.Round(v*10000) / 10000
}
