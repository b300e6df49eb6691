// Package prompts assembles the prompts sent to the response generator and
// holds the fixed texts used when generation is skipped or fails.
package prompts

import (
	"fmt"
	"strings"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
)

// NoContext is the formatted context of a conversation without history.
const NoContext = "No previous context."

// Prompt is a system/user prompt pair.
type Prompt struct {
	System string
	User   string
}

// ReplyInput carries everything needed to build a reply prompt.
type ReplyInput struct {
	Intent    models.Intent
	Variant   string
	Language  string
	Platform  models.Platform
	Message   string
	Context   string
	ToneGuide string
}

func render(tmpl, message, context string) string {
	if strings.TrimSpace(context) == "" {
		context = NoContext
	}
	return strings.NewReplacer("{message}", message, "{context}", context).Replace(tmpl)
}

// Template returns the reply template for intent and A/B variant. Unknown
// combinations use the general A template.
func Template(intent models.Intent, variant string) string {
	b := strings.EqualFold(strings.TrimSpace(variant), "B")
	switch intent {
	case models.IntentSupport:
		if b {
			return supportB
		}
		return supportA
	case models.IntentSales:
		if b {
			return salesB
		}
		return salesA
	case models.IntentGeneral:
		if b {
			return generalB
		}
	}
	return generalA
}

// LanguageHint is prepended to prompts for non-English conversations.
func LanguageHint(language string) string {
	if language == "" || strings.EqualFold(language, "en") {
		return ""
	}
	return fmt.Sprintf("You MUST answer in language code '%s'.\n\n", language)
}

// Reply builds the generation prompt for an auto-reply.
func Reply(in ReplyInput) Prompt {
	system := "You reply to customers on behalf of the brand"
	if in.Platform != "" {
		system += " in " + platformName(in.Platform) + " direct messages"
	}
	system += ". Never invent order details, prices, or policies you were not given. Reply with the message text only."
	system += in.ToneGuide
	return Prompt{
		System: system,
		User:   LanguageHint(in.Language) + render(Template(in.Intent, in.Variant), in.Message, in.Context),
	}
}

// Adjusted rewrites a prompt after its reply was rejected by validation.
func Adjusted(p Prompt, rejection string, minLen, maxLen int) Prompt {
	var b strings.Builder
	b.WriteString(p.User)
	b.WriteString("\n\nYour previous reply was rejected")
	if rejection != "" {
		b.WriteString(" (" + rejection + ")")
	}
	fmt.Fprintf(&b, ". Write a new reply between %d and %d characters. Do not use placeholders, templates, or markup.", minLen+1, maxLen-1)
	return Prompt{System: p.System, User: b.String()}
}

// Classification builds the intent classification prompt.
func Classification(message, context string) string {
	return render(classificationTemplate, message, context)
}

// FormatContext renders history as USER:/AGENT: lines, oldest first.
func FormatContext(history []models.Message) string {
	if len(history) == 0 {
		return NoContext
	}
	lines := make([]string, 0, len(history))
	for _, m := range history {
		speaker := "USER"
		if m.Direction == models.DirectionOut {
			speaker = "AGENT"
		}
		lines = append(lines, speaker+": "+m.Text)
	}
	return strings.Join(lines, "\n")
}

// Fallback returns the fixed reply used when generation cannot produce a
// valid response. URGENT has no auto-reply and maps to the general text.
func Fallback(intent models.Intent) string {
	if text, ok := fallbackReplies[string(intent)]; ok {
		return text
	}
	return fallbackReplies[string(models.IntentGeneral)]
}

// EscalationAck is the text sent to a user whose conversation was handed to
// a human agent.
func EscalationAck(priority models.Priority) string {
	if priority == models.PriorityHigh {
		return escalationAckHigh
	}
	return escalationAck
}

func platformName(p models.Platform) string {
	switch p {
	case models.PlatformTikTok:
		return "TikTok"
	case models.PlatformLinkedIn:
		return "LinkedIn"
	}
	return string(p)
}
