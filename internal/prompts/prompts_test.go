package prompts

import (
	"strings"
	"testing"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
)

func TestFormatContext(t *testing.T) {
	history := []models.Message{
		{Direction: models.DirectionIn, Text: "Hello"},
		{Direction: models.DirectionOut, Text: "Hi there!"},
		{Direction: models.DirectionIn, Text: "I need help"},
	}
	got := FormatContext(history)
	for _, want := range []string{"USER: Hello", "AGENT: Hi there!", "USER: I need help"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in %q", want, got)
		}
	}
	if FormatContext(nil) != NoContext {
		t.Errorf("expected %q for empty history", NoContext)
	}
}

func TestTemplateSelection(t *testing.T) {
	tests := []struct {
		intent  models.Intent
		variant string
		want    string
	}{
		{models.IntentSupport, "A", supportA},
		{models.IntentSupport, "b", supportB},
		{models.IntentSales, "A", salesA},
		{models.IntentSales, "B", salesB},
		{models.IntentGeneral, "B", generalB},
		{models.IntentUrgent, "B", generalA},
		{models.IntentGeneral, "Z", generalA},
	}
	for _, tt := range tests {
		if got := Template(tt.intent, tt.variant); got != tt.want {
			t.Errorf("Template(%s, %s) picked the wrong template", tt.intent, tt.variant)
		}
	}
}

func TestReplyPrompt(t *testing.T) {
	p := Reply(ReplyInput{
		Intent:    models.IntentSales,
		Variant:   "A",
		Language:  "es",
		Platform:  models.PlatformLinkedIn,
		Message:   "¿Cuánto cuesta el plan?",
		Context:   "",
		ToneGuide: "\n<TONE POLICY>\n</TONE POLICY>\n",
	})
	if !strings.HasPrefix(p.User, "You MUST answer in language code 'es'.") {
		t.Errorf("missing language hint: %q", p.User)
	}
	if !strings.Contains(p.User, "Customer Message: ¿Cuánto cuesta el plan?") {
		t.Errorf("message not rendered: %q", p.User)
	}
	if !strings.Contains(p.User, "Conversation Context: "+NoContext) {
		t.Errorf("empty context not replaced: %q", p.User)
	}
	if !strings.Contains(p.System, "LinkedIn") || !strings.Contains(p.System, "<TONE POLICY>") {
		t.Errorf("unexpected system prompt %q", p.System)
	}

	if hint := LanguageHint("en"); hint != "" {
		t.Errorf("expected no hint for English, got %q", hint)
	}
}

func TestAdjustedPrompt(t *testing.T) {
	p := Adjusted(Prompt{System: "s", User: "u"}, "too short", 10, 1000)
	if p.System != "s" || !strings.HasPrefix(p.User, "u") {
		t.Errorf("original prompt not preserved: %+v", p)
	}
	if !strings.Contains(p.User, "too short") || !strings.Contains(p.User, "between 11 and 999 characters") {
		t.Errorf("unexpected adjusted prompt %q", p.User)
	}
}

func TestFallbackAndEscalationTexts(t *testing.T) {
	if !strings.Contains(Fallback(models.IntentSupport), "order number") {
		t.Error("support fallback should ask for the order number")
	}
	if !strings.Contains(Fallback(models.IntentSales), "demo") {
		t.Error("sales fallback should offer a demo")
	}
	if Fallback(models.IntentUrgent) != Fallback(models.IntentGeneral) {
		t.Error("urgent fallback should use the general text")
	}
	if !strings.Contains(EscalationAck(models.PriorityHigh), "high priority") {
		t.Error("high priority acknowledgment should mention the priority")
	}
	if strings.Contains(EscalationAck(models.PriorityMedium), "high priority") {
		t.Error("medium priority acknowledgment must not claim high priority")
	}
	if !strings.Contains(Classification("hi", ""), "Message: hi") {
		t.Error("classification prompt should embed the message")
	}
}
