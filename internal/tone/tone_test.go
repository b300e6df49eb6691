package tone

import (
	"strings"
	"testing"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
)

func TestValidateTags_StripsUnknownTags(t *testing.T) {
	got := ValidateTags([]string{"concise", "UNKNOWN", "formal", "  casual  ", "injected_tag"})
	for _, tag := range got {
		if !AllTags[tag] {
			t.Errorf("unexpected tag in cleaned tags: %q", tag)
		}
	}
	// formal beats casual
	if len(got) != 2 || got[0] != "concise" || got[1] != "formal" {
		t.Errorf("expected [concise formal], got %v", got)
	}
}

func TestSelect_NegativeLinkedIn(t *testing.T) {
	tags := Select(Signals{Intent: models.IntentSupport, Sentiment: -0.8, Platform: models.PlatformLinkedIn})
	set := toSet(tags)
	for _, want := range []string{"formal", "no_emojis", "empathetic", "concise", "default_actionable"} {
		if !set[want] {
			t.Errorf("expected %s in %v", want, tags)
		}
	}
	if set["casual"] || set["emojis_ok"] || set["enthusiastic"] {
		t.Errorf("unexpected tags in %v", tags)
	}
}

func TestSelect_PositiveTikTokSales(t *testing.T) {
	tags := Select(Signals{Intent: models.IntentSales, Sentiment: 0.9, Platform: models.PlatformTikTok})
	set := toSet(tags)
	if !set["casual"] || !set["emojis_ok"] || !set["enthusiastic"] || !set["detailed"] {
		t.Errorf("unexpected tags %v", tags)
	}
}

func TestBuildToneGuide(t *testing.T) {
	if BuildToneGuide(nil) != "" {
		t.Error("expected empty guide without tags")
	}
	guide := BuildToneGuide([]string{"no_emojis", "empathetic"})
	if !strings.Contains(guide, "Do NOT use emojis") {
		t.Errorf("missing emoji rule in %q", guide)
	}
	if !strings.Contains(guide, "apologize once") {
		t.Errorf("missing empathy rule in %q", guide)
	}
	if strings.Contains(guide, "neutral, professional") {
		t.Errorf("stance tag should replace the default stance: %q", guide)
	}
	if !strings.Contains(guide, "NEVER mirror hostility") {
		t.Error("safety rule must always be present")
	}
}

func TestAdjust(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		sentiment float64
		want      string
	}{
		{"neutral unchanged", "Your order ships tomorrow.", 0, "Your order ships tomorrow."},
		{"negative gets apology", "Your order ships tomorrow.", -0.7, apology + "Your order ships tomorrow."},
		{"negative already apologizes", "Sorry about that, it ships tomorrow.", -0.7, "Sorry about that, it ships tomorrow."},
		{"positive gets thanks", "Happy to help.", 0.9, thanks + "Happy to help."},
		{"positive already thanks", "Thank you! Happy to help.", 0.9, "Thank you! Happy to help."},
		{"empty stays empty", "", -1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Adjust(tt.text, tt.sentiment); got != tt.want {
				t.Errorf("Adjust() = %q, want %q", got, tt.want)
			}
		})
	}
}

func toSet(tags []string) map[string]bool {
	m := make(map[string]bool, len(tags))
	for _, t := range tags {
		m[t] = true
	}
	return m
}
