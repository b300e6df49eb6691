package classify

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
)

var salesKeywords = []string{"price", "pricing", "cost", "buy", "purchase", "plan", "enterprise", "demo", "quote", "subscription"}

var supportKeywords = []string{"order", "tracking", "issue", "problem", "help", "support", "not working", "refund", "broken", "delivery"}

var urgencyKeywords = []string{
	"ridiculous", "unacceptable", "immediately", "asap", "urgent", "emergency",
	"charged twice", "double charged", "fraud", "lawyer", "legal action", "lawsuit", "sue you",
}

// shoutWords are all-caps words that signal urgency on their own.
var shoutWords = map[string]bool{"NOW": true, "ASAP": true, "URGENT": true, "HELP": true, "STOP": true}

var positiveWords = map[string]bool{
	"thank": true, "thanks": true, "great": true, "awesome": true, "love": true, "excellent": true,
	"amazing": true, "happy": true, "perfect": true, "wonderful": true, "good": true, "appreciate": true,
	"helpful": true, "fantastic": true, "nice": true, "glad": true, "pleased": true, "best": true,
}

var negativeWords = map[string]bool{
	"terrible": true, "awful": true, "horrible": true, "unacceptable": true, "ridiculous": true,
	"angry": true, "worst": true, "hate": true, "bad": true, "broken": true, "disappointed": true,
	"frustrated": true, "frustrating": true, "useless": true, "scam": true, "poor": true, "annoyed": true,
	"furious": true, "waste": true, "sucks": true, "refund": true, "pathetic": true, "disgusting": true,
}

var negativePhrases = []string{"not working", "still waiting", "never arrived", "no response", "charged twice"}

var negators = map[string]bool{"not": true, "no": true, "never": true, "dont": true, "don't": true, "isn't": true, "isnt": true, "wasn't": true, "wasnt": true}

var wordRE = regexp.MustCompile(`[\p{L}']+`)

var orderRE = regexp.MustCompile(`(?i)(?:#\s*|\border\s+(?:number\s+|no\.?\s*|id\s+)?)([A-Z]{0,4}\d{4,12})\b`)

func containsAny(lower string, words []string) bool {
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// DetectUrgency reports whether text carries urgency markers: urgency words,
// three or more consecutive exclamation marks, or shouting.
func DetectUrgency(text string) bool {
	lower := strings.ToLower(text)
	if containsAny(lower, urgencyKeywords) {
		return true
	}
	if strings.Contains(text, "!!!") {
		return true
	}
	for _, w := range wordRE.FindAllString(text, -1) {
		if shoutWords[w] {
			return true
		}
	}
	return isShouting(text)
}

// isShouting is true when most letters of a reasonably long text are upper case.
func isShouting(text string) bool {
	letters, upper := 0, 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	return letters >= 12 && float64(upper)/float64(letters) > 0.7
}

// Sentiment scores text in [-1, 1] with a small lexicon. Negators flip the
// polarity of the following word.
func Sentiment(text string) float64 {
	lower := strings.ToLower(text)
	var pos, neg float64
	for _, p := range negativePhrases {
		if strings.Contains(lower, p) {
			neg++
		}
	}
	words := wordRE.FindAllString(lower, -1)
	for i, w := range words {
		negated := i > 0 && negators[words[i-1]]
		switch {
		case positiveWords[w] && !negated:
			pos++
		case positiveWords[w] && negated:
			neg++
		case negativeWords[w] && !negated:
			neg++
		case negativeWords[w] && negated:
			pos += 0.5
		}
	}
	total := pos + neg
	if total == 0 {
		return 0
	}
	score := (pos - neg) / total
	// A single hit is weaker evidence than several.
	if total < 2 {
		score *= total / 2
	}
	if strings.Contains(text, "!!") && score < 0 {
		score -= 0.1
	}
	if score < -1 {
		score = -1
	}
	if score > 1 {
		score = 1
	}
	return score
}

// ExtractOrderNumber returns the first order reference in text, or "".
func ExtractOrderNumber(text string) string {
	m := orderRE.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1])
}

// RuleIntent classifies with keyword rules. Urgency beats sales, sales beats support.
func RuleIntent(text string) (models.Intent, float64) {
	lower := strings.ToLower(text)
	switch {
	case DetectUrgency(text):
		return models.IntentUrgent, 0.9
	case containsAny(lower, salesKeywords):
		return models.IntentSales, 0.7
	case containsAny(lower, supportKeywords):
		return models.IntentSupport, 0.7
	default:
		return models.IntentGeneral, 0.5
	}
}
