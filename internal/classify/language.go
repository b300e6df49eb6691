package classify

import (
	"strings"
	"unicode"
)

var scriptLanguages = []struct {
	table *unicode.RangeTable
	lang  string
}{
	{unicode.Hiragana, "ja"},
	{unicode.Katakana, "ja"},
	{unicode.Hangul, "ko"},
	{unicode.Han, "zh"},
	{unicode.Cyrillic, "ru"},
	{unicode.Arabic, "ar"},
	{unicode.Devanagari, "hi"},
	{unicode.Thai, "th"},
	{unicode.Greek, "el"},
	{unicode.Hebrew, "he"},
}

var stopWords = map[string][]string{
	"es": {"el", "los", "que", "por", "para", "hola", "gracias", "pedido", "necesito", "mi", "con", "quiero", "cuánto", "precio"},
	"fr": {"le", "les", "je", "est", "pas", "bonjour", "merci", "commande", "avec", "pour", "mon", "vous", "prix"},
	"de": {"der", "die", "das", "und", "ich", "nicht", "hallo", "danke", "bestellung", "mit", "mein", "ist", "preis"},
	"pt": {"olá", "obrigado", "obrigada", "não", "você", "meu", "minha", "com", "preço", "quero", "encomenda"},
	"it": {"ciao", "grazie", "il", "che", "non", "ordine", "sono", "della", "prezzo", "voglio"},
}

// DetectLanguage returns a best-effort ISO 639-1 code for text, falling
// back to def when nothing stands out.
func DetectLanguage(text, def string) string {
	for _, r := range text {
		for _, s := range scriptLanguages {
			if unicode.Is(s.table, r) {
				return s.lang
			}
		}
	}

	words := wordRE.FindAllString(strings.ToLower(text), -1)
	if len(words) == 0 {
		return def
	}
	best, bestHits, secondHits := "", 0, 0
	for lang, list := range stopWords {
		hits := 0
		for _, w := range words {
			for _, sw := range list {
				if w == sw {
					hits++
					break
				}
			}
		}
		switch {
		case hits > bestHits:
			secondHits = bestHits
			best, bestHits = lang, hits
		case hits > secondHits:
			secondHits = hits
		}
	}
	if bestHits >= 2 && bestHits > secondHits {
		return best
	}
	return def
}
