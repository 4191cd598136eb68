package lexicon

import "strings"

// stopwords are high-frequency words that appear in question prose but make
// terrible correction targets: aligning conversational speech against them
// produces false replacements ("right" → "write").
var stopwords = map[string]bool{
	"about": true, "after": true, "also": true, "been": true, "before": true,
	"between": true, "both": true, "candidate": true, "could": true,
	"describe": true, "does": true, "each": true,
	"explain": true, "find": true, "first": true, "from": true, "give": true,
	"given": true, "have": true, "implement": true, "into": true, "last": true,
	"least": true, "less": true, "like": true, "make": true, "many": true,
	"more": true, "most": true, "much": true, "must": true, "need": true,
	"only": true, "other": true, "over": true, "return": true, "returns": true,
	"same": true, "should": true, "show": true, "size": true, "some": true,
	"such": true, "take": true, "than": true, "that": true, "their": true,
	"them": true, "then": true, "there": true, "these": true, "they": true,
	"this": true, "time": true, "under": true, "using": true, "want": true,
	"well": true, "were": true, "what": true, "when": true, "where": true,
	"which": true, "while": true, "will": true, "with": true, "would": true,
	"write": true, "your": true,
}

// TermsFor builds the per-phase correction vocabulary: distinctive tokens
// from the question text plus the phase's permitted language names. Tokens
// keep their first-seen casing; language names are title-cased so a
// correction reads naturally in a transcript.
func TermsFor(questionText string, languages []string) []string {
	var (
		terms []string
		seen  = make(map[string]bool)
	)
	add := func(t string) {
		lower := strings.ToLower(t)
		if len(lower) < minTermLen || stopwords[lower] || seen[lower] {
			return
		}
		seen[lower] = true
		terms = append(terms, t)
	}

	for _, tok := range strings.Fields(questionText) {
		_, core, _ := splitPunct(tok)
		if core == "" || isNumeric(core) {
			continue
		}
		add(core)
	}
	for _, lang := range languages {
		add(titleCase(lang))
	}
	return terms
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// titleCase lowercases a language name and capitalizes its first letter
// ("PYTHON" → "Python"). Already mixed-case names pass through.
func titleCase(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	if s != strings.ToUpper(s) {
		return s
	}
	lower := strings.ToLower(s)
	return strings.ToUpper(lower[:1]) + lower[1:]
}
