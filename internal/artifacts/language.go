package artifacts

import (
	"log/slog"
	"slices"
	"strings"
)

// DesignType is the sentinel artifact type persisted for design snapshots.
const DesignType = "DESIGN"

// DefaultLanguage is what unrecognized language labels normalize to.
const DefaultLanguage = "JAVASCRIPT"

// canonicalLanguages maps cleaned client labels onto the persisted language
// set. Editors disagree on naming, so common aliases are included.
var canonicalLanguages = map[string]string{
	"javascript": "JAVASCRIPT",
	"js":         "JAVASCRIPT",
	"node":       "JAVASCRIPT",
	"nodejs":     "JAVASCRIPT",
	"typescript": "TYPESCRIPT",
	"ts":         "TYPESCRIPT",
	"python":     "PYTHON",
	"python3":    "PYTHON",
	"py":         "PYTHON",
	"java":       "JAVA",
	"go":         "GO",
	"golang":     "GO",
	"cpp":        "CPP",
	"c++":        "CPP",
	"csharp":     "CSHARP",
	"c#":         "CSHARP",
	"cs":         "CSHARP",
	"ruby":       "RUBY",
	"rb":         "RUBY",
	"php":        "PHP",
	"sql":        "SQL",
	"postgresql": "SQL",
	"mysql":      "SQL",
}

// NormalizeLanguage maps a client-supplied language label onto the canonical
// persisted set. Unknown labels fall back to [DefaultLanguage] with a warning.
func NormalizeLanguage(raw string, log *slog.Logger) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if lang, ok := canonicalLanguages[key]; ok {
		return lang
	}
	if log == nil {
		log = slog.Default()
	}
	log.Warn("artifacts: unknown code language, defaulting",
		"language", raw,
		"default", DefaultLanguage)
	return DefaultLanguage
}

// FenceTag returns the markdown code-fence tag for a canonical language.
func FenceTag(lang string) string { return strings.ToLower(lang) }

// SupportedLanguages returns the canonical language set, sorted. The lexicon
// seeds its per-phase vocabulary with these so spoken language names survive
// transcription.
func SupportedLanguages() []string {
	seen := make(map[string]bool, len(canonicalLanguages))
	out := make([]string, 0, len(canonicalLanguages))
	for _, lang := range canonicalLanguages {
		if !seen[lang] {
			seen[lang] = true
			out = append(out, lang)
		}
	}
	slices.Sort(out)
	return out
}
