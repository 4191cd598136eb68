// Package lexicon corrects misheard technical vocabulary in STT finals.
//
// Speech recognition reliably fumbles the words an interview cares most
// about: "pie torch" for PyTorch, "post grass" for Postgres, "a ray" for
// array. The corrector aligns transcript tokens against a per-phase
// vocabulary (question-text terms plus permitted languages) in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     the transcript window and for each vocabulary term. A term becomes a
//     candidate when any code overlaps.
//
//  2. Jaro-Winkler ranking: among phonetic candidates the best-scoring term
//     wins, provided its score clears the phonetic threshold. When no
//     phonetic candidate exists, a pure similarity pass applies with a
//     stricter fuzzy threshold.
//
// Multi-word terms ("binary tree", "hash map") are matched with n-gram
// windows; the longest window wins so that a two-word term beats a partial
// single-word match. Windows that equal a term case-insensitively pass
// through untouched: the candidate said it right.
package lexicon

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// minWindowLen guards against correcting very short tokens, where
	// similarity scores are mostly noise.
	minWindowLen = 3

	// minTermLen keeps trivially short vocabulary out of the corrector;
	// two-letter terms match half the language.
	minTermLen = 4

	// minLenRatio rejects windows much shorter than the term under test
	// (letters only, spaces stripped). A fragment of a term is not evidence
	// of the term: "map" alone must not become "hash map".
	minLenRatio = 0.7
)

// Option configures a [Corrector].
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) { c.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic candidate is found. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) { c.fuzzyThreshold = threshold }
}

// Correction records one applied replacement.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

// term is one precomputed vocabulary entry.
type term struct {
	canonical string
	lower     string
	tokens    []string
	codes     map[string]struct{}
}

// Corrector aligns transcript text against a fixed vocabulary. It is
// read-only after construction and safe for concurrent use.
type Corrector struct {
	phoneticThreshold float64
	fuzzyThreshold    float64

	terms    []term
	maxWords int
}

// New builds a corrector over the given vocabulary. Blank and too-short
// entries are dropped; phonetic codes are precomputed once here so Correct
// stays cheap on the hot path.
func New(vocabulary []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}

	seen := make(map[string]bool, len(vocabulary))
	for _, v := range vocabulary {
		canonical := strings.TrimSpace(v)
		lower := strings.ToLower(canonical)
		if len(lower) < minTermLen || seen[lower] {
			continue
		}
		seen[lower] = true

		tokens := strings.Fields(lower)
		c.terms = append(c.terms, term{
			canonical: canonical,
			lower:     lower,
			tokens:    tokens,
			codes:     codesForTokens(tokens),
		})
		if len(tokens) > c.maxWords {
			c.maxWords = len(tokens)
		}
	}
	return c
}

// Correct rewrites text in place, replacing windows that phonetically align
// with a vocabulary term. Punctuation attached to the window's edges is
// preserved; windows spanning interior punctuation are never matched.
func (c *Corrector) Correct(text string) (string, []Correction) {
	if c == nil || len(c.terms) == 0 {
		return text, nil
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	var (
		output      []string
		corrections []Correction
	)

	i := 0
	for i < len(tokens) {
		maxN := c.maxWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window, lead, trail, ok := c.window(tokens[i : i+n])
			if !ok || len(window) < minWindowLen {
				continue
			}
			if c.isVocabulary(window) {
				// Already correct; consume the window so a shorter
				// overlapping match cannot mangle it.
				output = append(output, tokens[i:i+n]...)
				i += n
				matched = true
				break
			}

			replacement, conf, hit := c.match(window)
			if !hit {
				continue
			}
			output = append(output, lead+replacement+trail)
			corrections = append(corrections, Correction{
				Original:   window,
				Corrected:  replacement,
				Confidence: conf,
			})
			i += n
			matched = true
			break
		}

		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	return strings.Join(output, " "), corrections
}

// window joins n tokens into a match candidate, splitting off leading and
// trailing punctuation. It refuses windows whose interior tokens carry
// punctuation; phrases do not span commas.
func (c *Corrector) window(tokens []string) (window, lead, trail string, ok bool) {
	parts := make([]string, len(tokens))
	for j, tok := range tokens {
		l, core, t := splitPunct(tok)
		if core == "" {
			return "", "", "", false
		}
		interiorLead := j > 0 && l != ""
		interiorTrail := j < len(tokens)-1 && t != ""
		if interiorLead || interiorTrail {
			return "", "", "", false
		}
		if j == 0 {
			lead = l
		}
		if j == len(tokens)-1 {
			trail = t
		}
		parts[j] = core
	}
	return strings.Join(parts, " "), lead, trail, true
}

// isVocabulary reports whether the window already equals a term.
func (c *Corrector) isVocabulary(window string) bool {
	lower := strings.ToLower(window)
	for _, t := range c.terms {
		if t.lower == lower {
			return true
		}
	}
	return false
}

// match finds the vocabulary term most similar to window, or reports false.
func (c *Corrector) match(window string) (corrected string, confidence float64, matched bool) {
	windowLower := strings.ToLower(window)
	windowTokens := strings.Fields(windowLower)
	windowCodes := codesForTokens(windowTokens)
	windowLen := len(strings.Join(windowTokens, ""))

	type candidate struct {
		term     string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, t := range c.terms {
		if float64(windowLen) < minLenRatio*float64(len(strings.Join(t.tokens, ""))) {
			continue
		}
		phonetic := codesOverlap(windowCodes, t.codes)
		score := bestJWScore(windowTokens, t.tokens, windowLower, t.lower)

		if phonetic {
			if score >= c.phoneticThreshold && (!best.phonetic || score > best.score) {
				best = candidate{term: t.canonical, score: score, phonetic: true}
			}
		} else if !best.phonetic {
			if score >= c.fuzzyThreshold && score > best.score {
				best = candidate{term: t.canonical, score: score}
			}
		}
	}

	if best.term == "" {
		return window, 0, false
	}
	return best.term, best.score, true
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the window
// and the term using three strategies: full strings, space-stripped strings
// (one term heard as separate words, or vice versa), and a position-aligned
// token average for equal-length phrases. The aligned average replaces a
// best-pairwise comparison on purpose: a perfect score on one word must not
// carry a whole phrase.
func bestJWScore(windowTokens, termTokens []string, windowFull, termFull string) float64 {
	score := matchr.JaroWinkler(windowFull, termFull, false)

	if len(windowTokens) > 1 || len(termTokens) > 1 {
		concat1 := strings.Join(windowTokens, "")
		concat2 := strings.Join(termTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	if n := len(windowTokens); n > 1 && n == len(termTokens) {
		var sum float64
		for i := range windowTokens {
			sum += matchr.JaroWinkler(windowTokens[i], termTokens[i], false)
		}
		if s := sum / float64(n); s > score {
			score = s
		}
	}
	return score
}

// splitPunct separates a token into leading punctuation, its letter/digit
// core, and trailing punctuation.
func splitPunct(tok string) (lead, core, trail string) {
	runes := []rune(tok)
	start, end := 0, len(runes)
	for start < end && !isWordRune(runes[start]) {
		start++
	}
	for end > start && !isWordRune(runes[end-1]) {
		end--
	}
	return string(runes[:start]), string(runes[start:end]), string(runes[end:])
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
