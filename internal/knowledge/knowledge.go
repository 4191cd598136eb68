// Package knowledge assembles question-relevant reference material for phase
// instructions.
//
// On phase entry the orchestrator hands the assembler the phase's knowledge
// bank and one or more query texts (the question text, optionally the phase
// instructions). Each query is embedded and searched concurrently; the hits
// are merged, deduplicated, and ranked by similarity. The result formats into
// the banner block of the phase's system message.
//
// Retrieval is best-effort: a session without an embeddings provider, a phase
// without a bank, or a failed lookup produces no reference material, never a
// stalled phase.
package knowledge

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cadenza-ai/cadenza/pkg/provider/embeddings"
	"github.com/cadenza-ai/cadenza/pkg/store"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

const (
	// defaultTopK is the merged snippet cap per retrieval.
	defaultTopK = 5

	// defaultTimeout bounds one full retrieval (all embeds and searches).
	defaultTimeout = 10 * time.Second
)

// Material is the outcome of one retrieval.
type Material struct {
	// Snippets is the merged, score-ranked result set, capped at the
	// assembler's topK.
	Snippets []types.KnowledgeSnippet

	// Queries is how many non-blank query texts were searched.
	Queries int

	// AssemblyDuration records how long [Assembler.Retrieve] took.
	AssemblyDuration time.Duration
}

// Banner renders the snippets as the reference-material block of a phase
// banner. Empty material renders as the empty string.
func (m *Material) Banner() string {
	if m == nil || len(m.Snippets) == 0 {
		return ""
	}
	var b strings.Builder
	for i, s := range m.Snippets {
		if i > 0 {
			b.WriteByte('\n')
		}
		content := strings.TrimSpace(s.Content)
		if title := strings.TrimSpace(s.Title); title != "" {
			fmt.Fprintf(&b, "- %s: %s", title, content)
		} else {
			fmt.Fprintf(&b, "- %s", content)
		}
	}
	return b.String()
}

// Assembler retrieves knowledge-bank snippets for phase entry.
//
// A nil embeddings provider disables the assembler; every retrieval then
// returns empty material.
type Assembler struct {
	embedder embeddings.Provider
	store    store.KnowledgeStore
	topK     int
	timeout  time.Duration
	log      *slog.Logger
}

// Option is a functional option for [NewAssembler].
type Option func(*Assembler)

// WithTopK caps the merged snippet count per retrieval. Defaults to 5.
func WithTopK(n int) Option {
	return func(a *Assembler) { a.topK = n }
}

// WithTimeout bounds one full retrieval. Defaults to 10 seconds.
func WithTimeout(d time.Duration) Option {
	return func(a *Assembler) { a.timeout = d }
}

// NewAssembler creates an [Assembler]. embedder may be nil, which disables
// retrieval entirely.
func NewAssembler(embedder embeddings.Provider, st store.KnowledgeStore, log *slog.Logger, opts ...Option) *Assembler {
	if log == nil {
		log = slog.Default()
	}
	a := &Assembler{
		embedder: embedder,
		store:    st,
		topK:     defaultTopK,
		timeout:  defaultTimeout,
		log:      log,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Enabled reports whether the assembler has an embeddings provider to
// retrieve with.
func (a *Assembler) Enabled() bool { return a.embedder != nil }

// Retrieve embeds every non-blank query and searches bankID with each,
// concurrently, then merges the hits: duplicates collapse to their best
// score, the rest rank by score descending, capped at topK.
//
// A disabled assembler, an empty bankID, or all-blank queries return empty
// material and no error. Any embed or search failure aborts the retrieval.
func (a *Assembler) Retrieve(ctx context.Context, bankID string, queries ...string) (*Material, error) {
	start := time.Now()

	m := &Material{}
	if a.embedder == nil || bankID == "" {
		return m, nil
	}

	texts := make([]string, 0, len(queries))
	for _, q := range queries {
		if q = strings.TrimSpace(q); q != "" {
			texts = append(texts, q)
		}
	}
	if len(texts) == 0 {
		return m, nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	results := make([][]types.KnowledgeSnippet, len(texts))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, q := range texts {
		eg.Go(func() error {
			vec, err := a.embedder.Embed(egCtx, q)
			if err != nil {
				return fmt.Errorf("knowledge: embed query %d: %w", i, err)
			}
			snips, err := a.store.SearchSnippets(egCtx, bankID, vec, a.topK)
			if err != nil {
				return fmt.Errorf("knowledge: search bank %q: %w", bankID, err)
			}
			results[i] = snips
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	m.Snippets = merge(results, a.topK)
	m.Queries = len(texts)
	m.AssemblyDuration = time.Since(start)

	a.log.Debug("knowledge: retrieval assembled",
		"bank_id", bankID,
		"queries", m.Queries,
		"snippets", len(m.Snippets),
		"duration", m.AssemblyDuration)
	return m, nil
}

// merge flattens per-query result sets, collapsing snippets that appear in
// more than one set to their best score, and returns the top limit snippets
// by score descending.
func merge(results [][]types.KnowledgeSnippet, limit int) []types.KnowledgeSnippet {
	var merged []types.KnowledgeSnippet
	index := make(map[string]int)
	for _, snips := range results {
		for _, s := range snips {
			if j, ok := index[s.ID]; ok {
				if s.Score > merged[j].Score {
					merged[j] = s
				}
				continue
			}
			index[s.ID] = len(merged)
			merged = append(merged, s)
		}
	}
	slices.SortStableFunc(merged, func(a, b types.KnowledgeSnippet) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
