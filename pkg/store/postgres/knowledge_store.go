package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/cadenza-ai/cadenza/pkg/types"
)

// UpsertSnippet implements [store.KnowledgeStore]. It stores a pre-embedded
// snippet; re-inserting an existing ID replaces the row entirely.
func (s *Store) UpsertSnippet(ctx context.Context, snippet types.KnowledgeSnippet, embedding []float32) error {
	const q = `
		INSERT INTO knowledge_snippets
		    (id, bank_id, title, content, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
		    bank_id   = EXCLUDED.bank_id,
		    title     = EXCLUDED.title,
		    content   = EXCLUDED.content,
		    embedding = EXCLUDED.embedding`

	vec := pgvector.NewVector(embedding)
	_, err := s.pool.Exec(ctx, q,
		snippet.ID,
		snippet.BankID,
		snippet.Title,
		snippet.Content,
		vec,
	)
	if err != nil {
		return fmt.Errorf("knowledge store: upsert snippet: %w", err)
	}
	return nil
}

// SearchSnippets implements [store.KnowledgeStore]. It finds the topK snippets
// in bankID whose embeddings are closest (cosine distance) to the supplied
// query embedding.
//
// Results are ordered by ascending cosine distance (most similar first); the
// Score field is set to 1 - distance so higher scores indicate better matches.
func (s *Store) SearchSnippets(ctx context.Context, bankID string, embedding []float32, topK int) ([]types.KnowledgeSnippet, error) {
	const q = `
		SELECT id, bank_id, title, content,
		       embedding <=> $1 AS distance
		FROM   knowledge_snippets
		WHERE  bank_id = $2
		ORDER  BY distance
		LIMIT  $3`

	queryVec := pgvector.NewVector(embedding)
	rows, err := s.pool.Query(ctx, q, queryVec, bankID, topK)
	if err != nil {
		return nil, fmt.Errorf("knowledge store: search snippets: %w", err)
	}

	snippets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.KnowledgeSnippet, error) {
		var (
			sn       types.KnowledgeSnippet
			distance float64
		)
		if err := row.Scan(
			&sn.ID,
			&sn.BankID,
			&sn.Title,
			&sn.Content,
			&distance,
		); err != nil {
			return types.KnowledgeSnippet{}, err
		}
		// Convert distance (lower = better) to score (higher = better).
		sn.Score = 1.0 - distance
		return sn, nil
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge store: scan snippets: %w", err)
	}
	if snippets == nil {
		snippets = []types.KnowledgeSnippet{}
	}
	return snippets, nil
}
