// Package postgres provides the PostgreSQL-backed implementation of every
// pkg/store interface on a single [pgxpool.Pool].
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer st.Close()
//
//	ci, _ := st.CandidateInterviewByMockAndUser(ctx, mockID, userID)
//	plan, _ := st.PlanByCandidateInterview(ctx, ci.ID)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Interview DDL — instances + plans
// ─────────────────────────────────────────────────────────────────────────────

const ddlInterviews = `
CREATE TABLE IF NOT EXISTS candidate_interviews (
    id                      TEXT         PRIMARY KEY,
    mock_interview_id       TEXT         NOT NULL,
    user_id                 TEXT         NOT NULL,
    status                  TEXT         NOT NULL DEFAULT 'PENDING',
    recording_url           TEXT         NOT NULL DEFAULT '',
    code_editor_snapshot    TEXT         NOT NULL DEFAULT '',
    design_editor_snapshot  TEXT         NOT NULL DEFAULT '',
    created_at              TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at              TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_candidate_interviews_mock_user
    ON candidate_interviews (mock_interview_id, user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS interview_planners (
    id                      BIGSERIAL    PRIMARY KEY,
    mock_interview_id       TEXT         NOT NULL,
    sequence                INT          NOT NULL,
    duration_minutes        INT          NOT NULL,
    question_id             TEXT         NOT NULL DEFAULT '',
    knowledge_bank_id       TEXT         NOT NULL DEFAULT '',
    tool_names              TEXT         NOT NULL DEFAULT '',
    tool_properties         JSONB        NOT NULL DEFAULT '{}',
    interview_instructions  TEXT         NOT NULL DEFAULT '',
    created_at              TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_interview_planners_mock_sequence
    ON interview_planners (mock_interview_id, sequence, created_at);
`

// ─────────────────────────────────────────────────────────────────────────────
// Artifact DDL — latest-wins solutions
// ─────────────────────────────────────────────────────────────────────────────

const ddlSolutions = `
CREATE TABLE IF NOT EXISTS question_solutions (
    question_id             TEXT         NOT NULL,
    candidate_interview_id  TEXT         NOT NULL,
    type                    TEXT         NOT NULL,
    answer                  TEXT         NOT NULL,
    updated_at              TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (question_id, candidate_interview_id)
);

CREATE INDEX IF NOT EXISTS idx_question_solutions_interview
    ON question_solutions (candidate_interview_id);
`

// ─────────────────────────────────────────────────────────────────────────────
// Transcript DDL — append-only conversation log
// ─────────────────────────────────────────────────────────────────────────────

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS interview_transcripts (
    id                      BIGSERIAL    PRIMARY KEY,
    candidate_interview_id  TEXT         NOT NULL,
    sender                  TEXT         NOT NULL,
    message                 TEXT         NOT NULL,
    timestamp               TIMESTAMPTZ  NOT NULL DEFAULT now(),
    session_id              TEXT         NOT NULL DEFAULT '',
    is_code                 BOOLEAN      NOT NULL DEFAULT FALSE,
    code_language           TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_interview_transcripts_interview
    ON interview_transcripts (candidate_interview_id, timestamp);
`

// ─────────────────────────────────────────────────────────────────────────────
// Catalogue DDL — question texts
// ─────────────────────────────────────────────────────────────────────────────

const ddlCatalog = `
CREATE TABLE IF NOT EXISTS question_texts (
    id    TEXT  PRIMARY KEY,
    text  TEXT  NOT NULL
);
`

// ddlKnowledge returns the knowledge-snippet DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlKnowledge(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS knowledge_snippets (
    id          TEXT         PRIMARY KEY,
    bank_id     TEXT         NOT NULL,
    title       TEXT         NOT NULL DEFAULT '',
    content     TEXT         NOT NULL,
    embedding   vector(%d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_knowledge_snippets_bank
    ON knowledge_snippets (bank_id);

CREATE INDEX IF NOT EXISTS idx_knowledge_snippets_embedding
    ON knowledge_snippets USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required database tables and extensions exist.
// It is idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS)
// and safe to call on every application start.
//
// embeddingDimensions must match the vector model configured for your
// deployment (e.g., 1536 for OpenAI text-embedding-3-small, 768 for
// nomic-embed-text). Changing this value after the first migration requires a
// manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlInterviews,
		ddlSolutions,
		ddlTranscripts,
		ddlCatalog,
		ddlKnowledge(embeddingDimensions),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
