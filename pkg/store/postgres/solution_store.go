package postgres

import (
	"context"
	"fmt"

	"github.com/cadenza-ai/cadenza/pkg/store"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// UpsertSolution implements [store.SolutionStore]. One row per
// (question_id, candidate_interview_id); re-submission replaces the previous
// artifact entirely.
func (s *Store) UpsertSolution(ctx context.Context, sol types.QuestionSolution) error {
	const q = `
		INSERT INTO question_solutions
		    (question_id, candidate_interview_id, type, answer, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (question_id, candidate_interview_id) DO UPDATE SET
		    type       = EXCLUDED.type,
		    answer     = EXCLUDED.answer,
		    updated_at = now()`

	_, err := s.pool.Exec(ctx, q,
		sol.QuestionID,
		sol.CandidateInterviewID,
		sol.Type,
		sol.Answer,
	)
	if err != nil {
		return fmt.Errorf("solution store: upsert: %w", err)
	}
	return nil
}

// LatestSolution implements [store.SolutionStore]. A missing row maps to
// [store.ErrNotFound], which artifact pipelines treat as the initial
// submission case.
func (s *Store) LatestSolution(ctx context.Context, questionID, candidateInterviewID string) (*types.QuestionSolution, error) {
	const q = `
		SELECT question_id, candidate_interview_id, type, answer, updated_at
		FROM   question_solutions
		WHERE  question_id = $1
		  AND  candidate_interview_id = $2`

	var sol types.QuestionSolution
	err := s.pool.QueryRow(ctx, q, questionID, candidateInterviewID).Scan(
		&sol.QuestionID,
		&sol.CandidateInterviewID,
		&sol.Type,
		&sol.Answer,
		&sol.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("solution store: solution for question %q interview %q: %w",
				questionID, candidateInterviewID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("solution store: latest: %w", err)
	}
	return &sol, nil
}
