package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cadenza-ai/cadenza/pkg/store"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

const candidateInterviewColumns = `
	id, mock_interview_id, user_id, status,
	recording_url, code_editor_snapshot, design_editor_snapshot,
	created_at, updated_at`

// CandidateInterview implements [store.InterviewStore]. It retrieves one
// interview instance by primary key.
func (s *Store) CandidateInterview(ctx context.Context, id string) (*types.CandidateInterview, error) {
	q := `
		SELECT` + candidateInterviewColumns + `
		FROM   candidate_interviews
		WHERE  id = $1`

	ci, err := scanCandidateInterview(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("interview store: candidate interview %q: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("interview store: candidate interview: %w", err)
	}
	return ci, nil
}

// CandidateInterviewByMockAndUser implements [store.InterviewStore]. When the
// same user has taken the same template more than once, the most recently
// created instance wins.
func (s *Store) CandidateInterviewByMockAndUser(ctx context.Context, mockInterviewID, userID string) (*types.CandidateInterview, error) {
	q := `
		SELECT` + candidateInterviewColumns + `
		FROM   candidate_interviews
		WHERE  mock_interview_id = $1
		  AND  user_id = $2
		ORDER  BY created_at DESC
		LIMIT  1`

	ci, err := scanCandidateInterview(s.pool.QueryRow(ctx, q, mockInterviewID, userID))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("interview store: candidate interview for mock %q user %q: %w",
				mockInterviewID, userID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("interview store: candidate interview by mock and user: %w", err)
	}
	return ci, nil
}

// UpdateStatus implements [store.InterviewStore].
func (s *Store) UpdateStatus(ctx context.Context, id string, status types.InterviewStatus) error {
	const q = `
		UPDATE candidate_interviews
		SET    status = $2, updated_at = now()
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, id, string(status))
	if err != nil {
		return fmt.Errorf("interview store: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("interview store: update status of %q: %w", id, store.ErrNotFound)
	}
	return nil
}

// UpdateEditorSnapshots implements [store.InterviewStore].
func (s *Store) UpdateEditorSnapshots(ctx context.Context, id, codeSnapshot, designSnapshot string) error {
	const q = `
		UPDATE candidate_interviews
		SET    code_editor_snapshot = $2, design_editor_snapshot = $3, updated_at = now()
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, id, codeSnapshot, designSnapshot)
	if err != nil {
		return fmt.Errorf("interview store: update editor snapshots: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("interview store: update editor snapshots of %q: %w", id, store.ErrNotFound)
	}
	return nil
}

// PlanByCandidateInterview implements [store.InterviewStore]. The plan lives
// on the interview template, so the query joins through the instance row.
func (s *Store) PlanByCandidateInterview(ctx context.Context, candidateInterviewID string) ([]store.PlannerRecord, error) {
	const q = `
		SELECT p.sequence, p.duration_minutes, p.question_id, p.knowledge_bank_id,
		       p.tool_names, p.tool_properties, p.interview_instructions, p.created_at
		FROM   interview_planners p
		JOIN   candidate_interviews ci ON ci.mock_interview_id = p.mock_interview_id
		WHERE  ci.id = $1
		ORDER  BY p.sequence, p.created_at`

	rows, err := s.pool.Query(ctx, q, candidateInterviewID)
	if err != nil {
		return nil, fmt.Errorf("interview store: plan query: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.PlannerRecord, error) {
		var r store.PlannerRecord
		if err := row.Scan(
			&r.Sequence,
			&r.DurationMinutes,
			&r.QuestionID,
			&r.KnowledgeBankID,
			&r.ToolNames,
			&r.ToolProperties,
			&r.InterviewInstructions,
			&r.CreatedAt,
		); err != nil {
			return store.PlannerRecord{}, err
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("interview store: scan plan: %w", err)
	}
	if records == nil {
		records = []store.PlannerRecord{}
	}
	return records, nil
}

// scanCandidateInterview scans one candidate_interviews row in column order.
func scanCandidateInterview(row pgx.Row) (*types.CandidateInterview, error) {
	var (
		ci     types.CandidateInterview
		status string
	)
	if err := row.Scan(
		&ci.ID,
		&ci.MockInterviewID,
		&ci.UserID,
		&status,
		&ci.RecordingURL,
		&ci.CodeEditorSnapshot,
		&ci.DesignEditorSnapshot,
		&ci.CreatedAt,
		&ci.UpdatedAt,
	); err != nil {
		return nil, err
	}
	ci.Status = types.InterviewStatus(status)
	return &ci, nil
}

// isNoRows reports whether err is the pgx "no rows" sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
