package postgres

import (
	"context"
	"fmt"

	"github.com/cadenza-ai/cadenza/pkg/types"
)

// AppendTranscript implements [store.TranscriptStore]. It appends ev to the
// interview_transcripts log; rows are never updated or deleted.
func (s *Store) AppendTranscript(ctx context.Context, ev types.TranscriptEvent) error {
	const q = `
		INSERT INTO interview_transcripts
		    (candidate_interview_id, sender, message, timestamp, session_id, is_code, code_language)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, q,
		ev.CandidateInterviewID,
		string(ev.Sender),
		ev.Message,
		ev.Timestamp,
		ev.SessionID,
		ev.IsCode,
		ev.CodeLanguage,
	)
	if err != nil {
		return fmt.Errorf("transcript store: append: %w", err)
	}
	return nil
}
