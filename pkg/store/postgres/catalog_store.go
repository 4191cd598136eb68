package postgres

import (
	"context"
	"fmt"
)

// QuestionTexts implements [store.CatalogStore]. IDs without a catalogue row
// are absent from the returned map rather than an error; plans may reference
// questions that have not been authored yet.
func (s *Store) QuestionTexts(ctx context.Context, ids []string) (map[string]string, error) {
	texts := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return texts, nil
	}

	const q = `
		SELECT id, text
		FROM   question_texts
		WHERE  id = ANY($1)`

	rows, err := s.pool.Query(ctx, q, ids)
	if err != nil {
		return nil, fmt.Errorf("catalog store: question texts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, fmt.Errorf("catalog store: scan question text: %w", err)
		}
		texts[id] = text
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog store: question texts: %w", err)
	}
	return texts, nil
}
