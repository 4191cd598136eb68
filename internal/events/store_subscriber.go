package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cadenza-ai/cadenza/pkg/store"
)

// appendTimeout bounds each transcript write so a slow database cannot hold
// the publisher hostage.
const appendTimeout = 5 * time.Second

// StoreSubscriber persists [TopicTranscriptCreated] payloads through a
// [store.TranscriptStore]. Other topics are ignored.
type StoreSubscriber struct {
	store store.TranscriptStore
	log   *slog.Logger
}

var _ Handler = (*StoreSubscriber)(nil)

// NewStoreSubscriber returns the persisting subscriber.
func NewStoreSubscriber(st store.TranscriptStore, log *slog.Logger) *StoreSubscriber {
	if log == nil {
		log = slog.Default()
	}
	return &StoreSubscriber{store: st, log: log}
}

func (s *StoreSubscriber) Name() string { return "transcript_store" }

func (s *StoreSubscriber) Handle(ctx context.Context, topic Topic, p Payload) error {
	if topic != TopicTranscriptCreated || p.Transcript == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, appendTimeout)
	defer cancel()

	if err := s.store.AppendTranscript(ctx, *p.Transcript); err != nil {
		return fmt.Errorf("append transcript for %s: %w", p.CandidateInterviewID, err)
	}
	s.log.Debug("events: transcript persisted",
		"candidate_interview_id", p.CandidateInterviewID,
		"sender", string(p.Transcript.Sender))
	return nil
}
