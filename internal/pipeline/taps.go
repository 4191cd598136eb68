package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/cadenza-ai/cadenza/internal/events"
	"github.com/cadenza-ai/cadenza/internal/observe"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// TranscriptTap publishes finished conversation lines onto the transcript
// event bus without touching the frame stream.
//
// The candidate tap listens for [TranscriptionFrame] finals between the
// artifact processors and the aggregator; the assistant tap listens for
// [ResponseEndFrame] values at the pipeline tail, after the transport sink,
// so a line is only recorded once its audio has been handed to the client.
// Frames are forwarded before publishing: a slow bus subscriber delays this
// tap, never the stages downstream.
type TranscriptTap struct {
	bus         *events.Bus
	sessionID   string
	interviewID string
	sender      types.Sender
	metrics     *observe.Metrics
	log         *slog.Logger
}

var _ Stage = (*TranscriptTap)(nil)

// NewCandidateTap returns a tap that records final candidate transcriptions.
func NewCandidateTap(bus *events.Bus, sessionID, candidateInterviewID string, log *slog.Logger) *TranscriptTap {
	return newTap(bus, sessionID, candidateInterviewID, types.SenderCandidate, log)
}

// NewAssistantTap returns a tap that records completed interviewer turns.
func NewAssistantTap(bus *events.Bus, sessionID, candidateInterviewID string, log *slog.Logger) *TranscriptTap {
	return newTap(bus, sessionID, candidateInterviewID, types.SenderInterviewer, log)
}

func newTap(bus *events.Bus, sessionID, candidateInterviewID string, sender types.Sender, log *slog.Logger) *TranscriptTap {
	if log == nil {
		log = slog.Default()
	}
	return &TranscriptTap{
		bus:         bus,
		sessionID:   sessionID,
		interviewID: candidateInterviewID,
		sender:      sender,
		metrics:     observe.DefaultMetrics(),
		log:         log,
	}
}

func (t *TranscriptTap) Name() string {
	if t.sender == types.SenderCandidate {
		return "transcript_tap_candidate"
	}
	return "transcript_tap_assistant"
}

func (t *TranscriptTap) Process(ctx context.Context, in <-chan Frame, out chan<- Frame) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-in:
			if !ok {
				return nil
			}
			if !Forward(ctx, out, f) {
				return nil
			}
			if text := t.extract(f); text != "" {
				t.publish(ctx, text)
			}
		}
	}
}

// extract returns the transcript line carried by f for this tap's side of
// the conversation, or "" when f carries none. Empty turns make no line.
func (t *TranscriptTap) extract(f Frame) string {
	switch t.sender {
	case types.SenderCandidate:
		if tr, ok := f.(*TranscriptionFrame); ok {
			return strings.TrimSpace(tr.Transcript.Text)
		}
	case types.SenderInterviewer:
		if re, ok := f.(*ResponseEndFrame); ok {
			return strings.TrimSpace(re.Text)
		}
	}
	return ""
}

func (t *TranscriptTap) publish(ctx context.Context, text string) {
	if t.bus == nil {
		return
	}
	now := time.Now()
	t.bus.Publish(ctx, events.TopicTranscriptCreated, events.Payload{
		SessionID:            t.sessionID,
		CandidateInterviewID: t.interviewID,
		Transcript: &types.TranscriptEvent{
			CandidateInterviewID: t.interviewID,
			Sender:               t.sender,
			Message:              text,
			Timestamp:            now,
			SessionID:            t.sessionID,
		},
		Timestamp: now,
	})
	t.metrics.TranscriptEvents.Add(ctx, 1,
		metric.WithAttributes(observe.Attr("sender", strings.ToLower(string(t.sender)))),
	)
}
