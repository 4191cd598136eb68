package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/cadenza-ai/cadenza/internal/observe"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// AudioSource is the receiving half of a transport connection, as the head
// stage sees it.
type AudioSource interface {
	AudioInput() <-chan types.AudioFrame
}

// AudioWriter is the sending half of a transport connection, as the tail
// stage sees it.
type AudioWriter interface {
	SendAudio(types.AudioFrame) error
}

// TurnSource reports the id of the newest response turn started. The [LLM]
// stage implements it.
type TurnSource interface {
	CurrentTurn() int64
}

// TransportSource is the pipeline head. It merges two inputs into one
// ordered stream: frames pushed through [Pipeline.Push] (control frames,
// artifact submissions, injected prompts) and candidate audio arriving on
// the transport connection, wrapped as [InputAudioFrame] values.
//
// When the connection's input channel closes the stage keeps serving pushed
// frames; session teardown is the orchestrator's call, not the source's.
type TransportSource struct {
	conn AudioSource
	log  *slog.Logger
}

var _ Stage = (*TransportSource)(nil)

// NewTransportSource returns the head stage for the given connection.
func NewTransportSource(conn AudioSource, log *slog.Logger) *TransportSource {
	if log == nil {
		log = slog.Default()
	}
	return &TransportSource{conn: conn, log: log}
}

func (s *TransportSource) Name() string { return "transport_source" }

func (s *TransportSource) Process(ctx context.Context, in <-chan Frame, out chan<- Frame) error {
	input := s.conn.AudioInput()
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
		case af, ok := <-input:
			if !ok {
				s.log.Debug("transport input closed")
				input = nil
				continue
			}
			if !Forward(ctx, out, &InputAudioFrame{Audio: af}) {
				return nil
			}
		}
	}
}

// TransportSink is the last audio-bearing stage. It writes
// [OutputAudioFrame] payloads to the transport connection and consumes them;
// every other frame passes through to the assistant transcript tap behind
// it.
//
// The sink implements [Interrupter]. A candidate barge-in discards queued
// audio for every turn the model had started at that moment: the aggregator
// calls Interrupt before it forwards the superseding user turn, so the turn
// generated from that input always has a higher id than the recorded cut and
// is never dropped.
type TransportSink struct {
	conn  AudioWriter
	turns TurnSource

	// dropThrough is the newest superseded turn. Audio frames with a turn
	// id at or below it are discarded. Monotone.
	dropThrough atomic.Int64

	metrics *observe.Metrics
	log     *slog.Logger
}

var (
	_ Stage       = (*TransportSink)(nil)
	_ Interrupter = (*TransportSink)(nil)
)

// NewTransportSink returns the tail audio stage. turns may be nil, which
// disables interruption (text-only tests).
func NewTransportSink(conn AudioWriter, turns TurnSource, log *slog.Logger) *TransportSink {
	if log == nil {
		log = slog.Default()
	}
	return &TransportSink{
		conn:    conn,
		turns:   turns,
		metrics: observe.DefaultMetrics(),
		log:     log,
	}
}

func (s *TransportSink) Name() string { return "transport_sink" }

// Interrupt discards queued audio for every turn started so far. Later
// turns play normally.
func (s *TransportSink) Interrupt() {
	if s.turns == nil {
		return
	}
	cut := s.turns.CurrentTurn()
	for {
		cur := s.dropThrough.Load()
		if cut <= cur {
			return
		}
		if s.dropThrough.CompareAndSwap(cur, cut) {
			s.metrics.Interruptions.Add(context.Background(), 1)
			s.log.Debug("candidate interruption, discarding queued audio", "through_turn", cut)
			return
		}
	}
}

func (s *TransportSink) Process(ctx context.Context, in <-chan Frame, out chan<- Frame) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-in:
			if !ok {
				return nil
			}
			oa, isAudio := f.(*OutputAudioFrame)
			if !isAudio {
				if !Forward(ctx, out, f) {
					return nil
				}
				continue
			}
			if oa.TurnID <= s.dropThrough.Load() {
				continue
			}
			if err := s.conn.SendAudio(oa.Audio); err != nil {
				s.log.Warn("transport send failed", "turn", oa.TurnID, "error", err)
			}
		}
	}
}
