// Package transport defines the session-bound audio link between a
// candidate's browser and the interview bot.
//
// One [Connection] exists per interview session. The bot is always the
// offering side: session creation returns an SDP offer, and the browser
// completes the handshake through the signaling endpoints (answer, then
// trickled ICE candidates). Once media flows, candidate audio arrives on
// [Connection.AudioInput] as PCM16 in the provider format and interviewer
// audio leaves through [Connection.SendAudio].
//
// Implementations live in adapter subpackages (transport/webrtc); the
// orchestrator is written against this interface only.
package transport

import (
	"context"
	"errors"

	"github.com/cadenza-ai/cadenza/pkg/types"
)

// ErrClosed is returned by operations on a connection that has already been
// torn down.
var ErrClosed = errors.New("transport: connection closed")

// Connection is a single candidate's live audio link.
//
// Lifecycle: callbacks registered via OnClientConnected and
// OnClientDisconnected fire at most once each, on an internal goroutine.
// Register them before signaling starts. Closed is closed when the
// connection terminates for any reason, locally via Close or because the
// peer went away.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// Offer returns the SDP offer the browser answers. Called once per
	// session when the session is created.
	Offer(ctx context.Context) (string, error)

	// AcceptAnswer completes the handshake with the browser's SDP answer.
	// A successful answer is what flips the client to connected.
	AcceptAnswer(ctx context.Context, sdpAnswer string) error

	// AddICECandidate feeds one trickled remote ICE candidate into the peer.
	AddICECandidate(candidate string) error

	// AudioInput returns the channel delivering candidate audio, already
	// decoded and converted to the provider format (PCM16, 16 kHz mono).
	// The channel is closed when the connection terminates.
	AudioInput() <-chan types.AudioFrame

	// SendAudio queues one interviewer audio frame toward the candidate.
	// Accepts PCM16 at any mono or stereo rate; the adapter converts to the
	// wire format. Returns [ErrClosed] after teardown. A full outbound
	// queue drops the frame rather than block the pipeline.
	SendAudio(frame types.AudioFrame) error

	// OnClientConnected registers cb to run once the handshake completes.
	OnClientConnected(cb func())

	// OnClientDisconnected registers cb to run once if the peer drops the
	// link. Local Close does not fire it.
	OnClientDisconnected(cb func())

	// Closed is closed when the connection has terminated.
	Closed() <-chan struct{}

	// Close tears down the connection and releases resources. Safe to call
	// more than once; subsequent calls return nil.
	Close() error
}
