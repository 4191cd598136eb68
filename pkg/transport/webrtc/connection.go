// Package webrtc implements [transport.Connection] for browser peers.
//
// The raw peer connection is abstracted behind [PeerTransport], which
// carries SDP/ICE signaling and Opus packets. The in-memory [Loopback] is
// the default, used by tests and local development; a pion-backed transport
// slots in without touching the session logic. The Connection owns the
// codec boundary: inbound packets are decoded and folded down to the
// 16 kHz mono PCM16 the providers consume, outbound provider audio is
// brought up to 48 kHz stereo and encoded in 20 ms Opus frames.
package webrtc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cadenza-ai/cadenza/pkg/transport"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

const (
	inputBuffer  = 64
	outputBuffer = 64
)

// Compile-time interface assertion.
var _ transport.Connection = (*Connection)(nil)

// Option configures a [Connection].
type Option func(*Connection)

// WithPeer injects the peer transport. Defaults to a fresh [Loopback].
func WithPeer(p PeerTransport) Option {
	return func(c *Connection) {
		c.peer = p
	}
}

// Connection adapts a [PeerTransport] to [transport.Connection] for a single
// interview session.
//
// Connection is safe for concurrent use.
type Connection struct {
	sessionID string
	peer      PeerTransport

	input  chan types.AudioFrame // decoded candidate audio toward the pipeline
	output chan types.AudioFrame // queued interviewer audio toward the peer

	cbMu             sync.Mutex
	onConnected      func()
	onDisconnected   func()
	connectedOnce    sync.Once
	disconnectedOnce sync.Once

	closed    chan struct{}
	closeOnce sync.Once
}

// New builds a connection for the given session and starts its codec loops.
// Fails only if the Opus codec cannot be initialised.
func New(sessionID string, opts ...Option) (*Connection, error) {
	c := &Connection{
		sessionID: sessionID,
		input:     make(chan types.AudioFrame, inputBuffer),
		output:    make(chan types.AudioFrame, outputBuffer),
		closed:    make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.peer == nil {
		c.peer = NewLoopback()
	}

	dec, err := newOpusDecoder()
	if err != nil {
		return nil, err
	}
	enc, err := newOpusEncoder()
	if err != nil {
		return nil, err
	}

	go c.recvLoop(dec)
	go c.sendLoop(enc)
	go c.watchPeer()
	return c, nil
}

// Offer returns the local SDP offer for the browser to answer.
func (c *Connection) Offer(ctx context.Context) (string, error) {
	select {
	case <-c.closed:
		return "", transport.ErrClosed
	default:
	}
	return c.peer.CreateOffer(ctx)
}

// AcceptAnswer completes the handshake. A successful answer marks the client
// connected and fires the registered callback.
func (c *Connection) AcceptAnswer(ctx context.Context, sdpAnswer string) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	if err := c.peer.AcceptAnswer(ctx, sdpAnswer); err != nil {
		return err
	}
	c.fireConnected()
	return nil
}

// AddICECandidate feeds one trickled remote candidate into the peer.
func (c *Connection) AddICECandidate(candidate string) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	return c.peer.AddICECandidate(candidate)
}

// AudioInput returns the channel of decoded candidate audio in provider
// format. Closed when the connection terminates.
func (c *Connection) AudioInput() <-chan types.AudioFrame {
	return c.input
}

// SendAudio queues one interviewer frame for transmission. A full outbound
// queue drops the frame so a stalled peer never wedges the pipeline sink.
func (c *Connection) SendAudio(frame types.AudioFrame) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	select {
	case c.output <- frame:
	default:
		slog.Debug("webrtc: outbound queue full, dropping frame", "session_id", c.sessionID)
	}
	return nil
}

// OnClientConnected registers cb to run once the handshake completes.
// Register before signaling starts; only one callback is kept.
func (c *Connection) OnClientConnected(cb func()) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onConnected = cb
}

// OnClientDisconnected registers cb to run once if the peer drops the link.
// Local Close does not fire it.
func (c *Connection) OnClientDisconnected(cb func()) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onDisconnected = cb
}

// Closed is closed when the connection has terminated.
func (c *Connection) Closed() <-chan struct{} {
	return c.closed
}

// Close tears down the connection and the underlying peer. Safe to call more
// than once; subsequent calls return nil.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.peer.Close()
	})
	return nil
}

// recvLoop decodes candidate packets into provider-format frames. It owns
// the input channel and closes it on exit.
func (c *Connection) recvLoop(dec *opusDecoder) {
	defer close(c.input)
	packets := c.peer.OpusInput()
	var elapsed time.Duration
	for {
		select {
		case <-c.closed:
			return
		case pkt, ok := <-packets:
			if !ok {
				return
			}
			pcm, err := dec.decode(pkt)
			if err != nil {
				slog.Warn("webrtc: opus decode error", "session_id", c.sessionID, "error", err)
				continue
			}
			mono := stereoToMono(pcm)
			frame := types.AudioFrame{
				Data:       resampleMono16(mono, wireSampleRate, providerSampleRate),
				SampleRate: providerSampleRate,
				Channels:   1,
				Timestamp:  elapsed,
			}
			elapsed += time.Duration(len(mono)/2) * time.Second / wireSampleRate

			select {
			case c.input <- frame:
			default:
				// Pipeline is behind; drop rather than stall the peer read.
			}
		}
	}
}

// sendLoop converts queued interviewer audio to the wire format and sends
// complete Opus frames. A trailing partial chunk waits for more audio.
func (c *Connection) sendLoop(enc *opusEncoder) {
	var buf []byte
	for {
		select {
		case <-c.closed:
			return
		case frame := <-c.output:
			buf = append(buf, toWire(frame)...)
			for len(buf) >= wireFrameBytes {
				pkt, err := enc.encode(buf[:wireFrameBytes])
				buf = buf[wireFrameBytes:]
				if err != nil {
					slog.Warn("webrtc: opus encode error", "session_id", c.sessionID, "error", err)
					continue
				}
				if c.peer.SendOpus(pkt) != nil {
					// Peer unreachable; watchPeer handles teardown.
					return
				}
			}
		}
	}
}

// watchPeer tears the connection down when the remote peer drops the link.
func (c *Connection) watchPeer() {
	select {
	case <-c.closed:
	case <-c.peer.Gone():
		c.fireDisconnected()
		_ = c.Close()
	}
}

// toWire converts one frame to interleaved 48 kHz stereo PCM16.
func toWire(f types.AudioFrame) []byte {
	if f.SampleRate == wireSampleRate && f.Channels == wireChannels {
		return f.Data
	}
	pcm := f.Data
	if f.Channels == wireChannels {
		pcm = stereoToMono(pcm)
	}
	pcm = resampleMono16(pcm, f.SampleRate, wireSampleRate)
	return monoToStereo(pcm)
}

func (c *Connection) fireConnected() {
	c.connectedOnce.Do(func() {
		c.cbMu.Lock()
		cb := c.onConnected
		c.cbMu.Unlock()
		if cb != nil {
			go cb()
		}
	})
}

func (c *Connection) fireDisconnected() {
	c.disconnectedOnce.Do(func() {
		c.cbMu.Lock()
		cb := c.onDisconnected
		c.cbMu.Unlock()
		if cb != nil {
			go cb()
		}
	})
}
