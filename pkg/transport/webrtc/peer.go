package webrtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/cadenza-ai/cadenza/pkg/transport"
)

// PeerTransport abstracts the raw WebRTC peer connection: signaling plus an
// Opus packet stream in each direction. This keeps the session logic free of
// any concrete WebRTC stack; a pion-backed implementation slots in as another
// PeerTransport without touching the [Connection].
type PeerTransport interface {
	// CreateOffer creates the local SDP offer.
	CreateOffer(ctx context.Context) (sdpOffer string, err error)

	// AcceptAnswer processes the remote peer's SDP answer.
	AcceptAnswer(ctx context.Context, sdpAnswer string) error

	// AddICECandidate adds a remote ICE candidate.
	AddICECandidate(candidate string) error

	// OpusInput returns the channel delivering Opus packets received from
	// the peer. Closed when the peer goes away or the transport is closed.
	OpusInput() <-chan []byte

	// SendOpus transmits one encoded Opus packet to the peer.
	SendOpus(packet []byte) error

	// Gone is closed when the remote peer drops the link (ICE failure,
	// page closed). Local Close does not close it.
	Gone() <-chan struct{}

	// Close tears down the peer connection and releases resources.
	Close() error
}

const loopbackBuffer = 64

// Loopback is an in-memory [PeerTransport] used by tests and local
// development. The browser end is driven directly: [Loopback.ClientSend]
// feeds packets that arrive on OpusInput, [Loopback.ClientReceived] drains
// packets written by SendOpus, and [Loopback.ClientClose] simulates the
// peer dropping the link.
type Loopback struct {
	in  chan []byte // client → bot
	out chan []byte // bot → client

	gone     chan struct{}
	goneOnce sync.Once

	closed    chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	answers    []string
	candidates []string
}

var _ PeerTransport = (*Loopback)(nil)

// NewLoopback returns a loopback peer with buffered packet channels.
func NewLoopback() *Loopback {
	return &Loopback{
		in:     make(chan []byte, loopbackBuffer),
		out:    make(chan []byte, loopbackBuffer),
		gone:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (l *Loopback) CreateOffer(_ context.Context) (string, error) {
	return "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=Cadenza Audio\r\n", nil
}

func (l *Loopback) AcceptAnswer(_ context.Context, sdpAnswer string) error {
	if sdpAnswer == "" {
		return fmt.Errorf("webrtc: empty sdp answer")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.answers = append(l.answers, sdpAnswer)
	return nil
}

func (l *Loopback) AddICECandidate(candidate string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.candidates = append(l.candidates, candidate)
	return nil
}

func (l *Loopback) OpusInput() <-chan []byte { return l.in }

func (l *Loopback) SendOpus(packet []byte) error {
	select {
	case <-l.closed:
		return transport.ErrClosed
	case l.out <- packet:
		return nil
	}
}

func (l *Loopback) Gone() <-chan struct{} { return l.gone }

func (l *Loopback) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

// ClientSend feeds one packet as if the browser microphone produced it.
func (l *Loopback) ClientSend(packet []byte) error {
	select {
	case <-l.closed:
		return transport.ErrClosed
	case <-l.gone:
		return transport.ErrClosed
	case l.in <- packet:
		return nil
	}
}

// ClientReceived returns the channel of packets the browser would play.
func (l *Loopback) ClientReceived() <-chan []byte { return l.out }

// ClientClose simulates the browser dropping the link. The input channel is
// closed so readers see EOF, and Gone fires.
func (l *Loopback) ClientClose() {
	l.goneOnce.Do(func() {
		close(l.gone)
		close(l.in)
	})
}

// Answers returns the SDP answers accepted so far.
func (l *Loopback) Answers() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.answers...)
}

// Candidates returns the ICE candidates added so far.
func (l *Loopback) Candidates() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.candidates...)
}
