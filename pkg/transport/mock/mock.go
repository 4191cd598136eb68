// Package mock provides a test double for [transport.Connection].
//
// Use Input to feed candidate audio into the code under test, Sent to
// inspect interviewer audio the bot wrote, and FireConnected /
// FireDisconnected to drive the lifecycle callbacks.
package mock

import (
	"context"
	"sync"

	"github.com/cadenza-ai/cadenza/pkg/transport"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// Conn is a mock implementation of transport.Connection.
type Conn struct {
	mu sync.Mutex

	// Input is the channel returned by AudioInput. Tests own it: feed
	// frames to simulate candidate speech, close it to simulate the media
	// stream ending.
	Input chan types.AudioFrame

	// OfferSDP is returned by Offer. Defaults to a stub SDP when empty.
	OfferSDP string

	// OfferErr, if non-nil, is returned as the error from Offer.
	OfferErr error

	// AcceptAnswerErr, if non-nil, is returned from AcceptAnswer.
	AcceptAnswerErr error

	// SendAudioErr, if non-nil, is returned from SendAudio.
	SendAudioErr error

	answers        []string
	candidates     []string
	sent           []types.AudioFrame
	onConnected    func()
	onDisconnected func()
	closed         chan struct{}
	closeCalls     int
}

var _ transport.Connection = (*Conn)(nil)

// New returns a connection double with a buffered input channel.
func New() *Conn {
	return &Conn{
		Input:  make(chan types.AudioFrame, 16),
		closed: make(chan struct{}),
	}
}

// Offer returns OfferSDP (or a stub), OfferErr.
func (c *Conn) Offer(context.Context) (string, error) {
	if c.OfferErr != nil {
		return "", c.OfferErr
	}
	if c.OfferSDP != "" {
		return c.OfferSDP, nil
	}
	return "v=0\r\ns=Mock Audio\r\n", nil
}

// AcceptAnswer records the answer and returns AcceptAnswerErr.
func (c *Conn) AcceptAnswer(_ context.Context, sdpAnswer string) error {
	if c.AcceptAnswerErr != nil {
		return c.AcceptAnswerErr
	}
	c.mu.Lock()
	c.answers = append(c.answers, sdpAnswer)
	c.mu.Unlock()
	return nil
}

// AddICECandidate records the candidate.
func (c *Conn) AddICECandidate(candidate string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, candidate)
	return nil
}

// AudioInput returns the test-owned Input channel.
func (c *Conn) AudioInput() <-chan types.AudioFrame {
	return c.Input
}

// SendAudio records the frame and returns SendAudioErr.
func (c *Conn) SendAudio(frame types.AudioFrame) error {
	if c.SendAudioErr != nil {
		return c.SendAudioErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, frame)
	return nil
}

// OnClientConnected stores cb for FireConnected to invoke.
func (c *Conn) OnClientConnected(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = cb
}

// OnClientDisconnected stores cb for FireDisconnected to invoke.
func (c *Conn) OnClientDisconnected(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnected = cb
}

// Closed reports connection teardown.
func (c *Conn) Closed() <-chan struct{} {
	return c.closed
}

// Close counts the call and closes the Closed channel once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	if c.closeCalls == 1 {
		close(c.closed)
	}
	return nil
}

// FireConnected invokes the registered connect callback synchronously.
func (c *Conn) FireConnected() {
	c.mu.Lock()
	cb := c.onConnected
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// FireDisconnected invokes the registered disconnect callback synchronously.
func (c *Conn) FireDisconnected() {
	c.mu.Lock()
	cb := c.onDisconnected
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Answers returns the SDP answers accepted so far. Thread-safe.
func (c *Conn) Answers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.answers...)
}

// Candidates returns the ICE candidates added so far. Thread-safe.
func (c *Conn) Candidates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.candidates...)
}

// Sent returns the frames written via SendAudio. Thread-safe.
func (c *Conn) Sent() []types.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.AudioFrame(nil), c.sent...)
}

// CloseCount reports how many times Close was called. Thread-safe.
func (c *Conn) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}
