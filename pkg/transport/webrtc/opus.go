package webrtc

import (
	"fmt"

	"layeh.com/gopus"
)

// The WebRTC wire carries 48 kHz stereo Opus at 20 ms frame size.
const (
	wireSampleRate = 48000
	wireChannels   = 2
	wireFrameMs    = 20
	// wireFrameSamples is the number of samples per channel per 20 ms frame.
	wireFrameSamples = wireSampleRate * wireFrameMs / 1000 // 960
	// wireFrameBytes is the exact PCM16 input size for one Opus frame:
	// 960 samples/channel × 2 channels × 2 bytes/sample.
	wireFrameBytes = wireFrameSamples * wireChannels * 2 // 3840
)

// Providers consume and produce 16 kHz mono PCM16.
const providerSampleRate = 16000

// opusDecoder wraps a gopus decoder for the candidate's packet stream. The
// decoder is stateful across consecutive frames, so one instance serves the
// whole connection.
type opusDecoder struct {
	dec *gopus.Decoder
}

func newOpusDecoder() (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(wireSampleRate, wireChannels)
	if err != nil {
		return nil, fmt.Errorf("webrtc: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

// decode decodes an Opus packet into interleaved PCM int16 samples and
// returns the result as little-endian bytes.
func (d *opusDecoder) decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, wireFrameSamples, false)
	if err != nil {
		return nil, fmt.Errorf("webrtc: opus decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

// opusEncoder wraps a gopus encoder for the interviewer's outbound stream.
type opusEncoder struct {
	enc *gopus.Encoder
}

func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(wireSampleRate, wireChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("webrtc: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

// encode encodes exactly one wire frame of interleaved PCM16 bytes into an
// Opus packet.
func (e *opusEncoder) encode(pcmBytes []byte) ([]byte, error) {
	pcm := bytesToInt16s(pcmBytes)
	packet, err := e.enc.Encode(pcm, wireFrameSamples, len(pcmBytes))
	if err != nil {
		return nil, fmt.Errorf("webrtc: opus encode: %w", err)
	}
	return packet, nil
}

// int16sToBytes converts int16 PCM samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// bytesToInt16s converts little-endian bytes to int16 PCM samples.
func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
