package webrtc

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/cadenza-ai/cadenza/pkg/types"
)

func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestStereoToMono_AveragesAndClamps(t *testing.T) {
	t.Parallel()

	stereo := samplesToBytes([]int16{100, 200, -100, -200, 32767, 32767})
	got := bytesToSamples(stereoToMono(stereo))
	want := []int16{150, -150, 32767}
	if len(got) != len(want) {
		t.Fatalf("length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMonoToStereo_DuplicatesSamples(t *testing.T) {
	t.Parallel()

	mono := samplesToBytes([]int16{100, -200, 300})
	got := bytesToSamples(monoToStereo(mono))
	want := []int16{100, 100, -200, -200, 300, 300}
	if len(got) != len(want) {
		t.Fatalf("length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()

	t.Run("same rate is a passthrough", func(t *testing.T) {
		t.Parallel()
		pcm := samplesToBytes([]int16{100, 200, 300})
		if got := resampleMono16(pcm, 48000, 48000); !bytes.Equal(got, pcm) {
			t.Errorf("resampleMono16 changed data at equal rates")
		}
	})

	t.Run("downsample 48k to 16k", func(t *testing.T) {
		t.Parallel()
		src := make([]int16, 96)
		for i := range src {
			src[i] = int16(i * 100)
		}
		got := bytesToSamples(resampleMono16(samplesToBytes(src), 48000, 16000))
		if len(got) != 32 {
			t.Fatalf("length = %d, want 32", len(got))
		}
		if got[0] != src[0] {
			t.Errorf("first sample = %d, want %d", got[0], src[0])
		}
	})

	t.Run("upsample 16k to 48k interpolates", func(t *testing.T) {
		t.Parallel()
		got := bytesToSamples(resampleMono16(samplesToBytes([]int16{0, 3000}), 16000, 48000))
		if len(got) != 6 {
			t.Fatalf("length = %d, want 6", len(got))
		}
		if got[0] != 0 {
			t.Errorf("first sample = %d, want 0", got[0])
		}
		// Samples between the two sources rise monotonically.
		for i := 1; i < 4; i++ {
			if got[i] < got[i-1] {
				t.Errorf("sample %d = %d, want monotone rise over %d", i, got[i], got[i-1])
			}
		}
	})
}

func TestToWire(t *testing.T) {
	t.Parallel()

	t.Run("wire format passes through untouched", func(t *testing.T) {
		t.Parallel()
		data := samplesToBytes([]int16{1, 2, 3, 4})
		f := types.AudioFrame{Data: data, SampleRate: 48000, Channels: 2}
		if got := toWire(f); !bytes.Equal(got, data) {
			t.Error("toWire changed data already in wire format")
		}
	})

	t.Run("provider format expands sixfold", func(t *testing.T) {
		t.Parallel()
		f := types.AudioFrame{Data: make([]byte, 640), SampleRate: 16000, Channels: 1}
		if got := toWire(f); len(got) != 3840 {
			t.Errorf("length = %d, want 3840 (one wire frame)", len(got))
		}
	})
}
