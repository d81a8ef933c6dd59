package tts

import (
	"context"
	"encoding/binary"
	"math"
	"time"
)

type mockSynth struct {
	delay time.Duration
}

// NewMockSynth returns a backend that renders a quiet 440 Hz tone, 10ms per input byte.
// It is meant for local development without a Riva server.
func NewMockSynth(delay time.Duration) Synthesizer {
	return &mockSynth{delay: delay}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthesisRequest) (SynthesisResponse, error) {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return SynthesisResponse{}, ctx.Err()
		case <-time.After(m.delay):
		}
	}
	rate := req.SampleRateHz
	if rate <= 0 {
		rate = 48000
	}
	samples := len(req.Text) * rate / 100
	pcm := make([]byte, samples*2)
	for i := range samples {
		v := int16(2000 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return SynthesisResponse{Audio: pcm}, nil
}
