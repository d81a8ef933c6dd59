package tts

import (
	"context"
	"errors"
)

var (
	// ErrInvalidRequest marks caller input that cannot produce any synthesis request.
	ErrInvalidRequest = errors.New("invalid synthesis request")
	// ErrBackendUnavailable marks a backend call that failed after retries, or failed permanently.
	ErrBackendUnavailable = errors.New("synthesis backend unavailable")
)

// Encoding identifies the sample encoding requested from the backend.
type Encoding int32

const (
	// EncodingLinearPCM is signed 16-bit little-endian PCM.
	EncodingLinearPCM Encoding = 1
)

// SynthesisRequest is one backend call: a single sentence wrapped in SSML.
type SynthesisRequest struct {
	LanguageCode string
	SampleRateHz int
	VoiceName    string
	Encoding     Encoding
	Text         string
}

// SynthesisResponse carries mono s16le PCM at the request sample rate.
type SynthesisResponse struct {
	Audio []byte
}

// Samples returns the number of mono 16-bit samples in the payload.
func (r SynthesisResponse) Samples() int { return len(r.Audio) / 2 }

// Synthesizer is the contract for a speech backend. Implementations must be safe for
// concurrent use.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (SynthesisResponse, error)
}

// SynthesizerFunc adapts a function to Synthesizer.
type SynthesizerFunc func(ctx context.Context, req SynthesisRequest) (SynthesisResponse, error)

func (f SynthesizerFunc) Synthesize(ctx context.Context, req SynthesisRequest) (SynthesisResponse, error) {
	return f(ctx, req)
}
