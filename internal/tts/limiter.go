package tts

import (
	"context"

	"golang.org/x/time/rate"
)

type limitedSynthesizer struct {
	limiter  *rate.Limiter
	provider Synthesizer
}

// NewLimitedSynthesizer throttles backend calls to perSecond. Zero or less returns s.
func NewLimitedSynthesizer(perSecond int, s Synthesizer) Synthesizer {
	if perSecond <= 0 {
		return s
	}
	return &limitedSynthesizer{
		limiter:  rate.NewLimiter(rate.Limit(perSecond), perSecond),
		provider: s,
	}
}

func (p *limitedSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (SynthesisResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return SynthesisResponse{}, err
	}
	return p.provider.Synthesize(ctx, req)
}
