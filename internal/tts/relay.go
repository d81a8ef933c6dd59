package tts

import (
	"bytes"
	"context"
	"iter"
	"log/slog"

	"github.com/loqalabs/loqa-tts-relay/internal/audio"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Relay ties the request builder, the backend and the muxer together. It holds only
// shared read-only state; every stream it returns owns its own pipeline.
type Relay struct {
	builder *RequestBuilder
	backend Synthesizer
	muxer   *audio.Muxer
	logger  *slog.Logger
	metrics *relayMetrics
}

func NewRelay(builder *RequestBuilder, backend Synthesizer, muxer *audio.Muxer, log *slog.Logger) *Relay {
	r := &Relay{
		builder: builder,
		backend: backend,
		muxer:   muxer,
		logger:  log.With(slog.String("component", "relay")),
	}
	metrics, err := newRelayMetrics(otel.Meter(instrumentationName))
	if err != nil {
		r.logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	r.metrics = metrics
	return r
}

func (r *Relay) SampleRate() int { return r.builder.cfg.SampleRateHz }

// Build splits params into per-sentence backend requests.
func (r *Relay) Build(p Params) ([]SynthesisRequest, error) {
	return r.builder.Build(p)
}

// Responses calls the backend for each request in order, one call per pull. Iteration
// stops at the first failure or when ctx is done; no later request is sent.
func (r *Relay) Responses(ctx context.Context, reqs []SynthesisRequest) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for i, req := range reqs {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			resp, err := r.backend.Synthesize(ctx, req)
			if err != nil {
				r.logger.Warn("sentence synthesis failed",
					slog.Int("sentence", i),
					slog.Int("sentences", len(reqs)),
					slog.String("error", err.Error()))
				yield(nil, err)
				return
			}
			r.metrics.recordSentence(ctx)
			if !yield(resp.Audio, nil) {
				return
			}
		}
	}
}

// Stream returns the encoded output for reqs as a lazy, single-use chunk sequence.
func (r *Relay) Stream(ctx context.Context, format audio.Format, reqs []SynthesisRequest) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		ctx, span := otel.Tracer(instrumentationName).Start(ctx, "tts.stream")
		defer span.End()
		span.SetAttributes(
			attribute.String("tts.format", format.String()),
			attribute.Int("tts.sentences", len(reqs)),
		)
		r.metrics.recordRequest(ctx, format.String())

		total := 0
		defer func() { span.SetAttributes(attribute.Int("tts.bytes", total)) }()
		for chunk, err := range r.muxer.Chunks(ctx, format, r.Responses(ctx, reqs)) {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				yield(nil, err)
				return
			}
			total += len(chunk)
			r.metrics.recordBytes(ctx, format.String(), len(chunk))
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// Render collects a whole stream into memory. Raw output gets correct WAV sizes.
func (r *Relay) Render(ctx context.Context, format audio.Format, reqs []SynthesisRequest) ([]byte, error) {
	var buf bytes.Buffer
	for chunk, err := range r.Stream(ctx, format, reqs) {
		if err != nil {
			return nil, err
		}
		buf.Write(chunk)
	}
	out := buf.Bytes()
	if !format.Encoded() {
		audio.PatchWAVSizes(out)
	}
	return out, nil
}
