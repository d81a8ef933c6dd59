package audio

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"
)

type MuxerConfig struct {
	SampleRate   int
	OpusBitRate  int
	MP3BitRate   int
	IOBufferSize int
}

// Muxer builds per-response chunk sequences. It holds no per-response state and is safe
// for concurrent use.
type Muxer struct {
	cfg    MuxerConfig
	open   OpenFunc
	logger *slog.Logger
}

// NewMuxer uses open to create encoder sessions; nil selects the FFmpeg implementation.
func NewMuxer(cfg MuxerConfig, open OpenFunc, log *slog.Logger) *Muxer {
	if open == nil {
		open = OpenFFmpeg
	}
	return &Muxer{
		cfg:    cfg,
		open:   open,
		logger: log.With(slog.String("component", "muxer")),
	}
}

func (m *Muxer) SampleRate() int { return m.cfg.SampleRate }

func (m *Muxer) sessionConfig(format Format) SessionConfig {
	bitRate := m.cfg.OpusBitRate
	if format == MP3 {
		bitRate = m.cfg.MP3BitRate
	}
	return SessionConfig{
		Format:     format,
		SampleRate: m.cfg.SampleRate,
		BitRate:    bitRate,
		BufferSize: m.cfg.IOBufferSize,
	}
}

// Chunks returns the output of one response as a lazy sequence. PCM payloads are pulled
// one at a time, only when the consumer asks for more output. The sequence stops at the
// first error, which is yielded once. It can be iterated only once.
func (m *Muxer) Chunks(ctx context.Context, format Format, pcm iter.Seq2[[]byte, error]) iter.Seq2[[]byte, error] {
	var consumed atomic.Bool
	return func(yield func([]byte, error) bool) {
		if !consumed.CompareAndSwap(false, true) {
			yield(nil, ErrStreamConsumed)
			return
		}
		if !format.Encoded() {
			m.raw(ctx, pcm, yield)
			return
		}
		m.encode(ctx, format, pcm, yield)
	}
}

func (m *Muxer) raw(ctx context.Context, pcm iter.Seq2[[]byte, error], yield func([]byte, error) bool) {
	if !yield(WAVHeader(m.cfg.SampleRate, 0), nil) {
		return
	}
	for payload, err := range pcm {
		if err != nil {
			yield(nil, err)
			return
		}
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		if len(payload) == 0 {
			continue
		}
		if !yield(payload, nil) {
			return
		}
	}
}

func (m *Muxer) encode(ctx context.Context, format Format, pcm iter.Seq2[[]byte, error], yield func([]byte, error) bool) {
	session, err := m.open(m.sessionConfig(format))
	if err != nil {
		yield(nil, encodingError("open "+format.String(), err))
		return
	}
	defer func() {
		if err := session.Close(); err != nil {
			m.logger.Warn("failed to close encoder session", slog.String("format", format.String()), slog.String("error", err.Error()))
		}
	}()

	emit := func(chunks [][]byte) bool {
		for _, c := range chunks {
			if len(c) == 0 {
				continue
			}
			if !yield(c, nil) {
				return false
			}
		}
		return true
	}

	var pts int64
	for payload, err := range pcm {
		if err != nil {
			yield(nil, err)
			return
		}
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		samples := len(payload) / 2
		if samples == 0 {
			continue
		}
		out, err := session.WriteFrame(Frame{PCM: payload[:samples*2], Samples: samples, PTS: pts})
		if err != nil {
			yield(nil, encodingError("encode frame", err))
			return
		}
		pts += int64(samples)
		if !emit(out) {
			return
		}
	}

	out, err := session.Flush()
	if err != nil {
		yield(nil, encodingError("flush", err))
		return
	}
	emit(out)
}

func encodingError(op string, err error) error {
	if errors.Is(err, ErrEncoding) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrEncoding, op, err)
}
