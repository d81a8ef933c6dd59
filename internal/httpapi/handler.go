// Package httpapi exposes the relay over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/loqalabs/loqa-tts-relay/internal/audio"
	"github.com/loqalabs/loqa-tts-relay/internal/eventstore"
	"github.com/loqalabs/loqa-tts-relay/internal/tts"
	"github.com/loqalabs/loqa-tts-relay/internal/voices"
	"go.opentelemetry.io/otel/trace"
)

const maxBodyBytes = 1 << 20

// Auditor records the lifecycle of synthesis requests.
type Auditor interface {
	RecordRequest(ctx context.Context, r eventstore.Request) error
	RecordOutcome(ctx context.Context, requestID, traceID string, o eventstore.Outcome) error
}

type Handler struct {
	serviceName string
	relay       *tts.Relay
	voices      *voices.Catalog
	audit       Auditor
	logger      *slog.Logger
}

// New builds the handler. audit may be nil.
func New(serviceName string, relay *tts.Relay, catalog *voices.Catalog, audit Auditor, log *slog.Logger) *Handler {
	return &Handler{
		serviceName: serviceName,
		relay:       relay,
		voices:      catalog,
		audit:       audit,
		logger:      log.With(slog.String("component", "http-api")),
	}
}

func (h *Handler) Attach(r chi.Router) {
	r.Get("/", h.handleIndex)
	r.Get("/voices", h.handleVoices)

	r.Post("/tts", h.handleStream)
	r.Post("/tts/batch", h.handleBatch)
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJson(w, map[string]string{"service_name": h.serviceName})
}

func (h *Handler) handleVoices(w http.ResponseWriter, r *http.Request) {
	writeJson(w, h.voices.List())
}

// synthesis is the per-request state shared by the streaming and batch handlers.
type synthesis struct {
	id     string
	reqs   []tts.SynthesisRequest
	format audio.Format
	start  time.Time
	logger *slog.Logger
}

func (h *Handler) prepare(w http.ResponseWriter, r *http.Request, format audio.Format) (*synthesis, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil)
		return nil, false
	}
	params, err := tts.DecodeParams(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, false
	}
	reqs, err := h.relay.Build(params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, false
	}

	id := middleware.GetReqID(r.Context())
	if id == "" {
		id = uuid.NewString()
	}
	s := &synthesis{
		id:     id,
		reqs:   reqs,
		format: format,
		start:  time.Now(),
		logger: h.logger.With(slog.String("request_id", id)),
	}
	s.logger.Info("synthesis request",
		slog.String("path", r.URL.Path),
		slog.String("remote", r.RemoteAddr),
		slog.String("voice", reqs[0].VoiceName),
		slog.Int("sentences", len(reqs)),
		slog.String("format", format.String()))

	if h.audit != nil {
		err := h.audit.RecordRequest(r.Context(), eventstore.Request{
			ID:        id,
			Source:    "http",
			Remote:    r.RemoteAddr,
			Voice:     reqs[0].VoiceName,
			Format:    format.String(),
			Sentences: len(reqs),
		})
		if err != nil {
			s.logger.Warn("failed to record request", slog.String("error", err.Error()))
		}
	}
	w.Header().Set("X-Request-Id", id)
	return s, true
}

func (h *Handler) finish(ctx context.Context, s *synthesis, written int, err error) {
	outcome := eventstore.Outcome{Bytes: written, DurationMS: time.Since(s.start).Milliseconds()}
	if err != nil {
		outcome.Error = err.Error()
		s.logger.Error("synthesis failed",
			slog.Int("bytes_sent", written),
			slog.Bool("truncated", written > 0),
			slog.String("error", err.Error()))
	} else {
		s.logger.Info("synthesis completed",
			slog.Int("bytes_sent", written),
			slog.Int64("duration_ms", outcome.DurationMS))
	}
	if h.audit == nil {
		return
	}
	traceID := ""
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	if err := h.audit.RecordOutcome(context.WithoutCancel(ctx), s.id, traceID, outcome); err != nil {
		s.logger.Warn("failed to record outcome", slog.String("error", err.Error()))
	}
}

// handleStream writes each chunk as soon as the relay produces it. Headers are committed
// with the first chunk, so a failure before any audio still gets a proper status code.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	format := audio.Negotiate(r.Header.Get("Accept"))
	s, ok := h.prepare(w, r, format)
	if !ok {
		return
	}

	ctx := r.Context()
	rc := http.NewResponseController(w)
	written := 0
	var streamErr error
	for chunk, err := range h.relay.Stream(ctx, format, s.reqs) {
		if err != nil {
			streamErr = err
			break
		}
		if written == 0 {
			w.Header().Set("Content-Type", format.ContentType())
			w.WriteHeader(http.StatusOK)
		}
		n, err := w.Write(chunk)
		written += n
		if err != nil {
			streamErr = err
			break
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			streamErr = err
			break
		}
	}

	if streamErr != nil && written == 0 && ctx.Err() == nil {
		code := statusFor(streamErr)
		writeError(w, code, clientError(code, streamErr))
	}
	h.finish(ctx, s, written, streamErr)
}

// handleBatch renders the whole response before writing it. It defaults to Ogg/Opus
// unless the client asks for WAV explicitly.
func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	accept := r.Header.Get("Accept")
	format := audio.Negotiate(accept)
	if format == audio.Raw && !strings.HasPrefix(accept, "audio/wav") {
		format = audio.Ogg
	}
	s, ok := h.prepare(w, r, format)
	if !ok {
		return
	}

	body, err := h.relay.Render(r.Context(), format, s.reqs)
	if err != nil {
		if r.Context().Err() == nil {
			code := statusFor(err)
			writeError(w, code, clientError(code, err))
		}
		h.finish(r.Context(), s, 0, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	n, err := w.Write(body)
	h.finish(r.Context(), s, n, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, tts.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, tts.ErrBackendUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// clientError is what a failed synthesis tells the caller. Invalid input is echoed so it
// can be fixed; backend and encoder details stay in the log.
func clientError(code int, err error) error {
	if errors.Is(err, tts.ErrInvalidRequest) {
		return err
	}
	text := http.StatusText(code)
	for _, sentinel := range []error{tts.ErrBackendUnavailable, audio.ErrEncoding} {
		if errors.Is(err, sentinel) {
			return fmt.Errorf("%s: %w", text, sentinel)
		}
	}
	return errors.New(text)
}

func writeJson(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	enc.Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Del("Content-Length")
	w.WriteHeader(code)

	text := http.StatusText(code)

	if err != nil {
		text = err.Error()
	}

	w.Write([]byte(text))
}
