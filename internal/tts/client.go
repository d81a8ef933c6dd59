package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const instrumentationName = "github.com/loqalabs/loqa-tts-relay/internal/tts"

// RetryPolicy bounds how a failed backend call is repeated.
type RetryPolicy struct {
	// MaxAttempts counts the first call.
	MaxAttempts int
	// Retryable reports whether an error is transient. Nil means IsTransient.
	Retryable func(error) bool
	// InitialBackoff of zero retries immediately.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		Retryable:      IsTransient,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	if p.InitialBackoff <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = max(p.MaxBackoff, p.InitialBackoff)
	return b
}

// IsTransient reports whether a backend error is worth another attempt: an interrupted
// stream or connection, or a single attempt running out of time.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch status.Code(err) {
	case grpccodes.Unavailable, grpccodes.Aborted, grpccodes.Internal,
		grpccodes.ResourceExhausted, grpccodes.DeadlineExceeded:
		return true
	}
	return false
}

// Client wraps a backend with the retry policy, tracing and metrics.
type Client struct {
	backend Synthesizer
	policy  RetryPolicy
	logger  *slog.Logger
	metrics *clientMetrics
}

func NewClient(backend Synthesizer, policy RetryPolicy, log *slog.Logger) *Client {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.Retryable == nil {
		policy.Retryable = IsTransient
	}
	c := &Client{
		backend: backend,
		policy:  policy,
		logger:  log.With(slog.String("component", "tts-client")),
	}
	metrics, err := newClientMetrics(otel.Meter(instrumentationName))
	if err != nil {
		c.logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	c.metrics = metrics
	return c
}

// Synthesize performs one backend call, retrying transient failures. A failure that
// survives the policy is wrapped in ErrBackendUnavailable. Cancellation of ctx is returned
// as is and never retried.
func (c *Client) Synthesize(ctx context.Context, req SynthesisRequest) (SynthesisResponse, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "tts.backend.synthesize")
	defer span.End()
	span.SetAttributes(attribute.String("tts.voice", req.VoiceName))

	start := time.Now()
	attempt := 0
	op := func() (SynthesisResponse, error) {
		attempt++
		c.metrics.recordAttempt(ctx, req.VoiceName)
		resp, err := c.backend.Synthesize(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return SynthesisResponse{}, backoff.Permanent(ctx.Err())
		}
		if !c.policy.Retryable(err) {
			return SynthesisResponse{}, backoff.Permanent(err)
		}
		return SynthesisResponse{}, err
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.policy.backOff()),
		backoff.WithMaxTries(uint(c.policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Warn("backend call failed, retrying",
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()))
		}),
	)
	span.SetAttributes(attribute.Int("tts.attempts", attempt))
	c.metrics.recordLatency(ctx, time.Since(start), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctxErr := ctx.Err(); ctxErr != nil {
			return SynthesisResponse{}, ctxErr
		}
		c.metrics.recordFailure(ctx, req.VoiceName)
		return SynthesisResponse{}, fmt.Errorf("%w after %d attempt(s): %w", ErrBackendUnavailable, attempt, err)
	}
	return resp, nil
}
