package tts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// flakyBackend fails the first n calls with err, then echoes the request text as audio.
type flakyBackend struct {
	failures int32
	err      error
	calls    atomic.Int32
}

func (f *flakyBackend) Synthesize(_ context.Context, req SynthesisRequest) (SynthesisResponse, error) {
	n := f.calls.Add(1)
	if n <= f.failures {
		return SynthesisResponse{}, f.err
	}
	return SynthesisResponse{Audio: []byte(req.Text)}, nil
}

func noWaitPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	p.InitialBackoff = 0
	return p
}

func TestClientRetriesTransientFailures(t *testing.T) {
	req := SynthesisRequest{Text: "hello", VoiceName: "v"}

	clean := &flakyBackend{}
	want, err := NewClient(clean, noWaitPolicy(), discardLogger()).Synthesize(context.Background(), req)
	require.NoError(t, err)

	for failures := int32(1); failures <= 4; failures++ {
		backend := &flakyBackend{failures: failures, err: status.Error(codes.Unavailable, "connection reset")}
		got, err := NewClient(backend, noWaitPolicy(), discardLogger()).Synthesize(context.Background(), req)
		require.NoError(t, err)
		require.Equal(t, want, got)
		require.EqualValues(t, failures+1, backend.calls.Load())
	}
}

func TestClientGivesUpAfterMaxAttempts(t *testing.T) {
	backend := &flakyBackend{failures: 100, err: status.Error(codes.Unavailable, "down")}
	_, err := NewClient(backend, noWaitPolicy(), discardLogger()).Synthesize(context.Background(), SynthesisRequest{Text: "x"})
	require.ErrorIs(t, err, ErrBackendUnavailable)
	require.Equal(t, codes.Unavailable, status.Code(err))
	require.EqualValues(t, 5, backend.calls.Load())
}

func TestClientDoesNotRetryPermanentErrors(t *testing.T) {
	backend := &flakyBackend{failures: 100, err: status.Error(codes.InvalidArgument, "bad ssml")}
	_, err := NewClient(backend, noWaitPolicy(), discardLogger()).Synthesize(context.Background(), SynthesisRequest{Text: "x"})
	require.ErrorIs(t, err, ErrBackendUnavailable)
	require.EqualValues(t, 1, backend.calls.Load())
}

func TestClientCustomPredicate(t *testing.T) {
	sentinel := errors.New("flaky")
	policy := noWaitPolicy()
	policy.MaxAttempts = 3
	policy.Retryable = func(err error) bool { return errors.Is(err, sentinel) }

	backend := &flakyBackend{failures: 100, err: sentinel}
	_, err := NewClient(backend, policy, discardLogger()).Synthesize(context.Background(), SynthesisRequest{})
	require.ErrorIs(t, err, sentinel)
	require.EqualValues(t, 3, backend.calls.Load())
}

func TestClientStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	backend := SynthesizerFunc(func(ctx context.Context, _ SynthesisRequest) (SynthesisResponse, error) {
		calls.Add(1)
		cancel()
		return SynthesisResponse{}, status.Error(codes.Unavailable, "cancelled mid-call")
	})

	_, err := NewClient(backend, noWaitPolicy(), discardLogger()).Synthesize(ctx, SynthesisRequest{})
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, ErrBackendUnavailable)
	require.EqualValues(t, 1, calls.Load())
}

func TestClientBacksOffBetweenAttempts(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.InitialBackoff = 5 * time.Millisecond
	policy.MaxBackoff = 10 * time.Millisecond
	backend := &flakyBackend{failures: 2, err: status.Error(codes.Aborted, "retry")}

	start := time.Now()
	_, err := NewClient(backend, policy, discardLogger()).Synthesize(context.Background(), SynthesisRequest{})
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 4*time.Millisecond)
}

func TestIsTransient(t *testing.T) {
	require.True(t, IsTransient(status.Error(codes.Unavailable, "")))
	require.True(t, IsTransient(status.Error(codes.Internal, "rst stream")))
	require.True(t, IsTransient(status.Error(codes.DeadlineExceeded, "")))
	require.True(t, IsTransient(io.ErrUnexpectedEOF))
	require.False(t, IsTransient(status.Error(codes.InvalidArgument, "")))
	require.False(t, IsTransient(context.Canceled))
	require.False(t, IsTransient(nil))
}

func TestLimitedSynthesizerPassesThrough(t *testing.T) {
	backend := &flakyBackend{}
	require.Same(t, Synthesizer(backend), NewLimitedSynthesizer(0, backend))

	limited := NewLimitedSynthesizer(100, backend)
	resp, err := limited.Synthesize(context.Background(), SynthesisRequest{Text: "abcd"})
	require.NoError(t, err)
	require.Equal(t, 2, resp.Samples())
}
