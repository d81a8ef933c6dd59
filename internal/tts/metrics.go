package tts

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type clientMetrics struct {
	attempts metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
}

func newClientMetrics(meter metric.Meter) (*clientMetrics, error) {
	attempts, err1 := meter.Int64Counter("loqa.relay.backend.attempts",
		metric.WithDescription("Synthesis calls sent to the backend, including retries"))
	failures, err2 := meter.Int64Counter("loqa.relay.backend.failures",
		metric.WithDescription("Synthesis calls that failed after the retry policy"))
	latency, err3 := meter.Float64Histogram("loqa.relay.backend.latency",
		metric.WithDescription("Backend synthesis latency including retries"),
		metric.WithUnit("ms"))
	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, err
	}
	return &clientMetrics{attempts: attempts, failures: failures, latency: latency}, nil
}

func (m *clientMetrics) recordAttempt(ctx context.Context, voice string) {
	if m == nil {
		return
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("voice", voice)))
}

func (m *clientMetrics) recordFailure(ctx context.Context, voice string) {
	if m == nil {
		return
	}
	m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("voice", voice)))
}

func (m *clientMetrics) recordLatency(ctx context.Context, d time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.latency.Record(ctx, float64(d.Microseconds())/1000, metric.WithAttributes(attribute.Bool("success", ok)))
}

type relayMetrics struct {
	requests  metric.Int64Counter
	sentences metric.Int64Counter
	bytes     metric.Int64Counter
}

func newRelayMetrics(meter metric.Meter) (*relayMetrics, error) {
	requests, err1 := meter.Int64Counter("loqa.relay.requests",
		metric.WithDescription("Synthesis streams started"))
	sentences, err2 := meter.Int64Counter("loqa.relay.sentences",
		metric.WithDescription("Sentences synthesized"))
	bytes, err3 := meter.Int64Counter("loqa.relay.bytes",
		metric.WithDescription("Encoded audio bytes produced"),
		metric.WithUnit("By"))
	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, err
	}
	return &relayMetrics{requests: requests, sentences: sentences, bytes: bytes}, nil
}

func (m *relayMetrics) recordRequest(ctx context.Context, format string) {
	if m == nil {
		return
	}
	m.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("format", format)))
}

func (m *relayMetrics) recordSentence(ctx context.Context) {
	if m == nil {
		return
	}
	m.sentences.Add(ctx, 1)
}

func (m *relayMetrics) recordBytes(ctx context.Context, format string, n int) {
	if m == nil {
		return
	}
	m.bytes.Add(ctx, int64(n), metric.WithAttributes(attribute.String("format", format)))
}
