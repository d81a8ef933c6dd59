package eventstore

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-tts-relay/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.RecordRequest(ctx, Request{ID: "r1"}); err != nil {
		t.Fatalf("record on ephemeral store: %v", err)
	}
	events, err := es.ListRequestEvents(ctx, "r1", 10)
	if err != nil || len(events) != 0 {
		t.Fatalf("expected no events, got %v %v", events, err)
	}
}

func TestRecordRequestLifecycle(t *testing.T) {
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	ctx := context.Background()
	req := Request{ID: "req-123", Source: "http", Remote: "10.0.0.1", Voice: "English-US.Male-1", Format: "ogg", Sentences: 3}
	if err := es.RecordRequest(ctx, req); err != nil {
		t.Fatalf("record request: %v", err)
	}
	if err := es.RecordOutcome(ctx, req.ID, "trace-1", Outcome{Bytes: 2048, DurationMS: 120}); err != nil {
		t.Fatalf("record outcome: %v", err)
	}
	if err := es.RecordOutcome(ctx, "req-456", "", Outcome{}); err == nil {
		t.Fatalf("expected foreign key violation for unknown request")
	}

	events, err := es.ListRequestEvents(ctx, req.ID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != EventAccepted || events[1].Type != EventCompleted {
		t.Fatalf("unexpected event types: %s, %s", events[0].Type, events[1].Type)
	}
	var o Outcome
	if err := json.Unmarshal(events[1].Payload, &o); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if o.Bytes != 2048 || events[1].TraceID != "trace-1" {
		t.Fatalf("unexpected outcome: %+v trace=%q", o, events[1].TraceID)
	}
}

func TestFailedOutcome(t *testing.T) {
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	ctx := context.Background()
	if err := es.RecordRequest(ctx, Request{ID: "r"}); err != nil {
		t.Fatal(err)
	}
	if err := es.RecordOutcome(ctx, "r", "", Outcome{Error: "backend unavailable"}); err != nil {
		t.Fatal(err)
	}
	events, _ := es.ListRequestEvents(ctx, "r", 10)
	if len(events) != 2 || events[1].Type != EventFailed {
		t.Fatalf("expected failed event, got %+v", events)
	}
}

func TestPruneByDaysAndCount(t *testing.T) {
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: "persistent", RetentionDays: 1, MaxRequests: 1}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	ctx := context.Background()
	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.RecordRequest(ctx, Request{ID: "old"}); err != nil {
		t.Fatalf("record request: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.RecordRequest(ctx, Request{ID: "new"}); err != nil {
		t.Fatalf("record request: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListRequestEvents(ctx, "old", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old request pruned")
	}
	events, _ = es.ListRequestEvents(ctx, "new", 10)
	if len(events) != 1 {
		t.Fatalf("expected new request kept, got %d events", len(events))
	}
}
