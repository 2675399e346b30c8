package eventstore

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-medic/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "turns.db")
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenEphemeral(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "ephemeral"})
	if err := es.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := es.Journal("s").Record(context.Background(), 1, "t", "turn.started", nil); err != nil {
		t.Fatalf("ephemeral record should be a no-op, got %v", err)
	}
	if !es.Healthy(context.Background()) {
		t.Fatal("ephemeral store is always healthy")
	}
}

func TestJournalRecordsTransitions(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "session"})
	ctx := context.Background()

	if err := es.AppendSession(ctx, "run-1", "loqa-medic", "test"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	j := es.Journal("run-1")
	if err := j.Record(ctx, 1, "trace-a", "turn.started", map[string]any{"source": "text", "cleared": 0}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := j.Record(ctx, 2, "trace-b", "turn.started", map[string]any{"source": "voice", "cleared": 2}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := j.Record(ctx, 1, "trace-a", "turn.superseded", map[string]any{"sentences": 1}); err != nil {
		t.Fatalf("record: %v", err)
	}

	events, err := es.ListSessionEvents(ctx, "run-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[1].Epoch != 2 || events[1].TraceID != "trace-b" || events[1].Type != "turn.started" {
		t.Fatalf("unexpected event %+v", events[1])
	}
	var detail map[string]any
	if err := json.Unmarshal(events[1].Payload, &detail); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if detail["source"] != "voice" {
		t.Fatalf("unexpected detail %v", detail)
	}

	counts, err := es.CountByType(ctx, "run-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts["turn.started"] != 2 || counts["turn.superseded"] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1})
	ctx := context.Background()

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(ctx, "old-run", "loqa-medic", "test"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.Journal("old-run").Record(ctx, 1, "trace", "turn.completed", nil); err != nil {
		t.Fatalf("record: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(ctx, "new-run", "loqa-medic", "test"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListSessionEvents(ctx, "old-run", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old run pruned")
	}
}
