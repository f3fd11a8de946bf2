package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.HistoryConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "history.db")
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func event(name, traceID string, data map[string]any) protocol.Event {
	if data == nil {
		data = map[string]any{}
	}
	if traceID != "" {
		data["trace_id"] = traceID
	}
	return protocol.NewEvent(name, data, time.Now())
}

func TestOpenEphemeral(t *testing.T) {
	es, err := Open(context.Background(), config.HistoryConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.ObserveEvent(context.Background(), event(protocol.EventMetrics, "abc", nil)); err != nil {
		t.Fatalf("observe on ephemeral store: %v", err)
	}
	cycles, err := es.RecentCycles(context.Background(), 10)
	if err != nil || len(cycles) != 0 {
		t.Fatalf("expected no cycles, got %v (%v)", cycles, err)
	}
}

func TestSessionModeStartsEmpty(t *testing.T) {
	ctx := context.Background()
	cfg := config.HistoryConfig{RetentionMode: "session", Path: filepath.Join(t.TempDir(), "history.db")}

	first, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	if err := first.ObserveEvent(ctx, event(protocol.EventStatusChanged, "s1", map[string]any{"status": "listening"})); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := openStore(t, cfg)
	cycles, err := second.RecentCycles(ctx, 10)
	if err != nil {
		t.Fatalf("recent cycles: %v", err)
	}
	if len(cycles) != 0 {
		t.Fatalf("session history must not survive a restart, got %+v", cycles)
	}
	events, _ := second.ListCycleEvents(ctx, "s1", 10)
	if len(events) != 0 {
		t.Fatalf("expected events cleared, got %d", len(events))
	}
}

func TestPersistentModeKeepsHistory(t *testing.T) {
	ctx := context.Background()
	cfg := config.HistoryConfig{RetentionMode: "persistent", Path: filepath.Join(t.TempDir(), "history.db")}

	first, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	if err := first.ObserveEvent(ctx, event(protocol.EventStatusChanged, "p1", map[string]any{"status": "listening"})); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := openStore(t, cfg)
	cycles, err := second.RecentCycles(ctx, 10)
	if err != nil {
		t.Fatalf("recent cycles: %v", err)
	}
	if len(cycles) != 1 || cycles[0].TraceID != "p1" {
		t.Fatalf("expected persisted cycle, got %+v", cycles)
	}
	events, _ := second.ListCycleEvents(ctx, "p1", 10)
	if len(events) != 1 || !strings.Contains(string(events[0].Payload), `"status":"listening"`) {
		t.Fatalf("expected stored payload, got %+v", events)
	}
}

func TestObserveBuildsCycleSummary(t *testing.T) {
	es := openStore(t, config.HistoryConfig{RetentionMode: "session"})
	ctx := context.Background()

	events := []protocol.Event{
		event(protocol.EventStatusChanged, "c1", map[string]any{"status": protocol.StatusListening}),
		event(protocol.EventStatusChanged, "c1", map[string]any{"status": protocol.StatusTranscribing}),
		event(protocol.EventTranscriptReady, "c1", map[string]any{
			"text": "merhaba dünya", "confidence": 0.82, "accepted": true, "pasted": true,
		}),
		event(protocol.EventMetrics, "c1", map[string]any{
			"model": "small", "device": "cpu", "latency_sec": 0.9, "duration_audio_sec": 2.5,
		}),
		event(protocol.EventStatusChanged, "c1", map[string]any{"status": protocol.StatusReady}),
	}
	for _, ev := range events {
		if err := es.ObserveEvent(ctx, ev); err != nil {
			t.Fatalf("observe %s: %v", ev.Event, err)
		}
	}

	stored, err := es.ListCycleEvents(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(stored) != len(events) {
		t.Fatalf("expected %d events, got %d", len(events), len(stored))
	}
	if stored[2].Type != protocol.EventTranscriptReady {
		t.Fatalf("events out of order: %+v", stored)
	}

	cycles, err := es.RecentCycles(ctx, 10)
	if err != nil {
		t.Fatalf("recent cycles: %v", err)
	}
	if len(cycles) != 1 {
		t.Fatalf("expected 1 cycle, got %d", len(cycles))
	}
	c := cycles[0]
	if c.Text != "merhaba dünya" || !c.Accepted || !c.Pasted || c.Confidence != 0.82 {
		t.Fatalf("unexpected transcript summary: %+v", c)
	}
	if c.Model != "small" || c.Device != "cpu" || c.DurationAudioSec != 2.5 {
		t.Fatalf("unexpected metrics summary: %+v", c)
	}
	if c.LastStatus != protocol.StatusReady {
		t.Fatalf("expected last status ready, got %q", c.LastStatus)
	}
}

func TestObserveIgnoresEventsWithoutTrace(t *testing.T) {
	es := openStore(t, config.HistoryConfig{RetentionMode: "session"})
	ctx := context.Background()

	if err := es.ObserveEvent(ctx, event(protocol.EventStatusChanged, "", map[string]any{"status": "ready"})); err != nil {
		t.Fatalf("observe: %v", err)
	}
	cycles, err := es.RecentCycles(ctx, 10)
	if err != nil {
		t.Fatalf("recent cycles: %v", err)
	}
	if len(cycles) != 0 {
		t.Fatalf("expected untraced event to be skipped, got %+v", cycles)
	}
}

func TestRuntimeErrorRecorded(t *testing.T) {
	es := openStore(t, config.HistoryConfig{RetentionMode: "session"})
	ctx := context.Background()

	if err := es.ObserveEvent(ctx, event(protocol.EventRuntimeError, "c9", map[string]any{"message": "mic gone"})); err != nil {
		t.Fatalf("observe: %v", err)
	}
	cycles, _ := es.RecentCycles(ctx, 1)
	if len(cycles) != 1 || cycles[0].Error != "mic gone" {
		t.Fatalf("expected error recorded, got %+v", cycles)
	}
}

func TestPruneByDaysAndCycles(t *testing.T) {
	es := openStore(t, config.HistoryConfig{RetentionMode: "persistent", RetentionDays: 1, MaxCycles: 1})
	ctx := context.Background()

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.ObserveEvent(ctx, event(protocol.EventStatusChanged, "old", map[string]any{"status": "listening"})); err != nil {
		t.Fatalf("observe old: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.ObserveEvent(ctx, event(protocol.EventStatusChanged, "new", map[string]any{"status": "listening"})); err != nil {
		t.Fatalf("observe new: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListCycleEvents(ctx, "old", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old cycle pruned")
	}
	cycles, _ := es.RecentCycles(ctx, 10)
	if len(cycles) != 1 || cycles[0].TraceID != "new" {
		t.Fatalf("expected only the new cycle, got %+v", cycles)
	}
}

func TestPruneKeepsNewestCycles(t *testing.T) {
	es := openStore(t, config.HistoryConfig{RetentionMode: "persistent", MaxCycles: 2})
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		at := base.Add(time.Duration(i) * time.Minute)
		es.clock = func() time.Time { return at }
		if err := es.ObserveEvent(ctx, event(protocol.EventStatusChanged, id, map[string]any{"status": "listening"})); err != nil {
			t.Fatalf("observe %s: %v", id, err)
		}
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}
	cycles, _ := es.RecentCycles(ctx, 10)
	if len(cycles) != 2 || cycles[0].TraceID != "c" || cycles[1].TraceID != "b" {
		t.Fatalf("unexpected cycles after prune: %+v", cycles)
	}
	events, _ := es.ListCycleEvents(ctx, "a", 10)
	if len(events) != 0 {
		t.Fatalf("expected events of pruned cycle removed, got %d", len(events))
	}
}
