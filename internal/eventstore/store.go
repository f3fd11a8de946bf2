package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
)

// Event is one control event recorded against a capture cycle.
type Event struct {
	ID        int64           `json:"id"`
	TraceID   string          `json:"trace_id"`
	Type      string          `json:"event"`
	Payload   json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// Cycle summarizes one capture cycle.
type Cycle struct {
	TraceID          string    `json:"trace_id"`
	StartedAt        time.Time `json:"started_at"`
	LastStatus       string    `json:"last_status"`
	Text             string    `json:"text"`
	Confidence       float64   `json:"confidence"`
	Accepted         bool      `json:"accepted"`
	Pasted           bool      `json:"pasted"`
	Model            string    `json:"model,omitempty"`
	Device           string    `json:"device,omitempty"`
	LatencySec       float64   `json:"latency_sec"`
	DurationAudioSec float64   `json:"duration_audio_sec"`
	Error            string    `json:"error,omitempty"`
}

// Store keeps a SQLite history of capture cycles. In ephemeral mode every
// operation is a no-op. In session mode the database is cleared on open, so
// history lives only as long as one run.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time
}

func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "history"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	if cfg.RetentionMode == "session" {
		if err := s.clear(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("clear session history: %w", err)
		}
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("history vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("history prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS cycles (
    trace_id TEXT PRIMARY KEY,
    started_at INTEGER NOT NULL,
    last_status TEXT NOT NULL DEFAULT '',
    text TEXT NOT NULL DEFAULT '',
    confidence REAL NOT NULL DEFAULT 0,
    accepted INTEGER NOT NULL DEFAULT 0,
    pasted INTEGER NOT NULL DEFAULT 0,
    model TEXT NOT NULL DEFAULT '',
    device TEXT NOT NULL DEFAULT '',
    latency_sec REAL NOT NULL DEFAULT 0,
    duration_audio_sec REAL NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    trace_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    payload BLOB,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(trace_id) REFERENCES cycles(trace_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_trace_created ON events(trace_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM events; DELETE FROM cycles;`)
	return err
}

func (s *Store) enabled() bool {
	return s.cfg.RetentionMode != "ephemeral" && s.db != nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ObserveEvent records a control event. Events without a trace id belong to
// no cycle and are ignored.
func (s *Store) ObserveEvent(ctx context.Context, ev protocol.Event) error {
	traceID := ev.TraceID()
	if !s.enabled() || traceID == "" {
		return nil
	}
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}
	now := s.clock().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cycles(trace_id, started_at) VALUES(?, ?) ON CONFLICT(trace_id) DO NOTHING`,
		traceID, now.UnixMilli()); err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events(trace_id, event_type, payload, created_at) VALUES(?, ?, ?, ?)`,
		traceID, ev.Event, payload, now.UnixMilli()); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if err := summarize(ctx, tx, traceID, ev); err != nil {
		return fmt.Errorf("update cycle: %w", err)
	}
	return tx.Commit()
}

func summarize(ctx context.Context, tx *sql.Tx, traceID string, ev protocol.Event) error {
	var err error
	switch ev.Event {
	case protocol.EventStatusChanged:
		_, err = tx.ExecContext(ctx, `UPDATE cycles SET last_status = ? WHERE trace_id = ?`,
			stringField(ev.Data, "status"), traceID)
	case protocol.EventTranscriptReady:
		_, err = tx.ExecContext(ctx,
			`UPDATE cycles SET text = ?, confidence = ?, accepted = ?, pasted = ? WHERE trace_id = ?`,
			stringField(ev.Data, "text"), floatField(ev.Data, "confidence"),
			boolField(ev.Data, "accepted"), boolField(ev.Data, "pasted"), traceID)
	case protocol.EventMetrics:
		_, err = tx.ExecContext(ctx,
			`UPDATE cycles SET model = ?, device = ?, latency_sec = ?, duration_audio_sec = ? WHERE trace_id = ?`,
			stringField(ev.Data, "model"), stringField(ev.Data, "device"),
			floatField(ev.Data, "latency_sec"), floatField(ev.Data, "duration_audio_sec"), traceID)
	case protocol.EventRuntimeError:
		_, err = tx.ExecContext(ctx, `UPDATE cycles SET error = ? WHERE trace_id = ?`,
			stringField(ev.Data, "message"), traceID)
	}
	return err
}

// ListCycleEvents returns up to limit events of a cycle, oldest first.
func (s *Store) ListCycleEvents(ctx context.Context, traceID string, limit int) ([]Event, error) {
	if !s.enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trace_id, event_type, payload, created_at
		 FROM events WHERE trace_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, traceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var payload []byte
		var created int64
		if err := rows.Scan(&e.ID, &e.TraceID, &e.Type, &payload, &created); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			e.Payload = json.RawMessage(payload)
		}
		e.CreatedAt = time.UnixMilli(created).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// RecentCycles returns up to limit cycles, newest first.
func (s *Store) RecentCycles(ctx context.Context, limit int) ([]Cycle, error) {
	if !s.enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT trace_id, started_at, last_status, text, confidence, accepted, pasted,
		        model, device, latency_sec, duration_audio_sec, error
		 FROM cycles ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cycles []Cycle
	for rows.Next() {
		var c Cycle
		var started int64
		if err := rows.Scan(&c.TraceID, &started, &c.LastStatus, &c.Text, &c.Confidence, &c.Accepted, &c.Pasted,
			&c.Model, &c.Device, &c.LatencySec, &c.DurationAudioSec, &c.Error); err != nil {
			return nil, err
		}
		c.StartedAt = time.UnixMilli(started).UTC()
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

// Prune applies the configured retention. It runs on open and may be
// scheduled.
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.enabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC().UnixMilli()
		if _, err = tx.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM cycles WHERE started_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxCycles > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM cycles WHERE trace_id IN (
			SELECT trace_id FROM cycles ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxCycles)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func stringField(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}

func floatField(data map[string]any, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func boolField(data map[string]any, key string) bool {
	v, _ := data[key].(bool)
	return v
}
