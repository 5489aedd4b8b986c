// Package recorder persists a bounded number of session and report events to
// SQLite for offline analysis without slowing the stream goroutine.
package recorder

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Event is one row in session_events.
type Event struct {
	Kind    string
	Addr    string
	Detail  string
	Bytes   int
	Digest  uint64
	At      time.Time
	ErrKind string
}

// Recorder persists a limited number of events per kind into SQLite.
type Recorder struct {
	db            *sql.DB
	perKindLimit  int
	mu            sync.Mutex
	perKindCounts map[string]int
	pending       sync.WaitGroup
}

// NewRecorder opens (or creates) the SQLite database at path and ensures schema
// exists. A corrupt existing file is quarantined first.
func NewRecorder(path string, perKindLimit int) (*Recorder, error) {
	if perKindLimit <= 0 {
		return nil, errors.New("recorder: per-kind limit must be > 0")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("recorder: ensure dir: %w", err)
	}
	if _, err := preflight(path, preflightTimeout); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("recorder: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Recorder{
		db:            db,
		perKindLimit:  perKindLimit,
		perKindCounts: make(map[string]int),
	}, nil
}

func initSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS session_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL,
    addr TEXT,
    err_kind TEXT,
    detail TEXT,
    bytes INTEGER,
    digest TEXT,
    observed_at INTEGER
);
CREATE TABLE IF NOT EXISTS report_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    report_key TEXT NOT NULL,
    action TEXT NOT NULL,
    visible INTEGER,
    observed_at INTEGER
);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("recorder: init schema: %w", err)
	}
	return nil
}

// Close waits for queued inserts and closes the underlying database.
func (r *Recorder) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	r.pending.Wait()
	return r.db.Close()
}

// allow reserves one slot for kind, reporting false once the limit is reached.
func (r *Recorder) allow(kind string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := r.perKindCounts[kind]
	if count >= r.perKindLimit {
		return false
	}
	r.perKindCounts[kind] = count + 1
	return true
}

// Record inserts the session event if the per-kind limit has not been reached.
func (r *Recorder) Record(ev Event) {
	if r == nil || r.db == nil {
		return
	}
	kind := strings.ToLower(strings.TrimSpace(ev.Kind))
	if kind == "" {
		kind = "unknown"
	}
	if !r.allow(kind) {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	ev.Kind = kind
	r.pending.Add(1)
	go r.insertSession(ev)
}

// RecordReport logs a registry change (discovered, shown, hidden).
func (r *Recorder) RecordReport(key, action string, visible bool) {
	if r == nil || r.db == nil {
		return
	}
	if !r.allow("report:" + action) {
		return
	}
	at := time.Now()
	r.pending.Add(1)
	go r.insertReport(key, action, visible, at)
}

func (r *Recorder) insertSession(ev Event) {
	defer r.pending.Done()
	digest := ""
	if ev.Digest != 0 {
		digest = fmt.Sprintf("%016x", ev.Digest)
	}
	_, err := r.db.Exec(`
INSERT INTO session_events (kind, addr, err_kind, detail, bytes, digest, observed_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.Kind,
		ev.Addr,
		ev.ErrKind,
		truncate(ev.Detail, 512),
		ev.Bytes,
		digest,
		ev.At.UTC().UnixMilli(),
	)
	if err != nil {
		log.Printf("Recorder: failed to insert session event: %v", err)
	}
}

func (r *Recorder) insertReport(key, action string, visible bool, at time.Time) {
	defer r.pending.Done()
	_, err := r.db.Exec(`
INSERT INTO report_events (report_key, action, visible, observed_at)
VALUES (?, ?, ?, ?)`,
		key,
		action,
		boolToInt(visible),
		at.UTC().UnixMilli(),
	)
	if err != nil {
		log.Printf("Recorder: failed to insert report event: %v", err)
	}
}

// Flush blocks until every queued insert has completed.
func (r *Recorder) Flush() {
	if r == nil {
		return
	}
	r.pending.Wait()
}

// CountSessionEvents returns stored session events of kind ("" for all).
func (r *Recorder) CountSessionEvents(kind string) (int, error) {
	var n int
	var err error
	if kind == "" {
		err = r.db.QueryRow(`SELECT COUNT(*) FROM session_events`).Scan(&n)
	} else {
		err = r.db.QueryRow(`SELECT COUNT(*) FROM session_events WHERE kind = ?`, kind).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("recorder: count: %w", err)
	}
	return n, nil
}

// CountReportEvents returns stored report events for key.
func (r *Recorder) CountReportEvents(key string) (int, error) {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM report_events WHERE report_key = ?`, key).Scan(&n); err != nil {
		return 0, fmt.Errorf("recorder: count: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
