package recorder

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRecorderEnforcesPerKindLimit(t *testing.T) {
	rec, err := NewRecorder(filepath.Join(t.TempDir(), "sub", "events.db"), 2)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	defer rec.Close()

	for i := 0; i < 5; i++ {
		rec.Record(Event{Kind: "Frame", Addr: "127.0.0.1:1180", Bytes: 100, Digest: uint64(i + 1)})
	}
	rec.Record(Event{Kind: "failed", ErrKind: "connect", Detail: "refused"})
	rec.Flush()

	if n, err := rec.CountSessionEvents("frame"); err != nil || n != 2 {
		t.Fatalf("expected 2 frame events, got %d (%v)", n, err)
	}
	if n, err := rec.CountSessionEvents(""); err != nil || n != 3 {
		t.Fatalf("expected 3 events total, got %d (%v)", n, err)
	}
}

func TestRecorderReportEvents(t *testing.T) {
	rec, err := NewRecorder(filepath.Join(t.TempDir(), "events.db"), 10)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	defer rec.Close()

	rec.RecordReport("blobs", "discovered", true)
	rec.RecordReport("blobs", "hidden", false)
	rec.RecordReport("lines", "discovered", true)
	rec.Flush()

	if n, err := rec.CountReportEvents("blobs"); err != nil || n != 2 {
		t.Fatalf("expected 2 blobs events, got %d (%v)", n, err)
	}
}

func TestRecorderRejectsBadLimit(t *testing.T) {
	if _, err := NewRecorder(filepath.Join(t.TempDir(), "x.db"), 0); err == nil {
		t.Fatalf("expected error for zero limit")
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var rec *Recorder
	rec.Record(Event{Kind: "frame"})
	rec.RecordReport("a", "discovered", true)
	rec.Flush()
	if err := rec.Close(); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
}

func TestRecorderReopensHealthyDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	rec, err := NewRecorder(path, 10)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	rec.Record(Event{Kind: "connected", Addr: "cam:1180"})
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rec, err = NewRecorder(path, 10)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer rec.Close()
	if extra, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*.preflight")); len(extra) != 0 {
		t.Fatalf("healthy reopen left saved copies: %v", extra)
	}
	if bad, _ := filepath.Glob(path + ".bad-*"); len(bad) != 0 {
		t.Fatalf("healthy database was quarantined: %v", bad)
	}
	if n, err := rec.CountSessionEvents("connected"); err != nil || n != 1 {
		t.Fatalf("expected existing row to survive reopen, got %d (%v)", n, err)
	}
}

func TestRecorderQuarantinesCorruptDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.db")
	if err := os.WriteFile(path, []byte("not a sqlite database"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	if err := os.WriteFile(path+"-wal", []byte("sidecar"), 0o644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}

	rec, err := NewRecorder(path, 10)
	if err != nil {
		t.Fatalf("expected recorder on fresh file, got %v", err)
	}
	defer rec.Close()

	bad, _ := filepath.Glob(filepath.Join(dir, "events.db.bad-*"))
	if len(bad) != 1 {
		t.Fatalf("expected quarantined main file, got %v", bad)
	}
	sidecars, _ := filepath.Glob(filepath.Join(dir, "events.db-wal.bad-*"))
	if len(sidecars) != 1 {
		t.Fatalf("expected quarantined wal sidecar, got %v", sidecars)
	}
	if data, err := os.ReadFile(sidecars[0]); err != nil || string(data) != "sidecar" {
		t.Fatalf("quarantined wal should keep its original bytes, got %q (%v)", data, err)
	}
	if leftovers, _ := filepath.Glob(filepath.Join(dir, "*.preflight")); len(leftovers) != 0 {
		t.Fatalf("saved sidecar copies left behind: %v", leftovers)
	}
	rec.Record(Event{Kind: "frame"})
	rec.Flush()
	if n, err := rec.CountSessionEvents("frame"); err != nil || n != 1 {
		t.Fatalf("expected insert into fresh database, got %d (%v)", n, err)
	}
}

func TestQuarantineKeepsSidecarsAsTheyWereBeforeTheCheck(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.db")
	for name, body := range map[string]string{
		"events.db":     "main",
		"events.db-wal": "before",
		"events.db-shm": "shm",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	saved := saveSidecars(path)
	if len(saved) != 2 {
		t.Fatalf("expected wal and shm to be saved, got %v", saved)
	}
	// SQLite may checkpoint the WAL when the check connection closes.
	if err := os.WriteFile(path+"-wal", []byte("after"), 0o644); err != nil {
		t.Fatalf("rewrite wal: %v", err)
	}

	at := time.Date(2026, time.October, 18, 9, 30, 0, 0, time.UTC)
	dest, err := quarantine(path, saved, at)
	if err != nil {
		t.Fatalf("quarantine: %v", err)
	}
	discardSaved(saved)
	if dest != path+".bad-20261018T093000Z" {
		t.Fatalf("unexpected destination %s", dest)
	}
	if data, err := os.ReadFile(path + "-wal.bad-20261018T093000Z"); err != nil || string(data) != "before" {
		t.Fatalf("expected the pre-check wal in quarantine, got %q (%v)", data, err)
	}
	if data, err := os.ReadFile(path + "-shm.bad-20261018T093000Z"); err != nil || string(data) != "shm" {
		t.Fatalf("expected shm in quarantine, got %q (%v)", data, err)
	}
	for _, gone := range []string{path, path + "-wal", path + "-shm", path + "-wal.preflight", path + "-shm.preflight"} {
		if _, err := os.Stat(gone); !os.IsNotExist(err) {
			t.Fatalf("%s should be gone, stat err %v", gone, err)
		}
	}
}
