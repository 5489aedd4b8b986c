package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

const preflightTimeout = 2 * time.Second

// sidecarSuffixes are the files SQLite keeps next to the main database.
var sidecarSuffixes = []string{"-wal", "-shm", "-journal"}

const savedSidecarSuffix = ".preflight"

// Purpose: Make sure an existing event database is usable before opening it.
// Key aspects: A database that fails quick_check is renamed (with sidecars)
// to <path>.bad-<timestamp> so the recorder starts on a fresh file instead of
// failing every insert. Sidecars are copied aside before SQLite touches the
// file, because closing the check connection may checkpoint or delete the
// WAL. A missing file is not an error.
// Upstream: NewRecorder.
// Downstream: saveSidecars, quickCheck, quarantine.
func preflight(path string, timeout time.Duration) (quarantined string, err error) {
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		return "", nil
	}
	if timeout <= 0 {
		timeout = preflightTimeout
	}
	saved := saveSidecars(path)
	defer discardSaved(saved)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return "", fmt.Errorf("recorder: preflight open: %w", err)
	}
	db.SetMaxOpenConns(1)
	_, _ = db.ExecContext(ctx, fmt.Sprintf("pragma busy_timeout=%d", timeout.Milliseconds()))
	checkErr := quickCheck(ctx, db)
	db.Close()
	if checkErr == nil {
		return "", nil
	}
	if ctx.Err() != nil {
		return "", fmt.Errorf("recorder: preflight timed out after %s", timeout)
	}

	dest, err := quarantine(path, saved, time.Now())
	if err != nil {
		return "", fmt.Errorf("recorder: quarantine %s: %w (quick_check: %v)", path, err, checkErr)
	}
	log.Printf("Recorder: %s failed quick_check (%v); moved to %s", path, checkErr, dest)
	return dest, nil
}

func quickCheck(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, "pragma quick_check")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return err
		}
		if strings.TrimSpace(status) != "ok" {
			return fmt.Errorf("quick_check reported %q", status)
		}
	}
	return rows.Err()
}

// saveSidecars copies each existing sidecar to <sidecar>.preflight and
// returns the copies keyed by sidecar path. A sidecar that cannot be copied
// is left out and quarantined from its original if that survives.
func saveSidecars(path string) map[string]string {
	saved := make(map[string]string)
	for _, suffix := range sidecarSuffixes {
		src := path + suffix
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dst := src + savedSidecarSuffix
		if err := copyFile(src, dst); err != nil {
			log.Printf("Recorder: could not save %s before check: %v", src, err)
			_ = os.Remove(dst)
			continue
		}
		saved[src] = dst
	}
	return saved
}

// discardSaved removes copies that quarantine did not claim.
func discardSaved(saved map[string]string) {
	for _, copyPath := range saved {
		_ = os.Remove(copyPath)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// quarantine renames path and its sidecars with a shared .bad-<ts> suffix
// and returns the new main file path. Saved copies stand in for sidecars as
// they were before the check; whatever SQLite left behind is removed so the
// fresh database does not pick it up.
func quarantine(path string, saved map[string]string, now time.Time) (string, error) {
	suffix := ".bad-" + now.UTC().Format("20060102T150405Z")
	for _, sidecar := range sidecarSuffixes {
		src := path + sidecar
		if copyPath, ok := saved[src]; ok {
			if err := os.Rename(copyPath, src+suffix); err != nil {
				return "", err
			}
			delete(saved, src)
			if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
				return "", err
			}
			continue
		}
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.Rename(src, src+suffix); err != nil {
			return "", err
		}
	}
	if err := os.Rename(path, path+suffix); err != nil {
		return "", err
	}
	return path + suffix, nil
}
