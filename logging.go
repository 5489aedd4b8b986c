package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gripview/config"
	"gripview/internal/ratelimit"
)

const (
	logTimestampLayout = "2006/01/02 15:04:05"
	logFileDateLayout  = "2006-01-02"
	logFilePrefix      = "gripview-"
	logFileExt         = ".log"
	maxPendingLogBytes = 16 * 1024
	defaultLogKeepDays = 7
)

// logSink receives complete log lines without their trailing newline.
type logSink interface {
	WriteLine(line string, at time.Time)
	Close() error
}

// writerSink prints lines to the terminal or the dashboard log pane. The
// pane stamps its own time, so the prefix is optional.
type writerSink struct {
	w     io.Writer
	stamp bool
}

func (s writerSink) WriteLine(line string, at time.Time) {
	if s.w == nil {
		return
	}
	if s.stamp {
		line = stampLine(at, line)
	}
	_, _ = io.WriteString(s.w, line+"\n")
}

func (writerSink) Close() error { return nil }

func stampLine(at time.Time, line string) string {
	return at.UTC().Format(logTimestampLayout) + " " + line
}

// logRotation describes the day file that was just closed.
type logRotation struct {
	Day    time.Time
	Closed string
	Opened string
}

// dayFile appends lines to gripview-YYYY-MM-DD.log in UTC, opening a new
// file when the date changes and pruning files past the keep window.
type dayFile struct {
	dir      string
	keepDays int
	errs     *ratelimit.Counter

	mu       sync.Mutex
	day      string
	path     string
	f        *os.File
	closed   bool
	onRotate func(logRotation)
	hooks    sync.WaitGroup
}

// Purpose: Prepare the log directory and prune old files.
// Key aspects: Nothing is opened until the first line arrives.
// Upstream: setupLogging.
// Downstream: cleanupOldLogs.
func newDayFile(dir string, keepDays int) (*dayFile, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("logging: directory is empty")
	}
	if keepDays <= 0 {
		keepDays = defaultLogKeepDays
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: create %s: %w", dir, err)
	}
	d := &dayFile{dir: dir, keepDays: keepDays, errs: ratelimit.NewCounter(time.Minute)}
	if err := cleanupOldLogs(dir, time.Now(), keepDays); err != nil {
		d.complain(fmt.Errorf("prune %s: %w", dir, err))
	}
	return d, nil
}

func (d *dayFile) SetRotateHook(hook func(logRotation)) {
	d.mu.Lock()
	d.onRotate = hook
	d.mu.Unlock()
}

// Purpose: Append one stamped line to today's file.
// Key aspects: The rotate hook runs on its own goroutine. The line that
// triggered rotation usually arrives through log.Logger, which holds its
// output lock until this returns, so a hook calling log.Printf inline
// would deadlock.
// Upstream: logFanout.Write, logFanout.WriteFileOnlyLine.
// Downstream: dayFile.openLocked, rotate hook.
func (d *dayFile) WriteLine(line string, at time.Time) {
	at = at.UTC()
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	rot, rotated := d.openLocked(at)
	if d.f != nil {
		if _, err := d.f.WriteString(stampLine(at, line) + "\n"); err != nil {
			d.complain(fmt.Errorf("write %s: %w", d.path, err))
		}
	}
	hook := d.onRotate
	if rotated && hook != nil {
		d.hooks.Add(1)
	}
	d.mu.Unlock()

	if rotated && hook != nil {
		go func() {
			defer d.hooks.Done()
			hook(rot)
		}()
	}
}

// openLocked makes sure the file for at's date is open. It reports a
// rotation only when a file for an earlier date was open.
func (d *dayFile) openLocked(at time.Time) (logRotation, bool) {
	day := at.Format(logFileDateLayout)
	if d.f != nil && d.day == day {
		return logRotation{}, false
	}
	var rot logRotation
	rotated := false
	if d.day != "" && d.day != day {
		if prev, err := time.ParseInLocation(logFileDateLayout, d.day, time.UTC); err == nil {
			rot = logRotation{Day: prev, Closed: d.path}
			rotated = true
		}
	}
	if d.f != nil {
		_ = d.f.Close()
		d.f = nil
	}

	path := filepath.Join(d.dir, logFileNameForDate(at))
	f, err := openAppend(path)
	if err != nil {
		d.complain(err)
		return logRotation{}, false
	}
	d.f, d.day, d.path = f, day, path
	rot.Opened = path
	if err := cleanupOldLogs(d.dir, at, d.keepDays); err != nil {
		d.complain(fmt.Errorf("prune %s: %w", d.dir, err))
	}
	return rot, rotated
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

// complain reports file trouble on stderr, since the log itself may be the
// thing that is broken.
func (d *dayFile) complain(err error) {
	skipped, ok := d.errs.Inc()
	if !ok {
		return
	}
	if skipped > 0 {
		fmt.Fprintf(os.Stderr, "Logging: %v (%d similar errors suppressed)\n", err, skipped)
		return
	}
	fmt.Fprintf(os.Stderr, "Logging: %v\n", err)
}

// Close waits for running rotate hooks, then closes the file. Later lines
// are dropped.
func (d *dayFile) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.hooks.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f, d.day, d.path = nil, "", ""
	return err
}

// logFanout is the log.Logger output. It reassembles lines from partial
// writes and copies each one to the console sink and the file sink.
type logFanout struct {
	mu      sync.Mutex
	pending []byte
	console logSink
	file    logSink
}

// Purpose: Build the process log output from config.
// Key aspects: The console sink is always present; a file logging failure
// is returned alongside a usable fanout so startup can continue.
// Upstream: main.
// Downstream: newDayFile.
func setupLogging(cfg config.LoggingConfig, console io.Writer) (*logFanout, error) {
	f := &logFanout{console: writerSink{w: console, stamp: true}}
	if !cfg.Enabled {
		return f, nil
	}
	file, err := newDayFile(cfg.Dir, cfg.RetentionDays)
	if err != nil {
		return f, err
	}
	f.file = file
	return f, nil
}

// SetConsoleSink redirects console output, e.g. into the dashboard. A nil
// writer silences the console.
func (f *logFanout) SetConsoleSink(w io.Writer, stamp bool) {
	var sink logSink
	if w != nil {
		sink = writerSink{w: w, stamp: stamp}
	}
	f.mu.Lock()
	f.console = sink
	f.mu.Unlock()
}

// SetRotateHook installs hook on the file sink; it is a no-op without
// file logging.
func (f *logFanout) SetRotateHook(hook func(logRotation)) {
	f.mu.Lock()
	file := f.file
	f.mu.Unlock()
	if d, ok := file.(*dayFile); ok {
		d.SetRotateHook(hook)
	}
}

func (f *logFanout) Write(p []byte) (int, error) {
	f.mu.Lock()
	f.pending = append(f.pending, p...)
	var lines []string
	lines, f.pending = splitLogLines(f.pending, maxPendingLogBytes)
	console, file := f.console, f.file
	f.mu.Unlock()

	if len(lines) == 0 {
		return len(p), nil
	}
	at := time.Now().UTC()
	for _, line := range lines {
		if console != nil {
			console.WriteLine(line, at)
		}
		if file != nil {
			file.WriteLine(line, at)
		}
	}
	return len(p), nil
}

// splitLogLines cuts complete lines off buf. A remainder longer than limit
// is flushed as a line of its own so a writer that never sends a newline
// cannot grow the buffer without bound.
func splitLogLines(buf []byte, limit int) (lines []string, rest []byte) {
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimSuffix(buf[:i], []byte("\r"))))
		buf = buf[i+1:]
	}
	if len(buf) > limit {
		if line := string(bytes.TrimSuffix(buf, []byte("\r"))); line != "" {
			lines = append(lines, line)
		}
		buf = nil
	}
	return lines, buf
}

// WriteFileOnlyLine records a line in the log file without echoing it to
// the console, for stats that the dashboard already shows.
func (f *logFanout) WriteFileOnlyLine(line string, at time.Time) {
	f.mu.Lock()
	file := f.file
	f.mu.Unlock()
	if file != nil {
		file.WriteLine(line, at)
	}
}

func (f *logFanout) Close() error {
	f.mu.Lock()
	file := f.file
	f.mu.Unlock()
	if file == nil {
		return nil
	}
	return file.Close()
}

func logFileNameForDate(at time.Time) string {
	return logFilePrefix + at.UTC().Format(logFileDateLayout) + logFileExt
}

func parseLogFileDate(name string) (time.Time, bool) {
	stem, ok := strings.CutPrefix(name, logFilePrefix)
	if !ok {
		return time.Time{}, false
	}
	stem, ok = strings.CutSuffix(stem, logFileExt)
	if !ok {
		return time.Time{}, false
	}
	day, err := time.ParseInLocation(logFileDateLayout, stem, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// cleanupOldLogs removes gripview day files older than keepDays, counting
// today as the first day. Other files in dir are left alone.
func cleanupOldLogs(dir string, now time.Time, keepDays int) error {
	if keepDays <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	y, m, d := now.UTC().Date()
	cutoff := time.Date(y, m, d-(keepDays-1), 0, 0, 0, 0, time.UTC)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if day, ok := parseLogFileDate(e.Name()); ok && day.Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, e.Name()))
		}
	}
	return nil
}
