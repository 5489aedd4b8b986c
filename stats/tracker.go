// Package stats tracks stream session counters and frame throughput for the
// dashboard status pane and periodic headless output.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Tracker tracks frame and session statistics.
type Tracker struct {
	// counters live in sync.Map + atomic.Uint64 so the stream goroutine and
	// feed callbacks never contend on a mutex
	failures      sync.Map // error kind -> *atomic.Uint64
	reportUpdates sync.Map // report key -> *atomic.Uint64
	start         atomic.Int64
	frames        atomic.Uint64
	bytes         atomic.Uint64
	duplicates    atomic.Uint64
	sessions      atomic.Uint64
	cancellations atomic.Uint64
	bufferGrows   atomic.Uint64
	bufferCap     atomic.Int64
	lastDigest    atomic.Uint64
	lastFrame     atomic.Int64

	rateMu     sync.Mutex
	rateAt     time.Time
	rateFrames uint64
}

// NewTracker creates a new stats tracker
func NewTracker() *Tracker {
	t := &Tracker{}
	now := time.Now()
	t.start.Store(now.UnixNano())
	t.rateAt = now
	return t
}

// Purpose: Count one decoded frame.
// Key aspects: A payload whose digest equals the previous frame's is counted
// as a duplicate (the server re-sent an unchanged image).
// Upstream: main stream event fan-out.
// Downstream: atomic counters.
func (t *Tracker) ObserveFrame(size int, digest uint64) (duplicate bool) {
	t.frames.Add(1)
	if size > 0 {
		t.bytes.Add(uint64(size))
	}
	t.lastFrame.Store(time.Now().UnixNano())
	if prev := t.lastDigest.Swap(digest); prev == digest && t.frames.Load() > 1 {
		t.duplicates.Add(1)
		return true
	}
	return false
}

// IncrementSessions counts a successful connect.
func (t *Tracker) IncrementSessions() {
	t.sessions.Add(1)
}

// IncrementFailure counts a failed capture cycle by error kind.
func (t *Tracker) IncrementFailure(kind string) {
	incrementCounter(&t.failures, kind)
}

// IncrementCancellations counts cycles interrupted by reconfiguration.
func (t *Tracker) IncrementCancellations() {
	t.cancellations.Add(1)
}

// ObserveBufferGrow records a receive-buffer reallocation.
func (t *Tracker) ObserveBufferGrow(newCap int) {
	t.bufferGrows.Add(1)
	t.bufferCap.Store(int64(newCap))
}

// IncrementReportUpdate counts a field update for a report.
func (t *Tracker) IncrementReportUpdate(key string) {
	incrementCounter(&t.reportUpdates, key)
}

// Frames returns the number of decoded frames.
func (t *Tracker) Frames() uint64 { return t.frames.Load() }

// Bytes returns the total encoded payload bytes received.
func (t *Tracker) Bytes() uint64 { return t.bytes.Load() }

// Duplicates returns the number of frames identical to their predecessor.
func (t *Tracker) Duplicates() uint64 { return t.duplicates.Load() }

// Sessions returns the number of successful connects.
func (t *Tracker) Sessions() uint64 { return t.sessions.Load() }

// Cancellations returns the number of interrupted cycles.
func (t *Tracker) Cancellations() uint64 { return t.cancellations.Load() }

// BufferGrows returns the number of buffer reallocations.
func (t *Tracker) BufferGrows() uint64 { return t.bufferGrows.Load() }

// GetFailureCounts returns a copy of failure counts by kind.
func (t *Tracker) GetFailureCounts() map[string]uint64 {
	return copyCounts(&t.failures)
}

// GetReportUpdateCounts returns a copy of update counts by report key.
func (t *Tracker) GetReportUpdateCounts() map[string]uint64 {
	return copyCounts(&t.reportUpdates)
}

// GetUptime returns how long the tracker has been running
func (t *Tracker) GetUptime() time.Duration {
	start := t.start.Load()
	return time.Since(time.Unix(0, start))
}

// FrameRate returns frames per second since the previous call.
func (t *Tracker) FrameRate() float64 {
	now := time.Now()
	frames := t.frames.Load()
	t.rateMu.Lock()
	defer t.rateMu.Unlock()
	elapsed := now.Sub(t.rateAt).Seconds()
	delta := frames - t.rateFrames
	t.rateAt = now
	t.rateFrames = frames
	if elapsed <= 0 {
		return 0
	}
	return float64(delta) / elapsed
}

// Reset resets all counters
func (t *Tracker) Reset() {
	clearCounts(&t.failures)
	clearCounts(&t.reportUpdates)
	t.frames.Store(0)
	t.bytes.Store(0)
	t.duplicates.Store(0)
	t.sessions.Store(0)
	t.cancellations.Store(0)
	t.bufferGrows.Store(0)
	t.lastDigest.Store(0)
	t.lastFrame.Store(0)
	now := time.Now()
	t.start.Store(now.UnixNano())
	t.rateMu.Lock()
	t.rateAt = now
	t.rateFrames = 0
	t.rateMu.Unlock()
}

// SnapshotLines returns human-readable stats ready for console display.
func (t *Tracker) SnapshotLines() []string {
	last := "never"
	if ns := t.lastFrame.Load(); ns > 0 {
		last = humanize.Time(time.Unix(0, ns))
	}
	lines := make([]string, 0, 4)
	lines = append(lines, fmt.Sprintf("Frames: %s (%s, %.1f fps, %s dup), last %s",
		humanize.Comma(int64(t.frames.Load())),
		humanize.IBytes(t.bytes.Load()),
		t.FrameRate(),
		humanize.Comma(int64(t.duplicates.Load())),
		last))
	lines = append(lines, fmt.Sprintf("Sessions: %d connects, %d cancelled, buffer %s after %d grows, up %s",
		t.sessions.Load(),
		t.cancellations.Load(),
		humanize.IBytes(uint64(t.bufferCap.Load())),
		t.bufferGrows.Load(),
		t.GetUptime().Truncate(time.Second)))
	lines = append(lines, formatMapCounts("Failures", &t.failures))
	lines = append(lines, formatMapCounts("Report updates", &t.reportUpdates))
	return lines
}

func copyCounts(m *sync.Map) map[string]uint64 {
	counts := make(map[string]uint64)
	m.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return counts
}

func clearCounts(m *sync.Map) {
	m.Range(func(key, _ any) bool {
		m.Delete(key)
		return true
	})
}

func formatMapCounts(label string, counts *sync.Map) string {
	snapshot := copyCounts(counts)
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var builder strings.Builder
	builder.WriteString(label)
	builder.WriteString(": ")
	if len(keys) == 0 {
		builder.WriteString("(none)")
		return builder.String()
	}
	for i, k := range keys {
		if i > 0 {
			builder.WriteString(", ")
		}
		fmt.Fprintf(&builder, "%s=%s", k, humanize.Comma(int64(snapshot[k])))
	}
	return builder.String()
}

func incrementCounter(m *sync.Map, key string) {
	if strings.TrimSpace(key) == "" {
		return
	}
	if value, ok := m.Load(key); ok {
		value.(*atomic.Uint64).Add(1)
		return
	}
	counter := &atomic.Uint64{}
	actual, loaded := m.LoadOrStore(key, counter)
	if loaded {
		actual.(*atomic.Uint64).Add(1)
		return
	}
	counter.Add(1)
}
