package ui

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Source tags a log pane line with the subsystem that wrote it.
type Source int

const (
	SourceSystem Source = iota
	SourceStream
	SourceFeed
	SourceReport
	SourceArchive
)

var sourceTags = [...]string{
	SourceSystem:  "SYS",
	SourceStream:  "STRM",
	SourceFeed:    "FEED",
	SourceReport:  "RPT",
	SourceArchive: "ARCH",
}

// Tag is the short column label shown in the log pane.
func (s Source) Tag() string {
	if s < 0 || int(s) >= len(sourceTags) {
		return "?"
	}
	return sourceTags[s]
}

// SourceOf reads the "Subsystem:" prefix that every gripview log line
// carries. The prefix may follow a log timestamp.
func SourceOf(line string) Source {
	for i, word := range strings.Fields(line) {
		if i == 4 {
			break
		}
		name, ok := strings.CutSuffix(word, ":")
		if !ok {
			continue
		}
		switch name {
		case "Stream":
			return SourceStream
		case "Feed":
			return SourceFeed
		case "Reports":
			return SourceReport
		case "Archive", "Recorder":
			return SourceArchive
		}
	}
	return SourceSystem
}

// PaneLine is one entry of the log pane.
type PaneLine struct {
	At     time.Time
	Source Source
	Text   string
}

// RingStats reports log pane occupancy.
type RingStats struct {
	Lines     int
	Bytes     int
	Evicted   uint64
	Truncated uint64
}

// LineRing keeps the most recent log pane lines under a line cap and a
// text byte budget. Oldest lines go first when either limit is hit.
type LineRing struct {
	mu        sync.Mutex
	slots     []PaneLine
	start     int
	n         int
	bytes     int
	maxBytes  int
	maxText   int
	seq       uint64
	evicted   uint64
	truncated uint64
}

// NewLineRing sizes a ring. maxBytes <= 0 disables the byte budget and
// maxText <= 0 keeps lines whole.
func NewLineRing(capacity, maxBytes, maxText int) *LineRing {
	return &LineRing{
		slots:    make([]PaneLine, max(capacity, 1)),
		maxBytes: max(maxBytes, 0),
		maxText:  max(maxText, 0),
	}
}

// Purpose: Add a line, shortening it and evicting older lines as needed.
// Key aspects: An overlong line is cut at a rune boundary and marked with
// an ellipsis instead of being discarded.
// Upstream: Dashboard.AppendSystem.
// Downstream: LineRing.dropOldestLocked.
func (r *LineRing) Push(l PaneLine) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maxText > 0 && len(l.Text) > r.maxText {
		l.Text = clipText(l.Text, r.maxText)
		r.truncated++
	}
	if r.maxBytes > 0 && len(l.Text) > r.maxBytes {
		l.Text = clipText(l.Text, r.maxBytes)
		r.truncated++
	}
	for r.n == len(r.slots) || (r.maxBytes > 0 && r.n > 0 && r.bytes+len(l.Text) > r.maxBytes) {
		r.dropOldestLocked()
	}
	r.slots[(r.start+r.n)%len(r.slots)] = l
	r.n++
	r.bytes += len(l.Text)
	r.seq++
}

// CopyTo writes the lines oldest first into dst (reusing its storage) and
// returns them with the ring's change counter.
func (r *LineRing) CopyTo(dst []PaneLine) ([]PaneLine, uint64) {
	dst = dst[:0]
	if r == nil {
		return dst, 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < r.n; i++ {
		dst = append(dst, r.slots[(r.start+i)%len(r.slots)])
	}
	return dst, r.seq
}

// Stats returns occupancy and loss counters.
func (r *LineRing) Stats() RingStats {
	if r == nil {
		return RingStats{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return RingStats{Lines: r.n, Bytes: r.bytes, Evicted: r.evicted, Truncated: r.truncated}
}

func (r *LineRing) dropOldestLocked() {
	r.bytes -= len(r.slots[r.start].Text)
	r.slots[r.start] = PaneLine{}
	r.start = (r.start + 1) % len(r.slots)
	r.n--
	r.evicted++
}

// clipText shortens s to at most limit bytes including the trailing
// ellipsis.
func clipText(s string, limit int) string {
	const mark = "…"
	if limit <= len(mark) {
		return ""
	}
	cut := limit - len(mark)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + mark
}
