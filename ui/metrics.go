package ui

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// window accumulates durations between reads.
type window struct {
	mu   sync.Mutex
	n    int
	sum  time.Duration
	peak time.Duration
}

func (w *window) add(d time.Duration) {
	w.mu.Lock()
	w.n++
	w.sum += d
	w.peak = max(w.peak, d)
	w.mu.Unlock()
}

// drain returns the mean and peak since the previous drain and starts over.
func (w *window) drain() (n int, mean, peak time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, peak = w.n, w.peak
	if n > 0 {
		mean = w.sum / time.Duration(n)
	}
	w.n, w.sum, w.peak = 0, 0, 0
	return n, mean, peak
}

// Metrics times frame view rasterizing and the wait between marking a
// pane and tview applying it.
type Metrics struct {
	paint  window
	queue  window
	paints atomic.Uint64
}

func NewMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) ObserveQueue(d time.Duration) {
	if m != nil {
		m.queue.add(d)
	}
}

func (m *Metrics) ObservePaint(d time.Duration) {
	if m != nil {
		m.paints.Add(1)
		m.paint.add(d)
	}
}

func (m *Metrics) Paints() uint64 {
	if m == nil {
		return 0
	}
	return m.paints.Load()
}

// Line summarizes the interval since the previous call for the stats pane.
func (m *Metrics) Line() string {
	if m == nil {
		return ""
	}
	n, mean, peak := m.paint.drain()
	_, wait, _ := m.queue.drain()
	return fmt.Sprintf("UI: %d paints (%d new), paint avg %s max %s, queue avg %s",
		m.paints.Load(), n, mean.Round(time.Microsecond), peak.Round(time.Microsecond), wait.Round(time.Microsecond))
}
