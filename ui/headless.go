package ui

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gripview/overlay"
)

// Headless viewport used to compose scenes when there is no terminal.
const (
	headlessViewW = 640
	headlessViewH = 480
)

// Headless is the non-interactive sink: it logs a one-line scene summary
// whenever the picture changes and prints stats lines as they arrive.
type Headless struct {
	source   SceneSource
	interval time.Duration
	out      io.Writer

	dirty    atomic.Bool
	last     string
	done     chan struct{}
	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewHeadless starts a summary loop that checks for changes every interval.
func NewHeadless(source SceneSource, interval time.Duration, out io.Writer) *Headless {
	if interval <= 0 {
		interval = time.Second
	}
	if out == nil {
		out = os.Stdout
	}
	h := &Headless{
		source:   source,
		interval: interval,
		out:      out,
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Headless) run() {
	defer close(h.stopped)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.flush()
		}
	}
}

// flush logs the scene summary when it differs from the previous one.
func (h *Headless) flush() {
	if !h.dirty.Swap(false) || h.source == nil {
		return
	}
	summary := Describe(h.source(headlessViewW, headlessViewH))
	if summary == h.last {
		return
	}
	h.last = summary
	log.Printf("Stream: %s", summary)
}

// WaitReady returns immediately.
func (h *Headless) WaitReady() {}

// Done never closes on its own; headless runs until a signal arrives.
func (h *Headless) Done() <-chan struct{} { return h.done }

// Stop ends the summary loop.
func (h *Headless) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
		<-h.stopped
	})
}

// Invalidate marks the scene dirty.
func (h *Headless) Invalidate() { h.dirty.Store(true) }

// SetStats prints stats lines.
func (h *Headless) SetStats(lines []string) {
	for _, line := range lines {
		fmt.Fprintln(h.out, line)
	}
}

// AppendSystem prints one line.
func (h *Headless) AppendSystem(line string) {
	fmt.Fprintln(h.out, line)
}

// SystemWriter returns the console.
func (h *Headless) SystemWriter() io.Writer { return h.out }

// Purpose: Summarize a scene in one log line.
// Key aspects: Counts shapes by type so overlay changes are visible without
// a display.
// Upstream: Headless.flush, tests.
// Downstream: None.
func Describe(scene overlay.Scene) string {
	if scene.Frame == nil {
		if scene.Err != "" {
			return "error: " + scene.Err
		}
		return strings.ToLower(scene.Message())
	}
	var lines, crosshairs, circles, rects int
	for _, s := range scene.Shapes {
		switch s.(type) {
		case overlay.Line:
			lines++
		case overlay.Crosshair:
			crosshairs++
		case overlay.Circle:
			circles++
		case overlay.Rect:
			rects++
		}
	}
	b := scene.Frame.Bounds()
	return fmt.Sprintf("frame %dx%d scale %.2f, overlays: %d lines, %d circles, %d rects, %d crosshairs",
		b.Dx(), b.Dy(), scene.Transform.Scale, lines, circles, rects, crosshairs)
}
