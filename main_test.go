package main

import (
	"errors"
	"image"
	"io"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"gripview/archive"
	"gripview/config"
	"gripview/feed"
	"gripview/recorder"
	"gripview/report"
	"gripview/stats"
	"gripview/stream"
)

type fakeDisplay struct {
	disp stream.Display
}

func (f *fakeDisplay) Display() stream.Display { return f.disp }

type fakeSurface struct {
	invalidations atomic.Int64
	refreshes     atomic.Int64
	done          chan struct{}
}

func newFakeSurface() *fakeSurface { return &fakeSurface{done: make(chan struct{})} }

func (s *fakeSurface) WaitReady() {}
func (s *fakeSurface) Stop() {}
func (s *fakeSurface) Done() <-chan struct{} { return s.done }
func (s *fakeSurface) Invalidate() { s.invalidations.Add(1) }
func (s *fakeSurface) SetStats([]string) {}
func (s *fakeSurface) AppendSystem(string) {}
func (s *fakeSurface) SystemWriter() io.Writer { return io.Discard }
func (s *fakeSurface) RefreshReports() { s.refreshes.Add(1) }

func pointsTree(t *testing.T, v *viewer) *feed.Tree {
	t.Helper()
	tree := feed.NewTree("GRIP")
	tree.AddSubTableListener(v.onSubTable)
	tree.AddValueListener(v.onValue)
	tree.Put("blobs", "x", []float64{160})
	tree.Put("blobs", "y", []float64{120})
	tree.Put("blobs", "size", []float64{10})
	return tree
}

func TestSceneComposesVisibleReports(t *testing.T) {
	v := newViewer(report.NewRegistry(), stats.NewTracker(), nil)
	v.display = &fakeDisplay{disp: stream.Display{Frame: &stream.Frame{Image: image.NewRGBA(image.Rect(0, 0, 320, 240))}}}
	surface := newFakeSurface()
	v.setSurface(surface)
	pointsTree(t, v)

	scene := v.scene(640, 480)
	if scene.Frame == nil {
		t.Fatalf("expected frame in scene")
	}
	if len(scene.Shapes) != 2 {
		t.Fatalf("expected circle and crosshair, got %d shapes", len(scene.Shapes))
	}
	if surface.refreshes.Load() != 1 {
		t.Fatalf("expected one report refresh, got %d", surface.refreshes.Load())
	}
	if surface.invalidations.Load() < 3 {
		t.Fatalf("expected value updates to invalidate, got %d", surface.invalidations.Load())
	}
	if got := v.tracker.GetReportUpdateCounts()["blobs"]; got != 3 {
		t.Fatalf("expected 3 report updates, got %d", got)
	}
}

func TestSceneHidesConfiguredReports(t *testing.T) {
	v := newViewer(report.NewRegistry(), stats.NewTracker(), []string{" BLOBS "})
	v.display = &fakeDisplay{disp: stream.Display{Frame: &stream.Frame{Image: image.NewRGBA(image.Rect(0, 0, 320, 240))}}}
	pointsTree(t, v)

	reps := v.registry.Snapshot()
	if len(reps) != 1 || reps[0].Visible {
		t.Fatalf("expected blobs discovered hidden, got %+v", reps)
	}
	if scene := v.scene(640, 480); len(scene.Shapes) != 0 {
		t.Fatalf("hidden report drew %d shapes", len(scene.Shapes))
	}
}

func TestSceneWithoutFrameCarriesError(t *testing.T) {
	v := newViewer(report.NewRegistry(), stats.NewTracker(), nil)
	v.display = &fakeDisplay{disp: stream.Display{Err: "connect refused"}}
	pointsTree(t, v)

	scene := v.scene(640, 480)
	if scene.Frame != nil || len(scene.Shapes) != 0 {
		t.Fatalf("expected error-only scene, got %+v", scene)
	}
	if scene.Message() != "connect refused" {
		t.Fatalf("unexpected message %q", scene.Message())
	}
}

func TestOnEventFansOutToSinks(t *testing.T) {
	dir := t.TempDir()
	store, err := archive.Open(filepath.Join(dir, "archive"), archive.Options{Interval: time.Millisecond})
	if err != nil {
		t.Fatalf("archive open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	rec, err := recorder.NewRecorder(filepath.Join(dir, "events.db"), 100)
	if err != nil {
		t.Fatalf("recorder open: %v", err)
	}
	t.Cleanup(func() { _ = rec.Close() })

	v := newViewer(report.NewRegistry(), stats.NewTracker(), nil)
	v.archive = store
	v.recorder = rec

	base := time.Now()
	frame := stream.Frame{Size: 4, Digest: 42}
	v.onEvent(stream.Event{Kind: stream.EventConnected, At: base, Addr: "cam:1180"})
	v.onEvent(stream.Event{Kind: stream.EventFrame, At: base, Frame: frame, Payload: []byte{1, 2, 3, 4}})
	v.onEvent(stream.Event{Kind: stream.EventFrame, At: base.Add(time.Second), Frame: frame, Payload: []byte{1, 2, 3, 4}})
	v.onEvent(stream.Event{Kind: stream.EventBufferGrown, At: base, BufferCap: 98304})
	v.onEvent(stream.Event{Kind: stream.EventFailed, At: base, Addr: "cam:1180", Err: errors.New("reset"), ErrKind: stream.KindIO})
	v.onEvent(stream.Event{Kind: stream.EventCancelled, At: base, Addr: "cam:1180"})

	if v.tracker.Sessions() != 1 || v.tracker.Frames() != 2 || v.tracker.Duplicates() != 1 {
		t.Fatalf("unexpected counters sessions=%d frames=%d dup=%d", v.tracker.Sessions(), v.tracker.Frames(), v.tracker.Duplicates())
	}
	if v.tracker.BufferGrows() != 1 || v.tracker.Cancellations() != 1 {
		t.Fatalf("unexpected grows=%d cancels=%d", v.tracker.BufferGrows(), v.tracker.Cancellations())
	}
	if got := v.tracker.GetFailureCounts()["io"]; got != 1 {
		t.Fatalf("expected io failure counted, got %d", got)
	}

	if err := store.Flush(); err != nil {
		t.Fatalf("archive flush: %v", err)
	}
	if store.Count() != 1 {
		t.Fatalf("duplicate frame should not be archived, count=%d", store.Count())
	}

	rec.Flush()
	for kind, want := range map[string]int{"connected": 1, "frame": 2, "failed": 1, "cancelled": 1, "buffer_grown": 1} {
		got, err := rec.CountSessionEvents(kind)
		if err != nil || got != want {
			t.Fatalf("%s events: got %d (%v), want %d", kind, got, err, want)
		}
	}

	lines := v.statsLines()
	if len(lines) != 5 || lines[4] != store.Summary() {
		t.Fatalf("expected archive summary appended, got %v", lines)
	}
}

func TestToggleRecorderRecordsToggle(t *testing.T) {
	rec, err := recorder.NewRecorder(filepath.Join(t.TempDir(), "events.db"), 100)
	if err != nil {
		t.Fatalf("recorder open: %v", err)
	}
	t.Cleanup(func() { _ = rec.Close() })
	v := newViewer(report.NewRegistry(), stats.NewTracker(), nil)
	v.recorder = rec
	pointsTree(t, v)

	list := toggleRecorder{Registry: v.registry, rec: rec}
	if !list.Toggle(0) {
		t.Fatalf("expected toggle to apply")
	}
	if list.Toggle(5) {
		t.Fatalf("out-of-range toggle should be ignored")
	}
	if v.registry.Snapshot()[0].Visible {
		t.Fatalf("expected report hidden after toggle")
	}
	rec.Flush()
	if got, err := rec.CountReportEvents("blobs"); err != nil || got != 2 {
		t.Fatalf("expected discovered+toggled events, got %d (%v)", got, err)
	}
}

func TestApplyFlagsOverridesConfig(t *testing.T) {
	flags, err := parseFlags([]string{"-host", "roborio.local", "-fps", "15", "-hide", "blobs, lines", "-headless"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg := config.Default()
	if err := applyFlags(cfg, flags); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.Stream.Host != "roborio.local" || cfg.Stream.FPS != 15 || cfg.Stream.Port != stream.DefaultPort {
		t.Fatalf("unexpected stream config %+v", cfg.Stream)
	}
	if cfg.UI.Mode != config.UIModeHeadless {
		t.Fatalf("expected headless mode, got %q", cfg.UI.Mode)
	}
	if len(cfg.UI.Hidden) != 2 || cfg.UI.Hidden[1] != "lines" {
		t.Fatalf("unexpected hidden list %v", cfg.UI.Hidden)
	}

	bad, _ := parseFlags([]string{"-port", "70000"})
	if err := applyFlags(config.Default(), bad); err == nil {
		t.Fatalf("expected out-of-range port to fail validation")
	}
}
