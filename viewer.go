package main

import (
	"image"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"gripview/archive"
	"gripview/feed"
	"gripview/internal/ratelimit"
	"gripview/overlay"
	"gripview/recorder"
	"gripview/report"
	"gripview/stats"
	"gripview/stream"
	"gripview/ui"
)

// failureLogInterval bounds how often a server that stays down is logged.
const failureLogInterval = 10 * time.Second

// displaySource is the part of the stream client the scene composer reads.
type displaySource interface {
	Display() stream.Display
}

// reportRefresher is implemented by surfaces that render the report list.
type reportRefresher interface {
	RefreshReports()
}

// viewer ties the stream client, report feed, and render surface together.
// archive and recorder are optional and may be nil.
type viewer struct {
	display  displaySource
	registry *report.Registry
	resolver *overlay.Resolver
	tracker  *stats.Tracker
	archive  *archive.Store
	recorder *recorder.Recorder
	hidden   map[string]bool
	failLog  *ratelimit.Counter

	surface atomic.Pointer[surfaceHolder]
}

type surfaceHolder struct {
	ui.Surface
}

func newViewer(registry *report.Registry, tracker *stats.Tracker, hidden []string) *viewer {
	v := &viewer{
		registry: registry,
		resolver: overlay.NewResolver(),
		tracker:  tracker,
		hidden:   make(map[string]bool, len(hidden)),
		failLog:  ratelimit.NewCounter(failureLogInterval),
	}
	for _, key := range hidden {
		if key = strings.TrimSpace(key); key != "" {
			v.hidden[strings.ToLower(key)] = true
		}
	}
	registry.OnChange(v.reportsChanged)
	return v
}

// setSurface installs the render target. Events that arrive before it is set
// only update counters.
func (v *viewer) setSurface(s ui.Surface) {
	if s == nil {
		v.surface.Store(nil)
		return
	}
	v.surface.Store(&surfaceHolder{Surface: s})
}

func (v *viewer) currentSurface() ui.Surface {
	if h := v.surface.Load(); h != nil {
		return h.Surface
	}
	return nil
}

func (v *viewer) invalidate() {
	if s := v.currentSurface(); s != nil {
		s.Invalidate()
	}
}

func (v *viewer) reportsChanged() {
	s := v.currentSurface()
	if s == nil {
		return
	}
	if r, ok := s.(reportRefresher); ok {
		r.RefreshReports()
	}
	s.Invalidate()
}

// Purpose: Compose the scene for the current display snapshot.
// Key aspects: Reads one immutable snapshot so frame and error never mix.
// Upstream: ui.FrameView and ui.Headless via ui.SceneSource.
// Downstream: overlay.Resolver.Compose, report.Registry.Snapshot.
func (v *viewer) scene(viewW, viewH int) overlay.Scene {
	var disp stream.Display
	if v.display != nil {
		disp = v.display.Display()
	}
	var img image.Image
	if disp.HasFrame() {
		img = disp.Frame.Image
	}
	return v.resolver.Compose(img, disp.Err, v.registry.Snapshot(), viewW, viewH)
}

// Purpose: Fan a stream session event out to stats, archive, and recorder.
// Key aspects: Runs on the stream goroutine; every sink is non-blocking.
// ev.Payload is only valid during this call, archive.Put copies it.
// Upstream: stream.Client via Options.OnEvent.
// Downstream: stats.Tracker, archive.Store.Put, recorder.Recorder.Record.
func (v *viewer) onEvent(ev stream.Event) {
	rec := recorder.Event{Kind: ev.Kind.String(), Addr: ev.Addr, At: ev.At}
	switch ev.Kind {
	case stream.EventConnected:
		v.tracker.IncrementSessions()
	case stream.EventFrame:
		duplicate := v.tracker.ObserveFrame(ev.Frame.Size, ev.Frame.Digest)
		if v.archive != nil && !duplicate {
			v.archive.Put(ev.At, ev.Frame.Digest, ev.Payload)
		}
		rec.Bytes = ev.Frame.Size
		rec.Digest = ev.Frame.Digest
	case stream.EventBufferGrown:
		v.tracker.ObserveBufferGrow(ev.BufferCap)
		rec.Bytes = ev.BufferCap
	case stream.EventFailed:
		v.tracker.IncrementFailure(ev.ErrKind.String())
		rec.ErrKind = ev.ErrKind.String()
		if ev.Err != nil {
			rec.Detail = ev.Err.Error()
			if skipped, ok := v.failLog.Inc(); ok {
				if skipped > 0 {
					log.Printf("Stream: session to %s ended (%s): %v (%d similar failures suppressed)", ev.Addr, ev.ErrKind, ev.Err, skipped)
				} else {
					log.Printf("Stream: session to %s ended (%s): %v", ev.Addr, ev.ErrKind, ev.Err)
				}
			}
		}
	case stream.EventCancelled:
		v.tracker.IncrementCancellations()
	case stream.EventStopped:
		log.Printf("Stream: stopped")
	}
	v.recorder.Record(rec)
}

// Purpose: Register a report table the first time the feed announces it.
// Key aspects: Keys listed as hidden start invisible.
// Upstream: feed.Tree sub-table listener.
// Downstream: report.Registry.Discover/SetVisible, recorder.RecordReport.
func (v *viewer) onSubTable(key string, table *feed.Table) {
	if !v.registry.Discover(key, table) {
		return
	}
	visible := true
	if v.hidden[strings.ToLower(key)] {
		v.registry.SetVisible(key, false)
		visible = false
	}
	v.recorder.RecordReport(key, "discovered", visible)
	log.Printf("Reports: discovered %s (visible=%t)", key, visible)
}

func (v *viewer) onValue(key, _ string) {
	v.tracker.IncrementReportUpdate(key)
	v.invalidate()
}

// toggleRecorder records each dashboard toggle alongside the registry change.
type toggleRecorder struct {
	*report.Registry
	rec *recorder.Recorder
}

func (t toggleRecorder) Toggle(index int) bool {
	reps := t.Registry.Snapshot()
	if !t.Registry.Toggle(index) {
		return false
	}
	if index >= 0 && index < len(reps) {
		t.rec.RecordReport(reps[index].Key, "toggled", !reps[index].Visible)
	}
	return true
}

// statsLines collects the tracker snapshot plus archive totals.
func (v *viewer) statsLines() []string {
	lines := v.tracker.SnapshotLines()
	if v.archive != nil {
		lines = append(lines, v.archive.Summary())
	}
	return lines
}
