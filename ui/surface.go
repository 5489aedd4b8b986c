package ui

import (
	"io"

	"gripview/overlay"
	"gripview/report"
	"gripview/stream"
)

// Surface abstracts the render sink so the terminal dashboard and the headless
// logger can be swapped. Implementations must be safe for concurrent calls
// from the stream goroutine, feed callbacks, and the stats loop.
type Surface interface {
	WaitReady()
	Stop()
	// Done closes when the user asked to quit.
	Done() <-chan struct{}
	// Invalidate requests a repaint; calls are coalesced.
	Invalidate()
	SetStats(lines []string)
	AppendSystem(line string)
	SystemWriter() io.Writer
}

// SceneSource composes the current scene for a viewport of the given size.
type SceneSource func(viewW, viewH int) overlay.Scene

// StreamControl is the part of the stream client the dashboard drives.
type StreamControl interface {
	Settings() stream.Settings
	State() stream.State
	Reconfigure(stream.Settings)
	Kick()
}

// ReportList is the part of the report registry the dashboard drives.
type ReportList interface {
	Snapshot() []report.Report
	Toggle(index int) bool
	Match(name string) (int, bool)
}
