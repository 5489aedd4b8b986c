package ui

import (
	"bytes"
	"image"
	"image/color"
	"strings"
	"sync"
	"testing"

	"gripview/overlay"
	"gripview/report"
	"gripview/stream"

	"github.com/gdamore/tcell/v2"
)

var red = color.RGBA{R: 255, A: 255}

func TestCanvasDrawsLineAndIgnoresOutOfRange(t *testing.T) {
	c := NewCanvas(10, 5) // 10 x 10 pixels
	c.DrawShape(overlay.Line{X1: 0, Y1: 0, X2: 9, Y2: 9, Color: red}, 1)
	for i := 0; i < 10; i++ {
		if c.At(i, i) != red {
			t.Fatalf("diagonal pixel %d not painted", i)
		}
	}
	if c.At(9, 0) == red {
		t.Fatalf("off-diagonal pixel painted")
	}
	c.DrawShape(overlay.Line{X1: -50, Y1: 3, X2: 50, Y2: 3, Color: red}, 1)
	if c.At(0, 3) != red || c.At(9, 3) != red {
		t.Fatalf("clipped line not painted across the canvas")
	}
}

func TestCanvasCrosshairKeepsDisplaySize(t *testing.T) {
	c := NewCanvas(40, 20)
	c.DrawShape(overlay.Crosshair{X: 20, Y: 20, HalfSize: overlay.CrosshairHalfSize, Color: red}, 1)
	if c.At(12, 20) != red || c.At(28, 20) != red || c.At(20, 12) != red || c.At(20, 28) != red {
		t.Fatalf("crosshair arms missing")
	}
	if c.At(11, 20) == red || c.At(20, 29) == red {
		t.Fatalf("crosshair arms too long")
	}
}

func TestCanvasDrawImageLetterboxes(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{G: 200, A: 255})
		}
	}
	c := NewCanvas(4, 2) // 4 x 4 pixels
	c.DrawImage(img, overlay.Fit(4, 2, 4, 4))
	if c.At(0, 0) != canvasBackground || c.At(0, 3) != canvasBackground {
		t.Fatalf("letterbox bars should stay background")
	}
	if got := c.At(1, 1); got.G != 200 {
		t.Fatalf("image pixel not painted, got %+v", got)
	}
}

func TestCanvasDrawSceneWithoutFrameIsBlank(t *testing.T) {
	c := NewCanvas(4, 2)
	c.Set(1, 1, red)
	c.DrawScene(overlay.Scene{Err: "x"})
	if c.At(1, 1) != canvasBackground {
		t.Fatalf("scene without frame should clear the canvas")
	}
}

func TestFrameViewShowsPlaceholderAndError(t *testing.T) {
	screen := tcell.NewSimulationScreen("UTF-8")
	if err := screen.Init(); err != nil {
		t.Fatalf("screen init: %v", err)
	}
	defer screen.Fini()
	screen.SetSize(40, 10)

	msg := ""
	fv := NewFrameView(func(w, h int) overlay.Scene { return overlay.Scene{Err: msg} }, nil)
	fv.SetRect(0, 0, 40, 10)
	fv.Draw(screen)
	if row := screenRow(screen, 5, 40); !strings.Contains(row, overlay.NoImageMessage) {
		t.Fatalf("expected placeholder, got %q", row)
	}

	msg = "connection refused"
	screen.Clear()
	fv.Draw(screen)
	if row := screenRow(screen, 5, 40); !strings.Contains(row, msg) {
		t.Fatalf("expected error text, got %q", row)
	}
	if _, _, style, _ := screen.GetContent(0, 5); style != tcell.StyleDefault.Background(errorFieldColor).Foreground(tcell.ColorBlack) {
		t.Fatalf("error row should be painted on the error field colour")
	}
}

func screenRow(screen tcell.Screen, y, w int) string {
	var b strings.Builder
	for x := 0; x < w; x++ {
		r, _, _, _ := screen.GetContent(x, y)
		b.WriteRune(r)
	}
	return b.String()
}

func TestDescribeScene(t *testing.T) {
	if got := Describe(overlay.Scene{}); got != "no image available" {
		t.Fatalf("unexpected placeholder summary %q", got)
	}
	if got := Describe(overlay.Scene{Err: "bad magic"}); got != "error: bad magic" {
		t.Fatalf("unexpected error summary %q", got)
	}
	scene := overlay.Scene{
		Frame:     image.NewRGBA(image.Rect(0, 0, 640, 480)),
		Transform: overlay.Fit(640, 480, 640, 480),
		Shapes:    []overlay.Primitive{overlay.Circle{}, overlay.Crosshair{}, overlay.Line{}},
	}
	want := "frame 640x480 scale 1.00, overlays: 1 lines, 1 circles, 0 rects, 1 crosshairs"
	if got := Describe(scene); got != want {
		t.Fatalf("unexpected summary %q", got)
	}
}

func TestHeadlessPrintsStats(t *testing.T) {
	var out bytes.Buffer
	h := NewHeadless(nil, 0, &out)
	defer h.Stop()
	h.SetStats([]string{"Frames: 1", "Failures: (none)"})
	if out.String() != "Frames: 1\nFailures: (none)\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

type fakeControl struct {
	mu       sync.Mutex
	settings stream.Settings
	kicks    int
	reconfig int
}

func (f *fakeControl) Settings() stream.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings
}
func (f *fakeControl) State() stream.State { return stream.StateStreaming }
func (f *fakeControl) Reconfigure(s stream.Settings) {
	f.mu.Lock()
	f.settings = s
	f.reconfig++
	f.mu.Unlock()
}
func (f *fakeControl) Kick() {
	f.mu.Lock()
	f.kicks++
	f.mu.Unlock()
}

func TestDashboardCommandTogglesMatchedReport(t *testing.T) {
	reg := report.NewRegistry()
	reg.Discover("blobs", nil)
	reg.Discover("lines", nil)
	ctl := &fakeControl{settings: stream.Settings{Host: "localhost", Port: 1180, FPS: 30}}
	d := newDashboard(DashboardConfig{}, nil, ctl, reg)

	if d.list.GetItemCount() != 2 {
		t.Fatalf("expected 2 report rows, got %d", d.list.GetItemCount())
	}
	d.runCommand("Blobs")
	if reg.Snapshot()[0].Visible {
		t.Fatalf("expected blobs to be hidden after toggle")
	}
	main, _ := d.list.GetItemText(0)
	if !strings.Contains(main, "○") || !strings.Contains(main, "blobs") {
		t.Fatalf("row not refreshed: %q", main)
	}

	d.runCommand("nothing-like-it")
	if lines, _ := d.logRing.CopyTo(nil); len(lines) != 1 || lines[0].Source != SourceReport {
		t.Fatalf("expected one report log line, got %+v", lines)
	}
}

func TestDashboardApplySettings(t *testing.T) {
	ctl := &fakeControl{settings: stream.Settings{Host: "localhost", Port: 1180, FPS: 30}}
	d := newDashboard(DashboardConfig{}, nil, ctl, nil)

	d.host.SetText("10.2.54.11")
	d.fps.SetText("15")
	d.applySettings()
	got := ctl.Settings()
	if got.Host != "10.2.54.11" || got.FPS != 15 || got.Port != 1180 || ctl.reconfig != 1 {
		t.Fatalf("unexpected settings %+v (reconfig=%d)", got, ctl.reconfig)
	}

	d.applySettings()
	if ctl.reconfig != 1 {
		t.Fatalf("unchanged settings should not reconfigure")
	}
	d.fps.SetText("0")
	d.applySettings()
	if ctl.reconfig != 1 {
		t.Fatalf("invalid fps should not reconfigure")
	}
}

func TestPaneWriterSplitsLines(t *testing.T) {
	d := newDashboard(DashboardConfig{}, nil, nil, nil)
	w := d.SystemWriter()
	w.Write([]byte("Stream: conn"))
	w.Write([]byte("ected\nFeed: up\n"))
	lines, _ := d.logRing.CopyTo(nil)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].Text != "Stream: connected" || lines[0].Source != SourceStream {
		t.Fatalf("unexpected first line %+v", lines[0])
	}
	if lines[1].Source != SourceFeed {
		t.Fatalf("unexpected second line source %s", lines[1].Source.Tag())
	}
}
