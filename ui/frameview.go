package ui

import (
	"time"

	"gripview/overlay"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

var (
	errorFieldColor = tcell.NewRGBColor(255, 175, 175)
	messageColor    = tcell.ColorGray
)

// FrameView paints the latest camera frame with report overlays. The viewport
// is measured in half-block pixels, so a w x h cell area is a w x 2h canvas.
type FrameView struct {
	*tview.Box
	source  SceneSource
	canvas  *Canvas
	metrics *Metrics
}

// NewFrameView builds a frame view that pulls scenes from source on every draw.
func NewFrameView(source SceneSource, metrics *Metrics) *FrameView {
	return &FrameView{
		Box:     tview.NewBox(),
		source:  source,
		canvas:  NewCanvas(0, 0),
		metrics: metrics,
	}
}

// Draw implements tview.Primitive.
func (f *FrameView) Draw(screen tcell.Screen) {
	f.Box.DrawForSubclass(screen, f)
	x, y, w, h := f.GetInnerRect()
	if w <= 0 || h <= 0 || f.source == nil {
		return
	}
	started := time.Now()
	scene := f.source(w, h*2)
	if scene.Frame == nil {
		drawMessage(screen, scene, x, y, w, h)
		return
	}
	f.canvas.Resize(w, h)
	f.canvas.DrawScene(scene)
	f.canvas.Blit(screen, x, y)
	f.metrics.ObservePaint(time.Since(started))
}

// drawMessage shows the placeholder, or the error on a pink field.
func drawMessage(screen tcell.Screen, scene overlay.Scene, x, y, w, h int) {
	row := y + h/2
	text := tview.Escape(scene.Message())
	if scene.Err == "" {
		tview.Print(screen, text, x, row, w, tview.AlignCenter, messageColor)
		return
	}
	field := tcell.StyleDefault.Background(errorFieldColor).Foreground(tcell.ColorBlack)
	for col := x; col < x+w; col++ {
		screen.SetContent(col, row, ' ', nil, field)
	}
	tview.Print(screen, text, x, row, w, tview.AlignCenter, tcell.ColorBlack)
	// tview.Print resets the background to default; repaint it.
	for col := x; col < x+w; col++ {
		r, comb, _, _ := screen.GetContent(col, row)
		screen.SetContent(col, row, r, comb, field)
	}
}
