package ui

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"gripview/report"
	"gripview/stream"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const (
	paneWriterMaxBytes = 64 * 1024
	logPaneMaxEvents   = 500
	logPaneMaxBytes    = 256 * 1024
	logPaneMaxMessage  = 4 * 1024
)

const (
	accentTag   = "[#ff69b4]"
	accentReset = "[-]"
)

var (
	uiBorderColor = tcell.ColorGray
	uiTitleColor  = tcell.ColorHotPink
)

// DashboardConfig carries the dashboard's tunables.
type DashboardConfig struct {
	RefreshFPS int
	// Screen overrides the terminal; tests pass a simulation screen.
	Screen tcell.Screen
}

// Dashboard is the terminal viewer: the frame with overlays on the left, the
// report list, connection settings and stats on the right, and the log below.
type Dashboard struct {
	app       *tview.Application
	painter   *paintLoop
	metrics   *Metrics

	control StreamControl
	reports ReportList

	frame    *FrameView
	list     *tview.List
	form     *tview.Form
	host     *tview.InputField
	fps      *tview.InputField
	stats    *tview.TextView
	logView  *tview.TextView
	command  *tview.InputField
	focusOrd []tview.Primitive
	focusIdx int

	logRing *LineRing
	logScan []PaneLine
	logSeq  uint64

	statsMu    sync.Mutex
	statsLines []string

	ready    chan struct{}
	done     chan struct{}
	quitOnce sync.Once
	stopOnce sync.Once
}

// Purpose: Build and start the terminal dashboard.
// Key aspects: tview runs on its own goroutine; updates from other
// goroutines go through the paint loop.
// Upstream: main.go when stdout is a TTY.
// Downstream: tview.Application.Run, paintLoop.
func NewDashboard(cfg DashboardConfig, source SceneSource, control StreamControl, reports ReportList) *Dashboard {
	d := newDashboard(cfg, source, control, reports)
	d.painter.Start()
	go func() {
		if err := d.app.Run(); err != nil {
			log.Printf("UI: tview error: %v", err)
		}
		d.quit()
	}()
	return d
}

func newDashboard(cfg DashboardConfig, source SceneSource, control StreamControl, reports ReportList) *Dashboard {
	app := tview.NewApplication()
	if cfg.Screen != nil {
		app.SetScreen(cfg.Screen)
	}
	ready := make(chan struct{})
	var once sync.Once
	app.SetBeforeDrawFunc(func(screen tcell.Screen) bool {
		once.Do(func() { close(ready) })
		return false
	})

	metrics := NewMetrics()
	d := &Dashboard{
		app:     app,
		metrics: metrics,
		control: control,
		reports: reports,
		ready:   ready,
		done:    make(chan struct{}),
	}
	d.logRing = NewLineRing(logPaneMaxEvents, logPaneMaxBytes, logPaneMaxMessage)

	d.frame = NewFrameView(source, metrics)
	d.frame.SetBorder(true).SetTitle(accentText("Camera")).SetTitleAlign(tview.AlignLeft)
	d.frame.SetBorderColor(uiBorderColor)

	d.list = tview.NewList().ShowSecondaryText(false).SetHighlightFullLine(true)
	d.list.SetBorder(true).SetTitle(accentText("Reports")).SetTitleAlign(tview.AlignLeft)
	d.list.SetBorderColor(uiBorderColor)

	d.buildSettingsForm()

	d.stats = newBoxedTextView("Stats")
	d.logView = newBoxedTextView("Log")
	d.logView.SetScrollable(true)
	d.logView.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if scrollTextView(d.logView, event) {
			return nil
		}
		return event
	})

	d.command = tview.NewInputField().SetLabel("toggle> ").SetFieldWidth(0)
	d.command.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			d.runCommand(d.command.GetText())
		}
		d.command.SetText("")
		d.app.SetFocus(d.list)
	})

	side := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(d.list, 0, 1, true).
		AddItem(d.form, 9, 0, false).
		AddItem(d.stats, 8, 0, false)
	top := tview.NewFlex().
		AddItem(d.frame, 0, 3, false).
		AddItem(side, 0, 1, true)
	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(top, 0, 1, true).
		AddItem(d.logView, 10, 0, false).
		AddItem(d.command, 1, 0, false).
		AddItem(buildFooter(), 1, 0, false)
	app.SetRoot(root, true).SetFocus(d.list)
	d.focusOrd = []tview.Primitive{d.list, d.form, d.logView}

	d.painter = newPaintLoop(app, cfg.RefreshFPS, 100*time.Millisecond, metrics.ObserveQueue)
	d.installKeybindings()
	d.refreshReports()
	d.renderStats()
	return d
}

func (d *Dashboard) buildSettingsForm() {
	current := stream.Settings{}
	if d.control != nil {
		current = d.control.Settings()
	}
	d.form = tview.NewForm()
	d.form.AddInputField("Host", current.Host, 24, nil, nil)
	d.form.AddInputField("FPS", strconv.Itoa(current.FPS), 4, tview.InputFieldInteger, nil)
	d.form.AddButton("Apply", d.applySettings)
	d.form.AddButton("Reconnect", func() {
		if d.control != nil {
			d.control.Kick()
		}
	})
	d.host = d.form.GetFormItem(0).(*tview.InputField)
	d.fps = d.form.GetFormItem(1).(*tview.InputField)
	d.form.SetBorder(true).SetTitle(accentText("Connection")).SetTitleAlign(tview.AlignLeft)
	d.form.SetBorderColor(uiBorderColor)
	d.form.SetCancelFunc(func() { d.app.SetFocus(d.list) })
}

// Purpose: Push edited host/fps to the stream client.
// Key aspects: Invalid fps is rejected in place; the port is kept.
// Upstream: settings form Apply button.
// Downstream: StreamControl.Reconfigure.
func (d *Dashboard) applySettings() {
	if d.control == nil {
		return
	}
	host := strings.TrimSpace(d.host.GetText())
	fps, err := strconv.Atoi(strings.TrimSpace(d.fps.GetText()))
	if host == "" || err != nil || fps <= 0 {
		d.AppendSystem("UI: host must be set and fps must be a positive integer")
		return
	}
	next := d.control.Settings()
	if next.Host == host && next.FPS == fps {
		return
	}
	next.Host = host
	next.FPS = fps
	log.Printf("UI: reconfiguring stream to %s at %d fps", next.Addr(), fps)
	d.control.Reconfigure(next)
}

func (d *Dashboard) installKeybindings() {
	d.list.SetSelectedFunc(func(index int, _ string, _ string, _ rune) {
		if d.reports != nil && d.reports.Toggle(index) {
			d.refreshReports()
		}
	})
	d.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC:
			d.quit()
			return nil
		case tcell.KeyTab:
			if d.editing() {
				return event
			}
			d.cycleFocus(1)
			return nil
		case tcell.KeyBacktab:
			if d.editing() {
				return event
			}
			d.cycleFocus(-1)
			return nil
		}
		if d.editing() {
			return event
		}
		switch event.Rune() {
		case 'q', 'Q':
			d.quit()
			return nil
		case 'r', 'R':
			if d.control != nil {
				log.Printf("UI: reconnect requested")
				d.control.Kick()
			}
			return nil
		case '/', 't':
			d.app.SetFocus(d.command)
			return nil
		}
		return event
	})
}

// editing reports whether keystrokes belong to a text field.
func (d *Dashboard) editing() bool {
	focus := d.app.GetFocus()
	if focus == nil {
		return false
	}
	if focus == d.command {
		return true
	}
	_, isInput := focus.(*tview.InputField)
	return isInput
}

func (d *Dashboard) cycleFocus(delta int) {
	n := len(d.focusOrd)
	d.focusIdx = ((d.focusIdx+delta)%n + n) % n
	d.app.SetFocus(d.focusOrd[d.focusIdx])
}

// Purpose: Toggle a report by (fuzzy) name from the command line.
// Key aspects: Unknown names are reported in the log pane and ignored.
// Upstream: command input field.
// Downstream: ReportList.Match, ReportList.Toggle.
func (d *Dashboard) runCommand(text string) {
	name := strings.TrimSpace(text)
	if name == "" || d.reports == nil {
		return
	}
	idx, ok := d.reports.Match(name)
	if !ok {
		d.AppendSystem(fmt.Sprintf("Reports: no report matches %q", name))
		return
	}
	d.reports.Toggle(idx)
	d.refreshReports()
}

// refreshReports rebuilds the list from a registry snapshot. Must run on the
// UI goroutine (or before Run).
func (d *Dashboard) refreshReports() {
	current := d.list.GetCurrentItem()
	d.list.Clear()
	if d.reports != nil {
		for _, rep := range d.reports.Snapshot() {
			d.list.AddItem(reportLine(rep), "", 0, nil)
		}
	}
	if current >= 0 && current < d.list.GetItemCount() {
		d.list.SetCurrentItem(current)
	}
}

func reportLine(rep report.Report) string {
	mark := "○"
	if rep.Visible {
		mark = "●"
	}
	c := rep.Color.Color
	return fmt.Sprintf("[#%02x%02x%02x]■[-] %s %s", c.R, c.G, c.B, mark, tview.Escape(rep.Key))
}

func (d *Dashboard) renderStats() {
	d.statsMu.Lock()
	lines := append([]string(nil), d.statsLines...)
	d.statsMu.Unlock()

	var b strings.Builder
	if d.control != nil {
		s := d.control.Settings()
		fmt.Fprintf(&b, "%s%s%s %s @ %d fps\n", accentTag, d.control.State(), accentReset, s.Addr(), s.FPS)
	}
	for _, line := range lines {
		b.WriteString(tview.Escape(line))
		b.WriteByte('\n')
	}
	b.WriteString(d.metrics.Line())
	if rs := d.logRing.Stats(); rs.Evicted > 0 || rs.Truncated > 0 {
		fmt.Fprintf(&b, "\nLog pane: %d lines, %d evicted, %d clipped", rs.Lines, rs.Evicted, rs.Truncated)
	}
	d.stats.SetText(b.String())
}

func (d *Dashboard) renderLog() {
	lines, seq := d.logRing.CopyTo(d.logScan)
	d.logScan = lines
	if seq == d.logSeq {
		return
	}
	d.logSeq = seq
	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "%s %s%-4s%s %s\n",
			l.At.Format("15:04:05"), accentTag, l.Source.Tag(), accentReset, tview.Escape(l.Text))
	}
	d.logView.SetText(b.String())
	d.logView.ScrollToEnd()
}

// WaitReady blocks until the first draw.
func (d *Dashboard) WaitReady() {
	if d == nil || d.ready == nil {
		return
	}
	<-d.ready
}

// Done closes when the user quits.
func (d *Dashboard) Done() <-chan struct{} {
	return d.done
}

func (d *Dashboard) quit() {
	d.quitOnce.Do(func() { close(d.done) })
}

// Stop tears down the paint loop and the terminal.
func (d *Dashboard) Stop() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.painter.Stop()
		d.app.Stop()
		d.quit()
	})
}

// Invalidate requests a frame repaint.
func (d *Dashboard) Invalidate() {
	d.painter.Mark(paneFrame, func() {})
}

// RefreshReports requests a report list rebuild.
func (d *Dashboard) RefreshReports() {
	d.painter.Mark(paneReports, d.refreshReports)
}

// SetStats replaces the stats pane lines.
func (d *Dashboard) SetStats(lines []string) {
	d.statsMu.Lock()
	d.statsLines = append(d.statsLines[:0], lines...)
	d.statsMu.Unlock()
	d.painter.Mark(paneStats, d.renderStats)
}

// AppendSystem adds a line to the log pane.
func (d *Dashboard) AppendSystem(line string) {
	if d == nil {
		return
	}
	d.logRing.Push(PaneLine{At: time.Now(), Source: SourceOf(line), Text: line})
	d.painter.Mark(paneLog, d.renderLog)
}

// SystemWriter returns an io.Writer that feeds the log pane line by line.
func (d *Dashboard) SystemWriter() io.Writer {
	if d == nil {
		return nil
	}
	return &paneWriter{dash: d}
}

type paneWriter struct {
	dash *Dashboard
	// buf holds any partial line; it is bounded to avoid unbounded growth when no newline arrives.
	buf          []byte
	mu           sync.Mutex
	droppedBytes uint64
}

func (w *paneWriter) Write(p []byte) (int, error) {
	if w == nil || w.dash == nil {
		return len(p), nil
	}
	w.mu.Lock()
	w.buf = append(w.buf, p...)
	if excess := len(w.buf) - paneWriterMaxBytes; excess > 0 {
		w.buf = w.buf[excess:]
		w.droppedBytes += uint64(excess)
	}
	var lines []string
	for {
		idx := bytes.IndexByte(w.buf, '\n')
		if idx == -1 {
			break
		}
		lines = append(lines, string(bytes.TrimRight(w.buf[:idx], "\r")))
		w.buf = w.buf[idx+1:]
	}
	w.mu.Unlock()

	for _, line := range lines {
		w.dash.AppendSystem(line)
	}
	return len(p), nil
}

func newBoxedTextView(title string) *tview.TextView {
	tv := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	tv.SetBorder(true)
	if title != "" {
		tv.SetTitle(accentText(title)).SetTitleAlign(tview.AlignLeft)
	}
	tv.SetBorderColor(uiBorderColor)
	tv.SetTitleColor(uiTitleColor)
	return tv
}

func buildFooter() *tview.TextView {
	return tview.NewTextView().SetDynamicColors(true).SetText(
		accentText("Enter") + " Toggle report  " + accentText("/") + " Toggle by name  " +
			accentText("Tab") + " Focus  " + accentText("r") + " Reconnect  " + accentText("q") + " Quit",
	)
}

func scrollTextView(target *tview.TextView, event *tcell.EventKey) bool {
	if target == nil || event == nil {
		return false
	}
	row, col := target.GetScrollOffset()
	page := 10
	_, _, _, height := target.GetInnerRect()
	if height > 0 {
		page = height - 1
		if page < 1 {
			page = 1
		}
	}
	switch event.Key() {
	case tcell.KeyUp:
		if row > 0 {
			row--
		}
	case tcell.KeyDown:
		row++
	case tcell.KeyPgUp:
		row -= page
		if row < 0 {
			row = 0
		}
	case tcell.KeyPgDn:
		row += page
	case tcell.KeyHome:
		row = 0
	case tcell.KeyEnd:
		row = 1 << 30
	default:
		return false
	}
	target.ScrollTo(row, col)
	return true
}

func accentText(text string) string {
	if text == "" {
		return ""
	}
	return accentTag + text + accentReset
}
