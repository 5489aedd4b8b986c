package ui

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rivo/tview"
)

// pane names a dashboard region that can be marked for repaint.
type pane uint8

const (
	paneFrame pane = iota
	paneReports
	paneStats
	paneLog
	paneCount
)

// paintLoop batches pane updates and hands them to tview at most once per
// tick. Marking a pane twice before a tick keeps only the newest callback.
type paintLoop struct {
	app      *tview.Application
	interval time.Duration
	grace    time.Duration
	applied  func(queued time.Duration)

	mu    sync.Mutex
	dirty [paneCount]func()

	running  atomic.Bool
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newPaintLoop(app *tview.Application, fps int, grace time.Duration, applied func(time.Duration)) *paintLoop {
	if fps <= 0 {
		fps = 30
	}
	if grace <= 0 {
		grace = 100 * time.Millisecond
	}
	return &paintLoop{
		app:      app,
		interval: time.Second / time.Duration(fps),
		grace:    grace,
		applied:  applied,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (p *paintLoop) Start() {
	if p.running.CompareAndSwap(false, true) {
		go p.run()
	}
}

// Purpose: Stop ticking after painting what is still marked.
// Key aspects: Waits at most the grace period for the final batch.
// Upstream: Dashboard.Stop.
// Downstream: paintLoop.run.
func (p *paintLoop) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
		if !p.running.Load() {
			return
		}
		select {
		case <-p.done:
		case <-time.After(p.grace):
		}
	})
}

// Mark queues fn to run on the next tick for the given pane.
func (p *paintLoop) Mark(which pane, fn func()) {
	if p == nil || which >= paneCount {
		return
	}
	p.mu.Lock()
	p.dirty[which] = fn
	p.mu.Unlock()
}

func (p *paintLoop) run() {
	defer close(p.done)
	tick := time.NewTicker(p.interval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			p.paint()
		case <-p.quit:
			deadline := time.Now().Add(p.grace)
			for time.Now().Before(deadline) && p.paint() {
			}
			return
		}
	}
}

// take clears the dirty set and returns its callbacks in pane order.
func (p *paintLoop) take() []func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	var batch []func()
	for i, fn := range p.dirty {
		if fn != nil {
			batch = append(batch, fn)
			p.dirty[i] = nil
		}
	}
	return batch
}

// paint applies one batch and reports whether there was anything to do.
// Without an application the batch runs on the calling goroutine.
func (p *paintLoop) paint() bool {
	batch := p.take()
	if len(batch) == 0 {
		return false
	}
	queued := time.Now()
	apply := func() {
		for _, fn := range batch {
			fn()
		}
		if p.applied != nil {
			p.applied(time.Since(queued))
		}
	}
	if p.app == nil {
		apply()
	} else {
		p.app.QueueUpdateDraw(apply)
	}
	return true
}
