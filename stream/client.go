// Package stream implements the camera stream client: it connects to a vision
// server, sends the dashboard handshake, and decodes the length-prefixed frame
// stream into the latest-frame display state.
//
// Session lifecycle:
//
//	Idle -> Connecting -> Handshaking -> Streaming -> Backoff -> Connecting ...
//
// Any failure lands in Backoff with the error published to the display.
// Reconfigure and Kick cancel the current cycle: blocked dials, reads, and the
// Backoff sleep return immediately and the next cycle starts with the current
// Settings. Stop is terminal.
package stream

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	defaultRetryDelay  = time.Second
	defaultDialTimeout = 5 * time.Second
	readBufferSize     = 32 * 1024
)

// State is the position of the client in its connect/stream/retry cycle.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateHandshaking
	StateStreaming
	StateBackoff
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateStreaming:
		return "streaming"
	case StateBackoff:
		return "backoff"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Settings is the connection configuration for one cycle.
type Settings struct {
	Host string
	Port int
	FPS  int
}

// Addr returns host:port, defaulting the port to DefaultPort.
func (s Settings) Addr() string {
	port := s.Port
	if port <= 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(strings.TrimSpace(s.Host), strconv.Itoa(port))
}

// Display is an immutable snapshot of what the renderer should show. At most
// one of Frame and Err is set; both empty means nothing has arrived yet.
type Display struct {
	Frame   *Frame
	Err     string
	Seq     uint64
	Updated time.Time
}

// HasFrame reports whether the snapshot carries an image.
func (d Display) HasFrame() bool {
	return d.Frame != nil && d.Frame.Image != nil
}

// EventKind identifies a session event.
type EventKind int

const (
	EventConnected EventKind = iota
	EventFrame
	EventBufferGrown
	EventFailed
	EventCancelled
	EventStopped
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventFrame:
		return "frame"
	case EventBufferGrown:
		return "buffer_grown"
	case EventFailed:
		return "failed"
	case EventCancelled:
		return "cancelled"
	case EventStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Event describes a session transition. Payload aliases the reusable frame
// buffer and is only valid for the duration of the callback.
type Event struct {
	Kind      EventKind
	At        time.Time
	Addr      string
	Err       error
	ErrKind   Kind
	Frame     Frame
	Payload   []byte
	BufferCap int
}

// Options tunes the client. Zero values select defaults.
type Options struct {
	RetryDelay  time.Duration
	DialTimeout time.Duration
	// ReadTimeout ends a session that goes this long without a frame.
	// Zero or negative waits indefinitely.
	ReadTimeout time.Duration
	BufferSize  int
	Decode      DecodeFunc
	// Notify runs after every display update, on the stream goroutine.
	Notify func()
	// OnEvent runs synchronously on the stream goroutine and must not block.
	OnEvent func(Event)
}

// Client owns the stream goroutine and the shared display snapshot.
type Client struct {
	opts     Options
	settings atomic.Pointer[Settings]
	display  atomic.Pointer[Display]
	state    atomic.Int32
	seq      atomic.Uint64
	bufCap   atomic.Int64
	shutdown atomic.Bool
	started  atomic.Bool

	mu          sync.Mutex
	cancelRun   context.CancelFunc
	cancelCycle context.CancelFunc

	// buf is only touched by the stream goroutine.
	buf  []byte
	done chan struct{}
}

// NewClient builds an idle client for the given settings.
func NewClient(settings Settings, opts Options) *Client {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	opts.ReadTimeout = max(opts.ReadTimeout, 0)
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Decode == nil {
		opts.Decode = DecodeImage
	}
	c := &Client{
		opts: opts,
		buf:  make([]byte, opts.BufferSize),
		done: make(chan struct{}),
	}
	c.settings.Store(&settings)
	c.display.Store(&Display{})
	c.bufCap.Store(int64(opts.BufferSize))
	return c
}

// Start launches the stream goroutine. Subsequent calls are no-ops.
func (c *Client) Start(ctx context.Context) {
	if c == nil || !c.started.CompareAndSwap(false, true) {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelRun = cancel
	c.mu.Unlock()
	go c.run(runCtx)
}

// Stop shuts the client down and waits for the stream goroutine to exit.
func (c *Client) Stop() {
	if c == nil {
		return
	}
	c.shutdown.Store(true)
	c.mu.Lock()
	if c.cancelRun != nil {
		c.cancelRun()
	}
	if c.cancelCycle != nil {
		c.cancelCycle()
	}
	c.mu.Unlock()
	if c.started.Load() {
		<-c.done
	}
	c.state.Store(int32(StateShutdown))
}

// Done is closed once the stream goroutine has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Reconfigure replaces the connection settings and restarts the cycle now.
func (c *Client) Reconfigure(s Settings) {
	if c == nil {
		return
	}
	c.settings.Store(&s)
	c.Kick()
}

// Kick cancels the current cycle so the client reconnects without waiting
// out the retry delay. It is harmless while a connect is already starting.
func (c *Client) Kick() {
	if c == nil {
		return
	}
	c.mu.Lock()
	cancel := c.cancelCycle
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Settings returns the settings the next cycle will use.
func (c *Client) Settings() Settings {
	return *c.settings.Load()
}

// Display returns the latest frame-or-error snapshot.
func (c *Client) Display() Display {
	return *c.display.Load()
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// BufferCap returns the capacity of the reusable payload buffer.
func (c *Client) BufferCap() int {
	return int(c.bufCap.Load())
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	defer c.emit(Event{Kind: EventStopped})

	for !c.shutdown.Load() && ctx.Err() == nil {
		cycleCtx, cancel := context.WithCancel(ctx)
		c.mu.Lock()
		c.cancelCycle = cancel
		c.mu.Unlock()

		settings := c.Settings()
		addr := settings.Addr()
		err := c.session(cycleCtx, settings)
		if cycleCtx.Err() != nil {
			// Reconfigure, Kick, or Stop: display state is left untouched.
			log.Printf("Stream: capture cycle for %s interrupted", addr)
			c.emit(Event{Kind: EventCancelled, Addr: addr, Err: ErrCancelled, ErrKind: KindCancelled})
			cancel()
			continue
		}

		kind := Classify(err)
		msg := err.Error()
		if isTimeout(err) {
			msg = fmt.Sprintf("%s (no frame within %s)", msg, c.opts.ReadTimeout)
		}
		c.publishError(msg)
		c.emit(Event{Kind: EventFailed, Addr: addr, Err: err, ErrKind: kind})

		c.state.Store(int32(StateBackoff))
		c.wait(cycleCtx, c.opts.RetryDelay)
		cancel()
	}
	c.state.Store(int32(StateShutdown))
}

// Purpose: Sleep for the retry delay unless the cycle is cancelled first.
// Key aspects: Cancellation cuts the wait short so new settings apply at once.
// Upstream: run.
// Downstream: time.NewTimer.
func (c *Client) wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Purpose: Run one connect/handshake/stream session until it fails or is cancelled.
// Key aspects: The connection is closed on every exit path; cancellation closes
// it early so a blocked read returns promptly.
// Upstream: run.
// Downstream: net.Dialer, WriteHandshake, FrameReader.
func (c *Client) session(ctx context.Context, s Settings) error {
	addr := s.Addr()
	c.state.Store(int32(StateConnecting))
	dialer := net.Dialer{Timeout: c.opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &ConnectError{Addr: addr, Err: err}
	}
	defer conn.Close()
	stopWatch := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stopWatch()

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	log.Printf("Stream: established connection to %s", conn.RemoteAddr())
	c.emit(Event{Kind: EventConnected, Addr: addr})

	c.state.Store(int32(StateHandshaking))
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.DialTimeout))
	if err := WriteHandshake(conn, NewHandshake(s.FPS)); err != nil {
		return &IOError{Op: "write handshake", Err: err}
	}
	_ = conn.SetWriteDeadline(time.Time{})

	c.state.Store(int32(StateStreaming))
	fr := NewFrameReader(bufio.NewReaderSize(conn, readBufferSize), c.opts.Decode, c.buf)
	fr.onGrow = func(oldCap, newCap int) {
		c.bufCap.Store(int64(newCap))
		log.Printf("Stream: growing frame buffer %s -> %s", humanize.IBytes(uint64(oldCap)), humanize.IBytes(uint64(newCap)))
		c.emit(Event{Kind: EventBufferGrown, Addr: addr, BufferCap: newCap})
	}
	defer func() {
		c.buf = fr.Buffer()
	}()

	for {
		if c.opts.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		}
		frame, payload, err := fr.ReadFrame()
		if err != nil {
			return err
		}
		c.publishFrame(frame)
		c.emit(Event{Kind: EventFrame, Addr: addr, Frame: frame, Payload: payload})
	}
}

func (c *Client) publishFrame(f Frame) {
	c.display.Store(&Display{Frame: &f, Seq: c.seq.Add(1), Updated: time.Now()})
	if c.opts.Notify != nil {
		c.opts.Notify()
	}
}

func (c *Client) publishError(msg string) {
	c.display.Store(&Display{Err: msg, Seq: c.seq.Add(1), Updated: time.Now()})
	if c.opts.Notify != nil {
		c.opts.Notify()
	}
}

func (c *Client) emit(ev Event) {
	if c.opts.OnEvent == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	c.opts.OnEvent(ev)
}
