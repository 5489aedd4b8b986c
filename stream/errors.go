package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

var (
	// ErrBadMagic reports a frame header that did not start with Magic.
	ErrBadMagic = errors.New("bad magic")
	// ErrNegativeSize reports a frame header with a negative payload length.
	ErrNegativeSize = errors.New("bad frame size")
	// ErrCancelled is returned when a session ends because the cycle was cancelled.
	// It triggers an immediate reconnect and is never shown as a display error.
	ErrCancelled = errors.New("stream: cancelled")
)

// Kind classifies a session failure.
type Kind int

const (
	KindNone Kind = iota
	KindConnect
	KindProtocol
	KindIO
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindConnect:
		return "connect"
	case KindProtocol:
		return "protocol"
	case KindIO:
		return "io"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ConnectError wraps a TCP dial or name resolution failure.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ProtocolError wraps framing and decode failures. The stream is assumed to be
// desynchronized, so the session is torn down.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return "protocol error: " + e.Reason
	}
	return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IOError wraps a read or write failure on an established connection.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Purpose: Map an error onto the session failure taxonomy.
// Key aspects: Cancellation wins over the wrapping type because a cancelled
// read surfaces as a closed-connection IO error.
// Upstream: Client.Run, tests.
// Downstream: errors.As / errors.Is.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	var connectErr *ConnectError
	if errors.As(err, &connectErr) {
		return KindConnect
	}
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return KindProtocol
	}
	return KindIO
}

// Purpose: Wrap a read error, treating a short payload read as a protocol error.
// Key aspects: EOF before the first magic byte is an IO error (peer closed
// between frames); EOF anywhere inside a frame means a truncated frame.
// Upstream: FrameReader.ReadFrame.
// Downstream: None.
func wrapRead(op string, err error, midFrame bool) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || (midFrame && errors.Is(err, io.EOF)) {
		return &ProtocolError{Reason: "truncated " + op, Err: err}
	}
	return &IOError{Op: "read " + op, Err: err}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
