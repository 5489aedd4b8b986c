package stream

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/zeebo/xxh3"
)

// Wire constants for the dashboard camera protocol.
const (
	DefaultPort = 1180

	// HardwareCompression is always sent as -1 (no compression negotiation).
	HardwareCompression int32 = -1
	// ResolutionDefault is the single supported resolution enum value.
	ResolutionDefault int32 = 0

	handshakeSize = 12
	headerSize    = 8
)

// Magic prefixes every frame.
var Magic = [4]byte{0x01, 0x00, 0x00, 0x00}

// DecodeFunc turns an encoded payload into a raster image.
type DecodeFunc func(payload []byte) (image.Image, error)

// DecodeImage decodes any format registered with the image package (JPEG and
// PNG are linked in by this package).
func DecodeImage(payload []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(payload))
	return img, err
}

// Handshake is the client greeting sent once per connection.
type Handshake struct {
	FPS         int32
	Compression int32
	Resolution  int32
}

// NewHandshake returns the greeting for fps with the fixed compatibility fields.
func NewHandshake(fps int) Handshake {
	return Handshake{FPS: int32(fps), Compression: HardwareCompression, Resolution: ResolutionDefault}
}

// Purpose: Encode the handshake as three big-endian int32 values.
// Key aspects: Single write so the greeting is not split across segments.
// Upstream: Client session, tests.
// Downstream: io.Writer.Write.
func WriteHandshake(w io.Writer, hs Handshake) error {
	var buf [handshakeSize]byte
	binary.BigEndian.PutUint32(buf[0:4], uint32(hs.FPS))
	binary.BigEndian.PutUint32(buf[4:8], uint32(hs.Compression))
	binary.BigEndian.PutUint32(buf[8:12], uint32(hs.Resolution))
	_, err := w.Write(buf[:])
	return err
}

// ReadHandshake reads the greeting on the server side.
func ReadHandshake(r io.Reader) (Handshake, error) {
	var buf [handshakeSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Handshake{}, err
	}
	return Handshake{
		FPS:         int32(binary.BigEndian.Uint32(buf[0:4])),
		Compression: int32(binary.BigEndian.Uint32(buf[4:8])),
		Resolution:  int32(binary.BigEndian.Uint32(buf[8:12])),
	}, nil
}

// WriteFrame encodes one frame: magic, big-endian int32 length, payload.
func WriteFrame(w io.Writer, payload []byte) error {
	var hdr [headerSize]byte
	copy(hdr[:4], Magic[:])
	binary.BigEndian.PutUint32(hdr[4:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// Frame is one decoded image plus metadata about its encoded payload.
type Frame struct {
	Image  image.Image
	Size   int
	Digest uint64
}

// FrameReader reads frames from a stream into a reusable payload buffer.
// It is not safe for concurrent use.
type FrameReader struct {
	r      io.Reader
	decode DecodeFunc
	header [headerSize]byte
	buf    []byte
	onGrow func(oldCap, newCap int)
}

// NewFrameReader wraps r. A nil decode uses DecodeImage; a nil buf starts at
// DefaultBufferSize.
func NewFrameReader(r io.Reader, decode DecodeFunc, buf []byte) *FrameReader {
	if decode == nil {
		decode = DecodeImage
	}
	if buf == nil {
		buf = make([]byte, DefaultBufferSize)
	}
	return &FrameReader{r: r, decode: decode, buf: buf}
}

// Buffer returns the payload buffer so it can be reused by the next session.
func (fr *FrameReader) Buffer() []byte {
	return fr.buf
}

// Purpose: Read, validate, and decode a single frame.
// Key aspects: Bad magic, negative length, truncated payload, and decode
// failures are ProtocolErrors; the payload view is only valid until the next call.
// Upstream: Client streaming loop.
// Downstream: Grow, DecodeFunc, xxh3.Hash.
func (fr *FrameReader) ReadFrame() (Frame, []byte, error) {
	if _, err := io.ReadFull(fr.r, fr.header[:4]); err != nil {
		return Frame{}, nil, wrapRead("magic", err, false)
	}
	if !bytes.Equal(fr.header[:4], Magic[:]) {
		return Frame{}, nil, &ProtocolError{Reason: fmt.Sprintf("wrong magic numbers %v", fr.header[:4]), Err: ErrBadMagic}
	}
	if _, err := io.ReadFull(fr.r, fr.header[4:]); err != nil {
		return Frame{}, nil, wrapRead("frame size", err, true)
	}
	size := int32(binary.BigEndian.Uint32(fr.header[4:]))
	if size < 0 {
		return Frame{}, nil, &ProtocolError{Reason: fmt.Sprintf("payload size %d", size), Err: ErrNegativeSize}
	}
	n := int(size)
	if n > cap(fr.buf) && fr.onGrow != nil {
		old := cap(fr.buf)
		fr.buf = Grow(fr.buf, n)
		fr.onGrow(old, cap(fr.buf))
	} else {
		fr.buf = Grow(fr.buf, n)
	}
	payload := fr.buf[:n]
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return Frame{}, nil, wrapRead("payload", err, true)
	}
	img, err := fr.decode(payload)
	if err != nil {
		return Frame{}, nil, &ProtocolError{Reason: "decode image", Err: err}
	}
	if img == nil {
		return Frame{}, nil, &ProtocolError{Reason: "decode image: no image"}
	}
	return Frame{Image: img, Size: n, Digest: xxh3.Hash(payload)}, payload, nil
}
