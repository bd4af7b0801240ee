package protocolio

import (
	"errors"
	"fmt"

	"github.com/brlapi/bapserver/internal/bap"
	"github.com/brlapi/bapserver/internal/wire"
)

// Conn wraps a wire.Conn with tag-aware send helpers so callers pass a
// Tag and a pre-marshaled payload rather than juggling wire.Conn directly.
type Conn struct {
	*wire.Conn
}

// NewConn wraps w.
func NewConn(w *wire.Conn) *Conn { return &Conn{Conn: w} }

// Send writes one frame with the given tag and payload.
func (c *Conn) Send(t Tag, payload []byte) error {
	return c.WriteFrame(uint32(t), payload)
}

// SendAck writes an empty `A` frame.
func (c *Conn) SendAck() error { return c.Send(TagAck, nil) }

// SendError writes an `e` frame for code.
func (c *Conn) SendError(code bap.Code) error {
	return c.Send(TagError, ErrorPayload{Code: code}.Marshal())
}

// SendException writes an `E` frame, fatal to the session per spec.md §7.
func (c *Conn) SendException(code bap.Code, offendingType Tag, offending []byte) error {
	return c.Send(TagException, ExceptionPayload{Code: code, OffendingType: offendingType, OffendingBytes: offending}.Marshal())
}

// errTruncated is wrapped into ReadFrame's returned error when the
// announced payload length exceeds the caller's buffer, per spec.md
// §4.A's recv-with-truncation semantics: the stream is still
// re-synchronized at the next frame boundary, and the caller gets the
// truncated prefix to process normally (spec.md §7).
var errTruncated = errors.New("protocolio: frame truncated to buffer capacity")

// IsTruncated reports whether err is (or wraps) errTruncated.
func IsTruncated(err error) bool {
	return errors.Is(err, errTruncated)
}

// ReadFrame reads one frame's header and its full content (truncating per
// internal/wire's semantics if it exceeds buf's capacity), returning the
// tag and the bytes actually read. On truncation it returns the truncated
// payload alongside a non-nil error satisfying IsTruncated — callers that
// only care about fatal errors should check IsTruncated before treating
// the error as terminal.
func (c *Conn) ReadFrame(buf []byte) (Tag, []byte, error) {
	hdr, err := c.ReadHeader()
	if err != nil {
		return 0, nil, err
	}
	n, err := c.ReadContent(hdr.Length, buf)
	if err != nil {
		return 0, nil, err
	}
	if int(hdr.Length) > len(buf) {
		return Tag(hdr.Type), buf[:n], fmt.Errorf("%w: announced %d, buffer %d", errTruncated, hdr.Length, len(buf))
	}
	return Tag(hdr.Type), buf[:n], nil
}
