// Package client is the Go binding for the BAP wire protocol: what a
// screen-reader, a scripting tool, or another language's binding would
// link against instead of talking to internal/protocolio directly. It
// mirrors the shape of the teacher's internal/pty.Hub actor loop, with
// the physical connection playing the part of the hub and each blocking
// call (ReadKey, the request/reply helpers) playing the part of a
// registered client waiting on its own channel.
package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brlapi/bapserver/internal/authn"
	"github.com/brlapi/bapserver/internal/bap"
	"github.com/brlapi/bapserver/internal/keycode"
	"github.com/brlapi/bapserver/internal/protocolio"
	"github.com/brlapi/bapserver/internal/wire"
)

// DialTimeout bounds the version/auth handshake a Dial performs before
// handing back a ready Conn.
const DialTimeout = 10 * time.Second

// Conn is one client connection to a bapserverd instance. All exported
// methods are safe to call from multiple goroutines except that, like the
// original C library, only one request may be outstanding at a time;
// concurrent callers serialize behind an internal mutex instead of racing
// replies against each other.
type Conn struct {
	nc net.Conn
	wc *protocolio.Conn

	reqMu sync.Mutex // serializes request/reply pairs

	replies      chan frame
	keys         chan keycode.Code
	raw          chan []byte
	paramUpdates chan ParameterUpdate

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

type frame struct {
	tag     protocolio.Tag
	payload []byte
}

// Dial connects to addr over network ("unix" or "tcp"), negotiates the
// protocol version, and authenticates with the given method and payload
// (empty for MethodNone).
func Dial(ctx context.Context, network, addr string, method authn.Method, authData []byte) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s %s: %w", network, addr, err)
	}

	c := &Conn{
		nc:           nc,
		wc:           protocolio.NewConn(wire.New(nc)),
		replies:      make(chan frame, 1),
		keys:         make(chan keycode.Code, 256),
		raw:          make(chan []byte, 64),
		paramUpdates: make(chan ParameterUpdate, 32),
		closed:       make(chan struct{}),
	}

	if err := c.handshake(method, authData); err != nil {
		nc.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

func (c *Conn) handshake(method authn.Method, authData []byte) error {
	buf := make([]byte, wire.MaxPayload)

	if err := c.wc.Send(protocolio.TagVersion, protocolio.VersionPayload{Version: authn.ProtocolVersion}.Marshal()); err != nil {
		return err
	}
	tag, payload, err := c.wc.ReadFrame(buf)
	if err != nil {
		return err
	}
	if tag == protocolio.TagError {
		return errorFromPayload(payload)
	}
	if tag != protocolio.TagVersion {
		return fmt.Errorf("client: expected version frame, got %s", tag)
	}
	if _, err := protocolio.UnmarshalVersion(payload); err != nil {
		return err
	}

	tag, payload, err = c.wc.ReadFrame(buf)
	if err != nil {
		return err
	}
	if tag != protocolio.TagAuth {
		return fmt.Errorf("client: expected auth-offer frame, got %s", tag)
	}
	if _, err := protocolio.UnmarshalAuthOffer(payload); err != nil {
		return err
	}

	if err := c.wc.Send(protocolio.TagAuth, protocolio.AuthRequestPayload{MethodID: uint32(method), Data: authData}.Marshal()); err != nil {
		return err
	}
	tag, payload, err = c.wc.ReadFrame(buf)
	if err != nil {
		return err
	}
	switch tag {
	case protocolio.TagAck:
		return nil
	case protocolio.TagError:
		return errorFromPayload(payload)
	default:
		return fmt.Errorf("client: unexpected frame %s during auth", tag)
	}
}

func errorFromPayload(payload []byte) error {
	ep, err := protocolio.UnmarshalError(payload)
	if err != nil {
		return fmt.Errorf("client: malformed error frame: %w", err)
	}
	return bap.New(ep.Code, ep.Code.String())
}

// readLoop is the single reader for the underlying connection, in the
// shape of the teacher's Hub.readLoop: it owns the socket read side and
// fans frames out, unsolicited key/raw events onto their side channels,
// everything else onto the single in-flight reply channel.
func (c *Conn) readLoop() {
	defer close(c.keys)
	defer close(c.raw)
	defer close(c.paramUpdates)

	buf := make([]byte, wire.MaxPayload)
	for {
		tag, payload, err := c.wc.ReadFrame(buf)
		if err != nil {
			if protocolio.IsTruncated(err) {
				continue
			}
			c.fail(err)
			return
		}

		switch tag {
		case protocolio.TagKeyEvent:
			ke, err := protocolio.UnmarshalKeyEvent(payload)
			if err != nil {
				continue
			}
			select {
			case c.keys <- ke.Code:
			default:
				// Slow reader: drop the incoming event rather than block the
				// socket (unlike internal/dispatch.EventBuffer, which drops
				// its oldest entry instead).
			}
		case protocolio.TagRawData:
			cp := append([]byte{}, payload...)
			select {
			case c.raw <- cp:
			default:
			}
		case protocolio.TagParameterUpdate:
			// Unsolicited, like TagKeyEvent/TagRawData: it must never be
			// routed onto c.replies, since no request() call is waiting
			// for it and it would otherwise be mistaken for the reply to
			// whatever request happens to be in flight next.
			pu, err := protocolio.UnmarshalParameterUpdate(payload)
			if err != nil {
				continue
			}
			value, err := pu.Value.ToAny()
			if err != nil {
				continue
			}
			select {
			case c.paramUpdates <- ParameterUpdate{Descriptor: pu.Descriptor, Value: value}:
			default:
			}
		default:
			cp := append([]byte{}, payload...)
			select {
			case c.replies <- frame{tag: tag, payload: cp}:
			case <-c.closed:
				return
			}
		}
	}
}

func (c *Conn) fail(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.closed)
		c.nc.Close()
	})
}

// request sends one frame and waits for the next non-key, non-raw reply.
// Only one request may be in flight at a time; concurrent callers queue
// on reqMu, same as the original library's single-fd mutex.
func (c *Conn) request(tag protocolio.Tag, payload []byte) (protocolio.Tag, []byte, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if err := c.wc.Send(tag, payload); err != nil {
		return 0, nil, err
	}
	select {
	case rep := <-c.replies:
		return rep.tag, rep.payload, nil
	case <-c.closed:
		return 0, nil, c.closeErr
	}
}

// requireAck sends one frame and turns a non-ack reply into an error.
func (c *Conn) requireAck(tag protocolio.Tag, payload []byte) error {
	rep, rpayload, err := c.request(tag, payload)
	if err != nil {
		return err
	}
	switch rep {
	case protocolio.TagAck:
		return nil
	case protocolio.TagError:
		return errorFromPayload(rpayload)
	case protocolio.TagException:
		ex, err := protocolio.UnmarshalException(rpayload)
		if err != nil {
			return fmt.Errorf("client: malformed exception frame: %w", err)
		}
		return bap.New(ex.Code, ex.Code.String())
	default:
		return fmt.Errorf("client: unexpected reply frame %s", rep)
	}
}

// Close releases the connection. Outstanding Keys()/RawData() channels
// are closed once readLoop observes the socket close.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return c.nc.Close()
}

// Keys delivers unsolicited key events (spec.md §4.G) as they arrive.
// The channel closes when the connection is closed or fails.
func (c *Conn) Keys() <-chan keycode.Code { return c.keys }

// RawData delivers unsolicited raw passthrough bytes (spec.md §4.H) while
// this connection holds raw mode. The channel closes with the connection.
func (c *Conn) RawData() <-chan []byte { return c.raw }

// ParameterUpdate is an unsolicited push for a parameter this connection
// is watching (spec.md §4.E's watch_parameter contract). Value holds the
// same concrete type GetParameter/SetParameter exchange for that
// parameter id (uint32, string, or driver.Size).
type ParameterUpdate struct {
	Descriptor uint32
	Value      any
}

// ParameterUpdates delivers pushes for every parameter this connection
// currently watches, keyed by the descriptor WatchParameter returned. The
// channel closes with the connection.
func (c *Conn) ParameterUpdates() <-chan ParameterUpdate { return c.paramUpdates }

// RequestID mints a correlation id a caller can thread through its own
// logging around a request/reply pair. The wire protocol itself carries
// no id (each connection serializes one request at a time), so this
// exists purely for the caller's own bookkeeping across retries.
func RequestID() string { return uuid.NewString() }
