package core

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/brlapi/bapserver/internal/authn"
	"github.com/brlapi/bapserver/internal/bap"
	"github.com/brlapi/bapserver/internal/connstate"
	"github.com/brlapi/bapserver/internal/obslog"
	"github.com/brlapi/bapserver/internal/protocolio"
	"github.com/brlapi/bapserver/internal/transport"
	"github.com/brlapi/bapserver/internal/wire"
)

type endpointLabel string

func (e endpointLabel) String() string { return string(e) }

// handleConnection runs one accepted connection end to end: the
// version/auth handshake, then the frame-dispatch loop, until the peer
// disconnects, sends a fatal error, or ctx is cancelled.
func (c *Core) handleConnection(ctx context.Context, acc transport.Accepted) {
	connID := uuid.NewString()

	conn := connstate.New(connID, endpointLabel(acc.Addr))
	log := obslog.ConnLogger(c.log, connID)

	c.registerConn(acc.Conn, conn)
	defer func() {
		c.unregisterConn(conn)
		c.cleanupConn(conn)
		acc.Conn.Close()
		log.Debug("connection closed")
	}()

	log.Debug("connection accepted", "local", acc.Local, "addr", acc.Addr)

	if !c.acquireUnauthSlot() {
		log.Warn("rejecting connection: too many unauthenticated connections in flight")
		return
	}
	handshakeErr := c.handshake(ctx, acc, conn)
	c.releaseUnauthSlot()
	if handshakeErr != nil {
		log.Warn("handshake failed", "err", handshakeErr)
		return
	}
	if err := conn.Transition("auth_ok"); err != nil {
		return
	}
	if err := acc.Conn.SendAck(); err != nil {
		return
	}
	log.Debug("authenticated")

	buf := make([]byte, wire.MaxPayload)
	for {
		tag, payload, err := acc.Conn.ReadFrame(buf)
		if err != nil {
			if protocolio.IsTruncated(err) {
				// Truncated per spec.md §7's scenario 6: process the
				// prefix normally, the stream is already resynchronized
				// at the next frame boundary.
			} else {
				return
			}
		}

		ferr := c.handleFrame(ctx, acc.Conn, conn, tag, payload)
		if ferr == nil {
			continue
		}
		code := bap.CodeOf(ferr)
		_ = acc.Conn.SendError(code)
		if code == bap.InvalidPacket || code == bap.ProtocolVersion {
			return
		}
	}
}

// handshake implements spec.md §4.B: version exchange, method offer,
// method-specific verification against the accepted connection's cached
// peer credentials.
func (c *Core) handshake(ctx context.Context, acc transport.Accepted, conn *connstate.Connection) error {
	// A handshake that never completes must not pin a connection slot
	// forever (spec.md §5); closing the transport unblocks whichever
	// read is in flight below.
	watchdog := time.AfterFunc(c.cfg.HandshakeTimeout, func() { acc.Conn.Close() })
	defer watchdog.Stop()

	buf := make([]byte, wire.MaxPayload)

	tag, payload, err := acc.Conn.ReadFrame(buf)
	if err != nil {
		return err
	}
	if tag != protocolio.TagVersion {
		return bap.New(bap.InvalidPacket, "expected version frame first")
	}
	v, err := protocolio.UnmarshalVersion(payload)
	if err != nil {
		return bap.New(bap.InvalidPacket, "malformed version payload")
	}
	if err := c.cfg.Authn.CheckVersion(v.Version); err != nil {
		_ = acc.Conn.SendError(bap.CodeOf(err))
		return err
	}
	if err := acc.Conn.Send(protocolio.TagVersion, protocolio.VersionPayload{Version: authn.ProtocolVersion}.Marshal()); err != nil {
		return err
	}

	methods := c.cfg.Authn.OfferedMethods()
	offer := make([]uint32, len(methods))
	for i, m := range methods {
		offer[i] = uint32(m)
	}
	if err := acc.Conn.Send(protocolio.TagAuth, protocolio.AuthOfferPayload{Methods: offer}.Marshal()); err != nil {
		return err
	}

	tag, payload, err = acc.Conn.ReadFrame(buf)
	if err != nil {
		return err
	}
	if tag != protocolio.TagAuth {
		return bap.New(bap.InvalidPacket, "expected auth request frame")
	}
	req, err := protocolio.UnmarshalAuthRequest(payload)
	if err != nil {
		return bap.New(bap.InvalidPacket, "malformed auth request payload")
	}

	src := transport.CredentialSource(acc.Creds)
	if err := c.cfg.Authn.Authenticate(ctx, authn.Method(req.MethodID), req.Data, src); err != nil {
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.AuthFailuresTotal.Inc()
		}
		_ = acc.Conn.SendError(bap.CodeOf(err))
		return err
	}
	return nil
}

// handleFrame dispatches one post-handshake frame to its handler. The
// returned error, if any, becomes an `e` (or fatal `e`+close) reply; it
// is never sent twice.
func (c *Core) handleFrame(ctx context.Context, wc *protocolio.Conn, conn *connstate.Connection, tag protocolio.Tag, payload []byte) error {
	switch tag {
	case protocolio.TagEnterTty:
		return c.opEnterTty(ctx, wc, conn, payload)
	case protocolio.TagLeaveTty:
		return c.opLeaveTty(wc, conn)
	case protocolio.TagSetFocus:
		return c.opSetFocus(wc, conn, payload)
	case protocolio.TagWriteCells:
		return c.opWriteCells(wc, conn, payload)
	case protocolio.TagIgnoreKeys:
		return c.opKeyRanges(wc, conn, payload, false)
	case protocolio.TagAcceptKeys:
		return c.opKeyRanges(wc, conn, payload, true)
	case protocolio.TagEnterRaw:
		return c.opEnterRaw(ctx, wc, conn, payload)
	case protocolio.TagLeaveRaw:
		return c.opLeaveRaw(wc, conn)
	case protocolio.TagRawData:
		return c.opSendRaw(wc, conn, payload)
	case protocolio.TagSuspendDriver:
		return c.opSuspendDriver(wc, conn, payload)
	case protocolio.TagResumeDriver:
		return c.opResumeDriver(ctx, wc, conn)
	case protocolio.TagGetParameter:
		return c.opGetParameter(wc, conn, payload)
	case protocolio.TagSetParameter:
		return c.opSetParameter(wc, conn, payload)
	case protocolio.TagWatchParameter:
		return c.opWatchParameter(wc, conn, payload)
	case protocolio.TagUnwatchParameter:
		return c.opUnwatchParameter(wc, conn, payload)
	default:
		return bap.New(bap.UnknownInstruction, "unrecognized frame tag")
	}
}
