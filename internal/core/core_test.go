package core

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/brlapi/bapserver/internal/authn"
	"github.com/brlapi/bapserver/internal/bap"
	"github.com/brlapi/bapserver/internal/driver"
	"github.com/brlapi/bapserver/internal/metrics"
	"github.com/brlapi/bapserver/internal/obslog"
	"github.com/brlapi/bapserver/internal/protocolio"
	"github.com/brlapi/bapserver/internal/transport"
	"github.com/brlapi/bapserver/internal/wire"
)

// fakeDriver is a minimal driver.Driver double, in the shape of
// internal/arbiter's own fakeDriver, extended with a real Keys channel so
// dispatch tests can push synthetic key events through it.
type fakeDriver struct {
	size driver.Size

	keys chan uint64

	written []byte
	begin   uint32
	length  uint32
	calls   int
}

func newFakeDriver(w, h uint32) *fakeDriver {
	return &fakeDriver{size: driver.Size{Width: w, Height: h}, keys: make(chan uint64, 16)}
}

func (f *fakeDriver) Name() string                   { return "fake" }
func (f *fakeDriver) Open(ctx context.Context) error { return nil }
func (f *fakeDriver) Close() error                   { return nil }
func (f *fakeDriver) DisplaySize() driver.Size       { return f.size }
func (f *fakeDriver) Keys() <-chan uint64            { return f.keys }
func (f *fakeDriver) SupportsRaw() bool              { return false }
func (f *fakeDriver) SendRaw(p []byte) error         { return driver.ErrNotRaw }
func (f *fakeDriver) RecvRaw() (<-chan []byte, error) {
	return nil, driver.ErrNotRaw
}
func (f *fakeDriver) Reset() error { return nil }
func (f *fakeDriver) GetParameter(id driver.ParamID, subparam uint32) (any, error) {
	return nil, nil
}
func (f *fakeDriver) SetParameter(id driver.ParamID, subparam uint32, value any) error {
	return nil
}

func (f *fakeDriver) WriteCells(begin, size uint32, cells []byte) error {
	f.calls++
	f.begin = begin
	f.length = size
	f.written = append([]byte{}, cells...)
	return nil
}

func testCore(t *testing.T, ctx context.Context, drv driver.Driver) *Core {
	t.Helper()
	neg, err := authn.New(authn.Config{AllowNone: true})
	require.NoError(t, err)

	reg := metrics.NewRegistry(prometheus.NewRegistry())
	logger := obslog.New(io.Discard, 0)

	c, err := New(ctx, Config{
		Driver:           drv,
		Authn:            neg,
		Metrics:          reg,
		Logger:           logger,
		HandshakeTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	return c
}

// clientPair wires a net.Pipe as the framed client side of a connection
// and returns the transport.Accepted the server side would have produced.
func clientPair() (*protocolio.Conn, transport.Accepted) {
	client, server := net.Pipe()
	cc := protocolio.NewConn(wire.New(client))
	acc := transport.Accepted{
		Conn:  protocolio.NewConn(wire.New(server)),
		Creds: authn.Credentials{Valid: true, UID: 1000, GID: 1000},
		Local: true,
		Addr:  "test-pipe",
	}
	return cc, acc
}

func doHandshake(t *testing.T, cc *protocolio.Conn) {
	t.Helper()
	buf := make([]byte, wire.MaxPayload)

	require.NoError(t, cc.Send(protocolio.TagVersion, protocolio.VersionPayload{Version: authn.ProtocolVersion}.Marshal()))

	tag, payload, err := cc.ReadFrame(buf)
	require.NoError(t, err)
	require.Equal(t, protocolio.TagVersion, tag)
	v, err := protocolio.UnmarshalVersion(payload)
	require.NoError(t, err)
	require.Equal(t, authn.ProtocolVersion, v.Version)

	tag, payload, err = cc.ReadFrame(buf)
	require.NoError(t, err)
	require.Equal(t, protocolio.TagAuth, tag)
	offer, err := protocolio.UnmarshalAuthOffer(payload)
	require.NoError(t, err)
	require.Contains(t, offer.Methods, uint32(authn.MethodNone))

	require.NoError(t, cc.Send(protocolio.TagAuth, protocolio.AuthRequestPayload{MethodID: uint32(authn.MethodNone)}.Marshal()))

	tag, _, err = cc.ReadFrame(buf)
	require.NoError(t, err)
	require.Equal(t, protocolio.TagAck, tag)
}

func TestHandshakeThenEnterTtyRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	drv := newFakeDriver(4, 1)
	c := testCore(t, ctx, drv)
	cc, acc := clientPair()

	go c.handleConnection(ctx, acc)

	doHandshake(t, cc)

	buf := make([]byte, wire.MaxPayload)
	require.NoError(t, cc.Send(protocolio.TagEnterTty, protocolio.EnterTtyPayload{}.Marshal()))
	tag, _, err := cc.ReadFrame(buf)
	require.NoError(t, err)
	require.Equal(t, protocolio.TagAck, tag)

	// A filling write should reach the driver through the arbiter.
	require.NoError(t, cc.Send(protocolio.TagWriteCells, protocolio.WriteCellsPayload{
		HasOrMask: true,
		OrMask:    []byte{0x01, 0x02, 0x03, 0x04},
	}.Marshal()))
	tag, _, err = cc.ReadFrame(buf)
	require.NoError(t, err)
	require.Equal(t, protocolio.TagAck, tag)
	require.Equal(t, 1, drv.calls)
	require.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, drv.written)
}

func TestVersionMismatchClosesConnection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	drv := newFakeDriver(4, 1)
	c := testCore(t, ctx, drv)
	cc, acc := clientPair()

	go c.handleConnection(ctx, acc)

	require.NoError(t, cc.Send(protocolio.TagVersion, protocolio.VersionPayload{Version: authn.ProtocolVersion + 1}.Marshal()))

	buf := make([]byte, wire.MaxPayload)
	tag, payload, err := cc.ReadFrame(buf)
	require.NoError(t, err)
	require.Equal(t, protocolio.TagError, tag)
	ep, err := protocolio.UnmarshalError(payload)
	require.NoError(t, err)
	require.Equal(t, bap.ProtocolVersion, ep.Code)
}

func TestLeaveTtyWithoutEnterIsIllegal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	drv := newFakeDriver(4, 1)
	c := testCore(t, ctx, drv)
	cc, acc := clientPair()

	go c.handleConnection(ctx, acc)
	doHandshake(t, cc)

	require.NoError(t, cc.Send(protocolio.TagLeaveTty, nil))
	buf := make([]byte, wire.MaxPayload)
	tag, payload, err := cc.ReadFrame(buf)
	require.NoError(t, err)
	require.Equal(t, protocolio.TagError, tag)
	ep, err := protocolio.UnmarshalError(payload)
	require.NoError(t, err)
	require.Equal(t, bap.IllegalInstruction, ep.Code)
}

func TestKeyDispatchReachesFocusedConnection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	drv := newFakeDriver(4, 1)
	c := testCore(t, ctx, drv)
	cc, acc := clientPair()

	go c.handleConnection(ctx, acc)
	doHandshake(t, cc)

	buf := make([]byte, wire.MaxPayload)
	require.NoError(t, cc.Send(protocolio.TagEnterTty, protocolio.EnterTtyPayload{}.Marshal()))
	tag, _, err := cc.ReadFrame(buf)
	require.NoError(t, err)
	require.Equal(t, protocolio.TagAck, tag)

	go c.runKeyLoop(ctx)
	drv.keys <- 0x0000000100000005

	tag, payload, err := cc.ReadFrame(buf)
	require.NoError(t, err)
	require.Equal(t, protocolio.TagKeyEvent, tag)
	ke, err := protocolio.UnmarshalKeyEvent(payload)
	require.NoError(t, err)
	require.Equal(t, uint64(0x0000000100000005), uint64(ke.Code))
}
