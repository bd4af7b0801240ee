package client_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/brlapi/bapserver/client"
	"github.com/brlapi/bapserver/internal/authn"
	"github.com/brlapi/bapserver/internal/core"
	"github.com/brlapi/bapserver/internal/driver"
	"github.com/brlapi/bapserver/internal/metrics"
	"github.com/brlapi/bapserver/internal/obslog"
	"github.com/brlapi/bapserver/internal/transport"
)

// fakeDriver is a minimal local driver.Driver double, a smaller
// counterpart of the one in internal/core's tests: types declared in
// another package's _test.go files cannot be imported, so it is defined
// again here.
type fakeDriver struct {
	size driver.Size
	keys chan uint64
}

func (f *fakeDriver) Name() string                    { return "fake" }
func (f *fakeDriver) Open(ctx context.Context) error  { return nil }
func (f *fakeDriver) Close() error                    { return nil }
func (f *fakeDriver) DisplaySize() driver.Size        { return f.size }
func (f *fakeDriver) Keys() <-chan uint64             { return f.keys }
func (f *fakeDriver) SupportsRaw() bool               { return false }
func (f *fakeDriver) SendRaw(p []byte) error          { return driver.ErrNotRaw }
func (f *fakeDriver) RecvRaw() (<-chan []byte, error) { return nil, driver.ErrNotRaw }
func (f *fakeDriver) Reset() error                    { return nil }
func (f *fakeDriver) GetParameter(id driver.ParamID, subparam uint32) (any, error) {
	return nil, nil
}
func (f *fakeDriver) SetParameter(id driver.ParamID, subparam uint32, value any) error {
	return nil
}
func (f *fakeDriver) WriteCells(begin, size uint32, cells []byte) error { return nil }

func startServer(t *testing.T) (ctx context.Context, addr string, stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	neg, err := authn.New(authn.Config{AllowNone: true})
	require.NoError(t, err)

	c, err := core.New(ctx, core.Config{
		Driver:           &fakeDriver{size: driver.Size{Width: 4, Height: 1}, keys: make(chan uint64, 4)},
		Authn:            neg,
		Metrics:          metrics.NewRegistry(prometheus.NewRegistry()),
		Logger:           obslog.New(io.Discard, 0),
		HandshakeTimeout: 2 * time.Second,
	})
	require.NoError(t, err)

	ln := &transport.TCPListener{Host: "127.0.0.1", Port: 0}
	listeners := []transport.Listener{ln}

	go func() {
		_ = c.Run(ctx, listeners)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for ln.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.NotEmpty(t, ln.Addr(), "listener never bound")

	return ctx, ln.Addr(), cancel
}

func TestDialEnterTtyWriteText(t *testing.T) {
	_, addr, stop := startServer(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := client.Dial(ctx, "tcp", addr, authn.MethodNone, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.EnterTty(0, ""))
	require.NoError(t, conn.WriteText(0, "test"))
	require.NoError(t, conn.LeaveTty())
}

func TestDialTwiceBothSucceed(t *testing.T) {
	_, addr, stop := startServer(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn1, err := client.Dial(ctx, "tcp", addr, authn.MethodNone, nil)
	require.NoError(t, err)
	defer conn1.Close()

	conn2, err := client.Dial(ctx, "tcp", addr, authn.MethodNone, nil)
	require.NoError(t, err)
	defer conn2.Close()
	require.NoError(t, conn2.EnterTty(0, ""))
}

func TestRequestIDsAreUnique(t *testing.T) {
	a := client.RequestID()
	b := client.RequestID()
	require.NotEqual(t, a, b)
}
