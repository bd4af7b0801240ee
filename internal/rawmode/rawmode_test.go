package rawmode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/brlapi/bapserver/internal/bap"
	"github.com/brlapi/bapserver/internal/connstate"
	"github.com/brlapi/bapserver/internal/driver"
)

type fakeEndpoint string

func (f fakeEndpoint) String() string { return string(f) }

type fakeDriver struct {
	raw        bool
	opened     bool
	resetCalls int
	openErr    error
}

func (d *fakeDriver) Name() string                   { return "fake" }
func (d *fakeDriver) Open(ctx context.Context) error { d.opened = true; return d.openErr }
func (d *fakeDriver) Close() error                   { d.opened = false; return nil }
func (d *fakeDriver) DisplaySize() driver.Size       { return driver.Size{} }
func (d *fakeDriver) WriteCells(begin, size uint32, cells []byte) error { return nil }
func (d *fakeDriver) Keys() <-chan uint64                               { return nil }
func (d *fakeDriver) SupportsRaw() bool                                 { return d.raw }
func (d *fakeDriver) SendRaw(p []byte) error                            { return nil }
func (d *fakeDriver) RecvRaw() (<-chan []byte, error)                   { return nil, nil }
func (d *fakeDriver) Reset() error                                      { d.resetCalls++; return nil }
func (d *fakeDriver) GetParameter(id driver.ParamID, subparam uint32) (any, error) {
	return nil, nil
}
func (d *fakeDriver) SetParameter(id driver.ParamID, subparam uint32, value any) error { return nil }

func TestEnterRawRejectedWithoutCapability(t *testing.T) {
	c := New()
	drv := &fakeDriver{raw: false}
	conn := connstate.New("a", fakeEndpoint("a"))

	err := c.EnterRaw(context.Background(), conn, drv)
	require.Equal(t, bap.OpNotSupported, bap.CodeOf(err))
}

func TestEnterRawThenSecondConnectionBusy(t *testing.T) {
	c := New()
	drv := &fakeDriver{raw: true}
	a := connstate.New("a", fakeEndpoint("a"))
	b := connstate.New("b", fakeEndpoint("b"))

	require.NoError(t, c.EnterRaw(context.Background(), a, drv))
	require.True(t, drv.opened)

	err := c.EnterRaw(context.Background(), b, drv)
	require.Equal(t, bap.DeviceBusy, bap.CodeOf(err))
}

func TestLeaveRawResetsDriver(t *testing.T) {
	c := New()
	drv := &fakeDriver{raw: true}
	a := connstate.New("a", fakeEndpoint("a"))

	require.NoError(t, c.EnterRaw(context.Background(), a, drv))
	require.NoError(t, c.LeaveRaw(a, drv))
	require.Equal(t, 1, drv.resetCalls)
	require.Equal(t, ModeNone, c.CurrentMode())
}

func TestSuspendAndRawAreMutuallyExclusive(t *testing.T) {
	c := New()
	drv := &fakeDriver{raw: true}
	a := connstate.New("a", fakeEndpoint("a"))
	b := connstate.New("b", fakeEndpoint("b"))

	require.NoError(t, c.ClaimSuspend(a))
	err := c.EnterRaw(context.Background(), b, drv)
	require.Equal(t, bap.DeviceBusy, bap.CodeOf(err))

	require.NoError(t, c.ReleaseSuspend(a))
	require.NoError(t, c.EnterRaw(context.Background(), b, drv))
}

// TestRawExclusivityProperty is spec.md §8 property 6: under any
// interleaving of two clients each attempting enter_raw, at most one
// succeeds until the winner calls leave_raw or disconnects.
func TestRawExclusivityProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := New()
		drv := &fakeDriver{raw: true}
		conns := []*connstate.Connection{
			connstate.New("a", fakeEndpoint("a")),
			connstate.New("b", fakeEndpoint("b")),
			connstate.New("c", fakeEndpoint("c")),
		}

		steps := rapid.IntRange(1, 20).Draw(t, "steps")
		var winner *connstate.Connection
		for i := 0; i < steps; i++ {
			idx := rapid.IntRange(0, len(conns)-1).Draw(t, "idx")
			action := rapid.SampledFrom([]string{"enter", "leave", "drop"}).Draw(t, "action")
			conn := conns[idx]

			switch action {
			case "enter":
				err := c.EnterRaw(context.Background(), conn, drv)
				if err == nil {
					if winner != nil && winner != conn {
						t.Fatalf("two connections simultaneously held raw mode")
					}
					winner = conn
				} else {
					require.Equal(t, bap.DeviceBusy, bap.CodeOf(err))
				}
			case "leave":
				if winner == conn {
					require.NoError(t, c.LeaveRaw(conn, drv))
					winner = nil
				}
			case "drop":
				c.ReleaseIfOwner(conn, drv)
				if winner == conn {
					winner = nil
				}
			}

			if winner == nil {
				require.Equal(t, ModeNone, c.CurrentMode())
			} else {
				require.Equal(t, winner, c.CurrentOwner())
			}
		}
	})
}
