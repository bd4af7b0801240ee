package suspend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brlapi/bapserver/internal/bap"
	"github.com/brlapi/bapserver/internal/connstate"
	"github.com/brlapi/bapserver/internal/driver"
	"github.com/brlapi/bapserver/internal/rawmode"
	"github.com/brlapi/bapserver/internal/tty"
)

type fakeEndpoint string

func (f fakeEndpoint) String() string { return string(f) }

type fakeDriver struct {
	raw    bool
	opened bool
}

func (d *fakeDriver) Name() string                                     { return "fake" }
func (d *fakeDriver) Open(ctx context.Context) error                   { d.opened = true; return nil }
func (d *fakeDriver) Close() error                                     { d.opened = false; return nil }
func (d *fakeDriver) DisplaySize() driver.Size                         { return driver.Size{Width: 1} }
func (d *fakeDriver) WriteCells(begin, size uint32, cells []byte) error { return nil }
func (d *fakeDriver) Keys() <-chan uint64                              { return nil }
func (d *fakeDriver) SupportsRaw() bool                                { return d.raw }
func (d *fakeDriver) SendRaw(p []byte) error                           { return nil }
func (d *fakeDriver) RecvRaw() (<-chan []byte, error)                  { return nil, nil }
func (d *fakeDriver) Reset() error                                     { return nil }
func (d *fakeDriver) GetParameter(id driver.ParamID, subparam uint32) (any, error) {
	return nil, nil
}
func (d *fakeDriver) SetParameter(id driver.ParamID, subparam uint32, value any) error { return nil }

func TestSuspendClosesDriverAndBlocksRaw(t *testing.T) {
	shared := rawmode.New()
	s := New(shared)
	drv := &fakeDriver{raw: true, opened: true}
	a := connstate.New("a", fakeEndpoint("a"))
	b := connstate.New("b", fakeEndpoint("b"))

	require.NoError(t, s.SuspendDriver(a, drv))
	require.False(t, drv.opened)
	require.True(t, s.IsSuspended())

	err := shared.EnterRaw(context.Background(), b, drv)
	require.Equal(t, bap.DeviceBusy, bap.CodeOf(err))
}

func TestResumeReopensAndForcesRefresh(t *testing.T) {
	shared := rawmode.New()
	s := New(shared)
	drv := &fakeDriver{}
	a := connstate.New("a", fakeEndpoint("a"))
	tr := tty.NewTree()

	require.NoError(t, s.SuspendDriver(a, drv))

	forced := false
	refresh := func(tree *tty.Tree, force bool) error {
		forced = force
		return nil
	}
	require.NoError(t, s.ResumeDriver(context.Background(), a, drv, tr, refresh))
	require.True(t, drv.opened)
	require.True(t, forced)
	require.False(t, s.IsSuspended())
}

func TestResumeByNonOwnerFails(t *testing.T) {
	shared := rawmode.New()
	s := New(shared)
	drv := &fakeDriver{}
	a := connstate.New("a", fakeEndpoint("a"))
	b := connstate.New("b", fakeEndpoint("b"))
	tr := tty.NewTree()

	require.NoError(t, s.SuspendDriver(a, drv))
	err := s.ResumeDriver(context.Background(), b, drv, tr, nil)
	require.Equal(t, bap.IllegalInstruction, bap.CodeOf(err))
}
