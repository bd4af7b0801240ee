// Package suspend implements the Suspend/Resume Coordinator of spec.md
// §4.I: voluntary release of the physical device, independent of tty
// focus, sharing the raw-mode singleton slot in internal/rawmode so a
// suspended device can't simultaneously be claimed for raw passthrough.
package suspend

import (
	"context"

	"github.com/brlapi/bapserver/internal/bap"
	"github.com/brlapi/bapserver/internal/connstate"
	"github.com/brlapi/bapserver/internal/driver"
	"github.com/brlapi/bapserver/internal/rawmode"
	"github.com/brlapi/bapserver/internal/tty"
)

// Coordinator drives a shared rawmode.Coordinator's suspend slot and
// closes/reopens the underlying driver.
type Coordinator struct {
	shared *rawmode.Coordinator
}

// New wraps shared, the same singleton internal/rawmode uses for raw
// mode, so the two remain mutually exclusive (spec.md §3).
func New(shared *rawmode.Coordinator) *Coordinator {
	return &Coordinator{shared: shared}
}

// SuspendDriver implements spec.md §4.I: claims the singleton for conn,
// then closes the physical device. Fails with device_busy if raw or
// another suspend is already held.
func (c *Coordinator) SuspendDriver(conn *connstate.Connection, drv driver.Driver) error {
	if err := c.shared.ClaimSuspend(conn); err != nil {
		return err
	}
	if err := drv.Close(); err != nil {
		_ = c.shared.ReleaseSuspend(conn)
		return bap.Newf(bap.DriverError, "suspend: close: %v", err)
	}
	return nil
}

// ResumeDriver re-opens the device and replays the currently selected
// buffer with the force flag (spec.md §4.I), releasing the singleton.
func (c *Coordinator) ResumeDriver(ctx context.Context, conn *connstate.Connection, drv driver.Driver, tr *tty.Tree, refresh func(*tty.Tree, bool) error) error {
	if err := c.shared.ReleaseSuspend(conn); err != nil {
		return err
	}
	if err := drv.Open(ctx); err != nil {
		return bap.Newf(bap.DriverError, "suspend: reopen: %v", err)
	}
	if refresh != nil {
		return refresh(tr, true)
	}
	return nil
}

// IsSuspended reports whether the device is currently suspended by any
// connection, used to reject device-touching operations from others with
// illegal_instruction per spec.md §4.I.
func (c *Coordinator) IsSuspended() bool {
	return c.shared.CurrentMode() == rawmode.ModeSuspend
}

// SuspendedBy returns the connection currently holding suspend, or nil.
func (c *Coordinator) SuspendedBy() *connstate.Connection {
	if c.shared.CurrentMode() != rawmode.ModeSuspend {
		return nil
	}
	return c.shared.CurrentOwner()
}
