// Package rawmode implements the raw/suspend singleton of spec.md
// §4.H/§4.I: at most one connection may hold raw mode, at most one may
// hold suspend, and the two are mutually exclusive with each other (spec.md
// §3: "at most one connection has raw mode; at most one connection has
// suspend mode; those two are distinct connections" combined with the
// state diagram's shared precondition "if no one else in raw or
// suspend"). internal/suspend's coordinator methods live alongside these
// because both modes contend for the same singleton slot.
package rawmode

import (
	"context"
	"sync"

	"github.com/brlapi/bapserver/internal/bap"
	"github.com/brlapi/bapserver/internal/connstate"
	"github.com/brlapi/bapserver/internal/driver"
)

// Mode names which exclusive mode, if any, the Coordinator's slot holds.
type Mode int

const (
	ModeNone Mode = iota
	ModeRaw
	ModeSuspend
)

// Coordinator is the shared raw/suspend singleton guarded by its own
// mutex, per spec.md §5's lock order (`raw/suspend` sits directly after
// `connections`).
type Coordinator struct {
	mu    sync.Mutex
	mode  Mode
	owner *connstate.Connection
}

// New returns an idle coordinator.
func New() *Coordinator {
	return &Coordinator{}
}

// EnterRaw attempts to claim raw mode for conn against drv, per spec.md
// §4.H: fails with device_busy if another connection holds the singleton,
// op_not_supported if the driver does not advertise raw capability. Before
// claiming the singleton it calls drv.Open, which fails the claim with
// driver_error on error; internal/core opens the driver at startup, and
// the loopback driver treats a second Open as a no-op.
func (c *Coordinator) EnterRaw(ctx context.Context, conn *connstate.Connection, drv driver.Driver) error {
	if !drv.SupportsRaw() {
		return bap.ErrOpNotSupported
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeNone && c.owner != conn {
		return bap.ErrDeviceBusy
	}
	if err := drv.Open(ctx); err != nil {
		return bap.Newf(bap.DriverError, "rawmode: open: %v", err)
	}
	c.mode = ModeRaw
	c.owner = conn
	return nil
}

// LeaveRaw releases raw mode held by conn and resets the driver, per
// spec.md §4.H's exit hook. If reset fails, the caller (internal/core)
// is expected to restart the driver (Close then Open); LeaveRaw itself
// only clears the singleton and surfaces the reset error.
func (c *Coordinator) LeaveRaw(conn *connstate.Connection, drv driver.Driver) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeRaw || c.owner != conn {
		return bap.ErrIllegalInstruction
	}
	c.mode = ModeNone
	c.owner = nil
	return drv.Reset()
}

// ReleaseIfOwner clears the singleton unconditionally if conn currently
// holds it, regardless of mode; used on abnormal connection loss (spec.md
// §4.H: "on abnormal connection loss, the singleton is cleared"). If conn
// held raw mode the driver is reset, and restarted (Close then Open) if
// the reset fails.
func (c *Coordinator) ReleaseIfOwner(conn *connstate.Connection, drv driver.Driver) {
	c.mu.Lock()
	wasRaw := c.mode == ModeRaw && c.owner == conn
	owned := c.owner == conn
	if owned {
		c.mode = ModeNone
		c.owner = nil
	}
	c.mu.Unlock()

	if wasRaw {
		if err := drv.Reset(); err != nil {
			_ = drv.Close()
			_ = drv.Open(context.Background())
		}
	}
}

// CurrentOwner returns the connection currently holding the singleton (in
// either mode), or nil if idle.
func (c *Coordinator) CurrentOwner() *connstate.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner
}

// CurrentMode returns the singleton's current mode.
func (c *Coordinator) CurrentMode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// tryClaim is the shared compare-and-set the suspend package uses to take
// the singleton for ModeSuspend without duplicating the busy/ownership
// logic above. It is unexported because suspend's package-level API
// (SuspendDriver/ResumeDriver) is the intended entry point.
func (c *Coordinator) tryClaim(conn *connstate.Connection, mode Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeNone && c.owner != conn {
		return bap.ErrDeviceBusy
	}
	c.mode = mode
	c.owner = conn
	return nil
}

func (c *Coordinator) releaseIfMode(conn *connstate.Connection, mode Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != mode || c.owner != conn {
		return bap.ErrIllegalInstruction
	}
	c.mode = ModeNone
	c.owner = nil
	return nil
}

// ClaimSuspend and ReleaseSuspend are exported for internal/suspend,
// which cannot itself reach into this package's unexported fields but
// needs to drive the same singleton.
func (c *Coordinator) ClaimSuspend(conn *connstate.Connection) error {
	return c.tryClaim(conn, ModeSuspend)
}

func (c *Coordinator) ReleaseSuspend(conn *connstate.Connection) error {
	return c.releaseIfMode(conn, ModeSuspend)
}
