// Package driver defines the Driver Port of spec.md §6/§9: the boundary
// between the protocol-facing server core and an opaque physical or
// simulated braille device. Concrete device protocols are out of scope
// (spec.md §1); this package only fixes the interface and the shared
// parameter/key-event vocabulary concrete drivers and internal/core both
// depend on.
package driver

import (
	"context"
	"errors"
)

// ParamID names a typed parameter in the driver's parameter store
// (spec.md §4.E get_parameter/set_parameter).
type ParamID uint32

const (
	ParamDisplaySize ParamID = iota
	ParamDriverName
	ParamModelID
	ParamFirmwareVersion
)

// Scope selects whether a parameter read/write/watch applies to the
// calling client only or server-wide.
type Scope int

const (
	ScopeLocal Scope = iota
	ScopeGlobal
)

// Size is the display's cell geometry.
type Size struct {
	Width  uint32
	Height uint32
}

// ErrNotRaw is returned by SendRaw/RecvRaw when the driver does not
// advertise raw capability.
var ErrNotRaw = errors.New("driver: raw mode not supported")

// ErrClosed is returned by any operation attempted on a driver that has
// been Close'd or never Open'd.
var ErrClosed = errors.New("driver: not open")

// Driver is the interface every concrete device binding implements.
// Only WriteCells is serialized by the caller, under internal/arbiter's
// mutex (spec.md §5's lock order ends at `driver`); internal/core calls
// the other methods from per-connection goroutines without a shared
// lock, so implementations guard their own state (internal/driver/loopback
// does so with its own mutex).
type Driver interface {
	// Name is the driver's registered name, used to match enter_tty's
	// optional driver name and enter_raw's target.
	Name() string

	// Open acquires the underlying device. Called by internal/core.New at
	// startup, by internal/rawmode on enter_raw, by internal/suspend on
	// resume, and when restarting the driver after a failed Reset; the
	// loopback driver treats Open on an already-open device as a no-op.
	Open(ctx context.Context) error

	// Close releases the underlying device without resetting display
	// state, used by suspend and by graceful shutdown.
	Close() error

	// DisplaySize reports the device's cell geometry.
	DisplaySize() Size

	// WriteCells pushes the given 8-dot cell range to the device.
	// begin/size describe the changed region in cells; cells has length
	// size. The driver applies any hardware-specific rotation/dot
	// permutation internally (spec.md §4.F: "the driver's
	// responsibility, not the arbiter's").
	WriteCells(begin, size uint32, cells []byte) error

	// Keys returns the channel on which the driver delivers decoded key
	// events as abstract KeyCode-ready raw codes; internal/core maps
	// these through internal/keycode before dispatch. The channel is
	// valid for the driver's lifetime once Open succeeds.
	Keys() <-chan uint64

	// SupportsRaw reports whether this driver implements raw
	// passthrough (spec.md §4.H).
	SupportsRaw() bool

	// SendRaw writes opaque bytes straight to the device. Returns
	// ErrNotRaw if SupportsRaw is false.
	SendRaw(p []byte) error

	// RecvRaw returns the channel on which raw inbound device bytes
	// arrive while a client holds raw mode. Returns nil, ErrNotRaw if
	// SupportsRaw is false.
	RecvRaw() (<-chan []byte, error)

	// Reset restores the driver to its normal display-writing mode
	// after a raw session ends (spec.md §4.H). If Reset fails the
	// caller restarts the driver (Close then Open).
	Reset() error

	// GetParameter/SetParameter implement the typed parameter store of
	// spec.md §4.E. subparam disambiguates compound parameters (e.g.
	// per-axis settings). They take no scope: internal/core forwards every
	// get/set to the driver whatever scope the client named.
	GetParameter(id ParamID, subparam uint32) (any, error)
	SetParameter(id ParamID, subparam uint32, value any) error
}
