// Package arbiter implements the Write Arbiter of spec.md §4.F: on every
// refresh opportunity it picks the current filling client (or the
// server's own renderer), diff-encodes the new frame against the last one
// sent, and flushes only the changed cell range to the driver.
package arbiter

import (
	"sync"

	"github.com/brlapi/bapserver/internal/connstate"
	"github.com/brlapi/bapserver/internal/driver"
	"github.com/brlapi/bapserver/internal/tty"
)

// Renderer produces the server's own idle-screen frame when no client is
// filling the display (spec.md §4.F step 2).
type Renderer interface {
	Render(size driver.Size) []byte
}

// Arbiter owns the driver mutex of spec.md §5's lock order tail and the
// "last sent frame" needed for diff encoding.
type Arbiter struct {
	mu       sync.Mutex
	drv      driver.Driver
	renderer Renderer
	lastSent []byte
}

// New constructs an Arbiter bound to drv. renderer may be nil, in which
// case an idle display with no filling client simply is not refreshed.
func New(drv driver.Driver, renderer Renderer) *Arbiter {
	return &Arbiter{drv: drv, renderer: renderer}
}

// Refresh runs one arbitration pass: compute the focus path on tr,
// pick the filling connection (or fall back to the renderer), diff
// against the last sent frame, and flush the changed range. force
// bypasses the diff, per spec.md §4.F ("used on ownership transfer").
func (a *Arbiter) Refresh(tr *tty.Tree, force bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	size := a.drv.DisplaySize()
	n := int(size.Width) * int(size.Height)

	filler := tr.FocusDescent()
	var frame []byte
	var owner *connstate.Connection

	if c, ok := filler.(*connstate.Connection); ok {
		owner = c
		snap := c.Snapshot()
		frame = padOrTruncate(snap.Cells, n)
	} else if a.renderer != nil {
		frame = padOrTruncate(a.renderer.Render(size), n)
	} else {
		return nil
	}

	begin, length, changed := diffRange(a.lastSent, frame, force)
	if !changed {
		if owner != nil {
			owner.MarkDisplayed()
		}
		return nil
	}

	if err := a.drv.WriteCells(uint32(begin), uint32(length), frame[begin:begin+length]); err != nil {
		return err
	}

	a.lastSent = frame
	if owner != nil {
		owner.MarkDisplayed()
	}
	return nil
}

func padOrTruncate(cells []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, cells)
	return out
}

// diffRange returns the smallest [begin, begin+length) range in which old
// and new differ, or changed=false if they are identical and force is
// not set.
func diffRange(old, new []byte, force bool) (begin, length int, changed bool) {
	if force {
		if len(new) == 0 {
			return 0, 0, false
		}
		return 0, len(new), true
	}
	if old == nil || len(old) != len(new) {
		return 0, len(new), len(new) > 0
	}

	first := -1
	last := -1
	for i := range new {
		if old[i] != new[i] {
			if first == -1 {
				first = i
			}
			last = i
		}
	}
	if first == -1 {
		return 0, 0, false
	}
	return first, last - first + 1, true
}
