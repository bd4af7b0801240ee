// Package connstate implements the per-connection lifecycle of spec.md
// §4.E: the unauth/idle/tty-owner/raw/suspend/closed state machine, the
// braille buffer and its freshness flag (making a Connection a
// tty.Filler), and the per-frame operation handlers that are only legal
// from specific states.
package connstate

import (
	"sync"
	"time"

	"github.com/brlapi/bapserver/internal/bap"
	"github.com/brlapi/bapserver/internal/dispatch"
	"github.com/brlapi/bapserver/internal/keycode"
	"github.com/brlapi/bapserver/internal/tty"
)

// State is one of the six connection lifecycle states of spec.md §4.E.
type State int

const (
	StateUnauth State = iota
	StateIdle
	StateTtyOwner
	StateRaw
	StateSuspend
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauth:
		return "unauth"
	case StateIdle:
		return "idle"
	case StateTtyOwner:
		return "tty-owner"
	case StateRaw:
		return "raw"
	case StateSuspend:
		return "suspend"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Freshness is the braille buffer's display-readiness flag, spec.md §3.
type Freshness int

const (
	FreshEmpty Freshness = iota
	FreshToDisplay
	FreshDisplayed
)

// Cursor is a display cell position; -1 on either axis means "no cursor".
type Cursor struct {
	X, Y int32
}

// Buffer is a connection's private braille buffer: a fixed-width cell
// array, a text mirror, a cursor, and the freshness flag the write
// arbiter and tty.Tree.FocusDescent consult.
type Buffer struct {
	Cells     []byte
	Text      string
	Cursor    Cursor
	Freshness Freshness
}

// Endpoint is the minimal surface connstate needs from the transport
// layer: an opaque label for logging. internal/core supplies one built
// from the accepted connection's address (endpointLabel in
// internal/core/connection.go).
type Endpoint interface {
	String() string
}

// Connection is one authenticated (or authenticating) client, spec.md
// §3's Connection record.
type Connection struct {
	ID       string
	Endpoint Endpoint

	connectedAt time.Time

	stateMu sync.Mutex
	state   State

	ttyMu  sync.Mutex
	ttyPath []int32
	ttyHandle tty.Handle
	hasTty    bool

	bufMu  sync.RWMutex
	buffer Buffer

	Filter    *dispatch.Filter
	Repeater  *dispatch.AutoRepeater
	Events    *dispatch.EventBuffer

	// blockedReader, when non-nil, is a channel a read_key call is
	// waiting on; dispatch delivers directly to it instead of the event
	// buffer when set (spec.md §4.G).
	readerMu      sync.Mutex
	blockedReader chan keycode.Code
}

// New constructs an unauthenticated connection freshly accepted by the
// transport layer.
func New(id string, ep Endpoint) *Connection {
	return &Connection{
		ID:          id,
		Endpoint:    ep,
		connectedAt: time.Now(),
		state:       StateUnauth,
		Filter:      dispatch.NewFilter(),
		Events:      dispatch.NewEventBuffer(),
	}
}

// ConnectedAt is the time the connection was accepted, used to expire
// unauthenticated peers past the handshake timeout (spec.md §5).
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// State returns the current lifecycle state under its own mutex, per
// spec.md §4.E's note that "the state field itself has a separate mutex
// so read-only checks ... do not block state changes."
func (c *Connection) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// transitionTable encodes spec.md §4.E's diagram: the set of states each
// trigger is legal from, and the state it lands in.
var transitionTable = map[string]struct {
	from []State
	to   State
}{
	"auth_ok":        {[]State{StateUnauth}, StateIdle},
	"enter_tty":      {[]State{StateIdle}, StateTtyOwner},
	"leave_tty":      {[]State{StateTtyOwner}, StateIdle},
	"enter_raw":      {[]State{StateIdle}, StateRaw},
	"leave_raw":      {[]State{StateRaw}, StateIdle},
	"suspend_driver": {[]State{StateIdle}, StateSuspend},
	"resume_driver":  {[]State{StateSuspend}, StateIdle},
}

// Transition attempts the named trigger, failing with ErrIllegalInstruction
// if the connection is not currently in one of the trigger's legal source
// states. "*" triggers (eof/error/drop, which are legal from any state)
// are handled by Close, not this method.
func (c *Connection) Transition(trigger string) error {
	rule, ok := transitionTable[trigger]
	if !ok {
		return bap.Newf(bap.UnknownInstruction, "connstate: unknown trigger %q", trigger)
	}

	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.state == StateClosed {
		return bap.ErrIllegalInstruction
	}
	for _, from := range rule.from {
		if c.state == from {
			c.state = rule.to
			return nil
		}
	}
	return bap.Newf(bap.IllegalInstruction, "connstate: %s not legal from state %s", trigger, c.state)
}

// RequireState fails with ErrIllegalInstruction unless the connection is
// currently in one of the given states; used to guard per-frame handlers
// whose legality depends on state but which are not themselves
// transitions (e.g. write, read_key, send_raw).
func (c *Connection) RequireState(allowed ...State) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	for _, s := range allowed {
		if c.state == s {
			return nil
		}
	}
	return bap.Newf(bap.IllegalInstruction, "connstate: operation not valid in state %s", c.state)
}

// Close marks the connection closed from any state (the "*" row of
// spec.md §4.E's table), cancels any blocked reader with EOF, and stops
// auto-repeat. It is idempotent.
func (c *Connection) Close() {
	c.stateMu.Lock()
	c.state = StateClosed
	c.stateMu.Unlock()

	if c.Repeater != nil {
		c.Repeater.Stop()
	}
	c.CancelBlockedReader()
}

// --- tty attachment ---

// AttachTty records which tty handle/path this connection has entered.
// Enforces "a client may attach to exactly one tty for its lifetime"
// (spec.md §4.D): calling this while already attached to a different tty
// fails with illegal_instruction.
func (c *Connection) AttachTty(h tty.Handle, path []int32) error {
	c.ttyMu.Lock()
	defer c.ttyMu.Unlock()
	if c.hasTty && c.ttyHandle != h {
		return bap.ErrIllegalInstruction
	}
	c.ttyHandle = h
	c.ttyPath = path
	c.hasTty = true
	return nil
}

// DetachTty clears the recorded tty attachment on leave_tty/close.
func (c *Connection) DetachTty() {
	c.ttyMu.Lock()
	defer c.ttyMu.Unlock()
	c.hasTty = false
}

// TtyHandle returns the attached tty handle and whether one is set.
func (c *Connection) TtyHandle() (tty.Handle, bool) {
	c.ttyMu.Lock()
	defer c.ttyMu.Unlock()
	return c.ttyHandle, c.hasTty
}

// --- braille buffer / tty.Filler ---

// IsFilling implements tty.Filler: the connection is the filling client
// iff its buffer is in the to-display freshness state.
func (c *Connection) IsFilling() bool {
	c.bufMu.RLock()
	defer c.bufMu.RUnlock()
	return c.buffer.Freshness == FreshToDisplay
}

// Write implements spec.md §4.E's write operation: merges text/masks into
// the region and moves the buffer to to-display. region must already be
// validated against the display bounds by the caller (internal/core,
// which knows the configured display size).
func (c *Connection) Write(regionBegin, regionSize uint32, text []byte, andMask, orMask []byte, cursor *Cursor) error {
	if err := c.RequireState(StateTtyOwner); err != nil {
		return err
	}

	c.bufMu.Lock()
	defer c.bufMu.Unlock()

	end := regionBegin + regionSize
	if int(end) > len(c.buffer.Cells) {
		return bap.Newf(bap.InvalidParameter, "connstate: region [%d,%d) exceeds buffer of %d cells", regionBegin, end, len(c.buffer.Cells))
	}

	if text != nil {
		c.buffer.Text = string(text)
	}
	for i := uint32(0); i < regionSize; i++ {
		cell := c.buffer.Cells[regionBegin+i]
		if andMask != nil && int(i) < len(andMask) {
			cell &= andMask[i]
		}
		if orMask != nil && int(i) < len(orMask) {
			cell |= orMask[i]
		}
		c.buffer.Cells[regionBegin+i] = cell
	}
	if cursor != nil {
		c.buffer.Cursor = *cursor
	}
	c.buffer.Freshness = FreshToDisplay
	return nil
}

// EnsureBufferSize allocates the cell buffer to the display's width on
// first entry into tty-owner state.
func (c *Connection) EnsureBufferSize(n int) {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	if len(c.buffer.Cells) != n {
		c.buffer.Cells = make([]byte, n)
	}
}

// Snapshot returns a copy of the current buffer contents, for the write
// arbiter's diff against the last sent frame.
func (c *Connection) Snapshot() Buffer {
	c.bufMu.RLock()
	defer c.bufMu.RUnlock()
	cells := make([]byte, len(c.buffer.Cells))
	copy(cells, c.buffer.Cells)
	b := c.buffer
	b.Cells = cells
	return b
}

// MarkDisplayed transitions the buffer from to-display to displayed,
// called by the arbiter once it has flushed this connection's frame.
func (c *Connection) MarkDisplayed() {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	if c.buffer.Freshness == FreshToDisplay {
		c.buffer.Freshness = FreshDisplayed
	}
}

// ForceRefresh re-marks the buffer to-display without any content change,
// used when focus changes out from under an in-flight write (spec.md §9
// open question: "focus change as an implicit refresh with the force
// flag").
func (c *Connection) ForceRefresh() {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	if len(c.buffer.Cells) > 0 {
		c.buffer.Freshness = FreshToDisplay
	}
}

// --- key delivery ---

// BlockReader registers ch as the channel a read_key call is waiting on.
// Only one blocked reader is supported per connection, matching spec.md
// §4.E's single read_key per client (the client library multiplexes
// further requests on its own side, see component J).
func (c *Connection) BlockReader(ch chan keycode.Code) {
	c.readerMu.Lock()
	defer c.readerMu.Unlock()
	c.blockedReader = ch
}

// CancelBlockedReader unblocks any waiting read_key with a closed channel,
// used on connection close (spec.md §5: "any blocked reader is cancelled
// on connection close").
func (c *Connection) CancelBlockedReader() {
	c.readerMu.Lock()
	defer c.readerMu.Unlock()
	if c.blockedReader != nil {
		close(c.blockedReader)
		c.blockedReader = nil
	}
}

// Deliver implements spec.md §4.G's per-connection delivery rule: if a
// read_key call is blocked, hand the code directly to it; otherwise
// append to the bounded event buffer, reporting whether an older event
// was dropped to make room.
func (c *Connection) Deliver(code keycode.Code) (dropped bool) {
	c.readerMu.Lock()
	if c.blockedReader != nil {
		ch := c.blockedReader
		c.blockedReader = nil
		c.readerMu.Unlock()
		ch <- code
		return false
	}
	c.readerMu.Unlock()

	return c.Events.Push(code)
}

// ReadKey implements spec.md §4.E's read_key/read_key_with_timeout: if a
// key is already buffered it is returned immediately; otherwise the
// caller blocks (respecting timeout, 0 meaning block forever) until
// Deliver hands one over, the connection is closed, or the timeout
// elapses. ok is false on timeout (spec.md §5: "sends the code if it
// arrives, otherwise an empty reply") or on connection close.
func (c *Connection) ReadKey(timeout time.Duration) (code keycode.Code, ok bool) {
	if buffered, has := c.Events.Pop(); has {
		return buffered, true
	}

	ch := make(chan keycode.Code, 1)
	c.BlockReader(ch)

	if timeout <= 0 {
		v, open := <-ch
		return v, open
	}

	select {
	case v, open := <-ch:
		return v, open
	case <-time.After(timeout):
		c.readerMu.Lock()
		if c.blockedReader == ch {
			c.blockedReader = nil
		}
		c.readerMu.Unlock()
		return 0, false
	}
}
