package client

import (
	"fmt"

	"github.com/brlapi/bapserver/internal/bap"
	"github.com/brlapi/bapserver/internal/dispatch"
	"github.com/brlapi/bapserver/internal/keycode"
	"github.com/brlapi/bapserver/internal/protocolio"
)

// EnterTty attaches this connection to the tty at the given single
// number, under the root. driverName restricts the request to a specific
// driver; empty accepts whichever driver the server is running.
func (c *Conn) EnterTty(tty int32, driverName string) error {
	return c.EnterTtyPath([]int32{tty}, driverName)
}

// EnterTtyPath attaches to a tty by full path vector, restoring
// original_source/Programs/brlapi_client.c's brlapi_enterTtyModeWithPath:
// a window manager nesting ttys inside ttys needs to address one several
// levels deep, not just a single integer.
func (c *Conn) EnterTtyPath(path []int32, driverName string) error {
	return c.requireAck(protocolio.TagEnterTty, protocolio.EnterTtyPayload{
		Path:       path,
		DriverName: driverName,
	}.Marshal())
}

// LeaveTty releases this connection's tty attachment.
func (c *Conn) LeaveTty() error {
	return c.requireAck(protocolio.TagLeaveTty, nil)
}

// SetFocus moves the focused child at this connection's tty to the given
// number (spec.md §4.D).
func (c *Conn) SetFocus(ttyNumber uint32) error {
	return c.requireAck(protocolio.TagSetFocus, protocolio.SetFocusPayload{TtyNumber: ttyNumber}.Marshal())
}

// WriteArguments mirrors the general write(...) operation's optional
// fields (spec.md §4.E): only the fields with Has* set are sent.
type WriteArguments struct {
	RegionBegin, RegionSize uint32
	HasRegion               bool

	Text    []byte
	HasText bool

	AndMask []byte
	OrMask  []byte

	CursorX, CursorY int32
	HasCursor        bool
}

// Write performs the general braille-cell write request.
func (c *Conn) Write(args WriteArguments) error {
	p := protocolio.WriteCellsPayload{
		HasRegion:  args.HasRegion,
		RegionBegin: args.RegionBegin,
		RegionSize:  args.RegionSize,
		Text:       args.Text,
		HasText:    args.HasText,
		AndMask:    args.AndMask,
		HasAndMask: args.AndMask != nil,
		OrMask:     args.OrMask,
		HasOrMask:  args.OrMask != nil,
		CursorX:    args.CursorX,
		CursorY:    args.CursorY,
		HasCursor:  args.HasCursor,
	}
	return c.requireAck(protocolio.TagWriteCells, p.Marshal())
}

// WriteText restores brlapi_writeText: the common case of "show this
// string at the cursor position, let the server render it," over the
// general write operation.
func (c *Conn) WriteText(cursor int32, text string) error {
	return c.Write(WriteArguments{
		Text:      []byte(text),
		HasText:   true,
		CursorX:   cursor,
		HasCursor: cursor >= 0,
	})
}

// WriteDots restores brlapi_writeDots: pre-rendered braille dot patterns,
// one byte per cell, bypassing the server's text rendering entirely. The
// all-zero AndMask clears the region first, so the result is exactly the
// supplied pattern rather than it being OR'd onto whatever was there
// before (original_source/Programs/brlapi_client.c's brlapi__writeDots
// memsets its andMask to 0 for the same reason).
func (c *Conn) WriteDots(dots []byte) error {
	return c.Write(WriteArguments{AndMask: make([]byte, len(dots)), OrMask: dots})
}

func rangesFromCodes(r dispatch.RangeType, codes []keycode.Code) []keycode.Range {
	out := make([]keycode.Range, len(codes))
	for i, code := range codes {
		out[i] = dispatch.Expand(r, code)
	}
	return out
}

func (c *Conn) keyRanges(tag protocolio.Tag, ranges []keycode.Range) error {
	return c.requireAck(tag, protocolio.KeyRangesPayload{Ranges: ranges}.Marshal())
}

// IgnoreKeys stops delivery of every code matching r's expansion of each
// of codes (spec.md §4.E/§4.G).
func (c *Conn) IgnoreKeys(r dispatch.RangeType, codes []keycode.Code) error {
	return c.keyRanges(protocolio.TagIgnoreKeys, rangesFromCodes(r, codes))
}

// AcceptKeys resumes delivery of codes previously ignored.
func (c *Conn) AcceptKeys(r dispatch.RangeType, codes []keycode.Code) error {
	return c.keyRanges(protocolio.TagAcceptKeys, rangesFromCodes(r, codes))
}

// IgnoreRanges/AcceptRanges take already-expanded ranges directly, for
// callers that computed their own mask instead of going through
// dispatch.Expand.
func (c *Conn) IgnoreRanges(ranges []keycode.Range) error {
	return c.keyRanges(protocolio.TagIgnoreKeys, ranges)
}

func (c *Conn) AcceptRanges(ranges []keycode.Range) error {
	return c.keyRanges(protocolio.TagAcceptKeys, ranges)
}

// EnterRaw claims exclusive raw/driver-specific passthrough mode
// (spec.md §4.H). Only one connection in the whole server may hold it.
func (c *Conn) EnterRaw(driverName string) error {
	return c.requireAck(protocolio.TagEnterRaw, protocolio.EnterRawPayload{
		Magic:      protocolio.RawMagic,
		DriverName: driverName,
	}.Marshal())
}

// LeaveRaw releases raw mode.
func (c *Conn) LeaveRaw() error {
	return c.requireAck(protocolio.TagLeaveRaw, nil)
}

// SendRaw writes driver-specific bytes while this connection holds raw
// mode. Data coming back from the driver arrives asynchronously on
// RawData(), separate from this call's ack.
func (c *Conn) SendRaw(p []byte) error {
	return c.requireAck(protocolio.TagRawData, p)
}

// SuspendDriver releases the physical device so another process on the
// host may use it (spec.md §4.I). driverName restricts the request to a
// specific driver, same as EnterRaw; empty accepts whichever driver the
// server is running. Only one connection server-wide may hold raw or
// suspend at a time.
func (c *Conn) SuspendDriver(driverName string) error {
	return c.requireAck(protocolio.TagSuspendDriver, protocolio.SuspendDriverPayload{
		DriverName: driverName,
	}.Marshal())
}

// ResumeDriver re-opens the device released by a prior SuspendDriver call
// and forces a refresh of the currently selected buffer.
func (c *Conn) ResumeDriver() error {
	return c.requireAck(protocolio.TagResumeDriver, nil)
}

// ParameterScope selects whether a parameter operation applies to this
// connection only or to the whole server (spec.md §4.E).
type ParameterScope uint32

const (
	ParameterScopeLocal ParameterScope = iota
	ParameterScopeGlobal
)

// requireTypedReply sends one frame and turns a reply that is neither the
// expected tag nor an error/exception into an error, the typed-reply
// counterpart to requireAck.
func (c *Conn) requireTypedReply(tag protocolio.Tag, payload []byte, want protocolio.Tag) ([]byte, error) {
	rep, rpayload, err := c.request(tag, payload)
	if err != nil {
		return nil, err
	}
	switch rep {
	case want:
		return rpayload, nil
	case protocolio.TagError:
		return nil, errorFromPayload(rpayload)
	case protocolio.TagException:
		ex, err := protocolio.UnmarshalException(rpayload)
		if err != nil {
			return nil, fmt.Errorf("client: malformed exception frame: %w", err)
		}
		return nil, bap.New(ex.Code, ex.Code.String())
	default:
		return nil, fmt.Errorf("client: unexpected reply frame %s", rep)
	}
}

// GetParameter reads a driver parameter's current value (spec.md §4.E).
// The returned value's concrete type depends on id: uint32, string, or
// driver.Size.
func (c *Conn) GetParameter(id, subparam uint32, scope ParameterScope) (any, error) {
	payload, err := c.requireTypedReply(protocolio.TagGetParameter,
		protocolio.ParameterRequestPayload{ParamID: id, Subparam: subparam, Scope: uint32(scope)}.Marshal(),
		protocolio.TagParameterValue)
	if err != nil {
		return nil, err
	}
	val, err := protocolio.UnmarshalParameterValue(payload)
	if err != nil {
		return nil, fmt.Errorf("client: malformed parameter value: %w", err)
	}
	return val.ToAny()
}

// SetParameter writes a driver parameter's value (spec.md §4.E). value
// must be one of the concrete types GetParameter can return.
func (c *Conn) SetParameter(id, subparam uint32, scope ParameterScope, value any) error {
	wireVal, err := protocolio.ParameterValueFromAny(value)
	if err != nil {
		return err
	}
	p := protocolio.SetParameterPayload{ParamID: id, Subparam: subparam, Scope: uint32(scope), Value: wireVal}
	return c.requireAck(protocolio.TagSetParameter, p.Marshal())
}

// WatchParameter registers interest in a parameter, returning a
// descriptor for a later UnwatchParameter call. Updates arrive on
// ParameterUpdates().
func (c *Conn) WatchParameter(id, subparam uint32, scope ParameterScope) (uint32, error) {
	payload, err := c.requireTypedReply(protocolio.TagWatchParameter,
		protocolio.ParameterRequestPayload{ParamID: id, Subparam: subparam, Scope: uint32(scope)}.Marshal(),
		protocolio.TagWatchDescriptor)
	if err != nil {
		return 0, err
	}
	wd, err := protocolio.UnmarshalWatchDescriptor(payload)
	if err != nil {
		return 0, fmt.Errorf("client: malformed watch descriptor: %w", err)
	}
	return wd.Descriptor, nil
}

// UnwatchParameter cancels a previous WatchParameter registration.
func (c *Conn) UnwatchParameter(descriptor uint32) error {
	return c.requireAck(protocolio.TagUnwatchParameter, protocolio.UnwatchParameterPayload{
		Descriptor: descriptor,
	}.Marshal())
}
