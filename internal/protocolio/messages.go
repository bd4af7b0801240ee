package protocolio

import (
	"fmt"

	"github.com/brlapi/bapserver/internal/bap"
	"github.com/brlapi/bapserver/internal/driver"
	"github.com/brlapi/bapserver/internal/keycode"
)

// VersionPayload is the `v` tag's payload (spec.md §6).
type VersionPayload struct {
	Version uint32
}

func (p VersionPayload) Marshal() []byte {
	buf := make([]byte, 4)
	putU32(buf, 0, p.Version)
	return buf
}

func UnmarshalVersion(b []byte) (VersionPayload, error) {
	v, _, err := getU32(b, 0)
	if err != nil {
		return VersionPayload{}, err
	}
	return VersionPayload{Version: v}, nil
}

// AuthOfferPayload is the server's `a` offer: the methods it accepts.
type AuthOfferPayload struct {
	Methods []uint32
}

func (p AuthOfferPayload) Marshal() []byte {
	buf := make([]byte, 4+4*len(p.Methods))
	off := putU32(buf, 0, uint32(len(p.Methods)))
	for _, m := range p.Methods {
		off = putU32(buf, off, m)
	}
	return buf
}

func UnmarshalAuthOffer(b []byte) (AuthOfferPayload, error) {
	n, off, err := getU32(b, 0)
	if err != nil {
		return AuthOfferPayload{}, err
	}
	out := AuthOfferPayload{Methods: make([]uint32, 0, n)}
	for i := uint32(0); i < n; i++ {
		var v uint32
		v, off, err = getU32(b, off)
		if err != nil {
			return AuthOfferPayload{}, err
		}
		out.Methods = append(out.Methods, v)
	}
	return out, nil
}

// AuthRequestPayload is the client's `a` request: a chosen method id plus
// method-specific data (the keyfile bytes, or empty for none/local-*).
type AuthRequestPayload struct {
	MethodID uint32
	Data     []byte
}

func (p AuthRequestPayload) Marshal() []byte {
	buf := make([]byte, 4+len(p.Data))
	putU32(buf, 0, p.MethodID)
	copy(buf[4:], p.Data)
	return buf
}

func UnmarshalAuthRequest(b []byte) (AuthRequestPayload, error) {
	m, off, err := getU32(b, 0)
	if err != nil {
		return AuthRequestPayload{}, err
	}
	return AuthRequestPayload{MethodID: m, Data: append([]byte{}, b[off:]...)}, nil
}

// EnterTtyPayload is the `t` tag.
type EnterTtyPayload struct {
	Path       []int32
	DriverName string
}

func (p EnterTtyPayload) Marshal() []byte {
	nameBytes := []byte(p.DriverName)
	buf := make([]byte, 4+4*len(p.Path)+1+len(nameBytes))
	off := putU32(buf, 0, uint32(len(p.Path)))
	for _, seg := range p.Path {
		off = putU32(buf, off, uint32(seg))
	}
	buf[off] = byte(len(nameBytes))
	off++
	copy(buf[off:], nameBytes)
	return buf
}

func UnmarshalEnterTty(b []byte) (EnterTtyPayload, error) {
	n, off, err := getU32(b, 0)
	if err != nil {
		return EnterTtyPayload{}, err
	}
	path := make([]int32, 0, n)
	for i := uint32(0); i < n; i++ {
		var v uint32
		v, off, err = getU32(b, off)
		if err != nil {
			return EnterTtyPayload{}, err
		}
		path = append(path, int32(v))
	}
	if off >= len(b) {
		return EnterTtyPayload{}, fmt.Errorf("protocolio: enter_tty missing driver name length")
	}
	nameLen := int(b[off])
	off++
	if off+nameLen > len(b) {
		return EnterTtyPayload{}, fmt.Errorf("protocolio: enter_tty truncated driver name")
	}
	return EnterTtyPayload{Path: path, DriverName: string(b[off : off+nameLen])}, nil
}

// SetFocusPayload is the `F` tag.
type SetFocusPayload struct {
	TtyNumber uint32
}

func (p SetFocusPayload) Marshal() []byte {
	buf := make([]byte, 4)
	putU32(buf, 0, p.TtyNumber)
	return buf
}

func UnmarshalSetFocus(b []byte) (SetFocusPayload, error) {
	v, _, err := getU32(b, 0)
	return SetFocusPayload{TtyNumber: v}, err
}

// KeyEventPayload is the `k` tag: the 64-bit KeyCode split into hi/lo
// 32-bit halves per spec.md §6.
type KeyEventPayload struct {
	Code keycode.Code
}

func (p KeyEventPayload) Marshal() []byte {
	buf := make([]byte, 8)
	putU32(buf, 0, uint32(uint64(p.Code)>>32))
	putU32(buf, 4, uint32(uint64(p.Code)))
	return buf
}

func UnmarshalKeyEvent(b []byte) (KeyEventPayload, error) {
	hi, off, err := getU32(b, 0)
	if err != nil {
		return KeyEventPayload{}, err
	}
	lo, _, err := getU32(b, off)
	if err != nil {
		return KeyEventPayload{}, err
	}
	return KeyEventPayload{Code: keycode.Code(uint64(hi)<<32 | uint64(lo))}, nil
}

// KeyRangesPayload is the `m`/`u` tags: a list of already-expanded
// (first, last) KeyCode ranges, each split hi/lo per code (spec.md §6).
// The range_type/codes convenience (spec.md §4.E's ignore_keys call
// signature) is a client-library-side computation (internal/dispatch.
// Expand) that happens before the wire payload is built; the wire only
// ever carries concrete ranges.
type KeyRangesPayload struct {
	Ranges []keycode.Range
}

func (p KeyRangesPayload) Marshal() []byte {
	buf := make([]byte, 16*len(p.Ranges))
	off := 0
	for _, r := range p.Ranges {
		off = putU32(buf, off, uint32(uint64(r.First)>>32))
		off = putU32(buf, off, uint32(uint64(r.First)))
		off = putU32(buf, off, uint32(uint64(r.Last)>>32))
		off = putU32(buf, off, uint32(uint64(r.Last)))
	}
	return buf
}

func UnmarshalKeyRanges(b []byte) (KeyRangesPayload, error) {
	if len(b)%16 != 0 {
		return KeyRangesPayload{}, fmt.Errorf("protocolio: key ranges payload length %d not a multiple of 16", len(b))
	}
	var out KeyRangesPayload
	for off := 0; off < len(b); off += 16 {
		hi1, _, _ := getU32(b, off)
		lo1, _, _ := getU32(b, off+4)
		hi2, _, _ := getU32(b, off+8)
		lo2, _, _ := getU32(b, off+12)
		out.Ranges = append(out.Ranges, keycode.Range{
			First: keycode.Code(uint64(hi1)<<32 | uint64(lo1)),
			Last:  keycode.Code(uint64(hi2)<<32 | uint64(lo2)),
		})
	}
	return out, nil
}

// Write-cells field presence bits (spec.md §6's `w` tag bitfield).
const (
	WriteFlagDisplayNumber uint32 = 1 << iota
	WriteFlagRegion
	WriteFlagText
	WriteFlagAndMask
	WriteFlagOrMask
	WriteFlagCursor
	WriteFlagCharset
)

// WriteCellsPayload is the `w` tag.
type WriteCellsPayload struct {
	DisplayNumber uint32
	HasDisplay    bool

	RegionBegin uint32
	RegionSize  uint32
	HasRegion   bool

	Text    []byte
	HasText bool

	AndMask    []byte
	HasAndMask bool

	OrMask    []byte
	HasOrMask bool

	CursorX, CursorY int32
	HasCursor        bool

	Charset    []byte
	HasCharset bool
}

func (p WriteCellsPayload) flags() uint32 {
	var f uint32
	if p.HasDisplay {
		f |= WriteFlagDisplayNumber
	}
	if p.HasRegion {
		f |= WriteFlagRegion
	}
	if p.HasText {
		f |= WriteFlagText
	}
	if p.HasAndMask {
		f |= WriteFlagAndMask
	}
	if p.HasOrMask {
		f |= WriteFlagOrMask
	}
	if p.HasCursor {
		f |= WriteFlagCursor
	}
	if p.HasCharset {
		f |= WriteFlagCharset
	}
	return f
}

func (p WriteCellsPayload) Marshal() []byte {
	var buf []byte
	grow := func(n int) []byte {
		l := len(buf)
		buf = append(buf, make([]byte, n)...)
		return buf[l:]
	}
	putU32(grow(4), 0, p.flags())

	if p.HasDisplay {
		putU32(grow(4), 0, p.DisplayNumber)
	}
	if p.HasRegion {
		chunk := grow(8)
		putU32(chunk, 0, p.RegionBegin)
		putU32(chunk, 4, p.RegionSize)
	}
	if p.HasText {
		chunk := grow(4 + len(p.Text))
		putU32(chunk, 0, uint32(len(p.Text)))
		copy(chunk[4:], p.Text)
	}
	if p.HasAndMask {
		copy(grow(len(p.AndMask)), p.AndMask)
	}
	if p.HasOrMask {
		copy(grow(len(p.OrMask)), p.OrMask)
	}
	if p.HasCursor {
		chunk := grow(8)
		putU32(chunk, 0, uint32(p.CursorX))
		putU32(chunk, 4, uint32(p.CursorY))
	}
	if p.HasCharset {
		chunk := grow(4 + len(p.Charset))
		putU32(chunk, 0, uint32(len(p.Charset)))
		copy(chunk[4:], p.Charset)
	}
	return buf
}

// UnmarshalWriteCells decodes a `w` payload. fallbackSize, if the region
// field is absent, is supplied by the caller (the full display width) so
// And/OrMask lengths can be inferred — spec.md §6 does not repeat the
// region size before each mask array.
func UnmarshalWriteCells(b []byte, fallbackSize uint32) (WriteCellsPayload, error) {
	flags, off, err := getU32(b, 0)
	if err != nil {
		return WriteCellsPayload{}, err
	}
	var p WriteCellsPayload
	cellCount := fallbackSize

	if flags&WriteFlagDisplayNumber != 0 {
		p.HasDisplay = true
		p.DisplayNumber, off, err = getU32(b, off)
		if err != nil {
			return WriteCellsPayload{}, err
		}
	}
	if flags&WriteFlagRegion != 0 {
		p.HasRegion = true
		p.RegionBegin, off, err = getU32(b, off)
		if err != nil {
			return WriteCellsPayload{}, err
		}
		p.RegionSize, off, err = getU32(b, off)
		if err != nil {
			return WriteCellsPayload{}, err
		}
		cellCount = p.RegionSize
	}
	if flags&WriteFlagText != 0 {
		p.HasText = true
		var textLen uint32
		textLen, off, err = getU32(b, off)
		if err != nil {
			return WriteCellsPayload{}, err
		}
		if off+int(textLen) > len(b) {
			return WriteCellsPayload{}, fmt.Errorf("protocolio: write_cells text truncated")
		}
		p.Text = append([]byte{}, b[off:off+int(textLen)]...)
		off += int(textLen)
	}
	if flags&WriteFlagAndMask != 0 {
		p.HasAndMask = true
		if off+int(cellCount) > len(b) {
			return WriteCellsPayload{}, fmt.Errorf("protocolio: write_cells and_mask truncated")
		}
		p.AndMask = append([]byte{}, b[off:off+int(cellCount)]...)
		off += int(cellCount)
	}
	if flags&WriteFlagOrMask != 0 {
		p.HasOrMask = true
		if off+int(cellCount) > len(b) {
			return WriteCellsPayload{}, fmt.Errorf("protocolio: write_cells or_mask truncated")
		}
		p.OrMask = append([]byte{}, b[off:off+int(cellCount)]...)
		off += int(cellCount)
	}
	if flags&WriteFlagCursor != 0 {
		p.HasCursor = true
		var x, y uint32
		x, off, err = getU32(b, off)
		if err != nil {
			return WriteCellsPayload{}, err
		}
		y, off, err = getU32(b, off)
		if err != nil {
			return WriteCellsPayload{}, err
		}
		p.CursorX, p.CursorY = int32(x), int32(y)
	}
	if flags&WriteFlagCharset != 0 {
		p.HasCharset = true
		var charsetLen uint32
		charsetLen, off, err = getU32(b, off)
		if err != nil {
			return WriteCellsPayload{}, err
		}
		if off+int(charsetLen) > len(b) {
			return WriteCellsPayload{}, fmt.Errorf("protocolio: write_cells charset truncated")
		}
		p.Charset = append([]byte{}, b[off:off+int(charsetLen)]...)
		off += int(charsetLen)
	}
	return p, nil
}

// EnterRawPayload is the `*` tag.
type EnterRawPayload struct {
	Magic      uint32
	DriverName string
}

func (p EnterRawPayload) Marshal() []byte {
	nameBytes := []byte(p.DriverName)
	buf := make([]byte, 4+1+len(nameBytes))
	putU32(buf, 0, p.Magic)
	buf[4] = byte(len(nameBytes))
	copy(buf[5:], nameBytes)
	return buf
}

func UnmarshalEnterRaw(b []byte) (EnterRawPayload, error) {
	magic, off, err := getU32(b, 0)
	if err != nil {
		return EnterRawPayload{}, err
	}
	if off >= len(b) {
		return EnterRawPayload{}, fmt.Errorf("protocolio: enter_raw missing driver name length")
	}
	nameLen := int(b[off])
	off++
	if off+nameLen > len(b) {
		return EnterRawPayload{}, fmt.Errorf("protocolio: enter_raw truncated driver name")
	}
	return EnterRawPayload{Magic: magic, DriverName: string(b[off : off+nameLen])}, nil
}

// ErrorPayload is the `e` tag.
type ErrorPayload struct {
	Code bap.Code
}

func (p ErrorPayload) Marshal() []byte {
	buf := make([]byte, 4)
	putU32(buf, 0, uint32(p.Code))
	return buf
}

func UnmarshalError(b []byte) (ErrorPayload, error) {
	v, _, err := getU32(b, 0)
	return ErrorPayload{Code: bap.Code(v)}, err
}

// ExceptionPayload is the `E` tag: an error plus a capped excerpt of the
// offending packet (spec.md §6).
type ExceptionPayload struct {
	Code           bap.Code
	OffendingType  Tag
	OffendingBytes []byte
}

// MaxExceptionExcerpt bounds how much of the offending packet is echoed
// back, independent of the payload cap, so a maximally oversized frame
// doesn't double the exception frame's own size.
const MaxExceptionExcerpt = 64

func (p ExceptionPayload) Marshal() []byte {
	excerpt := p.OffendingBytes
	if len(excerpt) > MaxExceptionExcerpt {
		excerpt = excerpt[:MaxExceptionExcerpt]
	}
	buf := make([]byte, 8+len(excerpt))
	putU32(buf, 0, uint32(p.Code))
	putU32(buf, 4, uint32(p.OffendingType))
	copy(buf[8:], excerpt)
	return buf
}

func UnmarshalException(b []byte) (ExceptionPayload, error) {
	code, off, err := getU32(b, 0)
	if err != nil {
		return ExceptionPayload{}, err
	}
	typ, off, err := getU32(b, off)
	if err != nil {
		return ExceptionPayload{}, err
	}
	return ExceptionPayload{Code: bap.Code(code), OffendingType: Tag(typ), OffendingBytes: append([]byte{}, b[off:]...)}, nil
}

// SuspendDriverPayload is the `S` tag (spec.md §4.I): like enter_raw's
// driver name restriction, but with no magic number since only one
// client may hold suspend at a time (no accidental-activation risk to
// guard against).
type SuspendDriverPayload struct {
	DriverName string
}

func (p SuspendDriverPayload) Marshal() []byte {
	nameBytes := []byte(p.DriverName)
	buf := make([]byte, 1+len(nameBytes))
	buf[0] = byte(len(nameBytes))
	copy(buf[1:], nameBytes)
	return buf
}

func UnmarshalSuspendDriver(b []byte) (SuspendDriverPayload, error) {
	if len(b) == 0 {
		return SuspendDriverPayload{}, fmt.Errorf("protocolio: suspend_driver missing driver name length")
	}
	nameLen := int(b[0])
	if 1+nameLen > len(b) {
		return SuspendDriverPayload{}, fmt.Errorf("protocolio: suspend_driver truncated driver name")
	}
	return SuspendDriverPayload{DriverName: string(b[1 : 1+nameLen])}, nil
}

// Parameter value kinds (spec.md §4.E's typed parameter store), wide
// enough to cover every internal/driver.ParamID this server defines.
const (
	ParamValueUint32 uint32 = iota
	ParamValueString
	ParamValueSize
)

// ParameterValue is the typed payload shared by get_parameter's reply and
// set_parameter's request.
type ParameterValue struct {
	Kind          uint32
	U32           uint32
	Str           []byte
	Width, Height uint32
}

func (v ParameterValue) Marshal() []byte {
	switch v.Kind {
	case ParamValueUint32:
		buf := make([]byte, 8)
		off := putU32(buf, 0, v.Kind)
		putU32(buf, off, v.U32)
		return buf
	case ParamValueString:
		buf := make([]byte, 8+len(v.Str))
		off := putU32(buf, 0, v.Kind)
		off = putU32(buf, off, uint32(len(v.Str)))
		copy(buf[off:], v.Str)
		return buf
	case ParamValueSize:
		buf := make([]byte, 12)
		off := putU32(buf, 0, v.Kind)
		off = putU32(buf, off, v.Width)
		putU32(buf, off, v.Height)
		return buf
	default:
		buf := make([]byte, 4)
		putU32(buf, 0, v.Kind)
		return buf
	}
}

func UnmarshalParameterValue(b []byte) (ParameterValue, error) {
	kind, off, err := getU32(b, 0)
	if err != nil {
		return ParameterValue{}, err
	}
	switch kind {
	case ParamValueUint32:
		u, _, err := getU32(b, off)
		if err != nil {
			return ParameterValue{}, err
		}
		return ParameterValue{Kind: kind, U32: u}, nil
	case ParamValueString:
		n, off2, err := getU32(b, off)
		if err != nil {
			return ParameterValue{}, err
		}
		if off2+int(n) > len(b) {
			return ParameterValue{}, fmt.Errorf("protocolio: parameter value string truncated")
		}
		return ParameterValue{Kind: kind, Str: append([]byte{}, b[off2:off2+int(n)]...)}, nil
	case ParamValueSize:
		w, off2, err := getU32(b, off)
		if err != nil {
			return ParameterValue{}, err
		}
		h, _, err := getU32(b, off2)
		if err != nil {
			return ParameterValue{}, err
		}
		return ParameterValue{Kind: kind, Width: w, Height: h}, nil
	default:
		return ParameterValue{Kind: kind}, nil
	}
}

// ParameterValueFromAny encodes one of internal/driver.GetParameter's
// possible return types for the wire. It is the one place protocolio
// needs to know the parameter store's value shapes, since the wire
// format has to pick a concrete encoding for them.
func ParameterValueFromAny(v any) (ParameterValue, error) {
	switch x := v.(type) {
	case uint32:
		return ParameterValue{Kind: ParamValueUint32, U32: x}, nil
	case string:
		return ParameterValue{Kind: ParamValueString, Str: []byte(x)}, nil
	case driver.Size:
		return ParameterValue{Kind: ParamValueSize, Width: x.Width, Height: x.Height}, nil
	default:
		return ParameterValue{}, fmt.Errorf("protocolio: unsupported parameter value type %T", v)
	}
}

// ToAny decodes a ParameterValue back into the concrete type
// internal/driver.SetParameter expects.
func (v ParameterValue) ToAny() (any, error) {
	switch v.Kind {
	case ParamValueUint32:
		return v.U32, nil
	case ParamValueString:
		return string(v.Str), nil
	case ParamValueSize:
		return driver.Size{Width: v.Width, Height: v.Height}, nil
	default:
		return nil, fmt.Errorf("protocolio: unknown parameter value kind %d", v.Kind)
	}
}

// ParameterRequestPayload is the `g`/`W` tags: get_parameter and
// watch_parameter share the same (id, subparam, scope) request shape
// (spec.md §4.E).
type ParameterRequestPayload struct {
	ParamID  uint32
	Subparam uint32
	Scope    uint32
}

func (p ParameterRequestPayload) Marshal() []byte {
	buf := make([]byte, 12)
	off := putU32(buf, 0, p.ParamID)
	off = putU32(buf, off, p.Subparam)
	putU32(buf, off, p.Scope)
	return buf
}

func UnmarshalParameterRequest(b []byte) (ParameterRequestPayload, error) {
	id, off, err := getU32(b, 0)
	if err != nil {
		return ParameterRequestPayload{}, err
	}
	sub, off, err := getU32(b, off)
	if err != nil {
		return ParameterRequestPayload{}, err
	}
	scope, _, err := getU32(b, off)
	if err != nil {
		return ParameterRequestPayload{}, err
	}
	return ParameterRequestPayload{ParamID: id, Subparam: sub, Scope: scope}, nil
}

// SetParameterPayload is the `x` tag: a ParameterRequestPayload plus the
// value to write.
type SetParameterPayload struct {
	ParamID  uint32
	Subparam uint32
	Scope    uint32
	Value    ParameterValue
}

func (p SetParameterPayload) Marshal() []byte {
	head := ParameterRequestPayload{ParamID: p.ParamID, Subparam: p.Subparam, Scope: p.Scope}.Marshal()
	return append(head, p.Value.Marshal()...)
}

func UnmarshalSetParameter(b []byte) (SetParameterPayload, error) {
	req, err := UnmarshalParameterRequest(b)
	if err != nil {
		return SetParameterPayload{}, err
	}
	if len(b) < 12 {
		return SetParameterPayload{}, fmt.Errorf("protocolio: set_parameter missing value")
	}
	val, err := UnmarshalParameterValue(b[12:])
	if err != nil {
		return SetParameterPayload{}, err
	}
	return SetParameterPayload{ParamID: req.ParamID, Subparam: req.Subparam, Scope: req.Scope, Value: val}, nil
}

// WatchDescriptorPayload is the `D` tag: watch_parameter's reply, a
// handle unwatch_parameter later references.
type WatchDescriptorPayload struct {
	Descriptor uint32
}

func (p WatchDescriptorPayload) Marshal() []byte {
	buf := make([]byte, 4)
	putU32(buf, 0, p.Descriptor)
	return buf
}

func UnmarshalWatchDescriptor(b []byte) (WatchDescriptorPayload, error) {
	v, _, err := getU32(b, 0)
	return WatchDescriptorPayload{Descriptor: v}, err
}

// UnwatchParameterPayload is the `U` tag.
type UnwatchParameterPayload struct {
	Descriptor uint32
}

func (p UnwatchParameterPayload) Marshal() []byte {
	buf := make([]byte, 4)
	putU32(buf, 0, p.Descriptor)
	return buf
}

func UnmarshalUnwatchParameter(b []byte) (UnwatchParameterPayload, error) {
	v, _, err := getU32(b, 0)
	return UnwatchParameterPayload{Descriptor: v}, err
}

// ParameterUpdatePayload is the `Y` tag: the unsolicited push a watcher
// receives whenever set_parameter changes a parameter it is watching.
type ParameterUpdatePayload struct {
	Descriptor uint32
	Value      ParameterValue
}

func (p ParameterUpdatePayload) Marshal() []byte {
	buf := make([]byte, 4)
	putU32(buf, 0, p.Descriptor)
	return append(buf, p.Value.Marshal()...)
}

func UnmarshalParameterUpdate(b []byte) (ParameterUpdatePayload, error) {
	desc, off, err := getU32(b, 0)
	if err != nil {
		return ParameterUpdatePayload{}, err
	}
	val, err := UnmarshalParameterValue(b[off:])
	if err != nil {
		return ParameterUpdatePayload{}, err
	}
	return ParameterUpdatePayload{Descriptor: desc, Value: val}, nil
}
