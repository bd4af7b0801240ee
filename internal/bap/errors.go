// Package bap holds the error taxonomy shared by every server-side
// component (spec.md §7). The server never leaks free-form strings across
// the wire, only one of these codes; components return ordinary Go errors
// that wrap a Code via errors.Is/errors.As, and the protocol layer maps
// them to an `e`/`E` frame at the boundary.
package bap

import (
	"errors"
	"fmt"
)

// Code is a wire-visible error code, spec.md §7.
type Code uint32

const (
	Success Code = iota
	NoMem
	TtyBusy
	DeviceBusy
	UnknownInstruction
	IllegalInstruction
	InvalidParameter
	InvalidPacket
	ConnectionRefused
	OpNotSupported
	ResolverError
	OSError
	UnknownTty
	ProtocolVersion
	EOFCode
	EmptyKey
	DriverError
	Authentication
)

var names = map[Code]string{
	Success:            "success",
	NoMem:              "nomem",
	TtyBusy:            "tty_busy",
	DeviceBusy:         "device_busy",
	UnknownInstruction: "unknown_instruction",
	IllegalInstruction: "illegal_instruction",
	InvalidParameter:   "invalid_parameter",
	InvalidPacket:      "invalid_packet",
	ConnectionRefused:  "connection_refused",
	OpNotSupported:     "op_not_supported",
	ResolverError:      "resolver_error",
	OSError:            "os_error",
	UnknownTty:         "unknown_tty",
	ProtocolVersion:    "protocol_version",
	EOFCode:            "eof",
	EmptyKey:           "empty_key",
	DriverError:        "driver_error",
	Authentication:     "authentication",
}

func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return fmt.Sprintf("code(%d)", uint32(c))
}

// Error wraps a Code as a Go error so component code can return it with
// errors.New-style ergonomics while still being classifiable at the
// protocol boundary via errors.As.
type Error struct {
	Code Code
	Msg  string // server-side diagnostic only, never sent on the wire
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// New constructs an *Error for code with an optional diagnostic message.
func New(code Code, msg string) error {
	return &Error{Code: code, Msg: msg}
}

// Newf is New with fmt.Sprintf-style formatting of msg.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the Code carried by err, defaulting to OSError for any
// error that was not constructed via New/Newf (an invariant violation
// anywhere it happens, but one the wire layer must still degrade safely
// from rather than panic).
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return OSError
}

// Sentinels for the transition-table-style checks that don't need a
// diagnostic message attached at the call site.
var (
	ErrIllegalInstruction = New(IllegalInstruction, "operation not valid in current state")
	ErrDeviceBusy         = New(DeviceBusy, "device already owned by another connection")
	ErrOpNotSupported     = New(OpNotSupported, "operation not supported by driver")
	ErrUnknownTty         = New(UnknownTty, "tty not found")
	ErrInvalidParameter   = New(InvalidParameter, "invalid parameter")
)
