package keycode

// Command is the server's internal 24-bit command vocabulary value, the
// target of the bijective CMD-side translation in spec.md §4.C: "the type
// field is stripped, the group is shifted by 16 to produce a 24-bit
// command blocked value, argument bits concatenate".
type Command uint32

// InternalFlag is the server's internal flag set, one-to-one with Flag.
type InternalFlag uint32

// internalFlagOf and flagOfInternal perform the one-to-one flag mapping.
// The mapping is the identity function: the internal flag set reuses the
// same bit positions as the wire Flag type. Keeping them distinct types
// (rather than a single alias) documents that they are conceptually two
// namespaces that simply happen to agree, matching spec.md's description
// of the mapping as a property to uphold rather than an implementation
// detail to rely on.
func internalFlagOf(f Flag) InternalFlag { return InternalFlag(f) }
func flagOfInternal(f InternalFlag) Flag { return Flag(f) }

// ToCommand translates a CMD-type Code into the internal command
// vocabulary. It is an error to call this on a SYM code.
func ToCommand(c Code) (Command, InternalFlag, error) {
	if c.Type() != TypeCmd {
		return 0, 0, ErrInvalidParameter
	}
	if _, _, _, _, err := Decode(c); err != nil {
		return 0, 0, err
	}
	blocked := Command(uint32(c.Group())<<16 | uint32(c.Argument()))
	return blocked, internalFlagOf(c.Flags()), nil
}

// FromCommand is the inverse of ToCommand: given an internal command
// vocabulary value and internal flags, it reconstructs the CMD-type Code.
// ToCommand and FromCommand form a bijection on valid inputs (spec.md §8
// property 5 relies on this via Encode/Describe, this is the lower-level
// primitive the command processor uses).
func FromCommand(cmd Command, flags InternalFlag) (Code, error) {
	group := uint8((cmd >> 16) & 0xFF)
	argument := uint16(cmd & 0xFFFF)
	return Encode(TypeCmd, group, argument, flagOfInternal(flags))
}
