package keycode

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEncodeDecodeFields(t *testing.T) {
	c, err := Encode(TypeCmd, 0x10, 42, FlagShift|FlagRouting)
	require.NoError(t, err)
	require.Equal(t, TypeCmd, c.Type())
	require.EqualValues(t, 0x10, c.Group())
	require.EqualValues(t, 42, c.Argument())
	require.Equal(t, FlagShift|FlagRouting, c.Flags())
}

func TestSimpleCommandHasZeroWidth(t *testing.T) {
	require.Equal(t, 0, ArgumentWidth(TypeCmd, 0))
	_, err := Encode(TypeCmd, 0, 1, 0)
	require.ErrorIs(t, err, ErrInvalidParameter)

	c, err := Encode(TypeCmd, 0, 0, 0)
	require.NoError(t, err)
	require.Equal(t, FamilySimple, c.Family())
}

func TestUnicodeRoundTrip(t *testing.T) {
	c, err := EncodeSymUnicode(0x1F600, FlagShift)
	require.NoError(t, err)
	require.True(t, c.SymIsUnicode())
	require.Equal(t, rune(0x1F600), c.UnicodePoint())
}

func TestASCIISymbolIsNotUnicode(t *testing.T) {
	c, err := Encode(TypeSym, 0x00, 'A', 0)
	require.NoError(t, err)
	require.False(t, c.SymIsUnicode())
	require.Equal(t, byte('A'), c.ASCII())
}

func TestCommandBijection(t *testing.T) {
	c, err := Encode(TypeCmd, 0x12, 0x34, FlagControl)
	require.NoError(t, err)

	cmd, flags, err := ToCommand(c)
	require.NoError(t, err)
	require.EqualValues(t, 0x120034, cmd)

	back, err := FromCommand(cmd, flags)
	require.NoError(t, err)
	require.Equal(t, c, back)
}

// TestDescribeRoundTripProperty is spec.md §8 property 5: for every code
// produced by encode(command, argument, flags), describe(encode(...))
// yields the original command name and argument (and the original flags
// as an unordered set).
func TestDescribeRoundTripProperty(t *testing.T) {
	table := StandardTable()

	rapid.Check(t, func(t *rapid.T) {
		argument := rapid.IntRange(0, 0xFF).Draw(t, "argument")
		flagBits := rapid.Uint32Range(0, uint32(FlagKbdEmul3|FlagKbdEmul3-1)).Draw(t, "flags")

		c, err := Encode(TypeSym, 0x00, uint16(argument), Flag(flagBits))
		require.NoError(t, err)

		desc, err := table.Describe(c)
		require.NoError(t, err)
		require.Equal(t, "char", desc.CmdName)
		require.EqualValues(t, argument, desc.Argument)
		require.ElementsMatch(t, Flag(flagBits).Names(), desc.Flags)
	})
}

func TestRangeCoalescing(t *testing.T) {
	a := Single(Code(10))
	b := Single(Code(11))
	require.True(t, a.Adjoins(b))

	c := Single(Code(20))
	require.False(t, a.Adjoins(c))
}

func TestNewRangeRejectsInverted(t *testing.T) {
	_, err := NewRange(Code(5), Code(1))
	require.ErrorIs(t, err, ErrInvalidParameter)
}
