package protocolio

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brlapi/bapserver/internal/bap"
	"github.com/brlapi/bapserver/internal/keycode"
)

func TestVersionRoundTrip(t *testing.T) {
	p := VersionPayload{Version: 7}
	got, err := UnmarshalVersion(p.Marshal())
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestAuthOfferRoundTrip(t *testing.T) {
	p := AuthOfferPayload{Methods: []uint32{0, 1, 2}}
	got, err := UnmarshalAuthOffer(p.Marshal())
	require.NoError(t, err)
	require.Equal(t, p.Methods, got.Methods)
}

func TestAuthRequestRoundTrip(t *testing.T) {
	p := AuthRequestPayload{MethodID: 1, Data: []byte("secret")}
	got, err := UnmarshalAuthRequest(p.Marshal())
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestEnterTtyRoundTrip(t *testing.T) {
	p := EnterTtyPayload{Path: []int32{1, 2, 3}, DriverName: "vario"}
	got, err := UnmarshalEnterTty(p.Marshal())
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestEnterTtyEmptyPath(t *testing.T) {
	p := EnterTtyPayload{}
	got, err := UnmarshalEnterTty(p.Marshal())
	require.NoError(t, err)
	require.Empty(t, got.Path)
	require.Equal(t, "", got.DriverName)
}

func TestKeyEventRoundTrip(t *testing.T) {
	code, err := keycode.Encode(keycode.TypeCmd, 0x02, 2, 0)
	require.NoError(t, err)

	p := KeyEventPayload{Code: code}
	got, err := UnmarshalKeyEvent(p.Marshal())
	require.NoError(t, err)
	require.Equal(t, code, got.Code)
}

func TestKeyRangesRoundTrip(t *testing.T) {
	p := KeyRangesPayload{Ranges: []keycode.Range{
		{First: 10, Last: 20},
		{First: 1 << 40, Last: (1 << 40) + 5},
	}}
	got, err := UnmarshalKeyRanges(p.Marshal())
	require.NoError(t, err)
	require.Equal(t, p.Ranges, got.Ranges)
}

func TestWriteCellsRoundTripAllFields(t *testing.T) {
	p := WriteCellsPayload{
		HasDisplay: true, DisplayNumber: 1,
		HasRegion: true, RegionBegin: 2, RegionSize: 4,
		HasText: true, Text: []byte("abcd"),
		HasAndMask: true, AndMask: []byte{0xff, 0xff, 0xff, 0xff},
		HasOrMask: true, OrMask: []byte{0x01, 0x02, 0x03, 0x04},
		HasCursor: true, CursorX: 2, CursorY: 0,
		HasCharset: true, Charset: []byte("utf-8"),
	}
	got, err := UnmarshalWriteCells(p.Marshal(), 4)
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestWriteCellsMinimal(t *testing.T) {
	p := WriteCellsPayload{HasOrMask: true, OrMask: []byte{0x3f, 0x3f}}
	got, err := UnmarshalWriteCells(p.Marshal(), 2)
	require.NoError(t, err)
	require.Equal(t, p.OrMask, got.OrMask)
	require.False(t, got.HasRegion)
}

func TestEnterRawRoundTrip(t *testing.T) {
	p := EnterRawPayload{Magic: RawMagic, DriverName: "xyz"}
	got, err := UnmarshalEnterRaw(p.Marshal())
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestErrorRoundTrip(t *testing.T) {
	p := ErrorPayload{Code: bap.DeviceBusy}
	got, err := UnmarshalError(p.Marshal())
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestExceptionRoundTripAndExcerptCap(t *testing.T) {
	huge := make([]byte, MaxExceptionExcerpt*2)
	p := ExceptionPayload{Code: bap.DriverError, OffendingType: TagWriteCells, OffendingBytes: huge}
	got, err := UnmarshalException(p.Marshal())
	require.NoError(t, err)
	require.Len(t, got.OffendingBytes, MaxExceptionExcerpt)
}
