package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHexBytes(t *testing.T) {
	got, err := parseHexBytes([]string{"0x01", "ff", "0x0a"})
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0xff, 0x0a}, got)
}

func TestParseHexBytesEmpty(t *testing.T) {
	got, err := parseHexBytes(nil)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestParseHexBytesInvalid(t *testing.T) {
	_, err := parseHexBytes([]string{"not-hex"})
	require.Error(t, err)
}
