package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildAuthConfigNone(t *testing.T) {
	cfg, err := buildAuthConfig("none", "", nil, nil, 8)
	require.NoError(t, err)
	require.True(t, cfg.AllowNone)
	require.Nil(t, cfg.AllowedUIDs)
	require.Nil(t, cfg.AllowedGIDs)
}

func TestBuildAuthConfigCombined(t *testing.T) {
	cfg, err := buildAuthConfig("none,localuser,localgroup", "", []int{1000, 1001}, []int{100}, 4)
	require.NoError(t, err)
	require.True(t, cfg.AllowNone)
	require.Equal(t, []uint32{1000, 1001}, cfg.AllowedUIDs)
	require.Equal(t, []uint32{100}, cfg.AllowedGIDs)
	require.Equal(t, 4, cfg.MaxUnauthInFlight)
}

func TestBuildAuthConfigKeyFileRequiresPath(t *testing.T) {
	_, err := buildAuthConfig("keyfile", "", nil, nil, 8)
	require.Error(t, err)

	cfg, err := buildAuthConfig("keyfile", "/tmp/does-not-matter", nil, nil, 8)
	require.NoError(t, err)
	require.Equal(t, "/tmp/does-not-matter", cfg.KeyFilePath)
}

func TestBuildAuthConfigUnknownMethod(t *testing.T) {
	_, err := buildAuthConfig("bogus", "", nil, nil, 8)
	require.Error(t, err)
}

func TestBuildAuthConfigTrailingComma(t *testing.T) {
	cfg, err := buildAuthConfig("none,", "", nil, nil, 8)
	require.NoError(t, err)
	require.True(t, cfg.AllowNone)
}

func TestToUint32s(t *testing.T) {
	require.Equal(t, []uint32{1, 2, 3}, toUint32s([]int{1, 2, 3}))
	require.Equal(t, []uint32{}, toUint32s([]int{}))
}
