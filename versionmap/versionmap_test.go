package versionmap

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiveAfterGrow(t *testing.T) {
	m := New()
	require.NoError(t, m.EnsureCapacity(10))

	assert.True(t, m.IsLive(10, 0))
	assert.False(t, m.IsTombstoned(10))
}

func TestTombstoneMakesNotLive(t *testing.T) {
	m := New()
	require.NoError(t, m.EnsureCapacity(5))

	m.Tombstone(5)
	assert.True(t, m.IsTombstoned(5))
	assert.False(t, m.IsLive(5, 0))
	assert.EqualValues(t, 1, m.TombstonedCount())
}

func TestBumpVersionCAS(t *testing.T) {
	m := New()
	require.NoError(t, m.EnsureCapacity(1))

	assert.True(t, m.BumpVersion(1, 0))
	assert.Equal(t, uint8(1), m.Version(1))

	// Stale CAS (wrong "from") must fail.
	assert.False(t, m.BumpVersion(1, 0))
	assert.True(t, m.BumpVersion(1, 1))
}

func TestBumpVersionFailsOnTombstoned(t *testing.T) {
	m := New()
	require.NoError(t, m.EnsureCapacity(2))
	m.Tombstone(2)

	assert.False(t, m.BumpVersion(2, 0))
}

func TestGrowAcrossBlockBoundary(t *testing.T) {
	m := New()
	require.NoError(t, m.EnsureCapacity(BlockCapacity + 3))

	assert.True(t, m.IsLive(0, 0))
	assert.True(t, m.IsLive(BlockCapacity+3, 0))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := New()
	require.NoError(t, m.EnsureCapacity(BlockCapacity+1))
	m.Tombstone(3)
	require.True(t, m.BumpVersion(7, 0))

	var buf bytes.Buffer
	require.NoError(t, m.SaveTo(&buf))

	loaded := New()
	require.NoError(t, loaded.LoadFrom(&buf))

	assert.True(t, loaded.IsTombstoned(3))
	assert.Equal(t, uint8(1), loaded.Version(7))
	assert.True(t, loaded.IsLive(BlockCapacity+1, 0))
	assert.EqualValues(t, 1, loaded.TombstonedCount())
}
