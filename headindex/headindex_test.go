package headindex

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndSearchCentroid(t *testing.T) {
	a := New(2)
	require.NoError(t, a.AddCentroid(100, []float32{0, 0}))
	require.NoError(t, a.AddCentroid(200, []float32{10, 10}))

	results, err := a.Search([]float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.EqualValues(t, 100, results[0].HID)
}

func TestRemoveCentroidExcludedFromSearch(t *testing.T) {
	a := New(2)
	require.NoError(t, a.AddCentroid(1, []float32{0, 0}))
	require.NoError(t, a.AddCentroid(2, []float32{1, 1}))

	require.NoError(t, a.RemoveCentroid(1))
	assert.False(t, a.Contains(1))

	results, err := a.Search([]float32{0, 0}, 2)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, uint32(1), r.HID)
	}
}

func TestDuplicateHIDRejected(t *testing.T) {
	a := New(2)
	require.NoError(t, a.AddCentroid(5, []float32{0, 0}))
	assert.Error(t, a.AddCentroid(5, []float32{1, 1}))
}

func TestSaveLoadHeadIDs(t *testing.T) {
	a := New(2)
	require.NoError(t, a.AddCentroid(7, []float32{0, 0}))
	require.NoError(t, a.AddCentroid(9, []float32{1, 1}))

	var buf bytes.Buffer
	written, err := a.SaveHeadIDs(&buf)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint32{7, 9}, written)

	hids, err := a.LoadHeadIDs(&buf)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint32{7, 9}, hids)
}

func TestSampleReturnsStoredVector(t *testing.T) {
	a := New(2)
	require.NoError(t, a.AddCentroid(3, []float32{4, 5}))

	vec, ok := a.Sample(3)
	require.True(t, ok)
	assert.Equal(t, []float32{4, 5}, vec)

	_, ok = a.Sample(999)
	assert.False(t, ok)
}
