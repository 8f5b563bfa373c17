package postingsize

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndLoad(t *testing.T) {
	tbl := New()
	assert.EqualValues(t, 0, tbl.Load(1))

	tbl.Add(1, 5)
	tbl.Add(1, 3)
	assert.EqualValues(t, 8, tbl.Load(1))
}

func TestStoreOverridesAfterSplit(t *testing.T) {
	tbl := New()
	tbl.Add(1, 100)
	tbl.Store(1, 12)
	assert.EqualValues(t, 12, tbl.Load(1))
}

func TestDeleteRemovesHead(t *testing.T) {
	tbl := New()
	tbl.Add(1, 10)
	tbl.Delete(1)
	assert.EqualValues(t, 0, tbl.Load(1))
	assert.NotContains(t, tbl.Heads(), uint32(1))
}

func TestSaveToFormat(t *testing.T) {
	tbl := New()
	tbl.Add(1, 4)
	tbl.Add(2, 6)

	var buf bytes.Buffer
	require.NoError(t, tbl.SaveTo(&buf, []uint32{1, 2}))
	assert.Equal(t, 8+4*2, buf.Len())
}

func TestSaveToThenLoadFromRoundTrips(t *testing.T) {
	tbl := New()
	tbl.Add(1, 4)
	tbl.Add(2, 6)
	hids := []uint32{1, 2}

	var buf bytes.Buffer
	require.NoError(t, tbl.SaveTo(&buf, hids))

	restored := New()
	require.NoError(t, restored.LoadFrom(&buf, hids))
	assert.EqualValues(t, 4, restored.Load(1))
	assert.EqualValues(t, 6, restored.Load(2))
}

func TestLoadFromRejectsMismatchedHeadCount(t *testing.T) {
	tbl := New()
	tbl.Add(1, 4)

	var buf bytes.Buffer
	require.NoError(t, tbl.SaveTo(&buf, []uint32{1}))

	restored := New()
	err := restored.LoadFrom(&buf, []uint32{1, 2})
	assert.Error(t, err)
}
