package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorInfoRoundTrip(t *testing.T) {
	v := VectorInfo{VID: 42, Version: 7, Payload: []float32{1.5, -2.25, 0, 3.125}}
	buf := Encode(nil, v)
	require.Len(t, buf, Size(4))

	got, err := Decode(buf, 4)
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestDecodeAllRejectsMisalignedBlob(t *testing.T) {
	_, err := DecodeAll(make([]byte, Size(4)+1), 4)
	assert.ErrorIs(t, err, ErrShortRecord)
}

func TestDecodeAllConcatenated(t *testing.T) {
	vs := []VectorInfo{
		{VID: 1, Version: 0, Payload: []float32{1, 2}},
		{VID: 2, Version: 1, Payload: []float32{3, 4}},
	}
	var blob []byte
	for _, v := range vs {
		blob = Encode(blob, v)
	}

	got, err := DecodeAll(blob, 2)
	require.NoError(t, err)
	assert.Equal(t, vs, got)
}

func TestInsertAssignmentRoundTrip(t *testing.T) {
	replicas := []Replica{
		{HID: 10, VID: 100, Version: 0, Payload: []float32{0.1, 0.2, 0.3}},
		{HID: 11, VID: 100, Version: 0, Payload: []float32{0.1, 0.2, 0.3}},
	}
	buf, err := EncodeInsert(replicas)
	require.NoError(t, err)
	require.Equal(t, byte(OpInsert), buf[0])

	got, err := DecodeAssignment(buf, 3)
	require.NoError(t, err)
	assert.Equal(t, OpInsert, got.Op)
	assert.Equal(t, replicas, got.Replicas)
}

func TestDeleteAssignmentRoundTrip(t *testing.T) {
	buf := EncodeDelete(7)
	got, err := DecodeAssignment(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, OpDelete, got.Op)
	assert.Equal(t, uint32(7), got.VID)
}

func TestEncodeInsertRejectsEmpty(t *testing.T) {
	_, err := EncodeInsert(nil)
	assert.Error(t, err)
}
