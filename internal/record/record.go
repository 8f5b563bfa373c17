// Package record defines the on-disk wire formats shared by the backend,
// the persistent buffer, and the dispatcher: VectorInfo records within a
// posting, and assignment records within the buffer.
//
// All payloads are float32 vectors; D is carried alongside each record's
// owner (head or buffer) rather than in the record itself.
package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrShortRecord is returned when a byte slice is too small to hold a
// record of the expected size.
var ErrShortRecord = errors.New("record: buffer too short")

// VectorInfo is a single (VID, version, payload) tuple as stored inside a
// posting list: `VID:i32 | version:u8 | payload:T[D]`, little-endian.
type VectorInfo struct {
	VID     uint32
	Version uint8
	Payload []float32
}

// Size returns the encoded byte size of a VectorInfo for dimension dim.
func Size(dim int) int {
	return 4 + 1 + 4*dim
}

// Encode appends the wire encoding of v to dst and returns the result.
func Encode(dst []byte, v VectorInfo) []byte {
	var hdr [5]byte
	binary.LittleEndian.PutUint32(hdr[0:4], v.VID)
	hdr[4] = v.Version
	dst = append(dst, hdr[:]...)
	for _, f := range v.Payload {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], float32bits(f))
		dst = append(dst, b[:]...)
	}
	return dst
}

// Decode reads a single VectorInfo of dimension dim from b.
func Decode(b []byte, dim int) (VectorInfo, error) {
	n := Size(dim)
	if len(b) < n {
		return VectorInfo{}, fmt.Errorf("%w: need %d, have %d", ErrShortRecord, n, len(b))
	}
	v := VectorInfo{
		VID:     binary.LittleEndian.Uint32(b[0:4]),
		Version: b[4],
		Payload: make([]float32, dim),
	}
	off := 5
	for i := 0; i < dim; i++ {
		v.Payload[i] = float32frombits(binary.LittleEndian.Uint32(b[off : off+4]))
		off += 4
	}
	return v, nil
}

// DecodeAll splits a concatenated posting blob into its VectorInfo records.
func DecodeAll(b []byte, dim int) ([]VectorInfo, error) {
	n := Size(dim)
	if n == 0 || len(b)%n != 0 {
		return nil, fmt.Errorf("%w: blob length %d not a multiple of record size %d", ErrShortRecord, len(b), n)
	}
	count := len(b) / n
	out := make([]VectorInfo, count)
	for i := 0; i < count; i++ {
		v, err := Decode(b[i*n:(i+1)*n], dim)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Opcode tags an AssignmentRecord in the persistent buffer.
type Opcode byte

const (
	OpInsert Opcode = 0x00
	OpDelete Opcode = 0x01
)

// Replica is one (HID, VID, version, payload) tuple inside an Insert
// assignment record.
type Replica struct {
	HID     uint32
	VID     uint32
	Version uint8
	Payload []float32
}

// Assignment is a decoded persistent-buffer record: either an Insert
// carrying up to replicaCount replicas, or a Delete carrying a single VID.
type Assignment struct {
	Op       Opcode
	Replicas []Replica // OpInsert
	VID      uint32    // OpDelete
}

// EncodeInsert encodes an Insert assignment record:
// `0x00 | replicaCount:i8 | replicaCount x (HID:i32 | VID:i32 | version:u8 | payload:T[D])`.
func EncodeInsert(replicas []Replica) ([]byte, error) {
	if len(replicas) == 0 {
		return nil, errors.New("record: insert with zero replicas")
	}
	if len(replicas) > 127 {
		return nil, fmt.Errorf("record: replicaCount %d exceeds int8 range", len(replicas))
	}
	dim := len(replicas[0].Payload)
	buf := make([]byte, 0, 2+len(replicas)*(9+4*dim))
	buf = append(buf, byte(OpInsert), byte(len(replicas)))
	for _, r := range replicas {
		var hdr [9]byte
		binary.LittleEndian.PutUint32(hdr[0:4], r.HID)
		binary.LittleEndian.PutUint32(hdr[4:8], r.VID)
		hdr[8] = r.Version
		buf = append(buf, hdr[:]...)
		for _, f := range r.Payload {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], float32bits(f))
			buf = append(buf, b[:]...)
		}
	}
	return buf, nil
}

// EncodeDelete encodes a Delete assignment record: `0x01 | VID:i32`.
func EncodeDelete(vid uint32) []byte {
	buf := make([]byte, 5)
	buf[0] = byte(OpDelete)
	binary.LittleEndian.PutUint32(buf[1:5], vid)
	return buf
}

// DecodeAssignment parses a raw buffer record. dim is required to decode
// Insert payloads; it is ignored for Delete records.
func DecodeAssignment(b []byte, dim int) (Assignment, error) {
	if len(b) == 0 {
		return Assignment{}, ErrShortRecord
	}
	switch Opcode(b[0]) {
	case OpDelete:
		if len(b) < 5 {
			return Assignment{}, ErrShortRecord
		}
		return Assignment{Op: OpDelete, VID: binary.LittleEndian.Uint32(b[1:5])}, nil
	case OpInsert:
		if len(b) < 2 {
			return Assignment{}, ErrShortRecord
		}
		count := int(b[1])
		stride := 9 + 4*dim
		need := 2 + count*stride
		if len(b) < need {
			return Assignment{}, fmt.Errorf("%w: insert needs %d bytes, have %d", ErrShortRecord, need, len(b))
		}
		replicas := make([]Replica, count)
		off := 2
		for i := 0; i < count; i++ {
			hid := binary.LittleEndian.Uint32(b[off : off+4])
			vid := binary.LittleEndian.Uint32(b[off+4 : off+8])
			ver := b[off+8]
			payload := make([]float32, dim)
			poff := off + 9
			for d := 0; d < dim; d++ {
				payload[d] = float32frombits(binary.LittleEndian.Uint32(b[poff : poff+4]))
				poff += 4
			}
			replicas[i] = Replica{HID: hid, VID: vid, Version: ver, Payload: payload}
			off += stride
		}
		return Assignment{Op: OpInsert, Replicas: replicas}, nil
	default:
		return Assignment{}, fmt.Errorf("record: unknown opcode 0x%02x", b[0])
	}
}

func float32bits(f float32) uint32     { return math.Float32bits(f) }
func float32frombits(b uint32) float32 { return math.Float32frombits(b) }
