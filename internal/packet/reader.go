package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrShortBuffer is returned when a read runs past the end of the record.
var ErrShortBuffer = errors.New("not enough data")

// Reader decodes wire records.
// Uses Little-Endian byte order for all multi-byte values.
type Reader struct {
	data []byte
	pos  int
}

// NewReader creates a new record reader.
func NewReader(data []byte) *Reader {
	return &Reader{
		data: data,
		pos:  0,
	}
}

// ReadInt reads an int32 (4 bytes, LE).
func (r *Reader) ReadInt() (int32, error) {
	if r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("ReadInt: %w (pos=%d, len=%d)", ErrShortBuffer, r.pos, len(r.data))
	}
	val := int32(binary.LittleEndian.Uint32(r.data[r.pos:]))
	r.pos += 4
	return val, nil
}

// ReadLong reads an int64 (8 bytes, LE).
func (r *Reader) ReadLong() (int64, error) {
	if r.pos+8 > len(r.data) {
		return 0, fmt.Errorf("ReadLong: %w (pos=%d, len=%d)", ErrShortBuffer, r.pos, len(r.data))
	}
	val := int64(binary.LittleEndian.Uint64(r.data[r.pos:]))
	r.pos += 8
	return val, nil
}

// ReadDouble reads a float64 (8 bytes, LE, IEEE 754).
func (r *Reader) ReadDouble() (float64, error) {
	if r.pos+8 > len(r.data) {
		return 0, fmt.Errorf("ReadDouble: %w (pos=%d, len=%d)", ErrShortBuffer, r.pos, len(r.data))
	}
	bits := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return math.Float64frombits(bits), nil
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

