package packet

import (
	"bytes"
	"encoding/binary"
	"math"
	"sync"
)

// Writer encodes wire records.
// Uses Little-Endian byte order for all multi-byte values.
type Writer struct {
	buf *bytes.Buffer
}

var writerPool = sync.Pool{
	New: func() any {
		return &Writer{
			buf: bytes.NewBuffer(make([]byte, 0, 256)),
		}
	},
}

// Get returns a Writer from the pool (already Reset).
func Get() *Writer {
	w := writerPool.Get().(*Writer)
	w.Reset()
	return w
}

// Put returns a Writer to the pool for reuse.
// IMPORTANT: Do not use the Writer (or slices from Bytes) after calling Put.
func (w *Writer) Put() {
	writerPool.Put(w)
}

// NewWriter creates a new writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{
		buf: bytes.NewBuffer(make([]byte, 0, capacity)),
	}
}

// WriteInt writes an int32 (4 bytes, LE).
func (w *Writer) WriteInt(val int32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(val))
	w.buf.Write(tmp[:])
}

// WriteLong writes an int64 (8 bytes, LE).
func (w *Writer) WriteLong(val int64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(val))
	w.buf.Write(tmp[:])
}

// WriteDouble writes a float64 (8 bytes, LE).
// Bits are copied verbatim, so -0.0 and NaN payloads survive a round trip.
func (w *Writer) WriteDouble(val float64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(val))
	w.buf.Write(tmp[:])
}

// Bytes returns the accumulated data. The slice aliases the Writer's buffer.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// CopyBytes returns a copy of the accumulated data that outlives Put.
func (w *Writer) CopyBytes() []byte {
	return bytes.Clone(w.buf.Bytes())
}

// Reset clears the buffer for reuse.
func (w *Writer) Reset() {
	w.buf.Reset()
}
