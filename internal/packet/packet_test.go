package packet

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_ReadInt(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    int32
		wantErr bool
	}{
		{"positive", []byte{0x42, 0x00, 0x00, 0x00}, 0x42, false},
		{"negative", []byte{0xfe, 0xff, 0xff, 0xff}, -2, false},
		{"short", []byte{0x01, 0x02}, 0, true},
		{"empty", []byte{}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(tt.data)
			got, err := r.ReadInt()
			if (err != nil) != tt.wantErr {
				t.Errorf("ReadInt() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ReadInt() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestReader_ReadLong(t *testing.T) {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, uint64(0x0102030405060708))

	r := NewReader(data)
	got, err := r.ReadLong()
	require.NoError(t, err)
	assert.Equal(t, int64(0x0102030405060708), got)
	assert.Equal(t, 0, r.Remaining())
}

func TestReader_ShortBuffer(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})

	_, err := r.ReadInt()
	require.ErrorIs(t, err, ErrShortBuffer)

	_, err = r.ReadLong()
	require.ErrorIs(t, err, ErrShortBuffer)

	_, err = r.ReadDouble()
	require.ErrorIs(t, err, ErrShortBuffer)
	assert.Equal(t, 3, r.Remaining(), "failed reads consume nothing")
}

func TestWriter_LayoutIsLittleEndian(t *testing.T) {
	w := NewWriter(32)
	w.WriteInt(-2)
	w.WriteLong(1 << 40)
	w.WriteDouble(1.1)

	b := w.Bytes()
	require.Len(t, b, 4+8+8)
	assert.Equal(t, uint32(0xfffffffe), binary.LittleEndian.Uint32(b[0:]))
	assert.Equal(t, uint64(1<<40), binary.LittleEndian.Uint64(b[4:]))
	assert.Equal(t, math.Float64bits(1.1), binary.LittleEndian.Uint64(b[12:]))
}

func TestWriterReader_Doubles(t *testing.T) {
	values := []float64{0.0, math.Copysign(0, -1), 1.1, 2.1, -1e308, math.Inf(1), math.SmallestNonzeroFloat64}

	w := Get()
	defer w.Put()
	for _, v := range values {
		w.WriteDouble(v)
	}

	r := NewReader(w.CopyBytes())
	for _, want := range values {
		got, err := r.ReadDouble()
		require.NoError(t, err)
		assert.Equal(t, math.Float64bits(want), math.Float64bits(got))
	}
}

func TestWriter_PoolReset(t *testing.T) {
	w := Get()
	w.WriteLong(7)
	w.Put()

	w2 := Get()
	defer w2.Put()
	assert.Empty(t, w2.Bytes())
}
