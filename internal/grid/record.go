package grid

import (
	"fmt"

	"github.com/udisondev/tilegrid/internal/packet"
)

// RecordSize is the encoded size of a Communication record.
//
// Layout (all fields little-endian, integers int64, floats IEEE 754 float64):
//
//	cid, owner, top_virtual_owner, communications, number_of_virtual_neighbors,
//	index_i, index_j, index_reserved(=0),
//	mins_x, mins_y, mins_reserved(=0.0),
//	maxs_x, maxs_y, maxs_reserved(=0.0)
const RecordSize = 14 * 8

// EncodeRecord appends the fixed-layout encoding of cm to w.
// The reserved third axis is always written as zero.
func EncodeRecord(w *packet.Writer, cm *Communication) {
	w.WriteLong(int64(cm.Cid))
	w.WriteLong(int64(cm.Owner))
	w.WriteLong(int64(cm.TopVirtualOwner))
	w.WriteLong(int64(cm.Communications))
	w.WriteLong(int64(cm.NumberOfVirtualNeighbors))

	w.WriteLong(int64(cm.Indices[0]))
	w.WriteLong(int64(cm.Indices[1]))
	w.WriteLong(0)

	w.WriteDouble(cm.Mins[0])
	w.WriteDouble(cm.Mins[1])
	w.WriteDouble(0)

	w.WriteDouble(cm.Maxs[0])
	w.WriteDouble(cm.Maxs[1])
	w.WriteDouble(0)
}

// DecodeRecord parses a record produced by EncodeRecord.
// Local is left false; the receiver decides ownership.
func DecodeRecord(data []byte) (Communication, error) {
	var cm Communication
	if len(data) != RecordSize {
		return cm, fmt.Errorf("record length %d, want %d: %w", len(data), RecordSize, ErrCorruptTransfer)
	}

	r := packet.NewReader(data)
	ints := make([]int64, 8)
	for k := range ints {
		v, err := r.ReadLong()
		if err != nil {
			return cm, fmt.Errorf("reading record field %d: %w", k, ErrCorruptTransfer)
		}
		ints[k] = v
	}
	floats := make([]float64, 6)
	for k := range floats {
		v, err := r.ReadDouble()
		if err != nil {
			return cm, fmt.Errorf("reading record field %d: %w", len(ints)+k, ErrCorruptTransfer)
		}
		floats[k] = v
	}

	if ints[0] < 0 {
		return cm, fmt.Errorf("negative cid %d: %w", ints[0], ErrCorruptTransfer)
	}
	if ints[7] != 0 || floats[2] != 0 || floats[5] != 0 {
		return cm, fmt.Errorf("reserved axis not zero: %w", ErrCorruptTransfer)
	}

	cm.Cid = TileID(ints[0])
	cm.Owner = int(ints[1])
	cm.TopVirtualOwner = int(ints[2])
	cm.Communications = int(ints[3])
	cm.NumberOfVirtualNeighbors = int(ints[4])
	cm.Indices = [3]int{int(ints[5]), int(ints[6]), 0}
	cm.Mins = [3]float64{floats[0], floats[1], 0}
	cm.Maxs = [3]float64{floats[3], floats[4], 0}
	return cm, nil
}
