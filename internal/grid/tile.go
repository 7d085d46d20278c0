package grid

// Communication describes a tile's distributed status.
// It is transmitted verbatim on every transfer (see record.go for the layout).
type Communication struct {
	// Cid is a redundant copy of the tile id used to validate reconstruction.
	Cid TileID
	// Owner is the rank that authoritatively owns the tile data.
	Owner int
	// Local is true iff Owner equals the rank holding this copy.
	Local bool

	// Halo topology counters. Stored and transmitted, never interpreted here.
	TopVirtualOwner          int
	Communications           int
	NumberOfVirtualNeighbors int

	// Indices, Mins and Maxs carry a reserved third axis that is always zero.
	Indices [3]int
	Mins    [3]float64
	Maxs    [3]float64

	// VirtualOwners lists the ranks holding a virtual copy of this tile.
	// Filled by boundary analysis; local bookkeeping, not sent on the wire.
	VirtualOwners []int
}

// Tile is the unit of spatial decomposition.
type Tile struct {
	id       TileID
	index    Index
	hasIndex bool
	hasID    bool

	mins [2]float64
	maxs [2]float64

	Communication Communication

	// Payload is caller-owned simulation data. It is never serialized and is
	// not carried over when a tile is reconstructed on another rank.
	Payload any
}

// NewTile creates an unregistered tile. Its index and id are assigned by
// Node.AddTile.
func NewTile() *Tile {
	return &Tile{}
}

// NewTileAt creates a tile that already knows its grid coordinate.
// Node.AddTile rejects registering it under a different coordinate.
func NewTileAt(i, j int) *Tile {
	return &Tile{
		index:    Index{I: i, J: j},
		hasIndex: true,
	}
}

// ID returns the tile id (zero until registered).
func (t *Tile) ID() TileID {
	return t.id
}

// Index returns the tile grid coordinate.
func (t *Tile) Index() Index {
	return t.index
}

// Mins returns the lower corner of the tile bounding box.
func (t *Tile) Mins() [2]float64 {
	return t.mins
}

// Maxs returns the upper corner of the tile bounding box.
func (t *Tile) Maxs() [2]float64 {
	return t.maxs
}

// SetMins sets the lower corner of the tile bounding box.
func (t *Tile) SetMins(mins [2]float64) {
	t.mins = mins
	t.Communication.Mins = [3]float64{mins[0], mins[1], 0}
}

// SetMaxs sets the upper corner of the tile bounding box.
func (t *Tile) SetMaxs(maxs [2]float64) {
	t.maxs = maxs
	t.Communication.Maxs = [3]float64{maxs[0], maxs[1], 0}
}

// IsLocal reports whether this copy is authoritative.
func (t *Tile) IsLocal() bool {
	return t.Communication.Local
}

// assign fixes identity at registration and mirrors it into the record.
func (t *Tile) assign(id TileID, idx Index) {
	t.id = id
	t.index = idx
	t.hasID = true
	t.hasIndex = true
	t.Communication.Cid = id
	t.Communication.Indices = [3]int{idx.I, idx.J, 0}
}

// syncRecord mirrors the tile-level identity and geometry into the record.
func (t *Tile) syncRecord() {
	t.Communication.Cid = t.id
	t.Communication.Indices = [3]int{t.index.I, t.index.J, 0}
	t.Communication.Mins = [3]float64{t.mins[0], t.mins[1], 0}
	t.Communication.Maxs = [3]float64{t.maxs[0], t.maxs[1], 0}
}

// loadRecord rebuilds tile-level fields from a received record.
func (t *Tile) loadRecord(cm Communication) {
	t.Communication = cm
	t.id = cm.Cid
	t.index = Index{I: cm.Indices[0], J: cm.Indices[1]}
	t.hasID = true
	t.hasIndex = true
	t.mins = [2]float64{cm.Mins[0], cm.Mins[1]}
	t.maxs = [2]float64{cm.Maxs[0], cm.Maxs[1]}
}
