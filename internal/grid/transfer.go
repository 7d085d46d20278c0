package grid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/udisondev/tilegrid/internal/packet"
)

// Message tags used by the tile transfer protocol.
const (
	TagTile      = 1 // replica record
	TagTileCount = 2 // number of replica records that follow in a bulk exchange
	TagHandoff   = 3 // ownership handoff record
)

// TransferMode selects what SendTile does with the sender's copy.
type TransferMode uint8

const (
	// Replicate keeps the sender's copy; the receiver gets a virtual tile.
	Replicate TransferMode = iota
	// Handoff drops the sender's copy; the receiver adopts the tile as local.
	// The ownership map is not changed: until the coordinator populates and
	// broadcasts a map naming the new owner, boundary analysis on the sender
	// still treats the cell as its own and ships nothing to the receiver.
	Handoff
)

func (m TransferMode) String() string {
	switch m {
	case Replicate:
		return "replicate"
	case Handoff:
		return "handoff"
	default:
		return fmt.Sprintf("TransferMode(%d)", uint8(m))
	}
}

func (m TransferMode) tag() int {
	if m == Handoff {
		return TagHandoff
	}
	return TagTile
}

// SendTile transmits the metadata of local tile id to dest.
// Before encoding, the record is stamped with this rank as owner and with the
// tile's own id, index and bounds. The call returns once the transport has
// accepted the record.
func (n *Node) SendTile(ctx context.Context, id TileID, dest int, mode TransferMode) error {
	if dest < 0 || dest >= n.size {
		return fmt.Errorf("sending tile %d to rank %d of %d: %w", id, dest, n.size, ErrOutOfRange)
	}

	n.mu.Lock()
	t, ok := n.tiles[id]
	if !ok {
		n.mu.Unlock()
		return fmt.Errorf("sending tile %d: %w", id, ErrNotFound)
	}
	if !t.Communication.Local {
		n.mu.Unlock()
		return fmt.Errorf("sending tile %d owned by rank %d: %w", id, t.Communication.Owner, ErrNotOwner)
	}
	payload := n.stampAndEncodeLocked(t)
	n.mu.Unlock()

	if err := n.comm.Send(ctx, dest, mode.tag(), payload); err != nil {
		return fmt.Errorf("sending tile %d to rank %d: %w", id, dest, err)
	}

	if mode == Handoff {
		n.mu.Lock()
		delete(n.tiles, id)
		n.sendQueue = slices.DeleteFunc(n.sendQueue, func(q TileID) bool { return q == id })
		n.mu.Unlock()
	}

	slog.Debug("tile sent", "rank", n.rank, "id", id, "dest", dest, "mode", mode)
	return nil
}

// RecvTile blocks until a replica record arrives from src and registers the
// reconstructed tile as a virtual copy owned by src. A previous virtual copy
// of the same id is replaced.
func (n *Node) RecvTile(ctx context.Context, src int) (*Tile, error) {
	if src < 0 || src >= n.size {
		return nil, fmt.Errorf("receiving tile from rank %d of %d: %w", src, n.size, ErrOutOfRange)
	}
	data, err := n.comm.Receive(ctx, src, TagTile)
	if err != nil {
		return nil, fmt.Errorf("receiving tile from rank %d: %w", src, err)
	}

	t, err := n.reconstruct(data)
	if err != nil {
		return nil, fmt.Errorf("tile from rank %d: %w", src, err)
	}
	t.Communication.Owner = src
	t.Communication.Local = false

	if err := n.storeReceived(t); err != nil {
		return nil, fmt.Errorf("tile from rank %d: %w", src, err)
	}

	slog.Debug("tile received", "rank", n.rank, "id", t.id, "src", src)
	return t, nil
}

// AcceptTile blocks until a handoff record arrives from src and adopts the
// tile as local to this rank.
func (n *Node) AcceptTile(ctx context.Context, src int) (*Tile, error) {
	if src < 0 || src >= n.size {
		return nil, fmt.Errorf("accepting tile from rank %d of %d: %w", src, n.size, ErrOutOfRange)
	}
	data, err := n.comm.Receive(ctx, src, TagHandoff)
	if err != nil {
		return nil, fmt.Errorf("accepting tile from rank %d: %w", src, err)
	}

	t, err := n.reconstruct(data)
	if err != nil {
		return nil, fmt.Errorf("handoff from rank %d: %w", src, err)
	}
	t.Communication.Owner = n.rank
	t.Communication.Local = true

	if err := n.storeReceived(t); err != nil {
		return nil, fmt.Errorf("handoff from rank %d: %w", src, err)
	}

	slog.Debug("tile adopted", "rank", n.rank, "id", t.id, "src", src)
	return t, nil
}

// SendTiles ships every queued boundary tile to each rank listed in its
// VirtualOwners. Each other rank first receives the number of tiles to expect.
func (n *Node) SendTiles(ctx context.Context) error {
	type outgoing struct {
		id      TileID
		payload []byte
		dests   []int
	}

	n.mu.Lock()
	queue := make([]outgoing, 0, len(n.sendQueue))
	for _, id := range n.sendQueue {
		t, ok := n.tiles[id]
		if !ok || !t.Communication.Local {
			continue
		}
		queue = append(queue, outgoing{
			id:      id,
			payload: n.stampAndEncodeLocked(t),
			dests:   slices.Clone(t.Communication.VirtualOwners),
		})
	}
	n.mu.Unlock()

	for dest := range n.size {
		if dest == n.rank {
			continue
		}
		count := 0
		for _, o := range queue {
			if slices.Contains(o.dests, dest) {
				count++
			}
		}
		if err := n.comm.Send(ctx, dest, TagTileCount, encodeCount(count)); err != nil {
			return fmt.Errorf("announcing %d tiles to rank %d: %w", count, dest, err)
		}
	}

	for _, o := range queue {
		for _, dest := range o.dests {
			if dest == n.rank {
				continue
			}
			if err := n.comm.Send(ctx, dest, TagTile, o.payload); err != nil {
				return fmt.Errorf("sending tile %d to rank %d: %w", o.id, dest, err)
			}
		}
	}

	slog.Debug("boundary tiles sent", "rank", n.rank, "tiles", len(queue))
	return nil
}

// RecvTiles receives the tiles announced by every other rank in SendTiles and
// creates or refreshes the corresponding virtual copies. It returns the number
// of tiles received. A record that cannot be stored does not stop the
// exchange; the first such error is returned once every batch is consumed.
func (n *Node) RecvTiles(ctx context.Context) (int, error) {
	var firstErr error
	total := 0
	for src := range n.size {
		if src == n.rank {
			continue
		}
		data, err := n.comm.Receive(ctx, src, TagTileCount)
		if err != nil {
			return total, fmt.Errorf("receiving tile count from rank %d: %w", src, err)
		}
		count, err := decodeCount(data)
		if err != nil {
			return total, fmt.Errorf("tile count from rank %d: %w", src, err)
		}
		for range count {
			if _, err := n.RecvTile(ctx, src); err != nil {
				// A rejected record still consumes its slot so the rest of
				// the batch is not left queued for the next exchange.
				if !isRecordError(err) {
					return total, err
				}
				slog.Warn("boundary tile rejected", "rank", n.rank, "src", src, "error", err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			total++
		}
	}

	slog.Debug("boundary tiles received", "rank", n.rank, "tiles", total)
	return total, firstErr
}

// isRecordError reports whether err concerns a single record rather than
// the transport.
func isRecordError(err error) bool {
	return errors.Is(err, ErrDuplicateTile) || errors.Is(err, ErrCorruptTransfer)
}

// stampAndEncodeLocked asserts this rank's ownership on t and encodes its
// record. Caller must hold n.mu for writing.
func (n *Node) stampAndEncodeLocked(t *Tile) []byte {
	t.Communication.Owner = n.rank
	t.syncRecord()

	w := packet.Get()
	defer w.Put()
	EncodeRecord(w, &t.Communication)
	return w.CopyBytes()
}

// reconstruct decodes a record and checks it addresses a cell of this grid.
func (n *Node) reconstruct(data []byte) (*Tile, error) {
	cm, err := DecodeRecord(data)
	if err != nil {
		return nil, err
	}

	i, j := cm.Indices[0], cm.Indices[1]
	if !IsValidIndex(i, j, n.nx, n.ny) {
		return nil, fmt.Errorf("index (%d,%d) outside %dx%d grid: %w", i, j, n.nx, n.ny, ErrCorruptTransfer)
	}
	if want := TileID(j*n.nx + i); cm.Cid != want {
		return nil, fmt.Errorf("cid %d does not match index (%d,%d) id %d: %w", cm.Cid, i, j, want, ErrCorruptTransfer)
	}

	t := &Tile{}
	t.loadRecord(cm)
	return t, nil
}

// storeReceived registers a reconstructed tile, replacing a virtual copy but
// never an authoritative one.
func (n *Node) storeReceived(t *Tile) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if prev, ok := n.tiles[t.id]; ok && prev.Communication.Local {
		return fmt.Errorf("tile %d is owned by rank %d: %w", t.id, n.rank, ErrDuplicateTile)
	}
	n.tiles[t.id] = t
	return nil
}

func encodeCount(count int) []byte {
	w := packet.NewWriter(8)
	w.WriteLong(int64(count))
	return w.Bytes()
}

func decodeCount(data []byte) (int, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("count payload %d bytes: %w", len(data), ErrCorruptTransfer)
	}
	v, err := packet.NewReader(data).ReadLong()
	if err != nil || v < 0 {
		return 0, fmt.Errorf("count %d: %w", v, ErrCorruptTransfer)
	}
	return int(v), nil
}
