package transport

import (
	"bytes"
	"context"
	"fmt"
)

// Local is one rank of an in-process cluster. Ranks exchange payloads through
// mailboxes, so Send never blocks and delivery is FIFO per (source, tag).
type Local struct {
	rank  int
	peers []*Local
	inbox *mailboxes
}

// NewLocalCluster creates size connected ranks; element k has rank k.
func NewLocalCluster(size int) []*Local {
	peers := make([]*Local, size)
	for r := range size {
		peers[r] = &Local{rank: r, inbox: newMailboxes()}
	}
	for _, p := range peers {
		p.peers = peers
	}
	return peers
}

// Rank returns this endpoint's rank.
func (l *Local) Rank() int { return l.rank }

// Size returns the number of ranks in the cluster.
func (l *Local) Size() int { return len(l.peers) }

// Send copies payload into dest's mailbox for (this rank, tag).
func (l *Local) Send(ctx context.Context, dest, tag int, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dest < 0 || dest >= len(l.peers) {
		return fmt.Errorf("send to rank %d: %w", dest, ErrUnknownRank)
	}
	peer := l.peers[dest]
	select {
	case <-peer.inbox.closed:
		return fmt.Errorf("send to rank %d: %w", dest, ErrClosed)
	default:
	}
	peer.inbox.put(l.rank, tag, bytes.Clone(payload))
	return nil
}

// Receive blocks until a payload from src with tag is available.
func (l *Local) Receive(ctx context.Context, src, tag int) ([]byte, error) {
	if src < 0 || src >= len(l.peers) {
		return nil, fmt.Errorf("receive from rank %d: %w", src, ErrUnknownRank)
	}
	return l.inbox.take(ctx, src, tag)
}

// Broadcast distributes root's payload to every rank.
func (l *Local) Broadcast(ctx context.Context, root int, payload []byte) ([]byte, error) {
	return broadcast(ctx, l, root, payload)
}

// Close wakes pending receivers with ErrClosed and rejects further sends to
// this rank.
func (l *Local) Close() error {
	l.inbox.close()
	return nil
}
