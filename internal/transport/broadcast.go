package transport

import (
	"context"
	"fmt"
)

// tagBroadcast is reserved for broadcast traffic; user tags are non-negative.
const tagBroadcast = -1

type pointToPoint interface {
	Rank() int
	Size() int
	Send(ctx context.Context, dest, tag int, payload []byte) error
	Receive(ctx context.Context, src, tag int) ([]byte, error)
}

// broadcast sends root's payload to every other rank over point-to-point
// channels. Every rank returns root's payload.
func broadcast(ctx context.Context, c pointToPoint, root int, payload []byte) ([]byte, error) {
	if root < 0 || root >= c.Size() {
		return nil, fmt.Errorf("broadcast root %d of %d: %w", root, c.Size(), ErrUnknownRank)
	}

	if c.Rank() != root {
		data, err := c.Receive(ctx, root, tagBroadcast)
		if err != nil {
			return nil, fmt.Errorf("receiving broadcast from rank %d: %w", root, err)
		}
		return data, nil
	}

	for dest := range c.Size() {
		if dest == root {
			continue
		}
		if err := c.Send(ctx, dest, tagBroadcast, payload); err != nil {
			return nil, fmt.Errorf("broadcasting to rank %d: %w", dest, err)
		}
	}
	return payload, nil
}
