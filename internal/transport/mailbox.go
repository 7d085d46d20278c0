// Package transport provides the message-passing communicators a grid node
// runs on: an in-process cluster for tests and single-binary runs, and a TCP
// full mesh for real multi-process deployments.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrClosed is returned by operations on a closed communicator.
	ErrClosed = errors.New("communicator closed")
	// ErrUnknownRank is returned for a rank outside [0, size).
	ErrUnknownRank = errors.New("unknown rank")
	// ErrPeerLost is returned when the connection from a source rank broke.
	ErrPeerLost = errors.New("connection to peer lost")
	// ErrNotConnected is returned by Network.Send before the mesh is up.
	ErrNotConnected = errors.New("peer not connected")
)

type mailboxKey struct {
	src, tag int
}

// mailbox is an unbounded FIFO of payloads from one (source, tag) channel.
type mailbox struct {
	mu    sync.Mutex
	queue [][]byte
	ready chan struct{} // capacity 1, signalled on every put
}

// mailboxes demultiplexes inbound payloads by (source, tag).
// Puts never block; takes block until a payload, failure or cancellation.
type mailboxes struct {
	mu      sync.Mutex
	boxes   map[mailboxKey]*mailbox
	srcErr  map[int]error
	closed  chan struct{}
	closing sync.Once
}

func newMailboxes() *mailboxes {
	return &mailboxes{
		boxes:  make(map[mailboxKey]*mailbox),
		srcErr: make(map[int]error),
		closed: make(chan struct{}),
	}
}

func (m *mailboxes) box(src, tag int) *mailbox {
	key := mailboxKey{src: src, tag: tag}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boxes[key]
	if !ok {
		b = &mailbox{ready: make(chan struct{}, 1)}
		m.boxes[key] = b
	}
	return b
}

func (b *mailbox) signal() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// put enqueues payload; ownership of the slice passes to the mailbox.
func (m *mailboxes) put(src, tag int, payload []byte) {
	b := m.box(src, tag)
	b.mu.Lock()
	b.queue = append(b.queue, payload)
	b.mu.Unlock()
	b.signal()
}

// take dequeues the oldest payload from (src, tag), waiting if necessary.
// Payloads already queued are still delivered after a failure or close.
func (m *mailboxes) take(ctx context.Context, src, tag int) ([]byte, error) {
	b := m.box(src, tag)
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			p := b.queue[0]
			b.queue[0] = nil
			b.queue = b.queue[1:]
			more := len(b.queue) > 0
			b.mu.Unlock()
			if more {
				b.signal()
			}
			return p, nil
		}
		b.mu.Unlock()

		if err := m.sourceErr(src); err != nil {
			return nil, err
		}

		select {
		case <-b.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.closed:
			return nil, ErrClosed
		}
	}
}

func (m *mailboxes) sourceErr(src int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.srcErr[src]
}

// failSource marks src as unreachable and wakes every receiver waiting on it.
func (m *mailboxes) failSource(src int, cause error) {
	m.mu.Lock()
	if _, ok := m.srcErr[src]; !ok {
		m.srcErr[src] = fmt.Errorf("rank %d: %w: %w", src, ErrPeerLost, cause)
	}
	var waiting []*mailbox
	for key, b := range m.boxes {
		if key.src == src {
			waiting = append(waiting, b)
		}
	}
	m.mu.Unlock()

	for _, b := range waiting {
		b.signal()
	}
}

func (m *mailboxes) close() {
	m.closing.Do(func() { close(m.closed) })
}
