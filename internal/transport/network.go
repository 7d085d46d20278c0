package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/tilegrid/internal/bufpool"
	"github.com/udisondev/tilegrid/internal/crypto"
)

// tagHello opens every outbound connection and carries the dialer's rank.
const tagHello = -2

// Options tunes a Network.
type Options struct {
	// CipherKey enables Blowfish frame encryption when non-empty.
	// Every rank must use the same key.
	CipherKey []byte
	// DialTimeout bounds how long Start waits for all peers to come up.
	DialTimeout time.Duration
	// DialRetry is the pause between dial attempts to a peer.
	DialRetry time.Duration
	// MaxFrameSize bounds the body of a single frame.
	MaxFrameSize int
}

// DefaultOptions returns Options with sensible defaults and no encryption.
func DefaultOptions() Options {
	return Options{
		DialTimeout:  30 * time.Second,
		DialRetry:    200 * time.Millisecond,
		MaxFrameSize: DefaultMaxFrameSize,
	}
}

// Network is one rank of a TCP full mesh. Each rank listens on its own
// address and dials every peer; a connection carries frames in one direction
// only, from dialer to acceptor, which keeps delivery FIFO per (source, tag).
type Network struct {
	rank  int
	addrs []string
	opts  Options
	codec *frameCodec
	inbox *mailboxes

	mu       sync.Mutex
	listener net.Listener
	out      map[int]*peerConn
	inbound  map[net.Conn]struct{}
	closed   bool

	wg sync.WaitGroup
}

type peerConn struct {
	mu   sync.Mutex
	conn net.Conn
}

// NewNetwork creates the communicator for rank; addrs[k] is rank k's listen
// address.
func NewNetwork(rank int, addrs []string, opts Options) (*Network, error) {
	if rank < 0 || rank >= len(addrs) {
		return nil, fmt.Errorf("rank %d with %d peer addresses: %w", rank, len(addrs), ErrUnknownRank)
	}
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = DefaultMaxFrameSize
	}
	if opts.DialRetry <= 0 {
		opts.DialRetry = DefaultOptions().DialRetry
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultOptions().DialTimeout
	}

	var cipher *crypto.BlowfishCipher
	if len(opts.CipherKey) > 0 {
		c, err := crypto.NewBlowfishCipher(opts.CipherKey)
		if err != nil {
			return nil, fmt.Errorf("creating frame cipher: %w", err)
		}
		cipher = c
	}

	return &Network{
		rank:  rank,
		addrs: addrs,
		opts:  opts,
		codec: &frameCodec{
			cipher:  cipher,
			pool:    bufpool.New(4096),
			maxSize: opts.MaxFrameSize,
		},
		inbox:   newMailboxes(),
		out:     make(map[int]*peerConn),
		inbound: make(map[net.Conn]struct{}),
	}, nil
}

// Rank returns this process's rank.
func (n *Network) Rank() int { return n.rank }

// Size returns the number of ranks in the mesh.
func (n *Network) Size() int { return len(n.addrs) }

// Start listens on this rank's address and connects to every peer.
// It returns once all outbound connections are established.
func (n *Network) Start(ctx context.Context) error {
	addr := n.addrs[n.rank]
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return n.StartOn(ctx, ln)
}

// StartOn is Start with a caller-provided listener.
// Used for testing with listeners bound to random ports.
func (n *Network) StartOn(ctx context.Context, ln net.Listener) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		ln.Close()
		return ErrClosed
	}
	n.listener = ln
	n.mu.Unlock()

	n.wg.Go(func() {
		slog.Info("transport listening", "rank", n.rank, "address", ln.Addr())
		n.acceptLoop(ln)
	})

	if err := n.connect(ctx); err != nil {
		return fmt.Errorf("connecting rank %d to peers: %w", n.rank, err)
	}
	slog.Info("transport connected", "rank", n.rank, "peers", len(n.addrs)-1)
	return nil
}

func (n *Network) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Error("failed to accept peer connection", "rank", n.rank, "error", err)
			continue
		}

		n.mu.Lock()
		if n.closed {
			n.mu.Unlock()
			conn.Close()
			return
		}
		n.inbound[conn] = struct{}{}
		n.mu.Unlock()

		n.wg.Go(func() {
			n.handleInbound(conn)
		})
	}
}

// handleInbound reads the hello frame, then delivers every following frame
// into the mailbox of the announced source rank.
func (n *Network) handleInbound(conn net.Conn) {
	defer func() {
		n.mu.Lock()
		delete(n.inbound, conn)
		n.mu.Unlock()
		conn.Close()
	}()

	tag, hello, err := n.codec.readFrame(conn)
	if err != nil || tag != tagHello || len(hello) != 4 {
		slog.Error("rejecting peer connection", "rank", n.rank, "remote", conn.RemoteAddr(), "error", err)
		return
	}
	src := int(int32(binary.LittleEndian.Uint32(hello)))
	if src < 0 || src >= len(n.addrs) || src == n.rank {
		slog.Error("rejecting peer connection", "rank", n.rank, "remote", conn.RemoteAddr(), "claimed_rank", src)
		return
	}
	slog.Debug("peer connected", "rank", n.rank, "src", src, "remote", conn.RemoteAddr())

	for {
		tag, payload, err := n.codec.readFrame(conn)
		if err != nil {
			if !n.isClosed() {
				slog.Warn("peer connection lost", "rank", n.rank, "src", src, "error", err)
			}
			n.inbox.failSource(src, err)
			return
		}
		n.inbox.put(src, tag, payload)
	}
}

// connect dials every peer concurrently, retrying until DialTimeout.
func (n *Network) connect(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, n.opts.DialTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(dctx)
	for peer, addr := range n.addrs {
		if peer == n.rank {
			continue
		}
		g.Go(func() error {
			conn, err := n.dial(gctx, addr)
			if err != nil {
				return fmt.Errorf("dialing rank %d at %s: %w", peer, addr, err)
			}

			hello := make([]byte, 4)
			binary.LittleEndian.PutUint32(hello, uint32(int32(n.rank)))
			if err := n.codec.writeFrame(conn, tagHello, hello); err != nil {
				conn.Close()
				return fmt.Errorf("greeting rank %d: %w", peer, err)
			}

			n.mu.Lock()
			defer n.mu.Unlock()
			if n.closed {
				conn.Close()
				return ErrClosed
			}
			n.out[peer] = &peerConn{conn: conn}
			return nil
		})
	}
	return g.Wait()
}

func (n *Network) dial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-time.After(n.opts.DialRetry):
		}
	}
}

// Send writes one frame to dest. Sending to this rank short-circuits into the
// local mailbox.
func (n *Network) Send(ctx context.Context, dest, tag int, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dest < 0 || dest >= len(n.addrs) {
		return fmt.Errorf("send to rank %d: %w", dest, ErrUnknownRank)
	}
	if n.isClosed() {
		return ErrClosed
	}
	if dest == n.rank {
		n.inbox.put(n.rank, tag, bytes.Clone(payload))
		return nil
	}

	n.mu.Lock()
	pc, ok := n.out[dest]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("send to rank %d: %w", dest, ErrNotConnected)
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = pc.conn.SetWriteDeadline(deadline)
		defer pc.conn.SetWriteDeadline(time.Time{})
	}
	if err := n.codec.writeFrame(pc.conn, tag, payload); err != nil {
		return fmt.Errorf("send to rank %d: %w", dest, err)
	}
	return nil
}

// Receive blocks until a frame from src with tag arrives.
func (n *Network) Receive(ctx context.Context, src, tag int) ([]byte, error) {
	if src < 0 || src >= len(n.addrs) {
		return nil, fmt.Errorf("receive from rank %d: %w", src, ErrUnknownRank)
	}
	return n.inbox.take(ctx, src, tag)
}

// Broadcast distributes root's payload to every rank.
func (n *Network) Broadcast(ctx context.Context, root int, payload []byte) ([]byte, error) {
	return broadcast(ctx, n, root, payload)
}

func (n *Network) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// Close shuts the listener and every connection, wakes pending receivers
// with ErrClosed and waits for background goroutines.
func (n *Network) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	if n.listener != nil {
		n.listener.Close()
	}
	for _, pc := range n.out {
		pc.conn.Close()
	}
	for conn := range n.inbound {
		conn.Close()
	}
	n.mu.Unlock()

	n.inbox.close()
	n.wg.Wait()
	return nil
}
