// Package bufpool recycles frame buffers to keep transport I/O off the GC.
package bufpool

import "sync"

// MaxRetained bounds the capacity of buffers kept for reuse. Larger buffers
// serve one oversized frame and are then left to the GC.
const MaxRetained = 1 << 20

// Pool is a pool of reusable []byte buffers.
type Pool struct {
	pool       sync.Pool
	defaultCap int
}

// New creates a pool whose fresh buffers have the given capacity.
func New(defaultCap int) *Pool {
	p := &Pool{defaultCap: defaultCap}
	p.pool.New = func() any {
		b := make([]byte, 0, p.defaultCap)
		return &b
	}
	return p
}

// Get returns a zeroed slice of length size, from the pool when possible.
func (p *Pool) Get(size int) []byte {
	bp := p.pool.Get().(*[]byte)
	b := *bp
	if cap(b) < size {
		// Keep the small buffer for the next small frame.
		p.pool.Put(bp)
		return make([]byte, size)
	}
	b = b[:size]
	clear(b)
	return b
}

// Put returns a slice to the pool. Nil and oversized slices are dropped.
func (p *Pool) Put(b []byte) {
	if b == nil || cap(b) > MaxRetained {
		return
	}
	b = b[:0]
	p.pool.Put(&b)
}
