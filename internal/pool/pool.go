// Package pool implements fixed-capacity buffer arenas: N entries of a
// fixed byte size, availability signaled by a counting semaphore so
// consumers block cleanly instead of allocating. Callers create one
// Pool per role (outbound datagrams, free mailbox-send buffers, free
// mailbox-recv buffers, per-slave per-protocol receive queues) so each
// role gets its own fixed budget rather than sharing a global arena.
package pool

import (
	"context"
	"fmt"
)

// EntrySize is LEC_MAX_POOL_DATA_SIZE: large enough for a full Ethernet
// MTU plus EtherCAT/mailbox framing.
const EntrySize = 1600

// Entry is one fixed-size buffer owned by at most one caller at a time.
type Entry struct {
	Data []byte
	Len  int
}

// Reset truncates the entry back to zero length for reuse.
func (e *Entry) Reset() { e.Len = 0 }

// Pool is a fixed arena of N entries with counting-semaphore
// availability.
type Pool struct {
	avail   chan *Entry
	arena   []Entry
}

// New creates a pool with n entries, each EntrySize bytes, all
// initially available.
func New(n int) *Pool {
	p := &Pool{
		avail: make(chan *Entry, n),
		arena: make([]Entry, n),
	}
	for i := range p.arena {
		p.arena[i].Data = make([]byte, EntrySize)
		p.avail <- &p.arena[i]
	}
	return p
}

// Get blocks until an entry is available or ctx is done.
func (p *Pool) Get(ctx context.Context) (*Entry, error) {
	select {
	case e := <-p.avail:
		e.Reset()
		return e, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("out of pool buffers: %w", ctx.Err())
	}
}

// TryGet attempts a non-blocking acquire, returning ok=false if the pool
// is currently empty.
func (p *Pool) TryGet() (e *Entry, ok bool) {
	select {
	case e := <-p.avail:
		e.Reset()
		return e, true
	default:
		return nil, false
	}
}

// Put returns e to the back of the available queue.
func (p *Pool) Put(e *Entry) {
	p.avail <- e
}

// PutHead returns e to the pool ahead of any entries already waiting,
// used when a caller wants its just-released buffer to be the next one
// handed out (e.g. reusing a mailbox send buffer for a retry).
func (p *Pool) PutHead(e *Entry) {
	// Drain current queue, push e first, then refill — the channel is
	// only ever touched under the pool's own Get/Put/PutHead calls so
	// this is race-free without an extra mutex.
	n := len(p.avail)
	buffered := make([]*Entry, 0, n)
	for i := 0; i < n; i++ {
		buffered = append(buffered, <-p.avail)
	}
	p.avail <- e
	for _, b := range buffered {
		p.avail <- b
	}
}

// Available reports how many entries are currently free.
func (p *Pool) Available() int { return len(p.avail) }
