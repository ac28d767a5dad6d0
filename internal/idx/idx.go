// Package idx implements the EtherCAT datagram index allocator: a fixed
// pool of 256 one-shot tokens, each carrying a semaphore a synchronous
// caller can wait on for its matching response.
//
// The index field in a datagram header is 8 bits wide, so exactly 256
// indices can ever be in flight at once. Each index is backed by a
// single-slot channel acting as a one-shot semaphore: the allocator
// hands out a free index and its channel, a caller blocks receiving
// from that channel until the matching response arrives (or the caller
// gives up and the index is returned to the pool on timeout).
package idx

import (
	"context"
	"fmt"
	"sync"
)

// Count is the number of datagram indices an EtherCAT frame header can
// address (an 8-bit index field).
const Count = 256

// Entry is one allocatable index. Waiter is a one-shot binary semaphore:
// a synchronous caller blocks receiving from it until the completion
// callback sends the response (or the entry is put back on timeout).
type Entry struct {
	Idx    uint8
	Waiter chan struct{}
}

// Allocator hands out and recycles the 256 possible datagram indices.
type Allocator struct {
	free  chan *Entry
	mu    sync.Mutex
	inUse map[uint8]bool
	all   [Count]Entry
}

// New creates an allocator with all 256 indices free.
func New() *Allocator {
	a := &Allocator{
		free:  make(chan *Entry, Count),
		inUse: make(map[uint8]bool, Count),
	}
	for i := 0; i < Count; i++ {
		a.all[i] = Entry{Idx: uint8(i), Waiter: make(chan struct{}, 1)}
		a.free <- &a.all[i]
	}
	return a
}

// Get blocks until an index is free or ctx is done, returning an
// OutOfIndices-flavored error wrapping ctx.Err() on expiry.
func (a *Allocator) Get(ctx context.Context) (*Entry, error) {
	select {
	case e := <-a.free:
		a.mu.Lock()
		a.inUse[e.Idx] = true
		a.mu.Unlock()
		// Drain any stale signal left over from a previous holder that
		// timed out after the responder had already fired the waiter.
		select {
		case <-e.Waiter:
		default:
		}
		return e, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("out of indices: %w", ctx.Err())
	}
}

// Put returns an index to the free pool. Calling Put on an index that is
// not currently held is a programming error and panics: an index must
// never be in the free pool and held at the same time.
func (a *Allocator) Put(e *Entry) {
	a.mu.Lock()
	if !a.inUse[e.Idx] {
		a.mu.Unlock()
		panic(fmt.Sprintf("idx: put on index %d which is not held", e.Idx))
	}
	delete(a.inUse, e.Idx)
	a.mu.Unlock()
	a.free <- e
}

// Available returns the number of currently free indices, for tests and
// diagnostics.
func (a *Allocator) Available() int {
	return len(a.free)
}
