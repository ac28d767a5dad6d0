// Package link defines the boundary between the EtherCAT core and the
// raw Ethernet NIC driver, an external collaborator the core never
// constructs itself. It also provides [Manager], the dispatch-by-index
// table that routes an incoming frame's datagrams to the waiter or
// callback that sent them.
package link

import (
	"sync"

	ethercat "github.com/samsamfire/goethercat"
)

// Priority selects which of the link's two outbound queues a frame is
// pushed to: frames on the high queue are flushed ahead of those on the
// low queue. Only datagram.Engine.SendHighPriority uses the high queue;
// Transceive and TransmitNoReply, and so the cyclic scheduler, the DC
// engine and the mailbox transport, use the low queue.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityHigh
)

// Link is the interface the core requires of a raw-socket driver. A real
// implementation runs its receive path on its own thread or poll loop
// and calls Manager.Handle for every frame it receives; it is otherwise
// opaque to the core.
type Link interface {
	// Send enqueues frame on the given priority queue.
	Send(frame *ethercat.Frame, priority Priority) error
	// TxFlush pushes any queued frames out onto the wire now.
	TxFlush() error
	// MTU returns the maximum frame payload this link supports.
	MTU() int
	// MAC returns the master's own Ethernet address.
	MAC() [6]byte
}

// Completion is called exactly once for a given index: either when a
// frame carrying that index's datagram is received, or — for entries
// that register a deadline with the caller rather than the Manager —
// never, if the caller times out and calls Cancel first.
type Completion func(d ethercat.Datagram)

// Manager dispatches received frames to registered per-index
// completions. Exactly one completion may be registered per index at a
// time, matching the invariant that an index is in at most one of
// {free, in-flight, completed}.
type Manager struct {
	mu         sync.Mutex
	callbacks  [256]Completion
	registered [256]bool
}

// NewManager creates an empty dispatch table.
func NewManager() *Manager {
	return &Manager{}
}

// Register installs the completion for idx. It is an error (a
// programming bug, not a runtime condition) to register over an index
// that already has a pending completion.
func (m *Manager) Register(idx uint8, cb Completion) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registered[idx] {
		panic("link: index already has a pending completion")
	}
	m.callbacks[idx] = cb
	m.registered[idx] = true
}

// Cancel removes a registered completion without it having fired,
// e.g. after a caller's deadline expires.
func (m *Manager) Cancel(idx uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered[idx] = false
	m.callbacks[idx] = nil
}

// Handle implements the receive path: for every datagram in frame, look
// up the registered completion for its index. A hit hands ownership of
// the reply to that entry's callback; a miss silently drops the
// datagram as stale or foreign.
func (m *Manager) Handle(frame *ethercat.Frame) {
	for _, d := range frame.Datagrams {
		m.mu.Lock()
		cb := m.callbacks[d.Idx]
		ok := m.registered[d.Idx]
		if ok {
			m.registered[d.Idx] = false
			m.callbacks[d.Idx] = nil
		}
		m.mu.Unlock()
		if ok && cb != nil {
			cb(d)
		}
	}
}
