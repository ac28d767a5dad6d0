// Package datagram implements the two primitives every other component
// builds on: a synchronous transceive with correlation and timeout, and
// a fire-and-forget transmit whose completion just frees resources.
package datagram

import (
	"context"
	"time"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/internal/idx"
	"github.com/samsamfire/goethercat/internal/pool"
	"github.com/samsamfire/goethercat/pkg/link"
)

// DefaultTimeout is the synchronous transceive deadline.
const DefaultTimeout = 100 * time.Millisecond

// Engine builds and correlates datagrams over a [link.Link].
type Engine struct {
	l       link.Link
	mgr     *link.Manager
	indices *idx.Allocator
	bufs    *pool.Pool // request payload buffers for Transceive, one per outstanding index
	mac     [6]byte
}

// New creates a datagram engine over l, using mgr for index-keyed
// dispatch of received datagrams.
func New(l link.Link, mgr *link.Manager) *Engine {
	return &Engine{
		l:       l,
		mgr:     mgr,
		indices: idx.New(),
		bufs:    pool.New(idx.Count),
		mac:     l.MAC(),
	}
}

func (e *Engine) buildFrame(cmd ethercat.Command, adr uint32, idxVal uint8, payload []byte) *ethercat.Frame {
	return &ethercat.Frame{
		Dst: ethercat.BroadcastMAC,
		Src: e.mac,
		Datagrams: []ethercat.Datagram{{
			Cmd:     cmd,
			Idx:     idxVal,
			Adr:     adr,
			Payload: payload,
		}},
	}
}

// Transceive sends one datagram built from addr and waits (with
// DefaultTimeout) for its matching response. The returned bytes are the
// datagram payload as the slaves left it, which may differ from data for
// read commands. On error the index and any pool entry have already
// been released.
func (e *Engine) Transceive(ctx context.Context, cmd ethercat.Command, addr ethercat.Addr, data []byte) (wkc uint16, out []byte, err error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	entry, err := e.indices.Get(ctx)
	if err != nil {
		return 0, nil, ethercat.ErrNew(ethercat.CategoryGeneral, ethercat.KindOutOfIndices)
	}
	defer e.indices.Put(entry)

	buf, err := e.bufs.Get(ctx)
	if err != nil {
		return 0, nil, ethercat.ErrDetail(ethercat.CategoryGeneral, ethercat.KindOutOfIndices, "%v", err)
	}
	defer e.bufs.Put(buf)
	payload := buf.Data[:len(data)]
	copy(payload, data)

	var resp ethercat.Datagram
	done := make(chan struct{})
	e.mgr.Register(entry.Idx, func(d ethercat.Datagram) {
		resp = d
		close(done)
	})

	frame := e.buildFrame(cmd, addr.Encode(), entry.Idx, payload)
	if sendErr := e.l.Send(frame, link.PriorityLow); sendErr != nil {
		e.mgr.Cancel(entry.Idx)
		return 0, nil, ethercat.ErrDetail(ethercat.CategoryGeneral, ethercat.KindHwSend, "%v", sendErr)
	}
	if sendErr := e.l.TxFlush(); sendErr != nil {
		e.mgr.Cancel(entry.Idx)
		return 0, nil, ethercat.ErrDetail(ethercat.CategoryGeneral, ethercat.KindHwSend, "%v", sendErr)
	}

	select {
	case <-done:
		return resp.Wkc, resp.Payload, nil
	case <-ctx.Done():
		e.mgr.Cancel(entry.Idx)
		return 0, nil, ethercat.ErrNew(ethercat.CategoryGeneral, ethercat.KindTimeout)
	}
}

// TransmitNoReply sends a datagram fire-and-forget: the registered
// completion just releases the index when (if) a reply arrives, and a
// background sweep is not required because the allocator has only 256
// entries — a slow/never-replying NOP simply pins one index until the
// caller's process exits. Call sites that can't tolerate that should use
// Transceive instead.
func (e *Engine) TransmitNoReply(ctx context.Context, cmd ethercat.Command, addr ethercat.Addr, data []byte) error {
	entry, err := e.indices.Get(ctx)
	if err != nil {
		return ethercat.ErrNew(ethercat.CategoryGeneral, ethercat.KindOutOfIndices)
	}

	e.mgr.Register(entry.Idx, func(d ethercat.Datagram) {
		e.indices.Put(entry)
	})

	frame := e.buildFrame(cmd, addr.Encode(), entry.Idx, data)
	if sendErr := e.l.Send(frame, link.PriorityLow); sendErr != nil {
		e.mgr.Cancel(entry.Idx)
		e.indices.Put(entry)
		return ethercat.ErrDetail(ethercat.CategoryGeneral, ethercat.KindHwSend, "%v", sendErr)
	}
	return e.l.TxFlush()
}

// SendHighPriority pushes a pre-built frame onto the high-priority queue
// without going through Transceive's single-datagram/blocking path.
// Nothing in this module calls it: the cyclic scheduler exchanges its
// groups through Transceive, on the low-priority queue. The caller is
// responsible for registering completions for every datagram index in
// frame via Manager directly.
func (e *Engine) SendHighPriority(frame *ethercat.Frame) error {
	if err := e.l.Send(frame, link.PriorityHigh); err != nil {
		return ethercat.ErrDetail(ethercat.CategoryGeneral, ethercat.KindHwSend, "%v", err)
	}
	return e.l.TxFlush()
}

// Manager exposes the underlying dispatch table so higher layers can
// register multi-datagram completions directly.
func (e *Engine) Manager() *link.Manager { return e.mgr }

// AllocIndex exposes index allocation for callers that build their own
// multi-datagram frames.
func (e *Engine) AllocIndex(ctx context.Context) (*idx.Entry, error) {
	entry, err := e.indices.Get(ctx)
	if err != nil {
		return nil, ethercat.ErrNew(ethercat.CategoryGeneral, ethercat.KindOutOfIndices)
	}
	return entry, nil
}

// FreeIndex returns an index obtained via AllocIndex.
func (e *Engine) FreeIndex(entry *idx.Entry) { e.indices.Put(entry) }

// MAC returns the master's own Ethernet address, for callers building
// their own frames.
func (e *Engine) MAC() [6]byte { return e.mac }
