package mailbox

import (
	"context"
	"sync"
	"time"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/datagram"
	"github.com/samsamfire/goethercat/pkg/slave"
)

// DefaultTimeout bounds a full send+receive mailbox exchange.
// ShortTimeout is the poll interval used while waiting for SM1 to fill.
const (
	DefaultTimeout = time.Second
	ShortTimeout   = 10 * time.Millisecond
)

// Transport drives the mailbox read/write sync-manager discipline for
// one slave over a [datagram.Engine]. All callers for a given slave are
// serialized by the slave's own mutex, since the ESC has only one SM0
// and one SM1 buffer and concurrent writers would corrupt each other's
// message.
type Transport struct {
	eng *datagram.Engine
}

// New creates a mailbox transport over eng.
func New(eng *datagram.Engine) *Transport {
	return &Transport{eng: eng}
}

// slaveLocks serializes mailbox access per slave: each slave's SM0/SM1
// pair supports exactly one outstanding request at a time.
var slaveLocks sync.Map // map[*slave.Descriptor]*sync.Mutex

func lockFor(s *slave.Descriptor) *sync.Mutex {
	v, _ := slaveLocks.LoadOrStore(s, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// SendRecv writes one mailbox message to s's SM0 (master->slave) and
// waits for the matching SM1 (slave->master) reply, applying toggle-ack
// recovery on a WKC=0 read of a full SM1. It returns the response
// header and payload.
func (t *Transport) SendRecv(ctx context.Context, s *slave.Descriptor, proto Protocol, payload []byte, timeout time.Duration) (Header, []byte, error) {
	mu := lockFor(s)
	mu.Lock()
	defer mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	counter := s.Mailbox.NextCounter()
	msg := Marshal(Header{Address: 0, Priority: 0, Type: proto, Counter: counter}, payload)

	sm0 := s.SMs[0]
	addr := ethercat.Fixed(s.FixedAddr, sm0.PhysStart)
	wkc, _, err := t.eng.Transceive(ctx, ethercat.CmdFPWR, addr, msg)
	if err != nil {
		return Header{}, nil, err
	}
	if wkc == 0 {
		return Header{}, nil, ethercat.ErrNew(ethercat.CategoryMailbox, ethercat.KindWriteFull)
	}

	for {
		full, err := t.pollMailboxFull(ctx, s)
		if err != nil {
			return Header{}, nil, err
		}
		if full {
			break
		}
		select {
		case <-ctx.Done():
			return Header{}, nil, ethercat.ErrNew(ethercat.CategoryMailbox, ethercat.KindMbxTimeout)
		case <-time.After(ShortTimeout):
		}
	}

	sm1 := s.SMs[1]
	hdr, respPayload, err := t.readSM1(ctx, s, sm1)
	if err != nil {
		return Header{}, nil, err
	}

	if s.MailboxRx.IsDuplicate(hdr.Counter) {
		// Stale retransmit echo; reported to the caller as ReadEmpty.
		return Header{}, nil, ethercat.ErrNew(ethercat.CategoryMailbox, ethercat.KindReadEmpty)
	}
	return hdr, respPayload, nil
}

// pollMailboxFull reads the SM1 status byte and reports whether the
// mailbox-full bit is set. A bus with all SM1 status bits FMMU-mapped
// into the cyclic LRD can skip this per-slave poll entirely; this is
// the fallback path for slaves that aren't mapped that way.
func (t *Transport) pollMailboxFull(ctx context.Context, s *slave.Descriptor) (bool, error) {
	addr := ethercat.Fixed(s.FixedAddr, ethercat.RegSM(1)+ethercat.SMOffsetStatus)
	wkc, out, err := t.eng.Transceive(ctx, ethercat.CmdFPRD, addr, make([]byte, 1))
	if err != nil {
		return false, err
	}
	if wkc == 0 {
		return false, nil
	}
	return out[0]&ethercat.SMStatusMailboxFull != 0, nil
}

// readSM1 reads the slave's SM1 range. On WKC=0 with a full SM1 it
// performs toggle-ack recovery: toggle the repeat-request control bit
// and poll the repeat-ack status bit until they match, then retry.
func (t *Transport) readSM1(ctx context.Context, s *slave.Descriptor, sm1 slave.SyncManager) (Header, []byte, error) {
	addr := ethercat.Fixed(s.FixedAddr, sm1.PhysStart)
	wkc, raw, err := t.eng.Transceive(ctx, ethercat.CmdFPRD, addr, make([]byte, sm1.Length))
	if err != nil {
		return Header{}, nil, err
	}
	if wkc == 0 {
		if err := t.toggleAckRecover(ctx, s); err != nil {
			return Header{}, nil, err
		}
		wkc, raw, err = t.eng.Transceive(ctx, ethercat.CmdFPRD, addr, make([]byte, sm1.Length))
		if err != nil {
			return Header{}, nil, err
		}
		if wkc == 0 {
			return Header{}, nil, ethercat.ErrNew(ethercat.CategoryMailbox, ethercat.KindReadEmpty)
		}
	}
	hdr, payload, ok := Unmarshal(raw)
	if !ok {
		return Header{}, nil, ethercat.ErrNew(ethercat.CategoryMailbox, ethercat.KindBufferTooSmall)
	}
	return hdr, payload, nil
}

func (t *Transport) toggleAckRecover(ctx context.Context, s *slave.Descriptor) error {
	ctrlAddr := ethercat.Fixed(s.FixedAddr, ethercat.RegSM(1)+ethercat.SMOffsetControl)
	_, cur, err := t.eng.Transceive(ctx, ethercat.CmdFPRD, ctrlAddr, make([]byte, 1))
	if err != nil {
		return err
	}
	toggled := cur[0] ^ ethercat.SMControlRepeatRequest
	if _, _, err := t.eng.Transceive(ctx, ethercat.CmdFPWR, ctrlAddr, []byte{toggled}); err != nil {
		return err
	}

	statusAddr := ethercat.Fixed(s.FixedAddr, ethercat.RegSM(1)+ethercat.SMOffsetStatus)
	want := toggled & ethercat.SMControlRepeatRequest
	for {
		select {
		case <-ctx.Done():
			return ethercat.ErrNew(ethercat.CategoryMailbox, ethercat.KindMbxTimeout)
		default:
		}
		_, status, err := t.eng.Transceive(ctx, ethercat.CmdFPRD, statusAddr, make([]byte, 1))
		if err != nil {
			return err
		}
		got := status[0] & ethercat.SMStatusRepeatAck
		if (got != 0) == (want != 0) {
			return nil
		}
		time.Sleep(ShortTimeout)
	}
}
