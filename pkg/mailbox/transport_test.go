package mailbox

import (
	"context"
	"testing"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/internal/simlink"
	"github.com/samsamfire/goethercat/pkg/datagram"
	"github.com/samsamfire/goethercat/pkg/link"
	"github.com/samsamfire/goethercat/pkg/slave"
	"github.com/stretchr/testify/require"
)

const (
	sm0Offset = 0x1000
	sm1Offset = 0x1100
	sm0Len    = 64
	sm1Len    = 64
)

// echoingSlave wires a simulated ESC that, once it sees a write land in
// SM0, immediately mirrors it into SM1 and marks SM1 full — standing in
// for slave firmware (explicitly out of scope) processing a mailbox
// message and replying.
func newEchoingSlave(fixedAddr uint16) *simlink.Slave {
	s := simlink.NewSlave(fixedAddr)
	s.OnDatagram = func(d *ethercat.Datagram) {
		offset := uint16(d.Adr >> 16)
		if offset == sm0Offset && d.Cmd == ethercat.CmdFPWR {
			copy(s.Mem[sm1Offset:], d.Payload)
			s.Mem[int(ethercat.RegSM(1)+ethercat.SMOffsetStatus)] = ethercat.SMStatusMailboxFull
		}
		if offset == sm1Offset+0 && d.Cmd == ethercat.CmdFPRD {
			// cleared once read
			s.Mem[int(ethercat.RegSM(1)+ethercat.SMOffsetStatus)] = 0
		}
	}
	return s
}

func newDescriptor(fixedAddr uint16) *slave.Descriptor {
	d := &slave.Descriptor{FixedAddr: fixedAddr}
	d.SMs[0] = slave.SyncManager{PhysStart: sm0Offset, Length: sm0Len, Role: slave.SMRoleMailboxOut}
	d.SMs[1] = slave.SyncManager{PhysStart: sm1Offset, Length: sm1Len, Role: slave.SMRoleMailboxIn}
	return d
}

func TestSendRecvRoundTrip(t *testing.T) {
	bus := simlink.NewBus()
	mgr := link.NewManager()
	bus.SetReceiver(mgr.Handle)
	eng := datagram.New(bus, mgr)

	simSlave := newEchoingSlave(1000)
	bus.AddSlave(simSlave)
	desc := newDescriptor(1000)

	tr := New(eng)
	payload := []byte{0x2F, 0x60, 0x00, 0x00, 0x08, 0x00, 0x00, 0x00}
	hdr, resp, err := tr.SendRecv(context.Background(), desc, ProtoCoE, payload, DefaultTimeout)
	require.NoError(t, err)
	require.Equal(t, ProtoCoE, hdr.Type)
	require.Equal(t, payload, resp)
}

func TestMailboxCounterRotates1to7(t *testing.T) {
	desc := newDescriptor(1000)
	seen := map[uint8]bool{}
	var prev uint8
	for i := 0; i < 10; i++ {
		c := desc.Mailbox.NextCounter()
		require.NotEqual(t, prev, c)
		require.GreaterOrEqual(t, c, uint8(1))
		require.LessOrEqual(t, c, uint8(7))
		seen[c] = true
		prev = c
	}
}

func TestDuplicateCounterDetected(t *testing.T) {
	var tracker slave.RxCounterTracker
	require.False(t, tracker.IsDuplicate(3))
	require.True(t, tracker.IsDuplicate(3))
	require.False(t, tracker.IsDuplicate(4))
}
