package soe

import (
	"context"
	"encoding/binary"
	"testing"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/internal/simlink"
	"github.com/samsamfire/goethercat/pkg/datagram"
	"github.com/samsamfire/goethercat/pkg/link"
	"github.com/samsamfire/goethercat/pkg/mailbox"
	"github.com/samsamfire/goethercat/pkg/slave"
	"github.com/stretchr/testify/require"
)

const (
	sm0Offset = 0x1000
	sm1Offset = 0x1100
)

// newDriveServerSlave simulates a servo drive that answers any SoE read
// with a fixed value, standing in for real drive firmware (out of scope).
func newDriveServerSlave(fixedAddr uint16, value []byte) *simlink.Slave {
	s := simlink.NewSlave(fixedAddr)
	s.OnDatagram = func(d *ethercat.Datagram) {
		offset := uint16(d.Adr >> 16)
		if offset == sm1Offset && d.Cmd == ethercat.CmdFPRD {
			s.Mem[int(ethercat.RegSM(1)+ethercat.SMOffsetStatus)] = 0
			return
		}
		if offset != sm0Offset || d.Cmd != ethercat.CmdFPWR {
			return
		}
		hdr, payload, ok := mailbox.Unmarshal(d.Payload)
		if !ok || hdr.Type != mailbox.ProtoSoE {
			return
		}
		op := OpCode(payload[0] & 0x07)
		var respBody []byte
		switch op {
		case OpReadRequest:
			respHdr := make([]byte, soeHeaderLen)
			respHdr[0] = byte(OpReadResponse)
			respBody = append(respHdr, value...)
		case OpWriteRequest:
			respHdr := make([]byte, soeHeaderLen)
			respHdr[0] = byte(OpWriteResponse)
			respBody = respHdr
		}
		respMsg := mailbox.Marshal(mailbox.Header{Type: mailbox.ProtoSoE, Counter: hdr.Counter}, respBody)
		copy(s.Mem[sm1Offset:], respMsg)
		s.Mem[int(ethercat.RegSM(1)+ethercat.SMOffsetStatus)] = ethercat.SMStatusMailboxFull
	}
	return s
}

func newTestClient(fixedAddr uint16, value []byte) (*Client, *slave.Descriptor) {
	bus := simlink.NewBus()
	mgr := link.NewManager()
	bus.SetReceiver(mgr.Handle)
	eng := datagram.New(bus, mgr)
	bus.AddSlave(newDriveServerSlave(fixedAddr, value))
	d := &slave.Descriptor{FixedAddr: fixedAddr}
	d.SMs[0] = slave.SyncManager{PhysStart: sm0Offset, Length: 64}
	d.SMs[1] = slave.SyncManager{PhysStart: sm1Offset, Length: 64}
	return New(mailbox.New(eng)), d
}

func TestReadReturnsDriveValue(t *testing.T) {
	want := make([]byte, 4)
	binary.LittleEndian.PutUint32(want, 12345)
	c, d := newTestClient(1000, want)
	got, err := c.Read(context.Background(), d, 0, 0x0040, ElementValue)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestWriteSucceeds(t *testing.T) {
	c, d := newTestClient(1001, nil)
	err := c.Write(context.Background(), d, 0, 0x0040, ElementValue, []byte{1, 2, 3, 4})
	require.NoError(t, err)
}
