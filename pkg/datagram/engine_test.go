package datagram

import (
	"context"
	"testing"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/internal/simlink"
	"github.com/samsamfire/goethercat/pkg/link"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, *simlink.Bus) {
	t.Helper()
	bus := simlink.NewBus()
	mgr := link.NewManager()
	bus.SetReceiver(mgr.Handle)
	e := New(bus, mgr)
	return e, bus
}

func TestTransceiveFixedReadWrite(t *testing.T) {
	e, bus := newTestEngine(t)
	s := simlink.NewSlave(1000)
	bus.AddSlave(s)

	wkc, _, err := e.Transceive(context.Background(), ethercat.CmdFPWR, ethercat.Fixed(1000, ethercat.RegALControl), []byte{0x01, 0x00})
	require.NoError(t, err)
	assert.Equal(t, uint16(1), wkc)

	wkc, out, err := e.Transceive(context.Background(), ethercat.CmdFPRD, ethercat.Fixed(1000, ethercat.RegALControl), make([]byte, 2))
	require.NoError(t, err)
	assert.Equal(t, uint16(1), wkc)
	assert.Equal(t, []byte{0x01, 0x00}, out)
}

func TestTransceiveBroadcastCountsSlaves(t *testing.T) {
	e, bus := newTestEngine(t)
	bus.AddSlave(simlink.NewSlave(1000))
	bus.AddSlave(simlink.NewSlave(1001))

	wkc, _, err := e.Transceive(context.Background(), ethercat.CmdBRD, ethercat.Broadcast(ethercat.RegALStatus), make([]byte, 2))
	require.NoError(t, err)
	assert.Equal(t, uint16(2), wkc)
}

func TestTransceiveTimeoutWithNoSlaves(t *testing.T) {
	// simlink always hands a sent frame back to its receiver, even with
	// no slaves; leaving the receiver unset models a link where nothing
	// comes back.
	e := New(simlink.NewBus(), link.NewManager())
	_, _, err := e.Transceive(context.Background(), ethercat.CmdFPRD, ethercat.Fixed(999, 0), make([]byte, 2))
	require.Error(t, err)
	var ecErr *ethercat.Error
	require.ErrorAs(t, err, &ecErr)
	assert.Equal(t, ethercat.KindTimeout, ecErr.Kind)
}

func TestTransceiveLogicalLRW(t *testing.T) {
	e, bus := newTestEngine(t)
	s := simlink.NewSlave(1000)
	s.FMMUs = []simlink.FMMUConfig{
		{LogicalStart: 0x1000, Length: 2, PhysStart: 0x2000, Read: true},
		{LogicalStart: 0x1002, Length: 2, PhysStart: 0x3000, Write: true},
	}
	bus.AddSlave(s)
	s.Mem[0x2000] = 0xAB
	s.Mem[0x2001] = 0xCD

	wkc, out, err := e.Transceive(context.Background(), ethercat.CmdLRW, ethercat.Logical(0x1000), []byte{0, 0, 0x11, 0x22})
	require.NoError(t, err)
	// 1 for the read window + 2 for the write window = 3
	assert.Equal(t, uint16(3), wkc)
	assert.Equal(t, []byte{0xAB, 0xCD, 0x11, 0x22}, out)
	assert.Equal(t, byte(0x11), s.Mem[0x3000])
	assert.Equal(t, byte(0x22), s.Mem[0x3001])
}
