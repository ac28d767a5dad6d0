package statemachine

import (
	"context"
	"encoding/binary"
	"testing"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/internal/simlink"
	"github.com/samsamfire/goethercat/pkg/datagram"
	"github.com/samsamfire/goethercat/pkg/link"
	"github.com/samsamfire/goethercat/pkg/slave"
	"github.com/stretchr/testify/require"
)

// autoAckSlave simulates firmware that accepts any AL state request
// immediately, standing in for real slave behavior (out of scope).
func autoAckSlave(fixedAddr uint16) *simlink.Slave {
	s := simlink.NewSlave(fixedAddr)
	s.OnDatagram = func(d *ethercat.Datagram) {
		offset := uint16(d.Adr >> 16)
		if offset == ethercat.RegALControl && d.Cmd == ethercat.CmdFPWR {
			requested := binary.LittleEndian.Uint16(d.Payload)
			buf := make([]byte, 2)
			binary.LittleEndian.PutUint16(buf, requested)
			copy(s.Mem[ethercat.RegALStatus:], buf)
		}
	}
	return s
}

func newTestBusWithSlaves(n int) (*simlink.Bus, *datagram.Engine) {
	bus := simlink.NewBus()
	mgr := link.NewManager()
	bus.SetReceiver(mgr.Handle)
	eng := datagram.New(bus, mgr)
	for i := 0; i < n; i++ {
		bus.AddSlave(autoAckSlave(0)) // fixed addr assigned by Scan itself
	}
	return bus, eng
}

func TestScanAssignsSequentialFixedAddresses(t *testing.T) {
	_, eng := newTestBusWithSlaves(3)
	registry := slave.NewRegistry()
	err := Scan(context.Background(), eng, registry)
	require.NoError(t, err)
	require.Equal(t, 3, registry.Count())
	for i := 0; i < 3; i++ {
		require.Equal(t, fixedAddrBase+uint16(i), registry.Get(i).FixedAddr)
		require.Equal(t, i-1, registry.Get(i).Parent)
	}
}

func TestRequestAllWalksToOp(t *testing.T) {
	_, eng := newTestBusWithSlaves(2)
	registry := slave.NewRegistry()
	require.NoError(t, Scan(context.Background(), eng, registry))

	m := New(eng, registry, nil)
	require.NoError(t, m.RequestAll(context.Background(), StateOp))

	for _, s := range registry.All() {
		require.Equal(t, uint16(StateOp), s.AL.Actual)
		require.False(t, s.AL.Error)
	}
}
