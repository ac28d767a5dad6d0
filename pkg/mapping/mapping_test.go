package mapping

import (
	"testing"

	"github.com/samsamfire/goethercat/pkg/slave"
	"github.com/stretchr/testify/require"
)

func twoSlaveGroup(noLRWSecond bool) []*slave.Descriptor {
	a := &slave.Descriptor{FixedAddr: 1000}
	a.SMs[2] = slave.SyncManager{PhysStart: 0x1400, Role: slave.SMRoleProcessOut}
	a.SMs[3] = slave.SyncManager{PhysStart: 0x1800, Role: slave.SMRoleProcessIn}

	b := &slave.Descriptor{FixedAddr: 1001}
	b.SMs[2] = slave.SyncManager{PhysStart: 0x1400, Role: slave.SMRoleProcessOut}
	b.SMs[3] = slave.SyncManager{PhysStart: 0x1800, Role: slave.SMRoleProcessIn}
	if noLRWSecond {
		b.Features |= slave.FeatureNoLRW
	}
	return []*slave.Descriptor{a, b}
}

func TestBuildUsesLRWWhenAllSupportIt(t *testing.T) {
	slaves := twoSlaveGroup(false)
	bits := map[*slave.Descriptor][]SMBits{
		slaves[0]: {{SMIndex: 2, BitLength: 16}, {SMIndex: 3, BitLength: 8}},
		slaves[1]: {{SMIndex: 2, BitLength: 16}, {SMIndex: 3, BitLength: 8}},
	}
	l := Build(0x00010000, slaves, bits)
	require.True(t, l.UseLRW)
	require.Equal(t, 4, l.OutputLen) // 2 slaves * 2 bytes
	require.Equal(t, 2, l.InputLen)  // 2 slaves * 1 byte
	require.Equal(t, 2*2+2, l.ExpectedWKC)
	require.Len(t, l.OutputFMMUs, 2)
	require.Len(t, l.InputFMMUs, 2)
}

func TestBuildFallsBackToSplitWhenOneSlaveLacksLRW(t *testing.T) {
	slaves := twoSlaveGroup(true)
	bits := map[*slave.Descriptor][]SMBits{
		slaves[0]: {{SMIndex: 2, BitLength: 16}, {SMIndex: 3, BitLength: 8}},
		slaves[1]: {{SMIndex: 2, BitLength: 16}, {SMIndex: 3, BitLength: 8}},
	}
	l := Build(0x00010000, slaves, bits)
	require.False(t, l.UseLRW)
	require.Equal(t, 2+2, l.ExpectedWKC) // split: one WKC credit per FMMU direction
}

func TestApplyInstallsFMMUsOnDescriptors(t *testing.T) {
	slaves := twoSlaveGroup(false)
	bits := map[*slave.Descriptor][]SMBits{
		slaves[0]: {{SMIndex: 2, BitLength: 16}},
	}
	l := Build(0, slaves, bits)
	Apply(l)
	require.Len(t, slaves[0].FMMUs, 1)
	require.Equal(t, slave.FMMUDirWrite, slaves[0].FMMUs[0].Direction)
}
