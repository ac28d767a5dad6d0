package dc

import (
	"testing"

	"github.com/samsamfire/goethercat/pkg/slave"
	"github.com/stretchr/testify/require"
)

func TestComputeDelaysAccumulatesDownTheTree(t *testing.T) {
	root := &slave.Descriptor{Parent: -1}
	root.DC.PortReceiveTimes[0] = 1000
	root.DC.ActivePorts[0] = true

	child := &slave.Descriptor{Parent: 0, EntryPort: 0}
	child.DC.PortReceiveTimes[0] = 1200

	grandchild := &slave.Descriptor{Parent: 1, EntryPort: 0}
	grandchild.DC.PortReceiveTimes[0] = 1500

	slaves := []*slave.Descriptor{root, child, grandchild}
	ComputeDelays(slaves)

	require.EqualValues(t, 0, root.DC.PropagationDelay)
	require.EqualValues(t, 100, child.DC.PropagationDelay)    // |1200-1000|/2
	require.EqualValues(t, 250, grandchild.DC.PropagationDelay) // 100 + |1500-1200|/2
}

func TestEntryPortOfPicksMinimumReceiveTime(t *testing.T) {
	s := &slave.Descriptor{}
	s.DC.ActivePorts = [4]bool{true, true, false, false}
	s.DC.PortReceiveTimes = [4]uint32{500, 200, 0, 0}
	require.Equal(t, 1, EntryPortOf(s))
}

func TestControllerReportsDesyncBeyondBound(t *testing.T) {
	c := NewController(ModeRefClock, DefaultKp, DefaultKi)
	r := c.Step(50)
	require.False(t, r.Desynced)
	r = c.Step(5_000_000)
	require.True(t, r.Desynced)
}

func TestControllerResetClearsIntegral(t *testing.T) {
	c := NewController(ModeRefClock, DefaultKp, DefaultKi)
	c.Step(1000)
	require.NotZero(t, c.integral)
	c.Reset()
	require.Zero(t, c.integral)
}

func TestControllerPIMathMatchesProportionalPlusIntegral(t *testing.T) {
	c := NewController(ModeRefClock, 2.0, 0.5)
	r := c.Step(100)
	// p = kp*actDiff = 200; integral = ki*actDiff = 50; correction = 250.
	require.EqualValues(t, 250, r.Correction)
}

func TestControllerMasterClockHalvesDiffWithNoIntegral(t *testing.T) {
	c := NewController(ModeMasterClock, DefaultKp, DefaultKi)
	r := c.Step(1000)
	require.EqualValues(t, 500, r.Correction)
	require.Zero(t, c.integral)
}

func TestControllerMasterAsRefClockNeverCorrects(t *testing.T) {
	c := NewController(ModeMasterAsRefClock, DefaultKp, DefaultKi)
	r := c.Step(1000)
	require.Zero(t, r.Correction)
}
