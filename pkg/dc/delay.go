// Package dc implements Distributed Clocks: propagation-delay
// computation from latched port receive times, continuous clock
// synchronization via a PI controller, and sync-unit register
// programming.
package dc

import "github.com/samsamfire/goethercat/pkg/slave"

// ComputeDelays fills in DC.PropagationDelay for every slave in
// topology order (slaves[0] is the reference clock, delay 0). Each
// subsequent slave's delay accumulates its parent's delay plus half the
// round-trip time observed between the parent's entry port and this
// slave's entry port — the one-way cable+processing delay.
//
// This is a simplified rendition of the original recursive formula: the
// original also folds in non-entry port times to detect line vs branch
// topologies, which this master does not model (see DESIGN.md).
func ComputeDelays(slaves []*slave.Descriptor) {
	if len(slaves) == 0 {
		return
	}
	slaves[0].DC.PropagationDelay = 0
	for i := 1; i < len(slaves); i++ {
		s := slaves[i]
		if s.Parent < 0 || s.Parent >= len(slaves) {
			continue
		}
		parent := slaves[s.Parent]
		rtt := int64(s.DC.PortReceiveTimes[s.EntryPort]) - int64(parent.DC.PortReceiveTimes[parent.EntryPort])
		if rtt < 0 {
			rtt = -rtt
		}
		s.DC.PropagationDelay = parent.DC.PropagationDelay + int32(rtt/2)
	}
}

// EntryPortOf returns the index (0-3) of the port with the minimum
// latched receive time among a slave's active ports.
func EntryPortOf(s *slave.Descriptor) int {
	best := -1
	var bestTime uint32
	for i := 0; i < 4; i++ {
		if !s.DC.ActivePorts[i] {
			continue
		}
		if best == -1 || s.DC.PortReceiveTimes[i] < bestTime {
			best = i
			bestTime = s.DC.PortReceiveTimes[i]
		}
	}
	if best == -1 {
		return 0
	}
	return best
}
