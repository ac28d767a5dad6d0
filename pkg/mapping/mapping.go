// Package mapping builds the logical-address layout for one group of
// slaves: FMMU windows, the choice between a single combined LRW
// datagram and a split LRD+LWR pair, and the resulting expected working
// counter.
package mapping

import (
	"sort"

	"github.com/samsamfire/goethercat/pkg/slave"
)

// SMBits is one sync manager's accumulated process-data bit length, as
// read back by a protocol client's PDO-assignment walk (e.g.
// [pkg/coe.Client.ReadSMAssignment]).
type SMBits struct {
	SMIndex   int
	BitLength int
}

// SlaveFMMU pairs a slave with one FMMU entry this build assigned it,
// for callers that need to program the physical FMMU registers.
type SlaveFMMU struct {
	Slave *slave.Descriptor
	FMMU  slave.FMMU
}

// Layout is the result of a mapping Build: the logical frame shape for
// one group, ready for the cyclic scheduler to issue each tick.
type Layout struct {
	UseLRW bool

	// LogicalBase/OutputLen/InputLen describe the combined LRW frame
	// when UseLRW is true: output bytes occupy
	// [LogicalBase, LogicalBase+OutputLen), input bytes occupy
	// [LogicalBase+OutputLen, LogicalBase+OutputLen+InputLen).
	//
	// When UseLRW is false, OutputBase/OutputLen and InputBase/InputLen
	// describe two independent logical regions for a separate LWR and
	// LRD.
	LogicalBase uint32
	OutputBase  uint32
	OutputLen   int
	InputBase   uint32
	InputLen    int

	OutputFMMUs []SlaveFMMU
	InputFMMUs  []SlaveFMMU

	// ExpectedWKC is the working counter value a fully-healthy exchange
	// of this group's datagram(s) must produce.
	ExpectedWKC int
}

// Build assigns a contiguous logical layout to slaves starting at
// logicalBase. bits maps each slave to the SM bit-lengths a protocol
// client already read back from its object dictionary. Slave order
// within the group is preserved from the slaves slice.
//
// The group uses one combined LRW datagram only if every member slave
// supports LRW (see DESIGN.md); otherwise the whole group falls back to
// a split LRD+LWR pair.
func Build(logicalBase uint32, slaves []*slave.Descriptor, bits map[*slave.Descriptor][]SMBits) *Layout {
	useLRW := true
	for _, s := range slaves {
		if !s.HasLRW() {
			useLRW = false
			break
		}
	}

	l := &Layout{UseLRW: useLRW, LogicalBase: logicalBase}

	outBit, inBit := 0, 0
	for _, s := range slaves {
		entries := append([]SMBits(nil), bits[s]...)
		sort.Slice(entries, func(i, j int) bool { return entries[i].SMIndex < entries[j].SMIndex })
		for _, e := range entries {
			if e.BitLength == 0 {
				continue
			}
			role := s.SMs[e.SMIndex].Role
			switch role {
			case slave.SMRoleProcessOut:
				fmmu := slave.FMMU{
					PhysStart:    s.SMs[e.SMIndex].PhysStart,
					LogicalStart: logicalBase + uint32(outBit/8),
					LogicalBits:  uint32(e.BitLength),
					Direction:    slave.FMMUDirWrite,
				}
				l.OutputFMMUs = append(l.OutputFMMUs, SlaveFMMU{Slave: s, FMMU: fmmu})
				outBit += roundUpByte(e.BitLength)
			case slave.SMRoleProcessIn:
				fmmu := slave.FMMU{
					PhysStart:    s.SMs[e.SMIndex].PhysStart,
					LogicalBits:  uint32(e.BitLength),
					Direction:    slave.FMMUDirRead,
				}
				l.InputFMMUs = append(l.InputFMMUs, SlaveFMMU{Slave: s, FMMU: fmmu})
				inBit += roundUpByte(e.BitLength)
			}
		}
	}

	l.OutputLen = outBit / 8
	l.InputLen = inBit / 8

	if useLRW {
		l.OutputBase = logicalBase
		l.InputBase = logicalBase + uint32(l.OutputLen)
		inOff := 0
		for i := range l.InputFMMUs {
			l.InputFMMUs[i].FMMU.LogicalStart = l.InputBase + uint32(inOff)
			inOff += int(l.InputFMMUs[i].FMMU.LogicalBits+7) / 8
		}
		l.ExpectedWKC = 2*len(l.OutputFMMUs) + len(l.InputFMMUs)
	} else {
		l.OutputBase = logicalBase
		l.InputBase = logicalBase + uint32(l.OutputLen) + 64 // gap to avoid accidental overlap
		inOff := 0
		for i := range l.InputFMMUs {
			l.InputFMMUs[i].FMMU.LogicalStart = l.InputBase + uint32(inOff)
			inOff += int(l.InputFMMUs[i].FMMU.LogicalBits+7) / 8
		}
		l.ExpectedWKC = len(l.OutputFMMUs) + len(l.InputFMMUs)
	}

	return l
}

func roundUpByte(bits int) int {
	return ((bits + 7) / 8) * 8
}

// Apply installs every FMMU this layout assigned into each slave's
// Descriptor.FMMUs, replacing whatever was there (e.g. from a prior
// mapping pass).
func Apply(l *Layout) {
	byDescriptor := map[*slave.Descriptor][]slave.FMMU{}
	for _, sf := range l.OutputFMMUs {
		byDescriptor[sf.Slave] = append(byDescriptor[sf.Slave], sf.FMMU)
	}
	for _, sf := range l.InputFMMUs {
		byDescriptor[sf.Slave] = append(byDescriptor[sf.Slave], sf.FMMU)
	}
	for s, fmmus := range byDescriptor {
		s.FMMUs = fmmus
	}
}
