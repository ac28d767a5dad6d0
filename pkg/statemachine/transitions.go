package statemachine

import (
	"context"
	"encoding/binary"
	"time"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/datagram"
	"github.com/samsamfire/goethercat/pkg/slave"
)

// pollInterval/pollTimeout bound how long a single state transition
// waits for a slave to report the requested AL state.
const (
	pollInterval = 10 * time.Millisecond
	pollTimeout  = 5 * time.Second
)

// InitCommandReplayer applies a slave's queued init commands for one
// transition (e.g. CoE SDO writes tagged "PREOP->SAFEOP"). Implemented
// in pkg/master by an adapter over the CoE and SoE clients, so this
// package doesn't need to import them directly.
type InitCommandReplayer interface {
	Replay(ctx context.Context, s *slave.Descriptor, transition string) error
}

// Machine drives AL state transitions for a slave population.
type Machine struct {
	eng      *datagram.Engine
	registry *slave.Registry
	replayer InitCommandReplayer
}

// New creates a Machine. replayer may be nil if no init commands will
// ever be queued.
func New(eng *datagram.Engine, registry *slave.Registry, replayer InitCommandReplayer) *Machine {
	return &Machine{eng: eng, registry: registry, replayer: replayer}
}

// RequestAll walks every slave in the registry from its current state
// up through target, one hop at a time, replaying any tagged init
// commands before each hop completes. It stops at the first error and
// returns it: slaves already advanced stay where they are, and the
// remaining slaves are not attempted. Retrying is left to the caller.
func (m *Machine) RequestAll(ctx context.Context, target State) error {
	steps := path(target)
	for _, s := range m.registry.All() {
		for _, step := range steps {
			if State(s.AL.Actual) >= step {
				continue
			}
			if err := m.requestOne(ctx, s, step); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Machine) requestOne(ctx context.Context, s *slave.Descriptor, target State) error {
	from := State(s.AL.Actual)
	if m.replayer != nil {
		if err := m.replayer.Replay(ctx, s, transitionName(from, target)); err != nil {
			return err
		}
	}

	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, uint16(target))
	addr := ethercat.Fixed(s.FixedAddr, ethercat.RegALControl)
	if _, _, err := m.eng.Transceive(ctx, ethercat.CmdFPWR, addr, buf); err != nil {
		return err
	}
	s.AL.Expected = uint16(target)

	return m.poll(ctx, s, target)
}

// poll waits for s's AL status register to report target, surfacing the
// AL status code as a tagged error (KindStateSwitch, carrying the
// ALSTATCODE in Detail) if the ERROR bit is set instead.
func (m *Machine) poll(ctx context.Context, s *slave.Descriptor, target State) error {
	deadline := time.Now().Add(pollTimeout)
	for {
		addr := ethercat.Fixed(s.FixedAddr, ethercat.RegALStatus)
		wkc, out, err := m.eng.Transceive(ctx, ethercat.CmdFPRD, addr, make([]byte, 2))
		if err != nil {
			return err
		}
		if wkc > 0 {
			status := binary.LittleEndian.Uint16(out)
			actual := status &^ ethercat.ALStateError
			s.AL.Actual = actual

			if status&ethercat.ALStateError != 0 {
				s.AL.Error = true
				code, _ := m.readStatusCode(ctx, s)
				s.AL.ErrorCode = code
				return ethercat.ErrDetail(ethercat.CategorySlave, ethercat.KindStateSwitch,
					"slave %d: requested %s, ALSTATCODE=0x%04X", s.FixedAddr, target, code)
			}
			s.AL.Error = false
			if actual == uint16(target) {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return ethercat.ErrDetail(ethercat.CategorySlave, ethercat.KindStateSwitch,
				"slave %d: timed out waiting for %s", s.FixedAddr, target)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (m *Machine) readStatusCode(ctx context.Context, s *slave.Descriptor) (uint16, error) {
	addr := ethercat.Fixed(s.FixedAddr, ethercat.RegALStatusCode)
	_, out, err := m.eng.Transceive(ctx, ethercat.CmdFPRD, addr, make([]byte, 2))
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(out), nil
}
