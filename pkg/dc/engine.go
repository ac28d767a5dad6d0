package dc

import (
	"context"
	"encoding/binary"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/datagram"
	"github.com/samsamfire/goethercat/pkg/slave"
)

// Engine programs DC registers over a datagram engine and runs the
// continuous sync loop for slaves that have DC hardware.
type Engine struct {
	eng      *datagram.Engine
	registry *slave.Registry
	ctrl     map[*slave.Descriptor]*Controller
	mode     Mode
	kp, ki   float64
}

// New creates a DC engine bound to the given datagram engine and slave
// registry, disciplining clocks in the given mode with the default PI
// gains. Use NewWithGains to override them.
func New(eng *datagram.Engine, registry *slave.Registry, mode Mode) *Engine {
	return NewWithGains(eng, registry, mode, DefaultKp, DefaultKi)
}

// NewWithGains is New with explicit PI gains, for callers tuning the
// controller away from the defaults.
func NewWithGains(eng *datagram.Engine, registry *slave.Registry, mode Mode, kp, ki float64) *Engine {
	return &Engine{eng: eng, registry: registry, ctrl: map[*slave.Descriptor]*Controller{}, mode: mode, kp: kp, ki: ki}
}

// ConfigurePropagationDelays computes each DC-capable slave's
// PropagationDelay (via [ComputeDelays]) and writes it to that slave's
// System Time Delay register.
func (e *Engine) ConfigurePropagationDelays(ctx context.Context) error {
	slaves := e.registry.All()
	ComputeDelays(slaves)
	for _, s := range slaves {
		if !s.HasDC() {
			continue
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(s.DC.PropagationDelay))
		addr := ethercat.Fixed(s.FixedAddr, ethercat.RegDCSystemDelay)
		if _, _, err := e.eng.Transceive(ctx, ethercat.CmdFPWR, addr, buf); err != nil {
			return err
		}
	}
	return nil
}

// LatchReferenceTime distributes bus time once per cycle, the way Mode
// requires. In ModeRefClock and ModeMasterClock, the reference slave's
// (the first DC-capable slave in the registry) own system time is both
// read and rewritten in one FRMW exchange, so
// every slave's latched previous value can be diffed against it. In
// ModeMasterAsRefClock there is no reference slave: refTime is the
// master's own clock, broadcast-written (BWR) straight into every
// slave's system time register with nothing read back.
func (e *Engine) LatchReferenceTime(ctx context.Context, refTime uint64) ([]byte, error) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, refTime)
	if e.mode == ModeMasterAsRefClock {
		_, _, err := e.eng.Transceive(ctx, ethercat.CmdBWR, ethercat.Broadcast(ethercat.RegDCSystemTime), buf)
		return nil, err
	}
	var ref *slave.Descriptor
	for _, s := range e.registry.All() {
		if s.HasDC() {
			ref = s
			break
		}
	}
	if ref == nil {
		return nil, ethercat.ErrDetail(ethercat.CategoryGeneral, ethercat.KindUnavailable, "dc: no DC-capable reference slave")
	}
	_, out, err := e.eng.Transceive(ctx, ethercat.CmdFRMW, ethercat.Fixed(ref.FixedAddr, ethercat.RegDCSystemTime), buf)
	return out, err
}

// Step runs one continuous-sync control iteration for slave s, given
// its currently measured act_diff (reference time minus local system
// time, as read back via LatchReferenceTime).
//
// In ModeRefClock, the returned Correction is meant for the caller to
// fold into the master's own running clock. In ModeMasterClock it is
// instead written straight back onto the wire, as a half-act_diff nudge
// to s's own system-time-offset register, pulling the reference slave
// toward the master's clock without overshoot. In ModeMasterAsRefClock
// Step does nothing: the master already broadcasts its own clock as
// the bus reference via LatchReferenceTime, so there is no per-slave
// offset left to correct.
func (e *Engine) Step(ctx context.Context, s *slave.Descriptor, actDiff int64) (Result, error) {
	c, ok := e.ctrl[s]
	if !ok {
		c = NewController(e.mode, e.kp, e.ki)
		e.ctrl[s] = c
	}
	r := c.Step(actDiff)

	if e.mode == ModeMasterClock {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(r.Correction))
		addr := ethercat.Fixed(s.FixedAddr, ethercat.RegDCSystemTimeOffset)
		if _, _, err := e.eng.Transceive(ctx, ethercat.CmdFPWR, addr, buf); err != nil {
			return r, err
		}
	}
	return r, nil
}
