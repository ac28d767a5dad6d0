// Package cyclic implements the process-data scheduler: a ticker-driven
// loop that, each cycle, exchanges every group's process image (one
// combined LRW or a split LRD+LWR pair per [pkg/mapping.Layout]) and
// tracks working-counter mismatches for the supervisor to act on.
package cyclic

import (
	"context"
	"sync"
	"time"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/datagram"
	"github.com/samsamfire/goethercat/pkg/mapping"
)

// Group is one mapped process-data group: its logical layout plus the
// double-buffered output/input process images the application reads
// and writes between cycles.
type Group struct {
	mu     sync.Mutex
	Layout *mapping.Layout
	output []byte
	input  []byte

	consecutiveMismatches int
}

// NewGroup creates a Group sized from layout.
func NewGroup(layout *mapping.Layout) *Group {
	return &Group{
		Layout: layout,
		output: make([]byte, layout.OutputLen),
		input:  make([]byte, layout.InputLen),
	}
}

// SetOutputs copies data into the group's output image for the next cycle.
func (g *Group) SetOutputs(data []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	copy(g.output, data)
}

// Inputs returns a copy of the group's most recently received input image.
func (g *Group) Inputs() []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]byte, len(g.input))
	copy(out, g.input)
	return out
}

// MismatchEvent reports a group whose cycle's working counter didn't
// match its expected value.
type MismatchEvent struct {
	Group       *Group
	GotWKC      int
	ExpectedWKC int
	Consecutive int
}

// Scheduler drives the cyclic exchange for a set of groups at a fixed
// period.
type Scheduler struct {
	eng    *datagram.Engine
	groups []*Group
	period time.Duration

	onMismatch func(MismatchEvent)
	onCycle    func(dur time.Duration)

	stop chan struct{}
	done chan struct{}
}

// New creates a Scheduler for the given groups at the given cycle
// period.
func New(eng *datagram.Engine, groups []*Group, period time.Duration) *Scheduler {
	return &Scheduler{
		eng:    eng,
		groups: groups,
		period: period,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// OnMismatch registers a callback invoked whenever a group's cycle WKC
// doesn't match expectations (typically wired to the supervisor).
func (s *Scheduler) OnMismatch(f func(MismatchEvent)) { s.onMismatch = f }

// OnCycle registers a callback invoked with each cycle's wall-clock
// duration, for metrics (pkg/metrics).
func (s *Scheduler) OnCycle(f func(time.Duration)) { s.onCycle = f }

// Run drives the cyclic loop until ctx is done or Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			start := time.Now()
			for _, g := range s.groups {
				s.exchange(ctx, g)
			}
			if s.onCycle != nil {
				s.onCycle(time.Since(start))
			}
		}
	}
}

// Stop requests Run to return and blocks until it has.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) exchange(ctx context.Context, g *Group) {
	g.mu.Lock()
	outCopy := make([]byte, len(g.output))
	copy(outCopy, g.output)
	g.mu.Unlock()

	var gotWKC int
	var inData []byte
	var err error

	if g.Layout.UseLRW {
		// Single LRW covering [OutputBase, OutputBase+OutputLen) for
		// writes and [InputBase, InputBase+InputLen) for reads; this
		// scheduler issues it as one logical transceive over the
		// combined span when the two regions are contiguous (the
		// common case this mapping builder produces).
		combined := append(append([]byte(nil), outCopy...), make([]byte, g.Layout.InputLen)...)
		addr := ethercat.Logical(g.Layout.OutputBase)
		gotWKC, inData, err = transceiveWKC(ctx, s.eng, ethercat.CmdLRW, addr, combined)
		if err == nil && len(inData) >= g.Layout.OutputLen {
			inData = inData[g.Layout.OutputLen:]
		}
	} else {
		addrOut := ethercat.Logical(g.Layout.OutputBase)
		wkcOut, _, errOut := transceiveWKC(ctx, s.eng, ethercat.CmdLWR, addrOut, outCopy)
		addrIn := ethercat.Logical(g.Layout.InputBase)
		wkcIn, in, errIn := transceiveWKC(ctx, s.eng, ethercat.CmdLRD, addrIn, make([]byte, g.Layout.InputLen))
		gotWKC = wkcOut + wkcIn
		inData = in
		err = errOut
		if err == nil {
			err = errIn
		}
	}

	if err != nil {
		s.reportMismatch(g, 0)
		return
	}

	g.mu.Lock()
	if len(inData) == len(g.input) {
		copy(g.input, inData)
	}
	g.mu.Unlock()

	if gotWKC != g.Layout.ExpectedWKC {
		s.reportMismatch(g, gotWKC)
	} else {
		g.consecutiveMismatches = 0
	}
}

func (s *Scheduler) reportMismatch(g *Group, gotWKC int) {
	g.consecutiveMismatches++
	if s.onMismatch != nil {
		s.onMismatch(MismatchEvent{
			Group:       g,
			GotWKC:      gotWKC,
			ExpectedWKC: g.Layout.ExpectedWKC,
			Consecutive: g.consecutiveMismatches,
		})
	}
}

func transceiveWKC(ctx context.Context, eng *datagram.Engine, cmd ethercat.Command, addr ethercat.Addr, data []byte) (int, []byte, error) {
	wkc, out, err := eng.Transceive(ctx, cmd, addr, data)
	return int(wkc), out, err
}
