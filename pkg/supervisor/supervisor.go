// Package supervisor runs the asynchronous fault-recovery loop: a
// bounded pool of diagnostic messages fed by the cyclic scheduler and
// by the supervisor's own slave checks, rate-limited per message kind
// and slave, and a recovery
// climb that walks a faulted slave back to its expected state.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/samsamfire/goethercat/pkg/cyclic"
	"github.com/samsamfire/goethercat/pkg/datagram"
	"github.com/samsamfire/goethercat/pkg/slave"
	"github.com/samsamfire/goethercat/pkg/statemachine"
)

// MessageKind classifies a diagnostic message.
type MessageKind int

const (
	KindWkcMismatch MessageKind = iota
	KindSlaveError
	KindLinkLost
	KindRxErrors
)

func (k MessageKind) String() string {
	switch k {
	case KindWkcMismatch:
		return "wkc-mismatch"
	case KindSlaveError:
		return "slave-error"
	case KindLinkLost:
		return "link-lost"
	case KindRxErrors:
		return "rx-errors"
	default:
		return "unknown"
	}
}

// Message is one diagnostic event, sized to fit in a fixed-capacity
// pool rather than an unbounded channel. ID is a sortable
// globally-unique identifier, useful for correlating a message with the
// log lines a consumer emits for it.
type Message struct {
	ID     xid.ID
	Kind   MessageKind
	Slave  *slave.Descriptor
	Detail string
	At     time.Time
}

// poolCapacity bounds how many undelivered messages may queue; a
// message emitted while the pool is full is dropped.
const poolCapacity = 256

// rateLimitWindow is the minimum spacing between two messages of the
// same kind for the same slave before later ones are dropped silently.
const rateLimitWindow = time.Second

// Supervisor collects diagnostic messages and drives slave recovery.
type Supervisor struct {
	eng      *datagram.Engine
	registry *slave.Registry
	machine  *statemachine.Machine

	mu       sync.Mutex
	messages chan Message
	lastSeen map[rateLimitKey]time.Time
}

type rateLimitKey struct {
	kind  MessageKind
	slave *slave.Descriptor
}

// New creates a Supervisor. machine is used to drive a faulted slave's
// recovery climb back to its expected state.
func New(eng *datagram.Engine, registry *slave.Registry, machine *statemachine.Machine) *Supervisor {
	return &Supervisor{
		eng:      eng,
		registry: registry,
		machine:  machine,
		messages: make(chan Message, poolCapacity),
		lastSeen: map[rateLimitKey]time.Time{},
	}
}

// Messages exposes the channel of diagnostic messages for a consumer
// (logging, metrics) to drain.
func (s *Supervisor) Messages() <-chan Message { return s.messages }

// emit rate-limits and enqueues a message, dropping it if the pool is
// full or the same (kind, slave) pair fired too recently.
func (s *Supervisor) emit(kind MessageKind, sl *slave.Descriptor, detail string) {
	key := rateLimitKey{kind: kind, slave: sl}
	now := time.Now()

	s.mu.Lock()
	last, ok := s.lastSeen[key]
	if ok && now.Sub(last) < rateLimitWindow {
		s.mu.Unlock()
		return
	}
	s.lastSeen[key] = now
	s.mu.Unlock()

	msg := Message{ID: xid.New(), Kind: kind, Slave: sl, Detail: detail, At: now}
	select {
	case s.messages <- msg:
	default:
		// Pool full: the new message is dropped.
	}
}

// HandleMismatch is wired to [pkg/cyclic.Scheduler.OnMismatch].
func (s *Supervisor) HandleMismatch(ev cyclic.MismatchEvent) {
	s.emit(KindWkcMismatch, nil, "wkc mismatch: got != expected, consecutive failures tracked by the scheduler")
}

// CheckSlave inspects one slave's AL state and, if it has dropped below
// its expected state with the error bit set, attempts a recovery climb:
// request INIT, then walk back up to the previously expected state.
func (s *Supervisor) CheckSlave(ctx context.Context, sl *slave.Descriptor) error {
	if !sl.AL.Error {
		return nil
	}
	s.emit(KindSlaveError, sl, "AL error bit set, attempting recovery climb")

	expected := statemachine.State(sl.AL.Expected)
	// RequestAll skips every step a slave has already reached; marking
	// this slave's state unknown makes it walk sl from INIT upward.
	sl.AL.Actual = uint16(statemachine.StateUnknown)
	return s.machine.RequestAll(ctx, expected)
}

// CheckAll runs CheckSlave over every slave in the registry, collecting
// but not stopping on individual failures.
func (s *Supervisor) CheckAll(ctx context.Context) []error {
	var errs []error
	for _, sl := range s.registry.All() {
		if err := s.CheckSlave(ctx, sl); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Run periodically calls CheckAll until ctx is done, matching the
// original's dedicated async-loop goroutine.
func (s *Supervisor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckAll(ctx)
		}
	}
}
