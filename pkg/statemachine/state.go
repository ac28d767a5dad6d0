// Package statemachine drives the slave AL state machine: bus scan and
// fixed-address assignment, topology/parent derivation, and the
// INIT->PREOP->SAFEOP->OP transition pipeline with init-command replay.
package statemachine

import (
	"fmt"

	ethercat "github.com/samsamfire/goethercat"
)

// State is one AL state machine state.
type State uint16

const (
	StateUnknown State = 0
	StateInit    State = State(ethercat.ALStateInit)
	StatePreOp   State = State(ethercat.ALStatePreOp)
	StateBoot    State = State(ethercat.ALStateBoot)
	StateSafeOp  State = State(ethercat.ALStateSafeOp)
	StateOp      State = State(ethercat.ALStateOp)
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StatePreOp:
		return "PRE-OP"
	case StateBoot:
		return "BOOT"
	case StateSafeOp:
		return "SAFE-OP"
	case StateOp:
		return "OP"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint16(s))
	}
}

// transitionName reports the conventional name for a from->to hop, used
// in error details and init-command matching: InitCommand.Transition is
// a string like "PREOP->SAFEOP".
func transitionName(from, to State) string {
	return fmt.Sprintf("%s->%s", shortName(from), shortName(to))
}

func shortName(s State) string {
	switch s {
	case StateInit:
		return "INIT"
	case StatePreOp:
		return "PREOP"
	case StateSafeOp:
		return "SAFEOP"
	case StateOp:
		return "OP"
	case StateBoot:
		return "BOOT"
	default:
		return "UNKNOWN"
	}
}

// path returns the ordered list of intermediate states to walk from
// "current unknown" up to target, always starting from INIT: a request
// for OP from any state walks the full chain.
func path(target State) []State {
	order := []State{StateInit, StatePreOp, StateSafeOp, StateOp}
	for i, s := range order {
		if s == target {
			return order[:i+1]
		}
	}
	return order
}
