package supervisor

import (
	"context"
	"testing"

	"github.com/samsamfire/goethercat/internal/simlink"
	"github.com/samsamfire/goethercat/pkg/cyclic"
	"github.com/samsamfire/goethercat/pkg/datagram"
	"github.com/samsamfire/goethercat/pkg/link"
	"github.com/samsamfire/goethercat/pkg/slave"
	"github.com/samsamfire/goethercat/pkg/statemachine"
	"github.com/stretchr/testify/require"
)

func newTestSupervisor(n int) (*Supervisor, *slave.Registry) {
	bus := simlink.NewBus()
	mgr := link.NewManager()
	bus.SetReceiver(mgr.Handle)
	eng := datagram.New(bus, mgr)
	for i := 0; i < n; i++ {
		bus.AddSlave(simlink.NewSlave(0))
	}
	registry := slave.NewRegistry()
	machine := statemachine.New(eng, registry, nil)
	return New(eng, registry, machine), registry
}

func TestHandleMismatchEmitsRateLimitedMessage(t *testing.T) {
	sup, _ := newTestSupervisor(0)

	sup.HandleMismatch(cyclic.MismatchEvent{ExpectedWKC: 2, GotWKC: 1, Consecutive: 1})
	sup.HandleMismatch(cyclic.MismatchEvent{ExpectedWKC: 2, GotWKC: 1, Consecutive: 2})

	select {
	case msg := <-sup.Messages():
		require.Equal(t, KindWkcMismatch, msg.Kind)
		require.NotEmpty(t, msg.ID.String())
	default:
		t.Fatal("expected a queued diagnostic message")
	}

	// The second call landed inside the rate-limit window and was dropped.
	select {
	case <-sup.Messages():
		t.Fatal("expected the second mismatch to be rate-limited")
	default:
	}
}

func TestCheckAllSkipsHealthySlaves(t *testing.T) {
	sup, registry := newTestSupervisor(0)
	registry.Add(&slave.Descriptor{FixedAddr: 1000})

	errs := sup.CheckAll(context.Background())
	require.Empty(t, errs)

	select {
	case <-sup.Messages():
		t.Fatal("expected no diagnostic message for a slave with no AL error")
	default:
	}
}

func TestMessageKindString(t *testing.T) {
	require.Equal(t, "wkc-mismatch", KindWkcMismatch.String())
	require.Equal(t, "slave-error", KindSlaveError.String())
	require.Equal(t, "link-lost", KindLinkLost.String())
	require.Equal(t, "rx-errors", KindRxErrors.String())
}
