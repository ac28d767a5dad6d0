package master

import (
	"context"
	"testing"
	"time"

	"github.com/samsamfire/goethercat/internal/simlink"
	"github.com/stretchr/testify/require"
)

// TestStartStopOnEmptyBus exercises the full wiring path (scan, state
// transitions, mapping, DC configuration, scheduler/supervisor startup)
// against a bus with zero slaves, where every step is a well-defined
// no-op. Protocol-level behavior (CoE reads, state polling, DC delay
// math) is covered by each subsystem's own package tests against a
// populated simulated bus.
func TestStartStopOnEmptyBus(t *testing.T) {
	bus := simlink.NewBus()
	m := New(bus, Config{CyclePeriod: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := m.Start(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, m.Registry().Count())
	require.Len(t, m.Groups(), 1)

	m.Stop()
}
