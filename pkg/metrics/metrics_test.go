package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	m.WkcMismatches.WithLabelValues("group-0").Inc()
	m.ActDiff.WithLabelValues("slave-1000").Set(150)
	m.SlaveALState.WithLabelValues("slave-1000").Set(8)
	m.SupervisorQueue.Set(3)
	m.CycleDuration.Observe(0.001)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
