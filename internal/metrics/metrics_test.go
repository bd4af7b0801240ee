package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryRegistersAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.Connections.Set(3)
	r.ConnectionsTotal.Inc()
	r.KeyEventsTotal.WithLabelValues("delivered").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	var found bool
	for _, f := range families {
		if f.GetName() == "bap_connections" {
			found = true
			require.Equal(t, float64(3), f.Metric[0].GetGauge().GetValue())
		}
	}
	require.True(t, found, "bap_connections metric should be registered")
}
