package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.AnalysesTotal.WithLabelValues("success").Inc()
	m.AnalysesTotal.WithLabelValues("ScannerError").Add(2)
	m.ObserveStage("scan", 3*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalysesTotal.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AnalysesTotal.WithLabelValues("ScannerError")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["sonargate_analyses_total"])
	assert.True(t, names["sonargate_stage_duration_seconds"])
}

func TestNilMetricsObserveIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveStage("scan", time.Second)
}
