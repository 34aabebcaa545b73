package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	m := New(func() int { return 3 })
	reg := prometheus.NewRegistry()

	require.NoError(t, m.Register(reg))
	assert.Error(t, m.Register(reg), "double registration must fail")
}

func TestDevicesGauge(t *testing.T) {
	n := 2
	m := New(func() int { return n })

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Devices))
	n = 5
	assert.Equal(t, 5.0, testutil.ToFloat64(m.Devices))
}

func TestCounters(t *testing.T) {
	m := New(func() int { return 0 })

	m.RecordsAccepted.WithLabelValues(SourceHTTP).Inc()
	m.RecordsAccepted.WithLabelValues(SourceMQTT).Add(2)
	m.RecordsRejected.WithLabelValues(SourceMQTT, "TypeError").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsAccepted.WithLabelValues(SourceHTTP)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsAccepted.WithLabelValues(SourceMQTT)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RecordsRejected))
}
