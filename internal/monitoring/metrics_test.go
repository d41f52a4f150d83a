package monitoring

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewLinkMetrics(reg, "front")
	require.NoError(t, err)

	m.Read("tf_field_robot", ResultAccepted)
	m.Read("tf_field_robot", ResultAccepted)
	m.Read("tf_field_robot", ResultStale)
	m.Write("tf_odom_robot", ResultSkipped)
	m.ConfigError("decode")
	m.Observe(true, 2, 7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.reads.WithLabelValues("tf_field_robot", ResultAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reads.WithLabelValues("tf_field_robot", ResultStale)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.writes.WithLabelValues("tf_odom_robot", ResultSkipped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.configErrors.WithLabelValues("decode")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connected))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.state))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.detections))

	m.Observe(false, 4, 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.connected))
}

func TestLinkMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewLinkMetrics(reg, "front")
	require.NoError(t, err)

	_, err = NewLinkMetrics(reg, "front")
	assert.Error(t, err)

	_, err = NewLinkMetrics(reg, "rear")
	assert.NoError(t, err, "distinct link names may share a registry")
}

func TestLinkMetrics_NilIsNoop(t *testing.T) {
	var m *LinkMetrics
	assert.NotPanics(t, func() {
		m.Read("x", ResultEmpty)
		m.Write("x", ResultSent)
		m.ConfigError("encode")
		m.Observe(true, 1, 1)
	})
}
