package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Commit()
	m.Commit()
	m.Rollback()
	m.Retry("begin")
	m.LockFailure("commit")
	m.Notified("contact")
	m.SubscriberPanic()
	m.Denied("contact.write")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Commits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rollbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Retries.WithLabelValues("begin")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LockFailures.WithLabelValues("commit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("contact")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Denials.WithLabelValues("contact.write")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 7)
}

func TestNew_TwiceOnSameRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Commit()
		m.Rollback()
		m.Retry("begin")
		m.LockFailure("begin")
		m.Notified("x")
		m.SubscriberPanic()
		m.Denied("x")
	})
}
