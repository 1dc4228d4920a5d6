package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestGoroutineLifecycle(t *testing.T) {
	component := "lifecycle_test"

	initialCreated := testutil.ToFloat64(goroutinesCreated.WithLabelValues(component))
	initialDestroyed := testutil.ToFloat64(goroutinesDestroyed.WithLabelValues(component))
	initialActive := testutil.ToFloat64(activeGoroutines.WithLabelValues(component))

	IncrementGoroutineCreated(component)
	IncrementGoroutineCreated(component)
	IncrementGoroutineCreated(component)

	activeAfterCreation := testutil.ToFloat64(activeGoroutines.WithLabelValues(component))
	assert.Equal(t, initialActive+3, activeAfterCreation, "active count should reflect 3 new goroutines")

	IncrementGoroutineDestroyed(component)
	IncrementGoroutineDestroyed(component)

	assert.Equal(t, initialCreated+3, testutil.ToFloat64(goroutinesCreated.WithLabelValues(component)))
	assert.Equal(t, initialDestroyed+2, testutil.ToFloat64(goroutinesDestroyed.WithLabelValues(component)))
	assert.Equal(t, initialActive+1, testutil.ToFloat64(activeGoroutines.WithLabelValues(component)))
}

func TestWrappersShareRegistration(t *testing.T) {
	a := NewCounter("wrapper_test_events_total", map[string]string{"source": "test"})
	b := NewCounter("wrapper_test_events_total", map[string]string{"source": "test"})

	a.Inc()
	b.Add(2)
	assert.Equal(t, float64(3), testutil.ToFloat64(a.counter))

	g := NewGauge("wrapper_test_level", nil)
	g.Set(5)
	g.Inc()
	g.Dec()
	g.Add(2)
	g.Sub(1)
	assert.Equal(t, float64(6), testutil.ToFloat64(g.gauge))

	h := NewHistogram("wrapper_test_latency_seconds", nil, []float64{0.1, 1})
	assert.NotPanics(t, func() {
		h.Observe(0.05)
		h.Observe(2)
	})
}
