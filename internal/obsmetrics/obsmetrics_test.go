package obsmetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersAllCollectors(t *testing.T) {
	m := NewForTest()
	m.RootsSubmittedTotal.WithLabelValues("new").Inc()
	m.RootsCompletedTotal.Inc()
	m.RequestsEnqueued.WithLabelValues("amt-a").Inc()
	m.CacheHitsTotal.WithLabelValues("amt-a").Inc()
	m.RootLockWaitSeconds.Observe(0.01)
	m.QueueDepth.WithLabelValues("amt-a").Set(3)
	m.OutstandingRootCount.Set(1)

	require.Equal(t, float64(1), testutil.ToFloat64(m.RootsSubmittedTotal.WithLabelValues("new")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.RootsCompletedTotal))
	require.Equal(t, float64(1), testutil.ToFloat64(m.RequestsEnqueued.WithLabelValues("amt-a")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("amt-a")))
	require.Equal(t, float64(3), testutil.ToFloat64(m.QueueDepth.WithLabelValues("amt-a")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.OutstandingRootCount))
}

func TestNew_SeparateRegistriesDontCollide(t *testing.T) {
	require.NotPanics(t, func() {
		NewForTest()
		NewForTest()
	})
}
