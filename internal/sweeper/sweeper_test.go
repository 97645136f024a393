package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/ace-core/ace/internal/events"
	"github.com/ace-core/ace/internal/model"
	"github.com/ace-core/ace/internal/obsmetrics"
	"github.com/ace-core/ace/internal/queue"
	"github.com/ace-core/ace/internal/ratelimit"
	"github.com/ace-core/ace/internal/registry"
	"github.com/ace-core/ace/internal/tracker"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSweeper_SampleGaugesReportsQueueDepthAndOutstandingRoots(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(events.NewMemBus())
	queues := queue.NewManager(func(_, _ string) queue.Queue { return queue.NewMemQueue() })
	roots := tracker.NewMemRootTracker()
	metrics := obsmetrics.NewForTest()

	amt := &model.AnalysisModuleType{Name: "amt_a", Version: "1", ObservableTypes: model.NewStringSet("ipv4"), Timeout: time.Minute}
	reg.Register(amt)
	q := queues.Bind(amt.Name, amt.Version)
	require.NoError(t, q.Put(ctx, &model.AnalysisRequest{ID: "req-1", AMTName: amt.Name, AMTVersion: amt.Version}))

	root := model.NewRootAnalysis("root-1")
	root.OutstandingRequests.Add("req-1")
	require.NoError(t, roots.Put(ctx, root))

	s := New(Config{}, nil, reg, queues, roots, metrics, nil)
	s.sampleGauges()

	require.Equal(t, float64(1), testutil.ToFloat64(metrics.QueueDepth.WithLabelValues("amt_a")))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.OutstandingRootCount))
}

func TestSweeper_EvictIdleKeysDelegatesToLimiter(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{RequestsPerSecond: 1, Burst: 1, IdleEvictAfter: time.Millisecond})
	limiter.Allow("key-a")
	time.Sleep(5 * time.Millisecond)

	s := New(Config{}, limiter, nil, nil, nil, nil, nil)
	s.evictIdleKeys()

	require.Equal(t, 0, limiter.Size())
}

func TestSweeper_StartSkipsJobsWithoutDependencies(t *testing.T) {
	s := New(DefaultConfig(), nil, nil, nil, nil, nil, nil)
	require.NoError(t, s.Start())
	s.Stop()
}
