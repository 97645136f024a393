package core

import (
	"context"
	"testing"
	"time"

	"github.com/ace-core/ace/internal/alert"
	"github.com/ace-core/ace/internal/cache"
	"github.com/ace-core/ace/internal/events"
	"github.com/ace-core/ace/internal/lock"
	"github.com/ace-core/ace/internal/model"
	"github.com/ace-core/ace/internal/obsmetrics"
	"github.com/ace-core/ace/internal/queue"
	"github.com/ace-core/ace/internal/registry"
	"github.com/ace-core/ace/internal/tracker"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newTestCore(bus events.Bus) *Core {
	if bus == nil {
		bus = events.NewMemBus()
	}
	reg := registry.New(bus)
	queues := queue.NewManager(func(_, _ string) queue.Queue { return queue.NewMemQueue() })
	locker := lock.NewMemLocker()
	c := cache.NewMemCache(cache.DefaultConfig())
	roots := tracker.NewMemRootTracker()
	requests := tracker.NewMemRequestTracker()
	alerts := alert.NewTrackerSink(tracker.NewMemAlertTracker(), bus)
	return New(reg, queues, locker, c, roots, requests, alerts, bus)
}

func ttl(d time.Duration) *time.Duration { return &d }

func submitIPv4Root(t *testing.T, c *Core, uuid, value string) *model.RootAnalysis {
	t.Helper()
	root := model.NewRootAnalysis(uuid)
	obs := model.NewObservableValue("obs-1", "ipv4", value, nil)
	root.PutObservable(obs)
	tracked, err := c.SubmitRoot(context.Background(), root)
	require.NoError(t, err)
	return tracked
}

// leaseAndReturn leases the next request enqueued for amtName and
// returns it, asserting that one was visible.
func leaseAndReturn(t *testing.T, c *Core, amtName, amtVersion string) *model.AnalysisRequest {
	t.Helper()
	req, err := c.LeaseNext(context.Background(), amtName, amtVersion, "worker-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, req)
	return req
}

func TestCore_SideEffectPreservation(t *testing.T) {
	ctx := context.Background()
	c := newTestCore(nil)

	amtA := &model.AnalysisModuleType{Name: "amt_a", Version: "1", ObservableTypes: model.NewStringSet("ipv4"), Timeout: time.Minute}
	amtB := &model.AnalysisModuleType{Name: "amt_b", Version: "1", ObservableTypes: model.NewStringSet("ipv4"), Timeout: time.Minute}
	c.RegisterModuleType(amtA)
	c.RegisterModuleType(amtB)

	tracked := submitIPv4Root(t, c, "root-1", "3.127.0.4")
	require.Len(t, tracked.OutstandingRequests, 2)

	reqB := leaseAndReturn(t, c, "amt_b", "1")
	resultB := reqB.Clone()
	resultB.Root = reqB.RootBefore.Clone()
	obsKey := resultB.Root.Observables[reqB.ObservableKey]
	obsKey.Tags.Add("malicious")
	_, err := c.PostResult(ctx, resultB)
	require.NoError(t, err)

	reqA := leaseAndReturn(t, c, "amt_a", "1")
	resultA := reqA.Clone()
	resultA.Root = reqA.RootBefore.Clone()
	obsA := resultA.Root.Observables[reqA.ObservableKey]
	analysis := obsA.Analyses["amt_a"]
	analysis.DetailsRef = "deadbeef"
	analysis.Status = model.AnalysisStatus{State: model.AnalysisSuccess}
	_, err = c.PostResult(ctx, resultA)
	require.NoError(t, err)

	final, found, err := c.GetRoot(ctx, "root-1")
	require.NoError(t, err)
	require.True(t, found)

	var obs *model.Observable
	for _, o := range final.Observables {
		obs = o
	}
	require.NotNil(t, obs)
	require.True(t, obs.Tags.Contains("malicious"))
	require.Equal(t, "deadbeef", obs.Analyses["amt_a"].DetailsRef)
	require.Equal(t, model.AnalysisSuccess, obs.Analyses["amt_a"].Status.State)
	require.Empty(t, final.OutstandingRequests)
	require.True(t, final.Completed)
}

func TestCore_ModePreservationUnderConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	c := newTestCore(nil)

	amtA := &model.AnalysisModuleType{Name: "amt_a", Version: "1", ObservableTypes: model.NewStringSet("ipv4"), Timeout: time.Minute}
	amtB := &model.AnalysisModuleType{Name: "amt_b", Version: "1", ObservableTypes: model.NewStringSet("ipv4"), Timeout: time.Minute}
	c.RegisterModuleType(amtA)
	c.RegisterModuleType(amtB)

	submitIPv4Root(t, c, "root-2", "1.2.3.4")

	reqA := leaseAndReturn(t, c, "amt_a", "1")
	resultA := reqA.Clone()
	resultA.Root = reqA.RootBefore.Clone()
	resultA.Root.AnalysisMode = "correlation"
	obsA := resultA.Root.Observables[reqA.ObservableKey]
	obsA.Analyses["amt_a"].Status = model.AnalysisStatus{State: model.AnalysisSuccess}
	_, err := c.PostResult(ctx, resultA)
	require.NoError(t, err)

	reqB := leaseAndReturn(t, c, "amt_b", "1")
	resultB := reqB.Clone() // before == after: mode untouched
	resultB.Root = reqB.RootBefore.Clone()
	_, err = c.PostResult(ctx, resultB)
	require.NoError(t, err)

	final, _, err := c.GetRoot(ctx, "root-2")
	require.NoError(t, err)
	require.Equal(t, "correlation", final.AnalysisMode)
}

func TestCore_CacheHitSkipsQueue(t *testing.T) {
	ctx := context.Background()
	c := newTestCore(nil)

	amt := &model.AnalysisModuleType{Name: "amt_whois", Version: "1", ObservableTypes: model.NewStringSet("ipv4"), CacheTTL: ttl(time.Hour), Timeout: time.Minute}
	c.RegisterModuleType(amt)

	submitIPv4Root(t, c, "root-3", "8.8.8.8")
	req := leaseAndReturn(t, c, "amt_whois", "1")
	result := req.Clone()
	result.Root = req.RootBefore.Clone()
	obs := result.Root.Observables[req.ObservableKey]
	obs.Analyses["amt_whois"].Status = model.AnalysisStatus{State: model.AnalysisSuccess}
	obs.Analyses["amt_whois"].DetailsRef = "whois-handle"
	_, err := c.PostResult(ctx, result)
	require.NoError(t, err)

	size, err := c.Queues.Current("amt_whois").Size(ctx)
	require.NoError(t, err)
	require.Zero(t, size)

	tracked2 := submitIPv4Root(t, c, "root-4", "8.8.8.8")

	size, err = c.Queues.Current("amt_whois").Size(ctx)
	require.NoError(t, err)
	require.Zero(t, size, "cache hit must not enqueue a new request")

	var obs2 *model.Observable
	for _, o := range tracked2.Observables {
		obs2 = o
	}
	require.Equal(t, "whois-handle", obs2.Analyses["amt_whois"].DetailsRef)
	require.True(t, tracked2.Completed)
}

func TestCore_StaleResultDropped(t *testing.T) {
	ctx := context.Background()
	c := newTestCore(nil)

	amtV1 := &model.AnalysisModuleType{Name: "amt_x", Version: "1", ObservableTypes: model.NewStringSet("ipv4"), Timeout: time.Minute}
	c.RegisterModuleType(amtV1)

	submitIPv4Root(t, c, "root-5", "9.9.9.9")
	req := leaseAndReturn(t, c, "amt_x", "1")

	amtV2 := &model.AnalysisModuleType{Name: "amt_x", Version: "2", ObservableTypes: model.NewStringSet("ipv4"), Timeout: time.Minute}
	c.RegisterModuleType(amtV2)

	staleResult := req.Clone()
	staleResult.Root = req.RootBefore.Clone()
	obs := staleResult.Root.Observables[req.ObservableKey]
	obs.Analyses["amt_x"].Status = model.AnalysisStatus{State: model.AnalysisSuccess}
	_, err := c.PostResult(ctx, staleResult)
	require.NoError(t, err)

	final, _, err := c.GetRoot(ctx, "root-5")
	require.NoError(t, err)
	_, hasAnalysis := final.Observables[req.ObservableKey].Analyses["amt_x"]
	// the pending placeholder created at enqueue time under v1 is still
	// there; the stale result never overwrote it with a success status.
	require.True(t, hasAnalysis)
	require.Equal(t, model.AnalysisPending, final.Observables[req.ObservableKey].Analyses["amt_x"].Status.State)
}

func TestCore_DetectionTriggersAlertOnce(t *testing.T) {
	ctx := context.Background()
	bus := events.NewMemBus()
	alertCalls := 0
	bus.Subscribe(events.TopicAlert, func(topic string, payload interface{}) { alertCalls++ })
	c := newTestCore(bus)

	amtC := &model.AnalysisModuleType{Name: "amt_c", Version: "1", ObservableTypes: model.NewStringSet("ipv4"), Timeout: time.Minute}
	c.RegisterModuleType(amtC)

	submitIPv4Root(t, c, "root-6", "6.6.6.6")
	req := leaseAndReturn(t, c, "amt_c", "1")
	result := req.Clone()
	result.Root = req.RootBefore.Clone()
	obs := result.Root.Observables[req.ObservableKey]
	obs.Detections.Add(model.DetectionPoint{ID: "d1", Description: "known bad"})
	_, err := c.PostResult(ctx, result)
	require.NoError(t, err)
	require.Equal(t, 1, alertCalls)

	// re-submitting the root unchanged must not re-alert
	root2 := model.NewRootAnalysis("root-6")
	_, err = c.SubmitRoot(ctx, root2)
	require.NoError(t, err)
	require.Equal(t, 1, alertCalls)
}

func TestCore_LeaseNextReturnsNilForStaleVersion(t *testing.T) {
	ctx := context.Background()
	c := newTestCore(nil)
	req, err := c.LeaseNext(ctx, "no_such_amt", "1", "worker-1", time.Minute)
	require.NoError(t, err)
	require.Nil(t, req)
}

func TestCore_SubmitRootValidatesUUID(t *testing.T) {
	c := newTestCore(nil)
	_, err := c.SubmitRoot(context.Background(), model.NewRootAnalysis(""))
	require.Error(t, err)
}

func TestCore_UniqueRootUUIDsDoNotCollide(t *testing.T) {
	ctx := context.Background()
	c := newTestCore(nil)
	u1, u2 := uuid.NewString(), uuid.NewString()
	submitIPv4Root(t, c, u1, "1.1.1.1")
	submitIPv4Root(t, c, u2, "2.2.2.2")
	_, found1, _ := c.GetRoot(ctx, u1)
	_, found2, _ := c.GetRoot(ctx, u2)
	require.True(t, found1)
	require.True(t, found2)
}

func TestCore_RecordsSubmissionMetrics(t *testing.T) {
	ctx := context.Background()
	bus := events.NewMemBus()
	reg := registry.New(bus)
	queues := queue.NewManager(func(_, _ string) queue.Queue { return queue.NewMemQueue() })
	locker := lock.NewMemLocker()
	cacheImpl := cache.NewMemCache(cache.DefaultConfig())
	roots := tracker.NewMemRootTracker()
	requests := tracker.NewMemRequestTracker()
	alerts := alert.NewTrackerSink(tracker.NewMemAlertTracker(), bus)
	metrics := obsmetrics.NewForTest()
	c := New(reg, queues, locker, cacheImpl, roots, requests, alerts, bus, WithMetrics(metrics))
	c.RegisterModuleType(&model.AnalysisModuleType{Name: "amt_a", Version: "1", ObservableTypes: model.NewStringSet("ipv4"), Timeout: time.Minute})

	rootUUID := uuid.NewString()
	submitIPv4Root(t, c, rootUUID, "9.9.9.9")
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.RootsSubmittedTotal.WithLabelValues("new")))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.RequestsEnqueued.WithLabelValues("amt_a")))

	root, _, err := c.GetRoot(ctx, rootUUID)
	require.NoError(t, err)
	require.NotEmpty(t, root.OutstandingRequests)
}
