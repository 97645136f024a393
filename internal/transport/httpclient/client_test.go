package httpclient

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ace-core/ace/internal/alert"
	"github.com/ace-core/ace/internal/blob"
	"github.com/ace-core/ace/internal/cache"
	"github.com/ace-core/ace/internal/core"
	"github.com/ace-core/ace/internal/events"
	"github.com/ace-core/ace/internal/lock"
	"github.com/ace-core/ace/internal/model"
	"github.com/ace-core/ace/internal/queue"
	"github.com/ace-core/ace/internal/registry"
	"github.com/ace-core/ace/internal/tracker"
	"github.com/ace-core/ace/internal/transport/httpserver"
	"github.com/stretchr/testify/require"
)

func newTestEnv(t *testing.T) (*httptest.Server, *Client) {
	t.Helper()
	bus := events.NewMemBus()
	reg := registry.New(bus)
	queues := queue.NewManager(func(_, _ string) queue.Queue { return queue.NewMemQueue() })
	locker := lock.NewMemLocker()
	c := cache.NewMemCache(cache.DefaultConfig())
	roots := tracker.NewMemRootTracker()
	requests := tracker.NewMemRequestTracker()
	alerts := alert.NewTrackerSink(tracker.NewMemAlertTracker(), bus)
	ace := core.New(reg, queues, locker, c, roots, requests, alerts, bus)
	blobs := blob.NewMemStore()

	srv := httpserver.New(httpserver.Config{}, ace, blobs, bus, nil, nil, nil)
	ts := httptest.NewServer(srv.Handler())

	amt := &model.AnalysisModuleType{
		Name:            "amt_a",
		Version:         "1",
		ObservableTypes: model.NewStringSet("ipv4"),
		Timeout:         time.Minute,
	}
	reg.Register(amt)

	client := New(Config{BaseURL: ts.URL})
	return ts, client
}

func TestClient_SubmitAndGetRootRoundTrip(t *testing.T) {
	ts, client := newTestEnv(t)
	defer ts.Close()
	ctx := context.Background()

	root := model.NewRootAnalysis("root-client-1")
	root.PutObservable(model.NewObservableValue("obs-1", "ipv4", "1.2.3.4", nil))

	submitted, err := client.SubmitRoot(ctx, root)
	require.NoError(t, err)
	require.Equal(t, "root-client-1", submitted.UUID)

	got, err := client.GetRoot(ctx, "root-client-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "root-client-1", got.UUID)
}

func TestClient_GetRootMissingReturnsNilNil(t *testing.T) {
	ts, client := newTestEnv(t)
	defer ts.Close()

	got, err := client.GetRoot(context.Background(), "does-not-exist")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestClient_LeaseNextReturnsNilWhenEmpty(t *testing.T) {
	ts, client := newTestEnv(t)
	defer ts.Close()

	req, err := client.LeaseNext(context.Background(), "amt_a", "1", "worker-1", time.Minute)
	require.NoError(t, err)
	require.Nil(t, req)
}

func TestClient_BlobPutGetRoundTrip(t *testing.T) {
	ts, client := newTestEnv(t)
	defer ts.Close()
	ctx := context.Background()

	handle, err := client.PutBlob(ctx, []byte("hello"))
	require.NoError(t, err)
	require.NotEmpty(t, handle)

	data, err := client.GetBlob(ctx, handle)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestClient_LeaseFullRoundTripThroughSubmitAndPostResult(t *testing.T) {
	ts, client := newTestEnv(t)
	defer ts.Close()
	ctx := context.Background()

	root := model.NewRootAnalysis("root-client-2")
	root.PutObservable(model.NewObservableValue("obs-1", "ipv4", "5.6.7.8", nil))
	_, err := client.SubmitRoot(ctx, root)
	require.NoError(t, err)

	leased, err := client.LeaseNext(ctx, "amt_a", "1", "worker-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, leased)

	leased.Root = leased.RootBefore.Clone()
	obs, ok := leased.Root.FindObservable(leased.ObservableKey)
	require.True(t, ok)
	analysis := model.NewAnalysis("amt_a", "1")
	analysis.Status.State = model.AnalysisSuccess
	obs.Analyses[analysis.ModuleName] = analysis

	updated, err := client.PostResult(ctx, leased)
	require.NoError(t, err)
	require.Equal(t, "root-client-2", updated.UUID)
}
