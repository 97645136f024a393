package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
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
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, apiKey string) *Server {
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
	return New(Config{APIKey: apiKey}, ace, blobs, bus, nil, nil, nil)
}

func TestServer_SubmitAndGetRootRoundTrip(t *testing.T) {
	s := newTestServer(t, "")
	router := s.router()

	root := model.NewRootAnalysis("root-http-1")
	root.PutObservable(model.NewObservableValue("obs-1", "ipv4", "1.2.3.4", nil))
	body, err := json.Marshal(root)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/analysis/root", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/analysis/root/root-http-1", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got model.RootAnalysis
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "root-http-1", got.UUID)
}

func TestServer_GetRootMissingReturns404(t *testing.T) {
	s := newTestServer(t, "")
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/analysis/root/does-not-exist", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_APIKeyRequiredWhenConfigured(t *testing.T) {
	s := newTestServer(t, "secret")
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/analysis/root/any", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_BlobPutGetRoundTrip(t *testing.T) {
	s := newTestServer(t, "")
	router := s.router()

	req := httptest.NewRequest(http.MethodPost, "/blob", bytes.NewReader([]byte("hello")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	handle := resp["sha256"]
	require.NotEmpty(t, handle)

	req = httptest.NewRequest(http.MethodGet, "/blob/"+handle, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "hello", rec.Body.String())
}

func TestServer_LeaseNextReturnsNoContentWhenEmpty(t *testing.T) {
	s := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/work/amt_a/1?owner=worker-1", nil)
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestServer_RegisterModuleTypeRequiresAdminToken(t *testing.T) {
	s := newTestServer(t, "")
	amt := model.AnalysisModuleType{Name: "amt_a", Version: "1", ObservableTypes: model.NewStringSet("ipv4"), Timeout: time.Minute}
	body, _ := json.Marshal(amt)
	req := httptest.NewRequest(http.MethodPost, "/module/type", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
