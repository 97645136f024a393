package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChecker_HealthyWithNoChecks(t *testing.T) {
	c := NewChecker("1.0.0", nil)
	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, "healthy", status.Status)
}

func TestChecker_UnhealthyWhenCheckFails(t *testing.T) {
	c := NewChecker("1.0.0", nil)
	c.RegisterCheck("db", func() error { return require.AnError })
	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, "unhealthy", status.Status)
	require.Contains(t, status.Checks, "db")
}

func TestReadinessHandler_ReportsNotReadyUntilFlagFlips(t *testing.T) {
	ready := false
	rec := httptest.NewRecorder()
	ReadinessHandler(&ready)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ready = true
	rec = httptest.NewRecorder()
	ReadinessHandler(&ready)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLivenessHandler_AlwaysAlive(t *testing.T) {
	rec := httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
