// Package health implements the core's health/liveness/readiness
// surface, adapted from the teacher's infrastructure/middleware health
// checker (same HealthStatus shape, RegisterCheck registry, liveness
// and readiness handlers). HostStats adds host-level CPU/memory figures
// via gopsutil, which the teacher's go.mod pulls in but never wires to
// anything; the /health response served by Handler does not include them.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ace-core/ace/internal/obslog"
	gopsutilcpu "github.com/shirou/gopsutil/v3/cpu"
	gopsutilmem "github.com/shirou/gopsutil/v3/mem"
)

// Status is the JSON body of a health check response.
type Status struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
	Uptime    string            `json:"uptime,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Checker tracks named health checks and serves them as HTTP handlers.
type Checker struct {
	mu        sync.RWMutex
	version   string
	startTime time.Time
	checks    map[string]func() error
	log       *obslog.Logger
}

// NewChecker returns a Checker reporting version and measuring uptime
// from the moment it's constructed.
func NewChecker(version string, log *obslog.Logger) *Checker {
	if log == nil {
		log = obslog.NewDefault()
	}
	return &Checker{
		version:   version,
		startTime: time.Now(),
		checks:    make(map[string]func() error),
		log:       log,
	}
}

// RegisterCheck adds or replaces a named check. A check function
// returning a non-nil error marks the whole response unhealthy.
func (c *Checker) RegisterCheck(name string, check func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Handler serves GET /health: runs every registered check and reports
// 503 if any failed.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.mu.RLock()
		defer c.mu.RUnlock()

		status := Status{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   c.version,
			Uptime:    time.Since(c.startTime).String(),
			Checks:    make(map[string]string, len(c.checks)),
		}
		for name, check := range c.checks {
			if err := check(); err != nil {
				status.Status = "unhealthy"
				status.Checks[name] = err.Error()
			} else {
				status.Checks[name] = "ok"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if status.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			c.log.WithError(err).Warn("health: encode response failed")
		}
	}
}

// LivenessHandler always reports alive: a process that can answer HTTP
// at all is, by definition, live.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	}
}

// ReadinessHandler reports ready once *ready flips true, e.g. after the
// core has finished hydrating its registry/queues at startup.
func ReadinessHandler(ready *bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if ready != nil && *ready {
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not_ready"})
	}
}

// HostStats snapshots host CPU and memory utilization via gopsutil, for
// inclusion in operator-facing diagnostics alongside Status.
type HostStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemUsedBytes  uint64  `json:"mem_used_bytes"`
	MemTotalBytes uint64  `json:"mem_total_bytes"`
}

// ReadHostStats samples current host utilization. Returns a zero value
// and the underlying error if either gopsutil probe fails, e.g. inside
// a sandbox without /proc.
func ReadHostStats() (HostStats, error) {
	percents, err := gopsutilcpu.Percent(0, false)
	if err != nil {
		return HostStats{}, err
	}
	vm, err := gopsutilmem.VirtualMemory()
	if err != nil {
		return HostStats{}, err
	}
	var cpuPercent float64
	if len(percents) > 0 {
		cpuPercent = percents[0]
	}
	return HostStats{
		CPUPercent:    cpuPercent,
		MemUsedBytes:  vm.Used,
		MemTotalBytes: vm.Total,
	}, nil
}
