// Package core implements the request processor (spec §4.2), the
// centerpiece that drives roots and observables through registered
// analysis modules and absorbs their results. Everything else
// (registry, queues, locking, cache, trackers, events, alert sink) is
// wired here behind its pluggable contract.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ace-core/ace/internal/aceerr"
	"github.com/ace-core/ace/internal/alert"
	"github.com/ace-core/ace/internal/cache"
	"github.com/ace-core/ace/internal/cachekey"
	"github.com/ace-core/ace/internal/events"
	"github.com/ace-core/ace/internal/lock"
	"github.com/ace-core/ace/internal/model"
	"github.com/ace-core/ace/internal/obslog"
	"github.com/ace-core/ace/internal/obsmetrics"
	"github.com/ace-core/ace/internal/queue"
	"github.com/ace-core/ace/internal/registry"
	"github.com/ace-core/ace/internal/tracker"
	"github.com/google/uuid"
)

// maxDispatchPasses bounds the cache-replay fixed-point loop in
// dispatch: a cache hit can introduce observables that themselves have
// cached results, but this cannot recurse forever in practice, so a
// generous cap guards against a pathological cache cycle.
const maxDispatchPasses = 25

// rootLockLeaseSec is how long a root lock is held once acquired,
// independent of how long the caller is willing to wait to acquire it
// (WithRootLockWait, fed from Config.RootLockTimeout by cmd/ace-server).
// The critical section itself never blocks on
// I/O to an external system other than the pluggable subsystems, so a
// generous fixed lease comfortably covers it.
const rootLockLeaseSec = 30

// Core wires together every subsystem contract from spec §4 and exposes
// the request-processor operations as a single facade, suitable for
// in-process use (tests, CLI) or for a transport layer to sit in front
// of (spec §4.9).
type Core struct {
	Registry *registry.Registry
	Queues   *queue.Manager
	Locker   lock.Locker
	Cache    cache.Cache
	Roots    tracker.RootTracker
	Requests tracker.RequestTracker
	Alerts   alert.Sink
	Bus      events.Bus

	Log     *obslog.Logger
	Metrics *obsmetrics.Metrics

	rootLockWaitSec int
	ownerPrefix     string
}

// Option configures a Core at construction.
type Option func(*Core)

// WithRootLockWait overrides how long ProcessAnalysisRequest waits to
// acquire a root lock before surfacing a timeout error.
func WithRootLockWait(d time.Duration) Option {
	return func(c *Core) {
		c.rootLockWaitSec = int(d.Seconds())
		if c.rootLockWaitSec < 1 {
			c.rootLockWaitSec = 1
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(l *obslog.Logger) Option {
	return func(c *Core) { c.Log = l }
}

// WithMetrics attaches a Prometheus metrics handle. Without it, Core
// runs with metrics disabled (every recording site is nil-checked).
func WithMetrics(m *obsmetrics.Metrics) Option {
	return func(c *Core) { c.Metrics = m }
}

// New builds a Core from its subsystem contracts. bus may be nil (no
// event fan-out). alerts may be nil (detections are tracked in the root
// but never escalated) — callers normally pass alert.NewTrackerSink.
func New(reg *registry.Registry, queues *queue.Manager, locker lock.Locker, c cache.Cache, roots tracker.RootTracker, requests tracker.RequestTracker, alerts alert.Sink, bus events.Bus, opts ...Option) *Core {
	host, _ := os.Hostname()
	core := &Core{
		Registry:        reg,
		Queues:          queues,
		Locker:          locker,
		Cache:           c,
		Roots:           roots,
		Requests:        requests,
		Alerts:          alerts,
		Bus:             bus,
		Log:             obslog.NewDefault(),
		rootLockWaitSec: 30,
		ownerPrefix:     fmt.Sprintf("%s:%d", host, os.Getpid()),
	}
	for _, opt := range opts {
		opt(core)
	}
	return core
}

func (c *Core) emit(topic string, payload interface{}) {
	if c.Bus != nil {
		c.Bus.Emit(topic, payload)
	}
}

func (c *Core) lockOwner() string {
	return c.ownerPrefix + ":" + uuid.NewString()
}

// SubmitRoot submits a fresh or updated RootAnalysis (spec §4.2 steps
// 2-3 entry point) and returns the tracked root after dispatch.
func (c *Core) SubmitRoot(ctx context.Context, root *model.RootAnalysis) (*model.RootAnalysis, error) {
	if root == nil || root.UUID == "" {
		return nil, aceerr.ValidationFailed("root.uuid", "must be non-empty")
	}
	req := &model.AnalysisRequest{
		ID:        uuid.NewString(),
		RootUUID:  root.UUID,
		Root:      root,
		State:     model.RequestQueued,
		CreatedAt: time.Now().UTC(),
	}
	return c.processAnalysisRequest(ctx, req)
}

// PostResult submits a module's returned observable-analysis result
// (spec §4.2 step 4 entry point). req must carry RootBefore, Root,
// AMTName, AMTVersion and ObservableKey as leased via LeaseNext. On
// success the originating queue entry is acknowledged.
func (c *Core) PostResult(ctx context.Context, req *model.AnalysisRequest) (*model.RootAnalysis, error) {
	if req.Root == nil || req.RootBefore == nil {
		return nil, aceerr.ValidationFailed("root", "result requests require root_before and root")
	}
	tracked, err := c.processAnalysisRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	if q := c.Queues.QueueForVersion(req.AMTName, req.AMTVersion); q != nil {
		if err := q.Ack(ctx, req.ID); err != nil && !aceerr.Is(err, aceerr.KindNotFound) {
			c.Log.ForRequest(req.ID, req.AMTName).WithError(err).Warn("core: ack after result failed")
		}
	}
	_ = c.Requests.Delete(ctx, req.ID)
	return tracked, nil
}

// LeaseNext leases the next visible request for (amtName, amtVersion),
// or returns (nil, nil) if the version is stale or the queue is empty
// (spec §4.3: "the core returns a leased request only if the version
// matches, else None").
func (c *Core) LeaseNext(ctx context.Context, amtName, amtVersion, owner string, visibilityTimeout time.Duration) (*model.AnalysisRequest, error) {
	q := c.Queues.QueueForVersion(amtName, amtVersion)
	if q == nil {
		return nil, nil
	}
	return q.Get(ctx, owner, visibilityTimeout)
}

// GetRoot returns the tracked root for rootUUID.
func (c *Core) GetRoot(ctx context.Context, rootUUID string) (*model.RootAnalysis, bool, error) {
	return c.Roots.Get(ctx, rootUUID)
}

// RegisterModuleType registers or updates amt, rebinding its queue on a
// version change (spec §4.3).
func (c *Core) RegisterModuleType(amt *model.AnalysisModuleType) {
	_, versionChanged := c.Registry.Register(amt)
	if versionChanged {
		c.Queues.Rebind(amt.Name, amt.Version)
	} else {
		c.Queues.Bind(amt.Name, amt.Version)
	}
}

// UnregisterModuleType drops name's registration.
func (c *Core) UnregisterModuleType(name string) {
	c.Registry.Unregister(name)
}

// processAnalysisRequest is the critical section described by spec §4.2
// steps 1-8. It runs entirely under req.RootUUID's root lock.
func (c *Core) processAnalysisRequest(ctx context.Context, req *model.AnalysisRequest) (*model.RootAnalysis, error) {
	lockName := "root:" + req.RootUUID
	owner := c.lockOwner()

	waitStart := time.Now()
	acquired, err := c.Locker.Acquire(ctx, lockName, owner, rootLockLeaseSec, c.rootLockWaitSec)
	if c.Metrics != nil {
		c.Metrics.RootLockWaitSeconds.Observe(time.Since(waitStart).Seconds())
	}
	if err != nil {
		if c.Metrics != nil && aceerr.Is(err, aceerr.KindDeadlock) {
			c.Metrics.RootLockDeadlocks.Inc()
		}
		return nil, err
	}
	if !acquired {
		return nil, aceerr.Timeout("root_lock:" + req.RootUUID)
	}
	defer func() {
		if err := c.Locker.Release(lockName, owner); err != nil {
			c.Log.ForRoot(req.RootUUID).WithError(err).Warn("core: release root lock failed")
		}
	}()

	log := c.Log.ForRoot(req.RootUUID)

	tracked, found, err := c.Roots.Get(ctx, req.RootUUID)
	if err != nil {
		return nil, fmt.Errorf("core: load root: %w", err)
	}

	grew := false

	switch {
	case !found:
		// Step 2: brand-new root.
		tracked = req.Root.Clone()
		log.Info("core: new root")
		c.emit(events.TopicRootNew, events.RootPayload{RootUUID: req.RootUUID})
		if c.Metrics != nil {
			c.Metrics.RootsSubmittedTotal.WithLabelValues("new").Inc()
		}

	case !req.IsResult():
		// Step 3: fresh submission merged into an already-known root.
		if tracked.ApplyMerge(req.Root) {
			grew = true
		}
		log.Info("core: root re-submitted")
		c.emit(events.TopicRootModified, events.RootPayload{RootUUID: req.RootUUID})
		if c.Metrics != nil {
			c.Metrics.RootsSubmittedTotal.WithLabelValues("resubmission").Inc()
		}

	default:
		// Step 4: a posted result.
		if !c.Registry.IsCurrentVersion(req.AMTName, req.AMTVersion) {
			log.WithField("amt", req.AMTName).Info("core: dropping result for stale module version")
			if c.Metrics != nil {
				c.Metrics.StaleResultsDropped.WithLabelValues(req.AMTName).Inc()
			}
			return tracked, nil
		}
		if tracked.ApplyDiffMerge(req.RootBefore, req.Root) {
			grew = true
		}
		delete(tracked.OutstandingRequests, req.ID)
		if obs, ok := tracked.FindObservable(req.ObservableKey); ok {
			delete(obs.OutstandingRequests, req.ID)
		}
		if amt, ok := c.Registry.Get(req.AMTName); ok && amt.CacheTTL != nil {
			c.cacheResult(req, amt)
		}
		if c.Metrics != nil {
			c.Metrics.RequestsResultsTotal.WithLabelValues(req.AMTName).Inc()
		}
	}

	if err := c.dispatch(ctx, tracked, &grew); err != nil {
		return nil, err
	}

	// Step 6.
	if grew && c.Alerts != nil {
		if err := c.Alerts.TrackAlert(ctx, tracked); err != nil {
			log.WithError(err).Warn("core: alert sink failed")
		} else if c.Metrics != nil {
			c.Metrics.AlertsTotal.Inc()
		}
	}

	// Step 7.
	if len(tracked.OutstandingRequests) == 0 && !tracked.Completed {
		tracked.Completed = true
		log.Info("core: root completed")
		c.emit(events.TopicRootCompleted, events.RootPayload{RootUUID: req.RootUUID})
		if c.Metrics != nil {
			c.Metrics.RootsCompletedTotal.Inc()
		}
	}

	if err := c.Roots.Put(ctx, tracked); err != nil {
		return nil, fmt.Errorf("core: persist root: %w", err)
	}
	return tracked, nil
}

// cacheResult stores the (root_before, root_after) pair under the cache
// key projected from the observable/AMT pair that produced req.
func (c *Core) cacheResult(req *model.AnalysisRequest, amt *model.AnalysisModuleType) {
	if c.Cache == nil {
		return
	}
	obs, ok := req.RootBefore.FindObservable(req.ObservableKey)
	if !ok {
		return
	}
	key := cachekey.Project(obs, amt)

	before, err := json.Marshal(req.RootBefore)
	if err != nil {
		return
	}
	after, err := json.Marshal(req.Root)
	if err != nil {
		return
	}
	_ = c.Cache.Put(key, cache.Pair{RootBefore: before, RootAfter: after, CreatedAt: time.Now().UTC()}, *amt.CacheTTL)
}

// dispatch implements spec §4.2 step 5: for every observable in tracked,
// for every matching, eligible AMT with no existing Analysis, either
// replay a cache hit in place or enqueue a fresh request. grew is
// updated in place if a cache replay adds detection points.
func (c *Core) dispatch(ctx context.Context, tracked *model.RootAnalysis, grew *bool) error {
	for pass := 0; pass < maxDispatchPasses; pass++ {
		keys := make([]string, 0, len(tracked.Observables))
		for key := range tracked.Observables {
			keys = append(keys, key)
		}

		observableCountBefore := len(tracked.Observables)

		for _, key := range keys {
			obs, ok := tracked.Observables[key]
			if !ok {
				continue // removed by an earlier cache replay this pass, shouldn't happen but stay defensive
			}
			for _, amt := range c.Registry.MatchingFor(obs) {
				if amt.CacheTTL != nil {
					if pair, ok := c.Cache.Get(cachekey.Project(obs, amt)); ok {
						if c.replayCacheHit(tracked, pair, grew) {
							if c.Metrics != nil {
								c.Metrics.CacheHitsTotal.WithLabelValues(amt.Name).Inc()
							}
							continue
						}
					}
					if c.Metrics != nil {
						c.Metrics.CacheMissesTotal.WithLabelValues(amt.Name).Inc()
					}
				}
				if err := c.enqueue(ctx, tracked, obs, amt); err != nil {
					return err
				}
			}
		}

		if len(tracked.Observables) == observableCountBefore {
			break // no new observables surfaced; fixed point reached
		}
	}
	return nil
}

// replayCacheHit applies a cached (before, after) pair as a diff-merge
// directly onto tracked, without a queue round-trip. Returns false (and
// does nothing) if the cached blobs fail to decode, so the caller falls
// back to a normal enqueue.
func (c *Core) replayCacheHit(tracked *model.RootAnalysis, pair cache.Pair, grew *bool) bool {
	var before, after model.RootAnalysis
	if err := json.Unmarshal(pair.RootBefore, &before); err != nil {
		return false
	}
	if err := json.Unmarshal(pair.RootAfter, &after); err != nil {
		return false
	}
	if tracked.ApplyDiffMerge(&before, &after) {
		*grew = true
	}
	return true
}

func (c *Core) enqueue(ctx context.Context, tracked *model.RootAnalysis, obs *model.Observable, amt *model.AnalysisModuleType) error {
	reqID := uuid.NewString()
	obs.Analyses[amt.Name] = model.NewAnalysis(amt.Name, amt.Version)
	obs.OutstandingRequests.Add(reqID)
	tracked.OutstandingRequests.Add(reqID)

	req := &model.AnalysisRequest{
		ID:            reqID,
		RootUUID:      tracked.UUID,
		ObservableKey: obs.Key().String(),
		AMTName:       amt.Name,
		AMTVersion:    amt.Version,
		RootBefore:    tracked.Clone(),
		State:         model.RequestQueued,
		CreatedAt:     time.Now().UTC(),
	}
	if err := c.Requests.Put(ctx, req); err != nil {
		return fmt.Errorf("core: track request: %w", err)
	}

	q := c.Queues.Bind(amt.Name, amt.Version)
	if err := q.Put(ctx, req); err != nil {
		return fmt.Errorf("core: enqueue request: %w", err)
	}

	c.emit(events.TopicRequestNew, events.RequestPayload{RequestID: reqID, RootUUID: tracked.UUID, AMTName: amt.Name})
	if c.Metrics != nil {
		c.Metrics.RequestsEnqueued.WithLabelValues(amt.Name).Inc()
	}
	return nil
}
