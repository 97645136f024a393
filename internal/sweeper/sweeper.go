// Package sweeper runs the core's periodic background maintenance —
// rate-limit bucket eviction and gauge sampling — on a cron schedule,
// adapted from the teacher's services/automation scheduler (there a
// ticker loop driving on-chain trigger checks; here a robfig/cron
// schedule driving housekeeping that has no natural request to hang
// off of). Per-request lease reaping lives in internal/queue itself
// (each Get call reaps its own expired leases lazily), so it is not
// duplicated here.
package sweeper

import (
	"context"

	"github.com/ace-core/ace/internal/obslog"
	"github.com/ace-core/ace/internal/obsmetrics"
	"github.com/ace-core/ace/internal/queue"
	"github.com/ace-core/ace/internal/ratelimit"
	"github.com/ace-core/ace/internal/registry"
	"github.com/ace-core/ace/internal/tracker"
	"github.com/robfig/cron/v3"
)

// Config controls what the sweeper does and how often.
type Config struct {
	// EvictIdleKeysSchedule is a cron spec for dropping idle rate-limit
	// buckets. Empty disables the job.
	EvictIdleKeysSchedule string
	// SampleGaugesSchedule is a cron spec for recomputing the queue-depth
	// and outstanding-root gauges. Empty disables the job.
	SampleGaugesSchedule string
}

// DefaultConfig runs both jobs once a minute.
func DefaultConfig() Config {
	return Config{
		EvictIdleKeysSchedule: "@every 1m",
		SampleGaugesSchedule:  "@every 1m",
	}
}

// Sweeper owns the cron scheduler and the subsystems it samples.
type Sweeper struct {
	cfg     Config
	cron    *cron.Cron
	limiter *ratelimit.Limiter
	reg     *registry.Registry
	queues  *queue.Manager
	roots   tracker.RootTracker
	metrics *obsmetrics.Metrics
	log     *obslog.Logger
}

// New builds a Sweeper. limiter and metrics may be nil, in which case
// the corresponding job is skipped even if its schedule is set.
func New(cfg Config, limiter *ratelimit.Limiter, reg *registry.Registry, queues *queue.Manager, roots tracker.RootTracker, metrics *obsmetrics.Metrics, log *obslog.Logger) *Sweeper {
	if log == nil {
		log = obslog.NewDefault()
	}
	return &Sweeper{
		cfg:     cfg,
		cron:    cron.New(),
		limiter: limiter,
		reg:     reg,
		queues:  queues,
		roots:   roots,
		metrics: metrics,
		log:     log,
	}
}

// Start schedules the configured jobs and begins running them in the
// background. Call Stop to drain in-flight runs and halt the scheduler.
func (s *Sweeper) Start() error {
	if s.cfg.EvictIdleKeysSchedule != "" && s.limiter != nil {
		if _, err := s.cron.AddFunc(s.cfg.EvictIdleKeysSchedule, s.evictIdleKeys); err != nil {
			return err
		}
	}
	if s.cfg.SampleGaugesSchedule != "" && s.metrics != nil {
		if _, err := s.cron.AddFunc(s.cfg.SampleGaugesSchedule, s.sampleGauges); err != nil {
			return err
		}
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) evictIdleKeys() {
	dropped := s.limiter.EvictIdle()
	if dropped > 0 {
		s.log.WithField("dropped", dropped).Info("sweeper: evicted idle rate-limit buckets")
	}
}

func (s *Sweeper) sampleGauges() {
	ctx := context.Background()

	for _, amt := range s.reg.List() {
		q := s.queues.Current(amt.Name)
		if q == nil {
			continue
		}
		size, err := q.Size(ctx)
		if err != nil {
			s.log.WithField("amt", amt.Name).WithError(err).Warn("sweeper: queue size failed")
			continue
		}
		s.metrics.QueueDepth.WithLabelValues(amt.Name).Set(float64(size))
	}

	ids, err := s.roots.List(ctx)
	if err != nil {
		s.log.WithError(err).Warn("sweeper: list roots failed")
		return
	}
	outstanding := 0
	for _, id := range ids {
		root, ok, err := s.roots.Get(ctx, id)
		if err != nil || !ok {
			continue
		}
		if len(root.OutstandingRequests) > 0 {
			outstanding++
		}
	}
	s.metrics.OutstandingRootCount.Set(float64(outstanding))
}
