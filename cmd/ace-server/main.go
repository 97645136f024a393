// Command ace-server runs the analysis correlation core behind its HTTP
// surface, wiring every pluggable subsystem from env vars. Structure
// follows the teacher's cmd/appserver/main.go: flags for local overrides,
// env vars as the production configuration path, in-memory backends when
// no DSN/address is configured, graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ace-core/ace/internal/alert"
	"github.com/ace-core/ace/internal/auth"
	"github.com/ace-core/ace/internal/blob"
	"github.com/ace-core/ace/internal/cache"
	"github.com/ace-core/ace/internal/config"
	"github.com/ace-core/ace/internal/core"
	"github.com/ace-core/ace/internal/events"
	"github.com/ace-core/ace/internal/health"
	"github.com/ace-core/ace/internal/lock"
	"github.com/ace-core/ace/internal/migrations"
	"github.com/ace-core/ace/internal/obslog"
	"github.com/ace-core/ace/internal/obsmetrics"
	"github.com/ace-core/ace/internal/queue"
	"github.com/ace-core/ace/internal/ratelimit"
	"github.com/ace-core/ace/internal/registry"
	"github.com/ace-core/ace/internal/sweeper"
	"github.com/ace-core/ace/internal/tracker"
	"github.com/ace-core/ace/internal/transport/httpserver"
	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides ACE_URI's port, defaults to :8443)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := obslog.New(obslog.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cfg.LogOutput,
	})

	listenAddr := strings.TrimSpace(*addr)
	if listenAddr == "" {
		listenAddr = cfg.ListenAddr()
	}

	var bus events.Bus = events.NewMemBus()
	var db *sql.DB
	if cfg.UsesPostgres() {
		var err error
		db, err = sql.Open("postgres", cfg.DBURL)
		if err != nil {
			log.Fatalf("ace-server: open database: %v", err)
		}
		defer db.Close()

		if err := migrations.Up(db); err != nil {
			log.Fatalf("ace-server: apply migrations: %v", err)
		}

		pgBus, err := events.NewPGBus(db, cfg.DBURL)
		if err != nil {
			log.WithError(err).Warn("ace-server: postgres event bus unavailable, falling back to in-process bus")
		} else {
			defer pgBus.Close()
			bus = pgBus
		}
	}

	var rdb *redis.Client
	if cfg.UsesRedis() {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr()})
	}

	reg := registry.New(bus)

	var queueManager *queue.Manager
	if rdb != nil {
		queueManager = queue.NewManager(func(amtName, version string) queue.Queue {
			return queue.NewRedisQueue(rdb, amtName+":"+version)
		})
	} else {
		queueManager = queue.NewManager(func(_, _ string) queue.Queue { return queue.NewMemQueue() })
	}

	var locker lock.Locker
	if rdb != nil {
		locker = lock.NewRedisLocker(rdb)
	} else {
		locker = lock.NewMemLocker()
	}

	var cacheImpl cache.Cache
	if rdb != nil {
		cacheImpl = cache.NewRedisCache(rdb)
	} else {
		cacheImpl = cache.NewMemCache(cache.DefaultConfig())
	}

	var roots tracker.RootTracker
	var requests tracker.RequestTracker
	var alertTracker tracker.AlertTracker
	if db != nil {
		roots = tracker.NewSQLRootTracker(db)
		requests = tracker.NewSQLRequestTracker(db)
		alertTracker = tracker.NewSQLAlertTracker(db)
	} else {
		roots = tracker.NewMemRootTracker()
		requests = tracker.NewMemRequestTracker()
		alertTracker = tracker.NewMemAlertTracker()
	}

	var blobs blob.Store
	switch {
	case strings.TrimSpace(cfg.AzureBlobAccountURL) != "":
		store, err := blob.NewAzureStore(cfg.AzureBlobAccountURL, cfg.AzureBlobContainer)
		if err != nil {
			log.Fatalf("ace-server: configure azure blob store: %v", err)
		}
		blobs = store
	case strings.TrimSpace(cfg.StorageRoot) != "":
		store, err := blob.NewFSStore(cfg.StorageRoot)
		if err != nil {
			log.Fatalf("ace-server: configure filesystem blob store: %v", err)
		}
		blobs = store
	default:
		blobs = blob.NewMemStore()
	}

	alertSink := alert.NewTrackerSink(alertTracker, bus)
	metrics := obsmetrics.New(prometheus.DefaultRegisterer)

	ace := core.New(reg, queueManager, locker, cacheImpl, roots, requests, alertSink, bus,
		core.WithLogger(log), core.WithMetrics(metrics), core.WithRootLockWait(cfg.RootLockTimeout))

	limiter := ratelimit.New(ratelimit.DefaultConfig())
	checker := health.NewChecker(cfg.Version, log)
	if db != nil {
		checker.RegisterCheck("database", func() error { return db.Ping() })
	}

	sweep := sweeper.New(sweeper.DefaultConfig(), limiter, reg, queueManager, roots, metrics, log)
	if err := sweep.Start(); err != nil {
		log.Fatalf("ace-server: start sweeper: %v", err)
	}
	defer sweep.Stop()

	var adminSecret []byte
	if cfg.AdminPassword != "" {
		adminSecret = []byte(auth.HashToken(cfg.AdminPassword))
	}

	server := httpserver.New(httpserver.Config{
		Addr:          listenAddr,
		APIKey:        cfg.APIKey,
		AdminPassword: cfg.AdminPassword,
		AdminSecret:   adminSecret,
	}, ace, blobs, bus, limiter, checker, log)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("ace-server: shutdown signal received")
		cancel()
	}()

	log.Infof("ace-server: listening on %s", listenAddr)
	if err := server.Start(ctx); err != nil {
		log.Fatalf("ace-server: server error: %v", err)
	}
}
