// Package httpserver exposes the core over HTTP (spec §6/§4.9): the
// analysis surface (submit roots, post results, lease work), the module
// registry admin surface, the blob store, and an event feed. Routing and
// middleware chaining follow the teacher's cmd/gateway main.go (mux
// router, logging/recovery middleware, graceful shutdown), trimmed to
// the core's single bearer-key + admin-JWT auth model instead of the
// gateway's wallet/OAuth surface.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ace-core/ace/internal/aceerr"
	"github.com/ace-core/ace/internal/auth"
	"github.com/ace-core/ace/internal/blob"
	"github.com/ace-core/ace/internal/core"
	"github.com/ace-core/ace/internal/events"
	"github.com/ace-core/ace/internal/health"
	"github.com/ace-core/ace/internal/model"
	"github.com/ace-core/ace/internal/obslog"
	"github.com/ace-core/ace/internal/ratelimit"
	"github.com/ace-core/ace/internal/wire"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// maxBlobBytes caps a single PUT /blob body, so a malicious or buggy
// module instance cannot exhaust memory uploading an unbounded blob.
const maxBlobBytes = 64 << 20

// wsUpgrader upgrades /events/ws connections. Origin checking is left to
// the API-key middleware in front of it rather than a same-origin check,
// since callers are module managers and tools, not browsers.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Config configures the HTTP surface.
type Config struct {
	Addr          string
	APIKey        string // ACE_API_KEY, empty disables the check
	AdminPassword string // ACE_ADMIN_PASSWORD, empty disables the admin surface
	AdminSecret   []byte // signs admin JWTs; required if AdminPassword is set
}

// Server wires core.Core behind an HTTP API.
type Server struct {
	cfg     Config
	core    *core.Core
	blobs   blob.Store
	bus     events.Bus
	limiter *ratelimit.Limiter
	checker *health.Checker
	log     *obslog.Logger
	http    *http.Server
}

// New builds a Server. limiter and checker may be nil to disable rate
// limiting or the /health surface respectively.
func New(cfg Config, c *core.Core, blobs blob.Store, bus events.Bus, limiter *ratelimit.Limiter, checker *health.Checker, log *obslog.Logger) *Server {
	if log == nil {
		log = obslog.NewDefault()
	}
	s := &Server{cfg: cfg, core: c, blobs: blobs, bus: bus, limiter: limiter, checker: checker, log: log}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s
}

// Handler returns the server's routed http.Handler, e.g. for embedding
// in an httptest.Server in tests of remote-facade clients.
func (s *Server) Handler() http.Handler {
	return s.router()
}

func (s *Server) router() http.Handler {
	r := mux.NewRouter()
	r.Use(loggingMiddleware(s.log))
	r.Use(recoveryMiddleware(s.log))

	if s.checker != nil {
		r.HandleFunc("/health", s.checker.Handler()).Methods(http.MethodGet)
		r.HandleFunc("/live", health.LivenessHandler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/").Subrouter()
	api.Use(auth.APIKeyMiddleware(s.cfg.APIKey))
	if s.limiter != nil {
		api.Use(s.rateLimitMiddleware)
	}

	api.HandleFunc("/analysis/root", s.handleSubmitRoot).Methods(http.MethodPost)
	api.HandleFunc("/analysis/root/{uuid}", s.handleGetRoot).Methods(http.MethodGet)
	api.HandleFunc("/analysis/result", s.handlePostResult).Methods(http.MethodPost)
	api.HandleFunc("/work/{amt_name}/{amt_version}", s.handleLeaseNext).Methods(http.MethodGet)
	api.HandleFunc("/module/type/{name}", s.handleGetModuleType).Methods(http.MethodGet)
	api.HandleFunc("/blob", s.handlePutBlob).Methods(http.MethodPost)
	api.HandleFunc("/blob/{sha256}", s.handleGetBlob).Methods(http.MethodGet)
	api.HandleFunc("/admin/token", s.handleIssueAdminToken).Methods(http.MethodPost)
	if s.bus != nil {
		api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
		api.HandleFunc("/events/ws", s.handleEventsWS).Methods(http.MethodGet)
	}

	admin := r.PathPrefix("/").Subrouter()
	admin.Use(auth.AdminMiddleware(s.cfg.AdminSecret))
	admin.HandleFunc("/module/type", s.handleRegisterModuleType).Methods(http.MethodPost)
	admin.HandleFunc("/module/type/{name}", s.handleUnregisterModuleType).Methods(http.MethodDelete)

	return r
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Authorization")
		if key == "" {
			key = r.RemoteAddr
		}
		if !s.limiter.Allow(key) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins serving and blocks until the context is cancelled, at
// which point it shuts the server down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleSubmitRoot(w http.ResponseWriter, r *http.Request) {
	var root model.RootAnalysis
	if !decodeJSON(w, r, &root) {
		return
	}
	tracked, err := s.core.SubmitRoot(r.Context(), &root)
	if !writeCoreResult(w, tracked, err) {
		return
	}
}

func (s *Server) handleGetRoot(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]
	root, found, err := s.core.GetRoot(r.Context(), uuid)
	if err != nil {
		writeAceErr(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "root not found")
		return
	}
	writeJSON(w, http.StatusOK, root)
}

func (s *Server) handlePostResult(w http.ResponseWriter, r *http.Request) {
	var req model.AnalysisRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	tracked, err := s.core.PostResult(r.Context(), &req)
	if !writeCoreResult(w, tracked, err) {
		return
	}
}

func (s *Server) handleLeaseNext(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner query parameter is required")
		return
	}
	visibility := 5 * time.Minute
	if raw := r.URL.Query().Get("visibility_timeout_seconds"); raw != "" {
		if d, err := time.ParseDuration(raw + "s"); err == nil {
			visibility = d
		}
	}
	req, err := s.core.LeaseNext(r.Context(), vars["amt_name"], vars["amt_version"], owner, visibility)
	if err != nil {
		writeAceErr(w, err)
		return
	}
	if req == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleGetModuleType(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	amt, ok := s.core.Registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "module type not found")
		return
	}
	writeJSON(w, http.StatusOK, amt)
}

func (s *Server) handleRegisterModuleType(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBlobBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read failed")
		return
	}

	var amt model.AnalysisModuleType
	if err := json.Unmarshal(body, &amt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if keys := wire.ExtendedCacheKeys(body); len(keys) > 0 {
		s.log.WithField("amt", amt.Name).Debugf("httpserver: registering with %d extended cache keys", len(keys))
	}

	s.core.RegisterModuleType(&amt)
	writeJSON(w, http.StatusOK, &amt)
}

func (s *Server) handleUnregisterModuleType(w http.ResponseWriter, r *http.Request) {
	s.core.UnregisterModuleType(mux.Vars(r)["name"])
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePutBlob(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBlobBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read failed")
		return
	}
	if len(body) > maxBlobBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "blob exceeds maximum size")
		return
	}
	handle, err := s.blobs.Put(r.Context(), body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "blob store failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sha256": handle})
}

func (s *Server) handleGetBlob(w http.ResponseWriter, r *http.Request) {
	handle := mux.Vars(r)["sha256"]
	data, ok, err := s.blobs.Get(r.Context(), handle)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "blob store failed")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "blob not found")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (s *Server) handleIssueAdminToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	token, err := auth.IssueAdminToken(body.Password, s.cfg.AdminPassword, s.cfg.AdminSecret)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid admin password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// handleEvents streams every event on the requested topic as
// server-sent events until the client disconnects. The underlying
// events.Bus has no unsubscribe, so the registered handler keeps a
// closed-flag check and becomes a permanent no-op once the connection
// ends rather than a leaked active write.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		writeError(w, http.StatusBadRequest, "topic query parameter is required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	type envelope struct {
		closed atomic.Bool
		ch     chan interface{}
	}
	env := &envelope{ch: make(chan interface{}, 64)}
	s.bus.Subscribe(topic, func(_ string, payload interface{}) {
		if env.closed.Load() {
			return
		}
		select {
		case env.ch <- payload:
		default:
			s.log.WithField("topic", topic).Warn("httpserver: event subscriber buffer full, dropping event")
		}
	})

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			env.closed.Store(true)
			return
		case payload := <-env.ch:
			data, err := json.Marshal(payload)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", topic, data)
			flusher.Flush()
		}
	}
}

// handleEventsWS is a websocket alternative to handleEvents for callers
// that prefer a persistent bidirectional connection over SSE's
// one-way, text-only stream. Messages carry the same JSON payload.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		writeError(w, http.StatusBadRequest, "topic query parameter is required")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("httpserver: websocket upgrade failed")
		return
	}
	defer conn.Close()

	type envelope struct {
		closed atomic.Bool
		ch     chan interface{}
	}
	env := &envelope{ch: make(chan interface{}, 64)}
	s.bus.Subscribe(topic, func(_ string, payload interface{}) {
		if env.closed.Load() {
			return
		}
		select {
		case env.ch <- payload:
		default:
			s.log.WithField("topic", topic).Warn("httpserver: event subscriber buffer full, dropping event")
		}
	})

	// Drain client-initiated control frames (pings/close) on their own
	// goroutine; this connection never expects application reads.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				env.closed.Store(true)
				return
			}
		}
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			env.closed.Store(true)
			return
		case payload := <-env.ch:
			if env.closed.Load() {
				return
			}
			if err := conn.WriteJSON(payload); err != nil {
				env.closed.Store(true)
				return
			}
		}
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeCoreResult(w http.ResponseWriter, root *model.RootAnalysis, err error) bool {
	if err != nil {
		writeAceErr(w, err)
		return false
	}
	writeJSON(w, http.StatusOK, root)
	return true
}

func writeAceErr(w http.ResponseWriter, err error) {
	var aerr *aceerr.Error
	if errors.As(err, &aerr) {
		writeError(w, aerr.HTTPStatus(), aerr.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
