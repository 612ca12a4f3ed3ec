// Package server assembles the HTTP surface: the admission middleware in
// front of the protected routes, the admin API for health and configuration
// control, and an unauthenticated liveness probe.
package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/byteness/throttle/abuse"
	"github.com/byteness/throttle/config"
	"github.com/byteness/throttle/health"
	"github.com/byteness/throttle/logging"
	"github.com/byteness/throttle/middleware"
	"github.com/byteness/throttle/ratelimit"
	"github.com/byteness/throttle/store"
)

// AdminKeyHeader carries the admin credential.
const AdminKeyHeader = "X-Admin-Key"

// Server is the assembled HTTP service.
type Server struct {
	manager    *config.Manager
	store      *store.Client
	health     *health.Service
	suppressor *abuse.Suppressor
	logger     logging.Logger

	adminKey string
	httpSrv  *http.Server
}

// Options configures the assembled server.
type Options struct {
	Manager *config.Manager
	Store   *store.Client
	Limiter ratelimit.Limiter
	Health  *health.Service
	Logger  logging.Logger

	// Listen overrides the configured listen address when non-empty.
	Listen string
}

// New assembles the server. When no admin key is configured one is
// generated and logged once at startup, so the admin surface is never
// unauthenticated.
func New(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	snap := opts.Manager.Snapshot()
	serverCfg := snap.Server()

	adminKey := serverCfg.AdminKey
	if adminKey == "" {
		generated, err := generateAdminKey()
		if err != nil {
			return nil, fmt.Errorf("generating admin key: %w", err)
		}
		adminKey = generated
		logger.LogEvent(logging.EventLogEntry{
			Timestamp: logging.Now(),
			EventType: "admin_key_generated",
			Component: "server",
			Message:   "no admin key configured; generated one for this process",
			Detail:    map[string]string{"admin_key": adminKey},
		})
	}

	sup := abuse.NewSuppressor(opts.Store, abuse.PolicyFrom(snap.Abuse()), logger)

	s := &Server{
		manager:    opts.Manager,
		store:      opts.Store,
		health:     opts.Health,
		suppressor: sup,
		logger:     logger,
		adminKey:   adminKey,
	}

	rl := middleware.New(opts.Manager, opts.Limiter, opts.Health, sup, logger)

	listen := opts.Listen
	if listen == "" {
		listen = serverCfg.Listen
	}
	s.httpSrv = &http.Server{
		Addr:              listen,
		Handler:           s.routes(rl),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// routes builds the router: liveness and admin outside the admission
// middleware, demo API behind it.
func (s *Server) routes(rl *middleware.RateLimiter) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleLiveness)

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.withAdminCheck)
		r.Get("/health", s.handleHealthGet)
		r.Post("/health", s.handleHealthSet)
		r.Get("/status", s.handleStatus)
		r.Get("/users/{id}", s.handleUserGet)
		r.Put("/users/{id}", s.handleUserPut)
		r.Delete("/users/{id}", s.handleUserDelete)
		r.Put("/keys/{credential}", s.handleKeyPut)
		r.Delete("/keys/{credential}", s.handleKeyDelete)
		r.Delete("/blocked/{addr}", s.handleUnblock)
		r.Post("/config/save", s.handleConfigSave)
		r.Post("/config/reload", s.handleConfigReload)
	})

	r.Group(func(r chi.Router) {
		r.Use(rl.Handler)
		r.Get("/api/ping", s.handlePing)
		r.Get("/api/data", s.handleData)
	})

	return r
}

// withAdminCheck guards the admin routes with a constant-time key
// comparison so response timing does not leak key bytes.
func (s *Server) withAdminCheck(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if subtle.ConstantTimeCompare([]byte(r.Header.Get(AdminKeyHeader)), []byte(s.adminKey)) != 1 {
			writeJSON(w, http.StatusForbidden, map[string]any{
				"error":   "FORBIDDEN",
				"message": "invalid admin key",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func generateAdminKey() (string, error) {
	b := make([]byte, 30)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpSrv.Addr
}

// Handler exposes the assembled router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully with the given timeout.
func (s *Server) ListenAndServe(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()

	s.logger.LogEvent(logging.EventLogEntry{
		Timestamp: logging.Now(),
		EventType: "server_started",
		Component: "server",
		Message:   "listening on " + s.httpSrv.Addr,
	})

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return s.httpSrv.Close()
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// handleLiveness answers process liveness. It never touches the store: a
// backend outage degrades decisions but must not fail the probe.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"message": "pong"})
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"data":      []string{"alpha", "beta", "gamma"},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleHealthGet returns the stored health record, bypassing the cache so
// operators see the live state.
func (s *Server) handleHealthGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.health.GetRecord(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":   "STORE_UNAVAILABLE",
			"message": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleHealthSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status     string `json:"status"`
		TTLSeconds int    `json:"ttl_seconds"`
		UpdatedBy  string `json:"updated_by"`
		Reason     string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "BAD_REQUEST",
			"message": "invalid JSON body",
		})
		return
	}

	status := health.Status(req.Status)
	if !status.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "BAD_REQUEST",
			"message": fmt.Sprintf("status must be %s or %s", health.StatusNormal, health.StatusDegraded),
		})
		return
	}

	rec, err := s.health.Set(r.Context(), status, req.UpdatedBy, req.Reason,
		time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":   "HEALTH_SET_FAILED",
			"message": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleStatus reports operational state: breaker, pool, snapshot counts,
// and a store ping.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.manager.Snapshot()
	tiers, users, keys := snap.Counts()

	writeJSON(w, http.StatusOK, map[string]any{
		"store": map[string]any{
			"reachable":     s.store.Ping(r.Context()),
			"breaker_state": s.store.State(),
			"pool":          s.store.PoolStats(),
		},
		"config": map[string]any{
			"path":      s.manager.Path(),
			"loaded_at": snap.LoadedAt().UTC().Format(time.RFC3339),
			"tiers":     tiers,
			"users":     users,
			"keys":      keys,
		},
	})
}
