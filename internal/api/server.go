// Package api exposes the platform core over HTTP: task submission and
// inspection, plugin administration, cache control, and the operational
// surface (health, metrics, events).
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/auth"
	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/cache"
	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/events"
	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/history"
	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/orchestrator"
	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/plugin"
)

// TaskService is the orchestrator surface the API depends on.
type TaskService interface {
	Submit(ctx context.Context, req orchestrator.Request) (string, error)
	Await(ctx context.Context, id string, timeout time.Duration) (*orchestrator.Result, error)
	Cancel(id string) bool
	Get(id string) (*orchestrator.Result, orchestrator.State, bool)
	QueueDepth() int
}

// PluginAdmin is the registry surface for the admin endpoints.
type PluginAdmin interface {
	List() []plugin.Info
	Get(name string) (plugin.Info, bool)
	Enable(name string) error
	Disable(name string) error
	HotReload(ctx context.Context, m *plugin.Manifest) error
}

// CacheService is the cache surface for the admin endpoints.
type CacheService interface {
	Invalidate(ctx context.Context, pattern string) (int, error)
	Stats() cache.Stats
}

// HistoryReader looks up persisted task records for ids the orchestrator no
// longer holds in memory.
type HistoryReader interface {
	GetTask(ctx context.Context, id string) (*history.TaskRecord, []history.Attempt, error)
}

// Config holds API server configuration.
type Config struct {
	Listen string
	Tokens []auth.TokenConfig
	// MaxSyncWait bounds ?wait=true submissions.
	MaxSyncWait time.Duration
}

// Server is the HTTP API server.
type Server struct {
	config    Config
	tasks     TaskService
	plugins   PluginAdmin
	cache     CacheService
	history   HistoryReader
	hub       *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates an API server. history may be nil when persistence is off.
func New(config Config, tasks TaskService, plugins PluginAdmin, cacheSvc CacheService, hist HistoryReader, hub *events.Hub, logger *slog.Logger) *Server {
	if config.MaxSyncWait <= 0 {
		config.MaxSyncWait = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    config,
		tasks:     tasks,
		plugins:   plugins,
		cache:     cacheSvc,
		history:   hist,
		hub:       hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.config.MaxSyncWait + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Routes builds the HTTP router. Exposed for tests.
func (s *Server) Routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Protected API.
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.With(s.requireScopes("tasks:rw")).Post("/tasks", s.handleSubmitTask)
		r.With(s.requireScopes("tasks:ro", "tasks:rw")).Get("/tasks/{taskID}", s.handleGetTask)
		r.With(s.requireScopes("tasks:rw")).Delete("/tasks/{taskID}", s.handleCancelTask)

		r.With(s.requireScopes("plugins:ro", "plugins:rw")).Get("/plugins", s.handleListPlugins)
		r.With(s.requireScopes("plugins:ro", "plugins:rw")).Get("/plugins/{name}", s.handleGetPlugin)
		r.With(s.requireScopes("plugins:rw")).Post("/plugins/{name}/enable", s.handleEnablePlugin)
		r.With(s.requireScopes("plugins:rw")).Post("/plugins/{name}/disable", s.handleDisablePlugin)
		r.With(s.requireScopes("plugins:rw")).Post("/plugins/reload", s.handleReloadPlugin)

		r.With(s.requireScopes("cache:rw")).Post("/cache/invalidate", s.handleInvalidateCache)
		r.With(s.requireScopes("cache:ro", "cache:rw")).Get("/cache/stats", s.handleCacheStats)

		r.With(s.requireScopes("events:ro")).Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		principal, ok := auth.Authenticate(token, s.config.Tokens)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid API token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := auth.PrincipalFromContext(r.Context())
			if !auth.HasAnyScope(principal, scopes...) {
				s.writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
