// Package http serves the expense tracker as a JSON API. Each bearer token
// addresses one client session with its own signed-in user and projection.
package http

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"tally/internal/cache"
	"tally/internal/identity"
	"tally/internal/log"
	"tally/internal/middleware/ratelimit"
	"tally/internal/middleware/security"
	"tally/internal/middleware/trace"
	"tally/internal/services"
	"tally/internal/store"
)

type sessionKey struct{}

// Config holds the listener and session limits of the API.
type Config struct {
	Addr            string
	IdleTimeout     time.Duration
	MaxSessions     int
	AuthRateLimit   int
	CleanupInterval time.Duration
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Data      store.DataStore
	Profiles  store.ProfileStore
	Directory *identity.Directory
	Federated identity.FederatedProvider
	Logger    *log.Logger
	Now       func() time.Time
}

type Server struct {
	http.Server
	sessions *SessionRegistry
	caches   *cache.Manager
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	logger   *log.Logger
	now      func() time.Time
	started  time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and returns a ready-to-run server. Call Shutdown
// to stop the background sweepers and close open sessions.
func NewServer(cfg Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default(log.ComponentHTTP)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}

	s := &Server{
		sessions: NewSessionRegistry(RegistryConfig{
			Directory:   deps.Directory,
			Federated:   deps.Federated,
			Data:        deps.Data,
			Profiles:    deps.Profiles,
			MaxSessions: cfg.MaxSessions,
			IdleTimeout: cfg.IdleTimeout,
			Logger:      logger.WithComponent(log.ComponentSession),
			Now:         now,
		}),
		caches:   cache.NewManager(logger.Logger.With(log.FieldComponent, log.ComponentCache)),
		limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.AuthRateLimit, Now: now}),
		detector: security.NewDetector(),
		logger:   logger.WithComponent(log.ComponentHTTP),
		now:      now,
		started:  now(),
	}
	s.tracer = trace.NewMiddleware(s.logger, s.detector.ExtractClientIP)
	s.sessions.Register(s.caches)
	s.caches.StartCleanup(cfg.CleanupInterval)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(s.tracer.Middleware)
	r.Use(s.detector.Middleware(s.logger.WithComponent(log.ComponentSecurity)))
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found", RequestID: requestID(r)})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed", RequestID: requestID(r)})
	})

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(s.limiter.Middleware(s.detector.ExtractClientIP, s.rateLimited))
				r.Post("/signup", s.handleSignUp)
				r.Post("/signin", s.handleSignIn)
				r.Post("/federated", s.handleFederated)
			})
			r.With(s.requireSession).Post("/signout", s.handleSignOut)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Get("/me", s.handleMe)
			r.Get("/projection", s.handleProjection)
			r.Put("/filter", s.handleSetFilter)
			r.Get("/analytics", s.handleAnalytics)

			r.Get("/expenses", s.handleListExpenses)
			r.Post("/expenses", s.handleAddExpense)
			r.Put("/expenses/{id}", s.handleUpdateExpense)
			r.Delete("/expenses/{id}", s.handleRemoveExpense)

			r.Get("/categories", s.handleListCategories)
			r.Post("/categories", s.handleAddCategory)
			r.Patch("/categories/{id}/budget", s.handleUpdateBudget)
			r.Delete("/categories/{id}", s.handleRemoveCategory)
		})
	})
	return r
}

// requireSession resolves the bearer token into a session.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		session, ok := s.sessions.Lookup(token)
		if !ok {
			s.writeError(w, r, "authenticate", errMissingToken)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey{}, tokenSession{token: token, session: session})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type tokenSession struct {
	token   string
	session *services.Session
}

func sessionFrom(r *http.Request) tokenSession {
	ts, _ := r.Context().Value(sessionKey{}).(tokenSession)
	return ts
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func requestID(r *http.Request) string {
	return trace.GetRequestID(r.Context())
}

// Sessions exposes the registry, mostly for tests and health reporting.
func (s *Server) Sessions() *SessionRegistry {
	return s.sessions
}

// Shutdown stops accepting requests, then closes the sweepers and every open session.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		shutdownErr = s.Server.Shutdown(ctx)
		s.caches.Stop()
		s.caches.Wait()
		s.limiter.Stop()
		closed := s.sessions.Close()
		s.logger.InfoContext(ctx, "HTTP server stopped", "sessions_closed", closed)
	})
	return shutdownErr
}
