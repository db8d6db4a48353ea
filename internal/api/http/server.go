package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	appAuth "github.com/potluck-hub/potluck-hub/internal/application/auth"
	"github.com/potluck-hub/potluck-hub/internal/application/csrf"
	"github.com/potluck-hub/potluck-hub/internal/infrastructure/metrics"
	"github.com/potluck-hub/potluck-hub/internal/infrastructure/telemetry"
)

const (
	defaultLoginRateLimit = 20
	requestTimeout        = 30 * time.Second
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	authSvc           *appAuth.Service
	state             *csrf.Manager
	metrics           *metrics.Metrics
	healthCheck       func(context.Context) error
	cookieSecure      bool
	postLoginRedirect string
	loginRateLimit    int
	logger            zerolog.Logger
}

// Options configures the HTTP server.
type Options struct {
	SessionCookieSecure bool
	PostLoginRedirect   string
	// LoginRateLimit is the number of login and callback requests allowed per IP per minute.
	LoginRateLimit int
	Metrics        *metrics.Metrics
	HealthCheck    func(context.Context) error
}

func NewServer(authSvc *appAuth.Service, state *csrf.Manager, opts Options, logger zerolog.Logger) *Server {
	if opts.PostLoginRedirect == "" {
		opts.PostLoginRedirect = "/"
	}
	if opts.LoginRateLimit <= 0 {
		opts.LoginRateLimit = defaultLoginRateLimit
	}
	return &Server{
		authSvc:           authSvc,
		state:             state,
		metrics:           opts.Metrics,
		healthCheck:       opts.HealthCheck,
		cookieSecure:      opts.SessionCookieSecure,
		postLoginRedirect: opts.PostLoginRedirect,
		loginRateLimit:    opts.LoginRateLimit,
		logger:            logger.With().Str("component", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(telemetry.Middleware("potluck-auth"))

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Use(s.Authenticate)

		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(s.loginRateLimit, time.Minute))
			r.Get("/{provider}/login", s.beginLogin)
			r.Get("/{provider}/callback", s.callback)
			r.Post("/{provider}/callback", s.callback)
		})

		r.Post("/logout", s.logout)

		r.Group(func(r chi.Router) {
			r.Use(s.RequireAuth)
			r.Post("/logout-all", s.logoutAll)
			r.Get("/me", s.me)
			r.Get("/sessions", s.listSessions)
		})
	})

	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.healthCheck != nil {
		if err := s.healthCheck(r.Context()); err != nil {
			s.logger.Error().Err(err).Msg("health check failed")
			respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "storage unavailable")
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "OK"})
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

func clientIP(r *http.Request) *string {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	if ip == "" {
		return nil
	}
	return &ip
}

func userAgent(r *http.Request) *string {
	ua := r.UserAgent()
	if ua == "" {
		return nil
	}
	return &ua
}
