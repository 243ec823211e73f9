package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/udp-ingest/internal/auth"
	"github.com/lorawan-server/udp-ingest/internal/config"
	"github.com/lorawan-server/udp-ingest/internal/models"
	"github.com/lorawan-server/udp-ingest/internal/validation"
)

// AuditReader reads the newest audit log entries.
type AuditReader interface {
	Recent(n int) ([]models.AuditEntry, error)
}

// EventReader lists uplink events mirrored into the database.
type EventReader interface {
	ListUplinkEvents(ctx context.Context, devAddr string, limit int) ([]*models.AuditEntry, error)
}

// Pinger reports database reachability for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Option configures optional server dependencies.
type Option func(*RESTServer)

// WithEvents enables /api/events.
func WithEvents(r EventReader) Option {
	return func(s *RESTServer) {
		s.events = r
	}
}

// WithPinger adds a database check to /health.
func WithPinger(p Pinger) Option {
	return func(s *RESTServer) {
		s.db = p
	}
}

// RESTServer represents the status API server
type RESTServer struct {
	config    config.APIConfig
	audit     AuditReader
	events    EventReader
	db        Pinger
	auth      *auth.JWTManager
	validator *validation.Validator
	router    chi.Router
	server    *http.Server
}

// NewRESTServer creates a new status API server. Without a JWT secret the
// read endpoints are open.
func NewRESTServer(cfg config.APIConfig, audit AuditReader, opts ...Option) *RESTServer {
	s := &RESTServer{
		config:    cfg,
		audit:     audit,
		validator: validation.NewValidator(),
		router:    chi.NewRouter(),
	}

	if cfg.JWTSecret != "" {
		s.auth = auth.NewJWTManager(cfg.JWTSecret, auth.DefaultIssuer, cfg.TokenTTL)
	}

	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *RESTServer) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	s.setupAPIRoutes(s.router)
}

// ListenAndServe starts the server
func (s *RESTServer) ListenAndServe(addr string) error {
	s.server.Addr = addr
	log.Info().Str("addr", addr).Msg("Starting status API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type claimsKey struct{}

// claimsFromContext returns the token claims set by authMiddleware.
func claimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*auth.Claims)
	return claims, ok
}

// requester names the caller in logs.
func requester(r *http.Request) string {
	if claims, ok := claimsFromContext(r.Context()); ok {
		return claims.Subject
	}
	return "anonymous"
}

// authMiddleware is the authentication middleware
func (s *RESTServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			next.ServeHTTP(w, r)
			return
		}

		// Get token from header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.respondError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		// Parse Bearer token
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			s.respondError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		// Validate token
		claims, err := s.auth.ValidateToken(parts[1])
		if err != nil || claims.Scope != auth.ScopeRead {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
