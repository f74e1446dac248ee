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

	"github.com/lorawan-replay/replay-server/internal/auth"
	"github.com/lorawan-replay/replay-server/internal/config"
	"github.com/lorawan-replay/replay-server/internal/gate"
	"github.com/lorawan-replay/replay-server/internal/logstore"
	"github.com/lorawan-replay/replay-server/internal/pipeline"
	"github.com/lorawan-replay/replay-server/internal/replay"
	"github.com/lorawan-replay/replay-server/internal/sandbox"
	"github.com/lorawan-replay/replay-server/internal/scanner"
	"github.com/lorawan-replay/replay-server/internal/storage"
	"github.com/lorawan-replay/replay-server/internal/validation"
)

type contextKey string

const claimsKey contextKey = "claims"

// Deps collects the engines behind the REST API
type Deps struct {
	Store    storage.Store
	Logs     *logstore.Files
	Scans    *scanner.Cache
	Pipeline *pipeline.Pipeline
	Replays  *replay.Engine
	Decoders *sandbox.Registry
	Flags    *gate.Flags
	Quota    gate.QuotaChecker
	Limiter  gate.RateLimiter
	Auditor  gate.Auditor
}

// RESTServer represents the REST API server
type RESTServer struct {
	config    *config.Config
	deps      Deps
	auth      *auth.JWTManager
	validator *validation.Validator
	router    chi.Router
	server    *http.Server
}

// NewRESTServer creates a new REST API server
func NewRESTServer(cfg *config.Config, deps Deps) *RESTServer {
	if deps.Quota == nil {
		deps.Quota = gate.AllowAll{}
	}
	if deps.Limiter == nil {
		deps.Limiter = gate.AllowAll{}
	}
	if deps.Auditor == nil {
		deps.Auditor = gate.LogAuditor{}
	}
	if deps.Flags == nil {
		deps.Flags = gate.NewFlags(cfg.Sandbox.PublicMode)
	}

	s := &RESTServer{
		config:    cfg,
		deps:      deps,
		auth:      auth.NewJWTManager(&cfg.JWT, deps.Store),
		validator: validation.NewValidator(),
		router:    chi.NewRouter(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(120 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Route("/api/v1", func(r chi.Router) {
		s.setupAPIRoutes(r)
	})
}

// ListenAndServe starts the server
func (s *RESTServer) ListenAndServe(addr string) error {
	s.server.Addr = addr
	log.Info().Str("addr", addr).Msg("Starting REST API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// authMiddleware is the authentication middleware
func (s *RESTServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.respondError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			s.respondError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		claims, err := s.auth.ValidateToken(parts[1])
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// actor identifies the caller for quotas, limits and auditing
func (s *RESTServer) actor(r *http.Request) string {
	if claims, ok := r.Context().Value(claimsKey).(*auth.Claims); ok {
		return claims.Email
	}
	return "anonymous"
}

// gateOperation runs the policy checks for one operation. A non-nil
// return has already been written to the response.
func (s *RESTServer) gateOperation(w http.ResponseWriter, r *http.Request, op gate.Operation) error {
	actor := s.actor(r)

	if err := s.deps.Flags.Check(op); err != nil {
		s.respondError(w, http.StatusForbidden, err.Error())
		return err
	}
	if err := s.deps.Limiter.Allow(actor, op); err != nil {
		s.respondError(w, http.StatusTooManyRequests, err.Error())
		return err
	}
	if err := s.deps.Quota.CheckQuota(r.Context(), actor, op); err != nil {
		s.respondError(w, http.StatusForbidden, err.Error())
		return err
	}
	return nil
}
