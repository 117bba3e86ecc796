// Package gateway exposes the platform's external surface: the GraphQL
// endpoint, the realtime SSE and WebSocket routes, and the health and
// metrics endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/albion/platform/internal/identity"
	"github.com/albion/platform/internal/middleware"
	"github.com/albion/platform/internal/realtime"
)

// HealthChecker probes one dependency for the /health endpoint.
type HealthChecker func(ctx context.Context) error

// Server is the gateway HTTP server.
type Server struct {
	http        *http.Server
	serviceName string
	startedAt   time.Time
	checks      map[string]HealthChecker
}

// ServerConfig wires the server's collaborators.
type ServerConfig struct {
	Addr        string
	ServiceName string
	Resolver    *RootResolver
	Issuer      *identity.Issuer
	Hub         *realtime.Hub
	RateLimiter *middleware.RateLimiter
	CORSOrigins []string
	ReadTimeout time.Duration
	IdleTimeout time.Duration
	Checks      map[string]HealthChecker
}

// NewServer builds the router and HTTP server.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		serviceName: cfg.ServiceName,
		startedAt:   time.Now(),
		checks:      cfg.Checks,
	}

	schema := graphql.MustParseSchema(Schema, cfg.Resolver, graphql.UseFieldResolvers())
	gqlHandler := &relay.Handler{Schema: schema}

	r := mux.NewRouter()
	r.Use(corsMiddleware(cfg.CORSOrigins))

	// Unauthenticated surface.
	r.Handle("/health", middleware.CorrelationID(http.HandlerFunc(s.handleHealth))).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Authenticated surface. The rate limiter keys off the authenticated
	// principal, so it sits inside the auth wrapper.
	authed := func(h http.Handler) http.Handler {
		if cfg.RateLimiter != nil {
			h = cfg.RateLimiter.Middleware(h)
		}
		return middleware.Authenticate(cfg.Issuer, h)
	}
	r.Handle("/graphql", authed(gqlHandler)).Methods("POST")
	r.Handle("/events", authed(cfg.Hub.SSEHandler())).Methods("GET")
	r.Handle("/ws", authed(cfg.Hub.WSHandler())).Methods("GET")

	s.http = &http.Server{
		Addr:        cfg.Addr,
		Handler:     r,
		ReadTimeout: cfg.ReadTimeout,
		// No WriteTimeout: SSE streams stay open for the session lifetime.
		IdleTimeout: cfg.IdleTimeout,
	}
	return s
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	slog.Info("Gateway listening", "addr", s.http.Addr, "service", s.serviceName)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// handleHealth reports service status and dependency checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := "ok"
	checks := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			checks[name] = "down: " + err.Error()
			status = "degraded"
		} else {
			checks[name] = "up"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  status,
		"service": s.serviceName,
		"uptime":  int64(time.Since(s.startedAt).Seconds()),
		"checks":  checks,
	})
}

func corsMiddleware(origins []string) mux.MiddlewareFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	allowAll := len(origins) == 0

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Correlation-Id")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
