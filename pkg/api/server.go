package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/repogate/pkg/directory"
	"github.com/platinummonkey/repogate/pkg/exchange"
	"github.com/platinummonkey/repogate/pkg/handoff"
	"github.com/platinummonkey/repogate/pkg/httputil"
	"github.com/platinummonkey/repogate/pkg/observability"
	"github.com/platinummonkey/repogate/pkg/pages"
)

// maxBodyBytes caps JSON request bodies
const maxBodyBytes = 64 << 10

// Exchanger runs the two credential exchange flows
type Exchanger interface {
	Redirect(ctx context.Context, req exchange.RedirectRequest) exchange.Result
	Direct(ctx context.Context, req exchange.DirectRequest) exchange.Result
}

// Options wires the server's collaborators
type Options struct {
	Exchanger Exchanger
	Directory directory.Directory
	Renderer  *pages.Renderer
	Policy    handoff.Policy
	Metrics   *observability.Metrics
}

// Server serves the public endpoints
type Server struct {
	router    *mux.Router
	exchanger Exchanger
	directory directory.Directory
	renderer  *pages.Renderer
	policy    handoff.Policy
	metrics   *observability.Metrics
}

// NewServer creates the server and registers its routes
func NewServer(opts Options) (*Server, error) {
	if opts.Exchanger == nil {
		return nil, fmt.Errorf("exchanger is required")
	}
	if opts.Directory == nil {
		return nil, fmt.Errorf("directory is required")
	}
	if opts.Renderer == nil {
		return nil, fmt.Errorf("page renderer is required")
	}

	s := &Server{
		router:    mux.NewRouter(),
		exchanger: opts.Exchanger,
		directory: opts.Directory,
		renderer:  opts.Renderer,
		policy:    opts.Policy,
		metrics:   opts.Metrics,
	}
	s.setupRoutes()
	return s, nil
}

// setupRoutes configures all the public routes
func (s *Server) setupRoutes() {
	// Sign-in surface and direct exchange
	s.router.HandleFunc("/auth", s.signinPage).Methods("GET")
	s.router.HandleFunc("/auth", s.directExchange).Methods("POST")

	// Provider callback bridge and redirect exchange
	s.router.HandleFunc("/callback", s.callbackPage).Methods("GET")
	s.router.HandleFunc("/callback/validate", s.validateExchange).Methods("POST")

	// Branding
	s.router.HandleFunc("/api/site/{slug}", s.siteBranding).Methods("GET")

	s.router.HandleFunc("/health", s.health).Methods("GET")

	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteMethodNotAllowed(w)
	})
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, "not found")
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HandlerConfig controls the middleware wrapped around the router
type HandlerConfig struct {
	CORSOrigins []string
	Tracing     bool
}

// Handler returns the router wrapped in the public middleware chain:
// request ID, logging, recovery, security headers, CORS, body limit,
// metrics and, when enabled, tracing.
func (s *Server) Handler(logger *observability.Logger, cfg HandlerConfig) http.Handler {
	var inner http.Handler = s.router
	if cfg.Tracing {
		inner = otelhttp.NewHandler(inner, "repogate",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + s.routeLabel(r)
			}),
		)
	}

	middlewares := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware(logger),
		httputil.LoggingMiddleware,
		httputil.RecoveryMiddleware,
		httputil.SecurityHeadersMiddleware,
		httputil.CORSMiddleware(cfg.CORSOrigins),
		httputil.MaxBytesMiddleware(maxBodyBytes),
	}
	if s.metrics != nil {
		middlewares = append(middlewares, observability.HTTPMetricsMiddleware(s.metrics, s.routeLabel))
	}

	return httputil.Chain(middlewares...)(inner)
}

// routeLabel maps a request to its route template so metric labels stay
// bounded
func (s *Server) routeLabel(r *http.Request) string {
	var match mux.RouteMatch
	if s.router.Match(r, &match) && match.Route != nil {
		if tpl, err := match.Route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
