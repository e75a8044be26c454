// Package httpapi assembles the HTTP front of the mail server: the MCP
// transport endpoints, the overseer web console, operational probes, and
// Prometheus metrics, all behind shared authentication and rate-limit
// middleware.
//
// Middleware order is fixed: metrics observe everything, authentication
// resolves the caller identity, and the rate limiter buckets requests by
// "<kind>:<identity>" where kind is tools, resources, or web.
package httpapi

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jaakkos/agentmail/internal/app"
	"github.com/jaakkos/agentmail/internal/config"
	"github.com/jaakkos/agentmail/internal/web"
)

// Middleware wraps an http.Handler with cross-cutting behavior.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares to h so that the first middleware is outermost.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// Server composes the HTTP surface. Construct with NewServer, mount transport
// handlers via options, and either call Handler for the composed mux or Serve
// to bind and run until the context is cancelled.
type Server struct {
	cfg     *config.Settings
	svc     *app.MailService
	logger  *log.Logger
	metrics *Metrics
	limiter Limiter

	mcpPath string
	mcp     http.Handler
	sse     http.Handler
	message http.Handler

	started time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithMCP mounts the streamable HTTP transport handler at the MCP path.
func WithMCP(h http.Handler) Option {
	return func(s *Server) { s.mcp = h }
}

// WithMCPPath overrides the MCP mount path (default "/mcp").
func WithMCPPath(path string) Option {
	return func(s *Server) {
		path = "/" + strings.Trim(path, "/")
		if path == "/" {
			return
		}
		s.mcpPath = path
	}
}

// WithSSE mounts the legacy SSE transport: the event stream at /sse and the
// client-to-server channel at /message.
func WithSSE(sse, message http.Handler) Option {
	return func(s *Server) {
		s.sse = sse
		s.message = message
	}
}

// WithLimiter enables rate limiting with the given limiter.
func WithLimiter(l Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithMetrics enables request metrics and the /metrics endpoint.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer builds the HTTP shell around the mail service.
func NewServer(cfg *config.Settings, svc *app.MailService, logger *log.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		svc:     svc,
		logger:  logger,
		mcpPath: "/mcp",
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the composed HTTP handler: probes, metrics, MCP transports,
// and the overseer console, wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	if s.mcp != nil {
		mux.Handle(s.mcpPath, s.mcp)
		mux.Handle(s.mcpPath+"/", s.mcp)
	}
	if s.sse != nil {
		mux.Handle("/sse", s.sse)
		mux.Handle("/sse/", s.sse)
	}
	if s.message != nil {
		mux.Handle("/message", s.message)
	}
	web.NewHandler(s.svc, s.logger).RegisterRoutes(mux)

	return Chain(mux, s.requestMetrics(), s.authenticate(), s.rateLimit())
}

// Serve binds the configured address and serves until ctx is cancelled, then
// shuts down gracefully. Binding port 0 picks a free port; the actual address
// is logged.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("http listen %s: %w", s.cfg.Addr(), err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	s.logger.Printf("HTTP server on %s", ln.Addr())
	s.logger.Printf("  Agents connect at:  %s%s", baseURL, s.mcpPath)
	s.logger.Printf("  Overseer console:   %s/mail", baseURL)

	httpServer := &http.Server{Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// handleHealthz is the liveness probe. It never touches storage and is exempt
// from authentication.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","uptime_seconds":%d}`, int(time.Since(s.started).Seconds()))
}

// handleReadyz is the readiness probe: ready once the index answers queries.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.svc.Index().Ping(); err != nil {
		s.logger.Printf("readyz: index not ready: %v", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, `{"status":"unavailable","error":%q}`, err.Error())
		return
	}
	fmt.Fprint(w, `{"status":"ready"}`)
}

// jsonError writes a small JSON error body with the given status.
func jsonError(w http.ResponseWriter, status int, code, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q,"detail":%q}`, code, detail)
}

// identityKey carries the authenticated caller identity on the request context.
type identityKey struct{}

func withIdentity(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// Identity returns the caller identity resolved by the auth middleware: the
// JWT subject when one was presented, otherwise the client IP. Empty when the
// request did not pass through the middleware.
func Identity(ctx context.Context) string {
	if v, ok := ctx.Value(identityKey{}).(string); ok {
		return v
	}
	return ""
}
