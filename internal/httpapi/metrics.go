package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus series for the HTTP surface and for MCP tool
// calls. Each Metrics owns its registry, so independent servers (and tests)
// never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	rateLimited  *prometheus.CounterVec
}

// NewMetrics builds the collector set under the agentmail namespace.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	m := &Metrics{registry: reg}
	m.httpRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentmail",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method, and status class.",
	}, []string{"route", "method", "status"})
	m.httpDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentmail",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
	m.toolCalls = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentmail",
		Name:      "tool_calls_total",
		Help:      "MCP tool calls by tool and outcome.",
	}, []string{"tool", "outcome"})
	m.toolDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentmail",
		Name:      "tool_call_duration_seconds",
		Help:      "MCP tool call duration by tool.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"tool"})
	m.rateLimited = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentmail",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter, by bucket kind.",
	}, []string{"kind"})
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRateLimited counts a rejected request for the given bucket kind.
func (m *Metrics) RecordRateLimited(kind string) {
	m.rateLimited.WithLabelValues(kind).Inc()
}

// ToolMiddleware returns an mcp-go tool middleware that counts and times
// every call. Handler errors and IsError results both count as "error".
func (m *Metrics) ToolMiddleware() server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			start := time.Now()
			result, err := next(ctx, req)
			outcome := "ok"
			if err != nil || (result != nil && result.IsError) {
				outcome = "error"
			}
			m.toolCalls.WithLabelValues(req.Params.Name, outcome).Inc()
			m.toolDuration.WithLabelValues(req.Params.Name).Observe(time.Since(start).Seconds())
			return result, err
		}
	}
}

// requestMetrics observes every request with a bounded route label.
func (s *Server) requestMetrics() Middleware {
	return func(next http.Handler) http.Handler {
		if s.metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			route := s.routeLabel(r.URL.Path)
			s.metrics.httpRequests.WithLabelValues(route, r.Method, statusClass(rec.status)).Inc()
			s.metrics.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		})
	}
}

// routeLabel maps a path to its mount point, keeping label cardinality
// bounded regardless of the slugs and message ids inside URLs.
func (s *Server) routeLabel(path string) string {
	switch {
	case path == s.mcpPath || strings.HasPrefix(path, s.mcpPath+"/"):
		return "mcp"
	case path == "/sse" || strings.HasPrefix(path, "/sse/"), path == "/message":
		return "sse"
	case path == "/mail" || strings.HasPrefix(path, "/mail/"):
		return "web"
	case path == "/healthz", path == "/readyz", path == "/metrics":
		return strings.TrimPrefix(path, "/")
	}
	return "other"
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

// statusRecorder captures the response status. Flush passes through so SSE
// streams keep flowing behind the middleware.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.status = code
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
