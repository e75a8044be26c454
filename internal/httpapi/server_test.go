package httpapi

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jaakkos/agentmail/internal/app"
	"github.com/jaakkos/agentmail/internal/archive"
	"github.com/jaakkos/agentmail/internal/config"
	"github.com/jaakkos/agentmail/internal/index"
)

// newTestStack builds a service over temp storage. Git is only needed once a
// project is created, so most handler tests run without it.
func newTestStack(t *testing.T) (*config.Settings, *app.MailService) {
	t.Helper()
	cfg := config.DefaultSettings()
	cfg.StorageRoot = t.TempDir()
	idx, err := index.Open(filepath.Join(cfg.StorageRoot, "index.sqlite3"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	arc := archive.NewStore(cfg.ProjectsDir())
	return cfg, app.NewMailService(cfg, arc, idx, discardLogger())
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func okStub() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	})
}

// doRequest runs one request through the handler with a controlled client
// address, so loopback and external callers can both be simulated.
func doRequest(t *testing.T, h http.Handler, method, target, remoteAddr string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthz_AlwaysOpen(t *testing.T) {
	cfg, svc := newTestStack(t)
	cfg.HTTP.BearerToken = "sekrit"
	cfg.HTTP.AllowLocalhostUnauthenticated = false
	h := NewServer(cfg, svc, discardLogger()).Handler()

	rr := doRequest(t, h, http.MethodGet, "/healthz", "203.0.113.9:1234", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Errorf("healthz body = %s", rr.Body.String())
	}
}

func TestReadyz_ReflectsIndexState(t *testing.T) {
	cfg, svc := newTestStack(t)
	h := NewServer(cfg, svc, discardLogger()).Handler()

	rr := doRequest(t, h, http.MethodGet, "/readyz", "127.0.0.1:1234", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz status = %d, want 200; body %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"status":"ready"`) {
		t.Errorf("readyz body = %s", rr.Body.String())
	}

	if err := svc.Index().Close(); err != nil {
		t.Fatalf("close index: %v", err)
	}
	rr = doRequest(t, h, http.MethodGet, "/readyz", "127.0.0.1:1234", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz after close status = %d, want 503", rr.Code)
	}
}

func TestHandler_MountsMCPAtConfiguredPath(t *testing.T) {
	cfg, svc := newTestStack(t)
	h := NewServer(cfg, svc, discardLogger(), WithMCP(okStub()), WithMCPPath("/rpc")).Handler()

	rr := doRequest(t, h, http.MethodGet, "/rpc", "127.0.0.1:1", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("GET /rpc = %d %q, want 200 ok", rr.Code, rr.Body.String())
	}
	rr = doRequest(t, h, http.MethodGet, "/mcp", "127.0.0.1:1", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("GET /mcp with custom path = %d, want 404", rr.Code)
	}
}

func TestHandler_MountsSSETransport(t *testing.T) {
	cfg, svc := newTestStack(t)
	sse := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "sse")
	})
	msg := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "message")
	})
	h := NewServer(cfg, svc, discardLogger(), WithSSE(sse, msg)).Handler()

	if rr := doRequest(t, h, http.MethodGet, "/sse", "127.0.0.1:1", nil); rr.Body.String() != "sse" {
		t.Errorf("GET /sse body = %q", rr.Body.String())
	}
	if rr := doRequest(t, h, http.MethodPost, "/message", "127.0.0.1:1", nil); rr.Body.String() != "message" {
		t.Errorf("POST /message body = %q", rr.Body.String())
	}
}

func TestHandler_ServesOverseerConsole(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	cfg, svc := newTestStack(t)
	if _, err := svc.EnsureProject(context.Background(), "Shell Station"); err != nil {
		t.Fatalf("ensure project: %v", err)
	}
	h := NewServer(cfg, svc, discardLogger()).Handler()

	rr := doRequest(t, h, http.MethodGet, "/mail", "127.0.0.1:1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /mail status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Shell Station") {
		t.Errorf("console does not list the project: %s", rr.Body.String())
	}
}

func TestMetricsEndpoint_ExposesRequestCounters(t *testing.T) {
	cfg, svc := newTestStack(t)
	h := NewServer(cfg, svc, discardLogger(), WithMetrics(NewMetrics())).Handler()

	doRequest(t, h, http.MethodGet, "/healthz", "127.0.0.1:1", nil)
	rr := doRequest(t, h, http.MethodGet, "/metrics", "127.0.0.1:1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "agentmail_http_requests_total") {
		t.Errorf("metrics output missing request counter:\n%s", rr.Body.String())
	}
}

func TestRouteLabel_BoundsCardinality(t *testing.T) {
	s := &Server{mcpPath: "/mcp"}
	cases := []struct {
		path string
		want string
	}{
		{"/mcp", "mcp"},
		{"/mcp/session/abc123", "mcp"},
		{"/sse", "sse"},
		{"/message", "sse"},
		{"/mail/thread/proj-1234567890/msg_20260825_deadbeef", "web"},
		{"/healthz", "healthz"},
		{"/readyz", "readyz"},
		{"/metrics", "metrics"},
		{"/favicon.ico", "other"},
	}
	for _, tc := range cases {
		if got := s.routeLabel(tc.path); got != tc.want {
			t.Errorf("routeLabel(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}
