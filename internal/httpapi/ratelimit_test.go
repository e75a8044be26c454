package httpapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jaakkos/agentmail/internal/config"
)

func TestMemoryLimiter_BurstThenDeny(t *testing.T) {
	l := NewMemoryLimiter(1, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := l.Allow(ctx, "tools:a")
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("request %d denied inside burst", i)
		}
	}
	ok, retryAfter, err := l.Allow(ctx, "tools:a")
	if err != nil {
		t.Fatalf("third request: %v", err)
	}
	if ok {
		t.Fatal("third request allowed, want denied")
	}
	if retryAfter <= 0 {
		t.Errorf("retryAfter = %v, want > 0", retryAfter)
	}
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	l := NewMemoryLimiter(1, 1)
	ctx := context.Background()

	if ok, _, _ := l.Allow(ctx, "tools:a"); !ok {
		t.Fatal("first request for a denied")
	}
	if ok, _, _ := l.Allow(ctx, "tools:a"); ok {
		t.Fatal("second request for a allowed, want denied")
	}
	if ok, _, _ := l.Allow(ctx, "tools:b"); !ok {
		t.Fatal("first request for b denied; buckets are not independent")
	}
}

func TestNewLimiter_Selection(t *testing.T) {
	l, err := NewLimiter(config.HTTPSettings{})
	if err != nil {
		t.Fatalf("disabled: %v", err)
	}
	if l != nil {
		t.Fatalf("disabled limiter = %T, want nil", l)
	}

	l, err = NewLimiter(config.HTTPSettings{RateLimitEnabled: true, RateLimitRPS: 5, RateLimitBurst: 10})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := l.(*MemoryLimiter); !ok {
		t.Fatalf("limiter = %T, want *MemoryLimiter", l)
	}

	l, err = NewLimiter(config.HTTPSettings{RateLimitEnabled: true, RateLimitRPS: 5, RedisURL: "redis://localhost:6379/0"})
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	if _, ok := l.(*RedisLimiter); !ok {
		t.Fatalf("limiter = %T, want *RedisLimiter", l)
	}

	if _, err := NewLimiter(config.HTTPSettings{RateLimitEnabled: true, RedisURL: "://bad"}); err == nil {
		t.Fatal("invalid redis url accepted")
	}
}

func TestClassify_BucketsByPathAndMethod(t *testing.T) {
	s := &Server{mcpPath: "/mcp"}
	cases := []struct {
		name   string
		method string
		path   string
		body   string
		want   string
	}{
		{"console page", http.MethodGet, "/mail/project/shell-station-0a1b2c3d4e", "", kindWeb},
		{"console root", http.MethodGet, "/mail", "", kindWeb},
		{"mcp listen", http.MethodGet, "/mcp", "", kindTools},
		{"tool call", http.MethodPost, "/mcp", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"fetch_inbox"}}`, kindTools},
		{"resource read", http.MethodPost, "/mcp", `{"jsonrpc":"2.0","id":2,"method":"resources/read","params":{"uri":"resource://projects"}}`, kindResources},
		{"resource list via sse channel", http.MethodPost, "/message", `{"jsonrpc":"2.0","id":3,"method":"resources/list"}`, kindResources},
		{"liveness", http.MethodGet, "/healthz", "", ""},
		{"scrape", http.MethodGet, "/metrics", "", ""},
	}
	for _, tc := range cases {
		var body io.Reader
		if tc.body != "" {
			body = strings.NewReader(tc.body)
		}
		req := httptest.NewRequest(tc.method, tc.path, body)
		if got := s.classify(req); got != tc.want {
			t.Errorf("%s: classify = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestSniffResourceCall_RestoresBody(t *testing.T) {
	body := `{"jsonrpc":"2.0","id":9,"method":"resources/read","params":{"uri":"resource://message/msg_20260825_0a1b2c3d"}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))

	if !sniffResourceCall(req) {
		t.Fatal("sniff = false, want true")
	}
	rest, err := io.ReadAll(req.Body)
	if err != nil {
		t.Fatalf("read body after sniff: %v", err)
	}
	if string(rest) != body {
		t.Errorf("body after sniff = %q, want the original payload", rest)
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfter(t *testing.T) {
	cfg, svc := newTestStack(t)
	h := NewServer(cfg, svc, discardLogger(),
		WithMCP(okStub()),
		WithLimiter(NewMemoryLimiter(1, 2)),
		WithMetrics(NewMetrics()),
	).Handler()

	for i := 0; i < 2; i++ {
		rr := doRequest(t, h, http.MethodGet, "/mcp", "127.0.0.1:9", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, rr.Code)
		}
	}
	rr := doRequest(t, h, http.MethodGet, "/mcp", "127.0.0.1:9", nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("exhausted bucket status = %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After header")
	}
	if !strings.Contains(rr.Body.String(), "rate_limited") {
		t.Errorf("429 body = %s", rr.Body.String())
	}

	// Probes are never limited.
	if rr := doRequest(t, h, http.MethodGet, "/healthz", "127.0.0.1:9", nil); rr.Code != http.StatusOK {
		t.Errorf("healthz while limited: status = %d, want 200", rr.Code)
	}

	// The rejection shows up on the metrics endpoint.
	rr = doRequest(t, h, http.MethodGet, "/metrics", "127.0.0.1:9", nil)
	if !strings.Contains(rr.Body.String(), "agentmail_rate_limited_total") {
		t.Errorf("metrics output missing rate-limit counter:\n%s", rr.Body.String())
	}
}

func TestRateLimitMiddleware_SeparateIdentities(t *testing.T) {
	cfg, svc := newTestStack(t)
	h := NewServer(cfg, svc, discardLogger(),
		WithMCP(okStub()),
		WithLimiter(NewMemoryLimiter(1, 1)),
	).Handler()

	if rr := doRequest(t, h, http.MethodGet, "/mcp", "127.0.0.1:9", nil); rr.Code != http.StatusOK {
		t.Fatalf("first caller status = %d, want 200", rr.Code)
	}
	if rr := doRequest(t, h, http.MethodGet, "/mcp", "127.0.0.1:9", nil); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("first caller second request status = %d, want 429", rr.Code)
	}
	// A different client IP is a different bucket.
	if rr := doRequest(t, h, http.MethodGet, "/mcp", "198.51.100.7:9", nil); rr.Code != http.StatusOK {
		t.Fatalf("second caller status = %d, want 200", rr.Code)
	}
}
