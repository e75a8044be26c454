package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/jaakkos/agentmail/internal/config"
)

// Rate buckets. MCP traffic splits into tool calls and resource reads; the
// overseer console gets its own bucket so a busy agent fleet cannot starve
// the human.
const (
	kindTools     = "tools"
	kindResources = "resources"
	kindWeb       = "web"
)

// Limiter answers whether the caller behind key may proceed. retryAfter is
// meaningful only when ok is false.
type Limiter interface {
	Allow(ctx context.Context, key string) (ok bool, retryAfter time.Duration, err error)
}

// NewLimiter builds the limiter selected by the settings: nil when rate
// limiting is disabled, Redis-backed when a Redis URL is configured,
// otherwise in-memory.
func NewLimiter(cfg config.HTTPSettings) (Limiter, error) {
	if !cfg.RateLimitEnabled {
		return nil, nil
	}
	if cfg.RedisURL != "" {
		return NewRedisLimiter(cfg.RedisURL, cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	return NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst), nil
}

// rateLimit rejects requests whose bucket is exhausted with 429 and a
// Retry-After hint. Probe and metrics endpoints are never limited. Limiter
// errors let the request through; a broken limiter must not stop mail.
func (s *Server) rateLimit() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			kind := s.classify(r)
			if kind == "" {
				next.ServeHTTP(w, r)
				return
			}
			key := kind + ":" + Identity(r.Context())
			ok, retryAfter, err := s.limiter.Allow(r.Context(), key)
			if err != nil {
				s.logger.Printf("rate limit check for %s failed: %v", key, err)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				if s.metrics != nil {
					s.metrics.RecordRateLimited(kind)
				}
				secs := int(retryAfter.Seconds() + 0.999)
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				jsonError(w, http.StatusTooManyRequests, "rate_limited",
					fmt.Sprintf("%s bucket exhausted, retry in %ds", kind, secs))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// classify names the rate bucket for a request: "web" for the console,
// "tools" or "resources" for MCP traffic, "" for everything else.
func (s *Server) classify(r *http.Request) string {
	path := r.URL.Path
	switch {
	case path == "/mail" || strings.HasPrefix(path, "/mail/"):
		return kindWeb
	case path == s.mcpPath || strings.HasPrefix(path, s.mcpPath+"/"),
		path == "/sse" || strings.HasPrefix(path, "/sse/"),
		path == "/message":
		if r.Method == http.MethodPost && sniffResourceCall(r) {
			return kindResources
		}
		return kindTools
	}
	return ""
}

// maxSniffBytes bounds how much of a JSON-RPC body is buffered to read its
// method. Oversized bodies fall back to the tools bucket.
const maxSniffBytes = 1 << 20

// sniffResourceCall reports whether a JSON-RPC request targets a resources/*
// method. The consumed prefix is stitched back onto r.Body so the downstream
// handler sees the full body.
func sniffResourceCall(r *http.Request) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return false
	}
	prefix, err := io.ReadAll(io.LimitReader(r.Body, maxSniffBytes))
	r.Body = rewoundBody{io.MultiReader(bytes.NewReader(prefix), r.Body), r.Body}
	if err != nil {
		return false
	}
	var env struct {
		Method string `json:"method"`
	}
	if json.Unmarshal(prefix, &env) != nil {
		return false
	}
	return strings.HasPrefix(env.Method, "resources/")
}

type rewoundBody struct {
	io.Reader
	io.Closer
}

// MemoryLimiter keeps a token bucket per key in process memory. Buckets idle
// longer than three minutes are pruned opportunistically during Allow.
type MemoryLimiter struct {
	rps   rate.Limit
	burst int

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastPrune time.Time
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

const bucketIdleTTL = 3 * time.Minute

// NewMemoryLimiter builds an in-process limiter allowing rps sustained
// requests per key with the given burst.
func NewMemoryLimiter(rps float64, burst int) *MemoryLimiter {
	if rps <= 0 {
		rps = 10
	}
	if burst < 1 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &MemoryLimiter{
		rps:       rate.Limit(rps),
		burst:     burst,
		buckets:   make(map[string]*bucket),
		lastPrune: time.Now(),
	}
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := time.Now()
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	if now.Sub(l.lastPrune) > time.Minute {
		for k, v := range l.buckets {
			if now.Sub(v.lastSeen) > bucketIdleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastPrune = now
	}
	l.mu.Unlock()

	if b.lim.Allow() {
		return true, 0, nil
	}
	res := b.lim.Reserve()
	delay := res.Delay()
	res.Cancel()
	return false, delay, nil
}

// RedisLimiter counts requests in fixed one-minute windows shared across
// replicas. Window capacity is the sustained rate over a full window plus
// the burst allowance.
type RedisLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// NewRedisLimiter connects to the Redis instance at url.
func NewRedisLimiter(url string, rps float64, burst int) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if rps <= 0 {
		rps = 10
	}
	window := time.Minute
	return &RedisLimiter{
		client: redis.NewClient(opts),
		limit:  int64(rps*window.Seconds()) + int64(burst),
		window: window,
	}, nil
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := time.Now()
	windowStart := now.Truncate(l.window)
	redisKey := fmt.Sprintf("agentmail:ratelimit:%s:%d", key, windowStart.Unix())

	pipe := l.client.TxPipeline()
	count := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("redis rate limit: %w", err)
	}
	if count.Val() > l.limit {
		return false, windowStart.Add(l.window).Sub(now), nil
	}
	return true, 0, nil
}

// Close releases the Redis connection.
func (l *RedisLimiter) Close() error { return l.client.Close() }
