package httpapi

import (
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// authenticate resolves the caller identity and rejects unauthorized
// requests. OPTIONS preflights and /healthz always pass. When neither a
// bearer token nor a JWT secret is configured the surface is open and every
// caller is identified by client IP.
//
// Accepted credentials, in order: the static bearer token, then an HS256 JWT
// signed with the configured secret (exp required, sub becomes the
// identity). Loopback callers pass without credentials when
// allow_localhost_unauthenticated is set; /metrics is additionally always
// open to loopback so a local scraper needs no token.
func (s *Server) authenticate() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}
			identity, ok := s.checkAuth(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="agent-mail"`)
				jsonError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid credentials")
				return
			}
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
		})
	}
}

func (s *Server) checkAuth(r *http.Request) (identity string, ok bool) {
	ip := clientIP(r)
	httpCfg := s.cfg.HTTP

	if httpCfg.BearerToken == "" && httpCfg.JWTSecret == "" {
		return ip, true
	}

	if header := r.Header.Get("Authorization"); header != "" {
		if tok, found := strings.CutPrefix(header, "Bearer "); found {
			tok = strings.TrimSpace(tok)
			if httpCfg.BearerToken != "" &&
				subtle.ConstantTimeCompare([]byte(tok), []byte(httpCfg.BearerToken)) == 1 {
				return ip, true
			}
			if httpCfg.JWTSecret != "" {
				if sub, err := verifyJWT(tok, httpCfg.JWTSecret); err == nil {
					if sub == "" {
						sub = ip
					}
					return sub, true
				}
			}
		}
	}

	if isLoopback(ip) {
		if httpCfg.AllowLocalhostUnauthenticated {
			return ip, true
		}
		if r.URL.Path == "/metrics" {
			return ip, true
		}
	}
	return "", false
}

// verifyJWT validates an HS256 token against the shared secret and returns
// its subject. Tokens without an exp claim are rejected.
func verifyJWT(tokenStr, secret string) (string, error) {
	token, err := jwt.Parse(tokenStr,
		func(t *jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("parse jwt: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("unexpected jwt claims")
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("jwt subject: %w", err)
	}
	return sub, nil
}

// clientIP extracts the remote IP, tolerating a bare address without port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
