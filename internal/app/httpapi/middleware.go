package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	apperrors "github.com/arzex/exchange-core/internal/errors"
	"github.com/arzex/exchange-core/pkg/logger"
)

// Identity is the verified caller identity the auth middleware hands to the
// core. Only the account ID and role are taken from the token; trading
// eligibility is always re-read from the account store.
type Identity struct {
	AccountID string
	Role      string
}

// IsAdmin reports whether the identity may call the review surface.
func (id Identity) IsAdmin() bool { return id.Role == "admin" }

type contextKey struct{}

// IdentityFrom extracts the caller identity placed by the auth middleware.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// ContextWithIdentity injects an identity; tests use this to bypass tokens.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

type claims struct {
	AccountID string `json:"account_id"`
	Role      string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware verifies bearer tokens and attaches the caller identity.
type AuthMiddleware struct {
	secret    []byte
	skipPaths map[string]bool
	log       *logger.Logger
}

// NewAuthMiddleware creates a JWT verification middleware. Paths in skipPaths
// bypass authentication (health and metrics).
func NewAuthMiddleware(secret string, skipPaths []string, log *logger.Logger) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("httpapi-auth")
	}
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return &AuthMiddleware{secret: []byte(secret), skipPaths: skip, log: log}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, apperrors.Unauthorized("missing Authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, apperrors.Unauthorized("invalid Authorization header format"))
			return
		}

		var c claims
		token, err := jwt.ParseWithClaims(parts[1], &c, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return m.secret, nil
		})
		if err != nil || !token.Valid || c.AccountID == "" {
			m.log.WithError(err).Debug("token rejected")
			writeError(w, apperrors.Unauthorized("invalid token"))
			return
		}

		identity := Identity{AccountID: c.AccountID, Role: c.Role}
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
	})
}

// RateLimiter bounds per-caller request rates keyed by account (or remote
// address for unauthenticated paths).
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	log      *logger.Logger
}

// NewRateLimiter creates a rate limiting middleware.
func NewRateLimiter(requestsPerSecond, burst int, log *logger.Logger) *RateLimiter {
	if log == nil {
		log = logger.NewDefault("httpapi-ratelimit")
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		log:      log,
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, ok := rl.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = limiter
	}
	return limiter
}

// Handler returns the middleware handler.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if id, ok := IdentityFrom(r.Context()); ok {
			key = id.AccountID
		}

		if !rl.limiter(key).Allow() {
			rl.log.WithField("key", key).Debug("request rate limited")
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
