package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-usage/internal/models"
	"github.com/ukydev/fleet-usage/internal/policy"
)

// contextKey keeps identity values apart from other packages' context keys.
type contextKey string

const (
	IdentityContextKey contextKey = "identity"
)

// IdentityResolver turns a bearer credential into the caller's identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, credential string) (models.Identity, bool)
}

// AuthMiddleware resolves the caller of every request
type AuthMiddleware struct {
	resolver IdentityResolver
}

// NewAuthMiddleware builds the middleware around resolver.
func NewAuthMiddleware(resolver IdentityResolver) *AuthMiddleware {
	return &AuthMiddleware{
		resolver: resolver,
	}
}

// Authenticate resolves the Authorization header and adds the identity to the request
// context. Requests whose credential does not resolve are rejected without detail.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSkipAuth(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		identity, ok := m.resolver.Resolve(r.Context(), authHeader)
		if !ok {
			log.WithFields(log.Fields{
				"path":   r.URL.Path,
				"client": getClientIP(r),
			}).Debug("Unresolved credential")
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// RequireManagerTier rejects callers below the manager tier.
func (m *AuthMiddleware) RequireManagerTier(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			http.Error(w, "Identity not found", http.StatusUnauthorized)
			return
		}
		if !policy.CanManageFleet(identity.Role) {
			http.Error(w, models.ErrUnauthorized.Error(), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity models.Identity) context.Context {
	return context.WithValue(ctx, IdentityContextKey, identity)
}

// IdentityFromContext returns the caller stored by Authenticate.
func IdentityFromContext(ctx context.Context) (models.Identity, bool) {
	identity, ok := ctx.Value(IdentityContextKey).(models.Identity)
	return identity, ok
}

// shouldSkipAuth reports whether path is served to anonymous callers.
func shouldSkipAuth(path string) bool {
	skipPaths := []string{
		"/api/auth/login",
		"/health",
	}

	for _, skipPath := range skipPaths {
		if strings.HasPrefix(path, skipPath) {
			return true
		}
	}
	return false
}

// RateLimitMiddleware tracks request timestamps per caller key.
type RateLimitMiddleware struct {
	requests  map[string][]int64 // caller -> timestamps
	mu        sync.Mutex
	now       func() time.Time
	lastSweep int64
}

// NewRateLimitMiddleware returns a limiter using the wall clock.
func NewRateLimitMiddleware() *RateLimitMiddleware {
	return &RateLimitMiddleware{
		requests: make(map[string][]int64),
		now:      time.Now,
	}
}

// RateLimit applies a sliding window limit per caller. Authenticated callers are keyed by
// actor, anonymous ones by client IP.
func (m *RateLimitMiddleware) RateLimit(maxRequests int, windowSeconds int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + getClientIP(r)
			if identity, ok := IdentityFromContext(r.Context()); ok {
				key = "actor:" + identity.ActorID
			}

			now := m.now().Unix()
			windowStart := now - int64(windowSeconds)

			m.mu.Lock()
			if now-m.lastSweep >= int64(windowSeconds) {
				m.sweep(windowStart)
				m.lastSweep = now
			}
			var valid []int64
			for _, ts := range m.requests[key] {
				if ts > windowStart {
					valid = append(valid, ts)
				}
			}

			if len(valid) >= maxRequests {
				m.requests[key] = valid
				m.mu.Unlock()
				w.Header().Set("Retry-After", strconv.Itoa(windowSeconds))
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			m.requests[key] = append(valid, now)
			m.mu.Unlock()

			next.ServeHTTP(w, r)
		})
	}
}

// sweep drops callers with no request newer than windowStart. Callers hold m.mu.
func (m *RateLimitMiddleware) sweep(windowStart int64) {
	for key, stamps := range m.requests {
		if len(stamps) == 0 || stamps[len(stamps)-1] <= windowStart {
			delete(m.requests, key)
		}
	}
}

// getClientIP prefers proxy headers over RemoteAddr.
func getClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	ip := r.RemoteAddr
	if colonIndex := strings.LastIndex(ip, ":"); colonIndex != -1 {
		ip = ip[:colonIndex]
	}
	return ip
}
