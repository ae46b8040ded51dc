package api

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/wonny/tally/internal/api/handlers"
	"github.com/wonny/tally/pkg/logger"
	"github.com/wonny/tally/pkg/redis"
)

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			log.WithFields(logger.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(logger.Fields{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					writeJSONError(w, http.StatusInternalServerError, "Internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// identityMiddleware attaches the gateway identity; requests without one
// are rejected
func identityMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := handlers.ParseIdentity(r)
			if err != nil {
				log.WithFields(logger.Fields{
					"path":  r.URL.Path,
					"error": err.Error(),
				}).Debug("Rejected request without identity")
				writeJSONError(w, http.StatusUnauthorized, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(handlers.WithIdentity(r.Context(), id)))
		})
	}
}

// PublicLimiter throttles anonymous readers per client address.
// Redis holds the shared sliding window; without Redis, or when Redis
// fails, each instance falls back to a local token bucket.
type PublicLimiter struct {
	redis  *redis.RateLimiter
	limit  int
	window time.Duration
	logger *logger.Logger

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

// NewPublicLimiter creates a limiter allowing limit requests per window.
// A limit of zero disables it.
func NewPublicLimiter(rl *redis.RateLimiter, limit int, window time.Duration, log *logger.Logger) *PublicLimiter {
	return &PublicLimiter{
		redis:  rl,
		limit:  limit,
		window: window,
		logger: log.Component("api.ratelimit"),
		local:  make(map[string]*rate.Limiter),
	}
}

// Middleware enforces the limit
func (l *PublicLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l == nil || l.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		client := clientAddr(r)
		allowed, remaining := l.allow(r, client)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(l.window.Seconds())))
			writeJSONError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *PublicLimiter) allow(r *http.Request, client string) (bool, int) {
	if l.redis.Enabled() {
		allowed, remaining, err := l.redis.Allow(r.Context(), redis.PublicRateLimit(client, l.limit, l.window))
		if err == nil {
			return allowed, remaining
		}
		l.logger.WithError(err).Warn("Redis rate limit failed, using local limiter")
	}

	lim := l.localLimiter(client)
	if !lim.Allow() {
		return false, 0
	}
	return true, int(lim.Tokens())
}

func (l *PublicLimiter) localLimiter(client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.local[client]
	if !ok {
		every := l.window / time.Duration(l.limit)
		lim = rate.NewLimiter(rate.Every(every), l.limit)
		l.local[client] = lim
	}
	return lim
}

// clientAddr returns the first forwarded address or the peer address
func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(handlers.ErrorResponse{Error: message})
}
