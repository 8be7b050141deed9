package http

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/render"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"closethopper/internal/config"
	"closethopper/pkg/contracts/licensing"
)

// RateLimit returns a per-client-IP rate limiting middleware using a
// token bucket per remote address. Activation brute-forcing of license
// keys is the main thing this slows down.
func RateLimit(cfg config.RateLimitConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	type visitor struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	var (
		mu       sync.Mutex
		visitors = make(map[string]*visitor)
	)

	// Drop visitors idle for an hour so the map cannot grow without
	// bound.
	prune := func(now time.Time) {
		for ip, v := range visitors {
			if now.Sub(v.lastSeen) > time.Hour {
				delete(visitors, ip)
			}
		}
	}

	return func(next http.Handler) http.Handler {
		if !cfg.Enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			mu.Lock()
			v, ok := visitors[ip]
			if !ok {
				if len(visitors) > 10000 {
					prune(time.Now())
				}
				v = &visitor{limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)}
				visitors[ip] = v
			}
			v.lastSeen = time.Now()
			allowed := v.limiter.Allow()
			mu.Unlock()

			if !allowed {
				logger.WarnContext(r.Context(), "rate limit exceeded",
					slog.String("remote_ip", ip),
					slog.String("path", r.URL.Path),
				)
				// server_error keeps throttled clients in their
				// transient-failure path: cached state untouched,
				// retried on the next cycle.
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, licensing.ErrorResponse{OK: false, Error: licensing.CodeServerError})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AdminAuth guards the admin surface with a bearer token checked
// against a bcrypt hash from configuration. An empty hash disables the
// surface entirely.
func AdminAuth(tokenHash string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				http.NotFound(w, r)
				return
			}

			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)) != nil {
				logger.WarnContext(r.Context(), "admin auth rejected",
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("path", r.URL.Path),
				)
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, licensing.ErrorResponse{OK: false, Error: licensing.CodeBadRequest})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
