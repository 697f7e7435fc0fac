package middleware

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taiidzy/ren/internal/config"
	"github.com/taiidzy/ren/internal/metrics"
)

// RateLimiter is a Redis-backed fixed-window limiter with global, per-user,
// and per-IP tiers plus a strict mode for abuse-prone endpoints (auth,
// search). When Redis is unreachable requests are allowed through: the
// limiter protects capacity, it is not an auth boundary.
type RateLimiter struct {
	client *redis.Client
	cfg    *config.RateLimitConfig
	strict map[string]bool
	logger *log.Logger
}

// NewRateLimiter creates a rate limiter over the shared Redis client.
func NewRateLimiter(client *redis.Client, cfg *config.RateLimitConfig, logger *log.Logger) *RateLimiter {
	return &RateLimiter{
		client: client,
		cfg:    cfg,
		strict: make(map[string]bool),
		logger: logger,
	}
}

// SetEndpointStrictMode marks an endpoint ("METHOD /path") as strict.
func (rl *RateLimiter) SetEndpointStrictMode(endpoint string, strict bool) {
	rl.strict[endpoint] = strict
}

// Middleware enforces the limits for one request.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.Method + " " + r.URL.Path
		tier := "normal"
		limit := rl.cfg.PerUser
		if rl.strict[endpoint] {
			tier = "strict"
			limit = rl.cfg.Strict
		}

		ip := clientIP(r)
		allowed, err := rl.allow(r.Context(), "ip:"+ip+":"+endpoint, limit)
		if err != nil {
			rl.logger.Printf("rate limiter unavailable, allowing request: %v", err)
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			metrics.RateLimitHits.WithLabelValues(endpoint, tier).Inc()
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(limit.Window.Seconds())))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		if userID, ok := UserID(r); ok {
			allowed, err = rl.allow(r.Context(), fmt.Sprintf("user:%d", userID), rl.cfg.PerUser)
			if err == nil && !allowed {
				metrics.RateLimitHits.WithLabelValues(endpoint, "user").Inc()
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
		}

		allowed, err = rl.allow(r.Context(), "global", rl.cfg.Global)
		if err == nil && !allowed {
			metrics.RateLimitHits.WithLabelValues(endpoint, "global").Inc()
			http.Error(w, "server is at capacity, try again shortly", http.StatusTooManyRequests)
			return
		}

		metrics.RateLimitRequests.WithLabelValues(endpoint, tier, "allowed").Inc()
		next.ServeHTTP(w, r)
	})
}

// allow increments the fixed-window counter for a key and compares against
// the limit. The window key carries its own TTL, so expired windows clean
// themselves up.
func (rl *RateLimiter) allow(ctx context.Context, key string, limit *config.LimitConfig) (bool, error) {
	window := time.Now().Unix() / int64(limit.Window.Seconds())
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, window)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	pipe := rl.client.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, limit.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	return incr.Val() <= int64(limit.MaxRequests), nil
}

// clientIP extracts the real client IP from the request.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		if net.ParseIP(xrip) != nil {
			return xrip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
