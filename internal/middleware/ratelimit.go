package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/logger"
)

// limiterKey identifies the caller: the authenticated user when present,
// otherwise the client address.
func limiterKey(r *http.Request) string {
	if id := GetUserID(r.Context()); id != "" {
		return "user:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

type visitor struct {
	count       int
	windowStart time.Time
}

// RateLimiter is a fixed-window limiter kept in process memory.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    int
	window   time.Duration
	now      func() time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Cleanup evicts idle visitors every window until ctx is cancelled.
func (rl *RateLimiter) Cleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, v := range rl.visitors {
				if now.Sub(v.windowStart) > rl.window {
					delete(rl.visitors, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// allow counts one request for key and reports whether it is within limit.
func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, exists := rl.visitors[key]
	if !exists || now.Sub(v.windowStart) > rl.window {
		rl.visitors[key] = &visitor{count: 1, windowStart: now}
		return true
	}
	v.count++
	return v.count <= rl.limit
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(limiterKey(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests. Please try again later.", r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type windowCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisRateLimiter is a fixed-window limiter shared by every API instance.
// Counts live under ratelimit:{scope}:{caller}:{window}. Redis failures let
// the request through.
type RedisRateLimiter struct {
	redis  windowCounter
	scope  string
	limit  int
	window time.Duration
	log    *logger.Logger
	now    func() time.Time
}

func NewRedisRateLimiter(client windowCounter, scope string, limit int, window time.Duration, log *logger.Logger) *RedisRateLimiter {
	return &RedisRateLimiter{
		redis:  client,
		scope:  scope,
		limit:  limit,
		window: window,
		log:    log.With("component", "ratelimit", "scope", scope),
		now:    time.Now,
	}
}

func (rl *RedisRateLimiter) windowKey(caller string) string {
	bucket := rl.now().UnixNano() / int64(rl.window)
	return fmt.Sprintf("ratelimit:%s:%s:%d", rl.scope, caller, bucket)
}

func (rl *RedisRateLimiter) Allow(ctx context.Context, caller string) (bool, error) {
	key := rl.windowKey(caller)
	n, err := rl.redis.Incr(ctx, key).Result()
	if err != nil {
		return true, err
	}
	if n == 1 {
		if err := rl.redis.Expire(ctx, key, rl.window+time.Second).Err(); err != nil {
			return true, err
		}
	}
	return n <= int64(rl.limit), nil
}

func (rl *RedisRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := limiterKey(r)
		allowed, err := rl.Allow(r.Context(), caller)
		if err != nil {
			rl.log.Warn("rate limiter unavailable", "error", err, "caller", caller)
		}
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests. Please try again later.", r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
