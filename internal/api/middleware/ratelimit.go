package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// WindowCounter increments the hit count of a fixed window.
type WindowCounter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounter keeps window counts in Redis so every API instance shares them.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter creates a Redis-backed window counter
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// Incr bumps the counter and sets its expiry in one round trip.
func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// RateLimiter implements fixed window rate limiting
type RateLimiter struct {
	counter WindowCounter
	logger  *zap.Logger
	now     func() time.Time
}

// RateLimitConfig defines rate limit rules
type RateLimitConfig struct {
	Name     string
	Requests int
	Window   time.Duration
	KeyFunc  func(*http.Request) string
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(counter WindowCounter, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		counter: counter,
		logger:  logger,
		now:     time.Now,
	}
}

// Limit returns a middleware that enforces config. Counter failures let the
// request through.
func (rl *RateLimiter) Limit(config RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := config.KeyFunc(r)
			if key == "" || config.Requests <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			allowed, remaining, reset, err := rl.check(r.Context(), key, config)
			if err != nil {
				rl.logger.Error("Rate limit check failed", zap.String("limit", config.Name), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.Requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

			if !allowed {
				retry := int64(reset.Sub(rl.now()).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
				rl.logger.Warn("Rate limit exceeded",
					zap.String("limit", config.Name),
					zap.String("key", key),
					zap.String("path", r.URL.Path),
				)
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded, try again later", "rate_limit")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) check(ctx context.Context, key string, config RateLimitConfig) (bool, int, time.Time, error) {
	now := rl.now()
	window := int64(config.Window.Seconds())
	if window <= 0 {
		window = 1
	}
	slot := now.Unix() / window
	redisKey := fmt.Sprintf("ratelimit:%s:%s:%d", config.Name, key, slot)

	count, err := rl.counter.Incr(ctx, redisKey, config.Window)
	if err != nil {
		return false, 0, time.Time{}, err
	}

	remaining := config.Requests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	reset := time.Unix((slot+1)*window, 0)
	return int(count) <= config.Requests, remaining, reset, nil
}

// ClientIP returns the remote host. chi's RealIP middleware has already
// applied proxy headers by the time this runs.
func ClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return ip
}

// KeyByIP generates rate limit key based on IP address
func KeyByIP(r *http.Request) string {
	return "ip:" + ClientIP(r)
}

// KeyByUser keys signed-in users by ID and everyone else by IP, since
// anonymous cookies are trivially reset.
func KeyByUser(r *http.Request) string {
	user := GetUser(r.Context())
	if user != nil && !user.IsAnonymous() {
		return "user:" + user.ID
	}
	return KeyByIP(r)
}

// ComposeRateLimit limits synchronous renders.
func ComposeRateLimit(perMinute int) RateLimitConfig {
	return RateLimitConfig{
		Name:     "compose",
		Requests: perMinute,
		Window:   time.Minute,
		KeyFunc:  KeyByUser,
	}
}

// JobRateLimit limits job submissions.
func JobRateLimit(perMinute int) RateLimitConfig {
	return RateLimitConfig{
		Name:     "jobs",
		Requests: perMinute,
		Window:   time.Minute,
		KeyFunc:  KeyByUser,
	}
}
