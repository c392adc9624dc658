package middleware

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noctua-labs/jobqueue/internal/httpapi/response"
)

// RateLimitConfig controls the sliding-window rate limiter.
type RateLimitConfig struct {
	MaxRequests   int
	WindowSeconds int
}

// RateLimit builds a Redis-backed sliding-window rate limiter middleware.
// Only mutating requests (anything but GET/HEAD/OPTIONS) are limited, matching
// the producer-facing concern of bounding job-creation volume per client.
// Grounded on the source's ZREMRANGEBYSCORE/ZADD/ZCARD/EXPIRE pipeline.
func RateLimit(client *redis.Client, cfg RateLimitConfig) func(http.Handler) http.Handler {
	window := time.Duration(cfg.WindowSeconds) * time.Second

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if client == nil {
				next.ServeHTTP(w, r)
				return
			}

			clientIP := r.RemoteAddr
			if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				clientIP = host
			}
			key := "rate_limit:" + clientIP

			ctx := r.Context()
			now := time.Now()
			windowStart := now.Add(-window)

			pipe := client.Pipeline()
			pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
			pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: strconv.FormatInt(now.UnixNano(), 10)})
			card := pipe.ZCard(ctx, key)
			pipe.Expire(ctx, key, window)

			if _, err := pipe.Exec(ctx); err != nil {
				// Fail open: a broker hiccup should not block producers.
				next.ServeHTTP(w, r)
				return
			}

			if int(card.Val()) > cfg.MaxRequests {
				response.TooManyRequests(w, cfg.WindowSeconds)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
