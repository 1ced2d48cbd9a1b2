package security

import (
	"fmt"
	"net/http"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	redis   *redis.Client
	window  time.Duration
	maxHits int
}

func NewRateLimiter(redisClient *redis.Client, window time.Duration, maxHits int) *RateLimiter {
	return &RateLimiter{
		redis:   redisClient,
		window:  window,
		maxHits: maxHits,
	}
}

// Middleware caps mutating lifecycle calls per caller within a rolling
// window. Authenticated callers are keyed by user id, anonymous ones by IP.
func (r *RateLimiter) Middleware() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		key := fmt.Sprintf("ratelimit:ip:%s", e.RealIP())
		if e.Auth != nil {
			key = fmt.Sprintf("ratelimit:user:%s", e.Auth.Id)
		}

		ctx := e.Request.Context()
		count, err := r.redis.Incr(ctx, key).Result()
		if err != nil {
			// Redis being down must not take the market down with it.
			return e.Next()
		}
		if count == 1 {
			r.redis.Expire(ctx, key, r.window)
		}
		if count > int64(r.maxHits) {
			return e.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}

		return e.Next()
	}
}
