package middleware

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"wiretest/message"
)

// RateLimitMiddleware 创建一个基于令牌桶算法的限流中间件
//
// Unlike a server-side limiter it paces instead of rejecting: each value
// waits for a token, so a burst of sends is spread out rather than dropped.
// r <= 0 means unlimited.
func RateLimitMiddleware(r float64, burst int) Middleware {
	if r <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, env *message.Envelope) error {
			if err := limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limit: %w", err)
			}
			return next(ctx, env)
		}
	}
}
