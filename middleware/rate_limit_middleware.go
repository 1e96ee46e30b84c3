package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"uprpc/message"
	"uprpc/status"
)

// RateLimitMiddleware admits requests through a token bucket refilled at r per
// second holding up to burst tokens. Rejected requests fail with
// RESOURCE_EXHAUSTED.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			if !limiter.Allow() {
				return message.Failure(status.ResourceExhausted, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
