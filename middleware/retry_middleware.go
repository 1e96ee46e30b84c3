package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"uprpc/message"
	"uprpc/status"
)

func retryable(code status.Code) bool {
	return code == status.DeadlineExceeded || code == status.Unavailable
}

// RetryMiddleware re-runs the handler up to maxRetries times while it fails with
// DEADLINE_EXCEEDED or UNAVAILABLE, sleeping baseDelay, 2*baseDelay, ...
// between attempts. It stops early when ctx is done.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			resp := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if !resp.Failed() || !retryable(resp.Attributes.Status()) {
					return resp
				}
				log.Info("retrying request",
					zap.String("method", method(req)),
					zap.Int("attempt", i+1),
					zap.Stringer("code", resp.Attributes.Status()),
				)
				select {
				case <-time.After(baseDelay * time.Duration(1<<i)):
				case <-ctx.Done():
					return resp
				}
				resp = next(ctx, req)
			}
			return resp
		}
	}
}
