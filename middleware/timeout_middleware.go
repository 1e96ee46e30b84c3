package middleware

import (
	"context"
	"time"

	"uprpc/message"
	"uprpc/status"
)

// TimeOutMiddleware bounds the handler by timeout. The handler keeps running in
// the background after the deadline but its result is discarded.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Message, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.Failure(status.DeadlineExceeded, "request timed out")
			}
		}
	}
}
