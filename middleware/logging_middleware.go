package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"uprpc/message"
)

// LoggingMiddleware logs every request with its duration, and failures at warn
// level.
func LoggingMiddleware(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			start := time.Now()
			resp := next(ctx, req)

			fields := []zap.Field{
				zap.String("method", method(req)),
				zap.Duration("duration", time.Since(start)),
			}
			if req != nil && req.Attributes != nil {
				fields = append(fields, zap.Stringer("request_id", req.Attributes.ID))
			}
			if resp.Failed() {
				st := resp.FailureStatus()
				log.Warn("request failed", append(fields, zap.Stringer("code", st.Code), zap.String("error", st.Message))...)
				return resp
			}
			log.Debug("request served", fields...)
			return resp
		}
	}
}
