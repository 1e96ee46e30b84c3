// Package middleware wraps responder handlers. A handler receives the decoded
// request message and returns the response message; failures are returned as
// messages with a non-OK status (see message.Failure), never as Go errors, so
// every layer can inspect and rewrite them.
package middleware

import (
	"context"

	"uprpc/message"
)

type HandlerFunc func(ctx context.Context, req *message.Message) *message.Message

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so that the first one is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

func method(req *message.Message) string {
	if req == nil || req.Attributes == nil || req.Attributes.Sink == nil {
		return ""
	}
	return req.Attributes.Sink.String()
}
