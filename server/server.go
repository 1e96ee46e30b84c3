// Package server implements the responder side of the RPC layer: method
// handlers served on a transport session, wrapped in a middleware chain.
//
// Request processing pipeline:
//
//	query on up/*/*/*/*/*/<method> → serve (one goroutine per query, owned by the session)
//	  → DecodeAttachment → ValidateRequest → Middleware Chain → handler
//	  → RESPONSE attributes → EncodeAttachment → reply
//
// A handler that returns a message with a non-OK status (message.Failure) is
// answered with an error reply instead of a sample.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"uprpc/codec"
	"uprpc/keyexpr"
	"uprpc/message"
	"uprpc/middleware"
	"uprpc/status"
	"uprpc/transport"
	"uprpc/uri"
)

var (
	ErrAlreadyRegistered = errors.New("server: handler already registered")
	ErrNotRegistered     = errors.New("server: handler not registered")
	ErrNotAMethod        = errors.New("server: uri is not an rpc method")
	ErrServerClosed      = errors.New("server: closed")
)

// Server serves registered methods on a session.
type Server struct {
	session  transport.Session
	resolver keyexpr.KeyResolver
	codec    codec.Codec
	log      *zap.Logger

	mu          sync.Mutex
	middlewares []middleware.Middleware // applied in the order they are added
	handlers    map[string]transport.Queryable
	closed      bool

	ctx    context.Context // canceled on Close, parent of every request context
	cancel context.CancelFunc
}

// Option configures a Server.
type Option func(*Server)

// WithCodec sets the codec response attachments are encoded with. Requests are
// decoded with whatever codec their attachment names.
func WithCodec(c codec.Codec) Option {
	return func(s *Server) {
		s.codec = c
	}
}

// WithLogger sets the server logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// NewServer creates a server on session. resolver must derive the same keys as
// the one clients use; nil means a keyexpr.Resolver with
// keyexpr.DefaultAuthority.
func NewServer(session transport.Session, resolver keyexpr.KeyResolver, opts ...Option) *Server {
	if resolver == nil {
		resolver = keyexpr.NewResolver(keyexpr.DefaultAuthority)
	}
	s := &Server{
		session:  session,
		resolver: resolver,
		codec:    codec.Default(),
		log:      zap.NewNop(),
		handlers: make(map[string]transport.Queryable),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Use registers a middleware. It applies to handlers registered afterwards.
//
//	Use(A); Use(B); RegisterHandler(m, h)  →  A(B(h))
func (s *Server) Use(mw middleware.Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middlewares = append(s.middlewares, mw)
}

// RegisterHandler serves method for requests from any origin.
func (s *Server) RegisterHandler(method uri.UUri, handler middleware.HandlerFunc) error {
	return s.RegisterHandlerFrom(uri.Any(), method, handler)
}

// RegisterHandlerFrom serves method for requests whose source matches origin.
// Wildcard fields of origin match any value.
func (s *Server) RegisterHandlerFrom(origin, method uri.UUri, handler middleware.HandlerFunc) error {
	if handler == nil {
		return transport.ErrNilHandler
	}
	if !method.IsRpcMethod() {
		return fmt.Errorf("%w: %s", ErrNotAMethod, method)
	}
	key := s.resolver.Key(origin, &method)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	if _, ok := s.handlers[key]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, key)
	}

	chain := middleware.Chain(s.middlewares...)(handler)
	queryable, err := s.session.DeclareQueryable(key, func(q *transport.IncomingQuery) {
		s.serve(q, chain)
	})
	if err != nil {
		return fmt.Errorf("server: declare %s: %w", key, err)
	}
	s.handlers[key] = queryable
	s.log.Info("handler registered", zap.String("method", method.String()), zap.String("key", key))
	return nil
}

// UnregisterHandler stops serving a method registered with RegisterHandler.
func (s *Server) UnregisterHandler(method uri.UUri) error {
	return s.UnregisterHandlerFrom(uri.Any(), method)
}

// UnregisterHandlerFrom stops serving a method registered with
// RegisterHandlerFrom.
func (s *Server) UnregisterHandlerFrom(origin, method uri.UUri) error {
	key := s.resolver.Key(origin, &method)

	s.mu.Lock()
	queryable, ok := s.handlers[key]
	delete(s.handlers, key)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, key)
	}
	if err := queryable.Undeclare(); err != nil {
		return fmt.Errorf("server: undeclare %s: %w", key, err)
	}
	s.log.Info("handler unregistered", zap.String("method", method.String()))
	return nil
}

// Close unregisters every handler and cancels the contexts of running ones.
// The session itself stays open.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	handlers := s.handlers
	s.handlers = make(map[string]transport.Queryable)
	s.mu.Unlock()

	var result *multierror.Error
	for key, queryable := range handlers {
		if err := queryable.Undeclare(); err != nil {
			result = multierror.Append(result, fmt.Errorf("undeclare %s: %w", key, err))
		}
	}
	s.cancel()
	return result.ErrorOrNil()
}

// serve handles one query. Replies are sent before returning, since the
// session finalizes the query afterwards.
func (s *Server) serve(q *transport.IncomingQuery, handler middleware.HandlerFunc) {
	attrs, err := codec.DecodeAttachment(q.Attachment)
	if err != nil {
		s.log.Warn("undecodable request attachment", zap.String("key", q.Key), zap.Error(err))
		s.replyErr(q, status.Newf(status.InvalidArgument, "invalid request attributes: %v", err))
		return
	}
	if err := attrs.ValidateRequest(); err != nil {
		s.log.Warn("invalid request", zap.String("key", q.Key), zap.Error(err))
		s.replyErr(q, status.Newf(status.InvalidArgument, "%v", err))
		return
	}

	ctx := s.ctx
	if attrs.TTL > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(attrs.TTL)*time.Millisecond)
		defer cancel()
	}

	req := &message.Message{Attributes: attrs}
	if q.Body != nil {
		req.Payload = message.NewPayload(q.Body, attrs.PayloadFormat)
	}

	resp := handler(ctx, req)
	if resp.Failed() {
		s.replyErr(q, resp.FailureStatus())
		return
	}

	respAttrs := responseAttributes(attrs, resp)
	attachment, err := codec.EncodeAttachment(s.codec, respAttrs)
	if err != nil {
		s.log.Error("encode response attributes", zap.Stringer("msg_id", attrs.ID), zap.Error(err))
		s.replyErr(q, status.Newf(status.Internal, "encode response attributes: %v", err))
		return
	}

	var data []byte
	if resp != nil && resp.Payload != nil {
		data = resp.Payload.Data
	}
	if err := q.Reply(data, attachment); err != nil {
		s.log.Debug("reply dropped", zap.Stringer("msg_id", attrs.ID), zap.Error(err))
	}
}

func (s *Server) replyErr(q *transport.IncomingQuery, st status.Status) {
	if err := q.ReplyErr([]byte(st.String())); err != nil {
		s.log.Debug("error reply dropped", zap.String("key", q.Key), zap.Error(err))
	}
}

// responseAttributes builds the RESPONSE record for req: source and sink
// swapped, reqid set to the request id.
func responseAttributes(req *message.Attributes, resp *message.Message) *message.Attributes {
	ok := status.OK
	attrs := &message.Attributes{
		Type:        message.TypeResponse,
		ID:          message.NewUUID(),
		Priority:    req.Priority,
		Source:      req.Sink,
		Sink:        req.Source,
		CommStatus:  &ok,
		ReqID:       req.ID,
		TraceParent: req.TraceParent,
	}
	if resp != nil && resp.Payload != nil {
		attrs.PayloadFormat = resp.Payload.Format
	}
	return attrs
}
