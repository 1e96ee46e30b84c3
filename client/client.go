// Package client implements the calling side of the RPC layer on top of a
// query/reply transport session.
//
// One InvokeMethod call is one query:
//
//	buildAttributes → EncodeAttachment → KeyResolver.Key → Session.Get (best matching, ttl)
//	  → first reply → payload with the format from the reply's attachment
//
// Nothing is retried and no state outlives the call.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"uprpc/codec"
	"uprpc/keyexpr"
	"uprpc/message"
	"uprpc/status"
	"uprpc/transport"
	"uprpc/uri"
)

// RpcClient invokes remote methods. It holds no per-call state and is safe for
// concurrent use as long as the session is.
type RpcClient struct {
	session  transport.Session
	provider uri.LocalUriProvider
	resolver keyexpr.KeyResolver
	codec    codec.Codec
	log      *zap.Logger
}

// NewClient returns a client sending queries on session and stamping
// provider.SourceURI() as the source of every request.
func NewClient(session transport.Session, provider uri.LocalUriProvider, opts ...Option) *RpcClient {
	c := &RpcClient{
		session:  session,
		provider: provider,
		resolver: keyexpr.NewResolver(keyexpr.DefaultAuthority),
		codec:    codec.Default(),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InvokeMethod calls method and waits at most options.TTL milliseconds for
// its reply. payload may be nil, in which case the query carries no body.
//
// On success the returned payload holds the reply bytes and the format the
// responder declared in its reply attributes. Errors are *InternalError when
// the request attributes could not be encoded (nothing is sent) and *RpcError
// with code INTERNAL for every send, receive and timeout failure. A canceled
// ctx also ends the wait with an *RpcError.
//
// Encoding and decoding are deliberately asymmetric: a request whose
// attributes cannot be encoded fails, but a reply whose attachment cannot be
// decoded still succeeds with FormatUnspecified. The degraded format is the
// only sign of a corrupt reply attachment; it is logged at debug level.
func (c *RpcClient) InvokeMethod(ctx context.Context, method uri.UUri, options CallOptions, payload *message.Payload) (*message.Payload, error) {
	source := c.provider.SourceURI()
	attrs := buildAttributes(source, method, options, payload)
	log := c.log.With(zap.String("method", method.String()), zap.Stringer("msg_id", attrs.ID))

	attachment, err := codec.EncodeAttachment(c.codec, attrs)
	if err != nil {
		log.Error("unable to encode request attributes", zap.Error(err))
		return nil, &InternalError{Message: fmt.Sprintf("Unable to transform request attributes: %v", err)}
	}

	key := c.resolver.Key(source, &method)
	replies, err := c.dispatch(ctx, key, attachment, payload, options.TTL)
	if err != nil {
		log.Error("error while sending query", zap.String("key", key), zap.Error(err))
		return nil, newRpcError(status.Internal, fmt.Sprintf("Error while sending query: %v", err), err)
	}
	return c.interpret(ctx, log, replies, options.TTL)
}

// buildAttributes assembles the REQUEST record of one call. It cannot fail.
func buildAttributes(source, method uri.UUri, options CallOptions, payload *message.Payload) *message.Attributes {
	attrs := &message.Attributes{
		Type:          message.TypeRequest,
		Priority:      options.Priority,
		Source:        &source,
		Sink:          &method,
		TTL:           options.TTL,
		Token:         options.Token,
		PayloadFormat: message.FormatUnspecified,
	}
	if options.MessageID != nil && !options.MessageID.IsZero() {
		attrs.ID = *options.MessageID
	} else {
		attrs.ID = message.NewUUID()
	}
	if payload != nil {
		attrs.PayloadFormat = payload.Format
	}
	return attrs
}

// dispatch sends the single query of a call.
func (c *RpcClient) dispatch(ctx context.Context, key string, attachment []byte, payload *message.Payload, ttl uint32) (<-chan transport.Reply, error) {
	q := &transport.Query{
		Key:        key,
		Attachment: attachment,
		Target:     transport.TargetBestMatching,
		Timeout:    time.Duration(ttl) * time.Millisecond,
	}
	if payload != nil {
		q.Body = payload.Data
		if q.Body == nil {
			q.Body = []byte{}
		}
	}
	return c.session.Get(ctx, q)
}

// interpret waits for the first reply and turns it into the call result.
func (c *RpcClient) interpret(ctx context.Context, log *zap.Logger, replies <-chan transport.Reply, ttl uint32) (*message.Payload, error) {
	timer := time.NewTimer(time.Duration(ttl) * time.Millisecond)
	defer timer.Stop()

	var reply transport.Reply
	select {
	case r, ok := <-replies:
		if !ok {
			log.Error("error while receiving reply: no reply")
			return nil, newRpcError(status.Internal, "Error while receiving reply: no reply before timeout", nil)
		}
		reply = r
	case <-timer.C:
		log.Error("error while receiving reply: timed out", zap.Uint32("ttl_ms", ttl))
		return nil, newRpcError(status.Internal, fmt.Sprintf("Error while receiving reply: timed out after %dms", ttl), nil)
	case <-ctx.Done():
		log.Error("error while receiving reply", zap.Error(ctx.Err()))
		return nil, newRpcError(status.Internal, fmt.Sprintf("Error while receiving reply: %v", ctx.Err()), ctx.Err())
	}

	if reply.Err != nil || reply.Sample == nil {
		cause := reply.Err
		if cause == nil {
			cause = errors.New("empty reply")
		}
		log.Error("error while parsing reply", zap.Error(cause))
		return nil, newRpcError(status.Internal, fmt.Sprintf("Error while parsing reply: %v", cause), cause)
	}

	format := message.FormatUnspecified
	if attachment := reply.Sample.Attachment; len(attachment) > 0 {
		if attrs, err := codec.DecodeAttachment(attachment); err != nil {
			log.Debug("unable to decode reply attributes", zap.Error(err))
		} else {
			format = attrs.PayloadFormat
		}
	}
	return &message.Payload{Data: reply.Sample.Payload, Format: format}, nil
}
