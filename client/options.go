package client

import (
	"go.uber.org/zap"

	"uprpc/codec"
	"uprpc/keyexpr"
	"uprpc/message"
)

// CallOptions are the per-call settings of InvokeMethod.
type CallOptions struct {
	// TTL bounds the wait for the reply, in milliseconds.
	TTL       uint32
	Priority  message.Priority
	MessageID *message.UUID // generated when nil
	Token     string
}

// CallOption sets an optional CallOptions field.
type CallOption func(*CallOptions)

// NewCallOptions returns options with the given ttl, unspecified priority, no
// token and a message id generated per call.
func NewCallOptions(ttl uint32, opts ...CallOption) CallOptions {
	o := CallOptions{TTL: ttl, Priority: message.PriorityUnspecified}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func WithPriority(p message.Priority) CallOption {
	return func(o *CallOptions) {
		o.Priority = p
	}
}

// WithMessageID makes the request use id instead of a generated one.
func WithMessageID(id message.UUID) CallOption {
	return func(o *CallOptions) {
		o.MessageID = &id
	}
}

func WithToken(token string) CallOption {
	return func(o *CallOptions) {
		o.Token = token
	}
}

// Option configures an RpcClient.
type Option func(*RpcClient)

// WithCodec sets the codec request attributes are encoded with.
func WithCodec(cdc codec.Codec) Option {
	return func(c *RpcClient) {
		c.codec = cdc
	}
}

// WithLogger sets the client logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *RpcClient) {
		c.log = log
	}
}

// WithKeyResolver replaces the default key resolver. It must agree with the
// resolver responders declare their handlers with.
func WithKeyResolver(r keyexpr.KeyResolver) Option {
	return func(c *RpcClient) {
		c.resolver = r
	}
}
