package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"uprpc/codec"
	"uprpc/keyexpr"
	"uprpc/message"
	"uprpc/server"
	"uprpc/status"
	"uprpc/transport"
	"uprpc/uri"
)

var (
	self   = uri.UUri{AuthorityName: "vehicle", UeID: 0x10AB, UeVersionMajor: 1}
	method = uri.UUri{AuthorityName: "vehicle", UeID: 0x2002, UeVersionMajor: 2, ResourceID: 0x7}
)

// fixedProvider always reports self.
type fixedProvider struct{}

func (fixedProvider) SourceURI() uri.UUri { return self }

// countingSession counts Get calls and optionally fails them.
type countingSession struct {
	transport.Session
	gets atomic.Int32
	err  error
}

func (s *countingSession) Get(ctx context.Context, q *transport.Query) (<-chan transport.Reply, error) {
	s.gets.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.Session.Get(ctx, q)
}

// failingCodec cannot encode anything.
type failingCodec struct{}

func (failingCodec) Encode(*message.Attributes) ([]byte, error) {
	return nil, errors.New("codec broken")
}

func (failingCodec) Decode([]byte) (*message.Attributes, error) {
	return nil, errors.New("codec broken")
}

func (failingCodec) Type() codec.CodecType { return codec.CodecTypeProtobuf }

func newSession(t *testing.T) *transport.LocalSession {
	t.Helper()
	session := transport.NewLocalSession()
	t.Cleanup(func() { session.Close() })
	return session
}

// respond declares a raw responder for method on session.
func respond(t *testing.T, session transport.Session, handler transport.QueryHandler) {
	t.Helper()
	key := keyexpr.NewResolver(keyexpr.DefaultAuthority).Key(uri.Any(), &method)
	_, err := session.DeclareQueryable(key, handler)
	require.NoError(t, err)
}

func requireRpcError(t *testing.T, err error) *RpcError {
	t.Helper()
	require.Error(t, err)
	var rpcErr *RpcError
	require.True(t, errors.As(err, &rpcErr), "want *RpcError, got %T: %v", err, err)
	assert.Equal(t, status.Internal, rpcErr.Code())
	return rpcErr
}

func TestInvokeEchoText(t *testing.T) {
	session := newSession(t)
	srv := server.NewServer(session, nil)
	t.Cleanup(func() { srv.Close() })
	require.NoError(t, srv.RegisterHandler(method, func(ctx context.Context, req *message.Message) *message.Message {
		return &message.Message{Payload: req.Payload}
	}))

	c := NewClient(session, fixedProvider{})
	result, err := c.InvokeMethod(context.Background(), method, NewCallOptions(1000), message.NewPayload([]byte("hello"), message.FormatText))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, []byte("hello"), result.Data)
	assert.Equal(t, message.FormatText, result.Format)
}

func TestInvokeReturnsReplyFormat(t *testing.T) {
	session := newSession(t)
	srv := server.NewServer(session, nil, server.WithCodec(&codec.BinaryCodec{}))
	t.Cleanup(func() { srv.Close() })
	require.NoError(t, srv.RegisterHandler(method, func(ctx context.Context, req *message.Message) *message.Message {
		return &message.Message{Payload: message.NewPayload([]byte(`{"ok":true}`), message.FormatJSON)}
	}))

	c := NewClient(session, fixedProvider{})
	result, err := c.InvokeMethod(context.Background(), method, NewCallOptions(1000), message.NewPayload([]byte("q"), message.FormatText))
	require.NoError(t, err)
	assert.Equal(t, message.FormatJSON, result.Format, "reply format is independent of the request format")
	assert.Equal(t, []byte(`{"ok":true}`), result.Data)
}

func TestInvokeSendsRequestAttributes(t *testing.T) {
	session := newSession(t)
	seen := make(chan *message.Attributes, 1)
	respond(t, session, func(q *transport.IncomingQuery) {
		attrs, err := codec.DecodeAttachment(q.Attachment)
		if err == nil {
			seen <- attrs
		}
		_ = q.Reply(nil, nil)
	})

	id := message.NewUUID()
	c := NewClient(session, fixedProvider{})
	_, err := c.InvokeMethod(context.Background(), method,
		NewCallOptions(250, WithPriority(message.PriorityCS5), WithMessageID(id), WithToken("secret")),
		message.NewPayload([]byte("x"), message.FormatRaw))
	require.NoError(t, err)

	attrs := <-seen
	require.NoError(t, attrs.ValidateRequest())
	assert.Equal(t, id, attrs.ID)
	assert.Equal(t, message.PriorityCS5, attrs.Priority)
	assert.Equal(t, "secret", attrs.Token)
	assert.EqualValues(t, 250, attrs.TTL)
	assert.Equal(t, self, *attrs.Source)
	assert.Equal(t, method, *attrs.Sink)
	assert.Equal(t, message.FormatRaw, attrs.PayloadFormat)
}

func TestInvokeDefaultsPriorityUnspecified(t *testing.T) {
	attrs := buildAttributes(self, method, NewCallOptions(100), nil)
	assert.Equal(t, message.TypeRequest, attrs.Type)
	assert.Equal(t, message.PriorityUnspecified, attrs.Priority)
	assert.Equal(t, message.FormatUnspecified, attrs.PayloadFormat)
	assert.False(t, attrs.ID.IsZero())
	assert.Empty(t, attrs.Token)
}

func TestInvokeWithoutPayload(t *testing.T) {
	session := newSession(t)
	type seenQuery struct {
		body  []byte
		attrs *message.Attributes
	}
	seen := make(chan seenQuery, 1)
	respond(t, session, func(q *transport.IncomingQuery) {
		attrs, _ := codec.DecodeAttachment(q.Attachment)
		seen <- seenQuery{body: q.Body, attrs: attrs}
		_ = q.Reply([]byte("pong"), nil)
	})

	c := NewClient(session, fixedProvider{})
	result, err := c.InvokeMethod(context.Background(), method, NewCallOptions(1000), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("pong"), result.Data)
	assert.Equal(t, message.FormatUnspecified, result.Format)

	q := <-seen
	assert.Nil(t, q.body)
	require.NotNil(t, q.attrs)
	assert.Equal(t, message.FormatUnspecified, q.attrs.PayloadFormat)
}

func TestInvokeUniqueIDsUnderConcurrency(t *testing.T) {
	session := newSession(t)
	var mu sync.Mutex
	ids := make(map[message.UUID]int)
	respond(t, session, func(q *transport.IncomingQuery) {
		attrs, err := codec.DecodeAttachment(q.Attachment)
		if err == nil {
			mu.Lock()
			ids[attrs.ID]++
			mu.Unlock()
		}
		_ = q.Reply(q.Body, nil)
	})

	c := NewClient(session, fixedProvider{})
	const calls = 64
	var g errgroup.Group
	for i := 0; i < calls; i++ {
		g.Go(func() error {
			_, err := c.InvokeMethod(context.Background(), method, NewCallOptions(2000), nil)
			return err
		})
	}
	require.NoError(t, g.Wait())

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, ids, calls)
	for id, n := range ids {
		assert.False(t, id.IsZero())
		assert.Equal(t, 1, n, "id %s used twice", id)
	}
}

func TestInvokeUndecodableReplyAttachment(t *testing.T) {
	session := newSession(t)
	respond(t, session, func(q *transport.IncomingQuery) {
		_ = q.Reply([]byte("data"), []byte{0x01, 0x09, 0xFF})
	})

	c := NewClient(session, fixedProvider{})
	result, err := c.InvokeMethod(context.Background(), method, NewCallOptions(1000), message.NewPayload([]byte("x"), message.FormatText))
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), result.Data)
	assert.Equal(t, message.FormatUnspecified, result.Format)
}

func TestInvokeEncodeFailureSendsNothing(t *testing.T) {
	session := &countingSession{Session: newSession(t)}
	core, logs := observer.New(zap.ErrorLevel)

	c := NewClient(session, fixedProvider{}, WithCodec(failingCodec{}), WithLogger(zap.New(core)))
	_, err := c.InvokeMethod(context.Background(), method, NewCallOptions(100), nil)

	var internal *InternalError
	require.True(t, errors.As(err, &internal), "want *InternalError, got %T", err)
	assert.Contains(t, internal.Message, "codec broken")
	assert.EqualValues(t, 0, session.gets.Load())
	assert.Equal(t, 1, logs.Len())
}

func TestInvokeEncodeFailureInvalidToken(t *testing.T) {
	session := &countingSession{Session: newSession(t)}
	c := NewClient(session, fixedProvider{})

	_, err := c.InvokeMethod(context.Background(), method, NewCallOptions(100, WithToken("\xff\xfe")), nil)
	var internal *InternalError
	require.True(t, errors.As(err, &internal))
	assert.EqualValues(t, 0, session.gets.Load())
}

func TestInvokeSendFailure(t *testing.T) {
	session := &countingSession{Session: newSession(t), err: transport.ErrSessionClosed}
	c := NewClient(session, fixedProvider{})

	_, err := c.InvokeMethod(context.Background(), method, NewCallOptions(100), nil)
	rpcErr := requireRpcError(t, err)
	assert.True(t, strings.HasPrefix(rpcErr.Status.Message, "Error while sending query"))
	assert.ErrorIs(t, err, transport.ErrSessionClosed)
	assert.EqualValues(t, 1, session.gets.Load())
}

func TestInvokeTimeout(t *testing.T) {
	session := newSession(t)
	release := make(chan struct{})
	respond(t, session, func(q *transport.IncomingQuery) {
		<-release
	})
	t.Cleanup(func() { close(release) })

	c := NewClient(session, fixedProvider{})
	start := time.Now()
	_, err := c.InvokeMethod(context.Background(), method, NewCallOptions(100), nil)
	elapsed := time.Since(start)

	requireRpcError(t, err)
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
	assert.LessOrEqual(t, elapsed, 150*time.Millisecond)
}

func TestInvokeNoResponder(t *testing.T) {
	c := NewClient(newSession(t), fixedProvider{})
	_, err := c.InvokeMethod(context.Background(), method, NewCallOptions(1000), nil)
	requireRpcError(t, err)
}

func TestInvokeReplyError(t *testing.T) {
	session := newSession(t)
	respond(t, session, func(q *transport.IncomingQuery) {
		_ = q.ReplyErr([]byte("PERMISSION_DENIED: go away"))
	})

	c := NewClient(session, fixedProvider{})
	_, err := c.InvokeMethod(context.Background(), method, NewCallOptions(1000), nil)
	rpcErr := requireRpcError(t, err)
	assert.True(t, strings.HasPrefix(rpcErr.Status.Message, "Error while parsing reply"))
	assert.Contains(t, rpcErr.Status.Message, "go away")

	var replyErr *transport.ReplyError
	assert.True(t, errors.As(err, &replyErr))
}

func TestInvokeContextCanceled(t *testing.T) {
	session := newSession(t)
	release := make(chan struct{})
	respond(t, session, func(q *transport.IncomingQuery) {
		<-release
	})
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	c := NewClient(session, fixedProvider{})
	start := time.Now()
	_, err := c.InvokeMethod(ctx, method, NewCallOptions(5000), nil)
	requireRpcError(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestInvocationErrorIsSealed(t *testing.T) {
	var _ InvocationError = (*InternalError)(nil)
	var _ InvocationError = (*RpcError)(nil)

	e := newRpcError(status.Internal, "boom", nil)
	assert.Equal(t, "rpc error: INTERNAL: boom", e.Error())
	assert.Equal(t, "internal error: x", (&InternalError{Message: "x"}).Error())
}
