// Package transport provides the query/reply sessions the RPC layer runs on.
//
// A Session offers one request primitive, Get, which publishes a query on a key
// and returns a channel of replies. Each Get owns its channel, so replies can
// never be delivered to another caller:
//
//	goroutine-1 ──Get(key A)──► replies-1 ◄── responder on A
//	goroutine-2 ──Get(key B)──► replies-2 ◄── responder on B
//
// The channel is closed when every selected responder has finished or the
// query timeout elapses, whichever comes first. Replies arriving after that are
// dropped.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// QueryTarget selects which matching queryables receive a query.
type QueryTarget uint32

const (
	// TargetBestMatching sends the query to the single most specific queryable.
	TargetBestMatching QueryTarget = 0
	// TargetAll sends the query to every matching queryable.
	TargetAll QueryTarget = 1
)

func (t QueryTarget) String() string {
	if t == TargetAll {
		return "all"
	}
	return "best-matching"
}

var (
	ErrSessionClosed = errors.New("transport: session closed")
	ErrNilQuery      = errors.New("transport: nil query")
	ErrNilHandler    = errors.New("transport: nil query handler")
)

// Query is one outbound query.
type Query struct {
	Key        string
	Body       []byte // nil means the query carries no body
	Attachment []byte
	Target     QueryTarget
	Timeout    time.Duration
}

// Sample is a successful reply.
type Sample struct {
	Key        string
	Payload    []byte
	Attachment []byte
}

// Reply is one item on a reply channel: either a sample or an error value sent
// by the responder.
type Reply struct {
	Sample *Sample
	Err    error
}

// ReplyError is the error value a responder sends instead of a sample.
type ReplyError struct {
	Payload []byte
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("reply error: %s", e.Payload)
}

// QueryHandler serves one incoming query. The query is finalized when the
// handler returns, so replies must be sent before returning.
type QueryHandler func(q *IncomingQuery)

// Queryable is a declared handler.
type Queryable interface {
	KeyExpr() string
	Undeclare() error
}

// Session is the transport capability the RPC layer consumes. Implementations
// are safe for concurrent use.
type Session interface {
	// Get issues the query and returns its reply channel. An error means the
	// query was not sent.
	Get(ctx context.Context, q *Query) (<-chan Reply, error)
	// DeclareQueryable serves queries whose key intersects keyExpr.
	DeclareQueryable(keyExpr string, handler QueryHandler) (Queryable, error)
	Close() error
}

type replySink interface {
	reply(s *Sample) error
	replyErr(payload []byte) error
}

// IncomingQuery is a query delivered to a QueryHandler.
type IncomingQuery struct {
	Key        string
	Body       []byte
	Attachment []byte

	sink replySink
}

// Reply sends a sample back to the querier.
func (q *IncomingQuery) Reply(payload, attachment []byte) error {
	return q.sink.reply(&Sample{Key: q.Key, Payload: payload, Attachment: attachment})
}

// ReplyErr sends an error value back to the querier.
func (q *IncomingQuery) ReplyErr(payload []byte) error {
	return q.sink.replyErr(payload)
}
