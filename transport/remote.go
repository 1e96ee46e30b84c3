package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"uprpc/keyexpr"
	"uprpc/protocol"
)

// Settings configures a RemoteSession.
type Settings struct {
	Log               *zap.Logger
	HeartbeatInterval time.Duration
	DialTimeout       time.Duration
	// ReplyBuffer is the reply channel capacity of queries sent with TargetAll.
	ReplyBuffer int
}

// DefaultSettings returns the settings used when none are given.
func DefaultSettings() Settings {
	return Settings{
		Log:               zap.NewNop(),
		HeartbeatInterval: 30 * time.Second,
		DialTimeout:       5 * time.Second,
		ReplyBuffer:       16,
	}
}

// RemoteSession is a Session multiplexed over one connection to a router.
//
// Every query gets a sequence id, and a background goroutine (recvLoop) reads
// frames and routes replies to the pending stream registered under that id:
//
//	goroutine-1 ──Get(seq=1)──┐
//	goroutine-2 ──Get(seq=2)──┼──→ single TCP conn ──→ Router ──→ responders
//	goroutine-3 ──Get(seq=3)──┘
//
//	recvLoop:  ←── reply(seq=2) → pending[2] → goroutine-2's channel
//
// The same loop receives queries the router forwards to queryables declared
// on this session and runs their handlers.
type RemoteSession struct {
	conn     net.Conn
	settings Settings
	log      *zap.Logger

	seq     uint32     // last query/declaration id, guarded by sending
	sending sync.Mutex // frames from different goroutines must not interleave

	pending    sync.Map // map[uint32]*replyStream
	queryables sync.Map // map[uint32]*remoteQueryable

	closed    atomic.Bool
	done      chan struct{}
	closeConn sync.Once
	handlers  sync.WaitGroup
}

// Dial connects to a router and starts the session.
func Dial(ctx context.Context, addr string, settings Settings) (*RemoteSession, error) {
	dialer := net.Dialer{Timeout: settings.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial router %s: %w", addr, err)
	}
	return NewRemoteSession(conn, settings), nil
}

// NewRemoteSession starts a session on an established connection. It runs two
// background goroutines: recvLoop and, when HeartbeatInterval > 0, a heartbeat
// loop that keeps idle connections alive.
func NewRemoteSession(conn net.Conn, settings Settings) *RemoteSession {
	if settings.Log == nil {
		settings.Log = zap.NewNop()
	}
	if settings.ReplyBuffer < 1 {
		settings.ReplyBuffer = 1
	}
	s := &RemoteSession{
		conn:     conn,
		settings: settings,
		log:      settings.Log.With(zap.String("remote", conn.RemoteAddr().String())),
		done:     make(chan struct{}),
	}
	go s.recvLoop()
	if settings.HeartbeatInterval > 0 {
		go s.heartbeatLoop(settings.HeartbeatInterval)
	}
	return s
}

// Get sends the query to the router. The reply stream is registered before
// the frame is written so recvLoop can never see a reply for an unknown id.
func (s *RemoteSession) Get(ctx context.Context, q *Query) (<-chan Reply, error) {
	if q == nil {
		return nil, ErrNilQuery
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}

	capacity := 1
	if q.Target == TargetAll {
		capacity = s.settings.ReplyBuffer
	}
	stream := newReplyStream(capacity)
	body := (&protocol.QueryBody{
		Key:        q.Key,
		Target:     uint32(q.Target),
		TimeoutMs:  uint32(q.Timeout / time.Millisecond),
		Attachment: q.Attachment,
		Payload:    q.Body,
	}).Marshal()

	s.sending.Lock()
	s.seq++
	seq := s.seq
	if !s.track(seq, stream) {
		s.sending.Unlock()
		return nil, ErrSessionClosed
	}
	err := protocol.Encode(s.conn, &protocol.Header{Type: protocol.FrameQuery, Seq: seq}, body)
	s.sending.Unlock()
	if err != nil {
		s.pending.Delete(seq)
		return nil, fmt.Errorf("transport: send query: %w", err)
	}

	if q.Timeout <= 0 {
		if _, ok := s.pending.LoadAndDelete(seq); ok {
			stream.close()
		}
		return stream.ch, nil
	}
	time.AfterFunc(q.Timeout, func() {
		if _, ok := s.pending.LoadAndDelete(seq); ok {
			s.log.Debug("query timed out", zap.Uint32("query_id", seq), zap.String("key", q.Key))
			stream.close()
		}
	})
	return stream.ch, nil
}

// track registers stream as pending for seq. A shutdown racing with the
// registration may have ranged over pending already, so closed is checked
// again after the store; the stream is then closed and false returned.
func (s *RemoteSession) track(seq uint32, stream *replyStream) bool {
	s.pending.Store(seq, stream)
	if !s.closed.Load() {
		return true
	}
	if _, ok := s.pending.LoadAndDelete(seq); ok {
		stream.close()
	}
	return false
}

type remoteQueryable struct {
	session *RemoteSession
	id      uint32
	keyExpr string
	handler QueryHandler
}

func (q *remoteQueryable) KeyExpr() string {
	return q.keyExpr
}

func (q *remoteQueryable) Undeclare() error {
	if _, ok := q.session.queryables.LoadAndDelete(q.id); !ok {
		return fmt.Errorf("transport: queryable %q not declared", q.keyExpr)
	}
	return q.session.write(protocol.FrameUndeclare, q.id, nil)
}

// DeclareQueryable announces keyExpr to the router, which then forwards
// matching queries to this session.
func (s *RemoteSession) DeclareQueryable(keyExpr string, handler QueryHandler) (Queryable, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if err := keyexpr.Validate(keyExpr); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}

	body := (&protocol.DeclareBody{KeyExpr: keyExpr}).Marshal()
	s.sending.Lock()
	s.seq++
	q := &remoteQueryable{session: s, id: s.seq, keyExpr: keyExpr, handler: handler}
	s.queryables.Store(q.id, q)
	err := protocol.Encode(s.conn, &protocol.Header{Type: protocol.FrameDeclare, Seq: q.id}, body)
	s.sending.Unlock()
	if err != nil {
		s.queryables.Delete(q.id)
		return nil, fmt.Errorf("transport: declare queryable: %w", err)
	}
	s.log.Debug("queryable declared", zap.String("key_expr", keyExpr), zap.Uint32("decl_id", q.id))
	return q, nil
}

func (s *RemoteSession) write(frameType protocol.FrameType, seq uint32, body []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.sending.Lock()
	defer s.sending.Unlock()
	return protocol.Encode(s.conn, &protocol.Header{Type: frameType, Seq: seq}, body)
}

// recvLoop is the single reader of the connection; frames must be read
// sequentially to keep their boundaries.
func (s *RemoteSession) recvLoop() {
	for {
		header, body, err := protocol.Decode(s.conn)
		if err != nil {
			if !s.closed.Load() {
				s.log.Warn("connection lost", zap.Error(err))
			}
			s.shutdown()
			s.closeConn.Do(func() { s.conn.Close() })
			return
		}

		switch header.Type {
		case protocol.FrameReply, protocol.FrameReplyErr:
			s.handleReply(header, body)
		case protocol.FrameReplyFinal:
			if stream, ok := s.pending.LoadAndDelete(header.Seq); ok {
				stream.(*replyStream).close()
			}
		case protocol.FrameQuery:
			s.handleQuery(header.Seq, body)
		case protocol.FrameHeartbeat:
		default:
			s.log.Warn("unexpected frame", zap.Stringer("frame", header.Type))
		}
	}
}

func (s *RemoteSession) handleReply(header *protocol.Header, body []byte) {
	value, ok := s.pending.Load(header.Seq)
	if !ok {
		// late reply for a query that already timed out
		return
	}
	stream := value.(*replyStream)

	var rb protocol.ReplyBody
	if err := rb.Unmarshal(body); err != nil {
		_ = stream.push(Reply{Err: fmt.Errorf("transport: malformed reply: %w", err)})
		return
	}
	if header.Type == protocol.FrameReplyErr {
		_ = stream.push(Reply{Err: &ReplyError{Payload: rb.Payload}})
		return
	}
	_ = stream.push(Reply{Sample: &Sample{Key: rb.Key, Payload: rb.Payload, Attachment: rb.Attachment}})
}

// handleQuery runs the handler of the declaration the router matched, then
// finalizes the query.
func (s *RemoteSession) handleQuery(routerSeq uint32, body []byte) {
	var qb protocol.QueryBody
	if err := qb.Unmarshal(body); err != nil {
		s.log.Warn("malformed query", zap.Error(err))
		_ = s.write(protocol.FrameReplyFinal, routerSeq, nil)
		return
	}
	value, ok := s.queryables.Load(qb.DeclID)
	if !ok {
		_ = s.write(protocol.FrameReplyFinal, routerSeq, nil)
		return
	}
	q := value.(*remoteQueryable)

	s.handlers.Add(1)
	go func() {
		defer s.handlers.Done()
		q.handler(&IncomingQuery{
			Key:        qb.Key,
			Body:       qb.Payload,
			Attachment: qb.Attachment,
			sink:       &remoteReplySink{session: s, seq: routerSeq, key: qb.Key},
		})
		if err := s.write(protocol.FrameReplyFinal, routerSeq, nil); err != nil {
			s.log.Debug("finalize query", zap.Uint32("query_id", routerSeq), zap.Error(err))
		}
	}()
}

type remoteReplySink struct {
	session *RemoteSession
	seq     uint32
	key     string
}

func (r *remoteReplySink) reply(sample *Sample) error {
	body := (&protocol.ReplyBody{Key: sample.Key, Payload: sample.Payload, Attachment: sample.Attachment}).Marshal()
	return r.session.write(protocol.FrameReply, r.seq, body)
}

func (r *remoteReplySink) replyErr(payload []byte) error {
	body := (&protocol.ReplyBody{Key: r.key, Payload: payload}).Marshal()
	return r.session.write(protocol.FrameReplyErr, r.seq, body)
}

// heartbeatLoop sends periodic heartbeat frames so the router does not drop an
// idle connection.
func (s *RemoteSession) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.write(protocol.FrameHeartbeat, 0, nil); err != nil {
				return
			}
		}
	}
}

// shutdown marks the session closed and releases every pending caller so none
// blocks until its timeout.
func (s *RemoteSession) shutdown() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.done)
	s.pending.Range(func(key, value any) bool {
		value.(*replyStream).close()
		s.pending.Delete(key)
		return true
	})
}

// Close closes the connection and waits for running handlers.
func (s *RemoteSession) Close() error {
	s.shutdown()
	var err error
	s.closeConn.Do(func() { err = s.conn.Close() })
	s.handlers.Wait()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
