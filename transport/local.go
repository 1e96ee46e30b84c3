package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"uprpc/keyexpr"
)

// localRepliesPerTarget is how many replies each selected handler can queue
// before further ones are dropped.
const localRepliesPerTarget = 4

// LocalSession routes queries between queryables declared in the same process.
// It is the in-memory counterpart of RemoteSession and behaves identically from
// the caller's point of view.
type LocalSession struct {
	log *zap.Logger

	mu         sync.RWMutex
	queryables []*localQueryable // declaration order, used for tie-breaking
	closed     bool

	handlers sync.WaitGroup // in-flight handler goroutines
}

// LocalOption configures a LocalSession.
type LocalOption func(*LocalSession)

// WithLocalLogger sets the session logger.
func WithLocalLogger(log *zap.Logger) LocalOption {
	return func(s *LocalSession) {
		s.log = log
	}
}

// NewLocalSession creates an empty in-process session.
func NewLocalSession(opts ...LocalOption) *LocalSession {
	s := &LocalSession{log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type localQueryable struct {
	session *LocalSession
	keyExpr string
	handler QueryHandler
}

func (q *localQueryable) KeyExpr() string {
	return q.keyExpr
}

func (q *localQueryable) Undeclare() error {
	return q.session.undeclare(q)
}

// DeclareQueryable registers handler for keys intersecting keyExpr.
func (s *LocalSession) DeclareQueryable(keyExpr string, handler QueryHandler) (Queryable, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if err := keyexpr.Validate(keyExpr); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	q := &localQueryable{session: s, keyExpr: keyExpr, handler: handler}
	s.queryables = append(s.queryables, q)
	s.log.Debug("queryable declared", zap.String("key_expr", keyExpr))
	return q, nil
}

func (s *LocalSession) undeclare(q *localQueryable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, candidate := range s.queryables {
		if candidate == q {
			s.queryables = append(s.queryables[:i:i], s.queryables[i+1:]...)
			s.log.Debug("queryable undeclared", zap.String("key_expr", q.keyExpr))
			return nil
		}
	}
	return fmt.Errorf("transport: queryable %q not declared", q.keyExpr)
}

// Get delivers the query to the selected queryables, each in its own goroutine.
// With no match the returned channel is closed without items.
func (s *LocalSession) Get(ctx context.Context, q *Query) (<-chan Reply, error) {
	if q == nil {
		return nil, ErrNilQuery
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrSessionClosed
	}
	targets := s.selectTargets(q.Key, q.Target)
	// registered under the read lock so Close waits for these handlers
	s.handlers.Add(len(targets))
	s.mu.RUnlock()

	stream := newReplyStream(len(targets) * localRepliesPerTarget)
	if len(targets) == 0 {
		s.log.Debug("no queryable matches", zap.String("key", q.Key))
		stream.close()
		return stream.ch, nil
	}

	var expire *time.Timer
	if q.Timeout <= 0 {
		// nothing can arrive in time, handlers still run but their replies are dropped
		stream.close()
	} else {
		expire = time.AfterFunc(q.Timeout, stream.close)
	}

	var done sync.WaitGroup
	done.Add(len(targets))
	for _, target := range targets {
		incoming := &IncomingQuery{Key: q.Key, Body: q.Body, Attachment: q.Attachment, sink: stream}
		go func(handler QueryHandler) {
			defer s.handlers.Done()
			defer done.Done()
			handler(incoming)
		}(target.handler)
	}
	go func() {
		done.Wait()
		if expire != nil {
			expire.Stop()
		}
		stream.close()
	}()
	return stream.ch, nil
}

func (s *LocalSession) selectTargets(key string, target QueryTarget) []*localQueryable {
	exprs := make([]string, len(s.queryables))
	for i, q := range s.queryables {
		exprs[i] = q.keyExpr
	}
	if target == TargetAll {
		idx := keyexpr.Matching(exprs, key)
		targets := make([]*localQueryable, len(idx))
		for i, j := range idx {
			targets[i] = s.queryables[j]
		}
		return targets
	}
	if best := keyexpr.BestMatch(exprs, key); best >= 0 {
		return []*localQueryable{s.queryables[best]}
	}
	return nil
}

// Close rejects further queries and waits for running handlers.
func (s *LocalSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queryables = nil
	s.mu.Unlock()

	s.handlers.Wait()
	return nil
}
