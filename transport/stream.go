package transport

import (
	"errors"
	"sync"
)

var errStreamClosed = errors.New("transport: reply stream closed")

// replyStream is the sending half of one query's reply channel. It closes the
// channel exactly once and drops anything pushed afterwards.
type replyStream struct {
	mu     sync.Mutex
	ch     chan Reply
	closed bool
}

func newReplyStream(capacity int) *replyStream {
	if capacity < 1 {
		capacity = 1
	}
	return &replyStream{ch: make(chan Reply, capacity)}
}

// push delivers r unless the stream is closed or its buffer is full.
func (s *replyStream) push(r Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	select {
	case s.ch <- r:
		return nil
	default:
		// the querier only consumes what fits in the buffer
		return nil
	}
}

func (s *replyStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *replyStream) reply(sample *Sample) error {
	return s.push(Reply{Sample: sample})
}

func (s *replyStream) replyErr(payload []byte) error {
	return s.push(Reply{Err: &ReplyError{Payload: payload}})
}
