package router

import (
	"net"
	"sync"

	"uprpc/protocol"
)

// peer is one connected session. Frames for it are written by many goroutines
// (routes, relays, timers), so writes are serialized.
type peer struct {
	conn    net.Conn
	addr    string
	writeMu sync.Mutex
}

func (p *peer) send(frameType protocol.FrameType, seq uint32, body []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return protocol.Encode(p.conn, &protocol.Header{Type: frameType, Seq: seq}, body)
}
