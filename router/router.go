// Package router implements the standalone query router RemoteSessions connect
// to. It keeps the queryables every session declared and forwards each query
// to the best-matching (or every matching) one, relaying replies back:
//
//	querier session ──query(seq=5)──► Router ──query(route=42, decl=3)──► responder session
//	querier session ◄──reply(seq=5)── Router ◄──reply(route=42)────────── responder session
//	querier session ◄──final(seq=5)── Router ◄──final(route=42)────────── (or timeout)
//
// A route ends when every responder sent its final frame, when the query
// timeout elapses, or when a responder disconnects; the querier then receives
// its final frame.
package router

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"uprpc/keyexpr"
	"uprpc/protocol"
	"uprpc/registry"
	"uprpc/transport"
)

// Settings configures a Router.
type Settings struct {
	Log *zap.Logger

	// Registry, when set, receives the router's AdvertiseAddr under ServiceName
	// while it serves.
	Registry        registry.Registry
	ServiceName     string
	AdvertiseAddr   string
	RegistrationTTL int64 // seconds
	Weight          int

	// Metrics receives the router's collectors. Nil keeps them unexported.
	Metrics prometheus.Registerer

	// IdleTimeout drops sessions that sent nothing, heartbeats included, for
	// this long. Zero disables it.
	IdleTimeout time.Duration
	// DefaultQueryTimeout applies to queries that carry no timeout.
	DefaultQueryTimeout time.Duration
}

// DefaultSettings returns the settings used when none are given.
func DefaultSettings() Settings {
	return Settings{
		Log:                 zap.NewNop(),
		ServiceName:         "uprpc-router",
		RegistrationTTL:     10,
		Weight:              1,
		IdleTimeout:         90 * time.Second,
		DefaultQueryTimeout: 10 * time.Second,
	}
}

// Router routes queries between connected sessions.
type Router struct {
	settings Settings
	log      *zap.Logger
	metrics  *metrics

	listener net.Listener
	shutdown atomic.Bool
	conns    sync.WaitGroup // one per connected peer

	mu      sync.Mutex
	peers   map[*peer]struct{}
	decls   []*declaration // declaration order, used for tie-breaking
	routes  map[uint32]*route
	routeID uint32
}

type declaration struct {
	peer    *peer
	id      uint32
	keyExpr string
}

// route is one query in flight.
type route struct {
	id        uint32
	origin    *peer
	originSeq uint32
	awaiting  map[*peer]int // responders that have not sent their final frame
	timer     *time.Timer
	start     time.Time
}

// NewRouter creates a router. Call Serve or ListenAndServe to start it.
func NewRouter(settings Settings) *Router {
	if settings.Log == nil {
		settings.Log = zap.NewNop()
	}
	if settings.DefaultQueryTimeout <= 0 {
		settings.DefaultQueryTimeout = DefaultSettings().DefaultQueryTimeout
	}
	if settings.ServiceName == "" {
		settings.ServiceName = DefaultSettings().ServiceName
	}
	reg := settings.Metrics
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Router{
		settings: settings,
		log:      settings.Log,
		metrics:  newMetrics(reg),
		peers:    make(map[*peer]struct{}),
		routes:   make(map[uint32]*route),
	}
}

// ListenAndServe listens on the TCP address addr and serves.
func (r *Router) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("router: listen %s: %w", addr, err)
	}
	return r.Serve(l)
}

// Serve accepts sessions on l until Shutdown. It registers the router in the
// registry first, when one is configured, and returns nil after Shutdown.
func (r *Router) Serve(l net.Listener) error {
	r.mu.Lock()
	r.listener = l
	r.mu.Unlock()

	if r.settings.Registry != nil {
		addr := r.settings.AdvertiseAddr
		if addr == "" {
			addr = l.Addr().String()
		}
		err := r.settings.Registry.Register(r.settings.ServiceName, registry.ServiceInstance{
			Addr:   addr,
			Weight: r.settings.Weight,
		}, r.settings.RegistrationTTL)
		if err != nil {
			return fmt.Errorf("router: register %s: %w", r.settings.ServiceName, err)
		}
		r.settings.AdvertiseAddr = addr
	}
	r.log.Info("router serving", zap.String("addr", l.Addr().String()))

	for {
		conn, err := l.Accept()
		if err != nil {
			// closing the listener in Shutdown ends the loop
			if r.shutdown.Load() {
				return nil
			}
			return err
		}
		r.conns.Add(1)
		go r.handleConn(conn)
	}
}

// Addr returns the listener address, nil before Serve.
func (r *Router) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Shutdown deregisters the router, stops accepting sessions, closes the
// connected ones and waits up to timeout for their goroutines to finish.
func (r *Router) Shutdown(timeout time.Duration) error {
	var result *multierror.Error

	if r.settings.Registry != nil && r.settings.AdvertiseAddr != "" {
		if err := r.settings.Registry.Deregister(r.settings.ServiceName, r.settings.AdvertiseAddr); err != nil {
			result = multierror.Append(result, fmt.Errorf("deregister: %w", err))
		}
	}

	// set before closing the listener so Serve sees an intentional close
	r.shutdown.Store(true)
	r.mu.Lock()
	listener := r.listener
	peers := make([]*peer, 0, len(r.peers))
	for p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.Unlock()

	if listener != nil {
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, fmt.Errorf("close listener: %w", err))
		}
	}
	for _, p := range peers {
		if err := p.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, fmt.Errorf("close session %s: %w", p.addr, err))
		}
	}

	done := make(chan struct{})
	go func() {
		r.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		result = multierror.Append(result, errors.New("timeout waiting for sessions to close"))
	}
	return result.ErrorOrNil()
}

// handleConn is the single reader of one session's connection.
func (r *Router) handleConn(conn net.Conn) {
	defer r.conns.Done()
	p := &peer{conn: conn, addr: conn.RemoteAddr().String()}
	log := r.log.With(zap.String("remote", p.addr))

	r.mu.Lock()
	// checked under mu so Shutdown either sees this peer or it sees the flag
	if r.shutdown.Load() {
		r.mu.Unlock()
		conn.Close()
		return
	}
	r.peers[p] = struct{}{}
	r.mu.Unlock()
	r.metrics.sessions.Inc()
	log.Debug("session connected")

	defer func() {
		r.dropPeer(p)
		conn.Close()
		r.metrics.sessions.Dec()
		log.Debug("session disconnected")
	}()

	for {
		if r.settings.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(r.settings.IdleTimeout))
		}
		header, body, err := protocol.Decode(conn)
		if err != nil {
			if !r.shutdown.Load() && !errors.Is(err, net.ErrClosed) {
				log.Debug("read frame", zap.Error(err))
			}
			return
		}

		switch header.Type {
		case protocol.FrameDeclare:
			var db protocol.DeclareBody
			if err := db.Unmarshal(body); err != nil {
				log.Warn("malformed declare", zap.Error(err))
				continue
			}
			r.declare(p, header.Seq, db.KeyExpr)
		case protocol.FrameUndeclare:
			r.undeclare(p, header.Seq)
		case protocol.FrameQuery:
			var qb protocol.QueryBody
			if err := qb.Unmarshal(body); err != nil {
				log.Warn("malformed query", zap.Error(err))
				p.send(protocol.FrameReplyFinal, header.Seq, nil)
				continue
			}
			r.route(p, header.Seq, &qb)
		case protocol.FrameReply, protocol.FrameReplyErr:
			r.relay(p, header.Type, header.Seq, body)
		case protocol.FrameReplyFinal:
			r.finalize(p, header.Seq)
		case protocol.FrameHeartbeat:
		}
	}
}

func (r *Router) declare(p *peer, id uint32, keyExpr string) {
	if err := keyexpr.Validate(keyExpr); err != nil {
		r.log.Warn("invalid key expression", zap.String("remote", p.addr), zap.String("key_expr", keyExpr), zap.Error(err))
		return
	}
	r.mu.Lock()
	r.decls = append(r.decls, &declaration{peer: p, id: id, keyExpr: keyExpr})
	r.mu.Unlock()
	r.metrics.queryables.Inc()
	r.log.Debug("queryable declared", zap.String("remote", p.addr), zap.String("key_expr", keyExpr), zap.Uint32("decl_id", id))
}

func (r *Router) undeclare(p *peer, id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, d := range r.decls {
		if d.peer == p && d.id == id {
			r.decls = append(r.decls[:i:i], r.decls[i+1:]...)
			r.metrics.queryables.Dec()
			return
		}
	}
}

// route forwards a query to the selected declarations, or finalizes it at once
// when nothing matches.
func (r *Router) route(origin *peer, seq uint32, qb *protocol.QueryBody) {
	r.mu.Lock()
	targets := r.selectTargets(qb.Key, transport.QueryTarget(qb.Target))
	if len(targets) == 0 {
		r.mu.Unlock()
		r.metrics.queries.WithLabelValues("unrouted").Inc()
		r.log.Debug("no queryable matches", zap.String("key", qb.Key))
		origin.send(protocol.FrameReplyFinal, seq, nil)
		return
	}

	r.routeID++
	rt := &route{
		id:        r.routeID,
		origin:    origin,
		originSeq: seq,
		awaiting:  make(map[*peer]int, len(targets)),
		start:     time.Now(),
	}
	for _, d := range targets {
		rt.awaiting[d.peer]++
	}
	timeout := time.Duration(qb.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = r.settings.DefaultQueryTimeout
	}
	id := rt.id
	rt.timer = time.AfterFunc(timeout, func() { r.expire(id) })
	r.routes[id] = rt
	r.mu.Unlock()
	r.metrics.queries.WithLabelValues("routed").Inc()

	for _, d := range targets {
		fwd := *qb
		fwd.DeclID = d.id
		if err := d.peer.send(protocol.FrameQuery, id, fwd.Marshal()); err != nil {
			r.log.Debug("forward query", zap.String("remote", d.peer.addr), zap.Error(err))
			r.finalize(d.peer, id)
		}
	}
}

// selectTargets must be called with r.mu held.
func (r *Router) selectTargets(key string, target transport.QueryTarget) []*declaration {
	exprs := make([]string, len(r.decls))
	for i, d := range r.decls {
		exprs[i] = d.keyExpr
	}
	if target == transport.TargetAll {
		idx := keyexpr.Matching(exprs, key)
		targets := make([]*declaration, len(idx))
		for i, j := range idx {
			targets[i] = r.decls[j]
		}
		return targets
	}
	if best := keyexpr.BestMatch(exprs, key); best >= 0 {
		return []*declaration{r.decls[best]}
	}
	return nil
}

// relay passes a reply from a responder back to the querier.
func (r *Router) relay(from *peer, frameType protocol.FrameType, id uint32, body []byte) {
	r.mu.Lock()
	rt, ok := r.routes[id]
	if !ok || rt.awaiting[from] == 0 {
		r.mu.Unlock()
		return
	}
	origin, seq := rt.origin, rt.originSeq
	r.mu.Unlock()

	kind := "sample"
	if frameType == protocol.FrameReplyErr {
		kind = "error"
	}
	r.metrics.replies.WithLabelValues(kind).Inc()
	if err := origin.send(frameType, seq, body); err != nil {
		r.log.Debug("relay reply", zap.String("remote", origin.addr), zap.Error(err))
	}
}

// finalize records the final frame of one responder of a route.
func (r *Router) finalize(from *peer, id uint32) {
	r.mu.Lock()
	rt, ok := r.routes[id]
	if !ok || rt.awaiting[from] == 0 {
		r.mu.Unlock()
		return
	}
	rt.awaiting[from]--
	if rt.awaiting[from] == 0 {
		delete(rt.awaiting, from)
	}
	done := len(rt.awaiting) == 0
	if done {
		r.closeRoute(rt)
	}
	r.mu.Unlock()

	if done {
		r.sendFinal(rt)
	}
}

func (r *Router) expire(id uint32) {
	r.mu.Lock()
	rt, ok := r.routes[id]
	if ok {
		r.closeRoute(rt)
	}
	r.mu.Unlock()

	if ok {
		r.metrics.queries.WithLabelValues("timeout").Inc()
		r.log.Debug("query timed out", zap.Uint32("route", id))
		r.sendFinal(rt)
	}
}

// closeRoute must be called with r.mu held.
func (r *Router) closeRoute(rt *route) {
	delete(r.routes, rt.id)
	rt.timer.Stop()
	r.metrics.queryDuration.Observe(time.Since(rt.start).Seconds())
}

func (r *Router) sendFinal(rt *route) {
	if err := rt.origin.send(protocol.FrameReplyFinal, rt.originSeq, nil); err != nil {
		r.log.Debug("finalize query", zap.String("remote", rt.origin.addr), zap.Error(err))
	}
}

// dropPeer forgets a disconnected session: its declarations go away, routes it
// started are abandoned, and routes waiting on it no longer do.
func (r *Router) dropPeer(p *peer) {
	r.mu.Lock()
	delete(r.peers, p)

	kept := r.decls[:0]
	removed := 0
	for _, d := range r.decls {
		if d.peer == p {
			removed++
			continue
		}
		kept = append(kept, d)
	}
	for i := len(kept); i < len(r.decls); i++ {
		r.decls[i] = nil
	}
	r.decls = kept

	var finished []*route
	for _, rt := range r.routes {
		if rt.origin == p {
			r.closeRoute(rt)
			continue
		}
		if rt.awaiting[p] > 0 {
			delete(rt.awaiting, p)
			if len(rt.awaiting) == 0 {
				r.closeRoute(rt)
				finished = append(finished, rt)
			}
		}
	}
	r.mu.Unlock()

	r.metrics.queryables.Sub(float64(removed))
	for _, rt := range finished {
		r.sendFinal(rt)
	}
}
