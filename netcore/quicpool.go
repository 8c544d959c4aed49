package netcore

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/emberfox-browser/netcore/conn"
	"github.com/emberfox-browser/netcore/hcodec"
	"github.com/emberfox-browser/netcore/quictransport"
	"github.com/emberfox-browser/netcore/zerortt"
)

// quicPool holds one H3Connection per origin, the h3 analogue of
// conn.Dialer's hostPool but kept in netcore because conn.Dialer only dials
// h2 (see its type doc): the façade, not conn.Dialer, owns QUIC session
// lifetime.
type quicPool struct {
	mu    sync.Mutex
	conns map[string]*conn.H3Connection
}

func newQUICPool() *quicPool {
	return &quicPool{conns: make(map[string]*conn.H3Connection)}
}

func (p *quicPool) get(origin string) (*conn.H3Connection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.conns[origin]
	return c, ok
}

func (p *quicPool) put(origin string, c *conn.H3Connection) {
	p.mu.Lock()
	p.conns[origin] = c
	p.mu.Unlock()
}

func (p *quicPool) evict(origin string) {
	p.mu.Lock()
	delete(p.conns, origin)
	p.mu.Unlock()
}

// ticketTokenStore adapts a zerortt.Store to quic.TokenStore (Pop/Put by
// string key), the same narrowing quictransport.TokenStore documents: Pop
// hands quic-go the opaque resumption blob spec.md §4.2's ticket ranking
// already chose as "best for this origin", and Put is how quic-go hands
// back a freshly issued ticket after a successful handshake for next time.
type ticketTokenStore struct {
	store *zerortt.Store
	alpn  string
}

func (s ticketTokenStore) Pop(key string) []byte {
	t := s.store.TakeFor(key, s.alpn)
	if t == nil {
		return nil
	}
	return t.Opaque
}

func (s ticketTokenStore) Put(key string, data []byte) {
	s.store.Add(&zerortt.Ticket{
		Origin:       key,
		Opaque:       data,
		ALPN:         s.alpn,
		IssuedAt:     time.Now(),
		Expiry:       time.Now().Add(24 * time.Hour),
		BasePriority: 1.0,
	})
}

// dialH3 opens (or reuses) an H3Connection for origin, attempting 0-RTT via
// c.opts.zrtt when available. When this call performs a fresh QUIC
// handshake under a ticket, it returns that ticket plus whether the
// handshake actually rode its early data, so the caller can record the
// accept/reject outcome (spec.md §4.2 / scenario 5's transparent-replay
// contract). Reusing a pooled session returns a nil ticket, since no new
// 0-RTT decision was made.
func (c *Client) dialH3(ctx context.Context, host string, port int) (h3 *conn.H3Connection, ticket *zerortt.Ticket, usedZeroRTT bool, err error) {
	origin := fmt.Sprintf("%s:%d", host, port)
	if existing, ok := c.h3pool.get(origin); ok {
		return existing, nil, false, nil
	}

	tlsConf := &tls.Config{MinVersion: tls.VersionTLS13, ServerName: host, NextProtos: []string{"h3"}}
	if c.opts.tlsConfig != nil {
		cloned := c.opts.tlsConfig.Clone()
		cloned.ServerName = host
		cloned.NextProtos = []string{"h3"}
		cloned.MinVersion = tls.VersionTLS13
		tlsConf = cloned
	}

	var tokens quictransport.TokenStore
	if c.opts.zrtt != nil {
		tokens = ticketTokenStore{store: c.opts.zrtt, alpn: "h3"}
		ticket = c.opts.zrtt.TakeFor(origin, "h3")
	}

	sess, err := quictransport.Dial(ctx, origin, tlsConf, tokens, c.opts.log)
	if err != nil {
		return nil, ticket, false, err
	}

	coderFactory := func() hcodec.Coder { return hcodec.NewOpaqueQPACK() }
	h3 = conn.NewH3Connection(sess, coderFactory, conn.Opts{}, c.opts.log)
	c.h3pool.put(origin, h3)

	if ticket != nil {
		usedZeroRTT = sess.ConnectionState().Used0RTT
	}
	return h3, ticket, usedZeroRTT, nil
}
