package conn

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/emberfox-browser/netcore/frame"
	"github.com/emberfox-browser/netcore/hcodec"
	"github.com/emberfox-browser/netcore/netlog"
	"github.com/emberfox-browser/netcore/quictransport"
	"github.com/emberfox-browser/netcore/stream"
	"github.com/emberfox-browser/netcore/varint"
)

// H3Connection is the HTTP/3 analogue of Connection: spec.md §4.4's
// connection engine, reframed over quictransport's opaque QUIC session
// instead of a single net.Conn. Per RFC 9114, each request gets its own
// QUIC stream rather than sharing one multiplexed byte pipe, so there is no
// shared outbound frame queue to schedule. OpenStream marks each new stream
// ready on a stream.RoundRobinScheduler (see REDESIGN FLAGS: h2 priority is
// not extended to h3), but nothing reads from it: a request opens its QUIC
// stream directly through OpenStreamSync, which waits on the QUIC stream
// limit itself.
type H3Connection struct {
	log   netlog.Logger
	sess  quictransport.Session
	coder func() hcodec.Coder // one OpaqueQPACK instance per request stream

	local Settings
	peer  Settings

	streams   stream.Table
	scheduler *stream.RoundRobinScheduler

	mu           sync.Mutex
	goAwaySent   bool
	goAwayRecv   bool
	lastStreamID uint64

	opts Opts
}

// NewH3Connection wraps an already-established QUIC session (0-RTT or
// 1-RTT) as an H3Connection.
func NewH3Connection(sess quictransport.Session, coder func() hcodec.Coder, opts Opts, log netlog.Logger) *H3Connection {
	if opts.PingInterval == 0 {
		opts.PingInterval = DefaultPingInterval
	}
	return &H3Connection{
		log:       log,
		sess:      sess,
		coder:     coder,
		local:     DefaultSettings(),
		peer:      DefaultSettings(),
		scheduler: stream.NewRoundRobinScheduler(),
		opts:      opts,
	}
}

// OpenStream opens a new client-initiated bidirectional QUIC stream (h3
// client-initiated bidirectional stream ids follow the 0x0 pattern, RFC
// 9000 §2.1) and registers a stream.Stream to track its h3 request/response
// state.
func (c *H3Connection) OpenStream(ctx context.Context) (*stream.Stream, quictransport.Stream, error) {
	qs, err := c.sess.OpenStreamSync(ctx)
	if err != nil {
		return nil, nil, err
	}
	s := stream.New(uint64(qs.StreamID()), c.peer.InitialWindowSize, c.local.InitialWindowSize)
	c.streams.Insert(s)
	c.scheduler.Ready(s.ID(), 0)
	return s, qs, nil
}

// SendRequest writes HEADERS (and DATA, if body is non-empty) as h3 frames
// directly onto qs, the QUIC stream OpenStream returned for s. There is no
// chunking against a peer max-frame-size the way h2's sendBody does: QUIC
// itself fragments into packets below this layer.
func (c *H3Connection) SendRequest(s *stream.Stream, qs quictransport.Stream, fields []hcodec.Field, body []byte) error {
	now := time.Now()
	if err := s.Transition(stream.EventSendHeaders, now); err != nil {
		return err
	}

	coder := c.coder()
	block, err := coder.Encode(nil, fields)
	if err != nil {
		return err
	}
	h := &frame.Headers{BlockFragment: block}
	payload, _, err := h.Serialize(nil)
	if err != nil {
		return err
	}
	if _, err := frame.SerializeH3(frame.Frame{Type: frame.TypeHeaders, Payload: payload}, qs); err != nil {
		return err
	}

	if len(body) > 0 {
		d := &frame.Data{Bytes: body}
		dpayload, _, err := d.Serialize(nil)
		if err != nil {
			return err
		}
		if _, err := frame.SerializeH3(frame.Frame{Type: frame.TypeData, Payload: dpayload}, qs); err != nil {
			return err
		}
	}
	if err := qs.Close(); err != nil { // closes the write side; signals QUIC FIN == END_STREAM
		return err
	}
	return s.Transition(stream.EventSendEndStream, now)
}

// ReadResponse drains qs for h3 HEADERS/DATA frames until the QUIC stream's
// FIN, resolving s's Future. It is meant to run in its own goroutine per
// request, mirroring how h2's Connection.readLoop demultiplexes many
// streams off one net.Conn but here demultiplexes nothing — one goroutine
// per QUIC stream is the natural fit (RFC 9114's "no head-of-line blocking
// across streams").
func (c *H3Connection) ReadResponse(s *stream.Stream, qs quictransport.Stream) {
	now := time.Now()
	coder := c.coder()
	buf := make([]byte, 0, 16*1024)
	tmp := make([]byte, 8*1024)

	for {
		n, err := qs.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			c.finish(s, buf, coder, now, err)
			return
		}

		for {
			fr, consumed, perr := frame.ParseOneH3(buf, 0)
			if perr == io.ErrShortBuffer || perr == varint.ErrTruncated {
				break // need more bytes
			}
			if perr != nil {
				s.Future().Fail(perr)
				return
			}
			if err := c.handleH3Frame(s, fr, coder, now); err != nil {
				s.Future().Fail(err)
				return
			}
			buf = buf[consumed:]
		}
	}
}

func (c *H3Connection) handleH3Frame(s *stream.Stream, fr frame.Frame, coder hcodec.Coder, now time.Time) error {
	switch fr.Type {
	case frame.TypeHeaders:
		var h frame.Headers
		if err := h.Deserialize(fr.Payload, 0); err != nil {
			return err
		}
		fields, err := coder.Decode(h.BlockFragment)
		if err != nil {
			return err
		}
		if err := s.Transition(stream.EventRecvHeaders, now); err != nil {
			return err
		}
		s.AppendHeaders(fields)
	case frame.TypeData:
		var d frame.Data
		if err := d.Deserialize(fr.Payload, 0); err != nil {
			return err
		}
		s.AppendBody(d.Bytes)
	}
	return nil
}

// finish resolves s's Future once qs hits EOF (the peer's QUIC FIN, h3's
// END_STREAM signal) or fails it on any other read error.
func (c *H3Connection) finish(s *stream.Stream, _ []byte, _ hcodec.Coder, now time.Time, err error) {
	if err != io.EOF {
		s.Future().Fail(err)
		return
	}
	if terr := s.Transition(stream.EventRecvEndStream, now); terr != nil {
		s.Future().Fail(terr)
		return
	}
	h, b := s.Snapshot()
	s.Future().Resolve(h, b)
}

// SendGoAway encodes an RFC 9114 §5.2 GOAWAY body (a single varint: the
// last stream/push id the sender will still process). This build keeps no
// control stream (see quictransport's package doc on the control-stream
// narrowing): it closes the QUIC session immediately with NO_ERROR,
// carrying the encoded body as the close reason; in-flight streams are not
// drained first.
func (c *H3Connection) SendGoAway(lastStreamID uint64) error {
	c.mu.Lock()
	if c.goAwaySent {
		c.mu.Unlock()
		return nil
	}
	c.goAwaySent = true
	c.mu.Unlock()

	ga := &frame.H3GoAway{ID: lastStreamID}
	payload, _, err := ga.Serialize(nil)
	if err != nil {
		return err
	}
	return c.sess.CloseWithError(uint64(frame.NoError), string(payload))
}

// Close tears down the QUIC session, failing every pending stream future.
func (c *H3Connection) Close(err frame.ErrorCode) error {
	c.streams.Range(func(s *stream.Stream) { s.Future().Fail(ErrConnectionClosed) })
	return c.sess.CloseWithError(uint64(err), err.String())
}
