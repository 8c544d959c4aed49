package conn

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/bytebufferpool"

	"github.com/emberfox-browser/netcore/frame"
	"github.com/emberfox-browser/netcore/hcodec"
	"github.com/emberfox-browser/netcore/netlog"
	"github.com/emberfox-browser/netcore/stream"
)

// outboundFrame pairs a frame queued for the write loop with the pooled
// buffer backing its payload, if any. buf is nil for control frames
// (SETTINGS ack, PING, WINDOW_UPDATE, RST_STREAM) whose payloads are a few
// fixed bytes built fresh each time — not worth pooling. HEADERS and DATA,
// the two frame types carrying a peer-sized payload on every request, are
// built from frame.AcquirePayload and released back to the pool by
// writeLoop right after the bytes are written to the wire.
type outboundFrame struct {
	fr  frame.Frame
	buf *bytebufferpool.ByteBuffer
}

// Opts configures a Connection, mirroring dgrr-http2/conn.go's ConnOpts.
type Opts struct {
	// PingInterval is how often the connection engine sends a liveness
	// PING. Zero uses DefaultPingInterval.
	PingInterval time.Duration
	// SettingsTimeout bounds how long the handshake waits for the peer's
	// first SETTINGS frame (spec.md §4.4). Zero uses 30s.
	SettingsTimeout time.Duration
	// OnGoAway fires once when a GOAWAY is received, with the last stream
	// id the peer will still process.
	OnGoAway func(lastStreamID uint64)
	// OnClose fires when the connection's transport is torn down, for
	// either side's reason.
	OnClose func(err error)
}

// DefaultPingInterval matches dgrr-http2's own default keepalive cadence.
const DefaultPingInterval = 30 * time.Second

// DefaultSettingsTimeout is spec.md §4.4's SETTINGS_TIMEOUT deadline.
const DefaultSettingsTimeout = 30 * time.Second

// DefaultRTT seeds the grace-window sweep interval (spec.md §4.3:
// lifetime = 2*RTT) before any real RTT sample exists.
const DefaultRTT = 100 * time.Millisecond

// Connection is the spec.md §3/§4.4 Connection: a single-threaded
// cooperative reactor (spec.md §5) over one net.Conn, generalizing
// dgrr-http2/conn.go's Conn (nextID, serverWindow/currentWindow,
// current/serverS Settings, in/out channels) into the full HTTP/2
// connection-engine contract, including GOAWAY/flow-control-retrofit
// semantics the teacher's Conn never implemented.
type Connection struct {
	log netlog.Logger
	c   net.Conn
	br  *bufio.Reader
	bw  *bufio.Writer

	coder hcodec.Coder

	local  Settings
	peer   Settings
	settingsAcked chan struct{}

	connSend *stream.FlowWindow
	connRecv *stream.FlowWindow

	streams   stream.Table
	scheduler stream.Scheduler

	nextStreamID   uint32
	lastPeerStream uint32

	outbound chan outboundFrame

	rtt atomic.Int64 // nanoseconds, updated by PING round trips

	mu           sync.Mutex
	goAwaySent   bool
	goAwayRecv   bool
	closing      bool
	closeErr     error
	pendingPings map[[8]byte]pendingPing

	opts Opts
}

// NewConnection wraps c (already TLS/ALPN-negotiated to h2, or cleartext
// h2c) as a Connection. Call Handshake before sending any request.
func NewConnection(c net.Conn, coder hcodec.Coder, opts Opts, log netlog.Logger) *Connection {
	if opts.PingInterval == 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.SettingsTimeout == 0 {
		opts.SettingsTimeout = DefaultSettingsTimeout
	}
	local := DefaultSettings()
	conn := &Connection{
		log:            log,
		c:              c,
		br:             bufio.NewReaderSize(c, 4096),
		bw:             bufio.NewWriterSize(c, int(local.MaxFrameSize)),
		coder:          coder,
		local:          local,
		peer:           DefaultSettings(),
		settingsAcked:  make(chan struct{}),
		connSend:       stream.NewFlowWindow(DefaultInitialWindowSize),
		connRecv:       stream.NewFlowWindow(DefaultInitialWindowSize),
		scheduler:      stream.NewWFQScheduler(),
		nextStreamID:   1,
		outbound:       make(chan outboundFrame, 64),
		opts:           opts,
	}
	conn.rtt.Store(int64(DefaultRTT))
	return conn
}

// Handshake sends the connection preface (if asHTTP2 callers want it — h2c
// and cleartext upgrades handle the preface differently, so this takes no
// argument and always writes it, matching dgrr-http2/conn.go's Handshake)
// plus an initial SETTINGS and a connection WINDOW_UPDATE, then blocks
// until the peer's SETTINGS arrives or opts.SettingsTimeout elapses
// (spec.md §4.4).
func (c *Connection) Handshake(ctx context.Context) error {
	if err := frame.WritePreface(c.bw); err != nil {
		return err
	}
	if err := c.sendSettings(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.SettingsTimeout)
	defer cancel()
	select {
	case <-c.settingsAcked:
		return nil
	case <-ctx.Done():
		return ErrSettingsTimeout
	}
}

func (c *Connection) sendSettings() error {
	body := c.local.ToFrame()
	payload, _, err := body.Serialize(nil)
	if err != nil {
		return err
	}
	fr := frame.Frame{Type: frame.TypeSettings, Payload: payload}
	if _, err := frame.Serialize(fr, c.bw); err != nil {
		return err
	}
	wu := &frame.WindowUpdate{Increment: stream.MaxWindow - DefaultInitialWindowSize}
	wuPayload, _, err := wu.Serialize(nil)
	if err != nil {
		return err
	}
	if _, err := frame.Serialize(frame.Frame{Type: frame.TypeWindowUpdate, Payload: wuPayload}, c.bw); err != nil {
		return err
	}
	return c.bw.Flush()
}

// handleSettings applies a decoded SETTINGS frame, acking it and, per
// spec.md §4.4, retroactively widening or narrowing every open stream's
// send window when INITIAL_WINDOW_SIZE changes.
func (c *Connection) handleSettings(body *frame.Settings) error {
	if body.Ack {
		return nil // our own SETTINGS was acknowledged; nothing to apply
	}
	prevInitial := c.peer.InitialWindowSize
	changed, err := c.peer.ApplyFrame(body)
	if err != nil {
		return err
	}

	if newInitial, ok := changed[frame.SettingInitialWindowSize]; ok {
		delta := int64(newInitial) - int64(prevInitial)
		var shrinkErr error
		c.streams.Range(func(s *stream.Stream) {
			if s.State() == stream.StateClosed {
				return
			}
			if err := s.SendWindow().Shrink(delta); err != nil {
				shrinkErr = err
			}
		})
		if shrinkErr != nil {
			return ErrFlowControl
		}
	}

	ack := &frame.Settings{Ack: true}
	ackPayload, _, _ := ack.Serialize(nil)
	c.outbound <- outboundFrame{fr: frame.Frame{Type: frame.TypeSettings, Flags: frame.FlagAck, Payload: ackPayload}}

	select {
	case <-c.settingsAcked:
	default:
		close(c.settingsAcked)
	}
	return nil
}

// handleGoAway records the peer's last-processed stream id; streams above
// it must be retried on a fresh connection (spec.md §4.4/scenario 4).
func (c *Connection) handleGoAway(body *frame.GoAway) {
	c.mu.Lock()
	c.goAwayRecv = true
	c.mu.Unlock()

	c.streams.Range(func(s *stream.Stream) {
		if uint32(s.ID()) > body.LastStreamID {
			s.Future().Fail(ErrGoAway)
		}
	})
	if c.opts.OnGoAway != nil {
		c.opts.OnGoAway(uint64(body.LastStreamID))
	}
}

// GoAwayReceived reports whether the peer has sent GOAWAY on this
// connection; callers (conn.Dialer's pool selection, the façade's retry
// path) use this to stop handing out new streams on a draining connection
// even though its transport is still open and draining in-flight ones.
func (c *Connection) GoAwayReceived() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.goAwayRecv
}

// SendGoAway begins a graceful shutdown: no new locally-initiated streams
// after this point, but in-flight responses are allowed to drain
// (spec.md §4.4: "On send, drain in-flight responses before closing the
// transport").
func (c *Connection) SendGoAway(code frame.ErrorCode) error {
	c.mu.Lock()
	if c.goAwaySent {
		c.mu.Unlock()
		return nil
	}
	c.goAwaySent = true
	last := c.lastPeerStream
	c.mu.Unlock()

	ga := &frame.GoAway{LastStreamID: last, Code: code}
	payload, _, err := ga.Serialize(nil)
	if err != nil {
		return err
	}
	_, err = frame.Serialize(frame.Frame{Type: frame.TypeGoAway, Payload: payload}, c.bw)
	if err == nil {
		err = c.bw.Flush()
	}
	return err
}

// Ping sends an unsolicited liveness PING and returns a channel closed
// when its ACK arrives, carrying the measured round-trip time.
func (c *Connection) Ping() <-chan time.Duration {
	result := make(chan time.Duration, 1)
	sent := time.Now()
	var data [8]byte
	binaryPutUint64(data[:], uint64(sent.UnixNano()))

	p := &frame.Ping{Data: data}
	payload, _, _ := p.Serialize(nil)
	c.outbound <- outboundFrame{fr: frame.Frame{Type: frame.TypePing, Payload: payload}}

	// handlePing resolves pendingPings[data] through resolvePing when the
	// ACK arrives, delivering the measured RTT on result.
	c.registerPing(data, result)
	return result
}

func (c *Connection) handlePing(body *frame.Ping) error {
	if body.Ack {
		c.resolvePing(body.Data)
		return nil
	}
	ack := &frame.Ping{Ack: true, Data: body.Data}
	payload, _, _ := ack.Serialize(nil)
	c.outbound <- outboundFrame{fr: frame.Frame{Type: frame.TypePing, Flags: frame.FlagAck, Payload: payload}}
	return nil
}

// --- ping bookkeeping --------------------------------------------------

func (c *Connection) registerPing(data [8]byte, result chan<- time.Duration) {
	c.mu.Lock()
	if c.pendingPings == nil {
		c.pendingPings = make(map[[8]byte]pendingPing)
	}
	c.pendingPings[data] = pendingPing{sentAt: time.Now(), result: result}
	c.mu.Unlock()
}

func (c *Connection) resolvePing(data [8]byte) {
	c.mu.Lock()
	p, ok := c.pendingPings[data]
	if ok {
		delete(c.pendingPings, data)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	rtt := time.Since(p.sentAt)
	c.rtt.Store(int64(rtt))
	p.result <- rtt
	close(p.result)
}

type pendingPing struct {
	sentAt time.Time
	result chan<- time.Duration
}

// RTT returns the most recently sampled round-trip time, seeded to
// DefaultRTT before the first PING completes.
func (c *Connection) RTT() time.Duration { return time.Duration(c.rtt.Load()) }

// GraceWindow returns spec.md §4.3's "lifetime = 2*RTT" closed-stream
// retention window for this connection's current RTT estimate.
func (c *Connection) GraceWindow() time.Duration { return 2 * c.RTT() }

func binaryPutUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}

func (c *Connection) String() string {
	return fmt.Sprintf("conn(%s<->%s)", c.c.LocalAddr(), c.c.RemoteAddr())
}
