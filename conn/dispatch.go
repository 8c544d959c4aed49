package conn

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/emberfox-browser/netcore/frame"
	"github.com/emberfox-browser/netcore/hcodec"
	"github.com/emberfox-browser/netcore/stream"
)

// Run drives the connection's reactor loop: one goroutine pumping frames
// off the wire, one draining the outbound queue onto it, single-threaded
// cooperative per connection per spec.md §5. Run blocks until the
// transport closes or ctx is cancelled.
func (c *Connection) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() { errCh <- c.readLoop() }()
	go func() { errCh <- c.writeLoop(ctx) }()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = ctx.Err()
	}
	c.teardown(err)
	return err
}

func (c *Connection) readLoop() error {
	buf := make([]byte, 0, 64*1024)
	tmp := make([]byte, 16*1024)
	for {
		n, err := c.br.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			return err
		}

		for {
			fr, consumed, perr := frame.ParseOne(buf, 0, c.local.MaxFrameSize)
			if perr == io.ErrShortBuffer {
				break // need more bytes
			}
			if perr != nil {
				c.failProtocol(perr)
				return perr
			}
			if err := c.handleFrame(fr); err != nil {
				c.failProtocol(err)
				return err
			}
			buf = buf[consumed:]
		}
	}
}

func (c *Connection) writeLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	sweepTicker := time.NewTicker(c.GraceWindow())
	defer sweepTicker.Stop()

	for {
		select {
		case item := <-c.outbound:
			_, err := frame.Serialize(item.fr, c.bw)
			if item.buf != nil {
				frame.ReleasePayload(item.buf)
			}
			if err != nil {
				return err
			}
			if len(c.outbound) == 0 {
				if err := c.bw.Flush(); err != nil {
					return err
				}
			}
		case <-ticker.C:
			c.Ping()
		case <-sweepTicker.C:
			c.streams.Sweep(time.Now(), c.GraceWindow())
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) handleFrame(fr frame.Frame) error {
	switch fr.Type {
	case frame.TypeSettings:
		var body frame.Settings
		if err := body.Deserialize(fr.Payload, fr.Flags); err != nil {
			return err
		}
		return c.handleSettings(&body)

	case frame.TypePing:
		var body frame.Ping
		if err := body.Deserialize(fr.Payload, fr.Flags); err != nil {
			return err
		}
		return c.handlePing(&body)

	case frame.TypeGoAway:
		var body frame.GoAway
		if err := body.Deserialize(fr.Payload, fr.Flags); err != nil {
			return err
		}
		c.handleGoAway(&body)
		return nil

	case frame.TypeWindowUpdate:
		var body frame.WindowUpdate
		if err := body.Deserialize(fr.Payload, fr.Flags); err != nil {
			return err
		}
		return c.handleWindowUpdate(fr.StreamID, &body)

	case frame.TypeHeaders:
		return c.handleHeaders(fr)

	case frame.TypeData:
		return c.handleData(fr)

	case frame.TypeRstStream:
		var body frame.RstStream
		if err := body.Deserialize(fr.Payload, fr.Flags); err != nil {
			return err
		}
		return c.handleRstStream(fr.StreamID, &body)

	case frame.TypePriority:
		var body frame.Priority
		if err := body.Deserialize(fr.Payload, fr.Flags); err != nil {
			return err
		}
		if s := c.streams.Get(uint64(fr.StreamID)); s != nil {
			s.SetPriority(stream.Priority{DependsOn: body.DependsOn, Weight: body.Weight, Exclusive: body.Exclusive})
		}
		return nil

	case frame.TypeUnknown:
		return nil // RFC 7540 §4.1: unknown frame types are ignored

	default:
		return nil
	}
}

func (c *Connection) handleWindowUpdate(streamID uint32, body *frame.WindowUpdate) error {
	if streamID == 0 {
		return c.connSend.Consume(body.Increment)
	}
	s := c.streams.Get(uint64(streamID))
	if s == nil {
		if c.streams.InGraceWindow(uint64(streamID), time.Now(), c.GraceWindow()) {
			return nil
		}
		return nil // WINDOW_UPDATE for an unknown stream is not fatal
	}
	if err := s.SendWindow().Consume(body.Increment); err != nil {
		return err
	}
	c.scheduler.Ready(s.ID(), s.Priority().Weight)
	return nil
}

func (c *Connection) handleHeaders(fr frame.Frame) error {
	now := time.Now()
	s := c.streams.Get(uint64(fr.StreamID))
	if s == nil {
		if c.streams.InGraceWindow(uint64(fr.StreamID), now, c.GraceWindow()) {
			return nil
		}
		s = stream.New(uint64(fr.StreamID), c.peer.InitialWindowSize, c.local.InitialWindowSize)
		c.streams.Insert(s)

		c.mu.Lock()
		if fr.StreamID > c.lastPeerStream {
			c.lastPeerStream = fr.StreamID
		}
		c.mu.Unlock()
	}
	if err := s.Transition(stream.EventRecvHeaders, now); err != nil {
		return err
	}

	var body frame.Headers
	if err := body.Deserialize(fr.Payload, fr.Flags); err != nil {
		return err
	}
	fields, err := c.coder.Decode(body.BlockFragment)
	if err != nil {
		return errors.New("conn: header decompression error")
	}
	s.AppendHeaders(fields)
	if body.EndStream {
		if err := s.Transition(stream.EventRecvEndStream, now); err != nil {
			return err
		}
		h, b := s.Snapshot()
		s.Future().Resolve(h, b)
	}
	return nil
}

func (c *Connection) handleData(fr frame.Frame) error {
	now := time.Now()
	s := c.streams.Get(uint64(fr.StreamID))
	if s == nil {
		if c.streams.InGraceWindow(uint64(fr.StreamID), now, c.GraceWindow()) {
			return nil
		}
		return ErrProtocol
	}

	n := int64(len(fr.Payload))
	if err := c.connRecv.Reserve(n); err != nil {
		return ErrFlowControl
	}
	if err := s.RecvWindow().Reserve(n); err != nil {
		return ErrFlowControl
	}
	if c.connRecv.NeedsTopUp() {
		c.emitConnWindowUpdate()
	}

	var body frame.Data
	if err := body.Deserialize(fr.Payload, fr.Flags); err != nil {
		return err
	}
	s.AppendBody(body.Bytes)

	if s.RecvWindow().NeedsTopUp() {
		amount := s.RecvWindow().TopUpAmount()
		s.RecvWindow().Deposit(amount)
		wu := &frame.WindowUpdate{Increment: amount}
		payload, _, _ := wu.Serialize(nil)
		c.outbound <- outboundFrame{fr: frame.Frame{Type: frame.TypeWindowUpdate, StreamID: fr.StreamID, Payload: payload}}
	}

	if body.EndStream {
		if err := s.Transition(stream.EventRecvEndStream, now); err != nil {
			return err
		}
		h, b := s.Snapshot()
		s.Future().Resolve(h, b)
	}
	return nil
}

func (c *Connection) emitConnWindowUpdate() {
	amount := c.connRecv.TopUpAmount()
	if amount == 0 {
		return
	}
	c.connRecv.Deposit(amount)
	wu := &frame.WindowUpdate{Increment: amount}
	payload, _, _ := wu.Serialize(nil)
	c.outbound <- outboundFrame{fr: frame.Frame{Type: frame.TypeWindowUpdate, StreamID: 0, Payload: payload}}
}

func (c *Connection) handleRstStream(streamID uint32, body *frame.RstStream) error {
	s := c.streams.Get(uint64(streamID))
	if s == nil {
		return nil
	}
	_ = s.Transition(stream.EventRstStream, time.Now())
	s.Future().Fail(frame.ErrorCode(body.Code))
	return nil
}

func (c *Connection) failProtocol(err error) {
	_ = c.SendGoAway(frame.ProtocolError)
	c.streams.Range(func(s *stream.Stream) { s.Future().Fail(ErrProtocol) })
	c.log.Error("protocol error, connection closing", "err", err)
}

func (c *Connection) teardown(err error) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	c.closeErr = err
	c.mu.Unlock()

	c.streams.Range(func(s *stream.Stream) { s.Future().Fail(ErrConnectionClosed) })
	c.c.Close()
	if c.opts.OnClose != nil {
		c.opts.OnClose(err)
	}
}

// OpenStream allocates the next odd client-initiated stream id (RFC 7540
// §5.1.1) and registers it in the stream table idle, ready for the caller
// to send HEADERS on.
func (c *Connection) OpenStream() *stream.Stream {
	c.mu.Lock()
	id := c.nextStreamID
	c.nextStreamID += 2
	c.mu.Unlock()

	s := stream.New(uint64(id), c.peer.InitialWindowSize, c.local.InitialWindowSize)
	c.streams.Insert(s)
	return s
}

// SendRequest encodes fields via the connection's header codec and emits
// HEADERS (plus DATA, chunked to peer.MaxFrameSize and the stream/conn
// windows per spec.md §4.3's send path) for s.
func (c *Connection) SendRequest(s *stream.Stream, fields []hcodec.Field, body []byte) error {
	now := time.Now()
	if err := s.Transition(stream.EventSendHeaders, now); err != nil {
		return err
	}

	block, err := c.coder.Encode(nil, fields)
	if err != nil {
		return err
	}
	endStream := len(body) == 0
	h := &frame.Headers{EndHeaders: true, EndStream: endStream, BlockFragment: block}
	buf := frame.AcquirePayload()
	payload, flags, err := h.Serialize(buf.B[:0])
	if err != nil {
		frame.ReleasePayload(buf)
		return err
	}
	buf.B = payload
	c.outbound <- outboundFrame{fr: frame.Frame{Type: frame.TypeHeaders, Flags: flags, StreamID: uint32(s.ID()), Payload: payload}, buf: buf}

	if endStream {
		return s.Transition(stream.EventSendEndStream, now)
	}
	return c.sendBody(s, body)
}

// sendBody fragments body into DATA frames no larger than
// peer.MaxFrameSize and bounded by both flow-control windows, suspending
// (spec.md §4.3's send path) when either is exhausted; resumption happens
// when handleWindowUpdate re-arms the scheduler.
func (c *Connection) sendBody(s *stream.Stream, body []byte) error {
	maxChunk := int(c.peer.MaxFrameSize)
	for len(body) > 0 {
		chunk := body
		if len(chunk) > maxChunk {
			chunk = chunk[:maxChunk]
		}
		if err := s.SendWindow().Reserve(int64(len(chunk))); err != nil {
			c.scheduler.NotReady(s.ID())
			return err // caller suspends; resumed by a future WINDOW_UPDATE
		}
		if err := c.connSend.Reserve(int64(len(chunk))); err != nil {
			s.SendWindow().Refund(int64(len(chunk)))
			return err
		}

		body = body[len(chunk):]
		d := &frame.Data{EndStream: len(body) == 0, Bytes: chunk}
		buf := frame.AcquirePayload()
		payload, flags, err := d.Serialize(buf.B[:0])
		if err != nil {
			frame.ReleasePayload(buf)
			return err
		}
		buf.B = payload
		c.outbound <- outboundFrame{fr: frame.Frame{Type: frame.TypeData, Flags: flags, StreamID: uint32(s.ID()), Payload: payload}, buf: buf}
	}
	return s.Transition(stream.EventSendEndStream, time.Now())
}

// Cancel implements spec.md §5's cancellation contract: emit RST_STREAM
// with CANCEL, transition to closed, fail the future. Reserved
// flow-control credit is not refunded — it is recorded as consumed.
func (c *Connection) Cancel(s *stream.Stream, timeout bool) {
	now := time.Now()
	_ = s.Transition(stream.EventRstStream, now)
	rst := &frame.RstStream{Code: frame.CancelError}
	payload, _, _ := rst.Serialize(nil)
	c.outbound <- outboundFrame{fr: frame.Frame{Type: frame.TypeRstStream, StreamID: uint32(s.ID()), Payload: payload}}

	if timeout {
		s.Future().Fail(ErrTimeout)
	} else {
		s.Future().Fail(ErrCancelled)
	}
}
