package frame

import (
	"fmt"
	"io"
)

// headerLen is the fixed h2 frame header size (RFC 7540 §4.1): a 24-bit
// length, an 8-bit type, an 8-bit flags byte and a 31-bit stream id.
const headerLen = 9

// Preface is the fixed 24-byte HTTP/2 connection preface (RFC 7540 §3.5).
const Preface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// ParseOne reads one h2 frame starting at buf[offset]. It validates the
// frame-size cap and the control-frame stream-id constraints from
// spec.md §4.2 before returning. maxFrameSize is the SETTINGS_MAX_FRAME_SIZE
// this endpoint advertised for the frames it receives, not the hard cap.
func ParseOne(buf []byte, offset int, maxFrameSize uint32) (fr Frame, consumed int, err error) {
	if len(buf)-offset < headerLen {
		return Frame{}, 0, io.ErrShortBuffer
	}
	h := buf[offset : offset+headerLen]
	length := uint24(h[0:3])
	typ := h2Type(h[3])
	flags := Flag(h[4])
	streamID := uint31(h[5:9])

	if length > HardMaxFrameLen || (maxFrameSize > 0 && length > maxFrameSize) {
		return Frame{}, 0, ErrFrameSize
	}
	total := headerLen + int(length)
	if len(buf)-offset < total {
		return Frame{}, 0, io.ErrShortBuffer
	}

	fr = Frame{
		Type:     typ,
		Flags:    flags,
		StreamID: streamID,
		Payload:  buf[offset+headerLen : offset+total],
	}

	if err := validateControlFrame(fr); err != nil {
		return Frame{}, 0, err
	}

	return fr, total, nil
}

// h2Type maps the wire type byte onto the shared Type enum, returning
// TypeUnknown for anything outside RFC 7540's 0x0-0x9 range — the frame is
// still structurally valid and must be ignored by the caller, not treated
// as a protocol error (RFC 7540 §4.1).
func h2Type(b byte) Type {
	switch b {
	case 0x0:
		return TypeData
	case 0x1:
		return TypeHeaders
	case 0x2:
		return TypePriority
	case 0x3:
		return TypeRstStream
	case 0x4:
		return TypeSettings
	case 0x5:
		return TypePushPromise
	case 0x6:
		return TypePing
	case 0x7:
		return TypeGoAway
	case 0x8:
		return TypeWindowUpdate
	case 0x9:
		return TypeContinuation
	default:
		return TypeUnknown
	}
}

func h2TypeByte(t Type) byte {
	switch t {
	case TypeData:
		return 0x0
	case TypeHeaders:
		return 0x1
	case TypePriority:
		return 0x2
	case TypeRstStream:
		return 0x3
	case TypeSettings:
		return 0x4
	case TypePushPromise:
		return 0x5
	case TypePing:
		return 0x6
	case TypeGoAway:
		return 0x7
	case TypeWindowUpdate:
		return 0x8
	case TypeContinuation:
		return 0x9
	default:
		return 0xff
	}
}

// validateControlFrame enforces spec.md §4.2's stream-id rules: SETTINGS,
// PING, GOAWAY and (by extension) MAX_PUSH_ID-shaped control frames must
// carry stream id 0; RST_STREAM and WINDOW_UPDATE must carry the right
// payload size for their stream-id scope.
func validateControlFrame(fr Frame) error {
	switch fr.Type {
	case TypeSettings, TypePing, TypeGoAway:
		if fr.StreamID != 0 {
			return ErrBadStreamID
		}
		if fr.Type == TypeSettings && fr.Flags.Has(FlagAck) && len(fr.Payload) != 0 {
			return ErrFrameSize
		}
		if fr.Type == TypePing && len(fr.Payload) != 8 {
			return ErrFrameSize
		}
	case TypeRstStream:
		if fr.StreamID == 0 {
			return ErrBadStreamID
		}
		if len(fr.Payload) != 4 {
			return ErrFrameSize
		}
	case TypeWindowUpdate:
		if len(fr.Payload) != 4 {
			return ErrFrameSize
		}
	case TypePriority:
		if len(fr.Payload) != 5 {
			return ErrFrameSize
		}
	}
	return nil
}

// Serialize writes fr to w as a complete h2 frame (header + payload).
func Serialize(fr Frame, w io.Writer) (int, error) {
	if len(fr.Payload) > HardMaxFrameLen {
		return 0, ErrFrameSize
	}
	var hdr [headerLen]byte
	putUint24(hdr[0:3], uint32(len(fr.Payload)))
	hdr[3] = h2TypeByte(fr.Type)
	hdr[4] = byte(fr.Flags)
	// StreamID is 31 bits; the top bit (reserved) is always sent as 0.
	sid := fr.StreamID & (1<<31 - 1)
	hdr[5] = byte(sid >> 24)
	hdr[6] = byte(sid >> 16)
	hdr[7] = byte(sid >> 8)
	hdr[8] = byte(sid)

	n, err := w.Write(hdr[:])
	if err != nil {
		return n, err
	}
	m, err := w.Write(fr.Payload)
	return n + m, err
}

// WritePreface writes the fixed HTTP/2 connection preface.
func WritePreface(w io.Writer) error {
	_, err := io.WriteString(w, Preface)
	return err
}

// ---- body types -----------------------------------------------------

// Data carries RFC 7540 §6.1 DATA frame content. An empty Data with
// EndStream set is a valid way to terminate a request/response body.
type Data struct {
	EndStream bool
	Bytes     []byte
}

func (d *Data) Type() Type { return TypeData }

func (d *Data) Deserialize(payload []byte, flags Flag) error {
	d.EndStream = flags.Has(FlagEndStream)
	if flags.Has(FlagPadded) {
		if len(payload) == 0 {
			return ErrMissingBytes
		}
		padLen := int(payload[0])
		if len(payload)-1 < padLen {
			return ErrFrameSize
		}
		payload = payload[1 : len(payload)-padLen]
	}
	d.Bytes = append(d.Bytes[:0], payload...)
	return nil
}

func (d *Data) Serialize(dst []byte) ([]byte, Flag, error) {
	dst = append(dst, d.Bytes...)
	var fl Flag
	if d.EndStream {
		fl |= FlagEndStream
	}
	return dst, fl, nil
}

// Headers carries RFC 7540 §6.2 HEADERS frame content: an opaque HPACK
// header block fragment. Assembly of CONTINUATION frames into one block is
// the stream engine's job (spec.md §4.2's CONTINUATION rule).
type Headers struct {
	EndStream  bool
	EndHeaders bool
	Exclusive  bool
	Weight     uint8 // RFC 7540 priority weight, 1-256 encoded as 0-255
	DependsOn  uint32
	BlockFragment []byte
}

func (h *Headers) Type() Type { return TypeHeaders }

func (h *Headers) Deserialize(payload []byte, flags Flag) error {
	h.EndStream = flags.Has(FlagEndStream)
	h.EndHeaders = flags.Has(FlagEndHeaders)

	if flags.Has(FlagPadded) {
		if len(payload) == 0 {
			return ErrMissingBytes
		}
		padLen := int(payload[0])
		payload = payload[1:]
		if len(payload)-padLen < 0 {
			return ErrFrameSize
		}
		payload = payload[:len(payload)-padLen]
	}
	if flags.Has(FlagPriority) {
		if len(payload) < 5 {
			return ErrMissingBytes
		}
		dep := uint32be(payload[0:4])
		h.Exclusive = dep&(1<<31) != 0
		h.DependsOn = dep &^ (1 << 31)
		h.Weight = payload[4]
		payload = payload[5:]
	}
	h.BlockFragment = append(h.BlockFragment[:0], payload...)
	return nil
}

func (h *Headers) Serialize(dst []byte) ([]byte, Flag, error) {
	fl := FlagEndHeaders
	if h.EndStream {
		fl |= FlagEndStream
	}
	if h.Weight != 0 || h.DependsOn != 0 || h.Exclusive {
		fl |= FlagPriority
		dep := h.DependsOn
		if h.Exclusive {
			dep |= 1 << 31
		}
		dst = appendUint32(dst, dep)
		dst = append(dst, h.Weight)
	}
	dst = append(dst, h.BlockFragment...)
	return dst, fl, nil
}

// Priority carries RFC 7540 §6.3 stream-dependency data, used by the
// stream engine's weighted-fair-queueing scheduler (spec.md §4.3).
type Priority struct {
	Exclusive bool
	DependsOn uint32
	Weight    uint8
}

func (p *Priority) Type() Type { return TypePriority }

func (p *Priority) Deserialize(payload []byte, _ Flag) error {
	if len(payload) != 5 {
		return ErrFrameSize
	}
	dep := uint32be(payload[0:4])
	p.Exclusive = dep&(1<<31) != 0
	p.DependsOn = dep &^ (1 << 31)
	p.Weight = payload[4]
	return nil
}

func (p *Priority) Serialize(dst []byte) ([]byte, Flag, error) {
	dep := p.DependsOn
	if p.Exclusive {
		dep |= 1 << 31
	}
	dst = appendUint32(dst, dep)
	dst = append(dst, p.Weight)
	return dst, 0, nil
}

// RstStream carries RFC 7540 §6.4 stream-abort data.
type RstStream struct {
	Code ErrorCode
}

func (r *RstStream) Type() Type { return TypeRstStream }

func (r *RstStream) Deserialize(payload []byte, _ Flag) error {
	if len(payload) != 4 {
		return ErrFrameSize
	}
	r.Code = ErrorCode(uint32be(payload))
	return nil
}

func (r *RstStream) Serialize(dst []byte) ([]byte, Flag, error) {
	return appendUint32(dst, uint32(r.Code)), 0, nil
}

// SettingID names one SETTINGS parameter (RFC 7540 §6.5.2).
type SettingID uint16

const (
	SettingHeaderTableSize      SettingID = 0x1
	SettingEnablePush           SettingID = 0x2
	SettingMaxConcurrentStreams SettingID = 0x3
	SettingInitialWindowSize    SettingID = 0x4
	SettingMaxFrameSize         SettingID = 0x5
	SettingMaxHeaderListSize    SettingID = 0x6
)

// Settings carries a list of (id, value) pairs. A SETTINGS frame with the
// ACK flag set must have an empty parameter list — validateControlFrame
// enforces that before Deserialize is ever called.
type Settings struct {
	Ack    bool
	Params map[SettingID]uint32
}

func (s *Settings) Type() Type { return TypeSettings }

func (s *Settings) Deserialize(payload []byte, flags Flag) error {
	s.Ack = flags.Has(FlagAck)
	if len(payload)%6 != 0 {
		return ErrFrameSize
	}
	if s.Params == nil {
		s.Params = make(map[SettingID]uint32, len(payload)/6)
	} else {
		for k := range s.Params {
			delete(s.Params, k)
		}
	}
	for i := 0; i+6 <= len(payload); i += 6 {
		id := SettingID(uint16(payload[i])<<8 | uint16(payload[i+1]))
		val := uint32be(payload[i+2 : i+6])
		s.Params[id] = val
	}
	return nil
}

func (s *Settings) Serialize(dst []byte) ([]byte, Flag, error) {
	var fl Flag
	if s.Ack {
		fl |= FlagAck
		return dst, fl, nil
	}
	for id, val := range s.Params {
		dst = append(dst, byte(id>>8), byte(id))
		dst = appendUint32(dst, val)
	}
	return dst, fl, nil
}

// PushPromise carries RFC 7540 §6.6 server-push announcement data.
type PushPromise struct {
	EndHeaders    bool
	PromisedID    uint32
	BlockFragment []byte
}

func (p *PushPromise) Type() Type { return TypePushPromise }

func (p *PushPromise) Deserialize(payload []byte, flags Flag) error {
	p.EndHeaders = flags.Has(FlagEndHeaders)
	if flags.Has(FlagPadded) {
		if len(payload) == 0 {
			return ErrMissingBytes
		}
		padLen := int(payload[0])
		if len(payload)-1 < padLen {
			return ErrFrameSize
		}
		payload = payload[1 : len(payload)-padLen]
	}
	if len(payload) < 4 {
		return ErrMissingBytes
	}
	p.PromisedID = uint31(payload[0:4])
	p.BlockFragment = append(p.BlockFragment[:0], payload[4:]...)
	return nil
}

func (p *PushPromise) Serialize(dst []byte) ([]byte, Flag, error) {
	dst = appendUint32(dst, p.PromisedID&(1<<31-1))
	dst = append(dst, p.BlockFragment...)
	return dst, FlagEndHeaders, nil
}

// Ping carries RFC 7540 §6.7 8-byte opaque liveness data.
type Ping struct {
	Ack  bool
	Data [8]byte
}

func (p *Ping) Type() Type { return TypePing }

func (p *Ping) Deserialize(payload []byte, flags Flag) error {
	p.Ack = flags.Has(FlagAck)
	if len(payload) != 8 {
		return ErrFrameSize
	}
	copy(p.Data[:], payload)
	return nil
}

func (p *Ping) Serialize(dst []byte) ([]byte, Flag, error) {
	var fl Flag
	if p.Ack {
		fl |= FlagAck
	}
	return append(dst, p.Data[:]...), fl, nil
}

// GoAway carries RFC 7540 §6.8 graceful-shutdown data.
type GoAway struct {
	LastStreamID uint32
	Code         ErrorCode
	Debug        []byte
}

func (g *GoAway) Type() Type { return TypeGoAway }

func (g *GoAway) Error() string {
	return fmt.Sprintf("GOAWAY last_stream=%d code=%s debug=%q", g.LastStreamID, g.Code, g.Debug)
}

func (g *GoAway) Deserialize(payload []byte, _ Flag) error {
	if len(payload) < 8 {
		return ErrMissingBytes
	}
	g.LastStreamID = uint31(payload[0:4])
	g.Code = ErrorCode(uint32be(payload[4:8]))
	g.Debug = append(g.Debug[:0], payload[8:]...)
	return nil
}

func (g *GoAway) Serialize(dst []byte) ([]byte, Flag, error) {
	dst = appendUint32(dst, g.LastStreamID&(1<<31-1))
	dst = appendUint32(dst, uint32(g.Code))
	dst = append(dst, g.Debug...)
	return dst, 0, nil
}

// WindowUpdate carries RFC 7540 §6.9 flow-control credit data.
type WindowUpdate struct {
	Increment uint32 // 31-bit
}

func (w *WindowUpdate) Type() Type { return TypeWindowUpdate }

func (w *WindowUpdate) Deserialize(payload []byte, _ Flag) error {
	if len(payload) != 4 {
		return ErrFrameSize
	}
	w.Increment = uint31(payload)
	return nil
}

func (w *WindowUpdate) Serialize(dst []byte) ([]byte, Flag, error) {
	return appendUint32(dst, w.Increment&(1<<31-1)), 0, nil
}

// Continuation carries RFC 7540 §6.10 header-block continuation data. Per
// spec.md §4.2, a CONTINUATION frame is only legal immediately following a
// HEADERS/PUSH_PROMISE on the same stream before END_HEADERS is set; that
// ordering rule is enforced by the stream engine, not by this type.
type Continuation struct {
	EndHeaders    bool
	BlockFragment []byte
}

func (c *Continuation) Type() Type { return TypeContinuation }

func (c *Continuation) Deserialize(payload []byte, flags Flag) error {
	c.EndHeaders = flags.Has(FlagEndHeaders)
	c.BlockFragment = append(c.BlockFragment[:0], payload...)
	return nil
}

func (c *Continuation) Serialize(dst []byte) ([]byte, Flag, error) {
	var fl Flag
	if c.EndHeaders {
		fl |= FlagEndHeaders
	}
	return append(dst, c.BlockFragment...), fl, nil
}
