package frame

import (
	"io"

	"github.com/emberfox-browser/netcore/varint"
)

// H3 frame type codes (RFC 9114 §7.2). HTTP/3 frames carry no stream id of
// their own — they are already scoped to whichever QUIC stream they arrive
// on — and no flags byte; END_STREAM is the QUIC stream's FIN bit.
const (
	h3TypeData         = 0x0
	h3TypeHeaders      = 0x1
	h3TypeCancelPush   = 0x3
	h3TypeSettings     = 0x4
	h3TypePushPromise  = 0x5
	h3TypeGoAway       = 0x7
	h3TypeMaxPushID    = 0xd
)

func h3Type(code uint64) Type {
	switch code {
	case h3TypeData:
		return TypeData
	case h3TypeHeaders:
		return TypeHeaders
	case h3TypeCancelPush:
		return TypeCancelPush
	case h3TypeSettings:
		return TypeSettings
	case h3TypePushPromise:
		return TypePushPromise
	case h3TypeGoAway:
		return TypeGoAway
	case h3TypeMaxPushID:
		return TypeMaxPushID
	default:
		return TypeUnknown
	}
}

func h3TypeCode(t Type) uint64 {
	switch t {
	case TypeData:
		return h3TypeData
	case TypeHeaders:
		return h3TypeHeaders
	case TypeCancelPush:
		return h3TypeCancelPush
	case TypeSettings:
		return h3TypeSettings
	case TypePushPromise:
		return h3TypePushPromise
	case TypeGoAway:
		return h3TypeGoAway
	case TypeMaxPushID:
		return h3TypeMaxPushID
	default:
		return 0x1f + 0x21 // a reserved "grease" codepoint, RFC 9114 §7.2.8
	}
}

// ParseOneH3 reads one h3 frame (varint type, varint length, payload) from
// buf[offset:]. StreamID is left zero; the caller already knows which QUIC
// stream it read buf from.
func ParseOneH3(buf []byte, offset int) (fr Frame, consumed int, err error) {
	typeCode, n1, err := varint.Decode(buf, offset)
	if err != nil {
		return Frame{}, 0, err
	}
	length, n2, err := varint.Decode(buf, offset+n1)
	if err != nil {
		return Frame{}, 0, err
	}
	if length > HardMaxFrameLen {
		return Frame{}, 0, ErrFrameSize
	}
	hdrLen := n1 + n2
	total := hdrLen + int(length)
	if len(buf)-offset < total {
		return Frame{}, 0, io.ErrShortBuffer
	}
	fr = Frame{
		Type:    h3Type(typeCode),
		Payload: buf[offset+hdrLen : offset+total],
	}
	return fr, total, nil
}

// SerializeH3 writes fr to w as a complete h3 frame (varint type + varint
// length + payload), per RFC 9114 §7.1.
func SerializeH3(fr Frame, w io.Writer) (int, error) {
	if len(fr.Payload) > HardMaxFrameLen {
		return 0, ErrFrameSize
	}
	var hdr []byte
	hdr, err := varint.Encode(hdr, h3TypeCode(fr.Type))
	if err != nil {
		return 0, err
	}
	hdr, err = varint.Encode(hdr, uint64(len(fr.Payload)))
	if err != nil {
		return 0, err
	}
	n, err := w.Write(hdr)
	if err != nil {
		return n, err
	}
	m, err := w.Write(fr.Payload)
	return n + m, err
}

// CancelPush carries RFC 9114 §7.2.3 push-cancellation data.
type CancelPush struct {
	PushID uint64
}

func (c *CancelPush) Type() Type { return TypeCancelPush }

func (c *CancelPush) Deserialize(payload []byte, _ Flag) error {
	id, _, err := varint.Decode(payload, 0)
	if err != nil {
		return err
	}
	c.PushID = id
	return nil
}

func (c *CancelPush) Serialize(dst []byte) ([]byte, Flag, error) {
	dst, err := varint.Encode(dst, c.PushID)
	return dst, 0, err
}

// MaxPushID carries RFC 9114 §7.2.7 push-id-watermark data.
type MaxPushID struct {
	PushID uint64
}

func (m *MaxPushID) Type() Type { return TypeMaxPushID }

func (m *MaxPushID) Deserialize(payload []byte, _ Flag) error {
	id, _, err := varint.Decode(payload, 0)
	if err != nil {
		return err
	}
	m.PushID = id
	return nil
}

func (m *MaxPushID) Serialize(dst []byte) ([]byte, Flag, error) {
	dst, err := varint.Encode(dst, m.PushID)
	return dst, 0, err
}

// H3PushPromise carries RFC 9114 §7.2.5 server-push announcement data: a
// varint push id followed by a QPACK-encoded header block, rather than
// h2's 4-byte big-endian promised stream id.
type H3PushPromise struct {
	PushID        uint64
	BlockFragment []byte
}

func (p *H3PushPromise) Type() Type { return TypePushPromise }

func (p *H3PushPromise) Deserialize(payload []byte, _ Flag) error {
	id, n, err := varint.Decode(payload, 0)
	if err != nil {
		return err
	}
	p.PushID = id
	p.BlockFragment = append(p.BlockFragment[:0], payload[n:]...)
	return nil
}

func (p *H3PushPromise) Serialize(dst []byte) ([]byte, Flag, error) {
	dst, err := varint.Encode(dst, p.PushID)
	if err != nil {
		return dst, 0, err
	}
	return append(dst, p.BlockFragment...), 0, nil
}

// H3Settings carries RFC 9114 §7.2.4 transport-parameter-like settings,
// identified by varint ids rather than h2's uint16 ids.
type H3Settings struct {
	Params map[uint64]uint64
}

func (s *H3Settings) Type() Type { return TypeSettings }

func (s *H3Settings) Deserialize(payload []byte, _ Flag) error {
	if s.Params == nil {
		s.Params = make(map[uint64]uint64)
	} else {
		for k := range s.Params {
			delete(s.Params, k)
		}
	}
	off := 0
	for off < len(payload) {
		id, n1, err := varint.Decode(payload, off)
		if err != nil {
			return err
		}
		val, n2, err := varint.Decode(payload, off+n1)
		if err != nil {
			return err
		}
		s.Params[id] = val
		off += n1 + n2
	}
	return nil
}

func (s *H3Settings) Serialize(dst []byte) ([]byte, Flag, error) {
	var err error
	for id, val := range s.Params {
		dst, err = varint.Encode(dst, id)
		if err != nil {
			return dst, 0, err
		}
		dst, err = varint.Encode(dst, val)
		if err != nil {
			return dst, 0, err
		}
	}
	return dst, 0, nil
}

// H3GoAway carries RFC 9114 §5.2 graceful-shutdown data: on the h3 wire
// this is a single varint (the id of the last stream/push the sender will
// process), unlike h2's fixed 8-byte GOAWAY body.
type H3GoAway struct {
	ID uint64
}

func (g *H3GoAway) Type() Type { return TypeGoAway }

func (g *H3GoAway) Deserialize(payload []byte, _ Flag) error {
	id, _, err := varint.Decode(payload, 0)
	if err != nil {
		return err
	}
	g.ID = id
	return nil
}

func (g *H3GoAway) Serialize(dst []byte) ([]byte, Flag, error) {
	dst, err := varint.Encode(dst, g.ID)
	return dst, 0, err
}
