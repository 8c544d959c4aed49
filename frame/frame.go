// Package frame parses and serializes the HTTP/2 and HTTP/3 frame sets
// described in spec.md §3/§4.2. Frame bodies implement the Body interface;
// ParseOne/Serialize read and write the h2 9-byte frame header (RFC 7540
// §4.1), while ParseOneH3/SerializeH3 instead prefix each frame with two
// varints (type, length) per RFC 9114 §7.1.
package frame

import "github.com/valyala/bytebufferpool"

// Type identifies a frame's wire type. The h2 and h3 sets overlap on the
// low values (DATA, HEADERS, SETTINGS, GOAWAY, PUSH_PROMISE) and diverge
// above that — PRIORITY/RST_STREAM/WINDOW_UPDATE/CONTINUATION exist only on
// h2; CANCEL_PUSH/MAX_PUSH_ID only on h3.
type Type uint8

const (
	TypeData Type = iota
	TypeHeaders
	TypePriority // h2 only
	TypeRstStream
	TypeSettings
	TypePushPromise
	TypePing // h2 only
	TypeGoAway
	TypeWindowUpdate // h2 only
	TypeContinuation // h2 only
	TypeCancelPush   // h3 only
	TypeMaxPushID    // h3 only
	TypeUnknown
)

func (t Type) String() string {
	switch t {
	case TypeData:
		return "DATA"
	case TypeHeaders:
		return "HEADERS"
	case TypePriority:
		return "PRIORITY"
	case TypeRstStream:
		return "RST_STREAM"
	case TypeSettings:
		return "SETTINGS"
	case TypePushPromise:
		return "PUSH_PROMISE"
	case TypePing:
		return "PING"
	case TypeGoAway:
		return "GOAWAY"
	case TypeWindowUpdate:
		return "WINDOW_UPDATE"
	case TypeContinuation:
		return "CONTINUATION"
	case TypeCancelPush:
		return "CANCEL_PUSH"
	case TypeMaxPushID:
		return "MAX_PUSH_ID"
	default:
		return "UNKNOWN"
	}
}

// Flag is the h2 frame-header flags byte (RFC 7540 §4.1). h3 frames carry
// no flags byte; END_STREAM is instead signalled by the QUIC stream FIN.
type Flag uint8

const (
	FlagAck        Flag = 0x1
	FlagEndStream  Flag = 0x1
	FlagEndHeaders Flag = 0x4
	FlagPadded     Flag = 0x8
	FlagPriority   Flag = 0x20
)

// Has reports whether f contains flag.
func (f Flag) Has(flag Flag) bool { return f&flag == flag }

// Add returns f with flag set.
func (f Flag) Add(flag Flag) Flag { return f | flag }

// Frame is a decoded frame: a type tag, flags, the owning stream id (0 for
// connection-level frames) and a payload view owned by the decoder until
// the handler consumes it (spec.md §3).
type Frame struct {
	Type     Type
	Flags    Flag
	StreamID uint32 // h2: 31-bit; h3 callers use the QUIC stream id directly
	Payload  []byte
}

// Body is implemented by each concrete frame type (Data, Headers,
// Settings, ...). Serialize/Deserialize round-trip through a Frame's
// Payload, mirroring dgrr-http2's per-type Serialize(fr)/Deserialize(fr)
// pair on FrameHeader.
type Body interface {
	Type() Type
	// Deserialize populates the body from payload. It must not retain
	// payload past the call; implementations copy what they need.
	Deserialize(payload []byte, flags Flag) error
	// Serialize appends the wire encoding of the body to dst and returns
	// the result along with the flags the body wants set on the frame
	// header (e.g. END_HEADERS).
	Serialize(dst []byte) (buf []byte, flags Flag, err error)
}

var payloadPool bytebufferpool.Pool

// AcquirePayload and ReleasePayload let callers that build HEADERS/DATA
// frame payloads reuse buffers across frames the way dgrr-http2/client.go
// pools with bytebufferpool around its wire reads. The connection engine
// acquires one per outbound HEADERS or DATA frame, serializes the body
// into its backing slice, and releases it once the frame has actually been
// written to the wire (conn.Connection's writeLoop does this after
// frame.Serialize returns, since bufio.Writer.Write copies the bytes out
// rather than retaining the slice).
func AcquirePayload() *bytebufferpool.ByteBuffer { return payloadPool.Get() }
func ReleasePayload(b *bytebufferpool.ByteBuffer) { payloadPool.Put(b) }
