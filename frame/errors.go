package frame

import "errors"

// ErrorCode is an RFC 7540 §7 / RFC 9114 §8.1 error code. Both wire
// protocols share the low codes; h3-only codes live above 0x100 per
// RFC 9114.
type ErrorCode uint32

// h2/h3 shared error codes (http://httpwg.org/specs/rfc7540.html#ErrorCodes).
const (
	NoError            ErrorCode = 0x0
	ProtocolError      ErrorCode = 0x1
	InternalError      ErrorCode = 0x2
	FlowControlError   ErrorCode = 0x3
	SettingsTimeout    ErrorCode = 0x4
	StreamClosedError  ErrorCode = 0x5
	FrameSizeError     ErrorCode = 0x6
	RefusedStreamError ErrorCode = 0x7
	CancelError        ErrorCode = 0x8
	CompressionError   ErrorCode = 0x9
	ConnectError       ErrorCode = 0xa
	EnhanceYourCalm    ErrorCode = 0xb
	InadequateSecurity ErrorCode = 0xc
	HTTP11Required     ErrorCode = 0xd
)

var errNames = map[ErrorCode]string{
	NoError:            "NO_ERROR",
	ProtocolError:      "PROTOCOL_ERROR",
	InternalError:      "INTERNAL_ERROR",
	FlowControlError:   "FLOW_CONTROL_ERROR",
	SettingsTimeout:    "SETTINGS_TIMEOUT",
	StreamClosedError:  "STREAM_CLOSED",
	FrameSizeError:     "FRAME_SIZE_ERROR",
	RefusedStreamError: "REFUSED_STREAM",
	CancelError:        "CANCEL",
	CompressionError:   "COMPRESSION_ERROR",
	ConnectError:       "CONNECT_ERROR",
	EnhanceYourCalm:    "ENHANCE_YOUR_CALM",
	InadequateSecurity: "INADEQUATE_SECURITY",
	HTTP11Required:     "HTTP_1_1_REQUIRED",
}

func (c ErrorCode) String() string {
	if name, ok := errNames[c]; ok {
		return name
	}
	return "UNKNOWN_ERROR"
}

// Error adapts an ErrorCode to the error interface, mirroring
// dgrr-http2/errors.go's Error(code) lookup.
func (c ErrorCode) Error() string {
	return c.String()
}

var (
	// ErrMissingBytes is returned by Deserialize when a frame's payload is
	// shorter than the type's fixed minimum.
	ErrMissingBytes = errors.New("frame: payload shorter than minimum")
	// ErrFrameSize is returned when a frame's declared length exceeds the
	// negotiated or hard-coded maximum.
	ErrFrameSize = errors.New("frame: length exceeds maximum frame size")
	// ErrBadStreamID is returned when a SETTINGS, PING or GOAWAY frame
	// carries a nonzero stream id, or an RST_STREAM frame carries stream id
	// zero.
	ErrBadStreamID = errors.New("frame: stream id constraint violated")
	// ErrUnknownFrameType is returned by ParseOne for a frame type outside
	// the known h2/h3 sets. Per RFC 7540 §4.1 / RFC 9114 §7.2.8, unknown
	// frame types must be ignored by the caller, not treated as fatal.
	ErrUnknownFrameType = errors.New("frame: unknown frame type")
	// ErrBadPreface is returned when the literal 24-byte h2 connection
	// preface does not match RFC 7540 §3.5.
	ErrBadPreface = errors.New("frame: bad connection preface")
)

// HardMaxFrameLen is the absolute cap on any frame's payload length,
// independent of negotiated SETTINGS_MAX_FRAME_SIZE (spec.md §4.2).
const HardMaxFrameLen = 16 << 20 // 16 MiB
