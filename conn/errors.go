package conn

import "errors"

// Error taxonomy per spec.md §7: transport, protocol and stream errors are
// distinguished so the caller/façade can apply the right propagation rule.
var (
	// ErrProtocol wraps PROTOCOL_ERROR-class failures: GOAWAY is sent, the
	// connection closes, and every pending stream future fails with this
	// kind.
	ErrProtocol = errors.New("conn: protocol error")
	// ErrFlowControl wraps FLOW_CONTROL_ERROR-class failures.
	ErrFlowControl = errors.New("conn: flow control error")
	// ErrSettingsTimeout fires when no SETTINGS arrives from the peer
	// within the handshake deadline (spec.md §4.4: 30s).
	ErrSettingsTimeout = errors.New("conn: settings timeout")
	// ErrConnectionClosed is returned to any caller whose stream was still
	// pending when the connection's transport closed.
	ErrConnectionClosed = errors.New("conn: connection closed")
	// ErrGoAway is returned to callers whose stream id was retried after a
	// GOAWAY (spec.md scenario 4): a retriable-connection-closed error.
	ErrGoAway = errors.New("conn: connection going away, retry on a new connection")
	// ErrTooManyStreams names the peer's MAX_CONCURRENT_STREAMS limit being
	// reached. No function in this module returns it; OpenStream does not
	// check the limit.
	ErrTooManyStreams = errors.New("conn: concurrent stream limit reached")
	// ErrCancelled is returned by a Future whose stream was cancelled by
	// the caller (spec.md §5: cancellation semantics).
	ErrCancelled = errors.New("conn: request cancelled")
	// ErrTimeout is returned by a Future whose deadline elapsed; spec.md §5
	// treats this as cancellation with a distinct error kind.
	ErrTimeout = errors.New("conn: request timed out")
)
