package stream

import "errors"

// MaxWindow is the largest legal flow-control window (2^31-1), per
// spec.md §4.3; exceeding it on either side is a FLOW_CONTROL_ERROR.
const MaxWindow = 1<<31 - 1

// ErrWindowOverflow is returned when a credit increment would push a
// window above MaxWindow.
var ErrWindowOverflow = errors.New("stream: flow-control window overflow")

// ErrWindowExhausted is returned by Reserve when the send window has no
// more credit to give.
var ErrWindowExhausted = errors.New("stream: send window exhausted")

// FlowWindow tracks one direction (send or recv) of one flow-controlled
// entity (a stream or the connection itself), per spec.md §3/§5.
type FlowWindow struct {
	size    int64
	initial int64
}

// NewFlowWindow returns a window initialized to initial, as negotiated by
// SETTINGS_INITIAL_WINDOW_SIZE (spec.md §4.4).
func NewFlowWindow(initial uint32) *FlowWindow {
	return &FlowWindow{size: int64(initial), initial: int64(initial)}
}

// Available returns the current credit. It can be negative immediately
// after a SETTINGS-driven shrink (RFC 7540 §6.9.2) until enough data has
// been acknowledged to bring it back up.
func (w *FlowWindow) Available() int64 { return w.size }

// Reserve consumes n bytes of credit for an outgoing DATA send. It fails
// without mutating the window if n exceeds the available credit.
func (w *FlowWindow) Reserve(n int64) error {
	if n > w.size {
		return ErrWindowExhausted
	}
	w.size -= n
	return nil
}

// Refund returns previously reserved credit that never reached the wire.
// sendBody uses it to hand back a chunk's stream credit when the connection
// window cannot cover the same chunk. Cancellation does not refund (spec.md
// §5's cancellation semantics: "the credit is not rewound; it is recorded
// as consumed").
func (w *FlowWindow) Refund(n int64) { w.size += n }

// Consume applies a received WINDOW_UPDATE increment.
func (w *FlowWindow) Consume(increment uint32) error {
	next := w.size + int64(increment)
	if next > MaxWindow {
		return ErrWindowOverflow
	}
	w.size = next
	return nil
}

// Shrink applies a signed delta to the window when the peer changes
// SETTINGS_INITIAL_WINDOW_SIZE (spec.md §4.4: "retroactively adjust every
// open stream's send window by the signed delta").
func (w *FlowWindow) Shrink(delta int64) error {
	next := w.size + delta
	if next > MaxWindow {
		return ErrWindowOverflow
	}
	w.size = next
	return nil
}

// NeedsTopUp reports whether the receive window has drained below half its
// initial value, at which point spec.md §4.3 calls for emitting a
// WINDOW_UPDATE to restore it.
func (w *FlowWindow) NeedsTopUp() bool {
	return w.size < w.initial/2
}

// TopUpAmount returns the increment needed to restore the window to its
// initial size.
func (w *FlowWindow) TopUpAmount() uint32 {
	d := w.initial - w.size
	if d <= 0 {
		return 0
	}
	return uint32(d)
}

// Deposit credits the receive window directly after a WINDOW_UPDATE is
// actually emitted (mirrors Consume but named for the receive-side
// direction to keep call sites self-documenting).
func (w *FlowWindow) Deposit(n uint32) { w.size += int64(n) }
