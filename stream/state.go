// Package stream implements the per-stream state machine, flow control and
// prioritization described in spec.md §4.3, generalizing
// dgrr-http2/stream.go's flat StreamState enum into the full RFC 7540
// transition table.
package stream

import "errors"

// State is a stream's position in the RFC 7540 §5.1 state machine
// (spec.md §3's Stream state enum).
type State uint8

const (
	StateIdle State = iota
	StateReservedLocal
	StateReservedRemote
	StateOpen
	StateHalfClosedLocal
	StateHalfClosedRemote
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReservedLocal:
		return "reserved-local"
	case StateReservedRemote:
		return "reserved-remote"
	case StateOpen:
		return "open"
	case StateHalfClosedLocal:
		return "half-closed-local"
	case StateHalfClosedRemote:
		return "half-closed-remote"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one of the transitions spec.md §4.3's state table names.
type Event uint8

const (
	EventSendHeaders Event = iota
	EventRecvHeaders
	EventSendEndStream
	EventRecvEndStream
	EventRstStream
	EventClose
)

// ErrProtocolViolation is returned by Apply for a transition spec.md §4.3's
// table marks as "error" (e.g. sending HEADERS twice).
var ErrProtocolViolation = errors.New("stream: illegal state transition")

// Apply advances s according to event and returns the new state, or
// ErrProtocolViolation if the transition is not legal from the current
// state. It implements spec.md §4.3's table exactly; half-closed-local only
// closes on a peer END_STREAM / RST_STREAM, half-closed-remote only on an
// own END_STREAM / RST_STREAM, matching RFC 7540 §5.1.
func Apply(s State, ev Event) (State, error) {
	switch s {
	case StateIdle:
		switch ev {
		case EventSendHeaders, EventRecvHeaders:
			return StateOpen, nil
		case EventRstStream:
			return StateClosed, nil
		}
	case StateReservedLocal:
		switch ev {
		case EventSendEndStream:
			return StateClosed, nil
		case EventRstStream:
			return StateClosed, nil
		}
		return StateHalfClosedRemote, nil
	case StateReservedRemote:
		switch ev {
		case EventRecvEndStream:
			return StateClosed, nil
		case EventRstStream:
			return StateClosed, nil
		}
		return StateHalfClosedLocal, nil
	case StateOpen:
		switch ev {
		case EventSendEndStream:
			return StateHalfClosedLocal, nil
		case EventRecvEndStream:
			return StateHalfClosedRemote, nil
		case EventRstStream:
			return StateClosed, nil
		}
	case StateHalfClosedLocal:
		switch ev {
		case EventRecvEndStream, EventRstStream:
			return StateClosed, nil
		}
	case StateHalfClosedRemote:
		switch ev {
		case EventSendEndStream, EventRstStream:
			return StateClosed, nil
		}
	case StateClosed:
		if ev == EventClose {
			return StateClosed, nil
		}
		return StateClosed, ErrProtocolViolation
	}
	return s, ErrProtocolViolation
}
