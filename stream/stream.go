package stream

import (
	"context"
	"sync"
	"time"

	"github.com/emberfox-browser/netcore/hcodec"
)

// Priority is the RFC 7540 §5.3 dependency/weight pair a stream carries.
// h3 streams (see REDESIGN FLAGS in spec.md §9) leave this zero-valued;
// the connection engine picks a flat Scheduler for h3 instead of
// consulting it.
type Priority struct {
	DependsOn uint32
	Weight    uint8 // wire value; effective weight is Weight+1, i.e. 1-256
	Exclusive bool
}

// Future is the caller-facing handle for a stream's eventual response,
// satisfied exactly once by the connection engine (spec.md §3: "outstanding
// future for the caller").
type Future struct {
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	fields []hcodec.Field
	body   []byte
	err    error
}

// NewFuture returns an unresolved Future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolve completes the future successfully. Safe to call at most
// meaningfully once; subsequent calls are no-ops.
func (f *Future) Resolve(fields []hcodec.Field, body []byte) {
	f.once.Do(func() {
		f.mu.Lock()
		f.fields, f.body = fields, body
		f.mu.Unlock()
		close(f.done)
	})
}

// Fail completes the future with an error (protocol, transport, stream,
// cancellation or timeout — spec.md §7's taxonomy).
func (f *Future) Fail(err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		close(f.done)
	})
}

// Wait blocks until the future resolves or ctx is cancelled.
func (f *Future) Wait(ctx context.Context) ([]hcodec.Field, []byte, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.fields, f.body, f.err
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// Stream is one spec.md §3 Stream: its own flow-control windows,
// priority, decoded header list, queued response bytes and the future the
// caller blocks on. The connection's stream table owns the Stream;
// OpenStream also hands the pointer to its caller, which passes it back to
// SendRequest and waits on its Future.
type Stream struct {
	mu sync.Mutex

	id    uint64 // h2: 31-bit; h3: 62-bit varint
	state State

	send *FlowWindow
	recv *FlowWindow

	priority Priority

	headers []hcodec.Field
	body    []byte

	future *Future

	closedAt time.Time // zero until the stream transitions to closed
}

// New creates an idle stream with windows seeded from the local/peer
// initial-window settings.
func New(id uint64, sendInitial, recvInitial uint32) *Stream {
	return &Stream{
		id:     id,
		state:  StateIdle,
		send:   NewFlowWindow(sendInitial),
		recv:   NewFlowWindow(recvInitial),
		future: NewFuture(),
	}
}

func (s *Stream) ID() uint64 { return s.id }

func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition applies ev to the stream's state machine (spec.md §4.3's
// table), recording the closure time so the connection's grace-window
// sweep (Table.Sweep) can later reap it.
func (s *Stream) Transition(ev Event, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := Apply(s.state, ev)
	if err != nil {
		return err
	}
	if next == StateClosed && s.state != StateClosed {
		s.closedAt = now
	}
	s.state = next
	return nil
}

// ClosedAt returns the time the stream transitioned to closed, or the
// zero Time if it has not.
func (s *Stream) ClosedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closedAt
}

func (s *Stream) SendWindow() *FlowWindow { return s.send }
func (s *Stream) RecvWindow() *FlowWindow { return s.recv }

func (s *Stream) SetPriority(p Priority) {
	s.mu.Lock()
	s.priority = p
	s.mu.Unlock()
}

func (s *Stream) Priority() Priority {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.priority
}

// AppendHeaders merges a decoded header block into the stream's header
// list (called once per HEADERS, and again for any trailers).
func (s *Stream) AppendHeaders(fields []hcodec.Field) {
	s.mu.Lock()
	s.headers = append(s.headers, fields...)
	s.mu.Unlock()
}

// AppendBody appends received DATA payload bytes to the queued response
// body.
func (s *Stream) AppendBody(b []byte) {
	s.mu.Lock()
	s.body = append(s.body, b...)
	s.mu.Unlock()
}

// Future returns the stream's caller-facing response future.
func (s *Stream) Future() *Future { return s.future }

// Snapshot returns the header list and body accumulated so far, for
// resolving the Future.
func (s *Stream) Snapshot() ([]hcodec.Field, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields := append([]hcodec.Field(nil), s.headers...)
	body := append([]byte(nil), s.body...)
	return fields, body
}
