package stream

import (
	"sort"
	"sync"
	"time"
)

// Table indexes a connection's streams by id, generalizing
// dgrr-http2/streams.go's Streams.Insert/Del/Get (sort.Search over an
// id-sorted slice) to also retain closed streams for a bounded grace
// window so late frames can be silently dropped instead of treated as a
// protocol error (spec.md §4.3).
type Table struct {
	mu   sync.Mutex
	list []*Stream
}

// Insert adds s to the table, keeping list sorted by id.
func (t *Table) Insert(s *Stream) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := sort.Search(len(t.list), func(i int) bool { return t.list[i].id >= s.id })
	if i == len(t.list) {
		t.list = append(t.list, s)
		return
	}
	t.list = append(t.list, nil)
	copy(t.list[i+1:], t.list[i:])
	t.list[i] = s
}

// Get returns the stream with the given id, or nil.
func (t *Table) Get(id uint64) *Stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := sort.Search(len(t.list), func(i int) bool { return t.list[i].id >= id })
	if i < len(t.list) && t.list[i].id == id {
		return t.list[i]
	}
	return nil
}

// Del removes and returns the stream with the given id, or nil if absent.
// Callers that want grace-window retention should not call Del directly on
// stream closure — leave that to Sweep — and instead call Del only when a
// caller has fully consumed a closed stream's response (spec.md §3:
// "destroyed when closed and caller has consumed the response").
func (t *Table) Del(id uint64) *Stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := sort.Search(len(t.list), func(i int) bool { return t.list[i].id >= id })
	if i < len(t.list) && t.list[i].id == id {
		s := t.list[i]
		t.list = append(t.list[:i], t.list[i+1:]...)
		return s
	}
	return nil
}

// Len returns the number of streams currently tracked, open or closed but
// not yet reaped.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.list)
}

// Range calls f for every stream in ascending id order. f must not call
// back into the Table.
func (t *Table) Range(f func(*Stream)) {
	t.mu.Lock()
	snapshot := append([]*Stream(nil), t.list...)
	t.mu.Unlock()
	for _, s := range snapshot {
		f(s)
	}
}

// Sweep removes closed streams whose grace window (spec.md §4.3:
// "lifetime = 2·RTT after closure") has elapsed as of now. It is the
// concrete operation behind the spec's "closed-stream records retained for
// a bounded window" rule — called periodically by the connection engine's
// reactor loop with its current RTT estimate.
func (t *Table) Sweep(now time.Time, lifetime time.Duration) (reaped int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.list[:0]
	for _, s := range t.list {
		closedAt := s.ClosedAt()
		if !closedAt.IsZero() && now.Sub(closedAt) > lifetime {
			reaped++
			continue
		}
		kept = append(kept, s)
	}
	t.list = kept
	return reaped
}

// InGraceWindow reports whether id belongs to a stream that has closed but
// is still within its retention window — frames arriving for it should be
// silently dropped rather than treated as PROTOCOL_ERROR (spec.md §4.3).
func (t *Table) InGraceWindow(id uint64, now time.Time, lifetime time.Duration) bool {
	s := t.Get(id)
	if s == nil {
		return false
	}
	closedAt := s.ClosedAt()
	return !closedAt.IsZero() && now.Sub(closedAt) <= lifetime
}
