package stream

import (
	"sync"

	"github.com/valyala/fastrand"
)

// Scheduler picks which ready stream gets to send its next DATA chunk.
// h2 connections use WFQScheduler (RFC 7540 §5.3 weights); h3 connections,
// which carry no RFC 7540-style priority tree, use RoundRobinScheduler
// (spec.md §9 REDESIGN note: treat h2 priority as-specified, do not
// synthesize a new system, and do not extend it to h3).
type Scheduler interface {
	// Ready marks id as having data to send, at the given weight (ignored
	// by RoundRobinScheduler).
	Ready(id uint64, weight uint8)
	// NotReady removes id from the ready set (window exhausted, or nothing
	// left to send).
	NotReady(id uint64)
	// Next returns the next stream id to service, and false if nothing is
	// ready.
	Next() (uint64, bool)
}

// wfqEntry tracks one ready stream's accumulated virtual finish time.
type wfqEntry struct {
	id     uint64
	weight float64 // effective weight, 1-256
	vtime  float64
}

// WFQScheduler implements weighted-fair-queueing so that, averaged over
// time, sibling bandwidth ratio approximates weight ratio (spec.md §4.3).
// It deliberately ignores RFC 7540's exclusive-dependency tree shape and
// instead treats every ready stream as a sibling of equal depth: the
// teacher carries no priority tree at all (dgrr-http2/priority.go only
// parses the frame, it never schedules with it), so this is new code
// grounded on the spec's plain-language description rather than adapted
// teacher logic — tracked here rather than silently presented as ported.
type WFQScheduler struct {
	mu      sync.Mutex
	entries map[uint64]*wfqEntry
	clock   float64
}

// NewWFQScheduler returns an empty weighted-fair-queueing scheduler.
func NewWFQScheduler() *WFQScheduler {
	return &WFQScheduler{entries: make(map[uint64]*wfqEntry)}
}

func (w *WFQScheduler) Ready(id uint64, weight uint8) {
	w.mu.Lock()
	defer w.mu.Unlock()
	eff := float64(weight) + 1 // wire weight is 0-255 for effective 1-256
	if e, ok := w.entries[id]; ok {
		e.weight = eff
		return
	}
	w.entries[id] = &wfqEntry{id: id, weight: eff, vtime: w.clock}
}

func (w *WFQScheduler) NotReady(id uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.entries, id)
}

// Next selects the entry with the smallest virtual finish time, breaking
// ties with a small random jitter (github.com/valyala/fastrand, the same
// library dgrr-http2/http2utils.AddPadding uses for its own randomness) so
// that equally-weighted siblings do not starve each other by id order.
func (w *WFQScheduler) Next() (uint64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.entries) == 0 {
		return 0, false
	}
	var best *wfqEntry
	for _, e := range w.entries {
		if best == nil || e.vtime < best.vtime ||
			(e.vtime == best.vtime && fastrand.Uint32n(2) == 0) {
			best = e
		}
	}
	// Advance the chosen stream's virtual time by 1/weight "rounds",
	// the standard WFQ bookkeeping step.
	best.vtime += 1.0 / best.weight
	w.clock = best.vtime
	return best.id, true
}

// RoundRobinScheduler is the flat scheduler h3 connections use.
type RoundRobinScheduler struct {
	mu    sync.Mutex
	ready []uint64
	pos   int
}

func NewRoundRobinScheduler() *RoundRobinScheduler {
	return &RoundRobinScheduler{}
}

func (r *RoundRobinScheduler) Ready(id uint64, _ uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.ready {
		if v == id {
			return
		}
	}
	r.ready = append(r.ready, id)
}

func (r *RoundRobinScheduler) NotReady(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, v := range r.ready {
		if v == id {
			r.ready = append(r.ready[:i], r.ready[i+1:]...)
			if r.pos > i {
				r.pos--
			}
			return
		}
	}
}

func (r *RoundRobinScheduler) Next() (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ready) == 0 {
		return 0, false
	}
	id := r.ready[r.pos%len(r.ready)]
	r.pos = (r.pos + 1) % len(r.ready)
	return id, true
}
