package zerortt

import "sync"

// replayWindowSize is spec.md §4.2's bounded nonce ring width.
const replayWindowSize = 128

// replayGuard defends a single origin's 0-RTT traffic against replay using
// a monotonic counter plus a bounded ring of recently seen nonces, the same
// shape as a TCP sequence-number + SACK bitmap: the counter rejects
// anything at or behind the oldest slot still tracked outright, and the
// ring catches reordered-but-recent duplicates within the window.
type replayGuard struct {
	mu      sync.Mutex
	nonces  [replayWindowSize][]byte
	next    int
	counter uint64
}

// Observe records nonce for sequence counter and reports whether this is
// the first time it's been seen inside the current window. A nonce older
// than the window (counter has wrapped past it) is treated as a replay
// conservatively, since its slot has already been overwritten and cannot
// be distinguished from a genuine duplicate.
func (g *replayGuard) Observe(seq uint64, nonce []byte) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if seq < g.counter && g.counter-seq >= replayWindowSize {
		return false // too old to verify, reject
	}

	slot := int(seq % replayWindowSize)
	if existing := g.nonces[slot]; existing != nil && bytesEqual(existing, nonce) {
		return false // duplicate within window
	}

	buf := make([]byte, len(nonce))
	copy(buf, nonce)
	g.nonces[slot] = buf
	if seq >= g.counter {
		g.counter = seq + 1
	}
	return true
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
