package zerortt

import (
	"sort"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/emberfox-browser/netcore/netlog"
)

// Store tracks 0-RTT tickets per origin, ranks them for reuse, and paces
// fallback-to-full-handshake retries after a rejection run, grounded on
// ngrok-ngrok-go/internal/tunnel/client/reconnecting.go's connect() retry
// loop: that function backs off a reconnect dialer the same way Store backs
// off an origin that just burned through its 0-RTT tickets.
type Store struct {
	log     netlog.Logger
	secrets SecretStore

	mu      sync.Mutex
	tickets map[string][]*Ticket
	guards  map[string]*replayGuard
	backoff map[string]*backoff.Backoff
}

// NewStore returns an empty Store. Call Load to restore a prior session's
// tickets from disk before first use.
func NewStore(secrets SecretStore, log netlog.Logger) *Store {
	return &Store{
		log:     log,
		secrets: secrets,
		tickets: make(map[string][]*Ticket),
		guards:  make(map[string]*replayGuard),
		backoff: make(map[string]*backoff.Backoff),
	}
}

// Add registers a freshly issued ticket for its origin.
func (s *Store) Add(t *Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[t.Origin] = append(s.tickets[t.Origin], t)
}

// TakeFor returns the best usable ticket for origin under alpn (ranked by
// effective_priority = base_priority * success_rate, spec.md §4.2), or nil
// if none qualify — the caller should then perform a full 1-RTT handshake.
// Expired or retired tickets are pruned from the origin's list as a side
// effect, so TakeFor doubles as the "prune expired tickets" sweep.
func (s *Store) TakeFor(origin, alpn string) *Ticket {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.tickets[origin]
	kept := list[:0]
	for _, t := range list {
		if t.Usable(now) {
			kept = append(kept, t)
		}
	}
	s.tickets[origin] = kept
	if len(kept) == 0 {
		return nil
	}

	sort.Slice(kept, func(i, j int) bool {
		return kept[i].effectivePriority() > kept[j].effectivePriority()
	})
	for _, t := range kept {
		if t.ALPN == alpn {
			return t
		}
	}
	return nil
}

// OnAccepted records that a 0-RTT attempt under t succeeded and resets the
// origin's fallback backoff, mirroring reconnectingSession.connect's
// boff.Reset() on a successful reconnect.
func (s *Store) OnAccepted(t *Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.onAccepted()
	if b, ok := s.backoff[t.Origin]; ok {
		b.Reset()
	}
}

// OnRejected records a 0-RTT rejection for t and returns how long the
// caller should wait before retrying this origin with a full handshake,
// using the same Min/Max/Factor shape reconnectingSession.connect uses for
// its dialer backoff (500ms floor, 30s ceiling, factor 2, no jitter since
// 0-RTT rejection already implies server-side state, not a thundering
// herd this process needs to desynchronize from).
func (s *Store) OnRejected(t *Ticket) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.onRejected()

	b, ok := s.backoff[t.Origin]
	if !ok {
		b = &backoff.Backoff{Min: 500 * time.Millisecond, Max: 30 * time.Second, Factor: 2, Jitter: false}
		s.backoff[t.Origin] = b
	}
	wait := b.Duration()
	s.log.Info("0-RTT ticket rejected, falling back to full handshake", "origin", t.Origin, "wait", wait)
	return wait
}

// guardFor returns (creating if necessary) the replay guard for origin.
func (s *Store) guardFor(origin string) *replayGuard {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guards[origin]
	if !ok {
		g = &replayGuard{}
		s.guards[origin] = g
	}
	return g
}

// CheckReplay reports whether (seq, nonce) is a fresh observation for
// origin's 0-RTT traffic, per spec.md §4.2's replay-defense requirement.
func (s *Store) CheckReplay(origin string, seq uint64, nonce []byte) bool {
	return s.guardFor(origin).Observe(seq, nonce)
}

// MarkPriority locates origin's highest-effective-priority ticket and
// calls its MarkPriority, used to attach a precomputed HEADERS block to
// the ticket most likely to actually get reused.
func (s *Store) MarkPriority(origin, key string, headerBlock []byte, priority float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *Ticket
	for _, t := range s.tickets[origin] {
		if best == nil || t.effectivePriority() > best.effectivePriority() {
			best = t
		}
	}
	if best != nil {
		best.MarkPriority(key, headerBlock, priority)
	}
}
