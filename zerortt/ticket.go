// Package zerortt is spec.md §4.2's 0-RTT resumption layer: it ranks session
// tickets for early-data reuse, defends against replay, and falls back to a
// full handshake when a ticket is rejected, the way dgrr-http2/client.go
// caches one fasthttp.HostClient per origin but never carries a resumption
// ticket across connections. There is no teacher precedent for 0-RTT itself,
// so the ticket store's shape is grounded on quic-go's TokenStore (see
// other_examples' quic-go interface file and quictransport.TokenStore) and
// its retry pacing on ngrok-ngrok-go's reconnect backoff.
package zerortt

import (
	"time"
)

// Ticket is one TLS 1.3 session ticket (or QUIC 0-RTT token) netcore may
// offer on a future connection attempt to the same origin.
type Ticket struct {
	Origin string
	Opaque []byte // the wire-format ticket/token blob, opaque to netcore

	IssuedAt time.Time
	Expiry   time.Time

	// ALPN is the protocol this ticket was issued under ("h2" or "h3");
	// a ticket is never offered to the other protocol's dialer.
	ALPN string

	// BasePriority ranks same-origin tickets before success-rate is
	// factored in; MarkPriority raises it for origins that got a
	// precomputed HEADERS block (spec.md §4.2's "up to 8 per high
	// priority origin").
	BasePriority float64

	// accepted/rejected count 0-RTT outcomes for this ticket specifically;
	// successRate() derives from them. rejections >= MaxRejections retires
	// the ticket (spec.md §4.2: "unusable after 3 rejections").
	accepted  int
	rejected  int

	// AllowedMethods restricts which request methods may ride in early
	// data (spec.md §4.2 default: GET and HEAD only, since 0-RTT requests
	// are replayable and must be idempotent).
	AllowedMethods []string

	// precomputedHeaders holds up to maxPrecomputedHeaders ready-to-send
	// HEADERS block fragments for this origin's hottest requests,
	// indexed by a caller-chosen key (typically method+path).
	precomputedHeaders map[string][]byte
}

// MaxRejections is spec.md §4.2's "unusable after 3 rejections" cutoff.
const MaxRejections = 3

// maxPrecomputedHeaders caps the per-origin precomputed HEADERS cache
// (spec.md §4.2: "up to 8 per high priority origin").
const maxPrecomputedHeaders = 8

// Expired reports whether the ticket is past its TLS-stack-issued expiry.
func (t *Ticket) Expired(now time.Time) bool { return now.After(t.Expiry) }

// Usable reports whether the ticket may still be offered: not expired, and
// not retired by repeated rejection.
func (t *Ticket) Usable(now time.Time) bool {
	return !t.Expired(now) && t.rejected < MaxRejections
}

// successRate is accepted/(accepted+rejected), defaulting to 1.0 for a
// never-tried ticket so fresh tickets aren't penalized against seasoned
// ones before they've had a chance to prove out.
func (t *Ticket) successRate() float64 {
	total := t.accepted + t.rejected
	if total == 0 {
		return 1.0
	}
	return float64(t.accepted) / float64(total)
}

// effectivePriority is spec.md §4.2's ranking function:
// effective_priority = base_priority * success_rate.
func (t *Ticket) effectivePriority() float64 {
	return t.BasePriority * t.successRate()
}

// onAccepted records a successful 0-RTT early-data acceptance.
func (t *Ticket) onAccepted() { t.accepted++ }

// onRejected records a server-side 0-RTT rejection (HelloRetryRequest or
// equivalent QUIC signal). After MaxRejections the ticket becomes unusable
// and the caller must fall back to a full handshake for this origin.
func (t *Ticket) onRejected() { t.rejected++ }

// MarkPriority raises BasePriority and stores a precomputed HEADERS block
// fragment for key (typically "GET /"), up to maxPrecomputedHeaders entries
// per ticket; beyond that, whichever existing entry map iteration yields
// first is evicted to make room — ordering doesn't matter here, only the
// cap does.
func (t *Ticket) MarkPriority(key string, headerBlock []byte, priority float64) {
	if priority > t.BasePriority {
		t.BasePriority = priority
	}
	if t.precomputedHeaders == nil {
		t.precomputedHeaders = make(map[string][]byte)
	}
	if _, exists := t.precomputedHeaders[key]; !exists && len(t.precomputedHeaders) >= maxPrecomputedHeaders {
		for k := range t.precomputedHeaders {
			delete(t.precomputedHeaders, k)
			break
		}
	}
	t.precomputedHeaders[key] = headerBlock
}

// PrecomputedHeaders returns the cached HEADERS block fragment for key, if
// any was registered via MarkPriority.
func (t *Ticket) PrecomputedHeaders(key string) ([]byte, bool) {
	b, ok := t.precomputedHeaders[key]
	return b, ok
}

// MethodAllowed reports whether method may be sent as 0-RTT early data
// under this ticket. An empty AllowedMethods defaults to GET/HEAD only,
// per spec.md §4.2's idempotency requirement for replayable requests.
func (t *Ticket) MethodAllowed(method string) bool {
	allowed := t.AllowedMethods
	if len(allowed) == 0 {
		allowed = defaultAllowedMethods
	}
	for _, m := range allowed {
		if m == method {
			return true
		}
	}
	return false
}

var defaultAllowedMethods = []string{"GET", "HEAD"}
