package netcore

import (
	"crypto/tls"
	"time"

	"github.com/emberfox-browser/netcore/conn"
	"github.com/emberfox-browser/netcore/httpcache"
	"github.com/emberfox-browser/netcore/netlog"
	"github.com/emberfox-browser/netcore/policy"
	"github.com/emberfox-browser/netcore/zerortt"
)

// DefaultRequestTimeout bounds a single Do call end to end (dial, 0-RTT
// fallback, response), per spec.md §6's network.request_timeout_ms.
const DefaultRequestTimeout = 30 * time.Second

// DefaultUserAgent is sent on every request unless a caller's headers
// already set one.
const DefaultUserAgent = "netcore/1.0"

// clientOpts is the private options struct an Option mutates, mirroring
// ngrok-ngrok-go/agent_options.go's agentOpts: every field has a
// documented zero-value default applied by defaultClientOpts, and Option
// values are only ever produced by the With* constructors below, never
// built by hand.
type clientOpts struct {
	log netlog.Logger

	dialerCfg conn.DialerConfig
	tlsConfig *tls.Config

	cache *httpcache.Cache
	gate  policy.PolicyGate
	zrtt  *zerortt.Store

	enableH3       bool
	requestTimeout time.Duration
	userAgent      string
}

func defaultClientOpts() clientOpts {
	return clientOpts{
		log:            netlog.New("netcore"),
		dialerCfg:      conn.DefaultDialerConfig(),
		requestTimeout: DefaultRequestTimeout,
		userAgent:      DefaultUserAgent,
	}
}

// Option configures a Client at construction time, following the same
// functional-options shape ngrok-ngrok-go/agent_options.go uses for its
// Agent: every option is a small named constructor rather than a struct
// literal, so New's call sites read like a sentence and zero-valued fields
// keep working.
type Option func(*clientOpts)

// WithLogger overrides the root logger every subsystem Client wires up is
// derived from. Defaults to netlog.New("netcore").
func WithLogger(l netlog.Logger) Option {
	return func(o *clientOpts) { o.log = l }
}

// WithDialerConfig overrides the h2 connection pool's dialer configuration
// (max connections per host, connect timeout, TLS config).
func WithDialerConfig(cfg conn.DialerConfig) Option {
	return func(o *clientOpts) { o.dialerCfg = cfg }
}

// WithTLSConfig sets the TLS config used for both the h2 dialer and any
// h3/QUIC dials; it is cloned per-dial so callers may share one instance
// across Clients.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *clientOpts) { o.tlsConfig = cfg }
}

// WithCache enables spec.md §4.6 response caching. Without this option,
// Do always reaches the origin.
func WithCache(c *httpcache.Cache) Option {
	return func(o *clientOpts) { o.cache = c }
}

// WithPolicyGate enables spec.md §4.7's request/response policy gate.
// Without this option every request is admitted and every response passes
// through unscanned.
func WithPolicyGate(g policy.PolicyGate) Option {
	return func(o *clientOpts) { o.gate = g }
}

// WithZeroRTT enables spec.md §4.2's 0-RTT ticket reuse over h3. Without
// this option h3 (when WithHTTP3 is set) always performs a full 1-RTT
// handshake.
func WithZeroRTT(s *zerortt.Store) Option {
	return func(o *clientOpts) { o.zrtt = s }
}

// WithHTTP3 makes Do try h3 over QUIC first for every origin, falling back
// to the h2 pool when the h3 attempt fails. Off by default: a caller with no
// QUIC egress path (e.g. UDP blocked) should not pay a dial attempt per
// request.
func WithHTTP3(enabled bool) Option {
	return func(o *clientOpts) { o.enableH3 = enabled }
}

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *clientOpts) { o.requestTimeout = d }
}

// WithUserAgent overrides DefaultUserAgent.
func WithUserAgent(ua string) Option {
	return func(o *clientOpts) { o.userAgent = ua }
}
