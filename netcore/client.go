// Package netcore is spec.md §3's request façade: the single entry point
// an embedder calls, wiring together the connection engine (conn), the
// 0-RTT ticket store (zerortt), the response cache (httpcache) and the
// policy gate (policy) behind one Do call, generalizing
// dgrr-http2/client.go's Client.Do(req *fasthttp.Request, res
// *fasthttp.Response) error the same way conn.Connection generalizes its
// Conn.
package netcore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/emberfox-browser/netcore/conn"
	"github.com/emberfox-browser/netcore/hcodec"
	"github.com/emberfox-browser/netcore/policy"
)

// ErrBlocked is returned when the policy gate refuses a request or a
// response outright (spec.md §4.7 scenario 6).
var ErrBlocked = errors.New("netcore: blocked by policy gate")

// maxTransportAttempts bounds doH2's GOAWAY retry loop (scenario 4): at most
// this many attempts in total, not an unbounded retry storm against a
// genuinely down origin. doH3's 0-RTT-reject replay (scenario 5) is a single
// extra attempt and does not use this constant.
const maxTransportAttempts = 3

// Client is the façade spec.md §3 calls for: one long-lived value an
// embedder constructs once via New and calls Do on per request, holding
// the h2 connection pool, the h3 session pool, and whichever of the
// optional cache/policy/0-RTT subsystems were wired in via Option.
type Client struct {
	opts   clientOpts
	dialer *conn.Dialer
	h3pool *quicPool
}

// New builds a Client from opts, applying clientOpts's documented
// defaults to anything not overridden.
func New(opts ...Option) *Client {
	o := defaultClientOpts()
	for _, opt := range opts {
		opt(&o)
	}
	if o.tlsConfig != nil {
		o.dialerCfg.TLSConfig = o.tlsConfig
	}
	dialer := conn.NewDialer(o.dialerCfg, coderFor, o.log)
	return &Client{opts: o, dialer: dialer, h3pool: newQUICPool()}
}

// Do performs req and fills res, the same contract as
// dgrr-http2/client.go's Client.Do: lazy-dial-if-needed, encode headers,
// send, wait for the response, decode it back onto res. Caching and the
// policy gate are layered on top when configured via Option.
func (c *Client) Do(ctx context.Context, req *fasthttp.Request, res *fasthttp.Response) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.requestTimeout)
		defer cancel()
	}

	synthReq, err := syntheticHTTPRequest(req)
	if err != nil {
		return err
	}
	if synthReq.Header.Get("User-Agent") == "" {
		synthReq.Header.Set("User-Agent", c.opts.userAgent)
	}

	var policyHeaders http.Header
	if c.opts.gate != nil {
		referrer := string(req.Header.Referer())
		decision := c.opts.gate.Admit(synthReq, referrer, "document")
		if !decision.Allow {
			return fmt.Errorf("%w: %s", ErrBlocked, synthReq.URL.Hostname())
		}
		policyHeaders = decision.Headers
	}

	body := append([]byte(nil), req.Body()...)
	cacheable := c.opts.cache != nil && len(body) == 0 &&
		(synthReq.Method == http.MethodGet || synthReq.Method == http.MethodHead)

	var status int
	var header http.Header
	var respBody []byte

	if cacheable {
		entry, err := c.opts.cache.FetchOrPopulate(synthReq, time.Now(), func(r *http.Request) (*http.Response, []byte, error) {
			rctx := ctx
			if r != synthReq {
				// A background revalidation runs after Do has returned and
				// ctx may be done by then, so it gets its own timeout.
				var cancel context.CancelFunc
				rctx, cancel = context.WithTimeout(context.Background(), c.opts.requestTimeout)
				defer cancel()
			}
			return c.doTransport(rctx, r.Method, r.URL, r.Header, nil)
		})
		if err != nil {
			return err
		}
		defer c.opts.cache.Release(synthReq)
		status = entry.Status
		header = entry.Header
		respBody, err = c.opts.cache.Body(entry)
		if err != nil {
			return err
		}
	} else {
		resp, b, err := c.doTransport(ctx, synthReq.Method, synthReq.URL, synthReq.Header, body)
		if err != nil {
			return err
		}
		status, header, respBody = resp.StatusCode, resp.Header, b
	}

	if c.opts.gate != nil {
		action, sanitized := c.opts.gate.Inspect(policy.CertRiskNone, header.Get("Content-Type"), respBody, synthReq.URL.Hostname())
		switch action {
		case policy.ActionBlocked:
			return fmt.Errorf("%w: response from %s", ErrBlocked, synthReq.URL.Hostname())
		default:
			respBody = sanitized
		}
	}

	writeFasthttpResponse(res, status, header, respBody)
	applyHeaders(res, policyHeaders)
	return nil
}

func applyHeaders(res *fasthttp.Response, h http.Header) {
	for name, values := range h {
		for _, v := range values {
			res.Header.Add(name, v)
		}
	}
}

// coderFor is the conn.Dialer coderFactory: HPACK for h2, and h3's
// OpaqueQPACK here too, for the case a caller's h2 dialer ends up
// negotiating h3 over ALPN on a cleartext-upgrade path some day — the h3
// façade path (dialH3) always builds its own OpaqueQPACK per request
// instead, since h3 has no shared connection-wide codec state.
func coderFor(proto string) hcodec.Coder {
	if proto == "h3" {
		return hcodec.NewOpaqueQPACK()
	}
	return hcodec.NewHPACKCoder()
}

// doTransport sends one logical request (method/url/header/body) and
// returns its response, choosing h3 (with 0-RTT, scenario 5's transparent
// replay on rejection) when enabled and falling back to the pooled h2
// connection engine (scenario 4's GOAWAY retry) otherwise.
func (c *Client) doTransport(ctx context.Context, method string, u *url.URL, header http.Header, body []byte) (*http.Response, []byte, error) {
	host, port := hostPort(u)

	if c.opts.enableH3 {
		resp, respBody, err := c.doH3(ctx, method, u, host, port, header, body)
		if err == nil {
			return resp, respBody, nil
		}
		c.opts.log.Debug("h3 attempt failed, falling back to h2", "host", host, "err", err)
	}

	return c.doH2(ctx, method, u, host, port, header, body)
}

func hostPort(u *url.URL) (string, int) {
	host := u.Hostname()
	if p := u.Port(); p != "" {
		port, _ := strconv.Atoi(p)
		return host, port
	}
	if u.Scheme == "http" {
		return host, 80
	}
	return host, 443
}

// doH2 implements scenario 4: acquire a pooled connection, send, and on
// ErrGoAway (conn.Dialer's pool already excludes draining connections from
// future Acquire calls, per conn/dialer.go) retry against a fresh one, up
// to maxTransportAttempts times.
func (c *Client) doH2(ctx context.Context, method string, u *url.URL, host string, port int, header http.Header, body []byte) (*http.Response, []byte, error) {
	var lastErr error
	for attempt := 0; attempt < maxTransportAttempts; attempt++ {
		connection, _, err := c.dialer.Acquire(ctx, host, port)
		if err != nil {
			return nil, nil, err
		}

		fields := fieldsFromHeader(method, u.Scheme, u.Host, u.RequestURI(), header)
		s := connection.OpenStream()
		if err := connection.SendRequest(s, fields, body); err != nil {
			c.dialer.Release(host, port, connection)
			lastErr = err
			if errors.Is(err, conn.ErrGoAway) {
				continue
			}
			return nil, nil, err
		}

		respFields, respBody, err := s.Future().Wait(ctx)
		c.dialer.Release(host, port, connection)
		if err != nil {
			lastErr = err
			if errors.Is(err, conn.ErrGoAway) {
				continue
			}
			return nil, nil, err
		}

		status, respHeader := applyResponseFields(respFields)
		return syntheticHTTPResponse(status, respHeader), respBody, nil
	}
	return nil, nil, fmt.Errorf("netcore: h2 request to %s failed after retrying GOAWAY: %w", host, lastErr)
}

// doH3 implements scenario 5: attempt the request over h3, optionally
// riding a 0-RTT ticket. When the request succeeds on a freshly dialed
// session that offered a ticket, the ticket's outcome is recorded:
// OnAccepted if the handshake used early data, OnRejected otherwise. When
// the request fails on such a session, the rejection is recorded, the
// session is evicted from the pool, and the request is replayed once on a
// newly dialed session before the error is returned and the caller falls
// back to h2.
func (c *Client) doH3(ctx context.Context, method string, u *url.URL, host string, port int, header http.Header, body []byte) (*http.Response, []byte, error) {
	origin := fmt.Sprintf("%s:%d", host, port)

	h3, ticket, usedZeroRTT, err := c.dialH3(ctx, host, port)
	if err != nil {
		return nil, nil, err
	}

	sendOn := func(h3c *conn.H3Connection) (*http.Response, []byte, error) {
		s, qs, err := h3c.OpenStream(ctx)
		if err != nil {
			return nil, nil, err
		}
		fields := fieldsFromHeader(method, "https", u.Host, u.RequestURI(), header)
		if err := h3c.SendRequest(s, qs, fields, body); err != nil {
			return nil, nil, err
		}
		go h3c.ReadResponse(s, qs)

		respFields, respBody, err := s.Future().Wait(ctx)
		if err != nil {
			return nil, nil, err
		}
		status, respHeader := applyResponseFields(respFields)
		return syntheticHTTPResponse(status, respHeader), respBody, nil
	}

	resp, respBody, err := sendOn(h3)
	if err == nil {
		if ticket != nil {
			if usedZeroRTT {
				c.opts.zrtt.OnAccepted(ticket)
			} else {
				// quic-go fell back to a full handshake transparently;
				// the request still succeeded, but this ticket didn't
				// pay off, so it counts against its success rate too.
				c.opts.zrtt.OnRejected(ticket)
			}
		}
		return resp, respBody, nil
	}

	if ticket == nil {
		c.h3pool.evict(origin)
		return nil, nil, err
	}

	// The request failed on a session that offered a ticket — scenario 5's
	// transparent replay: record the rejection, evict the session, and
	// retry once on a newly dialed one. That dial may offer another ticket;
	// TakeFor stops returning this one once it has MaxRejections rejections.
	c.opts.zrtt.OnRejected(ticket)
	c.h3pool.evict(origin)

	freshH3, _, _, err := c.dialH3(ctx, host, port)
	if err != nil {
		return nil, nil, err
	}
	return sendOn(freshH3)
}
