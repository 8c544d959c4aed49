package netcore

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/emberfox-browser/netcore/hcodec"
)

// fieldsFromHeader builds the RFC 7540 §8.1.2 pseudo-header-prefixed field
// list SendRequest encodes, generalizing dgrr-http2/adaptor.go's
// fasthttpRequestHeaders (which walks the opposite direction, decoded
// fields onto a fasthttp.Request) back into the encode direction fasthttp
// never needed since the teacher was server-only. It starts from a
// net/http.Header rather than a *fasthttp.Request so the façade's
// retry/replay path (conn pool GOAWAY retry, 0-RTT-reject fallback) can
// re-encode the same logical request across several dial attempts without
// re-touching the caller's original fasthttp.Request.
func fieldsFromHeader(method, scheme, authority, path string, header http.Header) []hcodec.Field {
	fields := make([]hcodec.Field, 0, 8+len(header))
	fields = append(fields,
		hcodec.Field{Name: ":method", Value: method},
		hcodec.Field{Name: ":scheme", Value: scheme},
		hcodec.Field{Name: ":authority", Value: authority},
		hcodec.Field{Name: ":path", Value: path},
	)
	sawUA := false
	for name, values := range header {
		lname := strings.ToLower(name)
		if lname == "host" || lname == "connection" {
			continue
		}
		if lname == "user-agent" {
			sawUA = true
		}
		for _, v := range values {
			fields = append(fields, hcodec.Field{Name: lname, Value: v})
		}
	}
	if !sawUA {
		fields = append(fields, hcodec.Field{Name: "user-agent", Value: DefaultUserAgent})
	}
	return fields
}

// applyResponseFields decodes the HEADERS field list a Future resolved
// with into status + a net/http.Header, the shape httpcache and policy
// both key on. The ":status" pseudo-header is RFC 7540 §8.1.2.4's only
// response pseudo-header.
func applyResponseFields(fields []hcodec.Field) (status int, header http.Header) {
	header = make(http.Header, len(fields))
	for _, f := range fields {
		if f.Name == ":status" {
			status, _ = strconv.Atoi(f.Value)
			continue
		}
		header.Add(f.Name, f.Value)
	}
	return status, header
}

// writeFasthttpResponse fills res from a decoded status/header/body triple,
// mirroring dgrr-http2/adaptor.go's fasthttpResponseHeaders but in the
// decode direction it never implemented (that function only ever produced
// HEADERS frames from a fasthttp.Response on the server side).
func writeFasthttpResponse(res *fasthttp.Response, status int, header http.Header, body []byte) {
	res.Reset()
	res.SetStatusCode(status)
	for name, values := range header {
		for _, v := range values {
			res.Header.Add(name, v)
		}
	}
	res.SetBody(body)
}

// syntheticHTTPRequest builds a net/http.Request carrying only the fields
// httpcache.Fingerprint and policy.Gate.Admit actually read (method, URL,
// header) — it is never sent over the wire, since the real transport path
// is conn.Connection/H3Connection's frame encoding, not net/http's
// RoundTripper. This is the one extra bridging hop spec.md's "HPACK/QPACK
// treated as opaque" design implies once the façade's public surface is
// fasthttp-shaped but its cache/policy layers are net/http-shaped.
func syntheticHTTPRequest(req *fasthttp.Request) (*http.Request, error) {
	u, err := url.Parse(req.URI().String())
	if err != nil {
		return nil, err
	}
	h := make(http.Header, req.Header.Len()+2)
	if ua := req.Header.UserAgent(); len(ua) > 0 {
		h.Set("User-Agent", string(ua))
	}
	if ct := req.Header.ContentType(); len(ct) > 0 {
		h.Set("Content-Type", string(ct))
	}
	req.Header.VisitAll(func(k, v []byte) {
		h.Add(string(k), string(v))
	})
	return &http.Request{
		Method: string(req.Header.Method()),
		URL:    u,
		Header: h,
	}, nil
}

// syntheticHTTPResponse wraps a decoded status/header pair the same way,
// for httpcache.Cache.Admissible/Store, which read resp.StatusCode and
// resp.Header only.
func syntheticHTTPResponse(status int, header http.Header) *http.Response {
	return &http.Response{StatusCode: status, Header: header}
}
