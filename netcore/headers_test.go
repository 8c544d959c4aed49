package netcore

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/emberfox-browser/netcore/hcodec"
)

func TestFieldsFromHeaderAddsPseudoHeadersAndLowercasesNames(t *testing.T) {
	h := http.Header{}
	h.Set("Accept", "text/html")
	h.Set("Host", "ignored.example")
	h.Set("Connection", "keep-alive")

	fields := fieldsFromHeader("GET", "https", "example.com", "/a", h)

	require.Len(t, fields, 6)
	assert.Equal(t, ":method", fields[0].Name)
	assert.Equal(t, "GET", fields[0].Value)
	assert.Equal(t, ":scheme", fields[1].Name)
	assert.Equal(t, ":authority", fields[2].Name)
	assert.Equal(t, "example.com", fields[2].Value)
	assert.Equal(t, ":path", fields[3].Name)
	assert.Equal(t, "/a", fields[3].Value)
	assert.Equal(t, "accept", fields[4].Name)

	for _, f := range fields {
		assert.NotEqual(t, "host", f.Name)
		assert.NotEqual(t, "connection", f.Name)
	}

	assert.Equal(t, "user-agent", fields[5].Name)
	assert.Equal(t, DefaultUserAgent, fields[5].Value)
}

func TestFieldsFromHeaderKeepsCallerUserAgent(t *testing.T) {
	h := http.Header{}
	h.Set("User-Agent", "custom/1.0")

	fields := fieldsFromHeader("GET", "https", "example.com", "/", h)

	var uaCount int
	for _, f := range fields {
		if f.Name == "user-agent" {
			uaCount++
			assert.Equal(t, "custom/1.0", f.Value)
		}
	}
	assert.Equal(t, 1, uaCount)
}

func TestApplyResponseFieldsSplitsStatusPseudoHeader(t *testing.T) {
	status, header := applyResponseFields([]hcodec.Field{
		{Name: ":status", Value: "204"},
		{Name: "content-type", Value: "text/plain"},
	})

	assert.Equal(t, 204, status)
	assert.Equal(t, "text/plain", header.Get("Content-Type"))
}

func TestWriteFasthttpResponseFillsStatusHeaderAndBody(t *testing.T) {
	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(res)

	h := http.Header{}
	h.Set("Content-Type", "application/json")

	writeFasthttpResponse(res, 201, h, []byte(`{"ok":true}`))

	assert.Equal(t, 201, res.StatusCode())
	assert.Equal(t, "application/json", string(res.Header.ContentType()))
	assert.Equal(t, `{"ok":true}`, string(res.Body()))
}

func TestSyntheticHTTPRequestCapturesMethodURLAndHeaders(t *testing.T) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI("https://example.com/path?x=1")
	req.Header.SetUserAgent("probe/2.0")
	req.Header.SetContentType("application/json")
	req.Header.Set("X-Custom", "yes")

	synth, err := syntheticHTTPRequest(req)
	require.NoError(t, err)

	assert.Equal(t, "POST", synth.Method)
	assert.Equal(t, "example.com", synth.URL.Hostname())
	assert.Equal(t, "/path", synth.URL.Path)
	assert.Equal(t, "probe/2.0", synth.Header.Get("User-Agent"))
	assert.Equal(t, "application/json", synth.Header.Get("Content-Type"))
	assert.Equal(t, "yes", synth.Header.Get("X-Custom"))
}

func TestSyntheticHTTPResponseWrapsStatusAndHeader(t *testing.T) {
	h := http.Header{}
	h.Set("Etag", `"abc"`)

	resp := syntheticHTTPResponse(200, h)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, `"abc"`, resp.Header.Get("Etag"))
}

func TestHostPortDerivesDefaultsFromScheme(t *testing.T) {
	httpsURL, err := url.Parse("https://example.com/a")
	require.NoError(t, err)
	host, port := hostPort(httpsURL)
	assert.Equal(t, "example.com", host)
	assert.Equal(t, 443, port)

	httpURL, err := url.Parse("http://example.com/a")
	require.NoError(t, err)
	host, port = hostPort(httpURL)
	assert.Equal(t, "example.com", host)
	assert.Equal(t, 80, port)

	explicitURL, err := url.Parse("https://example.com:8443/a")
	require.NoError(t, err)
	host, port = hostPort(explicitURL)
	assert.Equal(t, "example.com", host)
	assert.Equal(t, 8443, port)
}
