package netcore

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/emberfox-browser/netcore/netlog"
	"github.com/emberfox-browser/netcore/policy"
)

type fakeGate struct {
	allow       bool
	admitCalled int
}

func (g *fakeGate) Admit(req *http.Request, referrer, requestType string) policy.Decision {
	g.admitCalled++
	return policy.Decision{Allow: g.allow}
}

func (g *fakeGate) Inspect(cert policy.CertRisk, contentType string, body []byte, domain string) (policy.ResponseAction, []byte) {
	return policy.ActionPassThrough, body
}

func TestDoReturnsErrBlockedWithoutDialingWhenGateDenies(t *testing.T) {
	gate := &fakeGate{allow: false}
	c := New(WithLogger(netlog.Discard()), WithPolicyGate(gate))

	req := fasthttp.AcquireRequest()
	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(res)

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI("https://blocked.example/")

	err := c.Do(context.Background(), req, res)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBlocked)
	assert.Equal(t, 1, gate.admitCalled)
}

func TestNewAppliesOptionsOverDefaults(t *testing.T) {
	c := New(WithUserAgent("myagent/1.0"), WithHTTP3(true))

	assert.Equal(t, "myagent/1.0", c.opts.userAgent)
	assert.True(t, c.opts.enableH3)
	assert.Equal(t, DefaultRequestTimeout, c.opts.requestTimeout)
}
