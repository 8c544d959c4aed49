package netcore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/emberfox-browser/netcore/netlog"
	"github.com/emberfox-browser/netcore/zerortt"
)

func newTestZeroRTTStore(t *testing.T) *zerortt.Store {
	t.Helper()
	return zerortt.NewStore(zerortt.FileSecretStore{Path: filepath.Join(t.TempDir(), "secret")}, netlog.Discard())
}

func TestTicketTokenStorePutThenPopRoundTrips(t *testing.T) {
	store := newTestZeroRTTStore(t)
	tokens := ticketTokenStore{store: store, alpn: "h3"}

	tokens.Put("example.com:443", []byte("opaque-session-ticket"))

	got := tokens.Pop("example.com:443")
	assert.Equal(t, []byte("opaque-session-ticket"), got)
}

func TestTicketTokenStorePopReturnsNilWhenEmpty(t *testing.T) {
	store := newTestZeroRTTStore(t)
	tokens := ticketTokenStore{store: store, alpn: "h3"}

	assert.Nil(t, tokens.Pop("nothing.example:443"))
}

func TestQUICPoolGetPutEvict(t *testing.T) {
	p := newQUICPool()

	_, ok := p.get("example.com:443")
	assert.False(t, ok)

	p.put("example.com:443", nil)
	_, ok = p.get("example.com:443")
	assert.True(t, ok)

	p.evict("example.com:443")
	_, ok = p.get("example.com:443")
	assert.False(t, ok)
}
