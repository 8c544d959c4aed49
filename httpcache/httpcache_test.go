package httpcache

import (
	"net/http"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberfox-browser/netcore/netlog"
	"github.com/emberfox-browser/netcore/zerortt"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestFingerprintStableForSameRequest(t *testing.T) {
	u := mustURL(t, "https://Example.com:443/x")
	h := http.Header{}
	fp1 := Fingerprint("GET", u, h, nil)
	fp2 := Fingerprint("GET", u, h, nil)
	assert.Equal(t, fp1, fp2)
}

func TestFingerprintDiffersByMethod(t *testing.T) {
	u := mustURL(t, "https://example.com/x")
	h := http.Header{}
	assert.NotEqual(t, Fingerprint("GET", u, h, nil), Fingerprint("POST", u, h, nil))
}

func TestFingerprintProjectsVarySet(t *testing.T) {
	u := mustURL(t, "https://example.com/x")
	h1 := http.Header{"Accept-Language": {"en"}}
	h2 := http.Header{"Accept-Language": {"fr"}}
	assert.NotEqual(t, Fingerprint("GET", u, h1, []string{"Accept-Language"}), Fingerprint("GET", u, h2, []string{"Accept-Language"}))
	assert.Equal(t, Fingerprint("GET", u, h1, nil), Fingerprint("GET", u, h2, nil), "unprojected headers shouldn't affect the key")
}

func TestCacheHitWithMaxAge(t *testing.T) {
	c := NewCache(DefaultConfig(), nil, netlog.Discard())
	req, _ := http.NewRequest("GET", "https://example.test/x", nil)
	resp := &http.Response{StatusCode: 200, Header: http.Header{"Cache-Control": {"max-age=60"}}}
	t0 := time.Now()

	entry := c.Store(req, resp, []byte("hello"), t0)
	assert.True(t, entry.Fresh(t0.Add(30*time.Second)))

	got, ok := c.Lookup(req)
	require.True(t, ok)
	body, err := c.Body(got)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, 1, got.HitCount)
}

func TestStaleWhileRevalidateWindow(t *testing.T) {
	entry := &CacheEntry{
		CacheControl: map[string]string{"max-age": "10", "stale-while-revalidate": "60"},
		ResponseTime: time.Now().Add(-20 * time.Second),
	}
	assert.False(t, entry.Fresh(time.Now()))
	assert.True(t, entry.StaleServeable(time.Now()))
}

func TestStaleWindowExpires(t *testing.T) {
	entry := &CacheEntry{
		CacheControl: map[string]string{"max-age": "10", "stale-while-revalidate": "5"},
		ResponseTime: time.Now().Add(-20 * time.Second),
	}
	assert.False(t, entry.StaleServeable(time.Now()))
}

func TestAdmissibleRejectsNoStore(t *testing.T) {
	c := NewCache(DefaultConfig(), nil, netlog.Discard())
	req, _ := http.NewRequest("GET", "https://example.test/x", nil)
	resp := &http.Response{StatusCode: 200, Header: http.Header{"Cache-Control": {"no-store"}}}
	assert.False(t, c.Admissible(req, resp, 5))
}

func TestAdmissibleRejectsOversizedBody(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EntryBodyLimit = 4
	c := NewCache(cfg, nil, netlog.Discard())
	req, _ := http.NewRequest("GET", "https://example.test/x", nil)
	resp := &http.Response{StatusCode: 200, Header: http.Header{}}
	assert.False(t, c.Admissible(req, resp, 100))
}

func TestAdmissibleRejectsNonGetHead(t *testing.T) {
	c := NewCache(DefaultConfig(), nil, netlog.Discard())
	req, _ := http.NewRequest("POST", "https://example.test/x", nil)
	resp := &http.Response{StatusCode: 200, Header: http.Header{}}
	assert.False(t, c.Admissible(req, resp, 5))
}

func TestCompressionRoundTrip(t *testing.T) {
	body := make([]byte, 2048)
	for i := range body {
		body[i] = byte('a' + i%26)
	}
	scheme := chooseCompression("text/plain", len(body))
	require.Equal(t, "br", scheme)

	compressed, err := compressBody(scheme, body)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(body))

	decompressed, err := decompressBody(scheme, compressed)
	require.NoError(t, err)
	assert.Equal(t, body, decompressed)
}

func TestNoCompressionBelowThreshold(t *testing.T) {
	assert.Equal(t, "", chooseCompression("text/plain", 10))
}

func TestNoCompressionForBinaryMIME(t *testing.T) {
	assert.Equal(t, "", chooseCompression("image/png", 10000))
}

func TestMemoryTierEvictsLRU(t *testing.T) {
	tier := NewMemoryTier(10)
	tier.Set("a", &CacheEntry{Body: []byte("12345")})
	tier.Set("b", &CacheEntry{Body: []byte("12345")})
	evicted := tier.Set("c", &CacheEntry{Body: []byte("12345")})
	require.Len(t, evicted, 1)

	_, aStillThere := tier.Get("a")
	assert.False(t, aStillThere, "oldest unpinned entry should have been evicted")
	_, bStillThere := tier.Get("b")
	assert.True(t, bStillThere)
}

func TestMemoryTierSkipsPinnedEntries(t *testing.T) {
	tier := NewMemoryTier(10)
	tier.Set("a", &CacheEntry{Body: []byte("12345")})
	tier.Pin("a")
	tier.Set("b", &CacheEntry{Body: []byte("12345")})
	evicted := tier.Set("c", &CacheEntry{Body: []byte("12345")})

	assert.True(t, tier.Has("a"), "pinned entry must survive eviction pressure")
	if len(evicted) > 0 {
		assert.NotEqual(t, "a", evicted[0].Fingerprint)
	}
}

func TestDiskTierRoundTripAndIntegrity(t *testing.T) {
	dir := t.TempDir()
	secrets := zerortt.FileSecretStore{Path: filepath.Join(dir, "secret")}
	tier, err := NewDiskTier(filepath.Join(dir, "cache"), secrets)
	require.NoError(t, err)

	entry := &CacheEntry{Fingerprint: "fp1", Status: 200, Header: http.Header{"X-Test": {"1"}}, Body: []byte("payload")}
	entry.stampDigest()
	require.NoError(t, tier.Set("fp1", entry))

	got, ok := tier.Get("fp1")
	require.True(t, ok)
	assert.Equal(t, "payload", string(got.Body))
	assert.Equal(t, 200, got.Status)
}

func TestDiskTierMissingEntry(t *testing.T) {
	dir := t.TempDir()
	secrets := zerortt.FileSecretStore{Path: filepath.Join(dir, "secret")}
	tier, err := NewDiskTier(filepath.Join(dir, "cache"), secrets)
	require.NoError(t, err)
	_, ok := tier.Get("nonexistent")
	assert.False(t, ok)
}

func TestFetchGroupCoalescesConcurrentCalls(t *testing.T) {
	g := newFetchGroup()
	var calls int32
	fn := func() (*CacheEntry, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return &CacheEntry{Fingerprint: "x"}, nil
	}

	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		go func() {
			_, _ = g.Do("x", fn)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchOrPopulateServesFreshWithoutOriginCall(t *testing.T) {
	c := NewCache(DefaultConfig(), nil, netlog.Discard())
	req, _ := http.NewRequest("GET", "https://example.test/x", nil)
	resp := &http.Response{StatusCode: 200, Header: http.Header{"Cache-Control": {"max-age=60"}}}
	t0 := time.Now()
	c.Store(req, resp, []byte("hello"), t0)

	var originCalls int32
	entry, err := c.FetchOrPopulate(req, t0.Add(30*time.Second), func(*http.Request) (*http.Response, []byte, error) {
		atomic.AddInt32(&originCalls, 1)
		return resp, []byte("should not be used"), nil
	})
	require.NoError(t, err)
	body, _ := c.Body(entry)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, int32(0), originCalls)
}

func TestApplyNotModifiedRefreshesTimestamps(t *testing.T) {
	c := NewCache(DefaultConfig(), nil, netlog.Discard())
	entry := &CacheEntry{
		Fingerprint: "fp", Header: http.Header{"ETag": {"v1"}},
		ResponseTime: time.Now().Add(-time.Hour),
	}
	now := time.Now()
	c.ApplyNotModified(entry, http.Header{"ETag": {"v2"}}, now)
	assert.Equal(t, "v2", entry.ETag)
	assert.WithinDuration(t, now, entry.ResponseTime, time.Second)
}
